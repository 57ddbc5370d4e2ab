package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PromotionRule moves every student at From to To.
type PromotionRule struct {
	From string
	To   string
}

// PromotionTable is the ordered list of grade promotions. Rules are ordered
// from the highest source grade down; the top grade graduates instead.
type PromotionTable struct {
	top   string
	rules []PromotionRule
	next  map[string]string
}

// NewPromotionTable builds the table from grade levels listed lowest first.
func NewPromotionTable(levels []string) (*PromotionTable, error) {
	if len(levels) == 0 {
		return nil, errors.New("promotion table needs at least one grade level")
	}

	seen := make(map[string]bool, len(levels))
	clean := make([]string, 0, len(levels))
	for _, l := range levels {
		l = strings.TrimSpace(l)
		if l == "" {
			return nil, errors.New("empty grade level")
		}
		if seen[l] {
			return nil, fmt.Errorf("duplicate grade level %q", l)
		}
		seen[l] = true
		clean = append(clean, l)
	}

	t := &PromotionTable{
		top:  clean[len(clean)-1],
		next: make(map[string]string, len(clean)-1),
	}
	for i := len(clean) - 2; i >= 0; i-- {
		t.rules = append(t.rules, PromotionRule{From: clean[i], To: clean[i+1]})
		t.next[clean[i]] = clean[i+1]
	}
	return t, nil
}

// TopGrade returns the graduating grade.
func (t *PromotionTable) TopGrade() string { return t.top }

// Rules returns the promotion rules, highest source grade first.
func (t *PromotionTable) Rules() []PromotionRule {
	out := make([]PromotionRule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Next returns the grade after g. ok is false for the top grade and unknown grades.
func (t *PromotionTable) Next(g string) (string, bool) {
	n, ok := t.next[strings.TrimSpace(g)]
	return n, ok
}

// PromotionStep is the set of students a single rule applies to.
type PromotionStep struct {
	PromotionRule
	StudentIDs []int
}

// PromotionPlan is every grade change of one rollover, computed from a single
// snapshot before anything is written.
type PromotionPlan struct {
	Graduate  []int
	Steps     []PromotionStep
	Unmatched []int
}

// Plan maps each snapshotted student to exactly one outcome. Steps keep the
// rule order, so they are applied highest grade first.
func (t *PromotionTable) Plan(snapshot []StudentGrade) PromotionPlan {
	byFrom := make(map[string][]int, len(t.rules))
	var plan PromotionPlan
	for _, s := range snapshot {
		g := strings.TrimSpace(s.Grade)
		switch {
		case g == t.top:
			plan.Graduate = append(plan.Graduate, s.ID)
		case t.next[g] != "":
			byFrom[g] = append(byFrom[g], s.ID)
		default:
			plan.Unmatched = append(plan.Unmatched, s.ID)
		}
	}
	for _, r := range t.rules {
		if ids := byFrom[r.From]; len(ids) > 0 {
			plan.Steps = append(plan.Steps, PromotionStep{PromotionRule: r, StudentIDs: ids})
		}
	}
	return plan
}

// RolloverResult reports an academic-year rollover.
type RolloverResult struct {
	AcademicYear       string `json:"academic_year,omitempty"`
	Graduated          int    `json:"graduated"`
	Promoted           int    `json:"promoted"`
	ClearedAssignments int    `json:"cleared_assignments"`
	Unmatched          []int  `json:"unmatched"`
}

// YearRollover is a recorded rollover.
type YearRollover struct {
	AcademicYear       string    `json:"academic_year"`
	Graduated          int       `json:"graduated"`
	Promoted           int       `json:"promoted"`
	ClearedAssignments int       `json:"cleared_assignments"`
	TriggeredBy        *int      `json:"triggered_by,omitempty"`
	RolledAt           time.Time `json:"rolled_at"`
}
