package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Term is an academic billing period.
type Term struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	AcademicYear string    `json:"academic_year"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	// LevyBilled and TuitionBilled are the flat per-student amounts used when
	// the term has no schedule rows.
	LevyBilled    *decimal.Decimal `json:"levy_billed,omitempty"`
	TuitionBilled *decimal.Decimal `json:"tuition_billed,omitempty"`
	Currency      string           `json:"currency"`
	Billed        bool             `json:"billed"`
	BilledAt      *time.Time       `json:"billed_at,omitempty"`
}

// HasFlatRate reports whether the term carries flat levy/tuition amounts.
func (t *Term) HasFlatRate() bool {
	return t.LevyBilled != nil || t.TuitionBilled != nil
}
