package model

import (
	"time"

	"github.com/google/uuid"
)

// BillingMode selects how a billing batch is committed.
type BillingMode string

const (
	// BillingModePerStudent commits every student in its own transaction.
	BillingModePerStudent BillingMode = "per_student"
	// BillingModeAtomic commits the whole batch in one transaction.
	BillingModeAtomic BillingMode = "atomic"
)

// RunStatus is the outcome of a billing run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// StudentIssue pairs a student with the reason it was skipped or failed.
type StudentIssue struct {
	StudentID int    `json:"student_id"`
	Reason    string `json:"reason"`
}

// BillingResult is the report of one billing run.
type BillingResult struct {
	RunID         uuid.UUID      `json:"run_id"`
	TermID        int            `json:"term_id"`
	Status        RunStatus      `json:"status"`
	Mode          BillingMode    `json:"mode"`
	BilledCount   int            `json:"billed_count"`
	LedgerEntries int            `json:"ledger_entries"`
	AlreadyBilled []int          `json:"already_billed"`
	Skipped       []StudentIssue `json:"skipped"`
	Errors        []StudentIssue `json:"errors"`
	Subset        bool           `json:"subset"`
	Replayed      bool           `json:"replayed,omitempty"`
}

// ErrorIDs returns the ids of every student listed in Errors.
func (r *BillingResult) ErrorIDs() []int {
	ids := make([]int, 0, len(r.Errors))
	for _, e := range r.Errors {
		ids = append(ids, e.StudentID)
	}
	return ids
}

// BillingRun is a persisted billing run.
type BillingRun struct {
	BillingResult
	TriggeredBy *int       `json:"triggered_by,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// ProgressEvent is published after each student of a run is processed.
type ProgressEvent struct {
	RunID     uuid.UUID `json:"run_id"`
	StudentID int       `json:"student_id,omitempty"`
	Outcome   string    `json:"outcome"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	Reason    string    `json:"reason,omitempty"`
	Status    RunStatus `json:"status,omitempty"`
}

// Progress outcomes.
const (
	ProgressBilled        = "billed"
	ProgressAlreadyBilled = "already_billed"
	ProgressSkipped       = "skipped"
	ProgressFailed        = "failed"
	ProgressFinished      = "finished"
)

// OutstandingTotal is the owing total per fee type and currency across active students.
type OutstandingTotal struct {
	FeeType  FeeType `json:"fee_type"`
	Currency string  `json:"currency"`
	Owing    string  `json:"owing"`
	Students int     `json:"students"`
}

// DashboardStats summarises the bursar dashboard.
type DashboardStats struct {
	ActiveStudents    int                `json:"active_students"`
	GraduatedStudents int                `json:"graduated_students"`
	Outstanding       []OutstandingTotal `json:"outstanding"`
	LastRun           *BillingRun        `json:"last_run,omitempty"`
}
