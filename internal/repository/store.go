package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stemsi/bursar-backend/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("record already exists")
)

// StudentWriteError identifies the student whose write aborted a
// whole-batch transaction.
type StudentWriteError struct {
	StudentID int
	Err       error
}

func (e *StudentWriteError) Error() string {
	return fmt.Sprintf("student %d: %v", e.StudentID, e.Err)
}

func (e *StudentWriteError) Unwrap() error { return e.Err }

// TermStore reads terms, their fee schedules and exchange rates.
type TermStore interface {
	GetTerm(ctx context.Context, id int) (*model.Term, error)
	ListFeeSchedules(ctx context.Context, termID int) ([]model.FeeScheduleRow, error)
	// ListExchangeRates returns rate_to_base keyed by upper-case currency code.
	ListExchangeRates(ctx context.Context) (map[string]decimal.Decimal, error)
	MarkBilled(ctx context.Context, termID int, at time.Time) error
}

// StudentDirectory enumerates active students with their current balances.
type StudentDirectory interface {
	ListActiveWithBalances(ctx context.Context) ([]model.Student, error)
	ListActiveByIDs(ctx context.Context, ids []int) ([]model.Student, error)
}

// ChargeWriter applies balance increases together with their ledger rows.
type ChargeWriter interface {
	// ApplyStudentCharges commits one student's charges in one transaction.
	ApplyStudentCharges(ctx context.Context, sc model.StudentCharges) (model.ChargeOutcome, error)
	// ApplyBatchCharges commits every student's charges in one transaction.
	// A failure rolls back all of them and is reported as *StudentWriteError
	// when a single student caused it.
	ApplyBatchCharges(ctx context.Context, batch []model.StudentCharges) ([]model.ChargeOutcome, error)
}

// BillingRunStore persists billing run reports.
type BillingRunStore interface {
	// CreateRun inserts a running run. ErrDuplicate means the id is taken.
	CreateRun(ctx context.Context, run *model.BillingRun) error
	FinishRun(ctx context.Context, run *model.BillingRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*model.BillingRun, error)
	ListRuns(ctx context.Context, termID *int, limit, offset int) ([]model.BillingRun, int, error)
}

// DashboardReader reads the bursar dashboard aggregates.
type DashboardReader interface {
	GetStudentCounts(ctx context.Context) (active, graduated int, err error)
	GetOutstandingTotals(ctx context.Context) ([]model.OutstandingTotal, error)
	GetLastRun(ctx context.Context) (*model.BillingRun, error)
}

// RolloverStore runs a rollover inside one transaction.
type RolloverStore interface {
	WithRolloverTx(ctx context.Context, fn func(RolloverTx) error) error
}

// RolloverTx is the set of writes a rollover performs. Every update is
// scoped to the given ids and their expected current grade.
type RolloverTx interface {
	// ActiveGradeSnapshot locks and returns every active student's grade.
	ActiveGradeSnapshot(ctx context.Context) ([]model.StudentGrade, error)
	YearRolled(ctx context.Context, academicYear string) (bool, error)
	GraduateStudents(ctx context.Context, ids []int, grade string) (int, error)
	PromoteStudents(ctx context.Context, ids []int, from, to string) (int, error)
	ClearClassTeacherAssignments(ctx context.Context) (int, error)
	// RecordRollover returns ErrDuplicate when the year is already recorded.
	RecordRollover(ctx context.Context, r model.YearRollover) error
}
