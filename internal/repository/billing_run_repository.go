package repository

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/bursar-backend/internal/model"
)

const billingRunColumns = `id, term_id, status, mode, subset, billed_count, ledger_entries,
	already_billed, skipped, errors, triggered_by, started_at, finished_at`

// BillingRunRepository persists billing run reports.
type BillingRunRepository struct {
	pool *pgxpool.Pool
}

// NewBillingRunRepository creates a new BillingRunRepository.
func NewBillingRunRepository(pool *pgxpool.Pool) *BillingRunRepository {
	return &BillingRunRepository{pool: pool}
}

// CreateRun inserts a run.
func (r *BillingRunRepository) CreateRun(ctx context.Context, run *model.BillingRun) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO billing_runs (id, term_id, status, mode, subset, already_billed, skipped, errors, triggered_by, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.RunID, run.TermID, run.Status, run.Mode, run.Subset,
		run.AlreadyBilled, run.Skipped, run.Errors, run.TriggeredBy, run.StartedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// FinishRun stores the final report of a run.
func (r *BillingRunRepository) FinishRun(ctx context.Context, run *model.BillingRun) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE billing_runs
		 SET status = $2, billed_count = $3, ledger_entries = $4,
		     already_billed = $5, skipped = $6, errors = $7, finished_at = $8
		 WHERE id = $1`,
		run.RunID, run.Status, run.BilledCount, run.LedgerEntries,
		run.AlreadyBilled, run.Skipped, run.Errors, run.FinishedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun retrieves a run by ID.
func (r *BillingRunRepository) GetRun(ctx context.Context, id uuid.UUID) (*model.BillingRun, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+billingRunColumns+` FROM billing_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		return nil, notFound(err)
	}
	return run, nil
}

// ListRuns returns runs, newest first, optionally restricted to one term.
func (r *BillingRunRepository) ListRuns(ctx context.Context, termID *int, limit, offset int) ([]model.BillingRun, int, error) {
	where := ""
	var args []interface{}
	if termID != nil {
		where = ` WHERE term_id = $1`
		args = append(args, *termID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM billing_runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + billingRunColumns + ` FROM billing_runs` + where +
		` ORDER BY started_at DESC LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []model.BillingRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*model.BillingRun, error) {
	run := &model.BillingRun{}
	err := row.Scan(
		&run.RunID, &run.TermID, &run.Status, &run.Mode, &run.Subset, &run.BilledCount, &run.LedgerEntries,
		&run.AlreadyBilled, &run.Skipped, &run.Errors, &run.TriggeredBy, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}
