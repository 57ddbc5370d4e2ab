package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/bursar-backend/internal/model"
)

// DashboardRepository handles bursar dashboard data access.
type DashboardRepository struct {
	pool *pgxpool.Pool
}

// NewDashboardRepository creates a new DashboardRepository.
func NewDashboardRepository(pool *pgxpool.Pool) *DashboardRepository {
	return &DashboardRepository{pool: pool}
}

// GetStudentCounts returns the number of active and graduated students.
func (r *DashboardRepository) GetStudentCounts(ctx context.Context) (active, graduated int, err error) {
	err = r.pool.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'graduated')
		 FROM students`,
	).Scan(&active, &graduated)
	return
}

// GetOutstandingTotals sums owing balances of active students per fee type and currency.
func (r *DashboardRepository) GetOutstandingTotals(ctx context.Context) ([]model.OutstandingTotal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT b.fee_type, b.currency, SUM(b.owing)::text, COUNT(*) FILTER (WHERE b.owing > 0)
		 FROM student_balances b
		 JOIN students s ON s.id = b.student_id
		 WHERE s.status = 'active'
		 GROUP BY b.fee_type, b.currency
		 ORDER BY b.fee_type, b.currency`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.OutstandingTotal{}
	for rows.Next() {
		var t model.OutstandingTotal
		if err := rows.Scan(&t.FeeType, &t.Currency, &t.Owing, &t.Students); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetLastRun returns the most recently started billing run, or nil when none exists.
func (r *DashboardRepository) GetLastRun(ctx context.Context) (*model.BillingRun, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+billingRunColumns+` FROM billing_runs ORDER BY started_at DESC LIMIT 1`)
	run, err := scanRun(row)
	if err != nil {
		if notFound(err) == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}
