package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stemsi/bursar-backend/internal/model"
)

// TermRepository handles terms, fee schedules and exchange rates.
type TermRepository struct {
	pool *pgxpool.Pool
}

// NewTermRepository creates a new TermRepository.
func NewTermRepository(pool *pgxpool.Pool) *TermRepository {
	return &TermRepository{pool: pool}
}

// GetTerm retrieves a term by ID.
func (r *TermRepository) GetTerm(ctx context.Context, id int) (*model.Term, error) {
	t := &model.Term{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, academic_year, start_date, end_date, levy_billed, tuition_billed, currency, billed, billed_at
		 FROM terms WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.AcademicYear, &t.StartDate, &t.EndDate, &t.LevyBilled, &t.TuitionBilled, &t.Currency, &t.Billed, &t.BilledAt)
	if err != nil {
		return nil, notFound(err)
	}
	t.Currency = strings.TrimSpace(t.Currency)
	return t, nil
}

// ListFeeSchedules returns every schedule row of a term.
func (r *TermRepository) ListFeeSchedules(ctx context.Context, termID int) ([]model.FeeScheduleRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, term_id, grade, class_name, fee_type, currency, amount
		 FROM term_fee_schedules
		 WHERE term_id = $1
		 ORDER BY grade, class_name NULLS FIRST, fee_type, currency`, termID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FeeScheduleRow
	for rows.Next() {
		var fs model.FeeScheduleRow
		if err := rows.Scan(&fs.ID, &fs.TermID, &fs.Grade, &fs.ClassName, &fs.FeeType, &fs.Currency, &fs.Amount); err != nil {
			return nil, err
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}

// ListExchangeRates returns rate_to_base keyed by currency code.
func (r *TermRepository) ListExchangeRates(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `SELECT currency, rate_to_base FROM exchange_rates`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rates := make(map[string]decimal.Decimal)
	for rows.Next() {
		var currency string
		var rate decimal.Decimal
		if err := rows.Scan(&currency, &rate); err != nil {
			return nil, err
		}
		rates[strings.ToUpper(strings.TrimSpace(currency))] = rate
	}
	return rates, rows.Err()
}

// MarkBilled sets the term's billed flag.
func (r *TermRepository) MarkBilled(ctx context.Context, termID int, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE terms SET billed = TRUE, billed_at = $2 WHERE id = $1`, termID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateTerm inserts a new term.
func (r *TermRepository) CreateTerm(ctx context.Context, t *model.Term) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO terms (name, academic_year, start_date, end_date, levy_billed, tuition_billed, currency)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		t.Name, t.AcademicYear, t.StartDate, t.EndDate, t.LevyBilled, t.TuitionBilled, t.Currency,
	).Scan(&t.ID)
}

// UpsertFeeSchedule inserts a schedule row or replaces the amount of an existing one.
func (r *TermRepository) UpsertFeeSchedule(ctx context.Context, fs *model.FeeScheduleRow) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO term_fee_schedules (term_id, grade, class_name, fee_type, currency, amount)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (term_id, grade, COALESCE(class_name, ''), fee_type, currency)
		 DO UPDATE SET amount = EXCLUDED.amount
		 RETURNING id`,
		fs.TermID, fs.Grade, fs.ClassName, fs.FeeType, fs.Currency, fs.Amount,
	).Scan(&fs.ID)
}

// UpsertExchangeRate stores a currency's rate to the base currency.
func (r *TermRepository) UpsertExchangeRate(ctx context.Context, currency string, rate decimal.Decimal) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exchange_rates (currency, rate_to_base)
		 VALUES ($1, $2)
		 ON CONFLICT (currency) DO UPDATE SET rate_to_base = EXCLUDED.rate_to_base, updated_at = CURRENT_TIMESTAMP`,
		strings.ToUpper(currency), rate,
	)
	return err
}
