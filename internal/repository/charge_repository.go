package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/bursar-backend/internal/database"
	"github.com/stemsi/bursar-backend/internal/model"
)

// ChargeRepository writes billing charges: the ledger row and the balance
// increase of a charge always commit together.
type ChargeRepository struct {
	pool *pgxpool.Pool
}

// NewChargeRepository creates a new ChargeRepository.
func NewChargeRepository(pool *pgxpool.Pool) *ChargeRepository {
	return &ChargeRepository{pool: pool}
}

// ApplyStudentCharges commits one student's charges in one transaction.
func (r *ChargeRepository) ApplyStudentCharges(ctx context.Context, sc model.StudentCharges) (model.ChargeOutcome, error) {
	var out model.ChargeOutcome
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		out, err = applyCharges(ctx, tx, sc)
		return err
	})
	if err != nil {
		return model.ChargeOutcome{StudentID: sc.StudentID}, err
	}
	return out, nil
}

// ApplyBatchCharges commits every student's charges in one transaction.
func (r *ChargeRepository) ApplyBatchCharges(ctx context.Context, batch []model.StudentCharges) ([]model.ChargeOutcome, error) {
	outcomes := make([]model.ChargeOutcome, 0, len(batch))
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, sc := range batch {
			out, err := applyCharges(ctx, tx, sc)
			if err != nil {
				return &StudentWriteError{StudentID: sc.StudentID, Err: err}
			}
			outcomes = append(outcomes, out)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// applyCharges locks the student row, then inserts each ledger row if absent
// and adds its amount to the matching balance. A charge whose ledger row
// already exists leaves the balance untouched.
func applyCharges(ctx context.Context, tx pgx.Tx, sc model.StudentCharges) (model.ChargeOutcome, error) {
	out := model.ChargeOutcome{StudentID: sc.StudentID}

	var status model.StudentStatus
	err := tx.QueryRow(ctx, `SELECT status FROM students WHERE id = $1 FOR UPDATE`, sc.StudentID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		out.Inactive = true
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("lock student: %w", err)
	}
	if status != model.StudentStatusActive {
		out.Inactive = true
		return out, nil
	}

	for _, c := range sc.Charges {
		var chargeID int64
		err := tx.QueryRow(ctx,
			`INSERT INTO fee_charges (student_id, term_id, fee_type, currency, amount, base_amount, exchange_rate, kind, run_id, charged_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, 'billing', $8, $9)
			 ON CONFLICT (student_id, term_id, fee_type, currency) WHERE kind = 'billing' DO NOTHING
			 RETURNING id`,
			sc.StudentID, sc.TermID, c.FeeType, c.Currency, c.Amount, c.BaseAmount, c.ExchangeRate, sc.RunID, sc.ChargedAt,
		).Scan(&chargeID)
		if errors.Is(err, pgx.ErrNoRows) {
			out.Existing++
			continue
		}
		if err != nil {
			return out, fmt.Errorf("insert %s charge: %w", c.FeeType, err)
		}

		b := model.Balance{FeeType: c.FeeType, Currency: c.Currency}
		err = tx.QueryRow(ctx,
			`INSERT INTO student_balances (student_id, fee_type, currency, owing)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (student_id, fee_type, currency)
			 DO UPDATE SET owing = student_balances.owing + EXCLUDED.owing, updated_at = CURRENT_TIMESTAMP
			 RETURNING owing`,
			sc.StudentID, c.FeeType, c.Currency, c.Amount,
		).Scan(&b.Owing)
		if err != nil {
			return out, fmt.Errorf("increase %s balance: %w", c.FeeType, err)
		}
		out.Inserted++
		out.Balances = append(out.Balances, b)
	}

	if out.Inserted > 0 {
		if _, err := tx.Exec(ctx, `UPDATE students SET updated_at = CURRENT_TIMESTAMP WHERE id = $1`, sc.StudentID); err != nil {
			return out, fmt.Errorf("touch student: %w", err)
		}
	}
	return out, nil
}

// ListByStudent returns a student's most recent ledger rows, newest first.
func (r *ChargeRepository) ListByStudent(ctx context.Context, studentID, limit int) ([]model.FeeCharge, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id, term_id, fee_type, currency, amount, base_amount, exchange_rate, kind, run_id, charged_at
		 FROM fee_charges
		 WHERE student_id = $1
		 ORDER BY charged_at DESC, id DESC
		 LIMIT $2`, studentID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.FeeCharge{}
	for rows.Next() {
		var fc model.FeeCharge
		if err := rows.Scan(&fc.ID, &fc.StudentID, &fc.TermID, &fc.FeeType, &fc.Currency, &fc.Amount, &fc.BaseAmount, &fc.ExchangeRate, &fc.Kind, &fc.RunID, &fc.ChargedAt); err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}
