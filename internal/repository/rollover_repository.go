package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/bursar-backend/internal/database"
	"github.com/stemsi/bursar-backend/internal/model"
)

// RolloverRepository runs academic-year rollovers in a single transaction.
type RolloverRepository struct {
	pool *pgxpool.Pool
}

// NewRolloverRepository creates a new RolloverRepository.
func NewRolloverRepository(pool *pgxpool.Pool) *RolloverRepository {
	return &RolloverRepository{pool: pool}
}

// WithRolloverTx runs fn in a transaction. fn's error rolls everything back.
func (r *RolloverRepository) WithRolloverTx(ctx context.Context, fn func(RolloverTx) error) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&rolloverTx{tx: tx})
	})
}

type rolloverTx struct {
	tx pgx.Tx
}

func (t *rolloverTx) ActiveGradeSnapshot(ctx context.Context) ([]model.StudentGrade, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, grade FROM students WHERE status = 'active' ORDER BY id FOR UPDATE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StudentGrade
	for rows.Next() {
		var sg model.StudentGrade
		if err := rows.Scan(&sg.ID, &sg.Grade); err != nil {
			return nil, err
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

func (t *rolloverTx) YearRolled(ctx context.Context, academicYear string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM year_rollovers WHERE academic_year = $1)`, academicYear,
	).Scan(&exists)
	return exists, err
}

func (t *rolloverTx) GraduateStudents(ctx context.Context, ids []int, grade string) (int, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE students SET status = 'graduated', updated_at = CURRENT_TIMESTAMP
		 WHERE id = ANY($1) AND TRIM(grade) = $2 AND status = 'active'`, ids, grade)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *rolloverTx) PromoteStudents(ctx context.Context, ids []int, from, to string) (int, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE students SET grade = $3, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ANY($1) AND TRIM(grade) = $2 AND status = 'active'`, ids, from, to)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *rolloverTx) ClearClassTeacherAssignments(ctx context.Context) (int, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM class_teacher_assignments`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *rolloverTx) RecordRollover(ctx context.Context, r model.YearRollover) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO year_rollovers (academic_year, graduated, promoted, cleared_assignments, triggered_by, rolled_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.AcademicYear, r.Graduated, r.Promoted, r.ClearedAssignments, r.TriggeredBy, r.RolledAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}
