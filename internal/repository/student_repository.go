package repository

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/bursar-backend/internal/model"
)

const studentColumns = `id, name, grade, class_name, status, sponsor, contact, created_at, updated_at`

// StudentFilter narrows a student listing. Empty fields match everything.
type StudentFilter struct {
	Grade     string
	ClassName string
	Status    model.StudentStatus
}

// StudentRepository handles student and balance data access.
type StudentRepository struct {
	pool *pgxpool.Pool
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(pool *pgxpool.Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

// ListActiveWithBalances returns every active student with the balances
// stored at the time of the call.
func (r *StudentRepository) ListActiveWithBalances(ctx context.Context) ([]model.Student, error) {
	return r.queryWithBalances(ctx,
		`SELECT `+studentColumns+` FROM students WHERE status = 'active' ORDER BY id`)
}

// ListActiveByIDs returns the active students among ids. Unknown or graduated
// ids are left out.
func (r *StudentRepository) ListActiveByIDs(ctx context.Context, ids []int) ([]model.Student, error) {
	return r.queryWithBalances(ctx,
		`SELECT `+studentColumns+` FROM students WHERE status = 'active' AND id = ANY($1) ORDER BY id`, ids)
}

// GetByID retrieves a student with balances.
func (r *StudentRepository) GetByID(ctx context.Context, id int) (*model.Student, error) {
	students, err := r.queryWithBalances(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(students) == 0 {
		return nil, ErrNotFound
	}
	return &students[0], nil
}

// ListPaginated retrieves students with their balances, filtered and paginated.
func (r *StudentRepository) ListPaginated(ctx context.Context, f StudentFilter, limit, offset int) ([]model.Student, int, error) {
	where := ` WHERE TRUE`
	var args []interface{}
	if f.Grade != "" {
		args = append(args, f.Grade)
		where += ` AND grade = $` + strconv.Itoa(len(args))
	}
	if f.ClassName != "" {
		args = append(args, f.ClassName)
		where += ` AND LOWER(class_name) = LOWER($` + strconv.Itoa(len(args)) + `)`
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where += ` AND status = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM students`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + studentColumns + ` FROM students` + where +
		` ORDER BY name, id LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)

	students, err := r.queryWithBalances(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return students, total, nil
}

// Create inserts a new active student.
func (r *StudentRepository) Create(ctx context.Context, s *model.Student) error {
	if s.Status == "" {
		s.Status = model.StudentStatusActive
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO students (name, grade, class_name, status, sponsor, contact)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		s.Name, s.Grade, s.ClassName, s.Status, s.Sponsor, s.Contact,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

func (r *StudentRepository) queryWithBalances(ctx context.Context, query string, args ...interface{}) ([]model.Student, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []model.Student
	index := make(map[int]int)
	for rows.Next() {
		var s model.Student
		if err := rows.Scan(&s.ID, &s.Name, &s.Grade, &s.ClassName, &s.Status, &s.Sponsor, &s.Contact, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Balances = []model.Balance{}
		index[s.ID] = len(students)
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(students) == 0 {
		return students, nil
	}

	ids := make([]int, len(students))
	for i, s := range students {
		ids[i] = s.ID
	}

	brows, err := r.pool.Query(ctx,
		`SELECT student_id, fee_type, currency, owing
		 FROM student_balances
		 WHERE student_id = ANY($1)
		 ORDER BY student_id, fee_type, currency`, ids,
	)
	if err != nil {
		return nil, err
	}
	defer brows.Close()

	for brows.Next() {
		var id int
		var b model.Balance
		if err := brows.Scan(&id, &b.FeeType, &b.Currency, &b.Owing); err != nil {
			return nil, err
		}
		if i, ok := index[id]; ok {
			students[i].Balances = append(students[i].Balances, b)
		}
	}
	return students, brows.Err()
}

// notFound maps pgx.ErrNoRows to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
