package service

import (
	"context"
	"errors"
	"strings"

	"github.com/stemsi/bursar-backend/internal/model"
	"github.com/stemsi/bursar-backend/internal/repository"
	"github.com/stemsi/bursar-backend/internal/response"
)

const ledgerPreview = 50

// StudentService serves the read views of students, balances and ledgers.
type StudentService struct {
	studentRepo *repository.StudentRepository
	chargeRepo  *repository.ChargeRepository
}

// NewStudentService creates a new StudentService.
func NewStudentService(studentRepo *repository.StudentRepository, chargeRepo *repository.ChargeRepository) *StudentService {
	return &StudentService{studentRepo: studentRepo, chargeRepo: chargeRepo}
}

// ListStudents retrieves students with balances, filtered and paginated.
func (s *StudentService) ListStudents(ctx context.Context, filter repository.StudentFilter, page, perPage int) ([]model.Student, *response.Pagination, error) {
	switch filter.Status {
	case "", model.StudentStatusActive, model.StudentStatusGraduated:
	default:
		return nil, nil, validationErr("status must be active or graduated")
	}
	filter.Grade = strings.TrimSpace(filter.Grade)
	filter.ClassName = strings.TrimSpace(filter.ClassName)

	page, perPage = response.ClampPage(page, perPage)

	students, total, err := s.studentRepo.ListPaginated(ctx, filter, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	if students == nil {
		students = []model.Student{}
	}
	return students, response.NewPagination(page, perPage, total), nil
}

// GetDetail returns a student with balances and their most recent ledger rows.
func (s *StudentService) GetDetail(ctx context.Context, id int) (*model.StudentDetail, error) {
	student, err := s.studentRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundErr("student %d not found", id)
		}
		return nil, err
	}

	ledger, err := s.chargeRepo.ListByStudent(ctx, id, ledgerPreview)
	if err != nil {
		return nil, err
	}
	return &model.StudentDetail{Student: *student, Ledger: ledger}, nil
}
