package service

import (
	"context"
	"fmt"

	"github.com/stemsi/bursar-backend/internal/model"
	"github.com/stemsi/bursar-backend/internal/repository"
)

// DashboardService handles bursar dashboard business logic.
type DashboardService struct {
	repo repository.DashboardReader
}

// NewDashboardService creates a new DashboardService.
func NewDashboardService(repo repository.DashboardReader) *DashboardService {
	return &DashboardService{repo: repo}
}

// GetDashboardData gathers student counts, outstanding balances and the last billing run.
func (s *DashboardService) GetDashboardData(ctx context.Context) (*model.DashboardStats, error) {
	active, graduated, err := s.repo.GetStudentCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("count students: %w", err)
	}

	outstanding, err := s.repo.GetOutstandingTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("outstanding totals: %w", err)
	}

	lastRun, err := s.repo.GetLastRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("last billing run: %w", err)
	}

	return &model.DashboardStats{
		ActiveStudents:    active,
		GraduatedStudents: graduated,
		Outstanding:       outstanding,
		LastRun:           lastRun,
	}, nil
}
