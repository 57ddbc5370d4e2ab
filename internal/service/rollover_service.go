package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/bursar-backend/internal/cache"
	"github.com/stemsi/bursar-backend/internal/config"
	"github.com/stemsi/bursar-backend/internal/metrics"
	"github.com/stemsi/bursar-backend/internal/model"
	"github.com/stemsi/bursar-backend/internal/repository"
)

// RolloverRequest asks for the academic year to be advanced. A non-empty
// AcademicYear is recorded and can only be rolled over once.
type RolloverRequest struct {
	AcademicYear string
	TriggeredBy  *int
}

// RolloverService advances every active student by one grade, graduating
// the top grade, and clears per-year class-teacher assignments.
type RolloverService struct {
	store   repository.RolloverStore
	table   *model.PromotionTable
	locker  RunLocker
	lockTTL time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// NewRolloverService creates a new RolloverService.
func NewRolloverService(store repository.RolloverStore, table *model.PromotionTable, locker RunLocker, cfg *config.Config, log zerolog.Logger) *RolloverService {
	return &RolloverService{
		store:   store,
		table:   table,
		locker:  locker,
		lockTTL: cfg.Billing.LockTTL,
		log:     log.With().Str("component", "rollover_service").Logger(),
		now:     time.Now,
	}
}

// RollAcademicYear runs the whole rollover in one transaction: every
// student's outcome is computed from a single snapshot, the top grade is
// graduated first, then each promotion rule is applied highest grade first
// and scoped to the snapshotted ids still at the rule's source grade.
// Any failure rolls everything back.
func (s *RolloverService) RollAcademicYear(ctx context.Context, req RolloverRequest) (*model.RolloverResult, error) {
	if len(req.AcademicYear) > 32 {
		return nil, validationErr("academic_year must be at most 32 characters")
	}

	release, err := s.locker.Acquire(ctx, config.CacheKey.RolloverLockKey(), s.lockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLocked) {
			return nil, ErrRunInProgress
		}
		return nil, &FatalBatchError{Stage: "acquire rollover lock", Err: err}
	}
	defer release(context.WithoutCancel(ctx))

	result := &model.RolloverResult{AcademicYear: req.AcademicYear, Unmatched: []int{}}

	err = s.store.WithRolloverTx(ctx, func(tx repository.RolloverTx) error {
		if req.AcademicYear != "" {
			rolled, err := tx.YearRolled(ctx, req.AcademicYear)
			if err != nil {
				return &FatalBatchError{Stage: "check rollover history", Err: err}
			}
			if rolled {
				return ErrYearAlreadyRolled
			}
		}

		snapshot, err := tx.ActiveGradeSnapshot(ctx)
		if err != nil {
			return &FatalBatchError{Stage: "snapshot grades", Err: err}
		}
		plan := s.table.Plan(snapshot)

		if len(plan.Graduate) > 0 {
			n, err := tx.GraduateStudents(ctx, plan.Graduate, s.table.TopGrade())
			if err != nil {
				return &FatalBatchError{Stage: "graduate students", Err: err}
			}
			result.Graduated = n
		}

		for _, step := range plan.Steps {
			n, err := tx.PromoteStudents(ctx, step.StudentIDs, step.From, step.To)
			if err != nil {
				return &FatalBatchError{Stage: "promote grade " + step.From, Err: err}
			}
			result.Promoted += n
		}

		cleared, err := tx.ClearClassTeacherAssignments(ctx)
		if err != nil {
			return &FatalBatchError{Stage: "clear class-teacher assignments", Err: err}
		}
		result.ClearedAssignments = cleared

		if req.AcademicYear != "" {
			err := tx.RecordRollover(ctx, model.YearRollover{
				AcademicYear:       req.AcademicYear,
				Graduated:          result.Graduated,
				Promoted:           result.Promoted,
				ClearedAssignments: result.ClearedAssignments,
				TriggeredBy:        req.TriggeredBy,
				RolledAt:           s.now().UTC(),
			})
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrYearAlreadyRolled
			}
			if err != nil {
				return &FatalBatchError{Stage: "record rollover", Err: err}
			}
		}

		if len(plan.Unmatched) > 0 {
			result.Unmatched = plan.Unmatched
		}
		return nil
	})
	if err != nil {
		status := "failed"
		if errors.Is(err, ErrYearAlreadyRolled) {
			status = "rejected"
		}
		metrics.ObserveRollover(status)
		s.log.Error().Err(err).Str("academic_year", req.AcademicYear).Msg("Academic year rollover failed")
		return nil, err
	}

	metrics.ObserveRollover("completed")
	s.log.Info().
		Str("academic_year", req.AcademicYear).
		Int("graduated", result.Graduated).
		Int("promoted", result.Promoted).
		Int("cleared_assignments", result.ClearedAssignments).
		Int("unmatched", len(result.Unmatched)).
		Msg("Academic year rolled over")

	return result, nil
}
