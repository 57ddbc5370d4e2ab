package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/bursar-backend/internal/batch"
	"github.com/stemsi/bursar-backend/internal/cache"
	"github.com/stemsi/bursar-backend/internal/config"
	"github.com/stemsi/bursar-backend/internal/metrics"
	"github.com/stemsi/bursar-backend/internal/model"
	"github.com/stemsi/bursar-backend/internal/repository"
	"github.com/stemsi/bursar-backend/internal/response"
)

const (
	reasonNotActive      = "student not found or not active"
	reasonNoLongerActive = "student no longer active"
	reasonZeroCharge     = "fee configuration has no billable amount"
)

// RunLocker hands out exclusive run locks. A held lock yields cache.ErrLocked.
type RunLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), error)
}

// ProgressPublisher receives per-student progress of a billing run.
type ProgressPublisher interface {
	Publish(ctx context.Context, event model.ProgressEvent)
}

// BillTermRequest asks for one term to be billed. A non-empty StudentIDs
// restricts the run to those students. A zero RunID gets a fresh one.
type BillTermRequest struct {
	TermID      int
	StudentIDs  []int
	RunID       uuid.UUID
	TriggeredBy *int
}

// BillingService bills terms: it adds each active student's term charges to
// their owing balances and records one ledger row per charge.
type BillingService struct {
	terms    repository.TermStore
	students repository.StudentDirectory
	charges  repository.ChargeWriter
	runs     repository.BillingRunStore
	locker   RunLocker
	progress ProgressPublisher
	cfg      config.BillingConfig
	base     string
	log      zerolog.Logger
	now      func() time.Time
}

// NewBillingService creates a new BillingService.
func NewBillingService(
	terms repository.TermStore,
	students repository.StudentDirectory,
	charges repository.ChargeWriter,
	runs repository.BillingRunStore,
	locker RunLocker,
	progress ProgressPublisher,
	cfg *config.Config,
	log zerolog.Logger,
) *BillingService {
	return &BillingService{
		terms:    terms,
		students: students,
		charges:  charges,
		runs:     runs,
		locker:   locker,
		progress: progress,
		cfg:      cfg.Billing,
		base:     cfg.BaseCurrency,
		log:      log.With().Str("component", "billing_service").Logger(),
		now:      time.Now,
	}
}

// BillTerm runs one billing pass over a term.
//
// Request errors (ErrValidation, ErrNotFound, ErrTermAlreadyBilled,
// ErrRunInProgress) and failures before the first write (*FatalBatchError)
// are returned without writing anything. Once writing starts, per-student
// failures are reported in the result and the error is nil, unless the term
// could not be marked billed after a clean pass.
func (s *BillingService) BillTerm(ctx context.Context, req BillTermRequest) (*model.BillingResult, error) {
	if req.TermID <= 0 {
		return nil, validationErr("term_id is required")
	}
	ids, err := normalizeIDs(req.StudentIDs)
	if err != nil {
		return nil, err
	}

	runID := req.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	} else if replay, err := s.replay(ctx, runID, req.TermID); replay != nil || err != nil {
		return replay, err
	}

	log := s.log.With().Int("term_id", req.TermID).Str("run_id", runID.String()).Logger()

	release, err := s.locker.Acquire(ctx, config.CacheKey.BillingTermLockKey(req.TermID), s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLocked) {
			return nil, ErrRunInProgress
		}
		return nil, &FatalBatchError{Stage: "acquire run lock", Err: err}
	}
	defer release(context.WithoutCancel(ctx))

	term, err := s.terms.GetTerm(ctx, req.TermID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundErr("term %d not found", req.TermID)
		}
		return nil, &FatalBatchError{Stage: "load term", Err: err}
	}
	subset := len(ids) > 0
	if term.Billed && !subset {
		return nil, fmt.Errorf("term %d: %w", term.ID, ErrTermAlreadyBilled)
	}

	schedule, err := s.loadSchedule(ctx, term)
	if err != nil {
		return nil, err
	}

	var students []model.Student
	if subset {
		students, err = s.students.ListActiveByIDs(ctx, ids)
	} else {
		students, err = s.students.ListActiveWithBalances(ctx)
	}
	if err != nil {
		return nil, &FatalBatchError{Stage: "enumerate students", Err: err}
	}

	mode := model.BillingMode(s.cfg.Mode)
	if mode != model.BillingModeAtomic {
		mode = model.BillingModePerStudent
	}
	result := &model.BillingResult{
		RunID:         runID,
		TermID:        term.ID,
		Status:        model.RunStatusRunning,
		Mode:          mode,
		AlreadyBilled: []int{},
		Skipped:       []model.StudentIssue{},
		Errors:        []model.StudentIssue{},
		Subset:        subset,
	}

	if subset {
		found := make(map[int]bool, len(students))
		for _, st := range students {
			found[st.ID] = true
		}
		for _, id := range ids {
			if !found[id] {
				result.Skipped = append(result.Skipped, model.StudentIssue{StudentID: id, Reason: reasonNotActive})
			}
		}
	}

	chargedAt := s.now().UTC()
	units := make([]model.StudentCharges, 0, len(students))
	for _, st := range students {
		charges, err := schedule.ChargesFor(st)
		if err != nil {
			var gap *ConfigurationGapError
			if errors.As(err, &gap) {
				log.Debug().Int("student_id", st.ID).Str("grade", st.Grade).Str("class_name", st.ClassName).Msg("No fee configuration, skipping student")
				result.Skipped = append(result.Skipped, model.StudentIssue{StudentID: st.ID, Reason: gap.Error()})
				continue
			}
			return nil, &FatalBatchError{Stage: "resolve charges", Err: err}
		}
		if len(charges) == 0 {
			result.Skipped = append(result.Skipped, model.StudentIssue{StudentID: st.ID, Reason: reasonZeroCharge})
			continue
		}
		units = append(units, model.StudentCharges{
			StudentID: st.ID,
			TermID:    term.ID,
			RunID:     runID,
			ChargedAt: chargedAt,
			Charges:   charges,
		})
	}

	started := s.now()
	run := &model.BillingRun{
		BillingResult: *result,
		TriggeredBy:   req.TriggeredBy,
		StartedAt:     started.UTC(),
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrRunInProgress
		}
		return nil, &FatalBatchError{Stage: "record run", Err: err}
	}

	log.Info().
		Str("mode", string(mode)).
		Bool("subset", subset).
		Int("students", len(units)).
		Int("skipped", len(result.Skipped)).
		Msg("Billing run started")

	total := len(units)
	if mode == model.BillingModeAtomic {
		s.applyAtomic(ctx, units, result)
	} else {
		s.applyPerStudent(ctx, units, result)
	}

	sortIssues(result.Skipped)
	sortIssues(result.Errors)
	sort.Ints(result.AlreadyBilled)
	result.Status = finalStatus(result)

	// The run record and the billed flag must land even if the caller went away.
	persistCtx := context.WithoutCancel(ctx)

	var fatal error
	if result.Status == model.RunStatusCompleted && !subset {
		if err := s.terms.MarkBilled(persistCtx, term.ID, s.now().UTC()); err != nil {
			fatal = &FatalBatchError{Stage: "mark term billed", Err: err}
			log.Error().Err(err).Msg("Failed to mark term billed after a clean pass")
		}
	}

	finished := s.now().UTC()
	run.BillingResult = *result
	run.FinishedAt = &finished
	if err := s.runs.FinishRun(persistCtx, run); err != nil {
		log.Error().Err(err).Msg("Failed to persist billing run result")
	}

	s.progress.Publish(persistCtx, model.ProgressEvent{
		RunID:   runID,
		Outcome: model.ProgressFinished,
		Done:    total,
		Total:   total,
		Status:  result.Status,
	})

	metrics.ObserveBillingRun(string(result.Status), string(mode), started)
	metrics.AddBillingStudents(model.ProgressBilled, result.BilledCount)
	metrics.AddBillingStudents(model.ProgressAlreadyBilled, len(result.AlreadyBilled))
	metrics.AddBillingStudents(model.ProgressSkipped, len(result.Skipped))
	metrics.AddBillingStudents(model.ProgressFailed, len(result.Errors))

	log.Info().
		Str("status", string(result.Status)).
		Int("billed", result.BilledCount).
		Int("ledger_entries", result.LedgerEntries).
		Int("already_billed", len(result.AlreadyBilled)).
		Int("skipped", len(result.Skipped)).
		Int("errors", len(result.Errors)).
		Dur("took", time.Since(started)).
		Msg("Billing run finished")

	return result, fatal
}

// replay returns the stored result of a finished run with the same id.
func (s *BillingService) replay(ctx context.Context, runID uuid.UUID, termID int) (*model.BillingResult, error) {
	prev, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, &FatalBatchError{Stage: "look up run", Err: err}
	}
	if prev.TermID != termID {
		return nil, validationErr("idempotency key %s was used for term %d", runID, prev.TermID)
	}
	if prev.Status == model.RunStatusRunning {
		return nil, ErrRunInProgress
	}
	out := prev.BillingResult
	out.Replayed = true
	return &out, nil
}

func (s *BillingService) loadSchedule(ctx context.Context, term *model.Term) (*FeeSchedule, error) {
	rows, err := s.terms.ListFeeSchedules(ctx, term.ID)
	if err != nil {
		return nil, &FatalBatchError{Stage: "load fee schedule", Err: err}
	}
	rates, err := s.terms.ListExchangeRates(ctx)
	if err != nil {
		return nil, &FatalBatchError{Stage: "load exchange rates", Err: err}
	}
	return BuildFeeSchedule(term, rows, rates, s.base)
}

// applyPerStudent commits every student independently with bounded
// concurrency. A failing student never blocks the others.
func (s *BillingService) applyPerStudent(ctx context.Context, units []model.StudentCharges, result *model.BillingResult) {
	total := len(units)
	var done int64

	pubCtx := context.WithoutCancel(ctx)
	publish := func(studentID int, outcome, reason string) {
		s.progress.Publish(pubCtx, model.ProgressEvent{
			RunID:     result.RunID,
			StudentID: studentID,
			Outcome:   outcome,
			Done:      int(atomic.AddInt64(&done, 1)),
			Total:     total,
			Reason:    reason,
		})
	}

	outcomes := batch.Run(ctx, units, batch.Options{
		Workers:     s.cfg.Workers,
		MaxAttempts: s.cfg.MaxAttempts,
		RetryDelay:  s.cfg.RetryDelay,
		OnItem: func(i int, err error) {
			if err != nil {
				publish(units[i].StudentID, model.ProgressFailed, err.Error())
			}
		},
	}, func(ctx context.Context, sc model.StudentCharges) (model.ChargeOutcome, error) {
		out, err := s.charges.ApplyStudentCharges(ctx, sc)
		if err != nil {
			return out, err
		}
		publish(sc.StudentID, outcomeLabel(out), "")
		return out, nil
	})

	retries := 0
	for _, o := range outcomes {
		if o.Attempts > 1 {
			retries += o.Attempts - 1
		}
		if o.Err != nil {
			werr := &EntityWriteError{StudentID: o.Item.StudentID, Attempts: o.Attempts, Err: o.Err}
			s.log.Warn().Err(o.Err).
				Str("run_id", result.RunID.String()).
				Int("student_id", o.Item.StudentID).
				Int("attempts", o.Attempts).
				Msg("Student billing failed")
			result.Errors = append(result.Errors, model.StudentIssue{StudentID: werr.StudentID, Reason: werr.Error()})
			continue
		}
		tally(result, o.Value)
	}
	metrics.AddBillingRetries(retries)
}

// applyAtomic commits the whole batch in one transaction, retried as a whole.
// On failure nothing is billed and every student of the batch is reported.
func (s *BillingService) applyAtomic(ctx context.Context, units []model.StudentCharges, result *model.BillingResult) {
	if len(units) == 0 {
		return
	}

	outcomes, attempts, err := batch.Retry(ctx, batch.Options{
		MaxAttempts: s.cfg.MaxAttempts,
		RetryDelay:  s.cfg.RetryDelay,
	}, func(ctx context.Context) ([]model.ChargeOutcome, error) {
		return s.charges.ApplyBatchCharges(ctx, units)
	})
	metrics.AddBillingRetries(attempts - 1)

	if err != nil {
		culprit := 0
		var swe *repository.StudentWriteError
		if errors.As(err, &swe) {
			culprit = swe.StudentID
		}
		s.log.Error().Err(err).
			Str("run_id", result.RunID.String()).
			Int("attempts", attempts).
			Msg("Atomic billing batch rolled back")

		for _, u := range units {
			reason := fmt.Sprintf("batch rolled back: %v", err)
			if u.StudentID == culprit {
				reason = (&EntityWriteError{StudentID: u.StudentID, Attempts: attempts, Err: swe.Err}).Error()
			}
			result.Errors = append(result.Errors, model.StudentIssue{StudentID: u.StudentID, Reason: reason})
		}
		return
	}

	for i, out := range outcomes {
		tally(result, out)
		s.progress.Publish(ctx, model.ProgressEvent{
			RunID:     result.RunID,
			StudentID: out.StudentID,
			Outcome:   outcomeLabel(out),
			Done:      i + 1,
			Total:     len(outcomes),
		})
	}
}

// GetRun returns a persisted billing run.
func (s *BillingService) GetRun(ctx context.Context, id uuid.UUID) (*model.BillingRun, error) {
	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundErr("billing run %s not found", id)
		}
		return nil, err
	}
	return run, nil
}

// ListRuns returns billing runs, newest first, optionally for a single term.
func (s *BillingService) ListRuns(ctx context.Context, termID *int, page, perPage int) ([]model.BillingRun, *response.Pagination, error) {
	page, perPage = response.ClampPage(page, perPage)

	runs, total, err := s.runs.ListRuns(ctx, termID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	if runs == nil {
		runs = []model.BillingRun{}
	}
	return runs, response.NewPagination(page, perPage, total), nil
}

func tally(result *model.BillingResult, out model.ChargeOutcome) {
	switch {
	case out.Inactive:
		result.Skipped = append(result.Skipped, model.StudentIssue{StudentID: out.StudentID, Reason: reasonNoLongerActive})
	case out.Inserted == 0:
		result.AlreadyBilled = append(result.AlreadyBilled, out.StudentID)
	default:
		result.BilledCount++
		result.LedgerEntries += out.Inserted
	}
}

func outcomeLabel(out model.ChargeOutcome) string {
	switch {
	case out.Inactive:
		return model.ProgressSkipped
	case out.Inserted == 0:
		return model.ProgressAlreadyBilled
	default:
		return model.ProgressBilled
	}
}

func finalStatus(r *model.BillingResult) model.RunStatus {
	switch {
	case len(r.Errors) == 0:
		return model.RunStatusCompleted
	case r.BilledCount > 0 || len(r.AlreadyBilled) > 0:
		return model.RunStatusPartial
	default:
		return model.RunStatusFailed
	}
}

func normalizeIDs(ids []int) ([]int, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, validationErr("student_ids must be positive integers")
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

func sortIssues(issues []model.StudentIssue) {
	sort.Slice(issues, func(i, j int) bool { return issues[i].StudentID < issues[j].StudentID })
}
