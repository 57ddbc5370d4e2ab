// Package memstore is an in-memory implementation of the repository store
// interfaces with failure injection. It backs service and handler tests.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stemsi/bursar-backend/internal/model"
	"github.com/stemsi/bursar-backend/internal/repository"
)

// ErrInjected is the error returned by injected write failures.
var ErrInjected = errors.New("injected write failure")

type chargeKey struct {
	studentID int
	termID    int
	feeType   model.FeeType
	currency  string
}

// Store keeps students, terms, the ledger and runs in memory.
type Store struct {
	mu sync.Mutex

	students    map[int]*model.Student
	terms       map[int]*model.Term
	schedules   map[int][]model.FeeScheduleRow
	rates       map[string]decimal.Decimal
	ledger      []model.FeeCharge
	billed      map[chargeKey]bool
	runs        map[uuid.UUID]*model.BillingRun
	assignments int
	rollovers   map[string]model.YearRollover

	writeFailures map[int]int
	writeAttempts map[int]int
	markBilledErr error
	enumerateErr  error
	promoteErr    map[string]error

	// OnWrite, when set, is called before every student write attempt.
	OnWrite func(studentID int)
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		students:      make(map[int]*model.Student),
		terms:         make(map[int]*model.Term),
		schedules:     make(map[int][]model.FeeScheduleRow),
		rates:         make(map[string]decimal.Decimal),
		billed:        make(map[chargeKey]bool),
		runs:          make(map[uuid.UUID]*model.BillingRun),
		rollovers:     make(map[string]model.YearRollover),
		writeFailures: make(map[int]int),
		writeAttempts: make(map[int]int),
		promoteErr:    make(map[string]error),
	}
}

// ─── Seeding ───────────────────────────────────────────────────────

// AddStudent stores a copy of st. An empty status means active.
func (s *Store) AddStudent(st model.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.Status == "" {
		st.Status = model.StudentStatusActive
	}
	cp := copyStudent(st)
	s.students[st.ID] = &cp
}

// AddTerm stores a copy of t.
func (s *Store) AddTerm(t model.Term) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terms[t.ID] = &t
}

// AddFeeSchedule appends schedule rows to their terms.
func (s *Store) AddFeeSchedule(rows ...model.FeeScheduleRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.schedules[r.TermID] = append(s.schedules[r.TermID], r)
	}
}

// SetExchangeRate sets a currency's rate to the base currency.
func (s *Store) SetExchangeRate(currency string, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[strings.ToUpper(currency)] = rate
}

// SetAssignments sets the number of class-teacher assignments.
func (s *Store) SetAssignments(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = n
}

// SetStatus changes a student's status.
func (s *Store) SetStatus(id int, status model.StudentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.students[id]; ok {
		st.Status = status
	}
}

// ─── Failure injection ─────────────────────────────────────────────

// FailWrites makes the next times write attempts for a student fail.
// A negative times fails every attempt.
func (s *Store) FailWrites(studentID, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeFailures[studentID] = times
}

// FailMarkBilled makes MarkBilled return err.
func (s *Store) FailMarkBilled(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markBilledErr = err
}

// FailEnumerate makes the student listings return err.
func (s *Store) FailEnumerate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enumerateErr = err
}

// FailPromotion makes the promotion of grade from return err.
func (s *Store) FailPromotion(from string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoteErr[from] = err
}

// ─── Inspection ────────────────────────────────────────────────────

// Student returns a copy of a stored student.
func (s *Store) Student(id int) (model.Student, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[id]
	if !ok {
		return model.Student{}, false
	}
	return copyStudent(*st), true
}

// Ledger returns a copy of every ledger row.
func (s *Store) Ledger() []model.FeeCharge {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.FeeCharge, len(s.ledger))
	copy(out, s.ledger)
	return out
}

// LedgerFor returns the ledger rows of one student.
func (s *Store) LedgerFor(studentID int) []model.FeeCharge {
	var out []model.FeeCharge
	for _, fc := range s.Ledger() {
		if fc.StudentID == studentID {
			out = append(out, fc)
		}
	}
	return out
}

// WriteAttempts returns how many times a student's write was attempted.
func (s *Store) WriteAttempts(studentID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAttempts[studentID]
}

// Assignments returns the number of class-teacher assignments left.
func (s *Store) Assignments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignments
}

// Term returns a copy of a stored term.
func (s *Store) Term(id int) (model.Term, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.terms[id]
	if !ok {
		return model.Term{}, false
	}
	return *t, true
}

// ─── repository.TermStore ──────────────────────────────────────────

func (s *Store) GetTerm(_ context.Context, id int) (*model.Term, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.terms[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListFeeSchedules(_ context.Context, termID int) ([]model.FeeScheduleRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.FeeScheduleRow, len(s.schedules[termID]))
	copy(out, s.schedules[termID])
	return out, nil
}

func (s *Store) ListExchangeRates(_ context.Context) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(s.rates))
	for k, v := range s.rates {
		out[k] = v
	}
	return out, nil
}

func (s *Store) MarkBilled(_ context.Context, termID int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markBilledErr != nil {
		return s.markBilledErr
	}
	t, ok := s.terms[termID]
	if !ok {
		return repository.ErrNotFound
	}
	t.Billed = true
	t.BilledAt = &at
	return nil
}

// ─── repository.StudentDirectory ───────────────────────────────────

func (s *Store) ListActiveWithBalances(_ context.Context) ([]model.Student, error) {
	return s.listActive(func(int) bool { return true })
}

func (s *Store) ListActiveByIDs(_ context.Context, ids []int) ([]model.Student, error) {
	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return s.listActive(func(id int) bool { return want[id] })
}

func (s *Store) listActive(keep func(int) bool) ([]model.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enumerateErr != nil {
		return nil, s.enumerateErr
	}
	var out []model.Student
	for id, st := range s.students {
		if st.Status == model.StudentStatusActive && keep(id) {
			out = append(out, copyStudent(*st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ─── repository.ChargeWriter ───────────────────────────────────────

func (s *Store) ApplyStudentCharges(ctx context.Context, sc model.StudentCharges) (model.ChargeOutcome, error) {
	if s.OnWrite != nil {
		s.OnWrite(sc.StudentID)
	}
	if err := ctx.Err(); err != nil {
		return model.ChargeOutcome{StudentID: sc.StudentID}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injectedFailure(sc.StudentID); err != nil {
		return model.ChargeOutcome{StudentID: sc.StudentID}, err
	}
	return s.apply(sc), nil
}

func (s *Store) ApplyBatchCharges(ctx context.Context, batch []model.StudentCharges) ([]model.ChargeOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.snapshot()
	outcomes := make([]model.ChargeOutcome, 0, len(batch))
	for _, sc := range batch {
		if s.OnWrite != nil {
			s.OnWrite(sc.StudentID)
		}
		if err := s.injectedFailure(sc.StudentID); err != nil {
			s.restore(backup)
			return nil, &repository.StudentWriteError{StudentID: sc.StudentID, Err: err}
		}
		outcomes = append(outcomes, s.apply(sc))
	}
	return outcomes, nil
}

func (s *Store) injectedFailure(studentID int) error {
	s.writeAttempts[studentID]++
	left, ok := s.writeFailures[studentID]
	if !ok || left == 0 {
		return nil
	}
	if left > 0 {
		s.writeFailures[studentID] = left - 1
	}
	return fmt.Errorf("student %d: %w", studentID, ErrInjected)
}

func (s *Store) apply(sc model.StudentCharges) model.ChargeOutcome {
	out := model.ChargeOutcome{StudentID: sc.StudentID}
	st, ok := s.students[sc.StudentID]
	if !ok || st.Status != model.StudentStatusActive {
		out.Inactive = true
		return out
	}

	for _, c := range sc.Charges {
		key := chargeKey{sc.StudentID, sc.TermID, c.FeeType, c.Currency}
		if s.billed[key] {
			out.Existing++
			continue
		}
		s.billed[key] = true

		termID := sc.TermID
		runID := sc.RunID
		s.ledger = append(s.ledger, model.FeeCharge{
			ID:           int64(len(s.ledger) + 1),
			StudentID:    sc.StudentID,
			TermID:       &termID,
			FeeType:      c.FeeType,
			Currency:     c.Currency,
			Amount:       c.Amount,
			BaseAmount:   c.BaseAmount,
			ExchangeRate: c.ExchangeRate,
			Kind:         model.ChargeKindBilling,
			RunID:        &runID,
			ChargedAt:    sc.ChargedAt,
		})

		b := addBalance(st, c.FeeType, c.Currency, c.Amount)
		out.Inserted++
		out.Balances = append(out.Balances, b)
	}
	return out
}

func addBalance(st *model.Student, feeType model.FeeType, currency string, amount decimal.Decimal) model.Balance {
	for i := range st.Balances {
		if st.Balances[i].FeeType == feeType && st.Balances[i].Currency == currency {
			st.Balances[i].Owing = st.Balances[i].Owing.Add(amount)
			return st.Balances[i]
		}
	}
	b := model.Balance{FeeType: feeType, Currency: currency, Owing: amount}
	st.Balances = append(st.Balances, b)
	return b
}

// ─── repository.BillingRunStore ────────────────────────────────────

func (s *Store) CreateRun(_ context.Context, run *model.BillingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.RunID]; ok {
		return repository.ErrDuplicate
	}
	cp := *run
	s.runs[run.RunID] = &cp
	return nil
}

func (s *Store) FinishRun(_ context.Context, run *model.BillingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.RunID]; !ok {
		return repository.ErrNotFound
	}
	cp := *run
	s.runs[run.RunID] = &cp
	return nil
}

func (s *Store) GetRun(_ context.Context, id uuid.UUID) (*model.BillingRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *Store) ListRuns(_ context.Context, termID *int, limit, offset int) ([]model.BillingRun, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []model.BillingRun
	for _, run := range s.runs {
		if termID == nil || run.TermID == *termID {
			all = append(all, *run)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// ─── repository.RolloverStore ──────────────────────────────────────

// WithRolloverTx holds the store lock for the whole of fn and restores the
// previous state when fn fails.
func (s *Store) WithRolloverTx(_ context.Context, fn func(repository.RolloverTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.snapshot()
	if err := fn(&rolloverTx{s: s}); err != nil {
		s.restore(backup)
		return err
	}
	return nil
}

type rolloverTx struct {
	s *Store
}

func (t *rolloverTx) ActiveGradeSnapshot(context.Context) ([]model.StudentGrade, error) {
	if t.s.enumerateErr != nil {
		return nil, t.s.enumerateErr
	}
	var out []model.StudentGrade
	for _, st := range t.s.students {
		if st.Status == model.StudentStatusActive {
			out = append(out, model.StudentGrade{ID: st.ID, Grade: st.Grade})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *rolloverTx) YearRolled(_ context.Context, academicYear string) (bool, error) {
	_, ok := t.s.rollovers[academicYear]
	return ok, nil
}

func (t *rolloverTx) GraduateStudents(_ context.Context, ids []int, grade string) (int, error) {
	n := 0
	for _, id := range ids {
		st, ok := t.s.students[id]
		if ok && st.Status == model.StudentStatusActive && strings.TrimSpace(st.Grade) == grade {
			st.Status = model.StudentStatusGraduated
			n++
		}
	}
	return n, nil
}

func (t *rolloverTx) PromoteStudents(_ context.Context, ids []int, from, to string) (int, error) {
	if err := t.s.promoteErr[from]; err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		st, ok := t.s.students[id]
		if ok && st.Status == model.StudentStatusActive && strings.TrimSpace(st.Grade) == from {
			st.Grade = to
			n++
		}
	}
	return n, nil
}

func (t *rolloverTx) ClearClassTeacherAssignments(context.Context) (int, error) {
	n := t.s.assignments
	t.s.assignments = 0
	return n, nil
}

func (t *rolloverTx) RecordRollover(_ context.Context, r model.YearRollover) error {
	if _, ok := t.s.rollovers[r.AcademicYear]; ok {
		return repository.ErrDuplicate
	}
	t.s.rollovers[r.AcademicYear] = r
	return nil
}

// ─── Snapshots ─────────────────────────────────────────────────────

type state struct {
	students    map[int]*model.Student
	ledger      []model.FeeCharge
	billed      map[chargeKey]bool
	assignments int
	rollovers   map[string]model.YearRollover
}

func (s *Store) snapshot() state {
	st := state{
		students:    make(map[int]*model.Student, len(s.students)),
		ledger:      make([]model.FeeCharge, len(s.ledger)),
		billed:      make(map[chargeKey]bool, len(s.billed)),
		assignments: s.assignments,
		rollovers:   make(map[string]model.YearRollover, len(s.rollovers)),
	}
	for id, stu := range s.students {
		cp := copyStudent(*stu)
		st.students[id] = &cp
	}
	copy(st.ledger, s.ledger)
	for k, v := range s.billed {
		st.billed[k] = v
	}
	for k, v := range s.rollovers {
		st.rollovers[k] = v
	}
	return st
}

func (s *Store) restore(st state) {
	s.students = st.students
	s.ledger = st.ledger
	s.billed = st.billed
	s.assignments = st.assignments
	s.rollovers = st.rollovers
}

func copyStudent(st model.Student) model.Student {
	balances := make([]model.Balance, len(st.Balances))
	copy(balances, st.Balances)
	st.Balances = balances
	return st
}
