package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stemsi/bursar-backend/internal/config"
	"github.com/stemsi/bursar-backend/internal/model"
	"github.com/stemsi/bursar-backend/internal/repository/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func strp(s string) *string { return &s }

type billingFixture struct {
	store    *memstore.Store
	locker   *memstore.Locker
	progress *memstore.Progress
	cfg      *config.Config
	svc      *BillingService
}

func newBillingFixture(t *testing.T, mutate ...func(*config.Config)) *billingFixture {
	t.Helper()
	cfg := &config.Config{
		BaseCurrency: "USD",
		Billing: config.BillingConfig{
			Mode:        string(model.BillingModePerStudent),
			Workers:     4,
			MaxAttempts: 3,
			LockTTL:     time.Minute,
		},
	}
	for _, m := range mutate {
		m(cfg)
	}
	f := &billingFixture{
		store:    memstore.New(),
		locker:   memstore.NewLocker(),
		progress: &memstore.Progress{},
		cfg:      cfg,
	}
	f.svc = NewBillingService(f.store, f.store, f.store, f.store, f.locker, f.progress, cfg, zerolog.Nop())
	return f
}

// seedGrade3Term adds term 1 billing grade 3 levy 50 USD and tuition 100 USD.
func (f *billingFixture) seedGrade3Term() {
	f.store.AddTerm(model.Term{ID: 1, Name: "T1", AcademicYear: "2026", Currency: "USD"})
	f.store.AddFeeSchedule(
		model.FeeScheduleRow{ID: 1, TermID: 1, Grade: "3", FeeType: model.FeeTypeLevy, Currency: "USD", Amount: d("50")},
		model.FeeScheduleRow{ID: 2, TermID: 1, Grade: "3", FeeType: model.FeeTypeTuition, Currency: "USD", Amount: d("100")},
	)
}

func (f *billingFixture) addGrade3Students(ids ...int) {
	for _, id := range ids {
		f.store.AddStudent(model.Student{ID: id, Name: "Student", Grade: "3"})
	}
}

func assertOwing(t *testing.T, store *memstore.Store, id int, feeType model.FeeType, currency, want string) {
	t.Helper()
	st, ok := store.Student(id)
	require.True(t, ok, "student %d", id)
	got := st.Owing(feeType, currency)
	assert.True(t, d(want).Equal(got), "student %d %s %s: want %s, got %s", id, feeType, currency, want, got)
}

func TestBillTerm_ChargesBalancesAndLedger(t *testing.T) {
	// GIVEN grade 3 billed levy 50 and tuition 100, and S1 owing 10 and 20
	f := newBillingFixture(t)
	f.seedGrade3Term()
	f.store.AddStudent(model.Student{ID: 1, Name: "S1", Grade: "3", Balances: []model.Balance{
		{FeeType: model.FeeTypeLevy, Currency: "USD", Owing: d("10")},
		{FeeType: model.FeeTypeTuition, Currency: "USD", Owing: d("20")},
	}})

	// WHEN the term is billed
	res, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	require.NoError(t, err)

	// THEN owing grew by exactly the charge and two ledger rows exist
	assert.Equal(t, model.RunStatusCompleted, res.Status)
	assert.Equal(t, 1, res.BilledCount)
	assert.Equal(t, 2, res.LedgerEntries)
	assert.Empty(t, res.Errors)
	assertOwing(t, f.store, 1, model.FeeTypeLevy, "USD", "60")
	assertOwing(t, f.store, 1, model.FeeTypeTuition, "USD", "120")

	ledger := f.store.LedgerFor(1)
	require.Len(t, ledger, 2)
	byType := map[model.FeeType]model.FeeCharge{}
	for _, fc := range ledger {
		byType[fc.FeeType] = fc
		require.NotNil(t, fc.TermID)
		assert.Equal(t, 1, *fc.TermID)
		assert.Equal(t, model.ChargeKindBilling, fc.Kind)
		assert.Equal(t, "USD", fc.Currency)
		require.NotNil(t, fc.RunID)
		assert.Equal(t, res.RunID, *fc.RunID)
	}
	assert.True(t, d("50").Equal(byType[model.FeeTypeLevy].Amount))
	assert.True(t, d("100").Equal(byType[model.FeeTypeTuition].Amount))
	assert.True(t, d("100").Equal(byType[model.FeeTypeTuition].BaseAmount))

	term, _ := f.store.Term(1)
	assert.True(t, term.Billed)
	assert.NotNil(t, term.BilledAt)
}

func TestBillTerm_SkipsStudentsWithoutConfiguration(t *testing.T) {
	f := newBillingFixture(t)
	f.seedGrade3Term()
	f.addGrade3Students(1)
	f.store.AddStudent(model.Student{ID: 2, Name: "S2", Grade: "9"})

	res, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, res.Status)
	assert.Equal(t, 1, res.BilledCount)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, model.StudentIssue{StudentID: 2, Reason: ReasonNoFeeConfiguration}, res.Skipped[0])
	assert.Empty(t, f.store.LedgerFor(2))
	st, _ := f.store.Student(2)
	assert.Empty(t, st.Balances)
}

func TestBillTerm_ExcludesGraduatedStudents(t *testing.T) {
	f := newBillingFixture(t)
	f.seedGrade3Term()
	f.addGrade3Students(1)
	f.store.AddStudent(model.Student{ID: 2, Grade: "3", Status: model.StudentStatusGraduated})

	res, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, res.BilledCount)
	assert.Empty(t, res.Skipped)
	assert.Empty(t, f.store.LedgerFor(2))
}

func TestBillTerm_PartialFailureIsIsolated(t *testing.T) {
	f := newBillingFixture(t)
	f.seedGrade3Term()
	f.addGrade3Students(1, 2, 3, 4, 5)
	f.store.FailWrites(2, -1)
	f.store.FailWrites(4, -1)

	res, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusPartial, res.Status)
	assert.Equal(t, 3, res.BilledCount)
	assert.Equal(t, 6, res.LedgerEntries)
	assert.Equal(t, []int{2, 4}, res.ErrorIDs())
	for _, e := range res.Errors {
		assert.Contains(t, e.Reason, "after 3 attempts")
	}
	for _, id := range []int{1, 3, 5} {
		assertOwing(t, f.store, id, model.FeeTypeLevy, "USD", "50")
	}
	for _, id := range []int{2, 4} {
		assert.Empty(t, f.store.LedgerFor(id))
		assert.Equal(t, 3, f.store.WriteAttempts(id))
	}

	term, _ := f.store.Term(1)
	assert.False(t, term.Billed, "term must stay unflagged after a partial run")
}

func TestBillTerm_RetriesTransientFailure(t *testing.T) {
	f := newBillingFixture(t)
	f.seedGrade3Term()
	f.addGrade3Students(1)
	f.store.FailWrites(1, 2)

	res, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, res.Status)
	assert.Equal(t, 3, f.store.WriteAttempts(1))
	assertOwing(t, f.store, 1, model.FeeTypeTuition, "USD", "100")
}

func TestBillTerm_LargeBatchWithRemediation(t *testing.T) {
	// GIVEN 5,000 students where the write for #3412 always fails
	f := newBillingFixture(t, func(c *config.Config) { c.Billing.Workers = 16 })
	f.seedGrade3Term()
	for id := 1; id <= 5000; id++ {
		f.store.AddStudent(model.Student{ID: id, Grade: "3"})
	}
	f.store.FailWrites(3412, -1)

	// WHEN the term is billed
	res, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	require.NoError(t, err)

	// THEN exactly that student is reported
	assert.Equal(t, 4999, res.BilledCount)
	assert.Equal(t, []int{3412}, res.ErrorIDs())
	assert.Len(t, f.store.Ledger(), 4999*2)

	// WHEN remediation runs for only that student once the store recovers
	f.store.FailWrites(3412, 0)
	fix, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1, StudentIDs: []int{3412}})
	require.NoError(t, err)

	// THEN the end state matches a clean run
	assert.Equal(t, model.RunStatusCompleted, fix.Status)
	assert.True(t, fix.Subset)
	assert.Equal(t, 1, fix.BilledCount)
	assertOwing(t, f.store, 3412, model.FeeTypeLevy, "USD", "50")
	assertOwing(t, f.store, 3412, model.FeeTypeTuition, "USD", "100")
	assert.Len(t, f.store.LedgerFor(3412), 2)
	assert.Len(t, f.store.Ledger(), 5000*2)
}

func TestBillTerm_SecondRunIsRejected(t *testing.T) {
	f := newBillingFixture(t)
	f.seedGrade3Term()
	f.addGrade3Students(1, 2)

	_, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	require.NoError(t, err)

	res, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	assert.ErrorIs(t, err, ErrTermAlreadyBilled)
	assert.Nil(t, res)

	assertOwing(t, f.store, 1, model.FeeTypeLevy, "USD", "50")
	assert.Len(t, f.store.Ledger(), 4)
}

func TestBillTerm_FullRerunAfterPartialSkipsBilledStudents(t *testing.T) {
	f := newBillingFixture(t)
	f.seedGrade3Term()
	f.addGrade3Students(1, 2, 3)
	f.store.FailWrites(2, -1)

	first, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	require.NoError(t, err)
	require.Equal(t, model.RunStatusPartial, first.Status)

	f.store.FailWrites(2, 0)
	second, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, second.Status)
	assert.Equal(t, 1, second.BilledCount)
	assert.Equal(t, []int{1, 3}, second.AlreadyBilled)
	for _, id := range []int{1, 2, 3} {
		assertOwing(t, f.store, id, model.FeeTypeLevy, "USD", "50")
		assert.Len(t, f.store.LedgerFor(id), 2)
	}

	term, _ := f.store.Term(1)
	assert.True(t, term.Billed)
}

func TestBillTerm_SubsetAllowedOnBilledTerm(t *testing.T) {
	f := newBillingFixture(t)
	f.seedGrade3Term()
	f.addGrade3Students(1)

	_, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	require.NoError(t, err)

	res, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1, StudentIDs: []int{1, 99}})
	require.NoError(t, err)

	assert.Equal(t, 0, res.BilledCount)
	assert.Equal(t, []int{1}, res.AlreadyBilled)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 99, res.Skipped[0].StudentID)
	assertOwing(t, f.store, 1, model.FeeTypeLevy, "USD", "50")
}

func TestBillTerm_ClassRowOverridesGradeRow(t *testing.T) {
	f := newBillingFixture(t)
	f.seedGrade3Term()
	f.store.AddFeeSchedule(model.FeeScheduleRow{ID: 3, TermID: 1, Grade: "3", ClassName: strp("3A"), FeeType: model.FeeTypeLevy, Currency: "USD", Amount: d("70")})
	f.store.AddStudent(model.Student{ID: 1, Grade: "3", ClassName: " 3a "})
	f.store.AddStudent(model.Student{ID: 2, Grade: "3", ClassName: "3B"})

	_, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	require.NoError(t, err)

	assertOwing(t, f.store, 1, model.FeeTypeLevy, "USD", "70")
	assertOwing(t, f.store, 1, model.FeeTypeTuition, "USD", "100")
	assertOwing(t, f.store, 2, model.FeeTypeLevy, "USD", "50")
	assertOwing(t, f.store, 2, model.FeeTypeTuition, "USD", "100")
}

func TestBillTerm_ZeroClassRowExemptsClass(t *testing.T) {
	// GIVEN grade 3 levy 50 with class 3B exempt through a zero levy row
	f := newBillingFixture(t)
	f.seedGrade3Term()
	f.store.AddFeeSchedule(model.FeeScheduleRow{ID: 3, TermID: 1, Grade: "3", ClassName: strp("3B"), FeeType: model.FeeTypeLevy, Currency: "USD", Amount: d("0")})
	f.store.AddStudent(model.Student{ID: 1, Grade: "3", ClassName: "3B"})
	f.store.AddStudent(model.Student{ID: 2, Grade: "3", ClassName: "3A"})

	// WHEN the term is billed
	res, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	require.NoError(t, err)

	// THEN 3B pays tuition only and has no levy ledger row
	assert.Equal(t, 2, res.BilledCount)
	assertOwing(t, f.store, 1, model.FeeTypeLevy, "USD", "0")
	assertOwing(t, f.store, 1, model.FeeTypeTuition, "USD", "100")
	assertOwing(t, f.store, 2, model.FeeTypeLevy, "USD", "50")
	ledger := f.store.LedgerFor(1)
	require.Len(t, ledger, 1)
	assert.Equal(t, model.FeeTypeTuition, ledger[0].FeeType)
}

func TestBillTerm_AllZeroRowsSkipAsZeroCharge(t *testing.T) {
	f := newBillingFixture(t)
	f.seedGrade3Term()
	f.store.AddFeeSchedule(model.FeeScheduleRow{ID: 3, TermID: 1, Grade: "4", FeeType: model.FeeTypeLevy, Currency: "USD", Amount: d("0")})
	f.addGrade3Students(1)
	f.store.AddStudent(model.Student{ID: 2, Grade: "4"})

	res, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, res.Status)
	assert.Equal(t, 1, res.BilledCount)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, model.StudentIssue{StudentID: 2, Reason: reasonZeroCharge}, res.Skipped[0])
	assert.Empty(t, f.store.LedgerFor(2))
}

func TestBillTerm_FlatRatePath(t *testing.T) {
	f := newBillingFixture(t)
	f.store.AddTerm(model.Term{ID: 7, Currency: "USD", LevyBilled: dp("30"), TuitionBilled: dp("0")})
	f.store.AddStudent(model.Student{ID: 1, Grade: "1"})
	f.store.AddStudent(model.Student{ID: 2, Grade: "12"})

	res, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 7})
	require.NoError(t, err)

	assert.Equal(t, 2, res.BilledCount)
	assert.Equal(t, 2, res.LedgerEntries)
	assertOwing(t, f.store, 1, model.FeeTypeLevy, "USD", "30")
	assertOwing(t, f.store, 2, model.FeeTypeLevy, "USD", "30")
	assertOwing(t, f.store, 2, model.FeeTypeTuition, "USD", "0")
}

func TestBillTerm_NormalisesToBaseCurrency(t *testing.T) {
	f := newBillingFixture(t)
	f.store.AddTerm(model.Term{ID: 1})
	f.store.AddFeeSchedule(model.FeeScheduleRow{TermID: 1, Grade: "3", FeeType: model.FeeTypeTuition, Currency: "zar", Amount: d("1000")})
	f.store.SetExchangeRate("ZAR", d("0.055"))
	f.addGrade3Students(1)

	_, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	require.NoError(t, err)

	ledger := f.store.LedgerFor(1)
	require.Len(t, ledger, 1)
	assert.Equal(t, "ZAR", ledger[0].Currency)
	assert.True(t, d("55").Equal(ledger[0].BaseAmount))
	assert.True(t, d("0.055").Equal(ledger[0].ExchangeRate))
	assertOwing(t, f.store, 1, model.FeeTypeTuition, "ZAR", "1000")
}

func TestBillTerm_NotFoundWritesNothing(t *testing.T) {
	f := newBillingFixture(t)
	f.addGrade3Students(1)
	f.store.AddTerm(model.Term{ID: 2})
	f.store.AddTerm(model.Term{ID: 3})
	f.store.AddFeeSchedule(model.FeeScheduleRow{TermID: 3, Grade: "3", FeeType: model.FeeTypeLevy, Currency: "EUR", Amount: d("5")})

	tests := []struct {
		name   string
		termID int
		msg    string
	}{
		{"unknown term", 404, "term 404 not found"},
		{"no schedule", 2, "term 2 has no fee schedule"},
		{"no exchange rate", 3, "no exchange rate for currency EUR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: tt.termID})
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.Equal(t, tt.msg, err.Error())
		})
	}
	assert.Empty(t, f.store.Ledger())
}

func TestBillTerm_Validation(t *testing.T) {
	f := newBillingFixture(t)

	_, err := f.svc.BillTerm(context.Background(), BillTermRequest{})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "term_id is required", err.Error())

	_, err = f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1, StudentIDs: []int{3, -1}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBillTerm_EnumerationFailureIsFatal(t *testing.T) {
	f := newBillingFixture(t)
	f.seedGrade3Term()
	f.addGrade3Students(1)
	f.store.FailEnumerate(errors.New("connection reset"))

	res, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	assert.Nil(t, res)
	var fatal *FatalBatchError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "enumerate students", fatal.Stage)
	assert.Empty(t, f.store.Ledger())
	assert.False(t, f.locker.Held(config.CacheKey.BillingTermLockKey(1)))
}

func TestBillTerm_MarkBilledFailureIsFatal(t *testing.T) {
	f := newBillingFixture(t)
	f.seedGrade3Term()
	f.addGrade3Students(1)
	f.store.FailMarkBilled(errors.New("disk full"))

	res, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	var fatal *FatalBatchError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "mark term billed", fatal.Stage)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.BilledCount)

	term, _ := f.store.Term(1)
	assert.False(t, term.Billed)
}

func TestBillTerm_RejectsConcurrentRun(t *testing.T) {
	f := newBillingFixture(t)
	f.seedGrade3Term()
	f.addGrade3Students(1)

	release, err := f.locker.Acquire(context.Background(), config.CacheKey.BillingTermLockKey(1), time.Minute)
	require.NoError(t, err)
	defer release(context.Background())

	_, err = f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, f.store.Ledger())
}

func TestBillTerm_ReplaysIdempotencyKey(t *testing.T) {
	f := newBillingFixture(t)
	f.seedGrade3Term()
	f.addGrade3Students(1)
	key := uuid.New()

	first, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1, RunID: key})
	require.NoError(t, err)
	assert.Equal(t, key, first.RunID)

	again, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1, RunID: key})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.BilledCount, again.BilledCount)
	assert.Len(t, f.store.Ledger(), 2)

	_, err = f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 2, RunID: key})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBillTerm_StudentDeactivatedBeforeWrite(t *testing.T) {
	f := newBillingFixture(t, func(c *config.Config) { c.Billing.Workers = 1 })
	f.seedGrade3Term()
	f.addGrade3Students(1, 2)
	f.store.OnWrite = func(id int) {
		if id == 2 {
			f.store.SetStatus(2, model.StudentStatusGraduated)
		}
	}

	res, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, res.Status)
	assert.Equal(t, 1, res.BilledCount)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, model.StudentIssue{StudentID: 2, Reason: reasonNoLongerActive}, res.Skipped[0])
	assert.Empty(t, f.store.LedgerFor(2))
}

func TestBillTerm_CancellationReportsUnfinishedStudents(t *testing.T) {
	f := newBillingFixture(t, func(c *config.Config) { c.Billing.Workers = 1 })
	f.seedGrade3Term()
	f.addGrade3Students(1, 2, 3, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.store.OnWrite = func(id int) {
		if id == 2 {
			cancel()
		}
	}

	res, err := f.svc.BillTerm(ctx, BillTermRequest{TermID: 1})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusPartial, res.Status)
	assert.Equal(t, 1, res.BilledCount)
	assert.Equal(t, []int{2, 3, 4}, res.ErrorIDs())
	for _, e := range res.Errors {
		assert.True(t, strings.Contains(e.Reason, context.Canceled.Error()), e.Reason)
	}

	run, err := f.svc.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPartial, run.Status)
	assert.NotNil(t, run.FinishedAt)
}

func TestBillTerm_AtomicModeRollsBackEverything(t *testing.T) {
	f := newBillingFixture(t, func(c *config.Config) { c.Billing.Mode = string(model.BillingModeAtomic) })
	f.seedGrade3Term()
	f.addGrade3Students(1, 2, 3)
	f.store.FailWrites(2, -1)

	res, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	require.NoError(t, err)

	assert.Equal(t, model.BillingModeAtomic, res.Mode)
	assert.Equal(t, model.RunStatusFailed, res.Status)
	assert.Equal(t, 0, res.BilledCount)
	assert.Equal(t, []int{1, 2, 3}, res.ErrorIDs())
	assert.Contains(t, res.Errors[1].Reason, "write failed")
	assert.Contains(t, res.Errors[0].Reason, "batch rolled back")
	assert.Empty(t, f.store.Ledger())
	for _, id := range []int{1, 2, 3} {
		assertOwing(t, f.store, id, model.FeeTypeLevy, "USD", "0")
	}
}

func TestBillTerm_AtomicModeSuccess(t *testing.T) {
	f := newBillingFixture(t, func(c *config.Config) { c.Billing.Mode = string(model.BillingModeAtomic) })
	f.seedGrade3Term()
	f.addGrade3Students(1, 2, 3)

	res, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, res.Status)
	assert.Equal(t, 3, res.BilledCount)
	assert.Equal(t, 6, res.LedgerEntries)
}

func TestBillTerm_PublishesProgressAndPersistsRun(t *testing.T) {
	f := newBillingFixture(t)
	f.seedGrade3Term()
	f.addGrade3Students(1, 2, 3)
	f.store.FailWrites(3, -1)

	res, err := f.svc.BillTerm(context.Background(), BillTermRequest{TermID: 1})
	require.NoError(t, err)

	events := f.progress.Events()
	require.Len(t, events, 4)
	last := events[len(events)-1]
	assert.Equal(t, model.ProgressFinished, last.Outcome)
	assert.Equal(t, model.RunStatusPartial, last.Status)

	outcomes := map[string]int{}
	for _, e := range events[:3] {
		outcomes[e.Outcome]++
		assert.Equal(t, res.RunID, e.RunID)
		assert.Equal(t, 3, e.Total)
	}
	assert.Equal(t, 2, outcomes[model.ProgressBilled])
	assert.Equal(t, 1, outcomes[model.ProgressFailed])

	runs, page, err := f.svc.ListRuns(context.Background(), nil, 1, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, page.TotalItems)
	assert.Equal(t, res.RunID, runs[0].RunID)
	assert.Equal(t, []int{3}, runs[0].ErrorIDs())
}

func TestGetRun_NotFound(t *testing.T) {
	f := newBillingFixture(t)
	_, err := f.svc.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
