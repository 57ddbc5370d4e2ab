package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/bursar-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestBillingRunWorkbook(t *testing.T) {
	finished := time.Date(2026, 9, 1, 8, 5, 0, 0, time.UTC)
	run := &model.BillingRun{
		BillingResult: model.BillingResult{
			RunID:         uuid.New(),
			TermID:        4,
			Status:        model.RunStatusPartial,
			Mode:          model.BillingModePerStudent,
			BilledCount:   2,
			LedgerEntries: 4,
			AlreadyBilled: []int{9},
			Skipped:       []model.StudentIssue{{StudentID: 7, Reason: "no fee configuration"}},
			Errors:        []model.StudentIssue{{StudentID: 3412, Reason: "write failed after 3 attempts: timeout"}},
		},
		StartedAt:  time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC),
		FinishedAt: &finished,
	}

	f, err := BillingRunWorkbook(run)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())

	// Re-open what a client would download.
	got, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer got.Close()

	assert.Equal(t, []string{SheetSummary, SheetErrors, SheetSkipped, SheetAlready}, got.GetSheetList())

	status, err := got.GetCellValue(SheetSummary, "B3")
	require.NoError(t, err)
	assert.Equal(t, "partial", status)

	rows, err := got.GetRows(SheetErrors)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Student ID", "Reason"}, rows[0])
	assert.Equal(t, []string{"3412", "write failed after 3 attempts: timeout"}, rows[1])

	rows, err = got.GetRows(SheetAlready)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Student ID"}, {"9"}}, rows)

	assert.Equal(t, "billing_run_term4_20260901_080000.xlsx", FileName(run))
}
