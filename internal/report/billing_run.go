// Package report renders billing runs as spreadsheets.
package report

import (
	"fmt"
	"time"

	"github.com/stemsi/bursar-backend/internal/model"
	"github.com/xuri/excelize/v2"
)

// Sheet names of a billing run workbook.
const (
	SheetSummary = "Summary"
	SheetErrors  = "Errors"
	SheetSkipped = "Skipped"
	SheetAlready = "Already billed"
)

// ContentType is the MIME type of an xlsx workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// FileName returns the download name for a run's workbook.
func FileName(run *model.BillingRun) string {
	return fmt.Sprintf("billing_run_term%d_%s.xlsx", run.TermID, run.StartedAt.UTC().Format("20060102_150405"))
}

// BillingRunWorkbook builds a workbook with a summary sheet and one sheet per
// student list of the run. The caller must close the returned file.
func BillingRunWorkbook(run *model.BillingRun) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		f.Close()
		return nil, err
	}

	finished := ""
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	summary := [][]interface{}{
		{"Run ID", run.RunID.String()},
		{"Term ID", run.TermID},
		{"Status", string(run.Status)},
		{"Mode", string(run.Mode)},
		{"Subset", run.Subset},
		{"Students billed", run.BilledCount},
		{"Ledger entries", run.LedgerEntries},
		{"Already billed", len(run.AlreadyBilled)},
		{"Skipped", len(run.Skipped)},
		{"Errors", len(run.Errors)},
		{"Started at", run.StartedAt.UTC().Format(time.RFC3339)},
		{"Finished at", finished},
	}
	if err := writeRows(f, SheetSummary, nil, summary); err != nil {
		f.Close()
		return nil, err
	}

	if err := issueSheet(f, SheetErrors, run.Errors); err != nil {
		f.Close()
		return nil, err
	}
	if err := issueSheet(f, SheetSkipped, run.Skipped); err != nil {
		f.Close()
		return nil, err
	}

	if _, err := f.NewSheet(SheetAlready); err != nil {
		f.Close()
		return nil, err
	}
	already := make([][]interface{}, 0, len(run.AlreadyBilled))
	for _, id := range run.AlreadyBilled {
		already = append(already, []interface{}{id})
	}
	if err := writeRows(f, SheetAlready, []string{"Student ID"}, already); err != nil {
		f.Close()
		return nil, err
	}

	return f, nil
}

func issueSheet(f *excelize.File, name string, issues []model.StudentIssue) error {
	if _, err := f.NewSheet(name); err != nil {
		return err
	}
	rows := make([][]interface{}, 0, len(issues))
	for _, is := range issues {
		rows = append(rows, []interface{}{is.StudentID, is.Reason})
	}
	return writeRows(f, name, []string{"Student ID", "Reason"}, rows)
}

func writeRows(f *excelize.File, sheet string, header []string, rows [][]interface{}) error {
	r := 1
	if len(header) > 0 {
		for i, h := range header {
			cell, _ := excelize.CoordinatesToCellName(i+1, r)
			if err := f.SetCellValue(sheet, cell, h); err != nil {
				return err
			}
		}
		r++
	}
	for _, row := range rows {
		for i, v := range row {
			cell, _ := excelize.CoordinatesToCellName(i+1, r)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
		r++
	}
	return nil
}
