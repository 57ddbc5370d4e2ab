package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stemsi/bursar-backend/internal/model"
)

type classKey struct {
	grade string
	class string
}

// FeeSchedule resolves the charges of one term for a student's grade and class.
type FeeSchedule struct {
	flatPath bool
	flat     []model.Charge
	byGrade  map[string][]model.FeeScheduleRow
	byClass  map[classKey][]model.FeeScheduleRow
	rates    map[string]decimal.Decimal
}

// BuildFeeSchedule validates a term's schedule rows, or its flat rate when the
// term has no rows, against the known exchange rates.
func BuildFeeSchedule(term *model.Term, rows []model.FeeScheduleRow, rates map[string]decimal.Decimal, baseCurrency string) (*FeeSchedule, error) {
	if len(rows) == 0 && !term.HasFlatRate() {
		return nil, notFoundErr("term %d has no fee schedule", term.ID)
	}

	fs := &FeeSchedule{
		byGrade: make(map[string][]model.FeeScheduleRow),
		byClass: make(map[classKey][]model.FeeScheduleRow),
		rates:   map[string]decimal.Decimal{strings.ToUpper(baseCurrency): decimal.NewFromInt(1)},
	}

	need := func(currency string) error {
		if _, ok := fs.rates[currency]; ok {
			return nil
		}
		rate, ok := rates[currency]
		if !ok || !rate.IsPositive() {
			return notFoundErr("no exchange rate for currency %s", currency)
		}
		fs.rates[currency] = rate
		return nil
	}

	if len(rows) == 0 {
		fs.flatPath = true
		currency := strings.ToUpper(strings.TrimSpace(term.Currency))
		if currency == "" {
			currency = strings.ToUpper(baseCurrency)
		}
		if err := need(currency); err != nil {
			return nil, err
		}
		flat := []struct {
			feeType model.FeeType
			amount  *decimal.Decimal
		}{
			{model.FeeTypeLevy, term.LevyBilled},
			{model.FeeTypeTuition, term.TuitionBilled},
		}
		for _, f := range flat {
			if f.amount == nil || f.amount.IsZero() {
				continue
			}
			if f.amount.IsNegative() {
				return nil, &FatalBatchError{Stage: "fee schedule", Err: fmt.Errorf("term %d has a negative flat %s amount", term.ID, f.feeType)}
			}
			fs.flat = append(fs.flat, fs.charge(f.feeType, currency, *f.amount))
		}
		return fs, nil
	}

	for _, r := range rows {
		if r.Amount.IsNegative() {
			return nil, &FatalBatchError{Stage: "fee schedule", Err: fmt.Errorf("schedule row %d has a negative amount", r.ID)}
		}
		r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
		// A zero row still overrides, but never converts, so it needs no rate.
		if !r.Amount.IsZero() {
			if err := need(r.Currency); err != nil {
				return nil, err
			}
		}
		grade := strings.TrimSpace(r.Grade)
		if r.ClassName != nil && strings.TrimSpace(*r.ClassName) != "" {
			k := classKey{grade: grade, class: normalizeClass(*r.ClassName)}
			fs.byClass[k] = append(fs.byClass[k], r)
			continue
		}
		fs.byGrade[grade] = append(fs.byGrade[grade], r)
	}
	return fs, nil
}

// IsFlat reports whether every student gets the term's flat amounts.
func (fs *FeeSchedule) IsFlat() bool {
	return fs.flatPath
}

// ChargesFor returns the non-zero charges for a student. A class row replaces
// the grade-wide rows of the same fee type, including a zero class row that
// exempts the class. A student matching no row gets a *ConfigurationGapError;
// one whose matched rows total zero gets an empty slice.
func (fs *FeeSchedule) ChargesFor(s model.Student) ([]model.Charge, error) {
	if fs.flatPath {
		out := make([]model.Charge, len(fs.flat))
		copy(out, fs.flat)
		return out, nil
	}

	grade := strings.TrimSpace(s.Grade)
	gradeRows := fs.byGrade[grade]
	classRows := fs.byClass[classKey{grade: grade, class: normalizeClass(s.ClassName)}]
	if len(gradeRows) == 0 && len(classRows) == 0 {
		return nil, &ConfigurationGapError{StudentID: s.ID, Grade: s.Grade, ClassName: s.ClassName}
	}

	overridden := make(map[model.FeeType]bool, len(classRows))
	for _, r := range classRows {
		overridden[r.FeeType] = true
	}

	type key struct {
		feeType  model.FeeType
		currency string
	}
	totals := make(map[key]decimal.Decimal)
	add := func(r model.FeeScheduleRow) {
		k := key{r.FeeType, r.Currency}
		totals[k] = totals[k].Add(r.Amount)
	}
	for _, r := range gradeRows {
		if !overridden[r.FeeType] {
			add(r)
		}
	}
	for _, r := range classRows {
		add(r)
	}

	charges := make([]model.Charge, 0, len(totals))
	for k, amount := range totals {
		if amount.IsZero() {
			continue
		}
		charges = append(charges, fs.charge(k.feeType, k.currency, amount))
	}
	sort.Slice(charges, func(i, j int) bool {
		if charges[i].FeeType != charges[j].FeeType {
			return charges[i].FeeType < charges[j].FeeType
		}
		return charges[i].Currency < charges[j].Currency
	})
	return charges, nil
}

func (fs *FeeSchedule) charge(feeType model.FeeType, currency string, amount decimal.Decimal) model.Charge {
	rate := fs.rates[currency]
	return model.Charge{
		FeeType:      feeType,
		Currency:     currency,
		Amount:       amount,
		BaseAmount:   amount.Mul(rate).Round(2),
		ExchangeRate: rate,
	}
}

func normalizeClass(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
