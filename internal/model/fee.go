package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FeeType identifies one running balance on a student.
type FeeType string

const (
	FeeTypeLevy    FeeType = "levy"
	FeeTypeTuition FeeType = "tuition"
)

// ChargeKind separates system-generated billing rows from manual payments.
type ChargeKind string

const (
	ChargeKindBilling ChargeKind = "billing"
	ChargeKindPayment ChargeKind = "payment"
)

// Balance is one running owing total of a student.
type Balance struct {
	FeeType  FeeType         `json:"fee_type"`
	Currency string          `json:"currency"`
	Owing    decimal.Decimal `json:"owing"`
}

// FeeScheduleRow is one charge amount of a term fee schedule. A nil ClassName
// applies to the whole grade.
type FeeScheduleRow struct {
	ID        int             `json:"id"`
	TermID    int             `json:"term_id"`
	Grade     string          `json:"grade"`
	ClassName *string         `json:"class_name,omitempty"`
	FeeType   FeeType         `json:"fee_type"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
}

// Charge is one resolved, non-zero amount to add to a student balance.
type Charge struct {
	FeeType      FeeType         `json:"fee_type"`
	Currency     string          `json:"currency"`
	Amount       decimal.Decimal `json:"amount"`
	BaseAmount   decimal.Decimal `json:"base_amount"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
}

// StudentCharges is the consistency unit of billing: the balance increases
// and ledger rows of one student, written together or not at all.
type StudentCharges struct {
	StudentID int
	TermID    int
	RunID     uuid.UUID
	ChargedAt time.Time
	Charges   []Charge
}

// ChargeOutcome reports what a StudentCharges write actually did.
// Existing counts charges whose ledger row was already present. Inactive is
// set when the student stopped being active before the write; nothing is
// written then.
type ChargeOutcome struct {
	StudentID int       `json:"student_id"`
	Inserted  int       `json:"inserted"`
	Existing  int       `json:"existing"`
	Inactive  bool      `json:"inactive,omitempty"`
	Balances  []Balance `json:"balances,omitempty"`
}

// FeeCharge is an immutable ledger row.
type FeeCharge struct {
	ID           int64           `json:"id"`
	StudentID    int             `json:"student_id"`
	TermID       *int            `json:"term_id,omitempty"`
	FeeType      FeeType         `json:"fee_type"`
	Currency     string          `json:"currency"`
	Amount       decimal.Decimal `json:"amount"`
	BaseAmount   decimal.Decimal `json:"base_amount"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Kind         ChargeKind      `json:"kind"`
	RunID        *uuid.UUID      `json:"run_id,omitempty"`
	ChargedAt    time.Time       `json:"charged_at"`
}
