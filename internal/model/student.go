package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// StudentStatus tracks whether a student is still billed and promoted.
type StudentStatus string

const (
	StudentStatusActive    StudentStatus = "active"
	StudentStatusGraduated StudentStatus = "graduated"
)

// Student represents an enrolled student with running owing balances.
type Student struct {
	ID        int           `json:"id"`
	Name      string        `json:"name"`
	Grade     string        `json:"grade"`
	ClassName string        `json:"class_name,omitempty"`
	Status    StudentStatus `json:"status"`
	Sponsor   string        `json:"sponsor,omitempty"`
	Contact   string        `json:"contact,omitempty"`
	Balances  []Balance     `json:"balances"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Owing returns the student's balance for a fee type and currency, zero if none.
func (s *Student) Owing(feeType FeeType, currency string) decimal.Decimal {
	for _, b := range s.Balances {
		if b.FeeType == feeType && b.Currency == currency {
			return b.Owing
		}
	}
	return decimal.Zero
}

// StudentGrade is the (id, grade) pair snapshotted before a rollover.
type StudentGrade struct {
	ID    int
	Grade string
}

// StudentDetail is a student together with their most recent ledger rows.
type StudentDetail struct {
	Student
	Ledger []FeeCharge `json:"ledger"`
}
