package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Frequency is how often installments fall due.
type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	}
	return false
}

// AmortizationSystem selects how interest accrues over the schedule.
type AmortizationSystem string

const (
	SystemDecliningBalance AmortizationSystem = "declining_balance" // French, level payment
	SystemFlat             AmortizationSystem = "flat"              // interest on the original principal
)

// Valid reports whether s is a known amortization system.
func (s AmortizationSystem) Valid() bool {
	return s == SystemDecliningBalance || s == SystemFlat
}

// LoanTerms are the inputs of a schedule computation.
type LoanTerms struct {
	Principal            decimal.Decimal    `json:"principal"`
	AnnualRatePercent    decimal.Decimal    `json:"annual_rate_percent"`
	NumberOfInstallments int                `json:"number_of_installments"`
	Frequency            Frequency          `json:"frequency"`
	StartDate            time.Time          `json:"start_date"`
	System               AmortizationSystem `json:"amortization_system"`
}

type LoanStatus string

const (
	LoanStatusActive LoanStatus = "active"
	LoanStatusPaid   LoanStatus = "paid"
)

type Loan struct {
	ID                   uuid.UUID          `json:"id"`
	CustomerKey          string             `json:"customer_key"` // Link to external customer system
	Principal            decimal.Decimal    `json:"principal"`
	AnnualRatePercent    decimal.Decimal    `json:"annual_rate_percent"`
	NumberOfInstallments int                `json:"number_of_installments"`
	Frequency            Frequency          `json:"frequency"`
	System               AmortizationSystem `json:"amortization_system"`
	StartDate            time.Time          `json:"start_date"`
	EndDate              time.Time          `json:"end_date"` // Due date of the last installment
	Balance              decimal.Decimal    `json:"balance"`  // Outstanding principal
	Status               LoanStatus         `json:"status"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
	Installments         []Installment      `json:"installments,omitempty"`
}

// Terms returns the terms the loan's schedule was computed from.
func (l *Loan) Terms() LoanTerms {
	return LoanTerms{
		Principal:            l.Principal,
		AnnualRatePercent:    l.AnnualRatePercent,
		NumberOfInstallments: l.NumberOfInstallments,
		Frequency:            l.Frequency,
		StartDate:            l.StartDate,
		System:               l.System,
	}
}

type InstallmentStatus string

const (
	InstallmentStatusPending InstallmentStatus = "pending"
	InstallmentStatusPaid    InstallmentStatus = "paid"
)

// Installment is one row of an amortization schedule.
type Installment struct {
	ID           uuid.UUID         `json:"id"`
	LoanID       uuid.UUID         `json:"loan_id"`
	Number       int               `json:"number"`
	Amount       decimal.Decimal   `json:"amount"`
	Principal    decimal.Decimal   `json:"principal"`
	Interest     decimal.Decimal   `json:"interest"`
	BalanceAfter decimal.Decimal   `json:"balance_after"`
	DueDate      time.Time         `json:"due_date"`
	Status       InstallmentStatus `json:"status"`
	PaidAt       *time.Time        `json:"paid_at,omitempty"`
	LateFee      decimal.Decimal   `json:"late_fee"` // Frozen at settlement
}

// Pending reports whether the installment still awaits settlement.
func (i *Installment) Pending() bool {
	return i.Status != InstallmentStatusPaid
}

// Payment records one settlement of an installment.
type Payment struct {
	ID               uuid.UUID       `json:"id"`
	LoanID           uuid.UUID       `json:"loan_id"`
	InstallmentID    uuid.UUID       `json:"installment_id"`
	AmountTendered   decimal.Decimal `json:"amount_tendered"`
	LateFeeApplied   decimal.Decimal `json:"late_fee_applied"`
	InterestApplied  decimal.Decimal `json:"interest_applied"`
	PrincipalApplied decimal.Decimal `json:"principal_applied"`
	Method           string          `json:"method"`
	PaidAt           time.Time       `json:"paid_at"`
}

const PaymentMethodCash = "cash"

// LateFeeConfig holds the late-fee parameters. The zero value charges nothing.
type LateFeeConfig struct {
	GraceDays            int             `json:"grace_days"`
	DailyLateRatePercent decimal.Decimal `json:"daily_late_rate_percent"`
}

// Setting is one entry of the keyed configuration collection.
type Setting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PortfolioSummary aggregates the figures shown on the portfolio dashboard.
type PortfolioSummary struct {
	AsOf            time.Time       `json:"as_of"`
	ActiveLoans     int             `json:"active_loans"`
	PaidLoans       int             `json:"paid_loans"`
	DelinquentLoans int             `json:"delinquent_loans"`
	PortfolioValue  decimal.Decimal `json:"portfolio_value"`
	ExpectedToday   decimal.Decimal `json:"expected_today"`
	PaidToday       int             `json:"paid_today"` // Installments settled on AsOf
}
