// Package amortization turns loan terms into an installment schedule.
//
// Two interest policies are supported. Under the declining-balance (French)
// system every installment has the same amount and interest accrues on the
// remaining balance. Under the flat system the interest is charged once on the
// original principal and spread evenly across the installments.
//
// The annual rate is taken as already expressed on a monthly base: the period
// rate is rate/100, divided by 4 for weekly and by 2 for biweekly plans. Due
// dates advance by a fixed 7, 15 or 30 days, not by calendar months.
//
// Every monetary value is rounded to cents row by row.
package amortization

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcclellann/prestaya/pkg/models"
	"github.com/shopspring/decimal"
)

// ErrInvalidTerms is returned when the terms cannot produce a schedule.
var ErrInvalidTerms = errors.New("invalid loan terms")

const centPlaces = 2

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// ResidualPolicy decides what happens to the cents left over on the final
// declining-balance row once every row has been rounded.
type ResidualPolicy int

const (
	// AbsorbResidual moves the leftover into the last row's principal so the
	// schedule ends at exactly zero. The last amount may differ from the level
	// amount by a few cents.
	AbsorbResidual ResidualPolicy = iota
	// PreserveDrift keeps every amount level and lets the final balance carry
	// the rounding drift (clamped at zero).
	PreserveDrift
)

type options struct {
	residual ResidualPolicy
}

// Option tunes ComputeSchedule.
type Option func(*options)

// WithResidual sets the residual policy. The default is AbsorbResidual.
func WithResidual(p ResidualPolicy) Option {
	return func(o *options) { o.residual = p }
}

// PeriodRate converts an annual percentage into the rate of one period.
func PeriodRate(annualRatePercent decimal.Decimal, freq models.Frequency) decimal.Decimal {
	r := annualRatePercent.Div(hundred)
	switch freq {
	case models.FrequencyWeekly:
		return r.Div(decimal.NewFromInt(4))
	case models.FrequencyBiweekly:
		return r.Div(decimal.NewFromInt(2))
	}
	return r
}

// PeriodDays is the fixed number of days between two due dates.
func PeriodDays(freq models.Frequency) int {
	switch freq {
	case models.FrequencyWeekly:
		return 7
	case models.FrequencyBiweekly:
		return 15
	}
	return 30
}

// LevelPayment is the constant installment of the French system,
// P*r*(1+r)^n / ((1+r)^n - 1), or P/n when r is zero. It is not rounded.
func LevelPayment(principal, rate decimal.Decimal, n int) decimal.Decimal {
	count := decimal.NewFromInt(int64(n))
	if rate.IsZero() {
		return principal.Div(count)
	}
	factor := one.Add(rate).Pow(count)
	return principal.Mul(rate.Mul(factor)).Div(factor.Sub(one))
}

// Validate checks the terms and fills the default amortization system.
func Validate(terms *models.LoanTerms) error {
	if !terms.Principal.IsPositive() {
		return fmt.Errorf("%w: principal must be positive, got %s", ErrInvalidTerms, terms.Principal)
	}
	if terms.NumberOfInstallments <= 0 {
		return fmt.Errorf("%w: number of installments must be positive, got %d", ErrInvalidTerms, terms.NumberOfInstallments)
	}
	if terms.AnnualRatePercent.IsNegative() {
		return fmt.Errorf("%w: rate must not be negative, got %s", ErrInvalidTerms, terms.AnnualRatePercent)
	}
	if !terms.Frequency.Valid() {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidTerms, terms.Frequency)
	}
	if terms.System == "" {
		terms.System = models.SystemDecliningBalance
	}
	if !terms.System.Valid() {
		return fmt.Errorf("%w: unknown amortization system %q", ErrInvalidTerms, terms.System)
	}
	return nil
}

// ComputeSchedule returns exactly terms.NumberOfInstallments pending rows.
// The rows carry no IDs; the caller assigns them when the loan is stored.
func ComputeSchedule(terms models.LoanTerms, opts ...Option) ([]models.Installment, error) {
	if err := Validate(&terms); err != nil {
		return nil, err
	}
	o := options{residual: AbsorbResidual}
	for _, opt := range opts {
		opt(&o)
	}

	start := midnight(terms.StartDate)
	days := PeriodDays(terms.Frequency)
	due := func(i int) time.Time { return start.AddDate(0, 0, i*days) }

	if terms.System == models.SystemFlat {
		return flatSchedule(terms, due), nil
	}
	return decliningSchedule(terms, due, o.residual), nil
}

func decliningSchedule(terms models.LoanTerms, due func(int) time.Time, policy ResidualPolicy) []models.Installment {
	n := terms.NumberOfInstallments
	rate := PeriodRate(terms.AnnualRatePercent, terms.Frequency)
	amount := LevelPayment(terms.Principal, rate, n).Round(centPlaces)

	rows := make([]models.Installment, 0, n)
	balance := terms.Principal.Round(centPlaces)
	for i := 1; i <= n; i++ {
		interest := balance.Mul(rate).Round(centPlaces)
		principal := amount.Sub(interest)
		rowAmount := amount

		if i == n && policy == AbsorbResidual {
			principal = balance
			rowAmount = principal.Add(interest)
		}

		balance = balance.Sub(principal)
		if balance.IsNegative() {
			balance = decimal.Zero
		}

		rows = append(rows, models.Installment{
			Number:       i,
			Amount:       rowAmount,
			Principal:    principal,
			Interest:     interest,
			BalanceAfter: balance,
			DueDate:      due(i),
			Status:       models.InstallmentStatusPending,
			LateFee:      decimal.Zero,
		})
	}
	return rows
}

// flatSchedule keeps every row identical; the rounding drift of P/n stays in
// the final balance.
func flatSchedule(terms models.LoanTerms, due func(int) time.Time) []models.Installment {
	n := terms.NumberOfInstallments
	count := decimal.NewFromInt(int64(n))
	totalInterest := terms.Principal.Mul(terms.AnnualRatePercent).Div(hundred)

	principal := terms.Principal.Div(count).Round(centPlaces)
	interest := totalInterest.Div(count).Round(centPlaces)
	amount := terms.Principal.Add(totalInterest).Div(count).Round(centPlaces)

	rows := make([]models.Installment, 0, n)
	balance := terms.Principal.Round(centPlaces)
	for i := 1; i <= n; i++ {
		balance = balance.Sub(principal)
		if balance.IsNegative() {
			balance = decimal.Zero
		}
		rows = append(rows, models.Installment{
			Number:       i,
			Amount:       amount,
			Principal:    principal,
			Interest:     interest,
			BalanceAfter: balance,
			DueDate:      due(i),
			Status:       models.InstallmentStatusPending,
			LateFee:      decimal.Zero,
		})
	}
	return rows
}

// Summary totals a schedule.
type Summary struct {
	Amount    decimal.Decimal `json:"total_amount"`
	Principal decimal.Decimal `json:"total_principal"`
	Interest  decimal.Decimal `json:"total_interest"`
	EndDate   time.Time       `json:"end_date"`
}

// Totals sums the amounts of rows. EndDate is the last row's due date.
func Totals(rows []models.Installment) Summary {
	s := Summary{Amount: decimal.Zero, Principal: decimal.Zero, Interest: decimal.Zero}
	for _, r := range rows {
		s.Amount = s.Amount.Add(r.Amount)
		s.Principal = s.Principal.Add(r.Principal)
		s.Interest = s.Interest.Add(r.Interest)
	}
	if len(rows) > 0 {
		s.EndDate = rows[len(rows)-1].DueDate
	}
	return s
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
