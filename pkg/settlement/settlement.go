// Package settlement applies a tendered cash amount to one installment.
//
// A payment is split in a fixed order: the late fee in full, then the
// installment's interest in full, then whatever remains to principal. The
// remainder is not floored, so an amount smaller than fee plus interest yields
// a negative principal share and raises the outstanding balance. That is
// recorded as is and logged as a warning.
package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/prestaya/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInstallmentAlreadyPaid = errors.New("installment already paid")
	ErrLoanNotActive          = errors.New("loan is not active")
	ErrInstallmentMismatch    = errors.New("installment does not belong to loan")
)

var hundred = decimal.NewFromInt(100)

// Result holds the three records a settlement produces. They must be
// persisted together.
type Result struct {
	Payment     models.Payment     `json:"payment"`
	Installment models.Installment `json:"installment"`
	Loan        models.Loan        `json:"loan"`
}

// Quote is what a borrower owes on an installment at a given date.
type Quote struct {
	InstallmentNumber int             `json:"installment_number"`
	DaysLate          int             `json:"days_late"`
	LateFee           decimal.Decimal `json:"late_fee"`
	Amount            decimal.Decimal `json:"amount"`
	SuggestedTotal    decimal.Decimal `json:"suggested_total"`
}

// Engine settles installments. It holds no state besides its logger.
type Engine struct {
	logger *zap.Logger
}

func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// DaysLate counts whole calendar days from due to asOf. Times of day are
// ignored; the result is never negative.
func DaysLate(due, asOf time.Time) int {
	days := int(calendarDay(asOf).Sub(calendarDay(due)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// LateFee is the fee accrued on inst at asOf. Nothing accrues within the grace
// period; past it every late day is charged, including the grace days. The
// fee has no ceiling.
func LateFee(inst models.Installment, cfg models.LateFeeConfig, asOf time.Time) decimal.Decimal {
	days := DaysLate(inst.DueDate, asOf)
	if days <= cfg.GraceDays {
		return decimal.Zero
	}
	return inst.Amount.
		Mul(cfg.DailyLateRatePercent.Div(hundred)).
		Mul(decimal.NewFromInt(int64(days))).
		Round(2)
}

// Overdue reports whether inst is still pending after its due date.
func Overdue(inst models.Installment, asOf time.Time) bool {
	return inst.Pending() && DaysLate(inst.DueDate, asOf) > 0
}

// Quote prices inst at asOf. Paid installments report the fee frozen at
// settlement.
func (e *Engine) Quote(inst models.Installment, cfg models.LateFeeConfig, asOf time.Time) Quote {
	fee := inst.LateFee
	if inst.Pending() {
		fee = LateFee(inst, cfg, asOf)
	}
	return Quote{
		InstallmentNumber: inst.Number,
		DaysLate:          DaysLate(inst.DueDate, asOf),
		LateFee:           fee,
		Amount:            inst.Amount,
		SuggestedTotal:    inst.Amount.Add(fee),
	}
}

// Settle applies amount to inst as of asOf. The arguments are left untouched;
// the updated copies are returned in the Result.
func (e *Engine) Settle(inst models.Installment, loan models.Loan, cfg models.LateFeeConfig, amount decimal.Decimal, asOf time.Time) (*Result, error) {
	if inst.LoanID != loan.ID {
		return nil, fmt.Errorf("%w: installment %d of loan %s, got loan %s", ErrInstallmentMismatch, inst.Number, inst.LoanID, loan.ID)
	}
	if !inst.Pending() {
		return nil, fmt.Errorf("%w: installment %d of loan %s", ErrInstallmentAlreadyPaid, inst.Number, loan.ID)
	}
	if loan.Status != models.LoanStatusActive {
		return nil, fmt.Errorf("%w: loan %s is %s", ErrLoanNotActive, loan.ID, loan.Status)
	}

	fee := LateFee(inst, cfg, asOf)
	principal := amount.Sub(fee).Sub(inst.Interest)
	if principal.IsNegative() {
		e.logger.Warn("tendered amount does not cover late fee and interest",
			zap.String("op", "settlement.Settle"),
			zap.String("loan_id", loan.ID.String()),
			zap.Int("installment", inst.Number),
			zap.String("amount", amount.String()),
			zap.String("principal_applied", principal.String()),
		)
	}

	payment := models.Payment{
		ID:               uuid.New(),
		LoanID:           loan.ID,
		InstallmentID:    inst.ID,
		AmountTendered:   amount,
		LateFeeApplied:   fee,
		InterestApplied:  inst.Interest,
		PrincipalApplied: principal,
		Method:           models.PaymentMethodCash,
		PaidAt:           asOf,
	}

	paidAt := asOf
	inst.Status = models.InstallmentStatusPaid
	inst.PaidAt = &paidAt
	inst.LateFee = fee

	balance := loan.Balance.Sub(principal)
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	loan.Balance = balance
	loan.Status = models.LoanStatusActive
	if !balance.IsPositive() {
		loan.Status = models.LoanStatusPaid
	}
	loan.UpdatedAt = asOf
	loan.Installments = replaceInstallment(loan.Installments, inst)

	e.logger.Debug("installment settled",
		zap.String("op", "settlement.Settle"),
		zap.String("loan_id", loan.ID.String()),
		zap.Int("installment", inst.Number),
		zap.String("late_fee", fee.String()),
		zap.String("balance", balance.String()),
		zap.String("status", string(loan.Status)),
	)

	return &Result{Payment: payment, Installment: inst, Loan: loan}, nil
}

// replaceInstallment returns a copy of rows with inst swapped in.
func replaceInstallment(rows []models.Installment, inst models.Installment) []models.Installment {
	if len(rows) == 0 {
		return rows
	}
	out := make([]models.Installment, len(rows))
	copy(out, rows)
	for i := range out {
		if out[i].Number == inst.Number {
			out[i] = inst
		}
	}
	return out
}

// BusinessDay is the calendar date of the instant t as seen in loc, carried as
// midnight UTC like every other date in the ledger. A nil loc means UTC.
func BusinessDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return calendarDay(t.In(loc))
}

func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
