package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/prestaya/pkg/models"
	"github.com/mcclellann/prestaya/pkg/settlement"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Delinquency is one overdue installment of an active loan.
type Delinquency struct {
	LoanID            uuid.UUID       `json:"loan_id"`
	InstallmentNumber int             `json:"installment_number"`
	DueDate           time.Time       `json:"due_date"`
	DaysLate          int             `json:"days_late"`
	Amount            decimal.Decimal `json:"amount"`
	LateFee           decimal.Decimal `json:"late_fee"`
}

// Delinquencies lists the overdue installments of active loans at asOf, with
// the late fee they would carry if paid that day.
func (l *Ledger) Delinquencies(ctx context.Context, asOf time.Time) ([]Delinquency, error) {
	pending, err := l.storage.GetPendingInstallments(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := l.LateFeeConfig(ctx)
	if err != nil {
		return nil, err
	}

	var out []Delinquency
	for _, inst := range pending {
		if !settlement.Overdue(inst, asOf) {
			continue
		}
		out = append(out, Delinquency{
			LoanID:            inst.LoanID,
			InstallmentNumber: inst.Number,
			DueDate:           inst.DueDate,
			DaysLate:          settlement.DaysLate(inst.DueDate, asOf),
			Amount:            inst.Amount,
			LateFee:           settlement.LateFee(inst, cfg, asOf),
		})
	}
	return out, nil
}

// PortfolioSummary aggregates the loan book at asOf. A loan is delinquent when
// it is active and has an installment pending past its due date. PaidToday
// counts installments settled on the calendar date of asOf.
func (l *Ledger) PortfolioSummary(ctx context.Context, asOf time.Time) (*models.PortfolioSummary, error) {
	loans, err := l.storage.GetAllLoans(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := l.storage.GetPendingInstallments(ctx)
	if err != nil {
		return nil, err
	}

	sum := &models.PortfolioSummary{
		AsOf:           calendarDay(asOf),
		PortfolioValue: decimal.Zero,
		ExpectedToday:  decimal.Zero,
	}
	for _, loan := range loans {
		switch loan.Status {
		case models.LoanStatusActive:
			sum.ActiveLoans++
		case models.LoanStatusPaid:
			sum.PaidLoans++
		}
		sum.PortfolioValue = sum.PortfolioValue.Add(loan.Balance)
	}

	today := calendarDay(asOf)
	delinquent := make(map[uuid.UUID]struct{})
	for _, inst := range pending {
		if calendarDay(inst.DueDate).Equal(today) {
			sum.ExpectedToday = sum.ExpectedToday.Add(inst.Amount)
		}
		if settlement.Overdue(inst, asOf) {
			delinquent[inst.LoanID] = struct{}{}
		}
	}
	sum.DelinquentLoans = len(delinquent)

	paid, err := l.storage.GetInstallmentsPaidBetween(ctx, today, today.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	sum.PaidToday = len(paid)
	return sum, nil
}

// SweepDelinquencies logs the overdue installments of the current business
// day. It is meant to run on a schedule.
func (l *Ledger) SweepDelinquencies(ctx context.Context) {
	asOf := l.Today()
	active, err := l.storage.GetAllActiveLoans(ctx)
	if err != nil {
		l.logger.Error("delinquency sweep failed", zap.String("op", "ledger.SweepDelinquencies"), zap.Error(err))
		return
	}
	items, err := l.Delinquencies(ctx, asOf)
	if err != nil {
		l.logger.Error("delinquency sweep failed", zap.String("op", "ledger.SweepDelinquencies"), zap.Error(err))
		return
	}

	loans := make(map[uuid.UUID]struct{})
	fees := decimal.Zero
	for _, d := range items {
		loans[d.LoanID] = struct{}{}
		fees = fees.Add(d.LateFee)
		l.logger.Debug("overdue installment",
			zap.String("op", "ledger.SweepDelinquencies"),
			zap.String("loan_id", d.LoanID.String()),
			zap.Int("installment", d.InstallmentNumber),
			zap.Int("days_late", d.DaysLate),
			zap.String("late_fee", d.LateFee.String()),
		)
	}
	l.logger.Info("delinquency sweep complete",
		zap.String("op", "ledger.SweepDelinquencies"),
		zap.Time("as_of", asOf),
		zap.Int("active_loans", len(active)),
		zap.Int("overdue_installments", len(items)),
		zap.Int("delinquent_loans", len(loans)),
		zap.String("accrued_late_fees", fees.String()),
	)
}
