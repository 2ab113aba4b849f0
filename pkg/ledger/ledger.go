package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/prestaya/pkg/amortization"
	"github.com/mcclellann/prestaya/pkg/cache"
	"github.com/mcclellann/prestaya/pkg/models"
	"github.com/mcclellann/prestaya/pkg/settings"
	"github.com/mcclellann/prestaya/pkg/settlement"
	"github.com/mcclellann/prestaya/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger handles the business logic for loans, installments and payments.
type Ledger struct {
	storage store.Storage
	engine  *settlement.Engine
	cache   cache.Cache // optional, for schedule previews
	logger  *zap.Logger
	now     func() time.Time
	loc     *time.Location // business time zone, decides what "today" is
}

// NewLedger creates a new Ledger with a given Storage implementation. c may be
// nil to disable preview caching.
func NewLedger(s store.Storage, c cache.Cache, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		storage: s,
		engine:  settlement.NewEngine(logger),
		cache:   c,
		logger:  logger,
		now:     time.Now,
		loc:     time.UTC,
	}
}

// SetLocation sets the time zone whose calendar decides the current business
// day. A nil loc means UTC.
func (l *Ledger) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	l.loc = loc
}

// Today is the current business day.
func (l *Ledger) Today() time.Time {
	return settlement.BusinessDay(l.now(), l.loc)
}

// Preview is a schedule that has not been stored.
type Preview struct {
	Terms        models.LoanTerms     `json:"terms"`
	Installments []models.Installment `json:"installments"`
	Summary      amortization.Summary `json:"summary"`
}

// CreateLoan computes the schedule for terms and stores the loan with it. An
// empty amortization system falls back to the configured default.
func (l *Ledger) CreateLoan(ctx context.Context, customerKey string, terms models.LoanTerms) (*models.Loan, error) {
	if terms.System == "" {
		sys, err := l.defaultSystem(ctx)
		if err != nil {
			return nil, err
		}
		terms.System = sys
	}

	rows, err := amortization.ComputeSchedule(terms)
	if err != nil {
		return nil, err
	}

	now := l.now()
	loan := &models.Loan{
		ID:                   uuid.New(),
		CustomerKey:          customerKey,
		Principal:            terms.Principal,
		AnnualRatePercent:    terms.AnnualRatePercent,
		NumberOfInstallments: terms.NumberOfInstallments,
		Frequency:            terms.Frequency,
		System:               terms.System,
		StartDate:            calendarDay(terms.StartDate),
		EndDate:              rows[len(rows)-1].DueDate,
		Balance:              terms.Principal,
		Status:               models.LoanStatusActive,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	for i := range rows {
		rows[i].ID = uuid.New()
		rows[i].LoanID = loan.ID
	}
	loan.Installments = rows

	if err := l.storage.CreateLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.logger.Info("loan created",
		zap.String("op", "ledger.CreateLoan"),
		zap.String("loan_id", loan.ID.String()),
		zap.String("customer_key", customerKey),
		zap.String("principal", loan.Principal.String()),
		zap.String("system", string(loan.System)),
		zap.Int("installments", len(rows)),
	)
	return loan, nil
}

// PreviewSchedule computes a schedule without storing anything. Results are
// cached by terms when a cache is configured.
func (l *Ledger) PreviewSchedule(ctx context.Context, terms models.LoanTerms) (*Preview, error) {
	if terms.System == "" {
		sys, err := l.defaultSystem(ctx)
		if err != nil {
			return nil, err
		}
		terms.System = sys
	}
	if err := amortization.Validate(&terms); err != nil {
		return nil, err
	}
	terms.StartDate = calendarDay(terms.StartDate)

	key := previewKey(terms)
	if l.cache != nil {
		if raw, ok := l.cache.Get(ctx, key); ok {
			var p Preview
			if err := json.Unmarshal([]byte(raw), &p); err == nil {
				return &p, nil
			}
			l.logger.Warn("discarding unreadable cached preview", zap.String("op", "ledger.PreviewSchedule"), zap.String("key", key))
		}
	}

	rows, err := amortization.ComputeSchedule(terms)
	if err != nil {
		return nil, err
	}
	p := &Preview{Terms: terms, Installments: rows, Summary: amortization.Totals(rows)}

	if l.cache != nil {
		raw, err := json.Marshal(p)
		if err == nil {
			err = l.cache.Set(ctx, key, string(raw))
		}
		if err != nil {
			l.logger.Warn("failed to cache preview", zap.String("op", "ledger.PreviewSchedule"), zap.Error(err))
		}
	}
	return p, nil
}

// GetLoan retrieves a loan with its schedule.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(ctx, id)
}

// GetAllLoans retrieves all loans.
func (l *Ledger) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	return l.storage.GetAllLoans(ctx)
}

// DeleteLoan deletes a loan.
func (l *Ledger) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	return l.storage.DeleteLoan(ctx, id)
}

// GetPayments lists the payments recorded against a loan.
func (l *Ledger) GetPayments(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	if _, err := l.storage.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return l.storage.GetPaymentsForLoan(ctx, loanID)
}

// LateFeeConfig reads the late-fee parameters once. The result is a snapshot:
// later edits do not affect it.
func (l *Ledger) LateFeeConfig(ctx context.Context) (models.LateFeeConfig, error) {
	entries, err := l.storage.GetSettings(ctx)
	if err != nil {
		return models.LateFeeConfig{}, err
	}
	return settings.LateFee(entries)
}

// Quote prices installment number of a loan at asOf.
func (l *Ledger) Quote(ctx context.Context, loanID uuid.UUID, number int, asOf time.Time) (*settlement.Quote, error) {
	inst, err := l.storage.GetInstallment(ctx, loanID, number)
	if err != nil {
		return nil, err
	}
	cfg, err := l.LateFeeConfig(ctx)
	if err != nil {
		return nil, err
	}
	q := l.engine.Quote(*inst, cfg, asOf)
	return &q, nil
}

// SettleInstallment applies amount to installment number of a loan as of asOf
// and persists the payment, the paid installment and the new loan balance
// together. Payments are recorded on the calendar date of asOf.
func (l *Ledger) SettleInstallment(ctx context.Context, loanID uuid.UUID, number int, amount decimal.Decimal, asOf time.Time) (*settlement.Result, error) {
	asOf = calendarDay(asOf)
	loan, err := l.storage.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	var inst *models.Installment
	for i := range loan.Installments {
		if loan.Installments[i].Number == number {
			inst = &loan.Installments[i]
			break
		}
	}
	if inst == nil {
		return nil, fmt.Errorf("installment %d of loan %s: %w", number, loanID, store.ErrNotFound)
	}

	cfg, err := l.LateFeeConfig(ctx)
	if err != nil {
		return nil, err
	}

	res, err := l.engine.Settle(*inst, *loan, cfg, amount, asOf)
	if err != nil {
		return nil, err
	}

	if err := l.storage.ApplySettlement(ctx, &res.Payment, &res.Installment, &res.Loan); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", settlement.ErrInstallmentAlreadyPaid, err)
		}
		return nil, fmt.Errorf("failed to record settlement: %w", err)
	}

	l.logger.Info("payment recorded",
		zap.String("op", "ledger.SettleInstallment"),
		zap.String("loan_id", loanID.String()),
		zap.Int("installment", number),
		zap.String("amount", amount.String()),
		zap.String("late_fee", res.Payment.LateFeeApplied.String()),
		zap.String("balance", res.Loan.Balance.String()),
		zap.String("status", string(res.Loan.Status)),
	)
	return res, nil
}

// Settings returns the whole configuration collection.
func (l *Ledger) Settings(ctx context.Context) ([]models.Setting, error) {
	return l.storage.GetSettings(ctx)
}

// PutSetting validates and stores one known setting.
func (l *Ledger) PutSetting(ctx context.Context, key, value string) (*models.Setting, error) {
	if err := settings.Validate(key, value); err != nil {
		return nil, err
	}
	s := &models.Setting{Key: key, Value: value, UpdatedAt: l.now()}
	if err := l.storage.PutSetting(ctx, s); err != nil {
		return nil, err
	}
	l.logger.Info("setting updated", zap.String("op", "ledger.PutSetting"), zap.String("key", key), zap.String("value", value))
	return s, nil
}

func (l *Ledger) defaultSystem(ctx context.Context) (models.AmortizationSystem, error) {
	entries, err := l.storage.GetSettings(ctx)
	if err != nil {
		return "", err
	}
	return settings.AmortizationSystem(entries)
}

func previewKey(t models.LoanTerms) string {
	return fmt.Sprintf("prestaya:preview:v1:%s:%s:%d:%s:%s:%s",
		t.Principal.String(), t.AnnualRatePercent.String(), t.NumberOfInstallments,
		t.Frequency, t.System, t.StartDate.Format("2006-01-02"))
}

func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
