package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/prestaya/pkg/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a row changed state between read and write, such as an
	// installment settled by someone else in the meantime.
	ErrConflict = errors.New("record changed concurrently")
)

// Storage defines the interface for database operations related to loans,
// installments, payments and settings.
type Storage interface {
	// CreateLoan stores the loan and its installments in one transaction.
	CreateLoan(ctx context.Context, loan *models.Loan) error
	// GetLoan returns the loan with its installments ordered by number.
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	DeleteLoan(ctx context.Context, id uuid.UUID) error
	GetAllLoans(ctx context.Context) ([]*models.Loan, error)
	GetAllActiveLoans(ctx context.Context) ([]*models.Loan, error)

	GetInstallment(ctx context.Context, loanID uuid.UUID, number int) (*models.Installment, error)
	// GetPendingInstallments returns the pending installments of active loans.
	GetPendingInstallments(ctx context.Context) ([]models.Installment, error)
	// GetInstallmentsPaidBetween returns installments with paid_at in [from, to).
	GetInstallmentsPaidBetween(ctx context.Context, from, to time.Time) ([]models.Installment, error)

	// ApplySettlement records the payment, marks the installment paid and
	// updates the loan, all or nothing. It fails with ErrConflict if the
	// installment is no longer pending or the loan no longer active.
	ApplySettlement(ctx context.Context, payment *models.Payment, inst *models.Installment, loan *models.Loan) error
	GetPaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error)

	GetSettings(ctx context.Context) ([]models.Setting, error)
	PutSetting(ctx context.Context, setting *models.Setting) error

	Close() error
}
