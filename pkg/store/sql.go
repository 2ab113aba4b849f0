package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/prestaya/pkg/models"
	"github.com/mcclellann/prestaya/pkg/settings"
)

// SQLStore implements Storage on database/sql. Queries are written with '?'
// placeholders and rebound for drivers that number them.
// Decimals are stored as TEXT so no precision is lost.
type SQLStore struct {
	db       *sql.DB
	numbered bool // $1, $2, ... placeholders
}

const loanColumns = `id, customer_key, principal, annual_rate_percent, installment_count, frequency, amortization_system, start_date, end_date, balance, status, created_at, updated_at`

const installmentColumns = `id, loan_id, number, amount, principal, interest, balance_after, due_date, status, paid_at, late_fee`

const paymentColumns = `id, loan_id, installment_id, amount_tendered, late_fee_applied, interest_applied, principal_applied, method, paid_at`

// Open connects to driver ("sqlite3" or "postgres") at dsn.
func Open(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return NewSQLiteStore(dsn)
	case "postgres":
		return NewPostgresStore(dsn)
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

func (s *SQLStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) seedSettings(ctx context.Context) error {
	now := time.Now().UTC()
	for _, d := range settings.Defaults() {
		_, err := s.db.ExecContext(ctx, s.rebind(
			`INSERT INTO settings (key, value, description, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT (key) DO NOTHING`),
			d.Key, d.Value, d.Description, now,
		)
		if err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", d.Key, err)
		}
	}
	return nil
}

// CreateLoan inserts a new loan and its schedule within a transaction.
func (s *SQLStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		loan.ID, loan.CustomerKey, loan.Principal, loan.AnnualRatePercent, loan.NumberOfInstallments, string(loan.Frequency), string(loan.System),
		loan.StartDate.UTC(), loan.EndDate.UTC(), loan.Balance, string(loan.Status), loan.CreatedAt.UTC(), loan.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}

	insert := s.rebind(`INSERT INTO installments (` + installmentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, inst := range loan.Installments {
		_, err = tx.ExecContext(ctx, insert,
			inst.ID, inst.LoanID, inst.Number, inst.Amount, inst.Principal, inst.Interest, inst.BalanceAfter,
			inst.DueDate.UTC(), string(inst.Status), nullTime(inst.PaidAt), inst.LateFee,
		)
		if err != nil {
			return fmt.Errorf("failed to create installment %d: %w", inst.Number, err)
		}
	}

	return tx.Commit()
}

// GetLoan retrieves a loan and its schedule by the loan ID.
func (s *SQLStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+loanColumns+` FROM loans WHERE id = ?`), id)
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+installmentColumns+` FROM installments WHERE loan_id = ? ORDER BY number ASC`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for loan %s: %w", id, err)
	}
	defer rows.Close()

	loan.Installments, err = scanInstallments(rows)
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// DeleteLoan removes a loan with its installments and payments within a transaction.
func (s *SQLStore) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM payments WHERE loan_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete associated payments: %w", err)
	}
	if _, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM installments WHERE loan_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete associated installments: %w", err)
	}

	result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM loans WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	if err := expectOne(result, fmt.Errorf("loan %s: %w", id, ErrNotFound)); err != nil {
		return err
	}

	return tx.Commit()
}

// GetAllLoans retrieves all loans without their schedules.
func (s *SQLStore) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

// GetAllActiveLoans retrieves all active loans without their schedules.
func (s *SQLStore) GetAllActiveLoans(ctx context.Context) ([]*models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+loanColumns+` FROM loans WHERE status = ? ORDER BY created_at DESC`), string(models.LoanStatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to get all active loans: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

// GetInstallment retrieves one installment of a loan by its number.
func (s *SQLStore) GetInstallment(ctx context.Context, loanID uuid.UUID, number int) (*models.Installment, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+installmentColumns+` FROM installments WHERE loan_id = ? AND number = ?`), loanID, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get installment: %w", err)
	}
	defer rows.Close()

	insts, err := scanInstallments(rows)
	if err != nil {
		return nil, err
	}
	if len(insts) == 0 {
		return nil, fmt.Errorf("installment %d of loan %s: %w", number, loanID, ErrNotFound)
	}
	return &insts[0], nil
}

// GetPendingInstallments retrieves the pending installments of active loans,
// ordered by due date.
func (s *SQLStore) GetPendingInstallments(ctx context.Context) ([]models.Installment, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT i.id, i.loan_id, i.number, i.amount, i.principal, i.interest, i.balance_after, i.due_date, i.status, i.paid_at, i.late_fee
		FROM installments i JOIN loans l ON l.id = i.loan_id
		WHERE i.status = ? AND l.status = ?
		ORDER BY i.due_date ASC, i.number ASC`),
		string(models.InstallmentStatusPending), string(models.LoanStatusActive),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending installments: %w", err)
	}
	defer rows.Close()

	return scanInstallments(rows)
}

// GetInstallmentsPaidBetween retrieves the installments paid in [from, to),
// ordered by payment time.
func (s *SQLStore) GetInstallmentsPaidBetween(ctx context.Context, from, to time.Time) ([]models.Installment, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+installmentColumns+` FROM installments
		WHERE status = ? AND paid_at >= ? AND paid_at < ?
		ORDER BY paid_at ASC`),
		string(models.InstallmentStatusPaid), from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get paid installments: %w", err)
	}
	defer rows.Close()

	return scanInstallments(rows)
}

// ApplySettlement writes the three results of a settlement in one transaction.
func (s *SQLStore) ApplySettlement(ctx context.Context, payment *models.Payment, inst *models.Installment, loan *models.Loan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		payment.ID, payment.LoanID, payment.InstallmentID, payment.AmountTendered, payment.LateFeeApplied,
		payment.InterestApplied, payment.PrincipalApplied, payment.Method, payment.PaidAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}

	result, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE installments SET status = ?, paid_at = ?, late_fee = ? WHERE id = ? AND status = ?`),
		string(inst.Status), nullTime(inst.PaidAt), inst.LateFee, inst.ID, string(models.InstallmentStatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	if err := expectOne(result, fmt.Errorf("installment %d of loan %s: %w", inst.Number, inst.LoanID, ErrConflict)); err != nil {
		return err
	}

	result, err = tx.ExecContext(ctx, s.rebind(
		`UPDATE loans SET balance = ?, status = ?, updated_at = ? WHERE id = ? AND status = ?`),
		loan.Balance, string(loan.Status), loan.UpdatedAt.UTC(), loan.ID, string(models.LoanStatusActive),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan balance: %w", err)
	}
	if err := expectOne(result, fmt.Errorf("loan %s: %w", loan.ID, ErrConflict)); err != nil {
		return err
	}

	return tx.Commit()
}

// GetPaymentsForLoan retrieves all payments for a given loan ID.
func (s *SQLStore) GetPaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+paymentColumns+` FROM payments WHERE loan_id = ? ORDER BY paid_at ASC`), loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.LoanID, &p.InstallmentID, &p.AmountTendered, &p.LateFeeApplied,
			&p.InterestApplied, &p.PrincipalApplied, &p.Method, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		p.PaidAt = p.PaidAt.UTC()
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan payments: %w", err)
	}
	return payments, nil
}

// GetSettings retrieves the whole configuration collection ordered by key.
func (s *SQLStore) GetSettings(ctx context.Context) ([]models.Setting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, description, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	defer rows.Close()

	var entries []models.Setting
	for rows.Next() {
		var e models.Setting
		if err := rows.Scan(&e.Key, &e.Value, &e.Description, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan setting row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for settings: %w", err)
	}
	return entries, nil
}

// PutSetting inserts or updates one setting. An empty description keeps the
// stored one.
func (s *SQLStore) PutSetting(ctx context.Context, setting *models.Setting) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO settings (key, value, description, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at,
		description = CASE WHEN excluded.description = '' THEN settings.description ELSE excluded.description END`),
		setting.Key, setting.Value, setting.Description, setting.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put setting %s: %w", setting.Key, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLoan(row scanner) (*models.Loan, error) {
	var loan models.Loan
	var frequency, system, status string
	err := row.Scan(&loan.ID, &loan.CustomerKey, &loan.Principal, &loan.AnnualRatePercent, &loan.NumberOfInstallments,
		&frequency, &system, &loan.StartDate, &loan.EndDate, &loan.Balance, &status, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.Frequency = models.Frequency(frequency)
	loan.System = models.AmortizationSystem(system)
	loan.Status = models.LoanStatus(status)
	loan.StartDate = loan.StartDate.UTC()
	loan.EndDate = loan.EndDate.UTC()
	return &loan, nil
}

func scanLoans(rows *sql.Rows) ([]*models.Loan, error) {
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

func scanInstallments(rows *sql.Rows) ([]models.Installment, error) {
	var insts []models.Installment
	for rows.Next() {
		var inst models.Installment
		var status string
		var paidAt sql.NullTime
		if err := rows.Scan(&inst.ID, &inst.LoanID, &inst.Number, &inst.Amount, &inst.Principal, &inst.Interest,
			&inst.BalanceAfter, &inst.DueDate, &status, &paidAt, &inst.LateFee); err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		inst.Status = models.InstallmentStatus(status)
		inst.DueDate = inst.DueDate.UTC()
		if paidAt.Valid {
			t := paidAt.Time.UTC()
			inst.PaidAt = &t
		}
		insts = append(insts, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for installments: %w", err)
	}
	return insts, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// expectOne returns notMatched when result touched no row.
func expectOne(result sql.Result, notMatched error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return notMatched
	}
	return nil
}
