package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS loans (
	id TEXT PRIMARY KEY,
	customer_key TEXT NOT NULL,
	principal TEXT NOT NULL,
	annual_rate_percent TEXT NOT NULL,
	installment_count INTEGER NOT NULL,
	frequency TEXT NOT NULL,
	amortization_system TEXT NOT NULL,
	start_date TIMESTAMPTZ NOT NULL,
	end_date TIMESTAMPTZ NOT NULL,
	balance TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS installments (
	id TEXT PRIMARY KEY,
	loan_id TEXT NOT NULL REFERENCES loans(id),
	number INTEGER NOT NULL,
	amount TEXT NOT NULL,
	principal TEXT NOT NULL,
	interest TEXT NOT NULL,
	balance_after TEXT NOT NULL,
	due_date TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	paid_at TIMESTAMPTZ,
	late_fee TEXT NOT NULL DEFAULT '0',
	UNIQUE(loan_id, number)
);
CREATE TABLE IF NOT EXISTS payments (
	id TEXT PRIMARY KEY,
	loan_id TEXT NOT NULL REFERENCES loans(id),
	installment_id TEXT NOT NULL REFERENCES installments(id),
	amount_tendered TEXT NOT NULL,
	late_fee_applied TEXT NOT NULL,
	interest_applied TEXT NOT NULL,
	principal_applied TEXT NOT NULL,
	method TEXT NOT NULL,
	paid_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects to Postgres with connStr and initializes the
// schema and default settings.
func NewPostgresStore(connStr string) (*SQLStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLStore{db: db, numbered: true}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	if err := s.seedSettings(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
