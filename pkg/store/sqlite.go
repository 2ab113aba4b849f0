package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS loans (
	id TEXT PRIMARY KEY,
	customer_key TEXT NOT NULL,
	principal TEXT NOT NULL,
	annual_rate_percent TEXT NOT NULL,
	installment_count INTEGER NOT NULL,
	frequency TEXT NOT NULL,
	amortization_system TEXT NOT NULL,
	start_date DATETIME NOT NULL,
	end_date DATETIME NOT NULL,
	balance TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS installments (
	id TEXT PRIMARY KEY,
	loan_id TEXT NOT NULL,
	number INTEGER NOT NULL,
	amount TEXT NOT NULL,
	principal TEXT NOT NULL,
	interest TEXT NOT NULL,
	balance_after TEXT NOT NULL,
	due_date DATETIME NOT NULL,
	status TEXT NOT NULL,
	paid_at DATETIME,
	late_fee TEXT NOT NULL DEFAULT '0',
	UNIQUE(loan_id, number),
	FOREIGN KEY(loan_id) REFERENCES loans(id)
);
CREATE TABLE IF NOT EXISTS payments (
	id TEXT PRIMARY KEY,
	loan_id TEXT NOT NULL,
	installment_id TEXT NOT NULL,
	amount_tendered TEXT NOT NULL,
	late_fee_applied TEXT NOT NULL,
	interest_applied TEXT NOT NULL,
	principal_applied TEXT NOT NULL,
	method TEXT NOT NULL,
	paid_at DATETIME NOT NULL,
	FOREIGN KEY(loan_id) REFERENCES loans(id),
	FOREIGN KEY(installment_id) REFERENCES installments(id)
);
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL
);
`

// NewSQLiteStore opens the SQLite database at dataSourceName and initializes
// its schema and default settings.
func NewSQLiteStore(dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// Pragmas are per connection; a single connection also serialises writers.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLStore{db: db}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	if err := s.seedSettings(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
