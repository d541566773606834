/*
Package sqlite provides a SQLite-backed implementation of the storage
contracts.

PURPOSE:
  Implements the persistence collaborator (loan.RemoteStore), the queue
  mirror (loan.QueueMirror), and the durable local store (queue.KV)
  using SQLite. The same patterns apply to PostgreSQL with minor dialect
  changes.

KEY TABLES:
  loans:           Obligation records with running aggregates
  payments:        Immutable collection records
  missed_payments: Missed-term notices (paid_later is the one mutable bit)
  penalties:       Charges raised alongside missed payments
  queue_mirror:    Best-effort reflection of the device-local queue
  kv:              Opaque blobs for the durable local store

IDEMPOTENCY:
  payments and missed_payments carry a UNIQUE idempotency_key. Writes
  check the key first and report loan.ErrDuplicateIdempotencyKey, which
  the sync drain treats as already-applied.

MONEY:
  Amounts are stored as TEXT and parsed back through decimal, never
  float.

WAL MODE:
  Opened with WAL for crash recovery and reader/writer concurrency.
  A sync.RWMutex guards in-process access.

USAGE:
  st, err := sqlite.New("./data/collections.db")
  ...
  defer st.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/kopa/loan-engine/loan"
)

// Store implements loan.RemoteStore, loan.QueueMirror, and queue.KV.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		borrower_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		tenure INTEGER NOT NULL,
		frequency TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		remaining_amount TEXT NOT NULL,
		disbursed_at TEXT NOT NULL,
		due_date TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		borrower_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		received_at TEXT NOT NULL,
		collected_by TEXT,
		method TEXT,
		transaction_id TEXT,
		idempotency_key TEXT UNIQUE
	);

	CREATE INDEX IF NOT EXISTS idx_payments_loan
		ON payments(loan_id, received_at);

	CREATE TABLE IF NOT EXISTS missed_payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		expected_date TEXT NOT NULL,
		term_number INTEGER NOT NULL,
		amount_expected TEXT NOT NULL,
		reason TEXT NOT NULL,
		paid_later INTEGER NOT NULL DEFAULT 0,
		marked_by TEXT,
		idempotency_key TEXT UNIQUE
	);

	CREATE INDEX IF NOT EXISTS idx_missed_loan
		ON missed_payments(loan_id, expected_date);

	CREATE TABLE IF NOT EXISTS penalties (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		borrower_id TEXT NOT NULL,
		line_id TEXT,
		penalty_type TEXT,
		amount TEXT NOT NULL,
		reason TEXT,
		is_paid INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS queue_mirror (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		data BLOB,
		status TEXT NOT NULL,
		synced_at TEXT,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_mirror_user
		ON queue_mirror(user_id, status);

	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOANS
// =============================================================================

// PutLoan inserts or replaces a loan record.
func (s *Store) PutLoan(ctx context.Context, l *loan.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO loans
		(id, borrower_id, amount, interest_rate, tenure, frequency,
		 total_amount, paid_amount, remaining_amount, disbursed_at, due_date, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(l.ID), string(l.BorrowerID), l.Amount.String(), l.InterestRate.String(),
		l.Tenure, string(l.Frequency), l.TotalAmount.String(), l.PaidAmount.String(),
		l.RemainingAmount.String(), l.DisbursedAt.UTC().Format(time.RFC3339Nano),
		l.DueDate.UTC().Format(time.RFC3339Nano), string(l.Status))
	return err
}

func (s *Store) LoanByID(ctx context.Context, id loan.LoanID) (*loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, borrower_id, amount, interest_rate, tenure, frequency,
		       total_amount, paid_amount, remaining_amount, disbursed_at, due_date, status
		FROM loans WHERE id = ?`, string(id))

	var l loan.Loan
	var lid, bid, amount, rate, freq, total, paid, remaining, disbursed, due, status string
	err := row.Scan(&lid, &bid, &amount, &rate, &l.Tenure, &freq,
		&total, &paid, &remaining, &disbursed, &due, &status)
	if err == sql.ErrNoRows {
		return nil, loan.ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}

	l.ID = loan.LoanID(lid)
	l.BorrowerID = loan.BorrowerID(bid)
	l.Frequency = loan.Frequency(freq)
	l.Status = loan.LoanStatus(status)
	if l.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if l.InterestRate, err = decimal.NewFromString(rate); err != nil {
		return nil, err
	}
	if l.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}
	if l.PaidAmount, err = decimal.NewFromString(paid); err != nil {
		return nil, err
	}
	if l.RemainingAmount, err = decimal.NewFromString(remaining); err != nil {
		return nil, err
	}
	if l.DisbursedAt, err = time.Parse(time.RFC3339Nano, disbursed); err != nil {
		return nil, err
	}
	if l.DueDate, err = time.Parse(time.RFC3339Nano, due); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) UpdateLoanAggregates(ctx context.Context, id loan.LoanID, paid, remaining decimal.Decimal, status loan.LoanStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE loans SET paid_amount = ?, remaining_amount = ?, status = ?
		WHERE id = ?`,
		paid.String(), remaining.String(), string(status), string(id))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return loan.ErrLoanNotFound
	}
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) CreatePayment(ctx context.Context, p loan.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.IdempotencyKey != "" {
		dup, err := s.keyExists(ctx, "payments", p.IdempotencyKey)
		if err != nil {
			return err
		}
		if dup {
			return loan.ErrDuplicateIdempotencyKey
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments
		(id, loan_id, borrower_id, amount, received_at, collected_by, method, transaction_id, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.ID), string(p.LoanID), string(p.BorrowerID), p.Amount.String(),
		p.ReceivedAt.UTC().Format(time.RFC3339Nano), p.CollectedBy, p.Method,
		p.TransactionID, nullable(p.IdempotencyKey))
	return err
}

func (s *Store) PaymentsByLoan(ctx context.Context, id loan.LoanID) ([]loan.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, loan_id, borrower_id, amount, received_at, collected_by, method, transaction_id
		FROM payments WHERE loan_id = ? ORDER BY received_at ASC`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []loan.Payment
	for rows.Next() {
		var p loan.Payment
		var pid, lid, bid, amount, received string
		var collectedBy, method, txnID sql.NullString
		if err := rows.Scan(&pid, &lid, &bid, &amount, &received, &collectedBy, &method, &txnID); err != nil {
			return nil, err
		}
		p.ID = loan.PaymentID(pid)
		p.LoanID = loan.LoanID(lid)
		p.BorrowerID = loan.BorrowerID(bid)
		p.CollectedBy = collectedBy.String
		p.Method = method.String
		p.TransactionID = txnID.String
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if p.ReceivedAt, err = time.Parse(time.RFC3339Nano, received); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// MISSED PAYMENTS
// =============================================================================

func (s *Store) CreateMissedPayment(ctx context.Context, mp loan.MissedPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mp.IdempotencyKey != "" {
		dup, err := s.keyExists(ctx, "missed_payments", mp.IdempotencyKey)
		if err != nil {
			return err
		}
		if dup {
			return loan.ErrDuplicateIdempotencyKey
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO missed_payments
		(id, loan_id, expected_date, term_number, amount_expected, reason, paid_later, marked_by, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(mp.ID), string(mp.LoanID), mp.ExpectedDate.UTC().Format(time.RFC3339Nano),
		mp.TermNumber, mp.AmountExpected.String(), mp.Reason, boolToInt(mp.PaidLater),
		mp.MarkedBy, nullable(mp.IdempotencyKey))
	return err
}

func (s *Store) MissedPaymentsByLoan(ctx context.Context, id loan.LoanID) ([]loan.MissedPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, loan_id, expected_date, term_number, amount_expected, reason, paid_later, marked_by
		FROM missed_payments WHERE loan_id = ? ORDER BY expected_date ASC`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []loan.MissedPayment
	for rows.Next() {
		var mp loan.MissedPayment
		var mid, lid, expected, amount string
		var markedBy sql.NullString
		var paidLater int
		if err := rows.Scan(&mid, &lid, &expected, &mp.TermNumber, &amount, &mp.Reason, &paidLater, &markedBy); err != nil {
			return nil, err
		}
		mp.ID = loan.MissedPaymentID(mid)
		mp.LoanID = loan.LoanID(lid)
		mp.PaidLater = paidLater != 0
		mp.MarkedBy = markedBy.String
		if mp.AmountExpected, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if mp.ExpectedDate, err = time.Parse(time.RFC3339Nano, expected); err != nil {
			return nil, err
		}
		out = append(out, mp)
	}
	return out, rows.Err()
}

func (s *Store) MarkMissedPaymentPaidLater(ctx context.Context, id loan.MissedPaymentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE missed_payments SET paid_later = 1 WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return loan.ErrLoanNotFound
	}
	return nil
}

// =============================================================================
// PENALTIES
// =============================================================================

func (s *Store) CreatePenalty(ctx context.Context, pen loan.Penalty) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO penalties (id, loan_id, borrower_id, line_id, penalty_type, amount, reason, is_paid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(pen.ID), string(pen.LoanID), string(pen.BorrowerID), pen.LineID,
		pen.Type, pen.Amount.String(), pen.Reason, boolToInt(pen.IsPaid))
	return err
}

// =============================================================================
// QUEUE MIRROR
// =============================================================================

func (s *Store) UpsertMirrorItem(ctx context.Context, item loan.MirrorItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var syncedAt interface{}
	if item.SyncedAt != nil {
		syncedAt = item.SyncedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO queue_mirror
		(id, user_id, action_type, data, status, synced_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.UserID, item.ActionType, item.Data, item.Status,
		syncedAt, item.ErrorMessage)
	return err
}

// =============================================================================
// KV - Durable local store (queue.KV)
// =============================================================================

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`, key, value)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// keyExists checks an idempotency key under the write lock, so the
// check-then-insert pair is race-free in process.
func (s *Store) keyExists(ctx context.Context, table, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM `+table+` WHERE idempotency_key = ?`, key).Scan(&n)
	return n > 0, err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
