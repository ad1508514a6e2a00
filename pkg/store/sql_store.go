package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
)

// Dialect selects placeholder style and column types.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore implements Store using database/sql.
// It supports both Postgres and SQLite via standard drivers. Balances and amounts are stored as
// decimal text (NUMERIC on Postgres) because both engines' native integers are signed 64-bit.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// OpenSQLite opens (or creates) a SQLite database file and initializes the schema.
// Use ":memory:" for an ephemeral store.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	s := NewSQLStore(db, DialectSQLite)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects to Postgres and initializes the schema.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("DB ping failed: %w", err)
	}
	s := NewSQLStore(db, DialectPostgres)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) schema() string {
	amountType, timeType := "TEXT", "TEXT"
	if s.dialect == DialectPostgres {
		amountType, timeType = "NUMERIC(20,0)", "TIMESTAMPTZ"
	}
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS accounts (
	actor TEXT PRIMARY KEY,
	owner TEXT NOT NULL DEFAULT '',
	balance %[1]s NOT NULL,
	updated_at %[2]s NOT NULL
);
CREATE TABLE IF NOT EXISTS execution_records (
	intent_id TEXT PRIMARY KEY,
	receipt_id TEXT NOT NULL,
	actor TEXT NOT NULL,
	recipient TEXT NOT NULL DEFAULT '',
	amount %[1]s NOT NULL,
	executed_at %[2]s NOT NULL
);
`, amountType, timeType)
}

// Init creates the tables if they do not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range strings.Split(s.schema(), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $N for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) GetAccount(ctx context.Context, actor string) (contracts.AccountState, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind("SELECT actor, owner, balance, updated_at FROM accounts WHERE actor = ?"), actor)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.AccountState{}, ErrNotFound
	}
	if err != nil {
		return contracts.AccountState{}, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

func (s *SQLStore) GetRecord(ctx context.Context, intentID string) (contracts.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind("SELECT intent_id, receipt_id, actor, recipient, amount, executed_at FROM execution_records WHERE intent_id = ?"), intentID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.ExecutionRecord{}, ErrNotFound
	}
	if err != nil {
		return contracts.ExecutionRecord{}, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// Commit applies the transition inside one database transaction. The record check is repeated
// inside the transaction and the primary key catches any remaining race.
func (s *SQLStore) Commit(ctx context.Context, t *contracts.Transition) (err error) {
	if err := checkTransition(t); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	exists, err := s.recordExists(ctx, tx, t.Record.IntentID)
	if err != nil {
		return err
	}
	if exists {
		return ErrRecordExists
	}

	for _, w := range t.Writes {
		res, execErr := tx.ExecContext(ctx,
			s.rebind("UPDATE accounts SET balance = ?, updated_at = ? WHERE actor = ? AND balance = ?"),
			formatAmount(w.After), formatTime(w.UpdatedAt), w.Actor, formatAmount(w.Before))
		if execErr != nil {
			return fmt.Errorf("update account %s: %w", w.Actor, execErr)
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			return fmt.Errorf("failed to check rows affected: %w", raErr)
		}
		if n == 0 {
			// Under READ COMMITTED a racing commit of the same intent surfaces here as a changed
			// balance; the record it wrote is visible to a new statement.
			if exists, err = s.recordExists(ctx, tx, t.Record.IntentID); err != nil {
				return err
			}
			if exists {
				return ErrRecordExists
			}
			return ErrConflict
		}
	}

	r := t.Record
	_, err = tx.ExecContext(ctx,
		s.rebind("INSERT INTO execution_records (intent_id, receipt_id, actor, recipient, amount, executed_at) VALUES (?, ?, ?, ?, ?, ?)"),
		r.IntentID, r.ReceiptID, r.Actor, r.Recipient, formatAmount(r.Amount), formatTime(r.ExecutedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRecordExists
		}
		return fmt.Errorf("insert record: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) recordExists(ctx context.Context, tx *sql.Tx, intentID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		s.rebind("SELECT 1 FROM execution_records WHERE intent_id = ?"), intentID).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("check record: %w", err)
	}
}

func (s *SQLStore) OpenAccount(ctx context.Context, acct contracts.AccountState) error {
	if err := checkAccount(acct); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind("INSERT INTO accounts (actor, owner, balance, updated_at) VALUES (?, ?, ?, ?)"),
		acct.Actor, acct.Owner, formatAmount(acct.Balance), formatTime(acct.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAccountExists
		}
		return fmt.Errorf("failed to open account: %w", err)
	}
	return nil
}

func (s *SQLStore) ListAccounts(ctx context.Context) ([]contracts.AccountState, error) {
	return listAccounts(ctx, s.db)
}

func (s *SQLStore) ListRecords(ctx context.Context) ([]contracts.ExecutionRecord, error) {
	return listRecords(ctx, s.db)
}

// ListState reads both tables inside one read-only transaction. Postgres runs it at REPEATABLE
// READ so both queries see the same snapshot; SQLite transactions are already serialized.
func (s *SQLStore) ListState(ctx context.Context) (accounts []contracts.AccountState, records []contracts.ExecutionRecord, err error) {
	var opts *sql.TxOptions
	if s.dialect == DialectPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("begin read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if accounts, err = listAccounts(ctx, tx); err != nil {
		return nil, nil, err
	}
	if records, err = listRecords(ctx, tx); err != nil {
		return nil, nil, err
	}
	return accounts, records, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listAccounts(ctx context.Context, q querier) ([]contracts.AccountState, error) {
	rows, err := q.QueryContext(ctx, "SELECT actor, owner, balance, updated_at FROM accounts ORDER BY actor")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]contracts.AccountState, 0)
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func listRecords(ctx context.Context, q querier) ([]contracts.ExecutionRecord, error) {
	rows, err := q.QueryContext(ctx, "SELECT intent_id, receipt_id, actor, recipient, amount, executed_at FROM execution_records ORDER BY intent_id")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]contracts.ExecutionRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (contracts.AccountState, error) {
	var (
		acct      contracts.AccountState
		balance   string
		updatedAt string
	)
	if err := row.Scan(&acct.Actor, &acct.Owner, &balance, &updatedAt); err != nil {
		return contracts.AccountState{}, err
	}
	var err error
	if acct.Balance, err = parseAmount(balance); err != nil {
		return contracts.AccountState{}, err
	}
	if acct.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return contracts.AccountState{}, err
	}
	return acct, nil
}

func scanRecord(row scanner) (contracts.ExecutionRecord, error) {
	var (
		rec        contracts.ExecutionRecord
		amount     string
		executedAt string
	)
	if err := row.Scan(&rec.IntentID, &rec.ReceiptID, &rec.Actor, &rec.Recipient, &amount, &executedAt); err != nil {
		return contracts.ExecutionRecord{}, err
	}
	var err error
	if rec.Amount, err = parseAmount(amount); err != nil {
		return contracts.ExecutionRecord{}, err
	}
	if rec.ExecutedAt, err = parseTime(executedAt); err != nil {
		return contracts.ExecutionRecord{}, err
	}
	return rec, nil
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt amount %q: %w", s, err)
	}
	return v, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE")
		}
	}
	return false
}
