/*
Package sqldb implements the persistence contracts on database/sql.

PURPOSE:
  One implementation serves both SQLite (mattn/go-sqlite3) and PostgreSQL
  (lib/pq); the dialect differences are placeholder style and nothing else
  that matters here. Queries are written with '?' and rebound to '$n' for
  postgres.

APPEND-ONLY ENFORCEMENT:
  There are no UPDATE or DELETE statements against the transactions or
  entries tables. Unique indexes on (company_id, transaction_number),
  idempotency_key, and (company_id, seq) back the engine's advisory
  pre-checks: a caller that loses a commit race is rejected by the database
  inside the commit transaction.

CONCURRENCY:
  Writes for a company serialize. SQLite is single-writer already; on
  postgres each write transaction takes pg_advisory_xact_lock keyed on the
  company id, so commit-time validation reads balances that include every
  earlier winner, and compare-and-append on the period-lock history cannot
  interleave. The unique indexes remain as the backstop.

KEY TABLES:
  transactions, entries:   the append-only ledger
  accounts:                account snapshots (type + negative allowance)
  period_lock_actions:     append-only period-lock history
  revenue_schedules:       recognition plans (milestones as JSON)
*/
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/clearbooks/ledger-engine/ledger"
	"github.com/clearbooks/ledger-engine/period"
	"github.com/clearbooks/ledger-engine/revenue"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type Store struct {
	db     *sql.DB
	driver string
}

// Open connects and migrates. For SQLite, use ":memory:" or a file path;
// for postgres, a standard connection string.
func Open(driver, dsn string) (*Store, error) {
	if driver == DriverSQLite && !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_journal_mode=WAL"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// rebind converts '?' placeholders to '$n' for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		transaction_id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		transaction_number TEXT NOT NULL,
		tx_date TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reference TEXT,
		description TEXT,
		currency TEXT NOT NULL,
		idempotency_key TEXT,
		void BOOLEAN NOT NULL DEFAULT FALSE,
		created_by TEXT,
		created_at TEXT NOT NULL,
		seq BIGINT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_company_number
		ON transactions(company_id, transaction_number);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions(idempotency_key) WHERE idempotency_key IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_company_seq
		ON transactions(company_id, seq);
	CREATE INDEX IF NOT EXISTS idx_transactions_company_date
		ON transactions(company_id, tx_date);

	CREATE TABLE IF NOT EXISTS entries (
		line_id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		side TEXT NOT NULL,
		amount_cents BIGINT NOT NULL,
		currency TEXT NOT NULL,
		allow_negative BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_entries_transaction
		ON entries(transaction_id);
	CREATE INDEX IF NOT EXISTS idx_entries_company_account
		ON entries(company_id, account_id);

	CREATE TABLE IF NOT EXISTS accounts (
		company_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		account_type TEXT NOT NULL,
		allow_negative BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (company_id, account_id)
	);

	CREATE TABLE IF NOT EXISTS period_lock_actions (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		reason TEXT,
		actor_id TEXT,
		at TEXT NOT NULL,
		seq BIGINT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_lock_actions_company_period_seq
		ON period_lock_actions(company_id, period_id, seq);

	CREATE TABLE IF NOT EXISTS revenue_schedules (
		schedule_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		total_cents BIGINT NOT NULL,
		revenue_account_id TEXT NOT NULL,
		deferred_account_id TEXT NOT NULL,
		method TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		milestones_json TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (company_id, schedule_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ledger.Store
// =============================================================================

// CommitAppendOnly writes the transaction header and all lines in one
// database transaction. All-or-nothing; constraint violations are mapped to
// the ledger sentinels. The commit-time hook runs under the same per-company
// lock as the write, against balances read in this database transaction.
func (s *Store) CommitAppendOnly(ctx context.Context, tx ledger.Transaction, validate ledger.ValidateFunc) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning commit: %w", err)
	}
	defer dbTx.Rollback()

	if err := s.lockCompany(ctx, dbTx, tx.CompanyID); err != nil {
		return err
	}

	if validate != nil {
		prior, err := s.queryBalances(ctx, dbTx, tx.CompanyID, tx.AccountIDs())
		if err != nil {
			return err
		}
		if err := validate(prior); err != nil {
			return err
		}
	}

	var seq int64
	if err := dbTx.QueryRowContext(ctx,
		s.rebind(`SELECT COALESCE(MAX(seq), 0) + 1 FROM transactions WHERE company_id = ?`),
		tx.CompanyID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("allocating sequence: %w", err)
	}

	_, err = dbTx.ExecContext(ctx, s.rebind(`
		INSERT INTO transactions
		(transaction_id, company_id, transaction_number, tx_date, tx_type,
		 reference, description, currency, idempotency_key, void, created_by, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		tx.TransactionID,
		tx.CompanyID,
		tx.TransactionNumber,
		tx.Date.String(),
		string(tx.Type),
		tx.Reference,
		tx.Description,
		tx.Currency,
		nullString(tx.IdempotencyKey),
		tx.Void,
		tx.CreatedBy,
		tx.CreatedAt.UTC().Format(time.RFC3339),
		seq,
	)
	if err != nil {
		return translateConstraint(err)
	}

	for _, line := range tx.Lines {
		_, err = dbTx.ExecContext(ctx, s.rebind(`
			INSERT INTO entries
			(line_id, transaction_id, company_id, account_id, side, amount_cents, currency, allow_negative)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			line.LineID,
			line.TransactionID,
			line.CompanyID,
			line.AccountID,
			string(line.Side),
			int64(line.Amount),
			line.Currency,
			line.AllowNegative,
		)
		if err != nil {
			return fmt.Errorf("inserting entry %s: %w", line.LineID, err)
		}
	}

	return dbTx.Commit()
}

func (s *Store) ListPostedTransactions(ctx context.Context, companyID string, from, to ledger.Date) ([]ledger.Transaction, error) {
	query := `
		SELECT transaction_id, company_id, transaction_number, tx_date, tx_type,
		       reference, description, currency, idempotency_key, void, created_by, created_at
		FROM transactions
		WHERE company_id = ? AND void = FALSE`
	args := []any{companyID}
	if !from.IsZero() {
		query += ` AND tx_date >= ?`
		args = append(args, from.String())
	}
	if !to.IsZero() {
		query += ` AND tx_date <= ?`
		args = append(args, to.String())
	}
	query += ` ORDER BY tx_date ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range txs {
		lines, err := s.loadLines(ctx, txs[i].TransactionID)
		if err != nil {
			return nil, err
		}
		txs[i].Lines = lines
	}
	return txs, nil
}

func (s *Store) GetPostedTransactionByNumber(ctx context.Context, companyID, number string) (*ledger.Transaction, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT transaction_id, company_id, transaction_number, tx_date, tx_type,
		       reference, description, currency, idempotency_key, void, created_by, created_at
		FROM transactions
		WHERE company_id = ? AND transaction_number = ?`),
		companyID, number)

	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lines, err := s.loadLines(ctx, tx.TransactionID)
	if err != nil {
		return nil, err
	}
	tx.Lines = lines
	return &tx, nil
}

func (s *Store) GetAccountSnapshots(ctx context.Context, companyID string, accountIDs []string) ([]ledger.AccountSnapshot, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT company_id, account_id, account_type, allow_negative
		FROM accounts
		WHERE company_id = ? AND account_id IN (` + placeholders(len(accountIDs)) + `)`
	args := make([]any, 0, len(accountIDs)+1)
	args = append(args, companyID)
	for _, id := range accountIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var snaps []ledger.AccountSnapshot
	for rows.Next() {
		var snap ledger.AccountSnapshot
		var accountType string
		if err := rows.Scan(&snap.CompanyID, &snap.AccountID, &accountType, &snap.AllowNegative); err != nil {
			return nil, err
		}
		snap.Type = ledger.AccountType(accountType)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *Store) GetAccountBalancesCents(ctx context.Context, companyID string, accountIDs []string) (map[string]ledger.Cents, error) {
	return s.queryBalances(ctx, s.db, companyID, accountIDs)
}

// querier is the query surface shared by *sql.DB and *sql.Tx, so the balance
// replay can run both standalone and inside a commit transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) queryBalances(ctx context.Context, q querier, companyID string, accountIDs []string) (map[string]ledger.Cents, error) {
	balances := make(map[string]ledger.Cents, len(accountIDs))
	for _, id := range accountIDs {
		balances[id] = 0
	}
	if len(accountIDs) == 0 {
		return balances, nil
	}

	query := `
		SELECT e.account_id,
		       COALESCE(SUM(CASE WHEN e.side = 'DEBIT' THEN e.amount_cents ELSE -e.amount_cents END), 0)
		FROM entries e
		JOIN transactions t ON t.transaction_id = e.transaction_id
		WHERE e.company_id = ? AND t.void = FALSE
		  AND e.account_id IN (` + placeholders(len(accountIDs)) + `)
		GROUP BY e.account_id`
	args := make([]any, 0, len(accountIDs)+1)
	args = append(args, companyID)
	for _, id := range accountIDs {
		args = append(args, id)
	}

	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying balances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var accountID string
		var cents int64
		if err := rows.Scan(&accountID, &cents); err != nil {
			return nil, err
		}
		balances[accountID] = ledger.Cents(cents)
	}
	return balances, rows.Err()
}

// lockCompany serializes write transactions per company on postgres. READ
// COMMITTED would otherwise let two commits read balances that exclude each
// other's uncommitted rows. SQLite serializes writers on its own.
func (s *Store) lockCompany(ctx context.Context, dbTx *sql.Tx, companyID string) error {
	if s.driver != DriverPostgres {
		return nil
	}
	if _, err := dbTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, companyID); err != nil {
		return fmt.Errorf("locking company %s: %w", companyID, err)
	}
	return nil
}

// SaveAccountSnapshot upserts an account record. The chart of accounts is
// caller-owned; this is the seeding path.
func (s *Store) SaveAccountSnapshot(ctx context.Context, snap ledger.AccountSnapshot) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO accounts (company_id, account_id, account_type, allow_negative)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (company_id, account_id) DO UPDATE SET
			account_type = excluded.account_type,
			allow_negative = excluded.allow_negative`),
		snap.CompanyID, snap.AccountID, string(snap.Type), snap.AllowNegative)
	return err
}

func (s *Store) loadLines(ctx context.Context, transactionID string) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT line_id, transaction_id, company_id, account_id, side, amount_cents, currency, allow_negative
		FROM entries
		WHERE transaction_id = ?
		ORDER BY line_id ASC`),
		transactionID)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var lines []ledger.Entry
	for rows.Next() {
		var line ledger.Entry
		var side string
		var cents int64
		if err := rows.Scan(&line.LineID, &line.TransactionID, &line.CompanyID,
			&line.AccountID, &side, &cents, &line.Currency, &line.AllowNegative); err != nil {
			return nil, err
		}
		line.Side = ledger.Side(side)
		line.Amount = ledger.Cents(cents)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (ledger.Transaction, error) {
	var (
		tx             ledger.Transaction
		txDate         string
		txType         string
		reference      sql.NullString
		description    sql.NullString
		idempotencyKey sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)
	err := row.Scan(&tx.TransactionID, &tx.CompanyID, &tx.TransactionNumber,
		&txDate, &txType, &reference, &description, &tx.Currency,
		&idempotencyKey, &tx.Void, &createdBy, &createdAt)
	if err != nil {
		return tx, err
	}
	tx.Date, err = ledger.ParseDate(txDate)
	if err != nil {
		return tx, fmt.Errorf("stored transaction %s: %w", tx.TransactionID, err)
	}
	tx.Type = ledger.TransactionType(txType)
	tx.Reference = reference.String
	tx.Description = description.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedBy = createdBy.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return tx, nil
}

// =============================================================================
// period.Store
// =============================================================================

func (s *Store) LatestAction(ctx context.Context, companyID, periodID string) (*period.LockAction, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, company_id, period_id, from_state, to_state, reason, actor_id, at
		FROM period_lock_actions
		WHERE company_id = ? AND period_id = ?
		ORDER BY seq DESC
		LIMIT 1`),
		companyID, periodID)
	return scanLockAction(row)
}

// AppendAction resolves the current state and appends inside one database
// transaction, so concurrent transitions on a period serialize there. A
// racing transition that slips past the state comparison collides on the
// (company_id, period_id, seq) unique index and reports the same conflict.
func (s *Store) AppendAction(ctx context.Context, action period.LockAction, expectFrom period.State) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transition: %w", err)
	}
	defer dbTx.Rollback()

	if err := s.lockCompany(ctx, dbTx, action.CompanyID); err != nil {
		return err
	}

	row := dbTx.QueryRowContext(ctx, s.rebind(`
		SELECT id, company_id, period_id, from_state, to_state, reason, actor_id, at
		FROM period_lock_actions
		WHERE company_id = ? AND period_id = ?
		ORDER BY seq DESC
		LIMIT 1`),
		action.CompanyID, action.PeriodID)
	latest, err := scanLockAction(row)
	if err != nil {
		return err
	}
	current := period.Open
	if latest != nil {
		current = latest.To
	}
	if current != expectFrom {
		return period.ErrConflict
	}

	var seq int64
	if err := dbTx.QueryRowContext(ctx,
		s.rebind(`SELECT COALESCE(MAX(seq), 0) + 1 FROM period_lock_actions WHERE company_id = ? AND period_id = ?`),
		action.CompanyID, action.PeriodID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("allocating sequence: %w", err)
	}

	_, err = dbTx.ExecContext(ctx, s.rebind(`
		INSERT INTO period_lock_actions
		(id, company_id, period_id, from_state, to_state, reason, actor_id, at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		action.ID, action.CompanyID, action.PeriodID,
		string(action.From), string(action.To),
		action.Reason, action.ActorID,
		action.At.UTC().Format(time.RFC3339), seq)
	if err != nil {
		if isUniqueViolation(err) {
			return period.ErrConflict
		}
		return fmt.Errorf("appending lock action: %w", err)
	}
	return dbTx.Commit()
}

func scanLockAction(row rowScanner) (*period.LockAction, error) {
	var (
		a      period.LockAction
		from   string
		to     string
		reason sql.NullString
		actor  sql.NullString
		at     string
	)
	err := row.Scan(&a.ID, &a.CompanyID, &a.PeriodID, &from, &to, &reason, &actor, &at)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.From = period.State(from)
	a.To = period.State(to)
	a.Reason = reason.String
	a.ActorID = actor.String
	a.At, _ = time.Parse(time.RFC3339, at)
	return &a, nil
}

// =============================================================================
// revenue.ScheduleStore
// =============================================================================

func (s *Store) SaveSchedule(ctx context.Context, sched revenue.Schedule) error {
	milestones, err := json.Marshal(sched.Milestones)
	if err != nil {
		return fmt.Errorf("encoding milestones: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO revenue_schedules
		(schedule_id, company_id, currency, total_cents, revenue_account_id,
		 deferred_account_id, method, start_date, end_date, milestones_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sched.ID, sched.CompanyID, sched.Currency, int64(sched.TotalAmount),
		sched.RevenueAccountID, sched.DeferredRevenueAccountID,
		string(sched.Method), sched.Start.String(), sched.End.String(),
		string(milestones), sched.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *Store) GetSchedule(ctx context.Context, companyID, scheduleID string) (*revenue.Schedule, error) {
	var (
		sched      revenue.Schedule
		total      int64
		method     string
		start, end string
		milestones sql.NullString
		createdAt  string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT schedule_id, company_id, currency, total_cents, revenue_account_id,
		       deferred_account_id, method, start_date, end_date, milestones_json, created_at
		FROM revenue_schedules
		WHERE company_id = ? AND schedule_id = ?`),
		companyID, scheduleID).Scan(
		&sched.ID, &sched.CompanyID, &sched.Currency, &total,
		&sched.RevenueAccountID, &sched.DeferredRevenueAccountID,
		&method, &start, &end, &milestones, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sched.TotalAmount = ledger.Cents(total)
	sched.Method = revenue.Method(method)
	if sched.Start, err = ledger.ParseDate(start); err != nil {
		return nil, err
	}
	if sched.End, err = ledger.ParseDate(end); err != nil {
		return nil, err
	}
	if milestones.Valid && milestones.String != "" {
		if err := json.Unmarshal([]byte(milestones.String), &sched.Milestones); err != nil {
			return nil, fmt.Errorf("decoding milestones: %w", err)
		}
	}
	sched.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &sched, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// isUniqueViolation reports whether err is a unique-index violation. Both
// drivers surface it in the message text.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}

// translateConstraint maps database unique-constraint violations onto the
// ledger sentinels. Both drivers surface the index or column name in the
// message; anything that names neither the number nor the idempotency index
// stays a wrapped error.
func translateConstraint(err error) error {
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return fmt.Errorf("inserting transaction: %w", err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "idempotency"):
		return ledger.ErrDuplicateIdempotencyKey
	case strings.Contains(msg, "transaction_number") || strings.Contains(msg, "company_number"):
		return ledger.ErrDuplicateTransactionNumber
	default:
		return fmt.Errorf("inserting transaction: %w", err)
	}
}
