package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hongminglow/all-in-floor/internal/models"
	"github.com/hongminglow/all-in-floor/internal/storage"
)

// Ensure Store satisfies the storage.Store interface at compile time.
var _ storage.Store = (*Store)(nil)

// Store provides Postgres-backed persistence for users and their ledger.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store and runs migrations.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close releases database resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Constraints are applied after the tables exist. Every SQL backend runs
// them so the same database behaves the same whichever driver opened it.
var Constraints = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS users_username_lower_idx ON users (LOWER(username));`,
	`CREATE INDEX IF NOT EXISTS balance_transactions_user_idx ON balance_transactions (user_id, id);`,
	`CREATE OR REPLACE FUNCTION balance_transactions_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'balance_transactions is append-only';
	END;
	$$ LANGUAGE plpgsql;`,
	`DROP TRIGGER IF EXISTS balance_transactions_no_mutation ON balance_transactions;`,
	`CREATE TRIGGER balance_transactions_no_mutation BEFORE UPDATE OR DELETE ON balance_transactions
		FOR EACH ROW EXECUTE FUNCTION balance_transactions_append_only();`,
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			balance NUMERIC(24,2) NOT NULL DEFAULT 0,
			initial_balance NUMERIC(24,2) NOT NULL DEFAULT 0,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS role TEXT NOT NULL DEFAULT 'user';`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS balance NUMERIC(24,2) NOT NULL DEFAULT 0;`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS initial_balance NUMERIC(24,2) NOT NULL DEFAULT 0;`,
		`CREATE TABLE IF NOT EXISTS balance_transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			kind TEXT NOT NULL CHECK (kind IN ('deposit', 'withdraw')),
			amount NUMERIC(24,2) NOT NULL CHECK (amount > 0),
			balance_after NUMERIC(24,2) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
	}
	for _, stmt := range append(stmts, Constraints...) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}

const userColumns = `id, username, role, balance::text, initial_balance::text, password_hash, created_at`

// CreateUser inserts a new user row. initial_balance is pinned to balance.
func (s *Store) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	query := `
		INSERT INTO users (username, role, balance, initial_balance, password_hash)
		VALUES ($1, $2, $3::numeric, $3::numeric, $4)
		RETURNING ` + userColumns
	row := s.pool.QueryRow(ctx, query, user.Username, user.Role, numeric(user.Balance), user.PasswordHash)
	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.User{}, storage.ErrAlreadyExists
		}
		return models.User{}, err
	}
	return created, nil
}

// FindByID fetches a user by id.
func (s *Store) FindByID(ctx context.Context, id int64) (models.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// FindByUsername fetches a user by username, case-insensitively.
func (s *Store) FindByUsername(ctx context.Context, username string) (models.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(username) = LOWER($1)`, username)
	return scanUser(row)
}

// ListUsers returns every user ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// SetRole changes a user's role.
func (s *Store) SetRole(ctx context.Context, id int64, role string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET role = $2 WHERE id = $1`, id, role)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const transactionColumns = `id, user_id, kind, amount::text, balance_after::text, description, created_at`

// Transactions lists a user's records, oldest first.
func (s *Store) Transactions(ctx context.Context, userID int64) ([]models.Transaction, error) {
	if _, err := s.FindByID(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+transactionColumns+` FROM balance_transactions WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// WithUserLock runs fn inside a database transaction. The user's row is
// locked by the first GetBalance (SELECT ... FOR UPDATE) and released on
// commit or rollback.
func (s *Store) WithUserLock(ctx context.Context, userID int64, fn func(tx storage.LedgerTx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&ledgerTx{tx: tx, userID: userID})
	})
}

type ledgerTx struct {
	tx     pgx.Tx
	userID int64
}

func (t *ledgerTx) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	if userID != t.userID {
		return decimal.Zero, storage.ErrWrongUser
	}
	var text string
	err := t.tx.QueryRow(ctx, `SELECT balance::text FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, storage.ErrNotFound
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(text)
}

func (t *ledgerTx) SetBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	if userID != t.userID {
		return storage.ErrWrongUser
	}
	tag, err := t.tx.Exec(ctx, `UPDATE users SET balance = $2::numeric WHERE id = $1`, userID, numeric(balance))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) Append(ctx context.Context, rec models.Transaction) (models.Transaction, error) {
	if rec.UserID != t.userID {
		return models.Transaction{}, storage.ErrWrongUser
	}
	row := t.tx.QueryRow(ctx, `
		INSERT INTO balance_transactions (user_id, kind, amount, balance_after, description)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5)
		RETURNING `+transactionColumns,
		rec.UserID, string(rec.Kind), numeric(rec.Amount), numeric(rec.BalanceAfter), rec.Description)
	return scanTransaction(row)
}

// numeric renders d for a NUMERIC(24,2) parameter.
func numeric(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	var balance, initial string
	if err := row.Scan(&user.ID, &user.Username, &user.Role, &balance, &initial, &user.PasswordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrNotFound
		}
		return models.User{}, err
	}
	var err error
	if user.Balance, err = decimal.NewFromString(balance); err != nil {
		return models.User{}, fmt.Errorf("parse balance: %w", err)
	}
	if user.InitialBalance, err = decimal.NewFromString(initial); err != nil {
		return models.User{}, fmt.Errorf("parse initial balance: %w", err)
	}
	return user, nil
}

func scanTransaction(row pgx.Row) (models.Transaction, error) {
	var rec models.Transaction
	var kind, amount, after string
	if err := row.Scan(&rec.ID, &rec.UserID, &kind, &amount, &after, &rec.Description, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Transaction{}, storage.ErrNotFound
		}
		return models.Transaction{}, err
	}
	rec.Kind = models.Kind(kind)
	var err error
	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return models.Transaction{}, fmt.Errorf("parse amount: %w", err)
	}
	if rec.BalanceAfter, err = decimal.NewFromString(after); err != nil {
		return models.Transaction{}, fmt.Errorf("parse balance_after: %w", err)
	}
	return rec, nil
}
