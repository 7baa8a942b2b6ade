// Package postgres is the canonical store. Placement and resolution run the
// engine inside a single transaction here, so balances, order fill state and
// ledger entries either all move together or not at all.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"PredictionMarket/internal/domain/models"

	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
)

const uniqueViolation = "23505"

var (
	ErrUserAlreadyExists   = errors.New("user already exists")
	ErrUserNotExists       = errors.New("user does not exist")
	ErrWalletNotExists     = errors.New("wallet does not exist")
	ErrOrderNotExists      = errors.New("order does not exist")
	ErrOrderNotCancellable = errors.New("order is not cancellable")
	ErrMarketNotExists     = errors.New("market does not exist")
	ErrMarketClosed        = errors.New("market is closed")
	ErrDuplicateOrder      = errors.New("duplicate order at same terms")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrDuplicateReference  = errors.New("ledger reference already recorded")
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Storage struct {
	db *pgxpool.Pool
}

func New(connString string) (*Storage, error) {
	const op = "postgres.New"
	log := slog.With("op", op)

	db, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		log.Error("failed to connect to database", "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := db.Ping(context.Background()); err != nil {
		log.Error("failed to ping database", "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := runMigrations(connString); err != nil {
		log.Error("failed to run migrations", "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() {
	s.db.Close()
}

func runMigrations(connString string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	// golang-migrate selects its driver by URL scheme.
	migrateURL := strings.Replace(connString, "postgres://", "pgx5://", 1)
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Storage) CreateUser(ctx context.Context,
	email string,
	passHash []byte,
	createdAt time.Time) (int64, error) {
	const op = "postgres.CreateUser"
	log := slog.With("op", op)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		log.Error("failed to begin transaction", "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	const queryCreateUser = `INSERT INTO users(email, pass_hash, created) VALUES ($1, $2, $3) RETURNING id`
	var userId int64
	err = tx.QueryRow(ctx, queryCreateUser, email, passHash, createdAt).Scan(&userId)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			log.Error("user already exists", "email", email)
			return 0, ErrUserAlreadyExists
		}
		log.Error("failed to create user", "email", email, "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	// Every user gets a wallet in the same transaction: a user row without
	// a wallet would make every later money operation fail.
	const queryCreateWallet = `INSERT INTO wallets(id, user_id, balance) VALUES ($1, $2, 0)`
	if _, err := tx.Exec(ctx, queryCreateWallet, uuid.New(), userId); err != nil {
		log.Error("failed to create wallet", "user_id", userId, "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Error("failed to commit transaction", "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return userId, nil
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	const op = "postgres.GetUserByEmail"

	const query = `SELECT id, email, pass_hash, verified, created FROM users WHERE email = $1`
	var user models.User
	err := s.db.QueryRow(ctx, query, email).
		Scan(&user.Id, &user.Email, &user.PassHash, &user.Verified, &user.Created)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrUserNotExists
	}
	if err != nil {
		slog.Error("failed to get user", "op", op, "email", email, "err", err)
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) GetUserById(ctx context.Context, id int64) (models.User, error) {
	const op = "postgres.GetUserById"

	const query = `SELECT id, email, pass_hash, verified, created FROM users WHERE id = $1`
	var user models.User
	err := s.db.QueryRow(ctx, query, id).
		Scan(&user.Id, &user.Email, &user.PassHash, &user.Verified, &user.Created)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrUserNotExists
	}
	if err != nil {
		slog.Error("failed to get user", "op", op, "id", id, "err", err)
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) MarkUserVerified(ctx context.Context, id int64) error {
	const op = "postgres.MarkUserVerified"

	tag, err := s.db.Exec(ctx, `UPDATE users SET verified = TRUE WHERE id = $1`, id)
	if err != nil {
		slog.Error("failed to mark user verified", "op", op, "id", id, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotExists
	}
	return nil
}

func (s *Storage) GetWallet(ctx context.Context, userId int64) (models.Wallet, error) {
	const op = "postgres.GetWallet"

	const query = `SELECT id, user_id, balance, currency, created FROM wallets WHERE user_id = $1`
	var w models.Wallet
	err := s.db.QueryRow(ctx, query, userId).
		Scan(&w.Id, &w.UserId, &w.Balance, &w.Currency, &w.Created)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Wallet{}, ErrWalletNotExists
	}
	if err != nil {
		slog.Error("failed to get wallet", "op", op, "user_id", userId, "err", err)
		return models.Wallet{}, fmt.Errorf("%s: %w", op, err)
	}

	return w, nil
}

func (s *Storage) GetBalance(ctx context.Context, userId int64) (decimal.Decimal, error) {
	const op = "postgres.GetBalance"

	const query = `SELECT balance FROM wallets WHERE user_id = $1`
	var balance decimal.Decimal
	err := s.db.QueryRow(ctx, query, userId).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrWalletNotExists
	}
	if err != nil {
		slog.Error("failed to get balance", "op", op, "user_id", userId, "err", err)
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}

	return balance, nil
}

// Credit adds amount to the user's wallet and records a ledger entry, in one
// transaction. The reference makes the credit idempotent: a second call with
// the same reference returns ErrDuplicateReference and moves no money.
func (s *Storage) Credit(ctx context.Context,
	userId int64,
	amount decimal.Decimal,
	entry models.LedgerEntry) (decimal.Decimal, error) {
	const op = "postgres.Credit"
	log := slog.With("op", op, "user_id", userId)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		log.Error("failed to begin transaction", "err", err)
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	if err := insertLedgerEntry(ctx, tx, entry); err != nil {
		if !errors.Is(err, ErrDuplicateReference) {
			log.Error("failed to insert ledger entry", "err", err)
		}
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}

	var newBalance decimal.Decimal
	err = tx.QueryRow(ctx,
		`UPDATE wallets SET balance = balance + $1 WHERE user_id = $2 RETURNING balance`,
		amount, userId,
	).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrWalletNotExists
	}
	if err != nil {
		log.Error("failed to increase balance", "err", err)
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Error("failed to commit transaction", "err", err)
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("balance credited", "amount", amount, "balance", newBalance)
	return newBalance, nil
}

// Debit removes amount from the user's wallet and records a ledger entry.
// The wallet row lock plus the non-negative balance check serialize
// concurrent debits.
func (s *Storage) Debit(ctx context.Context,
	userId int64,
	amount decimal.Decimal,
	entry models.LedgerEntry) (decimal.Decimal, error) {
	const op = "postgres.Debit"
	log := slog.With("op", op, "user_id", userId)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		log.Error("failed to begin transaction", "err", err)
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	var newBalance decimal.Decimal
	err = tx.QueryRow(ctx,
		`UPDATE wallets SET balance = balance - $1 WHERE user_id = $2 RETURNING balance`,
		amount, userId,
	).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrWalletNotExists
	}
	if err != nil {
		if isCheckViolation(err) {
			return decimal.Zero, ErrInsufficientFunds
		}
		log.Error("failed to decrease balance", "err", err)
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}
	if newBalance.IsNegative() {
		return decimal.Zero, ErrInsufficientFunds
	}

	if err := insertLedgerEntry(ctx, tx, entry); err != nil {
		log.Error("failed to insert ledger entry", "err", err)
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Error("failed to commit transaction", "err", err)
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("balance debited", "amount", amount, "balance", newBalance)
	return newBalance, nil
}

func (s *Storage) GetLedgerEntries(ctx context.Context, userId int64) ([]models.LedgerEntry, error) {
	const op = "postgres.GetLedgerEntries"

	const query = `
        SELECT id, user_id, kind, amount, fee, status, description, reference, metadata, created_at
        FROM ledger_entries
        WHERE user_id = $1
        ORDER BY created_at DESC`
	rows, err := s.db.Query(ctx, query, userId)
	if err != nil {
		slog.Error("failed to get ledger entries", "op", op, "user_id", userId, "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var ref *string
		err := rows.Scan(&e.Id, &e.UserId, &e.Kind, &e.Amount, &e.Fee, &e.Status,
			&e.Description, &ref, &e.Metadata, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if ref != nil {
			e.Reference = *ref
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func insertLedgerEntry(ctx context.Context, tx pgx.Tx, e models.LedgerEntry) error {
	const query = `
        INSERT INTO ledger_entries(id, user_id, kind, amount, fee, status, description, reference, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	var ref *string
	if e.Reference != "" {
		ref = &e.Reference
	}
	_, err := tx.Exec(ctx, query,
		e.Id, e.UserId, e.Kind, e.Amount, e.Fee, e.Status, e.Description, ref, e.Metadata, e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}
