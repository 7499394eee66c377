// account_repository.go implements AccountRepository, providing balance lookups, transfers
// and genesis account creation on the accounts table.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/cct-registry/cct-registry/internal/registry"
)

// AccountRepository handles database operations for currency accounts
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetAccount retrieves an account by ID
func (r *AccountRepository) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var acct models.Account
	err := r.db.GetContext(ctx, &acct, `SELECT id, balance, created_at, updated_at FROM accounts WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &acct, nil
}

// OpenAccount creates the account with balance unless it exists
func (r *AccountRepository) OpenAccount(ctx context.Context, id string, balance int64) (bool, error) {
	now := time.Now()
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO NOTHING
	`, id, balance, now)
	if err != nil {
		return false, fmt.Errorf("failed to open account: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to open account: %w", err)
	}
	return rows > 0, nil
}

// Transfer moves amount from one account to another in a single transaction
func (r *AccountRepository) Transfer(ctx context.Context, from, to string, amount int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	deltas := map[string]int64{}
	deltas[from] -= amount
	deltas[to] += amount
	if err := applyPostings(ctx, tx, deltas); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transfer: %w", err)
	}
	return nil
}

// applyPostings applies net balance changes in account id order so that concurrent
// transactions always lock accounts in the same sequence. A debit that would take a
// balance below zero (or hits a missing account) aborts with registry.ErrInsufficientFunds.
// A credit past the BIGINT range aborts with registry.ErrBalanceOverflow.
func applyPostings(ctx context.Context, tx *sqlx.Tx, deltas map[string]int64) error {
	ids := make([]string, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := time.Now()
	for _, id := range ids {
		delta := deltas[id]
		switch {
		case delta < 0:
			result, err := tx.ExecContext(ctx, `
				UPDATE accounts SET balance = balance + $2, updated_at = $3
				WHERE id = $1 AND balance + $2 >= 0
			`, id, delta, now)
			if err != nil {
				return fmt.Errorf("failed to debit account %s: %w", id, err)
			}
			rows, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to debit account %s: %w", id, err)
			}
			if rows == 0 {
				return fmt.Errorf("account %s: %w", id, registry.ErrInsufficientFunds)
			}
		case delta > 0:
			result, err := tx.ExecContext(ctx, `
				INSERT INTO accounts (id, balance, created_at, updated_at)
				VALUES ($1, $2, $3, $3)
				ON CONFLICT (id) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
				WHERE accounts.balance <= 9223372036854775807 - EXCLUDED.balance
			`, id, delta, now)
			if err != nil {
				return fmt.Errorf("failed to credit account %s: %w", id, err)
			}
			rows, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to credit account %s: %w", id, err)
			}
			if rows == 0 {
				return fmt.Errorf("account %s: %w", id, registry.ErrBalanceOverflow)
			}
		}
	}
	return nil
}
