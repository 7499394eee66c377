// Package ledger exposes the native currency primitives the exchange settles against:
// account balances, plain transfers between accounts, and the one-time opening balances
// loaded from configuration.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/cct-registry/cct-registry/internal/registry"
)

// Store persists balances. Lookups return (nil, nil) for unknown accounts.
type Store interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	// Transfer moves amount atomically, opening the destination account if needed.
	// It returns registry.ErrInsufficientFunds without moving anything when the
	// source balance is too low, and registry.ErrBalanceOverflow when the credit
	// would leave the int64 range.
	Transfer(ctx context.Context, from, to string, amount int64) error
	// OpenAccount creates the account with balance if it does not exist yet and
	// reports whether it did.
	OpenAccount(ctx context.Context, id string, balance int64) (bool, error)
}

// Service wraps a Store with input validation
type Service struct {
	store Store
}

// NewService creates a ledger service
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Balance returns an account's balance. Unknown accounts hold zero.
func (s *Service) Balance(ctx context.Context, id string) (*models.Account, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return &models.Account{ID: id}, nil
	}
	return acct, nil
}

// Transfer moves amount from one account to another
func (s *Service) Transfer(ctx context.Context, from, to string, amount uint64) error {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" {
		return fmt.Errorf("%w: source and destination accounts are required", registry.ErrInvalidName)
	}
	if from == to {
		return fmt.Errorf("%w: cannot transfer to the same account", registry.ErrInvalidAmount)
	}
	if amount == 0 || amount > math.MaxInt64 {
		return fmt.Errorf("%w: transfer amount must be between 1 and %d", registry.ErrInvalidAmount, int64(math.MaxInt64))
	}
	if err := s.store.Transfer(ctx, from, to, int64(amount)); err != nil {
		return err
	}
	slog.Info("transfer committed", "from", from, "to", to, "amount", amount)
	return nil
}

// ApplyGenesis opens every configured account that does not exist yet. Existing
// accounts are left untouched, so restarts never mint currency twice.
func (s *Service) ApplyGenesis(ctx context.Context, balances map[string]int64) error {
	ids := make([]string, 0, len(balances))
	for id := range balances {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		opened, err := s.store.OpenAccount(ctx, id, balances[id])
		if err != nil {
			return fmt.Errorf("failed to open genesis account %s: %w", id, err)
		}
		if opened {
			slog.Info("genesis account opened", "account", id, "balance", balances[id])
		}
	}
	return nil
}
