// settlement_repository.go implements SettlementRepository: the single transaction that
// commits a sale's supply increment, currency postings and sale event together.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/cct-registry/cct-registry/internal/registry"
)

// saleEventLockKey names the transaction-scoped advisory lock that orders sale event
// inserts. Holding it from the insert until commit makes sequences become visible in
// ascending order, so a reader paging with an "after" cursor never passes a sequence
// that is still uncommitted.
const saleEventLockKey int64 = 0x63637473616c65

// SettlementRepository commits sales
type SettlementRepository struct {
	db *sqlx.DB
}

// NewSettlementRepository creates a new settlement repository
func NewSettlementRepository(db *sqlx.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// Settle commits s or nothing. The project row is locked first by the conditional
// update, then accounts in id order, then the sale event lock.
func (r *SettlementRepository) Settle(ctx context.Context, s *models.Settlement) (*models.SaleReceipt, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	project, err := incrementListed(ctx, tx, s.OrgID, s.ProjectIndex, s.Quantity)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fmt.Errorf("project %s/%d: %w", s.OrgID, s.ProjectIndex, registry.ErrNotFound)
	}

	var payout string
	err = tx.GetContext(ctx, &payout, `SELECT payout_account FROM organizations WHERE id = $1`, s.OrgID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("organization %q: %w", s.OrgID, registry.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout account: %w", err)
	}

	deltas := map[string]int64{}
	deltas[s.Buyer] -= int64(s.Debit)
	deltas[payout] += int64(s.Proceeds)
	if s.Retained > 0 {
		deltas[s.TreasuryAccount] += int64(s.Retained)
	}
	if err := applyPostings(ctx, tx, deltas); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, saleEventLockKey); err != nil {
		return nil, fmt.Errorf("failed to lock sale event sequence: %w", err)
	}
	event, err := insertSaleEvent(ctx, tx, s)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	return &models.SaleReceipt{Project: project, Event: event, Refunded: s.Refunded}, nil
}

func insertSaleEvent(ctx context.Context, tx *sqlx.Tx, s *models.Settlement) (*models.SaleEvent, error) {
	ev := &models.SaleEvent{
		ID:           uuid.New().String(),
		OrgID:        s.OrgID,
		ProjectIndex: s.ProjectIndex,
		Buyer:        s.Buyer,
		Quantity:     s.Quantity,
		UnitPrice:    s.UnitPrice,
		AmountPaid:   s.Proceeds,
		Refunded:     s.Refunded,
	}
	if s.RequestID != "" {
		rid := s.RequestID
		ev.RequestID = &rid
	}

	query := `
		INSERT INTO sale_events (id, org_id, project_index, buyer, quantity, unit_price, amount_paid, refunded, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING sequence, created_at
	`
	err := tx.QueryRowxContext(ctx, query,
		ev.ID,
		ev.OrgID,
		ev.ProjectIndex,
		ev.Buyer,
		int64(ev.Quantity),
		int64(ev.UnitPrice),
		int64(ev.AmountPaid),
		int64(ev.Refunded),
		ev.RequestID,
	).Scan(&ev.Sequence, &ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record sale event: %w", err)
	}
	return ev, nil
}
