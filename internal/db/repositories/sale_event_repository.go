// sale_event_repository.go implements SaleEventRepository, providing sale event queries,
// outbox bookkeeping for the relay, and archive segment records.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cct-registry/cct-registry/internal/db/models"
)

const saleEventColumns = `sequence, id, org_id, project_index, buyer, quantity, unit_price, amount_paid,
	refunded, request_id, created_at, published_at, archived_at`

// SaleEventRepository handles database operations for sale events and their archives
type SaleEventRepository struct {
	db *sqlx.DB
}

// NewSaleEventRepository creates a new sale event repository
func NewSaleEventRepository(db *sqlx.DB) *SaleEventRepository {
	return &SaleEventRepository{db: db}
}

// ListSaleEvents returns events matching f in sequence order
func (r *SaleEventRepository) ListSaleEvents(ctx context.Context, f models.SaleEventFilter) ([]*models.SaleEvent, error) {
	query := `SELECT ` + saleEventColumns + ` FROM sale_events WHERE sequence > $1`
	args := []interface{}{f.After}
	paramIndex := 2

	if f.OrgID != "" {
		query += fmt.Sprintf(` AND org_id = $%d`, paramIndex)
		args = append(args, f.OrgID)
		paramIndex++
	}
	if f.ProjectIndex != nil {
		query += fmt.Sprintf(` AND project_index = $%d`, paramIndex)
		args = append(args, *f.ProjectIndex)
		paramIndex++
	}
	if f.Buyer != "" {
		query += fmt.Sprintf(` AND buyer = $%d`, paramIndex)
		args = append(args, f.Buyer)
		paramIndex++
	}

	query += ` ORDER BY sequence`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramIndex)
		args = append(args, f.Limit)
	}

	events := make([]*models.SaleEvent, 0)
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list sale events: %w", err)
	}
	return events, nil
}

// ListUnpublished returns up to limit events not yet delivered to the sinks
func (r *SaleEventRepository) ListUnpublished(ctx context.Context, limit int) ([]*models.SaleEvent, error) {
	events := make([]*models.SaleEvent, 0)
	query := `SELECT ` + saleEventColumns + ` FROM sale_events WHERE published_at IS NULL ORDER BY sequence LIMIT $1`
	if err := r.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list unpublished sale events: %w", err)
	}
	return events, nil
}

// MarkPublished stamps the given events as delivered
func (r *SaleEventRepository) MarkPublished(ctx context.Context, sequences []int64, at time.Time) error {
	if len(sequences) == 0 {
		return nil
	}
	query := `UPDATE sale_events SET published_at = $1 WHERE sequence = ANY($2) AND published_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, at, pq.Array(sequences)); err != nil {
		return fmt.Errorf("failed to mark sale events published: %w", err)
	}
	return nil
}

// ListUnarchived returns up to limit published events not yet sealed into a segment
func (r *SaleEventRepository) ListUnarchived(ctx context.Context, limit int) ([]*models.SaleEvent, error) {
	events := make([]*models.SaleEvent, 0)
	query := `SELECT ` + saleEventColumns + ` FROM sale_events
		WHERE published_at IS NOT NULL AND archived_at IS NULL
		ORDER BY sequence LIMIT $1`
	if err := r.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list unarchived sale events: %w", err)
	}
	return events, nil
}

// RecordArchive inserts the segment record and marks its events archived. Every listed
// sequence must still be unarchived, otherwise nothing is written.
func (r *SaleEventRepository) RecordArchive(ctx context.Context, archive *models.EventArchive, sequences []int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	archive.CreatedAt = time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO event_archives (id, first_sequence, last_sequence, event_count, storage_path, storage_backend, checksum, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		archive.ID,
		archive.FirstSequence,
		archive.LastSequence,
		archive.EventCount,
		archive.StoragePath,
		archive.StorageBackend,
		archive.Checksum,
		archive.SizeBytes,
		archive.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event archive: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE sale_events SET archived_at = $1 WHERE sequence = ANY($2) AND archived_at IS NULL`,
		archive.CreatedAt, pq.Array(sequences))
	if err != nil {
		return fmt.Errorf("failed to mark sale events archived: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark sale events archived: %w", err)
	}
	if rows != int64(len(sequences)) {
		return fmt.Errorf("archive %s covers %d events but only %d were unarchived", archive.ID, len(sequences), rows)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event archive: %w", err)
	}
	return nil
}

// ListArchives returns sealed segments ordered by first sequence
func (r *SaleEventRepository) ListArchives(ctx context.Context) ([]*models.EventArchive, error) {
	archives := make([]*models.EventArchive, 0)
	query := `SELECT id, first_sequence, last_sequence, event_count, storage_path, storage_backend, checksum, size_bytes, created_at
		FROM event_archives ORDER BY first_sequence`
	if err := r.db.SelectContext(ctx, &archives, query); err != nil {
		return nil, fmt.Errorf("failed to list event archives: %w", err)
	}
	return archives, nil
}
