// Package models - sale_event.go defines the append-only SaleEvent record emitted once per
// committed sale, plus the outbox bookkeeping used by the relay and archiver.
package models

import "time"

// SaleEvent records one committed sale
type SaleEvent struct {
	Sequence     int64      `db:"sequence" json:"sequence"`
	ID           string     `db:"id" json:"id"`
	OrgID        string     `db:"org_id" json:"org_id"`
	ProjectIndex int        `db:"project_index" json:"project_index"`
	Buyer        string     `db:"buyer" json:"buyer"`
	Quantity     uint64     `db:"quantity" json:"quantity"`
	UnitPrice    uint64     `db:"unit_price" json:"unit_price"`
	AmountPaid   uint64     `db:"amount_paid" json:"amount_paid"`
	Refunded     uint64     `db:"refunded" json:"refunded"`
	RequestID    *string    `db:"request_id" json:"request_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	PublishedAt  *time.Time `db:"published_at" json:"-"`
	ArchivedAt   *time.Time `db:"archived_at" json:"-"`
}

// SaleEventFilter narrows a sale event listing
type SaleEventFilter struct {
	OrgID        string
	ProjectIndex *int
	Buyer        string
	After        int64 // exclusive sequence cursor
	Limit        int
}
