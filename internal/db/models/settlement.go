// Package models - settlement.go defines the inputs and result of one atomic sale settlement.
package models

// Settlement is everything a ledger needs to commit one sale in a single transaction
type Settlement struct {
	OrgID        string
	ProjectIndex int
	Buyer        string
	Quantity     uint64
	UnitPrice    uint64
	// Debit is taken from the buyer: the required amount, plus any retained excess
	Debit uint64
	// Proceeds is credited to the organization's payout account
	Proceeds uint64
	// Retained is credited to TreasuryAccount (zero unless excess is kept)
	Retained        uint64
	TreasuryAccount string
	// Refunded is the attached excess that was never debited
	Refunded  uint64
	RequestID string
}

// SaleReceipt is the committed outcome of a settlement
type SaleReceipt struct {
	Project  *Project   `json:"project"`
	Event    *SaleEvent `json:"event"`
	Refunded uint64     `json:"refunded"`
}
