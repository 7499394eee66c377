// Package models defines the persisted types of the CCT ledger.
// Each type corresponds to a database table. Models are plain data: business rules live in the
// registry and exchange services, query logic lives in the repositories layer.
package models

import "time"

// APIKey represents an API key bound to an account identity
type APIKey struct {
	ID         string
	AccountID  string
	Name       string     // Friendly name (e.g., "Trading desk")
	KeyHash    string     // Bcrypt hash of the full key
	KeyPrefix  string     // First chars for display and lookup (e.g., "cct_abc123")
	Scopes     []string   // JSONB array: ["exchange:trade", "accounts:transfer"]
	ExpiresAt  *time.Time // Optional expiration
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// IsExpired reports whether the key has passed its expiry
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
