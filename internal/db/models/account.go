// Package models - account.go defines the Account model holding a native currency balance.
package models

import "time"

// Account is a native currency balance keyed by account identity
type Account struct {
	ID        string    `db:"id" json:"id"`
	Balance   int64     `db:"balance" json:"balance"` // minor units, never negative
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
