// Package models - organization.go defines the Organization model: a participant admitted
// by the registry administrator that owns an ordered sequence of projects.
package models

import "time"

// Organization represents a registered carbon-credit issuer
type Organization struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	PayoutAccount string    `db:"payout_account" json:"payout_account"` // receives sale proceeds
	CreatedBy     string    `db:"created_by" json:"created_by"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
