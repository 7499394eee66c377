// Package models - audit_log.go defines the AuditLog model for recording state-changing API
// calls, capturing actor, action, affected resource, client IP, and arbitrary metadata.
package models

import "time"

// AuditLog represents an audit log entry for tracking account actions
type AuditLog struct {
	ID           string
	AccountID    *string                // Nullable for anonymous requests
	Action       string                 // "POST /api/v1/organizations/:org/projects"
	ResourceType *string                // "organization", "project", "sale", "account"
	ResourceID   *string
	Metadata     map[string]interface{} // JSONB: additional context
	IPAddress    *string
	CreatedAt    time.Time
}
