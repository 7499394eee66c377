// Package auth - scopes.go defines the permission scopes of the registry API and the
// HasScope, HasAnyScope and HasAllScopes helpers used by the RBAC middleware.
package auth

import (
	"fmt"
)

// Scope represents a permission/scope type
type Scope string

const (
	// ScopeAdmin admits organizations and implies every other scope
	ScopeAdmin Scope = "registry:admin"

	// ScopeProjectsWrite registers projects under the caller's own organization
	ScopeProjectsWrite Scope = "projects:write"

	// ScopeExchangeTrade buys credits on the exchange
	ScopeExchangeTrade Scope = "exchange:trade"

	// ScopeAccountsTransfer moves native currency out of the caller's account
	ScopeAccountsTransfer Scope = "accounts:transfer"

	// ScopeAuditRead lists audit logs
	ScopeAuditRead Scope = "audit:read"
)

// AllScopes returns all valid scopes
func AllScopes() []Scope {
	return []Scope{
		ScopeAdmin,
		ScopeProjectsWrite,
		ScopeExchangeTrade,
		ScopeAccountsTransfer,
		ScopeAuditRead,
	}
}

// ValidateScopes checks if all provided scopes are valid
func ValidateScopes(scopes []string) error {
	valid := make(map[string]bool, len(AllScopes()))
	for _, s := range AllScopes() {
		valid[string(s)] = true
	}

	for _, scope := range scopes {
		if !valid[scope] {
			return fmt.Errorf("invalid scope: %s", scope)
		}
	}
	return nil
}

// HasScope checks whether scopes grant required. registry:admin grants everything.
func HasScope(scopes []string, required Scope) bool {
	for _, scope := range scopes {
		if scope == string(required) || scope == string(ScopeAdmin) {
			return true
		}
	}
	return false
}

// HasAnyScope checks if at least one of the required scopes is granted
func HasAnyScope(scopes []string, required []Scope) bool {
	for _, r := range required {
		if HasScope(scopes, r) {
			return true
		}
	}
	return false
}

// HasAllScopes checks if every required scope is granted
func HasAllScopes(scopes []string, required []Scope) bool {
	for _, r := range required {
		if !HasScope(scopes, r) {
			return false
		}
	}
	return true
}

// DefaultScopes returns the scopes of a new API key when none are requested
func DefaultScopes() []string {
	return []string{string(ScopeExchangeTrade)}
}

// OrganizationScopes returns the scopes an organization's own key normally carries
func OrganizationScopes() []string {
	return []string{string(ScopeProjectsWrite), string(ScopeExchangeTrade), string(ScopeAccountsTransfer)}
}

// AdminScopes returns every scope
func AdminScopes() []string {
	out := make([]string, 0, len(AllScopes()))
	for _, s := range AllScopes() {
		out = append(out, string(s))
	}
	return out
}
