// Package validator holds the eligibility gate the exchange consults before admitting a
// project to a sale. The gate's policy lives outside this service; this package only
// provides the call contract and a few ways to reach it.
package validator

import (
	"context"
	"strconv"
)

// Subject identifies what is being checked. ProjectIndex is nil for an
// organization-wide check.
type Subject struct {
	OrgID        string
	ProjectIndex *int
}

// Key returns a stable string form used for caching and logging
func (s Subject) Key() string {
	if s.ProjectIndex == nil {
		return s.OrgID
	}
	return s.OrgID + "/" + strconv.Itoa(*s.ProjectIndex)
}

// Gate answers whether a subject may trade
type Gate interface {
	IsEligible(ctx context.Context, subject Subject) (bool, error)
}

// GateFunc adapts a function to the Gate interface
type GateFunc func(ctx context.Context, subject Subject) (bool, error)

// IsEligible calls f
func (f GateFunc) IsEligible(ctx context.Context, subject Subject) (bool, error) {
	return f(ctx, subject)
}

// AllowAll admits every subject
type AllowAll struct{}

// IsEligible always returns true
func (AllowAll) IsEligible(context.Context, Subject) (bool, error) {
	return true, nil
}

// Static admits organizations based on fixed allow and deny lists. A non-empty
// allow list admits only its members; the deny list always wins.
type Static struct {
	allow map[string]bool
	deny  map[string]bool
}

// NewStatic builds a Static gate from organization id lists
func NewStatic(allow, deny []string) *Static {
	s := &Static{allow: make(map[string]bool, len(allow)), deny: make(map[string]bool, len(deny))}
	for _, id := range allow {
		s.allow[id] = true
	}
	for _, id := range deny {
		s.deny[id] = true
	}
	return s
}

// IsEligible checks the subject's organization against the lists
func (s *Static) IsEligible(_ context.Context, subject Subject) (bool, error) {
	if s.deny[subject.OrgID] {
		return false, nil
	}
	if len(s.allow) > 0 {
		return s.allow[subject.OrgID], nil
	}
	return true, nil
}
