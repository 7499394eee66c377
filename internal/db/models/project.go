// Package models - project.go defines the Project model: an emission-reduction project with
// a fixed CCT allotment and a cumulative sold counter.
package models

import "time"

// ProjectState is the accounting state of a project
type ProjectState string

const (
	ProjectStateCreated       ProjectState = "created"
	ProjectStatePartiallySold ProjectState = "partially_sold"
	ProjectStateFullySold     ProjectState = "fully_sold"
)

// Project represents a project registered by an organization. Index is the
// 0-based position in the organization's project sequence.
type Project struct {
	OrgID            string    `db:"org_id" json:"org_id"`
	Index            int       `db:"project_index" json:"index"`
	Name             string    `db:"name" json:"name"`
	Description      string    `db:"description" json:"description"`
	CCTAmount        uint64    `db:"cct_amount" json:"cct_amount"`
	CCTListed        uint64    `db:"cct_listed" json:"cct_listed"`
	CCTListedInitial uint64    `db:"cct_listed_initial" json:"cct_listed_initial"` // advisory seed, never counted as sold
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Available returns the quantity that can still be sold
func (p *Project) Available() uint64 {
	if p.CCTListed >= p.CCTAmount {
		return 0
	}
	return p.CCTAmount - p.CCTListed
}

// State derives the accounting state from the counters
func (p *Project) State() ProjectState {
	switch {
	case p.CCTListed == 0:
		return ProjectStateCreated
	case p.CCTListed >= p.CCTAmount:
		return ProjectStateFullySold
	default:
		return ProjectStatePartiallySold
	}
}
