// Package registry is the organization registry: the single source of truth for which
// organizations exist, which projects they own, and how much of each project's CCT
// allotment has been sold.
//
// Organizations are admitted only by the configured administrator identity. Each
// organization owns an ordered project sequence; a project's index is its position in
// that sequence and is never reused. The sold counter (cct_listed) only moves through
// ProjectStore.IncrementListed, a single conditional update that is the serialization
// point for every sale. RecordSale calls it directly. The exchange records its sales
// through Ledger.Settle, which runs the same increment inside the settlement
// transaction before any currency moves, so a sale that loses the race for supply
// leaves balances and the event log untouched.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/cct-registry/cct-registry/internal/telemetry"
)

// OrganizationStore persists organizations. Lookups return (nil, nil) when the
// organization does not exist.
type OrganizationStore interface {
	// CreateOrganization returns ErrDuplicateOrganization when the id is taken
	CreateOrganization(ctx context.Context, org *models.Organization) error
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
	ListOrganizations(ctx context.Context) ([]*models.Organization, error)
}

// ProjectStore persists projects. Lookups return (nil, nil) when the project does not exist.
type ProjectStore interface {
	// CreateProject appends p to its organization's sequence and returns the assigned index
	CreateProject(ctx context.Context, p *models.Project) (int, error)
	GetProject(ctx context.Context, orgID string, index int) (*models.Project, error)
	ListProjects(ctx context.Context, orgID string) ([]*models.Project, error)
	// IncrementListed adds quantity to cct_listed as one indivisible step. It returns
	// ErrInsufficientSupply, leaving the project untouched, when the allotment would be
	// exceeded, and (nil, nil) when the project does not exist.
	IncrementListed(ctx context.Context, orgID string, index int, quantity uint64) (*models.Project, error)
}

// Registry implements the organization registry operations
type Registry struct {
	orgs     OrganizationStore
	projects ProjectStore
	admin    string
}

// New creates a registry whose organization admissions are gated on admin
func New(orgs OrganizationStore, projects ProjectStore, admin string) *Registry {
	return &Registry{orgs: orgs, projects: projects, admin: admin}
}

// Admin returns the configured administrator identity
func (r *Registry) Admin() string {
	return r.admin
}

// AddOrganization admits a new organization. Only the administrator may call it.
// An empty payoutAccount routes proceeds to the organization's own identity.
func (r *Registry) AddOrganization(ctx context.Context, caller, orgID, name, payoutAccount string) (*models.Organization, error) {
	if caller == "" || caller != r.admin {
		slog.Warn("rejected organization registration from non-admin caller", "caller", caller, "org_id", orgID)
		return nil, ErrUnauthorized
	}

	orgID = strings.TrimSpace(orgID)
	name = strings.TrimSpace(name)
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidName)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: organization name is required", ErrInvalidName)
	}
	if payoutAccount = strings.TrimSpace(payoutAccount); payoutAccount == "" {
		payoutAccount = orgID
	}

	org := &models.Organization{
		ID:            orgID,
		Name:          name,
		PayoutAccount: payoutAccount,
		CreatedBy:     caller,
	}
	if err := r.orgs.CreateOrganization(ctx, org); err != nil {
		return nil, err
	}

	telemetry.OrganizationsRegisteredTotal.Inc()
	slog.Info("organization registered", "org_id", org.ID, "name", org.Name)
	return org, nil
}

// GetOrganization returns the organization record
func (r *Registry) GetOrganization(ctx context.Context, orgID string) (*models.Organization, error) {
	org, err := r.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, fmt.Errorf("organization %q: %w", orgID, ErrNotFound)
	}
	return org, nil
}

// GetOrganizationName returns the organization's name
func (r *Registry) GetOrganizationName(ctx context.Context, orgID string) (string, error) {
	org, err := r.GetOrganization(ctx, orgID)
	if err != nil {
		return "", err
	}
	return org.Name, nil
}

// ListOrganizations returns every registered organization
func (r *Registry) ListOrganizations(ctx context.Context) ([]*models.Organization, error) {
	return r.orgs.ListOrganizations(ctx)
}

// AddProject appends a project to the calling organization's sequence and returns its
// index. cctListedInitial is recorded as given but does not count as sold.
func (r *Registry) AddProject(ctx context.Context, callerOrgID, name, description string, cctAmount, cctListedInitial uint64) (int, error) {
	if cctAmount == 0 || cctAmount > math.MaxInt64 {
		return 0, fmt.Errorf("%w: cct amount must be between 1 and %d", ErrInvalidAmount, int64(math.MaxInt64))
	}
	if cctListedInitial > cctAmount {
		return 0, fmt.Errorf("%w: initial listed quantity %d exceeds amount %d", ErrInvalidAmount, cctListedInitial, cctAmount)
	}
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("%w: project name is required", ErrInvalidName)
	}
	if _, err := r.GetOrganization(ctx, callerOrgID); err != nil {
		return 0, err
	}

	p := &models.Project{
		OrgID:            callerOrgID,
		Name:             name,
		Description:      description,
		CCTAmount:        cctAmount,
		CCTListedInitial: cctListedInitial,
	}
	index, err := r.projects.CreateProject(ctx, p)
	if err != nil {
		return 0, err
	}

	telemetry.ProjectsRegisteredTotal.Inc()
	slog.Info("project registered", "org_id", callerOrgID, "project_index", index, "cct_amount", cctAmount)
	return index, nil
}

// GetProject returns a project by organization and index
func (r *Registry) GetProject(ctx context.Context, orgID string, index int) (*models.Project, error) {
	if index < 0 {
		return nil, fmt.Errorf("project %s/%d: %w", orgID, index, ErrNotFound)
	}
	p, err := r.projects.GetProject(ctx, orgID, index)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("project %s/%d: %w", orgID, index, ErrNotFound)
	}
	return p, nil
}

// ListProjects returns an organization's projects in index order
func (r *Registry) ListProjects(ctx context.Context, orgID string) ([]*models.Project, error) {
	if _, err := r.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	return r.projects.ListProjects(ctx, orgID)
}

// RecordSale increments a project's sold counter by quantity. On any error the
// project is unchanged. Sales settled by the exchange go through the same store
// increment and draw on the same allotment.
func (r *Registry) RecordSale(ctx context.Context, orgID string, index int, quantity uint64) (*models.Project, error) {
	if quantity == 0 {
		return nil, ErrInvalidQuantity
	}
	if index < 0 {
		return nil, fmt.Errorf("project %s/%d: %w", orgID, index, ErrNotFound)
	}
	p, err := r.projects.IncrementListed(ctx, orgID, index, quantity)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("project %s/%d: %w", orgID, index, ErrNotFound)
	}
	return p, nil
}
