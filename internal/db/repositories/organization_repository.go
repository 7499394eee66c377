// organization_repository.go implements OrganizationRepository, providing database queries
// for organization admission and lookup.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/cct-registry/cct-registry/internal/registry"
)

// OrganizationRepository handles database operations for organizations
type OrganizationRepository struct {
	db *sqlx.DB
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *sqlx.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// CreateOrganization inserts org. A conflicting id yields registry.ErrDuplicateOrganization
// and leaves the existing row untouched.
func (r *OrganizationRepository) CreateOrganization(ctx context.Context, org *models.Organization) error {
	org.CreatedAt = time.Now()

	query := `
		INSERT INTO organizations (id, name, payout_account, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, org.ID, org.Name, org.PayoutAccount, org.CreatedBy, org.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("organization %q: %w", org.ID, registry.ErrDuplicateOrganization)
	}
	return nil
}

// GetOrganization retrieves an organization by ID
func (r *OrganizationRepository) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var org models.Organization
	query := `SELECT id, name, payout_account, created_by, created_at FROM organizations WHERE id = $1`
	err := r.db.GetContext(ctx, &org, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

// ListOrganizations returns organizations in admission order
func (r *OrganizationRepository) ListOrganizations(ctx context.Context) ([]*models.Organization, error) {
	orgs := make([]*models.Organization, 0)
	query := `SELECT id, name, payout_account, created_by, created_at FROM organizations ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &orgs, query); err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	return orgs, nil
}
