// project_repository.go implements ProjectRepository, providing the per-organization
// project sequence and the conditional sold-counter update.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/cct-registry/cct-registry/internal/registry"
)

const projectColumns = `org_id, project_index, name, description, cct_amount, cct_listed,
	cct_listed_initial, created_at, updated_at`

// ProjectRepository handles database operations for projects
type ProjectRepository struct {
	db *sqlx.DB
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// CreateProject appends p to its organization's sequence. The organization row is locked
// for the duration of the insert so concurrent registrations receive distinct indices.
func (r *ProjectRepository) CreateProject(ctx context.Context, p *models.Project) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	var orgID string
	err = tx.GetContext(ctx, &orgID, `SELECT id FROM organizations WHERE id = $1 FOR UPDATE`, p.OrgID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("organization %q: %w", p.OrgID, registry.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock organization: %w", err)
	}

	now := time.Now()
	query := `
		INSERT INTO projects (org_id, project_index, name, description, cct_amount, cct_listed, cct_listed_initial, created_at, updated_at)
		SELECT $1, COALESCE(MAX(project_index) + 1, 0), $2, $3, $4, 0, $5, $6, $6
		FROM projects WHERE org_id = $1
		RETURNING project_index
	`
	var index int
	if err := tx.GetContext(ctx, &index, query, p.OrgID, p.Name, p.Description,
		int64(p.CCTAmount), int64(p.CCTListedInitial), now); err != nil {
		return 0, fmt.Errorf("failed to create project: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit project: %w", err)
	}

	p.Index = index
	p.CCTListed = 0
	p.CreatedAt = now
	p.UpdatedAt = now
	return index, nil
}

// GetProject retrieves a project by organization and index
func (r *ProjectRepository) GetProject(ctx context.Context, orgID string, index int) (*models.Project, error) {
	var p models.Project
	query := `SELECT ` + projectColumns + ` FROM projects WHERE org_id = $1 AND project_index = $2`
	err := r.db.GetContext(ctx, &p, query, orgID, index)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// ListProjects returns an organization's projects in index order
func (r *ProjectRepository) ListProjects(ctx context.Context, orgID string) ([]*models.Project, error) {
	projects := make([]*models.Project, 0)
	query := `SELECT ` + projectColumns + ` FROM projects WHERE org_id = $1 ORDER BY project_index`
	if err := r.db.SelectContext(ctx, &projects, query, orgID); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// IncrementListed adds quantity to cct_listed only if the allotment allows it
func (r *ProjectRepository) IncrementListed(ctx context.Context, orgID string, index int, quantity uint64) (*models.Project, error) {
	return incrementListed(ctx, r.db, orgID, index, quantity)
}

// incrementListed runs the conditional update against db or a transaction. No row back
// means either the project is missing (nil, nil) or the allotment would be exceeded.
func incrementListed(ctx context.Context, q sqlx.QueryerContext, orgID string, index int, quantity uint64) (*models.Project, error) {
	if quantity > math.MaxInt64 {
		return nil, fmt.Errorf("project %s/%d cannot absorb %d more: %w", orgID, index, quantity, registry.ErrInsufficientSupply)
	}
	query := `
		UPDATE projects
		SET cct_listed = cct_listed + $3, updated_at = $4
		WHERE org_id = $1 AND project_index = $2 AND $3 <= cct_amount - cct_listed
		RETURNING ` + projectColumns

	var p models.Project
	err := sqlx.GetContext(ctx, q, &p, query, orgID, index, int64(quantity), time.Now())
	if err == nil {
		return &p, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to increment listed: %w", err)
	}

	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists,
		`SELECT EXISTS (SELECT 1 FROM projects WHERE org_id = $1 AND project_index = $2)`, orgID, index); err != nil {
		return nil, fmt.Errorf("failed to check project: %w", err)
	}
	if !exists {
		return nil, nil
	}
	return nil, fmt.Errorf("project %s/%d cannot absorb %d more: %w", orgID, index, quantity, registry.ErrInsufficientSupply)
}
