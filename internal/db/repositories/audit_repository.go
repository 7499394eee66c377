// audit_repository.go implements AuditRepository, providing database queries for writing
// and retrieving audit log entries with support for filtered queries across accounts and resources.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cct-registry/cct-registry/internal/db/models"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit logs
type AuditFilters struct {
	AccountID    *string
	Action       *string
	ResourceType *string
	StartDate    *time.Time
	EndDate      *time.Time
}

// CreateAuditLog creates a new audit log entry
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	log.ID = uuid.New().String()
	log.CreatedAt = time.Now()

	var metadataJSON []byte
	var err error
	if log.Metadata != nil {
		metadataJSON, err = json.Marshal(log.Metadata)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO audit_logs (id, account_id, action, resource_type, resource_id, metadata, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		log.ID,
		log.AccountID,
		log.Action,
		log.ResourceType,
		log.ResourceID,
		metadataJSON,
		log.IPAddress,
		log.CreatedAt,
	)
	return err
}

// ListAuditLogs retrieves audit logs with optional filters and pagination
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0)
	paramIndex := 1

	add := func(clause string, value interface{}) {
		where += fmt.Sprintf(clause, paramIndex)
		args = append(args, value)
		paramIndex++
	}
	if filters.AccountID != nil {
		add(` AND account_id = $%d`, *filters.AccountID)
	}
	if filters.Action != nil {
		add(` AND action = $%d`, *filters.Action)
	}
	if filters.ResourceType != nil {
		add(` AND resource_type = $%d`, *filters.ResourceType)
	}
	if filters.StartDate != nil {
		add(` AND created_at >= $%d`, *filters.StartDate)
	}
	if filters.EndDate != nil {
		add(` AND created_at <= $%d`, *filters.EndDate)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, account_id, action, resource_type, resource_id, metadata, ip_address, created_at
		FROM audit_logs` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log := &models.AuditLog{}
		var metadataJSON []byte

		err := rows.Scan(
			&log.ID,
			&log.AccountID,
			&log.Action,
			&log.ResourceType,
			&log.ResourceID,
			&metadataJSON,
			&log.IPAddress,
			&log.CreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &log.Metadata); err != nil {
				return nil, 0, err
			}
		}
		logs = append(logs, log)
	}

	return logs, total, rows.Err()
}
