// api_key_repository.go implements APIKeyRepository, providing database queries for API key
// lookup by prefix, creation, revocation, expiry cleanup and last-used timestamp updates.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cct-registry/cct-registry/internal/db/models"
)

const apiKeyColumns = `id, account_id, name, key_hash, key_prefix, scopes, expires_at, last_used_at, created_at`

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAPIKey(row rowScanner) (*models.APIKey, error) {
	apiKey := &models.APIKey{}
	var scopesJSON []byte

	err := row.Scan(
		&apiKey.ID,
		&apiKey.AccountID,
		&apiKey.Name,
		&apiKey.KeyHash,
		&apiKey.KeyPrefix,
		&scopesJSON,
		&apiKey.ExpiresAt,
		&apiKey.LastUsedAt,
		&apiKey.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Unmarshal scopes from JSONB
	if err := json.Unmarshal(scopesJSON, &apiKey.Scopes); err != nil {
		return nil, err
	}
	return apiKey, nil
}

// CreateAPIKey creates a new API key
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error {
	apiKey.ID = uuid.New().String()
	apiKey.CreatedAt = time.Now()

	scopesJSON, err := json.Marshal(apiKey.Scopes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO api_keys (id, account_id, name, key_hash, key_prefix, scopes, expires_at, last_used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		apiKey.ID,
		apiKey.AccountID,
		apiKey.Name,
		apiKey.KeyHash,
		apiKey.KeyPrefix,
		scopesJSON,
		apiKey.ExpiresAt,
		apiKey.LastUsedAt,
		apiKey.CreatedAt,
	)
	return err
}

// GetAPIKeyByID retrieves an API key by ID
func (r *APIKeyRepository) GetAPIKeyByID(ctx context.Context, keyID string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1`

	apiKey, err := scanAPIKey(r.db.QueryRowContext(ctx, query, keyID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return apiKey, nil
}

// GetAPIKeysByPrefix retrieves API keys matching a display prefix (for authentication)
func (r *APIKeyRepository) GetAPIKeysByPrefix(ctx context.Context, keyPrefix string) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_prefix = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, keyPrefix)
}

// ListAPIKeysByAccount retrieves all API keys bound to an account
func (r *APIKeyRepository) ListAPIKeysByAccount(ctx context.Context, accountID string) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE account_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, accountID)
}

func (r *APIKeyRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.APIKey, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apiKeys := make([]*models.APIKey, 0)
	for rows.Next() {
		apiKey, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		apiKeys = append(apiKeys, apiKey)
	}
	return apiKeys, rows.Err()
}

// UpdateLastUsed updates the last_used_at timestamp for an API key
func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, keyID string) error {
	query := `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, keyID, time.Now())
	return err
}

// RevokeAPIKey deletes an API key
func (r *APIKeyRepository) RevokeAPIKey(ctx context.Context, keyID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, keyID)
	return err
}

// DeleteExpiredKeys deletes all expired API keys and returns how many were removed
func (r *APIKeyRepository) DeleteExpiredKeys(ctx context.Context) (int64, error) {
	query := `DELETE FROM api_keys WHERE expires_at IS NOT NULL AND expires_at < $1`
	result, err := r.db.ExecContext(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
