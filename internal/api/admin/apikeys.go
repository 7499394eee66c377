// Package admin implements the administrative HTTP handlers: API key issuance, the audit
// log and the event archive index. These handlers require authentication and the scopes
// enforced by internal/middleware/rbac.go.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/cct-registry/cct-registry/internal/auth"
	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/cct-registry/cct-registry/internal/middleware"
	"github.com/gin-gonic/gin"
)

// APIKeyStore persists API keys. *repositories.APIKeyRepository satisfies it.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error
	GetAPIKeyByID(ctx context.Context, keyID string) (*models.APIKey, error)
	ListAPIKeysByAccount(ctx context.Context, accountID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, keyID string) error
}

// APIKeyHandlers handles API key management endpoints
type APIKeyHandlers struct {
	keys      APIKeyStore
	keyPrefix string
}

// NewAPIKeyHandlers creates a new APIKeyHandlers instance
func NewAPIKeyHandlers(keys APIKeyStore, keyPrefix string) *APIKeyHandlers {
	if keyPrefix == "" {
		keyPrefix = auth.DefaultAPIKeyPrefix
	}
	return &APIKeyHandlers{keys: keys, keyPrefix: keyPrefix}
}

// CreateAPIKeyRequest represents the request to create a new API key
type CreateAPIKeyRequest struct {
	Name string `json:"name" binding:"required"`
	// AccountID binds the key to another account; administrators only
	AccountID string   `json:"account_id"`
	Scopes    []string `json:"scopes" binding:"required"`
	ExpiresAt *string  `json:"expires_at"` // RFC3339 format
}

// CreateAPIKeyResponse represents the response when creating an API key
type CreateAPIKeyResponse struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"` // Only returned once during creation
	KeyPrefix string     `json:"key_prefix"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// apiKeyResponse is the listing view of a key; the hash never leaves the server
type apiKeyResponse struct {
	ID         string     `json:"id"`
	AccountID  string     `json:"account_id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	Scopes     []string   `json:"scopes"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toAPIKeyResponse(k *models.APIKey) apiKeyResponse {
	return apiKeyResponse{
		ID:         k.ID,
		AccountID:  k.AccountID,
		Name:       k.Name,
		KeyPrefix:  k.KeyPrefix,
		Scopes:     k.Scopes,
		ExpiresAt:  k.ExpiresAt,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}

// @Summary      List API keys
// @Description  Lists the caller's API keys. Administrators may pass account_id to list another account's keys.
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Param        account_id  query  string  false  "Account to list (administrators only)"
// @Success      200  {object}  map[string]interface{}  "List of API keys"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized - not authenticated"
// @Failure      403  {object}  map[string]interface{}  "Forbidden - other account"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/api-keys [get]
// ListAPIKeysHandler lists API keys for an account
// GET /api/v1/admin/api-keys
func (h *APIKeyHandlers) ListAPIKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := middleware.GetPrincipal(c)
		if p == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		accountID := c.DefaultQuery("account_id", p.Account)
		if accountID != p.Account && !p.Can(auth.ScopeAdmin) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Cannot list keys of another account"})
			return
		}

		keys, err := h.keys.ListAPIKeysByAccount(c.Request.Context(), accountID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list API keys"})
			return
		}

		resp := make([]apiKeyResponse, 0, len(keys))
		for _, k := range keys {
			resp = append(resp, toAPIKeyResponse(k))
		}
		c.JSON(http.StatusOK, gin.H{"api_keys": resp})
	}
}

// @Summary      Create API key
// @Description  Issues an API key. Callers may only grant scopes they hold themselves; the full key is returned once.
// @Tags         API Keys
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateAPIKeyRequest  true  "API key creation request"
// @Success      201  {object}  CreateAPIKeyResponse  "API key created successfully (full key returned once)"
// @Failure      400  {object}  map[string]interface{}  "Invalid request or scopes"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized - not authenticated"
// @Failure      403  {object}  map[string]interface{}  "Forbidden - scopes exceed the caller's own"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/api-keys [post]
// CreateAPIKeyHandler creates a new API key
// POST /api/v1/admin/api-keys
func (h *APIKeyHandlers) CreateAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		p := middleware.GetPrincipal(c)
		if p == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		if err := auth.ValidateScopes(req.Scopes); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid scopes: " + err.Error()})
			return
		}

		accountID := p.Account
		if req.AccountID != "" && req.AccountID != p.Account {
			if !p.Can(auth.ScopeAdmin) {
				c.JSON(http.StatusForbidden, gin.H{"error": "Cannot create keys for another account"})
				return
			}
			accountID = req.AccountID
		}

		// A key never carries more than its issuer holds
		for _, scope := range req.Scopes {
			if !p.Can(auth.Scope(scope)) {
				c.JSON(http.StatusForbidden, gin.H{
					"error":          "Scope '" + scope + "' exceeds your permissions",
					"allowed_scopes": p.Scopes,
				})
				return
			}
		}

		var expiresAt *time.Time
		if req.ExpiresAt != nil {
			parsed, err := time.Parse(time.RFC3339, *req.ExpiresAt)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid expires_at format. Use RFC3339"})
				return
			}
			if !parsed.After(time.Now()) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be in the future"})
				return
			}
			expiresAt = &parsed
		}

		fullKey, keyHash, displayPrefix, err := auth.GenerateAPIKey(h.keyPrefix)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate API key"})
			return
		}

		apiKey := &models.APIKey{
			AccountID: accountID,
			Name:      req.Name,
			KeyHash:   keyHash,
			KeyPrefix: displayPrefix,
			Scopes:    req.Scopes,
			ExpiresAt: expiresAt,
		}
		if err := h.keys.CreateAPIKey(c.Request.Context(), apiKey); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create API key"})
			return
		}

		c.JSON(http.StatusCreated, CreateAPIKeyResponse{
			ID:        apiKey.ID,
			AccountID: apiKey.AccountID,
			Name:      apiKey.Name,
			Key:       fullKey,
			KeyPrefix: displayPrefix,
			Scopes:    apiKey.Scopes,
			ExpiresAt: apiKey.ExpiresAt,
			CreatedAt: apiKey.CreatedAt,
		})
	}
}

// @Summary      Revoke API key
// @Tags         API Keys
// @Security     Bearer
// @Param        id  path  string  true  "API key ID"
// @Success      200  {object}  map[string]interface{}  "API key revoked"
// @Failure      403  {object}  map[string]interface{}  "Forbidden - key belongs to another account"
// @Failure      404  {object}  map[string]interface{}  "API key not found"
// @Router       /api/v1/admin/api-keys/{id} [delete]
// RevokeAPIKeyHandler deletes a key owned by the caller, or any key for administrators
// DELETE /api/v1/admin/api-keys/:id
func (h *APIKeyHandlers) RevokeAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := middleware.GetPrincipal(c)
		if p == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		keyID := c.Param("id")
		key, err := h.keys.GetAPIKeyByID(c.Request.Context(), keyID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get API key"})
			return
		}
		if key == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
			return
		}
		if key.AccountID != p.Account && !p.Can(auth.ScopeAdmin) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
			return
		}

		if err := h.keys.RevokeAPIKey(c.Request.Context(), keyID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke API key"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "API key revoked"})
	}
}
