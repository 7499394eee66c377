// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, security headers, request logging and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logger → Security → CORS → RateLimit → Auth → Scope → Audit → Handler
//
// Security headers run early so they appear on all responses including errors.
// Auth resolves the caller to an auth.Principal; RequireScope reads from that context.
// Audit logging wraps the handler so only the final status is recorded.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cct-registry/cct-registry/internal/auth"
	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/gin-gonic/gin"
)

// Context keys set by the auth middleware
const (
	PrincipalKey  = "principal"
	AccountIDKey  = "account_id"
	AuthMethodKey = "auth_method"
	APIKeyIDKey   = "api_key_id"
)

// APIKeyStore resolves presented API keys. *repositories.APIKeyRepository satisfies it.
type APIKeyStore interface {
	GetAPIKeysByPrefix(ctx context.Context, keyPrefix string) ([]*models.APIKey, error)
	UpdateLastUsed(ctx context.Context, keyID string) error
}

// Authenticator turns bearer credentials into a Principal
type Authenticator struct {
	// adminAccount always holds every scope, whatever its token claims
	adminAccount string
	keys         APIKeyStore
	keyPrefix    string
}

// NewAuthenticator creates an authenticator. A nil key store disables API keys so only
// JWTs are accepted.
func NewAuthenticator(adminAccount string, keys APIKeyStore, keyPrefix string) *Authenticator {
	if keyPrefix == "" {
		keyPrefix = auth.DefaultAPIKeyPrefix
	}
	return &Authenticator{adminAccount: adminAccount, keys: keys, keyPrefix: keyPrefix}
}

// authError is an authentication failure with the status it maps to
type authError struct {
	status  int
	message string
}

func (e *authError) Error() string { return e.message }

// Authenticate validates a bearer token. It returns (nil, *authError) for bad credentials
// and a plain error when the key store fails.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*auth.Principal, error) {
	// API keys carry a recognizable prefix, so a JWT parse is skipped for them
	if a.keys != nil && auth.LooksLikeAPIKey(token, a.keyPrefix) {
		key, err := a.lookupAPIKey(ctx, token)
		if err != nil {
			return nil, err
		}
		if key == nil {
			return nil, &authError{http.StatusUnauthorized, "Invalid credentials"}
		}
		if key.IsExpired(time.Now()) {
			return nil, &authError{http.StatusUnauthorized, "API key expired"}
		}

		// Last-used tracking is best effort
		go func(id string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.keys.UpdateLastUsed(ctx, id); err != nil {
				slog.Debug("failed to update api key last used", "api_key_id", id, "error", err)
			}
		}(key.ID)

		return a.principal(key.AccountID, key.Scopes, auth.MethodAPIKey, key.ID), nil
	}

	claims, err := auth.ValidateJWT(token)
	if err != nil {
		return nil, &authError{http.StatusUnauthorized, "Invalid credentials"}
	}
	return a.principal(claims.Account(), claims.Scopes, auth.MethodJWT, ""), nil
}

func (a *Authenticator) principal(account string, scopes []string, method, keyID string) *auth.Principal {
	if a.adminAccount != "" && account == a.adminAccount {
		scopes = auth.AdminScopes()
	}
	return &auth.Principal{Account: account, Scopes: scopes, Method: method, APIKeyID: keyID}
}

// lookupAPIKey narrows candidates by the plaintext prefix, then runs bcrypt on each
func (a *Authenticator) lookupAPIKey(ctx context.Context, token string) (*models.APIKey, error) {
	keys, err := a.keys.GetAPIKeysByPrefix(ctx, auth.KeyPrefix(token))
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if auth.ValidateAPIKey(token, key.KeyHash) {
			return key, nil
		}
	}
	return nil, nil
}

// AuthMiddleware requires a valid JWT or API key
func AuthMiddleware(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
				"code":  "unauthenticated",
			})
			return
		}

		principal, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			if ae, ok := err.(*authError); ok {
				c.AbortWithStatusJSON(ae.status, gin.H{
					"error": ae.message,
					"code":  "unauthenticated",
				})
				return
			}
			slog.Error("authentication failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Authentication failed",
				"code":  "internal",
			})
			return
		}

		SetPrincipal(c, principal)
		c.Next()
	}
}

// OptionalAuthMiddleware is AuthMiddleware that lets anonymous and badly
// authenticated requests through without a principal
func OptionalAuthMiddleware(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.Next()
			return
		}
		if principal, err := a.Authenticate(c.Request.Context(), token); err == nil {
			SetPrincipal(c, principal)
		}
		c.Next()
	}
}

// SetPrincipal stores p as the authenticated caller of c
func SetPrincipal(c *gin.Context, p *auth.Principal) {
	c.Set(PrincipalKey, p)
	c.Set(AccountIDKey, p.Account)
	c.Set(AuthMethodKey, p.Method)
	if p.APIKeyID != "" {
		c.Set(APIKeyIDKey, p.APIKeyID)
	}
}

// GetPrincipal returns the authenticated caller, or nil for anonymous requests
func GetPrincipal(c *gin.Context) *auth.Principal {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*auth.Principal)
	return p
}
