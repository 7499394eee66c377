// Package api wires together all HTTP routes for the CCT registry and exchange.
//
// Route grouping:
//   - Registry reads, the sale event feed and price quotes are public. They still pass
//     through optional authentication so rate limits and logs can name the caller.
//   - Every mutation (organization admission, project registration, sales, transfers,
//     API key issuance) requires a JWT or API key plus the scope listed next to the
//     route, and is recorded by the audit middleware.
//   - /health, /ready and /version sit outside /api/v1 and skip rate limiting.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/cct-registry/cct-registry/internal/api/accounts"
	"github.com/cct-registry/cct-registry/internal/api/admin"
	"github.com/cct-registry/cct-registry/internal/api/organizations"
	"github.com/cct-registry/cct-registry/internal/api/sales"
	"github.com/cct-registry/cct-registry/internal/auth"
	"github.com/cct-registry/cct-registry/internal/config"
	"github.com/cct-registry/cct-registry/internal/exchange"
	"github.com/cct-registry/cct-registry/internal/ledger"
	"github.com/cct-registry/cct-registry/internal/middleware"
	"github.com/cct-registry/cct-registry/internal/registry"
	"github.com/cct-registry/cct-registry/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Version is reported by /version; cmd/server overrides it at link time
var Version = "0.1.0"

// APIKeyRepository is everything the router needs from API key persistence.
// *repositories.APIKeyRepository satisfies it.
type APIKeyRepository interface {
	middleware.APIKeyStore
	admin.APIKeyStore
}

// ReadinessCheck probes one dependency for /ready
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies are the services mounted by NewRouter. The optional ones may be nil:
// without APIKeys only JWTs authenticate and the key routes are absent, without
// AuditLogs or Archives their admin listings are absent, and without Limiter no rate
// limit applies.
type Dependencies struct {
	Registry *registry.Registry
	Exchange *exchange.Exchange
	Ledger   *ledger.Service
	Events   sales.EventLister

	APIKeys     APIKeyRepository
	AuditWriter middleware.AuditWriter
	AuditLogs   admin.AuditLister
	Archives    admin.ArchiveLister
	Limiter     middleware.Limiter

	Readiness []ReadinessCheck
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS))

	router.GET("/health", healthCheckHandler())
	router.GET("/ready", readinessHandler(deps.Readiness))
	router.GET("/version", versionHandler())

	var keyStore middleware.APIKeyStore
	if deps.APIKeys != nil && cfg.Auth.APIKeys.Enabled {
		keyStore = deps.APIKeys
	}
	authenticator := middleware.NewAuthenticator(cfg.Registry.AdminAccount, keyStore, cfg.Auth.APIKeys.Prefix)

	orgHandlers := organizations.NewHandlers(deps.Registry)
	saleHandlers := sales.NewHandlers(deps.Exchange, deps.Events)
	accountHandlers := accounts.NewHandlers(deps.Ledger)

	apiV1 := router.Group("/api/v1")
	if deps.Limiter != nil && cfg.Security.RateLimiting.Enabled {
		apiV1.Use(middleware.RateLimitMiddleware(deps.Limiter))
	}

	// Public reads
	publicGroup := apiV1.Group("")
	publicGroup.Use(middleware.OptionalAuthMiddleware(authenticator))
	{
		publicGroup.GET("/organizations", orgHandlers.ListOrganizationsHandler())
		publicGroup.GET("/organizations/:org", orgHandlers.GetOrganizationHandler())
		publicGroup.GET("/organizations/:org/projects", orgHandlers.ListProjectsHandler())
		publicGroup.GET("/organizations/:org/projects/:index", orgHandlers.GetProjectHandler())
		publicGroup.GET("/events", saleHandlers.ListEventsHandler())
		publicGroup.GET("/exchange/quote", saleHandlers.QuoteHandler())
	}

	authenticatedGroup := apiV1.Group("")
	authenticatedGroup.Use(middleware.AuthMiddleware(authenticator))
	if cfg.Audit.Enabled {
		authenticatedGroup.Use(middleware.AuditMiddleware(deps.AuditWriter, cfg.Audit))
	}
	{
		authenticatedGroup.POST("/organizations",
			middleware.RequireScope(auth.ScopeAdmin), orgHandlers.CreateOrganizationHandler())
		authenticatedGroup.POST("/organizations/:org/projects",
			middleware.RequireScope(auth.ScopeProjectsWrite), orgHandlers.CreateProjectHandler())
		authenticatedGroup.POST("/organizations/:org/projects/:index/sell",
			middleware.RequireScope(auth.ScopeExchangeTrade), saleHandlers.SellHandler())

		authenticatedGroup.GET("/accounts/:id", accountHandlers.GetAccountHandler())
		authenticatedGroup.POST("/accounts/transfer",
			middleware.RequireScope(auth.ScopeAccountsTransfer), accountHandlers.TransferHandler())

		adminGroup := authenticatedGroup.Group("/admin")
		{
			if deps.APIKeys != nil {
				keyHandlers := admin.NewAPIKeyHandlers(deps.APIKeys, cfg.Auth.APIKeys.Prefix)
				adminGroup.GET("/api-keys", keyHandlers.ListAPIKeysHandler())
				adminGroup.POST("/api-keys", keyHandlers.CreateAPIKeyHandler())
				adminGroup.DELETE("/api-keys/:id", keyHandlers.RevokeAPIKeyHandler())
			}
			if deps.AuditLogs != nil {
				adminGroup.GET("/audit-logs", middleware.RequireScope(auth.ScopeAuditRead),
					admin.NewAuditHandlers(deps.AuditLogs).ListAuditLogsHandler())
			}
			if deps.Archives != nil {
				adminGroup.GET("/archives", middleware.RequireScope(auth.ScopeAdmin),
					admin.NewArchiveHandlers(deps.Archives, cfg.Storage.DefaultBackend).ListArchivesHandler())
			}
		}
	}

	return router
}

// PingCheck probes the database connection
func PingCheck(db *sql.DB) ReadinessCheck {
	return ReadinessCheck{Name: "database", Check: db.PingContext}
}

// StorageCheck probes the archive backend with a known-absent sentinel path. Exists
// exercises authentication and connectivity without creating any state.
func StorageCheck(s storage.Storage) ReadinessCheck {
	return ReadinessCheck{Name: "storage", Check: func(ctx context.Context) error {
		_, err := s.Exists(ctx, ".readiness-probe")
		return err
	}}
}

// RedisCheck probes the shared Redis connection
func RedisCheck(client redis.UniversalClient) ReadinessCheck {
	return ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

// @Summary      Health check
// @Description  Liveness probe. Returns 200 while the process is serving requests.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Router       /health [get]
func healthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Runs every configured dependency probe.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler fails on the first unhealthy dependency so that a Kubernetes
// readiness gate drops the pod before sales start erroring
func readinessHandler(checks []ReadinessCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		results := gin.H{}
		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				results[check.Name] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": results,
					"error":  check.Name + " not ready",
				})
				return
			}
			results[check.Name] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": results,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}
