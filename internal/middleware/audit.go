// audit.go provides Gin middleware that records authenticated state-changing calls to the
// audit log.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cct-registry/cct-registry/internal/config"
	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/cct-registry/cct-registry/internal/safego"
	"github.com/gin-gonic/gin"
)

// AuditWriter persists audit entries. *repositories.AuditRepository satisfies it.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// auditAction names the domain action behind a route template
type auditAction struct {
	action       string
	resourceType string
	idParam      string
}

var auditActions = map[string]auditAction{
	"POST /api/v1/organizations":                           {"organization.create", "organization", ""},
	"POST /api/v1/organizations/:org/projects":             {"project.create", "project", "org"},
	"POST /api/v1/organizations/:org/projects/:index/sell": {"sale.settle", "sale", "org"},
	"POST /api/v1/accounts/transfer":                       {"account.transfer", "account", ""},
	"POST /api/v1/admin/api-keys":                          {"api_key.create", "api_key", ""},
}

// AuditMiddleware records write operations once the handler has run. Successful writes
// are always recorded; failed writes and reads follow the audit config. With a nil
// writer entries go to slog only.
func AuditMiddleware(writer AuditWriter, cfg config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method == http.MethodOptions {
			return
		}
		isRead := c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead
		isFailed := c.Writer.Status() >= 400
		if isRead && !cfg.LogReadOperations {
			return
		}
		if isFailed && !cfg.LogFailedRequests {
			return
		}

		entry := buildAuditLog(c)

		if writer == nil {
			logAudit(entry)
			return
		}

		safego.Go("audit-write", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := writer.CreateAuditLog(ctx, entry); err != nil {
				slog.Error("failed to write audit log", "action", entry.Action, "error", err)
				logAudit(entry)
			}
		})
	}
}

func buildAuditLog(c *gin.Context) *models.AuditLog {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	key := c.Request.Method + " " + route

	ip := c.ClientIP()
	entry := &models.AuditLog{
		Action:    key,
		IPAddress: &ip,
		CreatedAt: time.Now(),
		Metadata: map[string]interface{}{
			"status_code": c.Writer.Status(),
		},
	}

	if known, ok := auditActions[key]; ok {
		entry.Action = known.action
		rt := known.resourceType
		entry.ResourceType = &rt
		if known.idParam != "" {
			if id := c.Param(known.idParam); id != "" {
				if idx := c.Param("index"); idx != "" {
					id = id + "/" + idx
				}
				entry.ResourceID = &id
			}
		}
	} else if rt := resourceTypeFromPath(route); rt != "" {
		entry.ResourceType = &rt
	}

	if account := c.GetString(AccountIDKey); account != "" {
		entry.AccountID = &account
	}
	if method := c.GetString(AuthMethodKey); method != "" {
		entry.Metadata["auth_method"] = method
	}
	if id := GetRequestID(c); id != "" {
		entry.Metadata["request_id"] = id
	}
	return entry
}

func resourceTypeFromPath(path string) string {
	switch {
	case strings.Contains(path, "/sell"):
		return "sale"
	case strings.Contains(path, "/projects"):
		return "project"
	case strings.Contains(path, "/organizations"):
		return "organization"
	case strings.Contains(path, "/accounts"):
		return "account"
	case strings.Contains(path, "/api-keys"):
		return "api_key"
	case strings.Contains(path, "/events"):
		return "sale_event"
	}
	return ""
}

func logAudit(entry *models.AuditLog) {
	attrs := []any{"action", entry.Action, "metadata", entry.Metadata}
	if entry.AccountID != nil {
		attrs = append(attrs, "account", *entry.AccountID)
	}
	if entry.ResourceType != nil {
		attrs = append(attrs, "resource_type", *entry.ResourceType)
	}
	if entry.ResourceID != nil {
		attrs = append(attrs, "resource_id", *entry.ResourceID)
	}
	slog.Info("audit", attrs...)
}
