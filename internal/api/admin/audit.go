package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/cct-registry/cct-registry/internal/db/repositories"
	"github.com/gin-gonic/gin"
)

// AuditLister pages through the audit log. *repositories.AuditRepository satisfies it.
type AuditLister interface {
	ListAuditLogs(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error)
}

// AuditHandlers serves the audit log
type AuditHandlers struct {
	logs AuditLister
}

// NewAuditHandlers creates audit handlers
func NewAuditHandlers(logs AuditLister) *AuditHandlers {
	return &AuditHandlers{logs: logs}
}

// @Summary      List audit logs
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        account_id     query  string  false  "Filter by account"
// @Param        action         query  string  false  "Filter by action (e.g. sale.settle)"
// @Param        resource_type  query  string  false  "Filter by resource type"
// @Param        start_date     query  string  false  "RFC3339 lower bound"
// @Param        end_date       query  string  false  "RFC3339 upper bound"
// @Param        page           query  int     false  "Page number (default 1)"
// @Param        per_page       query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "logs: []models.AuditLog, pagination: map"
// @Failure      400  {object}  map[string]interface{}  "Invalid date"
// @Router       /api/v1/admin/audit-logs [get]
// ListAuditLogsHandler lists audit entries newest first
// GET /api/v1/admin/audit-logs?page=1&per_page=20
func (h *AuditHandlers) ListAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))

		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}
		offset := (page - 1) * perPage

		var filters repositories.AuditFilters
		if v := c.Query("account_id"); v != "" {
			filters.AccountID = &v
		}
		if v := c.Query("action"); v != "" {
			filters.Action = &v
		}
		if v := c.Query("resource_type"); v != "" {
			filters.ResourceType = &v
		}
		for _, bound := range []struct {
			param string
			dst   **time.Time
		}{
			{"start_date", &filters.StartDate},
			{"end_date", &filters.EndDate},
		} {
			v := c.Query(bound.param)
			if v == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + bound.param + ". Use RFC3339"})
				return
			}
			*bound.dst = &t
		}

		logs, total, err := h.logs.ListAuditLogs(c.Request.Context(), filters, perPage, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit logs"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"logs": logs,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}
