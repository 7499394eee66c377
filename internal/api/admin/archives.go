package admin

import (
	"context"
	"net/http"

	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/gin-gonic/gin"
)

// ArchiveLister returns the sealed sale event segments
type ArchiveLister interface {
	ListArchives(ctx context.Context) ([]*models.EventArchive, error)
}

// ArchiveHandlers serves the event archive index
type ArchiveHandlers struct {
	archives ArchiveLister
	backend  string
}

// NewArchiveHandlers creates archive handlers; backend names the active storage backend
func NewArchiveHandlers(archives ArchiveLister, backend string) *ArchiveHandlers {
	return &ArchiveHandlers{archives: archives, backend: backend}
}

// ListArchivesHandler lists archived segments in sequence order
// GET /api/v1/admin/archives
func (h *ArchiveHandlers) ListArchivesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		archives, err := h.archives.ListArchives(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list archives"})
			return
		}
		if archives == nil {
			archives = []*models.EventArchive{}
		}

		var events, bytes int64
		for _, a := range archives {
			events += int64(a.EventCount)
			bytes += a.SizeBytes
		}
		c.JSON(http.StatusOK, gin.H{
			"archives": archives,
			"backend":  h.backend,
			"totals": gin.H{
				"segments": len(archives),
				"events":   events,
				"bytes":    bytes,
			},
		})
	}
}
