package organizations

import (
	"time"

	"github.com/cct-registry/cct-registry/internal/db/models"
)

func toProjectResponse(p *models.Project) projectResponse {
	return projectResponse{
		OrgID:            p.OrgID,
		Index:            p.Index,
		Name:             p.Name,
		Description:      p.Description,
		CCTAmount:        p.CCTAmount,
		CCTListed:        p.CCTListed,
		CCTListedInitial: p.CCTListedInitial,
		Available:        p.Available(),
		State:            string(p.State()),
		CreatedAt:        p.CreatedAt.UTC().Format(time.RFC3339),
	}
}
