// Package organizations implements the registry HTTP handlers: organization admission
// by the administrator, project registration by an organization, and the public reads
// over both.
package organizations

import (
	"net/http"
	"strconv"

	"github.com/cct-registry/cct-registry/internal/api/httperr"
	"github.com/cct-registry/cct-registry/internal/middleware"
	"github.com/cct-registry/cct-registry/internal/registry"
	"github.com/gin-gonic/gin"
)

// Handlers serves /api/v1/organizations
type Handlers struct {
	registry *registry.Registry
}

// NewHandlers creates registry handlers
func NewHandlers(reg *registry.Registry) *Handlers {
	return &Handlers{registry: reg}
}

// CreateOrganizationRequest admits an organization
type CreateOrganizationRequest struct {
	ID   string `json:"id" binding:"required"`
	Name string `json:"name" binding:"required"`
	// PayoutAccount receives sale proceeds; defaults to ID
	PayoutAccount string `json:"payout_account"`
}

// CreateProjectRequest registers a project under the caller's organization
type CreateProjectRequest struct {
	Name             string `json:"name" binding:"required"`
	Description      string `json:"description"`
	CCTAmount        uint64 `json:"cct_amount"`
	CCTListedInitial uint64 `json:"cct_listed_initial"`
}

// projectResponse adds the derived fields to a project
type projectResponse struct {
	OrgID            string `json:"org_id"`
	Index            int    `json:"index"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	CCTAmount        uint64 `json:"cct_amount"`
	CCTListed        uint64 `json:"cct_listed"`
	CCTListedInitial uint64 `json:"cct_listed_initial"`
	Available        uint64 `json:"available"`
	State            string `json:"state"`
	CreatedAt        string `json:"created_at"`
}

// @Summary      Register organization
// @Tags         Registry
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateOrganizationRequest  true  "Organization"
// @Success      201  {object}  models.Organization
// @Failure      403  {object}  map[string]interface{}  "Caller is not the registry administrator"
// @Failure      409  {object}  map[string]interface{}  "Organization already exists"
// @Router       /api/v1/organizations [post]
// CreateOrganizationHandler admits an organization on behalf of the administrator
func (h *Handlers) CreateOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrganizationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, "Invalid request: "+err.Error())
			return
		}

		org, err := h.registry.AddOrganization(c.Request.Context(), caller(c), req.ID, req.Name, req.PayoutAccount)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, org)
	}
}

// ListOrganizationsHandler returns every organization
// GET /api/v1/organizations
func (h *Handlers) ListOrganizationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgs, err := h.registry.ListOrganizations(c.Request.Context())
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"organizations": orgs})
	}
}

// GetOrganizationHandler returns one organization including its name
// GET /api/v1/organizations/:org
func (h *Handlers) GetOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		org, err := h.registry.GetOrganization(c.Request.Context(), c.Param("org"))
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, org)
	}
}

// @Summary      Register project
// @Description  Appends a project to the caller's organization. Only the organization itself may register projects.
// @Tags         Registry
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        org   path  string                true  "Organization ID"
// @Param        body  body  CreateProjectRequest  true  "Project"
// @Success      201  {object}  map[string]interface{}  "index and project"
// @Failure      400  {object}  map[string]interface{}  "Invalid amount"
// @Failure      403  {object}  map[string]interface{}  "Caller is not the organization"
// @Router       /api/v1/organizations/{org}/projects [post]
// CreateProjectHandler registers a project under :org
func (h *Handlers) CreateProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := c.Param("org")
		if caller(c) != orgID {
			httperr.Forbidden(c, "Projects can only be registered by the organization itself")
			return
		}

		var req CreateProjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, "Invalid request: "+err.Error())
			return
		}

		ctx := c.Request.Context()
		index, err := h.registry.AddProject(ctx, orgID, req.Name, req.Description, req.CCTAmount, req.CCTListedInitial)
		if err != nil {
			httperr.Respond(c, err)
			return
		}

		project, err := h.registry.GetProject(ctx, orgID, index)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"index":   index,
			"project": toProjectResponse(project),
		})
	}
}

// ListProjectsHandler returns an organization's projects in index order
// GET /api/v1/organizations/:org/projects
func (h *Handlers) ListProjectsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projects, err := h.registry.ListProjects(c.Request.Context(), c.Param("org"))
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		resp := make([]projectResponse, 0, len(projects))
		for _, p := range projects {
			resp = append(resp, toProjectResponse(p))
		}
		c.JSON(http.StatusOK, gin.H{"projects": resp})
	}
}

// GetProjectHandler returns one project
// GET /api/v1/organizations/:org/projects/:index
func (h *Handlers) GetProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		index, ok := ParseIndex(c)
		if !ok {
			return
		}
		project, err := h.registry.GetProject(c.Request.Context(), c.Param("org"), index)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, toProjectResponse(project))
	}
}

// ParseIndex reads the :index path parameter, aborting with 400 when it is not an integer
func ParseIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		httperr.BadRequest(c, "Project index must be an integer")
		return 0, false
	}
	return index, true
}

func caller(c *gin.Context) string {
	if p := middleware.GetPrincipal(c); p != nil {
		return p.Account
	}
	return ""
}
