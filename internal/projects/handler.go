package projects

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teamloop/backend/internal/access"
	"github.com/teamloop/backend/internal/apperr"
	"github.com/teamloop/backend/internal/middleware"
	"github.com/teamloop/backend/internal/models"
	"github.com/teamloop/backend/internal/notify"
	"github.com/teamloop/backend/internal/teams"
	"github.com/teamloop/backend/pkg/response"
)

// Handler handles project HTTP endpoints. All routes run behind the team
// membership middleware; creation and mutation additionally check team role.
type Handler struct {
	repo     *Repository
	engine   *access.Engine
	notifier *notify.Notifier
	logger   *zap.Logger
}

// NewHandler creates a projects handler.
func NewHandler(repo *Repository, engine *access.Engine, notifier *notify.Notifier, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, engine: engine, notifier: notifier, logger: logger}
}

// CreateRequest is the body for POST /teams/:teamId/projects.
type CreateRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// StatusRequest is the body for PATCH /teams/:teamId/projects/:projectId/status.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// AddMemberRequest is the body for POST /teams/:teamId/projects/:projectId/members.
type AddMemberRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
	Role   string    `json:"role"`
}

// Create handles POST /teams/:teamId/projects (team owner/admin required via
// route middleware). Creator is auto-enrolled as project lead.
func (h *Handler) Create(c *gin.Context) {
	teamID := c.MustGet(teams.ContextTeamID).(uuid.UUID)
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "name required")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if len(req.Name) < 1 || len(req.Name) > 255 {
		response.BadRequest(c, "name must be 1-255 characters")
		return
	}

	p, err := h.repo.Create(c.Request.Context(), teamID, req.Name, strings.TrimSpace(req.Description), userID)
	if err != nil {
		h.logger.Error("create project", zap.Error(err))
		response.Internal(c, "failed to create project")
		return
	}
	response.Created(c, p)
}

// ListByTeam handles GET /teams/:teamId/projects (membership required).
func (h *Handler) ListByTeam(c *gin.Context) {
	teamID := c.MustGet(teams.ContextTeamID).(uuid.UUID)
	list, err := h.repo.ListByTeam(c.Request.Context(), teamID)
	if err != nil {
		response.Internal(c, "failed to list projects")
		return
	}
	response.OK(c, gin.H{"projects": list})
}

// Get handles GET /teams/:teamId/projects/:projectId (project membership required).
func (h *Handler) Get(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	projectID, err := uuid.Parse(c.Param("projectId"))
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}
	if _, err := h.engine.AuthorizeProject(c.Request.Context(), userID, projectID); err != nil {
		respondAuthErr(c, err)
		return
	}
	p, err := h.repo.GetByID(c.Request.Context(), projectID)
	if err != nil {
		response.NotFound(c, "project not found")
		return
	}
	response.OK(c, p)
}

// UpdateStatus handles PATCH /teams/:teamId/projects/:projectId/status
// (project lead or team owner/admin).
func (h *Handler) UpdateStatus(c *gin.Context) {
	teamID := c.MustGet(teams.ContextTeamID).(uuid.UUID)
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	projectID, err := uuid.Parse(c.Param("projectId"))
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "status required")
		return
	}
	switch req.Status {
	case models.ProjectStatusActive, models.ProjectStatusArchived, models.ProjectStatusCompleted:
	default:
		response.BadRequest(c, "status must be active, archived, or completed")
		return
	}

	if !h.canManage(c, userID, teamID, projectID) {
		response.Forbidden(c, "insufficient permissions")
		return
	}
	if err := h.repo.UpdateStatus(c.Request.Context(), projectID, req.Status); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			response.NotFound(c, "project not found")
			return
		}
		response.Internal(c, "failed to update status")
		return
	}
	response.OK(c, gin.H{"id": projectID, "status": req.Status})
}

// ListMembers handles GET /teams/:teamId/projects/:projectId/members.
func (h *Handler) ListMembers(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	projectID, err := uuid.Parse(c.Param("projectId"))
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}
	if _, err := h.engine.AuthorizeProject(c.Request.Context(), userID, projectID); err != nil {
		respondAuthErr(c, err)
		return
	}
	members, err := h.repo.ListMembers(c.Request.Context(), projectID)
	if err != nil {
		response.Internal(c, "failed to list members")
		return
	}
	response.OK(c, gin.H{"members": members})
}

// AddMember handles POST /teams/:teamId/projects/:projectId/members
// (project lead or team owner/admin). The target must already be a team member.
func (h *Handler) AddMember(c *gin.Context) {
	teamID := c.MustGet(teams.ContextTeamID).(uuid.UUID)
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	projectID, err := uuid.Parse(c.Param("projectId"))
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "user_id required")
		return
	}
	role := req.Role
	switch role {
	case "":
		role = models.ProjectRoleViewer
	case models.ProjectRoleLead, models.ProjectRoleEditor, models.ProjectRoleViewer:
	default:
		response.BadRequest(c, "role must be lead, editor, or viewer")
		return
	}

	if !h.canManage(c, userID, teamID, projectID) {
		response.Forbidden(c, "insufficient permissions")
		return
	}
	if err := h.repo.AddMember(c.Request.Context(), projectID, req.UserID, role); err != nil {
		if errors.Is(err, apperr.ErrAccessDenied) {
			response.Conflict(c, "user is not a member of this team")
			return
		}
		response.Internal(c, "failed to add member")
		return
	}

	h.notifier.ProjectMemberAdded(teamID, projectID, req.UserID, role)
	response.Created(c, gin.H{"user_id": req.UserID, "role": role})
}

// RemoveMember handles DELETE /teams/:teamId/projects/:projectId/members/:userId.
func (h *Handler) RemoveMember(c *gin.Context) {
	teamID := c.MustGet(teams.ContextTeamID).(uuid.UUID)
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	projectID, err := uuid.Parse(c.Param("projectId"))
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}
	memberID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	if memberID != userID && !h.canManage(c, userID, teamID, projectID) {
		response.Forbidden(c, "insufficient permissions")
		return
	}
	if err := h.repo.RemoveMember(c.Request.Context(), projectID, memberID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			response.NotFound(c, "membership not found")
			return
		}
		response.Internal(c, "failed to remove member")
		return
	}
	response.NoContent(c)
}

// canManage reports whether the caller is a project lead or a team owner/admin.
func (h *Handler) canManage(c *gin.Context, userID, teamID, projectID uuid.UUID) bool {
	if role, err := h.engine.RequireTeamRole(c.Request.Context(), userID, teamID,
		models.TeamRoleOwner, models.TeamRoleAdmin); err == nil && role != "" {
		return true
	}
	role, err := h.engine.AuthorizeProject(c.Request.Context(), userID, projectID)
	return err == nil && role == models.ProjectRoleLead
}

func respondAuthErr(c *gin.Context, err error) {
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrAccessDenied) {
		response.NotFound(c, "project not found")
		return
	}
	response.Internal(c, "authorization failed")
}
