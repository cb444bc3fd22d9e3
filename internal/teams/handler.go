package teams

import (
	"errors"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teamloop/backend/internal/apperr"
	"github.com/teamloop/backend/internal/auth"
	"github.com/teamloop/backend/internal/middleware"
	"github.com/teamloop/backend/internal/models"
	"github.com/teamloop/backend/internal/notify"
	"github.com/teamloop/backend/pkg/response"
)

// Slug must be lowercase alphanumeric and hyphens only, 2-64 chars.
var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,63}$`)

// Handler handles team HTTP endpoints.
type Handler struct {
	repo     *Repository
	userRepo *auth.Repository
	notifier *notify.Notifier
	logger   *zap.Logger
}

// NewHandler creates a teams handler.
func NewHandler(repo *Repository, userRepo *auth.Repository, notifier *notify.Notifier, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, userRepo: userRepo, notifier: notifier, logger: logger}
}

// CreateRequest is the body for POST /teams.
type CreateRequest struct {
	Name string `json:"name" binding:"required"`
	Slug string `json:"slug" binding:"required"`
}

// AddMemberRequest is the body for POST /teams/:teamId/members.
type AddMemberRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role"`
}

// SetRoleRequest is the body for PATCH /teams/:teamId/members/:userId.
type SetRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// Create handles POST /teams. The creator becomes owner and a default
// team-scoped channel is created atomically with the team.
func (h *Handler) Create(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "name and slug required")
		return
	}
	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	if !slugRegex.MatchString(req.Slug) {
		response.BadRequest(c, "slug must be 2-64 chars, lowercase letters, numbers, hyphens only")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if len(req.Name) < 1 || len(req.Name) > 255 {
		response.BadRequest(c, "name must be 1-255 characters")
		return
	}

	team, err := h.repo.Create(c.Request.Context(), req.Name, req.Slug, userID)
	if err != nil {
		if apperr.IsConflict(err) {
			response.Conflict(c, "a team with this slug already exists")
			return
		}
		h.logger.Error("create team", zap.Error(err))
		response.Internal(c, "failed to create team")
		return
	}
	response.Created(c, team)
}

// ListMine handles GET /teams.
func (h *Handler) ListMine(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.repo.ListForUser(c.Request.Context(), userID)
	if err != nil {
		response.Internal(c, "failed to list teams")
		return
	}
	response.OK(c, gin.H{"teams": list})
}

// Get handles GET /teams/:teamId (membership required via middleware).
func (h *Handler) Get(c *gin.Context) {
	teamID := c.MustGet(ContextTeamID).(uuid.UUID)
	team, err := h.repo.GetByID(c.Request.Context(), teamID)
	if err != nil {
		response.NotFound(c, "team not found")
		return
	}
	response.OK(c, team)
}

// ListMembers handles GET /teams/:teamId/members (membership required).
func (h *Handler) ListMembers(c *gin.Context) {
	teamID := c.MustGet(ContextTeamID).(uuid.UUID)
	members, err := h.repo.ListMembers(c.Request.Context(), teamID)
	if err != nil {
		response.Internal(c, "failed to list members")
		return
	}
	response.OK(c, gin.H{"members": members})
}

// AddMember handles POST /teams/:teamId/members (owner/admin required).
// Adds an existing user by email as a member.
func (h *Handler) AddMember(c *gin.Context) {
	teamID := c.MustGet(ContextTeamID).(uuid.UUID)
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "email required")
		return
	}
	role := req.Role
	switch role {
	case "":
		role = models.TeamRoleMember
	case models.TeamRoleAdmin, models.TeamRoleMember:
	default:
		response.BadRequest(c, "role must be admin or member")
		return
	}

	user, err := h.userRepo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		response.NotFound(c, "no user with this email")
		return
	}
	if err := h.repo.AddMember(c.Request.Context(), teamID, user.ID, role); err != nil {
		h.logger.Error("add member", zap.Error(err))
		response.Internal(c, "failed to add member")
		return
	}

	h.notifier.MemberAdded(teamID, user.ID, role)
	response.Created(c, gin.H{"user_id": user.ID, "role": role})
}

// SetMemberRole handles PATCH /teams/:teamId/members/:userId (owner required).
// Transferring the owner role is done by promoting another member to owner,
// then demoting the previous one; the last owner can never be demoted.
func (h *Handler) SetMemberRole(c *gin.Context) {
	teamID := c.MustGet(ContextTeamID).(uuid.UUID)
	memberID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	var req SetRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "role required")
		return
	}
	switch req.Role {
	case models.TeamRoleOwner, models.TeamRoleAdmin, models.TeamRoleMember:
	default:
		response.BadRequest(c, "invalid role")
		return
	}

	if err := h.repo.SetRole(c.Request.Context(), teamID, memberID, req.Role); err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			response.NotFound(c, "membership not found")
		case errors.Is(err, apperr.ErrLastOwner):
			response.Conflict(c, "team must keep at least one owner")
		default:
			response.Internal(c, "failed to change role")
		}
		return
	}
	response.OK(c, gin.H{"user_id": memberID, "role": req.Role})
}

// RemoveMember handles DELETE /teams/:teamId/members/:userId.
// Owners and admins can remove others; any member can remove themselves (leave).
func (h *Handler) RemoveMember(c *gin.Context) {
	teamID := c.MustGet(ContextTeamID).(uuid.UUID)
	callerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	callerRole := c.MustGet(ContextTeamRole).(string)

	memberID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	if memberID != callerID && callerRole != models.TeamRoleOwner && callerRole != models.TeamRoleAdmin {
		response.Forbidden(c, "insufficient permissions")
		return
	}

	if err := h.repo.RemoveMember(c.Request.Context(), teamID, memberID); err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			response.NotFound(c, "membership not found")
		case errors.Is(err, apperr.ErrLastOwner):
			response.Conflict(c, "team must keep at least one owner")
		default:
			response.Internal(c, "failed to remove member")
		}
		return
	}
	response.NoContent(c)
}
