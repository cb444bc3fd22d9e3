package teams

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/teamloop/backend/internal/access"
	"github.com/teamloop/backend/internal/apperr"
	"github.com/teamloop/backend/internal/middleware"
	"github.com/teamloop/backend/pkg/response"
)

const (
	// ContextTeamID is the gin context key for the resolved team ID.
	ContextTeamID = "team_id"
	// ContextTeamRole is the gin context key for the caller's team role.
	ContextTeamRole = "team_role"
)

// RequireMembership validates that the caller is a member of :teamId.
// Call after the JWT middleware. Sets team ID and role in context.
func RequireMembership(engine *access.Engine) gin.HandlerFunc {
	return requireTeamRole(engine)
}

// RequireRole validates that the caller holds one of the given roles in :teamId.
func RequireRole(engine *access.Engine, roles ...string) gin.HandlerFunc {
	return requireTeamRole(engine, roles...)
}

func requireTeamRole(engine *access.Engine, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID, err := uuid.Parse(c.Param("teamId"))
		if err != nil {
			response.BadRequest(c, "invalid team id")
			c.Abort()
			return
		}
		userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

		var role string
		if len(roles) == 0 {
			role, err = engine.AuthorizeTeam(c.Request.Context(), userID, teamID)
		} else {
			role, err = engine.RequireTeamRole(c.Request.Context(), userID, teamID, roles...)
		}
		if err != nil {
			if errors.Is(err, apperr.ErrAccessDenied) {
				response.Forbidden(c, "not a member of this team or insufficient role")
			} else {
				response.Internal(c, "authorization failed")
			}
			c.Abort()
			return
		}
		c.Set(ContextTeamID, teamID)
		c.Set(ContextTeamRole, role)
		c.Next()
	}
}
