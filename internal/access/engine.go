// Package access is the authorization core: every channel, project, and team
// operation resolves membership through this engine before touching data.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/teamloop/backend/internal/apperr"
	"github.com/teamloop/backend/internal/models"
)

// Store is the minimal read surface the engine needs. Implemented by the pgx
// store in this package; tests substitute a fake.
type Store interface {
	// GetChannel returns the channel or apperr.ErrNotFound.
	GetChannel(ctx context.Context, channelID uuid.UUID) (*models.Channel, error)
	// GetTeamRole returns the user's role in the team, or apperr.ErrNotFound when not a member.
	GetTeamRole(ctx context.Context, teamID, userID uuid.UUID) (string, error)
	// GetProjectRole returns the user's role in the project, or apperr.ErrNotFound when not a member.
	GetProjectRole(ctx context.Context, projectID, userID uuid.UUID) (string, error)
	// GetProjectTeam returns the team a project belongs to, or apperr.ErrNotFound.
	GetProjectTeam(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error)
}

// ChannelView is a channel plus the caller's applicable role: the project role
// for project-scoped channels, the team role otherwise.
type ChannelView struct {
	Channel *models.Channel
	Role    string
}

// Engine decides membership and role; it performs read queries only.
type Engine struct {
	store Store
}

// NewEngine creates an access engine over the given store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// AuthorizeTeam returns the caller's team role, or ErrAccessDenied if they
// are not a member. The team's existence is not confirmed to non-members.
func (e *Engine) AuthorizeTeam(ctx context.Context, userID, teamID uuid.UUID) (string, error) {
	role, err := e.store.GetTeamRole(ctx, teamID, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", apperr.ErrAccessDenied
		}
		return "", fmt.Errorf("team role: %w", err)
	}
	return role, nil
}

// AuthorizeProject returns the caller's project role. Team membership for the
// project's team is checked first so that project existence is never leaked
// to users outside the team.
func (e *Engine) AuthorizeProject(ctx context.Context, userID, projectID uuid.UUID) (string, error) {
	teamID, err := e.store.GetProjectTeam(ctx, projectID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", apperr.ErrNotFound
		}
		return "", fmt.Errorf("project team: %w", err)
	}
	if _, err := e.AuthorizeTeam(ctx, userID, teamID); err != nil {
		return "", err
	}
	role, err := e.store.GetProjectRole(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", apperr.ErrAccessDenied
		}
		return "", fmt.Errorf("project role: %w", err)
	}
	return role, nil
}

// AuthorizeChannel loads the channel and verifies visibility. The order is
// load-bearing: team membership is confirmed before any project check so the
// error shape never reveals project existence to non-team-members. For
// project-scoped channels, team membership alone is not enough.
func (e *Engine) AuthorizeChannel(ctx context.Context, userID, channelID uuid.UUID) (*ChannelView, error) {
	ch, err := e.store.GetChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}

	teamRole, err := e.store.GetTeamRole(ctx, ch.TeamID, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrAccessDenied
		}
		return nil, fmt.Errorf("team role: %w", err)
	}

	if ch.ProjectID == nil {
		return &ChannelView{Channel: ch, Role: teamRole}, nil
	}

	projectRole, err := e.store.GetProjectRole(ctx, *ch.ProjectID, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrAccessDenied
		}
		return nil, fmt.Errorf("project role: %w", err)
	}
	return &ChannelView{Channel: ch, Role: projectRole}, nil
}

// RequireTeamRole verifies the caller holds one of the allowed team roles.
// Composed after AuthorizeTeam semantics: a non-member gets ErrAccessDenied,
// a member with the wrong role gets ErrAccessDenied as well.
func (e *Engine) RequireTeamRole(ctx context.Context, userID, teamID uuid.UUID, allowed ...string) (string, error) {
	role, err := e.AuthorizeTeam(ctx, userID, teamID)
	if err != nil {
		return "", err
	}
	for _, a := range allowed {
		if role == a {
			return role, nil
		}
	}
	return "", apperr.ErrAccessDenied
}
