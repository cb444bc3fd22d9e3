package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamloop/backend/internal/apperr"
	"github.com/teamloop/backend/internal/models"
)

// PgStore implements Store over PostgreSQL.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates the pgx-backed access store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// GetChannel returns the channel or apperr.ErrNotFound.
func (s *PgStore) GetChannel(ctx context.Context, channelID uuid.UUID) (*models.Channel, error) {
	const q = `SELECT id, team_id, project_id, name, kind, is_private, created_by, created_at
		FROM channels WHERE id = $1`
	var ch models.Channel
	err := s.pool.QueryRow(ctx, q, channelID).
		Scan(&ch.ID, &ch.TeamID, &ch.ProjectID, &ch.Name, &ch.Kind, &ch.IsPrivate, &ch.CreatedBy, &ch.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("select channel: %w", err)
	}
	return &ch, nil
}

// GetTeamRole returns the user's role in the team, or apperr.ErrNotFound.
func (s *PgStore) GetTeamRole(ctx context.Context, teamID, userID uuid.UUID) (string, error) {
	const q = `SELECT role FROM team_members WHERE team_id = $1 AND user_id = $2`
	var role string
	err := s.pool.QueryRow(ctx, q, teamID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperr.ErrNotFound
		}
		return "", fmt.Errorf("select team role: %w", err)
	}
	return role, nil
}

// GetProjectRole returns the user's role in the project, or apperr.ErrNotFound.
func (s *PgStore) GetProjectRole(ctx context.Context, projectID, userID uuid.UUID) (string, error) {
	const q = `SELECT role FROM project_members WHERE project_id = $1 AND user_id = $2`
	var role string
	err := s.pool.QueryRow(ctx, q, projectID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperr.ErrNotFound
		}
		return "", fmt.Errorf("select project role: %w", err)
	}
	return role, nil
}

// GetProjectTeam returns the team a project belongs to, or apperr.ErrNotFound.
func (s *PgStore) GetProjectTeam(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	const q = `SELECT team_id FROM projects WHERE id = $1`
	var teamID uuid.UUID
	err := s.pool.QueryRow(ctx, q, projectID).Scan(&teamID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, apperr.ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("select project team: %w", err)
	}
	return teamID, nil
}
