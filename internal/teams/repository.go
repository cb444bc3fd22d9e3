package teams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamloop/backend/internal/apperr"
	"github.com/teamloop/backend/internal/models"
)

// DefaultChannelName is the team-scoped channel auto-created with every team.
const DefaultChannelName = "general"

// Repository handles team and team_member persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a teams repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create creates a team, enrolls the creator as owner, and creates the default
// team-scoped channel, all in one transaction. Either all three rows exist
// afterwards or none do.
func (r *Repository) Create(ctx context.Context, name, slug string, ownerID uuid.UUID) (*models.Team, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var t models.Team
	err = tx.QueryRow(ctx,
		`INSERT INTO teams (name, slug) VALUES ($1, $2)
		 RETURNING id, name, slug, created_at, updated_at`,
		name, slug).Scan(&t.ID, &t.Name, &t.Slug, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("team slug taken: %w", apperr.ErrConflict)
		}
		return nil, fmt.Errorf("insert team: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO team_members (team_id, user_id, role) VALUES ($1, $2, $3)`,
		t.ID, ownerID, models.TeamRoleOwner)
	if err != nil {
		return nil, fmt.Errorf("insert owner membership: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO channels (team_id, name, kind, created_by) VALUES ($1, $2, $3, $4)`,
		t.ID, DefaultChannelName, models.ChannelKindText, ownerID)
	if err != nil {
		return nil, fmt.Errorf("insert default channel: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &t, nil
}

// GetByID returns a team by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	const q = `SELECT id, name, slug, created_at, updated_at FROM teams WHERE id = $1`
	var t models.Team
	err := r.pool.QueryRow(ctx, q, id).Scan(&t.ID, &t.Name, &t.Slug, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("select team: %w", err)
	}
	return &t, nil
}

// ListForUser returns teams the user is a member of.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Team, error) {
	const q = `SELECT t.id, t.name, t.slug, t.created_at, t.updated_at
		FROM teams t
		INNER JOIN team_members tm ON tm.team_id = t.id
		WHERE tm.user_id = $1
		ORDER BY t.name`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("select teams: %w", err)
	}
	defer rows.Close()
	var list []*models.Team
	for rows.Next() {
		var t models.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

// AddMember adds a user to a team with a role. Idempotent on the (team, user) pair.
func (r *Repository) AddMember(ctx context.Context, teamID, userID uuid.UUID, role string) error {
	const q = `INSERT INTO team_members (team_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (team_id, user_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, teamID, userID, role)
	if err != nil {
		return fmt.Errorf("insert team member: %w", err)
	}
	return nil
}

// CountOwners returns the number of owner memberships in a team.
func (r *Repository) CountOwners(ctx context.Context, teamID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM team_members WHERE team_id = $1 AND role = $2`,
		teamID, models.TeamRoleOwner).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count owners: %w", err)
	}
	return n, nil
}

// SetRole changes a member's role. Refuses to demote the last owner.
func (r *Repository) SetRole(ctx context.Context, teamID, userID uuid.UUID, role string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx,
		`SELECT role FROM team_members WHERE team_id = $1 AND user_id = $2 FOR UPDATE`,
		teamID, userID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.ErrNotFound
		}
		return fmt.Errorf("select member: %w", err)
	}
	if current == models.TeamRoleOwner && role != models.TeamRoleOwner {
		var owners int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM team_members WHERE team_id = $1 AND role = $2`,
			teamID, models.TeamRoleOwner).Scan(&owners); err != nil {
			return fmt.Errorf("count owners: %w", err)
		}
		if owners <= 1 {
			return apperr.ErrLastOwner
		}
	}
	_, err = tx.Exec(ctx,
		`UPDATE team_members SET role = $3, updated_at = NOW() WHERE team_id = $1 AND user_id = $2`,
		teamID, userID, role)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return tx.Commit(ctx)
}

// RemoveMember deletes a membership. Refuses to remove the last owner.
func (r *Repository) RemoveMember(ctx context.Context, teamID, userID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var role string
	err = tx.QueryRow(ctx,
		`SELECT role FROM team_members WHERE team_id = $1 AND user_id = $2 FOR UPDATE`,
		teamID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.ErrNotFound
		}
		return fmt.Errorf("select member: %w", err)
	}
	if role == models.TeamRoleOwner {
		var owners int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM team_members WHERE team_id = $1 AND role = $2`,
			teamID, models.TeamRoleOwner).Scan(&owners); err != nil {
			return fmt.Errorf("count owners: %w", err)
		}
		if owners <= 1 {
			return apperr.ErrLastOwner
		}
	}
	_, err = tx.Exec(ctx,
		`DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	// Project memberships are a strict subset of team membership.
	_, err = tx.Exec(ctx,
		`DELETE FROM project_members pm USING projects p
		 WHERE pm.project_id = p.id AND p.team_id = $1 AND pm.user_id = $2`, teamID, userID)
	if err != nil {
		return fmt.Errorf("delete project memberships: %w", err)
	}
	return tx.Commit(ctx)
}

// Member represents a team member with user details.
type Member struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Role     string    `json:"role"`
	AddedAt  time.Time `json:"added_at"`
}

// ListMembers returns members of a team with user details.
func (r *Repository) ListMembers(ctx context.Context, teamID uuid.UUID) ([]Member, error) {
	const q = `SELECT tm.id, tm.user_id, u.email, u.full_name, tm.role, tm.created_at
		FROM team_members tm
		INNER JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = $1
		ORDER BY tm.created_at ASC`
	rows, err := r.pool.Query(ctx, q, teamID)
	if err != nil {
		return nil, fmt.Errorf("select members: %w", err)
	}
	defer rows.Close()
	var list []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.UserID, &m.Email, &m.FullName, &m.Role, &m.AddedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
