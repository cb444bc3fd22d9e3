package projects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamloop/backend/internal/apperr"
	"github.com/teamloop/backend/internal/models"
)

// Repository handles project and project_member persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a projects repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create creates a project and enrolls the creator as lead in one transaction.
func (r *Repository) Create(ctx context.Context, teamID uuid.UUID, name, description string, creatorID uuid.UUID) (*models.Project, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var p models.Project
	err = tx.QueryRow(ctx,
		`INSERT INTO projects (team_id, name, description, created_by)
		 VALUES ($1, $2, NULLIF($3,''), $4)
		 RETURNING id, team_id, name, COALESCE(description,''), status, created_by, created_at, updated_at`,
		teamID, name, description, creatorID).
		Scan(&p.ID, &p.TeamID, &p.Name, &p.Description, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO project_members (project_id, user_id, role) VALUES ($1, $2, $3)`,
		p.ID, creatorID, models.ProjectRoleLead)
	if err != nil {
		return nil, fmt.Errorf("insert lead membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &p, nil
}

// GetByID returns a project by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	const q = `SELECT id, team_id, name, COALESCE(description,''), status, created_by, created_at, updated_at
		FROM projects WHERE id = $1`
	var p models.Project
	err := r.pool.QueryRow(ctx, q, id).
		Scan(&p.ID, &p.TeamID, &p.Name, &p.Description, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("select project: %w", err)
	}
	return &p, nil
}

// ListByTeam returns all projects in a team.
func (r *Repository) ListByTeam(ctx context.Context, teamID uuid.UUID) ([]*models.Project, error) {
	const q = `SELECT id, team_id, name, COALESCE(description,''), status, created_by, created_at, updated_at
		FROM projects WHERE team_id = $1 ORDER BY name`
	rows, err := r.pool.Query(ctx, q, teamID)
	if err != nil {
		return nil, fmt.Errorf("select projects: %w", err)
	}
	defer rows.Close()
	var list []*models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.TeamID, &p.Name, &p.Description, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &p)
	}
	return list, rows.Err()
}

// UpdateStatus changes the project lifecycle status.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE projects SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// AddMember adds a user to a project. The user must already hold a team
// membership for the project's team; the insert fails otherwise.
func (r *Repository) AddMember(ctx context.Context, projectID, userID uuid.UUID, role string) error {
	const q = `INSERT INTO project_members (project_id, user_id, role)
		SELECT $1, $2, $3
		WHERE EXISTS (
			SELECT 1 FROM team_members tm
			INNER JOIN projects p ON p.team_id = tm.team_id
			WHERE p.id = $1 AND tm.user_id = $2
		)
		ON CONFLICT (project_id, user_id) DO UPDATE SET role = EXCLUDED.role`
	tag, err := r.pool.Exec(ctx, q, projectID, userID, role)
	if err != nil {
		return fmt.Errorf("insert project member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrAccessDenied
	}
	return nil
}

// RemoveMember deletes a project membership.
func (r *Repository) RemoveMember(ctx context.Context, projectID, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`, projectID, userID)
	if err != nil {
		return fmt.Errorf("delete project member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// Member represents a project member with user details.
type Member struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Role     string    `json:"role"`
	AddedAt  time.Time `json:"added_at"`
}

// ListMembers returns members of a project with user details.
func (r *Repository) ListMembers(ctx context.Context, projectID uuid.UUID) ([]Member, error) {
	const q = `SELECT pm.id, pm.user_id, u.email, u.full_name, pm.role, pm.created_at
		FROM project_members pm
		INNER JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id = $1
		ORDER BY pm.created_at ASC`
	rows, err := r.pool.Query(ctx, q, projectID)
	if err != nil {
		return nil, fmt.Errorf("select project members: %w", err)
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
