package models

import (
	"time"

	"github.com/google/uuid"
)

// ProjectStatus is the lifecycle status of a project.
const (
	ProjectStatusActive    = "active"
	ProjectStatusArchived  = "archived"
	ProjectStatusCompleted = "completed"
)

// ProjectRole is the role of a user within a project.
const (
	ProjectRoleLead   = "lead"
	ProjectRoleEditor = "editor"
	ProjectRoleViewer = "viewer"
)

// Project is a scoped body of work within a team.
type Project struct {
	ID          uuid.UUID `json:"id"`
	TeamID      uuid.UUID `json:"team_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedBy   uuid.UUID `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProjectMember links a user to a project with a role. Unique per (project, user).
// Only valid while the user also holds a TeamMember row for the project's team.
type ProjectMember struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	UserID    uuid.UUID `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
