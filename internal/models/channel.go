package models

import (
	"time"

	"github.com/google/uuid"
)

// ChannelKind identifies what a channel is for.
const (
	ChannelKindText         = "text"
	ChannelKindAnnouncement = "announcement"
)

// Channel is a message stream, either team-wide or project-scoped.
// When ProjectID is nil the channel is visible to every team member;
// otherwise visibility additionally requires project membership.
type Channel struct {
	ID        uuid.UUID  `json:"id"`
	TeamID    uuid.UUID  `json:"team_id"`
	ProjectID *uuid.UUID `json:"project_id,omitempty"`
	Name      string     `json:"name"`
	Kind      string     `json:"kind"`
	IsPrivate bool       `json:"is_private"`
	CreatedBy uuid.UUID  `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
}
