package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamloop/backend/internal/apperr"
	"github.com/teamloop/backend/internal/models"
)

// Repository handles channel and message persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a channels repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListByTeam returns every channel of a team, team-scoped channels first,
// then alphabetical within each group. Visibility filtering happens in the
// service against the caller's project memberships.
func (r *Repository) ListByTeam(ctx context.Context, teamID uuid.UUID) ([]*models.Channel, error) {
	const q = `SELECT c.id, c.team_id, c.project_id, c.name, c.kind, c.is_private, c.created_by, c.created_at
		FROM channels c
		WHERE c.team_id = $1
		ORDER BY (c.project_id IS NOT NULL), c.name`
	rows, err := r.pool.Query(ctx, q, teamID)
	if err != nil {
		return nil, fmt.Errorf("select channels: %w", err)
	}
	defer rows.Close()
	var list []*models.Channel
	for rows.Next() {
		var ch models.Channel
		if err := rows.Scan(&ch.ID, &ch.TeamID, &ch.ProjectID, &ch.Name, &ch.Kind, &ch.IsPrivate, &ch.CreatedBy, &ch.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &ch)
	}
	return list, rows.Err()
}

// ProjectMemberships returns the ids of the team's projects where the user
// holds a membership.
func (r *Repository) ProjectMemberships(ctx context.Context, teamID, userID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	const q = `SELECT pm.project_id
		FROM project_members pm
		INNER JOIN projects p ON p.id = pm.project_id
		WHERE p.team_id = $1 AND pm.user_id = $2`
	rows, err := r.pool.Query(ctx, q, teamID, userID)
	if err != nil {
		return nil, fmt.Errorf("select project memberships: %w", err)
	}
	defer rows.Close()
	set := make(map[uuid.UUID]struct{})
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[id] = struct{}{}
	}
	return set, rows.Err()
}

// GetProjectTeam returns the team a project belongs to, or apperr.ErrNotFound.
func (r *Repository) GetProjectTeam(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	var teamID uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT team_id FROM projects WHERE id = $1`, projectID).Scan(&teamID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, apperr.ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("select project team: %w", err)
	}
	return teamID, nil
}

// Insert creates a channel. A (team_id, name) uniqueness violation maps to
// apperr.ErrDuplicateChannelName.
func (r *Repository) Insert(ctx context.Context, ch *models.Channel) error {
	const q = `INSERT INTO channels (team_id, project_id, name, kind, is_private, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, q, ch.TeamID, ch.ProjectID, ch.Name, ch.Kind, ch.IsPrivate, ch.CreatedBy).
		Scan(&ch.ID, &ch.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.ErrDuplicateChannelName
		}
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

// ListAttachmentRefs returns the attachment object keys of a channel's
// messages, for storage cleanup before the channel row is deleted.
func (r *Repository) ListAttachmentRefs(ctx context.Context, channelID uuid.UUID) ([]string, error) {
	const q = `SELECT attachment_ref FROM messages
		WHERE channel_id = $1 AND attachment_ref IS NOT NULL`
	rows, err := r.pool.Query(ctx, q, channelID)
	if err != nil {
		return nil, fmt.Errorf("select attachment refs: %w", err)
	}
	defer rows.Close()
	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// Delete removes a channel; messages cascade at the database level.
func (r *Repository) Delete(ctx context.Context, channelID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// InsertMessage persists a message and returns it enriched with author
// display fields. The database assigns the strictly increasing id.
func (r *Repository) InsertMessage(ctx context.Context, channelID uuid.UUID, userID *uuid.UUID, content, attachmentRef string) (*models.Message, error) {
	const q = `WITH ins AS (
			INSERT INTO messages (channel_id, user_id, content, attachment_ref)
			VALUES ($1, $2, $3, NULLIF($4,''))
			RETURNING id, channel_id, user_id, content, attachment_ref, created_at
		)
		SELECT ins.id, ins.channel_id, ins.user_id, ins.content, COALESCE(ins.attachment_ref,''), ins.created_at,
			COALESCE(u.full_name,''), COALESCE(u.avatar_url,'')
		FROM ins LEFT JOIN users u ON u.id = ins.user_id`
	var m models.Message
	err := r.pool.QueryRow(ctx, q, channelID, userID, content, attachmentRef).
		Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Content, &m.AttachmentRef, &m.CreatedAt, &m.AuthorName, &m.AuthorAvatar)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &m, nil
}

// ListMessages fetches up to limit messages with id < beforeID (or the most
// recent when beforeID is 0), newest first. Callers reverse for display order.
func (r *Repository) ListMessages(ctx context.Context, channelID uuid.UUID, limit int, beforeID int64) ([]*models.Message, error) {
	const q = `SELECT m.id, m.channel_id, m.user_id, m.content, COALESCE(m.attachment_ref,''), m.created_at,
			COALESCE(u.full_name,''), COALESCE(u.avatar_url,'')
		FROM messages m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.channel_id = $1 AND ($3 = 0 OR m.id < $3)
		ORDER BY m.id DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, q, channelID, limit, beforeID)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// SearchMessages performs a case-insensitive literal substring match over
// content, newest first, capped at limit. LIKE metacharacters in the query
// are escaped so "100%" matches only itself.
func (r *Repository) SearchMessages(ctx context.Context, channelID uuid.UUID, query string, limit int) ([]*models.Message, error) {
	const q = `SELECT m.id, m.channel_id, m.user_id, m.content, COALESCE(m.attachment_ref,''), m.created_at,
			COALESCE(u.full_name,''), COALESCE(u.avatar_url,'')
		FROM messages m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.channel_id = $1 AND m.content ILIKE '%' || $2 || '%'
		ORDER BY m.id DESC
		LIMIT $3`
	rows, err := r.pool.Query(ctx, q, channelID, escapeLike(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// escapeLike escapes the LIKE metacharacters so the query matches literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func scanMessages(rows pgx.Rows) ([]*models.Message, error) {
	var list []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Content, &m.AttachmentRef, &m.CreatedAt, &m.AuthorName, &m.AuthorAvatar); err != nil {
			return nil, err
		}
		list = append(list, &m)
	}
	return list, rows.Err()
}
