package linkpreview

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamloop/backend/internal/models"
)

// Repository handles link preview persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a link preview repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save inserts a link preview row.
func (r *Repository) Save(ctx context.Context, p *models.LinkPreview) error {
	const q = `INSERT INTO link_previews (message_id, channel_id, url, title, image_url)
		VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''))
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, q, p.MessageID, p.ChannelID, p.URL, p.Title, p.ImageURL).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert link preview: %w", err)
	}
	return nil
}

// ListByChannel returns the most recent previews for a channel, newest first.
func (r *Repository) ListByChannel(ctx context.Context, channelID uuid.UUID, limit int) ([]*models.LinkPreview, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	const q = `SELECT id, message_id, channel_id, url, COALESCE(title,''), COALESCE(image_url,''), created_at
		FROM link_previews
		WHERE channel_id = $1
		ORDER BY message_id DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, q, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("select link previews: %w", err)
	}
	defer rows.Close()
	var list []*models.LinkPreview
	for rows.Next() {
		var p models.LinkPreview
		if err := rows.Scan(&p.ID, &p.MessageID, &p.ChannelID, &p.URL, &p.Title, &p.ImageURL, &p.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &p)
	}
	return list, rows.Err()
}
