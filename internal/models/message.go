package models

import (
	"time"

	"github.com/google/uuid"
)

// Message belongs to one channel. UserID is nil for system authorship.
// The numeric ID is assigned by the database in strictly increasing order
// and doubles as the pagination cursor ("fetch messages before id X").
type Message struct {
	ID            int64      `json:"id"`
	ChannelID     uuid.UUID  `json:"channel_id"`
	UserID        *uuid.UUID `json:"user_id,omitempty"`
	Content       string     `json:"content"`
	AttachmentRef string     `json:"attachment_ref,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`

	// Author display fields, joined in on read.
	AuthorName   string `json:"author_name,omitempty"`
	AuthorAvatar string `json:"author_avatar,omitempty"`
}

// LinkPreview holds metadata scraped from the first URL in a message.
type LinkPreview struct {
	ID        uuid.UUID `json:"id"`
	MessageID int64     `json:"message_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
