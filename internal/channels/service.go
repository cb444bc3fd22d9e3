package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teamloop/backend/internal/access"
	"github.com/teamloop/backend/internal/apperr"
	"github.com/teamloop/backend/internal/models"
)

const (
	// MaxMessageLength is the maximum message content length in characters.
	MaxMessageLength = 2000
	// MaxPageSize caps the limit parameter on message fetches.
	MaxPageSize = 100
	// DefaultPageSize is used when no limit is given.
	DefaultPageSize = 50
	// SearchLimit caps search results.
	SearchLimit = 50
	// sendShards is the size of the per-channel send mutex stripe.
	sendShards = 64
)

// Store is the persistence surface the service needs; implemented by
// Repository, faked in tests.
type Store interface {
	ListByTeam(ctx context.Context, teamID uuid.UUID) ([]*models.Channel, error)
	ProjectMemberships(ctx context.Context, teamID, userID uuid.UUID) (map[uuid.UUID]struct{}, error)
	GetProjectTeam(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error)
	Insert(ctx context.Context, ch *models.Channel) error
	Delete(ctx context.Context, channelID uuid.UUID) error
	ListAttachmentRefs(ctx context.Context, channelID uuid.UUID) ([]string, error)
	InsertMessage(ctx context.Context, channelID uuid.UUID, userID *uuid.UUID, content, attachmentRef string) (*models.Message, error)
	ListMessages(ctx context.Context, channelID uuid.UUID, limit int, beforeID int64) ([]*models.Message, error)
	SearchMessages(ctx context.Context, channelID uuid.UUID, query string, limit int) ([]*models.Message, error)
}

// Authorizer is the slice of the access engine the service uses.
type Authorizer interface {
	AuthorizeTeam(ctx context.Context, userID, teamID uuid.UUID) (string, error)
	AuthorizeChannel(ctx context.Context, userID, channelID uuid.UUID) (*access.ChannelView, error)
	RequireTeamRole(ctx context.Context, userID, teamID uuid.UUID, allowed ...string) (string, error)
}

// Broadcaster fans an event out to every live connection in a channel's room.
// Implemented by the realtime hub; nil disables broadcasting.
type Broadcaster interface {
	BroadcastToChannel(channelID uuid.UUID, event string, payload interface{})
}

// MessageHook observes messages after they are persisted and broadcast.
// Used for the best-effort side tasks (link preview, notification fan-out);
// invoked on its own goroutine so a slow hook never delays the send, and it
// never fails the send.
type MessageHook func(teamID uuid.UUID, msg *models.Message)

// ObjectStore removes stored attachment objects. Implemented by the S3
// client; nil disables cleanup.
type ObjectStore interface {
	DeleteObject(ctx context.Context, key string) error
}

// Service owns channel and message operations. Every operation authorizes
// through the access engine itself; callers never pre-authorize on its behalf.
type Service struct {
	store   Store
	engine  Authorizer
	hub     Broadcaster
	hook    MessageHook
	objects ObjectStore
	logger  *zap.Logger
	sendMu  [sendShards]sync.Mutex
}

// NewService creates the channel service.
func NewService(store Store, engine Authorizer, hub Broadcaster, hook MessageHook, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, engine: engine, hub: hub, hook: hook, logger: logger}
}

// SetObjectStore enables best-effort deletion of attachment objects when
// their channel is deleted.
func (s *Service) SetObjectStore(objects ObjectStore) {
	s.objects = objects
}

// CreateChannelParams are the inputs for CreateChannel.
type CreateChannelParams struct {
	TeamID    uuid.UUID
	Name      string
	Kind      string
	ProjectID *uuid.UUID
	IsPrivate bool
	CreatorID uuid.UUID
}

// AuthorizeChannel exposes the engine's channel check for callers that need
// the channel metadata (realtime join, presence, link listing).
func (s *Service) AuthorizeChannel(ctx context.Context, userID, channelID uuid.UUID) (*access.ChannelView, error) {
	return s.engine.AuthorizeChannel(ctx, userID, channelID)
}

// ListChannels returns the channels visible to the user in a team: every
// team-scoped channel, plus project-scoped channels only where the user holds
// a project membership.
func (s *Service) ListChannels(ctx context.Context, teamID, userID uuid.UUID) ([]*models.Channel, error) {
	if _, err := s.engine.AuthorizeTeam(ctx, userID, teamID); err != nil {
		return nil, err
	}
	all, err := s.store.ListByTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	memberships, err := s.store.ProjectMemberships(ctx, teamID, userID)
	if err != nil {
		return nil, err
	}
	visible := make([]*models.Channel, 0, len(all))
	for _, ch := range all {
		if ch.ProjectID == nil {
			visible = append(visible, ch)
			continue
		}
		if _, ok := memberships[*ch.ProjectID]; ok {
			visible = append(visible, ch)
		}
	}
	return visible, nil
}

// CreateChannel creates a channel. Requires team owner/admin. A project-scoped
// channel must reference a project of the same team.
func (s *Service) CreateChannel(ctx context.Context, p CreateChannelParams) (*models.Channel, error) {
	if _, err := s.engine.RequireTeamRole(ctx, p.CreatorID, p.TeamID,
		models.TeamRoleOwner, models.TeamRoleAdmin); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(p.Name)
	if name == "" || len(name) > 80 {
		return nil, fmt.Errorf("channel name must be 1-80 characters: %w", apperr.ErrValidation)
	}
	kind := p.Kind
	if kind == "" {
		kind = models.ChannelKindText
	}

	if p.ProjectID != nil {
		projectTeam, err := s.store.GetProjectTeam(ctx, *p.ProjectID)
		if err != nil {
			return nil, err
		}
		if projectTeam != p.TeamID {
			return nil, apperr.ErrProjectNotInTeam
		}
	}

	ch := &models.Channel{
		TeamID:    p.TeamID,
		ProjectID: p.ProjectID,
		Name:      name,
		Kind:      kind,
		IsPrivate: p.IsPrivate,
		CreatedBy: p.CreatorID,
	}
	if err := s.store.Insert(ctx, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// DeleteChannel removes a channel and cascades its messages. Requires team
// owner/admin, and the channel must belong to the given team: an admin of one
// team cannot delete another team's channel by guessing ids.
func (s *Service) DeleteChannel(ctx context.Context, channelID, teamID, userID uuid.UUID) error {
	if _, err := s.engine.RequireTeamRole(ctx, userID, teamID,
		models.TeamRoleOwner, models.TeamRoleAdmin); err != nil {
		return err
	}
	view, err := s.engine.AuthorizeChannel(ctx, userID, channelID)
	if err != nil {
		return err
	}
	if view.Channel.TeamID != teamID {
		return apperr.ErrNotFound
	}

	// Collect attachment keys before the row delete cascades the messages.
	var refs []string
	if s.objects != nil {
		if refs, err = s.store.ListAttachmentRefs(ctx, channelID); err != nil {
			s.logger.Warn("list attachment refs", zap.Error(err), zap.String("channel_id", channelID.String()))
			refs = nil
		}
	}
	if err := s.store.Delete(ctx, channelID); err != nil {
		return err
	}
	for _, key := range refs {
		if err := s.objects.DeleteObject(ctx, key); err != nil {
			s.logger.Warn("delete attachment object", zap.Error(err), zap.String("key", key))
		}
	}
	return nil
}

// GetMessages returns up to limit messages older than beforeID (exclusive),
// in ascending chronological order. The store fetches descending for index
// efficiency; the reversal here is part of the API contract.
func (s *Service) GetMessages(ctx context.Context, channelID, userID uuid.UUID, limit int, beforeID int64) ([]*models.Message, error) {
	if _, err := s.engine.AuthorizeChannel(ctx, userID, channelID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	msgs, err := s.store.ListMessages(ctx, channelID, limit, beforeID)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// CreateMessage validates, authorizes, persists, and broadcasts a message.
// Authorization runs on every send even for connections already in the room,
// since access can be revoked mid-session. The per-channel mutex is held
// across insert+broadcast so fan-out order always matches id order.
func (s *Service) CreateMessage(ctx context.Context, channelID, userID uuid.UUID, content, attachmentRef string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" && attachmentRef == "" {
		return nil, fmt.Errorf("message must have content or an attachment: %w", apperr.ErrValidation)
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, fmt.Errorf("message exceeds %d characters: %w", MaxMessageLength, apperr.ErrValidation)
	}

	view, err := s.engine.AuthorizeChannel(ctx, userID, channelID)
	if err != nil {
		return nil, err
	}

	mu := &s.sendMu[channelShard(channelID)]
	mu.Lock()
	msg, err := s.store.InsertMessage(ctx, channelID, &userID, content, attachmentRef)
	if err == nil && s.hub != nil {
		s.hub.BroadcastToChannel(channelID, "new-message", msg)
	}
	mu.Unlock()
	if err != nil {
		return nil, err
	}

	if s.hook != nil {
		go s.hook(view.Channel.TeamID, msg)
	}
	return msg, nil
}

// SearchMessages returns up to SearchLimit messages matching the query as a
// case-insensitive substring, newest first.
func (s *Service) SearchMessages(ctx context.Context, channelID, userID uuid.UUID, query string) ([]*models.Message, error) {
	if _, err := s.engine.AuthorizeChannel(ctx, userID, channelID); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query required: %w", apperr.ErrValidation)
	}
	return s.store.SearchMessages(ctx, channelID, query, SearchLimit)
}

func channelShard(id uuid.UUID) int {
	// uuid bytes are uniformly distributed; the last byte picks the stripe.
	return int(id[15]) % sendShards
}
