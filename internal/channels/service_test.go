package channels

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamloop/backend/internal/access"
	"github.com/teamloop/backend/internal/apperr"
	"github.com/teamloop/backend/internal/models"
)

type fakeChannelStore struct {
	channels    map[uuid.UUID]*models.Channel
	messages    []*models.Message
	nextID      int64
	projectTeam map[uuid.UUID]uuid.UUID
	// userID -> set of project ids the user belongs to
	memberships map[uuid.UUID]map[uuid.UUID]struct{}
	insertErr   error
	deleted     []uuid.UUID
}

func newFakeChannelStore() *fakeChannelStore {
	return &fakeChannelStore{
		channels:    map[uuid.UUID]*models.Channel{},
		projectTeam: map[uuid.UUID]uuid.UUID{},
		memberships: map[uuid.UUID]map[uuid.UUID]struct{}{},
		nextID:      1,
	}
}

func (f *fakeChannelStore) addMembership(userID, projectID uuid.UUID) {
	if f.memberships[userID] == nil {
		f.memberships[userID] = map[uuid.UUID]struct{}{}
	}
	f.memberships[userID][projectID] = struct{}{}
}

func (f *fakeChannelStore) ListByTeam(_ context.Context, teamID uuid.UUID) ([]*models.Channel, error) {
	var out []*models.Channel
	for _, ch := range f.channels {
		if ch.TeamID == teamID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeChannelStore) ProjectMemberships(_ context.Context, _, userID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	set := map[uuid.UUID]struct{}{}
	for id := range f.memberships[userID] {
		set[id] = struct{}{}
	}
	return set, nil
}

func (f *fakeChannelStore) ListAttachmentRefs(_ context.Context, channelID uuid.UUID) ([]string, error) {
	var refs []string
	for _, m := range f.messages {
		if m.ChannelID == channelID && m.AttachmentRef != "" {
			refs = append(refs, m.AttachmentRef)
		}
	}
	return refs, nil
}

func (f *fakeChannelStore) GetProjectTeam(_ context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	teamID, ok := f.projectTeam[projectID]
	if !ok {
		return uuid.Nil, apperr.ErrNotFound
	}
	return teamID, nil
}

func (f *fakeChannelStore) Insert(_ context.Context, ch *models.Channel) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	for _, existing := range f.channels {
		if existing.TeamID == ch.TeamID && existing.Name == ch.Name {
			return apperr.ErrDuplicateChannelName
		}
	}
	ch.ID = uuid.New()
	f.channels[ch.ID] = ch
	return nil
}

func (f *fakeChannelStore) Delete(_ context.Context, channelID uuid.UUID) error {
	f.deleted = append(f.deleted, channelID)
	delete(f.channels, channelID)
	return nil
}

func (f *fakeChannelStore) InsertMessage(_ context.Context, channelID uuid.UUID, userID *uuid.UUID, content, attachmentRef string) (*models.Message, error) {
	msg := &models.Message{
		ID:            f.nextID,
		ChannelID:     channelID,
		UserID:        userID,
		Content:       content,
		AttachmentRef: attachmentRef,
	}
	f.nextID++
	f.messages = append(f.messages, msg)
	return msg, nil
}

func (f *fakeChannelStore) ListMessages(_ context.Context, channelID uuid.UUID, limit int, beforeID int64) ([]*models.Message, error) {
	// newest first, before exclusive, like the SQL does
	var out []*models.Message
	for i := len(f.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := f.messages[i]
		if m.ChannelID != channelID {
			continue
		}
		if beforeID != 0 && m.ID >= beforeID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeChannelStore) SearchMessages(_ context.Context, channelID uuid.UUID, query string, limit int) ([]*models.Message, error) {
	var out []*models.Message
	for i := len(f.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := f.messages[i]
		if m.ChannelID == channelID && strings.Contains(strings.ToLower(m.Content), strings.ToLower(query)) {
			out = append(out, m)
		}
	}
	return out, nil
}

// allowAll authorizes every user with the given role.
type fakeAuthorizer struct {
	role     string
	channels map[uuid.UUID]*models.Channel
	denyAll  bool
}

func (f *fakeAuthorizer) AuthorizeTeam(_ context.Context, _, _ uuid.UUID) (string, error) {
	if f.denyAll {
		return "", apperr.ErrAccessDenied
	}
	return f.role, nil
}

func (f *fakeAuthorizer) AuthorizeChannel(_ context.Context, _, channelID uuid.UUID) (*access.ChannelView, error) {
	if f.denyAll {
		return nil, apperr.ErrAccessDenied
	}
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &access.ChannelView{Channel: ch, Role: f.role}, nil
}

func (f *fakeAuthorizer) RequireTeamRole(_ context.Context, _, _ uuid.UUID, allowed ...string) (string, error) {
	if f.denyAll {
		return "", apperr.ErrAccessDenied
	}
	for _, a := range allowed {
		if f.role == a {
			return f.role, nil
		}
	}
	return "", apperr.ErrAccessDenied
}

type recordingBroadcaster struct {
	events []string
	msgs   []*models.Message
}

func (b *recordingBroadcaster) BroadcastToChannel(_ uuid.UUID, event string, payload interface{}) {
	b.events = append(b.events, event)
	if m, ok := payload.(*models.Message); ok {
		b.msgs = append(b.msgs, m)
	}
}

func setupService(role string) (*Service, *fakeChannelStore, *fakeAuthorizer, *recordingBroadcaster, uuid.UUID, uuid.UUID) {
	store := newFakeChannelStore()
	teamID := uuid.New()
	channelID := uuid.New()
	ch := &models.Channel{ID: channelID, TeamID: teamID, Name: "general"}
	store.channels[channelID] = ch
	engine := &fakeAuthorizer{role: role, channels: store.channels}
	hub := &recordingBroadcaster{}
	svc := NewService(store, engine, hub, nil, nil)
	return svc, store, engine, hub, teamID, channelID
}

func TestCreateMessage(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("persists and broadcasts", func(t *testing.T) {
		svc, _, _, hub, _, channelID := setupService(models.TeamRoleMember)
		msg, err := svc.CreateMessage(ctx, channelID, userID, "  hello  ", "")
		require.NoError(t, err)
		assert.Equal(t, "hello", msg.Content)
		assert.Equal(t, int64(1), msg.ID)
		require.Len(t, hub.events, 1)
		assert.Equal(t, "new-message", hub.events[0])
		assert.Same(t, msg, hub.msgs[0])
	})

	t.Run("empty content rejected", func(t *testing.T) {
		svc, _, _, _, _, channelID := setupService(models.TeamRoleMember)
		_, err := svc.CreateMessage(ctx, channelID, userID, "   ", "")
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("attachment-only message allowed", func(t *testing.T) {
		svc, _, _, _, _, channelID := setupService(models.TeamRoleMember)
		msg, err := svc.CreateMessage(ctx, channelID, userID, "", "attachments/x/y/z.png")
		require.NoError(t, err)
		assert.Empty(t, msg.Content)
		assert.Equal(t, "attachments/x/y/z.png", msg.AttachmentRef)
	})

	t.Run("over-length content rejected", func(t *testing.T) {
		svc, _, _, _, _, channelID := setupService(models.TeamRoleMember)
		_, err := svc.CreateMessage(ctx, channelID, userID, strings.Repeat("a", MaxMessageLength+1), "")
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("length counts runes not bytes", func(t *testing.T) {
		svc, _, _, _, _, channelID := setupService(models.TeamRoleMember)
		_, err := svc.CreateMessage(ctx, channelID, userID, strings.Repeat("é", MaxMessageLength), "")
		assert.NoError(t, err)
	})

	t.Run("denied sender does not broadcast", func(t *testing.T) {
		svc, store, engine, hub, _, channelID := setupService(models.TeamRoleMember)
		engine.denyAll = true
		_, err := svc.CreateMessage(ctx, channelID, userID, "hi", "")
		assert.ErrorIs(t, err, apperr.ErrAccessDenied)
		assert.Empty(t, hub.events)
		assert.Empty(t, store.messages)
	})

	t.Run("hook receives team id after persist", func(t *testing.T) {
		store := newFakeChannelStore()
		teamID := uuid.New()
		channelID := uuid.New()
		store.channels[channelID] = &models.Channel{ID: channelID, TeamID: teamID, Name: "general"}
		var hookTeam uuid.UUID
		var hookMsg *models.Message
		done := make(chan struct{})
		svc := NewService(store, &fakeAuthorizer{role: models.TeamRoleMember, channels: store.channels}, nil,
			func(tid uuid.UUID, m *models.Message) { hookTeam, hookMsg = tid, m; close(done) }, nil)

		msg, err := svc.CreateMessage(ctx, channelID, userID, "hi", "")
		require.NoError(t, err)
		<-done
		assert.Equal(t, teamID, hookTeam)
		assert.Same(t, msg, hookMsg)
	})

	t.Run("slow hook does not delay the send", func(t *testing.T) {
		store := newFakeChannelStore()
		teamID := uuid.New()
		channelID := uuid.New()
		store.channels[channelID] = &models.Channel{ID: channelID, TeamID: teamID, Name: "general"}
		release := make(chan struct{})
		ran := make(chan struct{})
		svc := NewService(store, &fakeAuthorizer{role: models.TeamRoleMember, channels: store.channels}, nil,
			func(uuid.UUID, *models.Message) { <-release; close(ran) }, nil)

		// returns while the hook is still blocked
		_, err := svc.CreateMessage(ctx, channelID, userID, "hi", "")
		require.NoError(t, err)
		close(release)
		<-ran
	})
}

func TestCreateMessageConcurrentOrdering(t *testing.T) {
	ctx := context.Background()
	svc, _, _, hub, _, channelID := setupService(models.TeamRoleMember)

	const senders = 4
	const perSender = 25
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sender := uuid.New()
			for j := 0; j < perSender; j++ {
				_, err := svc.CreateMessage(ctx, channelID, sender, "race", "")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, hub.msgs, senders*perSender)
	for i := 1; i < len(hub.msgs); i++ {
		require.Greater(t, hub.msgs[i].ID, hub.msgs[i-1].ID,
			"broadcast order must match id assignment order")
	}
}

func TestListChannelsVisibility(t *testing.T) {
	ctx := context.Background()
	store := newFakeChannelStore()
	teamID := uuid.New()
	projectID := uuid.New()
	store.projectTeam[projectID] = teamID

	general := &models.Channel{ID: uuid.New(), TeamID: teamID, Name: "general"}
	projChat := &models.Channel{ID: uuid.New(), TeamID: teamID, ProjectID: &projectID, Name: "proj-chat"}
	store.channels[general.ID] = general
	store.channels[projChat.ID] = projChat

	projectMember := uuid.New()
	teamOnlyMember := uuid.New()
	store.addMembership(projectMember, projectID)

	svc := NewService(store, &fakeAuthorizer{role: models.TeamRoleMember, channels: store.channels}, nil, nil, nil)

	t.Run("project member sees both channels", func(t *testing.T) {
		list, err := svc.ListChannels(ctx, teamID, projectMember)
		require.NoError(t, err)
		require.Len(t, list, 2)
	})

	t.Run("team-only member does not see the project channel", func(t *testing.T) {
		list, err := svc.ListChannels(ctx, teamID, teamOnlyMember)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "general", list[0].Name)
	})
}

func TestGetMessages(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	svc, _, _, _, _, channelID := setupService(models.TeamRoleMember)

	for i := 0; i < 10; i++ {
		_, err := svc.CreateMessage(ctx, channelID, userID, "msg", "")
		require.NoError(t, err)
	}

	t.Run("ascending order", func(t *testing.T) {
		msgs, err := svc.GetMessages(ctx, channelID, userID, 5, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 5)
		// newest 5, oldest first
		assert.Equal(t, int64(6), msgs[0].ID)
		assert.Equal(t, int64(10), msgs[4].ID)
	})

	t.Run("before cursor is exclusive", func(t *testing.T) {
		msgs, err := svc.GetMessages(ctx, channelID, userID, 3, 6)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, int64(3), msgs[0].ID)
		assert.Equal(t, int64(5), msgs[2].ID)
	})

	t.Run("limit clamped to max", func(t *testing.T) {
		msgs, err := svc.GetMessages(ctx, channelID, userID, MaxPageSize+500, 0)
		require.NoError(t, err)
		assert.Len(t, msgs, 10)
	})

	t.Run("zero limit uses default", func(t *testing.T) {
		msgs, err := svc.GetMessages(ctx, channelID, userID, 0, 0)
		require.NoError(t, err)
		assert.Len(t, msgs, 10)
	})

	t.Run("denied reader", func(t *testing.T) {
		deniedSvc, _, engine, _, _, chID := setupService(models.TeamRoleMember)
		engine.denyAll = true
		_, err := deniedSvc.GetMessages(ctx, chID, userID, 10, 0)
		assert.ErrorIs(t, err, apperr.ErrAccessDenied)
	})
}

func TestCreateChannel(t *testing.T) {
	ctx := context.Background()
	creator := uuid.New()

	t.Run("admin creates channel with default kind", func(t *testing.T) {
		svc, _, _, _, teamID, _ := setupService(models.TeamRoleAdmin)
		ch, err := svc.CreateChannel(ctx, CreateChannelParams{TeamID: teamID, Name: " design ", CreatorID: creator})
		require.NoError(t, err)
		assert.Equal(t, "design", ch.Name)
		assert.Equal(t, models.ChannelKindText, ch.Kind)
	})

	t.Run("member cannot create", func(t *testing.T) {
		svc, _, _, _, teamID, _ := setupService(models.TeamRoleMember)
		_, err := svc.CreateChannel(ctx, CreateChannelParams{TeamID: teamID, Name: "design", CreatorID: creator})
		assert.ErrorIs(t, err, apperr.ErrAccessDenied)
	})

	t.Run("duplicate name in team", func(t *testing.T) {
		svc, _, _, _, teamID, _ := setupService(models.TeamRoleAdmin)
		_, err := svc.CreateChannel(ctx, CreateChannelParams{TeamID: teamID, Name: "general", CreatorID: creator})
		assert.ErrorIs(t, err, apperr.ErrDuplicateChannelName)
	})

	t.Run("name validation", func(t *testing.T) {
		svc, _, _, _, teamID, _ := setupService(models.TeamRoleAdmin)
		_, err := svc.CreateChannel(ctx, CreateChannelParams{TeamID: teamID, Name: "  ", CreatorID: creator})
		assert.ErrorIs(t, err, apperr.ErrValidation)
		_, err = svc.CreateChannel(ctx, CreateChannelParams{TeamID: teamID, Name: strings.Repeat("x", 81), CreatorID: creator})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("project must belong to the team", func(t *testing.T) {
		svc, store, _, _, teamID, _ := setupService(models.TeamRoleAdmin)
		projectID := uuid.New()
		store.projectTeam[projectID] = uuid.New() // some other team
		_, err := svc.CreateChannel(ctx, CreateChannelParams{TeamID: teamID, Name: "proj", ProjectID: &projectID, CreatorID: creator})
		assert.ErrorIs(t, err, apperr.ErrProjectNotInTeam)
	})

	t.Run("project channel in same team", func(t *testing.T) {
		svc, store, _, _, teamID, _ := setupService(models.TeamRoleAdmin)
		projectID := uuid.New()
		store.projectTeam[projectID] = teamID
		ch, err := svc.CreateChannel(ctx, CreateChannelParams{TeamID: teamID, Name: "proj", ProjectID: &projectID, CreatorID: creator})
		require.NoError(t, err)
		require.NotNil(t, ch.ProjectID)
		assert.Equal(t, projectID, *ch.ProjectID)
	})
}

func TestDeleteChannel(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("admin deletes own team's channel", func(t *testing.T) {
		svc, store, _, _, teamID, channelID := setupService(models.TeamRoleAdmin)
		require.NoError(t, svc.DeleteChannel(ctx, channelID, teamID, userID))
		assert.Equal(t, []uuid.UUID{channelID}, store.deleted)
	})

	t.Run("channel of another team reads as not found", func(t *testing.T) {
		svc, store, _, _, _, channelID := setupService(models.TeamRoleAdmin)
		err := svc.DeleteChannel(ctx, channelID, uuid.New(), userID)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		assert.Empty(t, store.deleted)
	})

	t.Run("member cannot delete", func(t *testing.T) {
		svc, _, _, _, teamID, channelID := setupService(models.TeamRoleMember)
		err := svc.DeleteChannel(ctx, channelID, teamID, userID)
		assert.ErrorIs(t, err, apperr.ErrAccessDenied)
	})

	t.Run("attachment objects cleaned up", func(t *testing.T) {
		svc, store, _, _, teamID, channelID := setupService(models.TeamRoleAdmin)
		objects := &fakeObjectStore{}
		svc.SetObjectStore(objects)

		_, err := svc.CreateMessage(ctx, channelID, userID, "", "attachments/a/1/x.png")
		require.NoError(t, err)
		_, err = svc.CreateMessage(ctx, channelID, userID, "no file", "")
		require.NoError(t, err)
		_, err = svc.CreateMessage(ctx, channelID, userID, "", "attachments/a/2/y.pdf")
		require.NoError(t, err)

		require.NoError(t, svc.DeleteChannel(ctx, channelID, teamID, userID))
		assert.Equal(t, []uuid.UUID{channelID}, store.deleted)
		assert.ElementsMatch(t, []string{"attachments/a/1/x.png", "attachments/a/2/y.pdf"}, objects.deleted)
	})
}

type fakeObjectStore struct {
	deleted []string
}

func (f *fakeObjectStore) DeleteObject(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func TestSearchMessages(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	svc, _, _, _, _, channelID := setupService(models.TeamRoleMember)

	for _, text := range []string{"deploy friday", "retro notes", "deploy monday"} {
		_, err := svc.CreateMessage(ctx, channelID, userID, text, "")
		require.NoError(t, err)
	}

	msgs, err := svc.SearchMessages(ctx, channelID, userID, "Deploy")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	_, err = svc.SearchMessages(ctx, channelID, userID, "   ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
