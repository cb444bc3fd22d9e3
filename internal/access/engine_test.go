package access

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamloop/backend/internal/apperr"
	"github.com/teamloop/backend/internal/models"
)

// fakeStore records lookup order so tests can assert check sequencing.
type fakeStore struct {
	channels     map[uuid.UUID]*models.Channel
	teamRoles    map[string]string // teamID|userID -> role
	projectRoles map[string]string // projectID|userID -> role
	projectTeams map[uuid.UUID]uuid.UUID
	calls        []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		channels:     map[uuid.UUID]*models.Channel{},
		teamRoles:    map[string]string{},
		projectRoles: map[string]string{},
		projectTeams: map[uuid.UUID]uuid.UUID{},
	}
}

func key(a, b uuid.UUID) string { return a.String() + "|" + b.String() }

func (f *fakeStore) GetChannel(_ context.Context, id uuid.UUID) (*models.Channel, error) {
	f.calls = append(f.calls, "channel")
	ch, ok := f.channels[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return ch, nil
}

func (f *fakeStore) GetTeamRole(_ context.Context, teamID, userID uuid.UUID) (string, error) {
	f.calls = append(f.calls, "team")
	role, ok := f.teamRoles[key(teamID, userID)]
	if !ok {
		return "", apperr.ErrNotFound
	}
	return role, nil
}

func (f *fakeStore) GetProjectRole(_ context.Context, projectID, userID uuid.UUID) (string, error) {
	f.calls = append(f.calls, "project")
	role, ok := f.projectRoles[key(projectID, userID)]
	if !ok {
		return "", apperr.ErrNotFound
	}
	return role, nil
}

func (f *fakeStore) GetProjectTeam(_ context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	f.calls = append(f.calls, "projectTeam")
	teamID, ok := f.projectTeams[projectID]
	if !ok {
		return uuid.Nil, apperr.ErrNotFound
	}
	return teamID, nil
}

func TestAuthorizeTeam(t *testing.T) {
	teamID := uuid.New()
	member := uuid.New()
	outsider := uuid.New()

	store := newFakeStore()
	store.teamRoles[key(teamID, member)] = models.TeamRoleAdmin
	engine := NewEngine(store)

	role, err := engine.AuthorizeTeam(context.Background(), member, teamID)
	require.NoError(t, err)
	assert.Equal(t, models.TeamRoleAdmin, role)

	_, err = engine.AuthorizeTeam(context.Background(), outsider, teamID)
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)
}

func TestAuthorizeChannel_TeamChannel(t *testing.T) {
	teamID := uuid.New()
	channelID := uuid.New()
	member := uuid.New()

	store := newFakeStore()
	store.channels[channelID] = &models.Channel{ID: channelID, TeamID: teamID, Name: "general"}
	store.teamRoles[key(teamID, member)] = models.TeamRoleMember
	engine := NewEngine(store)

	view, err := engine.AuthorizeChannel(context.Background(), member, channelID)
	require.NoError(t, err)
	assert.Equal(t, channelID, view.Channel.ID)
	assert.Equal(t, models.TeamRoleMember, view.Role)
	// team-level channel never touches project tables
	assert.Equal(t, []string{"channel", "team"}, store.calls)
}

func TestAuthorizeChannel_ProjectChannel(t *testing.T) {
	teamID := uuid.New()
	projectID := uuid.New()
	channelID := uuid.New()

	teamAndProjectMember := uuid.New()
	teamOnlyMember := uuid.New()
	outsider := uuid.New()

	setup := func() *fakeStore {
		store := newFakeStore()
		store.channels[channelID] = &models.Channel{ID: channelID, TeamID: teamID, ProjectID: &projectID, Name: "proj-chat"}
		store.teamRoles[key(teamID, teamAndProjectMember)] = models.TeamRoleMember
		store.teamRoles[key(teamID, teamOnlyMember)] = models.TeamRoleMember
		store.projectRoles[key(projectID, teamAndProjectMember)] = models.ProjectRoleEditor
		return store
	}

	t.Run("project member sees project role", func(t *testing.T) {
		engine := NewEngine(setup())
		view, err := engine.AuthorizeChannel(context.Background(), teamAndProjectMember, channelID)
		require.NoError(t, err)
		assert.Equal(t, models.ProjectRoleEditor, view.Role)
	})

	t.Run("team membership alone is not enough", func(t *testing.T) {
		engine := NewEngine(setup())
		_, err := engine.AuthorizeChannel(context.Background(), teamOnlyMember, channelID)
		assert.ErrorIs(t, err, apperr.ErrAccessDenied)
	})

	t.Run("outsider fails at the team check", func(t *testing.T) {
		store := setup()
		engine := NewEngine(store)
		_, err := engine.AuthorizeChannel(context.Background(), outsider, channelID)
		assert.ErrorIs(t, err, apperr.ErrAccessDenied)
		// the project table is never consulted for a non-team-member
		assert.Equal(t, []string{"channel", "team"}, store.calls)
	})
}

func TestAuthorizeChannel_UnknownChannel(t *testing.T) {
	engine := NewEngine(newFakeStore())
	_, err := engine.AuthorizeChannel(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAuthorizeProject_ChecksTeamFirst(t *testing.T) {
	teamID := uuid.New()
	projectID := uuid.New()
	outsider := uuid.New()

	store := newFakeStore()
	store.projectTeams[projectID] = teamID
	// outsider has no team membership but somehow a stale project role row
	store.projectRoles[key(projectID, outsider)] = models.ProjectRoleViewer
	engine := NewEngine(store)

	_, err := engine.AuthorizeProject(context.Background(), outsider, projectID)
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)
	assert.Equal(t, []string{"projectTeam", "team"}, store.calls)
}

func TestAuthorizeProject_UnknownProject(t *testing.T) {
	engine := NewEngine(newFakeStore())
	_, err := engine.AuthorizeProject(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRequireTeamRole(t *testing.T) {
	teamID := uuid.New()
	owner := uuid.New()
	member := uuid.New()

	store := newFakeStore()
	store.teamRoles[key(teamID, owner)] = models.TeamRoleOwner
	store.teamRoles[key(teamID, member)] = models.TeamRoleMember
	engine := NewEngine(store)

	role, err := engine.RequireTeamRole(context.Background(), owner, teamID, models.TeamRoleOwner, models.TeamRoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.TeamRoleOwner, role)

	_, err = engine.RequireTeamRole(context.Background(), member, teamID, models.TeamRoleOwner, models.TeamRoleAdmin)
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)

	_, err = engine.RequireTeamRole(context.Background(), uuid.New(), teamID, models.TeamRoleOwner)
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)
}
