package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprintboard/internal/auth"
	"sprintboard/internal/config"
	"sprintboard/internal/domain"
	"sprintboard/internal/local"
	"sprintboard/internal/remote"
	"sprintboard/internal/storage"
)

func openApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	a, err := Open(context.Background(), t.TempDir(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSelectMode(t *testing.T) {
	signedIn := auth.State{IsAuthenticated: true, User: &domain.User{ID: "u"}}
	assert.Equal(t, config.ModeLocal, SelectMode(config.ModeAuto, auth.State{}))
	assert.Equal(t, config.ModeRemote, SelectMode(config.ModeAuto, signedIn))
	assert.Equal(t, config.ModeLocal, SelectMode(config.ModeLocal, signedIn))
	assert.Equal(t, config.ModeRemote, SelectMode(config.ModeRemote, auth.State{}))
}

func TestBackendFollowsAuthState(t *testing.T) {
	a := openApp(t)
	ctx := context.Background()

	svc, err := a.Backend(ctx, "")
	require.NoError(t, err)
	assert.IsType(t, &local.Service{}, svc)

	_, err = a.Auth.SignUp(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	svc, err = a.Backend(ctx, "")
	require.NoError(t, err)
	rs, ok := svc.(*remote.Service)
	require.True(t, ok)

	room, err := rs.CreateRoom(ctx, domain.RoomInput{Name: "Board"})
	require.NoError(t, err)
	svc, err = a.Backend(ctx, room.RoomCode)
	require.NoError(t, err)
	assert.Equal(t, room.ID, svc.(*remote.Service).CurrentRoom())

	_, err = a.Backend(ctx, "ZZZZ0000")
	assert.ErrorIs(t, err, storage.ErrRoomNotFound)
}

func TestRemoteNeedsSignIn(t *testing.T) {
	a := openApp(t)
	_, err := a.Remote(context.Background())
	assert.ErrorIs(t, err, storage.ErrUnauthenticated)
}

func TestSessionSurvivesReopen(t *testing.T) {
	a := openApp(t)
	ctx := context.Background()
	_, err := a.Auth.SignUp(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, a.SaveSession())

	again := &App{Workspace: a.Workspace, Log: a.Log, Auth: &auth.Service{Repo: a.Repo, Secret: "test-secret"}}
	require.NoError(t, again.RestoreSession(ctx))
	st := again.Auth.State()
	require.True(t, st.IsAuthenticated)
	assert.Equal(t, "ana@example.com", st.User.Email)

	require.NoError(t, again.ClearSession())
	require.NoError(t, again.ClearSession())
	assert.False(t, again.Auth.State().IsAuthenticated)
}
