package bridge

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprintboard/internal/auth"
	"sprintboard/internal/db"
	"sprintboard/internal/domain"
	"sprintboard/internal/kv"
	"sprintboard/internal/local"
	"sprintboard/internal/migrate"
	"sprintboard/internal/remote"
	"sprintboard/internal/repo"
)

type fixture struct {
	rooms local.Rooms
	repo  repo.Repo
	user  domain.User
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	kvConn, err := db.Open(db.Config{DSN: db.SQLiteDSN(filepath.Join(dir, "local.db"))})
	require.NoError(t, err)
	store, err := kv.NewSQLStore(ctx, kvConn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	conn, err := db.Open(db.Config{DSN: db.SQLiteDSN(filepath.Join(dir, "remote.db"))})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn))
	r := repo.Repo{DB: conn}

	rec := repo.UserRecord{ID: "u1", Email: "ana@example.com", PasswordHash: "x", CreatedAt: "2024-01-01T00:00:00.000000Z"}
	require.NoError(t, r.InsertUser(ctx, nil, rec))
	return fixture{rooms: local.Rooms{Store: store}, repo: r, user: rec.User()}
}

func (f fixture) remote(t *testing.T) *remote.Service {
	t.Helper()
	u := f.user
	svc := remote.New(f.repo, remote.Options{Session: auth.StaticSession{User: &u}})
	require.NoError(t, svc.Initialize(context.Background()))
	return svc
}

func (f fixture) localRoom(t *testing.T, code string, activities ...string) {
	t.Helper()
	ctx := context.Background()
	svc, err := local.New(f.rooms.Store, local.Options{RoomCode: code})
	require.NoError(t, err)
	require.NoError(t, svc.Initialize(ctx))
	for _, a := range activities {
		a := a
		_, err := svc.CreateTask(ctx, domain.TaskFields{Activity: &a})
		require.NoError(t, err)
	}
}

func TestMigrateCopiesEveryRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.localRoom(t, "ROOM0001", "a", "b", "c")
	f.localRoom(t, "ROOM0002")

	dst := f.remote(t)
	rep, err := Bridge{Local: f.rooms, Remote: dst}.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.RoomsCreated)
	assert.Equal(t, 3, rep.TasksMigrated)
	assert.Empty(t, rep.Errors)

	for code, want := range map[string]int{"ROOM0001": 3, "ROOM0002": 0} {
		room, err := dst.FindRoomByCode(ctx, code)
		require.NoError(t, err)
		require.NotNil(t, room, code)
		dst.SetCurrentRoom(room.ID)
		n, err := dst.GetTasksCount(ctx, domain.TaskFilters{})
		require.NoError(t, err)
		assert.Equal(t, want, n, code)
	}

	kept, err := f.rooms.ReadTasks(ctx, "ROOM0001")
	require.NoError(t, err)
	assert.Len(t, kept, 3, "local data stays as a fallback")
}

func TestMigrateReusesExistingRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.localRoom(t, "ROOM0001", "a")
	dst := f.remote(t)
	_, err := dst.CreateRoom(ctx, domain.RoomInput{Name: "already there", RoomCode: "ROOM0001"})
	require.NoError(t, err)

	rep, err := Bridge{Local: f.rooms, Remote: dst}.Migrate(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.RoomsCreated)
	assert.Equal(t, 1, rep.TasksMigrated)
}

func TestMigrateFillsDefaultsAndCollectsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw, err := json.Marshal([]map[string]any{
		{"id": "bare"},
		{"id": "story", "userStory": "As a user", "status": "Doing", "estimativa": 3},
		{"id": "broken", "atividade": "x", "status": "Someday"},
		{"id": "typed", "estimativa": "lots"},
	})
	require.NoError(t, err)
	require.NoError(t, f.rooms.WriteRaw(ctx, "ROOM0003", raw))
	require.NoError(t, f.rooms.WriteRaw(ctx, "bad-code", json.RawMessage(`[]`)))

	dst := f.remote(t)
	rep, err := Bridge{Local: f.rooms, Remote: dst}.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.RoomsCreated)
	assert.Equal(t, 2, rep.TasksMigrated)

	var failed []string
	for _, e := range rep.Errors {
		failed = append(failed, e.Room+"/"+e.TaskID)
	}
	assert.ElementsMatch(t, []string{"ROOM0003/broken", "ROOM0003/#3", "BAD-CODE/"}, failed)

	room, err := dst.FindRoomByCode(ctx, "ROOM0003")
	require.NoError(t, err)
	dst.SetCurrentRoom(room.ID)
	tasks, err := dst.GetTasks(ctx, domain.TaskFilters{})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	byStory := map[string]domain.Task{}
	for _, task := range tasks {
		assert.Equal(t, PlaceholderActivity, task.Activity)
		byStory[task.UserStory] = task
	}
	bare := byStory[""]
	assert.Equal(t, domain.StatusBacklog, bare.Status)
	assert.Zero(t, bare.EstimateHours)
	story, ok := byStory["As a user"]
	require.True(t, ok)
	assert.Equal(t, domain.StatusDoing, story.Status)
	assert.Equal(t, 3.0, story.EstimateHours)
}

func TestMigrateNeedsActor(t *testing.T) {
	f := newFixture(t)
	dst := remote.New(f.repo, remote.Options{})
	require.NoError(t, dst.Initialize(context.Background()))
	_, err := Bridge{Local: f.rooms, Remote: dst}.Migrate(context.Background())
	assert.Error(t, err)
}
