package remote

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprintboard/internal/auth"
	"sprintboard/internal/db"
	"sprintboard/internal/domain"
	"sprintboard/internal/events"
	"sprintboard/internal/migrate"
	"sprintboard/internal/repo"
	"sprintboard/internal/storage"
	"sprintboard/internal/storage/storagetest"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{DSN: db.SQLiteDSN(filepath.Join(t.TempDir(), "remote.db"))})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	return repo.Repo{DB: conn}
}

func seedUser(t *testing.T, r repo.Repo, email string) domain.User {
	t.Helper()
	rec := repo.UserRecord{ID: "u-" + strings.Split(email, "@")[0], Email: email, PasswordHash: "x", CreatedAt: domain.FormatTime(time.Now())}
	require.NoError(t, r.InsertUser(context.Background(), nil, rec))
	return rec.User()
}

func as(r repo.Repo, u domain.User, now func() time.Time) *Service {
	return New(r, Options{Session: auth.StaticSession{User: &u}, Now: now})
}

func readyAs(t *testing.T, r repo.Repo, u domain.User) *Service {
	t.Helper()
	svc := as(r, u, nil)
	require.NoError(t, svc.Initialize(context.Background()))
	return svc
}

func countAccess(t *testing.T, r repo.Repo, roomID, userID string) int {
	t.Helper()
	var n int
	require.NoError(t, r.DB.Get(&n, r.DB.Rebind(`SELECT COUNT(*) FROM room_access WHERE room_id=? AND user_id=?`), roomID, userID))
	return n
}

func TestContractSQLite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, clock *storagetest.Clock) storage.DataService {
		r := newRepo(t)
		owner := seedUser(t, r, "owner@example.com")
		setup := readyAs(t, r, owner)
		room, err := setup.CreateRoom(context.Background(), domain.RoomInput{Name: "Board"})
		require.NoError(t, err)

		svc := as(r, owner, clock.Now)
		svc.SetCurrentRoom(room.ID)
		return svc
	})
}

func TestFieldMapCoversTaskAndRow(t *testing.T) {
	for _, tag := range tags(reflect.TypeOf(domain.Task{}), "json") {
		_, ok := wireName(tag)
		assert.True(t, ok, "canonical %s", tag)
	}
	wires := map[string]bool{}
	for _, f := range fieldMap {
		wires[f.wire] = true
	}
	for _, tag := range tags(reflect.TypeOf(repo.TaskRow{}), "db") {
		if tag == "room_id" {
			continue
		}
		assert.True(t, wires[tag], "wire %s", tag)
	}
	assert.Equal(t, []string{"id", "atividade", "status", "desenvolvedor", "estimativa", "tempo_gasto"}, wireNames(storage.LocalCSVHeader))
}

func tags(typ reflect.Type, key string) []string {
	var out []string
	for i := 0; i < typ.NumField(); i++ {
		name, _, _ := strings.Cut(typ.Field(i).Tag.Get(key), ",")
		if name != "" && name != "-" {
			out = append(out, name)
		}
	}
	return out
}

func TestRowConversionKeepsOptionalFields(t *testing.T) {
	spent, validated := 2.5, true
	task := domain.Task{
		ID: "t1", Activity: "a", UserStory: "story", Priority: domain.PriorityHigh, Status: domain.StatusDoing,
		EstimateHours: 2, Reestimates: domain.NormalizeReestimates([]float64{3}, 2),
		TimeSpent: &spent, TimeSpentValidated: &validated, CreatedAt: "c", UpdatedAt: "u",
	}
	row, err := toRow(task, "room")
	require.NoError(t, err)
	assert.Nil(t, row.Epico)
	assert.Equal(t, "room", row.RoomID)

	back, err := fromRow(row)
	require.NoError(t, err)
	assert.Equal(t, task, back)
}

func TestTaskOpsNeedRoomAndActor(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	owner := seedUser(t, r, "owner@example.com")

	svc := readyAs(t, r, owner)
	_, err := svc.GetTasks(ctx, domain.TaskFilters{})
	assert.ErrorIs(t, err, storage.ErrNoRoomSelected)

	anon := New(r, Options{})
	require.NoError(t, anon.Initialize(ctx))
	anon.SetCurrentRoom("r")
	_, err = anon.GetTasks(ctx, domain.TaskFilters{})
	assert.ErrorIs(t, err, storage.ErrUnauthenticated)
	_, err = anon.CreateRoom(ctx, domain.RoomInput{Name: "x"})
	assert.ErrorIs(t, err, storage.ErrUnauthenticated)
}

func TestStrangerCannotWriteOrRead(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	owner := seedUser(t, r, "owner@example.com")
	stranger := seedUser(t, r, "stranger@example.com")

	o := readyAs(t, r, owner)
	room, err := o.CreateRoom(ctx, domain.RoomInput{Name: "Private"})
	require.NoError(t, err)
	o.SetCurrentRoom(room.ID)
	task, err := o.CreateTask(ctx, domain.TaskFields{Activity: ptr("secret")})
	require.NoError(t, err)

	s := readyAs(t, r, stranger)
	s.SetCurrentRoom(room.ID)
	got, err := s.GetTasks(ctx, domain.TaskFilters{})
	require.NoError(t, err)
	assert.Empty(t, got)
	one, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, one)

	_, err = s.CreateTask(ctx, domain.TaskFields{Activity: ptr("intrusion")})
	assert.ErrorIs(t, err, storage.ErrPermissionDenied)
	_, err = s.UpdateTask(ctx, task.ID, domain.TaskFields{Status: ptr(domain.StatusDone)})
	assert.ErrorIs(t, err, storage.ErrPermissionDenied)
	err = s.SetConfig(ctx, "theme", "dark")
	assert.ErrorIs(t, err, storage.ErrPermissionDenied)
}

func TestMutationsAreJournaled(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	owner := seedUser(t, r, "owner@example.com")
	svc := readyAs(t, r, owner)
	room, err := svc.CreateRoom(ctx, domain.RoomInput{Name: "Board"})
	require.NoError(t, err)
	svc.SetCurrentRoom(room.ID)

	task, err := svc.CreateTask(ctx, domain.TaskFields{Activity: ptr("a")})
	require.NoError(t, err)
	_, err = svc.DeleteTask(ctx, task.ID)
	require.NoError(t, err)

	entries, err := svc.Events(ctx, room.ID, 10)
	require.NoError(t, err)
	var kinds []string
	for _, e := range entries {
		kinds = append(kinds, e.Type)
	}
	assert.ElementsMatch(t, []string{string(events.RoomCreated), string(events.TaskCreated), string(events.TaskDeleted)}, kinds)
}

func TestImportAndBackupsAreNotImplemented(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	svc := readyAs(t, r, seedUser(t, r, "owner@example.com"))
	_, err := svc.ImportData(ctx, []byte(`[]`), storage.ImportOptions{})
	assert.ErrorIs(t, err, storage.ErrNotImplemented)
	_, err = svc.CreateBackup(ctx)
	assert.ErrorIs(t, err, storage.ErrNotImplemented)
	assert.ErrorIs(t, svc.RestoreBackup(ctx, "b"), storage.ErrNotImplemented)
	_, err = svc.ListBackups(ctx)
	assert.ErrorIs(t, err, storage.ErrNotImplemented)
}

func TestHealthReportsClosedDatabase(t *testing.T) {
	r := newRepo(t)
	svc := New(r, Options{})
	assert.Equal(t, storage.Healthy, svc.HealthCheck(context.Background()).Status)
	require.NoError(t, r.DB.Close())
	h := svc.HealthCheck(context.Background())
	assert.Equal(t, storage.Unhealthy, h.Status)
	assert.NotEmpty(t, h.Error)
	assert.ErrorIs(t, svc.Initialize(context.Background()), storage.ErrConnection)
}

func ptr[T any](v T) *T { return &v }
