package repo

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprintboard/internal/db"
	"sprintboard/internal/domain"
	"sprintboard/internal/events"
	"sprintboard/internal/migrate"
)

const ts = "2024-01-01T00:00:00.000000Z"

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{DSN: db.SQLiteDSN(filepath.Join(t.TempDir(), "repo.db"))})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	return Repo{DB: conn}
}

func seedRoom(t *testing.T, r Repo, id, code, owner string) domain.Room {
	t.Helper()
	room := domain.Room{ID: id, Name: id, RoomCode: code, OwnerID: owner, CreatedAt: ts, UpdatedAt: ts}
	require.NoError(t, r.InsertRoom(context.Background(), nil, room))
	return room
}

func seedTask(t *testing.T, r Repo, roomID, id string) TaskRow {
	t.Helper()
	row := TaskRow{ID: id, RoomID: roomID, Atividade: id, Prioridade: domain.PriorityMedium, Status: domain.StatusBacklog, Reestimativas: "[]", CreatedAt: ts, UpdatedAt: ts}
	require.NoError(t, r.InsertTask(context.Background(), nil, row))
	return row
}

func TestRoomCodeIsUnique(t *testing.T) {
	r := newTestRepo(t)
	seedRoom(t, r, "r1", "ABCD1234", "owner")
	err := r.InsertRoom(context.Background(), nil, domain.Room{ID: "r2", Name: "x", RoomCode: "ABCD1234", OwnerID: "owner", CreatedAt: ts, UpdatedAt: ts})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestVisibilityFollowsOwnershipAndGrants(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedRoom(t, r, "r1", "ABCD1234", "owner")
	seedTask(t, r, "r1", "t1")

	_, err := r.GetVisibleRoom(ctx, nil, "r1", "stranger")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetTask(ctx, nil, "r1", "stranger", "t1")
	assert.ErrorIs(t, err, ErrNotFound)
	rows, err := r.ListTasks(ctx, "r1", "stranger", domain.TaskFilters{})
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = r.GetVisibleRoom(ctx, nil, "r1", "owner")
	require.NoError(t, err)

	inserted, err := r.GrantAccess(ctx, nil, domain.RoomAccess{RoomID: "r1", UserID: "stranger", Role: domain.RoleMember, GrantedBy: "owner", CreatedAt: ts})
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = r.GrantAccess(ctx, nil, domain.RoomAccess{RoomID: "r1", UserID: "stranger", Role: domain.RoleMember, GrantedBy: "owner", CreatedAt: ts})
	require.NoError(t, err)
	assert.False(t, inserted)

	row, err := r.GetTask(ctx, nil, "r1", "stranger", "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", row.ID)

	rooms, err := r.ListVisibleRooms(ctx, "stranger")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "ABCD1234", rooms[0].RoomCode)

	role, err := r.RoomRole(ctx, nil, "r1", "owner")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, role)
	role, err = r.RoomRole(ctx, nil, "r1", "stranger")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMember, role)
	_, err = r.RoomRole(ctx, nil, "r1", "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRoomRolePrefersOwnership(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedRoom(t, r, "r1", "ABCD1234", "owner")
	_, err := r.GrantAccess(ctx, nil, domain.RoomAccess{RoomID: "r1", UserID: "owner", Role: domain.RoleMember, CreatedAt: ts})
	require.NoError(t, err)

	role, err := r.RoomRole(ctx, nil, "r1", "owner")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, role)
}

func TestDeleteRoomCascades(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedRoom(t, r, "r1", "ABCD1234", "owner")
	seedTask(t, r, "r1", "t1")
	_, err := r.GrantAccess(ctx, nil, domain.RoomAccess{RoomID: "r1", UserID: "u2", Role: domain.RoleAdmin, CreatedAt: ts})
	require.NoError(t, err)
	require.NoError(t, r.UpsertConfig(ctx, nil, "owner", "r1", "k", json.RawMessage(`1`), ts))

	require.NoError(t, r.DeleteRoom(ctx, nil, "r1"))
	assert.ErrorIs(t, r.DeleteRoom(ctx, nil, "r1"), ErrNotFound)

	var n int
	require.NoError(t, r.DB.Get(&n, `SELECT COUNT(*) FROM tasks`))
	assert.Zero(t, n)
	require.NoError(t, r.DB.Get(&n, `SELECT COUNT(*) FROM room_access`))
	assert.Zero(t, n)
	require.NoError(t, r.DB.Get(&n, `SELECT COUNT(*) FROM room_configs`))
	assert.Zero(t, n)
}

func TestListTasksEscapesLikePatterns(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedRoom(t, r, "r1", "ABCD1234", "owner")
	a := seedTask(t, r, "r1", "a")
	pct := "100% done"
	a.Sprint = &pct
	require.NoError(t, r.UpdateTask(ctx, nil, a))
	b := seedTask(t, r, "r1", "b")
	other := "1000 done"
	b.Sprint = &other
	require.NoError(t, r.UpdateTask(ctx, nil, b))

	rows, err := r.ListTasks(ctx, "r1", "owner", domain.TaskFilters{Sprint: "0%"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].ID)

	rows, err = r.ListTasks(ctx, "r1", "owner", domain.TaskFilters{Offset: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0].ID)
}

func TestConfigUpsert(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedRoom(t, r, "r1", "ABCD1234", "owner")
	require.NoError(t, r.UpsertConfig(ctx, nil, "owner", "r1", "k", json.RawMessage(`1`), ts))
	require.NoError(t, r.UpsertConfig(ctx, nil, "owner", "r1", "k", json.RawMessage(`2`), ts))
	v, err := r.GetConfig(ctx, "owner", "r1", "k")
	require.NoError(t, err)
	assert.JSONEq(t, `2`, string(v))
	_, err = r.GetConfig(ctx, "other", "r1", "k")
	assert.ErrorIs(t, err, ErrNotFound)
	all, err := r.ListConfigs(ctx, "owner", "r1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUsersAndAPIKeys(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, r.InsertUser(ctx, nil, UserRecord{ID: "u1", Email: "Ana@Example.com", PasswordHash: "h", CreatedAt: ts}))
	assert.ErrorIs(t, r.InsertUser(ctx, nil, UserRecord{ID: "u2", Email: "ana@example.com", PasswordHash: "h", CreatedAt: ts}), ErrConflict)
	u, err := r.GetUserByEmail(ctx, " ANA@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	require.NoError(t, r.InsertAPIKey(ctx, nil, APIKey{ID: "k1", UserID: "u1", KeyHash: HashAPIKey("secret")}))
	key, err := r.GetAPIKeyByHash(ctx, HashAPIKey(" secret "))
	require.NoError(t, err)
	assert.Equal(t, "u1", key.UserID)
	keys, err := r.ListAPIKeys(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	assert.ErrorIs(t, r.DeleteAPIKey(ctx, "u2", "k1"), ErrNotFound)
	require.NoError(t, r.DeleteAPIKey(ctx, "u1", "k1"))
}

func TestLatestEvents(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	w := events.Writer{}
	require.NoError(t, r.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := w.Append(ctx, tx, events.RoomCreated, "r1", "room", "r1", "u1", events.Payload{"code": "ABCD1234"}); err != nil {
			return err
		}
		return w.Append(ctx, tx, events.TaskCreated, "r1", "task", "t1", "u1", nil)
	}))
	all, err := r.LatestEvents(ctx, 10, "r1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	only, err := r.LatestEvents(ctx, 10, "", string(events.RoomCreated))
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.JSONEq(t, `{"code":"ABCD1234"}`, only[0].PayloadJSON)
}
