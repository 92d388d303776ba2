//go:build integration

package remote

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"sprintboard/internal/db"
	"sprintboard/internal/domain"
	"sprintboard/internal/migrate"
	"sprintboard/internal/repo"
	"sprintboard/internal/storage"
	"sprintboard/internal/storage/storagetest"
)

// testcontainers panics without a docker daemon, so probe first.
func dockerAvailable() bool {
	return exec.Command("docker", "info").Run() == nil
}

func newPostgresRepo(t *testing.T) repo.Repo {
	t.Helper()
	if !dockerAvailable() {
		t.Skip("docker not available")
	}
	ctx := context.Background()
	pg, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("sprintboard"),
		postgres.WithUsername("sprintboard"),
		postgres.WithPassword("sprintboard"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pg); err != nil {
			t.Logf("terminate container: %s", err)
		}
	})
	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := db.Open(db.Config{Driver: db.DriverPostgres, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn))
	return repo.Repo{DB: conn}
}

func TestContractPostgres(t *testing.T) {
	r := newPostgresRepo(t)
	owner := seedUser(t, r, "owner@example.com")
	storagetest.Run(t, func(t *testing.T, clock *storagetest.Clock) storage.DataService {
		room, err := readyAs(t, r, owner).CreateRoom(context.Background(), domain.RoomInput{Name: t.Name()})
		require.NoError(t, err)
		svc := as(r, owner, clock.Now)
		svc.SetCurrentRoom(room.ID)
		return svc
	})
}

func TestJoinRoomIsIdempotentOnPostgres(t *testing.T) {
	r := newPostgresRepo(t)
	ctx := context.Background()
	owner := seedUser(t, r, "owner@example.com")
	guest := seedUser(t, r, "guest@example.com")
	room, err := readyAs(t, r, owner).CreateRoom(ctx, domain.RoomInput{Name: "Board"})
	require.NoError(t, err)

	g := readyAs(t, r, guest)
	_, err = g.JoinRoom(ctx, room.RoomCode)
	require.NoError(t, err)
	_, err = g.JoinRoom(ctx, room.RoomCode)
	require.NoError(t, err)
	n := countAccess(t, r, room.ID, guest.ID)
	require.Equal(t, 1, n)

	_, err = readyAs(t, r, owner).CreateRoom(ctx, domain.RoomInput{Name: "dup", RoomCode: room.RoomCode})
	require.ErrorIs(t, err, storage.ErrValidation)
}
