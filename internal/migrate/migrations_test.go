package migrate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprintboard/internal/db"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.Open(db.Config{DSN: db.SQLiteDSN(filepath.Join(t.TempDir(), "m.db"))})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	v, err := Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	require.NoError(t, Migrate(ctx, conn))
	require.NoError(t, Migrate(ctx, conn))

	v, err = Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	var tables []string
	require.NoError(t, conn.SelectContext(ctx, &tables, `SELECT name FROM sqlite_master WHERE type='table' ORDER BY name`))
	assert.Subset(t, tables, []string{"users", "rooms", "room_access", "tasks", "room_configs", "api_keys", "events"})
}

func TestStatements(t *testing.T) {
	got := Statements("CREATE TABLE a(x INT);\n\n CREATE INDEX i ON a(x);  \n")
	assert.Equal(t, []string{"CREATE TABLE a(x INT)", "CREATE INDEX i ON a(x)"}, got)
}
