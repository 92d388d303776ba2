package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ModeAuto, cfg.Backend.Mode)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	ttl, err := cfg.TokenTTL()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, ttl)
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("backend:\n  mode: remote\nremote:\n  driver: pgx\n  dsn: postgres://x\n"))
	require.NoError(t, err)
	assert.Equal(t, ModeRemote, cfg.Backend.Mode)
	assert.Equal(t, "pgx", cfg.Remote.Driver)
	assert.Equal(t, "sqlite", cfg.KV.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"mode":       "backend:\n  mode: cloud\n",
		"pgx dsn":    "remote:\n  driver: pgx\n",
		"redis addr": "kv:\n  driver: redis\n",
		"ttl":        "auth:\n  token_ttl: soon\n",
		"base path":  "server:\n  base_path: v0\n",
		"webhook":    "mirror:\n  webhooks:\n    - events: [taskCreated]\n",
		"level":      "log:\n  level: loud\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadAppliesEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir), []byte("log:\n  level: debug\n"), 0o644))
	t.Setenv("SPRINTBOARD_BACKEND_MODE", "local")
	t.Setenv("SPRINTBOARD_SERVER_JOIN_BURST", "9")

	cfg, err := Load(dir, NewViper())
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ModeLocal, cfg.Backend.Mode)
	assert.Equal(t, 9, cfg.Server.JoinBurst)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SPRINTBOARD_AUTH_JWT_SECRET=from-dotenv\n"), 0o644))
	t.Setenv("SPRINTBOARD_AUTH_JWT_SECRET", "")
	os.Unsetenv("SPRINTBOARD_AUTH_JWT_SECRET")

	cfg, err := Load(dir, NewViper())
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Auth.JWTSecret)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
