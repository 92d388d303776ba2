// Package app wires configuration into stores and picks the backend a
// caller should use.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sprintboard/internal/auth"
	"sprintboard/internal/config"
	"sprintboard/internal/db"
	"sprintboard/internal/kv"
	"sprintboard/internal/local"
	"sprintboard/internal/migrate"
	"sprintboard/internal/remote"
	"sprintboard/internal/repo"
	"sprintboard/internal/storage"
)

const sessionFile = "session"

// App holds the opened stores of one workspace.
type App struct {
	Workspace string
	Config    *config.Config
	Log       *zap.Logger
	DB        *sqlx.DB
	Repo      repo.Repo
	KV        kv.Store
	Auth      *auth.Service
}

// NewLogger builds a production zap logger at level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

// Open connects the relational store (migrated) and the key/value store.
func Open(ctx context.Context, workspace string, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := db.Open(db.Config{Driver: cfg.Remote.Driver, DSN: cfg.Remote.DSN, Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	store, err := openKV(ctx, workspace, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open key/value store: %w", err)
	}
	ttl, _ := cfg.TokenTTL()
	r := repo.Repo{DB: conn}
	return &App{
		Workspace: workspace,
		Config:    cfg,
		Log:       log,
		DB:        conn,
		Repo:      r,
		KV:        store,
		Auth:      &auth.Service{Repo: r, Secret: cfg.Auth.JWTSecret, TTL: ttl},
	}, nil
}

func openKV(ctx context.Context, workspace string, cfg *config.Config) (kv.Store, error) {
	if cfg.KV.Driver == "redis" {
		return kv.DialRedis(ctx, cfg.KV.RedisAddr, cfg.KV.RedisPassword, cfg.KV.RedisDB, cfg.KV.Namespace)
	}
	path := cfg.Local.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{DSN: db.SQLiteDSN(path)})
	if err != nil {
		return nil, err
	}
	store, err := kv.NewSQLStore(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

func (a *App) Close() error {
	return errors.Join(a.KV.Close(), a.DB.Close())
}

func (a *App) Rooms() local.Rooms {
	return local.Rooms{Store: a.KV}
}

// SelectMode resolves auto into local or remote from the auth state.
func SelectMode(mode string, st auth.State) string {
	if mode == config.ModeAuto || mode == "" {
		if st.IsAuthenticated {
			return config.ModeRemote
		}
		return config.ModeLocal
	}
	return mode
}

// Backend returns an initialized DataService for the room with code. The
// remote backend only selects rooms the signed-in user can see.
func (a *App) Backend(ctx context.Context, roomCode string) (storage.DataService, error) {
	switch SelectMode(a.Config.Backend.Mode, a.Auth.State()) {
	case config.ModeRemote:
		svc, err := a.Remote(ctx)
		if err != nil {
			return nil, err
		}
		if roomCode != "" {
			if err := SelectRoom(ctx, svc, roomCode); err != nil {
				return nil, err
			}
		}
		return svc, nil
	default:
		svc, err := local.New(a.KV, local.Options{RoomCode: roomCode, Logger: a.Log})
		if err != nil {
			return nil, err
		}
		if err := svc.Initialize(ctx); err != nil {
			return nil, err
		}
		return svc, nil
	}
}

// Remote returns an initialized remote backend acting as the signed-in user.
func (a *App) Remote(ctx context.Context) (*remote.Service, error) {
	if !a.Auth.State().IsAuthenticated {
		return nil, storage.ErrUnauthenticated
	}
	svc := remote.New(a.Repo, remote.Options{Session: a.Auth, Logger: a.Log})
	if err := svc.Initialize(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

// SelectRoom makes the visible room with code current.
func SelectRoom(ctx context.Context, svc *remote.Service, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	rooms, err := svc.GetUserRooms(ctx)
	if err != nil {
		return err
	}
	for _, r := range rooms {
		if r.RoomCode == code {
			svc.SetCurrentRoom(r.ID)
			return nil
		}
	}
	return fmt.Errorf("room %s: %w", code, storage.ErrRoomNotFound)
}

func (a *App) sessionPath() string {
	return filepath.Join(a.Workspace, ".sprintboard", sessionFile)
}

// SaveSession persists the current token so later commands stay signed in.
func (a *App) SaveSession() error {
	token := a.Auth.Token()
	if token == "" {
		return a.ClearSession()
	}
	if _, err := db.EnsureWorkspace(a.Workspace); err != nil {
		return err
	}
	return os.WriteFile(a.sessionPath(), []byte(token), 0o600)
}

// RestoreSession signs in from a saved token. A missing or stale token
// leaves the user signed out.
func (a *App) RestoreSession(ctx context.Context) error {
	data, err := os.ReadFile(a.sessionPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := a.Auth.Restore(ctx, strings.TrimSpace(string(data))); err != nil {
		a.Log.Info("saved session rejected", zap.Error(err))
	}
	return nil
}

// ClearSession signs out and removes the saved token.
func (a *App) ClearSession() error {
	a.Auth.SignOut()
	err := os.Remove(a.sessionPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
