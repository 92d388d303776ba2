package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprintboard/internal/db"
	"sprintboard/internal/domain"
	"sprintboard/internal/migrate"
	"sprintboard/internal/repo"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	conn, err := db.Open(db.Config{DSN: db.SQLiteDSN(filepath.Join(t.TempDir(), "auth.db"))})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	return &Service{Repo: repo.Repo{DB: conn}, Secret: "test-secret"}
}

func TestSignUpSignsIn(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	assert.False(t, svc.State().IsAuthenticated)

	res, err := svc.SignUp(ctx, " Ana@Example.com ", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", res.User.Email)
	assert.NotEmpty(t, res.Token)

	st := svc.State()
	require.True(t, st.IsAuthenticated)
	assert.Equal(t, res.User.ID, st.User.ID)

	_, err = svc.SignUp(ctx, "ana@example.com", "another1")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestSignUpValidates(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.SignUp(context.Background(), "not-an-email", "hunter22")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.SignUp(context.Background(), "a@b.c", "123")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSignInAndOut(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.SignUp(ctx, "ana@example.com", "hunter22")
	require.NoError(t, err)
	svc.SignOut()
	_, ok := svc.CurrentUser()
	assert.False(t, ok)

	_, err = svc.SignIn(ctx, "ana@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.SignIn(ctx, "nobody@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	res, err := svc.SignIn(ctx, "ANA@example.com", "hunter22")
	require.NoError(t, err)
	u, ok := svc.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, res.User.ID, u.ID)
	assert.Equal(t, res.Token, svc.Token())
}

func TestTokens(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	res, err := svc.SignUp(ctx, "ana@example.com", "hunter22")
	require.NoError(t, err)

	u, err := svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, u.ID)

	other := &Service{Repo: svc.Repo, Secret: "other"}
	_, err = other.ParseToken(res.Token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	later := &Service{Repo: svc.Repo, Secret: "test-secret", Now: func() time.Time { return time.Now().Add(48 * time.Hour) }}
	_, err = later.ParseToken(res.Token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	forged, err := svc.IssueToken(domain.User{ID: "ghost"})
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = (&Service{}).IssueToken(res.User)
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestAPIKeys(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	res, err := svc.SignUp(ctx, "ana@example.com", "hunter22")
	require.NoError(t, err)
	_, raw, err := svc.CreateAPIKey(ctx, res.User.ID, "ci")
	require.NoError(t, err)

	u, err := svc.AuthenticateAPIKey(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, u.ID)
	_, err = svc.AuthenticateAPIKey(ctx, "sb_bogus")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestStaticSession(t *testing.T) {
	_, ok := StaticSession{}.CurrentUser()
	assert.False(t, ok)
	u, ok := StaticSession{User: &domain.User{ID: "u1"}}.CurrentUser()
	assert.True(t, ok)
	assert.Equal(t, "u1", u.ID)
}
