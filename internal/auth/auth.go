// Package auth signs users up and in and tells the storage layer who is acting.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"sprintboard/internal/domain"
	"sprintboard/internal/repo"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrNoSecret           = errors.New("jwt secret not configured")
)

const (
	DefaultTTL        = 24 * time.Hour
	MinPasswordLength = 6
)

// Session exposes the authenticated actor, if any.
type Session interface {
	CurrentUser() (domain.User, bool)
}

// StaticSession is a fixed actor, typically resolved from a request token.
// The zero value is unauthenticated.
type StaticSession struct {
	User *domain.User
}

func (s StaticSession) CurrentUser() (domain.User, bool) {
	if s.User == nil || s.User.ID == "" {
		return domain.User{}, false
	}
	return *s.User, true
}

// State is the auth-mode signal consumers use to pick a backend.
type State struct {
	IsAuthenticated bool         `json:"isAuthenticated"`
	User            *domain.User `json:"user"`
}

type SignInResult struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// Service owns credentials and the signed-in user of one client.
type Service struct {
	Repo   repo.Repo
	Secret string
	TTL    time.Duration
	Now    func() time.Time

	mu      sync.RWMutex
	current *SignInResult
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// SignUp registers the user and signs them in.
func (s *Service) SignUp(ctx context.Context, email, password string) (SignInResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return SignInResult{}, &domain.ValidationError{Field: "email", Reason: "invalid email"}
	}
	if len(password) < MinPasswordLength {
		return SignInResult{}, &domain.ValidationError{Field: "password", Reason: fmt.Sprintf("must have at least %d characters", MinPasswordLength)}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return SignInResult{}, fmt.Errorf("hash password: %w", err)
	}
	rec := repo.UserRecord{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    domain.FormatTime(s.now()),
	}
	if err := s.Repo.InsertUser(ctx, nil, rec); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return SignInResult{}, ErrEmailTaken
		}
		return SignInResult{}, err
	}
	return s.signedIn(rec.User())
}

func (s *Service) SignIn(ctx context.Context, email, password string) (SignInResult, error) {
	rec, err := s.Repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return SignInResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return SignInResult{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) != nil {
		return SignInResult{}, ErrInvalidCredentials
	}
	return s.signedIn(rec.User())
}

func (s *Service) signedIn(u domain.User) (SignInResult, error) {
	token, err := s.IssueToken(u)
	if err != nil {
		return SignInResult{}, err
	}
	res := SignInResult{Token: token, User: u}
	s.mu.Lock()
	s.current = &res
	s.mu.Unlock()
	return res, nil
}

// Restore signs in from a previously issued token.
func (s *Service) Restore(ctx context.Context, token string) (domain.User, error) {
	u, err := s.Authenticate(ctx, token)
	if err != nil {
		return domain.User{}, err
	}
	s.mu.Lock()
	s.current = &SignInResult{Token: token, User: u}
	s.mu.Unlock()
	return u, nil
}

func (s *Service) SignOut() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return State{}
	}
	u := s.current.User
	return State{IsAuthenticated: true, User: &u}
}

func (s *Service) CurrentUser() (domain.User, bool) {
	st := s.State()
	if !st.IsAuthenticated {
		return domain.User{}, false
	}
	return *st.User, true
}

// Token returns the token of the signed-in user.
func (s *Service) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.Token
}

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

func (s *Service) IssueToken(u domain.User) (string, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return "", ErrNoSecret
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: u.Email,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(s.Secret))
}

// ParseToken validates signature and expiry and returns the embedded user.
func (s *Service) ParseToken(token string) (domain.User, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return domain.User{}, ErrNoSecret
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(t *jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if !parsed.Valid || c.Subject == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	return domain.User{ID: c.Subject, Email: c.Email}, nil
}

// Authenticate parses token and checks the user still exists.
func (s *Service) Authenticate(ctx context.Context, token string) (domain.User, error) {
	u, err := s.ParseToken(token)
	if err != nil {
		return domain.User{}, err
	}
	rec, err := s.Repo.GetUser(ctx, u.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}
	return rec.User(), nil
}

// AuthenticateAPIKey resolves the owner of a raw API key.
func (s *Service) AuthenticateAPIKey(ctx context.Context, key string) (domain.User, error) {
	if strings.TrimSpace(key) == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	k, err := s.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}
	rec, err := s.Repo.GetUser(ctx, k.UserID)
	if err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return rec.User(), nil
}

// CreateAPIKey returns the raw key once; only its hash is stored.
func (s *Service) CreateAPIKey(ctx context.Context, userID, name string) (repo.APIKey, string, error) {
	raw := "sb_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	key := repo.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: domain.FormatTime(s.now()),
	}
	if err := s.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return repo.APIKey{}, "", err
	}
	return key, raw, nil
}
