package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// APIKey is a stored key; only the hash of the secret is kept.
type APIKey struct {
	ID        string `db:"id" json:"id"`
	UserID    string `db:"user_id" json:"user_id"`
	Name      string `db:"name" json:"name,omitempty"`
	KeyHash   string `db:"key_hash" json:"-"`
	CreatedAt string `db:"created_at" json:"created_at"`
}

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIKey stores a hashed API key. KeyHash must already contain the hashed value.
func (r Repo) InsertAPIKey(ctx context.Context, tx *sqlx.Tx, key APIKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.UserID == "" {
		return errors.New("user_id required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	if key.CreatedAt == "" {
		key.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	q := r.ext(tx)
	_, err := q.ExecContext(ctx, q.Rebind(`INSERT INTO api_keys(id, user_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`),
		key.ID, key.UserID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

// GetAPIKeyByHash returns an API key by its hashed value.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (APIKey, error) {
	var key APIKey
	err := r.DB.GetContext(ctx, &key, r.DB.Rebind(`SELECT id, user_id, COALESCE(name,'') AS name, key_hash, created_at FROM api_keys WHERE key_hash=? LIMIT 1`), hash)
	if err != nil {
		return APIKey{}, notFound(err)
	}
	return key, nil
}

// ListAPIKeys returns API keys, optionally filtered by user ID.
func (r Repo) ListAPIKeys(ctx context.Context, userID string) ([]APIKey, error) {
	query := `SELECT id, user_id, COALESCE(name,'') AS name, key_hash, created_at FROM api_keys`
	var args []any
	if userID != "" {
		query += ` WHERE user_id=?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC`
	keys := []APIKey{}
	if err := r.DB.SelectContext(ctx, &keys, r.DB.Rebind(query), args...); err != nil {
		return nil, err
	}
	return keys, nil
}

// DeleteAPIKey deletes an API key owned by userID.
func (r Repo) DeleteAPIKey(ctx context.Context, userID, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	res, err := r.DB.ExecContext(ctx, r.DB.Rebind(`DELETE FROM api_keys WHERE id=? AND user_id=?`), id, userID)
	return affectedOrNotFound(res, err)
}
