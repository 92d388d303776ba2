package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv(
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at TEXT NOT NULL
)`

// SQLStore keeps entries in a single table of a SQL database.
type SQLStore struct {
	DB  *sqlx.DB
	Now func() time.Time
}

// NewSQLStore creates the kv table when missing.
func NewSQLStore(ctx context.Context, db *sqlx.DB) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	return &SQLStore{DB: db, Now: time.Now}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.DB.GetContext(ctx, &v, s.DB.Rebind(`SELECT value FROM kv WHERE key=?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	ts := s.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.DB.ExecContext(ctx, s.DB.Rebind(`INSERT INTO kv(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`), key, value, ts)
	return err
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, s.DB.Rebind(`DELETE FROM kv WHERE key=?`), key)
	return err
}

func (s *SQLStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	err := s.DB.SelectContext(ctx, &keys, s.DB.Rebind(`SELECT key FROM kv WHERE substr(key,1,length(?))=? ORDER BY key`), prefix, prefix)
	return keys, err
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.DB.Close()
}
