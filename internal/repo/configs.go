package repo

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
)

// UpsertConfig stores a per-user, per-room JSON value.
func (r Repo) UpsertConfig(ctx context.Context, tx *sqlx.Tx, userID, roomID, key string, value json.RawMessage, now string) error {
	q := r.ext(tx)
	_, err := q.ExecContext(ctx, q.Rebind(`INSERT INTO room_configs(user_id, room_id, config_key, value_json, created_at, updated_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT(user_id, room_id, config_key) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`),
		userID, roomID, key, string(value), now, now)
	return err
}

func (r Repo) GetConfig(ctx context.Context, userID, roomID, key string) (json.RawMessage, error) {
	var payload string
	err := r.DB.GetContext(ctx, &payload, r.DB.Rebind(`SELECT value_json FROM room_configs WHERE user_id=? AND room_id=? AND config_key=?`),
		userID, roomID, key)
	if err != nil {
		return nil, notFound(err)
	}
	return json.RawMessage(payload), nil
}

func (r Repo) ListConfigs(ctx context.Context, userID, roomID string) (map[string]json.RawMessage, error) {
	var rows []struct {
		Key   string `db:"config_key"`
		Value string `db:"value_json"`
	}
	err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(`SELECT config_key, value_json FROM room_configs WHERE user_id=? AND room_id=? ORDER BY config_key`),
		userID, roomID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		out[row.Key] = json.RawMessage(row.Value)
	}
	return out, nil
}

func (r Repo) DeleteConfig(ctx context.Context, tx *sqlx.Tx, userID, roomID, key string) error {
	q := r.ext(tx)
	_, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM room_configs WHERE user_id=? AND room_id=? AND config_key=?`), userID, roomID, key)
	return err
}
