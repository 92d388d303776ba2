package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Writer appends rows to the persistent events journal.
type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Entry is one journal row.
type Entry struct {
	ID          string `db:"id" json:"id"`
	TS          string `db:"ts" json:"ts"`
	Type        string `db:"type" json:"type"`
	RoomID      string `db:"room_id" json:"room_id,omitempty"`
	EntityKind  string `db:"entity_kind" json:"entity_kind"`
	EntityID    string `db:"entity_id" json:"entity_id,omitempty"`
	ActorID     string `db:"actor_id" json:"actor_id"`
	PayloadJSON string `db:"payload_json" json:"payload"`
}

func (w Writer) Append(ctx context.Context, tx *sqlx.Tx, evt Name, roomID, entityKind, entityID, actorID string, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format("2006-01-02T15:04:05.000000Z")
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO events(id,ts,type,room_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?,?)`),
		uuid.NewString(), ts, string(evt), nullable(roomID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
