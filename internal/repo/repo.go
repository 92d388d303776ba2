package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"sprintboard/internal/events"
)

// Repo is the SQL access layer. Methods taking a *sqlx.Tx run on the
// transaction when it is non-nil and on DB otherwise.
type Repo struct {
	DB *sqlx.DB
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// visibleRooms selects the ids of rooms an actor may read: owned rooms and
// rooms with an access grant. It takes the user id twice.
const visibleRooms = `SELECT id FROM rooms WHERE owner_id=? UNION SELECT room_id FROM room_access WHERE user_id=?`

func (r Repo) ext(tx *sqlx.Tx) sqlx.ExtContext {
	if tx != nil {
		return tx
	}
	return r.DB
}

// InTx runs fn in a transaction, committing when fn returns nil.
func (r Repo) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) Ping(ctx context.Context) error {
	var one int
	return r.DB.GetContext(ctx, &one, `SELECT 1`)
}

// IsUniqueViolation reports a unique or primary key conflict on either driver.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func affectedOrNotFound(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// LatestEvents returns journal entries newest first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, roomID, evtType string) ([]events.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if roomID != "" {
		clauses = append(clauses, "room_id=?")
		args = append(args, roomID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(room_id,'') AS room_id,entity_kind,COALESCE(entity_id,'') AS entity_id,actor_id,COALESCE(payload_json,'') AS payload_json
FROM events WHERE %s ORDER BY ts DESC, id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	res := []events.Entry{}
	if err := r.DB.SelectContext(ctx, &res, r.DB.Rebind(query), args...); err != nil {
		return nil, err
	}
	return res, nil
}
