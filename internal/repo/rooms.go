package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"sprintboard/internal/domain"
)

type roomRow struct {
	ID          string  `db:"id"`
	Name        string  `db:"name"`
	Description *string `db:"description"`
	IsPublic    bool    `db:"is_public"`
	RoomCode    string  `db:"room_code"`
	OwnerID     string  `db:"owner_id"`
	CreatedAt   string  `db:"created_at"`
	UpdatedAt   string  `db:"updated_at"`
}

func (row roomRow) room() domain.Room {
	return domain.Room{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		IsPublic:    row.IsPublic,
		RoomCode:    row.RoomCode,
		OwnerID:     row.OwnerID,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

const roomColumns = `id,name,description,is_public,room_code,owner_id,created_at,updated_at`

// InsertRoom returns ErrConflict when the room code is taken.
func (r Repo) InsertRoom(ctx context.Context, tx *sqlx.Tx, room domain.Room) error {
	q := r.ext(tx)
	_, err := q.ExecContext(ctx, q.Rebind(`INSERT INTO rooms(`+roomColumns+`) VALUES (?,?,?,?,?,?,?,?)`),
		room.ID, room.Name, room.Description, room.IsPublic, room.RoomCode, room.OwnerID, room.CreatedAt, room.UpdatedAt)
	if IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetRoomByCode looks a room up by its join code regardless of membership.
func (r Repo) GetRoomByCode(ctx context.Context, tx *sqlx.Tx, code string) (domain.Room, error) {
	q := r.ext(tx)
	var row roomRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`SELECT `+roomColumns+` FROM rooms WHERE room_code=?`), code)
	if err != nil {
		return domain.Room{}, notFound(err)
	}
	return row.room(), nil
}

// GetVisibleRoom returns the room only when userID owns it or holds a grant.
func (r Repo) GetVisibleRoom(ctx context.Context, tx *sqlx.Tx, roomID, userID string) (domain.Room, error) {
	q := r.ext(tx)
	var row roomRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`SELECT `+roomColumns+` FROM rooms WHERE id=? AND id IN (`+visibleRooms+`)`), roomID, userID, userID)
	if err != nil {
		return domain.Room{}, notFound(err)
	}
	return row.room(), nil
}

func (r Repo) ListVisibleRooms(ctx context.Context, userID string) ([]domain.Room, error) {
	var rows []roomRow
	err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(`SELECT `+roomColumns+` FROM rooms WHERE id IN (`+visibleRooms+`) ORDER BY created_at, id`), userID, userID)
	if err != nil {
		return nil, err
	}
	res := make([]domain.Room, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.room())
	}
	return res, nil
}

// DeleteRoom removes the room; tasks, grants and configs cascade.
func (r Repo) DeleteRoom(ctx context.Context, tx *sqlx.Tx, roomID string) error {
	q := r.ext(tx)
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM rooms WHERE id=?`), roomID)
	return affectedOrNotFound(res, err)
}

// RoomExists ignores visibility; it lets callers tell a missing room from a forbidden one.
func (r Repo) RoomExists(ctx context.Context, tx *sqlx.Tx, roomID string) (bool, error) {
	q := r.ext(tx)
	var n int
	if err := sqlx.GetContext(ctx, q, &n, q.Rebind(`SELECT COUNT(*) FROM rooms WHERE id=?`), roomID); err != nil {
		return false, err
	}
	return n > 0, nil
}
