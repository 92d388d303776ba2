package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"sprintboard/internal/domain"
)

type accessRow struct {
	RoomID    string `db:"room_id"`
	UserID    string `db:"user_id"`
	Role      string `db:"role"`
	GrantedBy string `db:"granted_by"`
	CreatedAt string `db:"created_at"`
}

// GrantAccess inserts a grant unless one already exists for the pair.
// It reports whether a row was written.
func (r Repo) GrantAccess(ctx context.Context, tx *sqlx.Tx, a domain.RoomAccess) (bool, error) {
	q := r.ext(tx)
	res, err := q.ExecContext(ctx, q.Rebind(`INSERT INTO room_access(room_id,user_id,role,granted_by,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(room_id,user_id) DO NOTHING`), a.RoomID, a.UserID, a.Role, nullable(a.GrantedBy), a.CreatedAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) RevokeAccess(ctx context.Context, tx *sqlx.Tx, roomID, userID string) error {
	q := r.ext(tx)
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM room_access WHERE room_id=? AND user_id=?`), roomID, userID)
	return affectedOrNotFound(res, err)
}

// RoomRole resolves the effective role of userID in a room. Owners are
// reported as owner without needing a grant row; ownership wins over a grant.
func (r Repo) RoomRole(ctx context.Context, tx *sqlx.Tx, roomID, userID string) (string, error) {
	q := r.ext(tx)
	var role string
	err := sqlx.GetContext(ctx, q, &role, q.Rebind(`SELECT role FROM (
SELECT 'owner' AS role, 0 AS pri FROM rooms WHERE id=? AND owner_id=?
UNION ALL SELECT role, 1 AS pri FROM room_access WHERE room_id=? AND user_id=?
) AS roles ORDER BY pri LIMIT 1`), roomID, userID, roomID, userID)
	if err != nil {
		return "", notFound(err)
	}
	return role, nil
}

// ListAccess returns the grants of a room visible to userID.
func (r Repo) ListAccess(ctx context.Context, roomID, userID string) ([]domain.RoomAccess, error) {
	var rows []accessRow
	err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(`SELECT room_id,user_id,role,COALESCE(granted_by,'') AS granted_by,created_at
FROM room_access WHERE room_id=? AND room_id IN (`+visibleRooms+`) ORDER BY created_at, user_id`), roomID, userID, userID)
	if err != nil {
		return nil, err
	}
	res := make([]domain.RoomAccess, 0, len(rows))
	for _, row := range rows {
		res = append(res, domain.RoomAccess(row))
	}
	return res, nil
}
