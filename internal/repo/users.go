package repo

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"sprintboard/internal/domain"
)

// UserRecord is a user with its credential hash.
type UserRecord struct {
	ID           string `db:"id"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
	CreatedAt    string `db:"created_at"`
}

func (u UserRecord) User() domain.User {
	return domain.User{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}

// InsertUser returns ErrConflict when the email is registered.
func (r Repo) InsertUser(ctx context.Context, tx *sqlx.Tx, u UserRecord) error {
	q := r.ext(tx)
	_, err := q.ExecContext(ctx, q.Rebind(`INSERT INTO users(id,email,password_hash,created_at) VALUES (?,?,?,?)`),
		u.ID, strings.ToLower(u.Email), u.PasswordHash, u.CreatedAt)
	if IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (UserRecord, error) {
	var u UserRecord
	err := r.DB.GetContext(ctx, &u, r.DB.Rebind(`SELECT id,email,password_hash,created_at FROM users WHERE email=?`), strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return UserRecord{}, notFound(err)
	}
	return u, nil
}

func (r Repo) GetUser(ctx context.Context, id string) (UserRecord, error) {
	var u UserRecord
	err := r.DB.GetContext(ctx, &u, r.DB.Rebind(`SELECT id,email,password_hash,created_at FROM users WHERE id=?`), id)
	if err != nil {
		return UserRecord{}, notFound(err)
	}
	return u, nil
}

func (r Repo) UserExists(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	q := r.ext(tx)
	var n int
	if err := sqlx.GetContext(ctx, q, &n, q.Rebind(`SELECT COUNT(*) FROM users WHERE id=?`), id); err != nil {
		return false, err
	}
	return n > 0, nil
}
