package repo

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"sprintboard/internal/domain"
)

// TaskRow is a task in wire shape: snake_case columns, reestimates as JSON text.
type TaskRow struct {
	ID                 string   `db:"id"`
	RoomID             string   `db:"room_id"`
	Atividade          string   `db:"atividade"`
	Epico              *string  `db:"epico"`
	UserStory          *string  `db:"user_story"`
	Sprint             *string  `db:"sprint"`
	Desenvolvedor      *string  `db:"desenvolvedor"`
	Prioridade         string   `db:"prioridade"`
	Status             string   `db:"status"`
	Estimativa         float64  `db:"estimativa"`
	Reestimativas      string   `db:"reestimativas"`
	TempoGasto         *float64 `db:"tempo_gasto"`
	TaxaErro           *float64 `db:"taxa_erro"`
	TempoGastoValidado *bool    `db:"tempo_gasto_validado"`
	MotivoErro         *string  `db:"motivo_erro"`
	CreatedAt          string   `db:"created_at"`
	UpdatedAt          string   `db:"updated_at"`
}

const taskColumns = `id,room_id,atividade,epico,user_story,sprint,desenvolvedor,prioridade,status,estimativa,reestimativas,tempo_gasto,taxa_erro,tempo_gasto_validado,motivo_erro,created_at,updated_at`

func (r Repo) InsertTask(ctx context.Context, tx *sqlx.Tx, t TaskRow) error {
	q := r.ext(tx)
	_, err := q.ExecContext(ctx, q.Rebind(`INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		t.ID, t.RoomID, t.Atividade, t.Epico, t.UserStory, t.Sprint, t.Desenvolvedor, t.Prioridade, t.Status, t.Estimativa,
		t.Reestimativas, t.TempoGasto, t.TaxaErro, t.TempoGastoValidado, t.MotivoErro, t.CreatedAt, t.UpdatedAt)
	return err
}

// UpdateTask overwrites every mutable column of the row in its room.
func (r Repo) UpdateTask(ctx context.Context, tx *sqlx.Tx, t TaskRow) error {
	q := r.ext(tx)
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE tasks SET atividade=?, epico=?, user_story=?, sprint=?, desenvolvedor=?, prioridade=?, status=?, estimativa=?,
reestimativas=?, tempo_gasto=?, taxa_erro=?, tempo_gasto_validado=?, motivo_erro=?, updated_at=? WHERE id=? AND room_id=?`),
		t.Atividade, t.Epico, t.UserStory, t.Sprint, t.Desenvolvedor, t.Prioridade, t.Status, t.Estimativa,
		t.Reestimativas, t.TempoGasto, t.TaxaErro, t.TempoGastoValidado, t.MotivoErro, t.UpdatedAt, t.ID, t.RoomID)
	return affectedOrNotFound(res, err)
}

func (r Repo) DeleteTask(ctx context.Context, tx *sqlx.Tx, roomID, id string) error {
	q := r.ext(tx)
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM tasks WHERE id=? AND room_id=?`), id, roomID)
	return affectedOrNotFound(res, err)
}

// GetTask returns a task of roomID when userID may see that room.
func (r Repo) GetTask(ctx context.Context, tx *sqlx.Tx, roomID, userID, id string) (TaskRow, error) {
	q := r.ext(tx)
	var row TaskRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`SELECT `+taskColumns+` FROM tasks WHERE id=? AND room_id=? AND room_id IN (`+visibleRooms+`)`),
		id, roomID, userID, userID)
	if err != nil {
		return TaskRow{}, notFound(err)
	}
	return row, nil
}

// ListTasks applies filters in SQL. The filter must be normalized.
func (r Repo) ListTasks(ctx context.Context, roomID, userID string, f domain.TaskFilters) ([]TaskRow, error) {
	where, args := taskWhere(roomID, userID, f)
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	} else if f.Offset > 0 {
		// SQLite only accepts OFFSET after a LIMIT.
		query += " LIMIT ? OFFSET ?"
		args = append(args, int64(1<<62), f.Offset)
	}
	rows := []TaskRow{}
	if err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(query), args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r Repo) CountTasks(ctx context.Context, roomID, userID string, f domain.TaskFilters) (int, error) {
	where, args := taskWhere(roomID, userID, f)
	var n int
	err := r.DB.GetContext(ctx, &n, r.DB.Rebind(`SELECT COUNT(*) FROM tasks WHERE `+where), args...)
	return n, err
}

func (r Repo) CountTasksByStatus(ctx context.Context, roomID, userID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(`SELECT status, COUNT(*) FROM tasks WHERE room_id=? AND room_id IN (`+visibleRooms+`) GROUP BY status`),
		roomID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var c int
		if err := rows.Scan(&status, &c); err != nil {
			return nil, err
		}
		counts[status] = c
	}
	return counts, rows.Err()
}

func taskWhere(roomID, userID string, f domain.TaskFilters) (string, []any) {
	clauses := []string{"room_id=?", "room_id IN (" + visibleRooms + ")"}
	args := []any{roomID, userID, userID}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "prioridade=?")
		args = append(args, f.Priority)
	}
	for _, c := range []struct{ col, needle string }{{"sprint", f.Sprint}, {"desenvolvedor", f.Developer}, {"epico", f.Epic}} {
		if c.needle == "" {
			continue
		}
		clauses = append(clauses, "LOWER("+c.col+") LIKE ? ESCAPE '\\'")
		args = append(args, "%"+likeEscape(strings.ToLower(c.needle))+"%")
	}
	if f.CreatedAfter != "" {
		clauses = append(clauses, "created_at > ?")
		args = append(args, f.CreatedAfter)
	}
	if f.CreatedBefore != "" {
		clauses = append(clauses, "created_at < ?")
		args = append(args, f.CreatedBefore)
	}
	return strings.Join(clauses, " AND "), args
}

func likeEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
