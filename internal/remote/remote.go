// Package remote implements storage.DataService over the relational store,
// scoped to one room at a time and authorized per actor.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"sprintboard/internal/auth"
	"sprintboard/internal/domain"
	"sprintboard/internal/events"
	"sprintboard/internal/repo"
	"sprintboard/internal/storage"
)

const maxCodeAttempts = 5

type Options struct {
	Session auth.Session
	Logger  *zap.Logger
	Now     func() time.Time
}

// Service is not safe for use across rooms concurrently: the current room
// is instance state, so each session holds its own Service.
type Service struct {
	repo    repo.Repo
	session auth.Session
	bus     *events.Bus
	journal events.Writer
	log     *zap.Logger
	now     func() time.Time

	initialized atomic.Bool

	mu          sync.RWMutex
	currentRoom string
	lastSync    time.Time
}

var _ storage.DataService = (*Service)(nil)

func New(r repo.Repo, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	session := opts.Session
	if session == nil {
		session = auth.StaticSession{}
	}
	log = log.With(zap.String("backend", "remote"))
	return &Service{
		repo:    r,
		session: session,
		bus:     events.NewBus("remote", log),
		journal: events.Writer{Now: now},
		log:     log,
		now:     now,
	}
}

func (s *Service) Subscribe(name events.Name, listener events.Listener) func() {
	return s.bus.Subscribe(name, listener)
}

// SetCurrentRoom scopes subsequent task and config operations. An empty id clears it.
func (s *Service) SetCurrentRoom(roomID string) {
	s.mu.Lock()
	s.currentRoom = roomID
	s.mu.Unlock()
}

func (s *Service) CurrentRoom() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRoom
}

func (s *Service) Initialize(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		s.bus.Emit(events.Error, map[string]any{"op": "initialize", "error": err.Error()})
		return storage.Connection(err)
	}
	s.initialized.Store(true)
	s.log.Debug("remote backend initialized")
	s.bus.Emit(events.Initialized, map[string]any{"room": s.CurrentRoom()})
	return nil
}

func (s *Service) ready() error {
	if !s.initialized.Load() {
		return storage.ErrNotInitialized
	}
	return nil
}

func (s *Service) actor() (domain.User, error) {
	u, ok := s.session.CurrentUser()
	if !ok {
		return domain.User{}, storage.ErrUnauthenticated
	}
	return u, nil
}

// scope resolves what every task operation needs: readiness, room and actor.
func (s *Service) scope() (string, domain.User, error) {
	if err := s.ready(); err != nil {
		return "", domain.User{}, err
	}
	room := s.CurrentRoom()
	if room == "" {
		return "", domain.User{}, storage.ErrNoRoomSelected
	}
	u, err := s.actor()
	if err != nil {
		return "", domain.User{}, err
	}
	return room, u, nil
}

// canWrite fails with ErrPermissionDenied unless the actor owns or was granted the room.
func (s *Service) canWrite(ctx context.Context, tx *sqlx.Tx, roomID, userID string) error {
	_, err := s.repo.RoomRole(ctx, tx, roomID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("room %s: %w", roomID, storage.ErrPermissionDenied)
	}
	return err
}

func (s *Service) stamp(prev string) string {
	return domain.Stamp(prev, s.now())
}

func (s *Service) GetTasks(ctx context.Context, filters domain.TaskFilters) ([]domain.Task, error) {
	room, u, err := s.scope()
	if err != nil {
		return nil, err
	}
	f, err := filters.Normalize()
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListTasks(ctx, room, u.ID, f)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return fromRows(rows)
}

func (s *Service) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	room, u, err := s.scope()
	if err != nil {
		return nil, err
	}
	row, err := s.repo.GetTask(ctx, nil, room, u.ID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := fromRow(row)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTask ignores any id or timestamps in fields; the service assigns them.
func (s *Service) CreateTask(ctx context.Context, fields domain.TaskFields) (domain.Task, error) {
	room, u, err := s.scope()
	if err != nil {
		return domain.Task{}, err
	}
	fields.ID, fields.CreatedAt, fields.UpdatedAt = nil, nil, nil
	task, err := domain.NewTask(fields, uuid.NewString(), s.stamp(""))
	if err != nil {
		return domain.Task{}, err
	}
	row, err := toRow(task, room)
	if err != nil {
		return domain.Task{}, err
	}
	err = s.repo.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.canWrite(ctx, tx, room, u.ID); err != nil {
			return err
		}
		if err := s.repo.InsertTask(ctx, tx, row); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return s.journal.Append(ctx, tx, events.TaskCreated, room, "task", task.ID, u.ID, events.Payload{"atividade": task.Activity, "status": task.Status})
	})
	if err != nil {
		return domain.Task{}, err
	}
	s.bus.Emit(events.TaskCreated, task)
	return task, nil
}

// updateOne reads, merges and writes a task. Concurrent updates of the same
// task are last-writer-wins.
func (s *Service) updateOne(ctx context.Context, room, userID, id string, fields domain.TaskFields) (domain.Task, error) {
	var task domain.Task
	err := s.repo.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.canWrite(ctx, tx, room, userID); err != nil {
			return err
		}
		row, err := s.repo.GetTask(ctx, tx, room, userID, id)
		if errors.Is(err, repo.ErrNotFound) {
			return storage.TaskNotFound(id)
		}
		if err != nil {
			return err
		}
		if task, err = fromRow(row); err != nil {
			return err
		}
		if err := task.Apply(fields, s.stamp(task.UpdatedAt)); err != nil {
			return err
		}
		if row, err = toRow(task, room); err != nil {
			return err
		}
		if err := s.repo.UpdateTask(ctx, tx, row); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return storage.TaskNotFound(id)
			}
			return fmt.Errorf("update task: %w", err)
		}
		return s.journal.Append(ctx, tx, events.TaskUpdated, room, "task", id, userID, events.Payload{"status": task.Status})
	})
	return task, err
}

func (s *Service) UpdateTask(ctx context.Context, id string, fields domain.TaskFields) (domain.Task, error) {
	room, u, err := s.scope()
	if err != nil {
		return domain.Task{}, err
	}
	task, err := s.updateOne(ctx, room, u.ID, id, fields)
	if err != nil {
		return domain.Task{}, err
	}
	s.bus.Emit(events.TaskUpdated, task)
	return task, nil
}

func (s *Service) deleteOne(ctx context.Context, room, userID, id string) (domain.Task, error) {
	var task domain.Task
	err := s.repo.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.canWrite(ctx, tx, room, userID); err != nil {
			return err
		}
		row, err := s.repo.GetTask(ctx, tx, room, userID, id)
		if errors.Is(err, repo.ErrNotFound) {
			return storage.TaskNotFound(id)
		}
		if err != nil {
			return err
		}
		if task, err = fromRow(row); err != nil {
			return err
		}
		if err := s.repo.DeleteTask(ctx, tx, room, id); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return storage.TaskNotFound(id)
			}
			return fmt.Errorf("delete task: %w", err)
		}
		return s.journal.Append(ctx, tx, events.TaskDeleted, room, "task", id, userID, nil)
	})
	return task, err
}

func (s *Service) DeleteTask(ctx context.Context, id string) (domain.Task, error) {
	room, u, err := s.scope()
	if err != nil {
		return domain.Task{}, err
	}
	task, err := s.deleteOne(ctx, room, u.ID, id)
	if err != nil {
		return domain.Task{}, err
	}
	s.bus.Emit(events.TaskDeleted, task)
	return task, nil
}

// fanOut runs op for every index concurrently and gathers results in input order.
func (s *Service) fanOut(n int, ids func(int) string, op func(int) (domain.Task, error)) storage.BulkResult {
	type outcome struct {
		task domain.Task
		err  error
	}
	results := make([]outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			t, err := op(i)
			results[i] = outcome{task: t, err: err}
		}(i)
	}
	wg.Wait()
	res := storage.BulkResult{Tasks: []domain.Task{}}
	for i, r := range results {
		if r.err != nil {
			s.log.Warn("bulk item failed", zap.String("task", ids(i)), zap.Error(r.err))
			res.Failures = append(res.Failures, storage.ItemFailure{ID: ids(i), Error: r.err.Error()})
			continue
		}
		res.Tasks = append(res.Tasks, r.task)
	}
	return res
}

func (s *Service) BulkUpdateTasks(ctx context.Context, updates []storage.TaskUpdate) (storage.BulkResult, error) {
	room, u, err := s.scope()
	if err != nil {
		return storage.BulkResult{}, err
	}
	res := s.fanOut(len(updates), func(i int) string { return updates[i].ID }, func(i int) (domain.Task, error) {
		return s.updateOne(ctx, room, u.ID, updates[i].ID, updates[i].Fields)
	})
	s.bus.Emit(events.TasksBulkUpdated, res)
	return res, nil
}

func (s *Service) BulkDeleteTasks(ctx context.Context, ids []string) (storage.BulkResult, error) {
	room, u, err := s.scope()
	if err != nil {
		return storage.BulkResult{}, err
	}
	res := s.fanOut(len(ids), func(i int) string { return ids[i] }, func(i int) (domain.Task, error) {
		return s.deleteOne(ctx, room, u.ID, ids[i])
	})
	s.bus.Emit(events.TasksBulkDeleted, res)
	return res, nil
}

func (s *Service) GetTasksByStatus(ctx context.Context, status string) ([]domain.Task, error) {
	return s.GetTasks(ctx, domain.TaskFilters{Status: status})
}

func (s *Service) GetTasksBySprint(ctx context.Context, sprint string) ([]domain.Task, error) {
	return s.GetTasks(ctx, domain.TaskFilters{Sprint: sprint})
}

func (s *Service) GetTasksByDeveloper(ctx context.Context, developer string) ([]domain.Task, error) {
	return s.GetTasks(ctx, domain.TaskFilters{Developer: developer})
}

func (s *Service) GetTasksByEpic(ctx context.Context, epic string) ([]domain.Task, error) {
	return s.GetTasks(ctx, domain.TaskFilters{Epic: epic})
}

func (s *Service) GetTasksCount(ctx context.Context, filters domain.TaskFilters) (int, error) {
	room, u, err := s.scope()
	if err != nil {
		return 0, err
	}
	f, err := filters.Unpaged().Normalize()
	if err != nil {
		return 0, err
	}
	return s.repo.CountTasks(ctx, room, u.ID, f)
}

func (s *Service) GetTasksByStatusCount(ctx context.Context) (map[string]int, error) {
	room, u, err := s.scope()
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.CountTasksByStatus(ctx, room, u.ID)
	if err != nil {
		return nil, err
	}
	for _, st := range domain.Statuses {
		if _, ok := counts[st]; !ok {
			counts[st] = 0
		}
	}
	return counts, nil
}

func (s *Service) GetSprintStatistics(ctx context.Context, sprint string) (domain.SprintStatistics, error) {
	tasks, err := s.GetTasksBySprint(ctx, sprint)
	if err != nil {
		return domain.SprintStatistics{}, err
	}
	return domain.ComputeSprintStatistics(sprint, tasks), nil
}

func (s *Service) GetDeveloperStatistics(ctx context.Context, developer string) (domain.DeveloperStatistics, error) {
	tasks, err := s.GetTasksByDeveloper(ctx, developer)
	if err != nil {
		return domain.DeveloperStatistics{}, err
	}
	return domain.ComputeDeveloperStatistics(developer, tasks), nil
}

func (s *Service) GetConfig(ctx context.Context, key string) (json.RawMessage, error) {
	room, u, err := s.scope()
	if err != nil {
		return nil, err
	}
	v, err := s.repo.GetConfig(ctx, u.ID, room, key)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

func (s *Service) SetConfig(ctx context.Context, key string, value any) error {
	room, u, err := s.scope()
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return &domain.ValidationError{Field: key, Reason: err.Error()}
	}
	err = s.repo.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.canWrite(ctx, tx, room, u.ID); err != nil {
			return err
		}
		return s.repo.UpsertConfig(ctx, tx, u.ID, room, key, data, s.stamp(""))
	})
	if err != nil {
		return err
	}
	s.bus.Emit(events.ConfigUpdated, map[string]any{"key": key, "value": json.RawMessage(data)})
	return nil
}

func (s *Service) DeleteConfig(ctx context.Context, key string) error {
	room, u, err := s.scope()
	if err != nil {
		return err
	}
	if err := s.repo.DeleteConfig(ctx, nil, u.ID, room, key); err != nil {
		return err
	}
	s.bus.Emit(events.ConfigUpdated, map[string]any{"key": key, "deleted": true})
	return nil
}

// ExportData writes the current room's tasks. Config is per user and not exported.
func (s *Service) ExportData(ctx context.Context, format storage.ExportFormat) ([]byte, error) {
	tasks, err := s.GetTasks(ctx, domain.TaskFilters{})
	if err != nil {
		return nil, err
	}
	switch format {
	case storage.FormatCSV:
		return storage.EncodeCSV(wireNames(storage.LocalCSVHeader), tasks), nil
	case storage.FormatJSON, "":
		return storage.EncodeJSON(storage.ExportDocument{Tasks: tasks, ExportedAt: domain.FormatTime(s.now()), Version: storage.ExportVersion})
	}
	return nil, &domain.ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported format %q", format)}
}

// ImportData is refused; local data reaches the relational store through the migration bridge.
func (s *Service) ImportData(ctx context.Context, data []byte, opts storage.ImportOptions) (storage.ImportResult, error) {
	if err := s.ready(); err != nil {
		return storage.ImportResult{}, err
	}
	return storage.ImportResult{}, fmt.Errorf("import: %w", storage.ErrNotImplemented)
}

func (s *Service) CreateBackup(ctx context.Context) (storage.BackupInfo, error) {
	if err := s.ready(); err != nil {
		return storage.BackupInfo{}, err
	}
	return storage.BackupInfo{}, fmt.Errorf("backup: %w", storage.ErrNotImplemented)
}

func (s *Service) RestoreBackup(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return fmt.Errorf("restore: %w", storage.ErrNotImplemented)
}

func (s *Service) ListBackups(ctx context.Context) ([]storage.BackupInfo, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("list backups: %w", storage.ErrNotImplemented)
}

// Sync has nothing to reconcile; it only records the time.
func (s *Service) Sync(ctx context.Context) (time.Time, error) {
	if err := s.ready(); err != nil {
		return time.Time{}, err
	}
	at := s.now().UTC().Truncate(time.Microsecond)
	s.mu.Lock()
	s.lastSync = at
	s.mu.Unlock()
	s.bus.Emit(events.Synced, map[string]any{"at": domain.FormatTime(at)})
	return at, nil
}

func (s *Service) GetLastSyncTime(ctx context.Context) (time.Time, error) {
	if err := s.ready(); err != nil {
		return time.Time{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync, nil
}

func (s *Service) HealthCheck(ctx context.Context) storage.Health {
	h := storage.Health{Status: storage.Healthy, Timestamp: domain.FormatTime(s.now())}
	if err := s.repo.Ping(ctx); err != nil {
		h.Status = storage.Unhealthy
		h.Error = err.Error()
	}
	return h
}

// Events returns the persisted journal of a room visible to the actor.
func (s *Service) Events(ctx context.Context, roomID string, limit int) ([]events.Entry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	u, err := s.actor()
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetVisibleRoom(ctx, nil, roomID, u.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, storage.ErrRoomNotFound
		}
		return nil, err
	}
	return s.repo.LatestEvents(ctx, limit, roomID, "")
}
