// Package local implements storage.DataService over a key/value store.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sprintboard/internal/domain"
	"sprintboard/internal/events"
	"sprintboard/internal/kv"
	"sprintboard/internal/storage"
)

const (
	configKey    = "config"
	lastSyncKey  = "lastSync"
	backupPrefix = "backup:"
)

type Options struct {
	// RoomCode scopes the service to one room; empty uses the implicit store.
	RoomCode string
	Logger   *zap.Logger
	Now      func() time.Time
}

// Service keeps a namespace's tasks as one JSON array. Writes are
// serialized by mu; readers see whole snapshots.
type Service struct {
	store    kv.Store
	roomCode string
	ns       string
	bus      *events.Bus
	log      *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	initialized atomic.Bool
}

var _ storage.DataService = (*Service)(nil)

func New(store kv.Store, opts Options) (*Service, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	code := ""
	if opts.RoomCode != "" {
		c, err := CheckCode(opts.RoomCode)
		if err != nil {
			return nil, err
		}
		code = c
	}
	log = log.With(zap.String("backend", "local"), zap.String("room", code))
	return &Service{
		store:    store,
		roomCode: code,
		ns:       Namespace(code),
		bus:      events.NewBus("local", log),
		log:      log,
		now:      now,
	}, nil
}

func (s *Service) RoomCode() string { return s.roomCode }

func (s *Service) Subscribe(name events.Name, listener events.Listener) func() {
	return s.bus.Subscribe(name, listener)
}

func (s *Service) Initialize(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		s.bus.Emit(events.Error, map[string]any{"op": "initialize", "error": err.Error()})
		return storage.Connection(err)
	}
	if s.roomCode != "" {
		if err := (Rooms{Store: s.store}).Register(ctx, s.roomCode); err != nil {
			return storage.Connection(err)
		}
	}
	if _, err := s.readTasks(ctx); err != nil {
		return err
	}
	s.initialized.Store(true)
	s.log.Debug("local backend initialized")
	s.bus.Emit(events.Initialized, map[string]any{"room": s.roomCode})
	return nil
}

func (s *Service) ready() error {
	if !s.initialized.Load() {
		return storage.ErrNotInitialized
	}
	return nil
}

func (s *Service) readTasks(ctx context.Context) ([]domain.Task, error) {
	v, found, err := s.store.Get(ctx, s.ns+tasksKey)
	if err != nil {
		return nil, storage.Connection(err)
	}
	if !found || v == "" {
		return []domain.Task{}, nil
	}
	var tasks []domain.Task
	if err := json.Unmarshal([]byte(v), &tasks); err != nil {
		return nil, fmt.Errorf("decode stored tasks: %w", err)
	}
	for i := range tasks {
		tasks[i].Normalize()
	}
	return tasks, nil
}

func (s *Service) writeTasks(ctx context.Context, tasks []domain.Task) error {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}
	if err := s.store.Set(ctx, s.ns+tasksKey, string(data)); err != nil {
		s.bus.Emit(events.Error, map[string]any{"op": "write tasks", "error": err.Error()})
		return storage.Connection(err)
	}
	return nil
}

func indexOf(tasks []domain.Task, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (s *Service) GetTasks(ctx context.Context, filters domain.TaskFilters) ([]domain.Task, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	f, err := filters.Normalize()
	if err != nil {
		return nil, err
	}
	tasks, err := s.readTasks(ctx)
	if err != nil {
		return nil, err
	}
	return f.Apply(tasks), nil
}

func (s *Service) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	tasks, err := s.readTasks(ctx)
	if err != nil {
		return nil, err
	}
	if i := indexOf(tasks, id); i >= 0 {
		t := tasks[i]
		return &t, nil
	}
	return nil, nil
}

func (s *Service) CreateTask(ctx context.Context, fields domain.TaskFields) (domain.Task, error) {
	if err := s.ready(); err != nil {
		return domain.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.readTasks(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	task, err := domain.NewTask(fields, uuid.NewString(), domain.Stamp("", s.now()))
	if err != nil {
		return domain.Task{}, err
	}
	if err := s.writeTasks(ctx, append(tasks, task)); err != nil {
		return domain.Task{}, err
	}
	s.bus.Emit(events.TaskCreated, task)
	return task, nil
}

// update applies fields to tasks in place. Callers hold mu.
func (s *Service) update(tasks []domain.Task, id string, fields domain.TaskFields) (domain.Task, error) {
	i := indexOf(tasks, id)
	if i < 0 {
		return domain.Task{}, storage.TaskNotFound(id)
	}
	t := tasks[i]
	if err := t.Apply(fields, domain.Stamp(t.UpdatedAt, s.now())); err != nil {
		return domain.Task{}, err
	}
	tasks[i] = t
	return t, nil
}

func (s *Service) UpdateTask(ctx context.Context, id string, fields domain.TaskFields) (domain.Task, error) {
	if err := s.ready(); err != nil {
		return domain.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.readTasks(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := s.update(tasks, id, fields)
	if err != nil {
		return domain.Task{}, err
	}
	if err := s.writeTasks(ctx, tasks); err != nil {
		return domain.Task{}, err
	}
	s.bus.Emit(events.TaskUpdated, t)
	return t, nil
}

func (s *Service) DeleteTask(ctx context.Context, id string) (domain.Task, error) {
	if err := s.ready(); err != nil {
		return domain.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.readTasks(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	i := indexOf(tasks, id)
	if i < 0 {
		return domain.Task{}, storage.TaskNotFound(id)
	}
	removed := tasks[i]
	if err := s.writeTasks(ctx, append(tasks[:i:i], tasks[i+1:]...)); err != nil {
		return domain.Task{}, err
	}
	s.bus.Emit(events.TaskDeleted, removed)
	return removed, nil
}

func (s *Service) BulkUpdateTasks(ctx context.Context, updates []storage.TaskUpdate) (storage.BulkResult, error) {
	if err := s.ready(); err != nil {
		return storage.BulkResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.readTasks(ctx)
	if err != nil {
		return storage.BulkResult{}, err
	}
	res := storage.BulkResult{Tasks: []domain.Task{}}
	for _, u := range updates {
		t, err := s.update(tasks, u.ID, u.Fields)
		if err != nil {
			s.log.Warn("bulk update item failed", zap.String("task", u.ID), zap.Error(err))
			res.Failures = append(res.Failures, storage.ItemFailure{ID: u.ID, Error: err.Error()})
			continue
		}
		res.Tasks = append(res.Tasks, t)
	}
	if len(res.Tasks) > 0 {
		if err := s.writeTasks(ctx, tasks); err != nil {
			return storage.BulkResult{}, err
		}
	}
	s.bus.Emit(events.TasksBulkUpdated, res)
	return res, nil
}

func (s *Service) BulkDeleteTasks(ctx context.Context, ids []string) (storage.BulkResult, error) {
	if err := s.ready(); err != nil {
		return storage.BulkResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.readTasks(ctx)
	if err != nil {
		return storage.BulkResult{}, err
	}
	res := storage.BulkResult{Tasks: []domain.Task{}}
	for _, id := range ids {
		i := indexOf(tasks, id)
		if i < 0 {
			err := storage.TaskNotFound(id)
			s.log.Warn("bulk delete item failed", zap.String("task", id), zap.Error(err))
			res.Failures = append(res.Failures, storage.ItemFailure{ID: id, Error: err.Error()})
			continue
		}
		res.Tasks = append(res.Tasks, tasks[i])
		tasks = append(tasks[:i:i], tasks[i+1:]...)
	}
	if len(res.Tasks) > 0 {
		if err := s.writeTasks(ctx, tasks); err != nil {
			return storage.BulkResult{}, err
		}
	}
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
	tasks, err := s.GetTasks(ctx, filters.Unpaged())
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

func (s *Service) GetTasksByStatusCount(ctx context.Context) (map[string]int, error) {
	tasks, err := s.GetTasks(ctx, domain.TaskFilters{})
	if err != nil {
		return nil, err
	}
	return domain.CountByStatus(tasks), nil
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

func (s *Service) readConfig(ctx context.Context) (map[string]json.RawMessage, error) {
	v, found, err := s.store.Get(ctx, s.ns+configKey)
	if err != nil {
		return nil, storage.Connection(err)
	}
	cfg := map[string]json.RawMessage{}
	if !found || v == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(v), &cfg); err != nil {
		return nil, fmt.Errorf("decode stored config: %w", err)
	}
	return cfg, nil
}

func (s *Service) writeConfig(ctx context.Context, cfg map[string]json.RawMessage) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := s.store.Set(ctx, s.ns+configKey, string(data)); err != nil {
		return storage.Connection(err)
	}
	return nil
}

func (s *Service) GetConfig(ctx context.Context, key string) (json.RawMessage, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	cfg, err := s.readConfig(ctx)
	if err != nil {
		return nil, err
	}
	return cfg[key], nil
}

func (s *Service) SetConfig(ctx context.Context, key string, value any) error {
	if err := s.ready(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return &domain.ValidationError{Field: key, Reason: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.readConfig(ctx)
	if err != nil {
		return err
	}
	cfg[key] = data
	if err := s.writeConfig(ctx, cfg); err != nil {
		return err
	}
	s.bus.Emit(events.ConfigUpdated, map[string]any{"key": key, "value": json.RawMessage(data)})
	return nil
}

func (s *Service) DeleteConfig(ctx context.Context, key string) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.readConfig(ctx)
	if err != nil {
		return err
	}
	if _, ok := cfg[key]; !ok {
		return nil
	}
	delete(cfg, key)
	if err := s.writeConfig(ctx, cfg); err != nil {
		return err
	}
	s.bus.Emit(events.ConfigUpdated, map[string]any{"key": key, "deleted": true})
	return nil
}

func (s *Service) snapshot(ctx context.Context) (storage.ExportDocument, error) {
	tasks, err := s.readTasks(ctx)
	if err != nil {
		return storage.ExportDocument{}, err
	}
	domain.SortTasks(tasks)
	cfg, err := s.readConfig(ctx)
	if err != nil {
		return storage.ExportDocument{}, err
	}
	return storage.ExportDocument{
		Tasks:      tasks,
		Config:     cfg,
		ExportedAt: domain.FormatTime(s.now()),
		Version:    storage.ExportVersion,
	}, nil
}

func (s *Service) ExportData(ctx context.Context, format storage.ExportFormat) ([]byte, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	doc, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	switch format {
	case storage.FormatCSV:
		return storage.EncodeCSV(storage.LocalCSVHeader, doc.Tasks), nil
	case storage.FormatJSON, "":
		return storage.EncodeJSON(doc)
	}
	return nil, &domain.ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported format %q", format)}
}

// ImportData upserts by id when merging and replaces everything otherwise.
// Records that fail validation are skipped.
func (s *Service) ImportData(ctx context.Context, data []byte, opts storage.ImportOptions) (storage.ImportResult, error) {
	if err := s.ready(); err != nil {
		return storage.ImportResult{}, err
	}
	doc, err := storage.DecodeJSON(data)
	if err != nil {
		return storage.ImportResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []domain.Task
	if opts.Merge {
		if tasks, err = s.readTasks(ctx); err != nil {
			return storage.ImportResult{}, err
		}
	}
	res := storage.ImportResult{Total: len(doc.Tasks)}
	now := domain.FormatTime(s.now())
	for _, t := range doc.Tasks {
		t.Normalize()
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.CreatedAt == "" {
			t.CreatedAt = now
		}
		if t.UpdatedAt == "" {
			t.UpdatedAt = t.CreatedAt
		}
		if err := t.Validate(); err != nil {
			s.log.Warn("import skipped task", zap.String("task", t.ID), zap.Error(err))
			continue
		}
		if i := indexOf(tasks, t.ID); i >= 0 {
			tasks[i] = t
		} else {
			tasks = append(tasks, t)
		}
		res.Imported++
	}
	if err := s.writeTasks(ctx, tasks); err != nil {
		return storage.ImportResult{}, err
	}
	if doc.Config != nil {
		cfg := doc.Config
		if opts.Merge {
			if cfg, err = s.readConfig(ctx); err != nil {
				return storage.ImportResult{}, err
			}
			for k, v := range doc.Config {
				cfg[k] = v
			}
		}
		if err := s.writeConfig(ctx, cfg); err != nil {
			return storage.ImportResult{}, err
		}
	}
	s.log.Info("import finished", zap.Int("imported", res.Imported), zap.Int("total", res.Total), zap.Bool("merge", opts.Merge))
	s.bus.Emit(events.TasksBulkUpdated, res)
	return res, nil
}

func (s *Service) CreateBackup(ctx context.Context) (storage.BackupInfo, error) {
	if err := s.ready(); err != nil {
		return storage.BackupInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.snapshot(ctx)
	if err != nil {
		return storage.BackupInfo{}, err
	}
	data, err := storage.EncodeJSON(doc)
	if err != nil {
		return storage.BackupInfo{}, err
	}
	info := storage.BackupInfo{ID: uuid.NewString(), CreatedAt: doc.ExportedAt, Tasks: len(doc.Tasks)}
	if err := s.store.Set(ctx, s.ns+backupPrefix+info.ID, string(data)); err != nil {
		return storage.BackupInfo{}, storage.Connection(err)
	}
	return info, nil
}

func (s *Service) readBackup(ctx context.Context, id string) (storage.ExportDocument, error) {
	v, found, err := s.store.Get(ctx, s.ns+backupPrefix+id)
	if err != nil {
		return storage.ExportDocument{}, storage.Connection(err)
	}
	if !found {
		return storage.ExportDocument{}, fmt.Errorf("backup %s: %w", id, storage.ErrNotFound)
	}
	return storage.DecodeJSON([]byte(v))
}

// RestoreBackup replaces tasks and config with the snapshot.
func (s *Service) RestoreBackup(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readBackup(ctx, id)
	if err != nil {
		return err
	}
	if err := s.writeTasks(ctx, doc.Tasks); err != nil {
		return err
	}
	cfg := doc.Config
	if cfg == nil {
		cfg = map[string]json.RawMessage{}
	}
	if err := s.writeConfig(ctx, cfg); err != nil {
		return err
	}
	s.bus.Emit(events.TasksBulkUpdated, map[string]any{"restoredFrom": id, "tasks": len(doc.Tasks)})
	return nil
}

// ListBackups returns backups newest first.
func (s *Service) ListBackups(ctx context.Context) ([]storage.BackupInfo, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	keys, err := s.store.Keys(ctx, s.ns+backupPrefix)
	if err != nil {
		return nil, storage.Connection(err)
	}
	out := []storage.BackupInfo{}
	for _, k := range keys {
		id := k[len(s.ns+backupPrefix):]
		doc, err := s.readBackup(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, storage.BackupInfo{ID: id, CreatedAt: doc.ExportedAt, Tasks: len(doc.Tasks)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Service) Sync(ctx context.Context) (time.Time, error) {
	if err := s.ready(); err != nil {
		return time.Time{}, err
	}
	stamp := domain.FormatTime(s.now())
	if err := s.store.Set(ctx, s.ns+lastSyncKey, stamp); err != nil {
		return time.Time{}, storage.Connection(err)
	}
	at, _ := domain.ParseTime(stamp)
	s.bus.Emit(events.Synced, map[string]any{"at": stamp})
	return at, nil
}

func (s *Service) GetLastSyncTime(ctx context.Context) (time.Time, error) {
	if err := s.ready(); err != nil {
		return time.Time{}, err
	}
	v, found, err := s.store.Get(ctx, s.ns+lastSyncKey)
	if err != nil {
		return time.Time{}, storage.Connection(err)
	}
	if !found {
		return time.Time{}, nil
	}
	return domain.ParseTime(v)
}

// HealthCheck pings the store and reads the task collection.
func (s *Service) HealthCheck(ctx context.Context) storage.Health {
	h := storage.Health{Status: storage.Healthy, Timestamp: domain.FormatTime(s.now())}
	err := s.store.Ping(ctx)
	if err == nil {
		_, err = s.readTasks(ctx)
	}
	if err != nil {
		h.Status = storage.Unhealthy
		h.Error = err.Error()
	}
	return h
}
