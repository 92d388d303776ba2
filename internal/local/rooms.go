package local

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"sprintboard/internal/domain"
	"sprintboard/internal/kv"
)

const (
	roomKeyPrefix    = "room:"
	defaultNamespace = "default:"
	tasksKey         = "tasks"
)

// Namespace returns the key prefix of a room, or of the implicit store when code is empty.
func Namespace(code string) string {
	if code == "" {
		return defaultNamespace
	}
	return roomKeyPrefix + code + ":"
}

// Rooms manages the set of rooms kept in a key/value store.
type Rooms struct {
	Store kv.Store
}

// CheckCode normalizes a room code used as a key segment.
func CheckCode(code string) (string, error) {
	code = domain.NormalizeRoomCode(code)
	if code == "" || strings.ContainsAny(code, ": \t") {
		return "", &domain.ValidationError{Field: "roomCode", Reason: "invalid room code"}
	}
	return code, nil
}

// List returns every room code with a task collection, sorted.
func (r Rooms) List(ctx context.Context) ([]string, error) {
	keys, err := r.Store.Keys(ctx, roomKeyPrefix)
	if err != nil {
		return nil, err
	}
	codes := []string{}
	for _, k := range keys {
		rest := strings.TrimPrefix(k, roomKeyPrefix)
		code, suffix, ok := strings.Cut(rest, ":")
		if ok && suffix == tasksKey && code != "" {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

func (r Rooms) Exists(ctx context.Context, code string) (bool, error) {
	code, err := CheckCode(code)
	if err != nil {
		return false, err
	}
	_, found, err := r.Store.Get(ctx, Namespace(code)+tasksKey)
	return found, err
}

// Register creates an empty task collection for code unless it exists.
func (r Rooms) Register(ctx context.Context, code string) error {
	exists, err := r.Exists(ctx, code)
	if err != nil || exists {
		return err
	}
	code, _ = CheckCode(code)
	return r.Store.Set(ctx, Namespace(code)+tasksKey, "[]")
}

// ReadRaw returns the stored JSON array of a room as is; an unknown room reads as empty.
func (r Rooms) ReadRaw(ctx context.Context, code string) (json.RawMessage, error) {
	code, err := CheckCode(code)
	if err != nil {
		return nil, err
	}
	v, found, err := r.Store.Get(ctx, Namespace(code)+tasksKey)
	if err != nil {
		return nil, err
	}
	if !found || strings.TrimSpace(v) == "" {
		return json.RawMessage("[]"), nil
	}
	return json.RawMessage(v), nil
}

// WriteRaw replaces the task array of a room. data must be a JSON array.
func (r Rooms) WriteRaw(ctx context.Context, code string, data json.RawMessage) error {
	code, err := CheckCode(code)
	if err != nil {
		return err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return &domain.ValidationError{Field: "tasks", Reason: "must be a JSON array"}
	}
	return r.Store.Set(ctx, Namespace(code)+tasksKey, string(data))
}

// ReadTasks decodes a room's tasks, repairing missing defaults.
func (r Rooms) ReadTasks(ctx context.Context, code string) ([]domain.Task, error) {
	raw, err := r.ReadRaw(ctx, code)
	if err != nil {
		return nil, err
	}
	var tasks []domain.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, fmt.Errorf("decode tasks of room %s: %w", code, err)
	}
	for i := range tasks {
		tasks[i].Normalize()
	}
	return tasks, nil
}

// Clear removes every key of the room.
func (r Rooms) Clear(ctx context.Context, code string) error {
	code, err := CheckCode(code)
	if err != nil {
		return err
	}
	keys, err := r.Store.Keys(ctx, Namespace(code))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := r.Store.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
