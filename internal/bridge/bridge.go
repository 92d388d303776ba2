// Package bridge copies rooms kept in the local key/value store into the
// relational store. Local data is left in place.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"sprintboard/internal/domain"
	"sprintboard/internal/local"
	"sprintboard/internal/remote"
)

// PlaceholderActivity names migrated tasks that had no activity.
const PlaceholderActivity = "Tarefa sem título"

type ItemError struct {
	Room   string `json:"room"`
	TaskID string `json:"taskId,omitempty"`
	Err    string `json:"error"`
}

func (e ItemError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("room %s: %s", e.Room, e.Err)
	}
	return fmt.Sprintf("room %s task %s: %s", e.Room, e.TaskID, e.Err)
}

type Report struct {
	RoomsCreated  int         `json:"roomsCreated"`
	TasksMigrated int         `json:"tasksMigrated"`
	Errors        []ItemError `json:"errors"`
}

type Bridge struct {
	Local  local.Rooms
	Remote *remote.Service
	Logger *zap.Logger
}

// Migrate walks every local room. Failures are collected in the report;
// only a failure to list local rooms or a missing actor aborts the run.
func (b Bridge) Migrate(ctx context.Context) (Report, error) {
	log := b.Logger
	if log == nil {
		log = zap.NewNop()
	}
	rep := Report{Errors: []ItemError{}}
	codes, err := b.Local.List(ctx)
	if err != nil {
		return rep, fmt.Errorf("list local rooms: %w", err)
	}
	if _, err := b.Remote.GetUserRooms(ctx); err != nil {
		return rep, err
	}
	prev := b.Remote.CurrentRoom()
	defer b.Remote.SetCurrentRoom(prev)

	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		roomID, created, err := b.ensureRoom(ctx, code)
		if err != nil {
			log.Warn("room not migrated", zap.String("room", code), zap.Error(err))
			rep.Errors = append(rep.Errors, ItemError{Room: code, Err: err.Error()})
			continue
		}
		if created {
			rep.RoomsCreated++
		}
		b.Remote.SetCurrentRoom(roomID)
		n := b.copyTasks(ctx, code, &rep, log)
		rep.TasksMigrated += n
		log.Info("room migrated", zap.String("room", code), zap.Int("tasks", n), zap.Bool("created", created))
	}
	return rep, nil
}

// ensureRoom finds the remote room with the local code, creating it when
// absent and joining it when it exists but is not yet visible to the actor.
func (b Bridge) ensureRoom(ctx context.Context, code string) (string, bool, error) {
	found, err := b.Remote.FindRoomByCode(ctx, code)
	if err != nil {
		return "", false, err
	}
	if found == nil {
		room, err := b.Remote.CreateRoom(ctx, domain.RoomInput{Name: code, RoomCode: code})
		if err != nil {
			return "", false, err
		}
		return room.ID, true, nil
	}
	room, err := b.Remote.JoinRoom(ctx, code)
	if err != nil {
		return "", false, err
	}
	return room.ID, false, nil
}

func (b Bridge) copyTasks(ctx context.Context, code string, rep *Report, log *zap.Logger) int {
	raw, err := b.Local.ReadRaw(ctx, code)
	if err != nil {
		rep.Errors = append(rep.Errors, ItemError{Room: code, Err: err.Error()})
		return 0
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		rep.Errors = append(rep.Errors, ItemError{Room: code, Err: "tasks are not a JSON array"})
		return 0
	}
	migrated := 0
	for i, item := range items {
		var f domain.TaskFields
		if err := json.Unmarshal(item, &f); err != nil {
			rep.Errors = append(rep.Errors, ItemError{Room: code, TaskID: fmt.Sprintf("#%d", i), Err: err.Error()})
			continue
		}
		id := fmt.Sprintf("#%d", i)
		if f.ID != nil && *f.ID != "" {
			id = *f.ID
		}
		if _, err := b.Remote.CreateTask(ctx, withDefaults(f)); err != nil {
			log.Debug("task not migrated", zap.String("room", code), zap.String("task", id), zap.Error(err))
			rep.Errors = append(rep.Errors, ItemError{Room: code, TaskID: id, Err: err.Error()})
			continue
		}
		migrated++
	}
	return migrated
}

func withDefaults(f domain.TaskFields) domain.TaskFields {
	if blank(f.Activity) {
		v := PlaceholderActivity
		f.Activity = &v
	}
	if blank(f.Status) {
		v := domain.StatusBacklog
		f.Status = &v
	}
	if f.EstimateHours == nil {
		v := 0.0
		f.EstimateHours = &v
	}
	return f
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
