package storage

import (
	"errors"
	"fmt"

	"sprintboard/internal/domain"
)

var (
	ErrValidation       = domain.ErrValidation
	ErrNotFound         = errors.New("not found")
	ErrRoomNotFound     = fmt.Errorf("room %w", ErrNotFound)
	ErrNoRoomSelected   = errors.New("no room selected")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotInitialized   = errors.New("backend not initialized")
	ErrConnection       = errors.New("store unreachable")
	ErrNotImplemented   = errors.New("not implemented")
	ErrUnauthenticated  = errors.New("not authenticated")
)

// TaskNotFound wraps ErrNotFound with the missing id.
func TaskNotFound(id string) error {
	return fmt.Errorf("task %s: %w", id, ErrNotFound)
}

// Connection wraps a driver error so callers can test for ErrConnection.
func Connection(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}
