// Package storage defines the contract every task backend implements.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"sprintboard/internal/domain"
	"sprintboard/internal/events"
)

type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
)

// ExportVersion is written into every JSON export.
const ExportVersion = "1.0"

type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Unhealthy HealthStatus = "unhealthy"
)

type Health struct {
	Status    HealthStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
	Timestamp string       `json:"timestamp"`
}

type TaskUpdate struct {
	ID     string            `json:"id"`
	Fields domain.TaskFields `json:"fields"`
}

type ItemFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BulkResult carries the items that succeeded and the ones that did not.
type BulkResult struct {
	Tasks    []domain.Task `json:"tasks"`
	Failures []ItemFailure `json:"failures,omitempty"`
}

type ImportOptions struct {
	Merge bool
}

type ImportResult struct {
	Imported int `json:"imported"`
	Total    int `json:"total"`
}

type BackupInfo struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
	Tasks     int    `json:"tasks"`
}

// ExportDocument is the JSON export and backup layout.
type ExportDocument struct {
	Tasks      []domain.Task              `json:"tasks"`
	Config     map[string]json.RawMessage `json:"config,omitempty"`
	ExportedAt string                     `json:"exportedAt"`
	Version    string                     `json:"version"`
}

// DataService is the capability set consumers use without knowing the backend.
// Every method other than Initialize, HealthCheck and Subscribe returns
// ErrNotInitialized until Initialize succeeded.
type DataService interface {
	Initialize(ctx context.Context) error

	GetTasks(ctx context.Context, filters domain.TaskFilters) ([]domain.Task, error)
	// GetTask returns nil without error when the id is unknown.
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	CreateTask(ctx context.Context, fields domain.TaskFields) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, fields domain.TaskFields) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) (domain.Task, error)
	BulkUpdateTasks(ctx context.Context, updates []TaskUpdate) (BulkResult, error)
	BulkDeleteTasks(ctx context.Context, ids []string) (BulkResult, error)

	GetTasksByStatus(ctx context.Context, status string) ([]domain.Task, error)
	GetTasksBySprint(ctx context.Context, sprint string) ([]domain.Task, error)
	GetTasksByDeveloper(ctx context.Context, developer string) ([]domain.Task, error)
	GetTasksByEpic(ctx context.Context, epic string) ([]domain.Task, error)

	GetTasksCount(ctx context.Context, filters domain.TaskFilters) (int, error)
	GetTasksByStatusCount(ctx context.Context) (map[string]int, error)
	GetSprintStatistics(ctx context.Context, sprint string) (domain.SprintStatistics, error)
	GetDeveloperStatistics(ctx context.Context, developer string) (domain.DeveloperStatistics, error)

	// GetConfig returns nil without error when the key is unset.
	GetConfig(ctx context.Context, key string) (json.RawMessage, error)
	SetConfig(ctx context.Context, key string, value any) error
	DeleteConfig(ctx context.Context, key string) error

	ExportData(ctx context.Context, format ExportFormat) ([]byte, error)
	ImportData(ctx context.Context, data []byte, opts ImportOptions) (ImportResult, error)
	CreateBackup(ctx context.Context) (BackupInfo, error)
	RestoreBackup(ctx context.Context, id string) error
	ListBackups(ctx context.Context) ([]BackupInfo, error)

	Sync(ctx context.Context) (time.Time, error)
	// GetLastSyncTime returns the zero time when no sync happened yet.
	GetLastSyncTime(ctx context.Context) (time.Time, error)

	HealthCheck(ctx context.Context) Health

	Subscribe(name events.Name, listener events.Listener) (unsubscribe func())
}
