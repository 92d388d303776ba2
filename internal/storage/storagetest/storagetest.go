// Package storagetest holds the behaviour every storage.DataService must share.
package storagetest

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprintboard/internal/domain"
	"sprintboard/internal/events"
	"sprintboard/internal/storage"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Factory returns a fresh, not yet initialized backend scoped to an empty
// task collection and using clock for every timestamp.
type Factory func(t *testing.T, clock *Clock) storage.DataService

// Run exercises the shared contract against backends built by newService.
func Run(t *testing.T, newService Factory) {
	t.Run("NotInitialized", func(t *testing.T) {
		svc := newService(t, NewClock())
		_, err := svc.GetTasks(context.Background(), domain.TaskFilters{})
		assert.ErrorIs(t, err, storage.ErrNotInitialized)
		_, err = svc.CreateTask(context.Background(), fields("x"))
		assert.ErrorIs(t, err, storage.ErrNotInitialized)
	})
	t.Run("InitializeIsRepeatable", func(t *testing.T) {
		svc := newService(t, NewClock())
		ctx := context.Background()
		require.NoError(t, svc.Initialize(ctx))
		require.NoError(t, svc.Initialize(ctx))
	})
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, ready(t, newService)) })
	t.Run("Validation", func(t *testing.T) { testValidation(t, ready(t, newService)) })
	t.Run("MissingTask", func(t *testing.T) { testMissingTask(t, ready(t, newService)) })
	t.Run("Reestimates", func(t *testing.T) { testReestimates(t, ready(t, newService)) })
	t.Run("BacklogToDone", testBacklogToDone(newService))
	t.Run("Filters", testFilters(newService))
	t.Run("BulkPartialFailure", func(t *testing.T) { testBulk(t, ready(t, newService)) })
	t.Run("Aggregates", func(t *testing.T) { testAggregates(t, ready(t, newService)) })
	t.Run("Config", func(t *testing.T) { testConfig(t, ready(t, newService)) })
	t.Run("Export", func(t *testing.T) { testExport(t, ready(t, newService)) })
	t.Run("HealthAndSync", func(t *testing.T) { testHealthAndSync(t, ready(t, newService)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, ready(t, newService)) })
}

func ready(t *testing.T, newService Factory) storage.DataService {
	t.Helper()
	svc := newService(t, NewClock())
	require.NoError(t, svc.Initialize(context.Background()))
	return svc
}

func fields(activity string) domain.TaskFields {
	return domain.TaskFields{Activity: &activity}
}

func str(s string) *string { return &s }

func num(v float64) *float64 { return &v }

func taskIDs(tasks []domain.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func testRoundTrip(t *testing.T, svc storage.DataService) {
	ctx := context.Background()
	f := fields("Write tests")
	f.ID = str("client-chosen")
	f.CreatedAt = str("1999-01-01T00:00:00.000000Z")
	f.Epic = str("Quality")
	f.Developer = str("Ana")
	f.EstimateHours = num(3)
	f.TimeSpent = num(4)
	created, err := svc.CreateTask(ctx, f)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.NotEqual(t, "client-chosen", created.ID)
	assert.NotEqual(t, "1999-01-01T00:00:00.000000Z", created.CreatedAt)
	assert.Equal(t, domain.StatusBacklog, created.Status)
	assert.Equal(t, domain.PriorityMedium, created.Priority)

	got, err := svc.GetTask(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created, *got)

	deleted, err := svc.DeleteTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, deleted.ID)
	got, err = svc.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testValidation(t *testing.T, svc storage.DataService) {
	ctx := context.Background()
	_, err := svc.CreateTask(ctx, domain.TaskFields{Sprint: str("S1")})
	assert.ErrorIs(t, err, storage.ErrValidation)

	story := "As a user I want to log in"
	created, err := svc.CreateTask(ctx, domain.TaskFields{UserStory: &story})
	require.NoError(t, err)
	assert.Equal(t, story, created.UserStory)

	_, err = svc.UpdateTask(ctx, created.ID, domain.TaskFields{Status: str("Archived")})
	assert.ErrorIs(t, err, storage.ErrValidation)
}

func testMissingTask(t *testing.T, svc storage.DataService) {
	ctx := context.Background()
	got, err := svc.GetTask(ctx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Nil(t, got)
	_, err = svc.UpdateTask(ctx, "00000000-0000-0000-0000-000000000000", fields("x"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = svc.DeleteTask(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testReestimates(t *testing.T, svc storage.DataService) {
	ctx := context.Background()
	f := fields("estimate me")
	f.EstimateHours = num(5)
	f.Reestimates = []float64{1}
	created, err := svc.CreateTask(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 5, 5, 5, 5, 5, 5, 5, 5, 5}, created.Reestimates)

	updated, err := svc.UpdateTask(ctx, created.ID, domain.TaskFields{Reestimates: make([]float64, 12)})
	require.NoError(t, err)
	assert.Len(t, updated.Reestimates, domain.ReestimateSlots)

	got, err := svc.GetTask(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Reestimates, domain.ReestimateSlots)
}

func testBacklogToDone(newService Factory) func(t *testing.T) {
	return func(t *testing.T) {
		clock := NewClock()
		svc := newService(t, clock)
		ctx := context.Background()
		require.NoError(t, svc.Initialize(ctx))

		f := fields("Write tests")
		f.Status = str(domain.StatusBacklog)
		created, err := svc.CreateTask(ctx, f)
		require.NoError(t, err)

		backlog, err := svc.GetTasksByStatus(ctx, domain.StatusBacklog)
		require.NoError(t, err)
		assert.Equal(t, []string{created.ID}, taskIDs(backlog))

		updated, err := svc.UpdateTask(ctx, created.ID, domain.TaskFields{Status: str(domain.StatusDone)})
		require.NoError(t, err)
		assert.Greater(t, updated.UpdatedAt, updated.CreatedAt)

		backlog, err = svc.GetTasksByStatus(ctx, domain.StatusBacklog)
		require.NoError(t, err)
		assert.Empty(t, backlog)
		done, err := svc.GetTasksByStatus(ctx, domain.StatusDone)
		require.NoError(t, err)
		require.Len(t, done, 1)
		assert.Equal(t, created.ID, done[0].ID)
		assert.Greater(t, done[0].UpdatedAt, done[0].CreatedAt)
	}
}

func testFilters(newService Factory) func(t *testing.T) {
	return func(t *testing.T) {
		clock := NewClock()
		svc := newService(t, clock)
		ctx := context.Background()
		require.NoError(t, svc.Initialize(ctx))

		mk := func(activity, sprint, dev, epic, status string) domain.Task {
			f := fields(activity)
			if sprint != "" {
				f.Sprint = &sprint
			}
			if dev != "" {
				f.Developer = &dev
			}
			if epic != "" {
				f.Epic = &epic
			}
			f.Status = &status
			created, err := svc.CreateTask(ctx, f)
			require.NoError(t, err)
			clock.Advance(time.Hour)
			return created
		}
		a := mk("a", "Sprint 1", "Ana", "Login", domain.StatusBacklog)
		b := mk("b", "Sprint 1", "Bruno", "", domain.StatusDoing)
		c := mk("c", "sprint 2", "ana paula", "LOGIN flow", domain.StatusDone)
		d := mk("d", "", "", "", domain.StatusBacklog)

		all, err := svc.GetTasks(ctx, domain.TaskFilters{})
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID, b.ID, c.ID, d.ID}, taskIDs(all))

		bySprint, err := svc.GetTasksBySprint(ctx, "SPRINT 1")
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID, b.ID}, taskIDs(bySprint))

		byDev, err := svc.GetTasksByDeveloper(ctx, "ana")
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID, c.ID}, taskIDs(byDev))

		byEpic, err := svc.GetTasksByEpic(ctx, "login")
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID, c.ID}, taskIDs(byEpic))

		combined, err := svc.GetTasks(ctx, domain.TaskFilters{Developer: "ana", Status: domain.StatusDone})
		require.NoError(t, err)
		assert.Equal(t, []string{c.ID}, taskIDs(combined))

		window, err := svc.GetTasks(ctx, domain.TaskFilters{CreatedAfter: a.CreatedAt, CreatedBefore: d.CreatedAt})
		require.NoError(t, err)
		assert.Equal(t, []string{b.ID, c.ID}, taskIDs(window), "date bounds are strict")

		page, err := svc.GetTasks(ctx, domain.TaskFilters{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{b.ID, c.ID}, taskIDs(page))

		again, err := svc.GetTasks(ctx, domain.TaskFilters{Developer: "ana"})
		require.NoError(t, err)
		assert.Equal(t, taskIDs(byDev), taskIDs(again))

		count, err := svc.GetTasksCount(ctx, domain.TaskFilters{Status: domain.StatusBacklog, Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	}
}

func testBulk(t *testing.T, svc storage.DataService) {
	ctx := context.Background()
	var updates []storage.TaskUpdate
	var ids []string
	for i := 0; i < 4; i++ {
		created, err := svc.CreateTask(ctx, fields("bulk"))
		require.NoError(t, err)
		ids = append(ids, created.ID)
		updates = append(updates, storage.TaskUpdate{ID: created.ID, Fields: domain.TaskFields{Status: str(domain.StatusDoing)}})
	}
	updates[2].ID = "11111111-1111-1111-1111-111111111111"

	res, err := svc.BulkUpdateTasks(ctx, updates)
	require.NoError(t, err)
	assert.Len(t, res.Tasks, 3)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", res.Failures[0].ID)
	for _, task := range res.Tasks {
		assert.Equal(t, domain.StatusDoing, task.Status)
	}

	res, err = svc.BulkDeleteTasks(ctx, []string{ids[0], "22222222-2222-2222-2222-222222222222", ids[1]})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ids[0], ids[1]}, taskIDs(res.Tasks))
	assert.Len(t, res.Failures, 1)

	left, err := svc.GetTasks(ctx, domain.TaskFilters{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ids[2], ids[3]}, taskIDs(left))
}

func testAggregates(t *testing.T, svc storage.DataService) {
	ctx := context.Background()
	add := func(status string, est float64, spent *float64) {
		f := fields("agg")
		f.Sprint = str("S9")
		f.Developer = str("Dev")
		f.Status = &status
		f.EstimateHours = &est
		f.TimeSpent = spent
		_, err := svc.CreateTask(ctx, f)
		require.NoError(t, err)
	}
	add(domain.StatusDone, 10, num(12))
	add(domain.StatusDone, 4, num(3))
	add(domain.StatusDoing, 2, nil)
	add(domain.StatusBacklog, 1, nil)

	counts, err := svc.GetTasksByStatusCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{domain.StatusBacklog: 1, domain.StatusPrioritized: 0, domain.StatusDoing: 1, domain.StatusDone: 2}, counts)

	sprint, err := svc.GetSprintStatistics(ctx, "S9")
	require.NoError(t, err)
	assert.Equal(t, 4, sprint.Total)
	assert.Equal(t, 2, sprint.Completed)
	assert.Equal(t, 1, sprint.InProgress)
	assert.Equal(t, 1, sprint.Todo)
	assert.Equal(t, 17.0, sprint.TotalEstimated)
	assert.Equal(t, 15.0, sprint.TotalSpent)
	assert.Equal(t, 50.0, sprint.CompletionRate)

	dev, err := svc.GetDeveloperStatistics(ctx, "Dev")
	require.NoError(t, err)
	assert.Equal(t, 4, dev.Total)
	assert.Equal(t, 2, dev.Completed)
	assert.InDelta(t, 22.5, dev.AverageError, 1e-9)
	assert.InDelta(t, 77.5, dev.Accuracy, 1e-9)
}

func testConfig(t *testing.T, svc storage.DataService) {
	ctx := context.Background()
	got, err := svc.GetConfig(ctx, "columns")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, svc.SetConfig(ctx, "columns", map[string]any{"wip": 3}))
	got, err = svc.GetConfig(ctx, "columns")
	require.NoError(t, err)
	assert.JSONEq(t, `{"wip":3}`, string(got))

	require.NoError(t, svc.SetConfig(ctx, "columns", []string{"a"}))
	got, err = svc.GetConfig(ctx, "columns")
	require.NoError(t, err)
	assert.JSONEq(t, `["a"]`, string(got))

	require.NoError(t, svc.DeleteConfig(ctx, "columns"))
	got, err = svc.GetConfig(ctx, "columns")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testExport(t *testing.T, svc storage.DataService) {
	ctx := context.Background()
	f := fields("export me")
	f.Developer = str("Ana")
	f.EstimateHours = num(2)
	created, err := svc.CreateTask(ctx, f)
	require.NoError(t, err)

	data, err := svc.ExportData(ctx, storage.FormatJSON)
	require.NoError(t, err)
	var doc storage.ExportDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, storage.ExportVersion, doc.Version)
	assert.NotEmpty(t, doc.ExportedAt)
	require.Len(t, doc.Tasks, 1)
	assert.Equal(t, created.ID, doc.Tasks[0].ID)

	csv, err := svc.ExportData(ctx, storage.FormatCSV)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "id,atividade,status,desenvolvedor,estimativa,"))
	assert.Equal(t, created.ID+",export me,Backlog,Ana,2,", lines[1])
}

func testHealthAndSync(t *testing.T, svc storage.DataService) {
	ctx := context.Background()
	h := svc.HealthCheck(ctx)
	assert.Equal(t, storage.Healthy, h.Status)
	assert.Empty(t, h.Error)
	assert.NotEmpty(t, h.Timestamp)

	last, err := svc.GetLastSyncTime(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	at, err := svc.Sync(ctx)
	require.NoError(t, err)
	last, err = svc.GetLastSyncTime(ctx)
	require.NoError(t, err)
	assert.True(t, at.Equal(last))
}

func testEvents(t *testing.T, svc storage.DataService) {
	ctx := context.Background()
	var seen []events.Name
	var mu sync.Mutex
	stop := svc.Subscribe("", func(e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Name)
		return nil
	})
	svc.Subscribe(events.TaskCreated, func(events.Event) error { panic("listener bug") })

	created, err := svc.CreateTask(ctx, fields("observed"))
	require.NoError(t, err, "listener panics never reach the caller")
	_, err = svc.UpdateTask(ctx, created.ID, domain.TaskFields{Status: str(domain.StatusDoing)})
	require.NoError(t, err)
	_, err = svc.DeleteTask(ctx, created.ID)
	require.NoError(t, err)
	require.NoError(t, svc.SetConfig(ctx, "k", 1))
	stop()
	_, err = svc.CreateTask(ctx, fields("unobserved"))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.Name{events.TaskCreated, events.TaskUpdated, events.TaskDeleted, events.ConfigUpdated}, seen)
}
