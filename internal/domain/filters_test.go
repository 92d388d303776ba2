package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTasks() []Task {
	return []Task{
		{ID: "b", Activity: "two", Status: StatusDoing, Priority: PriorityHigh, Sprint: "Sprint 2", Developer: "Bruno", CreatedAt: "2024-01-02T00:00:00.000000Z"},
		{ID: "a", Activity: "one", Status: StatusBacklog, Priority: PriorityMedium, Sprint: "Sprint 1", Developer: "ana", Epic: "Login", CreatedAt: "2024-01-01T00:00:00.000000Z"},
		{ID: "c", Activity: "three", Status: StatusDone, Priority: PriorityMedium, CreatedAt: "2024-01-03T00:00:00.000000Z"},
		{ID: "0", Activity: "zero", Status: StatusBacklog, Priority: PriorityLow, Developer: "Ana Paula", CreatedAt: "2024-01-01T00:00:00.000000Z"},
	}
}

func ids(tasks []Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestApplyOrdersByCreatedThenID(t *testing.T) {
	got := TaskFilters{}.Apply(sampleTasks())
	assert.Equal(t, []string{"0", "a", "b", "c"}, ids(got))
}

func TestSubstringFiltersAreCaseInsensitive(t *testing.T) {
	got := TaskFilters{Developer: "ANA"}.Apply(sampleTasks())
	assert.Equal(t, []string{"0", "a"}, ids(got))

	got = TaskFilters{Sprint: "sprint"}.Apply(sampleTasks())
	assert.Equal(t, []string{"a", "b"}, ids(got), "tasks without a sprint are excluded")

	got = TaskFilters{Epic: "log"}.Apply(sampleTasks())
	assert.Equal(t, []string{"a"}, ids(got))
}

func TestExactFilters(t *testing.T) {
	assert.Equal(t, []string{"0", "a"}, ids(TaskFilters{Status: StatusBacklog}.Apply(sampleTasks())))
	assert.Empty(t, TaskFilters{Status: "backlog"}.Apply(sampleTasks()))
	assert.Equal(t, []string{"a", "c"}, ids(TaskFilters{Priority: PriorityMedium}.Apply(sampleTasks())))
}

func TestDateBoundsAreStrict(t *testing.T) {
	f, err := TaskFilters{CreatedAfter: "2024-01-01T00:00:00Z", CreatedBefore: "2024-01-03T00:00:00.000000Z"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00.000000Z", f.CreatedAfter)
	assert.Equal(t, []string{"b"}, ids(f.Apply(sampleTasks())))
}

func TestNormalizeRejectsBadInput(t *testing.T) {
	_, err := TaskFilters{CreatedAfter: "yesterday"}.Normalize()
	assert.ErrorIs(t, err, ErrValidation)
	_, err = TaskFilters{Limit: -1}.Normalize()
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPagination(t *testing.T) {
	f := TaskFilters{Limit: 2, Offset: 1}
	assert.Equal(t, []string{"a", "b"}, ids(f.Apply(sampleTasks())))
	assert.Empty(t, TaskFilters{Offset: 10}.Apply(sampleTasks()))
}

func TestFilterIdempotence(t *testing.T) {
	f := TaskFilters{Developer: "ana", Status: StatusBacklog}
	once := f.Apply(sampleTasks())
	twice := f.Apply(once)
	assert.Equal(t, once, twice)
	assert.Equal(t, once, f.Apply(sampleTasks()))
}
