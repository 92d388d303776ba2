package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestNewTaskDefaults(t *testing.T) {
	task, err := NewTask(TaskFields{Activity: strPtr("Write tests")}, "t-1", "2024-01-01T00:00:00.000000Z")
	require.NoError(t, err)
	assert.Equal(t, StatusBacklog, task.Status)
	assert.Equal(t, PriorityMedium, task.Priority)
	assert.Equal(t, 0.0, task.EstimateHours)
	assert.Len(t, task.Reestimates, ReestimateSlots)
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)
}

func TestNewTaskIgnoresCallerIdentity(t *testing.T) {
	task, err := NewTask(TaskFields{
		ID:        strPtr("forged"),
		CreatedAt: strPtr("1999-01-01T00:00:00.000000Z"),
		UserStory: strPtr("As a dev"),
	}, "t-1", "2024-01-01T00:00:00.000000Z")
	require.NoError(t, err)
	assert.Equal(t, "t-1", task.ID)
	assert.Equal(t, "2024-01-01T00:00:00.000000Z", task.CreatedAt)
}

func TestNewTaskRequiresTitleOrStory(t *testing.T) {
	_, err := NewTask(TaskFields{Sprint: strPtr("S1")}, "t-1", "2024-01-01T00:00:00.000000Z")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "atividade", verr.Field)
}

func TestNewTaskRejectsUnknownEnums(t *testing.T) {
	_, err := NewTask(TaskFields{Activity: strPtr("x"), Status: strPtr("Blocked")}, "t-1", "now")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = NewTask(TaskFields{Activity: strPtr("x"), Priority: strPtr("Urgent")}, "t-1", "now")
	assert.ErrorIs(t, err, ErrValidation)
	est := -1.0
	_, err = NewTask(TaskFields{Activity: strPtr("x"), EstimateHours: &est}, "t-1", "now")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReestimatesAlwaysTen(t *testing.T) {
	est := 4.0
	task, err := NewTask(TaskFields{Activity: strPtr("x"), EstimateHours: &est, Reestimates: []float64{1, 2}}, "t-1", "now")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 4, 4, 4, 4, 4, 4, 4, 4}, task.Reestimates)

	long := make([]float64, 14)
	for i := range long {
		long[i] = float64(i)
	}
	require.NoError(t, task.Apply(TaskFields{Reestimates: long}, "later"))
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, task.Reestimates)
}

func TestApplyKeepsIdentityAndStampsUpdate(t *testing.T) {
	task, err := NewTask(TaskFields{Activity: strPtr("x")}, "t-1", "2024-01-01T00:00:00.000000Z")
	require.NoError(t, err)
	err = task.Apply(TaskFields{ID: strPtr("other"), Status: strPtr(StatusDone)}, "2024-01-02T00:00:00.000000Z")
	require.NoError(t, err)
	assert.Equal(t, "t-1", task.ID)
	assert.Equal(t, StatusDone, task.Status)
	assert.Equal(t, "2024-01-01T00:00:00.000000Z", task.CreatedAt)
	assert.Equal(t, "2024-01-02T00:00:00.000000Z", task.UpdatedAt)
}

func TestApplyFailureLeavesTaskUntouched(t *testing.T) {
	task, err := NewTask(TaskFields{Activity: strPtr("x")}, "t-1", "now")
	require.NoError(t, err)
	before := task.Clone()
	err = task.Apply(TaskFields{Activity: strPtr(""), Status: strPtr("nope")}, "later")
	require.Error(t, err)
	assert.Equal(t, before, task)
}

func TestAnyStatusTransitionAllowed(t *testing.T) {
	task, err := NewTask(TaskFields{Activity: strPtr("x"), Status: strPtr(StatusDone)}, "t-1", "now")
	require.NoError(t, err)
	for _, s := range []string{StatusBacklog, StatusDoing, StatusPrioritized, StatusDone, StatusBacklog} {
		require.NoError(t, task.Apply(TaskFields{Status: strPtr(s)}, "later"))
		assert.Equal(t, s, task.Status)
	}
}

func TestStampIsStrictlyIncreasing(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := Stamp("", now)
	second := Stamp(first, now)
	third := Stamp(second, now.Add(-time.Hour))
	assert.Greater(t, second, first)
	assert.Greater(t, third, second)
	assert.Equal(t, "2024-01-01T00:00:00.000002Z", third)
}

func TestFieldsOfRoundTrip(t *testing.T) {
	spent := 3.5
	task, err := NewTask(TaskFields{Activity: strPtr("x"), TimeSpent: &spent, Developer: strPtr("Ana")}, "t-1", "now")
	require.NoError(t, err)
	again, err := NewTask(FieldsOf(task), "t-1", "now")
	require.NoError(t, err)
	assert.Equal(t, task, again)
}
