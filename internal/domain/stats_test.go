package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func f64(v float64) *float64 { return &v }

func TestSprintStatistics(t *testing.T) {
	tasks := []Task{
		{Status: StatusDone, EstimateHours: 4, TimeSpent: f64(5)},
		{Status: StatusDoing, EstimateHours: 2},
		{Status: StatusBacklog, EstimateHours: 1},
		{Status: StatusPrioritized, EstimateHours: 3, TimeSpent: f64(1)},
	}
	s := ComputeSprintStatistics("S1", tasks)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 1, s.InProgress)
	assert.Equal(t, 2, s.Todo)
	assert.Equal(t, 10.0, s.TotalEstimated)
	assert.Equal(t, 6.0, s.TotalSpent)
	assert.Equal(t, 25.0, s.CompletionRate)

	assert.Equal(t, 0.0, ComputeSprintStatistics("empty", nil).CompletionRate)
}

func TestDeveloperStatistics(t *testing.T) {
	tasks := []Task{
		{Status: StatusDone, EstimateHours: 10, TimeSpent: f64(12)},
		{Status: StatusDone, EstimateHours: 4, TimeSpent: f64(3)},
		{Status: StatusDone, EstimateHours: 0, TimeSpent: f64(3)},
		{Status: StatusDone, EstimateHours: 5},
		{Status: StatusDoing, EstimateHours: 5, TimeSpent: f64(50)},
	}
	s := ComputeDeveloperStatistics("ana", tasks)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 4, s.Completed)
	assert.InDelta(t, 22.5, s.AverageError, 1e-9)
	assert.InDelta(t, 77.5, s.Accuracy, 1e-9)
}

func TestDeveloperAccuracyFloorsAtZero(t *testing.T) {
	s := ComputeDeveloperStatistics("ana", []Task{{Status: StatusDone, EstimateHours: 1, TimeSpent: f64(5)}})
	assert.Equal(t, 400.0, s.AverageError)
	assert.Equal(t, 0.0, s.Accuracy)
}

func TestCountByStatusIncludesZeroes(t *testing.T) {
	got := CountByStatus([]Task{{Status: StatusDone}, {Status: StatusDone}})
	assert.Equal(t, map[string]int{StatusBacklog: 0, StatusPrioritized: 0, StatusDoing: 0, StatusDone: 2}, got)
}
