package domain

import "math"

type SprintStatistics struct {
	Sprint         string  `json:"sprint"`
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	InProgress     int     `json:"inProgress"`
	Todo           int     `json:"todo"`
	TotalEstimated float64 `json:"totalEstimated"`
	TotalSpent     float64 `json:"totalSpent"`
	CompletionRate float64 `json:"completionRate"`
}

type DeveloperStatistics struct {
	Developer    string  `json:"developer"`
	Total        int     `json:"total"`
	Completed    int     `json:"completed"`
	Accuracy     float64 `json:"accuracy"`
	AverageError float64 `json:"averageError"`
}

// ComputeSprintStatistics expects tasks already filtered to the sprint.
func ComputeSprintStatistics(sprint string, tasks []Task) SprintStatistics {
	s := SprintStatistics{Sprint: sprint, Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case StatusDone:
			s.Completed++
		case StatusDoing:
			s.InProgress++
		default:
			s.Todo++
		}
		s.TotalEstimated += t.EstimateHours
		if t.TimeSpent != nil {
			s.TotalSpent += *t.TimeSpent
		}
	}
	if s.Total > 0 {
		s.CompletionRate = float64(s.Completed) / float64(s.Total) * 100
	}
	return s
}

// ComputeDeveloperStatistics expects tasks already filtered to the developer.
// Error is only measured on completed tasks with both a spent time and a positive estimate.
func ComputeDeveloperStatistics(developer string, tasks []Task) DeveloperStatistics {
	s := DeveloperStatistics{Developer: developer, Total: len(tasks)}
	var sum float64
	var measured int
	for _, t := range tasks {
		if t.Status != StatusDone {
			continue
		}
		s.Completed++
		if t.TimeSpent == nil || t.EstimateHours <= 0 {
			continue
		}
		sum += math.Abs(*t.TimeSpent-t.EstimateHours) / t.EstimateHours * 100
		measured++
	}
	if measured > 0 {
		s.AverageError = sum / float64(measured)
		s.Accuracy = math.Max(0, 100-s.AverageError)
	}
	return s
}

// CountByStatus always reports every known status, zero included.
func CountByStatus(tasks []Task) map[string]int {
	out := make(map[string]int, len(Statuses))
	for _, s := range Statuses {
		out[s] = 0
	}
	for _, t := range tasks {
		out[t.Status]++
	}
	return out
}
