package domain

import (
	"sort"
	"strings"
)

// TaskFilters is a sparse AND of predicates. Empty fields are ignored.
// CreatedAfter and CreatedBefore are strict bounds.
type TaskFilters struct {
	Status        string `json:"status,omitempty"`
	Priority      string `json:"prioridade,omitempty"`
	Sprint        string `json:"sprint,omitempty"`
	Developer     string `json:"desenvolvedor,omitempty"`
	Epic          string `json:"epico,omitempty"`
	CreatedAfter  string `json:"createdAfter,omitempty"`
	CreatedBefore string `json:"createdBefore,omitempty"`
	Limit         int    `json:"limit,omitempty"`
	Offset        int    `json:"offset,omitempty"`
}

// Normalize validates the date bounds and rewrites them in TimeLayout.
func (f TaskFilters) Normalize() (TaskFilters, error) {
	if f.Limit < 0 {
		return f, &ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	if f.Offset < 0 {
		return f, &ValidationError{Field: "offset", Reason: "must not be negative"}
	}
	if f.CreatedAfter != "" {
		t, err := ParseTime(f.CreatedAfter)
		if err != nil {
			return f, &ValidationError{Field: "createdAfter", Reason: "invalid timestamp"}
		}
		f.CreatedAfter = FormatTime(t)
	}
	if f.CreatedBefore != "" {
		t, err := ParseTime(f.CreatedBefore)
		if err != nil {
			return f, &ValidationError{Field: "createdBefore", Reason: "invalid timestamp"}
		}
		f.CreatedBefore = FormatTime(t)
	}
	return f, nil
}

// Match reports whether t satisfies every predicate except pagination.
// The filter must already be normalized.
func (f TaskFilters) Match(t Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if !containsFold(t.Sprint, f.Sprint) || !containsFold(t.Developer, f.Developer) || !containsFold(t.Epic, f.Epic) {
		return false
	}
	if f.CreatedAfter != "" && !(createdKey(t) > f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != "" && !(createdKey(t) < f.CreatedBefore) {
		return false
	}
	return true
}

// Apply filters, orders and paginates tasks. The input slice is not modified.
func (f TaskFilters) Apply(tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	SortTasks(out)
	return Paginate(out, f.Limit, f.Offset)
}

// Unpaged drops Limit and Offset, as aggregates do.
func (f TaskFilters) Unpaged() TaskFilters {
	f.Limit, f.Offset = 0, 0
	return f
}

// SortTasks orders by createdAt then id.
func SortTasks(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := createdKey(tasks[i]), createdKey(tasks[j])
		if a != b {
			return a < b
		}
		return tasks[i].ID < tasks[j].ID
	})
}

func Paginate(tasks []Task, limit, offset int) []Task {
	if offset > 0 {
		if offset >= len(tasks) {
			return []Task{}
		}
		tasks = tasks[offset:]
	}
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks
}

func containsFold(field, needle string) bool {
	if needle == "" {
		return true
	}
	if field == "" {
		return false
	}
	return strings.Contains(strings.ToLower(field), strings.ToLower(needle))
}

func createdKey(t Task) string {
	if p, err := ParseTime(t.CreatedAt); err == nil {
		return FormatTime(p)
	}
	return t.CreatedAt
}
