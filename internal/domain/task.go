package domain

import (
	"strings"
)

const (
	StatusBacklog     = "Backlog"
	StatusPrioritized = "Priorizado"
	StatusDoing       = "Doing"
	StatusDone        = "Done"
)

const (
	PriorityLow      = "Baixa"
	PriorityMedium   = "Média"
	PriorityHigh     = "Alta"
	PriorityCritical = "Crítica"
)

// ReestimateSlots is the fixed length of Task.Reestimates.
const ReestimateSlots = 10

// Statuses lists the board columns in display order. Any status may move to any other.
var Statuses = []string{StatusBacklog, StatusPrioritized, StatusDoing, StatusDone}

var Priorities = []string{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// Task is the canonical shape every backend returns.
type Task struct {
	ID                 string    `json:"id"`
	Activity           string    `json:"atividade"`
	Epic               string    `json:"epico,omitempty"`
	UserStory          string    `json:"userStory,omitempty"`
	Sprint             string    `json:"sprint,omitempty"`
	Developer          string    `json:"desenvolvedor,omitempty"`
	Priority           string    `json:"prioridade"`
	Status             string    `json:"status"`
	EstimateHours      float64   `json:"estimativa"`
	Reestimates        []float64 `json:"reestimativas"`
	TimeSpent          *float64  `json:"tempoGasto,omitempty"`
	ErrorRate          *float64  `json:"taxaErro,omitempty"`
	TimeSpentValidated *bool     `json:"tempoGastoValidado,omitempty"`
	ErrorReason        string    `json:"motivoErro,omitempty"`
	CreatedAt          string    `json:"createdAt" format:"date-time"`
	UpdatedAt          string    `json:"updatedAt" format:"date-time"`
}

// TaskFields is a sparse task used for creation and partial updates.
// Nil pointers mean "not provided". ID, CreatedAt and UpdatedAt are accepted
// so callers can pass whole records around, but services never trust them.
type TaskFields struct {
	ID                 *string   `json:"id,omitempty"`
	Activity           *string   `json:"atividade,omitempty"`
	Epic               *string   `json:"epico,omitempty"`
	UserStory          *string   `json:"userStory,omitempty"`
	Sprint             *string   `json:"sprint,omitempty"`
	Developer          *string   `json:"desenvolvedor,omitempty"`
	Priority           *string   `json:"prioridade,omitempty"`
	Status             *string   `json:"status,omitempty"`
	EstimateHours      *float64  `json:"estimativa,omitempty"`
	Reestimates        []float64 `json:"reestimativas,omitempty"`
	TimeSpent          *float64  `json:"tempoGasto,omitempty"`
	ErrorRate          *float64  `json:"taxaErro,omitempty"`
	TimeSpentValidated *bool     `json:"tempoGastoValidado,omitempty"`
	ErrorReason        *string   `json:"motivoErro,omitempty"`
	CreatedAt          *string   `json:"createdAt,omitempty"`
	UpdatedAt          *string   `json:"updatedAt,omitempty"`
}

// FieldsOf converts a stored task back into a full set of fields.
func FieldsOf(t Task) TaskFields {
	f := TaskFields{
		ID:                 optional(t.ID),
		Activity:           optional(t.Activity),
		Epic:               optional(t.Epic),
		UserStory:          optional(t.UserStory),
		Sprint:             optional(t.Sprint),
		Developer:          optional(t.Developer),
		Priority:           optional(t.Priority),
		Status:             optional(t.Status),
		EstimateHours:      &t.EstimateHours,
		TimeSpent:          t.TimeSpent,
		ErrorRate:          t.ErrorRate,
		TimeSpentValidated: t.TimeSpentValidated,
		ErrorReason:        optional(t.ErrorReason),
		CreatedAt:          optional(t.CreatedAt),
		UpdatedAt:          optional(t.UpdatedAt),
	}
	if len(t.Reestimates) > 0 {
		f.Reestimates = append([]float64(nil), t.Reestimates...)
	}
	return f
}

// NewTask validates fields, applies defaults and returns a task stamped with now.
// Any ID or timestamps inside f are ignored.
func NewTask(f TaskFields, id, now string) (Task, error) {
	t := Task{
		ID:        id,
		Priority:  PriorityMedium,
		Status:    StatusBacklog,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.merge(f); err != nil {
		return Task{}, err
	}
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}

// Apply merges f onto t and stamps UpdatedAt. The ID and CreatedAt never change.
func (t *Task) Apply(f TaskFields, updatedAt string) error {
	next := t.Clone()
	if err := next.merge(f); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	next.UpdatedAt = updatedAt
	*t = next
	return nil
}

func (t *Task) merge(f TaskFields) error {
	if f.Activity != nil {
		t.Activity = strings.TrimSpace(*f.Activity)
	}
	if f.Epic != nil {
		t.Epic = *f.Epic
	}
	if f.UserStory != nil {
		t.UserStory = *f.UserStory
	}
	if f.Sprint != nil {
		t.Sprint = *f.Sprint
	}
	if f.Developer != nil {
		t.Developer = *f.Developer
	}
	if f.Priority != nil && *f.Priority != "" {
		t.Priority = *f.Priority
	}
	if f.Status != nil && *f.Status != "" {
		t.Status = *f.Status
	}
	if f.EstimateHours != nil {
		if *f.EstimateHours < 0 {
			return &ValidationError{Field: "estimativa", Reason: "must not be negative"}
		}
		t.EstimateHours = *f.EstimateHours
	}
	if f.Reestimates != nil {
		t.Reestimates = append([]float64(nil), f.Reestimates...)
	}
	if f.TimeSpent != nil {
		t.TimeSpent = float64Ptr(*f.TimeSpent)
	}
	if f.ErrorRate != nil {
		t.ErrorRate = float64Ptr(*f.ErrorRate)
	}
	if f.TimeSpentValidated != nil {
		v := *f.TimeSpentValidated
		t.TimeSpentValidated = &v
	}
	if f.ErrorReason != nil {
		t.ErrorReason = *f.ErrorReason
	}
	t.Reestimates = NormalizeReestimates(t.Reestimates, t.EstimateHours)
	return nil
}

// Validate checks the invariants every stored task must hold.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Activity) == "" && strings.TrimSpace(t.UserStory) == "" {
		return &ValidationError{Field: "atividade", Reason: "atividade or userStory is required"}
	}
	if !IsValidStatus(t.Status) {
		return &ValidationError{Field: "status", Reason: "unknown status " + t.Status}
	}
	if !IsValidPriority(t.Priority) {
		return &ValidationError{Field: "prioridade", Reason: "unknown priority " + t.Priority}
	}
	if len(t.Reestimates) != ReestimateSlots {
		return &ValidationError{Field: "reestimativas", Reason: "must hold exactly 10 values"}
	}
	return nil
}

// Normalize repairs records that were written by other clients: missing
// defaults are filled and reestimates padded. It does not validate.
func (t *Task) Normalize() {
	if t.Status == "" {
		t.Status = StatusBacklog
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	t.Reestimates = NormalizeReestimates(t.Reestimates, t.EstimateHours)
}

// Clone returns a deep copy.
func (t Task) Clone() Task {
	out := t
	if t.Reestimates != nil {
		out.Reestimates = append([]float64(nil), t.Reestimates...)
	}
	if t.TimeSpent != nil {
		out.TimeSpent = float64Ptr(*t.TimeSpent)
	}
	if t.ErrorRate != nil {
		out.ErrorRate = float64Ptr(*t.ErrorRate)
	}
	if t.TimeSpentValidated != nil {
		v := *t.TimeSpentValidated
		out.TimeSpentValidated = &v
	}
	return out
}

// NormalizeReestimates pads with estimate or truncates so the result has exactly ReestimateSlots entries.
func NormalizeReestimates(in []float64, estimate float64) []float64 {
	out := make([]float64, ReestimateSlots)
	n := copy(out, in)
	for i := n; i < ReestimateSlots; i++ {
		out[i] = estimate
	}
	return out
}

func IsValidStatus(s string) bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

func IsValidPriority(p string) bool {
	for _, v := range Priorities {
		if v == p {
			return true
		}
	}
	return false
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func float64Ptr(v float64) *float64 {
	return &v
}
