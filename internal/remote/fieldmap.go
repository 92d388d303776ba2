package remote

import (
	"encoding/json"
	"fmt"

	"sprintboard/internal/domain"
	"sprintboard/internal/repo"
)

// fieldMap pairs canonical task names with wire column names. Names that
// are absent here are not task fields.
var fieldMap = [...]struct{ canonical, wire string }{
	{"id", "id"},
	{"atividade", "atividade"},
	{"epico", "epico"},
	{"userStory", "user_story"},
	{"sprint", "sprint"},
	{"desenvolvedor", "desenvolvedor"},
	{"prioridade", "prioridade"},
	{"status", "status"},
	{"estimativa", "estimativa"},
	{"reestimativas", "reestimativas"},
	{"tempoGasto", "tempo_gasto"},
	{"taxaErro", "taxa_erro"},
	{"tempoGastoValidado", "tempo_gasto_validado"},
	{"motivoErro", "motivo_erro"},
	{"createdAt", "created_at"},
	{"updatedAt", "updated_at"},
}

var toWire = map[string]string{}

func init() {
	for _, f := range fieldMap {
		toWire[f.canonical] = f.wire
	}
}

func wireName(canonical string) (string, bool) {
	w, ok := toWire[canonical]
	return w, ok
}

func wireNames(canonical []string) []string {
	out := make([]string, len(canonical))
	for i, c := range canonical {
		if w, ok := wireName(c); ok {
			out[i] = w
		} else {
			out[i] = c
		}
	}
	return out
}

func toRow(t domain.Task, roomID string) (repo.TaskRow, error) {
	re, err := json.Marshal(domain.NormalizeReestimates(t.Reestimates, t.EstimateHours))
	if err != nil {
		return repo.TaskRow{}, fmt.Errorf("encode reestimativas: %w", err)
	}
	return repo.TaskRow{
		ID:                 t.ID,
		RoomID:             roomID,
		Atividade:          t.Activity,
		Epico:              optional(t.Epic),
		UserStory:          optional(t.UserStory),
		Sprint:             optional(t.Sprint),
		Desenvolvedor:      optional(t.Developer),
		Prioridade:         t.Priority,
		Status:             t.Status,
		Estimativa:         t.EstimateHours,
		Reestimativas:      string(re),
		TempoGasto:         t.TimeSpent,
		TaxaErro:           t.ErrorRate,
		TempoGastoValidado: t.TimeSpentValidated,
		MotivoErro:         optional(t.ErrorReason),
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}, nil
}

func fromRow(row repo.TaskRow) (domain.Task, error) {
	t := domain.Task{
		ID:                 row.ID,
		Activity:           row.Atividade,
		Epic:               deref(row.Epico),
		UserStory:          deref(row.UserStory),
		Sprint:             deref(row.Sprint),
		Developer:          deref(row.Desenvolvedor),
		Priority:           row.Prioridade,
		Status:             row.Status,
		EstimateHours:      row.Estimativa,
		TimeSpent:          row.TempoGasto,
		ErrorRate:          row.TaxaErro,
		TimeSpentValidated: row.TempoGastoValidado,
		ErrorReason:        deref(row.MotivoErro),
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
	if row.Reestimativas != "" {
		if err := json.Unmarshal([]byte(row.Reestimativas), &t.Reestimates); err != nil {
			return domain.Task{}, fmt.Errorf("decode reestimativas of %s: %w", row.ID, err)
		}
	}
	t.Normalize()
	return t, nil
}

func fromRows(rows []repo.TaskRow) ([]domain.Task, error) {
	out := make([]domain.Task, 0, len(rows))
	for _, row := range rows {
		t, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
