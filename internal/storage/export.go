package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"sprintboard/internal/domain"
)

// LocalCSVHeader names export columns canonically; the remote backend
// writes the same columns under their wire names.
var LocalCSVHeader = []string{"id", "atividade", "status", "desenvolvedor", "estimativa", "tempoGasto"}

// EncodeCSV joins fields with bare commas. Embedded commas are not escaped;
// consumers of this format split on every comma.
func EncodeCSV(header []string, tasks []domain.Task) []byte {
	var b strings.Builder
	b.WriteString(strings.Join(header, ","))
	b.WriteByte('\n')
	for _, t := range tasks {
		spent := ""
		if t.TimeSpent != nil {
			spent = formatNumber(*t.TimeSpent)
		}
		row := []string{t.ID, t.Activity, t.Status, t.Developer, formatNumber(t.EstimateHours), spent}
		b.WriteString(strings.Join(row, ","))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func EncodeJSON(doc ExportDocument) ([]byte, error) {
	if doc.Tasks == nil {
		doc.Tasks = []domain.Task{}
	}
	if doc.Version == "" {
		doc.Version = ExportVersion
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	return data, nil
}

// DecodeJSON accepts an export document or a bare task array.
func DecodeJSON(data []byte) (ExportDocument, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var tasks []domain.Task
		if err := json.Unmarshal(data, &tasks); err != nil {
			return ExportDocument{}, &domain.ValidationError{Field: "tasks", Reason: err.Error()}
		}
		return ExportDocument{Tasks: tasks}, nil
	}
	var doc ExportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return ExportDocument{}, &domain.ValidationError{Field: "data", Reason: err.Error()}
	}
	return doc, nil
}

// ParseFormat defaults to JSON.
func ParseFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	}
	return "", &domain.ValidationError{Field: "format", Reason: "must be json or csv"}
}
