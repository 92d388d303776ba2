package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprintboard/internal/domain"
)

func TestEncodeCSVIsUnquoted(t *testing.T) {
	spent := 2.5
	tasks := []domain.Task{
		{ID: "1", Activity: "Login, signup", Status: domain.StatusDone, Developer: "Ana", EstimateHours: 3, TimeSpent: &spent},
		{ID: "2", Activity: "Docs", Status: domain.StatusBacklog, EstimateHours: 0},
	}
	got := string(EncodeCSV(LocalCSVHeader, tasks))
	want := "id,atividade,status,desenvolvedor,estimativa,tempoGasto\n" +
		"1,Login, signup,Done,Ana,3,2.5\n" +
		"2,Docs,Backlog,,0,\n"
	assert.Equal(t, want, got)
}

func TestJSONExportRoundTrip(t *testing.T) {
	doc := ExportDocument{
		Tasks:      []domain.Task{{ID: "1", Activity: "x", Status: domain.StatusBacklog, Priority: domain.PriorityMedium}},
		Config:     map[string]json.RawMessage{"theme": json.RawMessage(`"dark"`)},
		ExportedAt: "2024-01-01T00:00:00.000000Z",
	}
	data, err := EncodeJSON(doc)
	require.NoError(t, err)
	back, err := DecodeJSON(data)
	require.NoError(t, err)
	assert.Equal(t, ExportVersion, back.Version)
	assert.Equal(t, doc.Tasks[0].ID, back.Tasks[0].ID)
	assert.JSONEq(t, `"dark"`, string(back.Config["theme"]))
}

func TestDecodeJSONAcceptsBareArray(t *testing.T) {
	doc, err := DecodeJSON([]byte(` [{"id":"a","atividade":"x"}]`))
	require.NoError(t, err)
	require.Len(t, doc.Tasks, 1)
	assert.Equal(t, "a", doc.Tasks[0].ID)

	_, err = DecodeJSON([]byte(`{nope`))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)
	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
	_, err = ParseFormat("xml")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRoomNotFoundIsNotFound(t *testing.T) {
	assert.ErrorIs(t, ErrRoomNotFound, ErrNotFound)
	assert.ErrorIs(t, TaskNotFound("x"), ErrNotFound)
	assert.ErrorIs(t, Connection(assert.AnError), ErrConnection)
}
