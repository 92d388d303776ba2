package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRoomCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := GenerateRoomCode()
		require.NoError(t, err)
		assert.True(t, ValidRoomCode(code), code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45)
}

func TestRoomCodeNormalization(t *testing.T) {
	assert.Equal(t, "ABCD1234", NormalizeRoomCode("  abcd1234 "))
	assert.True(t, ValidRoomCode("ABCD1234"))
	assert.False(t, ValidRoomCode("abcd1234"))
	assert.False(t, ValidRoomCode("ABC"))
	assert.False(t, ValidRoomCode("ABCD-234"))
}

func TestRoomInputValidate(t *testing.T) {
	assert.NoError(t, RoomInput{Name: "Team"}.Validate())
	assert.NoError(t, RoomInput{Name: "Team", RoomCode: "team2024"}.Validate())
	assert.ErrorIs(t, RoomInput{}.Validate(), ErrValidation)
	assert.ErrorIs(t, RoomInput{Name: "Team", RoomCode: "short"}.Validate(), ErrValidation)
}
