package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateMeetingCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := GenerateMeetingCode()
		require.NoError(t, err)
		assert.True(t, ValidMeetingCode(code), "generated code %q must match the public format", code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 95, "codes should be effectively unique")
}

func TestValidMeetingCode(t *testing.T) {
	valid := []string{"ABC-DEF-GHI", "A1B-2C3-D4E", "000-000-000"}
	for _, code := range valid {
		assert.True(t, ValidMeetingCode(code), code)
	}

	invalid := []string{
		"",
		"abc-def-ghi",
		"ABC-DEF-GH",
		"ABCDEFGHI",
		"ABC-DEF-GHIJ",
		"AB!-DEF-GHI",
		" ABC-DEF-GHI",
	}
	for _, code := range invalid {
		assert.False(t, ValidMeetingCode(code), code)
	}
}
