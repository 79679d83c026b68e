package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	cases := []struct {
		name     string
		args     []string
		wantMode string
		wantRest []string
		wantErr  bool
	}{
		{"flag form", []string{"--mode=tracker-service"}, ModeTracker, nil, false},
		{"subcommand form", []string{"tracker-service", "--max-concurrent=100"}, ModeTracker, []string{"--max-concurrent=100"}, false},
		{"short alias", []string{"t"}, ModeTracker, nil, false},
		{"word alias", []string{"tracker"}, ModeTracker, nil, false},
		{"no mode", []string{"--max-concurrent=100"}, "", []string{"--max-concurrent=100"}, true},
		{"unknown mode value", []string{"--mode=mystery"}, "mystery", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mode, rest, err := ParseMode(tc.args)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantMode, mode)
			assert.Equal(t, tc.wantRest, rest)
		})
	}
}

func TestParseModeKeepsFlagsAfterMode(t *testing.T) {
	mode, rest, err := ParseMode([]string{"--mode=tracker-service", "--max-concurrent=42", "-v"})
	require.NoError(t, err)
	assert.Equal(t, ModeTracker, mode)
	assert.Equal(t, []string{"--max-concurrent=42", "-v"}, rest)
}
