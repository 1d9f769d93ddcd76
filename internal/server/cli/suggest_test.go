package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClosest(t *testing.T) {
	got, found := closest("srever", commandNames())
	assert.True(t, found)
	assert.Equal(t, "server", got)

	got, found = closest("SESIONS", commandNames())
	assert.True(t, found)
	assert.Equal(t, "sessions", got)

	_, found = closest("qqqq", commandNames())
	assert.False(t, found)
}

func TestRephrase(t *testing.T) {
	tests := []struct {
		in    []string
		want  []string
		found bool
	}{
		{in: []string{"srever", "lsit"}, want: []string{"server", "list"}, found: true},
		{in: []string{"server", "strat", "my", "box"}, want: []string{"server", "start", "my", "box"}, found: true},
		{in: []string{"sessions", "lst"}, want: []string{"sessions", "list"}, found: true},
		{in: []string{"server", "list"}, found: false},
		{in: []string{"server", "zzzzzz"}, found: false},
		{in: []string{"nonsense"}, found: false},
		{in: nil, found: false},
	}
	for _, tt := range tests {
		got, found := rephrase(tt.in)
		assert.Equal(t, tt.found, found, "%v", tt.in)
		if tt.found {
			assert.Equal(t, tt.want, got)
		}
	}
}
