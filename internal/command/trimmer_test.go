package command

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTailBytes(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		maxBytes int
		want     string
	}{
		{"empty", "", 10, ""},
		{"under budget", "short", 10, "short"},
		{"exact budget", "0123456789", 10, "0123456789"},
		{"keeps tail", "0123456789abc", 10, "3456789abc"},
		{"zero disables", "anything", 0, "anything"},
		{"negative disables", "anything", -1, "anything"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TailBytes(tt.output, tt.maxBytes))
		})
	}
}

func TestTailBytes_NeverExceedsBudget(t *testing.T) {
	output := strings.Repeat("x", DefaultMaxOutputBytes*3) + "Error: boom"

	got := TailBytes(output, DefaultMaxOutputBytes)

	assert.Len(t, got, DefaultMaxOutputBytes)
	assert.True(t, strings.HasSuffix(got, "Error: boom"))
}

func TestTailBytes_RuneBoundary(t *testing.T) {
	// "é" is two bytes; a 3-byte tail would start mid-rune.
	output := "aéé"

	got := TailBytes(output, 3)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "é", got)
}

func TestDefaultMaxOutputBytes(t *testing.T) {
	assert.Equal(t, 4000, DefaultMaxOutputBytes)
}
