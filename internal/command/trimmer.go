package command

import (
	"unicode/utf8"
)

// DefaultMaxOutputBytes is the tail budget applied to captured stdout and
// stderr.
const DefaultMaxOutputBytes = 4000

// TailBytes returns at most the last maxBytes bytes of output. Error
// messages typically appear at the end, so the head is what gets dropped.
// The cut is moved forward to the next rune boundary, so the result may be
// slightly shorter than maxBytes but never splits a UTF-8 sequence.
// A maxBytes of 0 or less disables truncation.
func TailBytes(output string, maxBytes int) string {
	if maxBytes <= 0 || len(output) <= maxBytes {
		return output
	}

	start := len(output) - maxBytes
	for start < len(output) && !utf8.RuneStart(output[start]) {
		start++
	}

	return output[start:]
}
