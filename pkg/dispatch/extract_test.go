package dispatch

import (
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "bare object",
			input:    `  {"summary": "done"}  `,
			expected: `{"summary": "done"}`,
		},
		{
			name:     "fenced block",
			input:    "Here is the result:\n```json\n{\"passed\": true}\n```\nThanks.",
			expected: `{"passed": true}`,
		},
		{
			name:     "unlabelled fence",
			input:    "```\n{\"a\": 1}\n```",
			expected: `{"a": 1}`,
		},
		{
			name:     "embedded object with braces in strings",
			input:    `Result: {"text": "use {curly} braces", "n": {"x": 1}} trailing`,
			expected: `{"text": "use {curly} braces", "n": {"x": 1}}`,
		},
		{
			name:     "skips invalid candidate",
			input:    `{not json} then {"ok": true}`,
			expected: `{"ok": true}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON([]byte(tt.input))
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(got))
		})
	}
}

func TestExtractJSON_NoObject(t *testing.T) {
	for _, input := range []string{"", "no json here", `["array"]`, `{"unterminated": `} {
		_, err := ExtractJSON([]byte(input))
		assert.ErrorIs(t, err, ErrNoJSON, input)
	}
}

func TestRepairText(t *testing.T) {
	t.Run("utf8 bom", func(t *testing.T) {
		raw := append([]byte{0xef, 0xbb, 0xbf}, []byte(`{"a":1}`)...)
		assert.Equal(t, `{"a":1}`, RepairText(raw))
	})

	t.Run("utf16 little endian", func(t *testing.T) {
		raw := []byte{0xff, 0xfe}
		for _, u := range utf16.Encode([]rune(`{"é":1}`)) {
			raw = append(raw, byte(u), byte(u>>8))
		}
		assert.Equal(t, `{"é":1}`, RepairText(raw))
	})

	t.Run("utf16 big endian", func(t *testing.T) {
		raw := []byte{0xfe, 0xff}
		for _, u := range utf16.Encode([]rune(`ok`)) {
			raw = append(raw, byte(u>>8), byte(u))
		}
		assert.Equal(t, "ok", RepairText(raw))
	})

	t.Run("mojibake", func(t *testing.T) {
		assert.Equal(t, "a - b ... c - d", RepairText([]byte("a ÔÇö b ÔÇª c â€“ d")))
	})

	t.Run("invalid utf8", func(t *testing.T) {
		assert.Equal(t, "a�b", RepairText([]byte{'a', 0xff, 'b'}))
	})
}
