package logger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain external id", input: "project-42", expected: "project-42"},
		{name: "http url", input: "https://cdn.example.com/v.mp4?sig=a&b=c", expected: "https://cdn.example.com/v.mp4?sig=a&b=c"},
		{name: "empty", input: "", expected: ""},
		{name: "newline", input: "line1\nline2", expected: `line1\nline2`},
		{name: "crlf", input: "a\r\nb", expected: `a\r\nb`},
		{name: "tab", input: "a\tb", expected: `a\tb`},
		{name: "null byte", input: "before\x00after", expected: `before\x00after`},
		{name: "ansi escape", input: "\x1b[31mred\x1b[0m", expected: `\x1b[31mred\x1b[0m`},
		{name: "bell", input: "a\x07b", expected: `a\x07b`},
		{name: "del", input: "a\x7fb", expected: `a\x7fb`},
		{name: "unicode kept", input: "vidéo 中文 👋", expected: "vidéo 中文 👋"},
		{
			name:     "forged log entry",
			input:    "download failed\nERROR: fake entry",
			expected: `download failed\nERROR: fake entry`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeForLog(tt.input))
		})
	}
}

func TestSanitizeForLog_AllControlChars(t *testing.T) {
	for i := 0; i < 32; i++ {
		out := SanitizeForLog(string(rune(i)))
		assert.NotEqual(t, string(rune(i)), out, "control char 0x%02x not escaped", i)
		assert.Equal(t, byte('\\'), out[0])
	}
	assert.Equal(t, fmt.Sprintf(`\x%02x`, 127), SanitizeForLog("\x7f"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
	assert.Equal(t, "日本...", Truncate("日本語", 2))
	assert.Equal(t, "abc", Truncate("abc", 0))
}

func BenchmarkSanitizeForLog(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = SanitizeForLog("https://cdn.example.com/v.mp4\nERROR: fake\x1b[31m")
	}
}
