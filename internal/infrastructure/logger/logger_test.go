package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetOutput(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	tests := []struct {
		level string
		want  []string
		skip  []string
	}{
		{level: "debug", want: []string{"DEBUG: d", "INFO: i", "WARN: w", "ERROR: e"}},
		{level: "info", want: []string{"INFO: i", "WARN: w", "ERROR: e"}, skip: []string{"DEBUG"}},
		{level: "WARN", want: []string{"WARN: w", "ERROR: e"}, skip: []string{"DEBUG", "INFO"}},
		{level: "error", want: []string{"ERROR: e"}, skip: []string{"DEBUG", "INFO", "WARN"}},
		{level: "bogus", want: []string{"INFO: i"}, skip: []string{"DEBUG"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			SetOutput(&buf, tt.level)

			Debug.Print("d")
			Info.Print("i")
			Warn.Print("w")
			Error.Print("e")

			for _, s := range tt.want {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.skip {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestSetLevel_KeepsLoggerIdentity(t *testing.T) {
	before := Debug
	SetLevel("debug")
	t.Cleanup(func() { SetOutput(os.Stdout, "info") })
	assert.Same(t, before, Debug)
}
