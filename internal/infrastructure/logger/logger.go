package logger

import (
	"io"
	"log"
	"os"
	"strings"
)

var (
	Info  *log.Logger
	Error *log.Logger
	Debug *log.Logger
	Warn  *log.Logger
)

func init() {
	logFlags := log.Ldate | log.Ltime | log.LUTC | log.Lshortfile

	Info = log.New(os.Stdout, "INFO: ", logFlags)
	Error = log.New(os.Stdout, "ERROR: ", logFlags)
	Debug = log.New(io.Discard, "DEBUG: ", logFlags)
	Warn = log.New(os.Stdout, "WARN: ", logFlags)
}

// SetLevel silences every logger below level. The loggers are redirected
// rather than replaced so packages holding a reference keep working.
// Unknown levels fall back to info.
func SetLevel(level string) {
	SetOutput(os.Stdout, level)
}

// SetOutput points the enabled loggers at w.
func SetOutput(w io.Writer, level string) {
	rank := map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}
	min, ok := rank[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		min = 1
	}

	for i, l := range []*log.Logger{Debug, Info, Warn, Error} {
		if i >= min {
			l.SetOutput(w)
		} else {
			l.SetOutput(io.Discard)
		}
	}
}
