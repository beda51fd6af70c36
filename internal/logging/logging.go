// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Configure sets the global level and output format. format is "json" or
// "text"/"plain" for human-readable console output. Output goes to w, or
// stdout when w is nil. Messages written through the standard library log
// package are forwarded at debug level.
func Configure(level, format string, w io.Writer) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return fmt.Errorf("invalid log level %q", level)
	}
	if w == nil {
		w = os.Stdout
	}

	switch strings.ToLower(format) {
	case "", "json":
	case "text", "plain":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: format == "plain"}
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	zerolog.SetGlobalLevel(lvl)
	ctx := zerolog.New(w).With().Timestamp()
	if lvl <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	zerolog.DefaultContextLogger = &log.Logger

	stdlog.SetFlags(0)
	stdlog.SetOutput(stdWriter{})
	return nil
}

// stdWriter forwards standard library log output to zerolog.
type stdWriter struct{}

func (stdWriter) Write(p []byte) (int, error) {
	log.Debug().Str("component", "stdlog").Msg(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// Component returns a child of the global logger tagged with component.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
