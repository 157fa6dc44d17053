/*
Package logging provides the structured logger every component of the
offline core writes through.

Grounded on cuemby-warren/pkg/log (zerolog-backed, component-tagged
child loggers) and on the bracketed log lines in api/scheduler.go
("[Scheduler] ...") from the resource-accounting engine this core grew
from. The mechanism is upgraded from that bare log.Printf to zerolog
because this process runs
unattended on a terminal with no console to read — every line needs
to be filterable and, in production, shippable as JSON — but the
spirit (one line per state transition, terse, no stack traces for
routine events) is unchanged.
*/
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Base is the process-wide logger. Init configures it; components
// call With to get a tagged child logger for their own use.
var Base zerolog.Logger

// Config controls the base logger's level and output shape.
type Config struct {
	Level  string // debug, info, warn, error
	JSON   bool
	Output io.Writer
}

// Init sets up the base logger. Call once at process startup.
func Init(cfg Config) {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	if cfg.JSON {
		Base = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	Base = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// With returns a child logger tagged with the calling component, e.g.
// logging.With("sync"), logging.With("queue"), logging.With("network").
func With(component string) zerolog.Logger {
	return Base.With().Str("component", component).Logger()
}

func init() {
	// Sane default so packages that log before main calls Init (tests,
	// library callers embedding the core) don't panic on a zero Logger.
	Init(Config{Level: "info"})
}
