// Package log configures the global zerolog logger and reports progress of
// long-running passes.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Format selects the log encoding
type Format string

const (
	FormatAuto    Format = "auto"
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Options configures the global logger
type Options struct {
	Level  string    `yaml:"level"`  // Default: info
	Format Format    `yaml:"format"` // Default: auto
	Output io.Writer `yaml:"-"`
}

// IsTerminal reports whether stderr is attached to a terminal
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// Setup installs the global zerolog logger. Auto format uses the console
// writer on a terminal and JSON otherwise.
func Setup(opts Options) error {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	format := opts.Format
	if format == "" || format == FormatAuto {
		format = FormatJSON
		if opts.Output == nil && IsTerminal() {
			format = FormatConsole
		}
	}

	switch format {
	case FormatConsole:
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	case FormatJSON:
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}
