package helper

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger configures the global zerolog logger. Console output is the
// default; LOG_FORMAT=json switches to plain JSON lines.
func SetupLogger(debug bool) {
	SetupLoggerTo(os.Stdout, debug, strings.EqualFold(os.Getenv("LOG_FORMAT"), "json"))
}

func SetupLoggerTo(w io.Writer, debug, jsonOutput bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if !jsonOutput {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Caller().Logger()
}
