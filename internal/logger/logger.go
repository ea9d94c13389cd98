// Package logger is the process-wide console logger. Events go
// through zerolog but keep the compact TAG-first shape the rest of
// the code prints with.
package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// stdout resolves os.Stdout at write time so redirects (tests, exec
// wrappers) see our output.
type stdout struct{}

func (stdout) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

var log = zerolog.New(zerolog.ConsoleWriter{
	Out:        stdout{},
	TimeFormat: "15:04:05",
}).With().Timestamp().Logger()

// SetLevel adjusts global verbosity ("debug", "info", "warn",
// "error"). Empty or unknown names keep the current level.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return
	}
	zerolog.SetGlobalLevel(lvl)
}

// Info logs a routine event under a short component tag.
func Info(tag, msg string) {
	log.Info().Str("tag", tag).Msg(msg)
}

// Success logs a completed step. Rendered like Info with an ok
// marker so the two are distinguishable in scrollback.
func Success(tag, msg string) {
	log.Info().Str("tag", tag).Bool("ok", true).Msg(msg)
}

// Warn logs a recoverable problem.
func Warn(tag, msg string) {
	log.Warn().Str("tag", tag).Msg(msg)
}

// Error logs a failure.
func Error(tag, msg string) {
	log.Error().Str("tag", tag).Msg(msg)
}

// Debug logs detail that is hidden unless SetLevel("debug") ran.
func Debug(tag, msg string) {
	log.Debug().Str("tag", tag).Msg(msg)
}

// Banner prints the startup header.
func Banner(version string) {
	w := stdout{}
	line := strings.Repeat("=", 52)
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "  tradeup-scout %s\n", version)
	fmt.Fprintln(w, line)
}

// Section prints a titled divider for grouped startup output.
func Section(title string) {
	fmt.Fprintf(stdout{}, "\n-- %s --\n", title)
}

// Stats prints one aligned label/count line under a Section.
func Stats(label string, value int) {
	fmt.Fprintf(stdout{}, "   %-20s %d\n", label, value)
}

// Server announces the listening address.
func Server(addr string) {
	Success("HTTP", fmt.Sprintf("Listening on %s", addr))
}
