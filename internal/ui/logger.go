// Package ui holds terminal styling and logger setup shared by ragd's
// commands.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// InitLogger configures the package-level logger: stderr, info level.
func InitLogger() {
	log.SetOutput(os.Stderr)
	log.SetLevel(log.InfoLevel)
	log.SetReportCaller(false)
	log.SetReportTimestamp(false)
}

// SetDebug switches between debug and info level.
func SetDebug(enabled bool) {
	if enabled {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// UseServerLogging adds timestamps for long-running processes.
func UseServerLogging() {
	log.SetReportTimestamp(true)
}

// Silence discards log output while a full-screen program owns the
// terminal. The returned func restores stderr.
func Silence() (restore func()) {
	log.SetOutput(io.Discard)
	return func() { log.SetOutput(os.Stderr) }
}
