// Package logging builds the shared structured logger used by every
// component, following the leveled-logrus pattern used elsewhere in the
// cross-chain tooling this relayer is modeled on.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a *logrus.Logger configured from a level name ("debug", "info",
// "warn", "error") and an output format ("json" or "text"). An unrecognized
// level falls back to info rather than failing startup over a cosmetic flag.
func New(level, format string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	if strings.ToLower(format) == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return log
}

// Component returns a child entry tagged with the component name, so every
// log line downstream carries which of C1-C6 emitted it.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
