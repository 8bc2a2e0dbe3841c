// Package obs builds the ambient logging stack shared by every component:
// a single *logrus.Logger at the configured level (which falls back to
// LOG_LEVEL). Components log through *logrus.Entry values derived from it;
// no server id field is bound to them.
package obs

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds a JSON-formatted logger at the given level name
// ("debug", "info", "warn", "error"; defaults to "info" on empty or
// unrecognized input).
func NewLogger(level string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetOutput(os.Stderr)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)
	return l
}
