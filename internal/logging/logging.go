// Package logging wires the process-wide logrus logger (JSON formatter) at
// the level named in configuration. The per-request entries themselves are
// written by the eas router.
package logging

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Setup configures the standard logrus logger for the given level string
// (DEBUG, INFO, WARN, ERROR — case-insensitive). Unrecognized values fall
// back to INFO rather than failing startup.
func Setup(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

// Debug reports whether per-request WBXML hex dumps should be emitted; the
// eas router logs request and response bodies as hex when it is true.
func Debug() bool {
	return logrus.GetLevel() >= logrus.DebugLevel
}
