// README: Process-wide logrus configuration.
package infra

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// SetupLogging configures the standard logrus logger. Unknown levels fall back to info.
func SetupLogging(level, format string) {
	if format == "text" {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}
	log.SetOutput(os.Stdout)

	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unknown log level, using info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
