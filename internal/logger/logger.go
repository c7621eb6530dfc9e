package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Config holds logger construction options.
type Config struct {
	Level   string // debug, info, warn, error
	Format  string // json, text
	Output  io.Writer
	Service string
}

// New builds a structured logrus entry tagged with the service name.
// JSON output is the default so log pipelines can index fields directly.
func New(cfg Config) *logrus.Entry {
	log := logrus.New()

	if cfg.Output != nil {
		log.SetOutput(cfg.Output)
	} else {
		log.SetOutput(os.Stdout)
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.Service == "" {
		cfg.Service = "synthpipe"
	}
	return log.WithField("service", cfg.Service)
}
