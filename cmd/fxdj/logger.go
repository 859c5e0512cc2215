package main

import (
	"io"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/efebarandurmaz/fxdj/internal/config"
)

func newLogger(out io.Writer) *logrus.Logger {
	return &logrus.Logger{
		Out:       out,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}
}

// setupLogger applies the log settings of cfg. verbose wins over log.level.
func setupLogger(logger *logrus.Logger, cfg *config.Config) {
	if lvl, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(lvl)
	}
	if cfg.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	switch cfg.Log.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		tty := false
		if f, ok := logger.Out.(interface{ Fd() uintptr }); ok {
			tty = isatty.IsTerminal(f.Fd())
		}
		logger.SetFormatter(&logrus.TextFormatter{ForceColors: tty, DisableColors: !tty})
	}
}
