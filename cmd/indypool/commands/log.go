package commands

import (
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// newLogger returns a logger writing to stderr and, if path is set, to path
// as well.
func newLogger(path string) *logrus.Logger {
	logger := logrus.New()
	logger.Formatter = new(prefixed.TextFormatter)

	if path == "" {
		return logger
	}

	logger.Hooks.Add(lfshook.NewHook(
		lfshook.PathMap{
			logrus.DebugLevel: path,
			logrus.InfoLevel:  path,
			logrus.WarnLevel:  path,
			logrus.ErrorLevel: path,
			logrus.FatalLevel: path,
			logrus.PanicLevel: path,
		},
		&logrus.JSONFormatter{},
	))

	return logger
}
