package debugger

import (
	"github.com/sirupsen/logrus"
)

func newLogger(level logrus.Level) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(level)
	return logger.WithFields(logrus.Fields{"layer": "debugger"})
}
