package logging

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Verbosity follows syslog priorities: 0 (emerg) .. 7 (debug).
const (
	MinVerbosity     = 0
	MaxVerbosity     = 7
	DefaultVerbosity = MaxVerbosity
)

var logger *logrus.Logger
var schedulerLogger *logrus.Logger

func init() {
	logger = logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: false,
	})
	logger.SetLevel(logrus.InfoLevel)

	schedulerLogger = logrus.New()
	schedulerLogger.SetOutput(os.Stdout)
	schedulerLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: false,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "time",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "balancer_msg",
		},
	})
	schedulerLogger.SetLevel(logrus.InfoLevel)
}

// GetLogger returns the process logger used by transport, config and CLI code.
func GetLogger() *logrus.Logger {
	return logger
}

// GetSchedulerLogger returns the logger used for balancing decisions.
func GetSchedulerLogger() *logrus.Logger {
	return schedulerLogger
}

// LevelForVerbosity maps a syslog priority to the closest logrus level.
func LevelForVerbosity(verbosity int) (logrus.Level, error) {
	switch {
	case verbosity < MinVerbosity || verbosity > MaxVerbosity:
		return logrus.DebugLevel, fmt.Errorf("verbosity %d outside [%d,%d]", verbosity, MinVerbosity, MaxVerbosity)
	case verbosity <= 3:
		return logrus.ErrorLevel, nil
	case verbosity == 4:
		return logrus.WarnLevel, nil
	case verbosity <= 6:
		return logrus.InfoLevel, nil
	default:
		return logrus.DebugLevel, nil
	}
}

// SetVerbosity applies a syslog priority to both loggers.
func SetVerbosity(verbosity int) error {
	level, err := LevelForVerbosity(verbosity)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	schedulerLogger.SetLevel(level)
	return nil
}

// SetFormat switches both loggers between "text" and "json" output.
func SetFormat(format string) error {
	switch format {
	case "", "text":
		return nil
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
		schedulerLogger.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{logrus.FieldKeyMsg: "balancer_msg"},
		})
		return nil
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
}
