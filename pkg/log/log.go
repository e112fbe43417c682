package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, configured once by Init.
var Logger zerolog.Logger

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent derives a root child logger scoped to component, from
// the global Logger. cmd/noded calls this for its own logger and for
// the logger it hands the agent; the reaper takes no logger.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithSlaveID extends logger with the slave id the master assigned
// this agent.
func WithSlaveID(logger zerolog.Logger, slaveID string) zerolog.Logger {
	return logger.With().Str("slave_id", slaveID).Logger()
}

// WithFrameworkID extends logger with a framework id.
func WithFrameworkID(logger zerolog.Logger, frameworkID string) zerolog.Logger {
	return logger.With().Str("framework_id", frameworkID).Logger()
}

// WithExecutorID extends logger with an executor id.
func WithExecutorID(logger zerolog.Logger, executorID string) zerolog.Logger {
	return logger.With().Str("executor_id", executorID).Logger()
}

// WithTaskID extends logger with a task id.
func WithTaskID(logger zerolog.Logger, taskID string) zerolog.Logger {
	return logger.With().Str("task_id", taskID).Logger()
}
