package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger
type Logger struct {
	zerolog.Logger
}

// New creates a new logger instance
func New(serviceName string, environment string) *Logger {
	return NewWithWriter(serviceName, environment, os.Stdout)
}

// NewWithWriter creates a logger writing to out. Development output is
// rendered with the console writer; everything else is JSON.
func NewWithWriter(serviceName string, environment string, out io.Writer) *Logger {
	output := out

	if environment == "development" {
		output = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	level := zerolog.InfoLevel
	if environment == "development" || environment == "test" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()

	return &Logger{Logger: logger}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithRequestID returns a logger with the request ID attached
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.Logger.With().Str("request_id", requestID).Logger(),
	}
}

// WithActorID returns a logger with the acting user attached
func (l *Logger) WithActorID(actorID string) *Logger {
	return &Logger{
		Logger: l.Logger.With().Str("actor_id", actorID).Logger(),
	}
}

// WithMedicineID returns a logger scoped to one medicine
func (l *Logger) WithMedicineID(medicineID int64) *Logger {
	return &Logger{
		Logger: l.Logger.With().Int64("medicine_id", medicineID).Logger(),
	}
}

// WithCorrelationID returns a logger with the correlation ID attached
func (l *Logger) WithCorrelationID(correlationID string) *Logger {
	return &Logger{
		Logger: l.Logger.With().Str("correlation_id", correlationID).Logger(),
	}
}

// WithComponent returns a logger with the component name attached
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With().Str("component", component).Logger(),
	}
}
