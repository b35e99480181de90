package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokenbridge/federator/federator/config"
)

// New creates a zerolog logger writing to stdout.
// logFormat "json" emits structured lines; anything else uses the console writer.
func New(logLevel int, logFormat string, logSampler bool) zerolog.Logger {
	return newWithWriter(os.Stdout, logLevel, logFormat, logSampler)
}

// Init builds the process logger from the loaded configuration.
func Init(cfg config.Config) zerolog.Logger {
	return New(cfg.LogLevel, cfg.LogFormat, cfg.LogSampler).
		With().
		Str("service", "federator").
		Logger()
}

func newWithWriter(out io.Writer, logLevel int, logFormat string, logSampler bool) zerolog.Logger {
	writer := out
	if logFormat != "json" {
		writer = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(writer).
		Level(zerolog.Level(logLevel)).
		With().
		Timestamp().
		Logger()

	if logSampler {
		logger = logger.Sample(&zerolog.BasicSampler{N: 5})
	}
	return logger
}
