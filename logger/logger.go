// Package logger provides the structured logging interface used by sessions
// and servers, backed by zerolog. Logging is purely diagnostic: it can be
// switched off entirely and carries an optional prefix on every entry.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Field represents a key-value pair for structured log output.
type Field struct {
	Key   string
	Value any
}

// Logger is an interface for structured logging. Loggers may be derived with
// With for session-scoped or server-scoped fields.
type Logger interface {
	// Debug logs a message at debug level with optional structured fields.
	Debug(msg string, fields ...Field)

	// Info logs a message at info level with optional structured fields.
	Info(msg string, fields ...Field)

	// Warn logs a message at warn level with optional structured fields.
	Warn(msg string, fields ...Field)

	// Error logs a message at error level with optional structured fields.
	Error(msg string, fields ...Field)

	// With returns a new Logger that includes the given fields in all
	// subsequent log entries. The original Logger is unchanged.
	//
	// Parameters:
	//   - fields: Key-value pairs to attach to the derived logger
	//
	// Returns:
	//   - A new Logger with the specified fields
	With(fields ...Field) Logger

	// Close releases resources held by the logger (e.g. file handles).
	// It is safe to call multiple times.
	Close() error
}

// Config selects how log entries are produced.
type Config struct {
	// Enabled switches logging on. When false New returns a logger that
	// discards everything.
	Enabled bool
	// Prefix is attached as the "prefix" field of every entry when non-empty.
	Prefix string
	// Service is attached as the "service" field and names log files.
	Service string
	// Level is the minimum level written: debug, info, warn or error.
	Level string
	// Dir, when non-empty, adds daily-rotated files in Dir next to stdout.
	Dir string
}

// DefaultConfig returns a Config with logging disabled, the ">>>" prefix and
// info level.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Prefix:  ">>>",
		Service: "tcpsession",
		Level:   "info",
	}
}

// New builds a Logger from cfg.
//
// Parameters:
//   - cfg: Logging switches (see Config)
//
// Returns:
//   - The Logger, or an error if Level is unknown or Dir cannot be prepared
func New(cfg Config) (Logger, error) {
	if !cfg.Enabled {
		return NewNopLogger(), nil
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	if cfg.Dir == "" {
		return NewZerologLogger(zerolog.New(os.Stdout), cfg.Service, cfg.Prefix, level), nil
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	fileWriter, err := NewDailyFileWriter(cfg.Service, cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create file writer: %w", err)
	}

	l := &zerologLogger{
		logger:         withPrefix(zerolog.New(io.MultiWriter(os.Stdout, fileWriter)), cfg.Service, cfg.Prefix).Level(level),
		fileWriter:     fileWriter,
		ownsFileWriter: true,
	}

	return l, nil
}

// NewZerologLogger builds a Logger that wraps the given zerolog.Logger,
// adding service name, prefix and timestamp to all entries.
//
// Parameters:
//   - l: The zerolog.Logger to wrap
//   - serviceName: Name of the service, added as a field to every log entry
//   - prefix: Prefix added as a field to every entry; empty means none
//   - level: Minimum level to log (e.g. zerolog.InfoLevel)
//
// Returns:
//   - A Logger that writes through the given zerolog instance
func NewZerologLogger(l zerolog.Logger, serviceName string, prefix string, level zerolog.Level) Logger {
	return &zerologLogger{
		logger: withPrefix(l, serviceName, prefix).Level(level),
	}
}

// NewNopLogger returns a Logger that discards every entry.
func NewNopLogger() Logger {
	return &zerologLogger{logger: zerolog.Nop()}
}

// ParseLevel maps a level name to a zerolog.Level. An empty name is info.
//
// Parameters:
//   - name: One of debug, info, warn, error (case-insensitive)
//
// Returns:
//   - The zerolog level, or an error for unknown names
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

func withPrefix(l zerolog.Logger, serviceName string, prefix string) zerolog.Logger {
	ctx := l.With().Timestamp()
	if serviceName != "" {
		ctx = ctx.Str("service", serviceName)
	}

	if prefix != "" {
		ctx = ctx.Str("prefix", prefix)
	}

	return ctx.Logger()
}

type zerologLogger struct {
	logger         zerolog.Logger
	fileWriter     *DailyFileWriter
	ownsFileWriter bool
}

// Debug implements Logger.
func (z *zerologLogger) Debug(msg string, fields ...Field) {
	z.logger.Debug().Fields(toMap(fields)).Msg(msg)
}

// Info implements Logger.
func (z *zerologLogger) Info(msg string, fields ...Field) {
	z.logger.Info().Fields(toMap(fields)).Msg(msg)
}

// Warn implements Logger.
func (z *zerologLogger) Warn(msg string, fields ...Field) {
	z.logger.Warn().Fields(toMap(fields)).Msg(msg)
}

// Error implements Logger.
func (z *zerologLogger) Error(msg string, fields ...Field) {
	z.logger.Error().Fields(toMap(fields)).Msg(msg)
}

// With implements Logger.
func (z *zerologLogger) With(fields ...Field) Logger {
	return &zerologLogger{
		logger:     z.logger.With().Fields(toMap(fields)).Logger(),
		fileWriter: z.fileWriter,
	}
}

// Close implements Logger.
func (z *zerologLogger) Close() error {
	if z.fileWriter != nil && z.ownsFileWriter {
		return z.fileWriter.Close()
	}

	return nil
}

func toMap(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}

	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}

	return m
}
