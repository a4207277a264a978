package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"
)

// Logger wraps zap.Logger with helpers for table generation runs
type Logger struct {
	*zap.Logger
	config Config
}

// Config holds logger configuration
type Config struct {
	Level       string
	Format      string
	File        string
	MaxSize     int
	MaxBackups  int
	MaxAge      int
	Compress    bool
	Development bool

	// Output receives console log lines. Defaults to stderr so that table
	// and constants output on stdout stays clean.
	Output io.Writer
}

// New creates a new logger with the given configuration
func New(config Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoderConfig := getEncoderConfig(config.Development)

	var encoder zapcore.Encoder
	switch config.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "", "text", "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("invalid log format %q", config.Format)
	}

	writer, err := getWriter(config)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(writer), level)

	var logger *zap.Logger
	if config.Development {
		logger = zap.New(core, zap.Development(), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		logger = zap.New(core, zap.AddCaller())
	}

	return &Logger{
		Logger: logger,
		config: config,
	}, nil
}

func getEncoderConfig(development bool) zapcore.EncoderConfig {
	if development {
		return zap.NewDevelopmentEncoderConfig()
	}

	config := zap.NewProductionEncoderConfig()
	config.TimeKey = "timestamp"
	config.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncodeLevel = zapcore.CapitalLevelEncoder
	return config
}

// getWriter tees console output with an optional rotated log file
func getWriter(config Config) (zapcore.WriteSyncer, error) {
	console := config.Output
	if console == nil {
		console = os.Stderr
	}
	if config.File == "" {
		return zapcore.AddSync(console), nil
	}

	if err := os.MkdirAll(filepath.Dir(config.File), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	fileWriter := &lumberjack.Logger{
		Filename:   config.File,
		MaxSize:    config.MaxSize, // MB
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge, // days
		Compress:   config.Compress,
	}

	return zapcore.AddSync(io.MultiWriter(console, fileWriter)), nil
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	zapFields := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		zapFields = append(zapFields, zap.Any(key, value))
	}
	return l.with(zapFields...)
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.with(zap.String("component", component))
}

// WithError returns a logger with an error field
func (l *Logger) WithError(err error) *Logger {
	return l.with(zap.Error(err))
}

// WithKey returns a logger tagged with the frame size and code rate of key
func (l *Logger) WithKey(key dvbs2.Key) *Logger {
	return l.with(zap.Stringer("frame", key.Frame), zap.Stringer("rate", key.Rate))
}

// WithRun returns a logger tagged with a batch run id
func (l *Logger) WithRun(runID string) *Logger {
	return l.with(zap.String("run_id", runID))
}

func (l *Logger) with(fields ...zap.Field) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
		config: l.config,
	}
}

// Default creates a default logger for development
func Default() *Logger {
	config := Config{
		Level:       "info",
		Format:      "text",
		Development: true,
	}

	logger, err := New(config)
	if err != nil {
		zapLogger, _ := zap.NewDevelopment()
		return &Logger{Logger: zapLogger, config: config}
	}
	return logger
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// NewTestLogger returns a debug level JSON logger writing to w, for asserting
// on log output in tests
func NewTestLogger(w io.Writer) *Logger {
	config := zap.NewProductionEncoderConfig()
	config.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewJSONEncoder(config), zapcore.Lock(zapcore.AddSync(w)), zapcore.DebugLevel)
	return &Logger{
		Logger: zap.New(core),
		config: Config{Level: "debug", Format: "json", Output: w},
	}
}

// Convenience methods for common field types
func String(key, value string) zap.Field {
	return zap.String(key, value)
}

func Int(key string, value int) zap.Field {
	return zap.Int(key, value)
}

func Int64(key string, value int64) zap.Field {
	return zap.Int64(key, value)
}

func Uint32(key string, value uint32) zap.Field {
	return zap.Uint32(key, value)
}

func Bool(key string, value bool) zap.Field {
	return zap.Bool(key, value)
}

func Float64(key string, value float64) zap.Field {
	return zap.Float64(key, value)
}

func Stringer(key string, value fmt.Stringer) zap.Field {
	return zap.Stringer(key, value)
}

func Duration(key string, value time.Duration) zap.Field {
	return zap.Duration(key, value)
}

func Any(key string, value interface{}) zap.Field {
	return zap.Any(key, value)
}

func Error(err error) zap.Field {
	return zap.Error(err)
}
