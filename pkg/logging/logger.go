package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

type contextKey string

const (
	ContextKeyCorrelationID     = contextKey("correlation_id")
	ContextKeyRequestID         = contextKey("request_id")
	ContextKeyUserID            = contextKey("user_id")
	ContextKeyOperationDuration = contextKey("operation_duration")
)

// ServiceLogger wraps slog.Logger with the handler chain and domain helpers
// used throughout the job-processing service.
type ServiceLogger struct {
	*slog.Logger
	config      *Config
	mu          sync.RWMutex
	serviceName string
	environment string
	levelVar    *slog.LevelVar
}

type Config struct {
	Level          slog.Level
	OutputFormat   string // "json" or "text"
	AddSource      bool
	EnableSampling bool
	SampleRate     float64
	MaxMessageSize int
	EnableMetrics  bool
	Output         io.Writer // for testing, defaults to os.Stdout
}

func DefaultConfig() *Config {
	return &Config{
		Level:        slog.LevelInfo,
		OutputFormat: "json",
		AddSource:    false,
		EnableMetrics: true,
		SampleRate:   1.0,
		Output:       os.Stdout,
	}
}

func New(serviceName string, cfg *Config) (*ServiceLogger, error) {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:     levelVar,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.OutputFormat == "json" {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	handler = NewContextualHandler(handler)

	if cfg.EnableSampling && cfg.SampleRate < 1.0 {
		handler = NewSamplingHandler(handler, cfg.SampleRate)
	}

	if cfg.EnableMetrics {
		handler = NewMetricsHandler(handler, serviceName)
	}

	environment := os.Getenv("ENV")
	if environment == "" {
		environment = "production"
	}

	logger := slog.New(handler).With(
		slog.String("service", serviceName),
		slog.String("environment", environment),
		slog.Int("pid", os.Getpid()),
	)

	return &ServiceLogger{
		Logger:      logger,
		config:      cfg,
		serviceName: serviceName,
		environment: environment,
		levelVar:    levelVar,
	}, nil
}

// SetLevel dynamically changes the log level.
func (l *ServiceLogger) SetLevel(level slog.Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levelVar.Set(level)
	l.config.Level = level
}

func (l *ServiceLogger) GetLevel() slog.Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.Level
}

// Operation-specific loggers.

func (l *ServiceLogger) ForUpload(filename string) *slog.Logger {
	return l.With(
		slog.String("operation", "upload"),
		slog.String("filename", filename),
	)
}

func (l *ServiceLogger) ForJob(jobID string) *slog.Logger {
	return l.With(
		slog.String("component", "worker"),
		slog.String("job_id", jobID),
	)
}

func (l *ServiceLogger) ForSweeper() *slog.Logger {
	return l.With(slog.String("component", "sweeper"))
}

func (l *ServiceLogger) ForArchive(jobID string) *slog.Logger {
	return l.With(
		slog.String("component", "archive"),
		slog.String("job_id", jobID),
		slog.Bool("non_blocking", true),
	)
}

func (l *ServiceLogger) ForEventHub() *slog.Logger {
	return l.With(slog.String("component", "event_hub"))
}

func (l *ServiceLogger) WithOperation(operation string) *slog.Logger {
	return l.With(slog.String("operation", operation))
}

// LogRequest logs HTTP request details.
func (l *ServiceLogger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	level := slog.LevelInfo
	if statusCode >= 500 {
		level = slog.LevelError
	} else if statusCode >= 400 {
		level = slog.LevelWarn
	}

	l.LogAttrs(ctx, level, "http request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status_code", statusCode),
		slog.Duration("duration", duration),
		slog.String("type", "http_request"),
	)
}
