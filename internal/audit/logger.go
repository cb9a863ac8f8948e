package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/faultline/faultline-ai/internal/db"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Analysis lifecycle events
	LogAnalysisStarted(ctx context.Context, analysisID, incidentContext string) error
	LogAnalysisCompleted(ctx context.Context, analysisID, label string, duration time.Duration) error
	LogAnalysisCancelled(ctx context.Context, analysisID string) error
	LogAnalysisFailed(ctx context.Context, analysisID string, err error) error

	// Reasoning events
	LogHypothesesGenerated(ctx context.Context, analysisID string, count int) error
	LogHypothesisEvaluated(ctx context.Context, analysisID, hypothesisID, status string) error

	// Tool events
	LogToolExecuted(ctx context.Context, analysisID, toolName string, duration time.Duration, err error) error

	// LLM events
	LogRateLimited(ctx context.Context, analysisID, provider string) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// AppLogPath is the path to the application log file
	AppLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// LogLevel is the minimum log level (debug, info, warn, error)
	LogLevel string
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		AppLogPath:   "logs/app.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
		LogLevel:     "info",
	}
}

// auditLogger implements the Logger interface. Events are buffered and
// flushed to the rotating audit log, and mirrored into the audit_events
// table when a store is attached.
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	store       db.AuditStore // optional
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
}

// NewLogger creates a new audit logger. store may be nil; events then go to
// the log file only.
func NewLogger(config *Config, store db.AuditStore) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.LogLevel, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	appRotator := &lumberjack.Logger{
		Filename:   config.AppLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	appCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(appRotator),
		level,
	)

	appLogger := zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// Audit log is append-only, always INFO level.
	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel,
	)

	auditZapLogger := zap.New(auditCore)

	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: auditZapLogger,
		store:       store,
		config:      config,
		buffer:      make([]*Event, 0, 100),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	if len(l.buffer) >= 100 {
		return l.flushLocked()
	}

	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)

		if l.store != nil {
			metadata := "{}"
			if raw, err := json.Marshal(event.Metadata); err == nil {
				metadata = string(raw)
			}
			rec := &db.AuditRecord{
				CorrelationID: event.CorrelationID,
				EventType:     string(event.EventType),
				Description:   event.Description,
				Resource:      event.Resource,
				Action:        event.Action,
				Result:        string(event.Result),
				Metadata:      metadata,
				Timestamp:     event.Timestamp,
			}
			if err := l.store.AppendAuditEvent(context.Background(), rec); err != nil {
				l.appLogger.Error("failed to persist audit event",
					zap.Error(err),
					zap.String("event_type", string(event.EventType)),
				)
			}
		}
	}

	l.buffer = l.buffer[:0]

	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogAnalysisStarted logs when an analysis starts
func (l *auditLogger) LogAnalysisStarted(ctx context.Context, analysisID, incidentContext string) error {
	event := NewEvent(EventAnalysisStarted).
		WithCorrelationID(analysisID).
		WithResource(analysisID, "analysis").
		WithResult(ResultSuccess).
		WithMetadata("context", incidentContext).
		WithDescription(fmt.Sprintf("Analysis %s started", analysisID))

	return l.Log(ctx, event)
}

// LogAnalysisCompleted logs when an analysis produces its final result
func (l *auditLogger) LogAnalysisCompleted(ctx context.Context, analysisID, label string, duration time.Duration) error {
	event := NewEvent(EventAnalysisCompleted).
		WithCorrelationID(analysisID).
		WithResource(analysisID, "analysis").
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithMetadata("label", label).
		WithDescription(fmt.Sprintf("Analysis %s completed (%s)", analysisID, label))

	return l.Log(ctx, event)
}

// LogAnalysisCancelled logs when an analysis is cancelled by the caller
func (l *auditLogger) LogAnalysisCancelled(ctx context.Context, analysisID string) error {
	event := NewEvent(EventAnalysisCancelled).
		WithCorrelationID(analysisID).
		WithResource(analysisID, "analysis").
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Analysis %s cancelled", analysisID))

	return l.Log(ctx, event)
}

// LogAnalysisFailed logs when an analysis step fails
func (l *auditLogger) LogAnalysisFailed(ctx context.Context, analysisID string, err error) error {
	event := NewEvent(EventAnalysisFailed).
		WithCorrelationID(analysisID).
		WithResource(analysisID, "analysis").
		WithError(err, "analysis_error").
		WithDescription(fmt.Sprintf("Analysis %s failed", analysisID))

	return l.Log(ctx, event)
}

// LogHypothesesGenerated logs the Tree-of-Thought proposal step
func (l *auditLogger) LogHypothesesGenerated(ctx context.Context, analysisID string, count int) error {
	event := NewEvent(EventHypothesesGenerated).
		WithCorrelationID(analysisID).
		WithResource(analysisID, "analysis").
		WithResult(ResultSuccess).
		WithMetadata("count", count).
		WithDescription(fmt.Sprintf("Generated %d hypotheses for analysis %s", count, analysisID))

	return l.Log(ctx, event)
}

// LogHypothesisEvaluated logs one hypothesis verdict
func (l *auditLogger) LogHypothesisEvaluated(ctx context.Context, analysisID, hypothesisID, status string) error {
	event := NewEvent(EventHypothesisEvaluated).
		WithCorrelationID(analysisID).
		WithResource(hypothesisID, "hypothesis").
		WithResult(ResultSuccess).
		WithMetadata("status", status).
		WithDescription(fmt.Sprintf("Hypothesis %s evaluated: %s", hypothesisID, status))

	return l.Log(ctx, event)
}

// LogToolExecuted logs one tool execution
func (l *auditLogger) LogToolExecuted(ctx context.Context, analysisID, toolName string, duration time.Duration, err error) error {
	eventType := EventToolExecuted
	if err != nil {
		eventType = EventToolFailed
	}
	event := NewEvent(eventType).
		WithCorrelationID(analysisID).
		WithResource(toolName, "tool").
		WithAction("execute").
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithError(err, "tool_error").
		WithDescription(fmt.Sprintf("Tool %s executed for analysis %s", toolName, analysisID))

	return l.Log(ctx, event)
}

// LogRateLimited logs an LLM rate-limit degradation
func (l *auditLogger) LogRateLimited(ctx context.Context, analysisID, provider string) error {
	event := NewEvent(EventLLMRateLimited).
		WithCorrelationID(analysisID).
		WithResource(provider, "llm_provider").
		WithResult(ResultFailure).
		WithDescription(fmt.Sprintf("LLM provider %s rate limited during analysis %s", provider, analysisID))

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	if err := l.auditLogger.Sync(); err != nil {
		return err
	}

	return l.appLogger.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	close(l.stopCh)
	l.flushTicker.Stop()

	return l.Sync()
}
