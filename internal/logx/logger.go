// Package logx provides structured logging for an agent process.
package logx

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried by a Logger.
type ContextKey string

const (
	// StepIDKey is the context key for the current heartbeat step id.
	StepIDKey ContextKey = "step_id"
	// TaskIDKey is the context key for the escrow task a log line concerns.
	TaskIDKey ContextKey = "task_id"
)

// Logger wraps logrus.Logger with agent-scoped fields.
type Logger struct {
	*logrus.Logger
	agent string
}

// New creates a Logger for the named agent.
func New(agent, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, agent: agent}
}

// NewFromEnv builds a logger using LOG_LEVEL/LOG_FORMAT, defaulting to info/json.
func NewFromEnv(agent string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(agent, level, format)
}

// WithContext returns an entry carrying the agent name and any step/task ids in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("agent", l.agent)
	if stepID := ctx.Value(StepIDKey); stepID != nil {
		entry = entry.WithField("step_id", stepID)
	}
	if taskID := ctx.Value(TaskIDKey); taskID != nil {
		entry = entry.WithField("task_id", taskID)
	}
	return entry
}

// WithStep adds a step id to ctx.
func WithStep(ctx context.Context, step int64) context.Context {
	return context.WithValue(ctx, StepIDKey, step)
}

// WithTask adds a task id to ctx.
func WithTask(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, TaskIDKey, taskID)
}

// NewStepID generates a trace-style identifier for a log burst unrelated to a heartbeat step.
func NewStepID() string {
	return uuid.New().String()
}

// LogAuthorization logs a payment authorization being signed or verified.
func (l *Logger) LogAuthorization(ctx context.Context, op string, nonce string, value int64, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"operation": op,
		"nonce":     nonce,
		"value":     value,
	})
	if err != nil {
		entry.WithError(err).Error("payment authorization failed")
		return
	}
	entry.Info("payment authorization")
}

// LogEscrowTransition logs a state machine transition for a task.
func (l *Logger) LogEscrowTransition(ctx context.Context, taskID, from, to, reason string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"task_id": taskID,
		"from":    from,
		"to":      to,
		"reason":  reason,
	}).Info("escrow transition")
}

// LogMarketplaceCall logs an outbound marketplace HTTP call outcome.
func (l *Logger) LogMarketplaceCall(ctx context.Context, op string, statusCode int, duration time.Duration, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"operation":   op,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("marketplace call failed")
		return
	}
	entry.Debug("marketplace call")
}

// LogHeartbeat logs a completed heartbeat tick.
func (l *Logger) LogHeartbeat(ctx context.Context, step int64, action, status string, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"step":   step,
		"action": action,
		"status": status,
	})
	if err != nil {
		entry.WithError(err).Error("heartbeat error")
		return
	}
	entry.Info("heartbeat")
}
