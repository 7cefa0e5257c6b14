package logging

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Logger is a subsystem-bound logger.
type Logger interface {
	Trace(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// SubsystemLogger binds a context and a subsystem name.
type SubsystemLogger struct {
	ctx       context.Context
	subsystem string
}

// New returns a Logger writing to subsystem.
func New(ctx context.Context, subsystem string) *SubsystemLogger {
	return &SubsystemLogger{ctx: ctx, subsystem: subsystem}
}

func (l *SubsystemLogger) Trace(msg string, fields map[string]any) {
	tflog.SubsystemTrace(l.ctx, l.subsystem, msg, fields)
}

func (l *SubsystemLogger) Debug(msg string, fields map[string]any) {
	tflog.SubsystemDebug(l.ctx, l.subsystem, msg, fields)
}

func (l *SubsystemLogger) Info(msg string, fields map[string]any) {
	tflog.SubsystemInfo(l.ctx, l.subsystem, msg, fields)
}

func (l *SubsystemLogger) Warn(msg string, fields map[string]any) {
	tflog.SubsystemWarn(l.ctx, l.subsystem, msg, fields)
}

func (l *SubsystemLogger) Error(msg string, fields map[string]any) {
	tflog.SubsystemError(l.ctx, l.subsystem, msg, fields)
}

// LogOperation runs fn and logs its start, duration and outcome.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	logFields := make(map[string]any, len(fields)+3)
	maps.Copy(logFields, fields)
	logFields["operation"] = operation

	tflog.SubsystemDebug(ctx, subsystem, "Starting operation", logFields)

	err := fn()

	logFields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		logFields["error"] = err.Error()
		tflog.SubsystemError(ctx, subsystem, "Operation failed", logFields)
	} else {
		tflog.SubsystemDebug(ctx, subsystem, "Operation completed successfully", logFields)
	}

	return err
}

// LogPerformance logs the duration of an operation, escalating the level for
// slow ones.
func LogPerformance(ctx context.Context, subsystem, operation string, duration time.Duration, fields map[string]any) {
	logFields := make(map[string]any, len(fields)+2)
	maps.Copy(logFields, fields)
	logFields["operation"] = operation
	logFields["duration_ms"] = duration.Milliseconds()

	switch {
	case duration > 30*time.Second:
		tflog.SubsystemWarn(ctx, subsystem, "Slow operation detected", logFields)
	case duration > 5*time.Second:
		tflog.SubsystemInfo(ctx, subsystem, "Operation performance", logFields)
	default:
		tflog.SubsystemDebug(ctx, subsystem, "Operation performance", logFields)
	}
}

var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"client_secret": true,
	"token":         true,
	"access_token":  true,
	"id_token":      true,
	"key":           true,
	"private_key":   true,
	"credential":    true,
	"credentials":   true,
	"assertion":     true,
}

var sensitivePatterns = []string{
	"password=",
	"passwd=",
	"secret=",
	"token=",
	"key=",
	"bearer ",
}

// SanitizeFields returns a copy of fields with credentials redacted.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

func containsSensitivePattern(s string) bool {
	lower := strings.ToLower(s)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
