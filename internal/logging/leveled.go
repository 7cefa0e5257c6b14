package logging

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// LeveledLogger adapts a subsystem logger to retryablehttp.LeveledLogger.
type LeveledLogger struct {
	ctx       context.Context
	subsystem string
}

var _ retryablehttp.LeveledLogger = (*LeveledLogger)(nil)

// NewLeveledLogger returns a retryablehttp logger writing to subsystem.
func NewLeveledLogger(ctx context.Context, subsystem string) *LeveledLogger {
	return &LeveledLogger{ctx: ctx, subsystem: subsystem}
}

func (l *LeveledLogger) Error(msg string, keysAndValues ...any) {
	tflog.SubsystemError(l.ctx, l.subsystem, msg, kvFields(keysAndValues))
}

func (l *LeveledLogger) Info(msg string, keysAndValues ...any) {
	tflog.SubsystemInfo(l.ctx, l.subsystem, msg, kvFields(keysAndValues))
}

// Debug logs at trace: retryablehttp logs every request at debug.
func (l *LeveledLogger) Debug(msg string, keysAndValues ...any) {
	tflog.SubsystemTrace(l.ctx, l.subsystem, msg, kvFields(keysAndValues))
}

func (l *LeveledLogger) Warn(msg string, keysAndValues ...any) {
	tflog.SubsystemWarn(l.ctx, l.subsystem, msg, kvFields(keysAndValues))
}

func kvFields(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fields[key] = keysAndValues[i+1]
	}
	if len(keysAndValues)%2 == 1 {
		fields["extra"] = keysAndValues[len(keysAndValues)-1]
	}
	return SanitizeFields(fields)
}
