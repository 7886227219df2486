package logging

import (
	"sort"

	"github.com/simon020286/go-promptchain/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventLogger logs lifecycle events. Row halts, failed steps and sandbox
// aborts are logged at warn level, everything else at debug.
type EventLogger struct {
	logger *zap.Logger
}

// NewEventLogger creates an event listener that logs through logger
func NewEventLogger(logger *zap.Logger) *EventLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventLogger{logger: logger.Named("events")}
}

// OnEvent implements models.EventListener
func (l *EventLogger) OnEvent(event models.Event) {
	level := zapcore.DebugLevel
	switch event.Type {
	case models.EventRowHalted, models.EventStepFailed, models.EventSandboxAbort:
		level = zapcore.WarnLevel
	}

	ce := l.logger.Check(level, string(event.Type))
	if ce == nil {
		return
	}
	ce.Write(eventFields(event)...)
}

func eventFields(event models.Event) []zap.Field {
	keys := make([]string, 0, len(event.Data))
	for k := range event.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys)+1)
	fields = append(fields, zap.Time("event_time", event.Timestamp))
	for _, k := range keys {
		fields = append(fields, zap.Any(k, event.Data[k]))
	}
	return fields
}
