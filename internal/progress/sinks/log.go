package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/progress"
)

// LogSink emits structured logs for the progress stream. Useful in
// development and anywhere a metrics backend is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("request_id", evt.RequestID),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Module != "" {
			fields = append(fields, zap.String("module", string(evt.Module)))
		}
		if evt.ModuleStatus != "" {
			fields = append(fields, zap.String("module_status", string(evt.ModuleStatus)))
		}
		if evt.RequestStatus != "" {
			fields = append(fields, zap.String("status", string(evt.RequestStatus)))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("audit progress", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
