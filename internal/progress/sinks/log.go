package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/result-harvester/internal/progress"
)

// LogSink emits one structured log line per event. It is the default sink
// when no durable store is configured.
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

// Consume logs evt using structured fields. Attempt events log at debug.
func (s *LogSink) Consume(_ context.Context, evt progress.Event) error {
	fields := []zap.Field{
		zap.String("run_id", evt.RunUUID().String()),
		zap.String("stage", string(evt.Stage)),
	}
	if evt.Identifier != "" {
		fields = append(fields, zap.String("identifier", evt.Identifier))
	}
	if evt.Attempt > 0 {
		fields = append(fields, zap.Int("attempt", evt.Attempt))
	}
	if evt.Outcome != "" {
		fields = append(fields, zap.String("outcome", evt.Outcome))
	}
	if evt.Serial > 0 {
		fields = append(fields, zap.Int("serial", evt.Serial))
	}
	if evt.Dur > 0 {
		fields = append(fields, zap.Duration("dur", evt.Dur))
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	if evt.Stage == progress.StageAttempt {
		s.logger.Debug("progress event", fields...)
		return nil
	}
	s.logger.Info("progress event", fields...)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
