package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/link-harvest/internal/progress"
)

// LogSink writes each event as a structured log line. URL events log at
// debug level; run and file milestones at info, file errors at warn.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.Int("done", evt.Done),
			zap.Int("total", evt.Total),
		}
		if evt.File != "" {
			fields = append(fields, zap.String("path", evt.File))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}

		switch evt.Stage {
		case progress.StageURLDone:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.String("host", evt.Host),
				zap.Bool("valid", evt.Valid),
				zap.Int("status_code", evt.StatusCode),
				zap.Int("attempts", evt.Attempts))
			s.logger.Debug("url checked", fields...)
		case progress.StageFileError:
			s.logger.Warn("batch file failed", fields...)
		default:
			s.logger.Info("progress", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
