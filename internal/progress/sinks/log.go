package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-enricher/internal/progress"
)

// LogSink writes one structured line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("run")}
}

// Consume logs each event. Item failures and run errors log at warn.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageRunStatus:
			fields = append(fields, zap.String("status", string(evt.Status)))
			if evt.Message != "" {
				fields = append(fields, zap.String("message", evt.Message))
			}
			if evt.Status == progress.StatusDone {
				fields = append(fields,
					zap.Int("success", evt.Succeeded),
					zap.Int("failed", evt.Failed),
					zap.Int("total", evt.Total),
				)
			}
			if evt.Status == progress.StatusError {
				s.logger.Warn("run status", fields...)
				continue
			}
			s.logger.Info("run status", fields...)
		case progress.StageRunProgress:
			s.logger.Info("run progress", append(fields,
				zap.Int("index", evt.Index),
				zap.Int("total", evt.Total),
				zap.String("asin", evt.ASIN),
			)...)
		case progress.StageItemDone:
			fields = append(fields, zap.String("asin", evt.ASIN), zap.Bool("ok", evt.OK), zap.Duration("dur", evt.Dur))
			if !evt.OK {
				s.logger.Warn("item failed", append(fields, zap.String("error", evt.Error))...)
				continue
			}
			s.logger.Info("item done", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
