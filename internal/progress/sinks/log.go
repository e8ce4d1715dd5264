package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/uiblocks-harvester/internal/progress"
)

// LogSink writes each event as a structured log line.
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

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID.String()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			fields = append(fields, zap.String("label", evt.Label), zap.Bool("resumed", evt.Resumed))
		case progress.StageExtract:
			fields = append(fields,
				zap.String("file", evt.File),
				zap.Int64("processed", evt.Processed),
				zap.Int64("total", evt.Total),
			)
		case progress.StageRunDone, progress.StageRunError:
			fields = append(fields, zap.Int("units", evt.Units), zap.Duration("dur", evt.Dur))
		default:
			fields = append(fields, zap.String("unit", evt.Unit), zap.String("phase", evt.Phase))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageRunError || evt.Stage == progress.StageUnitFailed {
			s.logger.Warn("Progress", fields...)
			continue
		}
		s.logger.Debug("Progress", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
