package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/progress"
)

// LogSink mirrors the progress stream into the service log. It is the
// fallback sink for local runs where no Pub/Sub topic is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink writing one log line per event.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume writes one line per event, scoping fields to the event's stage.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := make([]zap.Field, 0, 8)
		fields = append(fields,
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		)
		switch evt.Stage {
		case progress.StageDayStart, progress.StageDayDone, progress.StageDayError:
			fields = append(fields, zap.String("date", evt.Date))
			if evt.Records > 0 {
				fields = append(fields, zap.Int64("records", evt.Records))
			}
		default:
			fields = append(fields,
				zap.String("start_date", evt.StartDate),
				zap.String("end_date", evt.EndDate),
			)
			if evt.Days > 0 {
				fields = append(fields, zap.Int64("days", evt.Days))
			}
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress", fields...)
	}
	return nil
}

// Close satisfies progress.Sink.
func (s *LogSink) Close(context.Context) error { return nil }
