package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/progress"
	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

// completionEvent is the published payload for finished days and ranges.
type completionEvent struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Date      string    `json:"date,omitempty"`
	StartDate string    `json:"start_date,omitempty"`
	EndDate   string    `json:"end_date,omitempty"`
	Records   int64     `json:"records,omitempty"`
	Days      int64     `json:"days,omitempty"`
	Note      string    `json:"note,omitempty"`
	At        time.Time `json:"at"`
}

// MessageAttributes exposes stage and run for broker-side filtering.
func (e completionEvent) MessageAttributes() map[string]string {
	return map[string]string{"stage": e.Stage, "run_id": e.RunID}
}

// PublishSink forwards DAY_DONE and RANGE_DONE events to a message publisher
// so downstream consumers (feed rebuilders, notifiers) can react without
// polling the status API.
type PublishSink struct {
	pub    schedule.Publisher
	topic  string
	logger *zap.Logger
}

// NewPublishSink wires a publisher and topic to the sink interface.
func NewPublishSink(pub schedule.Publisher, topic string, logger *zap.Logger) (*PublishSink, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{pub: pub, topic: topic, logger: logger.Named("publish_sink")}, nil
}

// Consume publishes completion events. Publish failures are logged, not
// returned; completion messages are best effort and must never stall the hub.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	for i := range batch {
		evt := &batch[i]
		if evt.Stage != progress.StageDayDone && evt.Stage != progress.StageRangeDone {
			continue
		}
		msg := completionEvent{
			RunID:     evt.RunUUID().String(),
			Stage:     string(evt.Stage),
			Date:      evt.Date,
			StartDate: evt.StartDate,
			EndDate:   evt.EndDate,
			Records:   evt.Records,
			Days:      evt.Days,
			Note:      evt.Note,
			At:        evt.TS,
		}
		if _, err := s.pub.Publish(ctx, s.topic, msg); err != nil {
			s.logger.Warn("completion publish failed",
				zap.String("stage", msg.Stage),
				zap.String("run_id", msg.RunID),
				zap.Error(err))
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
