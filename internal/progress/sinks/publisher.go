package sinks

import (
	"context"
	"fmt"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/progress"
)

// PublisherSink forwards terminal request events to a Publisher so
// downstream consumers learn about finished audits without polling.
// Non-terminal events pass through untouched.
type PublisherSink struct {
	publisher audit.Publisher
	topic     string
}

// NewPublisherSink wires a publisher and topic to the sink interface.
func NewPublisherSink(publisher audit.Publisher, topic string) *PublisherSink {
	return &PublisherSink{publisher: publisher, topic: topic}
}

// Consume publishes one message per terminal event in the batch. The
// first publish failure aborts the batch; the hub logs and moves on,
// so a flaky broker never stalls the pipeline.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s.publisher == nil || s.topic == "" {
		return nil
	}
	for _, evt := range batch {
		if evt.Stage != progress.StageRequestDone && evt.Stage != progress.StageRequestError {
			continue
		}
		payload := map[string]any{
			"request_id": evt.RequestID,
			"stage":      string(evt.Stage),
			"status":     string(evt.RequestStatus),
			"score":      evt.Score,
			"timestamp":  evt.TS,
		}
		if evt.Note != "" {
			payload["error"] = evt.Note
		}
		if _, err := s.publisher.Publish(ctx, s.topic, payload); err != nil {
			return fmt.Errorf("publish completion for %s: %w", evt.RequestID, err)
		}
	}
	return nil
}

// Close implements the Sink interface; the publisher's lifecycle is
// owned by the caller.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
