// Package pubsub implements the job queue on Google Cloud Pub/Sub so
// audit workers can scale past a single process.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// Queue bridges the audit.Queue contract onto a topic/subscription
// pair. Dequeue is backed by a streaming Receive that acks a message
// only after handing it to a caller; jobs the process never collects
// are nacked for redelivery.
type Queue struct {
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	jobs chan audit.Job

	startOnce sync.Once
	recvErr   error
	recvDone  chan struct{}
}

// New wires a Queue to an existing topic and subscription.
func New(topic *pubsub.Topic, sub *pubsub.Subscription, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		topic:    topic,
		sub:      sub,
		logger:   logger,
		jobs:     make(chan audit.Job),
		recvDone: make(chan struct{}),
	}
}

// Enqueue publishes the job as JSON and waits for the server ack.
func (q *Queue) Enqueue(ctx context.Context, job audit.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"request_id": job.RequestID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish job %s: %w", job.RequestID, err)
	}
	return nil
}

// Dequeue returns the next job. The first call starts the underlying
// Receive loop, which runs until the given context ends.
func (q *Queue) Dequeue(ctx context.Context) (audit.Job, error) {
	q.startOnce.Do(func() { go q.receive(ctx) })

	select {
	case job, ok := <-q.jobs:
		if !ok {
			if q.recvErr != nil {
				return audit.Job{}, fmt.Errorf("subscription receive: %w", q.recvErr)
			}
			return audit.Job{}, ctx.Err()
		}
		return job, nil
	case <-ctx.Done():
		return audit.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	}
}

func (q *Queue) receive(ctx context.Context) {
	defer close(q.recvDone)
	defer close(q.jobs)

	err := q.sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		var job audit.Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			// Malformed payloads would redeliver forever; drop them.
			q.logger.Error("dropping malformed job message",
				zap.String("message_id", msg.ID), zap.Error(err))
			msg.Ack()
			return
		}
		select {
		case q.jobs <- job:
			msg.Ack()
		case <-msgCtx.Done():
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		q.recvErr = err
		q.logger.Error("subscription receive ended", zap.Error(err))
	}
}
