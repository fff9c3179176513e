// Package pubsub publishes export-completed events for the downstream
// indexer.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/cakehq/cake/internal/crawl"
)

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic *pubsub.Topic
}

// New creates a Publisher for the provided topic.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// completionEvent is the payload downstream indexers consume.
type completionEvent struct {
	JobID      string    `json:"job_id"`
	Status     string    `json:"status"`
	Nodes      int       `json:"nodes"`
	Edges      int       `json:"edges"`
	Errors     int       `json:"errors"`
	FinishedAt time.Time `json:"finished_at"`
}

// PublishCompletion announces a finished export and returns the message id.
func (p *Publisher) PublishCompletion(ctx context.Context, result crawl.AggregatedResult) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(completionEvent{
		JobID:      result.JobID,
		Status:     string(result.Status),
		Nodes:      len(result.Nodes),
		Edges:      len(result.Edges),
		Errors:     len(result.Errors),
		FinishedAt: result.Finished,
	})
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	res := p.topic.Publish(ctx, &pubsub.Message{Data: data})
	id, err := res.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}
