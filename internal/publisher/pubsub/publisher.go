// Package pubsub announces finished runs on a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/sitespider/internal/spider"
)

// Run outcomes carried in the "outcome" attribute.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Summary is the JSON body published once per run.
type Summary struct {
	RunID          string    `json:"run_id"`
	BaseURL        string    `json:"base_url"`
	Outcome        string    `json:"outcome"`
	Crawled        int       `json:"crawled"`
	Accepted       int       `json:"accepted"`
	Parsed         int       `json:"parsed"`
	Failed         int       `json:"failed"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	OutputURI      string    `json:"output_uri,omitempty"`
	Error          string    `json:"error,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}

// NewSummary describes a run from its result and error.
func NewSummary(runID, baseURL string, res spider.Result, runErr error, finishedAt time.Time) Summary {
	s := Summary{
		RunID:          runID,
		BaseURL:        baseURL,
		Outcome:        OutcomeSucceeded,
		Crawled:        res.Crawled,
		Accepted:       res.Accepted,
		Parsed:         res.Parsed,
		Failed:         res.Failed,
		ElapsedSeconds: res.Elapsed.Seconds(),
		OutputURI:      res.OutputURI,
		FinishedAt:     finishedAt.UTC(),
	}
	if runErr != nil {
		s.Outcome = OutcomeFailed
		s.Error = runErr.Error()
	}
	return s
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic *pubsub.Topic
}

// New creates a Publisher for the provided topic.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Publish sends the summary and waits for the server-assigned message id.
func (p *Publisher) Publish(ctx context.Context, summary Summary) (string, error) {
	if p.topic == nil {
		return "", errors.New("pubsub topic is not configured")
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id":  summary.RunID,
			"outcome": summary.Outcome,
		},
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages and stops the topic's background goroutines.
func (p *Publisher) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}
