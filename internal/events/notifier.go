package events

import (
	"context"
	"encoding/json"
	"fmt"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

// JobEvent is published when a job reaches a terminal status.
type JobEvent struct {
	JobID       string `json:"jobId"`
	Fingerprint string `json:"fingerprint"`
	Status      string `json:"status"`
	URL         string `json:"url,omitempty"`
	Format      string `json:"format,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Notifier publishes terminal job transitions to Kafka. A nil Notifier
// is valid and publishes nothing, which is how the feature stays off
// when no brokers are configured.
type Notifier struct {
	Client   *wbfkafka.Producer
	strategy retry.Strategy
}

// New creates a Notifier producing to topic on the given brokers.
func New(brokers []string, topic string, s retry.Strategy) *Notifier {
	return &Notifier{
		Client:   wbfkafka.NewProducer(brokers, topic),
		strategy: s,
	}
}

// JobFinished publishes ev keyed by fingerprint, so consumers observing
// a partition see all completions of one artifact in order. Publish
// failures are logged and never affect the job outcome.
func (n *Notifier) JobFinished(ctx context.Context, ev JobEvent) {
	if n == nil {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to marshal job event")
		return
	}

	if err := n.send(ctx, []byte(ev.Fingerprint), data); err != nil {
		zlog.Logger.Err(err).Str("job", ev.JobID).Msg("failed to publish job event")
	}
}

func (n *Notifier) send(ctx context.Context, key, data []byte) error {
	if err := n.Client.SendWithRetry(ctx, n.strategy, key, data); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	return nil
}
