// Package publisher wraps the broker transport with retry, backoff and a
// fallback queue. Publishing is fire-and-forget for the caller: a failed
// publish is logged and queued, never surfaced to the producing transaction.
package publisher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"todoflow/internal/event"
	"todoflow/pkg/logger"
	"todoflow/pkg/metrics"
)

// Broker is the transport a publisher sends through. *mq.Publisher satisfies it.
type Broker interface {
	Publish(ctx context.Context, topic string, body []byte, partitionKey string) error
}

// FallbackItem is a publish that exhausted its retries.
type FallbackItem struct {
	Topic        string
	PartitionKey string
	Envelope     *event.Envelope
	FailedAt     time.Time
}

// FallbackStore persists failed publishes for later retry. The in-memory
// implementation below is only sound for a single instance; multi-instance
// deployments should use the Postgres store.
type FallbackStore interface {
	Append(ctx context.Context, item FallbackItem) error
	Drain(ctx context.Context) ([]FallbackItem, error)
	Len(ctx context.Context) int
}

type EventPublisher struct {
	broker     Broker
	fallback   FallbackStore
	logger     *zap.Logger
	maxRetries int
	baseDelay  time.Duration
	timeout    time.Duration
}

type Option func(*EventPublisher)

func WithMaxRetries(n int) Option {
	return func(p *EventPublisher) { p.maxRetries = n }
}

func WithBaseDelay(d time.Duration) Option {
	return func(p *EventPublisher) { p.baseDelay = d }
}

func WithTimeout(d time.Duration) Option {
	return func(p *EventPublisher) { p.timeout = d }
}

func NewEventPublisher(broker Broker, fallback FallbackStore, log *zap.Logger, opts ...Option) *EventPublisher {
	p := &EventPublisher{
		broker:     broker,
		fallback:   fallback,
		logger:     log,
		maxRetries: 3,
		baseDelay:  time.Second,
		timeout:    10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends the envelope to a topic, retrying with exponential backoff.
// Returns true on success; on exhaustion the event is appended to the
// fallback queue and false is returned. It never returns an error.
func (p *EventPublisher) Publish(ctx context.Context, topic string, env *event.Envelope, partitionKey string) bool {
	log := logger.WithTrace(ctx, p.logger)

	body, err := json.Marshal(env)
	if err != nil {
		log.Error("Failed to marshal event envelope",
			zap.String("topic", topic),
			zap.String("event_id", env.ID),
			zap.Error(err),
		)
		return false
	}

	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.EventPublishRetries.WithLabelValues(topic).Inc()
			// Exponential backoff: base, 2*base, 4*base, ...
			delay := p.baseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				err = ctx.Err()
				break
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err = p.broker.Publish(attemptCtx, topic, body, partitionKey)
		cancel()

		if err == nil {
			metrics.EventsPublished.WithLabelValues(topic, env.Type).Inc()
			log.Info("Event published",
				zap.String("topic", topic),
				zap.String("event_id", env.ID),
				zap.String("event_type", env.Type),
			)
			return true
		}

		log.Warn("Event publish attempt failed",
			zap.String("topic", topic),
			zap.String("event_id", env.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	metrics.EventPublishFailures.WithLabelValues(topic).Inc()
	log.Error("Event publish exhausted retries, queueing to fallback",
		zap.String("topic", topic),
		zap.String("event_id", env.ID),
		zap.Int("max_retries", p.maxRetries),
		zap.Error(err),
	)

	item := FallbackItem{
		Topic:        topic,
		PartitionKey: partitionKey,
		Envelope:     env,
		FailedAt:     time.Now().UTC(),
	}
	if appendErr := p.fallback.Append(ctx, item); appendErr != nil {
		log.Error("Failed to append event to fallback queue",
			zap.String("event_id", env.ID),
			zap.Error(appendErr),
		)
	}
	metrics.FallbackQueueDepth.Set(float64(p.fallback.Len(ctx)))
	return false
}

// PublishTaskEvent publishes a task event to task-events and fans it out to
// task-updates for real-time sync. The partition key is the task owner, so
// one user's events keep their order relative to each other.
func (p *EventPublisher) PublishTaskEvent(ctx context.Context, env *event.Envelope, userID string) bool {
	ok := p.Publish(ctx, event.TopicTaskEvents, env, userID)
	p.Publish(ctx, event.TopicTaskUpdates, env, userID)
	return ok
}

// PublishReminderEvent publishes a reminder event, partitioned by user.
func (p *EventPublisher) PublishReminderEvent(ctx context.Context, env *event.Envelope, userID string) bool {
	return p.Publish(ctx, event.TopicReminders, env, userID)
}

// RetryFallbackQueue drains the fallback queue, republishing each item once
// (without the per-item retry loop). Still-failed items are re-queued.
// Returns the number of successful publishes.
func (p *EventPublisher) RetryFallbackQueue(ctx context.Context) int {
	items, err := p.fallback.Drain(ctx)
	if err != nil {
		p.logger.Error("Failed to drain fallback queue", zap.Error(err))
		return 0
	}
	if len(items) == 0 {
		return 0
	}

	successful := 0
	for _, item := range items {
		body, err := json.Marshal(item.Envelope)
		if err != nil {
			p.logger.Error("Dropping unmarshalable fallback item",
				zap.String("event_id", item.Envelope.ID),
				zap.Error(err),
			)
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err = p.broker.Publish(attemptCtx, item.Topic, body, item.PartitionKey)
		cancel()

		if err != nil {
			p.logger.Warn("Fallback retry failed, keeping item queued",
				zap.String("topic", item.Topic),
				zap.String("event_id", item.Envelope.ID),
				zap.Error(err),
			)
			if appendErr := p.fallback.Append(ctx, item); appendErr != nil {
				p.logger.Error("Failed to re-queue fallback item",
					zap.String("event_id", item.Envelope.ID),
					zap.Error(appendErr),
				)
			}
			continue
		}

		metrics.EventsPublished.WithLabelValues(item.Topic, item.Envelope.Type).Inc()
		successful++
	}

	metrics.FallbackQueueDepth.Set(float64(p.fallback.Len(ctx)))
	p.logger.Info("Fallback queue retry completed",
		zap.Int("attempted", len(items)),
		zap.Int("successful", successful),
	)
	return successful
}

// RunFallbackRetrier retries the fallback queue on a fixed interval until
// ctx is cancelled.
func (p *EventPublisher) RunFallbackRetrier(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Fallback retrier stopped")
			return
		case <-ticker.C:
			if p.fallback.Len(ctx) > 0 {
				p.RetryFallbackQueue(ctx)
			}
		}
	}
}

// MemoryFallbackStore keeps failed publishes in process memory. Dev-only:
// a crash loses the queue.
type MemoryFallbackStore struct {
	mu    sync.Mutex
	items []FallbackItem
}

func NewMemoryFallbackStore() *MemoryFallbackStore {
	return &MemoryFallbackStore{}
}

func (s *MemoryFallbackStore) Append(_ context.Context, item FallbackItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return nil
}

func (s *MemoryFallbackStore) Drain(_ context.Context) ([]FallbackItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.items
	s.items = nil
	return items, nil
}

func (s *MemoryFallbackStore) Len(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
