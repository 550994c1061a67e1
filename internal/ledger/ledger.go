// Package ledger upgrades the broker's at-least-once delivery to
// effectively-exactly-once handling per consumer by recording
// (event_id, consumer_id) pairs.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"todoflow/pkg/logger"
	"todoflow/pkg/metrics"
)

// ErrAlreadyProcessed signals that another delivery of the same event has
// been handled (or is being handled) by this consumer.
var ErrAlreadyProcessed = errors.New("event already processed")

// Store is the durable record of processed events. Presence of a pair means
// "already handled, do not reprocess". Rows are written only after the
// handler's side effect completes.
type Store interface {
	IsProcessed(ctx context.Context, eventID, consumerID string) (bool, error)
	// MarkProcessed records the pair. It returns ErrAlreadyProcessed when a
	// concurrent consumer won the insert race; the primary-key constraint is
	// the sole concurrency guard.
	MarkProcessed(ctx context.Context, eventID, consumerID string) error
	// Cleanup purges rows older than retention. Retention must exceed the
	// broker's redelivery window or duplicates could replay.
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

type Ledger struct {
	store   Store
	deduper *Deduper // optional Redis fast path
	logger  *zap.Logger
}

func New(store Store, log *zap.Logger) *Ledger {
	return &Ledger{store: store, logger: log}
}

// WithDeduper installs a Redis SetNX fast path checked before the durable
// store. It only short-circuits obvious duplicates; correctness rests on
// the store.
func (l *Ledger) WithDeduper(d *Deduper) *Ledger {
	l.deduper = d
	return l
}

// Process grants fn a single execution opportunity for (eventID, consumerID).
// The pair is marked processed only after fn returns nil; a failing fn leaves
// the ledger untouched so broker redelivery retries the whole handler.
// A duplicate delivery returns ErrAlreadyProcessed without running fn.
func (l *Ledger) Process(ctx context.Context, eventID, consumerID string, fn func(ctx context.Context) error) error {
	log := logger.WithTrace(ctx, l.logger)

	if l.deduper != nil && !l.deduper.AcquireOnce(ctx, consumerID, eventID) {
		return ErrAlreadyProcessed
	}

	processed, err := l.store.IsProcessed(ctx, eventID, consumerID)
	if err != nil {
		l.release(ctx, eventID, consumerID)
		return fmt.Errorf("ledger check failed: %w", err)
	}
	if processed {
		log.Info("Event already processed, skipping",
			zap.String("event_id", eventID),
			zap.String("consumer_id", consumerID),
		)
		return ErrAlreadyProcessed
	}

	if err := fn(ctx); err != nil {
		// Not marked: redelivery will retry. The fast-path claim has to go
		// with it, or the deduper would swallow the retry for its whole TTL.
		l.release(ctx, eventID, consumerID)
		return err
	}

	if err := l.store.MarkProcessed(ctx, eventID, consumerID); err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			// Lost a concurrent insert race after both ran the side effect.
			// Someone else handled it; not an error.
			log.Warn("Concurrent duplicate detected at mark time",
				zap.String("event_id", eventID),
				zap.String("consumer_id", consumerID),
			)
			return nil
		}
		l.release(ctx, eventID, consumerID)
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	log.Info("Event processed",
		zap.String("event_id", eventID),
		zap.String("consumer_id", consumerID),
	)
	return nil
}

func (l *Ledger) release(ctx context.Context, eventID, consumerID string) {
	if l.deduper != nil {
		l.deduper.Release(ctx, consumerID, eventID)
	}
}

// RunCleanup purges old ledger rows on a fixed interval until ctx is done.
func (l *Ledger) RunCleanup(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Ledger cleanup stopped")
			return
		case <-ticker.C:
			purged, err := l.store.Cleanup(ctx, retention)
			if err != nil {
				l.logger.Error("Ledger cleanup failed", zap.Error(err))
				continue
			}
			if purged > 0 {
				metrics.LedgerRowsPurged.Add(float64(purged))
				l.logger.Info("Ledger cleanup completed", zap.Int64("purged", purged))
			}
		}
	}
}
