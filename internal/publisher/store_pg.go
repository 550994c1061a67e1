package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"todoflow/internal/event"
)

// PostgresFallbackStore persists failed publishes in the failed_events table
// so a crash does not lose them. Required for multi-instance deployments.
//
// Schema:
//
//	CREATE TABLE failed_events (
//	    id            BIGSERIAL PRIMARY KEY,
//	    topic         TEXT NOT NULL,
//	    partition_key TEXT NOT NULL DEFAULT '',
//	    payload       JSONB NOT NULL,
//	    failed_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type PostgresFallbackStore struct {
	db *pgxpool.Pool
}

func NewPostgresFallbackStore(db *pgxpool.Pool) *PostgresFallbackStore {
	return &PostgresFallbackStore{db: db}
}

func (s *PostgresFallbackStore) Append(ctx context.Context, item FallbackItem) error {
	payload, err := json.Marshal(item.Envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal fallback payload: %w", err)
	}

	query := `
		INSERT INTO failed_events (topic, partition_key, payload, failed_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = s.db.Exec(ctx, query, item.Topic, item.PartitionKey, payload, item.FailedAt)
	if err != nil {
		return fmt.Errorf("failed to insert fallback event: %w", err)
	}
	return nil
}

// Drain removes and returns all queued items, oldest first. Items that fail
// to republish are re-appended by the caller.
func (s *PostgresFallbackStore) Drain(ctx context.Context) ([]FallbackItem, error) {
	query := `
		DELETE FROM failed_events
		RETURNING topic, partition_key, payload, failed_at
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to drain fallback queue: %w", err)
	}
	defer rows.Close()

	var items []FallbackItem
	for rows.Next() {
		var (
			item     FallbackItem
			payload  []byte
			failedAt time.Time
		)
		if err := rows.Scan(&item.Topic, &item.PartitionKey, &payload, &failedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fallback event: %w", err)
		}
		item.FailedAt = failedAt

		var env event.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			// Unparseable rows are dropped; they could never republish.
			continue
		}
		item.Envelope = &env
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresFallbackStore) Len(ctx context.Context) int {
	var count int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM failed_events`).Scan(&count); err != nil {
		return 0
	}
	return count
}
