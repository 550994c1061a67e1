package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable ledger backing.
//
// Schema:
//
//	CREATE TABLE processed_events (
//	    event_id     UUID NOT NULL,
//	    consumer_id  VARCHAR(100) NOT NULL,
//	    processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    PRIMARY KEY (event_id, consumer_id)
//	);
//	CREATE INDEX idx_processed_events_processed_at ON processed_events (processed_at);
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) IsProcessed(ctx context.Context, eventID, consumerID string) (bool, error) {
	query := `
		SELECT 1 FROM processed_events
		WHERE event_id = $1 AND consumer_id = $2
	`
	var one int
	err := s.db.QueryRow(ctx, query, eventID, consumerID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to query processed_events: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, eventID, consumerID string) error {
	query := `
		INSERT INTO processed_events (event_id, consumer_id, processed_at)
		VALUES ($1, $2, NOW())
	`
	_, err := s.db.Exec(ctx, query, eventID, consumerID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Unique violation: a concurrent consumer inserted first.
			return ErrAlreadyProcessed
		}
		return fmt.Errorf("failed to insert processed_events row: %w", err)
	}
	return nil
}

func (s *PostgresStore) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	tag, err := s.db.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge processed_events: %w", err)
	}
	return tag.RowsAffected(), nil
}
