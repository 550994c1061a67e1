package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestProcessRunsOnce(t *testing.T) {
	led := New(NewMemoryStore(), zap.NewNop())

	calls := 0
	fn := func(ctx context.Context) error {
		calls++
		return nil
	}

	if err := led.Process(context.Background(), "evt-1", "consumer-a", fn); err != nil {
		t.Fatalf("first Process() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("fn calls = %d, want 1", calls)
	}

	err := led.Process(context.Background(), "evt-1", "consumer-a", fn)
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("second Process() error = %v, want ErrAlreadyProcessed", err)
	}
	if calls != 1 {
		t.Errorf("fn calls after redelivery = %d, want 1", calls)
	}
}

func TestProcessScopedPerConsumer(t *testing.T) {
	led := New(NewMemoryStore(), zap.NewNop())

	calls := 0
	fn := func(ctx context.Context) error {
		calls++
		return nil
	}

	if err := led.Process(context.Background(), "evt-1", "consumer-a", fn); err != nil {
		t.Fatalf("Process(consumer-a) error = %v", err)
	}
	if err := led.Process(context.Background(), "evt-1", "consumer-b", fn); err != nil {
		t.Fatalf("Process(consumer-b) error = %v", err)
	}
	if calls != 2 {
		t.Errorf("fn calls = %d, want 2 (one per consumer)", calls)
	}
}

func TestProcessFailureLeavesUnmarked(t *testing.T) {
	led := New(NewMemoryStore(), zap.NewNop())

	boom := errors.New("backend unavailable")
	calls := 0

	err := led.Process(context.Background(), "evt-1", "consumer-a", func(ctx context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Process() error = %v, want %v", err, boom)
	}

	// Redelivery after a failure runs the handler again.
	err = led.Process(context.Background(), "evt-1", "consumer-a", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("retry Process() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("fn calls = %d, want 2", calls)
	}

	// Now marked: a third delivery is a duplicate.
	err = led.Process(context.Background(), "evt-1", "consumer-a", func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("third Process() error = %v, want ErrAlreadyProcessed", err)
	}
}

func TestProcessMarkRaceTreatedAsHandled(t *testing.T) {
	store := NewMemoryStore()
	led := New(store, zap.NewNop())

	// Another consumer instance marks the pair while fn is running.
	err := led.Process(context.Background(), "evt-1", "consumer-a", func(ctx context.Context) error {
		return store.MarkProcessed(ctx, "evt-1", "consumer-a")
	})
	if err != nil {
		t.Fatalf("Process() error = %v, want nil (lost race is not a failure)", err)
	}
}

func TestMemoryStoreCleanup(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.MarkProcessed(ctx, "evt-old", "consumer-a"); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	// Age the entry past retention.
	store.mu.Lock()
	store.entries[key("evt-old", "consumer-a")] = time.Now().UTC().Add(-8 * 24 * time.Hour)
	store.mu.Unlock()

	if err := store.MarkProcessed(ctx, "evt-new", "consumer-a"); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}

	purged, err := store.Cleanup(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if purged != 1 {
		t.Fatalf("Cleanup() purged = %d, want 1", purged)
	}

	processed, err := store.IsProcessed(ctx, "evt-new", "consumer-a")
	if err != nil || !processed {
		t.Errorf("IsProcessed(evt-new) = %v, %v; want true, nil", processed, err)
	}
	processed, err = store.IsProcessed(ctx, "evt-old", "consumer-a")
	if err != nil || processed {
		t.Errorf("IsProcessed(evt-old) = %v, %v; want false, nil", processed, err)
	}
}
