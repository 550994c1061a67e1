package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TrackingWindow bounds how long a sent reminder suppresses re-sends.
const TrackingWindow = 24 * time.Hour

// Tracker remembers which tasks already had a reminder published, so the
// scan loop sends at most one per task within the tracking window.
type Tracker interface {
	// MarkSent records a send. Returns false when the task was already
	// marked inside the window (someone else won the race).
	MarkSent(ctx context.Context, taskID string) bool
	WasSent(ctx context.Context, taskID string) bool
	// Prune drops entries older than the window; returns how many.
	Prune(ctx context.Context) int
}

// MemoryTracker is the single-instance implementation: a map of
// task_id -> last_sent_timestamp pruned past 24h.
type MemoryTracker struct {
	mu   sync.Mutex
	sent map[string]time.Time
	now  func() time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		sent: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (t *MemoryTracker) MarkSent(_ context.Context, taskID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if at, ok := t.sent[taskID]; ok && t.now().Sub(at) <= TrackingWindow {
		return false
	}
	t.sent[taskID] = t.now()
	return true
}

func (t *MemoryTracker) WasSent(_ context.Context, taskID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.sent[taskID]
	return ok && t.now().Sub(at) <= TrackingWindow
}

func (t *MemoryTracker) Prune(_ context.Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	pruned := 0
	for taskID, at := range t.sent {
		if t.now().Sub(at) > TrackingWindow {
			delete(t.sent, taskID)
			pruned++
		}
	}
	return pruned
}

// RedisTracker shares sent-reminder state across instances using SetNX with
// a 24h TTL; Redis expiry replaces explicit pruning.
type RedisTracker struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisTracker(rdb *redis.Client, logger *zap.Logger) *RedisTracker {
	return &RedisTracker{rdb: rdb, logger: logger}
}

func trackerKey(taskID string) string {
	return fmt.Sprintf("reminder:sent:%s", taskID)
}

func (t *RedisTracker) MarkSent(ctx context.Context, taskID string) bool {
	ok, err := t.rdb.SetNX(ctx, trackerKey(taskID), 1, TrackingWindow).Result()
	if err != nil {
		// Fail-open: better a rare duplicate reminder than none at all.
		t.logger.Warn("Redis reminder tracking failed, allowing send",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		return true
	}
	return ok
}

func (t *RedisTracker) WasSent(ctx context.Context, taskID string) bool {
	n, err := t.rdb.Exists(ctx, trackerKey(taskID)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

func (t *RedisTracker) Prune(context.Context) int {
	// TTL-based expiry; nothing to do.
	return 0
}
