// Package notify consumes reminder events and delivers notifications,
// deferring them to a per-user buffer during the user's quiet hours.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"todoflow/internal/backend"
	"todoflow/internal/event"
	"todoflow/internal/ledger"
	"todoflow/pkg/logger"
	"todoflow/pkg/metrics"
	"todoflow/pkg/mq"
	"todoflow/pkg/trace"
)

// ConsumerID identifies this service in the idempotency ledger.
const ConsumerID = "notification-service"

type Status string

const (
	StatusIgnored  Status = "IGNORED"
	StatusSkipped  Status = "SKIPPED"
	StatusDeferred Status = "DEFERRED" // buffered for after quiet hours
	StatusSuccess  Status = "SUCCESS"
)

type Result struct {
	Status    Status   `json:"status"`
	Detail    string   `json:"detail,omitempty"`
	Delivered []string `json:"delivered,omitempty"`
}

// PreferenceSource looks up a user's notification preferences.
// *backend.Client satisfies it.
type PreferenceSource interface {
	GetPreferences(ctx context.Context, userID string) *backend.Preference
}

type Dispatcher struct {
	ledger    *ledger.Ledger
	prefs     PreferenceSource
	deliverer Deliverer
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending map[string][]event.ReminderData // userID -> deferred reminders
}

func NewDispatcher(led *ledger.Ledger, prefs PreferenceSource, deliverer Deliverer, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		ledger:    led,
		prefs:     prefs,
		deliverer: deliverer,
		logger:    log,
		now:       time.Now,
		pending:   make(map[string][]event.ReminderData),
	}
}

// Handle adapts the dispatcher to the broker consumer contract.
func (d *Dispatcher) Handle(ctx context.Context, raw json.RawMessage) error {
	start := time.Now()

	var env event.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.logger.Error("Failed to unmarshal event envelope",
			zap.Error(err),
			zap.Int("payload_size", len(raw)),
		)
		return fmt.Errorf("%w: %v", mq.ErrNonRetryable, err)
	}

	if env.CorrelationID != "" {
		ctx = trace.WithContext(ctx, env.CorrelationID)
	}

	var (
		result Result
		err    error
	)
	switch env.Type {
	case event.TypeReminderTrigger:
		result, err = d.HandleReminderTrigger(ctx, &env)
	case event.TypeReminderCancelled:
		result, err = d.HandleReminderCancelled(ctx, &env)
	default:
		result = Result{Status: StatusIgnored, Detail: env.Type}
	}

	metrics.RecordConsumeLatency(ConsumerID, event.TopicReminders, time.Since(start))
	if err != nil {
		metrics.EventsConsumed.WithLabelValues(ConsumerID, "error").Inc()
		return err
	}
	metrics.EventsConsumed.WithLabelValues(ConsumerID, statusLabel(result.Status)).Inc()
	return nil
}

func statusLabel(s Status) string {
	switch s {
	case StatusIgnored:
		return "ignored"
	case StatusSkipped:
		return "skipped"
	case StatusDeferred:
		return "deferred"
	default:
		return "success"
	}
}

// HandleReminderTrigger delivers one reminder, or defers it if the user is
// inside quiet hours. Deferral counts as handled: the event is marked
// processed either way.
func (d *Dispatcher) HandleReminderTrigger(ctx context.Context, env *event.Envelope) (Result, error) {
	log := logger.WithTrace(ctx, d.logger)

	if err := env.Validate(); err != nil {
		log.Error("Malformed reminder envelope", zap.Error(err))
		return Result{}, fmt.Errorf("%w: %v", mq.ErrNonRetryable, err)
	}

	log.Info("Processing reminder event", zap.String("event_id", env.ID))

	reminder, err := env.ReminderPayload()
	if err != nil {
		log.Error("Failed to extract reminder data",
			zap.String("event_id", env.ID),
			zap.Error(err),
		)
		return Result{}, fmt.Errorf("%w: %v", mq.ErrNonRetryable, err)
	}

	pref := d.prefs.GetPreferences(ctx, reminder.UserID)

	var result Result
	err = d.ledger.Process(ctx, env.ID, ConsumerID, func(ctx context.Context) error {
		now := localNow(d.now(), pref.Timezone)
		if IsQuietHours(now, pref.QuietHoursStart, pref.QuietHoursEnd) {
			d.buffer(*reminder)
			metrics.NotificationsDeferred.Inc()
			log.Info("Quiet hours active, deferring notification",
				zap.String("user_id", reminder.UserID),
				zap.String("task_id", reminder.TaskID),
			)
			result = Result{Status: StatusDeferred, Detail: "quiet_hours"}
			return nil
		}

		delivered := d.deliver(ctx, *reminder, pref)
		result = Result{Status: StatusSuccess, Delivered: delivered}
		return nil
	})
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyProcessed) {
			return Result{Status: StatusSkipped, Detail: "already_processed"}, nil
		}
		return Result{}, err
	}

	log.Info("Reminder handled",
		zap.String("event_id", env.ID),
		zap.String("status", string(result.Status)),
		zap.Strings("delivered", result.Delivered),
	)
	return result, nil
}

// HandleReminderCancelled drops a buffered, not-yet-delivered reminder for
// the task. Cancellation is best-effort: an already-delivered reminder
// cannot be recalled.
func (d *Dispatcher) HandleReminderCancelled(ctx context.Context, env *event.Envelope) (Result, error) {
	log := logger.WithTrace(ctx, d.logger)

	reminder, err := env.ReminderPayload()
	if err != nil {
		log.Error("Failed to extract cancellation data",
			zap.String("event_id", env.ID),
			zap.Error(err),
		)
		return Result{}, fmt.Errorf("%w: %v", mq.ErrNonRetryable, err)
	}

	removed := d.removeBuffered(reminder.UserID, reminder.TaskID)
	log.Info("Reminder cancellation processed",
		zap.String("task_id", reminder.TaskID),
		zap.String("user_id", reminder.UserID),
		zap.Int("removed", removed),
	)
	return Result{Status: StatusSuccess, Detail: fmt.Sprintf("removed %d buffered", removed)}, nil
}

// deliver attempts each requested channel gated by the user's enabled flags.
// A failed channel never blocks the others.
func (d *Dispatcher) deliver(ctx context.Context, reminder event.ReminderData, pref *backend.Preference) []string {
	channels := reminder.Channels
	if len(channels) == 0 {
		channels = []string{ChannelEmail, ChannelPush}
	}

	var delivered []string
	for _, channel := range channels {
		switch channel {
		case ChannelEmail:
			if !pref.EmailEnabled {
				continue
			}
		case ChannelPush:
			if !pref.PushEnabled {
				continue
			}
		default:
			d.logger.Warn("Unknown notification channel",
				zap.String("channel", channel),
				zap.String("task_id", reminder.TaskID),
			)
			continue
		}

		if err := d.deliverer.Deliver(ctx, channel, reminder); err != nil {
			metrics.NotificationsDelivered.WithLabelValues(channel, "failed").Inc()
			d.logger.Error("Channel delivery failed",
				zap.String("channel", channel),
				zap.String("task_id", reminder.TaskID),
				zap.Error(err),
			)
			continue
		}
		delivered = append(delivered, channel)
	}
	return delivered
}

func (d *Dispatcher) buffer(reminder event.ReminderData) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[reminder.UserID] = append(d.pending[reminder.UserID], reminder)
}

func (d *Dispatcher) removeBuffered(userID, taskID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	buffered := d.pending[userID]
	if len(buffered) == 0 {
		return 0
	}

	kept := buffered[:0]
	removed := 0
	for _, r := range buffered {
		if r.TaskID == taskID {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		delete(d.pending, userID)
	} else {
		d.pending[userID] = kept
	}
	return removed
}

// PendingCount returns the number of buffered reminders for a user.
func (d *Dispatcher) PendingCount(userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending[userID])
}

type FlushSummary struct {
	UsersNotified int
	Delivered     int
}

// FlushPending drains the per-user buffers, re-checking quiet hours per user
// in case preferences changed. Users still inside quiet hours keep their
// buffer. Intended to run periodically after quiet hours end.
func (d *Dispatcher) FlushPending(ctx context.Context) FlushSummary {
	d.mu.Lock()
	users := make([]string, 0, len(d.pending))
	for userID := range d.pending {
		users = append(users, userID)
	}
	d.mu.Unlock()

	var summary FlushSummary
	for _, userID := range users {
		pref := d.prefs.GetPreferences(ctx, userID)
		now := localNow(d.now(), pref.Timezone)
		if IsQuietHours(now, pref.QuietHoursStart, pref.QuietHoursEnd) {
			continue
		}

		d.mu.Lock()
		reminders := d.pending[userID]
		delete(d.pending, userID)
		d.mu.Unlock()

		for _, reminder := range reminders {
			d.deliver(ctx, reminder, pref)
			summary.Delivered++
		}
		summary.UsersNotified++
	}

	if summary.Delivered > 0 {
		d.logger.Info("Flushed deferred notifications",
			zap.Int("users", summary.UsersNotified),
			zap.Int("delivered", summary.Delivered),
		)
	}
	return summary
}

// RunFlusher flushes deferred notifications on a fixed interval until ctx is
// cancelled.
func (d *Dispatcher) RunFlusher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Notification flusher stopped")
			return
		case <-ticker.C:
			d.FlushPending(ctx)
		}
	}
}
