package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"todoflow/internal/backend"
	"todoflow/internal/event"
	"todoflow/internal/ledger"
)

type fakePrefs struct {
	pref *backend.Preference
}

func (f *fakePrefs) GetPreferences(_ context.Context, userID string) *backend.Preference {
	if f.pref != nil {
		return f.pref
	}
	return backend.DefaultPreference(userID)
}

type recordingDeliverer struct {
	mu    sync.Mutex
	calls []string // "channel:task_id"
}

func (d *recordingDeliverer) Deliver(_ context.Context, channel string, r event.ReminderData) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, channel+":"+r.TaskID)
	return nil
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func newTestDispatcher(prefs PreferenceSource, deliverer Deliverer, now time.Time) *Dispatcher {
	led := ledger.New(ledger.NewMemoryStore(), zap.NewNop())
	d := NewDispatcher(led, prefs, deliverer, zap.NewNop())
	d.now = func() time.Time { return now }
	return d
}

func reminderEnvelope(t *testing.T, taskID, userID string) *event.Envelope {
	t.Helper()
	env, err := event.NewReminderEvent(event.TypeReminderTrigger, event.SourceScheduler, event.ReminderData{
		TaskID:        taskID,
		TaskTitle:     "water the plants",
		UserID:        userID,
		DueDate:       time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
		ScheduledTime: time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
	}, "")
	if err != nil {
		t.Fatalf("NewReminderEvent() error = %v", err)
	}
	return env
}

func TestHandleReminderTriggerDelivers(t *testing.T) {
	deliverer := &recordingDeliverer{}
	// Midday, well outside the default (empty) quiet hours.
	d := newTestDispatcher(&fakePrefs{}, deliverer, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	env := reminderEnvelope(t, "task-1", "user-1")
	result, err := d.HandleReminderTrigger(context.Background(), env)
	if err != nil {
		t.Fatalf("HandleReminderTrigger() error = %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %s, want %s", result.Status, StatusSuccess)
	}
	// No channels on the event: both default channels fire.
	if deliverer.count() != 2 {
		t.Errorf("deliveries = %d, want 2", deliverer.count())
	}
}

func TestHandleReminderTriggerIsIdempotent(t *testing.T) {
	deliverer := &recordingDeliverer{}
	d := newTestDispatcher(&fakePrefs{}, deliverer, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	env := reminderEnvelope(t, "task-1", "user-1")

	if _, err := d.HandleReminderTrigger(context.Background(), env); err != nil {
		t.Fatalf("first HandleReminderTrigger() error = %v", err)
	}
	result, err := d.HandleReminderTrigger(context.Background(), env)
	if err != nil {
		t.Fatalf("second HandleReminderTrigger() error = %v", err)
	}
	if result.Status != StatusSkipped {
		t.Errorf("redelivery status = %s, want %s", result.Status, StatusSkipped)
	}
	if deliverer.count() != 2 {
		t.Errorf("deliveries after redelivery = %d, want 2 (no duplicates)", deliverer.count())
	}
}

func TestHandleReminderTriggerDefersDuringQuietHours(t *testing.T) {
	deliverer := &recordingDeliverer{}
	prefs := &fakePrefs{pref: &backend.Preference{
		UserID:          "user-1",
		EmailEnabled:    true,
		PushEnabled:     true,
		QuietHoursStart: "22:00",
		QuietHoursEnd:   "08:00",
		Timezone:        "UTC",
	}}
	d := newTestDispatcher(prefs, deliverer, time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC))

	env := reminderEnvelope(t, "task-1", "user-1")
	result, err := d.HandleReminderTrigger(context.Background(), env)
	if err != nil {
		t.Fatalf("HandleReminderTrigger() error = %v", err)
	}
	if result.Status != StatusDeferred {
		t.Fatalf("status = %s, want %s", result.Status, StatusDeferred)
	}
	if deliverer.count() != 0 {
		t.Errorf("deliveries during quiet hours = %d, want 0", deliverer.count())
	}
	if d.PendingCount("user-1") != 1 {
		t.Errorf("pending = %d, want 1", d.PendingCount("user-1"))
	}
}

func TestFlushPendingAfterQuietHours(t *testing.T) {
	deliverer := &recordingDeliverer{}
	prefs := &fakePrefs{pref: &backend.Preference{
		UserID:          "user-1",
		EmailEnabled:    true,
		PushEnabled:     true,
		QuietHoursStart: "22:00",
		QuietHoursEnd:   "08:00",
		Timezone:        "UTC",
	}}
	d := newTestDispatcher(prefs, deliverer, time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC))

	env := reminderEnvelope(t, "task-1", "user-1")
	if _, err := d.HandleReminderTrigger(context.Background(), env); err != nil {
		t.Fatalf("HandleReminderTrigger() error = %v", err)
	}

	// Still inside quiet hours: nothing moves.
	summary := d.FlushPending(context.Background())
	if summary.Delivered != 0 {
		t.Fatalf("flush inside quiet hours delivered %d, want 0", summary.Delivered)
	}

	// Morning after.
	d.now = func() time.Time { return time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC) }
	summary = d.FlushPending(context.Background())
	if summary.Delivered != 1 {
		t.Fatalf("flush delivered %d reminders, want 1", summary.Delivered)
	}
	if summary.UsersNotified != 1 {
		t.Errorf("users notified = %d, want 1", summary.UsersNotified)
	}
	if deliverer.count() == 0 {
		t.Error("deliverer never called after flush")
	}
	if d.PendingCount("user-1") != 0 {
		t.Errorf("pending after flush = %d, want 0", d.PendingCount("user-1"))
	}
}

func TestHandleReminderCancelledDropsBuffered(t *testing.T) {
	deliverer := &recordingDeliverer{}
	prefs := &fakePrefs{pref: &backend.Preference{
		UserID:          "user-1",
		EmailEnabled:    true,
		PushEnabled:     true,
		QuietHoursStart: "22:00",
		QuietHoursEnd:   "08:00",
		Timezone:        "UTC",
	}}
	d := newTestDispatcher(prefs, deliverer, time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC))

	trigger := reminderEnvelope(t, "task-1", "user-1")
	if _, err := d.HandleReminderTrigger(context.Background(), trigger); err != nil {
		t.Fatalf("HandleReminderTrigger() error = %v", err)
	}

	cancel, err := event.NewReminderEvent(event.TypeReminderCancelled, event.SourceReminders, event.ReminderData{
		TaskID: "task-1",
		UserID: "user-1",
	}, "")
	if err != nil {
		t.Fatalf("NewReminderEvent() error = %v", err)
	}
	if _, err := d.HandleReminderCancelled(context.Background(), cancel); err != nil {
		t.Fatalf("HandleReminderCancelled() error = %v", err)
	}

	if d.PendingCount("user-1") != 0 {
		t.Errorf("pending after cancellation = %d, want 0", d.PendingCount("user-1"))
	}

	// Quiet hours end: the cancelled reminder must not surface.
	d.now = func() time.Time { return time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC) }
	d.FlushPending(context.Background())
	if deliverer.count() != 0 {
		t.Errorf("deliveries after cancellation = %d, want 0", deliverer.count())
	}
}

func TestDeliverRespectsChannelPreferences(t *testing.T) {
	deliverer := &recordingDeliverer{}
	prefs := &fakePrefs{pref: &backend.Preference{
		UserID:       "user-1",
		EmailEnabled: false,
		PushEnabled:  true,
		Timezone:     "UTC",
	}}
	d := newTestDispatcher(prefs, deliverer, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	env := reminderEnvelope(t, "task-1", "user-1")
	result, err := d.HandleReminderTrigger(context.Background(), env)
	if err != nil {
		t.Fatalf("HandleReminderTrigger() error = %v", err)
	}
	if len(result.Delivered) != 1 || result.Delivered[0] != ChannelPush {
		t.Errorf("delivered = %v, want [%s]", result.Delivered, ChannelPush)
	}
}
