// Package scheduler publishes reminder events for tasks approaching their
// due dates: directly at task create/update time, and from a periodic scan
// over the backend's upcoming-task listing.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"todoflow/internal/backend"
	"todoflow/internal/event"
	"todoflow/pkg/logger"
	"todoflow/pkg/metrics"
	"todoflow/pkg/trace"
)

const (
	// DefaultScanInterval is how often the scan loop runs.
	DefaultScanInterval = 60 * time.Second
	// DefaultLookahead is how far ahead the scan looks for due tasks.
	DefaultLookahead = 60 * time.Minute
	// DefaultReminderOffset applies when a task carries no offset.
	DefaultReminderOffset = 30
	// ScheduleHorizon bounds direct scheduling; tasks due further out are
	// left for later scans.
	ScheduleHorizon = 7 * 24 * time.Hour
)

// TaskLister lists incomplete tasks due before a given time.
// *backend.Client satisfies it.
type TaskLister interface {
	ListUpcomingTasks(ctx context.Context, dueBefore time.Time) ([]backend.UpcomingTask, error)
}

// ReminderPublisher publishes a reminder event partitioned by user.
// *publisher.EventPublisher satisfies it.
type ReminderPublisher interface {
	PublishReminderEvent(ctx context.Context, env *event.Envelope, userID string) bool
}

type Scheduler struct {
	lister       TaskLister
	publisher    ReminderPublisher
	tracker      Tracker
	logger       *zap.Logger
	scanInterval time.Duration
	lookahead    time.Duration
	now          func() time.Time
}

func New(lister TaskLister, pub ReminderPublisher, tracker Tracker, log *zap.Logger) *Scheduler {
	return &Scheduler{
		lister:       lister,
		publisher:    pub,
		tracker:      tracker,
		logger:       log,
		scanInterval: DefaultScanInterval,
		lookahead:    DefaultLookahead,
		now:          time.Now,
	}
}

func (s *Scheduler) WithScanInterval(d time.Duration) *Scheduler {
	s.scanInterval = d
	return s
}

func (s *Scheduler) WithLookahead(d time.Duration) *Scheduler {
	s.lookahead = d
	return s
}

// ScheduleReminder publishes a reminder for a task at create/update time.
// Skipped when the reminder moment already passed or the due date is beyond
// the scheduling horizon (the scan loop picks those up later).
func (s *Scheduler) ScheduleReminder(ctx context.Context, task backend.UpcomingTask) bool {
	log := logger.WithTrace(ctx, s.logger)

	if task.DueDate == nil {
		return false
	}

	offset := task.ReminderOffset
	if offset <= 0 {
		offset = DefaultReminderOffset
	}

	now := s.now().UTC()
	scheduledTime := task.DueDate.Add(-time.Duration(offset) * time.Minute)

	if !scheduledTime.After(now) {
		log.Info("Skipping reminder: scheduled time is in the past",
			zap.String("task_id", task.ID),
			zap.Time("scheduled_time", scheduledTime),
		)
		return false
	}
	if task.DueDate.Sub(now) > ScheduleHorizon {
		log.Debug("Skipping reminder: due date beyond horizon",
			zap.String("task_id", task.ID),
			zap.Time("due_date", *task.DueDate),
		)
		return false
	}

	if !s.publishReminder(ctx, task, scheduledTime, "direct") {
		return false
	}
	log.Info("Reminder scheduled",
		zap.String("task_id", task.ID),
		zap.String("user_id", task.UserID),
		zap.Time("due_date", *task.DueDate),
		zap.Time("scheduled_time", scheduledTime),
	)
	return true
}

// CancelReminder publishes a best-effort cancellation. It prevents a future,
// not-yet-delivered reminder; it cannot recall a delivered one.
func (s *Scheduler) CancelReminder(ctx context.Context, taskID, userID string) bool {
	env, err := event.NewReminderEvent(event.TypeReminderCancelled, event.SourceReminders, event.ReminderData{
		TaskID:        taskID,
		UserID:        userID,
		DueDate:       s.now().UTC(),
		ScheduledTime: s.now().UTC(),
		Channels:      []string{},
	}, trace.FromContext(ctx))
	if err != nil {
		s.logger.Error("Failed to build cancellation event",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		return false
	}

	ok := s.publisher.PublishReminderEvent(ctx, env, userID)
	if ok {
		s.logger.Info("Reminder cancelled",
			zap.String("task_id", taskID),
			zap.String("user_id", userID),
		)
	}
	return ok
}

// RescheduleReminder cancels the pending reminder and schedules one for the
// new due date.
func (s *Scheduler) RescheduleReminder(ctx context.Context, task backend.UpcomingTask) bool {
	s.CancelReminder(ctx, task.ID, task.UserID)
	return s.ScheduleReminder(ctx, task)
}

// ShouldSendReminder decides whether the scan loop should publish now: the
// reminder window has opened (due - offset <= now), the task is not yet
// overdue, and no reminder was sent inside the tracking window.
func (s *Scheduler) ShouldSendReminder(ctx context.Context, taskID string, dueDate time.Time, offsetMinutes int) bool {
	now := s.now().UTC()
	reminderTime := dueDate.Add(-time.Duration(offsetMinutes) * time.Minute)

	if now.Before(reminderTime) {
		return false
	}
	if now.After(dueDate) {
		return false
	}
	return !s.tracker.WasSent(ctx, taskID)
}

type ScanSummary struct {
	TasksScanned int
	Sent         int
	Skipped      int
	Pruned       int
}

// ScanOnce runs one scan cycle: list tasks due within the lookahead window
// and publish a reminder for each task whose window has opened.
func (s *Scheduler) ScanOnce(ctx context.Context) ScanSummary {
	now := s.now().UTC()
	windowEnd := now.Add(s.lookahead)

	tasks, err := s.lister.ListUpcomingTasks(ctx, windowEnd)
	if err != nil {
		s.logger.Error("Failed to list upcoming tasks", zap.Error(err))
		return ScanSummary{}
	}

	summary := ScanSummary{TasksScanned: len(tasks)}
	for _, task := range tasks {
		if task.DueDate == nil || !task.DueDate.After(now) {
			summary.Skipped++
			continue
		}

		offset := task.ReminderOffset
		if offset <= 0 {
			offset = DefaultReminderOffset
		}

		if !s.ShouldSendReminder(ctx, task.ID, *task.DueDate, offset) {
			summary.Skipped++
			continue
		}
		if !s.tracker.MarkSent(ctx, task.ID) {
			// Lost the race to another scanner instance.
			summary.Skipped++
			continue
		}

		scheduledTime := task.DueDate.Add(-time.Duration(offset) * time.Minute)
		if s.publishReminder(ctx, task, scheduledTime, "scan") {
			summary.Sent++
		} else {
			summary.Skipped++
		}
	}

	summary.Pruned = s.tracker.Prune(ctx)
	return summary
}

func (s *Scheduler) publishReminder(ctx context.Context, task backend.UpcomingTask, scheduledTime time.Time, trigger string) bool {
	offset := task.ReminderOffset
	if offset <= 0 {
		offset = DefaultReminderOffset
	}

	env, err := event.NewReminderEvent(event.TypeReminderTrigger, event.SourceScheduler, event.ReminderData{
		TaskID:         task.ID,
		TaskTitle:      task.Title,
		UserID:         task.UserID,
		DueDate:        task.DueDate.UTC(),
		ScheduledTime:  scheduledTime.UTC(),
		ReminderOffset: offset,
		Channels:       []string{"email", "push"},
	}, trace.FromContext(ctx))
	if err != nil {
		s.logger.Error("Failed to build reminder event",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
		return false
	}

	if !s.publisher.PublishReminderEvent(ctx, env, task.UserID) {
		return false
	}
	metrics.RemindersPublished.WithLabelValues(trigger).Inc()
	return true
}

// Run executes the scan loop until ctx is cancelled. Each cycle completes or
// is abandoned whole; nothing is left half-published across shutdown.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Reminder scheduler starting",
		zap.Duration("scan_interval", s.scanInterval),
		zap.Duration("lookahead", s.lookahead),
	)

	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reminder scheduler stopped")
			return
		case <-ticker.C:
			summary := s.ScanOnce(ctx)
			if summary.TasksScanned > 0 || summary.Sent > 0 {
				s.logger.Info("Reminder scan completed",
					zap.Int("tasks_scanned", summary.TasksScanned),
					zap.Int("reminders_sent", summary.Sent),
					zap.Int("skipped", summary.Skipped),
					zap.Int("tracking_pruned", summary.Pruned),
				)
			}
		}
	}
}
