package notify

import (
	"context"

	"go.uber.org/zap"

	"todoflow/internal/event"
	"todoflow/pkg/metrics"
)

// Notification channels.
const (
	ChannelEmail = "email"
	ChannelPush  = "push"
)

// Deliverer sends one reminder over one channel.
type Deliverer interface {
	Deliver(ctx context.Context, channel string, reminder event.ReminderData) error
}

// LogDeliverer simulates delivery by logging. Real integrations (SMTP, FCM)
// would replace this behind the same interface.
type LogDeliverer struct {
	logger *zap.Logger
}

func NewLogDeliverer(logger *zap.Logger) *LogDeliverer {
	return &LogDeliverer{logger: logger}
}

func (d *LogDeliverer) Deliver(ctx context.Context, channel string, reminder event.ReminderData) error {
	d.logger.Info("Delivering reminder notification",
		zap.String("channel", channel),
		zap.String("user_id", reminder.UserID),
		zap.String("task_id", reminder.TaskID),
		zap.String("task_title", reminder.TaskTitle),
		zap.Time("due_date", reminder.DueDate),
	)
	metrics.NotificationsDelivered.WithLabelValues(channel, "success").Inc()
	return nil
}
