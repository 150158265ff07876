package notification

import (
	"context"
	"errors"
	"time"

	"propdesk-affiliate/pkg/task"
	"propdesk-affiliate/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

// Notifier hands an email to the background worker.
type Notifier interface {
	Send(ctx context.Context, email Email) error
}

type taskNotifier struct {
	enqueuer task.Enqueuer
}

type NotifierParams struct {
	fx.In
	Enqueuer task.Enqueuer
}

func NewNotifier(p NotifierParams) Notifier {
	return &taskNotifier{enqueuer: p.Enqueuer}
}

func (n *taskNotifier) Send(ctx context.Context, email Email) error {
	if email.To == "" {
		return errors.New("notification: recipient is required")
	}
	if email.Template == "" {
		return errors.New("notification: template is required")
	}

	t, err := task.NewJSONTask(taskname.NotificationEmail, email,
		asynq.Queue(task.QueueLow),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	)
	if err != nil {
		return err
	}

	_, err = n.enqueuer.Enqueue(ctx, t)
	return err
}
