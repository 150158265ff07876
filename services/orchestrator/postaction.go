package orchestrator

import (
	"context"
	"fmt"
	"time"

	"propdesk-affiliate/pkg/events"
	"propdesk-affiliate/pkg/metrics"
	"propdesk-affiliate/pkg/task"
	"propdesk-affiliate/pkg/taskname"
	"propdesk-affiliate/services/broker"
	"propdesk-affiliate/services/notification"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// PostAction is a best-effort side effect run after the primary write has
// committed. A failing action is logged and counted, never returned.
type PostAction struct {
	Name string
	Run  func(ctx context.Context) error
}

type Dispatcher struct {
	enqueuer task.Enqueuer
	notifier notification.Notifier
}

type DispatcherParams struct {
	fx.In
	Enqueuer task.Enqueuer
	Notifier notification.Notifier
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{enqueuer: p.Enqueuer, notifier: p.Notifier}
}

// Dispatch runs every action in order. The caller's cancellation does not
// stop them since the primary result is already durable.
func (d *Dispatcher) Dispatch(ctx context.Context, actions ...PostAction) {
	ctx = context.WithoutCancel(ctx)
	for _, a := range actions {
		d.run(ctx, a)
	}
}

func (d *Dispatcher) run(ctx context.Context, a PostAction) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PostActionFailures.WithLabelValues(a.Name).Inc()
			logger(ctx).Error("post-action panicked", zap.String("action", a.Name), zap.Any("panic", r))
		}
	}()

	if err := a.Run(ctx); err != nil {
		metrics.PostActionFailures.WithLabelValues(a.Name).Inc()
		logger(ctx).Warn("post-action failed", zap.String("action", a.Name), zap.Error(err))
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, typename string, payload any, opts ...asynq.Option) error {
	t, err := task.NewJSONTask(typename, payload, opts...)
	if err != nil {
		return err
	}
	_, err = d.enqueuer.Enqueue(ctx, t)
	return err
}

type milestonePayload struct {
	UserID string `json:"user_id"`
}

func (d *Dispatcher) EvaluateMilestones(userID string) PostAction {
	return PostAction{
		Name: "milestone_evaluate",
		Run: func(ctx context.Context) error {
			return d.enqueue(ctx, taskname.MilestoneEvaluate, milestonePayload{UserID: userID},
				asynq.Queue(task.QueueDefault),
				asynq.MaxRetry(3),
			)
		},
	}
}

func (d *Dispatcher) Email(email notification.Email) PostAction {
	return PostAction{
		Name: "email",
		Run: func(ctx context.Context) error {
			return d.notifier.Send(ctx, email)
		},
	}
}

func (d *Dispatcher) ConsistencyCheck(login, payoutID string) PostAction {
	return PostAction{
		Name: "consistency_check",
		Run: func(ctx context.Context) error {
			return d.enqueue(ctx, taskname.BrokerConsistencyCheck,
				broker.ConsistencyCheckPayload{Login: login, PayoutID: payoutID},
				asynq.Queue(task.QueueDefault),
				asynq.MaxRetry(5),
				asynq.Timeout(time.Minute),
			)
		},
	}
}

func (d *Dispatcher) ResetAccount(login, payoutID string) PostAction {
	return PostAction{
		Name: "reset_account",
		Run: func(ctx context.Context) error {
			return d.enqueue(ctx, taskname.BrokerResetAccount,
				broker.AccountPayload{Login: login, PayoutID: payoutID},
				asynq.Queue(task.QueueCritical),
				asynq.MaxRetry(5),
				asynq.Timeout(time.Minute),
			)
		},
	}
}

func (d *Dispatcher) BreachAccount(login, payoutID string) PostAction {
	return PostAction{
		Name: "breach_account",
		Run: func(ctx context.Context) error {
			return d.enqueue(ctx, taskname.BrokerBreachAccount,
				broker.AccountPayload{Login: login, PayoutID: payoutID},
				asynq.Queue(task.QueueCritical),
				asynq.MaxRetry(5),
				asynq.Timeout(time.Minute),
			)
		},
	}
}

// Publish hands the event to the worker, which writes it to Kafka.
func (d *Dispatcher) Publish(typ, key string, data any) PostAction {
	return PostAction{
		Name: "event_" + typ,
		Run: func(ctx context.Context) error {
			event, err := events.NewEvent(typ, key, data)
			if err != nil {
				return fmt.Errorf("build %s event: %w", typ, err)
			}
			return d.enqueue(ctx, taskname.EventPublish, event,
				asynq.Queue(task.QueueLow),
				asynq.MaxRetry(10),
			)
		},
	}
}
