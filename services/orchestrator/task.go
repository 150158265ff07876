package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"propdesk-affiliate/pkg/errutil"
	"propdesk-affiliate/pkg/events"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Task runs the orchestrator's background work on the asynq worker.
type Task struct {
	service   *Service
	publisher events.Publisher
}

type TaskParams struct {
	fx.In
	Service   *Service
	Publisher events.Publisher
}

func NewTask(p TaskParams) *Task {
	return &Task{service: p.Service, publisher: p.Publisher}
}

// retryable returns err unchanged when another attempt may succeed and marks
// it SkipRetry otherwise.
func retryable(err error) error {
	if err == nil {
		return nil
	}
	switch errutil.As(err).Code {
	case errutil.StatusInternal, errutil.StatusTimeout, errutil.StatusBadGateway, errutil.StatusServiceUnavailable, errutil.StatusTooManyRequests:
		return err
	}
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

// HandlePurchaseCompleted is the asynchronous twin of POST /v1/purchases/completed.
func (t *Task) HandlePurchaseCompleted(ctx context.Context, task *asynq.Task) error {
	var in PurchaseCompleted
	if err := json.Unmarshal(task.Payload(), &in); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	log := zap.L().With(zap.String("task_type", task.Type()), zap.String("user_id", in.UserID), zap.String("purchase_id", in.PurchaseID))

	res, err := t.service.OnPurchaseCompleted(ctx, in)
	if err != nil {
		log.Error("purchase processing failed", zap.Error(err))
		return retryable(err)
	}

	log.Info("purchase processed", zap.Bool("processed", res.Processed), zap.String("reason", res.Reason))
	return nil
}

func (t *Task) HandleMilestoneEvaluate(ctx context.Context, task *asynq.Task) error {
	var p milestonePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	log := zap.L().With(zap.String("task_type", task.Type()), zap.String("user_id", p.UserID))

	achieved, err := t.service.EvaluateMilestones(ctx, p.UserID)
	if err != nil {
		log.Error("milestone evaluation failed", zap.Error(err))
		return retryable(err)
	}
	if achieved != nil {
		log.Info("milestone achieved", zap.Int("rank", achieved.Rank), zap.String("label", achieved.Label))
	}
	return nil
}

func (t *Task) HandleEventPublish(ctx context.Context, task *asynq.Task) error {
	var event events.Event
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	if err := t.publisher.Publish(ctx, event); err != nil {
		zap.L().Warn("event publish failed",
			zap.String("task_type", task.Type()),
			zap.String("event_type", event.Type),
			zap.String("key", event.Key),
			zap.Error(err),
		)
		return err
	}
	return nil
}
