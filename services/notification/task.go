package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Task struct {
	sender *Sender
}

func NewTask(sender *Sender) *Task {
	return &Task{sender: sender}
}

func (t *Task) HandleEmail(ctx context.Context, task *asynq.Task) error {
	var email Email
	if err := json.Unmarshal(task.Payload(), &email); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	log := zap.L().With(zap.String("task_type", task.Type()), zap.String("template", email.Template))
	if err := t.sender.Deliver(ctx, email); err != nil {
		log.Error("failed to deliver email", zap.Error(err))
		return err
	}
	log.Info("email delivered")
	return nil
}
