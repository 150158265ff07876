package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type ConsistencyCheckPayload struct {
	Login    string `json:"login"`
	PayoutID string `json:"payout_id"`
}

type AccountPayload struct {
	Login    string `json:"login"`
	PayoutID string `json:"payout_id,omitempty"`
}

type Task struct {
	manager Manager
}

func NewTask(manager Manager) *Task {
	return &Task{manager: manager}
}

func (t *Task) HandleConsistencyCheck(ctx context.Context, task *asynq.Task) error {
	var p ConsistencyCheckPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	log := zap.L().With(zap.String("task_type", task.Type()), zap.String("login", p.Login), zap.String("payout_id", p.PayoutID))
	if err := t.manager.CheckConsistency(ctx, p.Login, p.PayoutID); err != nil {
		log.Error("consistency check failed", zap.Error(err))
		return err
	}
	log.Info("consistency check requested")
	return nil
}

func (t *Task) HandleResetAccount(ctx context.Context, task *asynq.Task) error {
	var p AccountPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	log := zap.L().With(zap.String("task_type", task.Type()), zap.String("login", p.Login), zap.String("payout_id", p.PayoutID))
	if err := t.manager.ResetAccount(ctx, p.Login); err != nil {
		log.Error("account reset failed", zap.Error(err))
		return err
	}
	log.Info("account reset requested")
	return nil
}

func (t *Task) HandleBreachAccount(ctx context.Context, task *asynq.Task) error {
	var p AccountPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	log := zap.L().With(zap.String("task_type", task.Type()), zap.String("login", p.Login), zap.String("payout_id", p.PayoutID))
	if err := t.manager.BreachAccount(ctx, p.Login); err != nil {
		log.Error("account breach failed", zap.Error(err))
		return err
	}
	log.Info("account breached")
	return nil
}
