package orchestrator

import (
	"context"
	"time"

	"propdesk-affiliate/services/account"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sweepBatchSize = 500

// Scheduler re-evaluates every affiliate's milestones once a night so that
// referral changes made outside purchases (re-parenting, imports) are picked up.
type Scheduler struct {
	db         *gorm.DB
	dispatcher *Dispatcher
	hour       int
	minute     int
}

func NewScheduler(db *gorm.DB, dispatcher *Dispatcher) *Scheduler {
	return &Scheduler{db: db, dispatcher: dispatcher, hour: 1}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started milestone sweep scheduler")

	for {
		now := time.Now()
		next := nextRunTime(now, s.hour, s.minute)

		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", next.Sub(now)),
		)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-timer.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			timer.Stop()
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

// Sweep enqueues one milestone evaluation per affiliate and returns how many
// were dispatched.
func (s *Scheduler) Sweep(ctx context.Context) int {
	start := time.Now()
	var (
		after string
		total int
	)

	for {
		var ids []string
		err := s.db.WithContext(ctx).Model(&account.User{}).
			Where("is_affiliate = ? AND id > ?", true, after).
			Order("id").
			Limit(sweepBatchSize).
			Pluck("id", &ids).Error
		if err != nil {
			zap.L().Error("[Scheduler] failed to list affiliates", zap.Error(err))
			return total
		}
		if len(ids) == 0 {
			break
		}

		actions := make([]PostAction, 0, len(ids))
		for _, id := range ids {
			actions = append(actions, s.dispatcher.EvaluateMilestones(id))
		}
		s.dispatcher.Dispatch(ctx, actions...)

		total += len(ids)
		after = ids[len(ids)-1]
		if len(ids) < sweepBatchSize || ctx.Err() != nil {
			break
		}
	}

	zap.L().Info("[Scheduler] milestone sweep finished",
		zap.Int("affiliates", total),
		zap.Duration("duration", time.Since(start)),
	)
	return total
}

// nextRunTime returns the next occurrence of hour:minute after now.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
