package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"propdesk-affiliate/pkg/config"
	"propdesk-affiliate/pkg/db"
	"propdesk-affiliate/pkg/events"
	"propdesk-affiliate/pkg/featureflags"
	"propdesk-affiliate/pkg/gen"
	"propdesk-affiliate/pkg/lock"
	"propdesk-affiliate/pkg/logger"
	"propdesk-affiliate/pkg/otelcol"
	"propdesk-affiliate/pkg/profiling"
	"propdesk-affiliate/pkg/redis"
	"propdesk-affiliate/pkg/secretmanager"
	"propdesk-affiliate/pkg/sequence"
	"propdesk-affiliate/pkg/task"
	"propdesk-affiliate/services/account"
	"propdesk-affiliate/services/broker"
	"propdesk-affiliate/services/commission"
	"propdesk-affiliate/services/milestone"
	"propdesk-affiliate/services/notification"
	"propdesk-affiliate/services/orchestrator"
	"propdesk-affiliate/services/payout"
	"propdesk-affiliate/services/referral"
)

// The worker runs post-actions (email, broker calls, events, milestone
// evaluation), asynchronous purchase events and the nightly milestone sweep.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		lock.Module,
		sequence.Module,
		gen.Module,
		featureflags.Module,
		events.Module,
		task.Client,
		task.Server,
		account.Module,
		referral.Module,
		commission.Module,
		milestone.Module,
		payout.Module,
		notification.Module,
		notification.TaskModule,
		broker.Module,
		broker.TaskModule,
		orchestrator.Module,
		orchestrator.TaskModule,
		fxLogger,
	}

	if secretmanager.Enabled() {
		opts = append(opts, secretmanager.Module)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
