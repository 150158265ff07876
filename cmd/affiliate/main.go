package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"propdesk-affiliate/pkg/config"
	"propdesk-affiliate/pkg/db"
	"propdesk-affiliate/pkg/featureflags"
	"propdesk-affiliate/pkg/gen"
	"propdesk-affiliate/pkg/hashistack/servicediscover"
	"propdesk-affiliate/pkg/health"
	"propdesk-affiliate/pkg/lock"
	"propdesk-affiliate/pkg/logger"
	"propdesk-affiliate/pkg/middleware"
	"propdesk-affiliate/pkg/otelcol"
	"propdesk-affiliate/pkg/profiling"
	"propdesk-affiliate/pkg/redis"
	"propdesk-affiliate/pkg/secretmanager"
	"propdesk-affiliate/pkg/sequence"
	"propdesk-affiliate/pkg/server"
	"propdesk-affiliate/pkg/task"
	"propdesk-affiliate/services/account"
	"propdesk-affiliate/services/commission"
	"propdesk-affiliate/services/milestone"
	"propdesk-affiliate/services/notification"
	"propdesk-affiliate/services/orchestrator"
	"propdesk-affiliate/services/payout"
	"propdesk-affiliate/services/referral"
)

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
		task.Client,
		health.Module,
		middleware.AuthzModule,
		account.Module,
		referral.Module,
		commission.Module,
		milestone.Module,
		payout.Module,
		notification.Module,
		orchestrator.Module,
		orchestrator.HTTPModule,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		fx.Supply(fx.Annotated{Name: "grpc_health_service", Target: orchestrator.ServiceName}),
		servicediscover.Module,
		fx.Invoke(migrate),
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

func migrate(cfg *config.Config, conn *gorm.DB) error {
	models := account.Models()
	models = append(models, commission.Models()...)
	models = append(models, milestone.Models()...)
	models = append(models, payout.Models()...)
	return db.Migrate(cfg, conn, models...)
}
