package orchestrator

import (
	"propdesk-affiliate/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("orchestrator.service",
	fx.Provide(
		NewDispatcher,
		NewService,
	),
)

// HTTPModule serves the /v1 API and the gRPC health service.
var HTTPModule = fx.Module("orchestrator.http",
	fx.Provide(
		NewHandler,
		NewHealthServer,
	),
	fx.Invoke(
		RegisterRoutes,
		registerHealthServer,
	),
)

var TaskModule = fx.Module("task.orchestrator",
	fx.Provide(
		NewTask,
		NewScheduler,
	),
	fx.Invoke(
		registerHandlers,
		StartScheduler,
	),
)

func registerHandlers(mux *asynq.ServeMux, t *Task) {
	mux.HandleFunc(taskname.PurchaseCompleted, t.HandlePurchaseCompleted)
	mux.HandleFunc(taskname.MilestoneEvaluate, t.HandleMilestoneEvaluate)
	mux.HandleFunc(taskname.EventPublish, t.HandleEventPublish)
}
