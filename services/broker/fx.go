package broker

import (
	"propdesk-affiliate/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("broker.client",
	fx.Provide(NewManager),
)

var TaskModule = fx.Module("task.broker",
	fx.Provide(NewTask),
	fx.Invoke(registerHandlers),
)

func registerHandlers(mux *asynq.ServeMux, t *Task) {
	mux.HandleFunc(taskname.BrokerConsistencyCheck, t.HandleConsistencyCheck)
	mux.HandleFunc(taskname.BrokerResetAccount, t.HandleResetAccount)
	mux.HandleFunc(taskname.BrokerBreachAccount, t.HandleBreachAccount)
}
