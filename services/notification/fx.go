package notification

import (
	"propdesk-affiliate/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(NewNotifier),
)

var TaskModule = fx.Module("task.notification",
	fx.Provide(NewSender, NewTask),
	fx.Invoke(registerHandlers),
)

func registerHandlers(mux *asynq.ServeMux, t *Task) {
	mux.HandleFunc(taskname.NotificationEmail, t.HandleEmail)
}
