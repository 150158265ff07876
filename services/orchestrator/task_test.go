package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"propdesk-affiliate/pkg/config"
	"propdesk-affiliate/pkg/errutil"
	"propdesk-affiliate/pkg/events"
	"propdesk-affiliate/pkg/taskname"
	"propdesk-affiliate/services/account"
	"propdesk-affiliate/services/testutil"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health/grpc_health_v1"
)

type publisherMock struct {
	fn func(ctx context.Context, event events.Event) error
}

func (m *publisherMock) Publish(ctx context.Context, event events.Event) error {
	return m.fn(ctx, event)
}

func jsonTask(t *testing.T, typ string, payload any) *asynq.Task {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(typ, b)
}

func TestHandlePurchaseCompleted(t *testing.T) {
	h := newHarness(t, nil, config.Affiliate{})
	h.user(t, "u1", "")
	h.user(t, "u2", "u1")
	testutil.Seed(t, h.db, &account.Plan{ID: "p1", Price: 400})
	task := NewTask(TaskParams{Service: h.svc, Publisher: &publisherMock{}})
	ctx := context.Background()

	err := task.HandlePurchaseCompleted(ctx, jsonTask(t, taskname.PurchaseCompleted, PurchaseCompleted{PurchaseID: "pay_1", UserID: "u2", PlanID: "p1", IsFirstOrder: true}))
	require.NoError(t, err)
	require.True(t, h.reload(t, "u1").IsAffiliate)

	err = task.HandlePurchaseCompleted(ctx, asynq.NewTask(taskname.PurchaseCompleted, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = task.HandlePurchaseCompleted(ctx, jsonTask(t, taskname.PurchaseCompleted, PurchaseCompleted{UserID: "ghost", PlanID: "p1"}))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleMilestoneEvaluate(t *testing.T) {
	h := newHarness(t, nil, config.Affiliate{})
	h.user(t, "u1", "")
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		h.user(t, id, "u1")
	}
	task := NewTask(TaskParams{Service: h.svc, Publisher: &publisherMock{}})

	err := task.HandleMilestoneEvaluate(context.Background(), jsonTask(t, taskname.MilestoneEvaluate, milestonePayload{UserID: "u1"}))
	require.NoError(t, err)

	list, err := h.svc.Achievements(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestHandleEventPublish(t *testing.T) {
	var got events.Event
	pub := &publisherMock{fn: func(_ context.Context, e events.Event) error {
		got = e
		return nil
	}}
	task := NewTask(TaskParams{Publisher: pub})

	event, err := events.NewEvent(events.PayoutReviewed, "u1", map[string]string{"id": "po1"})
	require.NoError(t, err)

	require.NoError(t, task.HandleEventPublish(context.Background(), jsonTask(t, taskname.EventPublish, event)))
	require.Equal(t, events.PayoutReviewed, got.Type)
	require.Equal(t, "u1", got.Key)
	require.JSONEq(t, `{"id":"po1"}`, string(got.Data))

	pub.fn = func(context.Context, events.Event) error { return errors.New("broker unavailable") }
	err = task.HandleEventPublish(context.Background(), jsonTask(t, taskname.EventPublish, event))
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestRetryable(t *testing.T) {
	require.NoError(t, retryable(nil))
	require.NotErrorIs(t, retryable(errutil.Internal("internal error", nil)), asynq.SkipRetry)
	require.NotErrorIs(t, retryable(errors.New("db gone")), asynq.SkipRetry)
	require.ErrorIs(t, retryable(errutil.NotFound("user not found", nil)), asynq.SkipRetry)
	require.ErrorIs(t, retryable(errutil.ValidationFailed("bad", nil)), asynq.SkipRetry)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthCheck(t *testing.T) {
	var down bool
	h := &HealthServer{store: pingFunc(func(context.Context) error {
		if down {
			return errors.New("connection refused")
		}
		return nil
	})}
	ctx := context.Background()

	res, err := h.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, res.Status)

	down = true
	res, err = h.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	require.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, res.Status)

	_, err = h.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "other"})
	require.Error(t, err)
}
