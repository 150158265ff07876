package broker

import (
	"context"
	"errors"
	"testing"

	"propdesk-affiliate/pkg/task"
	"propdesk-affiliate/pkg/taskname"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type managerMock struct {
	checkFn  func(ctx context.Context, login, payoutID string) error
	resetFn  func(ctx context.Context, login string) error
	breachFn func(ctx context.Context, login string) error
}

func (m *managerMock) CheckConsistency(ctx context.Context, login, payoutID string) error {
	return m.checkFn(ctx, login, payoutID)
}

func (m *managerMock) ResetAccount(ctx context.Context, login string) error {
	return m.resetFn(ctx, login)
}

func (m *managerMock) BreachAccount(ctx context.Context, login string) error {
	return m.breachFn(ctx, login)
}

func TestHandleConsistencyCheck(t *testing.T) {
	var got []string
	h := NewTask(&managerMock{checkFn: func(_ context.Context, login, payoutID string) error {
		got = append(got, login, payoutID)
		return nil
	}})

	tk, err := task.NewJSONTask(taskname.BrokerConsistencyCheck, ConsistencyCheckPayload{Login: "1001", PayoutID: "po-1"})
	require.NoError(t, err)
	require.NoError(t, h.HandleConsistencyCheck(context.Background(), tk))
	require.Equal(t, []string{"1001", "po-1"}, got)
}

func TestHandleResetPropagatesFailure(t *testing.T) {
	boom := errors.New("boom")
	h := NewTask(&managerMock{resetFn: func(context.Context, string) error { return boom }})

	tk, err := task.NewJSONTask(taskname.BrokerResetAccount, AccountPayload{Login: "1001"})
	require.NoError(t, err)
	require.ErrorIs(t, h.HandleResetAccount(context.Background(), tk), boom)
}

func TestHandleBreachRejectsBadPayload(t *testing.T) {
	h := NewTask(&managerMock{})

	err := h.HandleBreachAccount(context.Background(), asynq.NewTask(taskname.BrokerBreachAccount, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
