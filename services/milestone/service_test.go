package milestone

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"propdesk-affiliate/pkg/celengine"
	"propdesk-affiliate/pkg/config"
	"propdesk-affiliate/services/referral"
	"propdesk-affiliate/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type statsMock struct {
	calls int32
	fn    func(ctx context.Context, userID string) (*referral.Stats, error)
}

func (m *statsMock) Stats(ctx context.Context, userID string) (*referral.Stats, error) {
	atomic.AddInt32(&m.calls, 1)
	return m.fn(ctx, userID)
}

func fixedStats(tiers [4]int64) *statsMock {
	return &statsMock{fn: func(_ context.Context, userID string) (*referral.Stats, error) {
		s := &referral.Stats{UserID: userID, Tiers: tiers}
		for _, n := range tiers {
			s.Total += n
		}
		return s, nil
	}}
}

func newTestService(t *testing.T, stats StatsReader, milestones []config.Milestone) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, Models()...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	engine, err := celengine.NewIntEngine(conditionVars...)
	require.NoError(t, err)
	defs, err := Compile(engine, milestones)
	require.NoError(t, err)

	return New(db, node, stats, defs)
}

func TestCompileDefaults(t *testing.T) {
	engine, err := celengine.NewIntEngine(conditionVars...)
	require.NoError(t, err)

	defs, err := Compile(engine, config.DefaultMilestones())
	require.NoError(t, err)
	require.Len(t, defs, 5)
	require.Equal(t, "tier_1 >= 5", defs[0].Expr)
	require.Equal(t, "Successfully refer 5 clients in Tier 1.", defs[0].Text)
	require.Equal(t, "total >= 250", defs[3].Expr)
	require.Equal(t, "Build a total network of 250 clients across all tiers.", defs[3].Text)
}

func TestCompileRejectsBadDefinitions(t *testing.T) {
	engine, err := celengine.NewIntEngine(conditionVars...)
	require.NoError(t, err)

	_, err = Compile(engine, []config.Milestone{{Rank: 1, Label: "none"}})
	require.Error(t, err)

	_, err = Compile(engine, []config.Milestone{{Rank: 1, Tier: 1, Users: 1}, {Rank: 1, TotalUsers: 3}})
	require.Error(t, err)

	_, err = Compile(engine, []config.Milestone{{Rank: 1, Expression: "total + 1"}})
	require.Error(t, err)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	stats := fixedStats([4]int64{6, 0, 0, 0})
	svc := newTestService(t, stats, config.DefaultMilestones())
	ctx := context.Background()

	got, err := svc.Evaluate(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 1, got.Rank)
	require.Equal(t, "Bronze", got.Label)

	got, err = svc.Evaluate(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, got)

	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestEvaluateNeverSkipsRanks(t *testing.T) {
	// rank 3 (tier 2 >= 25) holds but rank 2 (tier 1 >= 25) does not
	stats := fixedStats([4]int64{10, 30, 0, 0})
	svc := newTestService(t, stats, config.DefaultMilestones())
	ctx := context.Background()

	got, err := svc.Evaluate(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, got.Rank)

	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestEvaluateRecordsContiguousRun(t *testing.T) {
	stats := fixedStats([4]int64{30, 30, 100, 100})
	svc := newTestService(t, stats, config.DefaultMilestones())
	ctx := context.Background()

	got, err := svc.Evaluate(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 4, got.Rank)
	require.Equal(t, "Platinum", got.Label)

	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 4)
	for i, a := range list {
		require.Equal(t, i+1, a.Rank)
	}
}

func TestEvaluateResumesAfterCurrentRank(t *testing.T) {
	var tier1 int64 = 5
	stats := &statsMock{fn: func(_ context.Context, userID string) (*referral.Stats, error) {
		return &referral.Stats{UserID: userID, Tiers: [4]int64{tier1}, Total: tier1}, nil
	}}
	svc := newTestService(t, stats, config.DefaultMilestones())
	ctx := context.Background()

	got, err := svc.Evaluate(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, got.Rank)

	tier1 = 25
	got, err = svc.Evaluate(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, got.Rank)
}

func TestEvaluateSkipsStatsWhenAllAchieved(t *testing.T) {
	stats := fixedStats([4]int64{5})
	svc := newTestService(t, stats, []config.Milestone{{Rank: 1, Label: "Only", Tier: 1, Users: 5}})
	ctx := context.Background()

	_, err := svc.Evaluate(ctx, "u1")
	require.NoError(t, err)
	_, err = svc.Evaluate(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&stats.calls))
}

func TestEvaluateCustomExpression(t *testing.T) {
	stats := fixedStats([4]int64{3, 3, 0, 0})
	svc := newTestService(t, stats, []config.Milestone{
		{Rank: 1, Label: "Balanced", Expression: "tier_1 >= 3 && tier_2 >= 3", Reward: "badge"},
	})

	got, err := svc.Evaluate(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "Balanced", got.Text)
	require.Equal(t, "badge", got.Reward)
}

func TestLeaderboard(t *testing.T) {
	stats := &statsMock{fn: func(_ context.Context, userID string) (*referral.Stats, error) {
		switch userID {
		case "top":
			return &referral.Stats{Tiers: [4]int64{30, 30}, Total: 60}, nil
		case "mid":
			return &referral.Stats{Tiers: [4]int64{30}, Total: 30}, nil
		default:
			return &referral.Stats{Tiers: [4]int64{5}, Total: 5}, nil
		}
	}}
	svc := newTestService(t, stats, config.DefaultMilestones())
	ctx := context.Background()

	for _, id := range []string{"low", "mid", "top"} {
		_, err := svc.Evaluate(ctx, id)
		require.NoError(t, err)
	}

	rows, err := svc.Leaderboard(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, LeaderboardRow{UserID: "top", Achievements: 3, HighestRank: 3}, rows[0])
	require.Equal(t, LeaderboardRow{UserID: "mid", Achievements: 2, HighestRank: 2}, rows[1])
}

func TestConcurrentEvaluateRecordsEachRankOnce(t *testing.T) {
	stats := fixedStats([4]int64{30, 30, 0, 0})
	svc := newTestService(t, stats, config.DefaultMilestones())
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.Evaluate(ctx, "u1")
			errs <- err
		}()
		// bypasses the per-user collapse so the unique index is what holds
		go func() {
			defer wg.Done()
			_, err := svc.evaluate(ctx, "u1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, a := range list {
		require.Equal(t, i+1, a.Rank)
	}
}

func TestEvaluateSurvivesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stats := &statsMock{fn: func(evalCtx context.Context, userID string) (*referral.Stats, error) {
		cancel()
		require.NoError(t, evalCtx.Err())
		return &referral.Stats{UserID: userID, Tiers: [4]int64{5, 0, 0, 0}, Total: 5}, nil
	}}
	svc := newTestService(t, stats, config.DefaultMilestones())

	got, err := svc.Evaluate(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Bronze", got.Label)

	list, err := svc.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}
