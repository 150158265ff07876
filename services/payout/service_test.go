package payout

import (
	"context"
	"sync"
	"testing"
	"time"

	"propdesk-affiliate/pkg/config"
	"propdesk-affiliate/pkg/db/pagination"
	"propdesk-affiliate/pkg/errutil"
	"propdesk-affiliate/pkg/lock"
	"propdesk-affiliate/pkg/sequence"
	"propdesk-affiliate/services/account"
	"propdesk-affiliate/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type earningsFunc func(ctx context.Context, userID string) (float64, error)

func (f earningsFunc) TotalForReferrer(ctx context.Context, userID string) (float64, error) {
	return f(ctx, userID)
}

func staticEarnings(total float64) Earnings {
	return earningsFunc(func(context.Context, string) (float64, error) { return total, nil })
}

var epoch = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, earnings Earnings) (*Service, *gorm.DB) {
	t.Helper()

	models := append(account.Models(), Models()...)
	db := testutil.NewTestDB(t, models...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	accounts := account.NewService(account.ServiceParams{DB: db})
	svc := New(db, node, config.Affiliate{}, lock.NewLocal(time.Second), sequence.NewLocal(), accounts, earnings)
	svc.now = func() time.Time { return epoch }
	return svc, db
}

func affiliateInput(userID string, amount float64) RequestInput {
	return RequestInput{UserID: userID, Amount: amount, Category: CategoryAffiliate, Currency: "USDT", WalletAddress: "TXabc"}
}

func tradingInput(userID, login string, amount float64) RequestInput {
	return RequestInput{UserID: userID, Amount: amount, Category: CategoryTrading, Currency: "USDT", WalletAddress: "TXabc", Login: login, Platform: account.PlatformMT5}
}

func TestAffiliateBelowGlobalMinimum(t *testing.T) {
	svc, db := newTestService(t, staticEarnings(10000))
	testutil.Seed(t, db, &account.User{ID: "u1"})

	d, err := svc.ValidateAndSize(context.Background(), affiliateInput("u1", 50))
	require.NoError(t, err)
	require.False(t, d.Accepted())
	require.Equal(t, RejectBelowMinimum, d.Rejection.Code)
	require.Equal(t, "Amount should be greater or equal to $100 is required for payouts.", d.Rejection.Reason)
}

func TestAffiliateAcceptedThenCooldown(t *testing.T) {
	svc, db := newTestService(t, staticEarnings(500))
	testutil.Seed(t, db, &account.User{ID: "u1"})
	ctx := context.Background()

	d, err := svc.ValidateAndSize(ctx, affiliateInput("u1", 200))
	require.NoError(t, err)
	require.True(t, d.Accepted())
	require.Equal(t, StatusPending, d.Request.Status)
	require.False(t, d.Request.IsPaid)
	require.NotEmpty(t, d.Request.Reference)

	svc.now = func() time.Time { return epoch.Add(84 * time.Hour) }
	d, err = svc.ValidateAndSize(ctx, affiliateInput("u1", 100))
	require.NoError(t, err)
	require.Equal(t, RejectCooldown, d.Rejection.Code)
	require.Equal(t, 11, d.Rejection.RemainingDays)
	require.Equal(t, "You can request a payout only after 14 days from your last request. Please wait 11 more day(s).", d.Rejection.Reason)

	svc.now = func() time.Time { return epoch.Add(14 * 24 * time.Hour) }
	d, err = svc.ValidateAndSize(ctx, affiliateInput("u1", 100))
	require.NoError(t, err)
	require.True(t, d.Accepted())
}

func TestAffiliateCooldownUsesUserOrderAge(t *testing.T) {
	svc, db := newTestService(t, staticEarnings(1000))
	testutil.Seed(t, db,
		&account.User{ID: "u1", OrderAgeDays: testutil.Ptr(3)},
		&Request{ID: "old", Reference: "PO-old", UserID: "u1", Category: CategoryAffiliate, Status: StatusPending, Amount: 100, CreatedAt: epoch.Add(-24 * time.Hour)},
	)

	d, err := svc.ValidateAndSize(context.Background(), affiliateInput("u1", 100))
	require.NoError(t, err)
	require.Equal(t, 2, d.Rejection.RemainingDays)
}

func TestAffiliateCooldownIgnoresZeroOrderAge(t *testing.T) {
	svc, db := newTestService(t, staticEarnings(1000))
	testutil.Seed(t, db,
		&account.User{ID: "u1", OrderAgeDays: testutil.Ptr(0)},
		&Request{ID: "old", Reference: "PO-old", UserID: "u1", Category: CategoryAffiliate, Status: StatusPending, Amount: 100, CreatedAt: epoch.Add(-24 * time.Hour)},
	)

	d, err := svc.ValidateAndSize(context.Background(), affiliateInput("u1", 100))
	require.NoError(t, err)
	require.False(t, d.Accepted())
	require.Equal(t, 13, d.Rejection.RemainingDays)
}

func TestAffiliateUnpaidEarnings(t *testing.T) {
	svc, db := newTestService(t, staticEarnings(250))
	testutil.Seed(t, db,
		&account.User{ID: "u1"},
		&Request{ID: "paid", Reference: "PO-paid", UserID: "u1", Category: CategoryAffiliate, Status: StatusApproved, IsPaid: true, Amount: 100, CreatedAt: epoch.Add(-30 * 24 * time.Hour)},
		// trading payouts do not reduce affiliate earnings
		&Request{ID: "trade", Reference: "PT-paid", UserID: "u1", Category: CategoryTrading, Status: StatusApproved, IsPaid: true, Amount: 900, CreatedAt: epoch.Add(-30 * 24 * time.Hour)},
	)
	ctx := context.Background()

	d, err := svc.ValidateAndSize(ctx, affiliateInput("u1", 150.01))
	require.NoError(t, err)
	require.Equal(t, RejectExceedsUnpaid, d.Rejection.Code)
	require.Equal(t, 150.0, *d.Rejection.MaxAmount)

	d, err = svc.ValidateAndSize(ctx, affiliateInput("u1", 150))
	require.NoError(t, err)
	require.True(t, d.Accepted())
}

func TestAffiliateUserMinimumWithdrawal(t *testing.T) {
	svc, db := newTestService(t, staticEarnings(1000))
	testutil.Seed(t, db, &account.User{ID: "u1", MinWithdrawal: testutil.Ptr(300.0)})

	d, err := svc.ValidateAndSize(context.Background(), affiliateInput("u1", 200))
	require.NoError(t, err)
	require.Equal(t, RejectBelowUserMinimum, d.Rejection.Code)
	require.Equal(t, "Minimum withdrawal amount is 300.00.", d.Rejection.Reason)
}

func TestValidationAndMissingUser(t *testing.T) {
	svc, _ := newTestService(t, staticEarnings(0))
	ctx := context.Background()

	_, err := svc.ValidateAndSize(ctx, RequestInput{UserID: "u1", Amount: 100, Category: "bonus", Currency: "USDT", WalletAddress: "x"})
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	_, err = svc.ValidateAndSize(ctx, RequestInput{UserID: "u1", Amount: 100, Category: CategoryTrading, Currency: "USDT", WalletAddress: "x"})
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	_, err = svc.ValidateAndSize(ctx, affiliateInput("ghost", 100))
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))
}

func seedTrading(t *testing.T, db *gorm.DB, acct *account.TradingAccount, plan *account.Plan) {
	t.Helper()
	testutil.Seed(t, db, &account.User{ID: acct.UserID}, plan, acct)
}

func TestTradingTwoStepBoundary(t *testing.T) {
	svc, db := newTestService(t, staticEarnings(0))
	seedTrading(t, db,
		&account.TradingAccount{ID: "acc1", Login: "1001", Platform: account.PlatformMT5, UserID: "u1", PlanID: "p2", Profit: 10000, State: account.StateFunded, PayoutRequestCount: 2},
		&account.Plan{ID: "p2", PlanType: PlanTypeTwoStep},
	)
	ctx := context.Background()

	d, err := svc.ValidateAndSize(ctx, tradingInput("u1", "1001", 8000.01))
	require.NoError(t, err)
	require.Equal(t, RejectExceedsProfitSplit, d.Rejection.Code)
	require.Equal(t, "Requested amount exceeds your available withdrawal amount of 8000.00 (80% of your 10000.00 profit)", d.Rejection.Reason)
	require.Equal(t, 8000.0, *d.Rejection.MaxAmount)

	d, err = svc.ValidateAndSize(ctx, tradingInput("u1", "1001", 8000))
	require.NoError(t, err)
	require.True(t, d.Accepted())
	require.Equal(t, 0.80, d.Request.ProfitSplit)
	require.Equal(t, 3, d.Request.PayoutCount)
	require.Equal(t, "acc1", d.Request.AccountID)

	acct, err := svc.accounts.FindTradingAccount(ctx, "1001", account.PlatformMT5)
	require.NoError(t, err)
	require.Equal(t, 3, acct.PayoutRequestCount)
}

func TestTradingHFTProgression(t *testing.T) {
	svc, db := newTestService(t, staticEarnings(0))
	seedTrading(t, db,
		&account.TradingAccount{ID: "acc1", Login: "1001", Platform: account.PlatformMT5, UserID: "u1", PlanID: "hft", Profit: 1000, State: account.StateFunded},
		&account.Plan{ID: "hft", PlanType: PlanTypeHFT, FundedPayoutRequestDays: 14},
	)
	ctx := context.Background()

	for i, split := range []float64{0.50, 0.60, 0.70, 0.80, 0.90, 0.90} {
		svc.now = func() time.Time { return epoch.Add(time.Duration(i) * 15 * 24 * time.Hour) }

		d, err := svc.ValidateAndSize(ctx, tradingInput("u1", "1001", 1000*split))
		require.NoError(t, err)
		require.True(t, d.Accepted(), "payout %d: %+v", i+1, d.Rejection)
		require.Equal(t, split, d.Request.ProfitSplit)
		require.Equal(t, i+1, d.Request.PayoutCount)
	}
}

func TestTradingCooldownWithAddOn(t *testing.T) {
	svc, db := newTestService(t, staticEarnings(0))
	seedTrading(t, db,
		&account.TradingAccount{ID: "acc1", Login: "1001", Platform: account.PlatformMT5, UserID: "u1", PlanID: "p", Profit: 5000, State: account.StateFunded, AddOnPayout7Days: true},
		&account.Plan{ID: "p", FundedProfitSplit: "80/20"},
	)
	testutil.Seed(t, db, &Request{ID: "old", Reference: "PT-old", UserID: "u1", Category: CategoryTrading, AccountID: "acc1", Status: StatusApproved, Amount: 100, CreatedAt: epoch.Add(-3 * 24 * time.Hour)})

	d, err := svc.ValidateAndSize(context.Background(), tradingInput("u1", "1001", 100))
	require.NoError(t, err)
	require.Equal(t, RejectCooldown, d.Rejection.Code)
	require.Equal(t, 4, d.Rejection.RemainingDays)
	require.Equal(t, "You can request a payout for this account only after 7 days from your last request. Please wait 4 more day(s).", d.Rejection.Reason)
}

func TestTradingAccountChecks(t *testing.T) {
	svc, db := newTestService(t, staticEarnings(0))
	seedTrading(t, db,
		&account.TradingAccount{ID: "acc1", Login: "1001", Platform: account.PlatformMT5, UserID: "owner", PlanID: "p", Profit: 5000, State: account.StateFunded},
		&account.Plan{ID: "p"},
	)
	testutil.Seed(t, db,
		&account.User{ID: "other"},
		&account.TradingAccount{ID: "acc2", Login: "1002", Platform: account.PlatformMT5, UserID: "owner", PlanID: "p", Profit: 5000, State: "Active"},
	)
	ctx := context.Background()

	d, err := svc.ValidateAndSize(ctx, tradingInput("other", "1001", 100))
	require.NoError(t, err)
	require.Equal(t, RejectAccountNotFound, d.Rejection.Code)

	d, err = svc.ValidateAndSize(ctx, tradingInput("owner", "9999", 100))
	require.NoError(t, err)
	require.Equal(t, "Trading account not found.", d.Rejection.Reason)

	d, err = svc.ValidateAndSize(ctx, tradingInput("owner", "1002", 100))
	require.NoError(t, err)
	require.Equal(t, RejectAccountNotFunded, d.Rejection.Code)
}

func TestReviewTransitions(t *testing.T) {
	svc, db := newTestService(t, staticEarnings(0))
	testutil.Seed(t, db,
		&Request{ID: "r1", Reference: "PO-1", UserID: "u1", Category: CategoryAffiliate, Status: StatusPending, Amount: 100, CreatedAt: epoch},
		&Request{ID: "r2", Reference: "PO-2", UserID: "u1", Category: CategoryAffiliate, Status: StatusPending, Amount: 100, CreatedAt: epoch},
	)
	ctx := context.Background()

	req, err := svc.Review(ctx, ReviewInput{RequestID: "r1", Status: StatusApproved, Note: "ok", ReviewedBy: "m1"})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, req.Status)
	require.True(t, req.IsPaid)
	require.Equal(t, "ok", req.ReviewNote)
	require.Equal(t, "m1", req.ReviewedBy)
	require.NotNil(t, req.ReviewedAt)

	_, err = svc.Review(ctx, ReviewInput{RequestID: "r1", Status: StatusRejected})
	require.True(t, errutil.IsStatus(err, errutil.StatusConflict))

	_, err = svc.UndoRejection(ctx, "r1", "m1")
	require.True(t, errutil.IsStatus(err, errutil.StatusConflict))

	req, err = svc.Review(ctx, ReviewInput{RequestID: "r2", Status: StatusRejected, ReviewedBy: "m1"})
	require.NoError(t, err)
	require.False(t, req.IsPaid)

	req, err = svc.UndoRejection(ctx, "r2", "m2")
	require.NoError(t, err)
	require.Equal(t, StatusPending, req.Status)
	require.Nil(t, req.ReviewedAt)

	_, err = svc.Review(ctx, ReviewInput{RequestID: "r2", Status: "Paid"})
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	_, err = svc.Review(ctx, ReviewInput{RequestID: "missing", Status: StatusApproved})
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))

	paid, err := svc.PaidTotal(ctx, "u1", CategoryAffiliate)
	require.NoError(t, err)
	require.Equal(t, 100.0, paid)
}

func TestRejectWithBreachFlagsTradingAccount(t *testing.T) {
	svc, db := newTestService(t, staticEarnings(0))
	seedTrading(t, db,
		&account.TradingAccount{ID: "acc1", Login: "1001", Platform: account.PlatformMT5, UserID: "u1", PlanID: "p", Profit: 5000, State: account.StateFunded},
		&account.Plan{ID: "p"},
	)
	testutil.Seed(t, db,
		&Request{ID: "t1", Reference: "PT-1", UserID: "u1", Category: CategoryTrading, AccountID: "acc1", Status: StatusPending, Amount: 100, CreatedAt: epoch},
		&Request{ID: "t2", Reference: "PT-2", UserID: "u1", Category: CategoryTrading, AccountID: "acc1", Status: StatusPending, Amount: 100, CreatedAt: epoch},
	)
	ctx := context.Background()
	breached := func() bool {
		acct, err := svc.accounts.FindTradingAccount(ctx, "1001", account.PlatformMT5)
		require.NoError(t, err)
		return acct.Breached
	}

	_, err := svc.Review(ctx, ReviewInput{RequestID: "t1", Status: StatusApproved, BreachAccount: true})
	require.NoError(t, err)
	require.False(t, breached())

	_, err = svc.Review(ctx, ReviewInput{RequestID: "t2", Status: StatusRejected, BreachAccount: true})
	require.NoError(t, err)
	require.True(t, breached())
}

func TestListPaginates(t *testing.T) {
	svc, db := newTestService(t, staticEarnings(0))
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		testutil.Seed(t, db, &Request{ID: id, Reference: "PO-" + id, UserID: "u1", Category: CategoryAffiliate, Status: StatusPending, Amount: 100, CreatedAt: epoch.Add(time.Duration(i) * time.Hour)})
	}
	testutil.Seed(t, db, &Request{ID: "x", Reference: "PO-x", UserID: "u2", Category: CategoryAffiliate, Status: StatusPending, Amount: 100, CreatedAt: epoch})
	ctx := context.Background()

	page, info, err := svc.List(ctx, ListFilter{UserID: "u1", Pagination: pagination.Pagination{Limit: 2}})
	require.NoError(t, err)
	require.Equal(t, []string{"e", "d"}, ids(page))
	require.True(t, info.HasMore)

	page, info, err = svc.List(ctx, ListFilter{UserID: "u1", Pagination: pagination.Pagination{Limit: 2, Cursor: info.NextCursor}})
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, ids(page))

	page, info, err = svc.List(ctx, ListFilter{UserID: "u1", Pagination: pagination.Pagination{Limit: 2, Cursor: info.NextCursor}})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids(page))
	require.False(t, info.HasMore)

	_, _, err = svc.List(ctx, ListFilter{Pagination: pagination.Pagination{Cursor: "%%%"}})
	require.True(t, errutil.IsStatus(err, errutil.StatusBadRequest))
}

func ids(rows []*Request) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}

func concurrentRequests(t *testing.T, svc *Service, n int, in RequestInput) (accepted int, rejections []RejectionCode) {
	t.Helper()

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := svc.ValidateAndSize(context.Background(), in)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if d.Accepted() {
				accepted++
				return
			}
			rejections = append(rejections, d.Rejection.Code)
		}()
	}
	wg.Wait()
	require.Empty(t, errs)
	return accepted, rejections
}

func TestConcurrentAffiliateRequestsAcceptOne(t *testing.T) {
	svc, db := newTestService(t, staticEarnings(10000))
	testutil.Seed(t, db, &account.User{ID: "u1"})

	accepted, rejections := concurrentRequests(t, svc, 8, affiliateInput("u1", 100))
	require.Equal(t, 1, accepted)
	require.Len(t, rejections, 7)
	for _, code := range rejections {
		require.Equal(t, RejectCooldown, code)
	}

	var n int64
	require.NoError(t, db.Model(&Request{}).Where("user_id = ?", "u1").Count(&n).Error)
	require.Equal(t, int64(1), n)
}

func TestConcurrentTradingRequestsAcceptOne(t *testing.T) {
	svc, db := newTestService(t, staticEarnings(0))
	seedTrading(t, db,
		&account.TradingAccount{ID: "acc1", Login: "1001", Platform: account.PlatformMT5, UserID: "u1", PlanID: "p", Profit: 5000, State: account.StateFunded},
		&account.Plan{ID: "p", FundedProfitSplit: "80/20"},
	)

	accepted, rejections := concurrentRequests(t, svc, 8, tradingInput("u1", "1001", 100))
	require.Equal(t, 1, accepted)
	for _, code := range rejections {
		require.Equal(t, RejectCooldown, code)
	}

	acct, err := svc.accounts.FindTradingAccount(context.Background(), "1001", account.PlatformMT5)
	require.NoError(t, err)
	require.Equal(t, 1, acct.PayoutRequestCount)
}
