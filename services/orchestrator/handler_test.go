package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"propdesk-affiliate/pkg/config"
	"propdesk-affiliate/pkg/middleware"
	"propdesk-affiliate/services/account"
	"propdesk-affiliate/services/commission"
	"propdesk-affiliate/services/milestone"
	"propdesk-affiliate/services/payout"
	"propdesk-affiliate/services/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, h *harness) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	enforcer, err := middleware.DefaultEnforcer()
	require.NoError(t, err)

	r := gin.New()
	r.Use(middleware.Identity(), middleware.Error())
	RegisterRoutes(r, NewHandler(HandlerParams{Service: h.svc, Enforcer: enforcer}))
	return r
}

func do(r *gin.Engine, method, path, role string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderActorID, "actor-1")
	if role != "" {
		req.Header.Set(middleware.HeaderActorRole, role)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandlerPurchaseCompleted(t *testing.T) {
	h := newHarness(t, nil, config.Affiliate{})
	h.user(t, "u1", "")
	h.user(t, "u2", "u1")
	testutil.Seed(t, h.db, &account.Plan{ID: "p1", Price: 1000})
	r := newTestRouter(t, h)

	w := do(r, http.MethodPost, "/v1/purchases/completed", "", map[string]any{
		"purchase_id": "pay_1", "user_id": "u2", "plan_id": "p1", "is_first_order": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res PurchaseResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.True(t, res.Processed)
	require.Len(t, res.Entries, 1)

	w = do(r, http.MethodPost, "/v1/purchases/completed", "", map[string]any{"user_id": "u2"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerPayoutRejectionIs422(t *testing.T) {
	h := newHarness(t, nil, config.Affiliate{})
	h.user(t, "u1", "")
	r := newTestRouter(t, h)

	w := do(r, http.MethodPost, "/v1/payouts", "", map[string]any{
		"user_id": "u1", "amount": 50, "category": "affiliate", "currency": "USDT", "wallet_address": "TX1",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body struct {
		Rejection payout.Rejection `json:"rejection"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, payout.RejectBelowMinimum, body.Rejection.Code)
}

func TestHandlerReviewRequiresManager(t *testing.T) {
	h := newHarness(t, nil, config.Affiliate{})
	h.user(t, "u1", "")
	testutil.Seed(t, h.db, &commission.Entry{ID: "c1", ReferrerID: "u1", PurchaserID: "u2", PurchaseID: "pay_1", Tier: 1, Amount: 500})
	r := newTestRouter(t, h)

	d, err := h.svc.RequestPayout(context.Background(), payout.RequestInput{UserID: "u1", Amount: 150, Category: payout.CategoryAffiliate, Currency: "USDT", WalletAddress: "TX1"})
	require.NoError(t, err)
	path := "/v1/payouts/" + d.Request.ID + "/review"

	w := do(r, http.MethodPost, path, "user", map[string]any{"status": "Approved"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodPost, path, "admin", map[string]any{"status": "Approved"})
	require.Equal(t, http.StatusOK, w.Code)

	var req payout.Request
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &req))
	require.Equal(t, payout.StatusApproved, req.Status)
	require.Equal(t, "actor-1", req.ReviewedBy)

	w = do(r, http.MethodPost, path, "manager", map[string]any{"status": "Rejected"})
	require.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPost, "/v1/payouts/missing/review", "manager", map[string]any{"status": "Rejected"})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerListPayouts(t *testing.T) {
	h := newHarness(t, nil, config.Affiliate{})
	testutil.Seed(t, h.db,
		&payout.Request{ID: "1", Reference: "PO-1", UserID: "u1", Category: payout.CategoryAffiliate, Status: payout.StatusPending},
		&payout.Request{ID: "2", Reference: "PO-2", UserID: "u1", Category: payout.CategoryTrading, Status: payout.StatusPending},
		&payout.Request{ID: "3", Reference: "PO-3", UserID: "u2", Category: payout.CategoryAffiliate, Status: payout.StatusRejected},
	)
	r := newTestRouter(t, h)

	w := do(r, http.MethodGet, "/v1/payouts?user_id=u1&category=affiliate", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []payout.Request `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	require.Equal(t, "1", body.Data[0].ID)

	w = do(r, http.MethodGet, "/v1/payouts?cursor=%21%21", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerSettingsAndStats(t *testing.T) {
	h := newHarness(t, nil, config.Affiliate{})
	h.user(t, "u1", "")
	r := newTestRouter(t, h)

	w := do(r, http.MethodPut, "/v1/affiliates/u1/settings", "user", map[string]any{"tier1_rate": 0.2})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodPut, "/v1/affiliates/u1/settings", "manager", map[string]any{"tier1_rate": 1.5})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPut, "/v1/affiliates/u1/settings", "manager", map[string]any{"tier1_rate": 0.2, "min_withdrawal": 250})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/v1/affiliates/u1/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var s AffiliateStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	require.Equal(t, "Rookie Affiliate", s.RankLabel)

	w = do(r, http.MethodGet, "/v1/affiliates/nobody/stats", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerReparentRejectsSelfReferral(t *testing.T) {
	h := newHarness(t, nil, config.Affiliate{})
	h.user(t, "u1", "")
	h.user(t, "u2", "")
	r := newTestRouter(t, h)

	w := do(r, http.MethodPut, "/v1/affiliates/u1/referrer", "manager", ReferrerInput{ReferrerID: "u1"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPut, "/v1/affiliates/u1/referrer", "manager", ReferrerInput{ReferrerID: "u2"})
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestHandlerLeaderboard(t *testing.T) {
	h := newHarness(t, nil, config.Affiliate{})
	testutil.Seed(t, h.db,
		&milestone.Achievement{ID: "m1", UserID: "u1", Rank: 1, Label: "Bronze"},
		&milestone.Achievement{ID: "m2", UserID: "u1", Rank: 2, Label: "Silver"},
		&milestone.Achievement{ID: "m3", UserID: "u2", Rank: 1, Label: "Bronze"},
	)
	r := newTestRouter(t, h)

	w := do(r, http.MethodGet, "/v1/milestones/leaderboard?limit=5", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []milestone.LeaderboardRow `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	require.Equal(t, "u1", body.Data[0].UserID)
	require.Equal(t, 2, body.Data[0].HighestRank)
}
