package orchestrator

import (
	"net/http"
	"strconv"

	"propdesk-affiliate/pkg/errutil"
	"propdesk-affiliate/pkg/middleware"
	"propdesk-affiliate/services/account"
	"propdesk-affiliate/services/payout"

	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type Handler struct {
	service  *Service
	enforcer *casbin.Enforcer
}

type HandlerParams struct {
	fx.In
	Service  *Service
	Enforcer *casbin.Enforcer
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{service: p.Service, enforcer: p.Enforcer}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	v1 := r.Group("/v1")

	v1.POST("/purchases/completed", h.PurchaseCompleted)

	payouts := v1.Group("/payouts")
	payouts.POST("", h.RequestPayout)
	payouts.GET("", h.ListPayouts)
	payouts.GET("/:id", h.GetPayout)
	payouts.POST("/:id/review", middleware.Authorize(h.enforcer, middleware.ObjPayout, middleware.ActReview), h.ReviewPayout)
	payouts.POST("/:id/undo", middleware.Authorize(h.enforcer, middleware.ObjPayout, middleware.ActUndo), h.UndoRejection)

	affiliates := v1.Group("/affiliates/:user_id")
	affiliates.GET("/stats", h.Stats)
	affiliates.GET("/tiers", h.Tiers)
	affiliates.GET("/achievements", h.Achievements)
	affiliates.POST("/milestones/evaluate", h.EvaluateMilestones)
	affiliates.PUT("/settings", middleware.Authorize(h.enforcer, middleware.ObjAffiliate, middleware.ActSettings), h.UpdateSettings)
	affiliates.PUT("/referrer", middleware.Authorize(h.enforcer, middleware.ObjAffiliate, middleware.ActReparent), h.Reparent)

	v1.GET("/milestones/leaderboard", h.Leaderboard)
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return false
	}
	return true
}

func (h *Handler) PurchaseCompleted(c *gin.Context) {
	var in PurchaseCompleted
	if !bindJSON(c, &in) {
		return
	}

	res, err := h.service.OnPurchaseCompleted(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RequestPayout answers 201 with the created request, or 422 with the
// rejection when the gate refuses it.
func (h *Handler) RequestPayout(c *gin.Context) {
	var in payout.RequestInput
	if !bindJSON(c, &in) {
		return
	}
	if in.UserID == "" {
		if actor, ok := middleware.ActorFrom(c.Request.Context()); ok {
			in.UserID = actor.ID
		}
	}

	decision, err := h.service.RequestPayout(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if !decision.Accepted() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"rejection": decision.Rejection})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request": decision.Request})
}

func (h *Handler) ListPayouts(c *gin.Context) {
	var f payout.ListFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	rows, info, err := h.service.ListPayouts(c.Request.Context(), f)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "page_info": info})
}

func (h *Handler) GetPayout(c *gin.Context) {
	req, err := h.service.GetPayout(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) ReviewPayout(c *gin.Context) {
	var opts ReviewOptions
	if !bindJSON(c, &opts) {
		return
	}

	actor, _ := middleware.ActorFrom(c.Request.Context())
	req, err := h.service.ReviewPayout(c.Request.Context(), c.Param("id"), opts, actor.ID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) UndoRejection(c *gin.Context) {
	actor, _ := middleware.ActorFrom(c.Request.Context())
	req, err := h.service.UndoRejection(c.Request.Context(), c.Param("id"), actor.ID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) Stats(c *gin.Context) {
	out, err := h.service.Stats(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Tiers(c *gin.Context) {
	out, err := h.service.Tiers(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Achievements(c *gin.Context) {
	out, err := h.service.Achievements(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *Handler) EvaluateMilestones(c *gin.Context) {
	achieved, err := h.service.EvaluateMilestones(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"achievement": achieved})
}

func (h *Handler) Leaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	rows, err := h.service.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (h *Handler) UpdateSettings(c *gin.Context) {
	var in account.SettingsInput
	if !bindJSON(c, &in) {
		return
	}

	user, err := h.service.UpdateSettings(c.Request.Context(), c.Param("user_id"), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": user.ID, "settings": user.Settings()})
}

func (h *Handler) Reparent(c *gin.Context) {
	var in ReferrerInput
	if !bindJSON(c, &in) {
		return
	}

	if err := h.service.Reparent(c.Request.Context(), c.Param("user_id"), in.ReferrerID); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
