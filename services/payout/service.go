package payout

import (
	"context"
	"errors"
	"time"

	"propdesk-affiliate/pkg/config"
	"propdesk-affiliate/pkg/db/option"
	"propdesk-affiliate/pkg/db/pagination"
	"propdesk-affiliate/pkg/errutil"
	"propdesk-affiliate/pkg/lock"
	"propdesk-affiliate/pkg/metrics"
	"propdesk-affiliate/pkg/rediskey"
	"propdesk-affiliate/pkg/repository"
	"propdesk-affiliate/pkg/sequence"
	"propdesk-affiliate/services/account"
	"propdesk-affiliate/services/commission"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var validate = validator.New()

// Earnings reports the lifetime commission credited to a user.
type Earnings interface {
	TotalForReferrer(ctx context.Context, referrerID string) (float64, error)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	cfg      config.Affiliate
	locker   lock.Locker
	seq      sequence.Generator
	accounts *account.Service
	earnings Earnings
	now      func() time.Time

	requests repository.Repository[Request]
}

type ServiceParams struct {
	fx.In
	DB         *gorm.DB
	Node       *snowflake.Node
	Config     *config.Config
	Locker     lock.Locker
	Sequence   sequence.Generator
	Accounts   *account.Service
	Commission *commission.Service
}

func NewService(p ServiceParams) *Service {
	return New(p.DB, p.Node, p.Config.Affiliate, p.Locker, p.Sequence, p.Accounts, p.Commission)
}

func New(db *gorm.DB, node *snowflake.Node, cfg config.Affiliate, locker lock.Locker, seq sequence.Generator, accounts *account.Service, earnings Earnings) *Service {
	if cfg.OrderAgeDays <= 0 {
		cfg.OrderAgeDays = 14
	}
	if cfg.FundedPayoutDays <= 0 {
		cfg.FundedPayoutDays = 14
	}
	if cfg.AddOnPayoutDays <= 0 {
		cfg.AddOnPayoutDays = addOnPayoutWindowDays
	}
	if cfg.MinimumPayout <= 0 {
		cfg.MinimumPayout = GlobalMinimum
	}

	return &Service{
		db:       db,
		node:     node,
		cfg:      cfg,
		locker:   locker,
		seq:      seq,
		accounts: accounts,
		earnings: earnings,
		now:      time.Now,
		requests: repository.ProvideStore[Request](db),
	}
}

func logger(ctx context.Context) *zap.Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	return zap.L().With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

type RequestInput struct {
	UserID        string   `json:"user_id" validate:"required"`
	Amount        float64  `json:"amount" validate:"required,gt=0"`
	Category      Category `json:"category" validate:"required,oneof=affiliate trading"`
	Currency      string   `json:"currency" validate:"required"`
	WalletAddress string   `json:"wallet_address" validate:"required"`
	Login         string   `json:"login" validate:"required_if=Category trading"`
	Platform      string   `json:"platform" validate:"omitempty,oneof=mt5 matchtrader tradelocker"`
}

// ValidateAndSize runs the eligibility rules for in. An accepted request is
// persisted as Pending before it is returned. Rejections are not errors.
func (s *Service) ValidateAndSize(ctx context.Context, in RequestInput) (*Decision, error) {
	if err := validate.Struct(in); err != nil {
		return nil, errutil.FromValidation(err)
	}

	if cents(in.Amount) < cents(s.cfg.MinimumPayout) {
		return s.record(in.Category, belowMinimum()), nil
	}

	user, err := s.accounts.GetUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	var d *Decision
	switch in.Category {
	case CategoryAffiliate:
		d, err = s.affiliate(ctx, user, in)
	case CategoryTrading:
		if in.Platform == "" {
			in.Platform = account.PlatformMT5
		}
		d, err = s.trading(ctx, user, in)
	}
	if err != nil {
		return nil, err
	}
	return s.record(in.Category, d), nil
}

func (s *Service) record(category Category, d *Decision) *Decision {
	outcome := "accepted"
	if d.Rejection != nil {
		outcome = string(d.Rejection.Code)
	}
	metrics.PayoutDecisions.WithLabelValues(string(category), outcome).Inc()
	return d
}

func (s *Service) acquire(ctx context.Context, key string) (func(), error) {
	release, err := s.locker.Acquire(ctx, key)
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, errutil.Conflict("another payout request is being processed, please retry", err)
	}
	if err != nil {
		logger(ctx).Error("failed to acquire payout lock", zap.String("key", key), zap.Error(err))
		return nil, errutil.Internal("internal error", err)
	}
	return release, nil
}

func (s *Service) affiliate(ctx context.Context, user *account.User, in RequestInput) (*Decision, error) {
	release, err := s.acquire(ctx, rediskey.AffiliatePayoutLockKey(user.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	settings := user.Settings()
	window := settings.OrderAge(s.cfg.OrderAgeDays)

	last, err := s.requests.FindOne(ctx,
		&Request{UserID: user.ID, Category: CategoryAffiliate},
		option.WithSortBy(option.QuerySortBy{OrderBy: "DESC"}),
	)
	if err != nil {
		logger(ctx).Error("failed to query last affiliate payout", zap.String("user_id", user.ID), zap.Error(err))
		return nil, errutil.Internal("internal error", err)
	}
	if last != nil {
		if remaining := RemainingDays(last.CreatedAt, s.now(), window); remaining > 0 {
			return affiliateCooldown(window, remaining), nil
		}
	}

	earned, err := s.earnings.TotalForReferrer(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	paid, err := s.PaidTotal(ctx, user.ID, CategoryAffiliate)
	if err != nil {
		return nil, err
	}
	unpaid := earned - paid
	if cents(in.Amount) > cents(unpaid) {
		return exceedsUnpaid(unpaid), nil
	}

	if floor := settings.MinimumWithdrawal(); cents(in.Amount) < cents(floor) {
		return belowUserMinimum(floor), nil
	}

	req, err := s.newRequest(ctx, user.ID, in)
	if err != nil {
		return nil, err
	}
	if err := s.requests.Create(ctx, req); err != nil {
		logger(ctx).Error("failed to create affiliate payout", zap.String("user_id", user.ID), zap.Error(err))
		return nil, errutil.Internal("internal error", err)
	}

	logger(ctx).Info("affiliate payout requested",
		zap.String("user_id", user.ID),
		zap.String("request_id", req.ID),
		zap.Float64("amount", req.Amount),
	)
	return accept(req), nil
}

func (s *Service) trading(ctx context.Context, user *account.User, in RequestInput) (*Decision, error) {
	release, err := s.acquire(ctx, rediskey.TradingPayoutLockKey(in.Platform, in.Login))
	if err != nil {
		return nil, err
	}
	defer release()

	acct, err := s.accounts.FindTradingAccount(ctx, in.Login, in.Platform)
	if err != nil {
		return nil, err
	}
	if acct == nil || acct.UserID != user.ID {
		return reject(RejectAccountNotFound, "Trading account not found."), nil
	}
	if acct.State != account.StateFunded {
		return reject(RejectAccountNotFunded, "Trading account is not funded."), nil
	}

	plan, err := s.accounts.GetPlan(ctx, acct.PlanID)
	if err != nil {
		return nil, err
	}

	window := s.cfg.FundedPayoutDays
	if acct.AddOnPayout7Days {
		window = s.cfg.AddOnPayoutDays
	} else if plan.FundedPayoutRequestDays > 0 {
		window = plan.FundedPayoutRequestDays
	}

	last, err := s.requests.FindOne(ctx,
		&Request{AccountID: acct.ID, Category: CategoryTrading},
		option.WithSortBy(option.QuerySortBy{OrderBy: "DESC"}),
	)
	if err != nil {
		logger(ctx).Error("failed to query last trading payout", zap.String("account_id", acct.ID), zap.Error(err))
		return nil, errutil.Internal("internal error", err)
	}
	if last != nil {
		if remaining := RemainingDays(last.CreatedAt, s.now(), window); remaining > 0 {
			return tradingCooldown(window, remaining), nil
		}
	}

	count := acct.PayoutRequestCount + 1
	split := ProfitSplit(acct.AddOnProfitSplit, plan.PlanType, plan.FundedProfitSplit, count)
	limit := acct.Profit * split
	if cents(in.Amount) > cents(limit) {
		return exceedsProfitSplit(limit, split, acct.Profit), nil
	}

	req, err := s.newRequest(ctx, user.ID, in)
	if err != nil {
		return nil, err
	}
	req.AccountID = acct.ID
	req.Login = acct.Login
	req.Platform = acct.Platform
	req.ProfitSplit = split
	req.PayoutCount = count

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requests.WithTrx(tx).Create(ctx, req); err != nil {
			return err
		}
		return s.accounts.IncrementPayoutCount(ctx, tx, acct.ID)
	})
	if err != nil {
		logger(ctx).Error("failed to create trading payout", zap.String("account_id", acct.ID), zap.Error(err))
		return nil, errutil.Internal("internal error", err)
	}

	logger(ctx).Info("trading payout requested",
		zap.String("user_id", user.ID),
		zap.String("account_id", acct.ID),
		zap.String("request_id", req.ID),
		zap.Int("payout_count", count),
		zap.Float64("profit_split", split),
	)
	return accept(req), nil
}

func (s *Service) newRequest(ctx context.Context, userID string, in RequestInput) (*Request, error) {
	id := s.node.Generate().String()

	ref, err := s.seq.NextPayoutReference(ctx, string(in.Category))
	if err != nil {
		logger(ctx).Warn("failed to issue payout reference, using id", zap.Error(err))
		ref = "PO-" + id
	}

	now := s.now().UTC()
	return &Request{
		ID:            id,
		Reference:     ref,
		UserID:        userID,
		Category:      in.Category,
		Status:        StatusPending,
		Amount:        in.Amount,
		Currency:      in.Currency,
		WalletAddress: in.WalletAddress,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// PaidTotal sums paid requests of category for userID.
func (s *Service) PaidTotal(ctx context.Context, userID string, category Category) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&Request{}).
		Where("user_id = ? AND category = ? AND is_paid = ?", userID, category, true).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		logger(ctx).Error("failed to sum paid payouts", zap.String("user_id", userID), zap.Error(err))
		return 0, errutil.Internal("internal error", err)
	}
	return total, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Request, error) {
	req, err := s.requests.FindOne(ctx, &Request{ID: id})
	if err != nil {
		logger(ctx).Error("failed to query payout request", zap.String("request_id", id), zap.Error(err))
		return nil, errutil.Internal("internal error", err)
	}
	if req == nil {
		return nil, errutil.NotFound("payout request not found", nil)
	}
	return req, nil
}

type ReviewInput struct {
	RequestID  string `json:"-" validate:"required"`
	Status     Status `json:"status" validate:"required,oneof=Approved Rejected"`
	Note       string `json:"note" validate:"max=1000"`
	ReviewedBy string `json:"-"`
	// BreachAccount flags the trading account as breached when the request
	// is rejected.
	BreachAccount bool `json:"breach_account"`
}

// Review moves a Pending request to Approved or Rejected. Approved marks the
// request paid and is terminal.
func (s *Service) Review(ctx context.Context, in ReviewInput) (*Request, error) {
	if err := validate.Struct(in); err != nil {
		return nil, errutil.FromValidation(err)
	}

	var breach func(tx *gorm.DB, req *Request) error
	if in.Status == StatusRejected && in.BreachAccount {
		breach = func(tx *gorm.DB, req *Request) error {
			if req.Category != CategoryTrading || req.AccountID == "" {
				return nil
			}
			return s.accounts.MarkBreached(ctx, tx, req.AccountID)
		}
	}

	return s.transition(ctx, in.RequestID, StatusPending, func(req *Request, now time.Time) map[string]any {
		return map[string]any{
			"status":      in.Status,
			"is_paid":     in.Status == StatusApproved,
			"review_note": in.Note,
			"reviewed_by": in.ReviewedBy,
			"reviewed_at": now,
		}
	}, breach)
}

// UndoRejection reopens a Rejected request. Any other status is a conflict.
func (s *Service) UndoRejection(ctx context.Context, id, actor string) (*Request, error) {
	if id == "" {
		return nil, errutil.BadRequest("request id is required", nil)
	}

	return s.transition(ctx, id, StatusRejected, func(req *Request, now time.Time) map[string]any {
		return map[string]any{
			"status":      StatusPending,
			"is_paid":     false,
			"reviewed_by": actor,
			"reviewed_at": nil,
		}
	}, nil)
}

// transition applies changes to a request in status from. then, when set, runs
// in the same transaction after the update.
func (s *Service) transition(ctx context.Context, id string, from Status, changes func(*Request, time.Time) map[string]any, then func(*gorm.DB, *Request) error) (*Request, error) {
	var updated *Request
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.requests.WithTrx(tx)

		req, err := repo.FindOne(ctx, &Request{ID: id}, option.WithLockingUpdate())
		if err != nil {
			return errutil.Internal("internal error", err)
		}
		if req == nil {
			return errutil.NotFound("payout request not found", nil)
		}
		if req.Status != from {
			return errutil.Conflict("payout request is "+string(req.Status)+", expected "+string(from), nil)
		}

		if err := repo.Update(ctx, req.ID, changes(req, s.now().UTC())); err != nil {
			return errutil.Internal("internal error", err)
		}
		if then != nil {
			if err := then(tx, req); err != nil {
				return errutil.Internal("internal error", err)
			}
		}

		updated, err = repo.FindOne(ctx, &Request{ID: id})
		if err != nil {
			return errutil.Internal("internal error", err)
		}
		return nil
	})
	if err != nil {
		if errutil.IsStatus(err, errutil.StatusInternal) {
			logger(ctx).Error("failed to transition payout request", zap.String("request_id", id), zap.Error(err))
		}
		return nil, err
	}

	metrics.PayoutReviews.WithLabelValues(string(updated.Category), string(updated.Status)).Inc()
	logger(ctx).Info("payout request transitioned",
		zap.String("request_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(updated.Status)),
	)
	return updated, nil
}

type ListFilter struct {
	UserID   string   `form:"user_id"`
	Status   Status   `form:"status" validate:"omitempty,oneof=Pending Approved Rejected"`
	Category Category `form:"category" validate:"omitempty,oneof=affiliate trading"`
	pagination.Pagination
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Request, *pagination.PageInfo, error) {
	if err := validate.Struct(f); err != nil {
		return nil, nil, errutil.FromValidation(err)
	}

	var cursor *pagination.Cursor
	if f.Cursor != "" {
		c, err := pagination.DecodeCursor(f.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		cursor = c
	}

	var conds []option.Condition
	if f.UserID != "" {
		conds = append(conds, option.Condition{Field: "user_id", Value: f.UserID})
	}
	if f.Status != "" {
		conds = append(conds, option.Condition{Field: "status", Value: f.Status})
	}
	if f.Category != "" {
		conds = append(conds, option.Condition{Field: "category", Value: f.Category})
	}

	var rows []*Request
	err := s.db.WithContext(ctx).
		Scopes(option.ApplyOperator(conds...), pagination.Keyset(cursor, f.Limit)).
		Find(&rows).Error
	if err != nil {
		logger(ctx).Error("failed to list payout requests", zap.Error(err))
		return nil, nil, errutil.Internal("internal error", err)
	}

	rows, info := pagination.BuildCursorPageInfo(rows, f.Limit, func(r *Request) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})
	return rows, info, nil
}
