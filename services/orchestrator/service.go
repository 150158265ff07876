package orchestrator

import (
	"context"
	"math"
	"net/url"
	"strings"

	"propdesk-affiliate/pkg/config"
	"propdesk-affiliate/pkg/db/pagination"
	"propdesk-affiliate/pkg/errutil"
	"propdesk-affiliate/pkg/events"
	"propdesk-affiliate/pkg/featureflags"
	"propdesk-affiliate/services/account"
	"propdesk-affiliate/services/commission"
	"propdesk-affiliate/services/milestone"
	"propdesk-affiliate/services/notification"
	"propdesk-affiliate/services/payout"
	"propdesk-affiliate/services/referral"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var validate = validator.New()

type Service struct {
	db         *gorm.DB
	node       *snowflake.Node
	cfg        config.Affiliate
	flags      featureflags.FeatureFlag
	accounts   *account.Service
	referral   *referral.Service
	commission *commission.Service
	milestone  *milestone.Service
	payout     *payout.Service
	dispatcher *Dispatcher
}

type ServiceParams struct {
	fx.In
	DB         *gorm.DB
	Node       *snowflake.Node
	Config     *config.Config
	Flags      featureflags.FeatureFlag
	Accounts   *account.Service
	Referral   *referral.Service
	Commission *commission.Service
	Milestone  *milestone.Service
	Payout     *payout.Service
	Dispatcher *Dispatcher
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:         p.DB,
		node:       p.Node,
		cfg:        p.Config.Affiliate,
		flags:      p.Flags,
		accounts:   p.Accounts,
		referral:   p.Referral,
		commission: p.Commission,
		milestone:  p.Milestone,
		payout:     p.Payout,
		dispatcher: p.Dispatcher,
	}
}

func logger(ctx context.Context) *zap.Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	return zap.L().With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

// activeTiers is 1 unless more tiers are configured or the multi-tier flag
// is on.
func (s *Service) activeTiers(ctx context.Context) int {
	n := s.cfg.ActiveTiers
	if n < 1 {
		n = 1
	}
	if n > commission.MaxTier {
		n = commission.MaxTier
	}
	if n < commission.MaxTier && s.flags != nil && s.flags.Enabled(ctx, s.cfg.MultiTierFeatureFlag, false) {
		n = commission.MaxTier
	}
	return n
}

// OnPurchaseCompleted credits the purchaser's upline for a confirmed purchase.
// A purchase without a positive price, without a referrer, or already
// credited is not processed. Commission rows for every active tier are
// written before the referrer is flagged as an affiliate; milestone
// evaluation and events follow as post-actions.
func (s *Service) OnPurchaseCompleted(ctx context.Context, in PurchaseCompleted) (*PurchaseResult, error) {
	if err := validate.Struct(in); err != nil {
		return nil, errutil.FromValidation(err)
	}

	log := logger(ctx).With(zap.String("user_id", in.UserID), zap.String("purchase_id", in.PurchaseID))

	purchaser, err := s.accounts.GetUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	plan, err := s.accounts.GetPlan(ctx, in.PlanID)
	if err != nil {
		return nil, err
	}

	amount := plan.Price
	if in.Amount != nil {
		amount = *in.Amount
	}
	if math.Round(amount*100) <= 0 {
		log.Info("purchase skipped, zero price")
		return &PurchaseResult{PurchaseID: in.PurchaseID, Reason: SkipZeroPrice}, nil
	}

	if in.PurchaseID == "" {
		in.PurchaseID = s.node.Generate().String()
		log = log.With(zap.String("purchase_id", in.PurchaseID))
	} else {
		exists, err := s.commission.ExistsForPurchase(ctx, in.PurchaseID)
		if err != nil {
			return nil, err
		}
		if exists {
			// a previous attempt may have written entries and then failed to
			// flag the referrer
			if err := s.markCreditedReferrer(ctx, in.PurchaseID); err != nil {
				return nil, err
			}
			log.Info("purchase already credited")
			return &PurchaseResult{PurchaseID: in.PurchaseID, Reason: SkipDuplicate}, nil
		}
	}

	upline, err := s.referral.Upline(ctx, purchaser.ID, s.activeTiers(ctx))
	if err != nil {
		return nil, err
	}
	if len(upline) == 0 {
		return &PurchaseResult{PurchaseID: in.PurchaseID, Reason: SkipNoReferrer}, nil
	}

	referrers, err := s.referrers(ctx, upline)
	if err != nil {
		return nil, err
	}

	entries := s.commission.Build(commission.Purchase{
		PurchaseID:   in.PurchaseID,
		PurchaserID:  purchaser.ID,
		PlanID:       plan.ID,
		Amount:       amount,
		IsFirstOrder: in.IsFirstOrder,
	}, referrers)

	if err := s.commission.Record(ctx, entries); err != nil {
		return nil, err
	}

	if err := s.accounts.MarkAffiliate(ctx, upline[0].ID); err != nil {
		return nil, err
	}

	log.Info("purchase credited", zap.Int("entries", len(entries)))

	actions := make([]PostAction, 0, 2*len(entries))
	for _, e := range entries {
		actions = append(actions, s.dispatcher.EvaluateMilestones(e.ReferrerID))
	}
	for _, e := range entries {
		actions = append(actions, s.dispatcher.Publish(events.CommissionCreated, e.ReferrerID, e))
	}
	s.dispatcher.Dispatch(ctx, actions...)

	return &PurchaseResult{Processed: true, PurchaseID: in.PurchaseID, Entries: entries}, nil
}

// markCreditedReferrer flags the tier 1 referrer of an already credited
// purchase. MarkAffiliate is idempotent.
func (s *Service) markCreditedReferrer(ctx context.Context, purchaseID string) error {
	entries, err := s.commission.ListForPurchase(ctx, purchaseID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Tier == 1 {
			return s.accounts.MarkAffiliate(ctx, e.ReferrerID)
		}
	}
	return nil
}

// referrers loads each upline user's downstream count. Counts are recomputed
// per purchase.
func (s *Service) referrers(ctx context.Context, upline []*account.User) ([]commission.Referrer, error) {
	out := make([]commission.Referrer, len(upline))

	g, gctx := errgroup.WithContext(ctx)
	for i, u := range upline {
		g.Go(func() error {
			stats, err := s.referral.Stats(gctx, u.ID)
			if err != nil {
				return err
			}
			out[i] = commission.Referrer{Tier: i + 1, User: u, Count: stats.Total}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// RequestPayout runs the eligibility gate. An accepted affiliate request is
// acknowledged by email; an accepted trading request triggers the broker's
// consistency check.
func (s *Service) RequestPayout(ctx context.Context, in payout.RequestInput) (*payout.Decision, error) {
	decision, err := s.payout.ValidateAndSize(ctx, in)
	if err != nil {
		return nil, err
	}
	if !decision.Accepted() {
		return decision, nil
	}

	req := decision.Request
	var actions []PostAction

	switch req.Category {
	case payout.CategoryAffiliate:
		if user, err := s.accounts.GetUser(ctx, req.UserID); err == nil {
			actions = append(actions, s.dispatcher.Email(notification.Email{
				To:       user.Email,
				Subject:  "Your Payout Request Has Been Submitted",
				Template: notification.TemplateAffiliatePayoutRequest,
				Data: map[string]any{
					"user":            user.Name(),
					"requestedAmount": req.Amount,
					"reference":       req.Reference,
				},
			}))
		}
	case payout.CategoryTrading:
		actions = append(actions, s.dispatcher.ConsistencyCheck(req.Login, req.ID))
	}
	actions = append(actions, s.dispatcher.Publish(events.PayoutRequested, req.UserID, req))

	s.dispatcher.Dispatch(ctx, actions...)
	return decision, nil
}

// ReviewPayout applies a reviewer decision to a Pending request. Approving an
// MT5 trading payout resets the account; rejecting one may breach it.
func (s *Service) ReviewPayout(ctx context.Context, requestID string, opts ReviewOptions, reviewer string) (*payout.Request, error) {
	req, err := s.payout.Review(ctx, payout.ReviewInput{
		RequestID:     requestID,
		Status:        payout.Status(opts.Status),
		Note:          opts.Note,
		ReviewedBy:    reviewer,
		BreachAccount: opts.BreachAccount,
	})
	if err != nil {
		return nil, err
	}

	var actions []PostAction

	if req.Category == payout.CategoryTrading && strings.EqualFold(req.Platform, account.PlatformMT5) {
		switch {
		case req.Status == payout.StatusApproved:
			actions = append(actions, s.dispatcher.ResetAccount(req.Login, req.ID))
		case req.Status == payout.StatusRejected && opts.BreachAccount:
			actions = append(actions, s.dispatcher.BreachAccount(req.Login, req.ID))
		}
	}

	if opts.sendEmail() {
		if email, ok := s.reviewEmail(ctx, req); ok {
			actions = append(actions, s.dispatcher.Email(email))
		}
	}
	actions = append(actions, s.dispatcher.Publish(events.PayoutReviewed, req.UserID, req))

	s.dispatcher.Dispatch(ctx, actions...)
	return req, nil
}

func (s *Service) reviewEmail(ctx context.Context, req *payout.Request) (notification.Email, bool) {
	user, err := s.accounts.GetUser(ctx, req.UserID)
	if err != nil {
		logger(ctx).Warn("payout owner not found, skipping review email", zap.String("request_id", req.ID), zap.Error(err))
		return notification.Email{}, false
	}

	email := notification.Email{To: user.Email}
	affiliate := req.Category == payout.CategoryAffiliate

	switch {
	case req.Status == payout.StatusApproved && affiliate:
		email.Subject = "Affiliate Payout Approved"
		email.Template = notification.TemplateAffiliatePayoutApproved
		email.Data = map[string]any{"email": user.Email, "amount": req.Amount}
	case req.Status == payout.StatusApproved:
		email.Subject = "Trader Payout Approved"
		email.Template = notification.TemplateTraderPayoutApproved
		email.Data = map[string]any{"user": user.FirstName, "login": req.Login, "requestedAmount": req.Amount}
	case req.Status == payout.StatusRejected && affiliate:
		email.Subject = "Affiliate Payout Rejected"
		email.Template = notification.TemplateAffiliatePayoutRejected
		email.Data = map[string]any{"email": user.Email, "rejectionMessage": req.ReviewNote}
	case req.Status == payout.StatusRejected:
		email.Subject = "Trader Payout Rejected"
		email.Template = notification.TemplateTraderPayoutRejected
		email.Data = map[string]any{
			"user":             user.FirstName,
			"login":            req.Login,
			"requestedAmount":  req.Amount,
			"rejectionMessage": req.ReviewNote,
		}
	default:
		return notification.Email{}, false
	}

	return email, true
}

func (s *Service) UndoRejection(ctx context.Context, requestID, actor string) (*payout.Request, error) {
	req, err := s.payout.UndoRejection(ctx, requestID, actor)
	if err != nil {
		return nil, err
	}
	s.dispatcher.Dispatch(ctx, s.dispatcher.Publish(events.PayoutReviewed, req.UserID, req))
	return req, nil
}

func (s *Service) GetPayout(ctx context.Context, id string) (*payout.Request, error) {
	return s.payout.Get(ctx, id)
}

func (s *Service) ListPayouts(ctx context.Context, f payout.ListFilter) ([]*payout.Request, *pagination.PageInfo, error) {
	return s.payout.List(ctx, f)
}

// Stats summarises an affiliate's network and earnings. Unpaid only deducts
// paid affiliate payouts.
func (s *Service) Stats(ctx context.Context, userID string) (*AffiliateStats, error) {
	if _, err := s.accounts.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	var (
		network   *referral.Stats
		converted int64
		earned    float64
		paid      float64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		network, err = s.referral.Stats(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		converted, err = s.commission.ConvertedReferrals(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		earned, err = s.commission.TotalForReferrer(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		paid, err = s.payout.PaidTotal(gctx, userID, payout.CategoryAffiliate)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	referrals := network.Tier(1)
	var rate float64
	if referrals > 0 {
		rate = round2(float64(converted) / float64(referrals) * 100)
	}

	return &AffiliateStats{
		UserID:         userID,
		Referrals:      referrals,
		Converted:      converted,
		ConversionRate: rate,
		TotalEarned:    round2(earned),
		Paid:           round2(paid),
		Unpaid:         round2(earned - paid),
		RankLabel:      referral.RankLabel(referrals),
		ReferralLink:   s.referralLink(userID),
		Network:        network,
	}, nil
}

func (s *Service) referralLink(userID string) string {
	base := strings.TrimRight(s.cfg.FrontendURL, "/")
	return base + "/auth/sign-up?ref=" + url.QueryEscape(userID)
}

func (s *Service) Tiers(ctx context.Context, userID string) (*TierListing, error) {
	if _, err := s.accounts.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	tree, err := s.referral.Tree(ctx, userID, referral.MaxDepth)
	if err != nil {
		return nil, err
	}

	out := &TierListing{UserID: userID, Tiers: make([]TierMembership, 0, referral.MaxDepth)}
	for i := 0; i < referral.MaxDepth; i++ {
		users := []string{}
		if i < len(tree.Tiers) {
			users = tree.Tiers[i]
		}
		out.Tiers = append(out.Tiers, TierMembership{Tier: i + 1, Count: len(users), Users: users})
		out.Total += int64(len(users))
	}
	return out, nil
}

func (s *Service) Achievements(ctx context.Context, userID string) ([]*milestone.Achievement, error) {
	return s.milestone.List(ctx, userID)
}

func (s *Service) Leaderboard(ctx context.Context, limit int) ([]milestone.LeaderboardRow, error) {
	return s.milestone.Leaderboard(ctx, limit)
}

// EvaluateMilestones runs the evaluator inline and publishes what it records.
func (s *Service) EvaluateMilestones(ctx context.Context, userID string) (*milestone.Achievement, error) {
	if _, err := s.accounts.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	achieved, err := s.milestone.Evaluate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if achieved != nil {
		s.dispatcher.Dispatch(ctx, s.dispatcher.Publish(events.MilestoneAchieved, userID, achieved))
	}
	return achieved, nil
}

func (s *Service) UpdateSettings(ctx context.Context, userID string, in account.SettingsInput) (*account.User, error) {
	return s.accounts.UpdateAffiliateSettings(ctx, userID, in)
}

func (s *Service) Reparent(ctx context.Context, userID, referrerID string) error {
	return s.referral.Reparent(ctx, userID, referrerID)
}

// Ping reports whether the ledger store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
