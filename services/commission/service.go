package commission

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"propdesk-affiliate/pkg/config"
	"propdesk-affiliate/pkg/errutil"
	"propdesk-affiliate/pkg/metrics"
	"propdesk-affiliate/pkg/repository"
	"propdesk-affiliate/services/account"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	calc *Calculator

	entries repository.Repository[Entry]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		calc:    NewCalculator(nil, p.Config.Affiliate.TierRates),
		entries: repository.ProvideStore[Entry](p.DB),
	}
}

func (s *Service) Calculator() *Calculator { return s.calc }

func logger(ctx context.Context) *zap.Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	return zap.L().With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

type Purchase struct {
	PurchaseID   string
	PurchaserID  string
	PlanID       string
	Amount       float64
	IsFirstOrder bool
}

// Referrer is one upline user eligible for a commission on a purchase.
// Count is its total downstream referral count.
type Referrer struct {
	Tier  int
	User  *account.User
	Count int64
}

// Build prices every referrer's commission. It does not write anything.
func (s *Service) Build(p Purchase, referrers []Referrer) []*Entry {
	now := time.Now().UTC()
	out := make([]*Entry, 0, len(referrers))

	for _, r := range referrers {
		if r.User == nil || r.Tier < 1 || r.Tier > MaxTier {
			continue
		}

		res := s.calc.Compute(Input{
			Tier:           r.Tier,
			Settings:       r.User.Settings(),
			ReferralCount:  r.Count,
			PurchaseAmount: p.Amount,
			IsFirstOrder:   p.IsFirstOrder,
		})

		out = append(out, &Entry{
			ID:             s.node.Generate().String(),
			ReferrerID:     r.User.ID,
			PurchaserID:    p.PurchaserID,
			PurchaseID:     p.PurchaseID,
			PlanID:         p.PlanID,
			Tier:           res.Tier,
			PurchaseAmount: p.Amount,
			Percentage:     res.Percentage,
			Amount:         res.Amount,
			CreatedAt:      now,
		})
	}

	return out
}

// Record writes one entry per tier concurrently. When some tiers succeed and
// others fail the purchase is reported as inconsistent and an error is
// returned; successful rows are not rolled back.
func (s *Service) Record(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	var (
		mu        sync.Mutex
		succeeded []int
		failed    []int
		firstErr  error
	)

	var g errgroup.Group
	for _, e := range entries {
		e := e
		g.Go(func() error {
			err := s.entries.Create(ctx, e)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, e.Tier)
				if firstErr == nil {
					firstErr = err
				}
				return err
			}
			succeeded = append(succeeded, e.Tier)
			return nil
		})
	}
	_ = g.Wait()

	sort.Ints(succeeded)
	sort.Ints(failed)

	for _, e := range entries {
		if slices.Contains(succeeded, e.Tier) {
			tier := strconv.Itoa(e.Tier)
			metrics.CommissionEntries.WithLabelValues(tier).Inc()
			metrics.CommissionAmount.WithLabelValues(tier).Add(e.Amount)
		}
	}

	if firstErr == nil {
		return nil
	}

	purchaseID := entries[0].PurchaseID
	if len(succeeded) > 0 {
		metrics.CommissionInconsistencies.Inc()
		logger(ctx).Error("partial commission write",
			zap.String("purchase_id", purchaseID),
			zap.Ints("succeeded_tiers", succeeded),
			zap.Ints("failed_tiers", failed),
			zap.Error(firstErr),
		)
		return errutil.Internal("commission partially recorded", firstErr)
	}

	logger(ctx).Error("failed to record commission",
		zap.String("purchase_id", purchaseID),
		zap.Ints("failed_tiers", failed),
		zap.Error(firstErr),
	)
	return errutil.Internal("internal error", firstErr)
}

func (s *Service) ExistsForPurchase(ctx context.Context, purchaseID string) (bool, error) {
	if purchaseID == "" {
		return false, nil
	}
	n, err := s.entries.Count(ctx, &Entry{PurchaseID: purchaseID})
	if err != nil {
		logger(ctx).Error("failed to count commission entries", zap.String("purchase_id", purchaseID), zap.Error(err))
		return false, errutil.Internal("internal error", err)
	}
	return n > 0, nil
}

// TotalForReferrer sums every commission credited to referrerID.
func (s *Service) TotalForReferrer(ctx context.Context, referrerID string) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("referrer_id = ?", referrerID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		logger(ctx).Error("failed to sum commission", zap.String("referrer_id", referrerID), zap.Error(err))
		return 0, errutil.Internal("internal error", err)
	}
	return total, nil
}

// ConvertedReferrals counts distinct direct referrals that produced a commission.
func (s *Service) ConvertedReferrals(ctx context.Context, referrerID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("referrer_id = ? AND tier = ?", referrerID, 1).
		Distinct("purchaser_id").
		Count(&n).Error
	if err != nil {
		logger(ctx).Error("failed to count converted referrals", zap.String("referrer_id", referrerID), zap.Error(err))
		return 0, errutil.Internal("internal error", err)
	}
	return n, nil
}

func (s *Service) ListForPurchase(ctx context.Context, purchaseID string) ([]*Entry, error) {
	var out []*Entry
	if err := s.db.WithContext(ctx).Where("purchase_id = ?", purchaseID).Order("tier").Find(&out).Error; err != nil {
		return nil, errutil.Internal("internal error", err)
	}
	return out, nil
}
