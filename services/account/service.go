package account

import (
	"context"

	"propdesk-affiliate/pkg/errutil"
	"propdesk-affiliate/pkg/repository"

	"github.com/go-playground/validator/v10"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var validate = validator.New()

type Service struct {
	db *gorm.DB

	users    repository.Repository[User]
	plans    repository.Repository[Plan]
	accounts repository.Repository[TradingAccount]
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		users:    repository.ProvideStore[User](p.DB),
		plans:    repository.ProvideStore[Plan](p.DB),
		accounts: repository.ProvideStore[TradingAccount](p.DB),
	}
}

func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}

	user, err := s.users.FindOne(ctx, &User{ID: userID})
	if err != nil {
		zap.L().Error("failed to query user", zap.String("user_id", userID), zap.Error(err))
		return nil, errutil.Internal("internal error", err)
	}
	if user == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	return user, nil
}

func (s *Service) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	if planID == "" {
		return nil, errutil.BadRequest("plan_id is required", nil)
	}

	plan, err := s.plans.FindOne(ctx, &Plan{ID: planID})
	if err != nil {
		zap.L().Error("failed to query plan", zap.String("plan_id", planID), zap.Error(err))
		return nil, errutil.Internal("internal error", err)
	}
	if plan == nil {
		return nil, errutil.NotFound("payment plan not found", nil)
	}
	return plan, nil
}

// FindTradingAccount returns nil, nil when no account matches.
func (s *Service) FindTradingAccount(ctx context.Context, login, platform string) (*TradingAccount, error) {
	acct, err := s.accounts.FindOne(ctx, &TradingAccount{Login: login, Platform: platform})
	if err != nil {
		zap.L().Error("failed to query trading account", zap.String("login", login), zap.String("platform", platform), zap.Error(err))
		return nil, errutil.Internal("internal error", err)
	}
	return acct, nil
}

func (s *Service) MarkAffiliate(ctx context.Context, userID string) error {
	err := s.users.Update(ctx, userID, map[string]any{"is_affiliate": true})
	if err != nil && err != gorm.ErrRecordNotFound {
		return errutil.Internal("internal error", err)
	}
	return nil
}

// IncrementPayoutCount bumps the trading account counter inside tx.
func (s *Service) IncrementPayoutCount(ctx context.Context, tx *gorm.DB, accountID string) error {
	res := tx.WithContext(ctx).Model(&TradingAccount{}).
		Where("id = ?", accountID).
		UpdateColumn("payout_request_count", gorm.Expr("payout_request_count + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkBreached flags the trading account as breached inside tx.
func (s *Service) MarkBreached(ctx context.Context, tx *gorm.DB, accountID string) error {
	res := tx.WithContext(ctx).Model(&TradingAccount{}).
		Where("id = ?", accountID).
		UpdateColumn("breached", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

type SettingsInput struct {
	Tier1Rate     *float64 `json:"tier1_rate" validate:"omitempty,gte=0,lte=1"`
	Tier2Rate     *float64 `json:"tier2_rate" validate:"omitempty,gte=0,lte=1"`
	Tier3Rate     *float64 `json:"tier3_rate" validate:"omitempty,gte=0,lte=1"`
	Tier4Rate     *float64 `json:"tier4_rate" validate:"omitempty,gte=0,lte=1"`
	OrderAgeDays  *int     `json:"order_age_days" validate:"omitempty,gte=1,lte=365"`
	MinWithdrawal *float64 `json:"min_withdrawal" validate:"omitempty,gte=0"`
}

func (in SettingsInput) changes() map[string]any {
	m := map[string]any{}
	set := func(col string, v any, ok bool) {
		if ok {
			m[col] = v
		}
	}
	set("tier1_rate", in.Tier1Rate, in.Tier1Rate != nil)
	set("tier2_rate", in.Tier2Rate, in.Tier2Rate != nil)
	set("tier3_rate", in.Tier3Rate, in.Tier3Rate != nil)
	set("tier4_rate", in.Tier4Rate, in.Tier4Rate != nil)
	set("order_age_days", in.OrderAgeDays, in.OrderAgeDays != nil)
	set("min_withdrawal", in.MinWithdrawal, in.MinWithdrawal != nil)
	return m
}

func (s *Service) UpdateAffiliateSettings(ctx context.Context, userID string, in SettingsInput) (*User, error) {
	if err := validate.Struct(in); err != nil {
		return nil, errutil.FromValidation(err)
	}

	changes := in.changes()
	if len(changes) == 0 {
		return nil, errutil.BadRequest("at least one affiliate setting is required", nil)
	}

	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	if err := s.users.Update(ctx, userID, changes); err != nil {
		zap.L().Error("failed to update affiliate settings", zap.String("user_id", userID), zap.Error(err))
		return nil, errutil.Internal("internal error", err)
	}

	return s.GetUser(ctx, userID)
}

// SetReferrer rewrites the referral edge. Existence and cycle checks belong
// to the caller.
func (s *Service) SetReferrer(ctx context.Context, userID string, referrerID *string) error {
	err := s.users.Update(ctx, userID, map[string]any{"referred_by": referrerID})
	if err != nil && err != gorm.ErrRecordNotFound {
		return errutil.Internal("internal error", err)
	}
	return nil
}
