package referral

import (
	"context"
	"errors"

	"propdesk-affiliate/pkg/errutil"
	"propdesk-affiliate/services/account"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// queries with IN lists are split into chunks of this size
const chunkSize = 500

type Service struct {
	db       *gorm.DB
	accounts *account.Service
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Accounts *account.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB, accounts: p.Accounts}
}

func logger(ctx context.Context) *zap.Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	return zap.L().With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

// Direct returns the ids of users referred by userID.
func (s *Service) Direct(ctx context.Context, userID string) ([]string, error) {
	return s.children(ctx, []string{userID})
}

func (s *Service) children(ctx context.Context, parents []string) ([]string, error) {
	var out []string
	for start := 0; start < len(parents); start += chunkSize {
		end := start + chunkSize
		if end > len(parents) {
			end = len(parents)
		}

		var ids []string
		if err := s.db.WithContext(ctx).
			Model(&account.User{}).
			Where("referred_by IN ?", parents[start:end]).
			Order("id").
			Pluck("id", &ids).Error; err != nil {
			return nil, err
		}
		out = append(out, ids...)
	}
	return out, nil
}

// Tree walks the referred-by edges breadth first down to depth tiers. Users
// already seen (including the root) are skipped so a corrupted cyclic graph
// still terminates.
func (s *Service) Tree(ctx context.Context, userID string, depth int) (*Tree, error) {
	if depth <= 0 || depth > MaxDepth {
		depth = MaxDepth
	}

	tree := &Tree{Root: userID, Tiers: make([][]string, 0, depth)}
	visited := map[string]struct{}{userID: {}}
	frontier := []string{userID}

	for tier := 1; tier <= depth; tier++ {
		if len(frontier) == 0 {
			tree.Tiers = append(tree.Tiers, []string{})
			continue
		}

		ids, err := s.children(ctx, frontier)
		if err != nil {
			logger(ctx).Error("failed to query referral tier", zap.String("user_id", userID), zap.Int("tier", tier), zap.Error(err))
			return nil, errutil.Internal("internal error", err)
		}

		next := make([]string, 0, len(ids))
		for _, id := range ids {
			if _, seen := visited[id]; seen {
				continue
			}
			visited[id] = struct{}{}
			next = append(next, id)
		}

		tree.Tiers = append(tree.Tiers, next)
		frontier = next
	}

	return tree, nil
}

// Stats computes unique downstream counts over the full bounded tree. Counts
// are recomputed on every call.
func (s *Service) Stats(ctx context.Context, userID string) (*Stats, error) {
	tree, err := s.Tree(ctx, userID, MaxDepth)
	if err != nil {
		return nil, err
	}
	return tree.Stats(), nil
}

// Upline returns the referrer chain of userID: index 0 is the direct referrer
// (tier 1). It stops at depth, at a user without referrer, at a dangling
// reference, or when a user repeats.
func (s *Service) Upline(ctx context.Context, userID string, depth int) ([]*account.User, error) {
	if depth <= 0 {
		return nil, nil
	}

	user, err := s.load(ctx, userID)
	if err != nil || user == nil {
		return nil, err
	}

	var chain []*account.User
	visited := map[string]struct{}{userID: {}}

	for len(chain) < depth {
		if user.ReferredBy == nil || *user.ReferredBy == "" {
			break
		}

		parentID := *user.ReferredBy
		if _, seen := visited[parentID]; seen {
			logger(ctx).Warn("referral cycle detected", zap.String("user_id", userID), zap.String("repeated", parentID))
			break
		}
		visited[parentID] = struct{}{}

		parent, err := s.load(ctx, parentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			break
		}

		chain = append(chain, parent)
		user = parent
	}

	return chain, nil
}

func (s *Service) load(ctx context.Context, userID string) (*account.User, error) {
	var user account.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		logger(ctx).Error("failed to query user", zap.String("user_id", userID), zap.Error(err))
		return nil, errutil.Internal("internal error", err)
	}
	return &user, nil
}

// Reparent moves userID under referrerID, or detaches it when referrerID is
// empty. It refuses self-referral and any edge that would close a cycle.
func (s *Service) Reparent(ctx context.Context, userID, referrerID string) error {
	if _, err := s.accounts.GetUser(ctx, userID); err != nil {
		return err
	}

	if referrerID == "" {
		return s.accounts.SetReferrer(ctx, userID, nil)
	}

	if referrerID == userID {
		return errutil.BadRequest("a user cannot refer themselves", nil)
	}

	if _, err := s.accounts.GetUser(ctx, referrerID); err != nil {
		return err
	}

	// a cycle exists if userID is already above referrerID
	chain, err := s.Upline(ctx, referrerID, 64)
	if err != nil {
		return err
	}
	for _, u := range chain {
		if u.ID == userID {
			return errutil.Conflict("referrer is already downstream of this user", nil)
		}
	}

	logger(ctx).Info("reparenting user", zap.String("user_id", userID), zap.String("referrer_id", referrerID))
	return s.accounts.SetReferrer(ctx, userID, &referrerID)
}
