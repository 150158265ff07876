package milestone

import (
	"context"
	"time"

	"propdesk-affiliate/pkg/celengine"
	"propdesk-affiliate/pkg/config"
	"propdesk-affiliate/pkg/errutil"
	"propdesk-affiliate/pkg/metrics"
	"propdesk-affiliate/services/referral"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatsReader supplies the referral counts milestones are checked against.
type StatsReader interface {
	Stats(ctx context.Context, userID string) (*referral.Stats, error)
}

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	stats StatsReader
	defs  []Definition

	group singleflight.Group
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Referral *referral.Service
}

func NewService(p ServiceParams) (*Service, error) {
	engine, err := celengine.NewIntEngine(conditionVars...)
	if err != nil {
		return nil, err
	}

	milestones := p.Config.Milestones
	if len(milestones) == 0 {
		milestones = config.DefaultMilestones()
	}

	defs, err := Compile(engine, milestones)
	if err != nil {
		return nil, err
	}

	return New(p.DB, p.Node, p.Referral, defs), nil
}

func New(db *gorm.DB, node *snowflake.Node, stats StatsReader, defs []Definition) *Service {
	return &Service{db: db, node: node, stats: stats, defs: defs}
}

func logger(ctx context.Context) *zap.Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	return zap.L().With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

func (s *Service) Definitions() []Definition { return s.defs }

// Evaluate records every milestone the user newly satisfies, in rank order,
// starting after the highest rank already achieved and stopping at the first
// unmet one. It returns the last achievement recorded, or nil. Concurrent
// calls for the same user share one evaluation.
func (s *Service) Evaluate(ctx context.Context, userID string) (*Achievement, error) {
	if userID == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}

	v, err, _ := s.group.Do(userID, func() (any, error) {
		// shared by every waiter, so one caller cancelling must not fail the rest
		return s.evaluate(context.WithoutCancel(ctx), userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Achievement), nil
}

func (s *Service) evaluate(ctx context.Context, userID string) (*Achievement, error) {
	current, err := s.currentRank(ctx, userID)
	if err != nil {
		return nil, err
	}

	start := len(s.defs)
	for i, def := range s.defs {
		if def.Rank > current {
			start = i
			break
		}
	}
	if start == len(s.defs) {
		return nil, nil
	}

	stats, err := s.stats.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var queued []*Achievement
	for _, def := range s.defs[start:] {
		ok, err := def.Satisfied(stats)
		if err != nil {
			logger(ctx).Error("failed to evaluate milestone", zap.String("user_id", userID), zap.Int("rank", def.Rank), zap.Error(err))
			return nil, errutil.Internal("internal error", err)
		}
		if !ok {
			break
		}
		queued = append(queued, &Achievement{
			ID:         s.node.Generate().String(),
			UserID:     userID,
			Rank:       def.Rank,
			Label:      def.Label,
			Text:       def.Text,
			Reward:     def.Reward,
			AchievedAt: now,
		})
	}

	if len(queued) == 0 {
		return nil, nil
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "milestone_rank"}},
			DoNothing: true,
		}).
		Create(&queued)
	if res.Error != nil {
		logger(ctx).Error("failed to record milestones", zap.String("user_id", userID), zap.Error(res.Error))
		return nil, errutil.Internal("internal error", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	for _, a := range queued {
		metrics.MilestonesAchieved.WithLabelValues(a.Label).Inc()
	}

	last := queued[len(queued)-1]
	logger(ctx).Info("milestones achieved",
		zap.String("user_id", userID),
		zap.Int("from_rank", queued[0].Rank),
		zap.Int("to_rank", last.Rank),
	)
	return last, nil
}

func (s *Service) currentRank(ctx context.Context, userID string) (int, error) {
	var rank int
	err := s.db.WithContext(ctx).Model(&Achievement{}).
		Where("user_id = ?", userID).
		Select("COALESCE(MAX(milestone_rank), 0)").
		Scan(&rank).Error
	if err != nil {
		logger(ctx).Error("failed to query current milestone", zap.String("user_id", userID), zap.Error(err))
		return 0, errutil.Internal("internal error", err)
	}
	return rank, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]*Achievement, error) {
	var out []*Achievement
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("milestone_rank").Find(&out).Error; err != nil {
		logger(ctx).Error("failed to list achievements", zap.String("user_id", userID), zap.Error(err))
		return nil, errutil.Internal("internal error", err)
	}
	return out, nil
}

func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	var rows []LeaderboardRow
	err := s.db.WithContext(ctx).Model(&Achievement{}).
		Select("user_id, COUNT(*) AS achievements, MAX(milestone_rank) AS highest_rank").
		Group("user_id").
		Order("highest_rank DESC, achievements DESC, user_id").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		logger(ctx).Error("failed to query leaderboard", zap.Error(err))
		return nil, errutil.Internal("internal error", err)
	}
	return rows, nil
}
