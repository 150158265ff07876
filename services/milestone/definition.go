package milestone

import (
	"fmt"
	"sort"

	"propdesk-affiliate/pkg/celengine"
	"propdesk-affiliate/pkg/config"
	"propdesk-affiliate/services/referral"
)

var conditionVars = []string{"tier_1", "tier_2", "tier_3", "tier_4", "total"}

type Definition struct {
	Rank   int    `json:"rank"`
	Label  string `json:"label"`
	Text   string `json:"text"`
	Reward string `json:"reward"`
	Expr   string `json:"condition"`

	program *celengine.Program
}

// Compile turns configured milestones into definitions ordered by rank.
// Each milestone is a per-tier count, a total count, or a raw expression.
func Compile(engine *celengine.Engine, milestones []config.Milestone) ([]Definition, error) {
	defs := make([]Definition, 0, len(milestones))
	seen := map[int]struct{}{}

	for _, m := range milestones {
		if _, dup := seen[m.Rank]; dup {
			return nil, fmt.Errorf("milestone rank %d is defined twice", m.Rank)
		}
		seen[m.Rank] = struct{}{}

		def := Definition{Rank: m.Rank, Label: m.Label, Reward: m.Reward}
		switch {
		case m.Expression != "":
			def.Expr = m.Expression
			def.Text = m.Label
		case m.TotalUsers > 0:
			def.Expr = fmt.Sprintf("total >= %d", m.TotalUsers)
			def.Text = fmt.Sprintf("Build a total network of %d clients across all tiers.", m.TotalUsers)
		case m.Tier >= 1 && m.Tier <= referral.MaxDepth && m.Users > 0:
			def.Expr = fmt.Sprintf("tier_%d >= %d", m.Tier, m.Users)
			def.Text = fmt.Sprintf("Successfully refer %d clients in Tier %d.", m.Users, m.Tier)
		default:
			return nil, fmt.Errorf("milestone rank %d has no condition", m.Rank)
		}

		prg, err := engine.Compile(def.Expr)
		if err != nil {
			return nil, fmt.Errorf("milestone rank %d: %w", m.Rank, err)
		}
		def.program = prg
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Rank < defs[j].Rank })
	return defs, nil
}

func (d Definition) Satisfied(stats *referral.Stats) (bool, error) {
	return d.program.Eval(map[string]any{
		"tier_1": stats.Tier(1),
		"tier_2": stats.Tier(2),
		"tier_3": stats.Tier(3),
		"tier_4": stats.Tier(4),
		"total":  stats.Total,
	})
}
