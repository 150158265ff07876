package referral

// MaxDepth bounds every traversal of the referral graph.
const MaxDepth = 4

// Tree is the downstream referral graph of Root, one slice of user ids per tier.
// A user appears at most once, at the shallowest tier it was reached.
type Tree struct {
	Root  string     `json:"root"`
	Tiers [][]string `json:"tiers"`
}

// Stats are unique downstream counts. Tiers[0] is tier 1.
type Stats struct {
	UserID string          `json:"user_id"`
	Tiers  [MaxDepth]int64 `json:"tiers"`
	Total  int64           `json:"total"`
}

func (t *Tree) Stats() *Stats {
	s := &Stats{UserID: t.Root}
	for i, ids := range t.Tiers {
		if i >= MaxDepth {
			break
		}
		s.Tiers[i] = int64(len(ids))
		s.Total += int64(len(ids))
	}
	return s
}

// Tier returns the unique count at tier (1-based), 0 when out of range.
func (s *Stats) Tier(tier int) int64 {
	if tier < 1 || tier > MaxDepth {
		return 0
	}
	return s.Tiers[tier-1]
}

// RankLabel names an affiliate by direct referral count.
func RankLabel(referrals int64) string {
	switch {
	case referrals >= 10000:
		return "Global Ambassador"
	case referrals >= 5000:
		return "Network Champion"
	case referrals >= 1000:
		return "Legendary Affiliate"
	case referrals >= 500:
		return "Super Affiliate"
	case referrals >= 100:
		return "Elite Affiliate"
	case referrals >= 50:
		return "Pro Affiliate"
	default:
		return "Rookie Affiliate"
	}
}
