package milestone

import "time"

// Achievement records that a user reached a milestone rank. At most one row
// exists per (user, rank).
type Achievement struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	UserID     string    `gorm:"column:user_id;uniqueIndex:idx_milestone_user_rank" json:"user_id"`
	Rank       int       `gorm:"column:milestone_rank;uniqueIndex:idx_milestone_user_rank" json:"rank"`
	Label      string    `gorm:"column:label" json:"label"`
	Text       string    `gorm:"column:text" json:"text"`
	Reward     string    `gorm:"column:reward" json:"reward"`
	AchievedAt time.Time `gorm:"column:achieved_at" json:"achieved_at"`
}

func (Achievement) TableName() string { return "milestone_achievements" }

func Models() []any {
	return []any{&Achievement{}}
}

type LeaderboardRow struct {
	UserID       string `json:"user_id"`
	Achievements int64  `json:"achievements"`
	HighestRank  int    `json:"highest_rank"`
}
