package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommissionEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "affiliate",
		Name:      "commission_entries_total",
		Help:      "Commission entries written, by tier.",
	}, []string{"tier"})

	CommissionAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "affiliate",
		Name:      "commission_amount_total",
		Help:      "Sum of commission amounts written, by tier.",
	}, []string{"tier"})

	CommissionInconsistencies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "affiliate",
		Name:      "commission_inconsistencies_total",
		Help:      "Purchases whose multi-tier commission writes partially failed.",
	})

	PayoutDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "affiliate",
		Name:      "payout_decisions_total",
		Help:      "Payout eligibility outcomes, by category and outcome.",
	}, []string{"category", "outcome"})

	PayoutReviews = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "affiliate",
		Name:      "payout_reviews_total",
		Help:      "Reviewer transitions, by category and resulting status.",
	}, []string{"category", "status"})

	MilestonesAchieved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "affiliate",
		Name:      "milestones_achieved_total",
		Help:      "Milestone achievements newly recorded, by rank label.",
	}, []string{"label"})

	PostActionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "affiliate",
		Name:      "post_action_failures_total",
		Help:      "Best-effort post-actions that failed to dispatch.",
	}, []string{"action"})

	TaskFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "affiliate",
		Name:      "task_failures_total",
		Help:      "Background task failures, by task type and whether asynq will retry.",
	}, []string{"task_type", "final"})
)
