package taskname

const (
	// Commission tasks
	PurchaseCompleted = "commission:purchase_completed"

	// Milestone tasks
	MilestoneEvaluate = "milestone:evaluate"

	// Notification tasks
	NotificationEmail = "notification:email"

	// Broker tasks
	BrokerConsistencyCheck = "broker:consistency_check"
	BrokerResetAccount     = "broker:reset_account"
	BrokerBreachAccount    = "broker:breach_account"

	// Event tasks
	EventPublish = "affiliate:event_publish"
)
