package audithook

// Action constants for audit events.
const (
	// Catalog actions
	ActionPlansSeeded = "plan.seeded"

	// Subscription actions
	ActionSubscriptionCreated    = "subscription.created"
	ActionSubscriptionPaused     = "subscription.paused"
	ActionSubscriptionResumed    = "subscription.resumed"
	ActionTransitionSkipped      = "subscription.transition_skipped"
	ActionSubscriptionBackfilled = "subscription.backfilled"
	ActionSubscriptionDeleted    = "subscription.deleted"
	ActionPeriodsDeleted         = "subscription.periods_deleted"
)

// Resource constants for audit events.
const (
	ResourcePlan         = "plan"
	ResourceSubscription = "subscription"
	ResourcePeriod       = "subscription_period"
)

// Category constants for audit events.
const (
	CategoryCatalog      = "catalog"
	CategorySubscription = "subscription"
	CategoryAdmin        = "admin"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)
