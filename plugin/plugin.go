// Package plugin provides an extensible plugin system for the subscription
// ledger. Plugins hook into lifecycle events; a failing or slow plugin is
// logged and never fails the operation that emitted the event.
package plugin

import (
	"context"

	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/subscription"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called once the ledger is ready.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l any) error
}

// OnShutdown is called when the ledger stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

// OnPlansSeeded is called after the plan catalog has been ensured.
type OnPlansSeeded interface {
	Plugin
	OnPlansSeeded(ctx context.Context, plans []*plan.Plan) error
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated is called when a new subscription is created.
type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionPaused is called after an applied pause.
type OnSubscriptionPaused interface {
	Plugin
	OnSubscriptionPaused(ctx context.Context, t *subscription.Transition) error
}

// OnSubscriptionResumed is called after an applied resume.
type OnSubscriptionResumed interface {
	Plugin
	OnSubscriptionResumed(ctx context.Context, t *subscription.Transition) error
}

// OnTransitionSkipped is called when a pause or resume found no open
// period in the expected status.
type OnTransitionSkipped interface {
	Plugin
	OnTransitionSkipped(ctx context.Context, t *subscription.Transition) error
}

// OnSubscriptionBackfilled is called after a subscription was replaced
// with a backdated one.
type OnSubscriptionBackfilled interface {
	Plugin
	OnSubscriptionBackfilled(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionDeleted is called after a subscription and its periods were removed.
type OnSubscriptionDeleted interface {
	Plugin
	OnSubscriptionDeleted(ctx context.Context, subID int64) error
}

// OnPeriodsDeleted is called after the periods of a subscription were removed.
type OnPeriodsDeleted interface {
	Plugin
	OnPeriodsDeleted(ctx context.Context, subID int64, count int64) error
}
