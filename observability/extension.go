// Package observability provides a metrics extension for the subscription
// ledger that records lifecycle event counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/plugin"
	"github.com/xraph/subledger/subscription"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                   = (*MetricsExtension)(nil)
	_ plugin.OnInit                   = (*MetricsExtension)(nil)
	_ plugin.OnPlansSeeded            = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated    = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionPaused     = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionResumed    = (*MetricsExtension)(nil)
	_ plugin.OnTransitionSkipped      = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionBackfilled = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionDeleted    = (*MetricsExtension)(nil)
	_ plugin.OnPeriodsDeleted         = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a ledger plugin to track subscription activity.
type MetricsExtension struct {
	factory MetricFactory

	// Catalog metrics
	PlansSeeded Counter

	// Subscription metrics
	SubscriptionCreated    Counter
	SubscriptionPaused     Counter
	SubscriptionResumed    Counter
	TransitionSkipped      Counter
	SubscriptionBackfilled Counter
	SubscriptionDeleted    Counter

	// Period metrics
	PeriodsDeleted     Counter
	PeriodsPerDeletion Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		PlansSeeded: factory.Counter("subledger.plan.seeded"),

		SubscriptionCreated:    factory.Counter("subledger.subscription.created"),
		SubscriptionPaused:     factory.Counter("subledger.subscription.paused"),
		SubscriptionResumed:    factory.Counter("subledger.subscription.resumed"),
		TransitionSkipped:      factory.Counter("subledger.subscription.transition_skipped"),
		SubscriptionBackfilled: factory.Counter("subledger.subscription.backfilled"),
		SubscriptionDeleted:    factory.Counter("subledger.subscription.deleted"),

		PeriodsDeleted:     factory.Counter("subledger.period.deleted"),
		PeriodsPerDeletion: factory.Histogram("subledger.period.deleted_per_call"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// OnPlansSeeded implements plugin.OnPlansSeeded.
func (m *MetricsExtension) OnPlansSeeded(_ context.Context, plans []*plan.Plan) error {
	m.PlansSeeded.Add(float64(len(plans)))
	return nil
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (m *MetricsExtension) OnSubscriptionCreated(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionCreated.Inc()
	return nil
}

// OnSubscriptionPaused implements plugin.OnSubscriptionPaused.
func (m *MetricsExtension) OnSubscriptionPaused(_ context.Context, _ *subscription.Transition) error {
	m.SubscriptionPaused.Inc()
	return nil
}

// OnSubscriptionResumed implements plugin.OnSubscriptionResumed.
func (m *MetricsExtension) OnSubscriptionResumed(_ context.Context, _ *subscription.Transition) error {
	m.SubscriptionResumed.Inc()
	return nil
}

// OnTransitionSkipped implements plugin.OnTransitionSkipped.
func (m *MetricsExtension) OnTransitionSkipped(_ context.Context, _ *subscription.Transition) error {
	m.TransitionSkipped.Inc()
	return nil
}

// OnSubscriptionBackfilled implements plugin.OnSubscriptionBackfilled.
func (m *MetricsExtension) OnSubscriptionBackfilled(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionBackfilled.Inc()
	return nil
}

// OnSubscriptionDeleted implements plugin.OnSubscriptionDeleted.
func (m *MetricsExtension) OnSubscriptionDeleted(_ context.Context, _ int64) error {
	m.SubscriptionDeleted.Inc()
	return nil
}

// OnPeriodsDeleted implements plugin.OnPeriodsDeleted.
func (m *MetricsExtension) OnPeriodsDeleted(_ context.Context, _, count int64) error {
	m.PeriodsDeleted.Add(float64(count))
	m.PeriodsPerDeletion.Observe(float64(count))
	return nil
}
