// Package audithook bridges subscription ledger events to an audit trail
// backend. It defines a local Recorder interface; callers inject an
// adapter for their audit store at wiring time, or use LogRecorder.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/subledger/id"
	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/plugin"
	"github.com/xraph/subledger/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                   = (*Extension)(nil)
	_ plugin.OnPlansSeeded            = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated    = (*Extension)(nil)
	_ plugin.OnSubscriptionPaused     = (*Extension)(nil)
	_ plugin.OnSubscriptionResumed    = (*Extension)(nil)
	_ plugin.OnTransitionSkipped      = (*Extension)(nil)
	_ plugin.OnSubscriptionBackfilled = (*Extension)(nil)
	_ plugin.OnSubscriptionDeleted    = (*Extension)(nil)
	_ plugin.OnPeriodsDeleted         = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a single audit trail entry.
type AuditEvent struct {
	ID         id.AuditEventID `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	Category   string          `json:"category"`
	ResourceID string          `json:"resource_id,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	Outcome    string          `json:"outcome"`
	Severity   string          `json:"severity"`
	Reason     string          `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder writes audit events as structured log records.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		logger.InfoContext(ctx, "audit",
			"audit_id", evt.ID.String(),
			"action", evt.Action,
			"resource", evt.Resource,
			"resource_id", evt.ResourceID,
			"category", evt.Category,
			"outcome", evt.Outcome,
			"severity", evt.Severity,
			"metadata", evt.Metadata,
		)
		return nil
	})
}

// Extension bridges ledger lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

// OnPlansSeeded implements plugin.OnPlansSeeded.
func (e *Extension) OnPlansSeeded(ctx context.Context, plans []*plan.Plan) error {
	names := make([]string, len(plans))
	for i, p := range plans {
		names[i] = string(p.Name)
	}
	return e.record(ctx, ActionPlansSeeded, SeverityInfo, OutcomeSuccess,
		ResourcePlan, "", CategoryCatalog, nil,
		"plans", names,
	)
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (e *Extension) OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionCreated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, formatID(sub.ID), CategorySubscription, nil,
		"user_id", sub.UserID,
		"plan_id", sub.PlanID,
		"start_date", sub.StartDate,
	)
}

// OnSubscriptionPaused implements plugin.OnSubscriptionPaused.
func (e *Extension) OnSubscriptionPaused(ctx context.Context, t *subscription.Transition) error {
	return e.recordTransition(ctx, ActionSubscriptionPaused, SeverityInfo, OutcomeSuccess, t)
}

// OnSubscriptionResumed implements plugin.OnSubscriptionResumed.
func (e *Extension) OnSubscriptionResumed(ctx context.Context, t *subscription.Transition) error {
	return e.recordTransition(ctx, ActionSubscriptionResumed, SeverityInfo, OutcomeSuccess, t)
}

// OnTransitionSkipped implements plugin.OnTransitionSkipped.
func (e *Extension) OnTransitionSkipped(ctx context.Context, t *subscription.Transition) error {
	return e.recordTransition(ctx, ActionTransitionSkipped, SeverityWarning, OutcomeSkipped, t)
}

// OnSubscriptionBackfilled implements plugin.OnSubscriptionBackfilled.
func (e *Extension) OnSubscriptionBackfilled(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionBackfilled, SeverityWarning, OutcomeSuccess,
		ResourceSubscription, formatID(sub.ID), CategoryAdmin, nil,
		"user_id", sub.UserID,
		"plan_id", sub.PlanID,
		"start_date", sub.StartDate,
	)
}

// OnSubscriptionDeleted implements plugin.OnSubscriptionDeleted.
func (e *Extension) OnSubscriptionDeleted(ctx context.Context, subID int64) error {
	return e.record(ctx, ActionSubscriptionDeleted, SeverityWarning, OutcomeSuccess,
		ResourceSubscription, formatID(subID), CategoryAdmin, nil,
	)
}

// OnPeriodsDeleted implements plugin.OnPeriodsDeleted.
func (e *Extension) OnPeriodsDeleted(ctx context.Context, subID, count int64) error {
	return e.record(ctx, ActionPeriodsDeleted, SeverityWarning, OutcomeSuccess,
		ResourcePeriod, formatID(subID), CategoryAdmin, nil,
		"count", count,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func (e *Extension) recordTransition(ctx context.Context, action, severity, outcome string, t *subscription.Transition) error {
	return e.record(ctx, action, severity, outcome,
		ResourceSubscription, formatID(t.SubscriptionID), CategorySubscription, nil,
		"from", string(t.From),
		"to", string(t.To),
		"at", t.At,
		"period_id", t.PeriodID,
		"outcome", string(t.Outcome),
	)
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		ID:         id.NewAuditEventID(),
		Timestamp:  e.now(),
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

func formatID(v int64) string {
	return strconv.FormatInt(v, 10)
}
