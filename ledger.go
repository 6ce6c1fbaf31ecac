package subledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/plugin"
	"github.com/xraph/subledger/store"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/types"
	"github.com/xraph/subledger/user"
)

const tracerName = "github.com/xraph/subledger"

// Ledger is the subscription ledger engine.
type Ledger struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	plans   *cache.Cache
	catalog []*plan.Plan
	seed    bool

	ready atomic.Bool
}

// New creates a new Ledger instance. Call Start before serving traffic.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:   s,
		plugins: plugin.NewRegistry(),
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
		now:     func() time.Time { return time.Now().UTC() },
		plans:   cache.New(10*time.Minute, 20*time.Minute),
		catalog: plan.DefaultCatalog(),
		seed:    true,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithPluginTimeout bounds each plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.plugins.WithTimeout(d)
	}
}

// WithClock replaces the time source. The returned times are stored in UTC.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = func() time.Time { return now().UTC() }
	}
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(l *Ledger) {
		l.tracer = t
	}
}

// WithPlanCacheTTL sets how long plan lookups are cached. Zero disables the cache.
func WithPlanCacheTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		if ttl <= 0 {
			l.plans = nil
			return
		}
		l.plans = cache.New(ttl, 2*ttl)
	}
}

// WithCatalog replaces the plans ensured by Start.
func WithCatalog(plans []*plan.Plan) Option {
	return func(l *Ledger) {
		l.catalog = plans
	}
}

// WithoutSeed skips catalog seeding in Start.
func WithoutSeed() Option {
	return func(l *Ledger) {
		l.seed = false
	}
}

// Start migrates the store, seeds the plan catalog and marks the ledger ready.
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	if l.seed {
		if _, err := l.SeedCatalog(ctx); err != nil {
			return err
		}
	}

	l.ready.Store(true)
	l.plugins.EmitInit(ctx, l)

	l.logger.Info("subscription ledger started",
		"plugins", l.plugins.Count(),
		"catalog", len(l.catalog),
	)

	return nil
}

// Ready reports whether Start completed.
func (l *Ledger) Ready() bool {
	return l.ready.Load()
}

// Stop shuts down the Ledger and closes its store.
func (l *Ledger) Stop() error {
	l.ready.Store(false)

	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// Ping checks the store connection.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}

// Store returns the underlying store.
func (l *Ledger) Store() store.Store {
	return l.store
}

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry {
	return l.plugins
}

// Now returns the ledger clock reading.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// ──────────────────────────────────────────────────
// Plan Catalog
// ──────────────────────────────────────────────────

// SeedCatalog ensures every catalog plan exists. It is idempotent.
func (l *Ledger) SeedCatalog(ctx context.Context) ([]*plan.Plan, error) {
	ctx, span := l.startSpan(ctx, "Ledger.SeedCatalog")
	seeded := make([]*plan.Plan, 0, len(l.catalog))
	for _, p := range l.catalog {
		cp := *p
		if err := cp.Validate(); err != nil {
			err = fmt.Errorf("%w: %w", ErrSeedFailed, err)
			endSpan(span, err)
			return nil, err
		}
		if err := l.store.EnsurePlan(ctx, &cp); err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrSeedFailed, cp.Name, err)
			endSpan(span, err)
			return nil, err
		}
		l.cachePlan(&cp)
		seeded = append(seeded, &cp)
	}
	endSpan(span, nil)

	l.plugins.EmitPlansSeeded(ctx, seeded)
	return seeded, nil
}

// ListPlans returns the plan catalog ordered by id.
func (l *Ledger) ListPlans(ctx context.Context) ([]*plan.Plan, error) {
	plans, err := l.store.ListPlans(ctx)
	if err != nil {
		return nil, wrapStore("list plans", err)
	}
	return plans, nil
}

// GetPlan retrieves a plan by ID. Plans are immutable so lookups are cached.
func (l *Ledger) GetPlan(ctx context.Context, planID int64) (*plan.Plan, error) {
	if l.plans != nil {
		if v, ok := l.plans.Get(planKey(planID)); ok {
			cp := *v.(*plan.Plan)
			return &cp, nil
		}
	}

	p, err := l.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, wrapStore("get plan", err)
	}
	l.cachePlan(p)
	return p, nil
}

// GetPlanByName retrieves a plan by its catalog name.
func (l *Ledger) GetPlanByName(ctx context.Context, name plan.Name) (*plan.Plan, error) {
	p, err := l.store.GetPlanByName(ctx, name)
	if err != nil {
		return nil, wrapStore("get plan by name", err)
	}
	l.cachePlan(p)
	return p, nil
}

func (l *Ledger) cachePlan(p *plan.Plan) {
	if l.plans == nil || p == nil || p.ID == 0 {
		return
	}
	cp := *p
	l.plans.Set(planKey(p.ID), &cp, cache.DefaultExpiration)
}

func planKey(planID int64) string {
	return "plan:" + strconv.FormatInt(planID, 10)
}

// ──────────────────────────────────────────────────
// Users
// ──────────────────────────────────────────────────

// CreateUser records an account owned by the auth service.
func (l *Ledger) CreateUser(ctx context.Context, u *user.User) error {
	if err := u.Validate(); err != nil {
		return ValidationError{Field: "user", Message: err.Error()}
	}
	if u.CreatedAt.IsZero() {
		u.Entity = types.NewEntityAt(l.now())
	}
	if err := l.store.CreateUser(ctx, u); err != nil {
		return wrapStore("create user", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (l *Ledger) GetUser(ctx context.Context, userID int64) (*user.User, error) {
	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return nil, wrapStore("get user", err)
	}
	return u, nil
}

// ListUsers returns users, most recently created first.
func (l *Ledger) ListUsers(ctx context.Context, opts user.ListOpts) ([]*user.User, error) {
	users, err := l.store.ListUsers(ctx, opts)
	if err != nil {
		return nil, wrapStore("list users", err)
	}
	return users, nil
}

// DeleteUser removes a user together with its subscriptions and periods.
func (l *Ledger) DeleteUser(ctx context.Context, userID int64) error {
	if err := l.store.DeleteUser(ctx, userID); err != nil {
		return wrapStore("delete user", err)
	}
	l.logger.Info("user deleted", "user_id", userID)
	return nil
}

// ──────────────────────────────────────────────────
// Subscription Management
// ──────────────────────────────────────────────────

// CreateSubscription enrolls a user in a plan starting now, with a single
// open active period.
func (l *Ledger) CreateSubscription(ctx context.Context, userID, planID int64) (sub *subscription.Subscription, err error) {
	ctx, span := l.startSpan(ctx, "Ledger.CreateSubscription",
		attribute.Int64("user_id", userID),
		attribute.Int64("plan_id", planID),
	)
	defer func() { endSpan(span, err) }()

	sub, err = l.createSubscription(ctx, userID, planID, l.now())
	if err != nil {
		return nil, err
	}

	l.logger.Info("subscription created",
		"subscription_id", sub.ID,
		"user_id", userID,
		"plan_id", planID,
	)
	l.plugins.EmitSubscriptionCreated(ctx, sub)
	return sub, nil
}

func (l *Ledger) createSubscription(ctx context.Context, userID, planID int64, start time.Time) (*subscription.Subscription, error) {
	if userID <= 0 {
		return nil, ValidationError{Field: "userId", Message: "must be a positive id"}
	}
	if planID <= 0 {
		return nil, ValidationError{Field: "planId", Message: "must be a positive id"}
	}
	if _, err := l.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	if _, err := l.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	sub := &subscription.Subscription{
		UserID:    userID,
		PlanID:    planID,
		StartDate: start,
	}
	if err := l.store.CreateSubscription(ctx, sub); err != nil {
		return nil, wrapStore("create subscription", err)
	}
	return sub, nil
}

// GetSubscription retrieves a subscription by ID.
func (l *Ledger) GetSubscription(ctx context.Context, subID int64) (*subscription.Subscription, error) {
	sub, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, wrapStore("get subscription", err)
	}
	return sub, nil
}

// FindSubscriptions returns the user's subscriptions to a plan.
func (l *Ledger) FindSubscriptions(ctx context.Context, userID, planID int64) ([]*subscription.Subscription, error) {
	subs, err := l.store.FindSubscriptions(ctx, userID, planID)
	if err != nil {
		return nil, wrapStore("find subscriptions", err)
	}
	return subs, nil
}

// ListPeriods returns the ordered period timeline of a subscription.
func (l *Ledger) ListPeriods(ctx context.Context, subID int64) ([]*subscription.Period, error) {
	periods, err := l.store.ListPeriods(ctx, subID)
	if err != nil {
		return nil, wrapStore("list periods", err)
	}
	return periods, nil
}

// PauseSubscription closes the open active period and opens a paused one.
// When no active period is open the returned transition carries
// OutcomeNoOpenPeriod and nothing changes.
func (l *Ledger) PauseSubscription(ctx context.Context, subID int64) (*subscription.Transition, error) {
	return l.transition(ctx, "Ledger.PauseSubscription", subID, subscription.StatusActive, subscription.StatusPaused)
}

// ResumeSubscription closes the open paused period and opens an active one.
func (l *Ledger) ResumeSubscription(ctx context.Context, subID int64) (*subscription.Transition, error) {
	return l.transition(ctx, "Ledger.ResumeSubscription", subID, subscription.StatusPaused, subscription.StatusActive)
}

func (l *Ledger) transition(ctx context.Context, op string, subID int64, from, to subscription.Status) (t *subscription.Transition, err error) {
	ctx, span := l.startSpan(ctx, op,
		attribute.Int64("subscription_id", subID),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	)
	defer func() {
		if t != nil {
			span.SetAttributes(attribute.String("outcome", string(t.Outcome)))
		}
		endSpan(span, err)
	}()

	t, err = l.store.Transition(ctx, subID, from, to, l.now())
	if err != nil {
		return nil, wrapStore("transition", err)
	}

	if !t.Applied() {
		// Tell a missing subscription apart from one in the wrong state.
		if _, err := l.store.GetSubscription(ctx, subID); err != nil {
			return nil, wrapStore("get subscription", err)
		}
		l.logger.Info("subscription transition skipped",
			"subscription_id", subID,
			"from", from,
			"to", to,
		)
		l.plugins.EmitTransitionSkipped(ctx, t)
		return t, nil
	}

	l.logger.Info("subscription transitioned",
		"subscription_id", subID,
		"from", from,
		"to", to,
		"period_id", t.PeriodID,
	)
	if to == subscription.StatusPaused {
		l.plugins.EmitSubscriptionPaused(ctx, t)
	} else {
		l.plugins.EmitSubscriptionResumed(ctx, t)
	}
	return t, nil
}

// GetUserSubscriptions returns every period of every subscription owned by
// the user, ordered by subscription start then period start. Subscriptions
// without periods appear once with empty period fields.
func (l *Ledger) GetUserSubscriptions(ctx context.Context, userID int64) (rows []subscription.Row, err error) {
	ctx, span := l.startSpan(ctx, "Ledger.GetUserSubscriptions", attribute.Int64("user_id", userID))
	defer func() { endSpan(span, err) }()

	subs, plans, periods, err := l.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	rows = subscription.Project(subs, plans, periods)
	span.SetAttributes(attribute.Int("rows", len(rows)))
	return rows, nil
}

// GetUserHistory groups the user's subscriptions with their periods and
// the derived current status.
func (l *Ledger) GetUserHistory(ctx context.Context, userID int64) (hist []subscription.History, err error) {
	ctx, span := l.startSpan(ctx, "Ledger.GetUserHistory", attribute.Int64("user_id", userID))
	defer func() { endSpan(span, err) }()

	subs, plans, periods, err := l.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return subscription.BuildHistory(subs, plans, periods, l.now()), nil
}

func (l *Ledger) loadUser(ctx context.Context, userID int64) ([]*subscription.Subscription, map[int64]*plan.Plan, []*subscription.Period, error) {
	subs, err := l.store.ListUserSubscriptions(ctx, userID)
	if err != nil {
		return nil, nil, nil, wrapStore("list user subscriptions", err)
	}
	if len(subs) == 0 {
		return nil, nil, nil, nil
	}

	periods, err := l.store.ListUserPeriods(ctx, userID)
	if err != nil {
		return nil, nil, nil, wrapStore("list user periods", err)
	}

	plans := make(map[int64]*plan.Plan)
	for _, s := range subs {
		if _, ok := plans[s.PlanID]; ok {
			continue
		}
		p, err := l.GetPlan(ctx, s.PlanID)
		if err != nil {
			return nil, nil, nil, err
		}
		plans[p.ID] = p
	}
	return subs, plans, periods, nil
}

// UpdateSubscriptionStartDate rewrites the start date of the subscription
// and of all its periods. End dates and statuses are left untouched.
func (l *Ledger) UpdateSubscriptionStartDate(ctx context.Context, subID int64, date time.Time) (err error) {
	ctx, span := l.startSpan(ctx, "Ledger.UpdateSubscriptionStartDate", attribute.Int64("subscription_id", subID))
	defer func() { endSpan(span, err) }()

	if date.IsZero() {
		return ValidationError{Field: "startDate", Message: "is required"}
	}
	if err := l.store.UpdateStartDate(ctx, subID, date.UTC()); err != nil {
		return wrapStore("update start date", err)
	}

	l.logger.Info("subscription start date updated",
		"subscription_id", subID,
		"start_date", date.UTC(),
	)
	return nil
}

// DeleteSubscription removes a subscription and all its periods.
func (l *Ledger) DeleteSubscription(ctx context.Context, subID int64) (err error) {
	ctx, span := l.startSpan(ctx, "Ledger.DeleteSubscription", attribute.Int64("subscription_id", subID))
	defer func() { endSpan(span, err) }()

	if err := l.store.DeleteSubscription(ctx, subID); err != nil {
		return wrapStore("delete subscription", err)
	}

	l.logger.Info("subscription deleted", "subscription_id", subID)
	l.plugins.EmitSubscriptionDeleted(ctx, subID)
	return nil
}

// DeleteSubscriptionPeriods removes every period of a subscription and
// keeps the subscription row.
func (l *Ledger) DeleteSubscriptionPeriods(ctx context.Context, subID int64) (n int64, err error) {
	ctx, span := l.startSpan(ctx, "Ledger.DeleteSubscriptionPeriods", attribute.Int64("subscription_id", subID))
	defer func() { endSpan(span, err) }()

	if _, err := l.GetSubscription(ctx, subID); err != nil {
		return 0, err
	}
	n, err = l.store.DeletePeriods(ctx, subID)
	if err != nil {
		return 0, wrapStore("delete periods", err)
	}

	l.logger.Info("subscription periods deleted",
		"subscription_id", subID,
		"count", n,
	)
	l.plugins.EmitPeriodsDeleted(ctx, subID, n)
	return n, nil
}

// ReplaceSubscription drops the user's existing subscriptions to the plan
// and creates a new one dated start. It backfills memberships that began
// before the ledger recorded them.
func (l *Ledger) ReplaceSubscription(ctx context.Context, userID, planID int64, start time.Time) (sub *subscription.Subscription, err error) {
	ctx, span := l.startSpan(ctx, "Ledger.ReplaceSubscription",
		attribute.Int64("user_id", userID),
		attribute.Int64("plan_id", planID),
	)
	defer func() { endSpan(span, err) }()

	if start.IsZero() {
		return nil, ValidationError{Field: "startDate", Message: "is required"}
	}

	existing, err := l.FindSubscriptions(ctx, userID, planID)
	if err != nil {
		return nil, err
	}
	for _, s := range existing {
		if _, err := l.store.DeletePeriods(ctx, s.ID); err != nil {
			return nil, wrapStore("delete periods", err)
		}
		if err := l.store.DeleteSubscription(ctx, s.ID); err != nil && !IsNotFound(err) {
			return nil, wrapStore("delete subscription", err)
		}
	}

	sub, err = l.createSubscription(ctx, userID, planID, l.now())
	if err != nil {
		return nil, err
	}
	if err := l.store.UpdateStartDate(ctx, sub.ID, start.UTC()); err != nil {
		return nil, wrapStore("update start date", err)
	}
	sub.StartDate = start.UTC()

	l.logger.Info("subscription backfilled",
		"subscription_id", sub.ID,
		"user_id", userID,
		"plan_id", planID,
		"replaced", len(existing),
		"start_date", sub.StartDate,
	)
	l.plugins.EmitSubscriptionBackfilled(ctx, sub)
	return sub, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (l *Ledger) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
