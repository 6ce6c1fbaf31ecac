package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/subscription"
)

// DefaultTimeout bounds a single plugin call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook implementations are discovered once at registration time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                   []OnInit
	onShutdown               []OnShutdown
	onPlansSeeded            []OnPlansSeeded
	onSubscriptionCreated    []OnSubscriptionCreated
	onSubscriptionPaused     []OnSubscriptionPaused
	onSubscriptionResumed    []OnSubscriptionResumed
	onTransitionSkipped      []OnTransitionSkipped
	onSubscriptionBackfilled []OnSubscriptionBackfilled
	onSubscriptionDeleted    []OnSubscriptionDeleted
	onPeriodsDeleted         []OnPeriodsDeleted
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call plugin timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnPlansSeeded); ok {
		r.onPlansSeeded = append(r.onPlansSeeded, v)
	}
	if v, ok := p.(OnSubscriptionCreated); ok {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
	}
	if v, ok := p.(OnSubscriptionPaused); ok {
		r.onSubscriptionPaused = append(r.onSubscriptionPaused, v)
	}
	if v, ok := p.(OnSubscriptionResumed); ok {
		r.onSubscriptionResumed = append(r.onSubscriptionResumed, v)
	}
	if v, ok := p.(OnTransitionSkipped); ok {
		r.onTransitionSkipped = append(r.onTransitionSkipped, v)
	}
	if v, ok := p.(OnSubscriptionBackfilled); ok {
		r.onSubscriptionBackfilled = append(r.onSubscriptionBackfilled, v)
	}
	if v, ok := p.(OnSubscriptionDeleted); ok {
		r.onSubscriptionDeleted = append(r.onSubscriptionDeleted, v)
	}
	if v, ok := p.(OnPeriodsDeleted); ok {
		r.onPeriodsDeleted = append(r.onPeriodsDeleted, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeOf((*OnInit)(nil)).Elem()},
	{"OnShutdown", reflect.TypeOf((*OnShutdown)(nil)).Elem()},
	{"OnPlansSeeded", reflect.TypeOf((*OnPlansSeeded)(nil)).Elem()},
	{"OnSubscriptionCreated", reflect.TypeOf((*OnSubscriptionCreated)(nil)).Elem()},
	{"OnSubscriptionPaused", reflect.TypeOf((*OnSubscriptionPaused)(nil)).Elem()},
	{"OnSubscriptionResumed", reflect.TypeOf((*OnSubscriptionResumed)(nil)).Elem()},
	{"OnTransitionSkipped", reflect.TypeOf((*OnTransitionSkipped)(nil)).Elem()},
	{"OnSubscriptionBackfilled", reflect.TypeOf((*OnSubscriptionBackfilled)(nil)).Elem()},
	{"OnSubscriptionDeleted", reflect.TypeOf((*OnSubscriptionDeleted)(nil)).Elem()},
	{"OnPeriodsDeleted", reflect.TypeOf((*OnPeriodsDeleted)(nil)).Elem()},
}

// implementedInterfaces returns the hook names implemented by p.
func implementedInterfaces(p Plugin) []string {
	var out []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			out = append(out, h.name)
		}
	}
	return out
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// snapshot copies a hook slice under the read lock.
func snapshot[T Plugin](r *Registry, list *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

// dispatch calls fn for every plugin and logs failures.
func dispatch[T Plugin](ctx context.Context, r *Registry, hook string, plugins []T, fn func(T) error) {
	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin hook failed",
				"hook", hook,
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, l any) {
	dispatch(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, l)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	dispatch(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitPlansSeeded calls OnPlansSeeded for all plugins that implement it.
func (r *Registry) EmitPlansSeeded(ctx context.Context, plans []*plan.Plan) {
	dispatch(ctx, r, "OnPlansSeeded", snapshot(r, &r.onPlansSeeded), func(p OnPlansSeeded) error {
		return p.OnPlansSeeded(ctx, plans)
	})
}

// EmitSubscriptionCreated calls OnSubscriptionCreated for all plugins that implement it.
func (r *Registry) EmitSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) {
	dispatch(ctx, r, "OnSubscriptionCreated", snapshot(r, &r.onSubscriptionCreated), func(p OnSubscriptionCreated) error {
		return p.OnSubscriptionCreated(ctx, sub)
	})
}

// EmitSubscriptionPaused calls OnSubscriptionPaused for all plugins that implement it.
func (r *Registry) EmitSubscriptionPaused(ctx context.Context, t *subscription.Transition) {
	dispatch(ctx, r, "OnSubscriptionPaused", snapshot(r, &r.onSubscriptionPaused), func(p OnSubscriptionPaused) error {
		return p.OnSubscriptionPaused(ctx, t)
	})
}

// EmitSubscriptionResumed calls OnSubscriptionResumed for all plugins that implement it.
func (r *Registry) EmitSubscriptionResumed(ctx context.Context, t *subscription.Transition) {
	dispatch(ctx, r, "OnSubscriptionResumed", snapshot(r, &r.onSubscriptionResumed), func(p OnSubscriptionResumed) error {
		return p.OnSubscriptionResumed(ctx, t)
	})
}

// EmitTransitionSkipped calls OnTransitionSkipped for all plugins that implement it.
func (r *Registry) EmitTransitionSkipped(ctx context.Context, t *subscription.Transition) {
	dispatch(ctx, r, "OnTransitionSkipped", snapshot(r, &r.onTransitionSkipped), func(p OnTransitionSkipped) error {
		return p.OnTransitionSkipped(ctx, t)
	})
}

// EmitSubscriptionBackfilled calls OnSubscriptionBackfilled for all plugins that implement it.
func (r *Registry) EmitSubscriptionBackfilled(ctx context.Context, sub *subscription.Subscription) {
	dispatch(ctx, r, "OnSubscriptionBackfilled", snapshot(r, &r.onSubscriptionBackfilled), func(p OnSubscriptionBackfilled) error {
		return p.OnSubscriptionBackfilled(ctx, sub)
	})
}

// EmitSubscriptionDeleted calls OnSubscriptionDeleted for all plugins that implement it.
func (r *Registry) EmitSubscriptionDeleted(ctx context.Context, subID int64) {
	dispatch(ctx, r, "OnSubscriptionDeleted", snapshot(r, &r.onSubscriptionDeleted), func(p OnSubscriptionDeleted) error {
		return p.OnSubscriptionDeleted(ctx, subID)
	})
}

// EmitPeriodsDeleted calls OnPeriodsDeleted for all plugins that implement it.
func (r *Registry) EmitPeriodsDeleted(ctx context.Context, subID, count int64) {
	dispatch(ctx, r, "OnPeriodsDeleted", snapshot(r, &r.onPeriodsDeleted), func(p OnPeriodsDeleted) error {
		return p.OnPeriodsDeleted(ctx, subID, count)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block a ledger operation.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
