package store

import (
	"context"
	"time"

	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/user"
)

// Store is the unified storage interface for the subscription ledger.
// The methods are declared explicitly rather than by embedding the
// per-package interfaces so every backend's surface is readable in one place.
type Store interface {
	// User methods
	CreateUser(ctx context.Context, u *user.User) error
	GetUser(ctx context.Context, userID int64) (*user.User, error)
	ListUsers(ctx context.Context, opts user.ListOpts) ([]*user.User, error)
	DeleteUser(ctx context.Context, userID int64) error

	// Plan methods
	EnsurePlan(ctx context.Context, p *plan.Plan) error
	GetPlan(ctx context.Context, planID int64) (*plan.Plan, error)
	GetPlanByName(ctx context.Context, name plan.Name) (*plan.Plan, error)
	ListPlans(ctx context.Context) ([]*plan.Plan, error)

	// Subscription methods
	CreateSubscription(ctx context.Context, s *subscription.Subscription) error
	GetSubscription(ctx context.Context, subID int64) (*subscription.Subscription, error)
	FindSubscriptions(ctx context.Context, userID, planID int64) ([]*subscription.Subscription, error)
	ListUserSubscriptions(ctx context.Context, userID int64) ([]*subscription.Subscription, error)
	ListPeriods(ctx context.Context, subID int64) ([]*subscription.Period, error)
	ListUserPeriods(ctx context.Context, userID int64) ([]*subscription.Period, error)
	Transition(ctx context.Context, subID int64, from, to subscription.Status, at time.Time) (*subscription.Transition, error)
	UpdateStartDate(ctx context.Context, subID int64, date time.Time) error
	DeleteSubscription(ctx context.Context, subID int64) error
	DeletePeriods(ctx context.Context, subID int64) (int64, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Compile-time checks that Store satisfies the per-package interfaces.
var (
	_ user.Store         = (Store)(nil)
	_ plan.Store         = (Store)(nil)
	_ subscription.Store = (Store)(nil)
)
