package subscription

import (
	"context"
	"time"
)

// Store persists subscriptions and their period timelines.
type Store interface {
	// CreateSubscription inserts s and its first active period, opened at
	// s.StartDate. s.ID is set on success.
	CreateSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, subID int64) (*Subscription, error)
	// FindSubscriptions returns the user's subscriptions to planID.
	FindSubscriptions(ctx context.Context, userID, planID int64) ([]*Subscription, error)
	ListUserSubscriptions(ctx context.Context, userID int64) ([]*Subscription, error)
	ListPeriods(ctx context.Context, subID int64) ([]*Period, error)
	// ListUserPeriods returns the periods of every subscription owned by userID.
	ListUserPeriods(ctx context.Context, userID int64) ([]*Period, error)

	// Transition closes the open period of subID whose status is from and
	// opens a new period with status to, both at the given instant. The
	// claim on the open period is atomic: of two concurrent callers at most
	// one observes OutcomeApplied.
	Transition(ctx context.Context, subID int64, from, to Status, at time.Time) (*Transition, error)

	// UpdateStartDate rewrites the start date of the subscription and of
	// every period it owns.
	UpdateStartDate(ctx context.Context, subID int64, date time.Time) error
	// DeleteSubscription removes the subscription and all its periods.
	DeleteSubscription(ctx context.Context, subID int64) error
	// DeletePeriods removes every period of subID and reports how many.
	DeletePeriods(ctx context.Context, subID int64) (int64, error)
}
