package subscription

import (
	"errors"
	"time"

	"github.com/xraph/subledger/plan"
)

// Status is the state of a single period.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

// Valid reports whether s is a known period status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusPaused
}

// Subscription is a user's enrollment in a plan.
type Subscription struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	PlanID    int64     `json:"plan_id"`
	StartDate time.Time `json:"start_date"`
}

// Period is a contiguous interval of a subscription in one status.
// A nil EndDate marks the open period.
type Period struct {
	ID             int64      `json:"id"`
	SubscriptionID int64      `json:"subscription_id"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        *time.Time `json:"end_date"`
	Status         Status     `json:"status"`
}

// IsOpen reports whether the period is still running.
func (p *Period) IsOpen() bool { return p.EndDate == nil }

// Outcome tags the result of a pause or resume.
type Outcome string

const (
	// OutcomeApplied means the open period was closed and the next one opened.
	OutcomeApplied Outcome = "applied"
	// OutcomeNoOpenPeriod means no open period had the expected status; nothing changed.
	OutcomeNoOpenPeriod Outcome = "no_open_period"
)

// ErrNoOpenPeriod is returned by Transition.Err for a skipped transition.
var ErrNoOpenPeriod = errors.New("subscription: no open period in the expected status")

// Transition describes a requested status change and what happened to it.
type Transition struct {
	SubscriptionID int64     `json:"subscription_id"`
	From           Status    `json:"from"`
	To             Status    `json:"to"`
	At             time.Time `json:"at"`
	Outcome        Outcome   `json:"outcome"`
	// PeriodID is the id of the newly opened period when applied.
	PeriodID int64 `json:"period_id,omitempty"`
}

// Applied reports whether the transition changed the timeline.
func (t *Transition) Applied() bool { return t.Outcome == OutcomeApplied }

// Err returns ErrNoOpenPeriod for a skipped transition and nil otherwise.
func (t *Transition) Err() error {
	if t.Outcome == OutcomeNoOpenPeriod {
		return ErrNoOpenPeriod
	}
	return nil
}

// Row is one line of the subscription/period projection. Subscriptions
// without periods produce a single row with nil period fields.
type Row struct {
	SubscriptionID int64      `json:"subscription_id"`
	UserID         int64      `json:"user_id"`
	StartDate      time.Time  `json:"start_date"`
	PlanID         int64      `json:"plan_id"`
	PlanName       plan.Name  `json:"plan_name"`
	DurationMonths int        `json:"duration_months"`
	PeriodID       *int64     `json:"period_id"`
	PeriodStart    *time.Time `json:"period_start"`
	PeriodEnd      *time.Time `json:"period_end"`
	Status         *Status    `json:"status"`
}

// History is the grouped read model of one subscription.
type History struct {
	Subscription  Subscription `json:"subscription"`
	Plan          plan.Plan    `json:"plan"`
	Periods       []Period     `json:"periods"`
	CurrentStatus Status       `json:"current_status,omitempty"`
	ActiveDays    int          `json:"active_days"`
	PlanDays      int          `json:"plan_days"`
}
