package subledger

import (
	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/types"
	"github.com/xraph/subledger/user"
)

// Re-export the domain types so callers can work from the root package.

type (
	Plan         = plan.Plan
	PlanName     = plan.Name
	User         = user.User
	Subscription = subscription.Subscription
	Period       = subscription.Period
	Status       = subscription.Status
	Outcome      = subscription.Outcome
	Transition   = subscription.Transition
	Row          = subscription.Row
	History      = subscription.History
	Entity       = types.Entity
)

const (
	StatusActive        = subscription.StatusActive
	StatusPaused        = subscription.StatusPaused
	OutcomeApplied      = subscription.OutcomeApplied
	OutcomeNoOpenPeriod = subscription.OutcomeNoOpenPeriod
	PlanStandard        = plan.NameStandard
	PlanPro             = plan.NamePro
)

// Re-export the pure status derivations.
var (
	CurrentPeriod = subscription.CurrentPeriod
	CurrentStatus = subscription.CurrentStatus
	ActiveDays    = subscription.ActiveDays
)
