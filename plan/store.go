package plan

import "context"

// Store persists the plan catalog. Plans are never updated in place.
type Store interface {
	// EnsurePlan inserts p if no plan with the same name exists and fills
	// p.ID with the stored id either way.
	EnsurePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, planID int64) (*Plan, error)
	GetPlanByName(ctx context.Context, name Name) (*Plan, error)
	ListPlans(ctx context.Context) ([]*Plan, error)
}
