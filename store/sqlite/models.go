package sqlite

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/types"
	"github.com/xraph/subledger/user"
)

// ==================== User models ====================

type userModel struct {
	grove.BaseModel `grove:"table:users"`

	ID        int64     `grove:"id,pk"`
	Email     string    `grove:"email"`
	Username  string    `grove:"username"`
	Role      string    `grove:"role"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func fromUserModel(m *userModel) *user.User {
	return &user.User{
		Entity:   types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:       m.ID,
		Email:    m.Email,
		Username: m.Username,
		Role:     user.Role(m.Role),
	}
}

// ==================== Plan models ====================

type planModel struct {
	grove.BaseModel `grove:"table:plans"`

	ID             int64  `grove:"id,pk"`
	Name           string `grove:"name"`
	DurationMonths int    `grove:"duration_months"`
}

func fromPlanModel(m *planModel) *plan.Plan {
	return &plan.Plan{
		ID:             m.ID,
		Name:           plan.Name(m.Name),
		DurationMonths: m.DurationMonths,
	}
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:subscriptions"`

	ID        int64     `grove:"id,pk"`
	UserID    int64     `grove:"user_id"`
	PlanID    int64     `grove:"plan_id"`
	StartDate time.Time `grove:"start_date"`
}

func fromSubscriptionModel(m *subscriptionModel) *subscription.Subscription {
	return &subscription.Subscription{
		ID:        m.ID,
		UserID:    m.UserID,
		PlanID:    m.PlanID,
		StartDate: m.StartDate.UTC(),
	}
}

type periodModel struct {
	grove.BaseModel `grove:"table:subscription_periods"`

	ID             int64      `grove:"id,pk"`
	SubscriptionID int64      `grove:"subscription_id"`
	StartDate      time.Time  `grove:"start_date"`
	EndDate        *time.Time `grove:"end_date"`
	Status         string     `grove:"status"`
}

func fromPeriodModel(m *periodModel) *subscription.Period {
	p := &subscription.Period{
		ID:             m.ID,
		SubscriptionID: m.SubscriptionID,
		StartDate:      m.StartDate.UTC(),
		Status:         subscription.Status(m.Status),
	}
	if m.EndDate != nil {
		end := m.EndDate.UTC()
		p.EndDate = &end
	}
	return p
}
