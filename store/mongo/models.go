package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"

	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/types"
	"github.com/xraph/subledger/user"
)

// ==================== User models ====================

type userModel struct {
	grove.BaseModel `grove:"table:users"`

	ID        int64     `grove:"id,pk"      bson:"_id"`
	Email     string    `grove:"email"      bson:"email"`
	Username  string    `grove:"username"   bson:"username"`
	Role      string    `grove:"role"       bson:"role"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

func toUserModel(u *user.User) *userModel {
	return &userModel{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
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

	ID             int64  `grove:"id,pk"           bson:"_id"`
	Name           string `grove:"name"            bson:"name"`
	DurationMonths int    `grove:"duration_months" bson:"duration_months"`
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

	ID        int64     `grove:"id,pk"      bson:"_id"`
	UserID    int64     `grove:"user_id"    bson:"user_id"`
	PlanID    int64     `grove:"plan_id"    bson:"plan_id"`
	StartDate time.Time `grove:"start_date" bson:"start_date"`
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

	ID             int64      `grove:"id,pk"           bson:"_id"`
	SubscriptionID int64      `grove:"subscription_id" bson:"subscription_id"`
	StartDate      time.Time  `grove:"start_date"      bson:"start_date"`
	EndDate        *time.Time `grove:"end_date"        bson:"end_date"`
	Status         string     `grove:"status"          bson:"status"`
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

// counterModel holds the last id handed out for a collection.
type counterModel struct {
	ID  string `bson:"_id"`
	Seq int64  `bson:"seq"`
}

// migrationIndexes returns the index definitions for all ledger collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colUsers: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "username", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		colPlans: {
			{
				Keys:    bson.D{{Key: "name", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colSubscriptions: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "plan_id", Value: 1}, {Key: "start_date", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "start_date", Value: 1}}},
		},
		colPeriods: {
			{Keys: bson.D{{Key: "subscription_id", Value: 1}, {Key: "start_date", Value: 1}}},
			{Keys: bson.D{{Key: "subscription_id", Value: 1}, {Key: "status", Value: 1}, {Key: "end_date", Value: 1}}},
		},
	}
}
