package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate" // registers the postgres migrate executor
	"github.com/xraph/grove/migrate"

	"github.com/xraph/subledger"
	"github.com/xraph/subledger/plan"
	ledgerstore "github.com/xraph/subledger/store"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/user"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("subledger/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("subledger/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== User Store ====================

func (s *Store) CreateUser(ctx context.Context, u *user.User) error {
	var userID int64
	var err error
	if u.ID != 0 {
		err = s.pg.NewRaw(`
			INSERT INTO users (id, email, username, role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, u.ID, u.Email, u.Username, string(u.Role), u.CreatedAt, u.UpdatedAt).Scan(ctx, &userID)
	} else {
		err = s.pg.NewRaw(`
			INSERT INTO users (email, username, role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, u.Email, u.Username, string(u.Role), u.CreatedAt, u.UpdatedAt).Scan(ctx, &userID)
	}
	if err != nil {
		return classify(err)
	}
	u.ID = userID
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*user.User, error) {
	m := new(userModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", userID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subledger.ErrUserNotFound
		}
		return nil, err
	}
	return fromUserModel(m), nil
}

func (s *Store) ListUsers(ctx context.Context, opts user.ListOpts) ([]*user.User, error) {
	var models []userModel
	q := s.pg.NewSelect(&models).OrderExpr("created_at DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*user.User, len(models))
	for i := range models {
		result[i] = fromUserModel(&models[i])
	}
	return result, nil
}

func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	res, err := s.pg.NewDelete((*userModel)(nil)).
		Where("id = $1", userID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subledger.ErrUserNotFound
	}
	return nil
}

// ==================== Plan Store ====================

func (s *Store) EnsurePlan(ctx context.Context, p *plan.Plan) error {
	var planID int64
	err := s.pg.NewRaw(`
		INSERT INTO plans (name, duration_months)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, string(p.Name), p.DurationMonths).Scan(ctx, &planID)
	if err != nil {
		return classify(err)
	}

	stored, err := s.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	*p = *stored
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID int64) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", planID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subledger.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m), nil
}

func (s *Store) GetPlanByName(ctx context.Context, name plan.Name) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("name = $1", string(name)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subledger.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m), nil
}

func (s *Store) ListPlans(ctx context.Context) ([]*plan.Plan, error) {
	var models []planModel
	if err := s.pg.NewSelect(&models).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		result[i] = fromPlanModel(&models[i])
	}
	return result, nil
}

// ==================== Subscription Store ====================

// CreateSubscription inserts the subscription and its first active period
// in a single statement.
func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	var subID int64
	err := s.pg.NewRaw(`
		WITH sub AS (
			INSERT INTO subscriptions (user_id, plan_id, start_date)
			VALUES ($1, $2, $3)
			RETURNING id, start_date
		), first_period AS (
			INSERT INTO subscription_periods (subscription_id, start_date, status)
			SELECT id, start_date, $4 FROM sub
		)
		SELECT id FROM sub
	`, sub.UserID, sub.PlanID, sub.StartDate, string(subscription.StatusActive)).Scan(ctx, &subID)
	if err != nil {
		return classify(err)
	}
	sub.ID = subID
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID int64) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subledger.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m), nil
}

func (s *Store) FindSubscriptions(ctx context.Context, userID, planID int64) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	err := s.pg.NewSelect(&models).
		Where("user_id = $1", userID).
		Where("plan_id = $2", planID).
		OrderExpr("start_date ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models), nil
}

func (s *Store) ListUserSubscriptions(ctx context.Context, userID int64) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	err := s.pg.NewSelect(&models).
		Where("user_id = $1", userID).
		OrderExpr("start_date ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models), nil
}

func (s *Store) ListPeriods(ctx context.Context, subID int64) ([]*subscription.Period, error) {
	var models []periodModel
	err := s.pg.NewSelect(&models).
		Where("subscription_id = $1", subID).
		OrderExpr("start_date ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromPeriodModels(models), nil
}

func (s *Store) ListUserPeriods(ctx context.Context, userID int64) ([]*subscription.Period, error) {
	var models []periodModel
	err := s.pg.NewSelect(&models).
		Where("subscription_id IN (SELECT id FROM subscriptions WHERE user_id = $1)", userID).
		OrderExpr("start_date ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromPeriodModels(models), nil
}

// Transition closes the open period and opens the next one in one
// statement. The UPDATE re-checks its predicate after waiting on a row
// lock, so a concurrent transition that lost the race closes nothing and
// inserts nothing.
func (s *Store) Transition(ctx context.Context, subID int64, from, to subscription.Status, at time.Time) (*subscription.Transition, error) {
	t := &subscription.Transition{
		SubscriptionID: subID,
		From:           from,
		To:             to,
		At:             at,
		Outcome:        subscription.OutcomeNoOpenPeriod,
	}

	var periodID int64
	err := s.pg.NewRaw(`
		WITH closed AS (
			UPDATE subscription_periods
			SET end_date = $3
			WHERE subscription_id = $1 AND status = $2 AND end_date IS NULL
			RETURNING subscription_id
		)
		INSERT INTO subscription_periods (subscription_id, start_date, status)
		SELECT subscription_id, $3, $4 FROM closed LIMIT 1
		RETURNING id
	`, subID, string(from), at, string(to)).Scan(ctx, &periodID)
	if err != nil {
		if isNoRows(err) {
			return t, nil
		}
		return nil, classify(err)
	}

	t.Outcome = subscription.OutcomeApplied
	t.PeriodID = periodID
	return t, nil
}

func (s *Store) UpdateStartDate(ctx context.Context, subID int64, date time.Time) error {
	var updated int64
	err := s.pg.NewRaw(`
		WITH sub AS (
			UPDATE subscriptions SET start_date = $2 WHERE id = $1
			RETURNING id
		), periods AS (
			UPDATE subscription_periods SET start_date = $2
			WHERE subscription_id IN (SELECT id FROM sub)
		)
		SELECT COUNT(*) FROM sub
	`, subID, date).Scan(ctx, &updated)
	if err != nil {
		return classify(err)
	}
	if updated == 0 {
		return subledger.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID int64) error {
	if _, err := s.DeletePeriods(ctx, subID); err != nil {
		return err
	}

	res, err := s.pg.NewDelete((*subscriptionModel)(nil)).
		Where("id = $1", subID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subledger.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) DeletePeriods(ctx context.Context, subID int64) (int64, error) {
	res, err := s.pg.NewDelete((*periodModel)(nil)).
		Where("subscription_id = $1", subID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ==================== Helpers ====================

func fromSubscriptionModels(models []subscriptionModel) []*subscription.Subscription {
	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		result[i] = fromSubscriptionModel(&models[i])
	}
	return result
}

func fromPeriodModels(models []periodModel) []*subscription.Period {
	result := make([]*subscription.Period, len(models))
	for i := range models {
		result[i] = fromPeriodModel(&models[i])
	}
	return result
}
