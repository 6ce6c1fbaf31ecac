package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate" // registers the sqlite migrate executor
	"github.com/xraph/grove/migrate"

	"github.com/xraph/subledger"
	"github.com/xraph/subledger/plan"
	ledgerstore "github.com/xraph/subledger/store"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/user"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
//
// SQLite has no data-modifying CTEs, so multi-row writes run as separate
// statements. Period transitions stay atomic through a conditional UPDATE
// that only one writer can win.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("subledger/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("subledger/sqlite: migration failed: %w", err)
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
		err = s.sdb.NewRaw(`
			INSERT INTO users (id, email, username, role, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING id
		`, u.ID, u.Email, u.Username, string(u.Role), u.CreatedAt, u.UpdatedAt).Scan(ctx, &userID)
	} else {
		err = s.sdb.NewRaw(`
			INSERT INTO users (email, username, role, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
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
	err := s.sdb.NewSelect(m).
		Where("id = ?", userID).
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
	q := s.sdb.NewSelect(&models).OrderExpr("created_at DESC, id DESC")
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

// DeleteUser removes the user's periods and subscriptions explicitly, since
// foreign key enforcement depends on the connection's PRAGMA.
func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	if _, err := s.sdb.NewDelete((*periodModel)(nil)).
		Where("subscription_id IN (SELECT id FROM subscriptions WHERE user_id = ?)", userID).
		Exec(ctx); err != nil {
		return err
	}
	if _, err := s.sdb.NewDelete((*subscriptionModel)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx); err != nil {
		return err
	}

	res, err := s.sdb.NewDelete((*userModel)(nil)).
		Where("id = ?", userID).
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
	err := s.sdb.NewRaw(`
		INSERT INTO plans (name, duration_months)
		VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET name = excluded.name
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
	err := s.sdb.NewSelect(m).
		Where("id = ?", planID).
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
	err := s.sdb.NewSelect(m).
		Where("name = ?", string(name)).
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
	if err := s.sdb.NewSelect(&models).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		result[i] = fromPlanModel(&models[i])
	}
	return result, nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	var subID int64
	err := s.sdb.NewRaw(`
		INSERT INTO subscriptions (user_id, plan_id, start_date)
		VALUES (?, ?, ?)
		RETURNING id
	`, sub.UserID, sub.PlanID, sub.StartDate).Scan(ctx, &subID)
	if err != nil {
		return classify(err)
	}

	var periodID int64
	err = s.sdb.NewRaw(`
		INSERT INTO subscription_periods (subscription_id, start_date, status)
		VALUES (?, ?, ?)
		RETURNING id
	`, subID, sub.StartDate, string(subscription.StatusActive)).Scan(ctx, &periodID)
	if err != nil {
		// Never leave a subscription without its first period.
		_, _ = s.sdb.NewDelete((*subscriptionModel)(nil)).Where("id = ?", subID).Exec(ctx) //nolint:errcheck // best-effort compensation
		return classify(err)
	}

	sub.ID = subID
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID int64) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID).
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
	err := s.sdb.NewSelect(&models).
		Where("user_id = ?", userID).
		Where("plan_id = ?", planID).
		OrderExpr("start_date ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models), nil
}

func (s *Store) ListUserSubscriptions(ctx context.Context, userID int64) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	err := s.sdb.NewSelect(&models).
		Where("user_id = ?", userID).
		OrderExpr("start_date ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models), nil
}

func (s *Store) ListPeriods(ctx context.Context, subID int64) ([]*subscription.Period, error) {
	var models []periodModel
	err := s.sdb.NewSelect(&models).
		Where("subscription_id = ?", subID).
		OrderExpr("start_date ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromPeriodModels(models), nil
}

func (s *Store) ListUserPeriods(ctx context.Context, userID int64) ([]*subscription.Period, error) {
	var models []periodModel
	err := s.sdb.NewSelect(&models).
		Where("subscription_id IN (SELECT id FROM subscriptions WHERE user_id = ?)", userID).
		OrderExpr("start_date ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromPeriodModels(models), nil
}

// Transition claims the open period with a conditional UPDATE. Only the
// writer whose UPDATE matched a row goes on to open the next period.
func (s *Store) Transition(ctx context.Context, subID int64, from, to subscription.Status, at time.Time) (*subscription.Transition, error) {
	t := &subscription.Transition{
		SubscriptionID: subID,
		From:           from,
		To:             to,
		At:             at,
		Outcome:        subscription.OutcomeNoOpenPeriod,
	}

	res, err := s.sdb.NewUpdate((*periodModel)(nil)).
		Set("end_date = ?", at).
		Where("subscription_id = ?", subID).
		Where("status = ?", string(from)).
		Where("end_date IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return t, nil
	}

	var periodID int64
	err = s.sdb.NewRaw(`
		INSERT INTO subscription_periods (subscription_id, start_date, status)
		VALUES (?, ?, ?)
		RETURNING id
	`, subID, at, string(to)).Scan(ctx, &periodID)
	if err != nil {
		// Reopen the period we closed so the timeline keeps an open period.
		_, _ = s.sdb.NewUpdate((*periodModel)(nil)).
			Set("end_date = NULL").
			Where("subscription_id = ?", subID).
			Where("status = ?", string(from)).
			Where("end_date = ?", at).
			Exec(ctx) //nolint:errcheck // best-effort compensation
		return nil, classify(err)
	}

	t.Outcome = subscription.OutcomeApplied
	t.PeriodID = periodID
	return t, nil
}

func (s *Store) UpdateStartDate(ctx context.Context, subID int64, date time.Time) error {
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("start_date = ?", date).
		Where("id = ?", subID).
		Exec(ctx)
	if err != nil {
		return classify(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subledger.ErrSubscriptionNotFound
	}

	_, err = s.sdb.NewUpdate((*periodModel)(nil)).
		Set("start_date = ?", date).
		Where("subscription_id = ?", subID).
		Exec(ctx)
	return err
}

func (s *Store) DeleteSubscription(ctx context.Context, subID int64) error {
	if _, err := s.DeletePeriods(ctx, subID); err != nil {
		return err
	}

	res, err := s.sdb.NewDelete((*subscriptionModel)(nil)).
		Where("id = ?", subID).
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
	res, err := s.sdb.NewDelete((*periodModel)(nil)).
		Where("subscription_id = ?", subID).
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
