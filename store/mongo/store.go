package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/subledger"
	"github.com/xraph/subledger/plan"
	ledgerstore "github.com/xraph/subledger/store"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/user"
)

// Collection name constants.
const (
	colUsers         = "users"
	colPlans         = "plans"
	colSubscriptions = "subscriptions"
	colPeriods       = "subscription_periods"
	colCounters      = "counters"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
//
// Documents keep the integer ids of the relational schema; they are drawn
// from a counters collection. MongoDB has no foreign keys, so cascades and
// reference checks happen here.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all ledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("subledger/mongo: migrate %s indexes: %w", col, err)
		}
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
	if u.ID == 0 {
		next, err := s.nextID(ctx, colUsers)
		if err != nil {
			return err
		}
		u.ID = next
	} else if err := s.bumpCounter(ctx, colUsers, u.ID); err != nil {
		return err
	}

	if _, err := s.mdb.NewInsert(toUserModel(u)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return subledger.ErrUserExists
		}
		return fmt.Errorf("subledger/mongo: create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*user.User, error) {
	var m userModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subledger.ErrUserNotFound
		}
		return nil, fmt.Errorf("subledger/mongo: get user: %w", err)
	}
	return fromUserModel(&m), nil
}

func (s *Store) ListUsers(ctx context.Context, opts user.ListOpts) ([]*user.User, error) {
	var models []userModel
	q := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("subledger/mongo: list users: %w", err)
	}

	result := make([]*user.User, len(models))
	for i := range models {
		result[i] = fromUserModel(&models[i])
	}
	return result, nil
}

func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	subs, err := s.ListUserSubscriptions(ctx, userID)
	if err != nil {
		return err
	}
	if len(subs) > 0 {
		ids := subscriptionIDs(subs)
		if _, err := s.mdb.Collection(colPeriods).DeleteMany(ctx, bson.M{"subscription_id": bson.M{"$in": ids}}); err != nil {
			return fmt.Errorf("subledger/mongo: delete user periods: %w", err)
		}
		if _, err := s.mdb.Collection(colSubscriptions).DeleteMany(ctx, bson.M{"user_id": userID}); err != nil {
			return fmt.Errorf("subledger/mongo: delete user subscriptions: %w", err)
		}
	}

	res, err := s.mdb.NewDelete((*userModel)(nil)).
		Filter(bson.M{"_id": userID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: delete user: %w", err)
	}
	if res.DeletedCount() == 0 {
		return subledger.ErrUserNotFound
	}
	return nil
}

// ==================== Plan Store ====================

func (s *Store) EnsurePlan(ctx context.Context, p *plan.Plan) error {
	existing, err := s.GetPlanByName(ctx, p.Name)
	if err == nil {
		*p = *existing
		return nil
	}
	if !errors.Is(err, subledger.ErrPlanNotFound) {
		return err
	}

	next, err := s.nextID(ctx, colPlans)
	if err != nil {
		return err
	}
	m := &planModel{ID: next, Name: string(p.Name), DurationMonths: p.DurationMonths}
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Seeded concurrently; adopt the winner.
			existing, getErr := s.GetPlanByName(ctx, p.Name)
			if getErr != nil {
				return getErr
			}
			*p = *existing
			return nil
		}
		return fmt.Errorf("subledger/mongo: ensure plan: %w", err)
	}
	p.ID = next
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID int64) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": planID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subledger.ErrPlanNotFound
		}
		return nil, fmt.Errorf("subledger/mongo: get plan: %w", err)
	}
	return fromPlanModel(&m), nil
}

func (s *Store) GetPlanByName(ctx context.Context, name plan.Name) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"name": string(name)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subledger.ErrPlanNotFound
		}
		return nil, fmt.Errorf("subledger/mongo: get plan by name: %w", err)
	}
	return fromPlanModel(&m), nil
}

func (s *Store) ListPlans(ctx context.Context) ([]*plan.Plan, error) {
	var models []planModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("subledger/mongo: list plans: %w", err)
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		result[i] = fromPlanModel(&models[i])
	}
	return result, nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if _, err := s.GetUser(ctx, sub.UserID); err != nil {
		return err
	}
	if _, err := s.GetPlan(ctx, sub.PlanID); err != nil {
		return err
	}

	subID, err := s.nextID(ctx, colSubscriptions)
	if err != nil {
		return err
	}
	m := &subscriptionModel{
		ID:        subID,
		UserID:    sub.UserID,
		PlanID:    sub.PlanID,
		StartDate: sub.StartDate,
	}
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return subledger.ErrSubscriptionExists
		}
		return fmt.Errorf("subledger/mongo: create subscription: %w", err)
	}

	if _, err := s.insertPeriod(ctx, subID, sub.StartDate, subscription.StatusActive); err != nil {
		// Never leave a subscription without its first period.
		_, _ = s.mdb.NewDelete((*subscriptionModel)(nil)).Filter(bson.M{"_id": subID}).Exec(ctx) //nolint:errcheck // best-effort compensation
		return err
	}

	sub.ID = subID
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID int64) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subledger.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("subledger/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m), nil
}

func (s *Store) FindSubscriptions(ctx context.Context, userID, planID int64) ([]*subscription.Subscription, error) {
	return s.findSubscriptions(ctx, bson.M{"user_id": userID, "plan_id": planID})
}

func (s *Store) ListUserSubscriptions(ctx context.Context, userID int64) ([]*subscription.Subscription, error) {
	return s.findSubscriptions(ctx, bson.M{"user_id": userID})
}

func (s *Store) findSubscriptions(ctx context.Context, filter bson.M) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	err := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "start_date", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("subledger/mongo: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		result[i] = fromSubscriptionModel(&models[i])
	}
	return result, nil
}

func (s *Store) ListPeriods(ctx context.Context, subID int64) ([]*subscription.Period, error) {
	return s.findPeriods(ctx, bson.M{"subscription_id": subID})
}

func (s *Store) ListUserPeriods(ctx context.Context, userID int64) ([]*subscription.Period, error) {
	subs, err := s.ListUserSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}
	return s.findPeriods(ctx, bson.M{"subscription_id": bson.M{"$in": subscriptionIDs(subs)}})
}

func (s *Store) findPeriods(ctx context.Context, filter bson.M) ([]*subscription.Period, error) {
	var models []periodModel
	err := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "start_date", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("subledger/mongo: list periods: %w", err)
	}

	result := make([]*subscription.Period, len(models))
	for i := range models {
		result[i] = fromPeriodModel(&models[i])
	}
	return result, nil
}

// Transition claims the open period with FindOneAndUpdate, which matches
// and closes it in one server-side step.
func (s *Store) Transition(ctx context.Context, subID int64, from, to subscription.Status, at time.Time) (*subscription.Transition, error) {
	t := &subscription.Transition{
		SubscriptionID: subID,
		From:           from,
		To:             to,
		At:             at,
		Outcome:        subscription.OutcomeNoOpenPeriod,
	}

	var closed periodModel
	err := s.mdb.Collection(colPeriods).FindOneAndUpdate(ctx,
		bson.M{"subscription_id": subID, "status": string(from), "end_date": nil},
		bson.M{"$set": bson.M{"end_date": at}},
		options.FindOneAndUpdate().SetSort(bson.D{{Key: "start_date", Value: -1}, {Key: "_id", Value: -1}}),
	).Decode(&closed)
	if err != nil {
		if isNoDocuments(err) {
			return t, nil
		}
		return nil, fmt.Errorf("subledger/mongo: close period: %w", err)
	}

	periodID, err := s.insertPeriod(ctx, subID, at, to)
	if err != nil {
		// Reopen the period we closed so the timeline keeps an open period.
		_, _ = s.mdb.Collection(colPeriods).UpdateOne(ctx, //nolint:errcheck // best-effort compensation
			bson.M{"_id": closed.ID},
			bson.M{"$set": bson.M{"end_date": nil}},
		)
		return nil, err
	}

	t.Outcome = subscription.OutcomeApplied
	t.PeriodID = periodID
	return t, nil
}

func (s *Store) UpdateStartDate(ctx context.Context, subID int64, date time.Time) error {
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID}).
		Set("start_date", date).
		Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return subledger.ErrSubscriptionExists
		}
		return fmt.Errorf("subledger/mongo: update start date: %w", err)
	}
	if res.MatchedCount() == 0 {
		return subledger.ErrSubscriptionNotFound
	}

	if _, err := s.mdb.Collection(colPeriods).UpdateMany(ctx,
		bson.M{"subscription_id": subID},
		bson.M{"$set": bson.M{"start_date": date}},
	); err != nil {
		return fmt.Errorf("subledger/mongo: update period start dates: %w", err)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID int64) error {
	if _, err := s.DeletePeriods(ctx, subID); err != nil {
		return err
	}

	res, err := s.mdb.NewDelete((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: delete subscription: %w", err)
	}
	if res.DeletedCount() == 0 {
		return subledger.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) DeletePeriods(ctx context.Context, subID int64) (int64, error) {
	res, err := s.mdb.Collection(colPeriods).DeleteMany(ctx, bson.M{"subscription_id": subID})
	if err != nil {
		return 0, fmt.Errorf("subledger/mongo: delete periods: %w", err)
	}
	return res.DeletedCount, nil
}

// ==================== Helpers ====================

func (s *Store) insertPeriod(ctx context.Context, subID int64, start time.Time, status subscription.Status) (int64, error) {
	periodID, err := s.nextID(ctx, colPeriods)
	if err != nil {
		return 0, err
	}
	m := &periodModel{
		ID:             periodID,
		SubscriptionID: subID,
		StartDate:      start,
		Status:         string(status),
	}
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		return 0, fmt.Errorf("subledger/mongo: insert period: %w", err)
	}
	return periodID, nil
}

// nextID atomically increments and returns the counter for a collection.
func (s *Store) nextID(ctx context.Context, name string) (int64, error) {
	var c counterModel
	err := s.mdb.Collection(colCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&c)
	if err != nil {
		return 0, fmt.Errorf("subledger/mongo: next %s id: %w", name, err)
	}
	return c.Seq, nil
}

// bumpCounter keeps the counter ahead of an explicitly assigned id.
func (s *Store) bumpCounter(ctx context.Context, name string, seen int64) error {
	_, err := s.mdb.Collection(colCounters).UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{"$max": bson.M{"seq": seen}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("subledger/mongo: bump %s counter: %w", name, err)
	}
	return nil
}

func subscriptionIDs(subs []*subscription.Subscription) []int64 {
	ids := make([]int64, len(subs))
	for i, sub := range subs {
		ids[i] = sub.ID
	}
	return ids
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
