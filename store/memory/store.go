// Package memory provides an in-process Store for tests and development.
// Every mutation runs under a single lock, which also makes period
// transitions atomic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/subledger"
	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/store"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/user"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	users         map[int64]*user.User
	plans         map[int64]*plan.Plan
	subscriptions map[int64]*subscription.Subscription
	periods       map[int64]*subscription.Period

	nextUser, nextPlan, nextSub, nextPeriod int64

	closed bool
}

func New() *Store {
	return &Store{
		users:         make(map[int64]*user.User),
		plans:         make(map[int64]*plan.Plan),
		subscriptions: make(map[int64]*subscription.Subscription),
		periods:       make(map[int64]*subscription.Period),
	}
}

// ==================== User Store ====================

func (s *Store) CreateUser(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return subledger.ErrUserExists
		}
	}
	if u.ID == 0 {
		s.nextUser++
		u.ID = s.nextUser
	} else if _, exists := s.users[u.ID]; exists {
		return subledger.ErrUserExists
	} else if u.ID > s.nextUser {
		s.nextUser = u.ID
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) GetUser(_ context.Context, userID int64) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.users[userID]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, subledger.ErrUserNotFound
}

func (s *Store) ListUsers(_ context.Context, opts user.ListOpts) ([]*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*user.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	// Apply limit/offset
	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) DeleteUser(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return subledger.ErrUserNotFound
	}
	for id, sub := range s.subscriptions {
		if sub.UserID == userID {
			s.deleteSubscriptionLocked(id)
		}
	}
	delete(s.users, userID)
	return nil
}

// ==================== Plan Store ====================

func (s *Store) EnsurePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.plans {
		if existing.Name == p.Name {
			p.ID = existing.ID
			p.DurationMonths = existing.DurationMonths
			return nil
		}
	}
	s.nextPlan++
	p.ID = s.nextPlan
	cp := *p
	s.plans[p.ID] = &cp
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID int64) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, subledger.ErrPlanNotFound
}

func (s *Store) GetPlanByName(_ context.Context, name plan.Name) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, subledger.ErrPlanNotFound
}

func (s *Store) ListPlans(_ context.Context) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[sub.UserID]; !ok {
		return subledger.ErrUserNotFound
	}
	if _, ok := s.plans[sub.PlanID]; !ok {
		return subledger.ErrPlanNotFound
	}
	for _, existing := range s.subscriptions {
		if existing.UserID == sub.UserID && existing.PlanID == sub.PlanID &&
			existing.StartDate.Equal(sub.StartDate) {
			return subledger.ErrSubscriptionExists
		}
	}

	s.nextSub++
	sub.ID = s.nextSub
	cp := *sub
	s.subscriptions[sub.ID] = &cp

	s.nextPeriod++
	s.periods[s.nextPeriod] = &subscription.Period{
		ID:             s.nextPeriod,
		SubscriptionID: sub.ID,
		StartDate:      sub.StartDate,
		Status:         subscription.StatusActive,
	}
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID int64) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[subID]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, subledger.ErrSubscriptionNotFound
}

func (s *Store) FindSubscriptions(_ context.Context, userID, planID int64) ([]*subscription.Subscription, error) {
	return s.filterSubscriptions(func(sub *subscription.Subscription) bool {
		return sub.UserID == userID && sub.PlanID == planID
	}), nil
}

func (s *Store) ListUserSubscriptions(_ context.Context, userID int64) ([]*subscription.Subscription, error) {
	return s.filterSubscriptions(func(sub *subscription.Subscription) bool {
		return sub.UserID == userID
	}), nil
}

func (s *Store) filterSubscriptions(match func(*subscription.Subscription) bool) []*subscription.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if match(sub) {
			cp := *sub
			result = append(result, &cp)
		}
	}
	subscription.SortSubscriptions(result)
	return result
}

func (s *Store) ListPeriods(_ context.Context, subID int64) ([]*subscription.Period, error) {
	return s.filterPeriods(func(p *subscription.Period) bool {
		return p.SubscriptionID == subID
	}), nil
}

func (s *Store) ListUserPeriods(_ context.Context, userID int64) ([]*subscription.Period, error) {
	s.mu.RLock()
	owned := make(map[int64]bool)
	for id, sub := range s.subscriptions {
		if sub.UserID == userID {
			owned[id] = true
		}
	}
	s.mu.RUnlock()

	return s.filterPeriods(func(p *subscription.Period) bool {
		return owned[p.SubscriptionID]
	}), nil
}

func (s *Store) filterPeriods(match func(*subscription.Period) bool) []*subscription.Period {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Period, 0)
	for _, p := range s.periods {
		if match(p) {
			result = append(result, copyPeriod(p))
		}
	}
	subscription.SortPeriods(result)
	return result
}

func (s *Store) Transition(_ context.Context, subID int64, from, to subscription.Status, at time.Time) (*subscription.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &subscription.Transition{
		SubscriptionID: subID,
		From:           from,
		To:             to,
		At:             at,
		Outcome:        subscription.OutcomeNoOpenPeriod,
	}

	var open *subscription.Period
	for _, p := range s.periods {
		if p.SubscriptionID != subID || !p.IsOpen() || p.Status != from {
			continue
		}
		if open == nil || p.StartDate.After(open.StartDate) ||
			(p.StartDate.Equal(open.StartDate) && p.ID > open.ID) {
			open = p
		}
	}
	if open == nil {
		return t, nil
	}

	end := at
	open.EndDate = &end

	s.nextPeriod++
	s.periods[s.nextPeriod] = &subscription.Period{
		ID:             s.nextPeriod,
		SubscriptionID: subID,
		StartDate:      at,
		Status:         to,
	}
	t.Outcome = subscription.OutcomeApplied
	t.PeriodID = s.nextPeriod
	return t, nil
}

func (s *Store) UpdateStartDate(_ context.Context, subID int64, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID]
	if !ok {
		return subledger.ErrSubscriptionNotFound
	}
	for id, other := range s.subscriptions {
		if id != subID && other.UserID == sub.UserID && other.PlanID == sub.PlanID &&
			other.StartDate.Equal(date) {
			return subledger.ErrSubscriptionExists
		}
	}
	sub.StartDate = date
	for _, p := range s.periods {
		if p.SubscriptionID == subID {
			p.StartDate = date
		}
	}
	return nil
}

func (s *Store) DeleteSubscription(_ context.Context, subID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[subID]; !ok {
		return subledger.ErrSubscriptionNotFound
	}
	s.deleteSubscriptionLocked(subID)
	return nil
}

func (s *Store) DeletePeriods(_ context.Context, subID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deletePeriodsLocked(subID), nil
}

func (s *Store) deleteSubscriptionLocked(subID int64) {
	s.deletePeriodsLocked(subID)
	delete(s.subscriptions, subID)
}

func (s *Store) deletePeriodsLocked(subID int64) int64 {
	var n int64
	for id, p := range s.periods {
		if p.SubscriptionID == subID {
			delete(s.periods, id)
			n++
		}
	}
	return n
}

// ==================== Core ====================

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("memory: %w", subledger.ErrStoreClosed)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func copyPeriod(p *subscription.Period) *subscription.Period {
	cp := *p
	if p.EndDate != nil {
		end := *p.EndDate
		cp.EndDate = &end
	}
	return &cp
}
