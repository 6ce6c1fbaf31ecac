package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/subledger"
	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/store/sqlite"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/user"
)

var start = time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()

	dsn := "file:" + filepath.Join(t.TempDir(), "ledger.db") +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	drv := sqlitedriver.New()
	require.NoError(t, drv.Open(ctx, dsn))
	db, err := grove.Open(drv)
	require.NoError(t, err)

	s := sqlite.New(db)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func seeded(t *testing.T) (*sqlite.Store, *user.User, *plan.Plan) {
	t.Helper()
	ctx := context.Background()
	s := openStore(t)

	u := &user.User{Email: "a@example.com", Username: "a", Role: user.RoleUser}
	u.CreatedAt, u.UpdatedAt = start, start
	require.NoError(t, s.CreateUser(ctx, u))
	p := &plan.Plan{Name: plan.NameStandard, DurationMonths: 12}
	require.NoError(t, s.EnsurePlan(ctx, p))
	return s, u, p
}

func create(t *testing.T, s *sqlite.Store, u *user.User, p *plan.Plan, at time.Time) *subscription.Subscription {
	t.Helper()
	sub := &subscription.Subscription{UserID: u.ID, PlanID: p.ID, StartDate: at}
	require.NoError(t, s.CreateSubscription(context.Background(), sub))
	return sub
}

func TestMigrate_IsRepeatable(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestLedgerStart(t *testing.T) {
	ctx := context.Background()
	l := subledger.New(openStore(t))
	require.NoError(t, l.Start(ctx))
	assert.True(t, l.Ready())

	plans, err := l.ListPlans(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 2)
}

func TestEnsurePlanIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _, p := seeded(t)

	again := &plan.Plan{Name: plan.NameStandard, DurationMonths: 6}
	require.NoError(t, s.EnsurePlan(ctx, again))
	assert.Equal(t, p.ID, again.ID)
	assert.Equal(t, 12, again.DurationMonths)
}

func TestCreateSubscription(t *testing.T) {
	ctx := context.Background()
	s, u, p := seeded(t)
	sub := create(t, s, u, p, start)
	assert.NotZero(t, sub.ID)

	periods, err := s.ListPeriods(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, subscription.StatusActive, periods[0].Status)
	assert.True(t, periods[0].IsOpen())
	assert.True(t, start.Equal(periods[0].StartDate))

	tests := []struct {
		name  string
		sub   *subscription.Subscription
		check func(error) bool
	}{
		{"missing user", &subscription.Subscription{UserID: 404, PlanID: p.ID, StartDate: start}, subledger.IsNotFound},
		{"missing plan", &subscription.Subscription{UserID: u.ID, PlanID: 404, StartDate: start}, subledger.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CreateSubscription(ctx, tt.sub)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error %v", err)
		})
	}

	err = s.CreateSubscription(ctx, &subscription.Subscription{UserID: u.ID, PlanID: p.ID, StartDate: start})
	assert.ErrorIs(t, err, subledger.ErrSubscriptionExists)

	subs, err := s.ListUserSubscriptions(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestTransition(t *testing.T) {
	ctx := context.Background()
	s, u, p := seeded(t)
	sub := create(t, s, u, p, start)

	pauseAt := start.Add(48 * time.Hour)
	tr, err := s.Transition(ctx, sub.ID, subscription.StatusActive, subscription.StatusPaused, pauseAt)
	require.NoError(t, err)
	assert.True(t, tr.Applied())
	assert.NotZero(t, tr.PeriodID)

	again, err := s.Transition(ctx, sub.ID, subscription.StatusActive, subscription.StatusPaused, pauseAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, subscription.OutcomeNoOpenPeriod, again.Outcome)

	resumeAt := pauseAt.Add(24 * time.Hour)
	tr, err = s.Transition(ctx, sub.ID, subscription.StatusPaused, subscription.StatusActive, resumeAt)
	require.NoError(t, err)
	assert.True(t, tr.Applied())

	periods, err := s.ListPeriods(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, periods, 3)
	assert.Equal(t, []subscription.Status{
		subscription.StatusActive, subscription.StatusPaused, subscription.StatusActive,
	}, []subscription.Status{periods[0].Status, periods[1].Status, periods[2].Status})
	require.NotNil(t, periods[0].EndDate)
	assert.True(t, pauseAt.Equal(*periods[0].EndDate))
	require.NotNil(t, periods[1].EndDate)
	assert.True(t, resumeAt.Equal(*periods[1].EndDate))
	assert.True(t, periods[2].IsOpen())

	missing, err := s.Transition(ctx, 404, subscription.StatusActive, subscription.StatusPaused, resumeAt)
	require.NoError(t, err)
	assert.False(t, missing.Applied())
}

func TestConcurrentPauses_ApplyOnce(t *testing.T) {
	ctx := context.Background()
	s, u, p := seeded(t)
	sub := create(t, s, u, p, start)

	const workers = 8
	outcomes := make([]subscription.Outcome, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr, err := s.Transition(ctx, sub.ID, subscription.StatusActive, subscription.StatusPaused,
				start.Add(time.Duration(i+1)*time.Minute))
			errs[i] = err
			if err == nil {
				outcomes[i] = tr.Outcome
			}
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := range workers {
		require.NoError(t, errs[i])
		if outcomes[i] == subscription.OutcomeApplied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)

	periods, err := s.ListPeriods(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, periods, 2)
	open := 0
	for _, pr := range periods {
		if pr.IsOpen() {
			open++
		}
	}
	assert.Equal(t, 1, open)
}

func TestUpdateStartDate(t *testing.T) {
	ctx := context.Background()
	s, u, p := seeded(t)
	sub := create(t, s, u, p, start)
	pauseAt := start.Add(time.Hour)
	_, err := s.Transition(ctx, sub.ID, subscription.StatusActive, subscription.StatusPaused, pauseAt)
	require.NoError(t, err)

	backdated := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateStartDate(ctx, sub.ID, backdated))

	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, backdated.Equal(got.StartDate))

	periods, err := s.ListPeriods(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, periods, 2)
	for _, pr := range periods {
		assert.True(t, backdated.Equal(pr.StartDate))
	}
	require.NotNil(t, periods[0].EndDate)
	assert.True(t, pauseAt.Equal(*periods[0].EndDate))

	other := create(t, s, u, p, start)
	assert.ErrorIs(t, s.UpdateStartDate(ctx, other.ID, backdated), subledger.ErrSubscriptionExists)
	assert.ErrorIs(t, s.UpdateStartDate(ctx, 404, backdated), subledger.ErrSubscriptionNotFound)
}

func TestDeletes(t *testing.T) {
	ctx := context.Background()
	s, u, p := seeded(t)
	sub := create(t, s, u, p, start)
	_, err := s.Transition(ctx, sub.ID, subscription.StatusActive, subscription.StatusPaused, start.Add(time.Hour))
	require.NoError(t, err)

	n, err := s.DeletePeriods(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, err = s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)

	require.NoError(t, s.DeleteSubscription(ctx, sub.ID))
	_, err = s.GetSubscription(ctx, sub.ID)
	assert.ErrorIs(t, err, subledger.ErrSubscriptionNotFound)
	assert.ErrorIs(t, s.DeleteSubscription(ctx, sub.ID), subledger.ErrSubscriptionNotFound)
}

func TestDeleteUser_Cascades(t *testing.T) {
	ctx := context.Background()
	s, u, p := seeded(t)
	sub := create(t, s, u, p, start)

	require.NoError(t, s.DeleteUser(ctx, u.ID))
	_, err := s.GetUser(ctx, u.ID)
	assert.ErrorIs(t, err, subledger.ErrUserNotFound)
	_, err = s.GetSubscription(ctx, sub.ID)
	assert.ErrorIs(t, err, subledger.ErrSubscriptionNotFound)

	periods, err := s.ListPeriods(ctx, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, periods)
	assert.ErrorIs(t, s.DeleteUser(ctx, u.ID), subledger.ErrUserNotFound)
}

func TestCreateUser_Duplicate(t *testing.T) {
	ctx := context.Background()
	s, _, _ := seeded(t)

	dup := &user.User{Email: "a@example.com", Username: "other", Role: user.RoleUser}
	dup.CreatedAt, dup.UpdatedAt = start, start
	assert.ErrorIs(t, s.CreateUser(ctx, dup), subledger.ErrUserExists)
}
