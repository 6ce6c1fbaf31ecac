package subledger_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/subledger"
	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/store/memory"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/user"
)

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder captures emitted hooks.
type recorder struct {
	mu      sync.Mutex
	events  []string
	seeded  int
	skipped []*subscription.Transition
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) OnPlansSeeded(_ context.Context, plans []*plan.Plan) error {
	r.mu.Lock()
	r.seeded += len(plans)
	r.mu.Unlock()
	return nil
}

func (r *recorder) OnSubscriptionCreated(context.Context, *subscription.Subscription) error {
	r.add("created")
	return nil
}

func (r *recorder) OnSubscriptionPaused(context.Context, *subscription.Transition) error {
	r.add("paused")
	return nil
}

func (r *recorder) OnSubscriptionResumed(context.Context, *subscription.Transition) error {
	r.add("resumed")
	return nil
}

func (r *recorder) OnTransitionSkipped(_ context.Context, t *subscription.Transition) error {
	r.mu.Lock()
	r.skipped = append(r.skipped, t)
	r.mu.Unlock()
	r.add("skipped")
	return nil
}

func (r *recorder) OnSubscriptionBackfilled(context.Context, *subscription.Subscription) error {
	r.add("backfilled")
	return nil
}

func (r *recorder) OnSubscriptionDeleted(context.Context, int64) error {
	r.add("deleted")
	return nil
}

func (r *recorder) OnPeriodsDeleted(context.Context, int64, int64) error {
	r.add("periods_deleted")
	return nil
}

type harness struct {
	ledger *subledger.Ledger
	clock  *clock
	rec    *recorder
	user   *user.User
	std    *plan.Plan
	pro    *plan.Plan
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	c := newClock()
	rec := &recorder{}
	l := subledger.New(memory.New(),
		subledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		subledger.WithClock(c.Now),
		subledger.WithPlugin(rec),
	)
	require.False(t, l.Ready())
	require.NoError(t, l.Start(ctx))
	require.True(t, l.Ready())
	t.Cleanup(func() { _ = l.Stop() })

	u := &user.User{Email: "shreya@example.com", Username: "shreya"}
	require.NoError(t, l.CreateUser(ctx, u))

	std, err := l.GetPlanByName(ctx, plan.NameStandard)
	require.NoError(t, err)
	pro, err := l.GetPlanByName(ctx, plan.NamePro)
	require.NoError(t, err)

	return &harness{ledger: l, clock: c, rec: rec, user: u, std: std, pro: pro}
}

func openPeriods(periods []*subscription.Period) int {
	n := 0
	for _, p := range periods {
		if p.IsOpen() {
			n++
		}
	}
	return n
}

func TestStart_SeedsCatalog(t *testing.T) {
	h := newHarness(t)

	plans, err := h.ledger.ListPlans(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 2)
	for _, p := range plans {
		assert.Equal(t, 12, p.DurationMonths)
	}
	assert.Equal(t, 2, h.rec.seeded)

	// Seeding again keeps the catalog stable.
	again, err := h.ledger.SeedCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h.std.ID, again[0].ID)
}

func TestCreateSubscription_OpensActivePeriod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub, err := h.ledger.CreateSubscription(ctx, h.user.ID, h.std.ID)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now(), sub.StartDate)

	periods, err := h.ledger.ListPeriods(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, subscription.StatusActive, periods[0].Status)
	assert.Nil(t, periods[0].EndDate)
	assert.Equal(t, sub.StartDate, periods[0].StartDate)
	assert.Equal(t, []string{"created"}, h.rec.events)
}

func TestCreateSubscription_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ledger.CreateSubscription(ctx, h.user.ID, 999)
	assert.ErrorIs(t, err, subledger.ErrPlanNotFound)
	assert.True(t, subledger.IsNotFound(err))

	_, err = h.ledger.CreateSubscription(ctx, 999, h.std.ID)
	assert.ErrorIs(t, err, subledger.ErrUserNotFound)

	_, err = h.ledger.CreateSubscription(ctx, 0, h.std.ID)
	assert.True(t, subledger.IsValidation(err))

	// Same user, plan and start instant is rejected.
	_, err = h.ledger.CreateSubscription(ctx, h.user.ID, h.std.ID)
	require.NoError(t, err)
	_, err = h.ledger.CreateSubscription(ctx, h.user.ID, h.std.ID)
	assert.True(t, subledger.IsAlreadyExists(err))
	assert.False(t, subledger.IsStoreFailure(err))
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub, err := h.ledger.CreateSubscription(ctx, h.user.ID, h.std.ID)
	require.NoError(t, err)

	h.clock.Advance(24 * time.Hour)
	tr, err := h.ledger.PauseSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, tr.Applied())
	pausedAt := h.clock.Now()

	h.clock.Advance(24 * time.Hour)
	tr, err = h.ledger.ResumeSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, tr.Applied())

	periods, err := h.ledger.ListPeriods(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, periods, 3)
	assert.Equal(t, 1, openPeriods(periods))

	last := periods[2]
	assert.Equal(t, subscription.StatusActive, last.Status)
	assert.True(t, last.IsOpen())
	for _, p := range periods[:2] {
		require.NotNil(t, p.EndDate)
		assert.False(t, p.EndDate.Before(p.StartDate))
	}
	assert.Equal(t, pausedAt, *periods[0].EndDate)
	assert.Equal(t, []string{"created", "paused", "resumed"}, h.rec.events)
}

func TestPauseTwice_ReportsNoOpenPeriod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub, err := h.ledger.CreateSubscription(ctx, h.user.ID, h.std.ID)
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	_, err = h.ledger.PauseSubscription(ctx, sub.ID)
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	tr, err := h.ledger.PauseSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.OutcomeNoOpenPeriod, tr.Outcome)
	assert.True(t, subledger.IsInvalidState(tr.Err()))

	periods, err := h.ledger.ListPeriods(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, periods, 2)
	assert.Equal(t, 1, openPeriods(periods))
	assert.Equal(t, subscription.StatusPaused, periods[1].Status)

	// Resuming an active subscription is skipped the same way.
	h.clock.Advance(time.Hour)
	_, err = h.ledger.ResumeSubscription(ctx, sub.ID)
	require.NoError(t, err)
	tr, err = h.ledger.ResumeSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, tr.Applied())

	require.Len(t, h.rec.skipped, 2)
}

func TestTransition_UnknownSubscription(t *testing.T) {
	h := newHarness(t)

	_, err := h.ledger.PauseSubscription(context.Background(), 404)
	assert.ErrorIs(t, err, subledger.ErrSubscriptionNotFound)

	_, err = h.ledger.ResumeSubscription(context.Background(), 404)
	assert.True(t, subledger.IsNotFound(err))
}

func TestAtMostOneOpenPeriod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub, err := h.ledger.CreateSubscription(ctx, h.user.ID, h.std.ID)
	require.NoError(t, err)

	ops := []func(context.Context, int64) (*subscription.Transition, error){
		h.ledger.PauseSubscription,
		h.ledger.PauseSubscription,
		h.ledger.ResumeSubscription,
		h.ledger.ResumeSubscription,
		h.ledger.PauseSubscription,
		h.ledger.ResumeSubscription,
		h.ledger.PauseSubscription,
	}
	for _, op := range ops {
		h.clock.Advance(time.Minute)
		_, err := op(ctx, sub.ID)
		require.NoError(t, err)

		periods, err := h.ledger.ListPeriods(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, openPeriods(periods))
	}

	periods, err := h.ledger.ListPeriods(ctx, sub.ID)
	require.NoError(t, err)
	for i := 1; i < len(periods); i++ {
		assert.NotEqual(t, periods[i-1].Status, periods[i].Status, "consecutive periods alternate")
	}
}

func TestConcurrentPauses_ApplyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub, err := h.ledger.CreateSubscription(ctx, h.user.ID, h.std.ID)
	require.NoError(t, err)
	h.clock.Advance(time.Hour)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr, err := h.ledger.PauseSubscription(ctx, sub.ID)
			if err == nil && tr.Applied() {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	periods, err := h.ledger.ListPeriods(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, periods, 2)
}

func TestGetUserSubscriptions_GroupedAndOrdered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.ledger.CreateSubscription(ctx, h.user.ID, h.std.ID)
	require.NoError(t, err)
	h.clock.Advance(time.Hour)
	b, err := h.ledger.CreateSubscription(ctx, h.user.ID, h.pro.ID)
	require.NoError(t, err)
	h.clock.Advance(time.Hour)
	_, err = h.ledger.PauseSubscription(ctx, a.ID)
	require.NoError(t, err)

	rows, err := h.ledger.GetUserSubscriptions(ctx, h.user.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, a.ID, rows[0].SubscriptionID)
	assert.Equal(t, a.ID, rows[1].SubscriptionID)
	assert.Equal(t, b.ID, rows[2].SubscriptionID)
	assert.True(t, rows[0].PeriodStart.Before(*rows[1].PeriodStart))
	assert.Equal(t, plan.NameStandard, rows[0].PlanName)
	assert.Equal(t, plan.NamePro, rows[2].PlanName)
	assert.Equal(t, subscription.StatusPaused, *rows[1].Status)

	other, err := h.ledger.GetUserSubscriptions(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestDeleteSubscription_RemovesPeriods(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.ledger.CreateSubscription(ctx, h.user.ID, h.std.ID)
	require.NoError(t, err)
	h.clock.Advance(time.Hour)
	b, err := h.ledger.CreateSubscription(ctx, h.user.ID, h.pro.ID)
	require.NoError(t, err)
	_, err = h.ledger.PauseSubscription(ctx, a.ID)
	require.NoError(t, err)

	require.NoError(t, h.ledger.DeleteSubscription(ctx, a.ID))

	periods, err := h.ledger.ListPeriods(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, periods)

	rows, err := h.ledger.GetUserSubscriptions(ctx, h.user.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, b.ID, rows[0].SubscriptionID)

	assert.ErrorIs(t, h.ledger.DeleteSubscription(ctx, a.ID), subledger.ErrSubscriptionNotFound)
}

func TestDeleteSubscriptionPeriods_KeepsSubscriptionRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub, err := h.ledger.CreateSubscription(ctx, h.user.ID, h.std.ID)
	require.NoError(t, err)
	_, err = h.ledger.PauseSubscription(ctx, sub.ID)
	require.NoError(t, err)

	n, err := h.ledger.DeleteSubscriptionPeriods(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := h.ledger.GetUserSubscriptions(ctx, h.user.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].PeriodID)
	assert.Nil(t, rows[0].Status)

	// No open period remains, so a pause is skipped.
	tr, err := h.ledger.PauseSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, tr.Applied())

	_, err = h.ledger.DeleteSubscriptionPeriods(ctx, 404)
	assert.ErrorIs(t, err, subledger.ErrSubscriptionNotFound)
}

func TestUpdateSubscriptionStartDate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub, err := h.ledger.CreateSubscription(ctx, h.user.ID, h.std.ID)
	require.NoError(t, err)
	h.clock.Advance(time.Hour)
	_, err = h.ledger.PauseSubscription(ctx, sub.ID)
	require.NoError(t, err)
	pausedAt := h.clock.Now()

	backdated := time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, h.ledger.UpdateSubscriptionStartDate(ctx, sub.ID, backdated))

	got, err := h.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, backdated, got.StartDate)

	periods, err := h.ledger.ListPeriods(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, periods, 2)
	for _, p := range periods {
		assert.Equal(t, backdated, p.StartDate)
	}
	assert.Equal(t, pausedAt, *periods[0].EndDate)
	assert.Equal(t, subscription.StatusActive, periods[0].Status)
	assert.Equal(t, subscription.StatusPaused, periods[1].Status)

	// Both periods now share a start date; the open one still decides.
	hist, err := h.ledger.GetUserHistory(ctx, h.user.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, subscription.StatusPaused, hist[0].CurrentStatus)

	assert.ErrorIs(t, h.ledger.UpdateSubscriptionStartDate(ctx, 404, backdated), subledger.ErrSubscriptionNotFound)
	assert.True(t, subledger.IsValidation(h.ledger.UpdateSubscriptionStartDate(ctx, sub.ID, time.Time{})))
}

func TestWorkedExample(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub, err := h.ledger.CreateSubscription(ctx, h.user.ID, h.std.ID)
	require.NoError(t, err)

	rows, err := h.ledger.GetUserSubscriptions(ctx, h.user.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, subscription.StatusActive, *rows[0].Status)
	assert.Nil(t, rows[0].PeriodEnd)

	h.clock.Advance(3 * 24 * time.Hour)
	_, err = h.ledger.PauseSubscription(ctx, sub.ID)
	require.NoError(t, err)

	rows, err = h.ledger.GetUserSubscriptions(ctx, h.user.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, subscription.StatusActive, *rows[0].Status)
	assert.NotNil(t, rows[0].PeriodEnd)
	assert.Equal(t, subscription.StatusPaused, *rows[1].Status)
	assert.Nil(t, rows[1].PeriodEnd)

	h.clock.Advance(2 * 24 * time.Hour)
	_, err = h.ledger.ResumeSubscription(ctx, sub.ID)
	require.NoError(t, err)

	rows, err = h.ledger.GetUserSubscriptions(ctx, h.user.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	want := []subscription.Status{subscription.StatusActive, subscription.StatusPaused, subscription.StatusActive}
	for i, r := range rows {
		assert.Equal(t, want[i], *r.Status)
	}
	assert.Nil(t, rows[2].PeriodEnd)

	h.clock.Advance(24 * time.Hour)
	hist, err := h.ledger.GetUserHistory(ctx, h.user.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, subscription.StatusActive, hist[0].CurrentStatus)
	assert.Equal(t, 4, hist[0].ActiveDays)
	assert.Equal(t, 360, hist[0].PlanDays)
}

func TestReplaceSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	old, err := h.ledger.CreateSubscription(ctx, h.user.ID, h.std.ID)
	require.NoError(t, err)
	keep, err := h.ledger.CreateSubscription(ctx, h.user.ID, h.pro.ID)
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	start := time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC)
	sub, err := h.ledger.ReplaceSubscription(ctx, h.user.ID, h.std.ID, start)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, sub.ID)
	assert.Equal(t, start, sub.StartDate)

	_, err = h.ledger.GetSubscription(ctx, old.ID)
	assert.ErrorIs(t, err, subledger.ErrSubscriptionNotFound)
	_, err = h.ledger.GetSubscription(ctx, keep.ID)
	require.NoError(t, err)

	found, err := h.ledger.FindSubscriptions(ctx, h.user.ID, h.std.ID)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, sub.ID, found[0].ID)

	periods, err := h.ledger.ListPeriods(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, start, periods[0].StartDate)
	assert.True(t, periods[0].IsOpen())

	assert.Contains(t, h.rec.events, "backfilled")

	_, err = h.ledger.ReplaceSubscription(ctx, h.user.ID, h.std.ID, time.Time{})
	assert.True(t, subledger.IsValidation(err))
}

func TestDeleteUser_Cascades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub, err := h.ledger.CreateSubscription(ctx, h.user.ID, h.std.ID)
	require.NoError(t, err)

	require.NoError(t, h.ledger.DeleteUser(ctx, h.user.ID))

	_, err = h.ledger.GetSubscription(ctx, sub.ID)
	assert.True(t, subledger.IsNotFound(err))
	_, err = h.ledger.GetUser(ctx, h.user.ID)
	assert.ErrorIs(t, err, subledger.ErrUserNotFound)
}

func TestCreateUser_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.ledger.CreateUser(ctx, &user.User{Username: "x"})
	assert.True(t, subledger.IsValidation(err))

	u := &user.User{Email: "admin@example.com", Username: "admin", Role: user.RoleAdmin}
	require.NoError(t, h.ledger.CreateUser(ctx, u))
	assert.Equal(t, h.clock.Now(), u.CreatedAt)

	users, err := h.ledger.ListUsers(ctx, user.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestStart_MigrationFailure(t *testing.T) {
	l := subledger.New(failingMigrate{memory.New()},
		subledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	err := l.Start(context.Background())
	assert.ErrorIs(t, err, subledger.ErrMigrationFailed)
	assert.False(t, l.Ready())
}

type failingMigrate struct {
	*memory.Store
}

func (failingMigrate) Migrate(context.Context) error { return errors.New("disk full") }

func TestErrorKinds(t *testing.T) {
	storeErr := &subledger.StoreError{Op: "insert", Err: errors.New("connection reset")}

	assert.True(t, subledger.IsStoreFailure(storeErr))
	assert.False(t, subledger.IsNotFound(storeErr))
	assert.True(t, subledger.IsInvalidState(subledger.ErrNoOpenPeriod))
	assert.True(t, subledger.IsValidation(subledger.ValidationError{Field: "f", Message: "m"}))
	assert.False(t, subledger.IsStoreFailure(nil))
}
