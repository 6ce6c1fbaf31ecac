package postgres_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"

	"github.com/xraph/subledger"
	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/store/postgres"
	"github.com/xraph/subledger/user"
)

// openLedger connects to SUBLEDGER_TEST_POSTGRES_URL and skips without it.
func openLedger(t *testing.T) *subledger.Ledger {
	t.Helper()
	dsn := os.Getenv("SUBLEDGER_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("SUBLEDGER_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()

	drv := pgdriver.New()
	require.NoError(t, drv.Open(ctx, dsn))
	db, err := grove.Open(drv)
	require.NoError(t, err)

	l := subledger.New(postgres.New(db))
	require.NoError(t, l.Start(ctx))
	t.Cleanup(func() { _ = l.Stop() })
	return l
}

func TestLedgerOnPostgres(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()

	name := fmt.Sprintf("pg%d", time.Now().UnixNano())
	u := &user.User{Email: name + "@example.com", Username: name}
	require.NoError(t, l.CreateUser(ctx, u))
	t.Cleanup(func() { _ = l.DeleteUser(context.Background(), u.ID) })
	std, err := l.GetPlanByName(ctx, plan.NameStandard)
	require.NoError(t, err)

	sub, err := l.CreateSubscription(ctx, u.ID, std.ID)
	require.NoError(t, err)

	_, err = l.CreateSubscription(ctx, u.ID, 1<<40)
	assert.True(t, subledger.IsNotFound(err))

	var wg sync.WaitGroup
	outcomes := make(chan subledger.Outcome, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr, err := l.PauseSubscription(ctx, sub.ID)
			if assert.NoError(t, err) {
				outcomes <- tr.Outcome
			}
		}()
	}
	wg.Wait()
	close(outcomes)

	applied := 0
	for o := range outcomes {
		if o == subledger.OutcomeApplied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)

	periods, err := l.ListPeriods(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, periods, 2)
	assert.Equal(t, subledger.StatusPaused, periods[1].Status)
	assert.True(t, periods[1].IsOpen())

	backdated := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, l.UpdateSubscriptionStartDate(ctx, sub.ID, backdated))
	got, err := l.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, backdated.Equal(got.StartDate))

	require.NoError(t, l.DeleteSubscription(ctx, sub.ID))
	periods, err = l.ListPeriods(ctx, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, periods)
}
