package plugin_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/subledger/plugin"
	"github.com/xraph/subledger/subscription"
)

type pauseCounter struct {
	name   string
	paused atomic.Int32
	err    error
	delay  time.Duration
}

func (p *pauseCounter) Name() string { return p.name }

func (p *pauseCounter) OnSubscriptionPaused(_ context.Context, _ *subscription.Transition) error {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.paused.Add(1)
	return p.err
}

type nameOnly struct{}

func (nameOnly) Name() string { return "name-only" }

func quietRegistry() *plugin.Registry {
	return plugin.NewRegistry().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistry_RegisterAndList(t *testing.T) {
	r := quietRegistry()

	require.NoError(t, r.Register(&pauseCounter{name: "counter"}))
	require.NoError(t, r.Register(nameOnly{}))

	err := r.Register(&pauseCounter{name: "counter"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	assert.Equal(t, 2, r.Count())
	assert.Len(t, r.List(), 2)
	assert.NotNil(t, r.Get("name-only"))
	assert.Nil(t, r.Get("missing"))
}

func TestRegistry_DispatchesOnlyImplementers(t *testing.T) {
	r := quietRegistry()
	c := &pauseCounter{name: "counter"}
	require.NoError(t, r.Register(c))
	require.NoError(t, r.Register(nameOnly{}))

	ctx := context.Background()
	r.EmitSubscriptionPaused(ctx, &subscription.Transition{SubscriptionID: 1})
	r.EmitSubscriptionResumed(ctx, &subscription.Transition{SubscriptionID: 1})

	assert.Equal(t, int32(1), c.paused.Load())
}

func TestRegistry_FailuresDoNotStopDispatch(t *testing.T) {
	r := quietRegistry()
	failing := &pauseCounter{name: "failing", err: errors.New("boom")}
	healthy := &pauseCounter{name: "healthy"}
	require.NoError(t, r.Register(failing))
	require.NoError(t, r.Register(healthy))

	r.EmitSubscriptionPaused(context.Background(), &subscription.Transition{})

	assert.Equal(t, int32(1), failing.paused.Load())
	assert.Equal(t, int32(1), healthy.paused.Load())
}

func TestRegistry_Timeout(t *testing.T) {
	r := quietRegistry().WithTimeout(10 * time.Millisecond)
	slow := &pauseCounter{name: "slow", delay: 200 * time.Millisecond}
	require.NoError(t, r.Register(slow))

	begin := time.Now()
	r.EmitSubscriptionPaused(context.Background(), &subscription.Transition{})

	assert.Less(t, time.Since(begin), 150*time.Millisecond)
}
