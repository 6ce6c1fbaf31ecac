// Package subledger records membership subscriptions for a studio website
// and the timeline of active and paused periods inside each of them.
//
// Subledger is designed as a library, not a service. The cmd/subledger
// binary and the extension package wrap it for deployment, but the engine
// itself only needs a store:
//
//   - Plans are a small immutable catalog (Standard and Pro, 12 months each)
//   - Subscriptions enroll a user in a plan from a start date
//   - Periods form an append-only active/paused timeline per subscription
//   - Status and active days are derived from the timeline on read
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/subledger"
//	    "github.com/xraph/subledger/store/memory"
//	)
//
//	l := subledger.New(memory.New())
//
//	// Migrate the store and seed the plan catalog.
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Period Timeline
//
// A new subscription starts with one open active period. Pausing closes it
// and opens a paused period; resuming does the opposite:
//
//	sub, err := l.CreateSubscription(ctx, userID, planID)
//
//	t, err := l.PauseSubscription(ctx, sub.ID)
//	if !t.Applied() {
//	    // t.Outcome == subledger.OutcomeNoOpenPeriod: nothing was active.
//	}
//
// Every backend claims the open period with a single conditional write, so
// two concurrent pauses apply once and the other reports no_open_period.
//
// # Read Models
//
// GetUserSubscriptions returns the flat subscription/period rows ordered by
// subscription start and then period start. GetUserHistory groups the same
// data per subscription with the derived current status:
//
//	hist, err := l.GetUserHistory(ctx, userID)
//	for _, h := range hist {
//	    fmt.Println(h.Plan.Name, h.CurrentStatus, h.ActiveDays, "/", h.PlanDays)
//	}
//
// When several periods share a start date the one with the highest id is
// treated as the latest.
//
// # Stores
//
// Memory, SQLite, PostgreSQL and MongoDB stores live under store/. The SQL
// stores are built on grove and ship their schema as grove migrations.
package subledger
