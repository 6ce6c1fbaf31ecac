package subscription

import (
	"sort"
	"time"

	"github.com/xraph/subledger/plan"
)

const day = 24 * time.Hour

// later reports whether a started after b. Equal start dates fall back to
// the id, so the most recently inserted period is the latest one.
func later(a, b *Period) bool {
	if !a.StartDate.Equal(b.StartDate) {
		return a.StartDate.After(b.StartDate)
	}
	return a.ID > b.ID
}

// CurrentPeriod picks the period that determines the current status: the
// open one, or the most recently started when none is open. With several
// open periods the latest of them wins.
func CurrentPeriod(periods []Period) (Period, bool) {
	var best *Period
	bestOpen := false
	for i := range periods {
		p := &periods[i]
		switch {
		case best == nil:
		case p.IsOpen() && !bestOpen:
		case p.IsOpen() == bestOpen && later(p, best):
		default:
			continue
		}
		best = p
		bestOpen = p.IsOpen()
	}
	if best == nil {
		return Period{}, false
	}
	return *best, true
}

// CurrentStatus returns the status of CurrentPeriod.
func CurrentStatus(periods []Period) (Status, bool) {
	p, ok := CurrentPeriod(periods)
	if !ok {
		return "", false
	}
	return p.Status, true
}

// ActiveDays sums the whole days spent in active periods. Open periods run
// until now. Each period is floored to whole days before summing.
func ActiveDays(periods []Period, now time.Time) int {
	total := 0
	for i := range periods {
		p := &periods[i]
		if p.Status != StatusActive {
			continue
		}
		end := now
		if p.EndDate != nil {
			end = *p.EndDate
		}
		if d := end.Sub(p.StartDate); d > 0 {
			total += int(d / day)
		}
	}
	return total
}

// SortPeriods orders periods by start date, ties by id.
func SortPeriods(periods []*Period) {
	sort.SliceStable(periods, func(i, j int) bool {
		return later(periods[j], periods[i])
	})
}

// SortSubscriptions orders subscriptions by start date, ties by id.
func SortSubscriptions(subs []*Subscription) {
	sort.SliceStable(subs, func(i, j int) bool {
		if !subs[i].StartDate.Equal(subs[j].StartDate) {
			return subs[i].StartDate.Before(subs[j].StartDate)
		}
		return subs[i].ID < subs[j].ID
	})
}

// groupPeriods buckets periods by subscription, each bucket sorted.
func groupPeriods(periods []*Period) map[int64][]*Period {
	out := make(map[int64][]*Period)
	for _, p := range periods {
		out[p.SubscriptionID] = append(out[p.SubscriptionID], p)
	}
	for _, ps := range out {
		SortPeriods(ps)
	}
	return out
}

// Project builds the left-join projection of subs against their plans and
// periods, ordered by subscription start then period start. Subscriptions
// whose plan is missing from plans are skipped.
func Project(subs []*Subscription, plans map[int64]*plan.Plan, periods []*Period) []Row {
	ordered := append([]*Subscription(nil), subs...)
	SortSubscriptions(ordered)
	byID := groupPeriods(periods)

	rows := make([]Row, 0, len(periods)+len(subs))
	for _, s := range ordered {
		pl, ok := plans[s.PlanID]
		if !ok {
			continue
		}
		base := Row{
			SubscriptionID: s.ID,
			UserID:         s.UserID,
			StartDate:      s.StartDate,
			PlanID:         pl.ID,
			PlanName:       pl.Name,
			DurationMonths: pl.DurationMonths,
		}
		ps := byID[s.ID]
		if len(ps) == 0 {
			rows = append(rows, base)
			continue
		}
		for _, p := range ps {
			r := base
			pid, start, status := p.ID, p.StartDate, p.Status
			r.PeriodID = &pid
			r.PeriodStart = &start
			r.Status = &status
			if p.EndDate != nil {
				end := *p.EndDate
				r.PeriodEnd = &end
			}
			rows = append(rows, r)
		}
	}
	return rows
}

// BuildHistory groups subs into per-subscription histories with the
// derived status and day counts evaluated at now.
func BuildHistory(subs []*Subscription, plans map[int64]*plan.Plan, periods []*Period, now time.Time) []History {
	ordered := append([]*Subscription(nil), subs...)
	SortSubscriptions(ordered)
	byID := groupPeriods(periods)

	out := make([]History, 0, len(ordered))
	for _, s := range ordered {
		pl, ok := plans[s.PlanID]
		if !ok {
			continue
		}
		ps := make([]Period, 0, len(byID[s.ID]))
		for _, p := range byID[s.ID] {
			ps = append(ps, *p)
		}
		h := History{
			Subscription: *s,
			Plan:         *pl,
			Periods:      ps,
			ActiveDays:   ActiveDays(ps, now),
			PlanDays:     pl.DurationDays(),
		}
		if st, ok := CurrentStatus(ps); ok {
			h.CurrentStatus = st
		}
		out = append(out, h)
	}
	return out
}
