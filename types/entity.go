// Package types provides common types used across the subscription ledger.
package types

import "time"

// Entity carries the bookkeeping timestamps of records owned by
// collaborators, such as user accounts.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntityAt creates an Entity stamped with t in UTC.
func NewEntityAt(t time.Time) Entity {
	t = t.UTC()
	return Entity{CreatedAt: t, UpdatedAt: t}
}
