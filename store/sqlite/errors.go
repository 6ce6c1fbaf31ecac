package sqlite

import (
	"database/sql"
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/subledger"
)

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// classify maps constraint violations onto ledger errors. SQLite reports
// the offending columns only in the message text.
func classify(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	msg := se.Error()
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return subledger.ErrNotFound
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		switch {
		case strings.Contains(msg, "users."):
			return subledger.ErrUserExists
		case strings.Contains(msg, "subscriptions."):
			return subledger.ErrSubscriptionExists
		case strings.Contains(msg, "subscription_periods."):
			return subledger.ErrInvalidState
		}
		return subledger.ErrAlreadyExists
	}
	return err
}
