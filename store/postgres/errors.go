package postgres

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/subledger"
)

// SQLSTATE codes the store gives domain meaning to.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// classify maps constraint violations onto ledger errors. Anything else
// is returned unchanged.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeForeignKeyViolation:
		switch pgErr.ConstraintName {
		case "subscriptions_user_fk":
			return subledger.ErrUserNotFound
		case "subscriptions_plan_fk":
			return subledger.ErrPlanNotFound
		case "subscription_periods_subscription_fk":
			return subledger.ErrSubscriptionNotFound
		}
		return subledger.ErrNotFound
	case codeUniqueViolation:
		switch pgErr.ConstraintName {
		case "subscriptions_user_plan_start_key":
			return subledger.ErrSubscriptionExists
		case "users_email_key", "users_username_key", "users_pkey":
			return subledger.ErrUserExists
		case "idx_subscription_periods_open":
			return subledger.ErrInvalidState
		}
		return subledger.ErrAlreadyExists
	}
	return err
}
