package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/xraph/subledger"
)

func TestClassify(t *testing.T) {
	pgErr := func(code, constraint string) error {
		return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code, ConstraintName: constraint})
	}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"missing user", pgErr(codeForeignKeyViolation, "subscriptions_user_fk"), subledger.ErrUserNotFound},
		{"missing plan", pgErr(codeForeignKeyViolation, "subscriptions_plan_fk"), subledger.ErrPlanNotFound},
		{"missing subscription", pgErr(codeForeignKeyViolation, "subscription_periods_subscription_fk"), subledger.ErrSubscriptionNotFound},
		{"other foreign key", pgErr(codeForeignKeyViolation, "x_fk"), subledger.ErrNotFound},
		{"duplicate start", pgErr(codeUniqueViolation, "subscriptions_user_plan_start_key"), subledger.ErrSubscriptionExists},
		{"duplicate email", pgErr(codeUniqueViolation, "users_email_key"), subledger.ErrUserExists},
		{"second open period", pgErr(codeUniqueViolation, "idx_subscription_periods_open"), subledger.ErrInvalidState},
		{"other unique", pgErr(codeUniqueViolation, "plans_name_key"), subledger.ErrAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}

	other := errors.New("connection reset")
	assert.Same(t, other, classify(other))
	deadlock := &pgconn.PgError{Code: "40P01"}
	assert.Equal(t, error(deadlock), classify(deadlock))
	assert.True(t, isNoRows(fmt.Errorf("scan: %w", sql.ErrNoRows)))
}
