// Package user holds the account records owned by the external auth
// service. The ledger only needs enough of them to anchor subscriptions.
package user

import (
	"fmt"
	"strings"

	"github.com/xraph/subledger/types"
)

// Role is the authorization role carried by a user and its tokens.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is an account that can own subscriptions.
type User struct {
	types.Entity
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Validate checks required fields and normalizes the role.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("user: email is required")
	}
	if strings.TrimSpace(u.Username) == "" {
		return fmt.Errorf("user: username is required")
	}
	switch u.Role {
	case "":
		u.Role = RoleUser
	case RoleUser, RoleAdmin:
	default:
		return fmt.Errorf("user: unknown role %q", u.Role)
	}
	return nil
}
