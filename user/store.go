package user

import "context"

type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, userID int64) (*User, error)
	ListUsers(ctx context.Context, opts ListOpts) ([]*User, error)
	// DeleteUser removes the user together with its subscriptions and periods.
	DeleteUser(ctx context.Context, userID int64) error
}

type ListOpts struct {
	Limit  int
	Offset int
}
