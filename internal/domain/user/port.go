package user

import "context"

// Repo is read-only: accounts are managed outside the scheduler.
type Repo interface {
	GetByID(ctx context.Context, id int64) (*User, error)
}
