package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/studiopanel/internal/domain/model"
)

// ErrUserAlreadyExists indicates a user with the same email already exists.
var ErrUserAlreadyExists = errors.New("user already exists")

// UserStore defines the driven port for the local user list.
// Add returns ErrUserAlreadyExists for a duplicate email.
// GetByEmail returns nil, nil when no user matches.
type UserStore interface {
	Add(ctx context.Context, user model.User) (model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	ListAll(ctx context.Context) ([]model.User, error)
}
