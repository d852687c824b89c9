package subadmin

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("sub-admin not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

type Repository interface {
	Create(ctx context.Context, a *SubAdmin) error
	GetByID(ctx context.Context, id uuid.UUID) (*SubAdmin, error)
	GetByEmail(ctx context.Context, email string) (*SubAdmin, error)
	List(ctx context.Context, limit, offset int) ([]*SubAdmin, int, error)
	Update(ctx context.Context, a *SubAdmin) error
	Delete(ctx context.Context, id uuid.UUID) error
}
