package notification

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/doctorcrm/doctorcrm/internal/platform/auth"
)

var ErrNotFound = errors.New("notification not found")

// Recipient identifies who a notification belongs to. Every read and
// write is scoped by it so one user can never touch another's rows.
type Recipient struct {
	Role auth.Role
	ID   uuid.UUID
}

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	CreateBatch(ctx context.Context, ns []*Notification) error
	ListByRecipient(ctx context.Context, r Recipient, limit, offset int) ([]*Notification, int, error)
	CountUnread(ctx context.Context, r Recipient) (int, error)
	MarkRead(ctx context.Context, r Recipient, id uuid.UUID) error
	MarkAllRead(ctx context.Context, r Recipient) error
	Delete(ctx context.Context, r Recipient, id uuid.UUID) error
}
