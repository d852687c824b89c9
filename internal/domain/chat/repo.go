package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("chat thread not found")

type Repository interface {
	Add(ctx context.Context, m *Message) error
	// ListThread returns messages for one doctor/patient pair in the
	// order they were sent, oldest first.
	ListThread(ctx context.Context, doctorID, patientID uuid.UUID, limit, offset int) ([]*Message, int, error)
}
