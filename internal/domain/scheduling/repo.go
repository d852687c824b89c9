package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ListFilter narrows a doctor's appointment listing. Zero values mean no
// filtering on that dimension.
type ListFilter struct {
	Status Status
	Day    time.Time
}

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error

	ListByDoctor(ctx context.Context, doctorID uuid.UUID, f ListFilter, limit, offset int) ([]*Appointment, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error)
	CountByStatus(ctx context.Context, doctorID uuid.UUID, day time.Time) (StatusCounts, error)
}
