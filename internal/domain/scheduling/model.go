package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	// StatusPending is a patient-requested appointment awaiting the
	// doctor's decision.
	StatusPending Status = "pending"
	// StatusConfirmed is a patient request the doctor accepted.
	StatusConfirmed Status = "confirmed"
	// StatusRejected is a patient request the doctor declined. Terminal.
	StatusRejected Status = "rejected"
	// StatusScheduled is an appointment the doctor booked directly.
	StatusScheduled Status = "scheduled"
	// StatusCompleted marks a finished visit. Terminal.
	StatusCompleted Status = "completed"
	// StatusCancelled marks a booked appointment that will not happen.
	// Terminal.
	StatusCancelled Status = "cancelled"
)

// transitions holds the allowed forward edges of the status graph.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusRejected},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
	StatusScheduled: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus validates a client-supplied status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusConfirmed, StatusRejected,
		StatusScheduled, StatusCompleted, StatusCancelled:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

// Appointment maps to the appointment table. TokenNumber is the queue
// position for the doctor's day, assigned when the visit is booked.
type Appointment struct {
	ID          uuid.UUID `db:"id" json:"id"`
	DoctorID    uuid.UUID `db:"doctor_id" json:"doctorId"`
	PatientID   uuid.UUID `db:"patient_id" json:"patientId"`
	Date        time.Time `db:"date" json:"date"`
	TimeSlot    string    `db:"time_slot" json:"timeSlot"`
	Reason      *string   `db:"reason" json:"reason,omitempty"`
	Status      Status    `db:"status" json:"status"`
	TokenNumber *int64    `db:"token_number" json:"tokenNumber,omitempty"`
	Notes       *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// StatusCounts is the per-status breakdown of a doctor's appointments.
type StatusCounts map[Status]int
