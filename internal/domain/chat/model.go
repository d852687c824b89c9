package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/doctorcrm/doctorcrm/internal/platform/auth"
)

// Message is one entry in the conversation between a patient and their
// treating doctor. A thread is identified by the (doctor, patient) pair.
type Message struct {
	ID         uuid.UUID `db:"id" json:"id"`
	DoctorID   uuid.UUID `db:"doctor_id" json:"doctorId"`
	PatientID  uuid.UUID `db:"patient_id" json:"patientId"`
	SenderRole auth.Role `db:"sender_role" json:"senderRole"`
	Body       string    `db:"body" json:"body"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}
