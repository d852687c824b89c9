package notification

import (
	"time"

	"github.com/google/uuid"

	"github.com/doctorcrm/doctorcrm/internal/platform/auth"
)

// Notification is one in-app message for a single recipient. Broadcasts
// fan out to one row per recipient at send time, so read state is always
// per user.
type Notification struct {
	ID            uuid.UUID `db:"id" json:"id"`
	RecipientRole auth.Role `db:"recipient_role" json:"recipientRole"`
	RecipientID   uuid.UUID `db:"recipient_id" json:"recipientId"`
	Title         string    `db:"title" json:"title"`
	Body          string    `db:"body" json:"body"`
	Read          bool      `db:"is_read" json:"read"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}
