package doctor

import (
	"time"

	"github.com/google/uuid"
)

// Doctor maps to the doctor table. PasswordHash and the encrypted TOTP
// secret never appear in JSON responses.
type Doctor struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	Name           string     `db:"name" json:"name"`
	Email          string     `db:"email" json:"email"`
	PasswordHash   string     `db:"password_hash" json:"-"`
	Phone          *string    `db:"phone" json:"phone,omitempty"`
	Specialization *string    `db:"specialization" json:"specialization,omitempty"`
	Qualification  *string    `db:"qualification" json:"qualification,omitempty"`
	ClinicName     *string    `db:"clinic_name" json:"clinicName,omitempty"`
	ClinicAddress  *string    `db:"clinic_address" json:"clinicAddress,omitempty"`
	ProfilePhotoID *uuid.UUID `db:"profile_photo_id" json:"profilePhotoId,omitempty"`
	SignatureID    *uuid.UUID `db:"signature_id" json:"signatureId,omitempty"`
	TwoFAEnabled   bool       `db:"twofa_enabled" json:"twoFAEnabled"`
	TwoFASecretEnc *string    `db:"twofa_secret_enc" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

// Video is a doctor-uploaded video backed by a blobstore file.
type Video struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctorId"`
	Title     string    `db:"title" json:"title"`
	FileID    uuid.UUID `db:"file_id" json:"fileId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// PasswordReset is a pending reset request; only the OTP digest is stored.
type PasswordReset struct {
	ID        uuid.UUID `db:"id"`
	DoctorID  uuid.UUID `db:"doctor_id"`
	OTPHash   string    `db:"otp_hash"`
	ExpiresAt time.Time `db:"expires_at"`
	Used      bool      `db:"used"`
	CreatedAt time.Time `db:"created_at"`
}
