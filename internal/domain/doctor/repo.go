package doctor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("doctor not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidOTP         = errors.New("invalid or expired reset code")
	ErrTwoFANotEnrolled   = errors.New("two-factor authentication not set up")
	ErrVideoNotFound      = errors.New("video not found")
)

type Repository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByEmail(ctx context.Context, email string) (*Doctor, error)
	List(ctx context.Context, search string, limit, offset int) ([]*Doctor, int, error)
	Update(ctx context.Context, d *Doctor) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetTwoFA(ctx context.Context, id uuid.UUID, secretEnc *string, enabled bool) error
	Delete(ctx context.Context, id uuid.UUID) error

	SavePasswordReset(ctx context.Context, pr *PasswordReset) error
	// ConsumePasswordReset atomically marks a live, matching reset used.
	// Returns ErrInvalidOTP when nothing matched.
	ConsumePasswordReset(ctx context.Context, doctorID uuid.UUID, otpHash string, now time.Time) error

	AddVideo(ctx context.Context, v *Video) error
	GetVideo(ctx context.Context, doctorID, videoID uuid.UUID) (*Video, error)
	ListVideos(ctx context.Context, doctorID uuid.UUID) ([]*Video, error)
	DeleteVideo(ctx context.Context, doctorID, videoID uuid.UUID) error
}
