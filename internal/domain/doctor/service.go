package doctor

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/doctorcrm/doctorcrm/internal/platform/auth"
	"github.com/doctorcrm/doctorcrm/internal/platform/blobstore"
	"github.com/doctorcrm/doctorcrm/internal/platform/mailer"
	"github.com/doctorcrm/doctorcrm/internal/platform/secrets"
)

const resetOTPTTL = 15 * time.Minute

type Service struct {
	repo   Repository
	tokens *auth.TokenService
	totp   *auth.TOTPVerifier
	cipher *secrets.Cipher
	mail   *mailer.Mailer
	files  blobstore.Store
	logger zerolog.Logger
}

func NewService(repo Repository, tokens *auth.TokenService, totp *auth.TOTPVerifier,
	cipher *secrets.Cipher, mail *mailer.Mailer, files blobstore.Store, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		tokens: tokens,
		totp:   totp,
		cipher: cipher,
		mail:   mail,
		files:  files,
		logger: logger,
	}
}

// Resolve loads the doctor record for the auth middleware. A missing row
// maps to (nil, nil) so the middleware answers 404.
func (s *Service) Resolve(ctx context.Context, subject string) (interface{}, error) {
	id, err := uuid.Parse(subject)
	if err != nil {
		return nil, nil
	}
	d, err := s.repo.GetByID(ctx, id)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

type RegisterInput struct {
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	Password       string  `json:"password"`
	Phone          *string `json:"phone"`
	Specialization *string `json:"specialization"`
	Qualification  *string `json:"qualification"`
	ClinicName     *string `json:"clinicName"`
	ClinicAddress  *string `json:"clinicAddress"`
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Doctor, error) {
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if in.Name == "" || in.Email == "" {
		return nil, fmt.Errorf("name and email are required")
	}
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	d := &Doctor{
		Name:           in.Name,
		Email:          in.Email,
		PasswordHash:   string(hash),
		Phone:          in.Phone,
		Specialization: in.Specialization,
		Qualification:  in.Qualification,
		ClinicName:     in.ClinicName,
		ClinicAddress:  in.ClinicAddress,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}

	if err := s.mail.SendTemplate(ctx, d.Email, "staff-welcome", map[string]string{
		"name":        d.Name,
		"clinic_name": strPtrVal(d.ClinicName),
	}); err != nil {
		s.logger.Warn().Err(err).Str("doctor_id", d.ID.String()).Msg("welcome email failed")
	}
	return d, nil
}

// Login authenticates by email and password, and when two-factor is
// enrolled also requires a valid one-time code.
func (s *Service) Login(ctx context.Context, email, password, otpCode string) (*Doctor, *auth.TokenPair, error) {
	d, err := s.repo.GetByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err == ErrNotFound {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(d.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}

	if d.TwoFAEnabled {
		if d.TwoFASecretEnc == nil {
			return nil, nil, ErrTwoFANotEnrolled
		}
		secret, err := s.cipher.Decrypt(*d.TwoFASecretEnc)
		if err != nil {
			return nil, nil, fmt.Errorf("decrypt totp secret: %w", err)
		}
		if err := s.totp.Verify(d.ID.String(), secret, otpCode); err != nil {
			return nil, nil, ErrInvalidCredentials
		}
	}

	pair, err := s.tokens.IssuePair(ctx, d.ID.String(), auth.RoleDoctor)
	if err != nil {
		return nil, nil, err
	}
	return d, pair, nil
}

// Refresh rotates the presented refresh token. The account must still
// exist; a deleted doctor gets the same error as a bad token.
func (s *Service) Refresh(ctx context.Context, presented string) (*Doctor, *auth.TokenPair, error) {
	subject, pair, err := s.tokens.Rotate(ctx, presented, auth.RoleDoctor)
	if err != nil {
		return nil, nil, err
	}
	id, err := uuid.Parse(subject)
	if err != nil {
		return nil, nil, auth.ErrInvalidToken
	}
	d, err := s.repo.GetByID(ctx, id)
	if err == ErrNotFound {
		return nil, nil, auth.ErrInvalidToken
	}
	if err != nil {
		return nil, nil, err
	}
	return d, pair, nil
}

func (s *Service) Logout(ctx context.Context, presented string) error {
	return s.tokens.Revoke(ctx, presented)
}

// SetupTwoFA provisions a new shared secret. It is stored encrypted but not
// yet enabled; EnableTwoFA turns it on after a successful code check.
func (s *Service) SetupTwoFA(ctx context.Context, id uuid.UUID) (secret, url string, err error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", "", err
	}
	secret, url, err = auth.GenerateTOTPSecret(d.Email)
	if err != nil {
		return "", "", fmt.Errorf("generate totp secret: %w", err)
	}
	enc, err := s.cipher.Encrypt(secret)
	if err != nil {
		return "", "", fmt.Errorf("encrypt totp secret: %w", err)
	}
	if err := s.repo.SetTwoFA(ctx, id, &enc, false); err != nil {
		return "", "", err
	}
	return secret, url, nil
}

func (s *Service) EnableTwoFA(ctx context.Context, id uuid.UUID, code string) error {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if d.TwoFASecretEnc == nil {
		return ErrTwoFANotEnrolled
	}
	secret, err := s.cipher.Decrypt(*d.TwoFASecretEnc)
	if err != nil {
		return fmt.Errorf("decrypt totp secret: %w", err)
	}
	if err := s.totp.Verify(d.ID.String(), secret, code); err != nil {
		return err
	}
	return s.repo.SetTwoFA(ctx, id, d.TwoFASecretEnc, true)
}

// RequestPasswordReset emails a 6-digit code. It reports success even for
// unknown addresses so the endpoint does not leak which emails exist.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	d, err := s.repo.GetByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	otp, err := generateOTP()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	pr := &PasswordReset{
		DoctorID:  d.ID,
		OTPHash:   hashOTP(otp),
		ExpiresAt: time.Now().Add(resetOTPTTL),
	}
	if err := s.repo.SavePasswordReset(ctx, pr); err != nil {
		return err
	}

	if err := s.mail.SendTemplate(ctx, d.Email, "password-reset-otp", map[string]string{
		"name":           d.Name,
		"otp":            otp,
		"expiry_minutes": "15",
	}); err != nil {
		s.logger.Error().Err(err).Str("doctor_id", d.ID.String()).Msg("reset email failed")
		return fmt.Errorf("send reset email: %w", err)
	}
	return nil
}

func (s *Service) ConfirmPasswordReset(ctx context.Context, email, otp, newPassword string) error {
	if len(newPassword) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	d, err := s.repo.GetByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err == ErrNotFound {
		return ErrInvalidOTP
	}
	if err != nil {
		return err
	}
	if err := s.repo.ConsumePasswordReset(ctx, d.ID, hashOTP(otp), time.Now()); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.repo.UpdatePassword(ctx, d.ID, string(hash))
}

func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, current, newPassword string) error {
	if len(newPassword) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(d.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.repo.UpdatePassword(ctx, id, string(hash))
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, search string, limit, offset int) ([]*Doctor, int, error) {
	return s.repo.List(ctx, search, limit, offset)
}

type UpdateInput struct {
	Name           *string `json:"name"`
	Phone          *string `json:"phone"`
	Specialization *string `json:"specialization"`
	Qualification  *string `json:"qualification"`
	ClinicName     *string `json:"clinicName"`
	ClinicAddress  *string `json:"clinicAddress"`
}

func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, in UpdateInput) (*Doctor, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil && *in.Name != "" {
		d.Name = *in.Name
	}
	if in.Phone != nil {
		d.Phone = in.Phone
	}
	if in.Specialization != nil {
		d.Specialization = in.Specialization
	}
	if in.Qualification != nil {
		d.Qualification = in.Qualification
	}
	if in.ClinicName != nil {
		d.ClinicName = in.ClinicName
	}
	if in.ClinicAddress != nil {
		d.ClinicAddress = in.ClinicAddress
	}
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Delete removes the doctor and all of their uploaded files. File cleanup
// failures are logged, not fatal; the row is already gone.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	videos, err := s.repo.ListVideos(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	cleanup := func(fileID uuid.UUID) {
		if err := s.files.Delete(ctx, fileID.String()); err != nil && err != blobstore.ErrFileNotFound {
			s.logger.Warn().Err(err).Str("file_id", fileID.String()).Msg("orphaned upload")
		}
	}
	if d.ProfilePhotoID != nil {
		cleanup(*d.ProfilePhotoID)
	}
	if d.SignatureID != nil {
		cleanup(*d.SignatureID)
	}
	for _, v := range videos {
		cleanup(v.FileID)
	}
	return nil
}

func (s *Service) AttachProfilePhoto(ctx context.Context, id uuid.UUID, fileID uuid.UUID) (*Doctor, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.ProfilePhotoID != nil {
		if err := s.files.Delete(ctx, d.ProfilePhotoID.String()); err != nil && err != blobstore.ErrFileNotFound {
			s.logger.Warn().Err(err).Msg("stale profile photo not removed")
		}
	}
	d.ProfilePhotoID = &fileID
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) AttachSignature(ctx context.Context, id uuid.UUID, fileID uuid.UUID) (*Doctor, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.SignatureID != nil {
		if err := s.files.Delete(ctx, d.SignatureID.String()); err != nil && err != blobstore.ErrFileNotFound {
			s.logger.Warn().Err(err).Msg("stale signature not removed")
		}
	}
	d.SignatureID = &fileID
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) AddVideo(ctx context.Context, doctorID uuid.UUID, title string, fileID uuid.UUID) (*Video, error) {
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	v := &Video{DoctorID: doctorID, Title: title, FileID: fileID}
	if err := s.repo.AddVideo(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) GetVideo(ctx context.Context, doctorID, videoID uuid.UUID) (*Video, error) {
	return s.repo.GetVideo(ctx, doctorID, videoID)
}

func (s *Service) ListVideos(ctx context.Context, doctorID uuid.UUID) ([]*Video, error) {
	return s.repo.ListVideos(ctx, doctorID)
}

func (s *Service) DeleteVideo(ctx context.Context, doctorID, videoID uuid.UUID) error {
	v, err := s.repo.GetVideo(ctx, doctorID, videoID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteVideo(ctx, doctorID, videoID); err != nil {
		return err
	}
	if err := s.files.Delete(ctx, v.FileID.String()); err != nil && err != blobstore.ErrFileNotFound {
		s.logger.Warn().Err(err).Str("file_id", v.FileID.String()).Msg("orphaned video file")
	}
	return nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashOTP(otp string) string {
	sum := sha256.Sum256([]byte(otp))
	return hex.EncodeToString(sum[:])
}

func strPtrVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
