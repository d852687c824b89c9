package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken covers every verification failure: malformed token,
	// wrong signature, expired, or a refresh token that has already been
	// consumed. Callers translate it to a 401 without distinguishing.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// AccessClaims are the claims embedded in a short-lived access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// refreshClaims carry only the subject; the role is re-resolved at rotation
// time so a stale role claim can never outlive a role change.
type refreshClaims struct {
	jwt.RegisteredClaims
}

// TokenPair is the result of a login or a successful rotation.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Config holds the signing material and lifetimes for the token service.
// Secrets are passed in explicitly so tests can run with isolated keys.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// RefreshTokenStore persists refresh-token digests. Raw token values never
// reach the store.
type RefreshTokenStore interface {
	// Save records a newly issued token digest for the subject.
	Save(ctx context.Context, subject, tokenHash string, expiresAt time.Time) error
	// Consume atomically marks the matching non-revoked, non-expired digest
	// revoked. It must behave as a single conditional transition: when two
	// calls race on the same digest, exactly one succeeds and the other
	// returns ErrInvalidToken.
	Consume(ctx context.Context, subject, tokenHash string) error
	// Revoke marks the matching digest revoked. A missing digest is treated
	// as already revoked, not an error.
	Revoke(ctx context.Context, tokenHash string) error
}

// TokenService mints and validates access and refresh tokens (HS256).
type TokenService struct {
	cfg   Config
	store RefreshTokenStore
	now   func() time.Time
}

func NewTokenService(cfg Config, store RefreshTokenStore) *TokenService {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &TokenService{cfg: cfg, store: store, now: time.Now}
}

// SetClock overrides the service clock; for tests.
func (s *TokenService) SetClock(now func() time.Time) { s.now = now }

// RefreshTTL returns the configured refresh-token lifetime, used by handlers
// to set the cookie max-age.
func (s *TokenService) RefreshTTL() time.Duration { return s.cfg.RefreshTTL }

// IssueAccessToken returns a signed, stateless access token embedding the
// subject and role.
func (s *TokenService) IssueAccessToken(subject string, role Role) (string, error) {
	now := s.now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
			ID:        uuid.NewString(),
		},
		Role: string(role),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.AccessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// IssueRefreshToken returns a signed refresh token and persists its SHA-256
// digest. The raw token value is never stored.
func (s *TokenService) IssueRefreshToken(ctx context.Context, subject string) (string, error) {
	now := s.now()
	claims := refreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.RefreshTTL)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.RefreshSecret)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}
	if err := s.store.Save(ctx, subject, hashToken(signed), now.Add(s.cfg.RefreshTTL)); err != nil {
		return "", fmt.Errorf("save refresh token: %w", err)
	}
	return signed, nil
}

// IssuePair mints an access+refresh pair for a freshly authenticated subject.
func (s *TokenService) IssuePair(ctx context.Context, subject string, role Role) (*TokenPair, error) {
	access, err := s.IssueAccessToken(subject, role)
	if err != nil {
		return nil, err
	}
	refresh, err := s.IssueRefreshToken(ctx, subject)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// ParseAccessToken verifies signature and expiry and returns the claims.
func (s *TokenService) ParseAccessToken(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) { return s.cfg.AccessSecret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Rotate implements rotate-on-use. The presented refresh token is verified,
// its stored digest is atomically consumed, and a fresh pair is minted. A
// replayed or already-consumed token fails with ErrInvalidToken, so a stolen
// refresh token can be used at most once before detection.
func (s *TokenService) Rotate(ctx context.Context, presented string, role Role) (string, *TokenPair, error) {
	claims := &refreshClaims{}
	parsed, err := jwt.ParseWithClaims(presented, claims,
		func(t *jwt.Token) (interface{}, error) { return s.cfg.RefreshSecret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", nil, ErrInvalidToken
	}

	if err := s.store.Consume(ctx, claims.Subject, hashToken(presented)); err != nil {
		return "", nil, ErrInvalidToken
	}

	pair, err := s.IssuePair(ctx, claims.Subject, role)
	if err != nil {
		return "", nil, err
	}
	return claims.Subject, pair, nil
}

// Revoke marks the presented token's digest revoked. An empty value and an
// unknown digest are both no-ops: logout is idempotent.
func (s *TokenService) Revoke(ctx context.Context, presented string) error {
	if presented == "" {
		return nil
	}
	return s.store.Revoke(ctx, hashToken(presented))
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
