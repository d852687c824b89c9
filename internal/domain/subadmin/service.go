package subadmin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/doctorcrm/doctorcrm/internal/platform/auth"
)

type Service struct {
	repo   Repository
	tokens *auth.TokenService
}

func NewService(repo Repository, tokens *auth.TokenService) *Service {
	return &Service{repo: repo, tokens: tokens}
}

// Resolve backs the auth middleware for the sub-admin role.
func (s *Service) Resolve(ctx context.Context, subject string) (interface{}, error) {
	id, err := uuid.Parse(subject)
	if err != nil {
		return nil, nil
	}
	a, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// RegisterInput carries sub-admin account fields.
type RegisterInput struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Phone    *string `json:"phone"`
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*SubAdmin, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
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
	a := &SubAdmin{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: string(hash),
		Phone:        in.Phone,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*SubAdmin, *auth.TokenPair, error) {
	a, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}
	pair, err := s.tokens.IssuePair(ctx, a.ID.String(), auth.RoleSubAdmin)
	if err != nil {
		return nil, nil, err
	}
	return a, pair, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (*SubAdmin, *auth.TokenPair, error) {
	subject, pair, err := s.tokens.Rotate(ctx, refreshToken, auth.RoleSubAdmin)
	if err != nil {
		return nil, nil, err
	}
	id, err := uuid.Parse(subject)
	if err != nil {
		return nil, nil, auth.ErrInvalidToken
	}
	a, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, auth.ErrInvalidToken
	}
	if err != nil {
		return nil, nil, err
	}
	return a, pair, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.tokens.Revoke(ctx, refreshToken)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*SubAdmin, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*SubAdmin, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// UpdateInput carries optional profile changes; nil fields are untouched.
type UpdateInput struct {
	Name  *string `json:"name"`
	Phone *string `json:"phone"`
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*SubAdmin, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("name cannot be empty")
		}
		a.Name = name
	}
	if in.Phone != nil {
		a.Phone = in.Phone
	}
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}
