package notification

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/doctorcrm/doctorcrm/internal/platform/auth"
)

// AudienceLister resolves every account holding a given role, so a
// broadcast can fan out without this package importing the account
// domains.
type AudienceLister interface {
	IDsByRole(ctx context.Context, role auth.Role) ([]uuid.UUID, error)
}

type Service struct {
	repo     Repository
	audience AudienceLister
	logger   zerolog.Logger
}

func NewService(repo Repository, audience AudienceLister, logger zerolog.Logger) *Service {
	return &Service{repo: repo, audience: audience, logger: logger}
}

type SendInput struct {
	RecipientRole auth.Role
	RecipientID   uuid.UUID
	Title         string
	Body          string
}

func (in *SendInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return errors.New("title is required")
	}
	if in.RecipientID == uuid.Nil {
		return errors.New("recipient is required")
	}
	if _, err := auth.ParseRole(string(in.RecipientRole)); err != nil {
		return errors.New("unknown recipient role")
	}
	return nil
}

func (s *Service) Send(ctx context.Context, in SendInput) (*Notification, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	n := &Notification{
		ID:            uuid.New(),
		RecipientRole: in.RecipientRole,
		RecipientID:   in.RecipientID,
		Title:         strings.TrimSpace(in.Title),
		Body:          strings.TrimSpace(in.Body),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Broadcast delivers the same message to every account holding the role.
// It returns how many notifications were written.
func (s *Service) Broadcast(ctx context.Context, role auth.Role, title, body string) (int, error) {
	if strings.TrimSpace(title) == "" {
		return 0, errors.New("title is required")
	}
	if _, err := auth.ParseRole(string(role)); err != nil {
		return 0, errors.New("unknown recipient role")
	}
	ids, err := s.audience.IDsByRole(ctx, role)
	if err != nil {
		return 0, err
	}
	ns := make([]*Notification, 0, len(ids))
	for _, id := range ids {
		ns = append(ns, &Notification{
			ID:            uuid.New(),
			RecipientRole: role,
			RecipientID:   id,
			Title:         strings.TrimSpace(title),
			Body:          strings.TrimSpace(body),
		})
	}
	if len(ns) == 0 {
		return 0, nil
	}
	if err := s.repo.CreateBatch(ctx, ns); err != nil {
		return 0, err
	}
	return len(ns), nil
}

func (s *Service) List(ctx context.Context, rec Recipient, limit, offset int) ([]*Notification, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByRecipient(ctx, rec, limit, offset)
}

func (s *Service) UnreadCount(ctx context.Context, rec Recipient) (int, error) {
	return s.repo.CountUnread(ctx, rec)
}

func (s *Service) MarkRead(ctx context.Context, rec Recipient, id uuid.UUID) error {
	return s.repo.MarkRead(ctx, rec, id)
}

func (s *Service) MarkAllRead(ctx context.Context, rec Recipient) error {
	return s.repo.MarkAllRead(ctx, rec)
}

func (s *Service) Delete(ctx context.Context, rec Recipient, id uuid.UUID) error {
	return s.repo.Delete(ctx, rec, id)
}
