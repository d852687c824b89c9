package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/doctorcrm/doctorcrm/internal/platform/auth"
)

const maxBodyLen = 4000

var ErrEmptyMessage = errors.New("message body is required")

// Roster answers who treats a patient. Chat threads only exist between a
// patient and their own doctor, so every send and fetch is checked
// against it.
type Roster interface {
	TreatingDoctor(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error)
}

type Service struct {
	repo   Repository
	roster Roster
	logger zerolog.Logger
}

func NewService(repo Repository, roster Roster, logger zerolog.Logger) *Service {
	return &Service{repo: repo, roster: roster, logger: logger}
}

func validateBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyMessage
	}
	if len(body) > maxBodyLen {
		return "", errors.New("message body too long")
	}
	return body, nil
}

// threadDoctor resolves and authorizes the thread for a patient. The
// patient's treating doctor is the only counterparty they can talk to.
func (s *Service) threadDoctor(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error) {
	doctorID, err := s.roster.TreatingDoctor(ctx, patientID)
	if err != nil {
		return uuid.Nil, err
	}
	if doctorID == uuid.Nil {
		return uuid.Nil, ErrNotFound
	}
	return doctorID, nil
}

func (s *Service) SendFromDoctor(ctx context.Context, doctorID, patientID uuid.UUID, body string) (*Message, error) {
	body, err := validateBody(body)
	if err != nil {
		return nil, err
	}
	treating, err := s.threadDoctor(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if treating != doctorID {
		return nil, ErrNotFound
	}
	m := &Message{
		ID:         uuid.New(),
		DoctorID:   doctorID,
		PatientID:  patientID,
		SenderRole: auth.RoleDoctor,
		Body:       body,
	}
	if err := s.repo.Add(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) SendFromPatient(ctx context.Context, patientID uuid.UUID, body string) (*Message, error) {
	body, err := validateBody(body)
	if err != nil {
		return nil, err
	}
	doctorID, err := s.threadDoctor(ctx, patientID)
	if err != nil {
		return nil, err
	}
	m := &Message{
		ID:         uuid.New(),
		DoctorID:   doctorID,
		PatientID:  patientID,
		SenderRole: auth.RolePatient,
		Body:       body,
	}
	if err := s.repo.Add(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) ThreadForDoctor(ctx context.Context, doctorID, patientID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	treating, err := s.threadDoctor(ctx, patientID)
	if err != nil {
		return nil, 0, err
	}
	if treating != doctorID {
		return nil, 0, ErrNotFound
	}
	return s.repo.ListThread(ctx, doctorID, patientID, clampLimit(limit), clampOffset(offset))
}

func (s *Service) ThreadForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	doctorID, err := s.threadDoctor(ctx, patientID)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.ListThread(ctx, doctorID, patientID, clampLimit(limit), clampOffset(offset))
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 50
	}
	return limit
}

func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
