package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/doctorcrm/doctorcrm/internal/platform/mailer"
	"github.com/doctorcrm/doctorcrm/internal/platform/sequence"
)

// PatientRecord is the slice of the patient roster this package needs for
// ownership checks and confirmation mail.
type PatientRecord struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
	Name     string
	Email    *string
}

// DoctorRecord carries the doctor fields used in outbound mail.
type DoctorRecord struct {
	ID   uuid.UUID
	Name string
}

// Directory resolves patient and doctor identities without coupling this
// package to their repositories.
type Directory interface {
	PatientByID(ctx context.Context, id uuid.UUID) (*PatientRecord, error)
	DoctorByID(ctx context.Context, id uuid.UUID) (*DoctorRecord, error)
}

type Service struct {
	repo    Repository
	dir     Directory
	seq     *sequence.Generator
	mail    *mailer.Mailer
	logger  zerolog.Logger
	timeNow func() time.Time
}

func NewService(repo Repository, dir Directory, seq *sequence.Generator, mail *mailer.Mailer, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		dir:     dir,
		seq:     seq,
		mail:    mail,
		logger:  logger.With().Str("component", "scheduling").Logger(),
		timeNow: time.Now,
	}
}

// SetClock overrides the service clock in tests.
func (s *Service) SetClock(now func() time.Time) { s.timeNow = now }

// BookInput describes a visit booked by the doctor.
type BookInput struct {
	PatientID uuid.UUID `json:"patientId"`
	Date      time.Time `json:"date"`
	TimeSlot  string    `json:"timeSlot"`
	Reason    *string   `json:"reason"`
	Notes     *string   `json:"notes"`
}

func (s *Service) validateSlot(date time.Time, slot string) error {
	if date.IsZero() {
		return fmt.Errorf("date is required")
	}
	today := s.timeNow().Truncate(24 * time.Hour)
	if date.Before(today) {
		return fmt.Errorf("date cannot be in the past")
	}
	if strings.TrimSpace(slot) == "" {
		return fmt.Errorf("time slot is required")
	}
	return nil
}

// Book creates a scheduled appointment on behalf of the doctor. A queue
// token for the day is assigned immediately and the patient is notified by
// email when an address is on file.
func (s *Service) Book(ctx context.Context, doctorID uuid.UUID, in BookInput) (*Appointment, error) {
	if err := s.validateSlot(in.Date, in.TimeSlot); err != nil {
		return nil, err
	}
	p, err := s.ownedPatient(ctx, doctorID, in.PatientID)
	if err != nil {
		return nil, err
	}

	token, err := s.seq.NextTokenNumber(ctx, doctorID.String(), in.Date)
	if err != nil {
		return nil, fmt.Errorf("allocate token number: %w", err)
	}
	a := &Appointment{
		DoctorID:    doctorID,
		PatientID:   in.PatientID,
		Date:        in.Date,
		TimeSlot:    strings.TrimSpace(in.TimeSlot),
		Reason:      in.Reason,
		Status:      StatusScheduled,
		TokenNumber: &token,
		Notes:       in.Notes,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	s.sendConfirmation(ctx, p, a)
	return a, nil
}

// RequestInput describes a visit requested by the patient.
type RequestInput struct {
	Date     time.Time `json:"date"`
	TimeSlot string    `json:"timeSlot"`
	Reason   *string   `json:"reason"`
}

// Request files a pending appointment with the patient's treating doctor.
// No token is assigned until the doctor confirms.
func (s *Service) Request(ctx context.Context, patientID uuid.UUID, in RequestInput) (*Appointment, error) {
	if err := s.validateSlot(in.Date, in.TimeSlot); err != nil {
		return nil, err
	}
	p, err := s.dir.PatientByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	a := &Appointment{
		DoctorID:  p.DoctorID,
		PatientID: patientID,
		Date:      in.Date,
		TimeSlot:  strings.TrimSpace(in.TimeSlot),
		Reason:    in.Reason,
		Status:    StatusPending,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Decide resolves a pending request. Confirming assigns a queue token and
// notifies the patient; rejecting is final.
func (s *Service) Decide(ctx context.Context, doctorID, apptID uuid.UUID, to Status) (*Appointment, error) {
	if to != StatusConfirmed && to != StatusRejected {
		return nil, ErrInvalidTransition
	}
	a, err := s.ownedAppointment(ctx, doctorID, apptID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, to) {
		return nil, ErrInvalidTransition
	}
	if to == StatusConfirmed {
		token, err := s.seq.NextTokenNumber(ctx, doctorID.String(), a.Date)
		if err != nil {
			return nil, fmt.Errorf("allocate token number: %w", err)
		}
		a.TokenNumber = &token
	}
	a.Status = to
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	if to == StatusConfirmed {
		if p, err := s.dir.PatientByID(ctx, a.PatientID); err == nil {
			s.sendConfirmation(ctx, p, a)
		}
	}
	return a, nil
}

// Transition moves a booked appointment to completed or cancelled.
func (s *Service) Transition(ctx context.Context, doctorID, apptID uuid.UUID, to Status) (*Appointment, error) {
	a, err := s.ownedAppointment(ctx, doctorID, apptID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, to) {
		return nil, ErrInvalidTransition
	}
	a.Status = to
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, doctorID, apptID uuid.UUID) (*Appointment, error) {
	return s.ownedAppointment(ctx, doctorID, apptID)
}

func (s *Service) ListForDoctor(ctx context.Context, doctorID uuid.UUID, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByDoctor(ctx, doctorID, f, limit, offset)
}

func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

// DaySummary is the doctor's dashboard view of one day.
type DaySummary struct {
	Date         time.Time      `json:"date"`
	Appointments []*Appointment `json:"appointments"`
	Counts       StatusCounts   `json:"counts"`
}

// Today returns the doctor's appointments and status breakdown for the
// current day.
func (s *Service) Today(ctx context.Context, doctorID uuid.UUID) (*DaySummary, error) {
	day := s.timeNow().Truncate(24 * time.Hour)
	appts, _, err := s.repo.ListByDoctor(ctx, doctorID, ListFilter{Day: day}, 500, 0)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.CountByStatus(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}
	if appts == nil {
		appts = []*Appointment{}
	}
	return &DaySummary{Date: day, Appointments: appts, Counts: counts}, nil
}

func (s *Service) ownedPatient(ctx context.Context, doctorID, patientID uuid.UUID) (*PatientRecord, error) {
	p, err := s.dir.PatientByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if p.DoctorID != doctorID {
		return nil, errors.New("patient is not assigned to this doctor")
	}
	return p, nil
}

func (s *Service) ownedAppointment(ctx context.Context, doctorID, apptID uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, apptID)
	if err != nil {
		return nil, err
	}
	if a.DoctorID != doctorID {
		return nil, ErrNotFound
	}
	return a, nil
}

// sendConfirmation emails the patient; failure only logs.
func (s *Service) sendConfirmation(ctx context.Context, p *PatientRecord, a *Appointment) {
	if p.Email == nil || *p.Email == "" {
		return
	}
	doctorName := ""
	if d, err := s.dir.DoctorByID(ctx, a.DoctorID); err == nil {
		doctorName = d.Name
	}
	token := ""
	if a.TokenNumber != nil {
		token = fmt.Sprintf("%d", *a.TokenNumber)
	}
	if err := s.mail.SendTemplate(ctx, *p.Email, "appointment-confirmation", map[string]string{
		"patient_name": p.Name,
		"doctor_name":  doctorName,
		"date":         a.Date.Format("02 Jan 2006"),
		"time":         a.TimeSlot,
		"token_number": token,
	}); err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).
			Msg("failed to send appointment confirmation")
	}
}
