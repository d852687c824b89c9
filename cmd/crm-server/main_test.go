package main

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/doctorcrm/doctorcrm/internal/domain/chat"
	"github.com/doctorcrm/doctorcrm/internal/domain/doctor"
	"github.com/doctorcrm/doctorcrm/internal/domain/patient"
	"github.com/doctorcrm/doctorcrm/internal/domain/scheduling"
)

// The fakes embed the repository interfaces so only the lookups the
// adapters touch need implementations.

type fakePatientRepo struct {
	patient.Repository
	byID map[uuid.UUID]*patient.Patient
}

func (f *fakePatientRepo) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

type fakeDoctorRepo struct {
	doctor.Repository
	byID map[uuid.UUID]*doctor.Doctor
}

func (f *fakeDoctorRepo) GetByID(_ context.Context, id uuid.UUID) (*doctor.Doctor, error) {
	d, ok := f.byID[id]
	if !ok {
		return nil, doctor.ErrNotFound
	}
	return d, nil
}

func TestRootCommandHasSeedAdmin(t *testing.T) {
	root := newRootCmd()

	var seed bool
	for _, c := range root.Commands() {
		if c.Name() == "seed-admin" {
			seed = true
			for _, flag := range []string{"name", "email", "password"} {
				if c.Flags().Lookup(flag) == nil {
					t.Errorf("seed-admin missing --%s flag", flag)
				}
			}
		}
	}
	if !seed {
		t.Fatal("seed-admin command not registered")
	}
}

func TestDirectoryAdapter(t *testing.T) {
	doctorID := uuid.New()
	patientID := uuid.New()
	email := "asha@example.com"

	dir := &directoryAdapter{
		patients: &fakePatientRepo{byID: map[uuid.UUID]*patient.Patient{
			patientID: {ID: patientID, DoctorID: doctorID, Name: "Asha Rao", Email: &email},
		}},
		doctors: &fakeDoctorRepo{byID: map[uuid.UUID]*doctor.Doctor{
			doctorID: {ID: doctorID, Name: "Dr. Mehta"},
		}},
	}
	ctx := context.Background()

	p, err := dir.PatientByID(ctx, patientID)
	if err != nil {
		t.Fatalf("PatientByID: %v", err)
	}
	if p.DoctorID != doctorID || p.Name != "Asha Rao" || p.Email == nil || *p.Email != email {
		t.Errorf("patient record mismatch: %+v", p)
	}

	d, err := dir.DoctorByID(ctx, doctorID)
	if err != nil {
		t.Fatalf("DoctorByID: %v", err)
	}
	if d.Name != "Dr. Mehta" {
		t.Errorf("doctor record mismatch: %+v", d)
	}

	if _, err := dir.PatientByID(ctx, uuid.New()); !errors.Is(err, scheduling.ErrNotFound) {
		t.Errorf("missing patient: got %v, want scheduling.ErrNotFound", err)
	}
	if _, err := dir.DoctorByID(ctx, uuid.New()); !errors.Is(err, scheduling.ErrNotFound) {
		t.Errorf("missing doctor: got %v, want scheduling.ErrNotFound", err)
	}
}

func TestRosterAdapter(t *testing.T) {
	doctorID := uuid.New()
	patientID := uuid.New()

	roster := &rosterAdapter{
		patients: &fakePatientRepo{byID: map[uuid.UUID]*patient.Patient{
			patientID: {ID: patientID, DoctorID: doctorID, Name: "Asha Rao"},
		}},
	}
	ctx := context.Background()

	got, err := roster.TreatingDoctor(ctx, patientID)
	if err != nil {
		t.Fatalf("TreatingDoctor: %v", err)
	}
	if got != doctorID {
		t.Errorf("TreatingDoctor = %s, want %s", got, doctorID)
	}

	if _, err := roster.TreatingDoctor(ctx, uuid.New()); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("missing patient: got %v, want chat.ErrNotFound", err)
	}
}
