package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound             = errors.New("patient not found")
	ErrPatientIDTaken       = errors.New("patient id already assigned")
	ErrInvalidCredentials   = errors.New("invalid patient id or password")
	ErrReportNotFound       = errors.New("report not found")
	ErrPrescriptionNotFound = errors.New("prescription not found")
	ErrBillNotFound         = errors.New("bill not found")
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByPatientID(ctx context.Context, patientID string) (*Patient, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, search string, limit, offset int) ([]*Patient, int, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error

	AddReport(ctx context.Context, r *Report) error
	GetReport(ctx context.Context, patientID, reportID uuid.UUID) (*Report, error)
	ListReports(ctx context.Context, patientID uuid.UUID) ([]*Report, error)

	AddPrescription(ctx context.Context, p *Prescription) error
	GetPrescription(ctx context.Context, patientID, prescriptionID uuid.UUID) (*Prescription, error)
	ListPrescriptions(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error)
	AttachPrescriptionPDF(ctx context.Context, prescriptionID, fileID uuid.UUID) error

	AddBill(ctx context.Context, b *Bill) error
	GetBill(ctx context.Context, patientID, billID uuid.UUID) (*Bill, error)
	ListBills(ctx context.Context, patientID uuid.UUID) ([]*Bill, error)
	SetBillPaid(ctx context.Context, billID uuid.UUID, paid bool) error
	AttachBillPDF(ctx context.Context, billID, fileID uuid.UUID) error
}
