package pharmacy

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrOwnerNotFound      = errors.New("medical owner not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrMedicineNotFound   = errors.New("medicine not found")
	ErrMedicineNameTaken  = errors.New("medicine already exists in inventory")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrBillNotFound       = errors.New("bill not found")
)

type Repository interface {
	CreateOwner(ctx context.Context, o *MedicalOwner) error
	GetOwnerByID(ctx context.Context, id uuid.UUID) (*MedicalOwner, error)
	GetOwnerByEmail(ctx context.Context, email string) (*MedicalOwner, error)
	UpdateOwner(ctx context.Context, o *MedicalOwner) error

	CreateMedicine(ctx context.Context, m *Medicine) error
	GetMedicine(ctx context.Context, ownerID, id uuid.UUID) (*Medicine, error)
	ListMedicines(ctx context.Context, ownerID uuid.UUID, search string, limit, offset int) ([]*Medicine, int, error)
	UpdateMedicine(ctx context.Context, m *Medicine) error
	DeleteMedicine(ctx context.Context, ownerID, id uuid.UUID) error
	// DecrementStock atomically reduces stock, failing with
	// ErrInsufficientStock when fewer than qty units remain.
	DecrementStock(ctx context.Context, ownerID, id uuid.UUID, qty int) error

	AddBill(ctx context.Context, b *Bill) error
	GetBill(ctx context.Context, ownerID, id uuid.UUID) (*Bill, error)
	ListBills(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Bill, int, error)
	AttachBillPDF(ctx context.Context, billID, fileID uuid.UUID) error
}
