package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. PatientID is the human-readable
// identifier (PAT<YYYYMMDD><NNNN>) used for login; ID is the row key.
type Patient struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PatientID      string    `db:"patient_id" json:"patientId"`
	DoctorID       uuid.UUID `db:"doctor_id" json:"doctorId"`
	Name           string    `db:"name" json:"name"`
	PasswordHash   string    `db:"password_hash" json:"-"`
	Email          *string   `db:"email" json:"email,omitempty"`
	Age            *int      `db:"age" json:"age,omitempty"`
	Gender         *string   `db:"gender" json:"gender,omitempty"`
	Phone          *string   `db:"phone" json:"phone,omitempty"`
	Address        *string   `db:"address" json:"address,omitempty"`
	BloodGroup     *string   `db:"blood_group" json:"bloodGroup,omitempty"`
	MedicalHistory *string   `db:"medical_history" json:"medicalHistory,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Report is a doctor-written finding, optionally with an uploaded document.
type Report struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	PatientID  uuid.UUID  `db:"patient_id" json:"patientId"`
	DoctorID   uuid.UUID  `db:"doctor_id" json:"doctorId"`
	Title      string     `db:"title" json:"title"`
	Findings   string     `db:"findings" json:"findings"`
	ReportDate time.Time  `db:"report_date" json:"reportDate"`
	FileID     *uuid.UUID `db:"file_id" json:"fileId,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}

// Prescription is immutable once issued; the generated PDF is attached
// after the fact when rendering succeeds.
type Prescription struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	PatientID  uuid.UUID  `db:"patient_id" json:"patientId"`
	DoctorID   uuid.UUID  `db:"doctor_id" json:"doctorId"`
	Medication string     `db:"medication" json:"medication"`
	Dosage     string     `db:"dosage" json:"dosage"`
	Duration   string     `db:"duration" json:"duration"`
	Notes      *string    `db:"notes" json:"notes,omitempty"`
	IssuedAt   time.Time  `db:"issued_at" json:"issuedAt"`
	PDFFileID  *uuid.UUID `db:"pdf_file_id" json:"pdfFileId,omitempty"`
}

// BillItem is one line of a bill; the list is stored as JSONB.
type BillItem struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// Bill is immutable once created except for its payment status.
type Bill struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patientId"`
	DoctorID    uuid.UUID  `db:"doctor_id" json:"doctorId"`
	BillNo      int64      `db:"bill_no" json:"billNo"`
	Items       []BillItem `db:"items" json:"items"`
	TotalAmount float64    `db:"total_amount" json:"totalAmount"`
	Paid        bool       `db:"paid" json:"paid"`
	PDFFileID   *uuid.UUID `db:"pdf_file_id" json:"pdfFileId,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}
