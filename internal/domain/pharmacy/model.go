package pharmacy

import (
	"time"

	"github.com/google/uuid"
)

// MedicalOwner is a pharmacy operator account. SMTP settings let a shop
// send receipts through its own relay; the password is stored encrypted.
type MedicalOwner struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Email           string    `db:"email" json:"email"`
	PasswordHash    string    `db:"password_hash" json:"-"`
	Phone           *string   `db:"phone" json:"phone,omitempty"`
	ShopName        *string   `db:"shop_name" json:"shopName,omitempty"`
	Address         *string   `db:"address" json:"address,omitempty"`
	UPIID           *string   `db:"upi_id" json:"upiId,omitempty"`
	SMTPHost        *string   `db:"smtp_host" json:"smtpHost,omitempty"`
	SMTPPort        *int      `db:"smtp_port" json:"smtpPort,omitempty"`
	SMTPUsername    *string   `db:"smtp_username" json:"smtpUsername,omitempty"`
	SMTPPasswordEnc *string   `db:"smtp_password_enc" json:"-"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// Medicine is one inventory row. Name is unique per owner.
type Medicine struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	OwnerID      uuid.UUID  `db:"owner_id" json:"ownerId"`
	Name         string     `db:"name" json:"name"`
	Manufacturer *string    `db:"manufacturer" json:"manufacturer,omitempty"`
	BatchNo      *string    `db:"batch_no" json:"batchNo,omitempty"`
	ExpiryDate   *time.Time `db:"expiry_date" json:"expiryDate,omitempty"`
	Price        float64    `db:"price" json:"price"`
	Stock        int        `db:"stock" json:"stock"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
}

// BillItem is one sold line; the list is stored as JSONB on the bill.
type BillItem struct {
	MedicineID uuid.UUID `json:"medicineId"`
	Name       string    `json:"name"`
	Quantity   int       `json:"quantity"`
	UnitPrice  float64   `json:"unitPrice"`
	Amount     float64   `json:"amount"`
}

// Bill is a point-of-sale receipt. Creating one decrements stock in the
// same transaction.
type Bill struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	OwnerID       uuid.UUID  `db:"owner_id" json:"ownerId"`
	BillNo        int64      `db:"bill_no" json:"billNo"`
	CustomerName  string     `db:"customer_name" json:"customerName"`
	CustomerEmail *string    `db:"customer_email" json:"customerEmail,omitempty"`
	Items         []BillItem `db:"items" json:"items"`
	TotalAmount   float64    `db:"total_amount" json:"totalAmount"`
	PDFFileID     *uuid.UUID `db:"pdf_file_id" json:"pdfFileId,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
}
