package pharmacy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/doctorcrm/doctorcrm/internal/platform/auth"
	"github.com/doctorcrm/doctorcrm/internal/platform/blobstore"
	"github.com/doctorcrm/doctorcrm/internal/platform/mailer"
	"github.com/doctorcrm/doctorcrm/internal/platform/pdfgen"
	"github.com/doctorcrm/doctorcrm/internal/platform/secrets"
	"github.com/doctorcrm/doctorcrm/internal/platform/sequence"
)

// TxRunner executes fn inside a database transaction. The injected context
// carries the transaction so repository calls within fn join it.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Service implements pharmacy operations: owner accounts, inventory, and
// point-of-sale billing.
type Service struct {
	repo   Repository
	tokens *auth.TokenService
	cipher *secrets.Cipher
	seq    *sequence.Generator
	files  blobstore.Store
	pdf    pdfgen.Renderer
	mail   *mailer.Mailer
	runTx  TxRunner
	logger zerolog.Logger

	// newSender builds a mailer for an owner's private SMTP relay;
	// swapped out in tests.
	newSender func(cfg mailer.SMTPConfig) mailer.Sender
}

func NewService(
	repo Repository,
	tokens *auth.TokenService,
	cipher *secrets.Cipher,
	seq *sequence.Generator,
	files blobstore.Store,
	pdf pdfgen.Renderer,
	mail *mailer.Mailer,
	runTx TxRunner,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:   repo,
		tokens: tokens,
		cipher: cipher,
		seq:    seq,
		files:  files,
		pdf:    pdf,
		mail:   mail,
		runTx:  runTx,
		logger: logger.With().Str("component", "pharmacy").Logger(),
		newSender: func(cfg mailer.SMTPConfig) mailer.Sender {
			return mailer.NewSMTPSender(cfg)
		},
	}
}

// Resolve backs the auth middleware for the medical owner role.
func (s *Service) Resolve(ctx context.Context, subject string) (interface{}, error) {
	id, err := uuid.Parse(subject)
	if err != nil {
		return nil, nil
	}
	o, err := s.repo.GetOwnerByID(ctx, id)
	if errors.Is(err, ErrOwnerNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// RegisterInput carries self-service owner signup fields.
type RegisterInput struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Phone    *string `json:"phone"`
	ShopName *string `json:"shopName"`
	Address  *string `json:"address"`
	UPIID    *string `json:"upiId"`
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*MedicalOwner, error) {
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
	o := &MedicalOwner{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: string(hash),
		Phone:        in.Phone,
		ShopName:     in.ShopName,
		Address:      in.Address,
		UPIID:        in.UPIID,
	}
	if err := s.repo.CreateOwner(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*MedicalOwner, *auth.TokenPair, error) {
	o, err := s.repo.GetOwnerByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrOwnerNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(o.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}
	pair, err := s.tokens.IssuePair(ctx, o.ID.String(), auth.RoleMedicalOwner)
	if err != nil {
		return nil, nil, err
	}
	return o, pair, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (*MedicalOwner, *auth.TokenPair, error) {
	subject, pair, err := s.tokens.Rotate(ctx, refreshToken, auth.RoleMedicalOwner)
	if err != nil {
		return nil, nil, err
	}
	id, err := uuid.Parse(subject)
	if err != nil {
		return nil, nil, auth.ErrInvalidToken
	}
	o, err := s.repo.GetOwnerByID(ctx, id)
	if errors.Is(err, ErrOwnerNotFound) {
		return nil, nil, auth.ErrInvalidToken
	}
	if err != nil {
		return nil, nil, err
	}
	return o, pair, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.tokens.Revoke(ctx, refreshToken)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*MedicalOwner, error) {
	return s.repo.GetOwnerByID(ctx, id)
}

// ProfileInput carries optional profile changes; nil fields are untouched.
type ProfileInput struct {
	Name     *string `json:"name"`
	Phone    *string `json:"phone"`
	ShopName *string `json:"shopName"`
	Address  *string `json:"address"`
	UPIID    *string `json:"upiId"`
}

func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileInput) (*MedicalOwner, error) {
	o, err := s.repo.GetOwnerByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("name cannot be empty")
		}
		o.Name = name
	}
	if in.Phone != nil {
		o.Phone = in.Phone
	}
	if in.ShopName != nil {
		o.ShopName = in.ShopName
	}
	if in.Address != nil {
		o.Address = in.Address
	}
	if in.UPIID != nil {
		o.UPIID = in.UPIID
	}
	if err := s.repo.UpdateOwner(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// SMTPInput configures the owner's outbound mail relay. The password is
// encrypted before it touches the database.
type SMTPInput struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Service) ConfigureSMTP(ctx context.Context, id uuid.UUID, in SMTPInput) error {
	if strings.TrimSpace(in.Host) == "" || in.Port <= 0 {
		return fmt.Errorf("host and port are required")
	}
	o, err := s.repo.GetOwnerByID(ctx, id)
	if err != nil {
		return err
	}
	enc, err := s.cipher.Encrypt(in.Password)
	if err != nil {
		return fmt.Errorf("encrypt smtp password: %w", err)
	}
	o.SMTPHost = &in.Host
	o.SMTPPort = &in.Port
	o.SMTPUsername = &in.Username
	o.SMTPPasswordEnc = &enc
	return s.repo.UpdateOwner(ctx, o)
}

// MedicineInput describes one inventory row.
type MedicineInput struct {
	Name         string     `json:"name"`
	Manufacturer *string    `json:"manufacturer"`
	BatchNo      *string    `json:"batchNo"`
	ExpiryDate   *time.Time `json:"expiryDate"`
	Price        float64    `json:"price"`
	Stock        int        `json:"stock"`
}

func (in *MedicineInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return fmt.Errorf("name is required")
	}
	if in.Price < 0 {
		return fmt.Errorf("price cannot be negative")
	}
	if in.Stock < 0 {
		return fmt.Errorf("stock cannot be negative")
	}
	return nil
}

func (s *Service) AddMedicine(ctx context.Context, ownerID uuid.UUID, in MedicineInput) (*Medicine, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	m := &Medicine{
		OwnerID:      ownerID,
		Name:         in.Name,
		Manufacturer: in.Manufacturer,
		BatchNo:      in.BatchNo,
		ExpiryDate:   in.ExpiryDate,
		Price:        in.Price,
		Stock:        in.Stock,
	}
	if err := s.repo.CreateMedicine(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ImportResult reports the outcome of a batch inventory import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Errors   []string `json:"errors,omitempty"`
}

// ImportMedicines loads a JSON batch of inventory rows. Rows that fail
// validation or collide with existing names are reported, not fatal.
func (s *Service) ImportMedicines(ctx context.Context, ownerID uuid.UUID, items []MedicineInput) (*ImportResult, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("import batch is empty")
	}
	result := &ImportResult{}
	for i, in := range items {
		if _, err := s.AddMedicine(ctx, ownerID, in); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d (%s): %v", i+1, in.Name, err))
			continue
		}
		result.Imported++
	}
	return result, nil
}

func (s *Service) GetMedicine(ctx context.Context, ownerID, id uuid.UUID) (*Medicine, error) {
	return s.repo.GetMedicine(ctx, ownerID, id)
}

func (s *Service) ListMedicines(ctx context.Context, ownerID uuid.UUID, search string, limit, offset int) ([]*Medicine, int, error) {
	return s.repo.ListMedicines(ctx, ownerID, search, limit, offset)
}

func (s *Service) UpdateMedicine(ctx context.Context, ownerID, id uuid.UUID, in MedicineInput) (*Medicine, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	m, err := s.repo.GetMedicine(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	m.Name = in.Name
	m.Manufacturer = in.Manufacturer
	m.BatchNo = in.BatchNo
	m.ExpiryDate = in.ExpiryDate
	m.Price = in.Price
	m.Stock = in.Stock
	if err := s.repo.UpdateMedicine(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) DeleteMedicine(ctx context.Context, ownerID, id uuid.UUID) error {
	return s.repo.DeleteMedicine(ctx, ownerID, id)
}

// SaleItem is one requested line of a sale.
type SaleItem struct {
	MedicineID uuid.UUID `json:"medicineId"`
	Quantity   int       `json:"quantity"`
}

// SaleInput describes a point-of-sale transaction.
type SaleInput struct {
	CustomerName  string     `json:"customerName"`
	CustomerEmail *string    `json:"customerEmail"`
	Items         []SaleItem `json:"items"`
}

// Sell creates a bill and decrements stock atomically: either every line
// has stock and the bill exists, or nothing changed. Receipt PDF and email
// happen after commit and are best effort.
func (s *Service) Sell(ctx context.Context, ownerID uuid.UUID, in SaleInput) (*Bill, error) {
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	if in.CustomerName == "" {
		return nil, fmt.Errorf("customer name is required")
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("sale needs at least one item")
	}
	for i, item := range in.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("item %d has a non-positive quantity", i+1)
		}
	}

	billNo, err := s.seq.NextPharmacyBillNo(ctx, ownerID.String())
	if err != nil {
		return nil, fmt.Errorf("allocate bill number: %w", err)
	}

	bill := &Bill{
		OwnerID:       ownerID,
		BillNo:        billNo,
		CustomerName:  in.CustomerName,
		CustomerEmail: in.CustomerEmail,
	}
	err = s.runTx(ctx, func(ctx context.Context) error {
		for _, item := range in.Items {
			m, err := s.repo.GetMedicine(ctx, ownerID, item.MedicineID)
			if err != nil {
				return err
			}
			if err := s.repo.DecrementStock(ctx, ownerID, item.MedicineID, item.Quantity); err != nil {
				return err
			}
			amount := m.Price * float64(item.Quantity)
			bill.Items = append(bill.Items, BillItem{
				MedicineID: m.ID,
				Name:       m.Name,
				Quantity:   item.Quantity,
				UnitPrice:  m.Price,
				Amount:     amount,
			})
			bill.TotalAmount += amount
		}
		return s.repo.AddBill(ctx, bill)
	})
	if err != nil {
		return nil, err
	}

	owner, err := s.repo.GetOwnerByID(ctx, ownerID)
	if err != nil {
		return bill, nil
	}
	if fileID, err := s.renderReceiptPDF(ctx, owner, bill); err != nil {
		s.logger.Warn().Err(err).Str("bill_id", bill.ID.String()).
			Msg("receipt pdf generation failed")
	} else {
		bill.PDFFileID = &fileID
		if err := s.repo.AttachBillPDF(ctx, bill.ID, fileID); err != nil {
			s.logger.Warn().Err(err).Str("bill_id", bill.ID.String()).
				Msg("failed to attach receipt pdf")
			bill.PDFFileID = nil
		}
	}
	s.sendReceipt(ctx, owner, bill)
	return bill, nil
}

func (s *Service) renderReceiptPDF(ctx context.Context, owner *MedicalOwner, bill *Bill) (uuid.UUID, error) {
	shop := owner.Name
	if owner.ShopName != nil {
		shop = *owner.ShopName
	}
	doc := pdfgen.Document{
		Title: fmt.Sprintf("%s  Bill #%d", shop, bill.BillNo),
		Lines: []pdfgen.Line{
			{Text: "Customer: " + bill.CustomerName, Bold: true},
			{Text: ""},
		},
	}
	for _, item := range bill.Items {
		doc.Lines = append(doc.Lines, pdfgen.Line{
			Text: fmt.Sprintf("%s  x%d @ %.2f  %.2f", item.Name, item.Quantity, item.UnitPrice, item.Amount),
		})
	}
	doc.Lines = append(doc.Lines,
		pdfgen.Line{Text: ""},
		pdfgen.Line{Text: fmt.Sprintf("Total: %.2f", bill.TotalAmount), Bold: true},
	)
	pdf, err := s.pdf.Render(doc)
	if err != nil {
		return uuid.Nil, err
	}
	meta, err := s.files.Save(ctx, blobstore.FileMetadata{
		FileName:    fmt.Sprintf("pharmacy-bill-%d.pdf", bill.BillNo),
		ContentType: "application/pdf",
		OwnerID:     owner.ID.String(),
		Category:    "report",
	}, bytes.NewReader(pdf))
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(meta.ID)
}

// sendReceipt emails the customer, preferring the owner's private SMTP
// relay when one is configured. Failure only logs.
func (s *Service) sendReceipt(ctx context.Context, owner *MedicalOwner, bill *Bill) {
	if bill.CustomerEmail == nil || *bill.CustomerEmail == "" {
		return
	}
	m := s.mail
	if sender := s.ownerSender(owner); sender != nil {
		m = mailer.New(sender)
	}
	if err := m.SendTemplate(ctx, *bill.CustomerEmail, "bill-receipt", map[string]string{
		"patient_name": bill.CustomerName,
		"bill_no":      fmt.Sprintf("%d", bill.BillNo),
		"amount":       fmt.Sprintf("%.2f", bill.TotalAmount),
	}); err != nil {
		s.logger.Warn().Err(err).Str("bill_id", bill.ID.String()).
			Msg("failed to send pharmacy receipt")
	}
}

// ownerSender builds a sender from the owner's stored SMTP settings, or nil
// when the owner has none.
func (s *Service) ownerSender(owner *MedicalOwner) mailer.Sender {
	if owner.SMTPHost == nil || owner.SMTPPort == nil {
		return nil
	}
	cfg := mailer.SMTPConfig{
		Host: *owner.SMTPHost,
		Port: *owner.SMTPPort,
		From: owner.Email,
	}
	if owner.SMTPUsername != nil {
		cfg.Username = *owner.SMTPUsername
	}
	if owner.SMTPPasswordEnc != nil {
		password, err := s.cipher.Decrypt(*owner.SMTPPasswordEnc)
		if err != nil {
			s.logger.Warn().Err(err).Str("owner_id", owner.ID.String()).
				Msg("failed to decrypt smtp password")
			return nil
		}
		cfg.Password = password
	}
	return s.newSender(cfg)
}

func (s *Service) GetBill(ctx context.Context, ownerID, id uuid.UUID) (*Bill, error) {
	return s.repo.GetBill(ctx, ownerID, id)
}

func (s *Service) ListBills(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Bill, int, error) {
	return s.repo.ListBills(ctx, ownerID, limit, offset)
}

// QRPayload builds a UPI payment URI for a bill; scanning it pre-fills the
// shop's UPI id and the bill total.
func (s *Service) QRPayload(ctx context.Context, ownerID, billID uuid.UUID) (string, error) {
	owner, err := s.repo.GetOwnerByID(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if owner.UPIID == nil || *owner.UPIID == "" {
		return "", fmt.Errorf("no UPI id configured")
	}
	bill, err := s.repo.GetBill(ctx, ownerID, billID)
	if err != nil {
		return "", err
	}
	name := owner.Name
	if owner.ShopName != nil {
		name = *owner.ShopName
	}
	q := url.Values{}
	q.Set("pa", *owner.UPIID)
	q.Set("pn", name)
	q.Set("am", fmt.Sprintf("%.2f", bill.TotalAmount))
	q.Set("cu", "INR")
	q.Set("tn", fmt.Sprintf("Bill %d", bill.BillNo))
	return "upi://pay?" + q.Encode(), nil
}
