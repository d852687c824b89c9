package patient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/doctorcrm/doctorcrm/internal/platform/auth"
	"github.com/doctorcrm/doctorcrm/internal/platform/blobstore"
	"github.com/doctorcrm/doctorcrm/internal/platform/mailer"
	"github.com/doctorcrm/doctorcrm/internal/platform/pdfgen"
	"github.com/doctorcrm/doctorcrm/internal/platform/sequence"
)

// Service implements patient management for doctors and the read-only
// self-service surface exposed to patients.
type Service struct {
	repo    Repository
	tokens  *auth.TokenService
	seq     *sequence.Generator
	files   blobstore.Store
	pdf     pdfgen.Renderer
	mail    *mailer.Mailer
	logger  zerolog.Logger
	timeNow func() time.Time
}

func NewService(
	repo Repository,
	tokens *auth.TokenService,
	seq *sequence.Generator,
	files blobstore.Store,
	pdf pdfgen.Renderer,
	mail *mailer.Mailer,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:    repo,
		tokens:  tokens,
		seq:     seq,
		files:   files,
		pdf:     pdf,
		mail:    mail,
		logger:  logger.With().Str("component", "patient").Logger(),
		timeNow: time.Now,
	}
}

// SetClock overrides the service clock in tests.
func (s *Service) SetClock(now func() time.Time) { s.timeNow = now }

// Resolve reports whether the token subject still maps to a live patient.
// It backs the auth middleware for the patient role.
func (s *Service) Resolve(ctx context.Context, subject string) (interface{}, error) {
	id, err := uuid.Parse(subject)
	if err != nil {
		return nil, nil
	}
	p, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreateInput carries the fields a doctor supplies when registering a
// patient. The PAT identifier is generated, never supplied.
type CreateInput struct {
	Name           string  `json:"name"`
	Password       string  `json:"password"`
	Email          *string `json:"email"`
	Age            *int    `json:"age"`
	Gender         *string `json:"gender"`
	Phone          *string `json:"phone"`
	Address        *string `json:"address"`
	BloodGroup     *string `json:"bloodGroup"`
	MedicalHistory *string `json:"medicalHistory"`
}

func (s *Service) Create(ctx context.Context, doctorID uuid.UUID, in CreateInput) (*Patient, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	p := &Patient{
		DoctorID:       doctorID,
		Name:           in.Name,
		PasswordHash:   string(hash),
		Email:          in.Email,
		Age:            in.Age,
		Gender:         in.Gender,
		Phone:          in.Phone,
		Address:        in.Address,
		BloodGroup:     in.BloodGroup,
		MedicalHistory: in.MedicalHistory,
	}

	// The counter makes collisions nearly impossible, but a concurrent
	// restore of an old counters row can still race. One retry with a
	// fresh number covers it.
	for attempt := 0; attempt < 2; attempt++ {
		p.PatientID, err = s.seq.NextPatientID(ctx)
		if err != nil {
			return nil, fmt.Errorf("allocate patient id: %w", err)
		}
		err = s.repo.Create(ctx, p)
		if !errors.Is(err, ErrPatientIDTaken) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Login authenticates by PAT identifier and returns a short-lived access
// token. Patients do not get refresh tokens; they sign in per session.
func (s *Service) Login(ctx context.Context, patientID, password string) (string, *Patient, error) {
	patientID = strings.TrimSpace(strings.ToUpper(patientID))
	p, err := s.repo.GetByPatientID(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.tokens.IssueAccessToken(p.ID.String(), auth.RolePatient)
	if err != nil {
		return "", nil, err
	}
	return token, p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// GetForDoctor fetches a patient and enforces that it belongs to the
// requesting doctor.
func (s *Service) GetForDoctor(ctx context.Context, doctorID, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.DoctorID != doctorID {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, doctorID uuid.UUID, search string, limit, offset int) ([]*Patient, int, error) {
	return s.repo.ListByDoctor(ctx, doctorID, strings.TrimSpace(search), limit, offset)
}

// UpdateInput carries optional profile changes; nil fields are untouched.
type UpdateInput struct {
	Name           *string `json:"name"`
	Email          *string `json:"email"`
	Age            *int    `json:"age"`
	Gender         *string `json:"gender"`
	Phone          *string `json:"phone"`
	Address        *string `json:"address"`
	BloodGroup     *string `json:"bloodGroup"`
	MedicalHistory *string `json:"medicalHistory"`
}

func (s *Service) Update(ctx context.Context, doctorID, id uuid.UUID, in UpdateInput) (*Patient, error) {
	p, err := s.GetForDoctor(ctx, doctorID, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("name cannot be empty")
		}
		p.Name = name
	}
	if in.Email != nil {
		p.Email = in.Email
	}
	if in.Age != nil {
		p.Age = in.Age
	}
	if in.Gender != nil {
		p.Gender = in.Gender
	}
	if in.Phone != nil {
		p.Phone = in.Phone
	}
	if in.Address != nil {
		p.Address = in.Address
	}
	if in.BloodGroup != nil {
		p.BloodGroup = in.BloodGroup
	}
	if in.MedicalHistory != nil {
		p.MedicalHistory = in.MedicalHistory
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// SelfUpdateInput is the slice of the profile a patient may change about
// themselves. Clinical fields stay doctor-only.
type SelfUpdateInput struct {
	Email   *string `json:"email"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
}

func (s *Service) UpdateSelf(ctx context.Context, id uuid.UUID, in SelfUpdateInput) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Email != nil {
		p.Email = in.Email
	}
	if in.Phone != nil {
		p.Phone = in.Phone
	}
	if in.Address != nil {
		p.Address = in.Address
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Delete(ctx context.Context, doctorID, id uuid.UUID) error {
	if _, err := s.GetForDoctor(ctx, doctorID, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// ReportInput is a doctor-written report, optionally referencing an
// uploaded document.
type ReportInput struct {
	Title      string     `json:"title"`
	Findings   string     `json:"findings"`
	ReportDate time.Time  `json:"reportDate"`
	FileID     *uuid.UUID `json:"fileId"`
}

func (s *Service) AddReport(ctx context.Context, doctorID, patientID uuid.UUID, in ReportInput) (*Report, error) {
	if _, err := s.GetForDoctor(ctx, doctorID, patientID); err != nil {
		return nil, err
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if in.ReportDate.IsZero() {
		in.ReportDate = s.timeNow()
	}
	rep := &Report{
		PatientID:  patientID,
		DoctorID:   doctorID,
		Title:      in.Title,
		Findings:   in.Findings,
		ReportDate: in.ReportDate,
		FileID:     in.FileID,
	}
	if err := s.repo.AddReport(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

func (s *Service) GetReport(ctx context.Context, patientID, reportID uuid.UUID) (*Report, error) {
	return s.repo.GetReport(ctx, patientID, reportID)
}

func (s *Service) ListReports(ctx context.Context, patientID uuid.UUID) ([]*Report, error) {
	return s.repo.ListReports(ctx, patientID)
}

// PrescriptionInput describes one issued prescription.
type PrescriptionInput struct {
	Medication string  `json:"medication"`
	Dosage     string  `json:"dosage"`
	Duration   string  `json:"duration"`
	Notes      *string `json:"notes"`
}

// IssuePrescription stores the prescription, then renders and attaches a
// PDF copy. PDF generation is best effort; failure leaves the record in
// place without an attachment.
func (s *Service) IssuePrescription(ctx context.Context, doctorID, patientID uuid.UUID, in PrescriptionInput) (*Prescription, error) {
	p, err := s.GetForDoctor(ctx, doctorID, patientID)
	if err != nil {
		return nil, err
	}
	in.Medication = strings.TrimSpace(in.Medication)
	if in.Medication == "" {
		return nil, fmt.Errorf("medication is required")
	}
	if strings.TrimSpace(in.Dosage) == "" {
		return nil, fmt.Errorf("dosage is required")
	}
	presc := &Prescription{
		PatientID:  patientID,
		DoctorID:   doctorID,
		Medication: in.Medication,
		Dosage:     in.Dosage,
		Duration:   in.Duration,
		Notes:      in.Notes,
		IssuedAt:   s.timeNow(),
	}
	if err := s.repo.AddPrescription(ctx, presc); err != nil {
		return nil, err
	}

	if fileID, err := s.renderPrescriptionPDF(ctx, p, presc); err != nil {
		s.logger.Warn().Err(err).Str("prescription_id", presc.ID.String()).
			Msg("prescription pdf generation failed")
	} else {
		presc.PDFFileID = &fileID
		if err := s.repo.AttachPrescriptionPDF(ctx, presc.ID, fileID); err != nil {
			s.logger.Warn().Err(err).Str("prescription_id", presc.ID.String()).
				Msg("failed to attach prescription pdf")
			presc.PDFFileID = nil
		}
	}
	return presc, nil
}

func (s *Service) renderPrescriptionPDF(ctx context.Context, p *Patient, presc *Prescription) (uuid.UUID, error) {
	doc := pdfgen.Document{
		Title: "Prescription",
		Lines: []pdfgen.Line{
			{Text: "Patient: " + p.Name + " (" + p.PatientID + ")", Bold: true},
			{Text: "Issued: " + presc.IssuedAt.Format("02 Jan 2006")},
			{Text: ""},
			{Text: "Medication: " + presc.Medication},
			{Text: "Dosage: " + presc.Dosage},
			{Text: "Duration: " + presc.Duration},
		},
	}
	if presc.Notes != nil && *presc.Notes != "" {
		doc.Lines = append(doc.Lines, pdfgen.Line{Text: ""}, pdfgen.Line{Text: "Notes: " + *presc.Notes})
	}
	pdf, err := s.pdf.Render(doc)
	if err != nil {
		return uuid.Nil, err
	}
	meta, err := s.files.Save(ctx, blobstore.FileMetadata{
		FileName:    fmt.Sprintf("prescription-%s.pdf", presc.ID),
		ContentType: "application/pdf",
		OwnerID:     p.ID.String(),
		Category:    "prescription",
	}, bytes.NewReader(pdf))
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(meta.ID)
}

func (s *Service) GetPrescription(ctx context.Context, patientID, prescriptionID uuid.UUID) (*Prescription, error) {
	return s.repo.GetPrescription(ctx, patientID, prescriptionID)
}

func (s *Service) ListPrescriptions(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	return s.repo.ListPrescriptions(ctx, patientID)
}

// BillInput is the line-item list for a new bill. The total is computed
// server side; client totals are ignored.
type BillInput struct {
	Items []BillItem `json:"items"`
}

// CreateBill assigns the next bill number for the doctor, stores the bill,
// then renders a PDF and emails a receipt when the patient has an email
// address. Side effects after the insert are best effort.
func (s *Service) CreateBill(ctx context.Context, doctorID, patientID uuid.UUID, in BillInput) (*Bill, error) {
	p, err := s.GetForDoctor(ctx, doctorID, patientID)
	if err != nil {
		return nil, err
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("bill needs at least one item")
	}
	var total float64
	for i, item := range in.Items {
		if strings.TrimSpace(item.Name) == "" {
			return nil, fmt.Errorf("item %d has no name", i+1)
		}
		if item.Amount < 0 {
			return nil, fmt.Errorf("item %q has a negative amount", item.Name)
		}
		total += item.Amount
	}

	billNo, err := s.seq.NextBillNo(ctx, doctorID.String())
	if err != nil {
		return nil, fmt.Errorf("allocate bill number: %w", err)
	}
	bill := &Bill{
		PatientID:   patientID,
		DoctorID:    doctorID,
		BillNo:      billNo,
		Items:       in.Items,
		TotalAmount: total,
	}
	if err := s.repo.AddBill(ctx, bill); err != nil {
		return nil, err
	}

	if fileID, err := s.renderBillPDF(ctx, p, bill); err != nil {
		s.logger.Warn().Err(err).Str("bill_id", bill.ID.String()).
			Msg("bill pdf generation failed")
	} else {
		bill.PDFFileID = &fileID
		if err := s.repo.AttachBillPDF(ctx, bill.ID, fileID); err != nil {
			s.logger.Warn().Err(err).Str("bill_id", bill.ID.String()).
				Msg("failed to attach bill pdf")
			bill.PDFFileID = nil
		}
	}
	return bill, nil
}

func (s *Service) renderBillPDF(ctx context.Context, p *Patient, bill *Bill) (uuid.UUID, error) {
	doc := pdfgen.Document{
		Title: fmt.Sprintf("Bill #%d", bill.BillNo),
		Lines: []pdfgen.Line{
			{Text: "Patient: " + p.Name + " (" + p.PatientID + ")", Bold: true},
			{Text: "Date: " + s.timeNow().Format("02 Jan 2006")},
			{Text: ""},
		},
	}
	for _, item := range bill.Items {
		doc.Lines = append(doc.Lines, pdfgen.Line{
			Text: fmt.Sprintf("%s  %.2f", item.Name, item.Amount),
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
		FileName:    fmt.Sprintf("bill-%d.pdf", bill.BillNo),
		ContentType: "application/pdf",
		OwnerID:     p.ID.String(),
		Category:    "report",
	}, bytes.NewReader(pdf))
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(meta.ID)
}

func (s *Service) GetBill(ctx context.Context, patientID, billID uuid.UUID) (*Bill, error) {
	return s.repo.GetBill(ctx, patientID, billID)
}

func (s *Service) ListBills(ctx context.Context, patientID uuid.UUID) ([]*Bill, error) {
	return s.repo.ListBills(ctx, patientID)
}

// MarkBillPaid records payment and sends a receipt if the patient has an
// email address. The receipt is best effort.
func (s *Service) MarkBillPaid(ctx context.Context, doctorID, patientID, billID uuid.UUID) (*Bill, error) {
	p, err := s.GetForDoctor(ctx, doctorID, patientID)
	if err != nil {
		return nil, err
	}
	bill, err := s.repo.GetBill(ctx, patientID, billID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetBillPaid(ctx, billID, true); err != nil {
		return nil, err
	}
	bill.Paid = true

	if p.Email != nil && *p.Email != "" {
		if err := s.mail.SendTemplate(ctx, *p.Email, "bill-receipt", map[string]string{
			"patient_name": p.Name,
			"bill_no":      fmt.Sprintf("%d", bill.BillNo),
			"amount":       fmt.Sprintf("%.2f", bill.TotalAmount),
		}); err != nil {
			s.logger.Warn().Err(err).Str("bill_id", bill.ID.String()).
				Msg("failed to send bill receipt")
		}
	}
	return bill, nil
}
