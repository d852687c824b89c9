package patient

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/doctorcrm/doctorcrm/internal/platform/auth"
	"github.com/doctorcrm/doctorcrm/internal/platform/blobstore"
	"github.com/doctorcrm/doctorcrm/internal/platform/mailer"
	"github.com/doctorcrm/doctorcrm/internal/platform/pdfgen"
	"github.com/doctorcrm/doctorcrm/internal/platform/sequence"
)

// -- Mock Repository --

type mockRepo struct {
	patients      map[uuid.UUID]*Patient
	reports       map[uuid.UUID]*Report
	prescriptions map[uuid.UUID]*Prescription
	bills         map[uuid.UUID]*Bill

	failTakenOnce bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		patients:      make(map[uuid.UUID]*Patient),
		reports:       make(map[uuid.UUID]*Report),
		prescriptions: make(map[uuid.UUID]*Prescription),
		bills:         make(map[uuid.UUID]*Bill),
	}
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	if m.failTakenOnce {
		m.failTakenOnce = false
		return ErrPatientIDTaken
	}
	for _, existing := range m.patients {
		if existing.PatientID == p.PatientID {
			return ErrPatientIDTaken
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockRepo) GetByPatientID(_ context.Context, patientID string) (*Patient, error) {
	for _, p := range m.patients {
		if p.PatientID == patientID {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, search string, limit, offset int) ([]*Patient, int, error) {
	var result []*Patient
	for _, p := range m.patients {
		if p.DoctorID != doctorID {
			continue
		}
		if search == "" || strings.Contains(strings.ToLower(p.Name), strings.ToLower(search)) {
			result = append(result, p)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return ErrNotFound
	}
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.patients[id]; !ok {
		return ErrNotFound
	}
	delete(m.patients, id)
	return nil
}

func (m *mockRepo) AddReport(_ context.Context, r *Report) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	m.reports[r.ID] = r
	return nil
}

func (m *mockRepo) GetReport(_ context.Context, patientID, reportID uuid.UUID) (*Report, error) {
	r, ok := m.reports[reportID]
	if !ok || r.PatientID != patientID {
		return nil, ErrReportNotFound
	}
	return r, nil
}

func (m *mockRepo) ListReports(_ context.Context, patientID uuid.UUID) ([]*Report, error) {
	var result []*Report
	for _, r := range m.reports {
		if r.PatientID == patientID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *mockRepo) AddPrescription(_ context.Context, p *Prescription) error {
	p.ID = uuid.New()
	m.prescriptions[p.ID] = p
	return nil
}

func (m *mockRepo) GetPrescription(_ context.Context, patientID, prescriptionID uuid.UUID) (*Prescription, error) {
	p, ok := m.prescriptions[prescriptionID]
	if !ok || p.PatientID != patientID {
		return nil, ErrPrescriptionNotFound
	}
	return p, nil
}

func (m *mockRepo) ListPrescriptions(_ context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	var result []*Prescription
	for _, p := range m.prescriptions {
		if p.PatientID == patientID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (m *mockRepo) AttachPrescriptionPDF(_ context.Context, prescriptionID, fileID uuid.UUID) error {
	p, ok := m.prescriptions[prescriptionID]
	if !ok {
		return ErrPrescriptionNotFound
	}
	p.PDFFileID = &fileID
	return nil
}

func (m *mockRepo) AddBill(_ context.Context, b *Bill) error {
	b.ID = uuid.New()
	b.CreatedAt = time.Now()
	m.bills[b.ID] = b
	return nil
}

func (m *mockRepo) GetBill(_ context.Context, patientID, billID uuid.UUID) (*Bill, error) {
	b, ok := m.bills[billID]
	if !ok || b.PatientID != patientID {
		return nil, ErrBillNotFound
	}
	return b, nil
}

func (m *mockRepo) ListBills(_ context.Context, patientID uuid.UUID) ([]*Bill, error) {
	var result []*Bill
	for _, b := range m.bills {
		if b.PatientID == patientID {
			result = append(result, b)
		}
	}
	return result, nil
}

func (m *mockRepo) SetBillPaid(_ context.Context, billID uuid.UUID, paid bool) error {
	b, ok := m.bills[billID]
	if !ok {
		return ErrBillNotFound
	}
	b.Paid = paid
	return nil
}

func (m *mockRepo) AttachBillPDF(_ context.Context, billID, fileID uuid.UUID) error {
	b, ok := m.bills[billID]
	if !ok {
		return ErrBillNotFound
	}
	b.PDFFileID = &fileID
	return nil
}

// -- In-memory counters --

type memorySeqStore struct {
	mu     sync.Mutex
	values map[string]int64
}

func newMemorySeqStore() *memorySeqStore {
	return &memorySeqStore{values: make(map[string]int64)}
}

func (s *memorySeqStore) Next(_ context.Context, name string, seed int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[name]; !ok {
		s.values[name] = seed
	}
	s.values[name]++
	return s.values[name], nil
}

// -- Token store --

type memoryTokenStore struct {
	mu   sync.Mutex
	rows map[string]string
}

func newMemoryTokenStore() *memoryTokenStore {
	return &memoryTokenStore{rows: make(map[string]string)}
}

func (s *memoryTokenStore) Save(_ context.Context, subject, hash string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[hash] = subject
	return nil
}

func (s *memoryTokenStore) Consume(_ context.Context, subject, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows[hash] != subject {
		return auth.ErrInvalidToken
	}
	delete(s.rows, hash)
	return nil
}

func (s *memoryTokenStore) Revoke(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, hash)
	return nil
}

// -- Mail --

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMail
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

func (r *recordingSender) Send(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recordingSender) last(t *testing.T) sentMail {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		t.Fatal("no mail sent")
	}
	return r.sent[len(r.sent)-1]
}

// -- Fixture --

type fixture struct {
	svc      *Service
	repo     *mockRepo
	sender   *recordingSender
	files    blobstore.Store
	tokens   *auth.TokenService
	doctorID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMockRepo()
	sender := &recordingSender{}
	tokens := auth.NewTokenService(auth.Config{
		AccessSecret:  []byte("access-secret-for-tests"),
		RefreshSecret: []byte("refresh-secret-for-tests"),
	}, newMemoryTokenStore())
	files, err := blobstore.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore: %v", err)
	}
	svc := NewService(
		repo,
		tokens,
		sequence.NewGenerator(newMemorySeqStore()),
		files,
		pdfgen.TextRenderer{},
		mailer.New(sender),
		zerolog.Nop(),
	)
	return &fixture{
		svc:      svc,
		repo:     repo,
		sender:   sender,
		files:    files,
		tokens:   tokens,
		doctorID: uuid.New(),
	}
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func validCreateInput() CreateInput {
	return CreateInput{
		Name:     "Asha Rao",
		Password: "s3cret-pass",
		Email:    strPtr("asha@example.com"),
		Age:      intPtr(34),
	}
}

// -- Tests --

func TestCreateAssignsGeneratedID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, f.doctorID, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	today := time.Now().Format("20060102")
	want := "PAT" + today + "0001"
	if p.PatientID != want {
		t.Errorf("patient id = %q, want %q", p.PatientID, want)
	}
	if p.PasswordHash == "s3cret-pass" || p.PasswordHash == "" {
		t.Error("password stored in clear or empty")
	}

	p2, err := f.svc.Create(ctx, f.doctorID, validCreateInput())
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if p2.PatientID != "PAT"+today+"0002" {
		t.Errorf("second patient id = %q", p2.PatientID)
	}
}

func TestCreateRetriesOnTakenID(t *testing.T) {
	f := newFixture(t)
	f.repo.failTakenOnce = true

	p, err := f.svc.Create(context.Background(), f.doctorID, validCreateInput())
	if err != nil {
		t.Fatalf("create should retry once: %v", err)
	}
	// The retry burns a counter value, so the stored id is the second one.
	if !strings.HasSuffix(p.PatientID, "0002") {
		t.Errorf("patient id after retry = %q", p.PatientID)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, f.doctorID, CreateInput{Name: "", Password: "longenough"}); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := f.svc.Create(ctx, f.doctorID, CreateInput{Name: "X", Password: "short"}); err == nil {
		t.Error("expected error for short password")
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, f.doctorID, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	token, got, err := f.svc.Login(ctx, p.PatientID, "s3cret-pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != p.ID {
		t.Error("login returned wrong patient")
	}
	claims, err := f.tokens.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.Subject != p.ID.String() {
		t.Errorf("token subject = %q, want %q", claims.Subject, p.ID)
	}
	if claims.Role != string(auth.RolePatient) {
		t.Errorf("token role = %q", claims.Role)
	}
}

func TestLoginNormalizesPatientID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, f.doctorID, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "  "+strings.ToLower(p.PatientID)+" ", "s3cret-pass"); err != nil {
		t.Errorf("lowercase padded id should log in: %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, f.doctorID, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, p.PatientID, "wrong"); err != ErrInvalidCredentials {
		t.Errorf("wrong password: got %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "PAT000000000000", "s3cret-pass"); err != ErrInvalidCredentials {
		t.Errorf("unknown id: got %v", err)
	}
}

func TestDoctorScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, f.doctorID, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.svc.GetForDoctor(ctx, f.doctorID, p.ID); err != nil {
		t.Errorf("own patient: %v", err)
	}
	if _, err := f.svc.GetForDoctor(ctx, uuid.New(), p.ID); err != ErrNotFound {
		t.Errorf("other doctor's lookup should be not found, got %v", err)
	}
	if err := f.svc.Delete(ctx, uuid.New(), p.ID); err != ErrNotFound {
		t.Errorf("other doctor's delete should be not found, got %v", err)
	}
	if _, err := f.repo.GetByID(ctx, p.ID); err != nil {
		t.Error("patient should survive foreign delete attempt")
	}
}

func TestUpdateMergesFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, f.doctorID, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := f.svc.Update(ctx, f.doctorID, p.ID, UpdateInput{
		Phone: strPtr("555-0101"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Phone == nil || *updated.Phone != "555-0101" {
		t.Error("phone not updated")
	}
	if updated.Name != "Asha Rao" {
		t.Error("untouched field changed")
	}
	if updated.Age == nil || *updated.Age != 34 {
		t.Error("untouched age changed")
	}

	if _, err := f.svc.Update(ctx, f.doctorID, p.ID, UpdateInput{Name: strPtr("  ")}); err == nil {
		t.Error("blank name should be rejected")
	}
}

func TestUpdateSelfContactFieldsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, f.doctorID, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := f.svc.UpdateSelf(ctx, p.ID, SelfUpdateInput{
		Email: strPtr("asha.new@example.com"),
		Phone: strPtr("555-0202"),
	})
	if err != nil {
		t.Fatalf("update self: %v", err)
	}
	if updated.Email == nil || *updated.Email != "asha.new@example.com" {
		t.Error("email not updated")
	}
	if updated.Phone == nil || *updated.Phone != "555-0202" {
		t.Error("phone not updated")
	}
	if updated.Name != "Asha Rao" || updated.DoctorID != f.doctorID {
		t.Error("fields outside the contact slice changed")
	}

	if _, err := f.svc.UpdateSelf(ctx, uuid.New(), SelfUpdateInput{}); err != ErrNotFound {
		t.Errorf("unknown patient: got %v, want ErrNotFound", err)
	}
}

func TestAddReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, f.doctorID, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rep, err := f.svc.AddReport(ctx, f.doctorID, p.ID, ReportInput{
		Title:    "Blood panel",
		Findings: "All values within range.",
	})
	if err != nil {
		t.Fatalf("add report: %v", err)
	}
	if rep.ReportDate.IsZero() {
		t.Error("report date should default to now")
	}

	if _, err := f.svc.AddReport(ctx, f.doctorID, p.ID, ReportInput{Title: " "}); err == nil {
		t.Error("empty title should be rejected")
	}

	reports, err := f.svc.ListReports(ctx, p.ID)
	if err != nil || len(reports) != 1 {
		t.Fatalf("list reports: %v, n=%d", err, len(reports))
	}
}

func TestIssuePrescriptionGeneratesPDF(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, f.doctorID, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	presc, err := f.svc.IssuePrescription(ctx, f.doctorID, p.ID, PrescriptionInput{
		Medication: "Amoxicillin 500mg",
		Dosage:     "1 capsule three times daily",
		Duration:   "7 days",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if presc.PDFFileID == nil {
		t.Fatal("expected a generated pdf attachment")
	}
	meta, err := f.files.Stat(ctx, presc.PDFFileID.String())
	if err != nil {
		t.Fatalf("stat pdf: %v", err)
	}
	if meta.ContentType != "application/pdf" {
		t.Errorf("pdf content type = %q", meta.ContentType)
	}
	if meta.Category != "prescription" {
		t.Errorf("pdf category = %q", meta.Category)
	}
}

func TestIssuePrescriptionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, f.doctorID, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.IssuePrescription(ctx, f.doctorID, p.ID, PrescriptionInput{Dosage: "x"}); err == nil {
		t.Error("missing medication should be rejected")
	}
	if _, err := f.svc.IssuePrescription(ctx, f.doctorID, p.ID, PrescriptionInput{Medication: "x"}); err == nil {
		t.Error("missing dosage should be rejected")
	}
}

func TestCreateBill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, f.doctorID, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	bill, err := f.svc.CreateBill(ctx, f.doctorID, p.ID, BillInput{
		Items: []BillItem{
			{Name: "Consultation", Amount: 500},
			{Name: "ECG", Amount: 250.50},
		},
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	if bill.BillNo != 1001 {
		t.Errorf("first bill number = %d, want 1001", bill.BillNo)
	}
	if bill.TotalAmount != 750.50 {
		t.Errorf("total = %v, want 750.50", bill.TotalAmount)
	}
	if bill.Paid {
		t.Error("new bill should be unpaid")
	}
	if bill.PDFFileID == nil {
		t.Error("expected a generated pdf attachment")
	}

	second, err := f.svc.CreateBill(ctx, f.doctorID, p.ID, BillInput{
		Items: []BillItem{{Name: "Follow-up", Amount: 300}},
	})
	if err != nil {
		t.Fatalf("second bill: %v", err)
	}
	if second.BillNo != 1002 {
		t.Errorf("second bill number = %d, want 1002", second.BillNo)
	}
}

func TestCreateBillValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, f.doctorID, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.CreateBill(ctx, f.doctorID, p.ID, BillInput{}); err == nil {
		t.Error("empty bill should be rejected")
	}
	if _, err := f.svc.CreateBill(ctx, f.doctorID, p.ID, BillInput{
		Items: []BillItem{{Name: "Refund", Amount: -10}},
	}); err == nil {
		t.Error("negative amount should be rejected")
	}
}

func TestMarkBillPaidSendsReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, f.doctorID, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	bill, err := f.svc.CreateBill(ctx, f.doctorID, p.ID, BillInput{
		Items: []BillItem{{Name: "Consultation", Amount: 500}},
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}

	paid, err := f.svc.MarkBillPaid(ctx, f.doctorID, p.ID, bill.ID)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if !paid.Paid {
		t.Error("bill should be marked paid")
	}

	mail := f.sender.last(t)
	if mail.To != "asha@example.com" {
		t.Errorf("receipt went to %q", mail.To)
	}
	if !strings.Contains(mail.Subject, "1001") {
		t.Errorf("receipt subject %q missing bill number", mail.Subject)
	}
	if !strings.Contains(mail.Body, "500.00") {
		t.Errorf("receipt body %q missing amount", mail.Body)
	}
}

func TestMarkBillPaidWithoutEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := validCreateInput()
	in.Email = nil
	p, err := f.svc.Create(ctx, f.doctorID, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	bill, err := f.svc.CreateBill(ctx, f.doctorID, p.ID, BillInput{
		Items: []BillItem{{Name: "Consultation", Amount: 500}},
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	if _, err := f.svc.MarkBillPaid(ctx, f.doctorID, p.ID, bill.ID); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if f.sender.count() != 0 {
		t.Error("no receipt should be sent without an email address")
	}
}

func TestResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, f.doctorID, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rec, err := f.svc.Resolve(ctx, p.ID.String())
	if err != nil || rec == nil {
		t.Fatalf("resolve live patient: rec=%v err=%v", rec, err)
	}
	if rec, err := f.svc.Resolve(ctx, uuid.New().String()); rec != nil || err != nil {
		t.Errorf("unknown subject should resolve to nil, nil: rec=%v err=%v", rec, err)
	}
	if rec, err := f.svc.Resolve(ctx, "not-a-uuid"); rec != nil || err != nil {
		t.Errorf("garbage subject should resolve to nil, nil: rec=%v err=%v", rec, err)
	}
}
