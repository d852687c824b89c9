package doctor

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"

	"github.com/doctorcrm/doctorcrm/internal/platform/auth"
	"github.com/doctorcrm/doctorcrm/internal/platform/blobstore"
	"github.com/doctorcrm/doctorcrm/internal/platform/mailer"
	"github.com/doctorcrm/doctorcrm/internal/platform/secrets"
)

// -- Mock Repository --

type mockRepo struct {
	doctors map[uuid.UUID]*Doctor
	resets  []*PasswordReset
	videos  map[uuid.UUID]*Video
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		doctors: make(map[uuid.UUID]*Doctor),
		videos:  make(map[uuid.UUID]*Video),
	}
}

func (m *mockRepo) Create(_ context.Context, d *Doctor) error {
	for _, existing := range m.doctors {
		if existing.Email == d.Email {
			return ErrEmailTaken
		}
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	d.UpdatedAt = time.Now()
	m.doctors[d.ID] = d
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (m *mockRepo) GetByEmail(_ context.Context, email string) (*Doctor, error) {
	for _, d := range m.doctors {
		if d.Email == email {
			return d, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) List(_ context.Context, search string, limit, offset int) ([]*Doctor, int, error) {
	var result []*Doctor
	for _, d := range m.doctors {
		if search == "" || strings.Contains(strings.ToLower(d.Name), strings.ToLower(search)) {
			result = append(result, d)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) Update(_ context.Context, d *Doctor) error {
	if _, ok := m.doctors[d.ID]; !ok {
		return ErrNotFound
	}
	m.doctors[d.ID] = d
	return nil
}

func (m *mockRepo) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	d, ok := m.doctors[id]
	if !ok {
		return ErrNotFound
	}
	d.PasswordHash = hash
	return nil
}

func (m *mockRepo) SetTwoFA(_ context.Context, id uuid.UUID, secretEnc *string, enabled bool) error {
	d, ok := m.doctors[id]
	if !ok {
		return ErrNotFound
	}
	d.TwoFASecretEnc = secretEnc
	d.TwoFAEnabled = enabled
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.doctors[id]; !ok {
		return ErrNotFound
	}
	delete(m.doctors, id)
	return nil
}

func (m *mockRepo) SavePasswordReset(_ context.Context, pr *PasswordReset) error {
	pr.ID = uuid.New()
	m.resets = append(m.resets, pr)
	return nil
}

func (m *mockRepo) ConsumePasswordReset(_ context.Context, doctorID uuid.UUID, otpHash string, now time.Time) error {
	for _, pr := range m.resets {
		if pr.DoctorID == doctorID && pr.OTPHash == otpHash && !pr.Used && pr.ExpiresAt.After(now) {
			pr.Used = true
			return nil
		}
	}
	return ErrInvalidOTP
}

func (m *mockRepo) AddVideo(_ context.Context, v *Video) error {
	v.ID = uuid.New()
	v.CreatedAt = time.Now()
	m.videos[v.ID] = v
	return nil
}

func (m *mockRepo) GetVideo(_ context.Context, doctorID, videoID uuid.UUID) (*Video, error) {
	v, ok := m.videos[videoID]
	if !ok || v.DoctorID != doctorID {
		return nil, ErrVideoNotFound
	}
	return v, nil
}

func (m *mockRepo) ListVideos(_ context.Context, doctorID uuid.UUID) ([]*Video, error) {
	var result []*Video
	for _, v := range m.videos {
		if v.DoctorID == doctorID {
			result = append(result, v)
		}
	}
	return result, nil
}

func (m *mockRepo) DeleteVideo(_ context.Context, doctorID, videoID uuid.UUID) error {
	v, ok := m.videos[videoID]
	if !ok || v.DoctorID != doctorID {
		return ErrVideoNotFound
	}
	delete(m.videos, videoID)
	return nil
}

// -- Token store and mail doubles --

type memoryTokenStore struct {
	mu   sync.Mutex
	rows map[string]*tokenRow
}

type tokenRow struct {
	subject   string
	expiresAt time.Time
	revoked   bool
}

func newMemoryTokenStore() *memoryTokenStore {
	return &memoryTokenStore{rows: make(map[string]*tokenRow)}
}

func (s *memoryTokenStore) Save(_ context.Context, subject, hash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[hash] = &tokenRow{subject: subject, expiresAt: expiresAt}
	return nil
}

func (s *memoryTokenStore) Consume(_ context.Context, subject, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[hash]
	if !ok || row.revoked || row.subject != subject || !row.expiresAt.After(time.Now()) {
		return auth.ErrInvalidToken
	}
	row.revoked = true
	return nil
}

func (s *memoryTokenStore) Revoke(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[hash]; ok {
		row.revoked = true
	}
	return nil
}

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

func (r *recordingSender) last(t *testing.T) sentMail {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		t.Fatal("no mail sent")
	}
	return r.sent[len(r.sent)-1]
}

var otpPattern = regexp.MustCompile(`\b\d{6}\b`)

// -- Fixture --

type fixture struct {
	svc    *Service
	repo   *mockRepo
	sender *recordingSender
	files  blobstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMockRepo()
	sender := &recordingSender{}
	tokens := auth.NewTokenService(auth.Config{
		AccessSecret:  []byte("access-secret-for-tests"),
		RefreshSecret: []byte("refresh-secret-for-tests"),
	}, newMemoryTokenStore())
	cipher, err := secrets.NewCipher(bytes.Repeat([]byte{0x11}, 32))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	files, err := blobstore.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore: %v", err)
	}
	svc := NewService(repo, tokens, auth.NewTOTPVerifier(), cipher,
		mailer.New(sender), files, zerolog.Nop())
	return &fixture{svc: svc, repo: repo, sender: sender, files: files}
}

func (f *fixture) register(t *testing.T, email string) *Doctor {
	t.Helper()
	d, err := f.svc.Register(context.Background(), RegisterInput{
		Name:     "Dr. Rao",
		Email:    email,
		Password: "correct horse",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return d
}

// -- Tests --

func TestRegisterThenLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "rao@example.com")

	d, pair, err := f.svc.Login(ctx, "rao@example.com", "correct horse", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if d.Email != "rao@example.com" {
		t.Errorf("email = %q", d.Email)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Error("empty token pair")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.register(t, "rao@example.com")
	before := d.PasswordHash

	if _, _, err := f.svc.Login(ctx, "rao@example.com", "wrong", ""); err != ErrInvalidCredentials {
		t.Errorf("login: got %v, want ErrInvalidCredentials", err)
	}
	if f.repo.doctors[d.ID].PasswordHash != before {
		t.Error("failed login modified the stored hash")
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.svc.Login(context.Background(), "nobody@example.com", "x", ""); err != ErrInvalidCredentials {
		t.Errorf("login: got %v, want ErrInvalidCredentials", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "rao@example.com")
	_, err := f.svc.Register(context.Background(), RegisterInput{
		Name:     "Someone Else",
		Email:    "rao@example.com",
		Password: "another pass",
	})
	if err != ErrEmailTaken {
		t.Errorf("second register: got %v, want ErrEmailTaken", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Register(ctx, RegisterInput{Email: "x@example.com", Password: "long enough"}); err == nil {
		t.Error("missing name accepted")
	}
	if _, err := f.svc.Register(ctx, RegisterInput{Name: "X", Email: "x@example.com", Password: "short"}); err == nil {
		t.Error("short password accepted")
	}
}

func TestRefreshRotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "rao@example.com")
	_, pair, err := f.svc.Login(ctx, "rao@example.com", "correct horse", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	d, next, err := f.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if d.Email != "rao@example.com" {
		t.Errorf("refreshed doctor = %q", d.Email)
	}
	if _, _, err := f.svc.Refresh(ctx, pair.RefreshToken); err != auth.ErrInvalidToken {
		t.Errorf("replayed refresh: got %v, want ErrInvalidToken", err)
	}
	if _, _, err := f.svc.Refresh(ctx, next.RefreshToken); err != nil {
		t.Errorf("rotated token refresh: %v", err)
	}
}

func TestRefreshAfterLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "rao@example.com")
	_, pair, err := f.svc.Login(ctx, "rao@example.com", "correct horse", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := f.svc.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, _, err := f.svc.Refresh(ctx, pair.RefreshToken); err != auth.ErrInvalidToken {
		t.Errorf("refresh after logout: got %v, want ErrInvalidToken", err)
	}
}

func TestRefreshDeletedDoctor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.register(t, "rao@example.com")
	_, pair, err := f.svc.Login(ctx, "rao@example.com", "correct horse", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	delete(f.repo.doctors, d.ID)
	if _, _, err := f.svc.Refresh(ctx, pair.RefreshToken); err != auth.ErrInvalidToken {
		t.Errorf("refresh for deleted account: got %v, want ErrInvalidToken", err)
	}
}

func TestTwoFALifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.register(t, "rao@example.com")

	secret, url, err := f.svc.SetupTwoFA(ctx, d.ID)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if secret == "" || !strings.HasPrefix(url, "otpauth://") {
		t.Fatalf("secret=%q url=%q", secret, url)
	}
	if f.repo.doctors[d.ID].TwoFAEnabled {
		t.Fatal("2fa enabled before verification")
	}
	if stored := f.repo.doctors[d.ID].TwoFASecretEnc; stored == nil || strings.Contains(*stored, secret) {
		t.Error("secret stored in the clear")
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if err := f.svc.EnableTwoFA(ctx, d.ID, code); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !f.repo.doctors[d.ID].TwoFAEnabled {
		t.Fatal("2fa not enabled")
	}

	// Same step already used during enable; a fresh step is needed.
	later, err := totp.GenerateCode(secret, time.Now().Add(30*time.Second))
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "rao@example.com", "correct horse", later); err != nil {
		t.Errorf("2fa login: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "rao@example.com", "correct horse", "000000"); err != ErrInvalidCredentials {
		t.Errorf("2fa login bad code: got %v, want ErrInvalidCredentials", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "rao@example.com")

	if err := f.svc.RequestPasswordReset(ctx, "rao@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	otp := otpPattern.FindString(f.sender.last(t).Body)
	if otp == "" {
		t.Fatalf("no otp in mail body: %q", f.sender.last(t).Body)
	}

	if err := f.svc.ConfirmPasswordReset(ctx, "rao@example.com", "999999", "new password 1"); err != ErrInvalidOTP {
		t.Errorf("wrong otp: got %v, want ErrInvalidOTP", err)
	}
	if err := f.svc.ConfirmPasswordReset(ctx, "rao@example.com", otp, "new password 1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	// Single use.
	if err := f.svc.ConfirmPasswordReset(ctx, "rao@example.com", otp, "new password 2"); err != ErrInvalidOTP {
		t.Errorf("reused otp: got %v, want ErrInvalidOTP", err)
	}

	if _, _, err := f.svc.Login(ctx, "rao@example.com", "new password 1", ""); err != nil {
		t.Errorf("login with new password: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "rao@example.com", "correct horse", ""); err != ErrInvalidCredentials {
		t.Errorf("login with old password: got %v", err)
	}
}

func TestPasswordResetUnknownEmailSilent(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.RequestPasswordReset(context.Background(), "nobody@example.com"); err != nil {
		t.Errorf("unknown email should not error: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Error("mail sent for unknown address")
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.register(t, "rao@example.com")

	if err := f.svc.ChangePassword(ctx, d.ID, "wrong", "another pass"); err != ErrInvalidCredentials {
		t.Errorf("wrong current: got %v", err)
	}
	if err := f.svc.ChangePassword(ctx, d.ID, "correct horse", "another pass"); err != nil {
		t.Fatalf("change: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "rao@example.com", "another pass", ""); err != nil {
		t.Errorf("login with changed password: %v", err)
	}
}

func TestDeleteCascadesFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.register(t, "rao@example.com")

	meta, err := f.files.Save(ctx, blobstore.FileMetadata{
		FileName:    "clip.mp4",
		ContentType: "video/mp4",
		OwnerID:     d.ID.String(),
		Category:    "video",
	}, strings.NewReader("video bytes"))
	if err != nil {
		t.Fatalf("save file: %v", err)
	}
	if _, err := f.svc.AddVideo(ctx, d.ID, "Knee exercises", uuid.MustParse(meta.ID)); err != nil {
		t.Fatalf("add video: %v", err)
	}

	if err := f.svc.Delete(ctx, d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.files.Stat(ctx, meta.ID); err != blobstore.ErrFileNotFound {
		t.Errorf("video file survived doctor deletion: %v", err)
	}
}

func TestResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.register(t, "rao@example.com")

	rec, err := f.svc.Resolve(ctx, d.ID.String())
	if err != nil || rec == nil {
		t.Fatalf("resolve: %v %v", rec, err)
	}
	if rec, err := f.svc.Resolve(ctx, uuid.NewString()); err != nil || rec != nil {
		t.Errorf("resolve unknown: %v %v", rec, err)
	}
	if rec, err := f.svc.Resolve(ctx, "not-a-uuid"); err != nil || rec != nil {
		t.Errorf("resolve garbage: %v %v", rec, err)
	}
}
