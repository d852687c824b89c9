package auth

import (
	"context"
	"sync"
	"testing"
	"time"
)

// memoryTokenStore is an in-memory RefreshTokenStore with the same atomic
// consume semantics as the Postgres implementation.
type memoryTokenStore struct {
	mu   sync.Mutex
	rows map[string]*memoryTokenRow
}

type memoryTokenRow struct {
	subject   string
	expiresAt time.Time
	revoked   bool
}

func newMemoryTokenStore() *memoryTokenStore {
	return &memoryTokenStore{rows: make(map[string]*memoryTokenRow)}
}

func (s *memoryTokenStore) Save(_ context.Context, subject, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[tokenHash] = &memoryTokenRow{subject: subject, expiresAt: expiresAt}
	return nil
}

func (s *memoryTokenStore) Consume(_ context.Context, subject, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[tokenHash]
	if !ok || row.revoked || row.subject != subject || !row.expiresAt.After(time.Now()) {
		return ErrInvalidToken
	}
	row.revoked = true
	return nil
}

func (s *memoryTokenStore) Revoke(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[tokenHash]; ok {
		row.revoked = true
	}
	return nil
}

func newTestTokenService(store RefreshTokenStore) *TokenService {
	return NewTokenService(Config{
		AccessSecret:  []byte("access-secret-for-tests"),
		RefreshSecret: []byte("refresh-secret-for-tests"),
	}, store)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())

	token, err := svc.IssueAccessToken("doc-1", RoleDoctor)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := svc.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "doc-1" {
		t.Errorf("subject = %q, want doc-1", claims.Subject)
	}
	if claims.Role != "doctor" {
		t.Errorf("role = %q, want doctor", claims.Role)
	}
}

func TestAccessTokenExpiry(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())
	issued := time.Now()
	svc.SetClock(func() time.Time { return issued })

	token, err := svc.IssueAccessToken("doc-1", RoleDoctor)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	svc.SetClock(func() time.Time { return issued.Add(time.Hour + time.Minute) })
	if _, err := svc.ParseAccessToken(token); err != ErrInvalidToken {
		t.Errorf("parse after expiry: got %v, want ErrInvalidToken", err)
	}
}

func TestAccessTokenWrongSecret(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())
	other := NewTokenService(Config{
		AccessSecret:  []byte("a completely different secret"),
		RefreshSecret: []byte("refresh-secret-for-tests"),
	}, newMemoryTokenStore())

	token, err := svc.IssueAccessToken("doc-1", RoleDoctor)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := other.ParseAccessToken(token); err != ErrInvalidToken {
		t.Errorf("parse with wrong secret: got %v, want ErrInvalidToken", err)
	}
}

func TestRefreshTokenNotValidAsAccess(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())
	refresh, err := svc.IssueRefreshToken(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	if _, err := svc.ParseAccessToken(refresh); err != ErrInvalidToken {
		t.Errorf("refresh accepted as access token: got %v, want ErrInvalidToken", err)
	}
}

func TestRotateConsumesToken(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())
	ctx := context.Background()

	refresh, err := svc.IssueRefreshToken(ctx, "doc-1")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}

	subject, pair, err := svc.Rotate(ctx, refresh, RoleDoctor)
	if err != nil {
		t.Fatalf("first rotate: %v", err)
	}
	if subject != "doc-1" {
		t.Errorf("subject = %q, want doc-1", subject)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("rotate returned empty pair")
	}
	if pair.RefreshToken == refresh {
		t.Error("rotate returned the presented refresh token")
	}

	if _, _, err := svc.Rotate(ctx, refresh, RoleDoctor); err != ErrInvalidToken {
		t.Errorf("replayed rotate: got %v, want ErrInvalidToken", err)
	}

	// The token from rotation is itself usable exactly once.
	if _, _, err := svc.Rotate(ctx, pair.RefreshToken, RoleDoctor); err != nil {
		t.Errorf("rotate with rotated token: %v", err)
	}
}

func TestRotateConcurrent(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())
	ctx := context.Background()

	refresh, err := svc.IssueRefreshToken(ctx, "doc-1")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Rotate(ctx, refresh, RoleDoctor)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
		} else if err != ErrInvalidToken {
			t.Errorf("unexpected rotate error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("concurrent rotations succeeded %d times, want exactly 1", wins)
	}
}

func TestRotateExpiredRefresh(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())
	ctx := context.Background()
	issued := time.Now()
	svc.SetClock(func() time.Time { return issued })

	refresh, err := svc.IssueRefreshToken(ctx, "doc-1")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}

	svc.SetClock(func() time.Time { return issued.Add(31 * 24 * time.Hour) })
	if _, _, err := svc.Rotate(ctx, refresh, RoleDoctor); err != ErrInvalidToken {
		t.Errorf("rotate expired: got %v, want ErrInvalidToken", err)
	}
}

func TestRevokeThenRotate(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())
	ctx := context.Background()

	refresh, err := svc.IssueRefreshToken(ctx, "doc-1")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	if err := svc.Revoke(ctx, refresh); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, _, err := svc.Rotate(ctx, refresh, RoleDoctor); err != ErrInvalidToken {
		t.Errorf("rotate after revoke: got %v, want ErrInvalidToken", err)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())
	ctx := context.Background()

	if err := svc.Revoke(ctx, ""); err != nil {
		t.Errorf("revoke empty: %v", err)
	}
	if err := svc.Revoke(ctx, "never-issued-token"); err != nil {
		t.Errorf("revoke unknown: %v", err)
	}
}
