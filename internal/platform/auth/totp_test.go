package auth

import (
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	return code
}

func TestGenerateTOTPSecret(t *testing.T) {
	secret, url, err := GenerateTOTPSecret("dr.rao@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if secret == "" {
		t.Fatal("empty secret")
	}
	if url == "" {
		t.Fatal("empty enrollment URL")
	}

	// Two provisionings never share a secret.
	secret2, _, err := GenerateTOTPSecret("dr.rao@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if secret == secret2 {
		t.Error("provisioned secrets are identical")
	}
}

func TestTOTPVerifyWindow(t *testing.T) {
	secret, _, err := GenerateTOTPSecret("dr.rao@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	now := time.Unix(1_700_000_010, 0)

	cases := []struct {
		name    string
		codeAt  time.Time
		wantErr error
	}{
		{"current step", now, nil},
		{"previous step", now.Add(-30 * time.Second), nil},
		{"next step", now.Add(30 * time.Second), nil},
		{"two steps back", now.Add(-90 * time.Second), ErrTOTPInvalid},
		{"two steps ahead", now.Add(90 * time.Second), ErrTOTPInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewTOTPVerifier()
			v.SetClock(func() time.Time { return now })
			err := v.Verify("doc-1", secret, codeAt(t, secret, tc.codeAt))
			if err != tc.wantErr {
				t.Errorf("Verify = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestTOTPVerifyRejectsGarbage(t *testing.T) {
	secret, _, err := GenerateTOTPSecret("dr.rao@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	v := NewTOTPVerifier()
	for _, code := range []string{"", "000000", "12345", "abcdef"} {
		if err := v.Verify("doc-1", secret, code); err != ErrTOTPInvalid {
			t.Errorf("code %q: got %v, want ErrTOTPInvalid", code, err)
		}
	}
}

func TestTOTPVerifyEmptySecret(t *testing.T) {
	now := time.Unix(1_700_000_010, 0)
	v := NewTOTPVerifier()
	v.SetClock(func() time.Time { return now })

	// GenerateCodeCustom treats "" as a valid (empty) key, so a code
	// derived from it must still be rejected.
	if err := v.Verify("doc-1", "", codeAt(t, "", now)); err != ErrTOTPInvalid {
		t.Errorf("code over empty key: got %v, want ErrTOTPInvalid", err)
	}
	for _, code := range []string{"", "000000", "123456"} {
		if err := v.Verify("doc-1", "", code); err != ErrTOTPInvalid {
			t.Errorf("code %q: got %v, want ErrTOTPInvalid", code, err)
		}
	}
}

func TestTOTPReplayRejected(t *testing.T) {
	secret, _, err := GenerateTOTPSecret("dr.rao@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	now := time.Unix(1_700_000_010, 0)
	v := NewTOTPVerifier()
	v.SetClock(func() time.Time { return now })

	code := codeAt(t, secret, now)
	if err := v.Verify("doc-1", secret, code); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if err := v.Verify("doc-1", secret, code); err != ErrTOTPReplayed {
		t.Errorf("replay: got %v, want ErrTOTPReplayed", err)
	}

	// A different identity may still use the same step.
	if err := v.Verify("doc-2", secret, code); err != nil {
		t.Errorf("other identity: %v", err)
	}

	// The next step is accepted once the clock advances.
	later := now.Add(60 * time.Second)
	v.SetClock(func() time.Time { return later })
	if err := v.Verify("doc-1", secret, codeAt(t, secret, later)); err != nil {
		t.Errorf("later step: %v", err)
	}
}
