package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var (
	// ErrTOTPInvalid is returned for a code that matches no step in the
	// accepted window.
	ErrTOTPInvalid = errors.New("invalid one-time code")
	// ErrTOTPReplayed is returned when a code's step has already been
	// accepted for this identity.
	ErrTOTPReplayed = errors.New("one-time code already used")
)

const totpPeriod = 30

// GenerateTOTPSecret provisions a new shared secret for an account and
// returns the base32 secret together with the otpauth:// enrollment URL.
func GenerateTOTPSecret(accountName string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "DoctorCRM",
		AccountName: accountName,
		SecretSize:  20,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// TOTPVerifier validates time-based one-time codes with a one-step skew
// window and rejects replays within that window.
type TOTPVerifier struct {
	now func() time.Time

	mu       sync.Mutex
	lastStep map[string]int64
}

func NewTOTPVerifier() *TOTPVerifier {
	return &TOTPVerifier{
		now:      time.Now,
		lastStep: make(map[string]int64),
	}
}

// SetClock overrides the verifier clock; for tests.
func (v *TOTPVerifier) SetClock(now func() time.Time) { v.now = now }

// Verify checks code against secret, accepting the current 30-second step
// and one step either side. Each accepted step is remembered per identity,
// so presenting the same code twice fails even inside its validity window.
func (v *TOTPVerifier) Verify(identity, secret, code string) error {
	// An account without a provisioned secret has nothing to verify
	// against.
	if secret == "" {
		return ErrTOTPInvalid
	}
	now := v.now()
	step := v.matchStep(secret, code, now)
	if step < 0 {
		return ErrTOTPInvalid
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if last, ok := v.lastStep[identity]; ok && step <= last {
		return ErrTOTPReplayed
	}
	v.lastStep[identity] = step
	return nil
}

// matchStep returns the counter step the code is valid for, or -1.
func (v *TOTPVerifier) matchStep(secret, code string, now time.Time) int64 {
	base := now.Unix() / totpPeriod
	for _, offset := range []int64{0, -1, 1} {
		step := base + offset
		at := time.Unix(step*totpPeriod, 0)
		ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
			Period:    totpPeriod,
			Skew:      0,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err == nil && ok {
			return step
		}
	}
	return -1
}
