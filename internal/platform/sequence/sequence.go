// Package sequence hands out gap-tolerant monotonically increasing numbers
// backed by named database counters. Every caller observes a unique value
// even under concurrent allocation because the increment happens in a single
// conditional upsert.
package sequence

import (
	"context"
	"fmt"
	"time"
)

// Store allocates the next value of a named counter. A counter that does not
// exist yet starts from seed, so the first returned value is seed+1.
type Store interface {
	Next(ctx context.Context, name string, seed int64) (int64, error)
}

// Bill numbers start above 1000 so early invoices never collide with the
// number ranges of the paper books they replaced.
const billSeed = 1000

// Generator turns raw counter values into the identifier formats the
// clinic's documents use.
type Generator struct {
	store Store
	now   func() time.Time
}

func NewGenerator(store Store) *Generator {
	return &Generator{store: store, now: time.Now}
}

// SetClock overrides the generator clock; for tests.
func (g *Generator) SetClock(now func() time.Time) { g.now = now }

// NextBillNo returns the next invoice number for a clinic. Counters are
// scoped per clinic so each clinic's bills stay contiguous.
func (g *Generator) NextBillNo(ctx context.Context, clinicID string) (int64, error) {
	n, err := g.store.Next(ctx, "bill:"+clinicID, billSeed)
	if err != nil {
		return 0, fmt.Errorf("next bill number: %w", err)
	}
	return n, nil
}

// NextPharmacyBillNo returns the next point-of-sale bill number for a
// pharmacy, scoped per owner like clinic bills.
func (g *Generator) NextPharmacyBillNo(ctx context.Context, ownerID string) (int64, error) {
	n, err := g.store.Next(ctx, "pharmacy_bill:"+ownerID, billSeed)
	if err != nil {
		return 0, fmt.Errorf("next pharmacy bill number: %w", err)
	}
	return n, nil
}

// NextPatientID returns a human-readable patient identifier of the form
// PAT<YYYYMMDD><NNNN>. The counter resets naturally each day because the
// date is baked into the counter name.
func (g *Generator) NextPatientID(ctx context.Context) (string, error) {
	day := g.now().Format("20060102")
	n, err := g.store.Next(ctx, "patient:"+day, 0)
	if err != nil {
		return "", fmt.Errorf("next patient id: %w", err)
	}
	return fmt.Sprintf("PAT%s%04d", day, n), nil
}

// NextTokenNumber returns the next queue token for a doctor's day of
// appointments, starting from 1 each day.
func (g *Generator) NextTokenNumber(ctx context.Context, doctorID string, day time.Time) (int64, error) {
	name := fmt.Sprintf("token:%s:%s", doctorID, day.Format("20060102"))
	n, err := g.store.Next(ctx, name, 0)
	if err != nil {
		return 0, fmt.Errorf("next token number: %w", err)
	}
	return n, nil
}
