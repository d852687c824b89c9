package sequence

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// memoryStore mirrors the upsert semantics of the Postgres store.
type memoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{counters: make(map[string]int64)}
}

func (s *memoryStore) Next(_ context.Context, name string, seed int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.counters[name]
	if !ok {
		value = seed
	}
	value++
	s.counters[name] = value
	return value, nil
}

func TestNextBillNoStartsAboveSeed(t *testing.T) {
	gen := NewGenerator(newMemoryStore())
	ctx := context.Background()

	first, err := gen.NextBillNo(ctx, "clinic-1")
	if err != nil {
		t.Fatalf("next bill: %v", err)
	}
	if first != 1001 {
		t.Errorf("first bill number = %d, want 1001", first)
	}
	second, err := gen.NextBillNo(ctx, "clinic-1")
	if err != nil {
		t.Fatalf("next bill: %v", err)
	}
	if second != 1002 {
		t.Errorf("second bill number = %d, want 1002", second)
	}
}

func TestNextBillNoScopedPerClinic(t *testing.T) {
	gen := NewGenerator(newMemoryStore())
	ctx := context.Background()

	if _, err := gen.NextBillNo(ctx, "clinic-1"); err != nil {
		t.Fatalf("next bill: %v", err)
	}
	other, err := gen.NextBillNo(ctx, "clinic-2")
	if err != nil {
		t.Fatalf("next bill: %v", err)
	}
	if other != 1001 {
		t.Errorf("other clinic's first bill = %d, want 1001", other)
	}
}

func TestNextPatientIDFormat(t *testing.T) {
	gen := NewGenerator(newMemoryStore())
	day := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	gen.SetClock(func() time.Time { return day })

	id, err := gen.NextPatientID(context.Background())
	if err != nil {
		t.Fatalf("next patient id: %v", err)
	}
	if id != "PAT202403150001" {
		t.Errorf("patient id = %q, want PAT202403150001", id)
	}
}

func TestNextPatientIDResetsPerDay(t *testing.T) {
	gen := NewGenerator(newMemoryStore())
	ctx := context.Background()
	day := time.Date(2024, 3, 15, 23, 59, 0, 0, time.UTC)
	gen.SetClock(func() time.Time { return day })

	if _, err := gen.NextPatientID(ctx); err != nil {
		t.Fatalf("next patient id: %v", err)
	}
	if _, err := gen.NextPatientID(ctx); err != nil {
		t.Fatalf("next patient id: %v", err)
	}

	gen.SetClock(func() time.Time { return day.Add(2 * time.Minute) })
	id, err := gen.NextPatientID(ctx)
	if err != nil {
		t.Fatalf("next patient id: %v", err)
	}
	if id != "PAT202403160001" {
		t.Errorf("patient id after midnight = %q, want PAT202403160001", id)
	}
}

func TestConcurrentAllocationUnique(t *testing.T) {
	gen := NewGenerator(newMemoryStore())
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	ids := make(chan string, workers)
	bills := make(chan int64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := gen.NextPatientID(ctx)
			if err != nil {
				t.Errorf("next patient id: %v", err)
				return
			}
			ids <- id
			n, err := gen.NextBillNo(ctx, "clinic-1")
			if err != nil {
				t.Errorf("next bill: %v", err)
				return
			}
			bills <- n
		}()
	}
	wg.Wait()
	close(ids)
	close(bills)

	seenIDs := make(map[string]bool)
	for id := range ids {
		if seenIDs[id] {
			t.Errorf("duplicate patient id %q", id)
		}
		seenIDs[id] = true
		if !strings.HasPrefix(id, "PAT") {
			t.Errorf("patient id %q missing PAT prefix", id)
		}
	}
	seenBills := make(map[int64]bool)
	minBill, maxBill := int64(0), int64(0)
	for n := range bills {
		if seenBills[n] {
			t.Errorf("duplicate bill number %d", n)
		}
		seenBills[n] = true
		if minBill == 0 || n < minBill {
			minBill = n
		}
		if n > maxBill {
			maxBill = n
		}
	}
	if len(seenIDs) != workers || len(seenBills) != workers {
		t.Errorf("got %d patient ids and %d bill numbers, want %d each",
			len(seenIDs), len(seenBills), workers)
	}

	// Distinct values spanning exactly seed+1..seed+workers means no
	// number was skipped or handed out twice.
	if minBill != billSeed+1 {
		t.Errorf("lowest bill number = %d, want %d", minBill, billSeed+1)
	}
	if maxBill != billSeed+workers {
		t.Errorf("highest bill number = %d, want %d", maxBill, billSeed+workers)
	}
}

func TestNextTokenNumberPerDoctorDay(t *testing.T) {
	gen := NewGenerator(newMemoryStore())
	ctx := context.Background()
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	first, err := gen.NextTokenNumber(ctx, "doc-1", day)
	if err != nil {
		t.Fatalf("next token: %v", err)
	}
	if first != 1 {
		t.Errorf("first token = %d, want 1", first)
	}

	otherDoc, err := gen.NextTokenNumber(ctx, "doc-2", day)
	if err != nil {
		t.Fatalf("next token: %v", err)
	}
	if otherDoc != 1 {
		t.Errorf("other doctor's first token = %d, want 1", otherDoc)
	}

	nextDay, err := gen.NextTokenNumber(ctx, "doc-1", day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("next token: %v", err)
	}
	if nextDay != 1 {
		t.Errorf("next day's first token = %d, want 1", nextDay)
	}
}
