package sequence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps counters in a single table. The upsert takes a row lock on
// the counter, so concurrent allocations serialize inside Postgres and each
// caller gets a distinct value.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Next(ctx context.Context, name string, seed int64) (int64, error) {
	var value int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO counters (name, value)
		VALUES ($1, $2 + 1)
		ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		RETURNING value`,
		name, seed).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", name, err)
	}
	return value, nil
}
