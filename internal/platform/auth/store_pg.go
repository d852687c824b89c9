package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRefreshTokenStore stores refresh-token digests in Postgres.
type PGRefreshTokenStore struct {
	pool *pgxpool.Pool
}

func NewPGRefreshTokenStore(pool *pgxpool.Pool) *PGRefreshTokenStore {
	return &PGRefreshTokenStore{pool: pool}
}

func (s *PGRefreshTokenStore) Save(ctx context.Context, subject, tokenHash string, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (subject_id, token_hash, expires_at)
		VALUES ($1, $2, $3)`,
		subject, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// Consume is the rotation gate. The conditional UPDATE with RETURNING makes
// the revoked transition atomic: of two racing calls on the same digest,
// exactly one sees a row and the other gets ErrInvalidToken.
func (s *PGRefreshTokenStore) Consume(ctx context.Context, subject, tokenHash string) error {
	var id string
	err := s.pool.QueryRow(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE subject_id = $1 AND token_hash = $2
		  AND NOT revoked AND expires_at > NOW()
		RETURNING id`,
		subject, tokenHash).Scan(&id)
	if err == pgx.ErrNoRows {
		return ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("consume refresh token: %w", err)
	}
	return nil
}

func (s *PGRefreshTokenStore) Revoke(ctx context.Context, tokenHash string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1`,
		tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// PurgeExpired deletes rows past their expiry; run periodically from the
// server's housekeeping loop.
func (s *PGRefreshTokenStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
