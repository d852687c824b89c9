package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doctorcrm/doctorcrm/internal/platform/auth"
)

// PGAudience lists account ids straight from the role tables. Broadcast
// is the only consumer, so a table scan per role is acceptable.
type PGAudience struct {
	pool *pgxpool.Pool
}

func NewPGAudience(pool *pgxpool.Pool) *PGAudience {
	return &PGAudience{pool: pool}
}

func (a *PGAudience) IDsByRole(ctx context.Context, role auth.Role) ([]uuid.UUID, error) {
	var table string
	switch role {
	case auth.RoleDoctor:
		table = "doctor"
	case auth.RolePatient:
		table = "patient"
	case auth.RoleMedicalOwner:
		table = "medical_owner"
	case auth.RoleSubAdmin:
		table = "subadmin"
	default:
		return nil, fmt.Errorf("no account table for role %q", role)
	}

	rows, err := a.pool.Query(ctx, `SELECT id FROM `+table)
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", table, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
