package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doctorcrm/doctorcrm/internal/platform/auth"
	"github.com/doctorcrm/doctorcrm/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const messageCols = `id, doctor_id, patient_id, sender_role, body, created_at`

func (r *repoPG) Add(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO chat_message (id, doctor_id, patient_id, sender_role, body)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.DoctorID, m.PatientID, string(m.SenderRole), m.Body)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

func (r *repoPG) ListThread(ctx context.Context, doctorID, patientID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	q := r.conn(ctx)

	var total int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM chat_message
		WHERE doctor_id = $1 AND patient_id = $2`,
		doctorID, patientID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count chat messages: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT `+messageCols+` FROM chat_message
		WHERE doctor_id = $1 AND patient_id = $2
		ORDER BY created_at ASC
		LIMIT $3 OFFSET $4`,
		doctorID, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.DoctorID, &m.PatientID, &role, &m.Body, &m.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan chat message: %w", err)
		}
		m.SenderRole = auth.Role(role)
		out = append(out, &m)
	}
	return out, total, rows.Err()
}
