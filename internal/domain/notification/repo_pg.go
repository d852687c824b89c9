package notification

import (
	"context"
	"errors"
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

const notificationCols = `id, recipient_role, recipient_id, title, body, is_read, created_at`

func (r *repoPG) Create(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO notification (id, recipient_role, recipient_id, title, body, is_read)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, string(n.RecipientRole), n.RecipientID, n.Title, n.Body, n.Read)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *repoPG) CreateBatch(ctx context.Context, ns []*Notification) error {
	for _, n := range ns {
		if err := r.Create(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) ListByRecipient(ctx context.Context, rec Recipient, limit, offset int) ([]*Notification, int, error) {
	q := r.conn(ctx)

	var total int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM notification
		WHERE recipient_role = $1 AND recipient_id = $2`,
		string(rec.Role), rec.ID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT `+notificationCols+` FROM notification
		WHERE recipient_role = $1 AND recipient_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		string(rec.Role), rec.ID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (r *repoPG) CountUnread(ctx context.Context, rec Recipient) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM notification
		WHERE recipient_role = $1 AND recipient_id = $2 AND NOT is_read`,
		string(rec.Role), rec.ID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (r *repoPG) MarkRead(ctx context.Context, rec Recipient, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE notification SET is_read = TRUE
		WHERE id = $1 AND recipient_role = $2 AND recipient_id = $3`,
		id, string(rec.Role), rec.ID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) MarkAllRead(ctx context.Context, rec Recipient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE notification SET is_read = TRUE
		WHERE recipient_role = $1 AND recipient_id = $2 AND NOT is_read`,
		string(rec.Role), rec.ID)
	if err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, rec Recipient, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM notification
		WHERE id = $1 AND recipient_role = $2 AND recipient_id = $3`,
		id, string(rec.Role), rec.ID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var role string
	err := row.Scan(&n.ID, &role, &n.RecipientID, &n.Title, &n.Body, &n.Read, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	n.RecipientRole = auth.Role(role)
	return &n, nil
}
