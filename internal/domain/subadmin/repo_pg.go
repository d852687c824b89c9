package subadmin

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const subAdminCols = `id, name, email, password_hash, phone, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, a *SubAdmin) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO subadmin (id, name, email, password_hash, phone)
		VALUES ($1,$2,$3,$4,$5)`,
		a.ID, a.Name, a.Email, a.PasswordHash, a.Phone)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*SubAdmin, error) {
	return scanSubAdmin(r.conn(ctx).QueryRow(ctx,
		`SELECT `+subAdminCols+` FROM subadmin WHERE id = $1`, id))
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*SubAdmin, error) {
	return scanSubAdmin(r.conn(ctx).QueryRow(ctx,
		`SELECT `+subAdminCols+` FROM subadmin WHERE lower(email) = lower($1)`, email))
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*SubAdmin, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM subadmin`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+subAdminCols+` FROM subadmin
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var admins []*SubAdmin
	for rows.Next() {
		var a SubAdmin
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.Phone, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, 0, err
		}
		admins = append(admins, &a)
	}
	return admins, total, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, a *SubAdmin) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE subadmin SET name=$2, phone=$3, updated_at=NOW() WHERE id = $1`,
		a.ID, a.Name, a.Phone)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM subadmin WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSubAdmin(row pgx.Row) (*SubAdmin, error) {
	var a SubAdmin
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.Phone, &a.CreatedAt, &a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
