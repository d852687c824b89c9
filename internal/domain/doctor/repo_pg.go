package doctor

import (
	"context"
	"errors"
	"time"

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

const doctorCols = `id, name, email, password_hash, phone, specialization, qualification,
	clinic_name, clinic_address, profile_photo_id, signature_id,
	twofa_enabled, twofa_secret_enc, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctor (
			id, name, email, password_hash, phone, specialization, qualification,
			clinic_name, clinic_address
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		d.ID, d.Name, d.Email, d.PasswordHash, d.Phone, d.Specialization, d.Qualification,
		d.ClinicName, d.ClinicAddress,
	)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx,
		`SELECT `+doctorCols+` FROM doctor WHERE id = $1`, id))
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx,
		`SELECT `+doctorCols+` FROM doctor WHERE lower(email) = lower($1)`, email))
}

func (r *repoPG) List(ctx context.Context, search string, limit, offset int) ([]*Doctor, int, error) {
	pattern := "%" + search + "%"
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM doctor
		WHERE $1 = '' OR name ILIKE $2 OR email ILIKE $2 OR COALESCE(specialization,'') ILIKE $2`,
		search, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+doctorCols+` FROM doctor
		WHERE $1 = '' OR name ILIKE $2 OR email ILIKE $2 OR COALESCE(specialization,'') ILIKE $2
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		search, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var doctors []*Doctor
	for rows.Next() {
		d, err := scanDoctorRows(rows)
		if err != nil {
			return nil, 0, err
		}
		doctors = append(doctors, d)
	}
	return doctors, total, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, d *Doctor) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctor SET
			name=$2, phone=$3, specialization=$4, qualification=$5,
			clinic_name=$6, clinic_address=$7, profile_photo_id=$8, signature_id=$9,
			updated_at=NOW()
		WHERE id = $1`,
		d.ID, d.Name, d.Phone, d.Specialization, d.Qualification,
		d.ClinicName, d.ClinicAddress, d.ProfilePhotoID, d.SignatureID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE doctor SET password_hash=$2, updated_at=NOW() WHERE id = $1`,
		id, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) SetTwoFA(ctx context.Context, id uuid.UUID, secretEnc *string, enabled bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE doctor SET twofa_secret_enc=$2, twofa_enabled=$3, updated_at=NOW() WHERE id = $1`,
		id, secretEnc, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) SavePasswordReset(ctx context.Context, pr *PasswordReset) error {
	pr.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctor_password_reset (id, doctor_id, otp_hash, expires_at)
		VALUES ($1,$2,$3,$4)`,
		pr.ID, pr.DoctorID, pr.OTPHash, pr.ExpiresAt)
	return err
}

func (r *repoPG) ConsumePasswordReset(ctx context.Context, doctorID uuid.UUID, otpHash string, now time.Time) error {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE doctor_password_reset
		SET used = TRUE
		WHERE doctor_id = $1 AND otp_hash = $2 AND NOT used AND expires_at > $3
		RETURNING id`,
		doctorID, otpHash, now).Scan(&id)
	if err == pgx.ErrNoRows {
		return ErrInvalidOTP
	}
	return err
}

func (r *repoPG) AddVideo(ctx context.Context, v *Video) error {
	v.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctor_video (id, doctor_id, title, file_id)
		VALUES ($1,$2,$3,$4)`,
		v.ID, v.DoctorID, v.Title, v.FileID)
	return err
}

func (r *repoPG) GetVideo(ctx context.Context, doctorID, videoID uuid.UUID) (*Video, error) {
	var v Video
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, doctor_id, title, file_id, created_at
		FROM doctor_video WHERE id = $1 AND doctor_id = $2`,
		videoID, doctorID).Scan(&v.ID, &v.DoctorID, &v.Title, &v.FileID, &v.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrVideoNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *repoPG) ListVideos(ctx context.Context, doctorID uuid.UUID) ([]*Video, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, doctor_id, title, file_id, created_at
		FROM doctor_video WHERE doctor_id = $1 ORDER BY created_at DESC`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		var v Video
		if err := rows.Scan(&v.ID, &v.DoctorID, &v.Title, &v.FileID, &v.CreatedAt); err != nil {
			return nil, err
		}
		videos = append(videos, &v)
	}
	return videos, rows.Err()
}

func (r *repoPG) DeleteVideo(ctx context.Context, doctorID, videoID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM doctor_video WHERE id = $1 AND doctor_id = $2`, videoID, doctorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVideoNotFound
	}
	return nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID, &d.Name, &d.Email, &d.PasswordHash, &d.Phone, &d.Specialization, &d.Qualification,
		&d.ClinicName, &d.ClinicAddress, &d.ProfilePhotoID, &d.SignatureID,
		&d.TwoFAEnabled, &d.TwoFASecretEnc, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanDoctorRows(rows pgx.Rows) (*Doctor, error) {
	var d Doctor
	err := rows.Scan(
		&d.ID, &d.Name, &d.Email, &d.PasswordHash, &d.Phone, &d.Specialization, &d.Qualification,
		&d.ClinicName, &d.ClinicAddress, &d.ProfilePhotoID, &d.SignatureID,
		&d.TwoFAEnabled, &d.TwoFASecretEnc, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
