package scheduling

import (
	"context"
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

const appointmentCols = `id, doctor_id, patient_id, date, time_slot, reason, status,
	token_number, notes, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment (id, doctor_id, patient_id, date, time_slot, reason, status, token_number, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.DoctorID, a.PatientID, a.Date, a.TimeSlot, a.Reason, a.Status, a.TokenNumber, a.Notes)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var a Appointment
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+appointmentCols+` FROM appointment WHERE id = $1`, id).Scan(
		&a.ID, &a.DoctorID, &a.PatientID, &a.Date, &a.TimeSlot, &a.Reason, &a.Status,
		&a.TokenNumber, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET
			date=$2, time_slot=$3, reason=$4, status=$5, token_number=$6, notes=$7,
			updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Date, a.TimeSlot, a.Reason, a.Status, a.TokenNumber, a.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	var day *time.Time
	if !f.Day.IsZero() {
		d := f.Day.Truncate(24 * time.Hour)
		day = &d
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment
		WHERE doctor_id = $1
		  AND ($2 = '' OR status = $2)
		  AND ($3::timestamptz IS NULL OR date >= $3 AND date < $3 + INTERVAL '1 day')`,
		doctorID, string(f.Status), day).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentCols+` FROM appointment
		WHERE doctor_id = $1
		  AND ($2 = '' OR status = $2)
		  AND ($3::timestamptz IS NULL OR date >= $3 AND date < $3 + INTERVAL '1 day')
		ORDER BY date ASC, token_number ASC NULLS LAST
		LIMIT $4 OFFSET $5`,
		doctorID, string(f.Status), day, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	appts, err := collectAppointments(rows)
	return appts, total, err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentCols+` FROM appointment
		WHERE patient_id = $1 ORDER BY date DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *repoPG) CountByStatus(ctx context.Context, doctorID uuid.UUID, day time.Time) (StatusCounts, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT status, COUNT(*) FROM appointment
		WHERE doctor_id = $1 AND date >= $2 AND date < $2 + INTERVAL '1 day'
		GROUP BY status`,
		doctorID, day.Truncate(24*time.Hour))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(StatusCounts)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	var appts []*Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(
			&a.ID, &a.DoctorID, &a.PatientID, &a.Date, &a.TimeSlot, &a.Reason, &a.Status,
			&a.TokenNumber, &a.Notes, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		appts = append(appts, &a)
	}
	return appts, rows.Err()
}
