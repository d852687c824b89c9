package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

const patientCols = `id, patient_id, doctor_id, name, password_hash, email, age, gender, phone,
	address, blood_group, medical_history, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (
			id, patient_id, doctor_id, name, password_hash, email, age, gender, phone,
			address, blood_group, medical_history
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		p.ID, p.PatientID, p.DoctorID, p.Name, p.PasswordHash, p.Email, p.Age, p.Gender, p.Phone,
		p.Address, p.BloodGroup, p.MedicalHistory,
	)
	if isUniqueViolation(err) {
		return ErrPatientIDTaken
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *repoPG) GetByPatientID(ctx context.Context, patientID string) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE patient_id = $1`, patientID))
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, search string, limit, offset int) ([]*Patient, int, error) {
	pattern := "%" + search + "%"
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM patient
		WHERE doctor_id = $1 AND ($2 = '' OR name ILIKE $3 OR patient_id ILIKE $3)`,
		doctorID, search, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+patientCols+` FROM patient
		WHERE doctor_id = $1 AND ($2 = '' OR name ILIKE $3 OR patient_id ILIKE $3)
		ORDER BY created_at DESC LIMIT $4 OFFSET $5`,
		doctorID, search, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(
			&p.ID, &p.PatientID, &p.DoctorID, &p.Name, &p.PasswordHash, &p.Email, &p.Age, &p.Gender,
			&p.Phone, &p.Address, &p.BloodGroup, &p.MedicalHistory, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		patients = append(patients, &p)
	}
	return patients, total, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET
			name=$2, email=$3, age=$4, gender=$5, phone=$6, address=$7,
			blood_group=$8, medical_history=$9, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.Email, p.Age, p.Gender, p.Phone, p.Address, p.BloodGroup, p.MedicalHistory,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) AddReport(ctx context.Context, rep *Report) error {
	rep.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_report (id, patient_id, doctor_id, title, findings, report_date, file_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rep.ID, rep.PatientID, rep.DoctorID, rep.Title, rep.Findings, rep.ReportDate, rep.FileID)
	return err
}

func (r *repoPG) GetReport(ctx context.Context, patientID, reportID uuid.UUID) (*Report, error) {
	var rep Report
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, title, findings, report_date, file_id, created_at
		FROM patient_report WHERE id = $1 AND patient_id = $2`,
		reportID, patientID).Scan(
		&rep.ID, &rep.PatientID, &rep.DoctorID, &rep.Title, &rep.Findings,
		&rep.ReportDate, &rep.FileID, &rep.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func (r *repoPG) ListReports(ctx context.Context, patientID uuid.UUID) ([]*Report, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, doctor_id, title, findings, report_date, file_id, created_at
		FROM patient_report WHERE patient_id = $1 ORDER BY report_date DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		var rep Report
		if err := rows.Scan(
			&rep.ID, &rep.PatientID, &rep.DoctorID, &rep.Title, &rep.Findings,
			&rep.ReportDate, &rep.FileID, &rep.CreatedAt,
		); err != nil {
			return nil, err
		}
		reports = append(reports, &rep)
	}
	return reports, rows.Err()
}

func (r *repoPG) AddPrescription(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO prescription (id, patient_id, doctor_id, medication, dosage, duration, notes, issued_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.PatientID, p.DoctorID, p.Medication, p.Dosage, p.Duration, p.Notes, p.IssuedAt)
	return err
}

func (r *repoPG) GetPrescription(ctx context.Context, patientID, prescriptionID uuid.UUID) (*Prescription, error) {
	var p Prescription
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, medication, dosage, duration, notes, issued_at, pdf_file_id
		FROM prescription WHERE id = $1 AND patient_id = $2`,
		prescriptionID, patientID).Scan(
		&p.ID, &p.PatientID, &p.DoctorID, &p.Medication, &p.Dosage, &p.Duration,
		&p.Notes, &p.IssuedAt, &p.PDFFileID)
	if err == pgx.ErrNoRows {
		return nil, ErrPrescriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) ListPrescriptions(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, doctor_id, medication, dosage, duration, notes, issued_at, pdf_file_id
		FROM prescription WHERE patient_id = $1 ORDER BY issued_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prescriptions []*Prescription
	for rows.Next() {
		var p Prescription
		if err := rows.Scan(
			&p.ID, &p.PatientID, &p.DoctorID, &p.Medication, &p.Dosage, &p.Duration,
			&p.Notes, &p.IssuedAt, &p.PDFFileID,
		); err != nil {
			return nil, err
		}
		prescriptions = append(prescriptions, &p)
	}
	return prescriptions, rows.Err()
}

func (r *repoPG) AttachPrescriptionPDF(ctx context.Context, prescriptionID, fileID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE prescription SET pdf_file_id=$2 WHERE id = $1`, prescriptionID, fileID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPrescriptionNotFound
	}
	return nil
}

func (r *repoPG) AddBill(ctx context.Context, b *Bill) error {
	b.ID = uuid.New()
	items, err := json.Marshal(b.Items)
	if err != nil {
		return fmt.Errorf("encode bill items: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_bill (id, patient_id, doctor_id, bill_no, items, total_amount, paid)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		b.ID, b.PatientID, b.DoctorID, b.BillNo, items, b.TotalAmount, b.Paid)
	return err
}

func (r *repoPG) GetBill(ctx context.Context, patientID, billID uuid.UUID) (*Bill, error) {
	var b Bill
	var items []byte
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, bill_no, items, total_amount, paid, pdf_file_id, created_at
		FROM patient_bill WHERE id = $1 AND patient_id = $2`,
		billID, patientID).Scan(
		&b.ID, &b.PatientID, &b.DoctorID, &b.BillNo, &items, &b.TotalAmount,
		&b.Paid, &b.PDFFileID, &b.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrBillNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &b.Items); err != nil {
		return nil, fmt.Errorf("decode bill items: %w", err)
	}
	return &b, nil
}

func (r *repoPG) ListBills(ctx context.Context, patientID uuid.UUID) ([]*Bill, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, doctor_id, bill_no, items, total_amount, paid, pdf_file_id, created_at
		FROM patient_bill WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bills []*Bill
	for rows.Next() {
		var b Bill
		var items []byte
		if err := rows.Scan(
			&b.ID, &b.PatientID, &b.DoctorID, &b.BillNo, &items, &b.TotalAmount,
			&b.Paid, &b.PDFFileID, &b.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(items, &b.Items); err != nil {
			return nil, fmt.Errorf("decode bill items: %w", err)
		}
		bills = append(bills, &b)
	}
	return bills, rows.Err()
}

func (r *repoPG) SetBillPaid(ctx context.Context, billID uuid.UUID, paid bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patient_bill SET paid=$2 WHERE id = $1`, billID, paid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBillNotFound
	}
	return nil
}

func (r *repoPG) AttachBillPDF(ctx context.Context, billID, fileID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patient_bill SET pdf_file_id=$2 WHERE id = $1`, billID, fileID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBillNotFound
	}
	return nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.PatientID, &p.DoctorID, &p.Name, &p.PasswordHash, &p.Email, &p.Age, &p.Gender,
		&p.Phone, &p.Address, &p.BloodGroup, &p.MedicalHistory, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
