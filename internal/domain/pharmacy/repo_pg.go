package pharmacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

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

const ownerCols = `id, name, email, password_hash, phone, shop_name, address, upi_id,
	smtp_host, smtp_port, smtp_username, smtp_password_enc, created_at, updated_at`

func (r *repoPG) CreateOwner(ctx context.Context, o *MedicalOwner) error {
	o.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medical_owner (id, name, email, password_hash, phone, shop_name, address, upi_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.Name, o.Email, o.PasswordHash, o.Phone, o.ShopName, o.Address, o.UPIID)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}

func (r *repoPG) GetOwnerByID(ctx context.Context, id uuid.UUID) (*MedicalOwner, error) {
	return scanOwner(r.conn(ctx).QueryRow(ctx,
		`SELECT `+ownerCols+` FROM medical_owner WHERE id = $1`, id))
}

func (r *repoPG) GetOwnerByEmail(ctx context.Context, email string) (*MedicalOwner, error) {
	return scanOwner(r.conn(ctx).QueryRow(ctx,
		`SELECT `+ownerCols+` FROM medical_owner WHERE lower(email) = lower($1)`, email))
}

func (r *repoPG) UpdateOwner(ctx context.Context, o *MedicalOwner) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medical_owner SET
			name=$2, phone=$3, shop_name=$4, address=$5, upi_id=$6,
			smtp_host=$7, smtp_port=$8, smtp_username=$9, smtp_password_enc=$10,
			updated_at=NOW()
		WHERE id = $1`,
		o.ID, o.Name, o.Phone, o.ShopName, o.Address, o.UPIID,
		o.SMTPHost, o.SMTPPort, o.SMTPUsername, o.SMTPPasswordEnc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOwnerNotFound
	}
	return nil
}

func scanOwner(row pgx.Row) (*MedicalOwner, error) {
	var o MedicalOwner
	err := row.Scan(
		&o.ID, &o.Name, &o.Email, &o.PasswordHash, &o.Phone, &o.ShopName, &o.Address, &o.UPIID,
		&o.SMTPHost, &o.SMTPPort, &o.SMTPUsername, &o.SMTPPasswordEnc, &o.CreatedAt, &o.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrOwnerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

const medicineCols = `id, owner_id, name, manufacturer, batch_no, expiry_date, price, stock,
	created_at, updated_at`

func (r *repoPG) CreateMedicine(ctx context.Context, m *Medicine) error {
	m.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medicine (id, owner_id, name, manufacturer, batch_no, expiry_date, price, stock)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ID, m.OwnerID, m.Name, m.Manufacturer, m.BatchNo, m.ExpiryDate, m.Price, m.Stock)
	if isUniqueViolation(err) {
		return ErrMedicineNameTaken
	}
	return err
}

func (r *repoPG) GetMedicine(ctx context.Context, ownerID, id uuid.UUID) (*Medicine, error) {
	var m Medicine
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+medicineCols+` FROM medicine WHERE id = $1 AND owner_id = $2`, id, ownerID).Scan(
		&m.ID, &m.OwnerID, &m.Name, &m.Manufacturer, &m.BatchNo, &m.ExpiryDate, &m.Price, &m.Stock,
		&m.CreatedAt, &m.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrMedicineNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repoPG) ListMedicines(ctx context.Context, ownerID uuid.UUID, search string, limit, offset int) ([]*Medicine, int, error) {
	pattern := "%" + strings.TrimSpace(search) + "%"
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM medicine
		WHERE owner_id = $1 AND ($2 = '' OR name ILIKE $3 OR manufacturer ILIKE $3)`,
		ownerID, search, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+medicineCols+` FROM medicine
		WHERE owner_id = $1 AND ($2 = '' OR name ILIKE $3 OR manufacturer ILIKE $3)
		ORDER BY name ASC LIMIT $4 OFFSET $5`,
		ownerID, search, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var medicines []*Medicine
	for rows.Next() {
		var m Medicine
		if err := rows.Scan(
			&m.ID, &m.OwnerID, &m.Name, &m.Manufacturer, &m.BatchNo, &m.ExpiryDate, &m.Price, &m.Stock,
			&m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		medicines = append(medicines, &m)
	}
	return medicines, total, rows.Err()
}

func (r *repoPG) UpdateMedicine(ctx context.Context, m *Medicine) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medicine SET
			name=$3, manufacturer=$4, batch_no=$5, expiry_date=$6, price=$7, stock=$8,
			updated_at=NOW()
		WHERE id = $1 AND owner_id = $2`,
		m.ID, m.OwnerID, m.Name, m.Manufacturer, m.BatchNo, m.ExpiryDate, m.Price, m.Stock)
	if isUniqueViolation(err) {
		return ErrMedicineNameTaken
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMedicineNotFound
	}
	return nil
}

func (r *repoPG) DeleteMedicine(ctx context.Context, ownerID, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM medicine WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMedicineNotFound
	}
	return nil
}

func (r *repoPG) DecrementStock(ctx context.Context, ownerID, id uuid.UUID, qty int) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medicine SET stock = stock - $3, updated_at=NOW()
		WHERE id = $1 AND owner_id = $2 AND stock >= $3`,
		id, ownerID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from an empty shelf.
		if _, err := r.GetMedicine(ctx, ownerID, id); err != nil {
			return err
		}
		return ErrInsufficientStock
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
		INSERT INTO pharmacy_bill (id, owner_id, bill_no, customer_name, customer_email, items, total_amount)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		b.ID, b.OwnerID, b.BillNo, b.CustomerName, b.CustomerEmail, items, b.TotalAmount)
	return err
}

func (r *repoPG) GetBill(ctx context.Context, ownerID, id uuid.UUID) (*Bill, error) {
	var b Bill
	var items []byte
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, owner_id, bill_no, customer_name, customer_email, items, total_amount, pdf_file_id, created_at
		FROM pharmacy_bill WHERE id = $1 AND owner_id = $2`, id, ownerID).Scan(
		&b.ID, &b.OwnerID, &b.BillNo, &b.CustomerName, &b.CustomerEmail, &items,
		&b.TotalAmount, &b.PDFFileID, &b.CreatedAt)
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

func (r *repoPG) ListBills(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Bill, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM pharmacy_bill WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, owner_id, bill_no, customer_name, customer_email, items, total_amount, pdf_file_id, created_at
		FROM pharmacy_bill WHERE owner_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var bills []*Bill
	for rows.Next() {
		var b Bill
		var items []byte
		if err := rows.Scan(
			&b.ID, &b.OwnerID, &b.BillNo, &b.CustomerName, &b.CustomerEmail, &items,
			&b.TotalAmount, &b.PDFFileID, &b.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(items, &b.Items); err != nil {
			return nil, 0, fmt.Errorf("decode bill items: %w", err)
		}
		bills = append(bills, &b)
	}
	return bills, total, rows.Err()
}

func (r *repoPG) AttachBillPDF(ctx context.Context, billID, fileID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE pharmacy_bill SET pdf_file_id=$2 WHERE id = $1`, billID, fileID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBillNotFound
	}
	return nil
}
