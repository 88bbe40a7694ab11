package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/pkg/apperror"
)

// =========== Catalog Repository ===========

type catalogRepoPG struct{ pool *pgxpool.Pool }

func NewCatalogRepoPG(pool *pgxpool.Pool) CatalogRepository { return &catalogRepoPG{pool: pool} }

const svcCols = `id, name, price, duration_minutes, created_at`

func scanService(row pgx.Row) (*BillableService, error) {
	var s BillableService
	if err := row.Scan(&s.ID, &s.Name, &s.Price, &s.DurationMinutes, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func collectServices(rows pgx.Rows, err error) ([]*BillableService, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*BillableService
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *catalogRepoPG) Create(ctx context.Context, s *BillableService) error {
	s.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO service (id, name, price, duration_minutes) VALUES ($1,$2,$3,$4)
		RETURNING created_at`,
		s.ID, s.Name, s.Price, s.DurationMinutes,
	).Scan(&s.CreatedAt)
}

func (r *catalogRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*BillableService, error) {
	s, err := scanService(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+svcCols+` FROM service WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("service %s not found", id)
	}
	return s, err
}

func (r *catalogRepoPG) List(ctx context.Context) ([]*BillableService, error) {
	return collectServices(db.Conn(ctx, r.pool).Query(ctx, `SELECT `+svcCols+` FROM service ORDER BY name`))
}

// =========== SessionService Repository ===========

type sessionServiceRepoPG struct{ pool *pgxpool.Pool }

func NewSessionServiceRepoPG(pool *pgxpool.Pool) SessionServiceRepository {
	return &sessionServiceRepoPG{pool: pool}
}

func (r *sessionServiceRepoPG) Add(ctx context.Context, sessionID, serviceID uuid.UUID) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO session_service (session_id, service_id) VALUES ($1,$2)
		ON CONFLICT (session_id, service_id) DO NOTHING`, sessionID, serviceID)
	return err
}

func (r *sessionServiceRepoPG) ListForSession(ctx context.Context, sessionID uuid.UUID) ([]*BillableService, error) {
	return collectServices(db.Conn(ctx, r.pool).Query(ctx, `
		SELECT s.id, s.name, s.price, s.duration_minutes, s.created_at
		FROM session_service ss JOIN service s ON s.id = ss.service_id
		WHERE ss.session_id = $1 ORDER BY ss.created_at`, sessionID))
}

// =========== Bill Repository ===========

type billRepoPG struct{ pool *pgxpool.Pool }

func NewBillRepoPG(pool *pgxpool.Pool) BillRepository { return &billRepoPG{pool: pool} }

func (r *billRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const billCols = `id, session_id, patient_id, amount, date, is_paid, created_at, updated_at`

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	if err := row.Scan(&b.ID, &b.SessionID, &b.PatientID, &b.Amount, &b.Date, &b.IsPaid, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *billRepoPG) Create(ctx context.Context, b *Bill) error {
	b.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bill (id, session_id, patient_id, amount, date, is_paid)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		b.ID, b.SessionID, b.PatientID, b.Amount, b.Date, b.IsPaid,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *billRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM bill WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("bill %s not found", id)
	}
	return b, err
}

func (r *billRepoPG) GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM bill WHERE session_id = $1`, sessionID))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("no bill for session %s", sessionID)
	}
	return b, err
}

func (r *billRepoPG) ExistsForSession(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bill WHERE session_id = $1)`, sessionID).Scan(&exists)
	return exists, err
}

// MarkPaid only flips unpaid bills, so a lost race shows up as Conflict.
func (r *billRepoPG) MarkPaid(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE bill SET is_paid = TRUE, updated_at = NOW() WHERE id = $1 AND NOT is_paid`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.Conflict("bill %s is already paid or does not exist", id)
	}
	return nil
}

func (r *billRepoPG) ListUnpaidByPatient(ctx context.Context, patientID uuid.UUID) ([]*Bill, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+billCols+` FROM bill
		WHERE patient_id = $1 AND NOT is_paid ORDER BY date`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO payment (id, bill_id, amount, date, method) VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		p.ID, p.BillID, p.Amount, p.Date, p.Method,
	).Scan(&p.CreatedAt)
}

func (r *paymentRepoPG) GetByBillID(ctx context.Context, billID uuid.UUID) (*Payment, error) {
	var p Payment
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, bill_id, amount, date, method, created_at FROM payment WHERE bill_id = $1`, billID,
	).Scan(&p.ID, &p.BillID, &p.Amount, &p.Date, &p.Method, &p.CreatedAt)
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("no payment for bill %s", billID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
