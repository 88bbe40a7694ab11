package clinical

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/pkg/apperror"
)

// =========== Prescription Repository ===========

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const rxCols = `id, session_id, medication_name, dosage, COALESCE(notes, ''), created_at`

func (r *prescriptionRepoPG) scanRx(row pgx.Row) (*Prescription, error) {
	var p Prescription
	if err := row.Scan(&p.ID, &p.SessionID, &p.MedicationName, &p.Dosage, &p.Notes, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescription (id, session_id, medication_name, dosage, notes)
		VALUES ($1,$2,$3,$4,NULLIF($5, ''))
		RETURNING created_at`,
		p.ID, p.SessionID, p.MedicationName, p.Dosage, p.Notes,
	).Scan(&p.CreatedAt)
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := r.scanRx(r.conn(ctx).QueryRow(ctx, `SELECT `+rxCols+` FROM prescription WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("prescription %s not found", id)
	}
	return p, err
}

func (r *prescriptionRepoPG) GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*Prescription, error) {
	p, err := r.scanRx(r.conn(ctx).QueryRow(ctx, `SELECT `+rxCols+` FROM prescription WHERE session_id = $1`, sessionID))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("no prescription for session %s", sessionID)
	}
	return p, err
}

func (r *prescriptionRepoPG) ExistsForSession(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM prescription WHERE session_id = $1)`, sessionID).Scan(&exists)
	return exists, err
}

// =========== MedicalRecord Repository ===========

type medicalRecordRepoPG struct{ pool *pgxpool.Pool }

func NewMedicalRecordRepoPG(pool *pgxpool.Pool) MedicalRecordRepository {
	return &medicalRecordRepoPG{pool: pool}
}

func (r *medicalRecordRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const mrCols = `id, prescription_id, patient_id, doctor_id, date, diagnosis, COALESCE(notes, ''), created_at`

func (r *medicalRecordRepoPG) scanRecord(row pgx.Row) (*MedicalRecord, error) {
	var m MedicalRecord
	err := row.Scan(&m.ID, &m.PrescriptionID, &m.PatientID, &m.DoctorID, &m.Date, &m.Diagnosis, &m.Notes, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *medicalRecordRepoPG) Create(ctx context.Context, m *MedicalRecord) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_record (id, prescription_id, patient_id, doctor_id, date, diagnosis, notes)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7, ''))
		RETURNING created_at`,
		m.ID, m.PrescriptionID, m.PatientID, m.DoctorID, m.Date, m.Diagnosis, m.Notes,
	).Scan(&m.CreatedAt)
}

func (r *medicalRecordRepoPG) GetByPrescriptionID(ctx context.Context, prescriptionID uuid.UUID) (*MedicalRecord, error) {
	m, err := r.scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+mrCols+` FROM medical_record WHERE prescription_id = $1`, prescriptionID))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("no medical record for prescription %s", prescriptionID)
	}
	return m, err
}

func (r *medicalRecordRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medical_record WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+mrCols+` FROM medical_record
		WHERE patient_id = $1 ORDER BY date DESC, created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MedicalRecord
	for rows.Next() {
		m, err := r.scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}
