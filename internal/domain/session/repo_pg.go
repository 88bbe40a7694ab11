package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/pkg/apperror"
)

// =========== Session Repository ===========

type sessionRepoPG struct{ pool *pgxpool.Pool }

func NewSessionRepoPG(pool *pgxpool.Pool) SessionRepository { return &sessionRepoPG{pool: pool} }

func (r *sessionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const sessionCols = `id, appointment_id, doctor_id, patient_id, status, actual_start_time,
	actual_end_time, COALESCE(notes, ''), created_at, updated_at`

func (r *sessionRepoPG) scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.AppointmentID, &s.DoctorID, &s.PatientID, &s.Status, &s.ActualStartTime,
		&s.ActualEndTime, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	s.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO session (id, appointment_id, doctor_id, patient_id, status, actual_start_time, notes)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7, ''))
		RETURNING created_at, updated_at`,
		s.ID, s.AppointmentID, s.DoctorID, s.PatientID, s.Status, s.ActualStartTime, s.Notes,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *sessionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	s, err := r.scanSession(r.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM session WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("session %s not found", id)
	}
	return s, err
}

func (r *sessionRepoPG) GetByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Session, error) {
	s, err := r.scanSession(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sessionCols+` FROM session WHERE appointment_id = $1`, appointmentID))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("no session for appointment %s", appointmentID)
	}
	return s, err
}

func (r *sessionRepoPG) HasSessionForAppointment(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM session WHERE appointment_id = $1)`, appointmentID).Scan(&exists)
	return exists, err
}

func (r *sessionRepoPG) Update(ctx context.Context, s *Session) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE session SET status=$2, actual_end_time=$3, notes=NULLIF($4, ''), updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.Status, s.ActualEndTime, s.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("session %s not found", s.ID)
	}
	return nil
}

// =========== Attendance Repository ===========

type attendanceRepoPG struct{ pool *pgxpool.Pool }

func NewAttendanceRepoPG(pool *pgxpool.Pool) AttendanceRepository {
	return &attendanceRepoPG{pool: pool}
}

func (r *attendanceRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *attendanceRepoPG) Create(ctx context.Context, a *Attendance) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO attendance (id, session_id, patient_id, attended_on, is_present, notes)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6, ''))
		RETURNING created_at`,
		a.ID, a.SessionID, a.PatientID, a.AttendedOn, a.IsPresent, a.Notes,
	).Scan(&a.CreatedAt)
}

func (r *attendanceRepoPG) GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*Attendance, error) {
	var a Attendance
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, session_id, patient_id, attended_on, is_present, COALESCE(notes, ''), created_at
		FROM attendance WHERE session_id = $1`, sessionID,
	).Scan(&a.ID, &a.SessionID, &a.PatientID, &a.AttendedOn, &a.IsPresent, &a.Notes, &a.CreatedAt)
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("no attendance recorded for session %s", sessionID)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *attendanceRepoPG) ExistsForPatientOn(ctx context.Context, patientID uuid.UUID, day time.Time) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM attendance WHERE patient_id = $1 AND attended_on = $2)`,
		patientID, day).Scan(&exists)
	return exists, err
}

func (r *attendanceRepoPG) SummaryForDate(ctx context.Context, day time.Time) (*DailySummary, error) {
	sum := DailySummary{Date: day.Format("2006-01-02")}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(DISTINCT patient_id),
			COUNT(*) FILTER (WHERE is_present),
			COUNT(*) FILTER (WHERE NOT is_present)
		FROM attendance WHERE attended_on = $1`, day,
	).Scan(&sum.TotalPatients, &sum.PresentCount, &sum.AbsentCount)
	if err != nil {
		return nil, err
	}
	return &sum, nil
}
