package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/pkg/apperror"
)

// =========== WorkSchedule Repository ===========

type workScheduleRepoPG struct{ pool *pgxpool.Pool }

func NewWorkScheduleRepoPG(pool *pgxpool.Pool) WorkScheduleRepository {
	return &workScheduleRepoPG{pool: pool}
}

func (r *workScheduleRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const wsCols = `id, doctor_id, day_of_week, start_time, end_time, is_available, created_at`

func toPGTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: time.Duration(t).Microseconds(), Valid: true}
}

func fromPGTime(t pgtype.Time) TimeOfDay {
	return TimeOfDay(time.Duration(t.Microseconds) * time.Microsecond)
}

func (r *workScheduleRepoPG) scanSchedule(row pgx.Row) (*WorkSchedule, error) {
	var (
		w          WorkSchedule
		dow        int16
		start, end pgtype.Time
	)
	err := row.Scan(&w.ID, &w.DoctorID, &dow, &start, &end, &w.IsAvailable, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	w.DayOfWeek = time.Weekday(dow)
	w.StartTime = fromPGTime(start)
	w.EndTime = fromPGTime(end)
	return &w, nil
}

func (r *workScheduleRepoPG) Create(ctx context.Context, w *WorkSchedule) error {
	w.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO work_schedule (id, doctor_id, day_of_week, start_time, end_time, is_available)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		w.ID, w.DoctorID, int16(w.DayOfWeek), toPGTime(w.StartTime), toPGTime(w.EndTime), w.IsAvailable,
	).Scan(&w.CreatedAt)
}

func (r *workScheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*WorkSchedule, error) {
	w, err := r.scanSchedule(r.conn(ctx).QueryRow(ctx, `SELECT `+wsCols+` FROM work_schedule WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("work schedule %s not found", id)
	}
	return w, err
}

func (r *workScheduleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM work_schedule WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("work schedule %s not found", id)
	}
	return nil
}

func (r *workScheduleRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*WorkSchedule, error) {
	return r.list(ctx, `SELECT `+wsCols+` FROM work_schedule WHERE doctor_id = $1 ORDER BY day_of_week, start_time`, doctorID)
}

func (r *workScheduleRepoPG) ListByDoctorAndDay(ctx context.Context, doctorID uuid.UUID, day time.Weekday) ([]*WorkSchedule, error) {
	return r.list(ctx, `SELECT `+wsCols+` FROM work_schedule WHERE doctor_id = $1 AND day_of_week = $2 ORDER BY start_time`,
		doctorID, int16(day))
}

func (r *workScheduleRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*WorkSchedule, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*WorkSchedule
	for rows.Next() {
		w, err := r.scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, doctor_id, patient_id, date, status, COALESCE(notes, ''), created_at, updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.Date, &a.Status, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, doctor_id, patient_id, date, status, notes)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6, ''))
		RETURNING created_at, updated_at`,
		a.ID, a.DoctorID, a.PatientID, a.Date, a.Status, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("appointment %s not found", id)
	}
	return a, err
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET doctor_id=$2, patient_id=$3, date=$4, notes=NULLIF($5, ''), updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.DoctorID, a.PatientID, a.Date, a.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("appointment %s not found", a.ID)
	}
	return nil
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE appointment SET status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("appointment %s not found", id)
	}
	return nil
}

func (r *appointmentRepoPG) ExistsForDoctorAt(ctx context.Context, doctorID uuid.UUID, at time.Time, excludeID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM appointment
			WHERE doctor_id = $1 AND date = $2 AND status <> 'Cancelled' AND id <> $3)`,
		doctorID, at, excludeID).Scan(&exists)
	return exists, err
}

func (r *appointmentRepoPG) ExistsForPatientAt(ctx context.Context, patientID uuid.UUID, at time.Time, excludeID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM appointment
			WHERE patient_id = $1 AND date = $2 AND status <> 'Cancelled' AND id <> $3)`,
		patientID, at, excludeID).Scan(&exists)
	return exists, err
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return r.page(ctx, `doctor_id = $1`, doctorID, limit, offset)
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return r.page(ctx, `patient_id = $1`, patientID, limit, offset)
}

func (r *appointmentRepoPG) page(ctx context.Context, where string, id uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE `+where, id).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.list(ctx, `SELECT `+apptCols+` FROM appointment WHERE `+where+` ORDER BY date DESC LIMIT $2 OFFSET $3`,
		id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *appointmentRepoPG) ListActiveByDoctorFrom(ctx context.Context, doctorID uuid.UUID, from time.Time) ([]*Appointment, error) {
	return r.list(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE doctor_id = $1 AND date >= $2 AND status <> 'Cancelled' ORDER BY date`, doctorID, from)
}

func (r *appointmentRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
