package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type WorkScheduleRepository interface {
	Create(ctx context.Context, w *WorkSchedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*WorkSchedule, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*WorkSchedule, error)
	ListByDoctorAndDay(ctx context.Context, doctorID uuid.UUID, day time.Weekday) ([]*WorkSchedule, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) error
	// ExistsForDoctorAt ignores cancelled appointments and excludeID.
	ExistsForDoctorAt(ctx context.Context, doctorID uuid.UUID, at time.Time, excludeID uuid.UUID) (bool, error)
	ExistsForPatientAt(ctx context.Context, patientID uuid.UUID, at time.Time, excludeID uuid.UUID) (bool, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	// ListActiveByDoctorFrom returns non-cancelled appointments dated at or after from.
	ListActiveByDoctorFrom(ctx context.Context, doctorID uuid.UUID, from time.Time) ([]*Appointment, error)
}

// SessionChecker reports whether treatment has begun for an appointment.
type SessionChecker interface {
	HasSessionForAppointment(ctx context.Context, appointmentID uuid.UUID) (bool, error)
}

// Directory answers whether the people referenced by a booking exist and are active.
type Directory interface {
	DoctorExists(ctx context.Context, id uuid.UUID) (bool, error)
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}
