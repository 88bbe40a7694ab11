package clinical

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/domain/session"
)

type PrescriptionRepository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*Prescription, error)
	ExistsForSession(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

type MedicalRecordRepository interface {
	Create(ctx context.Context, m *MedicalRecord) error
	GetByPrescriptionID(ctx context.Context, prescriptionID uuid.UUID) (*MedicalRecord, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error)
}

type SessionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*session.Session, error)
}

type AttendanceReader interface {
	GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*session.Attendance, error)
}

type AppointmentReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}
