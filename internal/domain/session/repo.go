package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Session, error)
	HasSessionForAppointment(ctx context.Context, appointmentID uuid.UUID) (bool, error)
	// Update writes status, actual_end_time and notes.
	Update(ctx context.Context, s *Session) error
}

type AttendanceRepository interface {
	Create(ctx context.Context, a *Attendance) error
	GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*Attendance, error)
	ExistsForPatientOn(ctx context.Context, patientID uuid.UUID, day time.Time) (bool, error)
	SummaryForDate(ctx context.Context, day time.Time) (*DailySummary, error)
}
