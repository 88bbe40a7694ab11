package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/lock"
	"github.com/clinic/clinic/internal/platform/uow"
	"github.com/clinic/clinic/pkg/apperror"
)

// DefaultEarlyStart is how long before the appointment a session may begin.
const DefaultEarlyStart = 10 * time.Minute

type Service struct {
	sessions     SessionRepository
	attendance   AttendanceRepository
	appointments scheduling.AppointmentRepository
	uow          *uow.Runner
	earlyStart   time.Duration
	loc          *time.Location
}

// NewService builds the session lifecycle and attendance gate. Attendance
// dates are the appointment's calendar date in loc.
func NewService(sessions SessionRepository, attendance AttendanceRepository, appts scheduling.AppointmentRepository,
	runner *uow.Runner, earlyStart time.Duration, loc *time.Location) *Service {
	if earlyStart <= 0 {
		earlyStart = DefaultEarlyStart
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		sessions:     sessions,
		attendance:   attendance,
		appointments: appts,
		uow:          runner,
		earlyStart:   earlyStart,
		loc:          loc,
	}
}

// StartSession opens the session of a confirmed appointment, at most
// earlyStart before its scheduled time.
func (s *Service) StartSession(ctx context.Context, appointmentID uuid.UUID) (uuid.UUID, error) {
	if appointmentID == uuid.Nil {
		return uuid.Nil, apperror.Validation("appointment_id is required")
	}
	var sess *Session
	err := s.uow.Do(ctx, []string{lock.AppointmentKey(appointmentID.String())}, func(ctx context.Context) error {
		appt, err := s.appointments.GetByID(ctx, appointmentID)
		if err != nil {
			return err
		}
		exists, err := s.sessions.HasSessionForAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if exists {
			return apperror.Conflict("a session already exists for appointment %s", appointmentID)
		}
		now := s.uow.Now()
		if now.Before(appt.Date.Add(-s.earlyStart)) {
			return apperror.Conflict("session cannot start more than %s before the appointment at %s",
				s.earlyStart, appt.Date.Format(time.RFC3339))
		}
		if appt.Status != scheduling.StatusConfirmed {
			return apperror.Conflict("appointment must be confirmed to start a session, status is %s", appt.Status)
		}

		sess = &Session{
			AppointmentID:   appt.ID,
			DoctorID:        appt.DoctorID,
			PatientID:       appt.PatientID,
			Status:          StatusScheduled,
			ActualStartTime: now,
		}
		return s.sessions.Create(ctx, sess)
	})
	if err != nil {
		return uuid.Nil, err
	}
	s.uow.Record(ctx, "start", "Session", sess.ID, "appointment="+appointmentID.String())
	return sess.ID, nil
}

// outcomes maps the statuses EndSession accepts to the appointment status they imply.
var outcomes = map[Status]scheduling.AppointmentStatus{
	StatusConfirmed: scheduling.StatusConfirmed,
	StatusCancelled: scheduling.StatusCancelled,
}

// EndSession closes a Scheduled session as Confirmed or Cancelled and carries
// the outcome over to its appointment.
func (s *Service) EndSession(ctx context.Context, sessionID uuid.UUID, status Status) error {
	apptStatus, ok := outcomes[status]
	if !ok {
		return apperror.InvalidTransition("only Scheduled sessions may be ended with Confirmed or Cancelled, got %q", status)
	}
	err := s.uow.Do(ctx, []string{lock.SessionKey(sessionID.String())}, func(ctx context.Context) error {
		sess, err := s.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status != StatusScheduled {
			return apperror.InvalidTransition("only Scheduled sessions may be ended with Confirmed or Cancelled, session is %s", sess.Status)
		}
		return s.close(ctx, sess, status, apptStatus)
	})
	if err != nil {
		return err
	}
	s.uow.Record(ctx, "end", "Session", sessionID, "status="+string(status))
	return nil
}

// MarkNoShow closes a Scheduled session whose patient never arrived and
// cancels the appointment.
func (s *Service) MarkNoShow(ctx context.Context, sessionID uuid.UUID) error {
	err := s.uow.Do(ctx, []string{lock.SessionKey(sessionID.String())}, func(ctx context.Context) error {
		sess, err := s.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status != StatusScheduled {
			return apperror.InvalidTransition("only Scheduled sessions may be marked NoShow, session is %s", sess.Status)
		}
		return s.close(ctx, sess, StatusNoShow, scheduling.StatusCancelled)
	})
	if err != nil {
		return err
	}
	s.uow.Record(ctx, "no-show", "Session", sessionID, "")
	return nil
}

func (s *Service) close(ctx context.Context, sess *Session, status Status, apptStatus scheduling.AppointmentStatus) error {
	end := s.uow.Now()
	sess.Status = status
	sess.ActualEndTime = &end
	if err := s.sessions.Update(ctx, sess); err != nil {
		return err
	}
	if err := s.appointments.UpdateStatus(ctx, sess.AppointmentID, apptStatus); err != nil {
		return fmt.Errorf("propagate session outcome: %w", err)
	}
	return nil
}

func (s *Service) AddDoctorNotes(ctx context.Context, sessionID uuid.UUID, notes string) error {
	err := s.uow.Do(ctx, []string{lock.SessionKey(sessionID.String())}, func(ctx context.Context) error {
		sess, err := s.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return err
		}
		sess.Notes = notes
		return s.sessions.Update(ctx, sess)
	})
	if err != nil {
		return err
	}
	s.uow.Record(ctx, "notes", "Session", sessionID, "")
	return nil
}

func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	return s.sessions.GetByID(ctx, id)
}

func (s *Service) GetSessionByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Session, error) {
	return s.sessions.GetByAppointmentID(ctx, appointmentID)
}
