package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/lock"
	"github.com/clinic/clinic/pkg/apperror"
)

func (s *Service) MarkPresent(ctx context.Context, sessionID, patientID uuid.UUID, notes string) (uuid.UUID, error) {
	return s.markAttendance(ctx, sessionID, patientID, true, notes)
}

func (s *Service) MarkAbsent(ctx context.Context, sessionID, patientID uuid.UUID, notes string) (uuid.UUID, error) {
	return s.markAttendance(ctx, sessionID, patientID, false, notes)
}

// markAttendance records presence for a Confirmed session. A patient has at
// most one attendance per calendar day, whichever session it came from.
func (s *Service) markAttendance(ctx context.Context, sessionID, patientID uuid.UUID, present bool, notes string) (uuid.UUID, error) {
	if sessionID == uuid.Nil || patientID == uuid.Nil {
		return uuid.Nil, apperror.Validation("session_id and patient_id are required")
	}
	a := &Attendance{SessionID: sessionID, PatientID: patientID, IsPresent: present, Notes: notes}
	keys := []string{lock.SessionKey(sessionID.String()), lock.PatientKey(patientID.String())}
	err := s.uow.Do(ctx, keys, func(ctx context.Context) error {
		sess, err := s.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status != StatusConfirmed {
			return apperror.Conflict("attendance requires a Confirmed session, session is %s", sess.Status)
		}
		if sess.PatientID != patientID {
			return apperror.Validation("patient %s does not belong to session %s", patientID, sessionID)
		}
		appt, err := s.appointments.GetByID(ctx, sess.AppointmentID)
		if err != nil {
			return err
		}
		a.AttendedOn = scheduling.DateOf(appt.Date, s.loc)
		taken, err := s.attendance.ExistsForPatientOn(ctx, patientID, a.AttendedOn)
		if err != nil {
			return err
		}
		if taken {
			return apperror.Conflict("attendance already recorded for patient %s on %s",
				patientID, a.AttendedOn.Format("2006-01-02"))
		}
		return s.attendance.Create(ctx, a)
	})
	if err != nil {
		return uuid.Nil, err
	}
	action := "present"
	if !present {
		action = "absent"
	}
	s.uow.Record(ctx, action, "Attendance", a.ID, "session="+sessionID.String())
	return a.ID, nil
}

// DailySummary counts the attendance recorded for appointments on date's calendar day.
func (s *Service) DailySummary(ctx context.Context, date time.Time) (*DailySummary, error) {
	return s.attendance.SummaryForDate(ctx, CalendarDate(date))
}

func (s *Service) GetAttendance(ctx context.Context, sessionID uuid.UUID) (*Attendance, error) {
	return s.attendance.GetBySessionID(ctx, sessionID)
}
