package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/lock"
	"github.com/clinic/clinic/internal/platform/uow"
	"github.com/clinic/clinic/pkg/apperror"
)

type Service struct {
	schedules    WorkScheduleRepository
	appointments AppointmentRepository
	sessions     SessionChecker
	directory    Directory
	uow          *uow.Runner
	loc          *time.Location
}

// NewService builds the availability resolver and appointment lifecycle.
// Work-schedule days and times are read in loc.
func NewService(sched WorkScheduleRepository, appt AppointmentRepository, sessions SessionChecker,
	dir Directory, runner *uow.Runner, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{schedules: sched, appointments: appt, sessions: sessions, directory: dir, uow: runner, loc: loc}
}

// -- Availability --

// IsDoctorAvailable reports whether doctorID can be booked at `at`. Lookup
// failures are logged and reported as unavailable. excludeID may be uuid.Nil.
func (s *Service) IsDoctorAvailable(ctx context.Context, doctorID uuid.UUID, at time.Time, excludeID uuid.UUID) bool {
	ok, err := s.available(ctx, doctorID, NormalizeTimestamp(at), excludeID)
	if err != nil {
		s.uow.Logger(ctx).Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("availability lookup failed")
		return false
	}
	return ok
}

func (s *Service) available(ctx context.Context, doctorID uuid.UUID, at time.Time, excludeID uuid.UUID) (bool, error) {
	local := at.In(s.loc)
	windows, err := s.schedules.ListByDoctorAndDay(ctx, doctorID, local.Weekday())
	if err != nil {
		return false, fmt.Errorf("list work schedules: %w", err)
	}
	tod := TimeOfDayOf(local)
	covered := false
	for _, w := range windows {
		if w.Covers(tod) {
			covered = true
			break
		}
	}
	if !covered {
		return false, nil
	}
	taken, err := s.appointments.ExistsForDoctorAt(ctx, doctorID, at, excludeID)
	if err != nil {
		return false, fmt.Errorf("check doctor slot: %w", err)
	}
	return !taken, nil
}

func (s *Service) CreateWorkSchedule(ctx context.Context, in ScheduleInput) (uuid.UUID, error) {
	if in.DoctorID == uuid.Nil {
		return uuid.Nil, apperror.Validation("doctor_id is required")
	}
	if in.DayOfWeek < time.Sunday || in.DayOfWeek > time.Saturday {
		return uuid.Nil, apperror.Validation("day_of_week must be between 0 and 6")
	}
	if in.StartTime < 0 || in.EndTime > day {
		return uuid.Nil, apperror.Validation("times must fall within one day")
	}
	if in.EndTime <= in.StartTime {
		return uuid.Nil, apperror.Validation("end_time must be after start_time")
	}
	w := &WorkSchedule{
		DoctorID:    in.DoctorID,
		DayOfWeek:   in.DayOfWeek,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		IsAvailable: in.IsAvailable == nil || *in.IsAvailable,
	}

	err := s.uow.Do(ctx, []string{lock.DoctorKey(in.DoctorID.String())}, func(ctx context.Context) error {
		if err := s.requireDoctor(ctx, in.DoctorID); err != nil {
			return err
		}
		existing, err := s.schedules.ListByDoctorAndDay(ctx, in.DoctorID, in.DayOfWeek)
		if err != nil {
			return err
		}
		for _, e := range existing {
			if e.Overlaps(in.StartTime, in.EndTime) {
				return apperror.Conflict("schedule overlaps existing window %s-%s on %s",
					e.StartTime, e.EndTime, e.DayOfWeek)
			}
		}
		return s.schedules.Create(ctx, w)
	})
	if err != nil {
		return uuid.Nil, err
	}
	s.uow.Record(ctx, "create", "WorkSchedule", w.ID, fmt.Sprintf("doctor=%s day=%s %s-%s", w.DoctorID, w.DayOfWeek, w.StartTime, w.EndTime))
	return w.ID, nil
}

func (s *Service) ListWorkSchedules(ctx context.Context, doctorID uuid.UUID) ([]*WorkSchedule, error) {
	return s.schedules.ListByDoctor(ctx, doctorID)
}

func (s *Service) DeleteWorkSchedule(ctx context.Context, id uuid.UUID) error {
	if err := s.uow.Do(ctx, nil, func(ctx context.Context) error {
		return s.schedules.Delete(ctx, id)
	}); err != nil {
		return err
	}
	s.uow.Record(ctx, "delete", "WorkSchedule", id, "")
	return nil
}

// -- Appointment lifecycle --

func validateInput(in AppointmentInput) error {
	if in.DoctorID == uuid.Nil {
		return apperror.Validation("doctor_id is required")
	}
	if in.PatientID == uuid.Nil {
		return apperror.Validation("patient_id is required")
	}
	if in.Date.IsZero() {
		return apperror.Validation("date is required")
	}
	return nil
}

// Book creates a Scheduled appointment after checking the doctor's
// availability and that the patient has nothing else at the same moment.
func (s *Service) Book(ctx context.Context, in AppointmentInput) (uuid.UUID, error) {
	if err := validateInput(in); err != nil {
		return uuid.Nil, err
	}
	in.Date = NormalizeTimestamp(in.Date)
	if !in.Date.After(s.uow.Now()) {
		return uuid.Nil, apperror.Validation("appointment date must be in the future")
	}

	a := &Appointment{
		DoctorID:  in.DoctorID,
		PatientID: in.PatientID,
		Date:      in.Date,
		Status:    StatusScheduled,
		Notes:     in.Notes,
	}
	keys := []string{lock.DoctorKey(in.DoctorID.String()), lock.PatientKey(in.PatientID.String())}
	err := s.uow.Do(ctx, keys, func(ctx context.Context) error {
		if err := s.checkSlot(ctx, in, uuid.Nil); err != nil {
			return err
		}
		return s.appointments.Create(ctx, a)
	})
	if err != nil {
		return uuid.Nil, err
	}
	s.uow.Record(ctx, "create", "Appointment", a.ID, fmt.Sprintf("doctor=%s patient=%s date=%s",
		a.DoctorID, a.PatientID, a.Date.Format(time.RFC3339)))
	return a.ID, nil
}

// Update moves an appointment to new participants or a new time. The status
// is left as it is.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in AppointmentInput) error {
	if err := validateInput(in); err != nil {
		return err
	}
	in.Date = NormalizeTimestamp(in.Date)
	if !in.Date.After(s.uow.Now()) {
		return apperror.Validation("appointment date must be in the future")
	}

	keys := []string{
		lock.AppointmentKey(id.String()),
		lock.DoctorKey(in.DoctorID.String()),
		lock.PatientKey(in.PatientID.String()),
	}
	err := s.uow.Do(ctx, keys, func(ctx context.Context) error {
		a, err := s.appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.checkSlot(ctx, in, id); err != nil {
			return err
		}
		a.DoctorID = in.DoctorID
		a.PatientID = in.PatientID
		a.Date = in.Date
		a.Notes = in.Notes
		return s.appointments.Update(ctx, a)
	})
	if err != nil {
		return err
	}
	s.uow.Record(ctx, "update", "Appointment", id, "date="+in.Date.Format(time.RFC3339))
	return nil
}

func (s *Service) checkSlot(ctx context.Context, in AppointmentInput, excludeID uuid.UUID) error {
	if err := s.requireDoctor(ctx, in.DoctorID); err != nil {
		return err
	}
	if ok, err := s.directory.PatientExists(ctx, in.PatientID); err != nil {
		return err
	} else if !ok {
		return apperror.NotFound("patient %s not found", in.PatientID)
	}

	ok, err := s.available(ctx, in.DoctorID, in.Date, excludeID)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.Conflict("doctor %s is not available at %s", in.DoctorID, in.Date.Format(time.RFC3339))
	}
	busy, err := s.appointments.ExistsForPatientAt(ctx, in.PatientID, in.Date, excludeID)
	if err != nil {
		return err
	}
	if busy {
		return apperror.Conflict("patient %s already has an appointment at %s", in.PatientID, in.Date.Format(time.RFC3339))
	}
	return nil
}

func (s *Service) requireDoctor(ctx context.Context, id uuid.UUID) error {
	ok, err := s.directory.DoctorExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.NotFound("doctor %s not found", id)
	}
	return nil
}

// UpdateStatus overwrites the status. Transition guards live with the session lifecycle.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) error {
	if !status.Valid() {
		return apperror.Validation("invalid appointment status %q", status)
	}
	err := s.uow.Do(ctx, []string{lock.AppointmentKey(id.String())}, func(ctx context.Context) error {
		if _, err := s.appointments.GetByID(ctx, id); err != nil {
			return err
		}
		return s.appointments.UpdateStatus(ctx, id, status)
	})
	if err != nil {
		return err
	}
	s.uow.Record(ctx, "update-status", "Appointment", id, "status="+string(status))
	return nil
}

// Cancel refuses appointments whose session has already started.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	err := s.uow.Do(ctx, []string{lock.AppointmentKey(id.String())}, func(ctx context.Context) error {
		return s.cancel(ctx, id)
	})
	if err != nil {
		return err
	}
	s.uow.Record(ctx, "cancel", "Appointment", id, "")
	return nil
}

func (s *Service) cancel(ctx context.Context, id uuid.UUID) error {
	if _, err := s.appointments.GetByID(ctx, id); err != nil {
		return err
	}
	started, err := s.sessions.HasSessionForAppointment(ctx, id)
	if err != nil {
		return err
	}
	if started {
		return apperror.Conflict("appointment %s already has a session and cannot be cancelled", id)
	}
	return s.appointments.UpdateStatus(ctx, id, StatusCancelled)
}

// CancelUpcomingForDoctor cancels every future appointment of the doctor that
// has not reached a session and returns their ids. It runs inside the caller's
// unit of work, so recording the cancellations is left to the caller once that
// unit has committed.
func (s *Service) CancelUpcomingForDoctor(ctx context.Context, doctorID uuid.UUID) ([]uuid.UUID, error) {
	var cancelled []uuid.UUID
	err := s.uow.Do(ctx, []string{lock.DoctorKey(doctorID.String())}, func(ctx context.Context) error {
		upcoming, err := s.appointments.ListActiveByDoctorFrom(ctx, doctorID, s.uow.Now())
		if err != nil {
			return err
		}
		for _, a := range upcoming {
			started, err := s.sessions.HasSessionForAppointment(ctx, a.ID)
			if err != nil {
				return err
			}
			if started {
				continue
			}
			if err := s.appointments.UpdateStatus(ctx, a.ID, StatusCancelled); err != nil {
				return err
			}
			cancelled = append(cancelled, a.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.ListByDoctor(ctx, doctorID, limit, offset)
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.ListByPatient(ctx, patientID, limit, offset)
}
