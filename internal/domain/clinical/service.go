package clinical

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/domain/session"
	"github.com/clinic/clinic/internal/platform/lock"
	"github.com/clinic/clinic/internal/platform/uow"
	"github.com/clinic/clinic/pkg/apperror"
)

type Service struct {
	prescriptions PrescriptionRepository
	records       MedicalRecordRepository
	sessions      SessionReader
	attendance    AttendanceReader
	appointments  AppointmentReader
	uow           *uow.Runner
	loc           *time.Location
}

func NewService(rx PrescriptionRepository, records MedicalRecordRepository, sessions SessionReader,
	attendance AttendanceReader, appts AppointmentReader, runner *uow.Runner, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		prescriptions: rx,
		records:       records,
		sessions:      sessions,
		attendance:    attendance,
		appointments:  appts,
		uow:           runner,
		loc:           loc,
	}
}

// CreatePrescription writes the one prescription of an attended, confirmed
// session and derives the patient's medical record from it. Both rows commit
// together or not at all.
func (s *Service) CreatePrescription(ctx context.Context, sessionID uuid.UUID, in PrescriptionInput) (uuid.UUID, error) {
	if sessionID == uuid.Nil {
		return uuid.Nil, apperror.Validation("session_id is required")
	}
	if strings.TrimSpace(in.MedicationName) == "" || strings.TrimSpace(in.Dosage) == "" {
		return uuid.Nil, apperror.Validation("medication_name and dosage are required")
	}
	if strings.TrimSpace(in.Diagnosis) == "" {
		return uuid.Nil, apperror.Validation("diagnosis is required")
	}

	rx := &Prescription{
		SessionID:      sessionID,
		MedicationName: in.MedicationName,
		Dosage:         in.Dosage,
		Notes:          in.Notes,
	}
	var record *MedicalRecord
	err := s.uow.Do(ctx, []string{lock.SessionKey(sessionID.String())}, func(ctx context.Context) error {
		sess, err := s.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := s.requirePresent(ctx, sessionID); err != nil {
			return err
		}
		if sess.Status != session.StatusConfirmed {
			return apperror.Conflict("prescriptions require a Confirmed session, session is %s", sess.Status)
		}
		exists, err := s.prescriptions.ExistsForSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if exists {
			return apperror.Conflict("a prescription already exists for session %s", sessionID)
		}
		appt, err := s.appointments.GetByID(ctx, sess.AppointmentID)
		if err != nil {
			return err
		}

		if err := s.prescriptions.Create(ctx, rx); err != nil {
			return err
		}
		record = newMedicalRecord(rx, sess.PatientID, sess.DoctorID, scheduling.DateOf(appt.Date, s.loc), in.Diagnosis)
		if err := s.records.Create(ctx, record); err != nil {
			return fmt.Errorf("derive medical record: %w", err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	s.uow.Record(ctx, "create", "Prescription", rx.ID, "session="+sessionID.String())
	s.uow.Record(ctx, "create", "MedicalRecord", record.ID, "prescription="+rx.ID.String())
	return rx.ID, nil
}

func (s *Service) requirePresent(ctx context.Context, sessionID uuid.UUID) error {
	att, err := s.attendance.GetBySessionID(ctx, sessionID)
	if apperror.IsNotFound(err) {
		return apperror.Conflict("attendance has not been recorded for session %s", sessionID)
	}
	if err != nil {
		return err
	}
	if !att.IsPresent {
		return apperror.Conflict("cannot prescribe for absent patient")
	}
	return nil
}

func (s *Service) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.prescriptions.GetByID(ctx, id)
}

func (s *Service) GetPrescriptionBySession(ctx context.Context, sessionID uuid.UUID) (*Prescription, error) {
	return s.prescriptions.GetBySessionID(ctx, sessionID)
}

func (s *Service) GetMedicalRecordForPrescription(ctx context.Context, prescriptionID uuid.UUID) (*MedicalRecord, error) {
	return s.records.GetByPrescriptionID(ctx, prescriptionID)
}

func (s *Service) ListMedicalRecordsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	return s.records.ListByPatient(ctx, patientID, limit, offset)
}
