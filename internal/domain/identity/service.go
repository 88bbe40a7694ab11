package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/uow"
	"github.com/clinic/clinic/pkg/apperror"
)

// Directory answers existence lookups for the other domains. Inactive
// accounts are reported as absent.
type Directory struct {
	doctors  DoctorRepository
	patients PatientRepository
}

func NewDirectory(doctors DoctorRepository, patients PatientRepository) *Directory {
	return &Directory{doctors: doctors, patients: patients}
}

func (d *Directory) DoctorExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return d.doctors.ExistsActive(ctx, id)
}

func (d *Directory) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return d.patients.ExistsActive(ctx, id)
}

// DeactivateFunc retires one account of a given role.
type DeactivateFunc func(ctx context.Context, userID uuid.UUID) error

type Service struct {
	doctors      DoctorRepository
	patients     PatientRepository
	appointments AppointmentCanceller
	uow          *uow.Runner
	deactivators map[RoleKind]DeactivateFunc
}

func NewService(doctors DoctorRepository, patients PatientRepository, appts AppointmentCanceller, runner *uow.Runner) *Service {
	s := &Service{doctors: doctors, patients: patients, appointments: appts, uow: runner}
	s.deactivators = map[RoleKind]DeactivateFunc{
		RoleDoctor:  s.deactivateDoctor,
		RolePatient: s.deactivatePatient,
	}
	return s
}

// -- Doctor --

func (s *Service) CreateDoctor(ctx context.Context, name string, specializationID *uuid.UUID) (uuid.UUID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return uuid.Nil, apperror.Validation("name is required")
	}
	d := &Doctor{Name: name, SpecializationID: specializationID, Active: true}
	if err := s.uow.Do(ctx, nil, func(ctx context.Context) error {
		return s.doctors.Create(ctx, d)
	}); err != nil {
		return uuid.Nil, err
	}
	s.uow.Record(ctx, "create", "Doctor", d.ID, "")
	return d.ID, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, limit, offset)
}

// -- Patient --

func (s *Service) CreatePatient(ctx context.Context, name string) (uuid.UUID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return uuid.Nil, apperror.Validation("name is required")
	}
	p := &Patient{Name: name, Active: true}
	if err := s.uow.Do(ctx, nil, func(ctx context.Context) error {
		return s.patients.Create(ctx, p)
	}); err != nil {
		return uuid.Nil, err
	}
	s.uow.Record(ctx, "create", "Patient", p.ID, "")
	return p.ID, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

// -- Deactivation --

// Deactivate retires the account of userID under role.
func (s *Service) Deactivate(ctx context.Context, role RoleKind, userID uuid.UUID) error {
	fn, ok := s.deactivators[role]
	if !ok {
		return apperror.Validation("unknown role %q", role)
	}
	if userID == uuid.Nil {
		return apperror.Validation("user id is required")
	}
	return fn(ctx, userID)
}

// deactivateDoctor flags the doctor inactive and cancels their upcoming
// appointments in one transaction. The doctor lock is taken by the canceller.
// Audit entries are written only after the transaction commits.
func (s *Service) deactivateDoctor(ctx context.Context, id uuid.UUID) error {
	var cancelled []uuid.UUID
	err := s.uow.Do(ctx, nil, func(ctx context.Context) error {
		if err := s.doctors.SetActive(ctx, id, false); err != nil {
			return err
		}
		ids, err := s.appointments.CancelUpcomingForDoctor(ctx, id)
		if err != nil {
			return fmt.Errorf("cancel upcoming appointments: %w", err)
		}
		cancelled = ids
		return nil
	})
	if err != nil {
		return err
	}
	s.uow.Record(ctx, "deactivate", "Doctor", id, fmt.Sprintf("cancelled=%d", len(cancelled)))
	for _, apptID := range cancelled {
		s.uow.Record(ctx, "cancel", "Appointment", apptID, "doctor deactivated")
	}
	return nil
}

func (s *Service) deactivatePatient(ctx context.Context, id uuid.UUID) error {
	err := s.uow.Do(ctx, nil, func(ctx context.Context) error {
		return s.patients.SetActive(ctx, id, false)
	})
	if err != nil {
		return err
	}
	s.uow.Record(ctx, "deactivate", "Patient", id, "")
	return nil
}
