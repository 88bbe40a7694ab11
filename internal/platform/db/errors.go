package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinic/clinic/pkg/apperror"
)

const (
	codeUniqueViolation     = "23505"
	codeExclusionViolation  = "23P01"
	codeForeignKeyViolation = "23503"
)

// constraintMessages names the uniqueness rules the schema enforces.
var constraintMessages = map[string]string{
	"appointment_doctor_slot_uq":  "doctor already has an appointment at this time",
	"appointment_patient_slot_uq": "patient already has an appointment at this time",
	"session_appointment_uq":      "a session already exists for this appointment",
	"attendance_session_uq":       "attendance already recorded for this session",
	"attendance_patient_day_uq":   "attendance already recorded for this patient on this date",
	"prescription_session_uq":     "a prescription already exists for this session",
	"bill_session_uq":             "a bill already exists for this session",
	"payment_bill_uq":             "a payment already exists for this bill",
	"service_name_uq":             "a service with this name already exists",
	"session_service_uq":          "service already linked to this session",
}

// MapError converts PostgreSQL constraint violations to application errors.
// Errors that already carry a kind, and unrelated errors, pass through.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.Wrap(apperror.KindNotFound, err, "record not found")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation, codeExclusionViolation:
		msg, ok := constraintMessages[pgErr.ConstraintName]
		if !ok {
			msg = "constraint " + pgErr.ConstraintName + " violated"
		}
		return apperror.Wrap(apperror.KindConflict, err, msg)
	case codeForeignKeyViolation:
		return apperror.Wrap(apperror.KindNotFound, err, "referenced record does not exist")
	}
	return err
}

// IsNoRows reports whether err is pgx's empty-result error.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeUniqueViolation, codeExclusionViolation, codeForeignKeyViolation:
		return true
	}
	return false
}
