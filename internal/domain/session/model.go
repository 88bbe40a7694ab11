package session

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusConfirmed Status = "Confirmed"
	StatusCancelled Status = "Cancelled"
	StatusNoShow    Status = "NoShow"
)

// Session is the clinical encounter of exactly one confirmed appointment.
type Session struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	AppointmentID   uuid.UUID  `db:"appointment_id" json:"appointment_id"`
	DoctorID        uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	Status          Status     `db:"status" json:"status"`
	ActualStartTime time.Time  `db:"actual_start_time" json:"actual_start_time"`
	ActualEndTime   *time.Time `db:"actual_end_time" json:"actual_end_time,omitempty"`
	Notes           string     `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

type Attendance struct {
	ID         uuid.UUID `db:"id" json:"id"`
	SessionID  uuid.UUID `db:"session_id" json:"session_id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	AttendedOn time.Time `db:"attended_on" json:"attended_on"`
	IsPresent  bool      `db:"is_present" json:"is_present"`
	Notes      string    `db:"notes" json:"notes,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

type DailySummary struct {
	Date          string `json:"date"`
	TotalPatients int    `json:"total_patients"`
	PresentCount  int    `json:"present_count"`
	AbsentCount   int    `json:"absent_count"`
}

// CalendarDate keeps the year, month and day of t as a UTC midnight.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
