package clinical

import (
	"time"

	"github.com/google/uuid"
)

type Prescription struct {
	ID             uuid.UUID `db:"id" json:"id"`
	SessionID      uuid.UUID `db:"session_id" json:"session_id"`
	MedicationName string    `db:"medication_name" json:"medication_name"`
	Dosage         string    `db:"dosage" json:"dosage"`
	Notes          string    `db:"notes" json:"notes,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// MedicalRecord is derived from a Prescription and never written directly.
type MedicalRecord struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PrescriptionID uuid.UUID `db:"prescription_id" json:"prescription_id"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID       uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Date           time.Time `db:"date" json:"date"`
	Diagnosis      string    `db:"diagnosis" json:"diagnosis"`
	Notes          string    `db:"notes" json:"notes,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

type PrescriptionInput struct {
	MedicationName string `json:"medication_name"`
	Dosage         string `json:"dosage"`
	Notes          string `json:"notes"`
	Diagnosis      string `json:"diagnosis"`
}

// newMedicalRecord copies the clinical facts a record keeps from its prescription.
func newMedicalRecord(p *Prescription, patientID, doctorID uuid.UUID, date time.Time, diagnosis string) *MedicalRecord {
	return &MedicalRecord{
		PrescriptionID: p.ID,
		PatientID:      patientID,
		DoctorID:       doctorID,
		Date:           date,
		Diagnosis:      diagnosis,
		Notes:          p.Notes,
	}
}
