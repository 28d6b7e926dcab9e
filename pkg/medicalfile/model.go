package medicalfile

import "time"

// Treatment statuses. A medication carries at most one active history entry;
// everything else is closed as discontinued or completed.
const (
	TreatmentActive       = "active"
	TreatmentDiscontinued = "discontinued"
	TreatmentCompleted    = "completed"
)

// Vascular access statuses. Abandoned records are immutable.
const (
	AccessActive    = "active"
	AccessInactive  = "inactive"
	AccessAbandoned = "abandoned"
)

// CategoryPrescribed is the category assigned to medications that enter the
// file through prescription reconciliation.
const CategoryPrescribed = "Prescribed Medication"

// MedicalFile is the complete longitudinal record for one patient. It is
// created once and only ever amended; history-bearing sections are
// append-mostly and closed rather than rewritten.
type MedicalFile struct {
	PatientID       string           `json:"patient_id"`
	NephropathyInfo string           `json:"nephropathy_info,omitempty"`
	Protocol        string           `json:"protocol,omitempty"`
	Medications     []Medication     `json:"medications"`
	VascularAccess  []VascularAccess `json:"vascular_access"`
	Vaccinations    []Vaccination    `json:"vaccinations"`
	LabResults      []LabResult      `json:"lab_results"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Medication groups every treatment period of one drug, identified by
// case-insensitive name within the file.
type Medication struct {
	Name     string         `json:"name"`
	Category string         `json:"category"`
	Current  Treatment      `json:"current_treatment"`
	History  []HistoryEntry `json:"history"`
}

// Treatment is the active-or-terminal snapshot mirrored from history.
type Treatment struct {
	Dosage         string    `json:"dosage"`
	Frequency      string    `json:"frequency"`
	StartDate      time.Time `json:"start_date"`
	Status         string    `json:"status"`
	PrescriptionID string    `json:"prescription_id,omitempty"`
}

// HistoryEntry is one treatment period. Entries carrying a prescription id
// are owned by that prescription and may only be removed by reconciling a
// change to it; everything else is closed in place, never deleted.
type HistoryEntry struct {
	PrescriptionID           string     `json:"prescription_id,omitempty"`
	PrescriptionMedicationID string     `json:"prescription_medication_id,omitempty"`
	StartDate                time.Time  `json:"start_date"`
	EndDate                  *time.Time `json:"end_date,omitempty"`
	Dosage                   string     `json:"dosage"`
	Frequency                string     `json:"frequency"`
	Status                   string     `json:"status"`
	Notes                    string     `json:"notes,omitempty"`
}

type VascularAccess struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Site         string     `json:"site"`
	Operator     string     `json:"operator"`
	CreationDate time.Time  `json:"creation_date"`
	FirstUseDate *time.Time `json:"first_use_date,omitempty"`
	Status       string     `json:"status"`
}

// LabResult is append-only; removal goes through the safety gate.
type LabResult struct {
	ID         string            `json:"id"`
	Date       time.Time         `json:"date"`
	Parameters map[string]string `json:"parameters"`
}

type Vaccination struct {
	VaccineName string        `json:"vaccine_name"`
	Doses       []VaccineDose `json:"doses"`
}

type VaccineDose struct {
	DoseNumber   int        `json:"dose_number"`
	Date         time.Time  `json:"date"`
	ReminderDate *time.Time `json:"reminder_date,omitempty"`
}

// Prescription is the source event that creates or extends medication
// history. It lives outside the file and is reconciled into it.
type Prescription struct {
	ID               string                   `json:"id"`
	PatientID        string                   `json:"patient_id"`
	DoctorID         string                   `json:"doctor_id"`
	AppointmentID    string                   `json:"appointment_id,omitempty"`
	PrescriptionDate time.Time                `json:"prescription_date"`
	Medications      []PrescriptionMedication `json:"medications"`
}

type PrescriptionMedication struct {
	ID             string `json:"id,omitempty"`
	MedicationName string `json:"medication_name"`
	Dosage         string `json:"dosage"`
	Frequency      string `json:"frequency"`
	Duration       string `json:"duration,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

// Normalize returns a copy of the file with nil collections replaced by
// empty ones. Malformed files render and reconcile instead of failing.
func (f MedicalFile) Normalize() MedicalFile {
	out := f.Clone()
	if out.Medications == nil {
		out.Medications = []Medication{}
	}
	if out.VascularAccess == nil {
		out.VascularAccess = []VascularAccess{}
	}
	if out.Vaccinations == nil {
		out.Vaccinations = []Vaccination{}
	}
	if out.LabResults == nil {
		out.LabResults = []LabResult{}
	}
	return out
}

// Clone deep-copies the file so callers can treat reconciliation results as
// fresh values and detect change by identity.
func (f MedicalFile) Clone() MedicalFile {
	out := f
	if f.Medications != nil {
		out.Medications = make([]Medication, len(f.Medications))
		for i, med := range f.Medications {
			out.Medications[i] = med.clone()
		}
	}
	if f.VascularAccess != nil {
		out.VascularAccess = append([]VascularAccess(nil), f.VascularAccess...)
	}
	if f.Vaccinations != nil {
		out.Vaccinations = make([]Vaccination, len(f.Vaccinations))
		for i, vac := range f.Vaccinations {
			out.Vaccinations[i] = vac.clone()
		}
	}
	if f.LabResults != nil {
		out.LabResults = make([]LabResult, len(f.LabResults))
		for i, lab := range f.LabResults {
			out.LabResults[i] = lab.clone()
		}
	}
	return out
}

func (m Medication) clone() Medication {
	out := m
	if m.History != nil {
		out.History = append([]HistoryEntry(nil), m.History...)
	}
	return out
}

func (v Vaccination) clone() Vaccination {
	out := v
	if v.Doses != nil {
		out.Doses = append([]VaccineDose(nil), v.Doses...)
	}
	return out
}

func (l LabResult) clone() LabResult {
	out := l
	if l.Parameters != nil {
		out.Parameters = make(map[string]string, len(l.Parameters))
		for k, v := range l.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}
