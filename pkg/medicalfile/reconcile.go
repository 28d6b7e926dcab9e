package medicalfile

import (
	"errors"
	"strings"
	"time"
)

// ErrMissingPrescriptionID is the one programmer error in this package.
// Everything else about a malformed prescription or file degrades to a
// no-op so a bad line item never blocks the rest of the chart.
var ErrMissingPrescriptionID = errors.New("medicalfile: prescription id is required")

// ApplyPrescriptionCreated merges a new prescription's line items into the
// file. For each line item, an existing medication (case-insensitive name
// match) gains a new active history entry and has its previous active entry
// closed; an unknown medication is created. Reapplying the same prescription
// is a no-op per medication.
//
// The input file is never mutated; at most one history entry per medication
// is active afterwards, and no prior entry is deleted.
func ApplyPrescriptionCreated(p Prescription, file MedicalFile) (MedicalFile, error) {
	if p.ID == "" {
		return file, ErrMissingPrescriptionID
	}

	out := file.Clone()
	for _, item := range p.Medications {
		name := strings.TrimSpace(item.MedicationName)
		if name == "" {
			continue
		}

		idx := findMedication(out.Medications, name)
		if idx < 0 {
			entry := newHistoryEntry(p, item)
			out.Medications = append(out.Medications, Medication{
				Name:     name,
				Category: CategoryPrescribed,
				Current:  treatmentFromEntry(entry),
				History:  []HistoryEntry{entry},
			})
			continue
		}

		med := &out.Medications[idx]
		if ownsEntry(med.History, p.ID) {
			continue
		}

		closeActiveEntry(med, p.PrescriptionDate)

		entry := newHistoryEntry(p, item)
		med.History = append(med.History, entry)
		med.Current = treatmentFromEntry(entry)
	}

	return out, nil
}

// ApplyPrescriptionDeleted retracts every history entry the prescription
// created. A medication whose history becomes empty is dropped: it existed
// only as a record of prescribed treatments. An unknown id is a no-op.
// Entries owned by other prescriptions are never touched.
func ApplyPrescriptionDeleted(prescriptionID string, file MedicalFile) (MedicalFile, error) {
	if prescriptionID == "" {
		return file, ErrMissingPrescriptionID
	}

	out := file.Clone()
	meds := make([]Medication, 0, len(out.Medications))
	for _, med := range out.Medications {
		history := make([]HistoryEntry, 0, len(med.History))
		for _, h := range med.History {
			if h.PrescriptionID == prescriptionID {
				continue
			}
			history = append(history, h)
		}

		if len(history) == len(med.History) {
			// Untouched medication, keep as-is.
			meds = append(meds, med)
			continue
		}

		if len(history) == 0 {
			continue
		}

		med.History = history
		if med.Current.PrescriptionID == prescriptionID {
			med.Current = deriveCurrent(history)
		}
		meds = append(meds, med)
	}

	out.Medications = meds
	return out, nil
}

// ApplyPrescriptionUpdated retracts the prescription's prior effect and
// reapplies it with the new data, so the outcome does not depend on what
// changed in the edit.
func ApplyPrescriptionUpdated(p Prescription, file MedicalFile) (MedicalFile, error) {
	if p.ID == "" {
		return file, ErrMissingPrescriptionID
	}
	retracted, err := ApplyPrescriptionDeleted(p.ID, file)
	if err != nil {
		return file, err
	}
	return ApplyPrescriptionCreated(p, retracted)
}

func newHistoryEntry(p Prescription, item PrescriptionMedication) HistoryEntry {
	return HistoryEntry{
		PrescriptionID:           p.ID,
		PrescriptionMedicationID: item.ID,
		StartDate:                p.PrescriptionDate,
		Dosage:                   item.Dosage,
		Frequency:                item.Frequency,
		Status:                   TreatmentActive,
		Notes:                    item.Notes,
	}
}

func treatmentFromEntry(e HistoryEntry) Treatment {
	return Treatment{
		Dosage:         e.Dosage,
		Frequency:      e.Frequency,
		StartDate:      e.StartDate,
		Status:         e.Status,
		PrescriptionID: e.PrescriptionID,
	}
}

func findMedication(meds []Medication, name string) int {
	for i := range meds {
		if strings.EqualFold(strings.TrimSpace(meds[i].Name), name) {
			return i
		}
	}
	return -1
}

func ownsEntry(history []HistoryEntry, prescriptionID string) bool {
	for i := range history {
		if history[i].PrescriptionID == prescriptionID {
			return true
		}
	}
	return false
}

// closeActiveEntry ends every open treatment period. The entry behind the
// current snapshot is among them when the file is consistent; a file whose
// snapshot points at nothing still comes out with no open period, so the
// pass never leaves two active entries behind. A medication with no active
// entries is left untouched.
func closeActiveEntry(med *Medication, endDate time.Time) {
	for i := range med.History {
		h := &med.History[i]
		if h.Status != TreatmentActive {
			continue
		}
		end := endDate
		h.EndDate = &end
		h.Status = TreatmentDiscontinued
	}
}

// deriveCurrent mirrors the remaining history after the current entry was
// retracted: the latest-starting active entry wins; otherwise the most
// recently ended one, marked discontinued since its lineage ended.
func deriveCurrent(history []HistoryEntry) Treatment {
	if active := latestActiveEntry(history); active != nil {
		return treatmentFromEntry(*active)
	}
	if latest := mostRecentlyEnded(history); latest != nil {
		current := treatmentFromEntry(*latest)
		if current.Status == TreatmentActive {
			current.Status = TreatmentDiscontinued
		}
		return current
	}
	return Treatment{Status: TreatmentDiscontinued}
}

func latestActiveEntry(history []HistoryEntry) *HistoryEntry {
	var best *HistoryEntry
	for i := range history {
		h := &history[i]
		if h.Status != TreatmentActive {
			continue
		}
		if best == nil || h.StartDate.After(best.StartDate) {
			best = h
		}
	}
	return best
}

func mostRecentlyEnded(history []HistoryEntry) *HistoryEntry {
	var best *HistoryEntry
	for i := range history {
		h := &history[i]
		if best == nil {
			best = h
			continue
		}
		if entryEnd(h).After(entryEnd(best)) {
			best = h
		}
	}
	return best
}

func entryEnd(h *HistoryEntry) time.Time {
	if h.EndDate != nil {
		return *h.EndDate
	}
	return h.StartDate
}
