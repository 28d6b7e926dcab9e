package medicalfile

import (
	"encoding/json"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func prescription(id string, on time.Time, meds ...PrescriptionMedication) Prescription {
	return Prescription{
		ID:               id,
		PatientID:        "patient-1",
		DoctorID:         "doctor-1",
		PrescriptionDate: on,
		Medications:      meds,
	}
}

func activeCount(med Medication) int {
	n := 0
	for _, h := range med.History {
		if h.Status == TreatmentActive {
			n++
		}
	}
	return n
}

func findMed(t *testing.T, file MedicalFile, name string) Medication {
	t.Helper()
	idx := findMedication(file.Medications, name)
	if idx < 0 {
		t.Fatalf("medication %q not found in file", name)
	}
	return file.Medications[idx]
}

func TestCreatedAddsNewMedication(t *testing.T) {
	p := prescription("P1", date(2025, time.January, 10),
		PrescriptionMedication{ID: "PM1", MedicationName: "EPO", Dosage: "4000 IU", Frequency: "3x/week"})

	file, err := ApplyPrescriptionCreated(p, MedicalFile{PatientID: "patient-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	med := findMed(t, file, "EPO")
	if med.Category != CategoryPrescribed {
		t.Fatalf("expected category %q, got %q", CategoryPrescribed, med.Category)
	}
	if len(med.History) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(med.History))
	}
	if med.Current.Status != TreatmentActive || med.Current.PrescriptionID != "P1" {
		t.Fatalf("current treatment not mirroring new entry: %+v", med.Current)
	}
	if !med.Current.StartDate.Equal(p.PrescriptionDate) {
		t.Fatalf("expected start date %v, got %v", p.PrescriptionDate, med.Current.StartDate)
	}
}

func TestCreatedExtendsDiscontinuedMedication(t *testing.T) {
	ended := date(2024, time.November, 1)
	file := MedicalFile{
		PatientID: "patient-1",
		Medications: []Medication{{
			Name:     "EPO",
			Category: CategoryPrescribed,
			Current:  Treatment{Dosage: "2000 IU", Status: TreatmentDiscontinued, PrescriptionID: "P0"},
			History: []HistoryEntry{{
				PrescriptionID: "P0",
				StartDate:      date(2024, time.June, 1),
				EndDate:        &ended,
				Dosage:         "2000 IU",
				Status:         TreatmentDiscontinued,
			}},
		}},
	}

	p := prescription("P1", date(2025, time.January, 10),
		PrescriptionMedication{MedicationName: "epo", Dosage: "4000 IU", Frequency: "3x/week"})

	out, err := ApplyPrescriptionCreated(p, file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	med := findMed(t, out, "EPO")
	if len(med.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(med.History))
	}
	if activeCount(med) != 1 {
		t.Fatalf("expected exactly 1 active entry, got %d", activeCount(med))
	}
	if med.Current.Dosage != "4000 IU" {
		t.Fatalf("expected current dosage 4000 IU, got %q", med.Current.Dosage)
	}
	if len(out.Medications) != 1 {
		t.Fatalf("case-insensitive match should not create a second medication, got %d", len(out.Medications))
	}
}

func TestCreatedClosesPreviousActiveTreatment(t *testing.T) {
	file := MedicalFile{
		Medications: []Medication{{
			Name:    "Calcitriol",
			Current: Treatment{Dosage: "0.25 mcg", Status: TreatmentActive, PrescriptionID: "P1", StartDate: date(2024, time.March, 1)},
			History: []HistoryEntry{{
				PrescriptionID: "P1",
				StartDate:      date(2024, time.March, 1),
				Dosage:         "0.25 mcg",
				Status:         TreatmentActive,
			}},
		}},
	}

	p := prescription("P2", date(2025, time.February, 3),
		PrescriptionMedication{MedicationName: "Calcitriol", Dosage: "0.5 mcg", Frequency: "daily"})

	out, err := ApplyPrescriptionCreated(p, file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	med := findMed(t, out, "Calcitriol")
	if len(med.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(med.History))
	}
	if activeCount(med) != 1 {
		t.Fatalf("expected exactly 1 active entry, got %d", activeCount(med))
	}

	var closed *HistoryEntry
	for i := range med.History {
		if med.History[i].PrescriptionID == "P1" {
			closed = &med.History[i]
		}
	}
	if closed == nil {
		t.Fatal("previous entry was deleted instead of closed")
	}
	if closed.Status != TreatmentDiscontinued || closed.EndDate == nil {
		t.Fatalf("previous entry not closed: %+v", closed)
	}
	if !closed.EndDate.Equal(p.PrescriptionDate) {
		t.Fatalf("expected end date %v, got %v", p.PrescriptionDate, closed.EndDate)
	}
	if med.Current.PrescriptionID != "P2" {
		t.Fatalf("current treatment should point at P2, got %q", med.Current.PrescriptionID)
	}
}

func TestCreatedIsIdempotent(t *testing.T) {
	p := prescription("P1", date(2025, time.January, 10),
		PrescriptionMedication{MedicationName: "EPO", Dosage: "4000 IU"})

	once, err := ApplyPrescriptionCreated(p, MedicalFile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	twice, err := ApplyPrescriptionCreated(p, once)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, _ := json.Marshal(once)
	b, _ := json.Marshal(twice)
	if string(a) != string(b) {
		t.Fatalf("reapplying the same prescription changed the file:\n%s\nvs\n%s", a, b)
	}
}

func TestCreatedDoesNotMutateInput(t *testing.T) {
	file := MedicalFile{
		Medications: []Medication{{
			Name:    "EPO",
			Current: Treatment{Status: TreatmentActive, PrescriptionID: "P0"},
			History: []HistoryEntry{{PrescriptionID: "P0", Status: TreatmentActive}},
		}},
	}
	before, _ := json.Marshal(file)

	p := prescription("P1", date(2025, time.January, 10),
		PrescriptionMedication{MedicationName: "EPO", Dosage: "4000 IU"})
	if _, err := ApplyPrescriptionCreated(p, file); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after, _ := json.Marshal(file)
	if string(before) != string(after) {
		t.Fatal("input file was mutated")
	}
}

func TestCreatedRequiresPrescriptionID(t *testing.T) {
	_, err := ApplyPrescriptionCreated(Prescription{}, MedicalFile{})
	if err != ErrMissingPrescriptionID {
		t.Fatalf("expected ErrMissingPrescriptionID, got %v", err)
	}
}

func TestCreatedSkipsBlankLineItems(t *testing.T) {
	p := prescription("P1", date(2025, time.January, 10),
		PrescriptionMedication{MedicationName: "   "},
		PrescriptionMedication{MedicationName: "EPO", Dosage: "4000 IU"})

	out, err := ApplyPrescriptionCreated(p, MedicalFile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Medications) != 1 {
		t.Fatalf("expected 1 medication, got %d", len(out.Medications))
	}
}

func TestCreatedEmptyMedicationListLeavesFileUnchanged(t *testing.T) {
	file := MedicalFile{Medications: []Medication{{Name: "EPO"}}}
	out, err := ApplyPrescriptionCreated(prescription("P1", date(2025, time.January, 1)), file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Medications) != 1 || out.Medications[0].Name != "EPO" {
		t.Fatalf("file changed: %+v", out.Medications)
	}
}

func TestDeletedDropsMedicationWithNoRemainingHistory(t *testing.T) {
	p := prescription("P1", date(2025, time.January, 10),
		PrescriptionMedication{MedicationName: "EPO", Dosage: "4000 IU"})
	file, err := ApplyPrescriptionCreated(p, MedicalFile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := ApplyPrescriptionDeleted("P1", file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Medications) != 0 {
		t.Fatalf("expected medication to be dropped, got %d medications", len(out.Medications))
	}
}

func TestDeletedPromotesLatestActiveEntry(t *testing.T) {
	file := MedicalFile{
		Medications: []Medication{{
			Name:    "EPO",
			Current: Treatment{Status: TreatmentActive, PrescriptionID: "P2", Dosage: "4000 IU", StartDate: date(2025, time.January, 10)},
			History: []HistoryEntry{
				{PrescriptionID: "P1", StartDate: date(2024, time.June, 1), Dosage: "2000 IU", Status: TreatmentActive},
				{PrescriptionID: "P2", StartDate: date(2025, time.January, 10), Dosage: "4000 IU", Status: TreatmentActive},
			},
		}},
	}

	out, err := ApplyPrescriptionDeleted("P2", file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	med := findMed(t, out, "EPO")
	if len(med.History) != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", len(med.History))
	}
	if med.Current.PrescriptionID != "P1" || med.Current.Status != TreatmentActive {
		t.Fatalf("expected P1 promoted to current, got %+v", med.Current)
	}
}

func TestDeletedMarksCurrentDiscontinuedWhenNoActiveRemains(t *testing.T) {
	ended := date(2024, time.November, 1)
	file := MedicalFile{
		Medications: []Medication{{
			Name:    "EPO",
			Current: Treatment{Status: TreatmentActive, PrescriptionID: "P2", StartDate: date(2025, time.January, 10)},
			History: []HistoryEntry{
				{PrescriptionID: "P1", StartDate: date(2024, time.June, 1), EndDate: &ended, Dosage: "2000 IU", Status: TreatmentDiscontinued},
				{PrescriptionID: "P2", StartDate: date(2025, time.January, 10), Status: TreatmentActive},
			},
		}},
	}

	out, err := ApplyPrescriptionDeleted("P2", file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	med := findMed(t, out, "EPO")
	if med.Current.Status != TreatmentDiscontinued {
		t.Fatalf("expected discontinued current treatment, got %q", med.Current.Status)
	}
	if med.Current.Dosage != "2000 IU" {
		t.Fatalf("current should mirror the most recently ended entry, got %+v", med.Current)
	}
}

func TestDeletedNeverTouchesOtherPrescriptions(t *testing.T) {
	file := MedicalFile{
		Medications: []Medication{
			{
				Name:    "EPO",
				Current: Treatment{Status: TreatmentActive, PrescriptionID: "P1"},
				History: []HistoryEntry{{PrescriptionID: "P1", Status: TreatmentActive}},
			},
			{
				Name:    "Heparin",
				Current: Treatment{Status: TreatmentActive, PrescriptionID: "P2"},
				History: []HistoryEntry{{PrescriptionID: "P2", Status: TreatmentActive}},
			},
		},
	}

	out, err := ApplyPrescriptionDeleted("P1", file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	med := findMed(t, out, "Heparin")
	if len(med.History) != 1 || med.History[0].PrescriptionID != "P2" {
		t.Fatalf("unrelated medication was altered: %+v", med)
	}
	if med.Current.Status != TreatmentActive {
		t.Fatalf("unrelated current treatment was altered: %+v", med.Current)
	}
}

func TestDeletedUnknownPrescriptionIsNoOp(t *testing.T) {
	file := MedicalFile{
		Medications: []Medication{{
			Name:    "EPO",
			History: []HistoryEntry{{PrescriptionID: "P1", Status: TreatmentActive}},
		}},
	}

	out, err := ApplyPrescriptionDeleted("missing", file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, _ := json.Marshal(file.Medications)
	b, _ := json.Marshal(out.Medications)
	if string(a) != string(b) {
		t.Fatal("unknown prescription id changed the file")
	}
}

func TestDeleteAfterCreateRestoresHistoryLength(t *testing.T) {
	ended := date(2024, time.November, 1)
	file := MedicalFile{
		Medications: []Medication{{
			Name: "EPO",
			History: []HistoryEntry{{
				PrescriptionID: "P0",
				StartDate:      date(2024, time.June, 1),
				EndDate:        &ended,
				Status:         TreatmentDiscontinued,
			}},
		}},
	}

	p := prescription("P1", date(2025, time.January, 10),
		PrescriptionMedication{MedicationName: "EPO", Dosage: "4000 IU"})

	applied, err := ApplyPrescriptionCreated(p, file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	restored, err := ApplyPrescriptionDeleted("P1", applied)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	med := findMed(t, restored, "EPO")
	if len(med.History) != 1 {
		t.Fatalf("expected history restored to 1 entry, got %d", len(med.History))
	}
	if med.History[0].PrescriptionID != "P0" {
		t.Fatalf("wrong entry survived: %+v", med.History[0])
	}
}

func TestUpdatedReplacesPriorEffect(t *testing.T) {
	p := prescription("P1", date(2025, time.January, 10),
		PrescriptionMedication{MedicationName: "EPO", Dosage: "4000 IU"})
	file, err := ApplyPrescriptionCreated(p, MedicalFile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	edited := prescription("P1", date(2025, time.January, 12),
		PrescriptionMedication{MedicationName: "EPO", Dosage: "6000 IU"})
	out, err := ApplyPrescriptionUpdated(edited, file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	med := findMed(t, out, "EPO")
	if len(med.History) != 1 {
		t.Fatalf("update duplicated history: %d entries", len(med.History))
	}
	if med.Current.Dosage != "6000 IU" {
		t.Fatalf("expected updated dosage, got %q", med.Current.Dosage)
	}
	if activeCount(med) != 1 {
		t.Fatalf("expected exactly 1 active entry, got %d", activeCount(med))
	}
}

func TestUpdatedDroppingLineItemRemovesMedication(t *testing.T) {
	p := prescription("P1", date(2025, time.January, 10),
		PrescriptionMedication{MedicationName: "EPO", Dosage: "4000 IU"},
		PrescriptionMedication{MedicationName: "Heparin", Dosage: "5000 IU"})
	file, err := ApplyPrescriptionCreated(p, MedicalFile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	edited := prescription("P1", date(2025, time.January, 10),
		PrescriptionMedication{MedicationName: "EPO", Dosage: "4000 IU"})
	out, err := ApplyPrescriptionUpdated(edited, file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Medications) != 1 {
		t.Fatalf("expected dropped line item to remove medication, got %d", len(out.Medications))
	}
	if out.Medications[0].Name != "EPO" {
		t.Fatalf("wrong medication survived: %q", out.Medications[0].Name)
	}
}

func TestSingleActiveInvariantAcrossRandomishSequence(t *testing.T) {
	file := MedicalFile{}
	var err error
	steps := []Prescription{
		prescription("P1", date(2025, time.January, 1), PrescriptionMedication{MedicationName: "EPO", Dosage: "2000 IU"}),
		prescription("P2", date(2025, time.February, 1), PrescriptionMedication{MedicationName: "EPO", Dosage: "4000 IU"}, PrescriptionMedication{MedicationName: "Iron"}),
		prescription("P3", date(2025, time.March, 1), PrescriptionMedication{MedicationName: "epo", Dosage: "6000 IU"}),
	}
	for _, p := range steps {
		file, err = ApplyPrescriptionCreated(p, file)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	file, err = ApplyPrescriptionDeleted("P2", file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, med := range file.Medications {
		if activeCount(med) > 1 {
			t.Fatalf("medication %q has %d active entries", med.Name, activeCount(med))
		}
	}
	med := findMed(t, file, "EPO")
	if len(med.History) != 2 {
		t.Fatalf("expected 2 surviving EPO entries, got %d", len(med.History))
	}
}

func TestNormalizeTreatsNilCollectionsAsEmpty(t *testing.T) {
	out := MedicalFile{PatientID: "patient-1"}.Normalize()
	if out.Medications == nil || out.VascularAccess == nil || out.Vaccinations == nil || out.LabResults == nil {
		t.Fatalf("normalize left nil collections: %+v", out)
	}
}
