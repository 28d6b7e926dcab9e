package medicalfile

import "sort"

// Timeline accessors derive the "current" view from history in one place.
// All of them return fresh values; input slices are never reordered or
// mutated, since callers detect change by identity.

// ActiveAccess returns the single active vascular access, or nil.
func ActiveAccess(records []VascularAccess) *VascularAccess {
	for i := range records {
		if records[i].Status == AccessActive {
			rec := records[i]
			return &rec
		}
	}
	return nil
}

// CanActivateAccess reports whether the candidate may be flipped to active.
// It is false while another record holds the active status, and always false
// for abandoned candidates. Callers must re-check at the point of mutation,
// not only at render time.
func CanActivateAccess(records []VascularAccess, candidate VascularAccess) bool {
	if candidate.Status == AccessAbandoned {
		return false
	}
	for i := range records {
		if records[i].Status == AccessActive && records[i].ID != candidate.ID {
			return false
		}
	}
	return true
}

// SortAccessesByRecency returns a new slice sorted descending by creation
// date. The sort is stable so same-day records keep their relative order.
func SortAccessesByRecency(records []VascularAccess) []VascularAccess {
	out := append([]VascularAccess(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreationDate.After(out[j].CreationDate)
	})
	return out
}

// ActiveHistoryEntry returns the medication's single active treatment
// period, or nil when every period is closed.
func ActiveHistoryEntry(history []HistoryEntry) *HistoryEntry {
	if e := latestActiveEntry(history); e != nil {
		entry := *e
		return &entry
	}
	return nil
}

// SortHistoryByRecency returns a new slice sorted descending by start date.
func SortHistoryByRecency(history []HistoryEntry) []HistoryEntry {
	out := append([]HistoryEntry(nil), history...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartDate.After(out[j].StartDate)
	})
	return out
}

// CurrentTreatment derives the snapshot a medication should carry: the
// active entry when one exists, otherwise the most recently ended one. The
// second return is false for an empty history.
func CurrentTreatment(history []HistoryEntry) (Treatment, bool) {
	if len(history) == 0 {
		return Treatment{}, false
	}
	if active := latestActiveEntry(history); active != nil {
		return treatmentFromEntry(*active), true
	}
	return treatmentFromEntry(*mostRecentlyEnded(history)), true
}

// SortLabResultsByRecency returns a new slice sorted descending by sample
// date, the order the results view renders.
func SortLabResultsByRecency(results []LabResult) []LabResult {
	out := append([]LabResult(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	return out
}
