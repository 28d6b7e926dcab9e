package records

import (
	"errors"
	"fmt"
	"strings"

	"github.com/renalink/platform/pkg/medicalfile"
)

var (
	errMissingPatient = errors.New("patient id required")
	errMissingDoctor  = errors.New("doctor id required")
	errMissingDate    = errors.New("prescription date required")
	errBlankLineItem  = errors.New("medication name required")
)

type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// ValidatePrescription checks the shape the editing workflow must supply.
// An empty medication list is legal (it reconciles to a no-op); a present
// line item with a blank name is not.
func ValidatePrescription(p medicalfile.Prescription) error {
	if strings.TrimSpace(p.PatientID) == "" {
		return ValidationError{reason: errMissingPatient}
	}
	if strings.TrimSpace(p.DoctorID) == "" {
		return ValidationError{reason: errMissingDoctor}
	}
	if p.PrescriptionDate.IsZero() {
		return ValidationError{reason: errMissingDate}
	}
	for i, item := range p.Medications {
		if strings.TrimSpace(item.MedicationName) == "" {
			return ValidationError{reason: fmt.Errorf("line item %d: %w", i, errBlankLineItem)}
		}
	}
	return nil
}

// ValidateLabResult requires a sample date and at least one parameter.
func ValidateLabResult(lab medicalfile.LabResult) error {
	if lab.Date.IsZero() {
		return ValidationError{reason: errors.New("lab result date required")}
	}
	if len(lab.Parameters) == 0 {
		return ValidationError{reason: errors.New("lab result parameters required")}
	}
	return nil
}

// ValidateVascularAccess checks a new access record before it enters the
// timeline.
func ValidateVascularAccess(access medicalfile.VascularAccess) error {
	if strings.TrimSpace(access.Type) == "" {
		return ValidationError{reason: errors.New("access type required")}
	}
	if strings.TrimSpace(access.Site) == "" {
		return ValidationError{reason: errors.New("access site required")}
	}
	if access.CreationDate.IsZero() {
		return ValidationError{reason: errors.New("access creation date required")}
	}
	switch access.Status {
	case "", medicalfile.AccessActive, medicalfile.AccessInactive:
	default:
		return ValidationError{reason: fmt.Errorf("status %q not allowed on creation", access.Status)}
	}
	return nil
}
