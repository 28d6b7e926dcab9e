package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/renalink/platform/pkg/common/logger"
	"github.com/renalink/platform/pkg/common/models"
	"github.com/renalink/platform/pkg/medicalfile"
	"github.com/renalink/platform/pkg/observability/metrics"
)

// Declined operations. These are refusals surfaced to the caller, not
// failures: the editing workflow turns them into user-facing warnings.
var (
	ErrConfirmationRequired = errors.New("records: operation requires explicit confirmation")
	ErrRecordImmutable      = errors.New("records: record is immutable")
	ErrAccessConflict       = errors.New("records: another vascular access is already active")
)

// Actor identifies who performs a chart mutation, for the audit trail.
type Actor struct {
	ID   string
	Role string
}

// Service orchestrates prescription and chart workflows around the pure
// reconciliation core: load file, reconcile, persist, audit, publish.
// The medical file itself follows last-writer-wins, single active editor.
type Service struct {
	store    Store
	policy   medicalfile.Policy
	producer EventPublisher
	cache    *redis.Client
	cacheTTL time.Duration
}

func NewService(store Store, policy medicalfile.Policy, producer EventPublisher, cache *redis.Client, cacheTTL time.Duration) *Service {
	return &Service{
		store:    store,
		policy:   policy,
		producer: producer,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// GetMedicalFile returns the patient's normalized file, serving repeat reads
// from Redis. An unknown patient gets an empty file rather than an error so
// record viewing never blocks.
func (s *Service) GetMedicalFile(ctx context.Context, patientID string) (medicalfile.MedicalFile, error) {
	if cached, ok := s.cachedFile(ctx, patientID); ok {
		metrics.IncChartCacheHit()
		return cached, nil
	}
	metrics.IncChartCacheMiss()

	file, err := s.loadFile(ctx, patientID)
	if err != nil {
		return medicalfile.MedicalFile{}, err
	}
	s.cacheFile(ctx, file)
	return file, nil
}

// CreatePrescription validates, reconciles and persists a new prescription.
// A missing id is assigned here; line-item ids too.
func (s *Service) CreatePrescription(ctx context.Context, p medicalfile.Prescription, actor Actor) (medicalfile.Prescription, error) {
	if err := ValidatePrescription(p); err != nil {
		metrics.IncReconcileRejected()
		return medicalfile.Prescription{}, err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	for i := range p.Medications {
		if p.Medications[i].ID == "" {
			p.Medications[i].ID = uuid.New().String()
		}
	}

	file, err := s.loadFile(ctx, p.PatientID)
	if err != nil {
		return medicalfile.Prescription{}, err
	}

	reconciled, err := medicalfile.ApplyPrescriptionCreated(p, file)
	if err != nil {
		return medicalfile.Prescription{}, err
	}

	if err := s.persist(ctx, reconciled, p); err != nil {
		return medicalfile.Prescription{}, err
	}

	metrics.IncReconcileCreated()
	s.audit(ctx, p.PatientID, actor, "prescription.created", "prescription", p.ID, map[string]interface{}{
		"medications": medicationNames(p),
	})
	s.publish(ctx, "prescription.created", p.PatientID, p.ID)
	return p, nil
}

// UpdatePrescription retracts the prescription's prior effect and reapplies
// the edited version, per the reconciliation contract.
func (s *Service) UpdatePrescription(ctx context.Context, p medicalfile.Prescription, actor Actor) (medicalfile.Prescription, error) {
	if p.ID == "" {
		return medicalfile.Prescription{}, medicalfile.ErrMissingPrescriptionID
	}
	if err := ValidatePrescription(p); err != nil {
		metrics.IncReconcileRejected()
		return medicalfile.Prescription{}, err
	}

	existing, err := s.store.GetPrescription(ctx, p.ID)
	if err != nil {
		return medicalfile.Prescription{}, err
	}
	// Prescriptions never move between patients.
	if existing.PatientID != p.PatientID {
		return medicalfile.Prescription{}, ValidationError{reason: fmt.Errorf("prescription %s belongs to another patient", p.ID)}
	}

	for i := range p.Medications {
		if p.Medications[i].ID == "" {
			p.Medications[i].ID = uuid.New().String()
		}
	}

	file, err := s.loadFile(ctx, p.PatientID)
	if err != nil {
		return medicalfile.Prescription{}, err
	}

	reconciled, err := medicalfile.ApplyPrescriptionUpdated(p, file)
	if err != nil {
		return medicalfile.Prescription{}, err
	}

	if err := s.persist(ctx, reconciled, p); err != nil {
		return medicalfile.Prescription{}, err
	}

	metrics.IncReconcileUpdated()
	s.audit(ctx, p.PatientID, actor, "prescription.updated", "prescription", p.ID, map[string]interface{}{
		"medications": medicationNames(p),
	})
	s.publish(ctx, "prescription.updated", p.PatientID, p.ID)
	return p, nil
}

// DeletePrescription retracts every history entry the prescription created
// and removes the prescription row.
func (s *Service) DeletePrescription(ctx context.Context, id string, actor Actor) error {
	p, err := s.store.GetPrescription(ctx, id)
	if err != nil {
		return err
	}

	file, err := s.loadFile(ctx, p.PatientID)
	if err != nil {
		return err
	}

	reconciled, err := medicalfile.ApplyPrescriptionDeleted(id, file)
	if err != nil {
		return err
	}

	if err := s.store.SaveMedicalFile(ctx, reconciled); err != nil {
		return fmt.Errorf("saving medical file: %w", err)
	}
	if err := s.store.DeletePrescription(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	s.invalidate(ctx, p.PatientID)

	metrics.IncReconcileDeleted()
	s.audit(ctx, p.PatientID, actor, "prescription.deleted", "prescription", id, nil)
	s.publish(ctx, "prescription.deleted", p.PatientID, id)
	return nil
}

func (s *Service) GetPrescription(ctx context.Context, id string) (medicalfile.Prescription, error) {
	return s.store.GetPrescription(ctx, id)
}

func (s *Service) ListPrescriptions(ctx context.Context, patientID string) ([]medicalfile.Prescription, error) {
	return s.store.ListPrescriptions(ctx, patientID)
}

// AddLabResult appends a validated result to the file.
func (s *Service) AddLabResult(ctx context.Context, patientID string, lab medicalfile.LabResult, actor Actor) (medicalfile.LabResult, error) {
	if err := ValidateLabResult(lab); err != nil {
		return medicalfile.LabResult{}, err
	}
	if lab.ID == "" {
		lab.ID = uuid.New().String()
	}

	file, err := s.loadFile(ctx, patientID)
	if err != nil {
		return medicalfile.LabResult{}, err
	}
	file.LabResults = append(file.LabResults, lab)

	if err := s.saveFile(ctx, file); err != nil {
		return medicalfile.LabResult{}, err
	}
	s.audit(ctx, patientID, actor, "lab_result.added", "lab_result", lab.ID, nil)
	s.publish(ctx, "chart.amended", patientID, lab.ID)
	return lab, nil
}

// RemoveLabResult deletes a validated result. It is the canonical gated
// destructive edit: without the caller's confirmation the operation is
// declined, never silently applied.
func (s *Service) RemoveLabResult(ctx context.Context, patientID, labID string, confirmed bool, actor Actor) error {
	if !s.policy.AllowDestruction(medicalfile.GateLabResult, confirmed) {
		metrics.IncGateDeclined()
		return ErrConfirmationRequired
	}

	file, err := s.loadFile(ctx, patientID)
	if err != nil {
		return err
	}

	kept := make([]medicalfile.LabResult, 0, len(file.LabResults))
	removed := false
	for _, lab := range file.LabResults {
		if lab.ID == labID {
			removed = true
			continue
		}
		kept = append(kept, lab)
	}
	if !removed {
		return ErrNotFound
	}
	file.LabResults = kept

	if err := s.saveFile(ctx, file); err != nil {
		return err
	}
	s.audit(ctx, patientID, actor, "lab_result.removed", "lab_result", labID, map[string]interface{}{"confirmed": true})
	s.publish(ctx, "chart.amended", patientID, labID)
	return nil
}

// AddVaccinationDose appends a dose to the named vaccine, creating the
// vaccination on first dose. Doses are never reordered or removed here.
func (s *Service) AddVaccinationDose(ctx context.Context, patientID, vaccineName string, dose medicalfile.VaccineDose, actor Actor) error {
	vaccineName = strings.TrimSpace(vaccineName)
	if vaccineName == "" {
		return ValidationError{reason: errors.New("vaccine name required")}
	}
	if dose.Date.IsZero() {
		return ValidationError{reason: errors.New("dose date required")}
	}

	file, err := s.loadFile(ctx, patientID)
	if err != nil {
		return err
	}

	idx := -1
	for i := range file.Vaccinations {
		if strings.EqualFold(file.Vaccinations[i].VaccineName, vaccineName) {
			idx = i
			break
		}
	}
	if idx < 0 {
		file.Vaccinations = append(file.Vaccinations, medicalfile.Vaccination{VaccineName: vaccineName})
		idx = len(file.Vaccinations) - 1
	}
	if dose.DoseNumber == 0 {
		dose.DoseNumber = len(file.Vaccinations[idx].Doses) + 1
	}
	file.Vaccinations[idx].Doses = append(file.Vaccinations[idx].Doses, dose)

	if err := s.saveFile(ctx, file); err != nil {
		return err
	}
	s.audit(ctx, patientID, actor, "vaccination.dose_added", "vaccination", vaccineName, map[string]interface{}{
		"dose_number": dose.DoseNumber,
	})
	s.publish(ctx, "chart.amended", patientID, vaccineName)
	return nil
}

// CreateVascularAccess adds a new access record. An access created directly
// as active re-checks the single-active invariant at this mutation point.
func (s *Service) CreateVascularAccess(ctx context.Context, patientID string, access medicalfile.VascularAccess, actor Actor) (medicalfile.VascularAccess, error) {
	if err := ValidateVascularAccess(access); err != nil {
		return medicalfile.VascularAccess{}, err
	}
	if access.ID == "" {
		access.ID = uuid.New().String()
	}
	if access.Status == "" {
		access.Status = medicalfile.AccessInactive
	}

	file, err := s.loadFile(ctx, patientID)
	if err != nil {
		return medicalfile.VascularAccess{}, err
	}

	if access.Status == medicalfile.AccessActive && !medicalfile.CanActivateAccess(file.VascularAccess, access) {
		metrics.IncGateDeclined()
		return medicalfile.VascularAccess{}, ErrAccessConflict
	}

	file.VascularAccess = append(file.VascularAccess, access)
	if err := s.saveFile(ctx, file); err != nil {
		return medicalfile.VascularAccess{}, err
	}
	s.audit(ctx, patientID, actor, "vascular_access.created", "vascular_access", access.ID, map[string]interface{}{
		"type": access.Type,
		"site": access.Site,
	})
	s.publish(ctx, "chart.amended", patientID, access.ID)
	return access, nil
}

// UpdateVascularAccessStatus flips an access record's status. Activation is
// declined while another record is active; abandonment is destructive and
// needs confirmation; abandoned records never change again.
func (s *Service) UpdateVascularAccessStatus(ctx context.Context, patientID, accessID, status string, confirmed bool, actor Actor) error {
	switch status {
	case medicalfile.AccessActive, medicalfile.AccessInactive, medicalfile.AccessAbandoned:
	default:
		return ValidationError{reason: fmt.Errorf("unknown vascular access status %q", status)}
	}

	file, err := s.loadFile(ctx, patientID)
	if err != nil {
		return err
	}

	idx := -1
	for i := range file.VascularAccess {
		if file.VascularAccess[i].ID == accessID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	record := file.VascularAccess[idx]

	if !s.policy.IsMutationAllowed(record, medicalfile.GateVascularAccess) {
		metrics.IncGateDeclined()
		return ErrRecordImmutable
	}

	switch status {
	case medicalfile.AccessActive:
		if !medicalfile.CanActivateAccess(file.VascularAccess, record) {
			metrics.IncGateDeclined()
			return ErrAccessConflict
		}
	case medicalfile.AccessAbandoned:
		if !s.policy.AllowDestruction(medicalfile.GateVascularAccess, confirmed) {
			metrics.IncGateDeclined()
			return ErrConfirmationRequired
		}
	}

	file.VascularAccess[idx].Status = status
	if err := s.saveFile(ctx, file); err != nil {
		return err
	}
	s.audit(ctx, patientID, actor, "vascular_access.status_changed", "vascular_access", accessID, map[string]interface{}{
		"status": status,
	})
	s.publish(ctx, "chart.amended", patientID, accessID)
	return nil
}

func (s *Service) ListAuditLogs(ctx context.Context, patientID string, limit int) ([]models.AuditLog, error) {
	return s.store.ListAuditLogs(ctx, patientID, limit)
}

// loadFile fetches the patient's file, treating an unknown patient as a
// fresh empty file: the medical file is created on first amendment.
func (s *Service) loadFile(ctx context.Context, patientID string) (medicalfile.MedicalFile, error) {
	file, err := s.store.GetMedicalFile(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return medicalfile.MedicalFile{PatientID: patientID}.Normalize(), nil
	}
	if err != nil {
		return medicalfile.MedicalFile{}, fmt.Errorf("loading medical file: %w", err)
	}
	return file, nil
}

func (s *Service) persist(ctx context.Context, file medicalfile.MedicalFile, p medicalfile.Prescription) error {
	if err := s.store.SaveMedicalFile(ctx, file); err != nil {
		return fmt.Errorf("saving medical file: %w", err)
	}
	if err := s.store.SavePrescription(ctx, p); err != nil {
		return fmt.Errorf("saving prescription: %w", err)
	}
	s.invalidate(ctx, file.PatientID)
	return nil
}

func (s *Service) saveFile(ctx context.Context, file medicalfile.MedicalFile) error {
	if err := s.store.SaveMedicalFile(ctx, file); err != nil {
		return fmt.Errorf("saving medical file: %w", err)
	}
	s.invalidate(ctx, file.PatientID)
	return nil
}

func (s *Service) audit(ctx context.Context, patientID string, actor Actor, action, entity, entityID string, payload map[string]interface{}) {
	err := s.store.AppendAuditLog(ctx, models.AuditLog{
		PatientID: patientID,
		Actor:     actor.ID,
		Role:      actor.Role,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Payload:   payload,
	})
	if err != nil {
		logger.WithPatient(patientID).WithError(err).Warn("failed to append audit log")
	}
}

func (s *Service) publish(ctx context.Context, eventType, patientID, entityID string) {
	if s.producer == nil {
		return
	}
	err := s.producer.PublishEvent(ctx, eventType, patientID, map[string]interface{}{
		"entity_id": entityID,
	})
	if err != nil {
		logger.WithPatient(patientID).WithError(err).Warn("failed to publish chart event")
	}
}

func (s *Service) cacheKey(patientID string) string {
	return "chart:" + patientID
}

func (s *Service) cachedFile(ctx context.Context, patientID string) (medicalfile.MedicalFile, bool) {
	if s.cache == nil {
		return medicalfile.MedicalFile{}, false
	}
	data, err := s.cache.Get(ctx, s.cacheKey(patientID)).Bytes()
	if err != nil {
		return medicalfile.MedicalFile{}, false
	}
	var file medicalfile.MedicalFile
	if err := json.Unmarshal(data, &file); err != nil {
		return medicalfile.MedicalFile{}, false
	}
	return file, true
}

func (s *Service) cacheFile(ctx context.Context, file medicalfile.MedicalFile) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(file)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, s.cacheKey(file.PatientID), data, s.cacheTTL).Err(); err != nil {
		logger.WithPatient(file.PatientID).WithError(err).Debug("failed to cache medical file")
	}
}

func (s *Service) invalidate(ctx context.Context, patientID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, s.cacheKey(patientID)).Err(); err != nil {
		logger.WithPatient(patientID).WithError(err).Debug("failed to invalidate chart cache")
	}
}

func medicationNames(p medicalfile.Prescription) []string {
	names := make([]string, 0, len(p.Medications))
	for _, item := range p.Medications {
		names = append(names, item.MedicationName)
	}
	return names
}
