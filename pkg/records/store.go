package records

import (
	"context"
	"errors"

	"github.com/renalink/platform/pkg/common/models"
	"github.com/renalink/platform/pkg/medicalfile"
)

var ErrNotFound = errors.New("records: not found")

// Store is the persistence boundary of the records service. The production
// implementation sits on Postgres (repository.go); tests carry an in-memory
// one. The reconciliation core never sees this interface.
type Store interface {
	GetMedicalFile(ctx context.Context, patientID string) (medicalfile.MedicalFile, error)
	SaveMedicalFile(ctx context.Context, file medicalfile.MedicalFile) error

	GetPrescription(ctx context.Context, id string) (medicalfile.Prescription, error)
	SavePrescription(ctx context.Context, p medicalfile.Prescription) error
	DeletePrescription(ctx context.Context, id string) error
	ListPrescriptions(ctx context.Context, patientID string) ([]medicalfile.Prescription, error)

	AppendAuditLog(ctx context.Context, log models.AuditLog) error
	ListAuditLogs(ctx context.Context, patientID string, limit int) ([]models.AuditLog, error)
}

// EventPublisher is what the service needs from the Kafka producer.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, patientID string, data map[string]interface{}) error
}
