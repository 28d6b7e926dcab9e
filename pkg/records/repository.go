package records

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/renalink/platform/pkg/common/models"
	"github.com/renalink/platform/pkg/medicalfile"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Repository is the Postgres Store. The medical file is persisted as one
// JSON document per patient: the file is single-writer and always replaced
// wholesale, which is exactly the reconciliation contract.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type fileModel struct {
	PatientID string         `gorm:"primaryKey;column:patient_id"`
	Document  datatypes.JSON `gorm:"column:document"`
	CreatedAt time.Time      `gorm:"column:created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (fileModel) TableName() string { return "patient_medical_files" }

type prescriptionModel struct {
	ID               string         `gorm:"primaryKey;column:id"`
	PatientID        string         `gorm:"column:patient_id;index"`
	DoctorID         string         `gorm:"column:doctor_id"`
	AppointmentID    string         `gorm:"column:appointment_id"`
	PrescriptionDate time.Time      `gorm:"column:prescription_date"`
	Medications      datatypes.JSON `gorm:"column:medications"`
	CreatedAt        time.Time      `gorm:"column:created_at"`
	UpdatedAt        time.Time      `gorm:"column:updated_at"`
}

func (prescriptionModel) TableName() string { return "prescriptions" }

type auditModel struct {
	ID        int64          `gorm:"primaryKey;autoIncrement;column:id"`
	PatientID string         `gorm:"column:patient_id;index"`
	Actor     string         `gorm:"column:actor"`
	Role      string         `gorm:"column:role"`
	Action    string         `gorm:"column:action"`
	Entity    string         `gorm:"column:entity"`
	EntityID  string         `gorm:"column:entity_id"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (auditModel) TableName() string { return "chart_audit_logs" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&fileModel{}, &prescriptionModel{}, &auditModel{})
}

func (r *Repository) GetMedicalFile(ctx context.Context, patientID string) (medicalfile.MedicalFile, error) {
	var row fileModel
	result := r.db.WithContext(ctx).First(&row, "patient_id = ?", patientID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return medicalfile.MedicalFile{}, ErrNotFound
	}
	if result.Error != nil {
		return medicalfile.MedicalFile{}, result.Error
	}

	var file medicalfile.MedicalFile
	if len(row.Document) > 0 {
		if err := json.Unmarshal(row.Document, &file); err != nil {
			return medicalfile.MedicalFile{}, err
		}
	}
	file.PatientID = row.PatientID
	file.UpdatedAt = row.UpdatedAt
	return file.Normalize(), nil
}

func (r *Repository) SaveMedicalFile(ctx context.Context, file medicalfile.MedicalFile) error {
	now := time.Now().UTC()
	file.UpdatedAt = now
	doc, err := json.Marshal(file.Normalize())
	if err != nil {
		return err
	}

	row := fileModel{
		PatientID: file.PatientID,
		Document:  datatypes.JSON(doc),
		UpdatedAt: now,
	}
	return r.db.WithContext(ctx).Save(&row).Error
}

func (r *Repository) GetPrescription(ctx context.Context, id string) (medicalfile.Prescription, error) {
	var row prescriptionModel
	result := r.db.WithContext(ctx).First(&row, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return medicalfile.Prescription{}, ErrNotFound
	}
	if result.Error != nil {
		return medicalfile.Prescription{}, result.Error
	}
	return prescriptionFromModel(row)
}

func (r *Repository) SavePrescription(ctx context.Context, p medicalfile.Prescription) error {
	meds, err := json.Marshal(p.Medications)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	row := prescriptionModel{
		ID:               p.ID,
		PatientID:        p.PatientID,
		DoctorID:         p.DoctorID,
		AppointmentID:    p.AppointmentID,
		PrescriptionDate: p.PrescriptionDate,
		Medications:      datatypes.JSON(meds),
		UpdatedAt:        now,
	}
	return r.db.WithContext(ctx).Save(&row).Error
}

func (r *Repository) DeletePrescription(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&prescriptionModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListPrescriptions(ctx context.Context, patientID string) ([]medicalfile.Prescription, error) {
	var rows []prescriptionModel
	if err := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("prescription_date DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]medicalfile.Prescription, 0, len(rows))
	for _, row := range rows {
		p, err := prescriptionFromModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *Repository) AppendAuditLog(ctx context.Context, log models.AuditLog) error {
	payload, err := json.Marshal(log.Payload)
	if err != nil {
		return err
	}
	row := auditModel{
		PatientID: log.PatientID,
		Actor:     log.Actor,
		Role:      log.Role,
		Action:    log.Action,
		Entity:    log.Entity,
		EntityID:  log.EntityID,
		Payload:   datatypes.JSON(payload),
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *Repository) ListAuditLogs(ctx context.Context, patientID string, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []auditModel
	if err := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	logs := make([]models.AuditLog, 0, len(rows))
	for _, row := range rows {
		var payload map[string]interface{}
		if len(row.Payload) > 0 {
			_ = json.Unmarshal(row.Payload, &payload)
		}
		logs = append(logs, models.AuditLog{
			ID:        row.ID,
			PatientID: row.PatientID,
			Actor:     row.Actor,
			Role:      row.Role,
			Action:    row.Action,
			Entity:    row.Entity,
			EntityID:  row.EntityID,
			Payload:   payload,
			CreatedAt: row.CreatedAt,
		})
	}
	return logs, nil
}

// CleanupAuditLogs trims audit rows older than the retention window. A zero
// retention keeps everything.
func (r *Repository) CleanupAuditLogs(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-retention)
	return r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&auditModel{}).Error
}

func prescriptionFromModel(row prescriptionModel) (medicalfile.Prescription, error) {
	var meds []medicalfile.PrescriptionMedication
	if len(row.Medications) > 0 {
		if err := json.Unmarshal(row.Medications, &meds); err != nil {
			return medicalfile.Prescription{}, err
		}
	}
	return medicalfile.Prescription{
		ID:               row.ID,
		PatientID:        row.PatientID,
		DoctorID:         row.DoctorID,
		AppointmentID:    row.AppointmentID,
		PrescriptionDate: row.PrescriptionDate,
		Medications:      meds,
	}, nil
}
