package models

import (
	"time"

	"github.com/google/uuid"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // prescription.created, prescription.updated, prescription.deleted, chart.amended
	Source    string                 `json:"source"`
	PatientID string                 `json:"patient_id,omitempty"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// AuditLog is one immutable row of the chart audit trail. Rows are only
// ever appended; retention is handled by the audit consumer.
type AuditLog struct {
	ID        int64                  `json:"id"`
	PatientID string                 `json:"patient_id"`
	Actor     string                 `json:"actor"`
	Role      string                 `json:"role,omitempty"`
	Action    string                 `json:"action"`
	Entity    string                 `json:"entity,omitempty"` // prescription, medication, lab_result, vaccination, vascular_access
	EntityID  string                 `json:"entity_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewEventID keeps event id generation in one place.
func NewEventID() string {
	return uuid.New().String()
}
