package records

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/renalink/platform/pkg/common/logger"
	"github.com/renalink/platform/pkg/medicalfile"
)

type HTTPHandler struct {
	service *Service
	maxBody int64
}

func NewHTTPHandler(service *Service, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/patients/{id}/medical-file", h.handleGetMedicalFile).Methods(http.MethodGet)
	router.HandleFunc("/patients/{id}/medications", h.handleGetMedications).Methods(http.MethodGet)
	router.HandleFunc("/patients/{id}/prescriptions", h.handleCreatePrescription).Methods(http.MethodPost)
	router.HandleFunc("/patients/{id}/prescriptions", h.handleListPrescriptions).Methods(http.MethodGet)
	router.HandleFunc("/prescriptions/{id}", h.handleGetPrescription).Methods(http.MethodGet)
	router.HandleFunc("/prescriptions/{id}", h.handleUpdatePrescription).Methods(http.MethodPut)
	router.HandleFunc("/prescriptions/{id}", h.handleDeletePrescription).Methods(http.MethodDelete)
	router.HandleFunc("/patients/{id}/lab-results", h.handleAddLabResult).Methods(http.MethodPost)
	router.HandleFunc("/patients/{id}/lab-results/{labId}", h.handleRemoveLabResult).Methods(http.MethodDelete)
	router.HandleFunc("/patients/{id}/vaccinations/{vaccine}/doses", h.handleAddVaccinationDose).Methods(http.MethodPost)
	router.HandleFunc("/patients/{id}/vascular-access", h.handleCreateVascularAccess).Methods(http.MethodPost)
	router.HandleFunc("/patients/{id}/vascular-access", h.handleListVascularAccess).Methods(http.MethodGet)
	router.HandleFunc("/patients/{id}/vascular-access/{accessId}/status", h.handleUpdateAccessStatus).Methods(http.MethodPatch)
	router.HandleFunc("/patients/{id}/audit", h.handleListAudit).Methods(http.MethodGet)
}

// MedicationView is the rendered medication timeline: the derived current
// snapshot plus history sorted newest first.
type MedicationView struct {
	Name     string                     `json:"name"`
	Category string                     `json:"category"`
	Current  medicalfile.Treatment      `json:"current_treatment"`
	History  []medicalfile.HistoryEntry `json:"history"`
}

type accessStatusRequest struct {
	Status  string `json:"status"`
	Confirm bool   `json:"confirm"`
}

type vaccineDoseRequest struct {
	DoseNumber   int        `json:"dose_number,omitempty"`
	Date         time.Time  `json:"date"`
	ReminderDate *time.Time `json:"reminder_date,omitempty"`
}

func (h *HTTPHandler) handleGetMedicalFile(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["id"]
	file, err := h.service.GetMedicalFile(r.Context(), patientID)
	if err != nil {
		h.writeError(w, err, "failed to load medical file")
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (h *HTTPHandler) handleGetMedications(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["id"]
	file, err := h.service.GetMedicalFile(r.Context(), patientID)
	if err != nil {
		h.writeError(w, err, "failed to load medical file")
		return
	}

	views := make([]MedicationView, 0, len(file.Medications))
	for _, med := range file.Medications {
		current, _ := medicalfile.CurrentTreatment(med.History)
		views = append(views, MedicationView{
			Name:     med.Name,
			Category: med.Category,
			Current:  current,
			History:  medicalfile.SortHistoryByRecency(med.History),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *HTTPHandler) handleCreatePrescription(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	patientID := mux.Vars(r)["id"]

	var p medicalfile.Prescription
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	p.PatientID = patientID

	created, err := h.service.CreatePrescription(r.Context(), p, actorFrom(r))
	if err != nil {
		h.writeError(w, err, "failed to create prescription")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *HTTPHandler) handleListPrescriptions(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["id"]
	prescriptions, err := h.service.ListPrescriptions(r.Context(), patientID)
	if err != nil {
		h.writeError(w, err, "failed to list prescriptions")
		return
	}
	writeJSON(w, http.StatusOK, prescriptions)
}

func (h *HTTPHandler) handleGetPrescription(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, err := h.service.GetPrescription(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "failed to load prescription")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *HTTPHandler) handleUpdatePrescription(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	id := mux.Vars(r)["id"]

	var p medicalfile.Prescription
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	p.ID = id

	updated, err := h.service.UpdatePrescription(r.Context(), p, actorFrom(r))
	if err != nil {
		h.writeError(w, err, "failed to update prescription")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *HTTPHandler) handleDeletePrescription(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.service.DeletePrescription(r.Context(), id, actorFrom(r)); err != nil {
		h.writeError(w, err, "failed to delete prescription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleAddLabResult(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	patientID := mux.Vars(r)["id"]

	var lab medicalfile.LabResult
	if err := json.NewDecoder(r.Body).Decode(&lab); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	added, err := h.service.AddLabResult(r.Context(), patientID, lab, actorFrom(r))
	if err != nil {
		h.writeError(w, err, "failed to add lab result")
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (h *HTTPHandler) handleRemoveLabResult(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	confirmed := r.URL.Query().Get("confirm") == "true"

	err := h.service.RemoveLabResult(r.Context(), vars["id"], vars["labId"], confirmed, actorFrom(r))
	if err != nil {
		h.writeError(w, err, "failed to remove lab result")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleAddVaccinationDose(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	vars := mux.Vars(r)

	var req vaccineDoseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	dose := medicalfile.VaccineDose{
		DoseNumber:   req.DoseNumber,
		Date:         req.Date,
		ReminderDate: req.ReminderDate,
	}
	if err := h.service.AddVaccinationDose(r.Context(), vars["id"], vars["vaccine"], dose, actorFrom(r)); err != nil {
		h.writeError(w, err, "failed to add vaccination dose")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *HTTPHandler) handleCreateVascularAccess(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	patientID := mux.Vars(r)["id"]

	var access medicalfile.VascularAccess
	if err := json.NewDecoder(r.Body).Decode(&access); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.service.CreateVascularAccess(r.Context(), patientID, access, actorFrom(r))
	if err != nil {
		h.writeError(w, err, "failed to create vascular access")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *HTTPHandler) handleListVascularAccess(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["id"]
	file, err := h.service.GetMedicalFile(r.Context(), patientID)
	if err != nil {
		h.writeError(w, err, "failed to load medical file")
		return
	}
	writeJSON(w, http.StatusOK, medicalfile.SortAccessesByRecency(file.VascularAccess))
}

func (h *HTTPHandler) handleUpdateAccessStatus(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	vars := mux.Vars(r)

	var req accessStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := h.service.UpdateVascularAccessStatus(r.Context(), vars["id"], vars["accessId"], req.Status, req.Confirm, actorFrom(r))
	if err != nil {
		h.writeError(w, err, "failed to update vascular access status")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["id"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := h.service.ListAuditLogs(r.Context(), patientID, limit)
	if err != nil {
		h.writeError(w, err, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *HTTPHandler) limitBody(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
}

// writeError maps declined operations and validation failures to statuses
// the editing workflow can turn into user-facing warnings.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case IsValidationError(err), errors.Is(err, medicalfile.ErrMissingPrescriptionID):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, ErrConfirmationRequired):
		writeJSON(w, http.StatusPreconditionFailed, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrRecordImmutable), errors.Is(err, ErrAccessConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		logger.Log.WithError(err).Error(msg)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func actorFrom(r *http.Request) Actor {
	actor := Actor{
		ID:   r.Header.Get("X-Actor"),
		Role: r.Header.Get("X-Actor-Role"),
	}
	if actor.ID == "" {
		actor.ID = "unknown"
	}
	return actor
}
