package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/pulsefit/pulsefit/internal/api/middleware"
	"github.com/pulsefit/pulsefit/internal/api/models"
	"github.com/pulsefit/pulsefit/internal/api/response"
	"github.com/pulsefit/pulsefit/internal/deletion"
	"github.com/pulsefit/pulsefit/internal/stream"
	"github.com/pulsefit/pulsefit/internal/validation"
)

const defaultSweepMax = 100

// AdminHandler serves the operator endpoints: dead-letter recovery and
// requeueing failed deletions.
type AdminHandler struct {
	recoverer *stream.Recoverer
	deletions *deletion.Service
	validate  *validatorv10.Validate
}

func NewAdminHandler(recoverer *stream.Recoverer, deletions *deletion.Service, validate *validatorv10.Validate) *AdminHandler {
	return &AdminHandler{recoverer: recoverer, deletions: deletions, validate: validate}
}

// SweepDLQ handles POST /v1/admin/dlq/sweep.
func (h *AdminHandler) SweepDLQ(w http.ResponseWriter, r *http.Request) {
	var body models.DLQSweepRequest
	if fieldErrors := validation.BindJSON(r, &body, h.validate, true); fieldErrors != nil {
		response.BadRequest(w, r, "Invalid sweep request.", fieldErrors)
		return
	}

	max := defaultSweepMax
	if body.MaxMessages != nil {
		max = *body.MaxMessages
	}

	report, err := h.recoverer.Sweep(r.Context(), max)
	if err != nil {
		response.InternalError(w, r, "Dead-letter sweep failed.")
		return
	}

	response.JSON(w, r, http.StatusOK, toRecoveryReport(report))
}

// RecoverSession handles POST /v1/admin/dlq/recover/{sessionID}.
func (h *AdminHandler) RecoverSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		response.BadRequest(w, r, "A session ID is required.", nil)
		return
	}

	report, err := h.recoverer.RecoverSession(r.Context(), sessionID, defaultSweepMax)
	if err != nil {
		response.InternalError(w, r, "Targeted recovery failed.")
		return
	}

	response.JSON(w, r, http.StatusOK, toRecoveryReport(report))
}

// RequeueDeletion handles POST /v1/admin/deletion-requests/{requestID}/requeue.
// It re-arms the cascade job for a failed deletion.
func (h *AdminHandler) RequeueDeletion(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")
	operatorID := middleware.GetUserID(r.Context())

	req, err := h.deletions.Requeue(r.Context(), operatorID, requestID)
	if err != nil {
		switch {
		case errors.Is(err, deletion.ErrRequestNotFound):
			response.NotFound(w, r, "Deletion request not found.")
		case errors.Is(err, deletion.ErrNotRequeueable):
			response.Conflict(w, r, "Only failed deletion requests can be requeued.")
		default:
			response.InternalError(w, r, "Failed to requeue deletion request.")
		}
		return
	}

	response.Accepted(w, r, "/v1/privacy/deletion-requests/"+req.ID, projectDeletion(req))
}

func toRecoveryReport(report *stream.RecoveryReport) models.RecoveryReport {
	return models.RecoveryReport{
		Processed: report.Processed,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
		Errors:    report.Errors,
	}
}
