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
	"github.com/pulsefit/pulsefit/internal/ratelimit"
	"github.com/pulsefit/pulsefit/internal/validation"
)

// DeletionHandler serves the account-deletion endpoints.
type DeletionHandler struct {
	service  *deletion.Service
	validate *validatorv10.Validate
}

func NewDeletionHandler(service *deletion.Service, validate *validatorv10.Validate) *DeletionHandler {
	return &DeletionHandler{service: service, validate: validate}
}

// createdResponse carries the one-time recovery code alongside the request.
type deletionCreated struct {
	models.DeletionRequest
	RecoveryCode *string `json:"recoveryCode,omitempty"`
}

// Create handles POST /v1/privacy/deletion-requests.
func (h *DeletionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var body models.DeletionRequestCreate
	if fieldErrors := validation.BindJSON(r, &body, h.validate, true); fieldErrors != nil {
		response.BadRequest(w, r, "Invalid deletion request.", fieldErrors)
		return
	}

	created, err := h.service.Request(r.Context(), userID, body.Type, body.Reason)
	if err != nil {
		writeDeletionError(w, r, err)
		return
	}

	projection := deletionCreated{DeletionRequest: projectDeletion(&created.Request)}
	if created.RecoveryCode != "" {
		projection.RecoveryCode = &created.RecoveryCode
	}

	response.Accepted(w, r, "/v1/privacy/deletion-requests/"+created.Request.ID, projection)
}

// Get handles GET /v1/privacy/deletion-requests/{requestID}.
func (h *DeletionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	requestID := chi.URLParam(r, "requestID")

	req, err := h.service.Status(r.Context(), userID, requestID)
	if err != nil {
		writeDeletionError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, projectDeletion(req))
}

// Cancel handles POST /v1/privacy/deletion-requests/{requestID}/cancel.
func (h *DeletionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	requestID := chi.URLParam(r, "requestID")

	var body models.DeletionCancelRequest
	if fieldErrors := validation.BindJSON(r, &body, h.validate, true); fieldErrors != nil {
		response.BadRequest(w, r, "Invalid cancellation request.", fieldErrors)
		return
	}

	if err := h.service.Cancel(r.Context(), userID, requestID, body.RecoveryCode); err != nil {
		writeDeletionError(w, r, err)
		return
	}

	response.NoContent(w, r)
}

// Certificate handles GET /v1/privacy/deletion-requests/{requestID}/certificate.
func (h *DeletionHandler) Certificate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	requestID := chi.URLParam(r, "requestID")

	cert, err := h.service.Certificate(r.Context(), userID, requestID)
	if err != nil {
		writeDeletionError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.DeletionCertificate{
		RequestID:   cert.RequestID,
		UserIDHash:  cert.UserIDHash,
		CompletedAt: models.Timestamp(cert.CompletedAt),
		Certificate: cert.Signed,
	})
}

func projectDeletion(req *deletion.Request) models.DeletionRequest {
	return models.DeletionRequest{
		ID:              req.ID,
		Status:          req.Status,
		Type:            req.Type,
		RequestedAt:     models.Timestamp(req.RequestedAt),
		ScheduledAt:     models.Timestamp(req.ScheduledAt),
		CanRecover:      req.CanRecover,
		RecoverDeadline: models.TimestampPtr(req.RecoverDeadline),
		Error:           req.Error,
	}
}

func writeDeletionError(w http.ResponseWriter, r *http.Request, err error) {
	var rateErr *ratelimit.Error
	var validationErr *deletion.ValidationError

	switch {
	case errors.As(err, &rateErr):
		response.TooManyRequests(w, r, "Deletion request limit reached. Try again later.", int(rateErr.RetryAfter.Seconds()))
	case errors.As(err, &validationErr):
		response.BadRequest(w, r, "Invalid deletion request.", []models.FieldError{
			{Field: validationErr.Field, Message: validationErr.Message},
		})
	case errors.Is(err, deletion.ErrActiveRequestExists):
		response.Conflict(w, r, "A deletion request is already active for this account.")
	case errors.Is(err, deletion.ErrRequestNotFound):
		response.NotFound(w, r, "Deletion request not found.")
	case errors.Is(err, deletion.ErrPermissionDenied):
		response.Forbidden(w, r, "You do not have access to this deletion request.")
	case errors.Is(err, deletion.ErrNotCancellable):
		response.Conflict(w, r, "This deletion request can no longer be cancelled.")
	case errors.Is(err, deletion.ErrRecoveryWindowClosed):
		response.Conflict(w, r, "The recovery window for this deletion has closed.")
	case errors.Is(err, deletion.ErrRecoveryCodeRequired):
		response.BadRequest(w, r, "A recovery code is required to cancel this deletion.", nil)
	case errors.Is(err, deletion.ErrRecoveryCodeInvalid):
		response.Forbidden(w, r, "The recovery code is invalid or has already been used.")
	case errors.Is(err, deletion.ErrCertificateUnavailable):
		response.Conflict(w, r, "A certificate is only available once the deletion has completed.")
	default:
		response.InternalError(w, r, "Failed to process deletion request.")
	}
}
