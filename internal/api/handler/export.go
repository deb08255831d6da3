// Package handler implements the HTTP handlers for the PulseFit API.
package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/pulsefit/pulsefit/internal/api/middleware"
	"github.com/pulsefit/pulsefit/internal/api/models"
	"github.com/pulsefit/pulsefit/internal/api/response"
	"github.com/pulsefit/pulsefit/internal/export"
	"github.com/pulsefit/pulsefit/internal/ratelimit"
	"github.com/pulsefit/pulsefit/internal/validation"
)

// ExportHandler serves the data-export endpoints.
type ExportHandler struct {
	service  *export.Service
	validate *validatorv10.Validate
}

func NewExportHandler(service *export.Service, validate *validatorv10.Validate) *ExportHandler {
	return &ExportHandler{service: service, validate: validate}
}

// Create handles POST /v1/privacy/export-requests.
func (h *ExportHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var body models.ExportRequestCreate
	if fieldErrors := validation.BindJSON(r, &body, h.validate, true); fieldErrors != nil {
		response.BadRequest(w, r, "Invalid export request.", fieldErrors)
		return
	}

	req, err := h.service.Request(r.Context(), userID, formatString(body.Format), toScope(body.Scope))
	if err != nil {
		writeExportError(w, r, err)
		return
	}

	projection, err := h.project(r, req)
	if err != nil {
		response.InternalError(w, r, "Failed to prepare export response.")
		return
	}

	response.Accepted(w, r, "/v1/privacy/export-requests/"+req.ID, projection)
}

// Get handles GET /v1/privacy/export-requests/{requestID}.
func (h *ExportHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	requestID := chi.URLParam(r, "requestID")

	req, err := h.service.Status(r.Context(), userID, requestID)
	if err != nil {
		writeExportError(w, r, err)
		return
	}

	projection, err := h.project(r, req)
	if err != nil {
		response.InternalError(w, r, "Failed to prepare export response.")
		return
	}

	response.JSON(w, r, http.StatusOK, projection)
}

// List handles GET /v1/privacy/export-requests.
func (h *ExportHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit := queryInt(r, "limit", 20)

	requests, err := h.service.List(r.Context(), userID, limit)
	if err != nil {
		writeExportError(w, r, err)
		return
	}

	items := make([]models.ExportRequest, 0, len(requests))
	for i := range requests {
		projection, err := h.project(r, &requests[i])
		if err != nil {
			response.InternalError(w, r, "Failed to prepare export response.")
			return
		}
		items = append(items, *projection)
	}

	response.JSON(w, r, http.StatusOK, models.PagedExportRequests{
		Items: items,
		Meta:  models.PagedResponseMeta{Limit: limit},
	})
}

func (h *ExportHandler) project(r *http.Request, req *export.Request) (*models.ExportRequest, error) {
	downloadURL, err := h.service.DownloadURL(r.Context(), req)
	if err != nil {
		return nil, err
	}

	projection := &models.ExportRequest{
		ID:          req.ID,
		Status:      req.Status,
		Format:      models.ExportFormat(req.Format),
		RequestedAt: models.Timestamp(req.RequestedAt),
		DownloadURL: downloadURL,
		ExpiresAt:   models.TimestampPtr(req.ExpiresAt),
		RecordCount: req.RecordCount,
		SizeBytes:   req.SizeBytes,
		Error:       req.Error,
	}
	if !req.Terminal() {
		estimate := models.Timestamp(req.EstimatedCompletion)
		projection.EstimatedCompletion = &estimate
	}

	return projection, nil
}

func writeExportError(w http.ResponseWriter, r *http.Request, err error) {
	var rateErr *ratelimit.Error
	var validationErr *export.ValidationError

	switch {
	case errors.As(err, &rateErr):
		response.TooManyRequests(w, r, "Export request limit reached. Try again later.", int(rateErr.RetryAfter.Seconds()))
	case errors.As(err, &validationErr):
		response.BadRequest(w, r, "Invalid export request.", []models.FieldError{
			{Field: validationErr.Field, Message: validationErr.Message},
		})
	case errors.Is(err, export.ErrActiveRequestExists):
		response.Conflict(w, r, "An export request is already in progress.")
	case errors.Is(err, export.ErrRequestNotFound):
		response.NotFound(w, r, "Export request not found.")
	case errors.Is(err, export.ErrPermissionDenied):
		response.Forbidden(w, r, "You do not have access to this export request.")
	default:
		response.InternalError(w, r, "Failed to process export request.")
	}
}

func formatString(format *models.ExportFormat) *string {
	if format == nil {
		return nil
	}
	s := string(*format)
	return &s
}

func toScope(scope *models.ExportScope) *export.Scope {
	if scope == nil {
		return nil
	}

	out := &export.Scope{
		Type:      string(scope.Type),
		DataTypes: scope.DataTypes,
	}
	if scope.StartDate != nil {
		t := scope.StartDate.Time()
		out.StartDate = &t
	}
	if scope.EndDate != nil {
		t := scope.EndDate.Time()
		out.EndDate = &t
	}

	return out
}
