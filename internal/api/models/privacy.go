package models

// ExportFormat represents the serialization format for a data export.
type ExportFormat string

// Export format values.
const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatCSV  ExportFormat = "csv"
)

// ExportScopeType discriminates the export scope union.
type ExportScopeType string

// Export scope types.
const (
	ScopeAll       ExportScopeType = "all"
	ScopeDateRange ExportScopeType = "dateRange"
	ScopeSpecific  ExportScopeType = "specific"
)

// ExportScope selects which data an export covers.
// Exactly one shape is valid per Type: all (no further fields),
// dateRange (startDate/endDate), specific (dataTypes).
type ExportScope struct {
	Type      ExportScopeType `json:"type" validate:"omitempty,oneof=all dateRange specific"`
	StartDate *Timestamp      `json:"startDate,omitempty"`
	EndDate   *Timestamp      `json:"endDate,omitempty"`
	DataTypes []string        `json:"dataTypes,omitempty"`
}

// ExportRequestCreate is the request body for creating an export request.
type ExportRequestCreate struct {
	Format *ExportFormat `json:"format,omitempty" validate:"omitempty,oneof=json csv"`
	Scope  *ExportScope  `json:"scope,omitempty"`
}

// ExportRequest represents a data export request.
type ExportRequest struct {
	ID                  string       `json:"id"`
	Status              string       `json:"status"`
	Format              ExportFormat `json:"format"`
	RequestedAt         Timestamp    `json:"requestedAt"`
	EstimatedCompletion *Timestamp   `json:"estimatedCompletionTime,omitempty"`
	DownloadURL         *string      `json:"downloadUrl,omitempty"`
	ExpiresAt           *Timestamp   `json:"expiresAt,omitempty"`
	RecordCount         *int         `json:"recordCount,omitempty"`
	SizeBytes           *int64       `json:"sizeBytes,omitempty"`
	Error               *string      `json:"error,omitempty"`
}

// PagedExportRequests represents a paginated list of export requests.
type PagedExportRequests struct {
	Items []ExportRequest   `json:"items"`
	Meta  PagedResponseMeta `json:"meta"`
}

// DeletionRequestCreate is the request body for creating a deletion request.
type DeletionRequestCreate struct {
	Type   *string      `json:"type,omitempty" validate:"omitempty,oneof=soft hard"`
	Scope  *ExportScope `json:"scope,omitempty"`
	Reason *string      `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// DeletionRequest represents an account deletion request.
type DeletionRequest struct {
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	Type            string     `json:"type"`
	RequestedAt     Timestamp  `json:"requestedAt"`
	ScheduledAt     Timestamp  `json:"scheduledAt"`
	CanRecover      bool       `json:"canRecover"`
	RecoverDeadline *Timestamp `json:"recoverDeadline,omitempty"`
	Error           *string    `json:"error,omitempty"`
}

// DeletionCancelRequest is the request body for cancelling a deletion.
type DeletionCancelRequest struct {
	RecoveryCode *string `json:"recoveryCode,omitempty"`
}

// DeletionCertificate is the signed proof that a deletion completed.
type DeletionCertificate struct {
	RequestID   string    `json:"requestId"`
	UserIDHash  string    `json:"userIdHash"`
	CompletedAt Timestamp `json:"completedAt"`
	Certificate string    `json:"certificate"`
}
