package models

// Health represents the health check response.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Readiness represents the readiness check response.
type Readiness struct {
	Status HealthStatus            `json:"status"`
	Time   Timestamp               `json:"time"`
	Checks map[string]HealthStatus `json:"checks,omitempty"`
}

// RecoveryReport is the outcome of a dead-letter recovery run.
type RecoveryReport struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// DLQSweepRequest is the request body for a manual dead-letter sweep.
type DLQSweepRequest struct {
	MaxMessages *int `json:"maxMessages,omitempty" validate:"omitempty,gte=1,lte=1000"`
}
