package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsefit/pulsefit/internal/analytics"
	"github.com/pulsefit/pulsefit/internal/api"
	"github.com/pulsefit/pulsefit/internal/audit"
	"github.com/pulsefit/pulsefit/internal/auth"
	"github.com/pulsefit/pulsefit/internal/deletion"
	"github.com/pulsefit/pulsefit/internal/export"
	"github.com/pulsefit/pulsefit/internal/queue"
	"github.com/pulsefit/pulsefit/internal/ratelimit"
	"github.com/pulsefit/pulsefit/internal/scheduler"
	"github.com/pulsefit/pulsefit/internal/storage"
	"github.com/pulsefit/pulsefit/internal/stream"
	"github.com/pulsefit/pulsefit/internal/userdata"
	"github.com/pulsefit/pulsefit/internal/validation"
)

type apiFixture struct {
	server        *httptest.Server
	authService   *auth.Service
	exportService *export.Service
	users         *userdata.InMemoryStore
	dlq           *queue.InMemoryQueue
	live          *queue.InMemoryQueue
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	users := userdata.NewInMemoryStore()
	auditor := audit.NewInMemoryRecorder()
	limiter := ratelimit.NewInMemoryLimiter(ratelimit.DefaultWindows())
	jobs := scheduler.NewInMemoryStore()
	live := queue.NewInMemoryQueue()
	dlq := queue.NewInMemoryQueue()

	exportService := export.NewService(
		export.NewInMemoryRepository(),
		limiter,
		export.NewCollector(users),
		storage.NewInMemoryStore(),
		jobs,
		auditor,
		zerolog.Nop(),
	)
	deletionService := deletion.NewService(
		deletion.NewInMemoryRepository(),
		limiter,
		users,
		analytics.NewInMemoryStore(),
		jobs,
		deletion.NewCertificateSigner([]byte("test-signing-key"), "https://api.test"),
		auditor,
		zerolog.Nop(),
	)

	authService := auth.NewService(auth.Config{
		SigningKey: "test-jwt-key",
		Issuer:     "https://id.test",
		Audience:   "pulsefit-api",
	})

	router := api.NewRouter(api.RouterConfig{
		Logger:          zerolog.Nop(),
		AuthService:     authService,
		ExportService:   exportService,
		DeletionService: deletionService,
		Recoverer:       stream.NewRecoverer(dlq, live, auditor, zerolog.Nop()),
		Validate:        validation.New(),
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &apiFixture{
		server:        server,
		authService:   authService,
		exportService: exportService,
		users:         users,
		dlq:           dlq,
		live:          live,
	}
}

func (f *apiFixture) token(t *testing.T, userID string, admin bool) string {
	t.Helper()
	token, _, err := f.authService.GenerateAccessToken(userID, admin)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestRouter_HealthIsPublic(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/v1/ops/health", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRouter_PrivacyRequiresAuth(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/privacy/export-requests", "", map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", resp.StatusCode)
	}
}

func TestRouter_ExportLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, "user-1", false)

	f.users.PutProfile(&userdata.Profile{
		UserID:      "user-1",
		DisplayName: "Test User",
		Email:       "test@example.com",
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	})

	resp := f.do(t, http.MethodPost, "/v1/privacy/export-requests", token, map[string]interface{}{
		"format": "json",
		"scope":  map[string]interface{}{"type": "all"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc == "" {
		t.Error("expected a Location header")
	}
	var created struct {
		ID                  string  `json:"id"`
		Status              string  `json:"status"`
		EstimatedCompletion *string `json:"estimatedCompletionTime"`
		DownloadURL         *string `json:"downloadUrl"`
	}
	decode(t, resp, &created)
	if created.Status != "PENDING" {
		t.Errorf("expected status PENDING, got %s", created.Status)
	}
	if created.EstimatedCompletion == nil {
		t.Error("expected an estimated completion time while pending")
	}
	if created.DownloadURL != nil {
		t.Error("expected no download url while pending")
	}

	// A duplicate submission is rejected
	resp = f.do(t, http.MethodPost, "/v1/privacy/export-requests", token, map[string]interface{}{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict && resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 409 or 429 for a duplicate, got %d", resp.StatusCode)
	}

	// The worker completes the job out of band
	payload, _ := json.Marshal(export.JobPayload{RequestID: created.ID})
	if result := f.exportService.HandleJob(context.Background(), payload); result.Code != scheduler.Ok {
		t.Fatalf("job failed: %v", result.Err)
	}

	resp = f.do(t, http.MethodGet, "/v1/privacy/export-requests/"+created.ID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got struct {
		Status      string  `json:"status"`
		DownloadURL *string `json:"downloadUrl"`
		RecordCount *int    `json:"recordCount"`
	}
	decode(t, resp, &got)
	if got.Status != "COMPLETED" {
		t.Errorf("expected status COMPLETED, got %s", got.Status)
	}
	if got.DownloadURL == nil {
		t.Error("expected a download url once completed")
	}
	if got.RecordCount == nil || *got.RecordCount != 1 {
		t.Errorf("expected record count 1, got %v", got.RecordCount)
	}

	// Another user cannot read it
	resp = f.do(t, http.MethodGet, "/v1/privacy/export-requests/"+created.ID, f.token(t, "user-2", false), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for a foreign request, got %d", resp.StatusCode)
	}
}

func TestRouter_ExportValidation(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, "user-1", false)

	resp := f.do(t, http.MethodPost, "/v1/privacy/export-requests", token, map[string]interface{}{
		"format": "xml",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad format, got %d", resp.StatusCode)
	}
}

func TestRouter_DeletionLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, "user-1", false)

	f.users.PutProfile(&userdata.Profile{
		UserID:      "user-1",
		DisplayName: "Test User",
		Email:       "test@example.com",
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	})

	resp := f.do(t, http.MethodPost, "/v1/privacy/deletion-requests", token, map[string]interface{}{
		"type": "soft",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var created struct {
		ID           string  `json:"id"`
		Status       string  `json:"status"`
		RecoveryCode *string `json:"recoveryCode"`
	}
	decode(t, resp, &created)
	if created.Status != "SCHEDULED" {
		t.Errorf("expected status SCHEDULED, got %s", created.Status)
	}
	if created.RecoveryCode == nil || *created.RecoveryCode == "" {
		t.Fatal("expected a recovery code in the create response")
	}

	// The recovery code appears only once
	resp = f.do(t, http.MethodGet, "/v1/privacy/deletion-requests/"+created.ID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got map[string]interface{}
	decode(t, resp, &got)
	if _, ok := got["recoveryCode"]; ok {
		t.Error("expected the recovery code to be omitted from reads")
	}

	// Certificate is not available before completion
	resp = f.do(t, http.MethodGet, "/v1/privacy/deletion-requests/"+created.ID+"/certificate", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 before completion, got %d", resp.StatusCode)
	}

	// Cancelling without the code fails, with it succeeds
	resp = f.do(t, http.MethodPost, "/v1/privacy/deletion-requests/"+created.ID+"/cancel", token, map[string]interface{}{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without a recovery code, got %d", resp.StatusCode)
	}
	resp = f.do(t, http.MethodPost, "/v1/privacy/deletion-requests/"+created.ID+"/cancel", token, map[string]interface{}{
		"recoveryCode": *created.RecoveryCode,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204 on cancel, got %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/v1/privacy/deletion-requests/"+created.ID, token, nil)
	decode(t, resp, &got)
	if got["status"] != "CANCELLED" {
		t.Errorf("expected status CANCELLED, got %v", got["status"])
	}
}

func TestRouter_AdminSurfaceRequiresOperator(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/admin/dlq/sweep", f.token(t, "user-1", false), map[string]interface{}{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for a non-operator, got %d", resp.StatusCode)
	}

	// Park one event, then sweep as an operator
	wrapped := stream.DLQEvent{
		SessionEvent: stream.SessionEvent{
			UserID:    "user-1",
			SessionID: "ses_1",
			Data:      stream.SessionData{ExerciseID: "squat", Segment: "short", DurationSeconds: 300},
			Timestamp: time.Now().UTC(),
		},
		Error:    "connection refused",
		FailedAt: time.Now().UTC(),
	}
	data, _ := json.Marshal(wrapped)
	if _, err := f.dlq.Publish(context.Background(), data, map[string]string{
		stream.AttrSessionID: "ses_1",
	}); err != nil {
		t.Fatalf("failed to park event: %v", err)
	}

	resp = f.do(t, http.MethodPost, "/v1/admin/dlq/sweep", f.token(t, "operator-1", true), map[string]interface{}{
		"maxMessages": 10,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var report struct {
		Processed int `json:"processed"`
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}
	decode(t, resp, &report)
	if report.Processed != 1 || report.Succeeded != 1 {
		t.Errorf("unexpected sweep report: %+v", report)
	}
	if f.live.Len() != 1 {
		t.Errorf("expected the event republished, got %d", f.live.Len())
	}
}

func TestRouter_RequeueDeletionEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/admin/deletion-requests/del_missing/requeue", f.token(t, "user-1", false), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for a non-operator, got %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/v1/admin/deletion-requests/del_missing/requeue", f.token(t, "operator-1", true), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown request, got %d", resp.StatusCode)
	}
}
