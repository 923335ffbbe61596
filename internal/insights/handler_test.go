package insights

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"insight-gateway/internal/compute"
	"insight-gateway/internal/shared/server/middleware"
	"insight-gateway/internal/shared/storage/artifact"
)

func newTestRouter(t *testing.T, client compute.Client, statusWindow time.Duration) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := newTestService(client, nil)
	router := gin.New()
	router.Use(middleware.Identity(middleware.RoleViewer))
	NewHandler(svc, statusWindow).RegisterRoutes(router.Group("/api/v1"))
	return router, svc
}

func doRequest(t *testing.T, router *gin.Engine, method, path, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("X-Dashboard-Role", role)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body %q: %v", w.Body.String(), err)
	}
	return body
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, w)
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("body %q has no error object", w.Body.String())
	}
	code, _ := errObj["code"].(string)
	return code
}

func errorDetailField(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, w)
	errObj, _ := body["error"].(map[string]any)
	details, ok := errObj["details"].([]any)
	if !ok || len(details) == 0 {
		t.Fatalf("body %q has no details", w.Body.String())
	}
	first, _ := details[0].(map[string]any)
	field, _ := first["field"].(string)
	return field
}

func TestStartAnalysisRequiresAdmin(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &fakeClient{}, 50*time.Millisecond)

	w := doRequest(t, router, http.MethodPost, "/api/v1/analyses", "", `{"fileId":"f1","prompt":"long enough prompt"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for viewer", w.Code)
	}
	if code := errorCode(t, w); code != "forbidden" {
		t.Fatalf("error code = %q, want forbidden", code)
	}
}

func TestStartAnalysisValidation(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &fakeClient{}, 50*time.Millisecond)

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{name: "missing file id", body: `{"prompt":"long enough prompt"}`, wantField: "fileId"},
		{name: "prompt too short", body: `{"fileId":"f1","prompt":"short"}`, wantField: "prompt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodPost, "/api/v1/analyses", "admin", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if field := errorDetailField(t, w); field != tt.wantField {
				t.Fatalf("detail field = %q, want %q", field, tt.wantField)
			}
		})
	}
}

func TestStartAnalysisAccepted(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		steps:  []statusStep{completed(100, "a1")},
		result: json.RawMessage(`{"analysis_summary":"done"}`),
	}
	router, svc := newTestRouter(t, client, 50*time.Millisecond)

	w := doRequest(t, router, http.MethodPost, "/api/v1/analyses", "admin", `{"fileId":"f1","prompt":"long enough prompt"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	jobID, _ := body["jobId"].(string)
	if jobID == "" {
		t.Fatalf("body = %v, want a job id", body)
	}
	if status, _ := body["status"].(string); status != StatusQueued {
		t.Fatalf("status = %q, want queued", status)
	}

	final := waitForTerminal(t, svc, jobID)
	if final.Status != StatusCompleted {
		t.Fatalf("background run status = %q, want completed", final.Status)
	}
}

func TestStartAnalysisUpstreamError(t *testing.T) {
	t.Parallel()

	client := &fakeClient{submitErr: errors.New("connection refused")}
	router, _ := newTestRouter(t, client, 50*time.Millisecond)

	w := doRequest(t, router, http.MethodPost, "/api/v1/analyses", "admin", `{"fileId":"f1","prompt":"long enough prompt"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if code := errorCode(t, w); code != "upstream_error" {
		t.Fatalf("error code = %q, want upstream_error", code)
	}
}

func TestStartBulkValidatesPrompts(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &fakeClient{}, 50*time.Millisecond)

	w := doRequest(t, router, http.MethodPost, "/api/v1/analyses/bulk", "admin", `{"fileId":"f1","prompts":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty prompts", w.Code)
	}
	if field := errorDetailField(t, w); field != "prompts" {
		t.Fatalf("detail field = %q, want prompts", field)
	}

	w = doRequest(t, router, http.MethodPost, "/api/v1/analyses/bulk", "admin", `{"fileId":"f1","prompts":["long enough prompt","short"]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for one short prompt", w.Code)
	}
}

func TestStartBulkLaunchesEveryPrompt(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		steps:  []statusStep{completed(100, "")},
		result: json.RawMessage(`{"analysis_summary":"done"}`),
	}
	router, svc := newTestRouter(t, client, 50*time.Millisecond)

	w := doRequest(t, router, http.MethodPost, "/api/v1/analyses/bulk", "admin",
		`{"fileId":"f1","prompts":["first slot prompt","second slot prompt"]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	jobs, ok := body["jobs"].([]any)
	if !ok || len(jobs) != 2 {
		t.Fatalf("jobs = %v, want 2 entries", body["jobs"])
	}
	for _, raw := range jobs {
		entry, _ := raw.(map[string]any)
		jobID, _ := entry["jobId"].(string)
		if jobID == "" {
			t.Fatalf("job entry = %v, want job id", entry)
		}
		waitForTerminal(t, svc, jobID)
	}
}

func TestGetJobThrottlesRapidPolls(t *testing.T) {
	t.Parallel()

	router, svc := newTestRouter(t, &fakeClient{}, time.Second)
	svc.Jobs.Track(AnalysisJob{JobID: "job-9", Status: StatusProcessing, Progress: 40})

	w := doRequest(t, router, http.MethodGet, "/api/v1/jobs/job-9", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("first poll status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if status, _ := body["status"].(string); status != StatusProcessing {
		t.Fatalf("status = %q, want processing", status)
	}
	if progress, _ := body["progress"].(float64); progress != 40 {
		t.Fatalf("progress = %v, want 40", body["progress"])
	}

	w = doRequest(t, router, http.MethodGet, "/api/v1/jobs/job-9", "", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second poll status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After = %q, want 1", w.Header().Get("Retry-After"))
	}
	if code := errorCode(t, w); code != "rate_limited" {
		t.Fatalf("error code = %q, want rate_limited", code)
	}
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &fakeClient{}, 50*time.Millisecond)

	w := doRequest(t, router, http.MethodGet, "/api/v1/jobs/unknown", "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if code := errorCode(t, w); code != "not_found" {
		t.Fatalf("error code = %q, want not_found", code)
	}
}

func TestGetJobReportsTerminalFields(t *testing.T) {
	t.Parallel()

	router, svc := newTestRouter(t, &fakeClient{}, 50*time.Millisecond)
	svc.Jobs.Track(AnalysisJob{JobID: "job-3", Status: StatusProcessing})
	svc.Jobs.Fail("job-3", ReasonFailed, "model timeout")

	w := doRequest(t, router, http.MethodGet, "/api/v1/jobs/job-3", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if status, _ := body["status"].(string); status != StatusFailed {
		t.Fatalf("status = %q, want failed", status)
	}
	if reason, _ := body["reason"].(string); reason != ReasonFailed {
		t.Fatalf("reason = %q, want failed", reason)
	}
	if msg, _ := body["error"].(string); msg != "model timeout" {
		t.Fatalf("error = %q, want model timeout", msg)
	}
}

func TestListAnalysesFiltersByRole(t *testing.T) {
	t.Parallel()

	router, svc := newTestRouter(t, &fakeClient{}, 50*time.Millisecond)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a1", "a2"} {
		record := AnalysisRecord{AnalysisID: id, IsActive: true, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := svc.Registry.Upsert(ctx, record); err != nil {
			t.Fatalf("Upsert(%s) error = %v", id, err)
		}
	}
	svc.Visibility.Seed("a1", false)

	w := doRequest(t, router, http.MethodGet, "/api/v1/analyses", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("viewer status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	visible, _ := body["analyses"].([]any)
	if len(visible) != 1 {
		t.Fatalf("viewer analyses = %d, want only the active one", len(visible))
	}

	w = doRequest(t, router, http.MethodGet, "/api/v1/analyses", "admin", "")
	body = decodeBody(t, w)
	all, _ := body["analyses"].([]any)
	if len(all) != 2 {
		t.Fatalf("admin analyses = %d, want 2", len(all))
	}
}

func TestListAnalysesRefreshPullsHistory(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		historyItems: []compute.HistoryItem{
			{AnalysisID: "h1", Raw: json.RawMessage(`{"analysis_summary":"from history"}`)},
		},
	}
	router, svc := newTestRouter(t, client, 50*time.Millisecond)

	w := doRequest(t, router, http.MethodGet, "/api/v1/analyses?refresh=1", "admin", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	analyses, _ := body["analyses"].([]any)
	if len(analyses) != 1 {
		t.Fatalf("analyses = %d, want the history row seeded", len(analyses))
	}
	if _, err := svc.Registry.Get(context.Background(), "h1"); err != nil {
		t.Fatalf("registry miss after refresh: %v", err)
	}
}

func TestGetAnalysisHidesInactiveFromViewers(t *testing.T) {
	t.Parallel()

	router, svc := newTestRouter(t, &fakeClient{}, 50*time.Millisecond)
	ctx := context.Background()

	record := AnalysisRecord{AnalysisID: "a1", Summary: "hidden", IsActive: true, CreatedAt: time.Now().UTC()}
	if err := svc.Registry.Upsert(ctx, record); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	svc.Visibility.Seed("a1", false)

	w := doRequest(t, router, http.MethodGet, "/api/v1/analyses/a1", "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("viewer status = %d, want 404 for inactive record", w.Code)
	}

	w = doRequest(t, router, http.MethodGet, "/api/v1/analyses/a1", "admin", "")
	if w.Code != http.StatusOK {
		t.Fatalf("admin status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if id, _ := body["analysisId"].(string); id != "a1" {
		t.Fatalf("analysisId = %q, want a1", id)
	}
	if active, _ := body["isActive"].(bool); active {
		t.Fatal("isActive = true, want false in admin view")
	}
}

func TestGetAnalysisNotFound(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &fakeClient{}, 50*time.Millisecond)

	w := doRequest(t, router, http.MethodGet, "/api/v1/analyses/missing", "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestGetVisualizationServesStoredPayload(t *testing.T) {
	t.Parallel()

	router, svc := newTestRouter(t, &fakeClient{}, 50*time.Millisecond)
	ctx := context.Background()

	record := AnalysisRecord{AnalysisID: "a1", HasVisualization: true, VisualizationRef: "a1", IsActive: true, CreatedAt: time.Now().UTC()}
	if err := svc.Registry.Upsert(ctx, record); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if _, err := svc.Store.Put(ctx, artifact.Key("a1"), []byte(`{"series":[]}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	w := doRequest(t, router, http.MethodGet, "/api/v1/analyses/a1/visualization", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if payload, _ := body["payload"].(string); payload != `{"series":[]}` {
		t.Fatalf("payload = %q, want stored chart", payload)
	}
	if placeholder, _ := body["placeholder"].(bool); placeholder {
		t.Fatal("placeholder = true, want stored payload")
	}
}

func TestGetVisualizationPlaceholder(t *testing.T) {
	t.Parallel()

	router, svc := newTestRouter(t, &fakeClient{}, 50*time.Millisecond)
	ctx := context.Background()

	record := AnalysisRecord{AnalysisID: "a1", HasVisualization: false, IsActive: true, CreatedAt: time.Now().UTC()}
	if err := svc.Registry.Upsert(ctx, record); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	w := doRequest(t, router, http.MethodGet, "/api/v1/analyses/a1/visualization", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if placeholder, _ := body["placeholder"].(bool); !placeholder {
		t.Fatal("placeholder = false, want placeholder")
	}
	if payload, _ := body["payload"].(string); payload != PlaceholderVisualization {
		t.Fatalf("payload = %q, want placeholder payload", payload)
	}
}

func TestSetVisibilityRequiresAdmin(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &fakeClient{}, 50*time.Millisecond)

	w := doRequest(t, router, http.MethodPatch, "/api/v1/analyses/a1/visibility", "viewer", `{"isActive":false}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestSetVisibilityValidatesBody(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &fakeClient{}, 50*time.Millisecond)

	w := doRequest(t, router, http.MethodPatch, "/api/v1/analyses/a1/visibility", "admin", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without isActive", w.Code)
	}
	if field := errorDetailField(t, w); field != "isActive" {
		t.Fatalf("detail field = %q, want isActive", field)
	}
}

func TestSetVisibilityRoundTrip(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	router, svc := newTestRouter(t, client, 50*time.Millisecond)
	ctx := context.Background()

	record := AnalysisRecord{AnalysisID: "a1", IsActive: true, CreatedAt: time.Now().UTC()}
	if err := svc.Registry.Upsert(ctx, record); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	w := doRequest(t, router, http.MethodPatch, "/api/v1/analyses/a1/visibility", "admin", `{"isActive":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if active, _ := body["isActive"].(bool); active {
		t.Fatal("isActive = true, want false")
	}

	got, err := svc.GetRecord(ctx, "a1")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.IsActive {
		t.Fatal("read model still active after toggle")
	}
	if calls := client.visibilityLog(); len(calls) != 1 || calls[0].isActive {
		t.Fatalf("remote calls = %+v, want one deactivate", calls)
	}
}

func TestSetVisibilityUpstreamFailureKeepsOldState(t *testing.T) {
	t.Parallel()

	client := &fakeClient{setVisibilityErr: errors.New("server rejected")}
	router, svc := newTestRouter(t, client, 50*time.Millisecond)
	ctx := context.Background()

	record := AnalysisRecord{AnalysisID: "a1", IsActive: true, CreatedAt: time.Now().UTC()}
	if err := svc.Registry.Upsert(ctx, record); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	svc.Visibility.Seed("a1", true)

	w := doRequest(t, router, http.MethodPatch, "/api/v1/analyses/a1/visibility", "admin", `{"isActive":false}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if code := errorCode(t, w); code != "upstream_error" {
		t.Fatalf("error code = %q, want upstream_error", code)
	}

	got, err := svc.GetRecord(ctx, "a1")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if !got.IsActive {
		t.Fatal("record deactivated despite upstream failure, want rollback")
	}
}

func TestSetVisibilityUnknownAnalysis(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &fakeClient{}, 50*time.Millisecond)

	w := doRequest(t, router, http.MethodPatch, "/api/v1/analyses/missing/visibility", "admin", `{"isActive":false}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
