package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wesm/work-inbox/internal/db"
	"github.com/wesm/work-inbox/internal/models"
	"github.com/wesm/work-inbox/internal/sync"
)

type stubAdapter struct {
	inst        models.Instance
	items       []models.Item
	projectsErr error
	since       []models.Item
}

func (s *stubAdapter) Instance() models.Instance { return s.inst }

func (s *stubAdapter) ListProjects(context.Context) ([]models.Project, error) {
	if s.projectsErr != nil {
		return nil, s.projectsErr
	}
	return []models.Project{{ID: "p1", Name: "Payments"}}, nil
}

func (s *stubAdapter) ListAssignedPullRequests(context.Context, []models.Project) ([]models.Item, error) {
	return nil, nil
}

func (s *stubAdapter) ListAssignedWorkItems(context.Context, []models.Project) ([]models.Item, error) {
	return s.items, nil
}

func (s *stubAdapter) ListPipelineRuns(context.Context, string) ([]models.Item, error) {
	return nil, nil
}

func (s *stubAdapter) ListNewItemsSince(context.Context, time.Time) ([]models.Item, error) {
	return s.since, nil
}

func workItem(instanceID, nativeID string, updated int64) *models.WorkItem {
	return &models.WorkItem{
		ItemBase: models.ItemBase{
			ID:              models.ItemID(models.ProviderAzureDevOps, models.TypeWorkItem, instanceID, nativeID),
			Type:            models.TypeWorkItem,
			Provider:        models.ProviderAzureDevOps,
			InstanceID:      instanceID,
			Title:           "Item " + nativeID,
			UpdateTimestamp: updated,
			Project:         "Payments",
		},
		Status:       "Active",
		WorkItemKind: models.KindTask,
	}
}

type pingFailStore struct {
	*db.MemoryStore
}

func (pingFailStore) Ping(context.Context) error {
	return errors.New("store offline")
}

func newTestServer(t *testing.T, store db.Store, adapters ...sync.Adapter) (*HTTPServer, *sync.Broker) {
	t.Helper()
	broker := sync.NewBroker(sync.NewAggregator(adapters), store)
	return NewHTTPServer(broker, ""), broker
}

func defaultAdapter() *stubAdapter {
	return &stubAdapter{
		inst: models.Instance{ID: "work", Name: "Work", Provider: models.ProviderAzureDevOps},
		items: []models.Item{
			workItem("work", "1", 100),
			workItem("work", "2", 200),
		},
	}
}

func serve(t *testing.T, server *HTTPServer, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, nil, defaultAdapter())
	rr := serve(t, server, http.MethodGet, "/api/health")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if decode(t, rr)["ok"] != true {
		t.Errorf("expected ok=true, got %s", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS origin = %q", got)
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	server, _ := newTestServer(t, nil, defaultAdapter())
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestPreflight(t *testing.T) {
	server, _ := newTestServer(t, nil, defaultAdapter())
	rr := serve(t, server, http.MethodOptions, "/api/inbox")
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rr.Code)
	}
}

func TestReadyEndpoint(t *testing.T) {
	server, _ := newTestServer(t, nil, defaultAdapter())
	rr := serve(t, server, http.MethodGet, "/api/ready")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if decode(t, rr)["status"] != "ready" {
		t.Errorf("unexpected body %s", rr.Body.String())
	}

	failing, _ := newTestServer(t, pingFailStore{db.NewMemoryStore()}, defaultAdapter())
	rr = serve(t, failing, http.MethodGet, "/api/ready")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	body := decode(t, rr)
	if body["ok"] != false || body["status"] != "not_ready" {
		t.Errorf("unexpected body %s", rr.Body.String())
	}
}

func TestInstancesEndpoint(t *testing.T) {
	adapter := defaultAdapter()
	adapter.inst.StatusMappings = []models.StatusMapping{{From: "Active", To: "Doing"}}
	server, _ := newTestServer(t, nil, adapter)

	rr := serve(t, server, http.MethodGet, "/api/instances")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Instances []map[string]any `json:"instances"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Instances) != 1 || body.Instances[0]["id"] != "work" {
		t.Fatalf("unexpected instances %s", rr.Body.String())
	}
	if _, ok := body.Instances[0]["statusMappings"]; ok {
		t.Error("status mappings should not be exposed")
	}
}

func TestInboxEndpoint(t *testing.T) {
	server, _ := newTestServer(t, nil, defaultAdapter())

	rr := serve(t, server, http.MethodGet, "/api/inbox")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var inbox struct {
		Groups map[string]struct {
			Items []map[string]any `json:"items"`
		} `json:"groups"`
		NewCount   int   `json:"newCount"`
		HasChanges bool  `json:"hasChanges"`
		Failed     []any `json:"failed"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &inbox); err != nil {
		t.Fatal(err)
	}
	if len(inbox.Groups["Payments"].Items) != 2 {
		t.Fatalf("expected 2 items in Payments, got %s", rr.Body.String())
	}
	if inbox.NewCount != 2 || !inbox.HasChanges {
		t.Errorf("newCount=%d hasChanges=%v", inbox.NewCount, inbox.HasChanges)
	}
	if inbox.Failed == nil || len(inbox.Failed) != 0 {
		t.Errorf("failed = %v, want empty list", inbox.Failed)
	}
	if inbox.Groups["Payments"].Items[0]["unread"] != true {
		t.Errorf("new items should be unread")
	}

	rr = serve(t, server, http.MethodGet, "/api/inbox")
	if err := json.Unmarshal(rr.Body.Bytes(), &inbox); err != nil {
		t.Fatal(err)
	}
	if inbox.NewCount != 0 || inbox.HasChanges {
		t.Errorf("second refresh should report no changes, got newCount=%d", inbox.NewCount)
	}
}

func readFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		var frame map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			t.Fatalf("bad frame %q: %v", scanner.Text(), err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func TestStreamEndpoint(t *testing.T) {
	server, _ := newTestServer(t, nil, defaultAdapter())

	rr := serve(t, server, http.MethodGet, "/api/inbox/stream")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", got)
	}

	frames := readFrames(t, rr.Body.String())
	// pull requests and work items, then complete
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d: %s", len(frames), rr.Body.String())
	}
	for _, frame := range frames[:2] {
		if frame["type"] != "progress" {
			t.Errorf("expected progress frame, got %v", frame)
		}
		if _, ok := frame["data"].([]any); !ok {
			t.Errorf("progress frame data should be a list, got %v", frame["data"])
		}
	}
	last := frames[1]["progress"].(map[string]any)
	if last["current"] != float64(2) || last["total"] != float64(2) {
		t.Errorf("unexpected final progress %v", last)
	}
	if len(frames[1]["data"].([]any)) != 2 {
		t.Errorf("work item frame should carry 2 items")
	}
	if frames[2]["type"] != "complete" {
		t.Errorf("expected complete frame, got %v", frames[2])
	}
}

func TestStreamReportsFailedStages(t *testing.T) {
	adapter := defaultAdapter()
	adapter.projectsErr = errors.New("boom")
	server, _ := newTestServer(t, nil, adapter)

	frames := readFrames(t, serve(t, server, http.MethodGet, "/api/inbox/stream").Body.String())
	if len(frames) != 2 {
		t.Fatalf("expected failed progress and complete, got %v", frames)
	}
	if frames[0]["failed"] != true {
		t.Errorf("expected failed frame, got %v", frames[0])
	}
	stage := frames[0]["progress"].(map[string]any)["stage"]
	if stage != "Work: Projects (Error)" {
		t.Errorf("stage = %v", stage)
	}
}

func TestStreamWithoutInstances(t *testing.T) {
	server, _ := newTestServer(t, nil)
	frames := readFrames(t, serve(t, server, http.MethodGet, "/api/inbox/stream").Body.String())
	if len(frames) != 1 || frames[0]["type"] != "error" {
		t.Fatalf("expected a single error frame, got %v", frames)
	}
}

func TestNewItemsEndpoint(t *testing.T) {
	adapter := defaultAdapter()
	server, _ := newTestServer(t, nil, adapter)
	serve(t, server, http.MethodGet, "/api/inbox")

	adapter.since = []models.Item{
		workItem("work", "1", 100),
		workItem("work", "2", 500),
		workItem("work", "3", 300),
	}
	rr := serve(t, server, http.MethodGet, "/api/inbox/new?since=2024-01-01T00:00:00Z")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Items []map[string]any `json:"items"`
		Count int              `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 2 {
		t.Fatalf("expected the updated and the new item, got %s", rr.Body.String())
	}
	if body.Items[0]["updateTimestamp"] != float64(500) {
		t.Errorf("items should be newest first, got %v", body.Items[0]["updateTimestamp"])
	}
}

func TestNewItemsRejectsBadSince(t *testing.T) {
	server, _ := newTestServer(t, nil, defaultAdapter())
	for _, path := range []string{"/api/inbox/new", "/api/inbox/new?since=yesterday"} {
		rr := serve(t, server, http.MethodGet, path)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rr.Code)
		}
		if decode(t, rr)["code"] != "INVALID_SINCE" {
			t.Errorf("%s: unexpected body %s", path, rr.Body.String())
		}
	}
}

func TestMarkReadEndpoints(t *testing.T) {
	server, broker := newTestServer(t, nil, defaultAdapter())
	serve(t, server, http.MethodGet, "/api/inbox")

	id := models.ItemID(models.ProviderAzureDevOps, models.TypeWorkItem, "work", "1")
	rr := serve(t, server, http.MethodPost, "/api/instances/work/items/"+id+"/read")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	unread := func() map[string]bool {
		items, err := broker.Cached(context.Background(), "work")
		if err != nil {
			t.Fatal(err)
		}
		out := make(map[string]bool)
		for _, item := range items {
			out[item.Base().ID] = item.Base().Unread
		}
		return out
	}
	if unread()[id] {
		t.Error("item should be read")
	}

	rr = serve(t, server, http.MethodPost, "/api/instances/work/items/"+id+"/unread")
	if rr.Code != http.StatusOK || !unread()[id] {
		t.Errorf("item should be unread again, status %d", rr.Code)
	}

	rr = serve(t, server, http.MethodPost, "/api/instances/work/read-all")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if decode(t, rr)["changed"] != float64(2) {
		t.Errorf("unexpected body %s", rr.Body.String())
	}
	for itemID, u := range unread() {
		if u {
			t.Errorf("%s still unread", itemID)
		}
	}
}

func TestMarkReadErrors(t *testing.T) {
	server, _ := newTestServer(t, nil, defaultAdapter())

	rr := serve(t, server, http.MethodPost, "/api/instances/nope/items/x/read")
	if rr.Code != http.StatusNotFound || decode(t, rr)["code"] != "UNKNOWN_INSTANCE" {
		t.Errorf("unknown instance: %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(t, server, http.MethodPost, "/api/instances/work/items/missing/read")
	if rr.Code != http.StatusNotFound || decode(t, rr)["code"] != "UNKNOWN_ITEM" {
		t.Errorf("unknown item: %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(t, server, http.MethodPost, "/api/instances/nope/read-all")
	if rr.Code != http.StatusNotFound {
		t.Errorf("read-all on unknown instance: %d", rr.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	server, _ := newTestServer(t, nil, defaultAdapter())
	rr := serve(t, server, http.MethodGet, "/api/nope")
	if rr.Code != http.StatusNotFound || decode(t, rr)["code"] != "NOT_FOUND" {
		t.Errorf("unexpected response %d %s", rr.Code, rr.Body.String())
	}
}

func TestMapError(t *testing.T) {
	status, code, _ := mapError(errors.New("anything"))
	if status != http.StatusInternalServerError || code != "SERVER_ERROR" {
		t.Errorf("mapError(generic) = %d %s", status, code)
	}
	status, code, message := mapError(domainError(http.StatusConflict, "BUSY", "try later"))
	if status != http.StatusConflict || code != "BUSY" || message != "try later" {
		t.Errorf("mapError(domain) = %d %s %s", status, code, message)
	}
}
