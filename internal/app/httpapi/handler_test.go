package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	app "github.com/lendcore/application_layer/internal/app"
	"github.com/lendcore/application_layer/internal/app/domain/application"
	"github.com/lendcore/application_layer/internal/app/metrics"
	"github.com/lendcore/application_layer/internal/middleware"
)

type stubUsers struct {
	roles map[string]string
}

func (s *stubUsers) Exists(_ context.Context, id string) (bool, error) {
	_, ok := s.roles[id]
	return ok, nil
}

func (s *stubUsers) Role(_ context.Context, id string) (string, error) {
	role, ok := s.roles[id]
	if !ok {
		return "", fmt.Errorf("unknown user %s", id)
	}
	return role, nil
}

type stubProducts struct{}

func (stubProducts) Exists(_ context.Context, id string) (bool, error) {
	return id == "product-1", nil
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	users := &stubUsers{roles: map[string]string{
		"client-1":  "CLIENT",
		"client-2":  "CLIENT",
		"manager-1": "MANAGER",
		"admin-1":   "ADMIN",
	}}
	a, err := app.New(app.Stores{}, app.Directories{Users: users, Products: stubProducts{}}, nil)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	handler, err := NewHandler(a, nil, Options{InternalToken: "internal-token"})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	// Same composition as the server: identity resolution in front of the API.
	return middleware.NewActorIdentity(nil, nil).Handler(handler)
}

func doJSON(t *testing.T, h http.Handler, method, path, actor string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set(middleware.ActorIDHeader, actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createApplication(t *testing.T, h http.Handler, applicant string) application.Application {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/applications", "", map[string]interface{}{
		"applicant_id": applicant,
		"product_id":   "product-1",
		"documents": []map[string]string{
			{"file_name": "income.pdf", "content_type": "application/pdf", "storage_path": "docs/income.pdf"},
		},
		"tags": []string{"urgent"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var appl application.Application
	if err := json.Unmarshal(rec.Body.Bytes(), &appl); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return appl
}

func TestCreateApplicationEndpoint(t *testing.T) {
	h := newTestServer(t)
	appl := createApplication(t, h, "client-1")

	if appl.Status != application.StatusSubmitted {
		t.Fatalf("expected SUBMITTED, got %s", appl.Status)
	}
	if len(appl.Documents) != 1 || appl.Documents[0].FileName != "income.pdf" {
		t.Fatalf("documents: %+v", appl.Documents)
	}
	if len(appl.Tags) != 1 || appl.Tags[0] != "urgent" {
		t.Fatalf("tags: %v", appl.Tags)
	}
}

func TestCreateApplicationRejectsUnknownFields(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/applications", "", map[string]interface{}{
		"applicant_id": "client-1",
		"product_id":   "product-1",
		"bogus":        true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := newTestServer(t)
	appl := createApplication(t, h, "client-1")
	path := "/api/v1/applications/" + appl.ID + "/status"

	rec := doJSON(t, h, http.MethodPost, path, "", map[string]string{"status": "approved"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no actor: expected 401, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, path, "client-2", map[string]string{"status": "approved"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("client actor: expected 403, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, path, "manager-1", map[string]string{"status": "bogus"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("bogus status: expected 409, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, path, "manager-1", map[string]string{"status": "approved"})
	if rec.Code != http.StatusOK {
		t.Fatalf("manager approve: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated application.Application
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Status != application.StatusApproved {
		t.Fatalf("expected APPROVED, got %s", updated.Status)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/applications/"+appl.ID+"/history", "admin-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", rec.Code)
	}
	var history []application.HistoryEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
}

func TestGetEndpointOwnership(t *testing.T) {
	h := newTestServer(t)
	appl := createApplication(t, h, "client-1")
	path := "/api/v1/applications/" + appl.ID

	if rec := doJSON(t, h, http.MethodGet, path, "client-1", nil); rec.Code != http.StatusOK {
		t.Fatalf("owner: expected 200, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, path, "client-2", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("stranger: expected 403, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/api/v1/applications/nope", "admin-1", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing: expected 404, got %d", rec.Code)
	}
}

func TestDeleteEndpoint(t *testing.T) {
	h := newTestServer(t)
	appl := createApplication(t, h, "client-1")
	path := "/api/v1/applications/" + appl.ID

	if rec := doJSON(t, h, http.MethodDelete, path, "manager-1", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("manager delete: expected 403, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodDelete, path, "admin-1", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("admin delete: expected 204, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, path, "admin-1", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("after delete: expected 404, got %d", rec.Code)
	}
}

func TestListEndpointTotalCount(t *testing.T) {
	h := newTestServer(t)
	for i := 0; i < 3; i++ {
		createApplication(t, h, "client-1")
	}

	rec := doJSON(t, h, http.MethodGet, "/api/v1/applications?page=0&size=2", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Total-Count"); got != "3" {
		t.Fatalf("X-Total-Count: %q", got)
	}
	var items []application.Application
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	if rec := doJSON(t, h, http.MethodGet, "/api/v1/applications?size=99", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized page: expected 400, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/api/v1/applications?size=x", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric size: expected 400, got %d", rec.Code)
	}
}

func TestStreamEndpoint(t *testing.T) {
	h := newTestServer(t)
	for i := 0; i < 5; i++ {
		createApplication(t, h, "client-1")
	}

	seen := make(map[string]bool)
	cursor := ""
	for {
		path := "/api/v1/applications/stream?limit=2"
		if cursor != "" {
			path += "&cursor=" + cursor
		}
		rec := doJSON(t, h, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("stream: expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var page struct {
			Items      []application.Application `json:"items"`
			NextCursor string                    `json:"next_cursor"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
			t.Fatalf("decode page: %v", err)
		}
		if len(page.Items) == 0 {
			break
		}
		for _, item := range page.Items {
			if seen[item.ID] {
				t.Fatalf("item %s seen twice", item.ID)
			}
			seen[item.ID] = true
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 items over the stream, got %d", len(seen))
	}

	if rec := doJSON(t, h, http.MethodGet, "/api/v1/applications/stream?cursor=!!bad!!", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad cursor: expected 400, got %d", rec.Code)
	}
}

func TestTagEndpoints(t *testing.T) {
	h := newTestServer(t)
	appl := createApplication(t, h, "client-1")
	path := "/api/v1/applications/" + appl.ID + "/tags"

	rec := doJSON(t, h, http.MethodPost, path, "client-1", map[string][]string{"tags": {"vip", "review"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("attach: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated application.Application
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(updated.Tags) != 3 {
		t.Fatalf("expected 3 tags, got %v", updated.Tags)
	}

	rec = doJSON(t, h, http.MethodDelete, path, "client-1", map[string][]string{"tags": {"urgent"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("remove: expected 200, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(updated.Tags) != 2 {
		t.Fatalf("expected 2 tags after removal, got %v", updated.Tags)
	}
}

func TestInternalEndpoints(t *testing.T) {
	h := newTestServer(t)
	for i := 0; i < 2; i++ {
		createApplication(t, h, "client-1")
	}

	req := httptest.NewRequest(http.MethodDelete, "/internal/applications/by-applicant/client-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("no token: expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/internal/applications/by-applicant/client-1", nil)
	req.Header.Set(middleware.InternalTokenHeader, "internal-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with token: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result["deleted"] != 2 {
		t.Fatalf("expected 2 deletions, got %d", result["deleted"])
	}
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuditTrailRecordsApplicationID(t *testing.T) {
	h := newTestServer(t)
	appl := createApplication(t, h, "client-1")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/applications/"+appl.ID+"/status", "manager-1", map[string]string{"status": "IN_REVIEW"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status change: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/internal/audit", nil)
	req.Header.Set(middleware.InternalTokenHeader, "internal-token")
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("audit: expected 200, got %d", res.Code)
	}

	var entries []struct {
		Actor         string `json:"actor"`
		ApplicationID string `json:"application_id"`
		Method        string `json:"method"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.ApplicationID != appl.ID {
			t.Fatalf("entry %+v does not carry the application id", entry)
		}
	}
	if entries[1].Actor != "manager-1" {
		t.Fatalf("expected manager-1 on the status change entry, got %q", entries[1].Actor)
	}
}

func TestRequestMetricsUseRoutePattern(t *testing.T) {
	h := newTestServer(t)
	appl := createApplication(t, h, "client-1")

	if rec := doJSON(t, h, http.MethodGet, "/api/v1/applications/"+appl.ID, "client-1", nil); rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	sawPattern := false
	for _, mf := range families {
		if mf.GetName() != "application_layer_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() != "path" {
					continue
				}
				if strings.Contains(label.GetValue(), appl.ID) {
					t.Fatalf("path label carries a raw id: %q", label.GetValue())
				}
				if strings.Contains(label.GetValue(), "{id}") {
					sawPattern = true
				}
			}
		}
	}
	if !sawPattern {
		t.Fatal("expected a request series labelled with the {id} route pattern")
	}
}
