package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/adrianmcphee/polystore"
)

const (
	productsDoc = `[{"id":1,"name":"Laptop","price":999.99},{"id":2,"name":"Mouse","price":29.99}]`
	profileDoc  = `{"user_profile":{"personal":{"name":{"first":"Alice"}}},"contacts":[{"type":"email","value":"a@x.com"}],"tags":["a"]}`
)

func testConfig(t *testing.T) polystore.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := polystore.DefaultConfig()
	cfg.SQL.DSN = filepath.Join(dir, "polystore.db")
	cfg.Documents.Path = filepath.Join(dir, "data")
	return cfg
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	registry := prometheus.NewRegistry()
	router, err := polystore.Open(context.Background(), testConfig(t), nil, polystore.NewPrometheusMetrics(registry))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	srv := httptest.NewServer(newHandler(router, registry, &polystore.NoOpLogger{}))
	t.Cleanup(func() {
		srv.Close()
		router.Close()
	})
	return srv
}

func doRequest(t *testing.T, method, url, owner, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, data
}

func decode(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decoding %s: %v", data, err)
	}
}

func TestServerDocumentLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/documents", "alice",
		`{"payload":`+productsDoc+`,"tags":["catalog"]}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("store status = %d: %s", resp.StatusCode, body)
	}
	var stored struct {
		DocID               string   `json:"doc_id"`
		BackendType         string   `json:"backend_type"`
		Confidence          int      `json:"confidence"`
		Reasons             []string `json:"reasons"`
		LocationSummary     string   `json:"location_summary"`
		DirectoryConsistent bool     `json:"directory_consistent"`
	}
	decode(t, body, &stored)
	if stored.BackendType != "SQL" || stored.DocID == "" || len(stored.Reasons) == 0 || stored.LocationSummary == "" {
		t.Errorf("store response = %s", body)
	}
	if !stored.DirectoryConsistent {
		t.Error("directory write reported as failed")
	}

	resp, body = doRequest(t, http.MethodGet, srv.URL+"/documents/"+stored.DocID, "alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d: %s", resp.StatusCode, body)
	}
	var got struct {
		DocID       string          `json:"doc_id"`
		BackendType string          `json:"backend_type"`
		Payload     json.RawMessage `json:"payload"`
	}
	decode(t, body, &got)
	want, _ := polystore.ParseValue([]byte(productsDoc))
	payload, err := polystore.ParseValue(got.Payload)
	if err != nil || !payload.Equal(want) {
		t.Errorf("payload = %s, want %s", got.Payload, productsDoc)
	}
	if got.BackendType != "SQL" {
		t.Errorf("backend_type = %s", got.BackendType)
	}

	resp, body = doRequest(t, http.MethodGet, srv.URL+"/documents?backend=sql&limit=10", "alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d: %s", resp.StatusCode, body)
	}
	var entries []polystore.DirectoryEntry
	decode(t, body, &entries)
	if len(entries) != 1 || entries[0].DocID != stored.DocID {
		t.Errorf("list = %s", body)
	}

	resp, body = doRequest(t, http.MethodDelete, srv.URL+"/documents/"+stored.DocID, "alice", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"deleted":true`) {
		t.Fatalf("delete = %d: %s", resp.StatusCode, body)
	}

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/documents/"+stored.DocID, "alice", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestServerErrors(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/documents", "alice", `{"payload":`+profileDoc+`}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("store status = %d: %s", resp.StatusCode, body)
	}
	var stored struct {
		DocID   string `json:"doc_id"`
		Backend string `json:"backend_type"`
	}
	decode(t, body, &stored)
	if stored.Backend != "NoSQL" {
		t.Errorf("profile routed to %s", stored.Backend)
	}

	tests := []struct {
		name     string
		method   string
		path     string
		owner    string
		body     string
		wantCode int
		wantKind string
	}{
		{"foreign owner", http.MethodGet, "/documents/" + stored.DocID, "mallory", "", http.StatusForbidden, polystore.KindUnauthorized},
		{"missing owner", http.MethodGet, "/documents/" + stored.DocID, "", "", http.StatusForbidden, polystore.KindUnauthorized},
		{"foreign delete", http.MethodDelete, "/documents/" + stored.DocID, "mallory", "", http.StatusForbidden, polystore.KindUnauthorized},
		{"unknown id", http.MethodGet, "/documents/doc_20250101000000_000000000000", "alice", "", http.StatusNotFound, polystore.KindNotFound},
		{"malformed body", http.MethodPost, "/documents", "alice", `{"payload":`, http.StatusBadRequest, polystore.KindAnalysisError},
		{"missing payload", http.MethodPost, "/analyze", "alice", `{}`, http.StatusBadRequest, polystore.KindAnalysisError},
		{"unknown backend", http.MethodPost, "/documents", "alice", `{"payload":{"a":1},"backend":"graph"}`, http.StatusBadRequest, polystore.KindAnalysisError},
		{"bad limit", http.MethodGet, "/documents?limit=ten", "alice", "", http.StatusBadRequest, polystore.KindAnalysisError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doRequest(t, tt.method, srv.URL+tt.path, tt.owner, tt.body)
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d: %s", resp.StatusCode, tt.wantCode, body)
			}
			var public polystore.PublicError
			decode(t, body, &public)
			if public.Kind != tt.wantKind || public.Message == "" {
				t.Errorf("error body = %s, want kind %s", body, tt.wantKind)
			}
			if strings.Contains(string(body), "unexpected EOF") {
				t.Errorf("raw error text leaked: %s", body)
			}
		})
	}

	// The document survives the rejected delete
	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/documents/"+stored.DocID, "alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get after rejected delete status = %d", resp.StatusCode)
	}
}

func TestServerAnalyzeDoesNotStore(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/analyze", "alice",
		`{"payload":`+profileDoc+`}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analyze status = %d: %s", resp.StatusCode, body)
	}
	var result struct {
		RecommendedBackend string `json:"recommended_backend"`
		Confidence         int    `json:"confidence"`
	}
	decode(t, body, &result)
	if result.RecommendedBackend != "NoSQL" || result.Confidence < 50 {
		t.Errorf("analysis = %+v", result)
	}

	_, body = doRequest(t, http.MethodGet, srv.URL+"/documents", "alice", "")
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("analyze persisted something: %s", body)
	}
}

func TestServerHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/healthz", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d: %s", resp.StatusCode, body)
	}
	var health map[string]string
	decode(t, body, &health)
	if health["SQL"] != "ok" || health["NoSQL"] != "ok" {
		t.Errorf("health = %v", health)
	}

	doRequest(t, http.MethodPost, srv.URL+"/documents", "alice", `{"payload":`+productsDoc+`}`)
	resp, body = doRequest(t, http.MethodGet, srv.URL+"/metrics", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	for _, name := range []string{
		`polystore_store_success_total{backend="SQL"} 1`,
		`polystore_route_decisions_total{applied="SQL",recommended="SQL"} 1`,
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics missing %q", name)
		}
	}
}
