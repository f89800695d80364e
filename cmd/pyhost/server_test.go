package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/caffeineduck/pyhost/executor"
	"github.com/caffeineduck/pyhost/hostfunc"
	"github.com/caffeineduck/pyhost/internal/metrics"
	"github.com/caffeineduck/pyhost/page"
	log "github.com/sirupsen/logrus"
)

func setupTestServer(t *testing.T, mod executor.Module) (*server, string) {
	t.Helper()

	exec, err := executor.New(hostfunc.NewRegistry())
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	t.Cleanup(func() { exec.Close() })

	dir := t.TempDir()
	m := metrics.New()
	return &server{
		dir:      dir,
		renderer: page.NewRenderer(exec, page.WithMetrics(m)),
		exec:     exec,
		module:   mod,
		metrics:  m,
		logger:   log.WithField("component", "server"),
	}, dir
}

func serve(s *server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := setupTestServer(t, executor.Module{})
	w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("expected 'ok', got %q", w.Body.String())
	}
}

func TestServeStaticFile(t *testing.T) {
	s, dir := setupTestServer(t, executor.Module{})
	os.WriteFile(filepath.Join(dir, "style.css"), []byte("body { color: red; }"), 0o644)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/style.css", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "body { color: red; }" {
		t.Errorf("unexpected body %q", w.Body.String())
	}

	tag := w.Header().Get("ETag")
	if tag == "" {
		t.Fatal("expected ETag header")
	}

	req := httptest.NewRequest(http.MethodGet, "/style.css", nil)
	req.Header.Set("If-None-Match", tag)
	if w := serve(s, req); w.Code != http.StatusNotModified {
		t.Errorf("expected 304 for matching ETag, got %d", w.Code)
	}
}

func TestServeRendersPage(t *testing.T) {
	s, dir := setupTestServer(t, executor.Module{})
	os.WriteFile(filepath.Join(dir, "index.html"), []byte(`<html><body>
<py-config type="json">{"runtimes": [{"src": "python.wasm", "lang": "ruby"}]}</py-config>
<p>static</p>
</body></html>`), 0o644)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("unexpected content type %q", ct)
	}

	body := w.Body.String()
	if strings.Contains(body, "py-config") {
		t.Error("py-config should not reach the client")
	}
	if !strings.Contains(body, "<p>static</p>") {
		t.Errorf("page content missing: %s", body)
	}
	if !strings.Contains(body, "py-error") || !strings.Contains(body, "ruby") {
		t.Errorf("expected error banner naming the runtime: %s", body)
	}

	metricsBody := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil)).Body.String()
	if !strings.Contains(metricsBody, `pyhost_renders_total{status="error"} 1`) {
		t.Errorf("render not counted:\n%s", metricsBody)
	}
}

func TestServeMissingPage(t *testing.T) {
	s, _ := setupTestServer(t, executor.Module{})
	w := serve(s, httptest.NewRequest(http.MethodGet, "/nope.html", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestServePathTraversal(t *testing.T) {
	s, dir := setupTestServer(t, executor.Module{})
	secret := filepath.Join(filepath.Dir(dir), "secret.html")
	os.WriteFile(secret, []byte("<p>secret</p>"), 0o644)
	defer os.Remove(secret)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.URL.Path = "/../secret.html"
	w := serve(s, req)
	if strings.Contains(w.Body.String(), "<p>secret</p>") {
		t.Error("served a file outside the site directory")
	}
}

func TestExecuteValidation(t *testing.T) {
	s, _ := setupTestServer(t, executor.Module{})

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"invalid json", http.MethodPost, "{", http.StatusBadRequest},
		{"missing code", http.MethodPost, `{"code": ""}`, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/execute", bytes.NewBufferString(tc.body))
			if w := serve(s, req); w.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestExecuteReportsError(t *testing.T) {
	s, _ := setupTestServer(t, executor.Module{Key: "unloadable"})

	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewBufferString(`{"code": "print(1)"}`))
	w := serve(s, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp executeResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if !strings.Contains(resp.Error, "unloadable") {
		t.Errorf("expected module error, got %q", resp.Error)
	}
}

func TestExecute(t *testing.T) {
	mod, ok := executor.TestPythonModule(t.TempDir())
	if !ok {
		t.Skipf("%s not set", executor.PythonModuleEnv)
	}
	s, _ := setupTestServer(t, mod)

	body := `{"code": "print('out')\ndisplay('shown', target='stdout')", "timeout": "20s"}`
	w := serve(s, httptest.NewRequest(http.MethodPost, "/execute", bytes.NewBufferString(body)))

	data, _ := io.ReadAll(w.Body)
	var resp executeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("invalid response %s: %v", data, err)
	}
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.Output != "out\n" {
		t.Errorf("output = %q", resp.Output)
	}
	if resp.Display != "shown\n" {
		t.Errorf("display = %q", resp.Display)
	}
}
