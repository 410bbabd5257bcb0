package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CTAG07/goejs/pkg/templating"
	"github.com/google/go-cmp/cmp"
)

var sitePages = map[string]string{
	"index.ejs":      "home",
	"about.ejs":      "about <%= query.name %>",
	"broken.ejs":     "<% throw new Error('boom') %>",
	"docs/index.ejs": "docs",
	"braces.ejs":     "{{= 7 }}",
}

// newTestServer builds a Server over a fresh data directory holding files.
func newTestServer(t *testing.T, files map[string]string) (*Server, *ConfigManager) {
	t.Helper()

	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	for name, src := range files {
		path := filepath.Join(dataDir, "templates", filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(src), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cm, err := NewConfigManager(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("NewConfigManager failed: %v", err)
	}
	cm.SetLogger(logger)

	tm, err := templating.NewTemplateManager(logger, nil, cm.Get().Templates, dataDir)
	if err != nil {
		t.Fatalf("NewTemplateManager failed: %v", err)
	}
	cm.SetTemplateManager(tm)

	return NewServer(cm, tm, nil, logger, make(chan string, 1)), cm
}

// newKeyedTestServer is newTestServer with an api_keys table behind the API.
func newKeyedTestServer(t *testing.T, files map[string]string) (*Server, *ConfigManager) {
	t.Helper()
	s, cm := newTestServer(t, files)

	db, err := initDB(filepath.Join(t.TempDir(), "keys.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err = setupAuthSchema(db); err != nil {
		t.Fatalf("setupAuthSchema failed: %v", err)
	}

	return NewServer(cm, s.tm, db, s.logger, make(chan string, 1)), cm
}

func do(h http.Handler, method, target string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTemplateForPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "index.ejs"},
		{"/about", "about.ejs"},
		{"/about.ejs", "about.ejs"},
		{"/docs/", "docs/index.ejs"},
		{"/docs/intro", "docs/intro.ejs"},
		{"/a/../b", "b.ejs"},
	}
	for _, tt := range tests {
		if got := templateForPath(tt.path, ".ejs"); got != tt.want {
			t.Errorf("templateForPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestHandlePage(t *testing.T) {
	s, _ := newTestServer(t, sitePages)

	tests := []struct {
		name   string
		method string
		target string
		code   int
		body   string
	}{
		{"index", http.MethodGet, "/", http.StatusOK, "home"},
		{"query locals", http.MethodGet, "/about?name=%3Ctobi%3E", http.StatusOK, "about &lt;tobi&gt;"},
		{"directory index", http.MethodGet, "/docs/", http.StatusOK, "docs"},
		{"missing", http.MethodGet, "/missing", http.StatusNotFound, ""},
		{"runtime error", http.MethodGet, "/broken", http.StatusInternalServerError, ""},
		{"method", http.MethodPost, "/", http.StatusMethodNotAllowed, ""},
		{"favicon", http.MethodGet, "/favicon.ico", http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s.siteMux, tt.method, tt.target, nil, nil)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tt.code, rec.Body.String())
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestCompressionHandler(t *testing.T) {
	s, _ := newTestServer(t, map[string]string{"index.ejs": strings.Repeat("a", 4096)})
	h, err := newCompressionHandler(s.siteMux, &CompressionConfig{Enabled: true, Level: "fastest", MinSize: 10})
	if err != nil {
		t.Fatalf("newCompressionHandler failed: %v", err)
	}
	rec := do(h, http.MethodGet, "/", nil, http.Header{"Accept-Encoding": {"gzip"}})
	if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
		t.Errorf("expected gzip encoding, got %q", got)
	}

	plain, err := newCompressionHandler(s.siteMux, &CompressionConfig{Enabled: false})
	if err != nil {
		t.Fatalf("newCompressionHandler failed: %v", err)
	}
	if plain != http.Handler(s.siteMux) {
		t.Error("disabled compression should return the handler unchanged")
	}
}

func TestAPIAuth(t *testing.T) {
	s, cm := newTestServer(t, sitePages)

	if rec := do(s.apiMux, http.MethodGet, "/api/templates", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("open API should allow requests, got %d", rec.Code)
	}

	cm.config.Server.APIToken = "secret"

	if rec := do(s.apiMux, http.MethodGet, "/api/templates", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}
	bad := http.Header{"Authorization": {"Bearer nope"}}
	if rec := do(s.apiMux, http.MethodGet, "/api/templates", nil, bad); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with a wrong token, got %d", rec.Code)
	}
	if rec := do(s.apiMux, http.MethodGet, "/api/health", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("health check should be unauthenticated, got %d", rec.Code)
	}

	good := http.Header{"Authorization": {"Bearer secret"}}
	rec := do(s.apiMux, http.MethodGet, "/api/templates", nil, good)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with the token, got %d", rec.Code)
	}
	var names []string
	if err := json.Unmarshal(rec.Body.Bytes(), &names); err != nil {
		t.Fatalf("failed to decode names: %v", err)
	}
	want := []string{"about.ejs", "braces.ejs", "broken.ejs", "docs/index.ejs", "index.ejs"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("template list mismatch (-want +got):\n%s", diff)
	}
}

func TestTemplateAPIFile(t *testing.T) {
	s, _ := newTestServer(t, sitePages)

	rec := do(s.apiMux, http.MethodPut, "/api/templates/new.ejs", strings.NewReader("<%= 1 + 2 %>"), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("PUT status = %d, body %q", rec.Code, rec.Body.String())
	}
	if rec = do(s.siteMux, http.MethodGet, "/new", nil, nil); rec.Body.String() != "3" {
		t.Errorf("new page = %q, want %q", rec.Body.String(), "3")
	}

	rec = do(s.apiMux, http.MethodGet, "/api/templates/new.ejs", nil, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "<%= 1 + 2 %>" {
		t.Errorf("GET = %d %q", rec.Code, rec.Body.String())
	}

	if rec = do(s.apiMux, http.MethodDelete, "/api/templates/new.ejs", nil, nil); rec.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d", rec.Code)
	}
	if rec = do(s.apiMux, http.MethodDelete, "/api/templates/new.ejs", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", rec.Code)
	}
	if rec = do(s.siteMux, http.MethodGet, "/new", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("deleted page status = %d, want 404", rec.Code)
	}

	if rec = do(s.apiMux, http.MethodGet, "/api/templates/notes.txt", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid name status = %d, want 400", rec.Code)
	}
}

func TestTemplateAPIRender(t *testing.T) {
	s, _ := newTestServer(t, sitePages)

	rec := do(s.apiMux, http.MethodPost, "/api/templates/test?who=tj", strings.NewReader("hi <%= who %>"), nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "hi tj" {
		t.Errorf("test render = %d %q", rec.Code, rec.Body.String())
	}

	rec = do(s.apiMux, http.MethodPost, "/api/templates/test", strings.NewReader("<%= oops"), nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unterminated tag status = %d, want 422", rec.Code)
	}

	rec = do(s.apiMux, http.MethodGet, "/api/templates/preview?name=index.ejs&x=1", nil, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "home" {
		t.Errorf("preview = %d %q", rec.Code, rec.Body.String())
	}

	rec = do(s.apiMux, http.MethodGet, "/api/templates/preview?name=nope.ejs", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing preview status = %d, want 404", rec.Code)
	}

	rec = do(s.apiMux, http.MethodGet, "/api/templates/client?name=index.ejs", nil, nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "function anonymous(") {
		t.Errorf("client = %d %q", rec.Code, rec.Body.String())
	}
}

func TestServerConfigAPI(t *testing.T) {
	s, cm := newTestServer(t, sitePages)

	if rec := do(s.siteMux, http.MethodGet, "/braces", nil, nil); rec.Body.String() != "{{= 7 }}" {
		t.Fatalf("braces page = %q before the update", rec.Body.String())
	}

	cfg := cm.Get()
	tmpl := *cfg.Templates
	tmpl.Open, tmpl.Close = "{{", "}}"
	cfg.Templates = &tmpl
	body, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("failed to marshal config: %v", err)
	}

	rec := do(s.apiMux, http.MethodPut, "/api/server/config", bytes.NewReader(body), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT config status = %d, body %q", rec.Code, rec.Body.String())
	}
	if rec = do(s.siteMux, http.MethodGet, "/braces", nil, nil); rec.Body.String() != "7" {
		t.Errorf("braces page = %q after the update, want %q", rec.Body.String(), "7")
	}

	saved, err := LoadConfig(cm.path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if saved.Templates.Open != "{{" {
		t.Errorf("config on disk was not updated, open = %q", saved.Templates.Open)
	}

	rec = do(s.apiMux, http.MethodPut, "/api/server/config", strings.NewReader(`{}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty config status = %d, want 400", rec.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	s, cm := newTestServer(t, nil)
	cm.config.Server.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.1"}
	cm.trusted = parseTrustedProxies(cm.config.Server.TrustedProxies, cm.logger)

	tests := []struct {
		remote string
		header http.Header
		want   string
	}{
		{"203.0.113.9:1234", http.Header{"X-Forwarded-For": {"1.2.3.4"}}, "203.0.113.9"},
		{"10.1.2.3:1234", http.Header{"X-Forwarded-For": {"1.2.3.4, 10.1.2.3"}}, "1.2.3.4"},
		{"192.0.2.1:80", http.Header{"X-Real-Ip": {"5.6.7.8"}}, "5.6.7.8"},
		{"192.0.2.1:80", nil, "192.0.2.1"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		for k, v := range tt.header {
			req.Header[k] = v
		}
		if got := s.getClientIP(req); got != tt.want {
			t.Errorf("getClientIP(%s, %v) = %q, want %q", tt.remote, tt.header, got, tt.want)
		}
	}
}

func bearer(key string) http.Header {
	return http.Header{"Authorization": {"Bearer " + key}}
}

func createKey(t *testing.T, h http.Handler, header http.Header, body string) CreateKeyResponse {
	t.Helper()
	rec := do(h, http.MethodPost, "/api/auth/keys", strings.NewReader(body), header)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create key status = %d, body %q", rec.Code, rec.Body.String())
	}
	var resp CreateKeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode key: %v", err)
	}
	return resp
}

func TestAPIKeys(t *testing.T) {
	s, cm := newKeyedTestServer(t, sitePages)

	rec := do(s.apiMux, http.MethodGet, "/api/auth/me", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"*"`) {
		t.Fatalf("open API should grant every scope, got %d %q", rec.Code, rec.Body.String())
	}

	master := createKey(t, s.apiMux, nil, `{"scopes": ["templates:read"], "description": "admin"}`)
	if diff := cmp.Diff([]string{"*"}, master.Scopes); diff != "" {
		t.Errorf("first key scopes mismatch (-want +got):\n%s", diff)
	}

	if rec = do(s.apiMux, http.MethodGet, "/api/templates", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 once a key exists, got %d", rec.Code)
	}
	if rec = do(s.apiMux, http.MethodGet, "/api/templates", nil, bearer("goejs_wrong")); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for an unknown key, got %d", rec.Code)
	}

	reader := createKey(t, s.apiMux, bearer(master.RawKey), `{"scopes": ["templates:read"], "description": "ci"}`)

	tests := []struct {
		name   string
		method string
		target string
		key    string
		code   int
	}{
		{"reader lists", http.MethodGet, "/api/templates", reader.RawKey, http.StatusOK},
		{"reader previews", http.MethodGet, "/api/templates/preview?name=index.ejs", reader.RawKey, http.StatusOK},
		{"reader cannot write", http.MethodPut, "/api/templates/x.ejs", reader.RawKey, http.StatusForbidden},
		{"reader cannot refresh", http.MethodPost, "/api/templates/refresh", reader.RawKey, http.StatusForbidden},
		{"reader cannot read config", http.MethodGet, "/api/server/config", reader.RawKey, http.StatusForbidden},
		{"reader cannot restart", http.MethodPost, "/api/server/restart", reader.RawKey, http.StatusForbidden},
		{"reader cannot list keys", http.MethodGet, "/api/auth/keys", reader.RawKey, http.StatusForbidden},
		{"master reads config", http.MethodGet, "/api/server/config", master.RawKey, http.StatusOK},
		{"master lists keys", http.MethodGet, "/api/auth/keys", master.RawKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s.apiMux, tt.method, tt.target, strings.NewReader(""), bearer(tt.key))
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d (body %q)", rec.Code, tt.code, rec.Body.String())
			}
		})
	}

	rec = do(s.apiMux, http.MethodPost, "/api/auth/keys", strings.NewReader(`{"scopes": ["bogus"]}`), bearer(master.RawKey))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown scope status = %d, want 400", rec.Code)
	}

	rec = do(s.apiMux, http.MethodGet, "/api/auth/keys", nil, bearer(master.RawKey))
	var keys []APIKeyInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &keys); err != nil {
		t.Fatalf("failed to decode keys: %v", err)
	}
	want := []APIKeyInfo{
		{ID: master.ID, Scopes: []string{"*"}, Description: "admin"},
		{ID: reader.ID, Scopes: []string{"templates:read"}, Description: "ci"},
	}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("key list mismatch (-want +got):\n%s", diff)
	}

	path := fmt.Sprintf("/api/auth/keys/%d", master.ID)
	if rec = do(s.apiMux, http.MethodDelete, path, nil, bearer(master.RawKey)); rec.Code != http.StatusBadRequest {
		t.Errorf("deleting the first key status = %d, want 400", rec.Code)
	}
	path = fmt.Sprintf("/api/auth/keys/%d", reader.ID)
	if rec = do(s.apiMux, http.MethodDelete, path, nil, bearer(master.RawKey)); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
	if rec = do(s.apiMux, http.MethodGet, "/api/templates", nil, bearer(reader.RawKey)); rec.Code != http.StatusUnauthorized {
		t.Errorf("deleted key should be rejected, got %d", rec.Code)
	}

	cm.config.Server.APIToken = "secret"
	if rec = do(s.apiMux, http.MethodGet, "/api/auth/keys", nil, bearer("secret")); rec.Code != http.StatusOK {
		t.Errorf("config token should act as a master key, got %d", rec.Code)
	}
}

func TestAPIKeysWithoutStore(t *testing.T) {
	s, _ := newTestServer(t, sitePages)
	if rec := do(s.apiMux, http.MethodGet, "/api/auth/keys", nil, nil); rec.Code != http.StatusNotImplemented {
		t.Errorf("keys without a store status = %d, want 501", rec.Code)
	}
}
