package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/CTAG07/goejs/pkg/ejs"
	"github.com/CTAG07/goejs/pkg/templating"
	"github.com/natefinch/atomic"
)

// TemplateAPI holds the dependencies for the template API handlers.
type TemplateAPI struct {
	tm     *templating.TemplateManager
	logger *slog.Logger
}

// NewTemplateAPI creates a new instance of the TemplateAPI.
func NewTemplateAPI(tm *templating.TemplateManager, logger *slog.Logger) *TemplateAPI {
	return &TemplateAPI{
		tm:     tm,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/templates endpoints.
func (t *TemplateAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/templates/refresh", t.handleRefresh)
	mux.HandleFunc("/api/templates/test", t.handleTest)
	mux.HandleFunc("/api/templates/preview", t.handlePreview)
	mux.HandleFunc("/api/templates/client", t.handleClient)
	mux.HandleFunc("/api/templates", t.handleList)
	mux.HandleFunc("/api/templates/", t.handleFile)
}

// queryLocals turns query parameters into template locals. Repeated keys
// become lists. Reserved keys are skipped.
func queryLocals(q url.Values, skip ...string) map[string]any {
	locals := make(map[string]any, len(q))
	for k, v := range q {
		if len(v) == 0 || slices.Contains(skip, k) {
			continue
		}
		if len(v) == 1 {
			locals[k] = v[0]
			continue
		}
		list := make([]any, len(v))
		for i, s := range v {
			list[i] = s
		}
		locals[k] = list
	}
	return locals
}

// writeRenderError maps a render failure to an HTTP response.
func writeRenderError(w http.ResponseWriter, err error) {
	var parseErr *ejs.ParseError
	var renderErr *ejs.RenderError
	switch {
	case errors.Is(err, templating.ErrTemplateNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &parseErr), errors.As(err, &renderErr):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Template execution failed: %v", err))
	}
}

// handleRefresh triggers a manual refresh of templates.
func (t *TemplateAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeTemplatesWrite) {
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := t.tm.Refresh(); err != nil {
		t.logger.Error("API triggered refresh failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to refresh templates: %v", err))
		return
	}
	t.logger.Info("Templates refreshed via API")
	w.WriteHeader(http.StatusNoContent)
}

// handleList returns a list of all available template names.
func (t *TemplateAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeTemplatesRead) {
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	respondWithJSON(w, http.StatusOK, t.tm.GetTemplateNames())
}

// handleTest renders the request body as a template without saving it.
// Query parameters become locals.
func (t *TemplateAPI) handleTest(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeTemplatesRead) {
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}

	var buf bytes.Buffer
	if err = t.tm.ExecuteTemplateString(&buf, string(body), queryLocals(r.URL.Query())); err != nil {
		writeRenderError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handlePreview renders a stored template with locals taken from the query.
func (t *TemplateAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeTemplatesRead) {
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'name' is required")
		return
	}

	var buf bytes.Buffer
	if err := t.tm.Execute(&buf, name, queryLocals(r.URL.Query(), "name")); err != nil {
		writeRenderError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleClient returns a template compiled to a standalone JavaScript function.
func (t *TemplateAPI) handleClient(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeTemplatesRead) {
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'name' is required")
		return
	}

	src, err := t.tm.CompileClient(name)
	if err != nil {
		writeRenderError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	_, _ = io.WriteString(w, src)
}

// validTemplateName reports whether name is a clean relative path carrying
// the template extension.
func validTemplateName(name, ext string) bool {
	if name == "" || strings.HasSuffix(name, "/") || !strings.HasSuffix(name, ext) {
		return false
	}
	return fs.ValidPath(name) && path.Clean(name) == name
}

// handleFile manages CRUD operations for a single template.
func (t *TemplateAPI) handleFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/templates/")
	if !validTemplateName(name, t.tm.GetConfig().Extension) {
		respondWithError(w, http.StatusBadRequest, "Invalid template name format")
		return
	}

	scope := scopeTemplatesWrite
	if r.Method == http.MethodGet {
		scope = scopeTemplatesRead
	}
	if !requireScope(w, r, scope) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		content, err := t.readTemplate(name)
		if err != nil {
			respondWithError(w, http.StatusNotFound, "Template not found")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(content)

	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
			return
		}
		if err = t.writeTemplate(r, name, body); err != nil {
			t.logger.Error("Failed to save template", "name", name, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save template: %v", err))
			return
		}
		_ = t.tm.Refresh()
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if err := t.deleteTemplate(r, name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				respondWithError(w, http.StatusNotFound, "Template not found")
				return
			}
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete template: %v", err))
			return
		}
		_ = t.tm.Refresh()
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (t *TemplateAPI) templatePath(name string) string {
	return filepath.Join(t.tm.GetTemplateDir(), filepath.FromSlash(name))
}

func (t *TemplateAPI) readTemplate(name string) ([]byte, error) {
	if st := t.tm.Store(); st != nil {
		return st.ReadFile(name)
	}
	return os.ReadFile(t.templatePath(name))
}

func (t *TemplateAPI) writeTemplate(r *http.Request, name string, body []byte) error {
	if st := t.tm.Store(); st != nil {
		return st.Put(r.Context(), name, string(body))
	}
	p := t.templatePath(name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return atomic.WriteFile(p, bytes.NewReader(body))
}

func (t *TemplateAPI) deleteTemplate(r *http.Request, name string) error {
	if st := t.tm.Store(); st != nil {
		return st.Delete(r.Context(), name)
	}
	return os.Remove(t.templatePath(name))
}
