package main

import (
	"bytes"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strings"

	"github.com/CTAG07/goejs/pkg/ejs"
	"github.com/CTAG07/goejs/pkg/templating"
)

// Server holds the HTTP handlers for rendered pages and for the API.
type Server struct {
	cm          *ConfigManager
	logger      *slog.Logger
	tm          *templating.TemplateManager
	authAPI     *AuthAPI
	templateAPI *TemplateAPI
	serverAPI   *ServerAPI
	siteMux     *http.ServeMux
	apiMux      *http.ServeMux
}

// NewServer wires the API handlers and the page renderer together. db holds
// the API keys and may be nil.
func NewServer(cm *ConfigManager, tm *templating.TemplateManager, db *sql.DB, logger *slog.Logger, actionChan chan string) *Server {
	server := &Server{
		cm:          cm,
		logger:      logger,
		tm:          tm,
		authAPI:     NewAuthAPI(cm, db, logger),
		templateAPI: NewTemplateAPI(tm, logger),
		serverAPI:   NewServerAPI(cm, actionChan, logger),
		siteMux:     http.NewServeMux(),
		apiMux:      http.NewServeMux(),
	}

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.templateAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Api functions pass through authentication first, except for the health check.
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.apiMux.Handle("/api/", server.authAPI.Authenticate(apiMux))

	server.siteMux.HandleFunc("/favicon.ico", handleFavicon)
	server.siteMux.HandleFunc("/", server.handlePage)

	return server
}

// templateForPath maps a request path to a template name. Directory paths
// render their index template.
func templateForPath(urlPath, ext string) string {
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" || strings.HasSuffix(urlPath, "/") {
		name = path.Join(name, "index")
	}
	if !strings.HasSuffix(name, ext) {
		name += ext
	}
	return name
}

// handlePage renders the template matching the request path. Query
// parameters are exposed to the template as the "query" local.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name := templateForPath(r.URL.Path, s.tm.GetConfig().Extension)
	ipAddr := s.getClientIP(r)
	locals := map[string]any{
		"path":  r.URL.Path,
		"query": queryLocals(r.URL.Query()),
		"ip":    ipAddr,
	}

	var buf bytes.Buffer
	if err := s.tm.Execute(&buf, name, locals); err != nil {
		if errors.Is(err, templating.ErrTemplateNotFound) {
			s.logger.Debug("No template for path", "path", r.URL.Path, "template", name)
			http.NotFound(w, r)
			return
		}
		var renderErr *ejs.RenderError
		if errors.As(err, &renderErr) {
			s.logger.Error("Template failed at runtime", "template", renderErr.Filename, "line", renderErr.Line, "error", renderErr.Message)
		} else {
			s.logger.Error("Failed to execute template", "template", name, "error", err)
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Serving page", "template", name, "remote_addr", ipAddr)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// getClientIP returns the client address, honouring proxy headers only when
// the direct peer is a trusted proxy.
func (s *Server) getClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If splitting fails (e.g., no port), use the address as is.
		ip = r.RemoteAddr
	}

	if !s.cm.IsTrusted(ip) {
		return ip
	}

	// The X-Real-Ip header contains the forwarded IP in some cases (like from nginx)
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return realIP
	}

	// The first IP in X-Forwarded-For is the original client IP.
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		return strings.TrimSpace(first)
	}

	return ip
}

// handleFavicon keeps favicon requests from being treated as page renders.
func handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
