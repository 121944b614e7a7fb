package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/casegallery/gallerysync/internal/engine"
	"github.com/casegallery/gallerysync/internal/registry"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse describes the engine's current state
type StatusResponse struct {
	Running       bool                    `json:"running"`
	SchemaVersion string                  `json:"schema_version"`
	ActiveRun     *registry.LogEntry      `json:"active_run,omitempty"`
	Registry      *registry.RegistryStats `json:"registry"`
}

// HistoryResponse wraps recent sync log entries
type HistoryResponse struct {
	Runs []registry.LogEntry `json:"runs"`
}

// SyncRequest is the body of POST /api/v1/sync. All fields are optional;
// an empty body requests a full pass across every tenant.
type SyncRequest struct {
	Type     string `json:"sync_type,omitempty"`
	CaseID   int64  `json:"case_id,omitempty"`
	APIToken string `json:"api_token,omitempty"`
}

// router assembles the HTTP routes. Split from Start so tests can drive
// the handlers through httptest without binding a port.
func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	r.Get("/", s.handleRoot)

	r.Route("/api/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(s.requireAuth)
		}
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Get("/stats", s.handleStats)
		r.Post("/sync", s.handleSync)
	})

	return r
}

// requireAuth rejects /api/v1 requests without the configured bearer token
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token != s.authToken {
			s.writeErrorResponse(w, "missing or invalid bearer token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSONResponse(w, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleStatus handles GET /api/v1/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Running:       s.engine.Running(),
		SchemaVersion: registry.SchemaVersion,
	}

	active, err := s.logs.ActiveContext(r.Context())
	switch {
	case err == nil:
		resp.ActiveRun = active
	case errors.Is(err, registry.ErrNotFound):
		// Idle; no active row to report.
	default:
		s.logger.Printf("Failed to read active run: %v", err)
		s.writeErrorResponse(w, "failed to read active run", http.StatusInternalServerError)
		return
	}

	stats, err := s.items.StatsByTypeContext(r.Context())
	if err != nil {
		s.logger.Printf("Failed to read registry stats: %v", err)
		s.writeErrorResponse(w, "failed to read registry stats", http.StatusInternalServerError)
		return
	}
	resp.Registry = stats

	s.writeJSONResponse(w, resp)
}

// handleHistory handles GET /api/v1/history?limit=N
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeErrorResponse(w, fmt.Sprintf("invalid limit %q", raw), http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.logs.RecentContext(r.Context(), limit)
	if err != nil {
		s.logger.Printf("Failed to read history: %v", err)
		s.writeErrorResponse(w, "failed to read history", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []registry.LogEntry{}
	}

	s.writeJSONResponse(w, HistoryResponse{Runs: runs})
}

// handleStats handles GET /api/v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.collectStats(r.Context())
	if err != nil {
		s.logger.Printf("Failed to collect stats: %v", err)
		s.writeErrorResponse(w, "failed to collect stats", http.StatusInternalServerError)
		return
	}
	s.writeJSONResponse(w, stats)
}

// handleSync handles POST /api/v1/sync. The pass runs synchronously on
// the request goroutine and the response carries its full result, so a
// caller that wants fire-and-forget should drop a trigger file instead.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeErrorResponse(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	res, err := s.engine.Run(r.Context(), engine.RunOptions{
		Type:     registry.SyncType(req.Type),
		Source:   registry.SourceRESTAPI,
		CaseID:   req.CaseID,
		APIToken: req.APIToken,
	})
	switch {
	case errors.Is(err, engine.ErrSyncActive):
		s.writeErrorResponse(w, "a sync is already running", http.StatusConflict)
		return
	case errors.Is(err, registry.ErrInvalidInput):
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		s.logger.Printf("REST-triggered pass failed: %v", err)
		if res == nil {
			// Failed before the pass started; there is no result to report.
			s.writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
			return
		}
		// The pass ran and failed; the result still describes what happened.
		s.writeJSONResponseStatus(w, res, http.StatusInternalServerError)
		return
	}

	s.writeJSONResponse(w, res)
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Gallery Sync Status</title>
</head>
<body>
    <h1>Gallery Sync Status Server</h1>
    <p>WebSocket feed: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/healthz">/healthz</a></p>
    <p>REST API: <code>/api/v1/status</code>, <code>/api/v1/history</code>, <code>/api/v1/stats</code>, <code>POST /api/v1/sync</code></p>
</body>
</html>`, r.Host)
}

// writeJSONResponse writes a JSON response with the given data
func (s *Server) writeJSONResponse(w http.ResponseWriter, data any) {
	s.writeJSONResponseStatus(w, data, http.StatusOK)
}

func (s *Server) writeJSONResponseStatus(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Printf("Failed to encode JSON response: %v", err)
	}
}

// writeErrorResponse writes a standardized error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	errorResp := ErrorResponse{
		Error: message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(errorResp); err != nil {
		s.logger.Printf("Failed to encode error response: %v", err)
	}
}
