// Package server exposes the inbox broker over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wesm/work-inbox/internal/logging"
	"github.com/wesm/work-inbox/internal/models"
	"github.com/wesm/work-inbox/internal/sync"
)

const readyTimeout = 5 * time.Second

type HTTPServer struct {
	broker     *sync.Broker
	corsOrigin string
	mux        *http.ServeMux
}

func NewHTTPServer(broker *sync.Broker, corsOrigin string) *HTTPServer {
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	s := &HTTPServer{broker: broker, corsOrigin: corsOrigin, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.mux)
}

func (s *HTTPServer) routes() {
	s.mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	s.mux.HandleFunc("GET /api/ready", s.handleReady)
	s.mux.HandleFunc("GET /api/instances", s.handleInstances)
	s.mux.HandleFunc("GET /api/inbox", s.handleInbox)
	s.mux.HandleFunc("GET /api/inbox/stream", s.handleStream)
	s.mux.HandleFunc("GET /api/inbox/new", s.handleNewItems)
	s.mux.HandleFunc("POST /api/instances/{id}/items/{itemId}/read", s.handleMark(false))
	s.mux.HandleFunc("POST /api/instances/{id}/items/{itemId}/unread", s.handleMark(true))
	s.mux.HandleFunc("POST /api/instances/{id}/read-all", s.handleReadAll)
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"store": map[string]any{"status": "ok"},
	}
	if err := s.broker.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["store"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleInstances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"instances": s.broker.Instances()})
}

func (s *HTTPServer) handleInbox(w http.ResponseWriter, r *http.Request) {
	inbox, err := s.broker.Refresh(r.Context())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inbox)
}

type progressFrame struct {
	Type       string          `json:"type"`
	InstanceID string          `json:"instanceId"`
	Data       []models.Item   `json:"data"`
	Progress   models.Progress `json:"progress"`
	Failed     bool            `json:"failed,omitempty"`
}

type statusFrame struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// handleStream writes one NDJSON frame per batch. The request context bounds the fetch, so a
// client that disconnects stops the producers.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	send := func(frame any) bool {
		if err := enc.Encode(frame); err != nil {
			logging.Debug("stream write failed: %v", err)
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	if len(s.broker.Instances()) == 0 {
		send(statusFrame{Type: "error", Error: "no instances configured"})
		return
	}

	ctx := r.Context()
	for batch := range s.broker.Stream(ctx) {
		items := batch.Items
		if items == nil {
			items = []models.Item{}
		}
		frame := progressFrame{
			Type:       "progress",
			InstanceID: batch.Instance.ID,
			Data:       items,
			Progress:   batch.Progress,
			Failed:     batch.Failed,
		}
		if !send(frame) {
			return
		}
	}

	if err := ctx.Err(); err != nil {
		send(statusFrame{Type: "error", Error: err.Error()})
		return
	}
	send(statusFrame{Type: "complete"})
}

func (s *HTTPServer) handleNewItems(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("since"))
	if raw == "" {
		writeMappedError(w, domainError(http.StatusBadRequest, "INVALID_SINCE", "since is required"))
		return
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeMappedError(w, domainError(http.StatusBadRequest, "INVALID_SINCE", "since must be an RFC3339 timestamp"))
		return
	}

	items, err := s.broker.NewItemsSince(r.Context(), since)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if items == nil {
		items = []models.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *HTTPServer) handleMark(unread bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.broker.MarkRead(r.Context(), r.PathValue("id"), r.PathValue("itemId"), unread); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "unread": unread})
	}
}

func (s *HTTPServer) handleReadAll(w http.ResponseWriter, r *http.Request) {
	changed, err := s.broker.MarkAllRead(r.Context(), r.PathValue("id"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "changed": changed})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		logging.Info(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request by the middleware
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":  code,
		"error": message,
	})
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message := mapError(err)
	if status == http.StatusInternalServerError {
		logging.WithError(err, "request failed")
	}
	writeError(w, status, code, message)
}
