// Package api provides the HTTP server for resource collections.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/projectfiles/internal/auth"
	"github.com/fruitsalade/projectfiles/internal/events"
	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metadata"
	"github.com/fruitsalade/projectfiles/internal/metrics"
	"github.com/fruitsalade/projectfiles/internal/resource"
	"github.com/fruitsalade/projectfiles/pkg/models"
	"github.com/fruitsalade/projectfiles/pkg/protocol"
)

// collectionBase prefixes every collection route.
const collectionBase = "/api/v1/projects/{projectID}/{collection}"

// maxBodySize bounds request bodies; they only ever carry metadata.
const maxBodySize = 1 << 20

// sseKeepAlive is the interval of comment lines on idle event streams.
const sseKeepAlive = 25 * time.Second

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP API server.
type Server struct {
	svc         *resource.Service
	auth        *auth.Auth
	broadcaster *events.Broadcaster
	pinger      Pinger
}

// NewServer creates a new API server. pinger may be nil.
func NewServer(svc *resource.Service, a *auth.Auth, broadcaster *events.Broadcaster, pinger Pinger) *Server {
	return &Server{
		svc:         svc,
		auth:        a,
		broadcaster: broadcaster,
		pinger:      pinger,
	}
}

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	s.protect(mux, "GET "+collectionBase+"/nodes", s.handleList)
	s.protect(mux, "POST "+collectionBase+"/folders", s.handleCreateFolder)
	s.protect(mux, "POST "+collectionBase+"/files", s.handleRegisterFile)
	s.protect(mux, "PUT "+collectionBase+"/nodes/{id}/parent", s.handleMove)
	s.protect(mux, "PUT "+collectionBase+"/nodes/{id}/access", s.handleChangeAccess)
	s.protect(mux, "PATCH "+collectionBase+"/nodes/{id}", s.handleEdit)
	s.protect(mux, "DELETE "+collectionBase+"/nodes/{id}", s.handleDelete)
	s.protect(mux, "GET "+collectionBase+"/nodes/{id}/download", s.handleDownloadURL)
	s.protect(mux, "GET "+collectionBase+"/tags", s.handleSuggestTags)
	s.protect(mux, "GET "+collectionBase+"/events", s.handleEvents)

	// Metrics read r.Pattern, which the mux sets on the request it is handed.
	return logging.Middleware(metrics.Middleware(mux))
}

// protect registers a route behind bearer authentication. Routes are
// registered one by one so each keeps its own pattern for metrics.
func (s *Server) protect(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.auth.Middleware(h))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := protocol.HealthResponse{State: "ok", Store: s.svc.StoreName()}
	code := http.StatusOK
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			logging.Warn("health check failed", zap.Error(err))
			resp.Envelope = protocol.Failed("store unavailable")
			resp.State = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	s.sendJSON(w, code, &resp)
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.broadcaster.Subscribe(c.Key())
	defer s.broadcaster.Unsubscribe(sub)

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// collection resolves and authorizes the collection named by the path.
func (s *Server) collection(w http.ResponseWriter, r *http.Request) (models.Collection, bool) {
	c := models.Collection{
		ProjectID: r.PathValue("projectID"),
		Kind:      models.CollectionKind(r.PathValue("collection")),
	}
	if c.ProjectID == "" || !c.Kind.Valid() {
		s.sendError(w, http.StatusNotFound, "unknown collection "+c.Key())
		return c, false
	}
	if err := auth.Authorize(r.Context(), c.ProjectID); err != nil {
		s.sendError(w, http.StatusForbidden, err.Error())
		return c, false
	}
	return c, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case resource.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, metadata.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, metadata.ErrNotFolder),
		errors.Is(err, metadata.ErrCycle),
		errors.Is(err, metadata.ErrRootImmutable),
		errors.Is(err, metadata.ErrNotFile),
		errors.Is(err, metadata.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail reports a service error to the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		logging.WithContext(r.Context()).Error(op+" failed", zap.Error(err))
		msg = op + " failed"
	}
	s.sendError(w, code, msg)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	env := protocol.Failed(message)
	s.sendJSON(w, code, &env)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v protocol.Enveloped) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
