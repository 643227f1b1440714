package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMiddleware_AssignsRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if seen == "" {
		t.Fatal("request id missing from context")
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("header id %q != context id %q", got, seen)
	}

	done := logs.FilterMessage("request completed").All()
	if len(done) != 1 {
		t.Fatalf("expected 1 completion entry, got %d", len(done))
	}
	if status := done[0].ContextMap()["status"]; status != int64(http.StatusTeapot) {
		t.Errorf("logged status = %v", status)
	}
	if done[0].ContextMap()["request_id"] != seen {
		t.Errorf("completion entry missing request_id")
	}
}

func TestMiddleware_KeepsIncomingRequestID(t *testing.T) {
	SetLogger(zap.NewNop())
	defer SetLogger(nil)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("expected incoming id to be echoed, got %q", got)
	}
}

func TestMiddleware_Flushes(t *testing.T) {
	SetLogger(zap.NewNop())
	defer SetLogger(nil)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Flusher); !ok {
			t.Error("wrapped writer does not implement http.Flusher")
		}
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/events", nil))
}

func TestSetLevel(t *testing.T) {
	SetLevel("debug")
	if !globalLevel.Enabled(zapcore.DebugLevel) {
		t.Error("debug should be enabled")
	}
	SetLevel("not-a-level")
	if !globalLevel.Enabled(zapcore.DebugLevel) {
		t.Error("invalid level must be ignored")
	}
	SetLevel("info")
}

func TestMiddleware_RouteAndAnnotations(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /nodes/{id}", func(w http.ResponseWriter, r *http.Request) {
		Annotate(r.Context(), zap.String("user", "alice"))
		w.WriteHeader(http.StatusInternalServerError)
	})
	Middleware(mux).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("DELETE", "/nodes/42", nil))

	failed := logs.FilterMessage("request failed").All()
	if len(failed) != 1 {
		t.Fatalf("expected 1 failure entry, got %d", len(failed))
	}
	fields := failed[0].ContextMap()
	if fields["route"] != "DELETE /nodes/{id}" {
		t.Errorf("route = %v", fields["route"])
	}
	if fields["user"] != "alice" {
		t.Errorf("user = %v", fields["user"])
	}
	if failed[0].Level != zapcore.WarnLevel {
		t.Errorf("level = %v, want warn", failed[0].Level)
	}
}

func TestAnnotateOutsideMiddleware(t *testing.T) {
	Annotate(context.Background(), zap.String("user", "nobody"))
	if GetRequestID(context.Background()) != "" {
		t.Error("background context has a request id")
	}
}
