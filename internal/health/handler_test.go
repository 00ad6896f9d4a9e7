package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlers(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantCode int
		wantBody string
	}{
		{"healthz ok", HealthzHandler(Fixed(true, "")), http.StatusOK, "ok"},
		{"healthz nil probe", HealthzHandler(nil), http.StatusOK, "ok"},
		{"healthz failing", HealthzHandler(Fixed(false, "upstream down")), http.StatusServiceUnavailable, "upstream down"},
		{"readyz ok", ReadyzHandler(Fixed(true, "")), http.StatusOK, "ready"},
		{"readyz nil probe", ReadyzHandler(nil), http.StatusOK, "ready"},
		{"readyz failing", ReadyzHandler(Fixed(false, "draining")), http.StatusServiceUnavailable, "draining"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/ready", http.NoBody))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
			if got := rec.Header().Get("Cache-Control"); got != "no-store" {
				t.Fatalf("Cache-Control = %q", got)
			}
		})
	}
}

func TestReadyzHandler_FollowsGate(t *testing.T) {
	var g ShutdownGate
	h := ReadyzHandler(All(g.Probe(), Fixed(true, "")))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/ready", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("before drain: status = %d", rec.Code)
	}

	g.Set("shutting down")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/ready", http.NoBody))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("after drain: status = %d", rec.Code)
	}
}

func TestHealthzHandler_PassesRequestContext(t *testing.T) {
	type ctxKey string
	var got any
	probe := CheckFunc(func(ctx context.Context) error {
		got = ctx.Value(ctxKey("k"))
		return errors.New("x")
	})

	ctx := context.WithValue(context.Background(), ctxKey("k"), "v")
	HealthzHandler(probe).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody).WithContext(ctx))

	if got != "v" {
		t.Fatal("request context not passed to probe")
	}
}
