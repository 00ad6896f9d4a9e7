package opshttp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-edge/internal/health"
	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
)

// test helpers

func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func startOps(t *testing.T, opts *Options) (port int, stopFunc func(context.Context) error) {
	t.Helper()
	if opts.Port == 0 {
		opts.Port = getFreePort(t)
	}
	ctx := context.Background()
	stop, err := Start(ctx, log.Nop(), opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { stop(ctx) })
	return opts.Port, stop
}

func opsGet(t *testing.T, port int, path string) *http.Response {
	t.Helper()
	addr := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
	resp, err := http.Get(addr)
	if err != nil {
		t.Fatalf("GET %s: %v", addr, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

// Start - lifecycle



func TestStart_CustomPort(t *testing.T) {
	port, _ := startOps(t, &Options{
		Health:    health.Fixed(true, ""),
		Readiness: health.Fixed(true, ""),
	})

	resp := opsGet(t, port, "/-/healthy")
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStart_GracefulShutdown(t *testing.T) {
	port := getFreePort(t)
	ctx := context.Background()

	stop, err := Start(ctx, log.Nop(), &Options{
		Port:      port,
		Health:    health.Fixed(true, ""),
		Readiness: health.Fixed(true, ""),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Verify it's up
	resp := opsGet(t, port, "/-/healthy")
	resp.Body.Close()

	// Shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := stop(shutdownCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	// Should no longer accept connections
	addr := fmt.Sprintf("http://127.0.0.1:%d/-/healthy", port)
	_, err = http.Get(addr)
	if err == nil {
		t.Fatal("server still accepting connections after shutdown")
	}
}

func TestStart_StopIdempotent(t *testing.T) {
	port := getFreePort(t)
	ctx := context.Background()

	stop, err := Start(ctx, log.Nop(), &Options{Port: port})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := stop(ctx); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("third stop: %v", err)
	}
}

func TestStart_PortConflict(t *testing.T) {
	port := getFreePort(t)
	ctx := context.Background()

	stop1, err := Start(ctx, log.Nop(), &Options{Port: port})
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer stop1(ctx)

	_, err = Start(ctx, log.Nop(), &Options{Port: port})
	if err == nil {
		t.Fatal("expected error for port conflict")
	}
}

// Health endpoints

func TestStart_HealthzEndpoint_Healthy(t *testing.T) {
	port, _ := startOps(t, &Options{
		Health: health.Fixed(true, ""),
	})

	resp := opsGet(t, port, "/-/healthy")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body, "ok") {
		t.Fatalf("body = %q, want 'ok'", body)
	}
}

func TestStart_HealthzEndpoint_Unhealthy(t *testing.T) {
	port, _ := startOps(t, &Options{
		Health: health.Fixed(false, "something broke"),
	})

	resp := opsGet(t, port, "/-/healthy")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if !strings.Contains(body, "something broke") {
		t.Fatalf("body = %q, want reason", body)
	}
}

func TestStart_ReadyzEndpoint_Ready(t *testing.T) {
	port, _ := startOps(t, &Options{
		Readiness: health.Fixed(true, ""),
	})

	resp := opsGet(t, port, "/-/ready")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body, "ready") {
		t.Fatalf("body = %q, want 'ready'", body)
	}
}

func TestStart_ReadyzEndpoint_NotReady(t *testing.T) {
	port, _ := startOps(t, &Options{
		Readiness: health.Fixed(false, "upstream: connection refused"),
	})

	resp := opsGet(t, port, "/-/ready")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if !strings.Contains(body, "upstream: connection refused") {
		t.Fatalf("body = %q, want reason", body)
	}
}

func TestStart_HealthzEndpoint_DynamicProbe(t *testing.T) {
	var gate health.ShutdownGate

	port, _ := startOps(t, &Options{
		Health: gate.Probe(),
	})

	// Initially healthy
	resp := opsGet(t, port, "/-/healthy")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initially: status = %d, want 200", resp.StatusCode)
	}

	// Close gate
	gate.Set("draining")
	resp = opsGet(t, port, "/-/healthy")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("after drain: status = %d, want 503", resp.StatusCode)
	}
}

// Metrics endpoint

func TestStart_MetricsEndpoint(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("# HELP fake_metric\n"))
	})

	port, _ := startOps(t, &Options{
		Metrics: metricsHandler,
	})

	resp := opsGet(t, port, "/metrics")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body, "fake_metric") {
		t.Fatalf("body = %q, want metrics output", body)
	}
}

func TestStart_MetricsEndpoint_Nil(t *testing.T) {
	port, _ := startOps(t, &Options{
		Metrics: nil,
	})

	resp := opsGet(t, port, "/metrics")
	resp.Body.Close()

	// No metrics handler registered, should 404
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

// Pprof endpoints

func TestStart_PprofEnabled(t *testing.T) {
	port, _ := startOps(t, &Options{
		EnablePprof: true,
	})

	resp := opsGet(t, port, "/debug/pprof/")
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStart_PprofDisabled(t *testing.T) {
	port, _ := startOps(t, &Options{
		EnablePprof: false,
	})

	resp := opsGet(t, port, "/debug/pprof/")
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (pprof disabled)", resp.StatusCode)
	}
}

// requireNonPublicNetwork

func TestRequireNonPublicNetwork(t *testing.T) {
	tests := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:12345", http.StatusOK},
		{"[::1]:12345", http.StatusOK},
		{"10.0.0.1:8080", http.StatusOK},
		{"172.16.0.1:8080", http.StatusOK},
		{"192.168.1.1:8080", http.StatusOK},
		{"169.254.1.1:8080", http.StatusOK},
		{"[::ffff:10.0.0.1]:12345", http.StatusOK},
		{"8.8.8.8:12345", http.StatusForbidden},
		{"203.0.113.1:80", http.StatusForbidden},
		{"[::ffff:8.8.8.8]:12345", http.StatusForbidden},
		{"[2001:db8::1]:443", http.StatusForbidden},
		{"not-an-address", http.StatusForbidden},
		{"", http.StatusForbidden},
		{"999.999.999.999:8080", http.StatusForbidden},
	}
	h := requireNonPublicNetwork(log.Nop(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/-/healthy", http.NoBody)
			req.RemoteAddr = tt.remote
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestNewMux_RecoversPanics(t *testing.T) {
	panics := 0
	h := newMux(log.Nop(), &Options{
		Metrics: http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("scrape failed") }),
		OnPanic: func() { panics++ },
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	req.RemoteAddr = "127.0.0.1:1"
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if panics != 1 {
		t.Fatalf("OnPanic calls = %d, want 1", panics)
	}
}
