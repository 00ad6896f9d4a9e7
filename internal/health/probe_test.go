package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var (
	errA = errors.New("a failed")
	errB = errors.New("b failed")
)

func fail(err error) CheckFunc { return func(context.Context) error { return err } }

func TestFixed(t *testing.T) {
	if err := Fixed(true, "ignored").Check(context.Background()); err != nil {
		t.Fatalf("Fixed(true) = %v", err)
	}
	if err := Fixed(false, "db offline").Check(context.Background()); err == nil || err.Error() != "db offline" {
		t.Fatalf("Fixed(false, reason) = %v", err)
	}
	if err := Fixed(false, "").Check(context.Background()); err == nil || err.Error() != "unhealthy" {
		t.Fatalf("Fixed(false, \"\") = %v", err)
	}
}

func TestAll(t *testing.T) {
	tests := []struct {
		name   string
		probes []Probe
		want   error
	}{
		{"empty", nil, nil},
		{"all pass", []Probe{Fixed(true, ""), Fixed(true, "")}, nil},
		{"first error wins", []Probe{fail(errA), fail(errB)}, errA},
		{"nil skipped", []Probe{nil, fail(errB)}, errB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := All(tt.probes...).Check(context.Background()); !errors.Is(err, tt.want) {
				t.Fatalf("All() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAll_ShortCircuits(t *testing.T) {
	called := false
	p := All(fail(errA), CheckFunc(func(context.Context) error { called = true; return nil }))
	p.Check(context.Background())
	if called {
		t.Fatal("All should stop at the first failure")
	}
}

func TestAny(t *testing.T) {
	tests := []struct {
		name    string
		probes  []Probe
		want    error
		wantMsg string
	}{
		{"one passes", []Probe{fail(errA), Fixed(true, "")}, nil, ""},
		{"all fail returns last", []Probe{fail(errA), fail(errB)}, errB, ""},
		{"empty", nil, nil, "no healthy probes"},
		{"only nil", []Probe{nil, nil}, nil, "no healthy probes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Any(tt.probes...).Check(context.Background())
			if tt.wantMsg != "" {
				if err == nil || err.Error() != tt.wantMsg {
					t.Fatalf("Any() = %v, want %q", err, tt.wantMsg)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Any() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWithTimeout(t *testing.T) {
	slow := CheckFunc(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	if err := WithTimeout(slow, 10*time.Millisecond).Check(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WithTimeout = %v, want deadline exceeded", err)
	}
	if err := WithTimeout(nil, time.Millisecond).Check(context.Background()); err != nil {
		t.Fatalf("nil probe = %v", err)
	}
}

func TestShutdownGate(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()

	if err := p.Check(context.Background()); err != nil || g.Draining() {
		t.Fatalf("zero gate should be open, got %v", err)
	}

	g.Set("")
	if err := p.Check(context.Background()); err == nil || err.Error() != "draining" {
		t.Fatalf("empty reason should default to draining, got %v", err)
	}

	g.Set("second reason")
	if err := p.Check(context.Background()); err == nil || err.Error() != "second reason" {
		t.Fatalf("reason = %v, want second reason", err)
	}

	g.Clear()
	if err := p.Check(context.Background()); err != nil || g.Draining() {
		t.Fatalf("should be open after Clear, got %v", err)
	}
}

func TestShutdownGate_ConcurrentAccess(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); g.Set("draining") }()
		go func() { defer wg.Done(); g.Clear() }()
		go func() { defer wg.Done(); p.Check(context.Background()) }()
	}
	wg.Wait()
}
