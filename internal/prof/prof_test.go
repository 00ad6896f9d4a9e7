package prof

import (
	"context"
	"strings"
	"testing"

	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
)

func TestStart_Disabled(t *testing.T) {
	var active []bool
	ctx := log.WithContext(context.Background(), log.Nop())

	stop, err := Start(ctx, Options{
		Enabled:              false,
		ProfileMutexFraction: 999,
		BlockProfileRate:     999,
		OnActive:             func(a bool) { active = append(active, a) },
	})
	if err != nil {
		t.Fatalf("disabled should never error, got: %v", err)
	}
	stop()
	stop()

	if len(active) != 1 || active[0] {
		t.Fatalf("OnActive = %v, want [false]", active)
	}
}

func TestStart_EmptyServerAddress(t *testing.T) {
	var active []bool
	stop, err := Start(context.Background(), Options{
		Enabled:  true,
		AppName:  "edge",
		OnActive: func(a bool) { active = append(active, a) },
	})
	if err == nil || !strings.Contains(err.Error(), "invalid server address") {
		t.Fatalf("err = %v, want invalid server address", err)
	}
	if stop == nil {
		t.Fatal("stop must be non-nil even on error")
	}
	stop()
	if len(active) != 1 || active[0] {
		t.Fatalf("OnActive = %v, want [false]", active)
	}
}

func TestStart_UnreachableServer(t *testing.T) {
	// pyroscope connects lazily, so this may succeed; stop must still be safe.
	stop, _ := Start(context.Background(), Options{
		Enabled:       true,
		ServerAddress: "http://localhost:0/nonexistent",
		AppName:       "edge",
	})
	if stop == nil {
		t.Fatal("stop func should always be non-nil")
	}
	stop()
	stop()
}

func TestConfig(t *testing.T) {
	c := config(Options{
		AppName:       "edge.server",
		ServerAddress: "https://pyro:4040",
		TenantID:      "tenant",
		Tags:          map[string]string{"env": "test"},
	})
	if c.ApplicationName != "edge.server" || c.ServerAddress != "https://pyro:4040" || c.TenantID != "tenant" {
		t.Fatalf("config = %+v", c)
	}
	if c.Tags["env"] != "test" {
		t.Fatalf("tags = %v", c.Tags)
	}
	if len(c.ProfileTypes) != len(profileTypes) {
		t.Fatalf("profile types = %d", len(c.ProfileTypes))
	}
}
