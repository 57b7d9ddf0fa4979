package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResolveDefaults(t *testing.T) {
	s, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Port != "8080" || s.OBSAddr != "127.0.0.1:4455" {
		t.Errorf("unexpected defaults: %+v", s)
	}
	if s.FinalizeDelay != 2*time.Second || s.HeartbeatInterval != 15*time.Second {
		t.Errorf("unexpected default durations: %+v", s)
	}
}

func TestResolveFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	body := "port: \"9000\"\nobs_addr: obs.local:4455\nfinalize_delay: 500ms\nrecordings_dir: /srv/recordings\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Port != "9000" || s.OBSAddr != "obs.local:4455" || s.RecordingsDir != "/srv/recordings" {
		t.Errorf("file values not applied: %+v", s)
	}
	if s.FinalizeDelay != 500*time.Millisecond {
		t.Errorf("FinalizeDelay = %v", s.FinalizeDelay)
	}
}

func TestResolveEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("port: \"9000\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7777")
	t.Setenv("FINALIZE_DELAY", "3s")

	s, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Port != "7777" {
		t.Errorf("Port = %q, want env override", s.Port)
	}
	if s.FinalizeDelay != 3*time.Second {
		t.Errorf("FinalizeDelay = %v, want 3s", s.FinalizeDelay)
	}
}

func TestResolveMissingFileIsFine(t *testing.T) {
	if _, err := Resolve(filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Errorf("Resolve: %v", err)
	}
}

func TestResolveBadDuration(t *testing.T) {
	t.Setenv("FINALIZE_DELAY", "shortly")
	if _, err := Resolve(""); err == nil {
		t.Error("expected error for malformed duration")
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("CONFIG_TEST_KEY", "value")
	if got := GetEnv("CONFIG_TEST_KEY", "fallback"); got != "value" {
		t.Errorf("GetEnv = %q", got)
	}
	if got := GetEnv("CONFIG_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("GetEnv fallback = %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("CONFIG_TEST_INT", "42")
	if got := GetEnvInt("CONFIG_TEST_INT", 7); got != 42 {
		t.Errorf("GetEnvInt = %d", got)
	}
	t.Setenv("CONFIG_TEST_INT", "not-a-number")
	if got := GetEnvInt("CONFIG_TEST_INT", 7); got != 7 {
		t.Errorf("GetEnvInt fallback = %d", got)
	}
}
