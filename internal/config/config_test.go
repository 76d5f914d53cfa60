package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setup points the loader at temporary secrets and entities files.
func setup(t *testing.T, secrets, cities string) {
	t.Helper()
	dir := t.TempDir()

	secretsPath := filepath.Join(dir, ".env")
	if secrets != "" {
		if err := os.WriteFile(secretsPath, []byte(secrets), 0o600); err != nil {
			t.Fatalf("write secrets: %v", err)
		}
	}
	citiesPath := filepath.Join(dir, "cities.csv")
	if err := os.WriteFile(citiesPath, []byte(cities), 0o600); err != nil {
		t.Fatalf("write cities: %v", err)
	}

	t.Setenv("SECRETS_FILE", secretsPath)
	t.Setenv("ENTITIES_FILE", citiesPath)
	t.Setenv("OPENWEATHERMAP_TOKEN", "")
	t.Setenv("TINYBIRD_TOKEN", "")
	t.Setenv("RUN_MODE", "")
	t.Setenv("TIMEZONE", "UTC")
}

func TestLoadDefaults(t *testing.T) {
	setup(t, "OPENWEATHERMAP_TOKEN=owm\nTINYBIRD_TOKEN=tb\n", "Denver, Boston")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Mode != ModeIngest {
		t.Fatalf("expected ingest mode, got %s", cfg.Mode)
	}
	if cfg.FetchInterval != 5*time.Minute || cfg.RequestDelay != time.Second {
		t.Fatalf("unexpected intervals %v / %v", cfg.FetchInterval, cfg.RequestDelay)
	}
	if cfg.MaxInFlight != 1 {
		t.Fatalf("expected MaxInFlight 1, got %d", cfg.MaxInFlight)
	}
	if cfg.UpstreamUnits != "imperial" || cfg.UpstreamMaxRetries != 0 {
		t.Fatalf("unexpected upstream settings %s / %d", cfg.UpstreamUnits, cfg.UpstreamMaxRetries)
	}
	if cfg.Credentials.Upstream != "owm" || cfg.Credentials.Downstream != "tb" {
		t.Fatalf("unexpected credentials")
	}
	if len(cfg.Entities) != 2 || cfg.Entities[0] != "Denver" {
		t.Fatalf("unexpected entities %v", cfg.Entities)
	}
	if cfg.Location.String() != "UTC" {
		t.Fatalf("unexpected location %s", cfg.Location)
	}
	if cfg.BulkQuery.Get("sensor_type") != "all" || cfg.BulkQuery.Get("max_results") != "10" {
		t.Fatalf("unexpected bulk query %v", cfg.BulkQuery)
	}
}

func TestLoadTokensFromEnvironment(t *testing.T) {
	setup(t, "", "Denver")
	t.Setenv("OPENWEATHERMAP_TOKEN", "owm-env")
	t.Setenv("TINYBIRD_TOKEN", "tb-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Credentials.Upstream != "owm-env" || cfg.Credentials.Downstream != "tb-env" {
		t.Fatalf("unexpected credentials")
	}
}

func TestLoadMissingTokensIsFatal(t *testing.T) {
	setup(t, "TINYBIRD_TOKEN=tb\n", "Denver")

	if _, err := Load(); !errors.Is(err, ErrMissingUpstreamToken) {
		t.Fatalf("expected ErrMissingUpstreamToken, got %v", err)
	}

	setup(t, "OPENWEATHERMAP_TOKEN=owm\n", "Denver")
	if _, err := Load(); !errors.Is(err, ErrMissingDownstreamToken) {
		t.Fatalf("expected ErrMissingDownstreamToken, got %v", err)
	}
}

func TestLoadBulkModeSkipsEntitiesAndUpstreamToken(t *testing.T) {
	setup(t, "TINYBIRD_TOKEN=tb\n", "")
	t.Setenv("RUN_MODE", "bulk")
	t.Setenv("BULK_REQUESTS_PER_MINUTE", "120")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mode != ModeBulk || cfg.BulkRequestsPerMinute != 120 || cfg.MaxInFlight != 10 {
		t.Fatalf("unexpected bulk config %+v", cfg)
	}
	if len(cfg.Entities) != 0 {
		t.Fatalf("expected no entities in bulk mode")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"FETCH_INTERVAL": "soon",
		"MAX_IN_FLIGHT":  "0",
		"RUN_MODE":       "replay",
		"UPSTREAM_URL":   "not a url",
		"TIMEZONE":       "Mars/Olympus_Mons",
		"LOG_LEVEL":      "verbose",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setup(t, "OPENWEATHERMAP_TOKEN=owm\nTINYBIRD_TOKEN=tb\n", "Denver")
			t.Setenv(key, value)

			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}

func TestLoadEmptyEntitiesIsFatal(t *testing.T) {
	setup(t, "OPENWEATHERMAP_TOKEN=owm\nTINYBIRD_TOKEN=tb\n", " , ")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for empty entity list")
	}
}

func TestCredentialsAreRedacted(t *testing.T) {
	c := Credentials{Upstream: "owm-secret", Downstream: "tb-secret"}

	for _, s := range []string{c.String(), fmt.Sprintf("%v", c), fmt.Sprintf("%+v", c), fmt.Sprintf("%#v", c)} {
		if strings.Contains(s, "secret") {
			t.Fatalf("credentials leaked: %s", s)
		}
	}
}
