package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoad_EnvOnlyDefaults(t *testing.T) {
	t.Setenv("BLIZZARD_CLIENT_ID", "id")
	t.Setenv("BLIZZARD_CLIENT_SECRET", "secret")
	t.Setenv("WOW_INGEST_BATCH_SIZE", "25")

	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if cfg.RateLimit.MaxConcurrent != 20 {
		t.Fatalf("max_concurrent=%d want 20", cfg.RateLimit.MaxConcurrent)
	}
	if cfg.RateLimit.RequestsPerSecond != 100 {
		t.Fatalf("requests_per_second=%v want 100", cfg.RateLimit.RequestsPerSecond)
	}
	if cfg.RateLimit.MaxDelay != 30*time.Second {
		t.Fatalf("max_delay=%s want 30s", cfg.RateLimit.MaxDelay)
	}
	if cfg.Ingest.RealmConcurrency != 10 || cfg.Ingest.RealmRetryPasses != 3 {
		t.Fatalf("realm settings=%+v", cfg.Ingest)
	}
	if cfg.Ingest.BatchSize != 25 {
		t.Fatalf("batch_size=%d want 25 from env", cfg.Ingest.BatchSize)
	}
	if cfg.Blizzard.ClientID != "id" || cfg.Blizzard.ClientSecret != "secret" {
		t.Fatalf("credentials not bound: %+v", cfg.Blizzard)
	}
	if err := cfg.Blizzard.Validate(); err != nil {
		t.Fatalf("validate err=%v", err)
	}
}

func TestBlizzardConfigValidate_Missing(t *testing.T) {
	err := BlizzardConfig{ClientID: "id"}.Validate()
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("err=%v want ErrMissingCredentials", err)
	}
}
