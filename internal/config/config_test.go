package config

import (
	"testing"
	"time"
)

func TestLoadRetrievalAndVerificationDefaults(t *testing.T) {
	t.Setenv("RETRIEVAL_POOL_SIZE", "")
	t.Setenv("FUSION_RRF_K", "")
	t.Setenv("VERIFY_POLICY", "")
	t.Setenv("VERIFY_TOLERANCE", "")
	t.Setenv("BACKPRESSURE_WAIT", "")

	cfg := Load()
	if cfg.RetrievalPoolSize != 12 {
		t.Fatalf("expected default pool size 12, got %d", cfg.RetrievalPoolSize)
	}
	if cfg.RRFK != 60 {
		t.Fatalf("expected default rrf k 60, got %d", cfg.RRFK)
	}
	if cfg.VerifyPolicy != "advisory" {
		t.Fatalf("expected default verify policy advisory, got %q", cfg.VerifyPolicy)
	}
	if cfg.VerifyTolerance != 0.05 {
		t.Fatalf("expected default tolerance 0.05, got %v", cfg.VerifyTolerance)
	}
	if cfg.BackpressureWait != 200*time.Millisecond {
		t.Fatalf("expected default backpressure wait 200ms, got %v", cfg.BackpressureWait)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("FUSION_RRF_K", "75")
	t.Setenv("VERIFY_POLICY", "redact")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("EMBED_CACHE_TTL", "30s")

	cfg := Load()
	if cfg.RRFK != 75 {
		t.Fatalf("expected rrf k 75, got %d", cfg.RRFK)
	}
	if cfg.VerifyPolicy != "redact" {
		t.Fatalf("expected verify policy redact, got %q", cfg.VerifyPolicy)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("expected rate limit 2.5, got %v", cfg.RateLimitRPS)
	}
	if cfg.EmbedCacheTTL != 30*time.Second {
		t.Fatalf("expected embed cache ttl 30s, got %v", cfg.EmbedCacheTTL)
	}
}

func TestLoadFallsBackOnMalformedValues(t *testing.T) {
	t.Setenv("MAX_IN_FLIGHT", "many")
	t.Setenv("RATE_LIMIT_RPS", "fast")
	t.Setenv("ATTEMPT_TIMEOUT", "soon")

	cfg := Load()
	if cfg.MaxInFlight != 64 {
		t.Fatalf("expected fallback max in flight 64, got %d", cfg.MaxInFlight)
	}
	if cfg.RateLimitRPS != 10 {
		t.Fatalf("expected fallback rate limit 10, got %v", cfg.RateLimitRPS)
	}
	if cfg.AttemptTimeout != 15*time.Second {
		t.Fatalf("expected fallback attempt timeout 15s, got %v", cfg.AttemptTimeout)
	}
}
