package main

import (
	"testing"

	"github.com/kingrea/autopilot/internal/assignment"
	"github.com/kingrea/autopilot/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func TestProviderCapacitiesConvertsProviderType(t *testing.T) {
	cfg := testConfig(t)
	got := providerCapacities(cfg)
	if got[assignment.ProviderClaude] != 2 {
		t.Fatalf("expected default claude capacity 2, got %d", got[assignment.ProviderClaude])
	}
}

func TestProviderPreferenceOrderIsDeterministic(t *testing.T) {
	cfg := testConfig(t)
	first := providerPreferenceOrder(cfg)
	second := providerPreferenceOrder(cfg)
	if len(first) != len(second) {
		t.Fatalf("expected stable length, got %d then %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("expected deterministic order, got %v then %v", first, second)
		}
	}
	if len(first) == 0 {
		t.Fatal("expected at least one configured provider")
	}
}
