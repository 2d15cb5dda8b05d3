package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.toml")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRunSettingsKeepsDefaultsForMissingKeys(t *testing.T) {
	path := writeConfig(t, `
spec = "factory.krp"
store = "memory"

[search]
generations = 12
islands = 3
mutation_rate = 0.2
selection = "tournament"
seed = 99
`)

	settings, err := loadRunSettings(path)
	if err != nil {
		t.Fatalf("load run settings: %v", err)
	}
	defaults := defaultRunSettings()
	req := settings.Request
	if req.SpecPath != "factory.krp" || settings.Store != "memory" {
		t.Fatalf("unexpected top-level fields: %+v", settings)
	}
	if req.Generations != 12 || req.Islands != 3 || req.MutationRate != 0.2 || req.Selection != "tournament" || req.Seed != 99 {
		t.Fatalf("unexpected search fields: %+v", req)
	}
	if req.IslandSize != defaults.Request.IslandSize || req.Horizon != defaults.Request.Horizon {
		t.Fatalf("expected defaults for unset keys, got island_size=%d horizon=%d", req.IslandSize, req.Horizon)
	}
	if settings.DBPath != defaultDBPath || settings.ArtifactsDir != defaultArtifactsDir {
		t.Fatalf("expected default paths, got %+v", settings)
	}
}

func TestLoadRunSettingsRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[search]
generations = 5
population = 10
`)

	_, err := loadRunSettings(path)
	if err == nil {
		t.Fatal("expected unknown key error")
	}
	if !strings.Contains(err.Error(), "search.population") {
		t.Fatalf("expected offending key in error, got %v", err)
	}
}

func TestLoadRunSettingsRejectsBadSyntax(t *testing.T) {
	path := writeConfig(t, "[search\ngenerations = 5\n")
	if _, err := loadRunSettings(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestOverrideFromFlagsOnlyAppliesVisitedFlags(t *testing.T) {
	path := writeConfig(t, `
store = "memory"
[search]
generations = 12
seed = 99
`)
	settings, err := loadRunSettings(path)
	if err != nil {
		t.Fatalf("load run settings: %v", err)
	}

	values := map[string]any{
		"store":   "sqlite",
		"gens":    200,
		"seed":    int64(7),
		"horizon": int64(50),
	}
	set := map[string]bool{"seed": true, "horizon": true, "config": true}
	if err := overrideFromFlags(&settings, set, values); err != nil {
		t.Fatalf("override: %v", err)
	}
	if settings.Store != "memory" || settings.Request.Generations != 12 {
		t.Fatalf("unvisited flags must not override config: %+v", settings)
	}
	if settings.Request.Seed != 7 || settings.Request.Horizon != 50 {
		t.Fatalf("visited flags must override config: %+v", settings.Request)
	}
}

func TestOverrideFromFlagsRejectsUnknownFlag(t *testing.T) {
	settings := defaultRunSettings()
	err := overrideFromFlags(&settings, map[string]bool{"pop": true}, map[string]any{"pop": 10})
	if err == nil {
		t.Fatal("expected unsupported override error")
	}
}

func TestLoadOrDefaultRunSettingsWithoutPath(t *testing.T) {
	settings, err := loadOrDefaultRunSettings("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if settings.Request.Generations != 200 || settings.Request.Islands != 4 || settings.Request.IslandSize != 40 {
		t.Fatalf("unexpected defaults: %+v", settings.Request)
	}
	if settings.Store != "sqlite" {
		t.Fatalf("expected sqlite default store, got %q", settings.Store)
	}
}
