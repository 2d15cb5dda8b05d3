package storage

import (
	"context"
	"testing"

	"krpsim/internal/model"
)

func sampleRun(id, createdAt string) model.RunRecord {
	return model.RunRecord{
		VersionedRecord: CurrentVersion(),
		ID:              id,
		SpecPath:        "testdata/specs/simple.krp",
		Target:          "client_content",
		Objective:       "time",
		Processes:       3,
		Seed:            7,
		Generations:     20,
		Islands:         4,
		IslandSize:      40,
		Horizon:         10000,
		BestFitness:     1,
		CreatedAt:       createdAt,
	}
}

func sampleGenome(runID string) model.GenomeRecord {
	return model.GenomeRecord{
		VersionedRecord: CurrentVersion(),
		RunID:           runID,
		Fingerprint:     "00000000deadbeef",
		Island:          2,
		Genes: []model.GeneRecord{
			{Process: "buy_material", Key: 0.3},
			{Process: "build_product", Key: 0.2},
			{Process: "delivery", Key: 0.1, Disabled: true},
		},
		Divider:     4,
		HasDisabled: true,
		Fitness:     1,
		Order:       []string{"build_product", "buy_material"},
	}
}

// exerciseStore runs the same round trips against any backend.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	older := sampleRun("run-a", "2026-01-02T10:00:00Z")
	newer := sampleRun("run-b", "2026-01-03T10:00:00Z")
	for _, run := range []model.RunRecord{older, newer} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run %s: %v", run.ID, err)
		}
	}

	loaded, ok, err := store.GetRun(ctx, older.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok {
		t.Fatalf("expected run %s", older.ID)
	}
	if loaded.Target != older.Target || loaded.Seed != older.Seed || loaded.CreatedAt != older.CreatedAt {
		t.Fatalf("unexpected run loaded: %+v", loaded)
	}

	if _, ok, err := store.GetRun(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing run, ok=%t err=%v", ok, err)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != newer.ID || runs[1].ID != older.ID {
		t.Fatalf("expected newest first, got %+v", runs)
	}

	older.BestFitness = 3
	if err := store.SaveRun(ctx, older); err != nil {
		t.Fatalf("overwrite run: %v", err)
	}
	loaded, _, err = store.GetRun(ctx, older.ID)
	if err != nil || loaded.BestFitness != 3 {
		t.Fatalf("expected overwritten run, got %+v err=%v", loaded, err)
	}

	genome := sampleGenome(older.ID)
	if err := store.SaveBestGenome(ctx, genome); err != nil {
		t.Fatalf("save best genome: %v", err)
	}
	best, ok, err := store.GetBestGenome(ctx, older.ID)
	if err != nil {
		t.Fatalf("get best genome: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted best genome")
	}
	if best.Divider != 4 || len(best.Genes) != 3 || !best.Genes[2].Disabled || best.Order[0] != "build_product" {
		t.Fatalf("unexpected best genome: %+v", best)
	}

	history := []int64{0, 1, 1, 3}
	if err := store.SaveFitnessHistory(ctx, older.ID, history); err != nil {
		t.Fatalf("save history: %v", err)
	}
	gotHistory, ok, err := store.GetFitnessHistory(ctx, older.ID)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if !ok || len(gotHistory) != len(history) || gotHistory[3] != 3 {
		t.Fatalf("unexpected history: %v", gotHistory)
	}

	diagnostics := []model.GenerationDiagnostics{{
		Generation:           1,
		BestFitness:          3,
		MeanFitness:          1.5,
		FingerprintDiversity: 40,
		Islands:              []model.IslandDiagnostics{{Island: 0, BestFitness: 3, Threshold: 25}},
	}}
	if err := store.SaveGenerationDiagnostics(ctx, older.ID, diagnostics); err != nil {
		t.Fatalf("save diagnostics: %v", err)
	}
	gotDiagnostics, ok, err := store.GetGenerationDiagnostics(ctx, older.ID)
	if err != nil {
		t.Fatalf("get diagnostics: %v", err)
	}
	if !ok || len(gotDiagnostics) != 1 || gotDiagnostics[0].FingerprintDiversity != 40 || len(gotDiagnostics[0].Islands) != 1 {
		t.Fatalf("unexpected diagnostics: %+v", gotDiagnostics)
	}

	if _, ok, err := store.GetFitnessHistory(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing history, ok=%t err=%v", ok, err)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	exerciseStore(t, store)
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	if err := store.SaveRun(context.Background(), sampleRun("r", "")); err == nil {
		t.Fatal("expected error before init")
	}
}

func TestMemoryStoreCopiesSlices(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	history := []int64{1, 2}
	if err := store.SaveFitnessHistory(ctx, "run-1", history); err != nil {
		t.Fatalf("save history: %v", err)
	}
	history[0] = 99
	got, _, _ := store.GetFitnessHistory(ctx, "run-1")
	if got[0] != 1 {
		t.Fatalf("store must not alias caller slices, got %v", got)
	}
}
