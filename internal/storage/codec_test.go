package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"krpsim/internal/model"
)

func TestDecodeRunFixture(t *testing.T) {
	data := readFixture(t, "run_v1.json")
	run, err := DecodeRun(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if run.ID != "6f1c2a0e-8d0b-4c1e-9a55-0b3f4f6d2a11" || run.Target != "client_content" {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.Horizon != 10000 || run.Islands != 4 {
		t.Fatalf("unexpected run config: %+v", run)
	}
}

func TestDecodeGenomeFixture(t *testing.T) {
	data := readFixture(t, "best_genome_v1.json")
	genome, err := DecodeGenome(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if genome.Divider != 3 || len(genome.Genes) != 3 {
		t.Fatalf("unexpected genome: %+v", genome)
	}
	if genome.Genes[1].Process != "build_product" || genome.Genes[1].Key != 0.25 {
		t.Fatalf("unexpected gene: %+v", genome.Genes[1])
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	run := sampleRun("run-1", "")
	run.SchemaVersion = CurrentSchemaVersion + 1
	data, err := EncodeRun(run)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeRun(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}

	genome := sampleGenome("run-1")
	genome.VersionedRecord = model.VersionedRecord{}
	data, err = EncodeGenome(genome)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeGenome(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := DecodeRun([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := DecodeFitnessHistory([]byte(`["a"]`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(fixturePath(name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

func fixturePath(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", name)
}
