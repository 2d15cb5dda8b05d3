package storage

import (
	"context"

	"krpsim/internal/model"
)

// Store persists completed searches: the run summary, its best policy and
// the per-generation history.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveBestGenome(ctx context.Context, genome model.GenomeRecord) error
	GetBestGenome(ctx context.Context, runID string) (model.GenomeRecord, bool, error)
	SaveFitnessHistory(ctx context.Context, runID string, history []int64) error
	GetFitnessHistory(ctx context.Context, runID string) ([]int64, bool, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
}
