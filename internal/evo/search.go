package evo

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/sourcegraph/conc/pool"

	"krpsim/internal/genome"
	"krpsim/internal/sim"
	"krpsim/internal/spec"
)

type Result struct {
	Best       genome.Genome
	BestIsland int
	// Final is the best genome re-simulated over the configured horizon.
	Final sim.Result

	BestByGeneration []int64
	Diagnostics      []GenerationDiagnostics
	Population       *Population
}

// Search drives a fixed number of generations over a population.
type Search struct {
	spec *spec.Spec
	cfg  Config
	rng  *rand.Rand
}

func NewSearch(s *spec.Spec, cfg Config) (*Search, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: specification is required", ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Search{
		spec: s,
		cfg:  cfg.withDefaults(),
		rng:  rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// NewPopulation seeds a population sized for the search's specification.
func (s *Search) NewPopulation() (*Population, error) {
	return NewPopulation(s.rng, s.spec.ProcessCount(), s.cfg)
}

func (s *Search) Run(ctx context.Context, pop *Population) (Result, error) {
	if pop == nil || len(pop.Islands) != s.cfg.Islands {
		return Result{}, fmt.Errorf("population mismatch: want %d islands", s.cfg.Islands)
	}
	for _, isl := range pop.Islands {
		if len(isl.Genomes) != s.cfg.IslandSize {
			return Result{}, fmt.Errorf("island %d size mismatch: got=%d want=%d", isl.ID, len(isl.Genomes), s.cfg.IslandSize)
		}
	}

	log := s.cfg.Logger
	log.Info("search started",
		"islands", s.cfg.Islands,
		"island_size", s.cfg.IslandSize,
		"generations", s.cfg.Generations,
		"horizon", s.cfg.Horizon,
		"workers", s.cfg.Workers,
	)

	bestHistory := make([]int64, 0, s.cfg.Generations)
	diagnostics := make([]GenerationDiagnostics, 0, s.cfg.Generations)
	processCount := s.spec.ProcessCount()

	for gen := 0; gen < s.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		evaluated, err := s.evaluate(ctx, pop)
		if err != nil {
			return Result{}, err
		}

		diag := summarizeGeneration(pop, gen+1, evaluated)

		// Every island's current best is captured before any island breeds.
		migrants := make([]genome.Genome, 0, len(pop.Islands))
		for i, isl := range pop.Islands {
			isl.rank(s.cfg.StagnationStart)
			migrants = append(migrants, isl.Genomes[0].Clone())
			diag.Islands[i].BestFitness = isl.Genomes[0].Fitness
		}

		globalBest, _, _ := pop.Best()
		bestHistory = append(bestHistory, globalBest.Fitness)

		if gen+1 < s.cfg.Generations {
			last := len(pop.Islands) - 1
			for i, isl := range pop.Islands {
				var in []genome.Genome
				if i == last {
					in = migrants
				}
				stats, err := isl.breed(s.rng, processCount, s.cfg, in)
				if err != nil {
					return Result{}, err
				}
				if stats.Reset {
					diag.Resets++
					diag.Islands[i].Reset = true
					log.Debug("island reset", "generation", gen+1, "island", i, "threshold", isl.Threshold)
				}
				diag.Migrants += stats.Migrants
				diag.Fallbacks += stats.Fallbacks
			}
		}
		for i, isl := range pop.Islands {
			diag.Islands[i].BestEver = isl.BestFitness
			diag.Islands[i].SinceImprovement = isl.SinceImprovement
			diag.Islands[i].Threshold = isl.Threshold
		}

		diagnostics = append(diagnostics, diag)
		s.cfg.Observer.GenerationDone(diag)
		log.Debug("generation done",
			"generation", diag.Generation,
			"best", diag.BestFitness,
			"mean", diag.MeanFitness,
			"best_ever", globalBest.Fitness,
		)
	}

	best, island, ok := pop.Best()
	if !ok {
		return Result{}, fmt.Errorf("search produced no evaluated genome")
	}
	final := sim.Evaluate(s.spec, best, s.cfg.Horizon)
	log.Info("search finished", "best_fitness", best.Fitness, "island", island, "time", final.Time)

	return Result{
		Best:             best,
		BestIsland:       island,
		Final:            final,
		BestByGeneration: bestHistory,
		Diagnostics:      diagnostics,
		Population:       pop,
	}, nil
}

// evaluate scores every unevaluated genome in place. Each task owns exactly
// one genome slot; the shared Spec is only read.
func (s *Search) evaluate(ctx context.Context, pop *Population) (int, error) {
	p := pool.New().WithMaxGoroutines(s.cfg.Workers).WithContext(ctx)
	count := 0
	for _, isl := range pop.Islands {
		for i := range isl.Genomes {
			g := &isl.Genomes[i]
			if g.Evaluated {
				continue
			}
			count++
			p.Go(func(ctx context.Context) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				res := sim.Evaluate(s.spec, *g, s.cfg.Horizon)
				g.Fitness = res.Fitness
				g.Evaluated = true
				return nil
			})
		}
	}
	if err := p.Wait(); err != nil {
		return 0, err
	}
	return count, nil
}

func summarizeGeneration(pop *Population, generation, evaluated int) GenerationDiagnostics {
	diag := GenerationDiagnostics{
		Generation: generation,
		Evaluated:  evaluated,
		Islands:    make([]IslandDiagnostics, len(pop.Islands)),
	}
	seen := genome.NewSet()
	var total float64
	n := 0
	for i, isl := range pop.Islands {
		diag.Islands[i].Island = isl.ID
		for _, g := range isl.Genomes {
			if n == 0 || g.Fitness > diag.BestFitness {
				diag.BestFitness = g.Fitness
			}
			if n == 0 || g.Fitness < diag.MinFitness {
				diag.MinFitness = g.Fitness
			}
			total += float64(g.Fitness)
			seen.Add(g)
			n++
		}
	}
	if n > 0 {
		diag.MeanFitness = total / float64(n)
	}
	diag.FingerprintDiversity = seen.Len()
	return diag
}
