package evo

import (
	"math/rand"
	"testing"

	"krpsim/internal/genome"
)

func islandConfig(size int) Config {
	cfg := DefaultConfig()
	cfg.Islands = 2
	cfg.IslandSize = size
	cfg.Generations = 1
	return cfg.withDefaults()
}

func evaluatedRandom(rng *rand.Rand, n int, fitness int64) genome.Genome {
	g := genome.Random(rng, n, genome.DefaultParams())
	g.Fitness = fitness
	g.Evaluated = true
	return g
}

func TestSlots(t *testing.T) {
	cases := []struct {
		size, elite, survivors int
	}{
		{size: 40, elite: 4, survivors: 24},
		{size: 10, elite: 1, survivors: 6},
		{size: 5, elite: 1, survivors: 3},
		{size: 1, elite: 1, survivors: 1},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		cfg.IslandSize = tc.size
		elite, survivors := cfg.slots()
		if elite != tc.elite || survivors != tc.survivors {
			t.Fatalf("size %d: got elite=%d survivors=%d want %d/%d", tc.size, elite, survivors, tc.elite, tc.survivors)
		}
	}
}

func TestNewPopulationShape(t *testing.T) {
	cfg := islandConfig(7)
	pop, err := NewPopulation(rand.New(rand.NewSource(1)), 5, cfg)
	if err != nil {
		t.Fatalf("new population: %v", err)
	}
	if len(pop.Islands) != 2 || pop.Size() != 14 {
		t.Fatalf("unexpected population shape: islands=%d size=%d", len(pop.Islands), pop.Size())
	}
	for _, isl := range pop.Islands {
		if isl.Threshold != cfg.StagnationStart {
			t.Fatalf("island %d threshold=%d want %d", isl.ID, isl.Threshold, cfg.StagnationStart)
		}
		for _, g := range isl.Genomes {
			if len(g.Genes) != 5 || g.Evaluated || g.Divider < 1 {
				t.Fatalf("bad seed genome: %+v", g)
			}
		}
	}

	if _, err := NewPopulation(rand.New(rand.NewSource(1)), 0, cfg); err == nil {
		t.Fatal("expected error for zero processes")
	}
}

func TestRankTracksImprovement(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	isl := &Island{Threshold: 25}
	isl.Genomes = []genome.Genome{evaluatedRandom(rng, 3, 1), evaluatedRandom(rng, 3, 7), evaluatedRandom(rng, 3, 4)}

	if !isl.rank(25) {
		t.Fatal("first ranking must record a best genome")
	}
	if isl.Genomes[0].Fitness != 7 || isl.BestFitness != 7 {
		t.Fatalf("expected best 7, got head=%d best=%d", isl.Genomes[0].Fitness, isl.BestFitness)
	}

	isl.Threshold = 100
	if isl.rank(25) {
		t.Fatal("equal fitness is not an improvement")
	}
	if isl.SinceImprovement != 1 || isl.Threshold != 100 {
		t.Fatalf("stagnation counter=%d threshold=%d", isl.SinceImprovement, isl.Threshold)
	}

	isl.Genomes[2].Fitness = 9
	if !isl.rank(25) {
		t.Fatal("expected improvement")
	}
	if isl.SinceImprovement != 0 || isl.Threshold != 25 {
		t.Fatalf("improvement must reset counters, got since=%d threshold=%d", isl.SinceImprovement, isl.Threshold)
	}
}

func TestBreedStagnationReset(t *testing.T) {
	cfg := islandConfig(8)
	rng := rand.New(rand.NewSource(4))
	isl := &Island{}
	for i := 0; i < cfg.IslandSize; i++ {
		isl.Genomes = append(isl.Genomes, evaluatedRandom(rng, 4, int64(10-i)))
	}
	isl.rank(cfg.StagnationStart)
	best := isl.Best
	isl.Threshold = 300
	isl.SinceImprovement = isl.Threshold + 1

	stats, err := isl.breed(rng, 4, cfg, nil)
	if err != nil {
		t.Fatalf("breed: %v", err)
	}
	if !stats.Reset {
		t.Fatal("expected reset")
	}
	if len(isl.Genomes) != cfg.IslandSize {
		t.Fatalf("island size changed: %d", len(isl.Genomes))
	}
	if !genome.Equal(isl.Genomes[0], best) {
		t.Fatal("reset must keep the best genome")
	}
	for _, g := range isl.Genomes[1:] {
		if g.Evaluated {
			t.Fatal("refilled genomes must be unevaluated")
		}
	}
	if isl.Threshold != cfg.StagnationMax {
		t.Fatalf("threshold must be capped at %d, got %d", cfg.StagnationMax, isl.Threshold)
	}
	if isl.SinceImprovement != 0 || isl.Resets != 1 {
		t.Fatalf("since=%d resets=%d", isl.SinceImprovement, isl.Resets)
	}
}

func TestBreedStagnationThresholdDoubles(t *testing.T) {
	cfg := islandConfig(4)
	rng := rand.New(rand.NewSource(6))
	isl := &Island{Threshold: cfg.StagnationStart}
	for i := 0; i < cfg.IslandSize; i++ {
		isl.Genomes = append(isl.Genomes, evaluatedRandom(rng, 3, 1))
	}
	isl.rank(cfg.StagnationStart)

	isl.SinceImprovement = cfg.StagnationStart
	if stats, _ := isl.breed(rng, 3, cfg, nil); stats.Reset {
		t.Fatal("counter equal to the threshold must not reset")
	}
	isl.SinceImprovement = cfg.StagnationStart + 1
	if stats, _ := isl.breed(rng, 3, cfg, nil); !stats.Reset {
		t.Fatal("expected reset past the threshold")
	}
	if isl.Threshold != 2*cfg.StagnationStart {
		t.Fatalf("threshold=%d want %d", isl.Threshold, 2*cfg.StagnationStart)
	}
}

func TestBreedNormalGeneration(t *testing.T) {
	cfg := islandConfig(10)
	rng := rand.New(rand.NewSource(8))
	isl := &Island{Threshold: cfg.StagnationStart}
	for i := 0; i < cfg.IslandSize; i++ {
		isl.Genomes = append(isl.Genomes, evaluatedRandom(rng, 6, int64(i)))
	}
	isl.rank(cfg.StagnationStart)
	top := isl.Genomes[0]

	stats, err := isl.breed(rng, 6, cfg, nil)
	if err != nil {
		t.Fatalf("breed: %v", err)
	}
	if stats.Reset || stats.Migrants != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(isl.Genomes) != cfg.IslandSize {
		t.Fatalf("island size changed: %d", len(isl.Genomes))
	}
	if !genome.Equal(isl.Genomes[0], top) || isl.Genomes[0].Origin != genome.OriginElite {
		t.Fatal("elite must be carried first")
	}
	_, survivors := cfg.slots()
	if stats.Children != survivors-1 {
		t.Fatalf("children=%d want %d", stats.Children, survivors-1)
	}
	if stats.Random != cfg.IslandSize-survivors {
		t.Fatalf("random=%d want %d", stats.Random, cfg.IslandSize-survivors)
	}

	set := genome.NewSet()
	for _, g := range isl.Genomes {
		set.Add(g)
	}
	if set.Len() != cfg.IslandSize {
		t.Fatalf("expected %d distinct genomes, got %d", cfg.IslandSize, set.Len())
	}
}

func TestBreedMigrationDedup(t *testing.T) {
	cfg := islandConfig(10)
	rng := rand.New(rand.NewSource(12))
	isl := &Island{Threshold: cfg.StagnationStart}
	for i := 0; i < cfg.IslandSize; i++ {
		isl.Genomes = append(isl.Genomes, evaluatedRandom(rng, 5, int64(i)))
	}
	isl.rank(cfg.StagnationStart)

	// the first migrant is this island's own best and must be skipped
	migrants := []genome.Genome{isl.Genomes[0].Clone(), evaluatedRandom(rng, 5, 50), evaluatedRandom(rng, 5, 60)}
	stats, err := isl.breed(rng, 5, cfg, migrants)
	if err != nil {
		t.Fatalf("breed: %v", err)
	}
	if stats.Migrants != 2 {
		t.Fatalf("migrants=%d want 2", stats.Migrants)
	}
	found := 0
	for _, g := range isl.Genomes {
		if g.Origin == genome.OriginMigrant {
			found++
			if !g.Evaluated {
				t.Fatal("migrants keep their fitness")
			}
		}
	}
	if found != 2 {
		t.Fatalf("expected 2 migrant genomes, got %d", found)
	}
	if len(isl.Genomes) != cfg.IslandSize {
		t.Fatalf("island size changed: %d", len(isl.Genomes))
	}
}

func TestPopulationBestPrefersLowerIsland(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	a := evaluatedRandom(rng, 2, 5)
	b := evaluatedRandom(rng, 2, 5)
	pop := &Population{Islands: []*Island{
		{ID: 0, Best: a, BestFitness: 5, HasBest: true},
		{ID: 1, Best: b, BestFitness: 5, HasBest: true},
		{ID: 2},
	}}
	best, island, ok := pop.Best()
	if !ok || island != 0 || !genome.Equal(best, a) {
		t.Fatalf("expected island 0 to win the tie, got island %d", island)
	}
}
