package evo

import (
	"fmt"
	"math/rand"
	"sort"

	"krpsim/internal/genome"
)

// Island is an independently evolving sub-population.
type Island struct {
	ID      int
	Genomes []genome.Genome

	Best        genome.Genome
	BestFitness int64
	HasBest     bool

	SinceImprovement int
	Threshold        int
	Resets           int
}

// Population is the full set of islands of a run. Its total size stays
// constant across generations.
type Population struct {
	Islands []*Island
}

// NewPopulation seeds cfg.Islands islands of cfg.IslandSize random genomes
// sized for processCount processes.
func NewPopulation(rng *rand.Rand, processCount int, cfg Config) (*Population, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if processCount <= 0 {
		return nil, fmt.Errorf("process count must be > 0")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	pop := &Population{Islands: make([]*Island, cfg.Islands)}
	for i := range pop.Islands {
		isl := &Island{
			ID:        i,
			Genomes:   make([]genome.Genome, cfg.IslandSize),
			Threshold: cfg.StagnationStart,
		}
		for j := range isl.Genomes {
			g := genome.Random(rng, processCount, cfg.Genome)
			g.Origin = genome.OriginSeed
			isl.Genomes[j] = g
		}
		pop.Islands[i] = isl
	}
	return pop, nil
}

func (p *Population) Size() int {
	n := 0
	for _, isl := range p.Islands {
		n += len(isl.Genomes)
	}
	return n
}

// Best returns the best-ever genome across islands; ties go to the lower
// island index.
func (p *Population) Best() (genome.Genome, int, bool) {
	bestIdx := -1
	for i, isl := range p.Islands {
		if !isl.HasBest {
			continue
		}
		if bestIdx < 0 || isl.BestFitness > p.Islands[bestIdx].BestFitness {
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return genome.Genome{}, -1, false
	}
	return p.Islands[bestIdx].Best.Clone(), bestIdx, true
}

// rank sorts the island by descending fitness and records improvement of the
// best-ever genome. It must run after every genome has been evaluated.
func (isl *Island) rank(startThreshold int) bool {
	sort.SliceStable(isl.Genomes, func(i, j int) bool {
		return isl.Genomes[i].Fitness > isl.Genomes[j].Fitness
	})
	if len(isl.Genomes) == 0 {
		return false
	}
	top := isl.Genomes[0]
	if !isl.HasBest || top.Fitness > isl.BestFitness {
		isl.Best = top.Clone()
		isl.BestFitness = top.Fitness
		isl.HasBest = true
		isl.SinceImprovement = 0
		isl.Threshold = startThreshold
		return true
	}
	isl.SinceImprovement++
	return false
}

type breedStats struct {
	Reset     bool
	Migrants  int
	Children  int
	Random    int
	Fallbacks int
}

// breed replaces the island's genomes with the next generation. The island
// must be ranked. migrants is non-nil only for the island that receives
// every island's current best.
func (isl *Island) breed(rng *rand.Rand, processCount int, cfg Config, migrants []genome.Genome) (breedStats, error) {
	size := cfg.IslandSize
	var stats breedStats

	if isl.SinceImprovement > isl.Threshold {
		next := make([]genome.Genome, 0, size)
		if isl.HasBest {
			best := isl.Best.Clone()
			best.Origin = genome.OriginReset
			next = append(next, best)
		}
		for len(next) < size {
			g := genome.Random(rng, processCount, cfg.Genome)
			g.Origin = genome.OriginReset
			next = append(next, g)
			stats.Random++
		}
		isl.Threshold = min(isl.Threshold*2, cfg.StagnationMax)
		isl.SinceImprovement = 0
		isl.Resets++
		isl.Genomes = next
		stats.Reset = true
		return stats, nil
	}

	ranked := isl.Genomes
	elite, survivors := cfg.slots()
	elite = min(elite, len(ranked))

	seen := genome.NewSet()
	next := make([]genome.Genome, 0, size)
	for _, g := range ranked[:elite] {
		if !seen.Add(g) {
			continue
		}
		c := g.Clone()
		c.Origin = genome.OriginElite
		next = append(next, c)
	}

	for _, m := range migrants {
		if len(next) >= size {
			break
		}
		if !seen.Add(m) {
			continue
		}
		c := m.Clone()
		c.Origin = genome.OriginMigrant
		next = append(next, c)
		stats.Migrants++
	}

	for len(next) < survivors {
		child, ok, err := isl.offspring(rng, ranked, elite, cfg, seen)
		if err != nil {
			return breedStats{}, err
		}
		if !ok {
			child = genome.Random(rng, processCount, cfg.Genome)
			seen.Add(child)
			stats.Fallbacks++
		}
		next = append(next, child)
		stats.Children++
	}

	for len(next) < size {
		g := genome.Random(rng, processCount, cfg.Genome)
		seen.Add(g)
		next = append(next, g)
		stats.Random++
	}

	isl.Genomes = next
	return stats, nil
}

func (isl *Island) offspring(rng *rand.Rand, ranked []genome.Genome, elite int, cfg Config, seen *genome.Set) (genome.Genome, bool, error) {
	for attempt := 0; attempt < maxChildAttempts; attempt++ {
		p1, p2, err := cfg.Selector.PickParents(rng, ranked, elite)
		if err != nil {
			return genome.Genome{}, false, fmt.Errorf("island %d: %w", isl.ID, err)
		}
		child := genome.Crossover(rng, p1, p2, cfg.Genome)
		genome.Mutate(rng, &child, cfg.Genome)
		if seen.Add(child) {
			return child, true, nil
		}
	}
	return genome.Genome{}, false, nil
}
