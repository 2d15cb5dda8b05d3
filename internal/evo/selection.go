package evo

import (
	"fmt"
	"math/rand"

	"krpsim/internal/genome"
)

// Selector chooses two parents from an island ranked by descending fitness.
type Selector interface {
	Name() string
	PickParents(rng *rand.Rand, ranked []genome.Genome, eliteCount int) (genome.Genome, genome.Genome, error)
}

// EliteCrossSelector pairs a uniform pick from the elite slice with a uniform
// pick from the rest of the island. When the elite slice is the whole island
// it picks two distinct indices instead.
type EliteCrossSelector struct{}

func (EliteCrossSelector) Name() string {
	return "elite_cross"
}

func (EliteCrossSelector) PickParents(rng *rand.Rand, ranked []genome.Genome, eliteCount int) (genome.Genome, genome.Genome, error) {
	if rng == nil {
		return genome.Genome{}, genome.Genome{}, fmt.Errorf("random source is required")
	}
	n := len(ranked)
	if n == 0 {
		return genome.Genome{}, genome.Genome{}, fmt.Errorf("cannot select from an empty island")
	}
	ec := clamp(eliteCount, 1, n)

	i := rng.Intn(ec)
	if ec < n {
		j := ec + rng.Intn(n-ec)
		return ranked[i], ranked[j], nil
	}
	if n == 1 {
		return ranked[0], ranked[0], nil
	}
	j := rng.Intn(n)
	if j == i {
		j = (j + 1) % n
	}
	return ranked[i], ranked[j], nil
}

// TournamentSelector runs two independent tournaments over the top PoolSize
// genomes and returns both winners.
type TournamentSelector struct {
	PoolSize       int
	TournamentSize int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) PickParents(rng *rand.Rand, ranked []genome.Genome, eliteCount int) (genome.Genome, genome.Genome, error) {
	if rng == nil {
		return genome.Genome{}, genome.Genome{}, fmt.Errorf("random source is required")
	}
	if len(ranked) == 0 {
		return genome.Genome{}, genome.Genome{}, fmt.Errorf("cannot select from an empty island")
	}
	ec := clamp(eliteCount, 1, len(ranked))

	poolSize := s.PoolSize
	if poolSize <= 0 {
		poolSize = ec * 2
	}
	poolSize = clamp(poolSize, ec, len(ranked))

	tournamentSize := s.TournamentSize
	if tournamentSize <= 0 {
		tournamentSize = 3
	}
	if tournamentSize > poolSize {
		tournamentSize = poolSize
	}

	pick := func() genome.Genome {
		best := ranked[rng.Intn(poolSize)]
		for i := 1; i < tournamentSize; i++ {
			candidate := ranked[rng.Intn(poolSize)]
			if candidate.Fitness > best.Fitness {
				best = candidate
			}
		}
		return best
	}
	return pick(), pick(), nil
}

func SelectorFromName(name string) (Selector, error) {
	switch name {
	case "", "elite_cross":
		return EliteCrossSelector{}, nil
	case "tournament":
		return TournamentSelector{}, nil
	default:
		return nil, fmt.Errorf("unsupported selection strategy: %s", name)
	}
}
