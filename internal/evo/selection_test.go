package evo

import (
	"math/rand"
	"testing"

	"krpsim/internal/genome"
)

func rankedGenomes(n int) []genome.Genome {
	out := make([]genome.Genome, n)
	for i := range out {
		out[i] = genome.Genome{
			Genes:     []genome.Gene{{Key: float64(i) / float64(n)}},
			Divider:   1,
			Fitness:   int64(n - i),
			Evaluated: true,
		}
	}
	return out
}

func TestEliteCrossSelectorPairsEliteWithRest(t *testing.T) {
	ranked := rankedGenomes(10)
	rng := rand.New(rand.NewSource(3))
	sel := EliteCrossSelector{}

	for i := 0; i < 200; i++ {
		p1, p2, err := sel.PickParents(rng, ranked, 3)
		if err != nil {
			t.Fatalf("pick parents: %v", err)
		}
		if p1.Fitness < 8 {
			t.Fatalf("first parent must come from the elite slice, got fitness %d", p1.Fitness)
		}
		if p2.Fitness >= 8 {
			t.Fatalf("second parent must come from the non-elite slice, got fitness %d", p2.Fitness)
		}
	}
}

func TestEliteCrossSelectorWholePopulationElite(t *testing.T) {
	ranked := rankedGenomes(4)
	rng := rand.New(rand.NewSource(5))
	sel := EliteCrossSelector{}

	for i := 0; i < 100; i++ {
		p1, p2, err := sel.PickParents(rng, ranked, len(ranked))
		if err != nil {
			t.Fatalf("pick parents: %v", err)
		}
		if p1.Fitness == p2.Fitness {
			t.Fatalf("expected distinct parents, both have fitness %d", p1.Fitness)
		}
	}

	single := rankedGenomes(1)
	p1, p2, err := sel.PickParents(rng, single, 1)
	if err != nil {
		t.Fatalf("pick parents from single genome: %v", err)
	}
	if !genome.Equal(p1, p2) {
		t.Fatal("single-genome island must pair the genome with itself")
	}
}

func TestSelectorsRejectEmptyIsland(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, sel := range []Selector{EliteCrossSelector{}, TournamentSelector{}} {
		if _, _, err := sel.PickParents(rng, nil, 1); err == nil {
			t.Fatalf("%s: expected error for empty island", sel.Name())
		}
		if _, _, err := sel.PickParents(nil, rankedGenomes(3), 1); err == nil {
			t.Fatalf("%s: expected error for nil random source", sel.Name())
		}
	}
}

func TestTournamentSelectorStaysInPool(t *testing.T) {
	ranked := rankedGenomes(20)
	rng := rand.New(rand.NewSource(11))
	sel := TournamentSelector{PoolSize: 5, TournamentSize: 2}

	for i := 0; i < 100; i++ {
		p1, p2, err := sel.PickParents(rng, ranked, 2)
		if err != nil {
			t.Fatalf("pick parents: %v", err)
		}
		if p1.Fitness <= 15 || p2.Fitness <= 15 {
			t.Fatalf("parents outside top-5 pool: %d %d", p1.Fitness, p2.Fitness)
		}
	}
}

func TestSelectorFromName(t *testing.T) {
	for name, want := range map[string]string{"": "elite_cross", "elite_cross": "elite_cross", "tournament": "tournament"} {
		sel, err := SelectorFromName(name)
		if err != nil {
			t.Fatalf("selector %q: %v", name, err)
		}
		if sel.Name() != want {
			t.Fatalf("selector %q: got %s want %s", name, sel.Name(), want)
		}
	}
	if _, err := SelectorFromName("roulette"); err == nil {
		t.Fatal("expected unsupported selector error")
	}
}
