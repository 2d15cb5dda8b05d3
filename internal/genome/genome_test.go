package genome

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandomGenomeBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	p := DefaultParams()
	sawDisabled := false
	for i := 0; i < 200; i++ {
		g := Random(rng, 12, p)
		require.Len(t, g.Genes, 12)
		require.GreaterOrEqual(t, g.Divider, 1)
		require.Less(t, g.Divider, p.DividerMax)
		require.False(t, g.Evaluated)
		for _, gene := range g.Genes {
			require.GreaterOrEqual(t, gene.Key, 0.0)
			require.Less(t, gene.Key, 1.0)
			if gene.Disabled {
				require.True(t, g.HasDisabled, "disabled gene without marker")
				sawDisabled = true
			}
		}
	}
	require.True(t, sawDisabled)
}

func TestRandomIsReproducible(t *testing.T) {
	a := Random(rand.New(rand.NewSource(3)), 8, DefaultParams())
	b := Random(rand.New(rand.NewSource(3)), 8, DefaultParams())
	require.Equal(t, a, b)
}

func TestCrossoverTakesGenesFromParents(t *testing.T) {
	p1 := Genome{Genes: []Gene{{Key: 0.1}, {Key: 0.2}, {Key: 0.3, Disabled: true}}, Divider: 3, HasDisabled: true}
	p2 := Genome{Genes: []Gene{{Key: 0.7}, {Key: 0.8}, {Key: 0.9}}, Divider: 9}

	rng := rand.New(rand.NewSource(11))
	params := DefaultParams()
	for i := 0; i < 100; i++ {
		child := Crossover(rng, p1, p2, params)
		require.Len(t, child.Genes, 3)
		for pos, gene := range child.Genes {
			require.True(t, gene == p1.Genes[pos] || gene == p2.Genes[pos])
		}
		require.Contains(t, []int{3, 9}, child.Divider)
		require.True(t, child.HasDisabled, "disabled marker comes from the first parent")
		require.Equal(t, OriginCrossover, child.Origin)
	}
}

func TestCrossoverHeadProbabilityExtremes(t *testing.T) {
	p1 := Genome{Genes: []Gene{{Key: 0.1}, {Key: 0.2}}, Divider: 2}
	p2 := Genome{Genes: []Gene{{Key: 0.7}, {Key: 0.8}}, Divider: 5}
	rng := rand.New(rand.NewSource(1))

	allHead := Crossover(rng, p1, p2, Params{DividerMax: 10, HeadProbability: 1})
	require.Equal(t, p1.Genes, allHead.Genes)
	require.Equal(t, 2, allHead.Divider)

	allTail := Crossover(rng, p1, p2, Params{DividerMax: 10, HeadProbability: 0})
	require.Equal(t, p2.Genes, allTail.Genes)
	require.Equal(t, 5, allTail.Divider)
}

func TestMutateSwapsTwoGenes(t *testing.T) {
	g := Genome{Genes: []Gene{{Key: 0.1}, {Key: 0.2}, {Key: 0.3}, {Key: 0.4}}, Divider: 1, Evaluated: true, Fitness: 9}
	before := g.Clone()

	mutated := Mutate(rand.New(rand.NewSource(5)), &g, Params{DividerMax: 10, MutationRate: 1})
	require.True(t, mutated)
	require.False(t, g.Evaluated)
	require.ElementsMatch(t, before.Genes, g.Genes)

	untouched := before.Clone()
	require.False(t, Mutate(rand.New(rand.NewSource(5)), &untouched, Params{DividerMax: 10, MutationRate: 0}))
	require.Equal(t, before.Genes, untouched.Genes)
}

func TestQuantizedEquality(t *testing.T) {
	base := Genome{Genes: []Gene{{Key: 0.1234561}, {Key: 0.5}}, Divider: 4}

	near := base.Clone()
	near.Genes[0].Key = 0.1234562
	require.True(t, Equal(base, near))
	require.Equal(t, Fingerprint(base), Fingerprint(near))

	far := base.Clone()
	far.Genes[0].Key = 0.1234601
	require.False(t, Equal(base, far))

	// Equality follows the rounded digits, so keys straddling a rounding
	// boundary differ however close they are.
	below := base.Clone()
	below.Genes[0].Key = 0.1234564999
	above := base.Clone()
	above.Genes[0].Key = 0.1234565001
	require.False(t, Equal(below, above))

	otherDivider := base.Clone()
	otherDivider.Divider = 5
	require.False(t, Equal(base, otherDivider))

	disabled := base.Clone()
	disabled.Genes[1].Disabled = true
	require.False(t, Equal(base, disabled))

	marker := base.Clone()
	marker.HasDisabled = true
	require.False(t, Equal(base, marker))
}

func TestEqualIgnoresFitness(t *testing.T) {
	a := Genome{Genes: []Gene{{Key: 0.3}}, Divider: 2, Fitness: 10, Evaluated: true}
	b := Genome{Genes: []Gene{{Key: 0.3}}, Divider: 2}
	require.True(t, Equal(a, b))
	require.Equal(t, FingerprintHex(a), FingerprintHex(b))
}

func TestSetDeduplicates(t *testing.T) {
	s := NewSet()
	a := Genome{Genes: []Gene{{Key: 0.25}}, Divider: 2}
	b := Genome{Genes: []Gene{{Key: 0.2500001}}, Divider: 2}
	c := Genome{Genes: []Gene{{Key: 0.75}}, Divider: 2}

	require.True(t, s.Add(a))
	require.False(t, s.Add(b))
	require.True(t, s.Contains(b))
	require.True(t, s.Add(c))
	require.Equal(t, 2, s.Len())
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
	require.Error(t, Params{DividerMax: 1, HeadProbability: 0.5}.Validate())
	require.Error(t, Params{DividerMax: 10, HeadProbability: 1.5}.Validate())
	require.Error(t, Params{DividerMax: 10, HeadProbability: 0.5, MutationRate: -1}.Validate())
}
