package genome

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"

	"github.com/cespare/xxhash/v2"
)

// KeyPrecision is the number of decimal digits priority keys are rounded to
// when genomes are compared or fingerprinted.
const KeyPrecision = 6

var keyScale = math.Pow10(KeyPrecision)

// Origin records how a genome entered its island.
type Origin string

const (
	OriginSeed      Origin = "seed"
	OriginElite     Origin = "elite"
	OriginCrossover Origin = "crossover"
	OriginMutation  Origin = "mutation"
	OriginMigrant   Origin = "migrant"
	OriginRandom    Origin = "random"
	OriginReset     Origin = "reset"
)

// Gene is the per-process policy entry. A disabled gene never starts its
// process; its key is kept so crossover can carry it around.
type Gene struct {
	Key      float64 `json:"key"`
	Disabled bool    `json:"disabled,omitempty"`
}

type Genome struct {
	Genes       []Gene `json:"genes"`
	Divider     int    `json:"divider"`
	HasDisabled bool   `json:"has_disabled"`
	Fitness     int64  `json:"fitness"`
	Evaluated   bool   `json:"evaluated"`
	Origin      Origin `json:"origin,omitempty"`
}

// Params bounds random generation and variation.
type Params struct {
	// DividerMax is the exclusive upper bound of generated dividers.
	DividerMax      int
	HeadProbability float64
	MutationRate    float64
}

func DefaultParams() Params {
	return Params{
		DividerMax:      500,
		HeadProbability: 0.7,
		MutationRate:    0.03,
	}
}

func (p Params) Validate() error {
	if p.DividerMax < 2 {
		return fmt.Errorf("divider max must be >= 2, got %d", p.DividerMax)
	}
	if p.HeadProbability < 0 || p.HeadProbability > 1 {
		return fmt.Errorf("head probability must be in [0, 1], got %f", p.HeadProbability)
	}
	if p.MutationRate < 0 || p.MutationRate > 1 {
		return fmt.Errorf("mutation rate must be in [0, 1], got %f", p.MutationRate)
	}
	return nil
}

func (g Genome) Clone() Genome {
	out := g
	out.Genes = append([]Gene(nil), g.Genes...)
	return out
}

// Invalidate clears the fitness so the genome is evaluated again.
func (g *Genome) Invalidate() {
	g.Fitness = 0
	g.Evaluated = false
}

func Random(rng *rand.Rand, n int, p Params) Genome {
	genes := make([]Gene, n)
	for i := range genes {
		genes[i] = Gene{Key: rng.Float64()}
	}
	hasDisabled := disableRandom(rng, genes)
	return Genome{
		Genes:       genes,
		Divider:     randomDivider(rng, p.DividerMax),
		HasDisabled: hasDisabled,
		Origin:      OriginRandom,
	}
}

// disableRandom flips a coin and, on heads, disables a random count of random
// positions (drawn with replacement).
func disableRandom(rng *rand.Rand, genes []Gene) bool {
	if len(genes) == 0 || rng.Float64() <= 0.5 {
		return false
	}
	count := rng.Intn(len(genes) + 1)
	for i := 0; i < count; i++ {
		genes[rng.Intn(len(genes))].Disabled = true
	}
	return true
}

func randomDivider(rng *rand.Rand, max int) int {
	if max < 2 {
		return 1
	}
	return 1 + rng.Intn(max-1)
}

// Crossover builds a child gene by gene: each position comes from p1 with
// the head probability and from p2 otherwise.
func Crossover(rng *rand.Rand, p1, p2 Genome, p Params) Genome {
	genes := make([]Gene, len(p1.Genes))
	for i := range genes {
		if rng.Float64() < p.HeadProbability || i >= len(p2.Genes) {
			genes[i] = p1.Genes[i]
		} else {
			genes[i] = p2.Genes[i]
		}
	}
	divider := p1.Divider
	if rng.Float64() >= p.HeadProbability {
		divider = p2.Divider
	}
	if divider < 1 {
		divider = 1
	}
	return Genome{
		Genes:       genes,
		Divider:     divider,
		HasDisabled: p1.HasDisabled,
		Origin:      OriginCrossover,
	}
}

// Mutate swaps two random genes with the configured probability and reports
// whether it did.
func Mutate(rng *rand.Rand, g *Genome, p Params) bool {
	if len(g.Genes) < 2 || rng.Float64() >= p.MutationRate {
		return false
	}
	i := rng.Intn(len(g.Genes))
	j := rng.Intn(len(g.Genes))
	g.Genes[i], g.Genes[j] = g.Genes[j], g.Genes[i]
	g.Origin = OriginMutation
	g.Invalidate()
	return true
}

func quantize(key float64) int64 {
	return int64(math.Round(key * keyScale))
}

// Equal compares genomes the way deduplication does: divider, the disabled
// marker and every gene with its key rounded to KeyPrecision digits.
func Equal(a, b Genome) bool {
	if a.Divider != b.Divider || a.HasDisabled != b.HasDisabled || len(a.Genes) != len(b.Genes) {
		return false
	}
	for i := range a.Genes {
		if a.Genes[i].Disabled != b.Genes[i].Disabled {
			return false
		}
		if quantize(a.Genes[i].Key) != quantize(b.Genes[i].Key) {
			return false
		}
	}
	return true
}

// Fingerprint hashes exactly the fields Equal looks at, so equal genomes
// always share a fingerprint.
func Fingerprint(g Genome) uint64 {
	h := xxhash.New()
	var buf [8]byte
	write := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	write(uint64(g.Divider))
	if g.HasDisabled {
		write(1)
	} else {
		write(0)
	}
	write(uint64(len(g.Genes)))
	for _, gene := range g.Genes {
		if gene.Disabled {
			write(1)
		} else {
			write(0)
		}
		write(uint64(quantize(gene.Key)))
	}
	return h.Sum64()
}

// FingerprintHex is the printable form of Fingerprint.
func FingerprintHex(g Genome) string {
	return fmt.Sprintf("%016x", Fingerprint(g))
}

// Set deduplicates genomes by fingerprint, confirming hits with Equal.
type Set struct {
	buckets map[uint64][]Genome
	size    int
}

func NewSet() *Set {
	return &Set{buckets: make(map[uint64][]Genome)}
}

func (s *Set) Contains(g Genome) bool {
	for _, other := range s.buckets[Fingerprint(g)] {
		if Equal(g, other) {
			return true
		}
	}
	return false
}

// Add inserts g and reports whether it was new.
func (s *Set) Add(g Genome) bool {
	fp := Fingerprint(g)
	for _, other := range s.buckets[fp] {
		if Equal(g, other) {
			return false
		}
	}
	s.buckets[fp] = append(s.buckets[fp], g)
	s.size++
	return true
}

func (s *Set) Len() int { return s.size }
