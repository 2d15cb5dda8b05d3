package evo

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"runtime"

	"krpsim/internal/genome"
	"krpsim/internal/sim"
)

// maxChildAttempts bounds crossover retries when children collide with
// genomes already placed in the next generation.
const maxChildAttempts = 8

var ErrInvalidConfig = errors.New("invalid search config")

type Config struct {
	Islands     int
	IslandSize  int
	Generations int
	Horizon     int64

	EliteFraction  float64
	CutoffFraction float64

	// StagnationStart is the initial number of generations without
	// improvement tolerated before an island is reset. It doubles after
	// every reset up to StagnationMax and returns to StagnationStart on
	// improvement.
	StagnationStart int
	StagnationMax   int

	Genome   genome.Params
	Selector Selector
	Workers  int
	Seed     int64

	Observer Observer
	Logger   *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Islands:         4,
		IslandSize:      40,
		Generations:     200,
		Horizon:         sim.DefaultHorizon,
		EliteFraction:   0.10,
		CutoffFraction:  0.40,
		StagnationStart: 25,
		StagnationMax:   400,
		Genome:          genome.DefaultParams(),
		Workers:         runtime.NumCPU(),
		Seed:            1,
	}
}

func (c Config) validate() error {
	if c.Islands <= 0 {
		return fmt.Errorf("%w: islands must be > 0", ErrInvalidConfig)
	}
	if c.IslandSize <= 0 {
		return fmt.Errorf("%w: island size must be > 0", ErrInvalidConfig)
	}
	if c.Generations <= 0 {
		return fmt.Errorf("%w: generations must be > 0", ErrInvalidConfig)
	}
	if c.Horizon < 0 {
		return fmt.Errorf("%w: horizon must be >= 0", ErrInvalidConfig)
	}
	if c.EliteFraction < 0 || c.EliteFraction > 1 {
		return fmt.Errorf("%w: elite fraction must be in [0, 1]", ErrInvalidConfig)
	}
	if c.CutoffFraction < 0 || c.CutoffFraction > 1 {
		return fmt.Errorf("%w: cutoff fraction must be in [0, 1]", ErrInvalidConfig)
	}
	if c.StagnationStart <= 0 || c.StagnationMax < c.StagnationStart {
		return fmt.Errorf("%w: stagnation thresholds must satisfy 0 < start <= max", ErrInvalidConfig)
	}
	if err := c.Genome.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Selector == nil {
		c.Selector = EliteCrossSelector{}
	}
	if c.Observer == nil {
		c.Observer = NoopObserver{}
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}
	return c
}

// slots returns the elite count and the number of slots filled by elites,
// migrants and children; the remainder of an island is refilled randomly.
func (c Config) slots() (elite, survivors int) {
	size := c.IslandSize
	elite = clamp(int(c.EliteFraction*float64(size)), 1, size)
	cutoff := clamp(int(math.Round(c.CutoffFraction*float64(size))), 1, size)
	survivors = size - cutoff
	if survivors < elite {
		survivors = elite
	}
	return elite, survivors
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
