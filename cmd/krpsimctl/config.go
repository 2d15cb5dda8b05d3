package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"krpsim/internal/storage"
	krpsim "krpsim/pkg/krpsim"
)

const (
	defaultDBPath       = "krpsim.db"
	defaultArtifactsDir = "runs"
)

// runSettings is everything `krpsimctl run` needs, after defaults, the
// optional TOML file and explicitly set flags have been layered.
type runSettings struct {
	Store        string
	DBPath       string
	ArtifactsDir string
	MetricsAddr  string
	Request      krpsim.RunRequest
}

type fileConfig struct {
	Spec         string       `toml:"spec"`
	Store        string       `toml:"store"`
	DBPath       string       `toml:"db_path"`
	ArtifactsDir string       `toml:"artifacts_dir"`
	MetricsAddr  string       `toml:"metrics_addr"`
	Search       searchConfig `toml:"search"`
}

type searchConfig struct {
	Generations     int     `toml:"generations"`
	Islands         int     `toml:"islands"`
	IslandSize      int     `toml:"island_size"`
	Horizon         int64   `toml:"horizon"`
	EliteFraction   float64 `toml:"elite_fraction"`
	CutoffFraction  float64 `toml:"cutoff_fraction"`
	HeadProbability float64 `toml:"head_probability"`
	MutationRate    float64 `toml:"mutation_rate"`
	DividerMax      int     `toml:"divider_max"`
	StagnationStart int     `toml:"stagnation_start"`
	StagnationMax   int     `toml:"stagnation_max"`
	Selection       string  `toml:"selection"`
	Workers         int     `toml:"workers"`
	Seed            int64   `toml:"seed"`
}

func defaultRunSettings() runSettings {
	return runSettings{
		Store:        storage.DefaultStoreKind(),
		DBPath:       defaultDBPath,
		ArtifactsDir: defaultArtifactsDir,
		Request:      krpsim.DefaultRunRequest(),
	}
}

func loadOrDefaultRunSettings(path string) (runSettings, error) {
	if path == "" {
		return defaultRunSettings(), nil
	}
	return loadRunSettings(path)
}

// loadRunSettings decodes a TOML run file over the defaults. Keys the file
// leaves out keep their default value; unknown keys are an error.
func loadRunSettings(path string) (runSettings, error) {
	settings := defaultRunSettings()
	req := settings.Request
	fc := fileConfig{
		Store:        settings.Store,
		DBPath:       settings.DBPath,
		ArtifactsDir: settings.ArtifactsDir,
		Search: searchConfig{
			Generations:     req.Generations,
			Islands:         req.Islands,
			IslandSize:      req.IslandSize,
			Horizon:         req.Horizon,
			EliteFraction:   req.EliteFraction,
			CutoffFraction:  req.CutoffFraction,
			HeadProbability: req.HeadProbability,
			MutationRate:    req.MutationRate,
			DividerMax:      req.DividerMax,
			StagnationStart: req.StagnationStart,
			StagnationMax:   req.StagnationMax,
			Selection:       req.Selection,
			Workers:         req.Workers,
			Seed:            req.Seed,
		},
	}

	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return runSettings{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return runSettings{}, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	sc := fc.Search
	return runSettings{
		Store:        fc.Store,
		DBPath:       fc.DBPath,
		ArtifactsDir: fc.ArtifactsDir,
		MetricsAddr:  fc.MetricsAddr,
		Request: krpsim.RunRequest{
			SpecPath:        fc.Spec,
			Generations:     sc.Generations,
			Islands:         sc.Islands,
			IslandSize:      sc.IslandSize,
			Horizon:         sc.Horizon,
			EliteFraction:   sc.EliteFraction,
			CutoffFraction:  sc.CutoffFraction,
			HeadProbability: sc.HeadProbability,
			MutationRate:    sc.MutationRate,
			DividerMax:      sc.DividerMax,
			StagnationStart: sc.StagnationStart,
			StagnationMax:   sc.StagnationMax,
			Selection:       sc.Selection,
			Workers:         sc.Workers,
			Seed:            sc.Seed,
		},
	}, nil
}

// overrideFromFlags applies only the flags the user actually set, so a
// config file value survives an untouched flag default.
func overrideFromFlags(s *runSettings, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "store":
			s.Store = v.(string)
		case "db-path":
			s.DBPath = v.(string)
		case "artifacts-dir":
			s.ArtifactsDir = v.(string)
		case "metrics-addr":
			s.MetricsAddr = v.(string)
		case "gens":
			s.Request.Generations = v.(int)
		case "islands":
			s.Request.Islands = v.(int)
		case "island-size":
			s.Request.IslandSize = v.(int)
		case "horizon":
			s.Request.Horizon = v.(int64)
		case "elite-fraction":
			s.Request.EliteFraction = v.(float64)
		case "cutoff-fraction":
			s.Request.CutoffFraction = v.(float64)
		case "head-probability":
			s.Request.HeadProbability = v.(float64)
		case "mutation-rate":
			s.Request.MutationRate = v.(float64)
		case "divider-max":
			s.Request.DividerMax = v.(int)
		case "stagnation-start":
			s.Request.StagnationStart = v.(int)
		case "stagnation-max":
			s.Request.StagnationMax = v.(int)
		case "selection":
			s.Request.Selection = v.(string)
		case "workers":
			s.Request.Workers = v.(int)
		case "seed":
			s.Request.Seed = v.(int64)
		default:
			return fmt.Errorf("unsupported override flag: %s", name)
		}
	}
	return nil
}
