package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ncruces/go-strftime"

	"krpsim/internal/model"
)

const (
	runIndexFile = "run_index.json"

	// TimestampLayout sorts lexicographically in time order.
	TimestampLayout = "%Y-%m-%dT%H:%M:%SZ"
)

type RunConfig struct {
	RunID           string  `json:"run_id"`
	SpecPath        string  `json:"spec_path"`
	Target          string  `json:"target"`
	Objective       string  `json:"objective"`
	Generations     int     `json:"generations"`
	Islands         int     `json:"islands"`
	IslandSize      int     `json:"island_size"`
	Horizon         int64   `json:"horizon"`
	EliteFraction   float64 `json:"elite_fraction"`
	CutoffFraction  float64 `json:"cutoff_fraction"`
	HeadProbability float64 `json:"head_probability"`
	MutationRate    float64 `json:"mutation_rate"`
	DividerMax      int     `json:"divider_max"`
	StagnationStart int     `json:"stagnation_start"`
	StagnationMax   int     `json:"stagnation_max"`
	Selection       string  `json:"selection"`
	Workers         int     `json:"workers"`
	Seed            int64   `json:"seed"`
}

type RunArtifacts struct {
	Config                RunConfig                     `json:"config"`
	BestByGeneration      []int64                       `json:"best_by_generation"`
	GenerationDiagnostics []model.GenerationDiagnostics `json:"generation_diagnostics,omitempty"`
	FinalBestFitness      int64                         `json:"final_best_fitness"`
	BestGenome            model.GenomeRecord            `json:"best_genome"`
	FinalStocks           map[string]int64              `json:"final_stocks"`

	// Replay of the best policy, written as trajectory.csv and trace.txt
	// when present.
	StockNames   []string  `json:"-"`
	ProcessNames []string  `json:"-"`
	Replay       *Recorder `json:"-"`
}

type RunIndexEntry struct {
	RunID            string `json:"run_id"`
	SpecPath         string `json:"spec_path"`
	Target           string `json:"target"`
	Generations      int    `json:"generations"`
	Islands          int    `json:"islands"`
	IslandSize       int    `json:"island_size"`
	Seed             int64  `json:"seed"`
	Workers          int    `json:"workers"`
	FinalBestFitness int64  `json:"final_best_fitness"`
	CreatedAtUTC     string `json:"created_at_utc"`
}

// Timestamp formats t in UTC with TimestampLayout.
func Timestamp(t time.Time) string {
	return strftime.Format(TimestampLayout, t.UTC())
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "fitness_history.json"), map[string]any{"best_by_generation": artifacts.BestByGeneration, "final_best_fitness": artifacts.FinalBestFitness}); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "diagnostics.json"), artifacts.GenerationDiagnostics); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "best_genome.json"), artifacts.BestGenome); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "final_stocks.json"), artifacts.FinalStocks); err != nil {
		return "", err
	}

	if artifacts.Replay != nil {
		if err := writeFile(filepath.Join(runDir, "trajectory.csv"), func(f *os.File) error {
			return artifacts.Replay.WriteTrajectory(f, artifacts.StockNames)
		}); err != nil {
			return "", err
		}
		if err := writeFile(filepath.Join(runDir, "trace.txt"), func(f *os.File) error {
			return artifacts.Replay.WriteTrace(f, artifacts.ProcessNames)
		}); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func writeFile(path string, fill func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
