package stats

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const benchmarkExperimentsDir = "experiments"

// BenchmarkExperiment groups the runs of one multi-seed benchmark. Runs are
// listed in seed order.
type BenchmarkExperiment struct {
	ID             string   `json:"id"`
	SpecPath       string   `json:"spec_path"`
	Target         string   `json:"target"`
	Seeds          []int64  `json:"seeds"`
	RunIDs         []string `json:"run_ids,omitempty"`
	FinalBest      []int64  `json:"final_best,omitempty"`
	StartedAtUTC   string   `json:"started_at_utc,omitempty"`
	CompletedAtUTC string   `json:"completed_at_utc,omitempty"`
}

// CurvePoint aggregates the best-so-far fitness of every run still going at
// a generation.
type CurvePoint struct {
	Generation int     `json:"generation"`
	Runs       int     `json:"runs"`
	Mean       float64 `json:"mean"`
	Min        int64   `json:"min"`
	Max        int64   `json:"max"`
}

type BenchmarkRun struct {
	RunID             string `json:"run_id"`
	Seed              int64  `json:"seed"`
	FinalBest         int64  `json:"final_best"`
	Success           bool   `json:"success"`
	ReachedGeneration int    `json:"reached_generation,omitempty"`
}

type BenchmarkStats struct {
	TotalRuns   int            `json:"total_runs"`
	SuccessRuns int            `json:"success_runs"`
	SuccessRate float64        `json:"success_rate"`
	MeanBest    float64        `json:"mean_best"`
	StdBest     float64        `json:"std_best"`
	MinBest     int64          `json:"min_best"`
	MaxBest     int64          `json:"max_best"`
	Goal        *int64         `json:"goal,omitempty"`
	Runs        []BenchmarkRun `json:"runs"`
}

type BenchmarkReport struct {
	ExperimentID string              `json:"experiment_id"`
	GeneratedAt  string              `json:"generated_at_utc"`
	Experiment   BenchmarkExperiment `json:"experiment"`
	Curve        []CurvePoint        `json:"curve"`
	Stats        BenchmarkStats      `json:"stats"`
}

// BuildFitnessCurve averages per-generation histories. Shorter histories drop
// out once exhausted, so later points may cover fewer runs.
func BuildFitnessCurve(histories [][]int64) []CurvePoint {
	longest := 0
	for _, h := range histories {
		if len(h) > longest {
			longest = len(h)
		}
	}
	points := make([]CurvePoint, 0, longest)
	for gen := 0; gen < longest; gen++ {
		var (
			sum   float64
			count int
			point = CurvePoint{Generation: gen + 1}
		)
		for _, h := range histories {
			if gen >= len(h) {
				continue
			}
			v := h[gen]
			if count == 0 || v < point.Min {
				point.Min = v
			}
			if count == 0 || v > point.Max {
				point.Max = v
			}
			sum += float64(v)
			count++
		}
		point.Runs = count
		point.Mean = sum / float64(count)
		points = append(points, point)
	}
	return points
}

// BuildBenchmarkStats summarizes an experiment. With a goal, a run succeeds
// at the first generation whose best reaches it; without one every run counts.
func BuildBenchmarkStats(exp BenchmarkExperiment, histories [][]int64, goal *int64) (BenchmarkStats, error) {
	if len(histories) != len(exp.RunIDs) {
		return BenchmarkStats{}, fmt.Errorf("experiment %s: %d histories for %d runs", exp.ID, len(histories), len(exp.RunIDs))
	}
	result := BenchmarkStats{
		TotalRuns: len(exp.RunIDs),
		Goal:      cloneInt64Ptr(goal),
		Runs:      make([]BenchmarkRun, 0, len(exp.RunIDs)),
	}
	finals := make([]float64, 0, len(exp.RunIDs))
	for i, runID := range exp.RunIDs {
		run := evaluateBenchmarkSeries(runID, histories[i], goal)
		if i < len(exp.Seeds) {
			run.Seed = exp.Seeds[i]
		}
		if i < len(exp.FinalBest) {
			run.FinalBest = exp.FinalBest[i]
		}
		result.Runs = append(result.Runs, run)
		if run.Success {
			result.SuccessRuns++
		}
		if i == 0 || run.FinalBest < result.MinBest {
			result.MinBest = run.FinalBest
		}
		if i == 0 || run.FinalBest > result.MaxBest {
			result.MaxBest = run.FinalBest
		}
		finals = append(finals, float64(run.FinalBest))
	}
	if result.TotalRuns > 0 {
		result.SuccessRate = float64(result.SuccessRuns) / float64(result.TotalRuns)
		result.MeanBest, result.StdBest = meanStd(finals)
	}
	return result, nil
}

func evaluateBenchmarkSeries(runID string, series []int64, goal *int64) BenchmarkRun {
	run := BenchmarkRun{RunID: runID}
	if len(series) > 0 {
		run.FinalBest = series[len(series)-1]
	}
	if goal == nil {
		run.Success = true
		run.ReachedGeneration = len(series)
		return run
	}
	for generation, best := range series {
		if best >= *goal {
			run.Success = true
			run.ReachedGeneration = generation + 1
			return run
		}
	}
	return run
}

func meanStd(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

func WriteBenchmarkExperiment(baseDir string, exp BenchmarkExperiment) error {
	if exp.ID == "" {
		return fmt.Errorf("experiment id is required")
	}
	path := benchmarkExperimentPath(baseDir, exp.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeJSON(path, exp)
}

func ReadBenchmarkExperiment(baseDir, id string) (BenchmarkExperiment, bool, error) {
	if id == "" {
		return BenchmarkExperiment{}, false, fmt.Errorf("experiment id is required")
	}
	data, err := os.ReadFile(benchmarkExperimentPath(baseDir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return BenchmarkExperiment{}, false, nil
		}
		return BenchmarkExperiment{}, false, err
	}
	var exp BenchmarkExperiment
	if err := json.Unmarshal(data, &exp); err != nil {
		return BenchmarkExperiment{}, false, err
	}
	return exp, true, nil
}

// ListBenchmarkExperiments returns stored experiments, newest first.
func ListBenchmarkExperiments(baseDir string) ([]BenchmarkExperiment, error) {
	root := filepath.Join(baseDir, benchmarkExperimentsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []BenchmarkExperiment{}, nil
		}
		return nil, err
	}

	exps := make([]BenchmarkExperiment, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		exp, ok, err := ReadBenchmarkExperiment(baseDir, entry.Name())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		exps = append(exps, exp)
	}
	sort.Slice(exps, func(i, j int) bool {
		switch {
		case exps[i].StartedAtUTC == exps[j].StartedAtUTC:
			return exps[i].ID < exps[j].ID
		case exps[i].StartedAtUTC == "":
			return false
		case exps[j].StartedAtUTC == "":
			return true
		default:
			return exps[i].StartedAtUTC > exps[j].StartedAtUTC
		}
	})
	return exps, nil
}

func WriteBenchmarkReport(baseDir string, report BenchmarkReport) (string, error) {
	if report.ExperimentID == "" {
		return "", fmt.Errorf("report experiment id is required")
	}
	reportDir := filepath.Join(baseDir, benchmarkExperimentsDir, report.ExperimentID)
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return "", err
	}
	if report.GeneratedAt == "" {
		report.GeneratedAt = Timestamp(time.Now())
	}
	if err := writeJSON(filepath.Join(reportDir, "curve.json"), report.Curve); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(reportDir, "report.json"), report); err != nil {
		return "", err
	}
	return reportDir, nil
}

func benchmarkExperimentPath(baseDir, id string) string {
	return filepath.Join(baseDir, benchmarkExperimentsDir, id, "experiment.json")
}

func cloneInt64Ptr(v *int64) *int64 {
	if v == nil {
		return nil
	}
	value := *v
	return &value
}
