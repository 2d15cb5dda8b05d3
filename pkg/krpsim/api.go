// Package krpsim is the programmatic entry point: load a production network,
// search for a good policy, persist the run and replay stored policies.
package krpsim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"krpsim/internal/evo"
	"krpsim/internal/genome"
	"krpsim/internal/metrics"
	"krpsim/internal/model"
	"krpsim/internal/sim"
	"krpsim/internal/spec"
	"krpsim/internal/stats"
	"krpsim/internal/storage"
)

const (
	defaultArtifactsDir = "runs"
	defaultDBPath       = "krpsim.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	Logger       *slog.Logger
}

type Client struct {
	store        storage.Store
	artifactsDir string
	logger       *slog.Logger
	initialized  bool
}

// RunRequest settings are used as given: a zero rate or seed is a real
// value, not a request for the default. Start from DefaultRunRequest.
type RunRequest struct {
	SpecPath string

	Generations int
	Islands     int
	IslandSize  int
	Horizon     int64

	EliteFraction   float64
	CutoffFraction  float64
	HeadProbability float64
	MutationRate    float64
	DividerMax      int
	StagnationStart int
	StagnationMax   int
	Selection       string

	Workers int
	Seed    int64

	// OnGeneration, when set, is called once per generation on the search
	// goroutine.
	OnGeneration func(model.GenerationDiagnostics)
	// Metrics, when set, receives the run's Prometheus collectors.
	Metrics prometheus.Registerer
}

func DefaultRunRequest() RunRequest {
	cfg := evo.DefaultConfig()
	return RunRequest{
		Generations:     cfg.Generations,
		Islands:         cfg.Islands,
		IslandSize:      cfg.IslandSize,
		Horizon:         cfg.Horizon,
		EliteFraction:   cfg.EliteFraction,
		CutoffFraction:  cfg.CutoffFraction,
		HeadProbability: cfg.Genome.HeadProbability,
		MutationRate:    cfg.Genome.MutationRate,
		DividerMax:      cfg.Genome.DividerMax,
		StagnationStart: cfg.StagnationStart,
		StagnationMax:   cfg.StagnationMax,
		Selection:       evo.EliteCrossSelector{}.Name(),
		Workers:         cfg.Workers,
		Seed:            cfg.Seed,
	}
}

type RunSummary struct {
	RunID            string
	ArtifactsDir     string
	Target           string
	BestByGeneration []int64
	FinalBestFitness int64
	FinalTime        int64
	FinalStocks      map[string]int64
	BestGenome       model.GenomeRecord
	Elapsed          time.Duration
}

type RunsRequest struct {
	Limit int
}

type BestRequest struct {
	RunID  string
	Latest bool
}

type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type SimulateRequest struct {
	SpecPath string
	RunID    string
	Latest   bool
	// Horizon overrides the stored run's horizon when > 0.
	Horizon int64
}

type TraceLine struct {
	Time    int64
	Process string
}

type SimulateSummary struct {
	RunID       string
	Fitness     int64
	Time        int64
	Started     int
	Completed   int
	Exhausted   bool
	Trace       []TraceLine
	FinalStocks map[string]int64
}

type BenchmarkRequest struct {
	Run RunRequest
	// Runs searches are made with seeds Run.Seed, Run.Seed+1, ...
	Runs int
	// Goal, when set, marks runs whose best reaches it as successful.
	Goal *int64
}

type BenchmarkSummary struct {
	ExperimentID string
	ReportDir    string
	RunIDs       []string
	Curve        []stats.CurvePoint
	Stats        stats.BenchmarkStats
}

type CheckSummary struct {
	Processes     int
	Stocks        int
	Target        string
	Objective     string
	InitialStocks map[string]int64
	ProcessNames  []string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		artifactsDir: artifactsDir,
		logger:       logger,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	c.initialized = true
	return nil
}

// Check parses a specification file and summarizes it.
func (c *Client) Check(_ context.Context, path string) (CheckSummary, error) {
	s, err := spec.LoadFile(path)
	if err != nil {
		return CheckSummary{}, err
	}
	names := make([]string, 0, s.ProcessCount())
	for _, p := range s.Processes() {
		names = append(names, p.Name)
	}
	obj := s.Objective()
	return CheckSummary{
		Processes:     s.ProcessCount(),
		Stocks:        s.StockCount(),
		Target:        s.StockName(obj.Target),
		Objective:     obj.Kind.String(),
		InitialStocks: s.StockMap(s.InitialStocks()),
		ProcessNames:  names,
	}, nil
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.SpecPath == "" {
		return RunSummary{}, errors.New("spec path is required")
	}
	s, err := spec.LoadFile(req.SpecPath)
	if err != nil {
		return RunSummary{}, err
	}
	cfg, err := searchConfig(req)
	if err != nil {
		return RunSummary{}, err
	}
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}

	runID := uuid.NewString()
	log := c.logger.With("run_id", runID)
	cfg.Logger = log

	var observers evo.Observers
	if req.Metrics != nil {
		collector, err := metrics.NewSearchCollector(req.Metrics, runID)
		if err != nil {
			return RunSummary{}, fmt.Errorf("register metrics: %w", err)
		}
		observers = append(observers, collector)
	}
	if req.OnGeneration != nil {
		observers = append(observers, generationCallback(req.OnGeneration))
	}
	cfg.Observer = observers

	search, err := evo.NewSearch(s, cfg)
	if err != nil {
		return RunSummary{}, err
	}
	pop, err := search.NewPopulation()
	if err != nil {
		return RunSummary{}, err
	}

	started := time.Now()
	result, err := search.Run(ctx, pop)
	if err != nil {
		return RunSummary{}, err
	}
	elapsed := time.Since(started)

	replay := stats.NewRecorder(s.InitialStocks())
	final := sim.Run(s, result.Best, sim.Options{Horizon: cfg.Horizon, Observer: replay})

	best := toGenomeRecord(s, runID, result.Best, result.BestIsland)
	diagnostics := toModelDiagnostics(result.Diagnostics)
	target := s.StockName(s.Objective().Target)
	createdAt := stats.Timestamp(started)
	finalStocks := s.StockMap(final.Stocks)

	run := model.RunRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              runID,
		SpecPath:        req.SpecPath,
		Target:          target,
		Objective:       s.Objective().Kind.String(),
		Processes:       s.ProcessCount(),
		Seed:            cfg.Seed,
		Generations:     cfg.Generations,
		Islands:         cfg.Islands,
		IslandSize:      cfg.IslandSize,
		Horizon:         cfg.Horizon,
		BestFitness:     final.Fitness,
		FinalTime:       final.Time,
		CreatedAt:       createdAt,
		ElapsedMS:       elapsed.Milliseconds(),
	}
	if err := c.persist(ctx, run, best, result.BestByGeneration, diagnostics); err != nil {
		return RunSummary{}, err
	}

	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:           runID,
			SpecPath:        req.SpecPath,
			Target:          target,
			Objective:       run.Objective,
			Generations:     cfg.Generations,
			Islands:         cfg.Islands,
			IslandSize:      cfg.IslandSize,
			Horizon:         cfg.Horizon,
			EliteFraction:   cfg.EliteFraction,
			CutoffFraction:  cfg.CutoffFraction,
			HeadProbability: cfg.Genome.HeadProbability,
			MutationRate:    cfg.Genome.MutationRate,
			DividerMax:      cfg.Genome.DividerMax,
			StagnationStart: cfg.StagnationStart,
			StagnationMax:   cfg.StagnationMax,
			Selection:       cfg.Selector.Name(),
			Workers:         cfg.Workers,
			Seed:            cfg.Seed,
		},
		BestByGeneration:      result.BestByGeneration,
		GenerationDiagnostics: diagnostics,
		FinalBestFitness:      final.Fitness,
		BestGenome:            best,
		FinalStocks:           finalStocks,
		StockNames:            s.StockNames(),
		ProcessNames:          processNames(s),
		Replay:                replay,
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:            runID,
		SpecPath:         req.SpecPath,
		Target:           target,
		Generations:      cfg.Generations,
		Islands:          cfg.Islands,
		IslandSize:       cfg.IslandSize,
		Seed:             cfg.Seed,
		Workers:          cfg.Workers,
		FinalBestFitness: final.Fitness,
		CreatedAtUTC:     createdAt,
	}); err != nil {
		return RunSummary{}, err
	}

	log.Info("run stored", "artifacts", runDir, "best_fitness", final.Fitness, "elapsed", elapsed)
	return RunSummary{
		RunID:            runID,
		ArtifactsDir:     filepath.Clean(runDir),
		Target:           target,
		BestByGeneration: append([]int64(nil), result.BestByGeneration...),
		FinalBestFitness: final.Fitness,
		FinalTime:        final.Time,
		FinalStocks:      finalStocks,
		BestGenome:       best,
		Elapsed:          elapsed,
	}, nil
}

// Benchmark repeats a search over consecutive seeds and writes an
// aggregated report under the artifacts directory.
func (c *Client) Benchmark(ctx context.Context, req BenchmarkRequest) (BenchmarkSummary, error) {
	if req.Runs <= 0 {
		return BenchmarkSummary{}, errors.New("benchmark runs must be > 0")
	}
	if req.Run.OnGeneration != nil || req.Run.Metrics != nil {
		return BenchmarkSummary{}, errors.New("benchmark does not support per-run observers")
	}
	base := req.Run.Seed

	exp := stats.BenchmarkExperiment{
		ID:           uuid.NewString(),
		SpecPath:     req.Run.SpecPath,
		StartedAtUTC: stats.Timestamp(time.Now()),
	}
	histories := make([][]int64, 0, req.Runs)
	for i := 0; i < req.Runs; i++ {
		runReq := req.Run
		runReq.Seed = base + int64(i)
		summary, err := c.Run(ctx, runReq)
		if err != nil {
			return BenchmarkSummary{}, fmt.Errorf("benchmark run %d/%d: %w", i+1, req.Runs, err)
		}
		exp.Target = summary.Target
		exp.Seeds = append(exp.Seeds, runReq.Seed)
		exp.RunIDs = append(exp.RunIDs, summary.RunID)
		exp.FinalBest = append(exp.FinalBest, summary.FinalBestFitness)
		histories = append(histories, summary.BestByGeneration)
	}
	exp.CompletedAtUTC = stats.Timestamp(time.Now())
	if err := stats.WriteBenchmarkExperiment(c.artifactsDir, exp); err != nil {
		return BenchmarkSummary{}, err
	}

	benchStats, err := stats.BuildBenchmarkStats(exp, histories, req.Goal)
	if err != nil {
		return BenchmarkSummary{}, err
	}
	curve := stats.BuildFitnessCurve(histories)
	reportDir, err := stats.WriteBenchmarkReport(c.artifactsDir, stats.BenchmarkReport{
		ExperimentID: exp.ID,
		Experiment:   exp,
		Curve:        curve,
		Stats:        benchStats,
	})
	if err != nil {
		return BenchmarkSummary{}, err
	}
	c.logger.Info("benchmark stored", "experiment_id", exp.ID, "runs", req.Runs, "mean_best", benchStats.MeanBest)
	return BenchmarkSummary{
		ExperimentID: exp.ID,
		ReportDir:    reportDir,
		RunIDs:       append([]string(nil), exp.RunIDs...),
		Curve:        curve,
		Stats:        benchStats,
	}, nil
}

func (c *Client) persist(ctx context.Context, run model.RunRecord, best model.GenomeRecord, history []int64, diagnostics []model.GenerationDiagnostics) error {
	if err := c.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	if err := c.store.SaveBestGenome(ctx, best); err != nil {
		return fmt.Errorf("save best genome: %w", err)
	}
	if err := c.store.SaveFitnessHistory(ctx, run.ID, history); err != nil {
		return fmt.Errorf("save fitness history: %w", err)
	}
	if err := c.store.SaveGenerationDiagnostics(ctx, run.ID, diagnostics); err != nil {
		return fmt.Errorf("save diagnostics: %w", err)
	}
	return nil
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]model.RunRecord, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) > req.Limit {
		runs = runs[:req.Limit]
	}
	return runs, nil
}

func (c *Client) Best(ctx context.Context, req BestRequest) (model.GenomeRecord, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return model.GenomeRecord{}, err
	}
	best, ok, err := c.store.GetBestGenome(ctx, runID)
	if err != nil {
		return model.GenomeRecord{}, err
	}
	if !ok {
		return model.GenomeRecord{}, fmt.Errorf("best genome not found for run id: %s", runID)
	}
	return best, nil
}

func (c *Client) FitnessHistory(ctx context.Context, req HistoryRequest) ([]int64, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]int64(nil), history...), nil
}

func (c *Client) Diagnostics(ctx context.Context, req HistoryRequest) ([]model.GenerationDiagnostics, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	out := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

// Simulate replays a stored best policy against a specification file.
func (c *Client) Simulate(ctx context.Context, req SimulateRequest) (SimulateSummary, error) {
	if req.SpecPath == "" {
		return SimulateSummary{}, errors.New("spec path is required")
	}
	s, err := spec.LoadFile(req.SpecPath)
	if err != nil {
		return SimulateSummary{}, err
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return SimulateSummary{}, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return SimulateSummary{}, err
	}
	if !ok {
		return SimulateSummary{}, fmt.Errorf("run not found: %s", runID)
	}
	rec, ok, err := c.store.GetBestGenome(ctx, runID)
	if err != nil {
		return SimulateSummary{}, err
	}
	if !ok {
		return SimulateSummary{}, fmt.Errorf("best genome not found for run id: %s", runID)
	}
	g, err := fromGenomeRecord(s, rec)
	if err != nil {
		return SimulateSummary{}, err
	}

	horizon := run.Horizon
	if req.Horizon > 0 {
		horizon = req.Horizon
	}
	replay := stats.NewRecorder(s.InitialStocks())
	res := sim.Run(s, g, sim.Options{Horizon: horizon, Observer: replay})

	names := processNames(s)
	trace := make([]TraceLine, 0, len(replay.Starts))
	for _, e := range replay.Starts {
		trace = append(trace, TraceLine{Time: e.Time, Process: names[e.Process]})
	}
	return SimulateSummary{
		RunID:       runID,
		Fitness:     res.Fitness,
		Time:        res.Time,
		Started:     res.Started,
		Completed:   res.Completed,
		Exhausted:   res.Exhausted,
		Trace:       trace,
		FinalStocks: s.StockMap(res.Stocks),
	}, nil
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if err := c.Init(ctx); err != nil {
		return "", err
	}
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", errors.New("run id or latest is required")
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.New("no runs available")
	}
	return runs[0].ID, nil
}

func searchConfig(req RunRequest) (evo.Config, error) {
	selector, err := evo.SelectorFromName(req.Selection)
	if err != nil {
		return evo.Config{}, err
	}
	cfg := evo.DefaultConfig()
	cfg.Generations = req.Generations
	cfg.Islands = req.Islands
	cfg.IslandSize = req.IslandSize
	cfg.Horizon = req.Horizon
	cfg.EliteFraction = req.EliteFraction
	cfg.CutoffFraction = req.CutoffFraction
	cfg.StagnationStart = req.StagnationStart
	cfg.StagnationMax = req.StagnationMax
	cfg.Genome = genome.Params{
		DividerMax:      req.DividerMax,
		HeadProbability: req.HeadProbability,
		MutationRate:    req.MutationRate,
	}
	cfg.Workers = req.Workers
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	cfg.Seed = req.Seed
	cfg.Selector = selector
	return cfg, nil
}

type generationCallback func(model.GenerationDiagnostics)

func (f generationCallback) GenerationDone(d evo.GenerationDiagnostics) {
	f(toModelDiagnostics([]evo.GenerationDiagnostics{d})[0])
}

func toModelDiagnostics(in []evo.GenerationDiagnostics) []model.GenerationDiagnostics {
	out := make([]model.GenerationDiagnostics, 0, len(in))
	for _, d := range in {
		islands := make([]model.IslandDiagnostics, 0, len(d.Islands))
		for _, isl := range d.Islands {
			islands = append(islands, model.IslandDiagnostics{
				Island:           isl.Island,
				BestFitness:      isl.BestFitness,
				BestEver:         isl.BestEver,
				SinceImprovement: isl.SinceImprovement,
				Threshold:        isl.Threshold,
				Reset:            isl.Reset,
			})
		}
		out = append(out, model.GenerationDiagnostics{
			Generation:           d.Generation,
			BestFitness:          d.BestFitness,
			MeanFitness:          d.MeanFitness,
			MinFitness:           d.MinFitness,
			FingerprintDiversity: d.FingerprintDiversity,
			Evaluated:            d.Evaluated,
			Resets:               d.Resets,
			Migrants:             d.Migrants,
			Fallbacks:            d.Fallbacks,
			Islands:              islands,
		})
	}
	return out
}

func toGenomeRecord(s *spec.Spec, runID string, g genome.Genome, island int) model.GenomeRecord {
	genes := make([]model.GeneRecord, len(g.Genes))
	for i, gene := range g.Genes {
		genes[i] = model.GeneRecord{Process: s.Process(i).Name, Key: gene.Key, Disabled: gene.Disabled}
	}
	order := sim.PriorityOrder(g)
	names := make([]string, len(order))
	for i, pid := range order {
		names[i] = s.Process(pid).Name
	}
	return model.GenomeRecord{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           runID,
		Fingerprint:     genome.FingerprintHex(g),
		Island:          island,
		Genes:           genes,
		Divider:         g.Divider,
		HasDisabled:     g.HasDisabled,
		Fitness:         g.Fitness,
		Order:           names,
	}
}

func fromGenomeRecord(s *spec.Spec, rec model.GenomeRecord) (genome.Genome, error) {
	if len(rec.Genes) != s.ProcessCount() {
		return genome.Genome{}, fmt.Errorf("stored policy has %d genes, specification has %d processes", len(rec.Genes), s.ProcessCount())
	}
	genes := make([]genome.Gene, len(rec.Genes))
	for i, gene := range rec.Genes {
		if gene.Process != "" && gene.Process != s.Process(i).Name {
			return genome.Genome{}, fmt.Errorf("stored policy gene %d is for process %q, specification has %q", i, gene.Process, s.Process(i).Name)
		}
		genes[i] = genome.Gene{Key: gene.Key, Disabled: gene.Disabled}
	}
	divider := rec.Divider
	if divider < 1 {
		divider = 1
	}
	return genome.Genome{
		Genes:       genes,
		Divider:     divider,
		HasDisabled: rec.HasDisabled,
		Fitness:     rec.Fitness,
		Evaluated:   true,
	}, nil
}

func processNames(s *spec.Spec) []string {
	names := make([]string, s.ProcessCount())
	for i, p := range s.Processes() {
		names[i] = p.Name
	}
	return names
}
