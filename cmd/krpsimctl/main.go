package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"

	"krpsim/internal/metrics"
	"krpsim/internal/model"
	"krpsim/internal/storage"
	krpsim "krpsim/pkg/krpsim"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:], stdout, stderr)
	case "benchmark":
		return runBenchmark(ctx, args[1:], stdout, stderr)
	case "check":
		return runCheck(ctx, args[1:], stdout)
	case "simulate":
		return runSimulate(ctx, args[1:], stdout)
	case "runs":
		return runRuns(ctx, args[1:], stdout)
	case "best":
		return runBest(ctx, args[1:], stdout)
	case "fitness":
		return runFitness(ctx, args[1:], stdout)
	case "diagnostics":
		return runDiagnostics(ctx, args[1:], stdout)
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// runFlags are shared by run and benchmark.
type runFlags struct {
	configPath      *string
	storeKind       *string
	dbPath          *string
	artifactsDir    *string
	metricsAddr     *string
	generations     *int
	islands         *int
	islandSize      *int
	horizon         *int64
	eliteFraction   *float64
	cutoffFraction  *float64
	headProbability *float64
	mutationRate    *float64
	dividerMax      *int
	stagnationStart *int
	stagnationMax   *int
	selectionName   *string
	workers         *int
	seed            *int64
	verbose         *bool
}

func bindRunFlags(fs *flag.FlagSet) *runFlags {
	defaults := defaultRunSettings()
	return &runFlags{
		configPath:      fs.String("config", "", "optional TOML run config; explicitly set flags override it"),
		storeKind:       fs.String("store", defaults.Store, "store backend: memory|sqlite"),
		dbPath:          fs.String("db-path", defaults.DBPath, "sqlite database path"),
		artifactsDir:    fs.String("artifacts-dir", defaults.ArtifactsDir, "directory for per-run artifacts"),
		metricsAddr:     fs.String("metrics-addr", "", "serve Prometheus /metrics on this address while running"),
		generations:     fs.Int("gens", defaults.Request.Generations, "generations to run"),
		islands:         fs.Int("islands", defaults.Request.Islands, "number of islands"),
		islandSize:      fs.Int("island-size", defaults.Request.IslandSize, "genomes per island"),
		horizon:         fs.Int64("horizon", defaults.Request.Horizon, "simulation horizon in cycles"),
		eliteFraction:   fs.Float64("elite-fraction", defaults.Request.EliteFraction, "fraction of each island kept unchanged"),
		cutoffFraction:  fs.Float64("cutoff-fraction", defaults.Request.CutoffFraction, "fraction of each island replaced per generation"),
		headProbability: fs.Float64("head-probability", defaults.Request.HeadProbability, "crossover probability of taking a gene from the first parent"),
		mutationRate:    fs.Float64("mutation-rate", defaults.Request.MutationRate, "probability that a child gets a gene swap"),
		dividerMax:      fs.Int("divider-max", defaults.Request.DividerMax, "upper bound for the genome divider"),
		stagnationStart: fs.Int("stagnation-start", defaults.Request.StagnationStart, "generations without improvement before an island resets"),
		stagnationMax:   fs.Int("stagnation-max", defaults.Request.StagnationMax, "cap for the doubling stagnation threshold"),
		selectionName:   fs.String("selection", defaults.Request.Selection, "parent selection strategy: elite_cross|tournament"),
		workers:         fs.Int("workers", defaults.Request.Workers, "parallel evaluation workers"),
		seed:            fs.Int64("seed", defaults.Request.Seed, "rng seed"),
		verbose:         fs.Bool("verbose", false, "log search progress to stderr"),
	}
}

// resolve layers defaults, the optional config file and the flags the user
// set, then takes the specification file from the positional arguments.
func (f *runFlags) resolve(fs *flag.FlagSet, positional []string) (runSettings, error) {
	setFlags := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) {
		setFlags[fl.Name] = true
	})

	settings, err := loadOrDefaultRunSettings(*f.configPath)
	if err != nil {
		return runSettings{}, err
	}
	if err := overrideFromFlags(&settings, setFlags, map[string]any{
		"store":            *f.storeKind,
		"db-path":          *f.dbPath,
		"artifacts-dir":    *f.artifactsDir,
		"metrics-addr":     *f.metricsAddr,
		"gens":             *f.generations,
		"islands":          *f.islands,
		"island-size":      *f.islandSize,
		"horizon":          *f.horizon,
		"elite-fraction":   *f.eliteFraction,
		"cutoff-fraction":  *f.cutoffFraction,
		"head-probability": *f.headProbability,
		"mutation-rate":    *f.mutationRate,
		"divider-max":      *f.dividerMax,
		"stagnation-start": *f.stagnationStart,
		"stagnation-max":   *f.stagnationMax,
		"selection":        *f.selectionName,
		"workers":          *f.workers,
		"seed":             *f.seed,
	}); err != nil {
		return runSettings{}, err
	}
	if len(positional) > 1 {
		return runSettings{}, usageError(fs.Name() + " takes a single specification file")
	}
	if len(positional) == 1 {
		settings.Request.SpecPath = positional[0]
	}
	if settings.Request.SpecPath == "" {
		return runSettings{}, usageError(fs.Name() + " requires a specification file")
	}
	return settings, nil
}

func runRun(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := bindRunFlags(fs)
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	settings, err := flags.resolve(fs, positional)
	if err != nil {
		return err
	}

	logger := newLogger(stderr, *flags.verbose)
	client, err := krpsim.New(krpsim.Options{
		StoreKind:    settings.Store,
		DBPath:       settings.DBPath,
		ArtifactsDir: settings.ArtifactsDir,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	req := settings.Request
	if isTerminal(stderr) {
		req.OnGeneration = func(d model.GenerationDiagnostics) {
			fmt.Fprintf(stderr, "\rgeneration %s/%s best=%s mean=%.1f diversity=%d",
				humanize.Comma(int64(d.Generation)), humanize.Comma(int64(req.Generations)),
				humanize.Comma(d.BestFitness), d.MeanFitness, d.FingerprintDiversity)
		}
	}

	var stopMetrics func() error
	if settings.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		srv, err := metrics.Listen(settings.MetricsAddr, reg, logger)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		req.Metrics = reg
		stopMetrics = serveInBackground(ctx, srv)
		fmt.Fprintf(stderr, "metrics on http://%s/metrics\n", srv.Addr())
	}

	summary, runErr := client.Run(ctx, req)
	if req.OnGeneration != nil {
		fmt.Fprintln(stderr)
	}
	if stopMetrics != nil {
		if err := stopMetrics(); err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return runErr
	}

	for i, best := range summary.BestByGeneration {
		fmt.Fprintf(stdout, "generation=%d best=%s\n", i+1, humanize.Comma(best))
	}
	fmt.Fprintf(stdout, "run_id=%s\n", summary.RunID)
	fmt.Fprintf(stdout, "best %s=%s final_time=%s elapsed=%s\n",
		summary.Target, humanize.Comma(summary.FinalBestFitness), humanize.Comma(summary.FinalTime), summary.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(stdout, "artifacts=%s\n", summary.ArtifactsDir)
	return nil
}

func runBenchmark(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("benchmark", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := bindRunFlags(fs)
	runs := fs.Int("runs", 5, "number of searches, seeded consecutively from --seed")
	goal := fs.Int64("goal", 0, "fitness a run must reach to count as a success (unset counts every run)")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	settings, err := flags.resolve(fs, positional)
	if err != nil {
		return err
	}
	if settings.MetricsAddr != "" {
		return errors.New("benchmark does not serve metrics")
	}
	var goalPtr *int64
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "goal" {
			goalPtr = goal
		}
	})

	client, err := krpsim.New(krpsim.Options{
		StoreKind:    settings.Store,
		DBPath:       settings.DBPath,
		ArtifactsDir: settings.ArtifactsDir,
		Logger:       newLogger(stderr, *flags.verbose),
	})
	if err != nil {
		return err
	}
	defer client.Close()

	summary, err := client.Benchmark(ctx, krpsim.BenchmarkRequest{
		Run:  settings.Request,
		Runs: *runs,
		Goal: goalPtr,
	})
	if err != nil {
		return err
	}

	for _, point := range summary.Curve {
		fmt.Fprintf(stdout, "generation=%d runs=%d mean=%.2f min=%s max=%s\n",
			point.Generation, point.Runs, point.Mean, humanize.Comma(point.Min), humanize.Comma(point.Max))
	}
	for _, r := range summary.Stats.Runs {
		fmt.Fprintf(stdout, "run %s seed=%d best=%s success=%t\n", r.RunID, r.Seed, humanize.Comma(r.FinalBest), r.Success)
	}
	st := summary.Stats
	fmt.Fprintf(stdout, "experiment_id=%s runs=%d success_rate=%.2f mean_best=%.2f std_best=%.2f min_best=%s max_best=%s\n",
		summary.ExperimentID, st.TotalRuns, st.SuccessRate, st.MeanBest, st.StdBest, humanize.Comma(st.MinBest), humanize.Comma(st.MaxBest))
	fmt.Fprintf(stdout, "report=%s\n", summary.ReportDir)
	return nil
}

func runCheck(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "emit summary as JSON")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return usageError("check requires a single specification file")
	}

	// Parsing needs no store.
	client, err := krpsim.New(krpsim.Options{StoreKind: "memory"})
	if err != nil {
		return err
	}
	defer client.Close()

	summary, err := client.Check(ctx, positional[0])
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(stdout, summary)
	}
	fmt.Fprintf(stdout, "processes=%d stocks=%d objective=%s target=%s\n",
		summary.Processes, summary.Stocks, summary.Objective, summary.Target)
	for _, name := range summary.ProcessNames {
		fmt.Fprintf(stdout, "process %s\n", name)
	}
	printStocks(stdout, summary.InitialStocks)
	return nil
}

func runSimulate(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	runID := fs.String("run-id", "", "run id whose best policy to replay")
	latest := fs.Bool("latest", false, "replay the most recent run")
	horizon := fs.Int64("horizon", 0, "override the stored horizon (0 keeps it)")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return usageError("simulate requires a single specification file")
	}

	client, err := krpsim.New(krpsim.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer client.Close()

	summary, err := client.Simulate(ctx, krpsim.SimulateRequest{
		SpecPath: positional[0],
		RunID:    *runID,
		Latest:   *latest,
		Horizon:  *horizon,
	})
	if err != nil {
		return err
	}

	for _, line := range summary.Trace {
		fmt.Fprintf(stdout, "%d:%s\n", line.Time, line.Process)
	}
	if summary.Exhausted {
		fmt.Fprintf(stdout, "no more process doable at time %d\n", summary.Time)
	} else {
		fmt.Fprintf(stdout, "horizon reached at time %d\n", summary.Time)
	}
	printStocks(stdout, summary.FinalStocks)
	fmt.Fprintf(stdout, "fitness=%s started=%s completed=%s\n",
		humanize.Comma(summary.Fitness), humanize.Comma(int64(summary.Started)), humanize.Comma(int64(summary.Completed)))
	return nil
}

func runRuns(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := krpsim.New(krpsim.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer client.Close()

	runs, err := client.Runs(ctx, krpsim.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(stdout, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(stdout, "%s created=%s spec=%s %s=%s gens=%d islands=%dx%d seed=%d\n",
			r.ID, r.CreatedAt, r.SpecPath, r.Target, humanize.Comma(r.BestFitness),
			r.Generations, r.Islands, r.IslandSize, r.Seed)
	}
	return nil
}

func runBest(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("best", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := krpsim.New(krpsim.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer client.Close()

	best, err := client.Best(ctx, krpsim.BestRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	return writeJSON(stdout, best)
}

func runFitness(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("fitness", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	limit := fs.Int("limit", 0, "max generations to print (0 prints all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := krpsim.New(krpsim.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer client.Close()

	history, err := client.FitnessHistory(ctx, krpsim.HistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	for i, best := range history {
		fmt.Fprintf(stdout, "generation=%d best=%s\n", i+1, humanize.Comma(best))
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	limit := fs.Int("limit", 0, "max generations to print (0 prints all)")
	jsonOut := fs.Bool("json", false, "emit diagnostics as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := krpsim.New(krpsim.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer client.Close()

	diagnostics, err := client.Diagnostics(ctx, krpsim.HistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(stdout, diagnostics)
	}
	for _, d := range diagnostics {
		fmt.Fprintf(stdout, "generation=%d best=%s mean=%.2f min=%s diversity=%d evaluated=%d resets=%d migrants=%d fallbacks=%d\n",
			d.Generation, humanize.Comma(d.BestFitness), d.MeanFitness, humanize.Comma(d.MinFitness),
			d.FingerprintDiversity, d.Evaluated, d.Resets, d.Migrants, d.Fallbacks)
	}
	return nil
}

// parseArgs lets positional arguments appear before, between or after flags.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func serveInBackground(ctx context.Context, srv *metrics.Server) func() error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()
	return func() error {
		cancel()
		return <-done
	}
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func printStocks(w io.Writer, stocks map[string]int64) {
	names := make([]string, 0, len(stocks))
	for name := range stocks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "stock %s=%s\n", name, humanize.Comma(stocks[name]))
	}
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: krpsimctl <run|benchmark|check|simulate|runs|best|fitness|diagnostics> [flags] [file]", msg)
}
