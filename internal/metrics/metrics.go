// Package metrics exposes search progress as Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"krpsim/internal/evo"
)

// SearchCollector implements evo.Observer and updates its collectors once
// per generation.
type SearchCollector struct {
	generations      prometheus.Counter
	evaluations      prometheus.Counter
	resets           prometheus.Counter
	migrants         prometheus.Counter
	bestFitness      prometheus.Gauge
	meanFitness      prometheus.Gauge
	diversity        prometheus.Gauge
	islandBest       *prometheus.GaugeVec
	islandStagnation *prometheus.GaugeVec
}

// NewSearchCollector registers the search collectors on reg, labelled with
// the run id.
func NewSearchCollector(reg prometheus.Registerer, runID string) (*SearchCollector, error) {
	labels := prometheus.Labels{"run_id": runID}
	c := &SearchCollector{
		generations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "krpsim_generations_total", Help: "Generations evaluated.", ConstLabels: labels,
		}),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "krpsim_evaluations_total", Help: "Genomes simulated.", ConstLabels: labels,
		}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "krpsim_island_resets_total", Help: "Stagnation resets across islands.", ConstLabels: labels,
		}),
		migrants: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "krpsim_migrants_total", Help: "Genomes migrated into the last island.", ConstLabels: labels,
		}),
		bestFitness: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "krpsim_best_fitness", Help: "Best fitness of the latest generation.", ConstLabels: labels,
		}),
		meanFitness: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "krpsim_mean_fitness", Help: "Mean fitness of the latest generation.", ConstLabels: labels,
		}),
		diversity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "krpsim_fingerprint_diversity", Help: "Distinct genomes in the latest generation.", ConstLabels: labels,
		}),
		islandBest: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "krpsim_island_best_fitness", Help: "Best-ever fitness per island.", ConstLabels: labels,
		}, []string{"island"}),
		islandStagnation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "krpsim_island_generations_since_improvement", Help: "Generations since an island last improved.", ConstLabels: labels,
		}, []string{"island"}),
	}

	for _, collector := range []prometheus.Collector{
		c.generations, c.evaluations, c.resets, c.migrants,
		c.bestFitness, c.meanFitness, c.diversity,
		c.islandBest, c.islandStagnation,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *SearchCollector) GenerationDone(d evo.GenerationDiagnostics) {
	c.generations.Inc()
	c.evaluations.Add(float64(d.Evaluated))
	c.resets.Add(float64(d.Resets))
	c.migrants.Add(float64(d.Migrants))
	c.bestFitness.Set(float64(d.BestFitness))
	c.meanFitness.Set(d.MeanFitness)
	c.diversity.Set(float64(d.FingerprintDiversity))
	for _, isl := range d.Islands {
		id := strconv.Itoa(isl.Island)
		c.islandBest.WithLabelValues(id).Set(float64(isl.BestEver))
		c.islandStagnation.WithLabelValues(id).Set(float64(isl.SinceImprovement))
	}
}

// Server serves /metrics for a registry until its context ends.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
}

func Listen(addr string, gatherer prometheus.Gatherer, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:     ln,
		logger: logger,
	}, nil
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(s.ln)
	}()
	s.logger.Info("metrics listening", "addr", s.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
