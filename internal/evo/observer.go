package evo

// GenerationDiagnostics summarizes one evaluated generation across every
// island.
type GenerationDiagnostics struct {
	Generation           int                 `json:"generation"`
	BestFitness          int64               `json:"best_fitness"`
	MeanFitness          float64             `json:"mean_fitness"`
	MinFitness           int64               `json:"min_fitness"`
	FingerprintDiversity int                 `json:"fingerprint_diversity"`
	Evaluated            int                 `json:"evaluated"`
	Resets               int                 `json:"resets"`
	Migrants             int                 `json:"migrants"`
	Fallbacks            int                 `json:"fallbacks"`
	Islands              []IslandDiagnostics `json:"islands"`
}

type IslandDiagnostics struct {
	Island           int   `json:"island"`
	BestFitness      int64 `json:"best_fitness"`
	BestEver         int64 `json:"best_ever"`
	SinceImprovement int   `json:"since_improvement"`
	Threshold        int   `json:"threshold"`
	Reset            bool  `json:"reset,omitempty"`
}

// Observer is notified on the driver goroutine once per generation, after
// every island has been ranked and bred.
type Observer interface {
	GenerationDone(GenerationDiagnostics)
}

type NoopObserver struct{}

func (NoopObserver) GenerationDone(GenerationDiagnostics) {}

// Observers fans a notification out to several observers in order.
type Observers []Observer

func (o Observers) GenerationDone(d GenerationDiagnostics) {
	for _, obs := range o {
		if obs != nil {
			obs.GenerationDone(d)
		}
	}
}
