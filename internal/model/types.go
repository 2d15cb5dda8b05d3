package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord describes one completed search.
type RunRecord struct {
	VersionedRecord
	ID          string `json:"id"`
	SpecPath    string `json:"spec_path"`
	Target      string `json:"target"`
	Objective   string `json:"objective"`
	Processes   int    `json:"processes"`
	Seed        int64  `json:"seed"`
	Generations int    `json:"generations"`
	Islands     int    `json:"islands"`
	IslandSize  int    `json:"island_size"`
	Horizon     int64  `json:"horizon"`
	BestFitness int64  `json:"best_fitness"`
	FinalTime   int64  `json:"final_time"`
	CreatedAt   string `json:"created_at"`
	ElapsedMS   int64  `json:"elapsed_ms"`
}

type GeneRecord struct {
	Process  string  `json:"process"`
	Key      float64 `json:"key"`
	Disabled bool    `json:"disabled,omitempty"`
}

// GenomeRecord is a persisted policy. Genes are stored in process index
// order; Order lists the active processes by priority for readers.
type GenomeRecord struct {
	VersionedRecord
	RunID       string       `json:"run_id"`
	Fingerprint string       `json:"fingerprint"`
	Island      int          `json:"island"`
	Genes       []GeneRecord `json:"genes"`
	Divider     int          `json:"divider"`
	HasDisabled bool         `json:"has_disabled"`
	Fitness     int64        `json:"fitness"`
	Order       []string     `json:"order"`
}

type IslandDiagnostics struct {
	Island           int   `json:"island"`
	BestFitness      int64 `json:"best_fitness"`
	BestEver         int64 `json:"best_ever"`
	SinceImprovement int   `json:"since_improvement"`
	Threshold        int   `json:"threshold"`
	Reset            bool  `json:"reset,omitempty"`
}

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
	Islands              []IslandDiagnostics `json:"islands,omitempty"`
}
