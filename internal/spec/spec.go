package spec

import (
	"errors"
	"fmt"
)

// StockID is a dense index into a Spec's stock table.
type StockID int

// Objective kinds declared by the optimize line.
type ObjectiveKind int

const (
	ObjectiveQuantity ObjectiveKind = iota
	ObjectiveTime
)

func (k ObjectiveKind) String() string {
	switch k {
	case ObjectiveTime:
		return "time"
	default:
		return "quantity"
	}
}

type Objective struct {
	Kind   ObjectiveKind
	Target StockID
}

type Amount struct {
	Stock    StockID
	Quantity int64
}

type Process struct {
	Name     string
	Needs    []Amount
	Results  []Amount
	Duration int64
}

// Spec is the immutable description of a production network. It is built once
// and shared by pointer across every evaluation of a run.
type Spec struct {
	processes []Process
	names     []string
	ids       map[string]StockID
	initial   []int64
	objective Objective
}

func (s *Spec) Processes() []Process { return s.processes }

func (s *Spec) Process(i int) Process { return s.processes[i] }

func (s *Spec) ProcessCount() int { return len(s.processes) }

func (s *Spec) StockCount() int { return len(s.names) }

func (s *Spec) StockName(id StockID) string { return s.names[id] }

func (s *Spec) StockNames() []string {
	return append([]string(nil), s.names...)
}

func (s *Spec) StockID(name string) (StockID, bool) {
	id, ok := s.ids[name]
	return id, ok
}

func (s *Spec) Objective() Objective { return s.objective }

// InitialStocks returns a fresh copy of the initial quantity vector.
func (s *Spec) InitialStocks() []int64 {
	return append([]int64(nil), s.initial...)
}

// StockMap renders a quantity vector keyed by stock name.
func (s *Spec) StockMap(stocks []int64) map[string]int64 {
	out := make(map[string]int64, len(stocks))
	for i, q := range stocks {
		out[s.names[i]] = q
	}
	return out
}

var (
	ErrNoProcesses   = errors.New("specification has no processes")
	ErrNoObjective   = errors.New("specification has no optimize target")
	ErrDuplicateName = errors.New("duplicate process name")
	ErrNegative      = errors.New("negative quantity or duration")
)

// Builder accumulates named stocks and processes and resolves names to dense
// ids when Build is called.
type Builder struct {
	names     []string
	ids       map[string]StockID
	initial   map[StockID]int64
	processes []Process
	procNames map[string]struct{}
	target    string
	kind      ObjectiveKind
	hasTarget bool
}

func NewBuilder() *Builder {
	return &Builder{
		ids:       make(map[string]StockID),
		initial:   make(map[StockID]int64),
		procNames: make(map[string]struct{}),
	}
}

func (b *Builder) stock(name string) StockID {
	if id, ok := b.ids[name]; ok {
		return id
	}
	id := StockID(len(b.names))
	b.names = append(b.names, name)
	b.ids[name] = id
	return id
}

// Stock declares an initial quantity. Declaring a stock twice accumulates.
func (b *Builder) Stock(name string, quantity int64) error {
	if quantity < 0 {
		return fmt.Errorf("stock %s: %w", name, ErrNegative)
	}
	id := b.stock(name)
	b.initial[id] += quantity
	return nil
}

// Process declares a process; needs and results map stock names to quantities
// in declaration order.
func (b *Builder) Process(name string, needs, results []NamedAmount, duration int64) error {
	if _, exists := b.procNames[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	if duration < 0 {
		return fmt.Errorf("process %s: %w", name, ErrNegative)
	}
	p := Process{Name: name, Duration: duration}
	for _, n := range needs {
		if n.Quantity < 0 {
			return fmt.Errorf("process %s need %s: %w", name, n.Name, ErrNegative)
		}
		p.Needs = append(p.Needs, Amount{Stock: b.stock(n.Name), Quantity: n.Quantity})
	}
	for _, r := range results {
		if r.Quantity < 0 {
			return fmt.Errorf("process %s result %s: %w", name, r.Name, ErrNegative)
		}
		p.Results = append(p.Results, Amount{Stock: b.stock(r.Name), Quantity: r.Quantity})
	}
	b.procNames[name] = struct{}{}
	b.processes = append(b.processes, p)
	return nil
}

func (b *Builder) Optimize(kind ObjectiveKind, target string) {
	b.kind = kind
	b.target = target
	b.hasTarget = true
}

func (b *Builder) Build() (*Spec, error) {
	if len(b.processes) == 0 {
		return nil, ErrNoProcesses
	}
	if !b.hasTarget {
		return nil, ErrNoObjective
	}
	target, ok := b.ids[b.target]
	if !ok {
		return nil, fmt.Errorf("%w: stock %q is never declared or produced", ErrNoObjective, b.target)
	}

	initial := make([]int64, len(b.names))
	for id, q := range b.initial {
		initial[id] = q
	}
	ids := make(map[string]StockID, len(b.ids))
	for k, v := range b.ids {
		ids[k] = v
	}
	processes := make([]Process, len(b.processes))
	for i, p := range b.processes {
		processes[i] = Process{
			Name:     p.Name,
			Needs:    append([]Amount(nil), p.Needs...),
			Results:  append([]Amount(nil), p.Results...),
			Duration: p.Duration,
		}
	}

	return &Spec{
		processes: processes,
		names:     append([]string(nil), b.names...),
		ids:       ids,
		initial:   initial,
		objective: Objective{Kind: b.kind, Target: target},
	}, nil
}

type NamedAmount struct {
	Name     string
	Quantity int64
}
