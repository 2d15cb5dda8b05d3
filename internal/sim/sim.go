// Package sim plays a policy forward through a production network.
//
// Evaluation is a pure function of the specification, the genome and the
// horizon: each call owns its run-state and only reads the shared Spec, so
// any number of evaluations may run concurrently.
package sim

import (
	"container/heap"
	"math"
	"sort"

	"krpsim/internal/genome"
	"krpsim/internal/spec"
)

// DefaultHorizon is the simulated time budget used when none is configured.
const DefaultHorizon int64 = 10000

// DefaultStepLimit bounds scheduling passes so zero-duration cycles cannot
// keep time from advancing forever.
const DefaultStepLimit = 1_000_000

const infiniteDemand = math.MaxInt64

// Observer receives per-event callbacks during a simulation. Both methods are
// called on the evaluating goroutine; the stocks slice is the live run-state
// and must be copied if retained.
type Observer interface {
	Start(time int64, process int, stocks []int64)
	Tick(time int64, stocks []int64)
}

type Options struct {
	Horizon   int64
	StepLimit int
	Observer  Observer
}

type Result struct {
	Fitness int64
	// Stocks is the final quantity vector, indexed by spec.StockID.
	Stocks    []int64
	Time      int64
	Started   int
	Completed int
	// Exhausted is set when the run stopped because no job was pending.
	Exhausted bool
}

// Evaluate simulates g up to horizon and returns the target stock quantity.
func Evaluate(s *spec.Spec, g genome.Genome, horizon int64) Result {
	return Run(s, g, Options{Horizon: horizon})
}

// Run is Evaluate with observation hooks and a custom step limit.
func Run(s *spec.Spec, g genome.Genome, opts Options) Result {
	if opts.StepLimit <= 0 {
		opts.StepLimit = DefaultStepLimit
	}
	divider := int64(g.Divider)
	if divider < 1 {
		divider = 1
	}

	st := &state{
		spec:     s,
		order:    PriorityOrder(g),
		stocks:   s.InitialStocks(),
		pending:  make([]int64, s.StockCount()),
		demand:   make([]int64, s.StockCount()),
		divider:  divider,
		quantity: s.Objective().Kind == spec.ObjectiveQuantity,
	}

	res := Result{}
	steps := 0
	for st.time < opts.Horizon && steps < opts.StepLimit {
		steps++
		for pos, pid := range st.order {
			if !st.tryStart(pos, pid) {
				continue
			}
			res.Started++
			if opts.Observer != nil {
				opts.Observer.Start(st.time, pid, st.stocks)
			}
		}

		if st.jobs.Len() == 0 {
			res.Exhausted = true
			break
		}
		res.Completed += st.advance()
		if opts.Observer != nil {
			opts.Observer.Tick(st.time, st.stocks)
		}
	}

	res.Fitness = st.stocks[s.Objective().Target]
	res.Stocks = st.stocks
	res.Time = st.time
	return res
}

// PriorityOrder lists the active process indices ascending by key, ties
// broken by process index. Disabled genes are left out.
func PriorityOrder(g genome.Genome) []int {
	order := make([]int, 0, len(g.Genes))
	for i, gene := range g.Genes {
		if !gene.Disabled {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		ka, kb := g.Genes[order[a]].Key, g.Genes[order[b]].Key
		if ka != kb {
			return ka < kb
		}
		return order[a] < order[b]
	})
	return order
}

type state struct {
	spec     *spec.Spec
	order    []int
	time     int64
	stocks   []int64
	pending  []int64
	demand   []int64
	jobs     jobQueue
	divider  int64
	quantity bool
}

func (st *state) available(p spec.Process) bool {
	for _, n := range p.Needs {
		if st.stocks[n.Stock] < n.Quantity {
			return false
		}
	}
	return true
}

// tryStart applies the admission check and the demand throttle to the
// process at position pos of the priority order, starting it if both pass.
func (st *state) tryStart(pos, pid int) bool {
	p := st.spec.Process(pid)
	if len(p.Results) == 0 || !st.available(p) {
		return false
	}

	st.computeDemand(pos)
	shouldRun := false
	for _, r := range p.Results {
		if st.demand[r.Stock] > st.pending[r.Stock]/st.divider {
			shouldRun = true
			break
		}
	}
	if !shouldRun {
		return false
	}

	for _, n := range p.Needs {
		st.stocks[n.Stock] -= n.Quantity
	}
	heap.Push(&st.jobs, job{finish: st.time + p.Duration, process: pid})
	for _, r := range p.Results {
		st.pending[r.Stock] += r.Quantity
	}
	return true
}

// computeDemand fills st.demand from the order prefix [0, pos]. The first
// process is the ultimate consumer: it wants unlimited amounts of its results
// (and of its needs under a quantity objective). Every blocked process in the
// prefix adds its shortfall.
func (st *state) computeDemand(pos int) {
	for i := range st.demand {
		st.demand[i] = 0
	}
	for i, pid := range st.order[:pos+1] {
		p := st.spec.Process(pid)
		if i == 0 {
			for _, r := range p.Results {
				st.demand[r.Stock] = infiniteDemand
			}
			if st.quantity {
				for _, n := range p.Needs {
					st.demand[n.Stock] = infiniteDemand
				}
			}
		}
		if st.available(p) {
			continue
		}
		for _, n := range p.Needs {
			deficit := n.Quantity - st.stocks[n.Stock]
			if deficit <= 0 || st.demand[n.Stock] == infiniteDemand {
				continue
			}
			st.demand[n.Stock] = saturatingAdd(st.demand[n.Stock], deficit)
		}
	}
}

// advance jumps to the earliest finish time and applies every job due then.
func (st *state) advance() int {
	st.time = st.jobs[0].finish
	done := 0
	for st.jobs.Len() > 0 && st.jobs[0].finish == st.time {
		j := heap.Pop(&st.jobs).(job)
		for _, r := range st.spec.Process(j.process).Results {
			st.stocks[r.Stock] += r.Quantity
			st.pending[r.Stock] -= r.Quantity
			if st.pending[r.Stock] < 0 {
				st.pending[r.Stock] = 0
			}
		}
		done++
	}
	return done
}

func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
