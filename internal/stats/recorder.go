package stats

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

type StartEvent struct {
	Time    int64
	Process int
}

type Snapshot struct {
	Time   int64
	Stocks []int64
}

// Recorder collects a simulation's start events and stock snapshots. It
// satisfies sim.Observer.
type Recorder struct {
	Starts    []StartEvent
	Snapshots []Snapshot
}

// NewRecorder seeds the trajectory with the stocks at time zero.
func NewRecorder(initial []int64) *Recorder {
	return &Recorder{
		Snapshots: []Snapshot{{Time: 0, Stocks: append([]int64(nil), initial...)}},
	}
}

func (r *Recorder) Start(time int64, process int, _ []int64) {
	r.Starts = append(r.Starts, StartEvent{Time: time, Process: process})
}

func (r *Recorder) Tick(time int64, stocks []int64) {
	r.Snapshots = append(r.Snapshots, Snapshot{Time: time, Stocks: append([]int64(nil), stocks...)})
}

// WriteTrajectory writes one `time,<stock>...` CSV row per snapshot.
func (r *Recorder) WriteTrajectory(w io.Writer, stockNames []string) error {
	cw := csv.NewWriter(w)
	header := append([]string{"time"}, stockNames...)
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, len(header))
	for _, snap := range r.Snapshots {
		row[0] = strconv.FormatInt(snap.Time, 10)
		for i := range stockNames {
			var q int64
			if i < len(snap.Stocks) {
				q = snap.Stocks[i]
			}
			row[i+1] = strconv.FormatInt(q, 10)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTrace writes the execution trace as `<cycle>:<process>` lines.
func (r *Recorder) WriteTrace(w io.Writer, processNames []string) error {
	bw := bufio.NewWriter(w)
	for _, e := range r.Starts {
		name := strconv.Itoa(e.Process)
		if e.Process >= 0 && e.Process < len(processNames) {
			name = processNames[e.Process]
		}
		if _, err := fmt.Fprintf(bw, "%d:%s\n", e.Time, name); err != nil {
			return err
		}
	}
	return bw.Flush()
}
