package pipeline

import (
	"sync"

	"speaker-notes-go/internal/types"
)

// Status is a point-in-time view of the tracker.
type Status struct {
	Running  bool                    `json:"running"`
	RunID    string                  `json:"run_id,omitempty"`
	Kind     string                  `json:"kind,omitempty"`
	Progress types.Progress          `json:"progress"`
	Results  map[string]types.Result `json:"results"`
}

// Tracker keeps the latest progress of the active run and the last result
// of each kind for polling clients. Fractions never go backwards within a
// run.
type Tracker struct {
	mu       sync.Mutex
	running  bool
	runID    string
	kind     string
	progress types.Progress
	results  map[string]types.Result
}

func NewTracker() *Tracker {
	return &Tracker{results: make(map[string]types.Result)}
}

func (t *Tracker) Begin(runID, kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
	t.runID = runID
	t.kind = kind
	t.progress = types.Progress{}
}

func (t *Tracker) Report(p types.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.Fraction < t.progress.Fraction {
		p.Fraction = t.progress.Fraction
	}
	t.progress = p
}

func (t *Tracker) Finish(res types.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.results[res.Kind] = res
}

func (t *Tracker) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	results := make(map[string]types.Result, len(t.results))
	for k, v := range t.results {
		results[k] = v
	}
	return Status{
		Running:  t.running,
		RunID:    t.runID,
		Kind:     t.kind,
		Progress: t.progress,
		Results:  results,
	}
}
