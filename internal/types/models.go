package types

import "fmt"

// Chunk is a contiguous piece of a script sized for one synthesis call.
type Chunk struct {
	Index  int    `json:"index"`
	Offset int    `json:"offset"`
	Text   string `json:"text"`
}

// End is the byte offset just past the chunk in its source text.
func (c Chunk) End() int { return c.Offset + len(c.Text) }

// AudioSegment is the synthesized audio for one chunk, stored on disk.
type AudioSegment struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
}

// ChunkError records a recoverable failure against a chunk index.
type ChunkError struct {
	Index int   `json:"index"`
	Err   error `json:"-"`
}

func (e ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

// MarshalText lets failures render as plain strings in API responses.
func (e ChunkError) MarshalText() ([]byte, error) {
	return []byte(e.Error()), nil
}

type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusFailure        Status = "failure"
)

// Result is the terminal outcome of one pipeline run.
type Result struct {
	RunID    string       `json:"run_id"`
	Kind     string       `json:"kind"`
	Status   Status       `json:"status"`
	Failures []ChunkError `json:"failures,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Artifact string       `json:"artifact,omitempty"`
	// Published holds object storage URLs when publishing is enabled.
	Published []string `json:"published,omitempty"`
}

// Failed builds a failure result carrying the error text verbatim.
func Failed(err error) Result {
	return Result{Status: StatusFailure, Reason: err.Error()}
}

// Completed picks success or partial success depending on recorded failures.
func Completed(artifact string, failures []ChunkError) Result {
	if len(failures) > 0 {
		return Result{Status: StatusPartialSuccess, Failures: failures, Artifact: artifact}
	}
	return Result{Status: StatusSuccess, Artifact: artifact}
}

// FailedIndices lists the chunk indices that failed, in recorded order.
func (r Result) FailedIndices() []int {
	out := make([]int, 0, len(r.Failures))
	for _, f := range r.Failures {
		out = append(out, f.Index)
	}
	return out
}

// Progress is one (message, fraction) update of a running pipeline.
type Progress struct {
	Message  string  `json:"message"`
	Fraction float64 `json:"fraction"`
}

// Reporter receives progress updates from a pipeline run.
type Reporter interface {
	Report(p Progress)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(p Progress)

func (f ReporterFunc) Report(p Progress) { f(p) }

// Discard drops every update.
var Discard Reporter = ReporterFunc(func(Progress) {})
