package types

import (
	"errors"
	"fmt"
)

var (
	ErrAuth          = errors.New("auth error")
	ErrTranscription = errors.New("transcription error")
	ErrGeneration    = errors.New("generation error")
	ErrScript        = errors.New("script error")
	ErrSynthesis     = errors.New("synthesis error")
	ErrConcatenation = errors.New("concatenation error")
	ErrSource        = errors.New("text source error")
	ErrBusy          = errors.New("a pipeline run is already active")
)

// StageError ties a failure to its error kind and, for per-chunk
// failures, to the chunk index (-1 otherwise).
type StageError struct {
	Kind  error
	Index int
	Err   error
}

// NewStageError wraps err under kind with no chunk index.
func NewStageError(kind, err error) *StageError {
	return &StageError{Kind: kind, Index: -1, Err: err}
}

func (e *StageError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%v: chunk %d: %v", e.Kind, e.Index, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error { return []error{e.Kind, e.Err} }
