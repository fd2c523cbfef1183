// Package pipeline sequences credential acquisition and the two
// generators, allowing one active run at a time.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"speaker-notes-go/internal/audio"
	"speaker-notes-go/internal/logger"
	"speaker-notes-go/internal/narration"
	"speaker-notes-go/internal/notes"
	"speaker-notes-go/internal/settings"
	"speaker-notes-go/internal/storage"
	"speaker-notes-go/internal/types"
)

type NotesRequest struct {
	RunID     string
	AudioPath string
}

type AudioRequest struct {
	RunID      string
	SourcePath string
	Voice      string
}

// RunObserver is implemented by reporters that also want to know when a
// run starts and how it ended.
type RunObserver interface {
	Begin(runID, kind string)
	Finish(res types.Result)
}

// Run is a started pipeline; Done yields exactly one result.
type Run struct {
	ID   string
	Done <-chan types.Result
}

type Options struct {
	Backend   Backend
	Output    *storage.Local
	Joiner    audio.Joiner
	Narration narration.Config
	// Publisher is optional.
	Publisher storage.Publisher
	Log       *logger.Logger
}

type Driver struct {
	opts Options
	log  *logger.Logger
	busy atomic.Bool
}

func NewDriver(opts Options) *Driver {
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}
	return &Driver{opts: opts, log: log.Component("pipeline")}
}

// Busy reports whether a run is active.
func (d *Driver) Busy() bool { return d.busy.Load() }

// GenerateNotes runs speech to notes and blocks until it ends.
func (d *Driver) GenerateNotes(ctx context.Context, s settings.Settings, req NotesRequest, rep types.Reporter) (types.Result, error) {
	run, err := d.StartNotes(ctx, s, req, rep)
	if err != nil {
		return types.Result{}, err
	}
	return <-run.Done, nil
}

// GenerateAudio runs notes to audio and blocks until it ends.
func (d *Driver) GenerateAudio(ctx context.Context, s settings.Settings, req AudioRequest, rep types.Reporter) (types.Result, error) {
	run, err := d.StartAudio(ctx, s, req, rep)
	if err != nil {
		return types.Result{}, err
	}
	return <-run.Done, nil
}

// StartNotes claims the driver and runs in the background. It returns
// types.ErrBusy without side effects when another run is active.
func (d *Driver) StartNotes(ctx context.Context, s settings.Settings, req NotesRequest, rep types.Reporter) (Run, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	return d.start(req.RunID, notes.Kind, rep, func(log *logger.Logger) types.Result {
		stt, llm, err := d.opts.Backend.Notes(ctx, s)
		if err != nil {
			return types.Failed(err)
		}
		g := notes.New(stt, llm, d.opts.Output, log)
		res := g.Run(ctx, notes.Request{AudioPath: req.AudioPath, ProjectID: s.NotesPrompt}, rep)
		if res.Status != types.StatusFailure {
			res.Published = d.publish(ctx, log, req.RunID, res.Artifact)
		}
		return res
	})
}

// StartAudio is StartNotes for the notes to audio direction.
func (d *Driver) StartAudio(ctx context.Context, s settings.Settings, req AudioRequest, rep types.Reporter) (Run, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	return d.start(req.RunID, narration.Kind, rep, func(log *logger.Logger) types.Result {
		llm, tts, err := d.opts.Backend.Audio(ctx, s)
		if err != nil {
			return types.Failed(err)
		}
		g := narration.New(d.opts.Narration, llm, tts, d.opts.Joiner, d.opts.Output, log)
		res := g.Run(ctx, narration.Request{
			RunID:      req.RunID,
			SourcePath: req.SourcePath,
			Voice:      req.Voice,
			ProjectID:  s.AudioPrompt,
		}, rep)
		if res.Status != types.StatusFailure {
			res.Published = d.publish(ctx, log, req.RunID,
				d.opts.Output.Path(storage.ScriptArtifact), res.Artifact)
		}
		return res
	})
}

func (d *Driver) start(runID, kind string, rep types.Reporter, fn func(*logger.Logger) types.Result) (Run, error) {
	if !d.busy.CompareAndSwap(false, true) {
		return Run{}, types.ErrBusy
	}
	if rep == nil {
		rep = types.Discard
	}
	obs, _ := rep.(RunObserver)
	if obs != nil {
		obs.Begin(runID, kind)
	}

	log := d.log.WithRun(runID, kind)
	done := make(chan types.Result, 1)
	go func() {
		var res types.Result
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Error("run panicked")
				res = types.Failed(fmt.Errorf("run panicked: %v", r))
				res.RunID, res.Kind = runID, kind
			}
			if obs != nil {
				obs.Finish(res)
			}
			d.busy.Store(false)
			done <- res
		}()

		log.Info("run started")
		res = fn(log)
		res.RunID, res.Kind = runID, kind
		if res.Status == types.StatusFailure {
			log.WithField("reason", res.Reason).Error("run failed")
		} else {
			log.WithField("status", res.Status).WithField("failed_chunks", res.FailedIndices()).Info("run finished")
		}
	}()
	return Run{ID: runID, Done: done}, nil
}

// publish copies artifacts to object storage. Failures are logged and
// never change the run's outcome.
func (d *Driver) publish(ctx context.Context, log *logger.Logger, runID string, files ...string) []string {
	if d.opts.Publisher == nil {
		return nil
	}
	urls, err := d.opts.Publisher.Publish(ctx, runID, files)
	if err != nil {
		log.WithError(err).Warn("publishing artifacts failed")
	}
	return urls
}
