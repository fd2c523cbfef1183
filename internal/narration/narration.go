// Package narration turns speaker notes into a narrated mp3: script the
// notes, synthesize the script chunk by chunk and join the segments.
package narration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"speaker-notes-go/internal/audio"
	"speaker-notes-go/internal/chunker"
	"speaker-notes-go/internal/generation"
	"speaker-notes-go/internal/logger"
	"speaker-notes-go/internal/retry"
	"speaker-notes-go/internal/sanitizer"
	"speaker-notes-go/internal/storage"
	"speaker-notes-go/internal/textsource"
	"speaker-notes-go/internal/types"
)

const Kind = "audio"

const (
	maxNewTokens  = 5000
	hapThreshold  = 0.5
	segmentFormat = "segment-%04d.mp3"
)

const promptTemplate = `Rewrite the the following text in the following manner:
1) Make it conversational
2) Tone is professional
3) Print the slide number
4) Remove all URL from the output
This is the input:{{notes}}
Output:`

// Prompt wraps normalized notes in the script instructions.
func Prompt(notes string) string {
	return strings.Replace(promptTemplate, "{{notes}}", notes, 1)
}

type TextGenerator interface {
	Generate(ctx context.Context, r generation.Request) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Artifacts is where finished outputs land.
type Artifacts interface {
	WriteText(ctx context.Context, name, text string) (string, error)
	Place(ctx context.Context, name, src string) (string, error)
}

type Config struct {
	ChunkSize int
	// Concurrency bounds in-flight synthesis requests; 1 is sequential.
	Concurrency int
	// WorkDir holds per-run temp directories; empty uses os.TempDir.
	WorkDir string
}

type Request struct {
	RunID      string
	SourcePath string
	Voice      string
	// ProjectID is the generation project holding the audio prompt.
	ProjectID string
}

type Generator struct {
	cfg    Config
	llm    TextGenerator
	tts    Synthesizer
	joiner audio.Joiner
	out    Artifacts
	log    *logger.Logger
}

func New(cfg Config, llm TextGenerator, tts Synthesizer, joiner audio.Joiner, out Artifacts, log *logger.Logger) *Generator {
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = chunker.DefaultMaxLength
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Generator{cfg: cfg, llm: llm, tts: tts, joiner: joiner, out: out, log: log.Component("narration")}
}

// Run produces script_output.txt and final_output.mp3. Chunk failures are
// collected and reported as partial success; source, script and joiner
// failures end the run.
func (g *Generator) Run(ctx context.Context, req Request, rep types.Reporter) types.Result {
	if rep == nil {
		rep = types.Discard
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	res := g.run(ctx, req, rep)
	res.RunID = req.RunID
	res.Kind = Kind
	switch res.Status {
	case types.StatusSuccess:
		rep.Report(types.Progress{Message: "Completed successfully.", Fraction: 1})
	case types.StatusPartialSuccess:
		rep.Report(types.Progress{Message: "Completed with errors, ensure that the speaker notes are formatted correctly.", Fraction: 1})
	default:
		rep.Report(types.Progress{Message: "Failed: " + res.Reason, Fraction: 1})
	}
	return res
}

func (g *Generator) run(ctx context.Context, req Request, rep types.Reporter) types.Result {
	kind, err := textsource.Detect(req.SourcePath)
	if err != nil {
		return types.Failed(types.NewStageError(types.ErrSource, err))
	}
	rep.Report(types.Progress{Message: readingMessage(kind), Fraction: 0.10})
	notes, _, err := textsource.Read(req.SourcePath)
	if err != nil {
		g.log.WithError(err).Error("reading notes failed")
		return types.Failed(err)
	}

	rep.Report(types.Progress{Message: "Getting script from the generation prompt...", Fraction: 0.15})
	script, err := g.llm.Generate(ctx, generation.Request{
		Input:       Prompt(notes),
		Parameters:  generation.Greedy(maxNewTokens),
		ProjectID:   req.ProjectID,
		Moderations: generation.MaskedHAP(hapThreshold),
	})
	if err != nil {
		g.log.WithError(err).Error("script generation failed")
		return types.Failed(scriptError(err))
	}
	if _, err := g.out.WriteText(ctx, storage.ScriptArtifact, script); err != nil {
		return types.Failed(fmt.Errorf("write script: %w", err))
	}

	rep.Report(types.Progress{Message: "Preparing speech synthesis...", Fraction: 0.20})
	tmp, err := os.MkdirTemp(g.cfg.WorkDir, "run-"+req.RunID+"-*")
	if err != nil {
		return types.Failed(fmt.Errorf("create work dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(tmp); err != nil {
			g.log.WithError(err).Warn("removing work dir failed")
		}
	}()

	chunks := chunker.Split(script, g.cfg.ChunkSize)
	segments, failures, err := g.synthesize(ctx, tmp, chunks, req.Voice, rep)
	if err != nil {
		return types.Failed(err)
	}

	rep.Report(types.Progress{Message: "Combining audio files...", Fraction: 0.90})
	joined := filepath.Join(tmp, storage.AudioArtifact)
	joinFailures, err := g.joiner.Join(ctx, joined, segments)
	if err != nil {
		g.log.WithError(err).Error("joining audio failed")
		if ctx.Err() != nil {
			return types.Failed(ctx.Err())
		}
		return types.Failed(types.NewStageError(types.ErrConcatenation, err))
	}
	failures = append(failures, joinFailures...)
	slices.SortStableFunc(failures, func(a, b types.ChunkError) int { return a.Index - b.Index })

	artifact, err := g.out.Place(ctx, storage.AudioArtifact, joined)
	if err != nil {
		return types.Failed(fmt.Errorf("place audio: %w", err))
	}
	g.log.WithField("artifact", artifact).WithField("chunks", len(chunks)).WithField("failures", len(failures)).Info("narration complete")
	return types.Completed(artifact, failures)
}

// synthesize fans chunks out to the synthesizer with at most
// cfg.Concurrency requests in flight. Segments come back in chunk order;
// failed and empty chunks have none. Failures are unordered. Only
// cancellation returns an error.
func (g *Generator) synthesize(ctx context.Context, dir string, chunks []types.Chunk, voice string, rep types.Reporter) ([]types.AudioSegment, []types.ChunkError, error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []types.ChunkError
		slots    = make([]*types.AudioSegment, len(chunks))
		sem      = make(chan struct{}, g.cfg.Concurrency)
	)
	record := func(i int, err error) {
		g.log.WithError(err).WithField("index", i).Warn("chunk synthesis failed")
		mu.Lock()
		failures = append(failures, types.ChunkError{
			Index: i,
			Err:   &types.StageError{Kind: types.ErrSynthesis, Index: i, Err: err},
		})
		mu.Unlock()
	}

	n := len(chunks)
	var canceled error
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			canceled = err
			break
		}
		rep.Report(types.Progress{
			Message:  fmt.Sprintf("Generating audio segment %d/%d", i+1, n),
			Fraction: 0.20 + float64(i)/float64(n)*0.65,
		})
		text := sanitizer.Sanitize(c.Text)
		if text == "" {
			continue
		}

		acquired := false
		select {
		case sem <- struct{}{}:
			acquired = true
		case <-ctx.Done():
		}
		if err := ctx.Err(); err != nil {
			if acquired {
				<-sem
			}
			canceled = err
			break
		}

		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			defer func() { <-sem }()
			b, err := g.tts.Synthesize(ctx, text, voice)
			if err != nil {
				record(i, err)
				return
			}
			path := filepath.Join(dir, fmt.Sprintf(segmentFormat, i))
			if err := os.WriteFile(path, b, 0o600); err != nil {
				record(i, err)
				return
			}
			slots[i] = &types.AudioSegment{Index: i, Path: path}
		}(i, text)
	}
	wg.Wait()

	if canceled != nil {
		return nil, nil, canceled
	}
	segments := make([]types.AudioSegment, 0, n)
	for _, s := range slots {
		if s != nil {
			segments = append(segments, *s)
		}
	}
	return segments, failures, nil
}

func readingMessage(k textsource.Kind) string {
	switch k {
	case textsource.KindDeck:
		return "Reading powerpoint slides..."
	case textsource.KindWorkbook:
		return "Reading notes workbook..."
	default:
		return "Reading text file..."
	}
}

func scriptError(err error) error {
	var se *retry.StatusError
	if errors.As(err, &se) {
		err = errors.New("Non-200 response: " + se.Body)
	}
	return types.NewStageError(types.ErrScript, err)
}
