// Package notes turns a recorded talk into written speaker notes:
// transcribe the recording, then rewrite the transcript formally.
package notes

import (
	"context"
	"errors"
	"strings"

	"speaker-notes-go/internal/generation"
	"speaker-notes-go/internal/logger"
	"speaker-notes-go/internal/retry"
	"speaker-notes-go/internal/storage"
	"speaker-notes-go/internal/types"
)

const Kind = "notes"

const maxNewTokens = 2000

const promptTemplate = `Rewrite the input text in a more formal and concise style, applying the following changes to it:
1. Avoid pronouns like I, you, us, we.
2. Expand capitalized acronyms.
3. Do not change the name of watsonx.data or watsonx.ai.
4. Do not include text referring to speaker notes.
5. Do not include these instructions in the output.
6. Do not explain the revised output or provide a confidence level.

Input:{{transcript}}
Output:

`

// Prompt wraps a transcript in the notes rewriting instructions.
func Prompt(transcript string) string {
	return strings.Replace(promptTemplate, "{{transcript}}", transcript, 1)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type TextGenerator interface {
	Generate(ctx context.Context, r generation.Request) (string, error)
}

type ArtifactWriter interface {
	WriteText(ctx context.Context, name, text string) (string, error)
}

// Request describes one notes run.
type Request struct {
	AudioPath string
	// ProjectID is the generation project holding the notes prompt.
	ProjectID string
}

type Generator struct {
	stt Transcriber
	llm TextGenerator
	out ArtifactWriter
	log *logger.Logger
}

func New(stt Transcriber, llm TextGenerator, out ArtifactWriter, log *logger.Logger) *Generator {
	if log == nil {
		log = logger.Discard()
	}
	return &Generator{stt: stt, llm: llm, out: out, log: log.Component("notes")}
}

// Run transcribes, drafts and writes the notes artifact. Every failure is
// fatal and comes back as a failure result.
func (g *Generator) Run(ctx context.Context, req Request, rep types.Reporter) types.Result {
	if rep == nil {
		rep = types.Discard
	}
	res := g.run(ctx, req, rep)
	res.Kind = Kind
	switch res.Status {
	case types.StatusSuccess:
		rep.Report(types.Progress{Message: "Completed successfully!", Fraction: 1})
	default:
		rep.Report(types.Progress{Message: "Failed: " + res.Reason, Fraction: 1})
	}
	return res
}

func (g *Generator) run(ctx context.Context, req Request, rep types.Reporter) types.Result {
	rep.Report(types.Progress{Message: "Recognizing audio file, this may take a few minutes...", Fraction: 0.15})
	transcript, err := g.stt.Transcribe(ctx, req.AudioPath)
	if err != nil {
		g.log.WithError(err).Error("transcription failed")
		return types.Failed(kindOf(err, types.ErrTranscription))
	}
	g.log.WithField("transcript_len", len(transcript)).Info("transcription complete")

	rep.Report(types.Progress{Message: "Generating speaker notes text...", Fraction: 0.75})
	text, err := g.llm.Generate(ctx, generation.Request{
		Input:      Prompt(transcript),
		Parameters: generation.Greedy(maxNewTokens),
		ProjectID:  req.ProjectID,
	})
	if err != nil {
		g.log.WithError(err).Error("notes generation failed")
		return types.Failed(kindOf(err, types.ErrGeneration))
	}

	rep.Report(types.Progress{Message: "Writing output...", Fraction: 0.95})
	path, err := g.out.WriteText(ctx, storage.NotesArtifact, text)
	if err != nil {
		g.log.WithError(err).Error("writing notes failed")
		return types.Failed(err)
	}
	g.log.WithField("artifact", path).Info("notes written")
	return types.Completed(path, nil)
}

// kindOf tags err with kind unless it already carries it. Non-2xx bodies
// are surfaced verbatim.
func kindOf(err, kind error) error {
	if errors.Is(err, kind) {
		return err
	}
	var se *retry.StatusError
	if errors.As(err, &se) {
		err = errors.New("Non-200 response: " + se.Body)
	}
	return types.NewStageError(kind, err)
}
