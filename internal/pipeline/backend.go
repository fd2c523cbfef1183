package pipeline

import (
	"context"
	"net/http"

	"speaker-notes-go/internal/auth"
	"speaker-notes-go/internal/generation"
	"speaker-notes-go/internal/logger"
	"speaker-notes-go/internal/narration"
	"speaker-notes-go/internal/notes"
	"speaker-notes-go/internal/openai"
	"speaker-notes-go/internal/retry"
	"speaker-notes-go/internal/settings"
	"speaker-notes-go/internal/synthesis"
	"speaker-notes-go/internal/transcription"
)

// Backend builds the service clients for one run from that run's settings.
type Backend interface {
	Notes(ctx context.Context, s settings.Settings) (notes.Transcriber, notes.TextGenerator, error)
	Audio(ctx context.Context, s settings.Settings) (narration.TextGenerator, narration.Synthesizer, error)
}

// Watson exchanges the configured API keys for IAM tokens and talks to
// the IBM speech and generation services.
type Watson struct {
	Auth       *auth.Provider
	Client     *http.Client
	Policy     retry.Policy
	Generation generation.Config
	STTModel   string
	Log        *logger.Logger
}

func (w *Watson) Notes(ctx context.Context, s settings.Settings) (notes.Transcriber, notes.TextGenerator, error) {
	genTok, err := w.Auth.Token(ctx, s.APIKey)
	if err != nil {
		return nil, nil, err
	}
	sttTok, err := w.Auth.Token(ctx, s.STTAPIKey)
	if err != nil {
		return nil, nil, err
	}
	stt := transcription.New(transcription.Config{ServiceURL: s.STTURL, Model: w.STTModel}, sttTok, w.Client, w.Policy, w.Log)
	return stt, generation.New(w.Generation, genTok, w.Client, w.Policy, w.Log), nil
}

func (w *Watson) Audio(ctx context.Context, s settings.Settings) (narration.TextGenerator, narration.Synthesizer, error) {
	genTok, err := w.Auth.Token(ctx, s.APIKey)
	if err != nil {
		return nil, nil, err
	}
	ttsTok, err := w.Auth.Token(ctx, s.TTSAPIKey)
	if err != nil {
		return nil, nil, err
	}
	tts := synthesis.New(synthesis.Config{ServiceURL: s.TTSURL}, ttsTok, w.Client, w.Policy)
	return generation.New(w.Generation, genTok, w.Client, w.Policy, w.Log), tts, nil
}

// OpenAI serves every stage from one OpenAI client; settings keys are
// not used.
type OpenAI struct {
	Client *openai.Client
}

func (o *OpenAI) Notes(context.Context, settings.Settings) (notes.Transcriber, notes.TextGenerator, error) {
	return o.Client, o.Client, nil
}

func (o *OpenAI) Audio(context.Context, settings.Settings) (narration.TextGenerator, narration.Synthesizer, error) {
	return o.Client, o.Client, nil
}
