// Package openai runs transcription, text generation and speech
// synthesis against the OpenAI API instead of the IBM services.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"

	"speaker-notes-go/internal/generation"
	"speaker-notes-go/internal/logger"
	"speaker-notes-go/internal/retry"
	"speaker-notes-go/internal/types"
)

const (
	DefaultChatModel   = goopenai.GPT4oMini
	DefaultSpeechModel = "tts-1"
)

type Config struct {
	APIKey      string
	BaseURL     string
	ChatModel   string
	SpeechModel string
}

// Client implements the transcriber, text generator and synthesizer
// consumed by the notes and narration generators.
type Client struct {
	client *goopenai.Client
	cfg    Config
	policy retry.Policy
	log    *logger.Logger
}

func New(cfg Config, httpClient *http.Client, policy retry.Policy, log *logger.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, types.NewStageError(types.ErrAuth, errors.New("OPENAI_API_KEY not set"))
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = DefaultSpeechModel
	}
	if log == nil {
		log = logger.Discard()
	}
	oc := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if httpClient != nil {
		oc.HTTPClient = httpClient
	}
	return &Client{
		client: goopenai.NewClientWithConfig(oc),
		cfg:    cfg,
		policy: policy,
		log:    log.Component("openai"),
	}, nil
}

// Transcribe sends the recording to whisper-1.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	var text string
	err := retry.Do(ctx, c.policy, func() error {
		resp, err := c.client.CreateTranscription(ctx, goopenai.AudioRequest{
			Model:    goopenai.Whisper1,
			FilePath: audioPath,
		})
		if err != nil {
			return statusError(err)
		}
		text = resp.Text
		return nil
	})
	if err != nil {
		return "", types.NewStageError(types.ErrTranscription, err)
	}
	return text, nil
}

// Generate maps the watsonx-style request onto a single-message chat
// completion. Greedy decoding becomes temperature 0; moderations are not
// supported by this backend and are ignored.
func (c *Client) Generate(ctx context.Context, r generation.Request) (string, error) {
	if r.Moderations != nil {
		c.log.Debug("moderations are not applied on the openai backend")
	}
	req := goopenai.ChatCompletionRequest{
		Model: c.cfg.ChatModel,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: r.Input},
		},
		MaxTokens:   r.Parameters.MaxNewTokens,
		Temperature: 0,
	}
	var out string
	err := retry.Do(ctx, c.policy, func() error {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return statusError(err)
		}
		if len(resp.Choices) == 0 {
			return retry.Permanent(errors.New("chat completion has no choices"))
		}
		out = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// Synthesize renders text as mp3. IBM voice ids are mapped onto the
// closest OpenAI voice.
func (c *Client) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	var audio []byte
	err := retry.Do(ctx, c.policy, func() error {
		resp, err := c.client.CreateSpeech(ctx, goopenai.CreateSpeechRequest{
			Model:          goopenai.SpeechModel(c.cfg.SpeechModel),
			Input:          text,
			Voice:          SpeechVoice(voice),
			ResponseFormat: goopenai.SpeechResponseFormatMp3,
		})
		if err != nil {
			return statusError(err)
		}
		defer resp.Close()
		b, err := io.ReadAll(resp)
		if err != nil {
			return fmt.Errorf("read speech: %w", err)
		}
		audio = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("tts failed: %w", err)
	}
	return audio, nil
}

var voiceMap = map[string]goopenai.SpeechVoice{
	"en-US_AllisonV3Voice": goopenai.VoiceNova,
	"en-US_LisaV3Voice":    goopenai.VoiceShimmer,
	"en-US_MichaelV3Voice": goopenai.VoiceOnyx,
}

// SpeechVoice resolves a voice id. OpenAI voice names pass through;
// unknown ids fall back to alloy.
func SpeechVoice(id string) goopenai.SpeechVoice {
	if v, ok := voiceMap[id]; ok {
		return v
	}
	switch v := goopenai.SpeechVoice(id); v {
	case goopenai.VoiceAlloy, goopenai.VoiceEcho, goopenai.VoiceFable,
		goopenai.VoiceOnyx, goopenai.VoiceNova, goopenai.VoiceShimmer:
		return v
	}
	return goopenai.VoiceAlloy
}

// statusError turns API failures into retry.StatusError so the retry
// policy can tell transient from permanent ones.
func statusError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &retry.StatusError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return &retry.StatusError{StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return err
}
