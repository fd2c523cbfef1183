// Package synthesis turns text into encoded audio through the
// text-to-speech synthesize endpoint.
package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"speaker-notes-go/internal/auth"
	"speaker-notes-go/internal/retry"
)

const (
	DefaultServiceURL = "https://api.us-south.text-to-speech.watson.cloud.ibm.com"
	DefaultAccept     = "audio/mp3"
)

// Voice is a selectable narration voice.
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Voices lists the voices offered to callers.
var Voices = []Voice{
	{ID: "en-US_AllisonV3Voice", Name: "Allison"},
	{ID: "en-US_LisaV3Voice", Name: "Lisa"},
	{ID: "en-US_MichaelV3Voice", Name: "Michael"},
}

type Config struct {
	ServiceURL string
	Accept     string
}

type Client struct {
	cfg    Config
	token  auth.Token
	client *http.Client
	policy retry.Policy
}

// New builds a client bound to one run's bearer token.
func New(cfg Config, token auth.Token, client *http.Client, policy retry.Policy) *Client {
	if cfg.ServiceURL == "" {
		cfg.ServiceURL = DefaultServiceURL
	}
	if cfg.Accept == "" {
		cfg.Accept = DefaultAccept
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{cfg: cfg, token: token, client: client, policy: policy}
}

// Synthesize returns the raw audio bytes for text spoken by voice. The
// text must already be sanitized.
func (c *Client) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		return nil, errors.New("voice is required")
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	endpoint := strings.TrimRight(c.cfg.ServiceURL, "/") + "/v1/synthesize?voice=" + url.QueryEscape(voice)

	audio, err := retry.Send(ctx, c.client, c.policy, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", c.cfg.Accept)
		req.Header.Set("Authorization", c.token.ServiceHeader())
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("tts failed: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("tts returned no audio")
	}
	return audio, nil
}
