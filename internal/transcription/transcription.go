// Package transcription talks to the speech-to-text recognize endpoint.
package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"speaker-notes-go/internal/auth"
	"speaker-notes-go/internal/logger"
	"speaker-notes-go/internal/retry"
	"speaker-notes-go/internal/types"
)

const (
	DefaultServiceURL  = "https://api.us-south.speech-to-text.watson.cloud.ibm.com"
	DefaultModel       = "en-US_BroadbandModel"
	DefaultContentType = "audio/mp3"
)

type Config struct {
	ServiceURL  string
	Model       string
	ContentType string
}

type Client struct {
	cfg    Config
	token  auth.Token
	client *http.Client
	policy retry.Policy
	log    *logger.Logger
}

// New builds a client bound to one run's bearer token.
func New(cfg Config, token auth.Token, client *http.Client, policy retry.Policy, log *logger.Logger) *Client {
	if cfg.ServiceURL == "" {
		cfg.ServiceURL = DefaultServiceURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.ContentType == "" {
		cfg.ContentType = DefaultContentType
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{cfg: cfg, token: token, client: client, policy: policy, log: log.Component("transcription")}
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"results"`
}

// Transcribe submits the whole audio file and joins the best transcript
// of every result in response order.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return "", types.NewStageError(types.ErrTranscription, fmt.Errorf("read audio file: %w", err))
	}

	endpoint := strings.TrimRight(c.cfg.ServiceURL, "/") + "/v1/recognize?model=" + url.QueryEscape(c.cfg.Model)
	c.log.WithField("bytes", len(audio)).WithField("model", c.cfg.Model).Info("submitting audio for recognition")

	body, err := retry.Send(ctx, c.client, c.policy, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", c.cfg.ContentType)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", c.token.ServiceHeader())
		return req, nil
	})
	if err != nil {
		return "", types.NewStageError(types.ErrTranscription, err)
	}

	var resp recognizeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", types.NewStageError(types.ErrTranscription, fmt.Errorf("json decode error: %v body=%s", err, string(body)))
	}

	var sb strings.Builder
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		sb.WriteString(r.Alternatives[0].Transcript)
	}
	c.log.WithField("results", len(resp.Results)).Info("recognition finished")
	return sb.String(), nil
}
