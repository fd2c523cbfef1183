// Package generation calls the hosted text-generation endpoint.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"speaker-notes-go/internal/auth"
	"speaker-notes-go/internal/logger"
	"speaker-notes-go/internal/retry"
)

const (
	DefaultURL     = "https://us-south.ml.cloud.ibm.com/ml/v1/text/generation?version=2023-05-29"
	DefaultModelID = "mistralai/mistral-large"
)

type Parameters struct {
	DecodingMethod    string  `json:"decoding_method"`
	MaxNewTokens      int     `json:"max_new_tokens"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

type Mask struct {
	RemoveEntityValue bool `json:"remove_entity_value"`
}

type Filter struct {
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold"`
	Mask      Mask    `json:"mask"`
}

// HAP is the hate/abuse/profanity moderation applied to input and output.
type HAP struct {
	Input  Filter `json:"input"`
	Output Filter `json:"output"`
}

type Moderations struct {
	HAP HAP `json:"hap"`
}

// MaskedHAP filters both directions at threshold and masks flagged entities.
func MaskedHAP(threshold float64) *Moderations {
	f := Filter{Enabled: true, Threshold: threshold, Mask: Mask{RemoveEntityValue: true}}
	return &Moderations{HAP: HAP{Input: f, Output: f}}
}

// Greedy is the decoding used by every prompt in this service.
func Greedy(maxNewTokens int) Parameters {
	return Parameters{DecodingMethod: "greedy", MaxNewTokens: maxNewTokens, RepetitionPenalty: 1}
}

type Request struct {
	Input       string       `json:"input"`
	Parameters  Parameters   `json:"parameters"`
	ModelID     string       `json:"model_id"`
	ProjectID   string       `json:"project_id"`
	Moderations *Moderations `json:"moderations,omitempty"`
}

type response struct {
	Results []struct {
		GeneratedText string `json:"generated_text"`
	} `json:"results"`
}

type Config struct {
	URL     string
	ModelID string
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
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{cfg: cfg, token: token, client: client, policy: policy, log: log.Component("generation")}
}

// Generate returns the first result's generated text. A non-2xx response
// comes back as a *retry.StatusError carrying the body verbatim.
func (c *Client) Generate(ctx context.Context, r Request) (string, error) {
	if r.ModelID == "" {
		r.ModelID = c.cfg.ModelID
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	c.log.WithField("model_id", r.ModelID).WithField("max_new_tokens", r.Parameters.MaxNewTokens).Info("requesting generation")

	body, err := retry.Send(ctx, c.client, c.policy, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", c.token.Header())
		return req, nil
	})
	if err != nil {
		return "", err
	}

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unexpected llm response: %v body=%s", err, string(body))
	}
	if len(resp.Results) == 0 {
		return "", errors.New("llm response has no results")
	}
	return resp.Results[0].GeneratedText, nil
}
