// Package auth exchanges a long-lived API key for a short-lived bearer
// token at the identity endpoint.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"speaker-notes-go/internal/retry"
	"speaker-notes-go/internal/types"
)

const (
	DefaultIdentityURL = "https://iam.cloud.ibm.com/identity/token"
	apiKeyGrant        = "urn:ibm:params:oauth:grant-type:apikey"
)

// Token is a bearer credential valid for one pipeline run. It is never
// persisted.
type Token struct {
	AccessToken string
}

// Header is the Authorization value for the text-generation endpoint. The
// "Bearer:" form with a colon is what that endpoint has always been sent.
func (t Token) Header() string { return "Bearer: " + t.AccessToken }

// ServiceHeader is the standard Authorization value for the speech services.
func (t Token) ServiceHeader() string { return "Bearer " + t.AccessToken }

type Provider struct {
	url    string
	client *http.Client
	policy retry.Policy
}

func NewProvider(identityURL string, client *http.Client, policy retry.Policy) *Provider {
	if identityURL == "" {
		identityURL = DefaultIdentityURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Provider{url: identityURL, client: client, policy: policy}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Token performs the API-key grant. Any failure is reported as types.ErrAuth.
func (p *Provider) Token(ctx context.Context, apiKey string) (Token, error) {
	if strings.TrimSpace(apiKey) == "" {
		return Token{}, types.NewStageError(types.ErrAuth, errors.New("api key is empty"))
	}
	form := url.Values{}
	form.Set("apikey", apiKey)
	form.Set("grant_type", apiKeyGrant)
	encoded := form.Encode()

	body, err := retry.Send(ctx, p.client, p.policy, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return Token{}, types.NewStageError(types.ErrAuth, err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, types.NewStageError(types.ErrAuth, fmt.Errorf("decode token response: %w", err))
	}
	if tr.AccessToken == "" {
		return Token{}, types.NewStageError(types.ErrAuth, errors.New("token response has no access_token"))
	}
	return Token{AccessToken: tr.AccessToken}, nil
}
