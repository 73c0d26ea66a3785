// Package token exchanges a long-lived API key for a short-lived session
// token. The long-lived key is never stored; callers pass it per mint.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AuthError indicates missing or rejected credentials. The connection is
// never attempted once an AuthError surfaces.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "auth: " + e.Reason
}

// Ephemeral is a short-lived token scoped to one session.
type Ephemeral struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Provider mints ephemeral tokens from the credential endpoint.
type Provider struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewProvider creates a provider for the given mint endpoint.
func NewProvider(url string, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Mint requests a fresh ephemeral token using apiKey.
func (p *Provider) Mint(ctx context.Context, apiKey string) (Ephemeral, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return Ephemeral{}, &AuthError{Reason: "api key is empty"}
	}
	if p.url == "" {
		return Ephemeral{}, &AuthError{Reason: "token endpoint is not configured"}
	}

	body, err := json.Marshal(map[string]any{"scope": "session"})
	if err != nil {
		return Ephemeral{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Ephemeral{}, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Ephemeral{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Ephemeral{}, &AuthError{Reason: fmt.Sprintf("credentials rejected (%d)", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Ephemeral{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var minted Ephemeral
	if err := json.NewDecoder(resp.Body).Decode(&minted); err != nil {
		return Ephemeral{}, fmt.Errorf("decode token response: %w", err)
	}
	if strings.TrimSpace(minted.Token) == "" {
		return Ephemeral{}, errors.New("token endpoint returned an empty token")
	}

	p.logger.Debug("ephemeral token minted", zap.Time("expires_at", minted.ExpiresAt))
	return minted, nil
}
