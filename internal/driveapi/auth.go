package driveapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TokenExchanger performs the refresh-token exchange against a drive's
// baseURL without needing a fully-constructed Client (the Token Cache calls
// this before any per-drive Client exists). It implements
// internal/tokencache.Exchanger.
type TokenExchanger struct {
	httpClient *http.Client
}

// NewTokenExchanger returns a TokenExchanger. httpClient may be nil.
func NewTokenExchanger(httpClient *http.Client) *TokenExchanger {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &TokenExchanger{httpClient: httpClient}
}

// ExchangeRefreshToken implements tokencache.Exchanger: POST refresh_token,
// returns {token_type, access_token, refresh_token, expires_in} (spec §6).
func (e *TokenExchanger) ExchangeRefreshToken(ctx context.Context, baseURL, refreshToken string) (string, time.Duration, string, error) {
	reqBody, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	})
	if err != nil {
		return "", 0, "", fmt.Errorf("driveapi: encoding token refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/oauth/token", bytes.NewReader(reqBody))
	if err != nil {
		return "", 0, "", fmt.Errorf("driveapi: creating token refresh request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", 0, "", fmt.Errorf("driveapi: %w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, code := readErrorBody(resp)
		return "", 0, "", &APIError{StatusCode: resp.StatusCode, Code: code, Message: body, Kind: classify(resp.StatusCode, code)}
	}

	var out tokenExchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, "", fmt.Errorf("driveapi: decoding token refresh response: %w", err)
	}

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return "", 0, "", fmt.Errorf("driveapi: draining token refresh response: %w", err)
	}

	return out.AccessToken, time.Duration(out.ExpiresIn) * time.Second, out.RefreshToken, nil
}
