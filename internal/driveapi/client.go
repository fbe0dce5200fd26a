package driveapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Retry policy constants, spec §4.1: "429 ... Up to 5 attempts; the 6th
// raises a Throttled error" and "Network/transport error -> raise after 5
// retries with exponential backoff (5^n seconds)".
const (
	maxAttempts        = 5
	throttleBackoff    = 250 * time.Millisecond
	networkBackoffBase = 5 * time.Second

	userAgent = "drivesync/0.1"

	// listPaceInterval is the minimum spacing between list/search calls
	// within one job, spec §5 "Rate discipline" / §8 property 8.
	listPaceInterval = 250 * time.Millisecond
)

// TokenSource supplies a bearer token for one drive config, backed by
// internal/tokencache.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is an HTTP client for the cloud-drive API: request construction,
// retry with the spec's own backoff law, and error classification.
type Client struct {
	baseURL    string
	driveID    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	limiter    *rate.Limiter

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a driveapi Client. httpClient may be nil (defaults to
// http.DefaultClient). limiter paces list/search calls at listPaceInterval.
func NewClient(baseURL, driveID string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		driveID:    driveID,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Every(listPaceInterval), 1),
		sleepFunc:  timeSleep,
	}
}

// DriveID returns the drive id this client is bound to.
func (c *Client) DriveID() string {
	return c.driveID
}

// doJSON POSTs/gets a JSON request and decodes a JSON response, running the
// full retry policy. reqBody may be nil for GET-shaped calls.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody any, paced bool) error {
	if paced {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("driveapi: %w", ErrCanceled)
		}
	}

	var bodyBytes []byte

	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("driveapi: encoding request: %w", err)
		}

		bodyBytes = b
	}

	resp, err := c.doRetry(ctx, method, path, bodyBytes)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if respBody == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("driveapi: decoding response: %w", err)
	}

	return nil
}

// doRetry runs one request through the full retry policy, returning the
// first 2xx response or a terminal *APIError / Kind-tagged error.
func (c *Client) doRetry(ctx context.Context, method, path string, bodyBytes []byte) (*http.Response, error) {
	var networkAttempt, throttleAttempt int

	for {
		resp, err := c.doOnce(ctx, method, path, bodyBytes)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("driveapi: %w: %v", ErrCanceled, ctx.Err())
			}

			if networkAttempt >= maxAttempts {
				return nil, fmt.Errorf("driveapi: %s %s failed after %d retries: %w", method, path, maxAttempts, ErrTransient)
			}

			backoff := networkBackoff(networkAttempt)
			c.logger.Warn("retrying after network error",
				"method", method, "path", path, "attempt", networkAttempt+1, "backoff", backoff, "error", err)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("driveapi: %w", ErrCanceled)
			}

			networkAttempt++

			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		errBody, code := readErrorBody(resp)
		resp.Body.Close()

		kind := classify(resp.StatusCode, code)

		// PreHashMatched / NotFound / ForbiddenInRecycleBin are handed back
		// as-is for the caller to interpret, per spec §4.1 and §7 — not
		// retried, not escalated.
		if kind == KindPreHashMatched || kind == KindNotFound || kind == KindForbiddenInRecycleBin {
			return nil, &APIError{StatusCode: resp.StatusCode, Code: code, Message: errBody, Kind: kind}
		}

		if kind == KindThrottled {
			if throttleAttempt >= maxAttempts {
				return nil, &APIError{StatusCode: resp.StatusCode, Code: code, Message: errBody, Kind: KindThrottled}
			}

			backoff := throttleRetryAfter(resp, throttleAttempt)
			c.logger.Warn("retrying after throttle",
				"method", method, "path", path, "attempt", throttleAttempt+1, "backoff", backoff)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("driveapi: %w", ErrCanceled)
			}

			throttleAttempt++

			continue
		}

		if kind == KindTransient && networkAttempt < maxAttempts {
			backoff := networkBackoff(networkAttempt)
			c.logger.Warn("retrying after server error",
				"method", method, "path", path, "status", resp.StatusCode, "attempt", networkAttempt+1, "backoff", backoff)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("driveapi: %w", ErrCanceled)
			}

			networkAttempt++

			continue
		}

		return nil, &APIError{StatusCode: resp.StatusCode, Code: code, Message: errBody, Kind: kind}
	}
}

func (c *Client) doOnce(ctx context.Context, method, path string, bodyBytes []byte) (*http.Response, error) {
	var body io.Reader
	if bodyBytes != nil {
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)

	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// readErrorBody reads and best-effort-parses a non-2xx response body,
// returning the raw text and, when present, the body's `code` field.
func readErrorBody(resp *http.Response) (string, string) {
	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return "(failed to read response body)", ""
	}

	var parsed apiErrorBody
	if json.Unmarshal(raw, &parsed) == nil {
		return string(raw), parsed.Code
	}

	return string(raw), ""
}

// throttleRetryAfter honors the Retry-After header when present and at
// least the baseline pacing; otherwise sleeps the flat 250ms baseline,
// per spec §4.1.
func throttleRetryAfter(resp *http.Response, _ int) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil {
			d := time.Duration(seconds) * time.Second
			if d >= throttleBackoff {
				return d
			}
		}
	}

	return throttleBackoff
}

// networkBackoff implements the spec's 5^n-second exponential backoff for
// network/transport and server errors.
func networkBackoff(attempt int) time.Duration {
	d := networkBackoffBase

	for i := 0; i < attempt; i++ {
		d *= 5
	}

	return d
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
