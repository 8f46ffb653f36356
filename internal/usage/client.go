// Package usage queries the Claude OAuth usage endpoint and maps the result
// into a model.Snapshot.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultURL is the OAuth usage endpoint.
const DefaultURL = "https://api.anthropic.com/api/oauth/usage"

const (
	defaultTimeout = 15 * time.Second
	maxBodySize    = 1 << 20 // 1 MB
	betaHeader     = "oauth-2025-04-20"
	userAgent      = "claude-usage-tracker/1.0"
)

var (
	// ErrUnauthorized indicates the access token was rejected (HTTP 401).
	ErrUnauthorized = errors.New("usage: unauthorized")
	// ErrForbidden indicates the account may not read usage (HTTP 403).
	ErrForbidden = errors.New("usage: access denied")
	// ErrTimeout indicates the request did not finish in time.
	ErrTimeout = errors.New("usage: request timeout")
	// ErrConnection indicates the endpoint could not be reached.
	ErrConnection = errors.New("usage: connection error")
	// ErrInvalidResponse indicates the body was not a usage document.
	ErrInvalidResponse = errors.New("usage: invalid response")
)

// StatusError is returned for any other non-200 status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("usage: unexpected status %d", e.Code)
}

// Config configures a Client.
type Config struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
	Now        func() time.Time
}

// Client fetches usage for a bearer token.
type Client struct {
	url     string
	timeout time.Duration
	http    *http.Client
	log     *zap.Logger
	now     func() time.Time
}

// NewClient returns a Client with defaults applied.
func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		url:     cfg.URL,
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
		log:     cfg.Logger,
		now:     cfg.Now,
	}
}

// Fetch performs one authenticated GET and decodes the body.
func (c *Client) Fetch(ctx context.Context, token string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("usage: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("anthropic-beta", betaHeader)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusForbidden:
		return nil, ErrForbidden
	default:
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, classifyTransport(err)
	}

	var raw Response
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return &raw, nil
}

// TransportError wraps a request failure that is neither a timeout nor a
// connection failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return &TransportError{Err: err}
}

// parseUtilization defensively parses the polymorphic utilization field.
// Handles int (75), float (75.5), and string ("75%" or "75").
// The value is a 0-100 percentage, returned unscaled and clamped to that
// range. Non-finite strings such as "NaN" or "Inf" are rejected.
func parseUtilization(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if v, err = strconv.ParseFloat(s, 64); err != nil {
			return 0, false
		}
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return min(max(v, 0), 100), true
}
