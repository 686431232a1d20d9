// Package protocol implements the request/response layer between the client
// and the lab-flow backend: request construction, envelope parsing, failure
// classification and binary transfers.
package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TraceHeader carries the per-request correlation id in both directions.
const TraceHeader = "X-Trace-Id"

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:8080"

// Client issues requests against the backend. It holds no session state;
// the bearer token is supplied per call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	saver      Saver
	logger     zerolog.Logger
	traceID    func() string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds every request, including reading the response body.
// Zero leaves requests unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithSaver sets the destination used by DownloadAsFile.
func WithSaver(s Saver) Option {
	return func(c *Client) {
		c.saver = s
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTraceIDFunc overrides generation of the X-Trace-Id header value.
func WithTraceIDFunc(fn func() string) Option {
	return func(c *Client) {
		c.traceID = fn
	}
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
		saver:      DirSaver{Dir: "."},
		logger:     zerolog.Nop(),
		traceID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// URL resolves path against the base URL. Absolute http(s) URLs are returned
// unchanged.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + path
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return nil, transportError(0, fmt.Sprintf("building request: %v", err), err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set(TraceHeader, c.traceID())
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	ev := c.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Str("trace_id", req.Header.Get(TraceHeader)).
		Dur("elapsed", time.Since(start))
	if err != nil {
		ev.Err(err).Msg("api request failed")
		return nil, transportError(0, fmt.Sprintf("request failed: %v", err), err)
	}
	ev.Int("status", resp.StatusCode).Msg("api request")
	return resp, nil
}

// Call sends a JSON request and decodes the envelope payload into out.
// A nil body sends no request body; a nil out discards the payload.
func (c *Client) Call(ctx context.Context, path, method string, body any, token string, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, reader, token)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	return c.roundTrip(req, out)
}

func (c *Client) roundTrip(req *http.Request, out any) error {
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	env, err := readEnvelope(resp)
	if err != nil {
		return err
	}
	return env.decodeData(resp.StatusCode, out)
}

// RequestJSON sends a JSON request and returns the typed envelope payload.
func RequestJSON[T any](ctx context.Context, c *Client, path, method string, body any, token string) (T, error) {
	var out T
	if err := c.Call(ctx, path, method, body, token, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
