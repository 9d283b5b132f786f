// Package apiclient holds the JSON-over-HTTP plumbing shared by the replay and
// build API clients: bearer token forwarding, status classification and
// response decoding.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"relay/internal/services"
)

const maxErrorBody = 4 << 10

// HTTPDoer describes the HTTP client used by API clients.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s %s returned %d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.URL, e.Code, body)
}

// Client issues authenticated JSON requests against a base URL.
type Client struct {
	baseURL   string
	token     string
	doer      HTTPDoer
	component string
}

// New constructs a client. A nil doer falls back to http.DefaultClient.
func New(baseURL, token string, doer HTTPDoer, component string) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:     strings.TrimSpace(token),
		doer:      doer,
		component: component,
	}
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Doer returns the underlying HTTP client for unauthenticated requests.
func (c *Client) Doer() HTTPDoer { return c.doer }

// PostJSON sends body as JSON to baseURL+path and decodes a JSON response into
// out when out is non-nil.
func (c *Client) PostJSON(ctx context.Context, operation, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return services.Wrap(services.ErrValidation, c.component, operation, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return services.Wrap(services.ErrConfiguration, c.component, operation, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.Send(ctx, operation, req, out)
}

// Send executes req without adding credentials and classifies the outcome.
func (c *Client) Send(ctx context.Context, operation string, req *http.Request, out any) error {
	resp, err := c.doer.Do(req)
	if err != nil {
		return ClassifyTransport(ctx, c.component, operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &StatusError{Method: req.Method, URL: redactURL(req.URL.String()), Code: resp.StatusCode, Body: string(body)}
		return services.Wrap(StatusMarker(resp.StatusCode), c.component, operation, "", statusErr)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrTransient, c.component, operation, "decode response", err)
	}
	return nil
}

// StatusMarker maps an HTTP status to a retry classification: request
// timeouts, throttling and server errors are transient, other 4xx are fatal.
func StatusMarker(code int) error {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return services.ErrTransient
	case code >= http.StatusInternalServerError:
		return services.ErrTransient
	default:
		return services.ErrFatal
	}
}

// ClassifyTransport tags a failed round trip.
func ClassifyTransport(ctx context.Context, component, operation string, err error) error {
	switch {
	case errors.Is(err, context.Canceled) || (ctx != nil && errors.Is(ctx.Err(), context.Canceled)):
		return services.Wrap(services.ErrCancelled, component, operation, "request cancelled", err)
	case errors.Is(err, context.DeadlineExceeded) || (ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)):
		return services.Wrap(services.ErrTimeout, component, operation, "request timed out", err)
	default:
		return services.Wrap(services.ErrTransient, component, operation, "request failed", err)
	}
}

// redactURL drops query strings, which carry signatures on presigned URLs.
func redactURL(raw string) string {
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		return raw[:idx]
	}
	return raw
}

// StripQuery returns raw without its query string.
func StripQuery(raw string) string {
	return redactURL(raw)
}
