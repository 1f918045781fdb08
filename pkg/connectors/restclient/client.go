// Package restclient is the thin JSON-over-HTTP client shared by all connectors.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/metrics"
)

// DefaultTimeout bounds every outbound call.
const DefaultTimeout = 10 * time.Second

const maxErrorDetail = 200

// Auth decorates an outbound request with credentials.
type Auth func(req *http.Request)

// BasicAuth authenticates with HTTP Basic credentials.
func BasicAuth(user, password string) Auth {
	return func(req *http.Request) {
		req.SetBasicAuth(user, password)
	}
}

// BearerAuth authenticates with an OAuth or personal access token.
func BearerAuth(token string) Auth {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// HeaderAuth authenticates with a custom header, e.g. GitLab's PRIVATE-TOKEN.
func HeaderAuth(name, value string) Auth {
	return func(req *http.Request) {
		req.Header.Set(name, value)
	}
}

// Request is one outbound call.
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string
	Body    any
	Auth    Auth
}

// Response is a completed 2xx call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &connectors.ExecutionError{
			Kind:    connectors.KindServer,
			Message: "third-party service returned invalid JSON",
			Cause:   err,
		}
	}
	return nil
}

// Client issues requests on behalf of one connector type.
type Client struct {
	http      *http.Client
	connector string
}

// New creates a client for connectorType. A zero timeout means DefaultTimeout.
func New(connectorType string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		connector: connectorType,
	}
}

// WithHTTPClient returns a copy that sends through hc. Used for OAuth transports and tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	return &Client{http: hc, connector: c.connector}
}

// HTTPClient exposes the underlying client.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Do sends the request. Non-2xx answers become *connectors.ExecutionError.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	target := r.URL
	if len(r.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + r.Query.Encode()
	}

	var body io.Reader
	if r.Body != nil {
		raw, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &connectors.ExecutionError{Kind: connectors.KindValidation, Message: "invalid request URL", Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if r.Auth != nil {
		r.Auth(req)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.HTTPRequestDuration.WithLabelValues(c.connector).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.HTTPRequestsTotal.WithLabelValues(c.connector, method, "error").Inc()
		return nil, connectors.Classify(err)
	}
	defer resp.Body.Close()

	metrics.HTTPRequestsTotal.WithLabelValues(c.connector, method, strconv.Itoa(resp.StatusCode)).Inc()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, connectors.Classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, connectors.NewHTTPError(resp.StatusCode, errorDetail(raw))
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}

// GetJSON is a shorthand for a GET that decodes into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values, auth Auth, v any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Query: query, Auth: auth})
	if err != nil {
		return err
	}
	return resp.JSON(v)
}

// SendJSON sends body with method and decodes the answer into v (if non-nil).
func (c *Client) SendJSON(ctx context.Context, method, rawURL string, body any, auth Auth, v any) error {
	resp, err := c.Do(ctx, Request{Method: method, URL: rawURL, Body: body, Auth: auth})
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return resp.JSON(v)
}

// errorDetail extracts a short message from common error payload shapes.
func errorDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"message", "error_description", "error", "errorMessage"} {
			if s, ok := payload[key].(string); ok && s != "" {
				return truncate(s)
			}
		}
		if msgs, ok := payload["errorMessages"].([]any); ok && len(msgs) > 0 {
			return truncate(fmt.Sprint(msgs[0]))
		}
		if errObj, ok := payload["error"].(map[string]any); ok {
			if msg, ok := errObj["message"].(string); ok {
				return truncate(msg)
			}
			if msg, ok := errObj["message"].(map[string]any); ok {
				if v, ok := msg["value"].(string); ok {
					return truncate(v)
				}
			}
		}
		return ""
	}

	return truncate(strings.TrimSpace(string(body)))
}

func truncate(s string) string {
	if len(s) > maxErrorDetail {
		return s[:maxErrorDetail] + "..."
	}
	return s
}

// JoinURL joins a user-supplied base URL with a path, tolerating trailing slashes.
func JoinURL(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + "/" + strings.TrimLeft(path, "/")
}
