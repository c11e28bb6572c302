package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// maxBodyPreview caps how much of an error body ends up in messages.
const maxBodyPreview = 512

// HTTPError is returned for a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("remote returned HTTP %d: %s", e.StatusCode, e.Body)
}

// IsAuthError reports whether the remote rejected the credentials.
func (e *HTTPError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsRateLimited reports whether the remote asked us to slow down.
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// recordsRequest is the body of one upload request.
type recordsRequest struct {
	Records  []map[string]string `json:"records"`
	FieldKey string              `json:"fieldKey"`
}

// apiResponse is the envelope the remote wraps every answer in. Pointers
// tell a missing indicator apart from a false one.
type apiResponse struct {
	Success *bool  `json:"success"`
	Code    *int   `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Records []json.RawMessage `json:"records"`
	} `json:"data"`
}

// Response is the decoded outcome of one POST that reached the remote.
type Response struct {
	StatusCode int
	Accepted   bool
	Code       int
	Message    string
	Records    int // records echoed back by the remote
}

// Client posts record batches to one datasheet.
type Client struct {
	cfg      Config
	endpoint string
	http     *retryablehttp.Client
}

// NewClient validates cfg and builds the transport.
func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil
	// Hand the last response back instead of a "giving up" error so a 4xx/5xx
	// stays an HTTP-level failure rather than looking like a transport one.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{cfg: cfg, endpoint: cfg.Endpoint(), http: rc}, nil
}

// Endpoint returns the URL batches are posted to.
func (c *Client) Endpoint() string { return c.endpoint }

// PostRecords sends one batch. A returned error means the request never got
// an HTTP answer (connection, timeout, cancellation). Any HTTP answer is
// returned as a Response, including non-2xx ones.
func (c *Client) PostRecords(ctx context.Context, records []map[string]string) (*Response, error) {
	body, err := json.Marshal(recordsRequest{Records: records, FieldKey: "id"})
	if err != nil {
		return nil, fmt.Errorf("marshal records: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("post records: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	out := &Response{StatusCode: resp.StatusCode}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		out.Message = preview(raw)
		return out, nil
	}

	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		out.Message = "response is not JSON: " + preview(raw)
		return out, nil
	}
	out.Message = env.Message
	out.Records = len(env.Data.Records)
	if env.Code != nil {
		out.Code = *env.Code
	}
	switch {
	case env.Success == nil:
		out.Message = "response has no success indicator"
	case !*env.Success:
		if out.Message == "" {
			out.Message = "remote reported success=false"
		}
	case env.Code == nil || *env.Code != http.StatusOK:
		out.Message = fmt.Sprintf("unexpected response code %d: %s", out.Code, env.Message)
	default:
		out.Accepted = true
	}
	return out, nil
}

func preview(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > maxBodyPreview {
		return string(b[:maxBodyPreview]) + "..."
	}
	return string(b)
}
