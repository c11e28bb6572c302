package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"extractor/internal/etl"
	"extractor/internal/table"

	"github.com/hashicorp/go-retryablehttp"
)

// ── HTTP Source ─────────────────────────────────────────────
// Fetches a JSON document from a REST API endpoint.

type httpSource struct{}

func init() { etl.RegisterSource(&httpSource{}) }

func (s *httpSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "http",
		Label: "HTTP API",
		ConfigFields: []etl.ConfigField{
			{Key: "url", Label: "URL", Type: "string", Required: true, Help: "Full URL to fetch (e.g., https://api.example.com/items)", Env: "HTTP_SOURCE_URL"},
			{Key: "method", Label: "Method", Type: "select", Options: []string{"GET", "POST"}, Default: "GET"},
			{Key: "headers", Label: "Headers", Type: "textarea", Help: "JSON object of headers (e.g., {\"Authorization\": \"Bearer xxx\"})"},
			{Key: "body", Label: "Body", Type: "textarea", Help: "Request body (for POST)"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Help: "Dot-separated path to the array in the response (e.g., 'data.items')"},
		},
	}
}

func (s *httpSource) Open(ctx context.Context, cfg etl.SourceConfig) (table.Source, error) {
	raw, err := fetchHTTP(ctx, cfg)
	if err != nil {
		return nil, err
	}
	raw, err = navigatePath(raw, cfg.String("dataPath"))
	if err != nil {
		return nil, err
	}
	records, err := jsonRecords(raw)
	if err != nil {
		return nil, err
	}
	return table.NewSliceSource(nil, records), nil
}

func fetchHTTP(ctx context.Context, cfg etl.SourceConfig) (any, error) {
	if err := cfg.Require("url"); err != nil {
		return nil, err
	}
	method := strings.ToUpper(cfg.String("method"))
	if method == "" {
		method = http.MethodGet
	}

	var body []byte
	if b := cfg.String("body"); b != "" {
		body = []byte(b)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, cfg.String("url"), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if hs := cfg.String("headers"); hs != "" {
		var headers map[string]string
		if err := json.Unmarshal([]byte(hs), &headers); err != nil {
			return nil, fmt.Errorf("headers must be a JSON object of strings: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return decodeJSON(resp.Body)
}
