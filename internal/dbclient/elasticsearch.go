package dbclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"extractor/internal/domain"
	"extractor/internal/table"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultElasticQuery matches every document of the index.
const DefaultElasticQuery = `{"query":{"match_all":{}}}`

type elasticConnector struct {
	baseURL  string
	index    string
	username string
	password string
	http     *retryablehttp.Client
}

func newElasticConnector(conn *domain.DatabaseConnection, password string, o Options) (*elasticConnector, error) {
	base := strings.TrimRight(conn.Host, "/")
	if !isURL(base, "http://", "https://") {
		port := conn.Port
		if port == 0 {
			port = 9200
		}
		scheme := "http"
		if conn.SSLMode == "require" {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s:%d", scheme, base, port)
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid elasticsearch url: %w", err)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = o.QueryTimeout
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &elasticConnector{
		baseURL:  base,
		index:    conn.Database,
		username: conn.Username,
		password: password,
		http:     rc,
	}, nil
}

func (e *elasticConnector) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, e.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.username != "" {
		req.SetBasicAuth(e.username, e.password)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (e *elasticConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return e.do(ctx, http.MethodGet, "/", nil, nil)
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Query runs one _search against the connection's index. Each hit's _source
// becomes a keyed record.
func (e *elasticConnector) Query(ctx context.Context, query string) (table.Source, error) {
	if e.index == "" {
		return nil, fmt.Errorf("elasticsearch connection has no index")
	}
	body := strings.TrimSpace(query)
	if body == "" {
		body = DefaultElasticQuery
	}
	if !json.Valid([]byte(body)) {
		return nil, fmt.Errorf("invalid query JSON")
	}

	var sr searchResponse
	path := "/" + url.PathEscape(e.index) + "/_search"
	if err := e.do(ctx, http.MethodPost, path, []byte(body), &sr); err != nil {
		return nil, err
	}

	records := make([]table.Record, 0, len(sr.Hits.Hits))
	for _, hit := range sr.Hits.Hits {
		if hit.Source == nil {
			continue
		}
		fields := make(map[string]table.Value, len(hit.Source))
		for k, v := range hit.Source {
			fields[k] = table.FromJSON(v)
		}
		records = append(records, table.Keyed(fields))
	}
	return table.NewSliceSource(nil, records), nil
}

// Introspect lists the top-level mapped properties of the index.
func (e *elasticConnector) Introspect(ctx context.Context) (*SchemaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	target := "/_mapping"
	if e.index != "" {
		target = "/" + url.PathEscape(e.index) + "/_mapping"
	}
	var mappings map[string]struct {
		Mappings struct {
			Properties map[string]struct {
				Type string `json:"type"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	if err := e.do(ctx, http.MethodGet, target, nil, &mappings); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(mappings))
	for name := range mappings {
		names = append(names, name)
	}
	sort.Strings(names)

	schema := &SchemaInfo{}
	for _, name := range names {
		props := mappings[name].Mappings.Properties
		fields := make([]string, 0, len(props))
		for f := range props {
			fields = append(fields, f)
		}
		sort.Strings(fields)

		cols := make([]ColumnInfo, 0, len(fields))
		for _, f := range fields {
			typ := props[f].Type
			if typ == "" {
				typ = "object"
			}
			cols = append(cols, ColumnInfo{Name: f, Type: typ})
		}
		schema.Tables = append(schema.Tables, TableInfo{Name: name, Columns: cols})
	}
	return schema, nil
}

func (e *elasticConnector) Close() error {
	e.http.HTTPClient.CloseIdleConnections()
	return nil
}
