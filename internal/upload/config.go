package upload

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBatchSize = 1000
	DefaultInterval  = 200 * time.Millisecond
	DefaultTimeout   = 30 * time.Second

	// DatasheetPrefix is the prefix every remote datasheet id carries.
	DatasheetPrefix = "dst"
)

// ErrInvalidConfig is wrapped by every Config validation failure.
var ErrInvalidConfig = errors.New("invalid upload config")

// Config describes one delivery session against a remote datasheet.
type Config struct {
	BaseURL     string        `json:"baseUrl"`
	DatasheetID string        `json:"datasheetId"`
	Token       string        `json:"-"`
	BatchSize   int           `json:"batchSize"`
	Interval    time.Duration `json:"interval"` // pause between batches, negative disables
	Timeout     time.Duration `json:"timeout"`  // per request

	// RetryMax is the number of automatic retries per batch on connection
	// errors, 429 and 5xx. Zero keeps delivery at-most-once. Anything above
	// zero is at-least-once: a batch the remote stored but failed to
	// acknowledge is sent again.
	RetryMax int `json:"retryMax"`

	UserAgent string `json:"userAgent,omitempty"`
}

// WithDefaults fills zero fields with the package defaults.
func (c Config) WithDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.UserAgent == "" {
		c.UserAgent = "extractor/1.0"
	}
	return c
}

// Validate checks the fields needed before any request is made.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("%w: base URL is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: base URL %q is not absolute", ErrInvalidConfig, c.BaseURL)
	}
	if c.Token == "" {
		return fmt.Errorf("%w: API token is required", ErrInvalidConfig)
	}
	if !strings.HasPrefix(c.DatasheetID, DatasheetPrefix) {
		return fmt.Errorf("%w: datasheet id %q must start with %q", ErrInvalidConfig, c.DatasheetID, DatasheetPrefix)
	}
	return nil
}

// Endpoint returns the records URL for the configured datasheet.
func (c Config) Endpoint() string {
	return strings.TrimRight(c.BaseURL, "/") + "/fusion/v1/datasheets/" + url.PathEscape(c.DatasheetID) + "/records"
}
