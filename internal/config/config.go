// Package config loads extractor settings from the environment. A .env file
// is applied first when present; explicit variables win over built-in
// defaults and invalid values fail fast with the variable name.
package config

import (
	"path/filepath"
	"time"

	"extractor/internal/upload"
)

// Config holds all extractor configuration.
type Config struct {
	// DataDir holds extractor.db (default: ~/.local/share/extractor)
	DataDir string `env:"EXTRACTOR_DATA_DIR"`

	// SecretStore picks where passwords and tokens live: auto, keychain,
	// file or env (default: auto)
	SecretStore string `env:"EXTRACTOR_SECRET_STORE" default:"auto"`

	Upload UploadConfig
	Run    RunConfig

	// PushgatewayURL enables Prometheus metrics pushed after each command
	PushgatewayURL string `env:"EXTRACTOR_PUSHGATEWAY_URL"`
}

// UploadConfig holds defaults for every delivery session.
type UploadConfig struct {
	// BaseURL is the datasheet API used when a target does not name one
	BaseURL string `env:"EXTRACTOR_UPLOAD_BASE_URL"`

	// Token is the API token used for ad-hoc uploads
	Token string `env:"EXTRACTOR_UPLOAD_TOKEN"`

	// BatchSize is the number of records per request (default: 1000)
	BatchSize int `env:"EXTRACTOR_BATCH_SIZE" default:"1000"`

	// Interval is the pause between batches (default: 200ms)
	Interval time.Duration `env:"EXTRACTOR_BATCH_INTERVAL" default:"200ms"`

	// Timeout bounds one HTTP request (default: 30s)
	Timeout time.Duration `env:"EXTRACTOR_HTTP_TIMEOUT" default:"30s"`

	// RetryMax is the number of retries per batch (default: 0, at-most-once)
	RetryMax int `env:"EXTRACTOR_UPLOAD_RETRIES" default:"0"`
}

// RunConfig holds extraction limits.
type RunConfig struct {
	// QueryTimeout bounds one database or search query (default: 30s)
	QueryTimeout time.Duration `env:"EXTRACTOR_QUERY_TIMEOUT" default:"30s"`

	// JobTimeout bounds the extraction step of a run (default: 5m).
	// Uploads are bounded per request by Upload.Timeout instead.
	JobTimeout time.Duration `env:"EXTRACTOR_JOB_TIMEOUT" default:"5m"`
}

// DBPath returns the SQLite file under DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "extractor.db")
}

// UploadDefaults converts the upload settings into an upload.Config.
func (c *Config) UploadDefaults() upload.Config {
	return upload.Config{
		BaseURL:   c.Upload.BaseURL,
		Token:     c.Upload.Token,
		BatchSize: c.Upload.BatchSize,
		Interval:  c.Upload.Interval,
		Timeout:   c.Upload.Timeout,
		RetryMax:  c.Upload.RetryMax,
	}
}
