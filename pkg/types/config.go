// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
	"time"
)

// HTTPConfig holds shared HTTP settings used by clients that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`

	// MaxRetries bounds retries on HTTP 429/503 (0 uses the client default).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// CatalogConfig holds settings for fetching candidates from the catalog.
type CatalogConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Categories lists the catalog categories to fetch (e.g. "cs.AI").
	Categories []string `json:"categories" yaml:"categories" mapstructure:"categories"`

	// MaxResults caps the number of entries fetched per category.
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`

	// RequestsPerSecond limits the request rate against the catalog API.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// FilterConfig selects and parameterizes the reducing filters.
type FilterConfig struct {
	// UseKeywords enables the keyword filter.
	UseKeywords bool `json:"use_keywords" yaml:"use_keywords" mapstructure:"use_keywords"`

	// Keywords are matched as whole, case-insensitive abstract tokens.
	Keywords []string `json:"keywords" yaml:"keywords" mapstructure:"keywords"`

	// UseRelevance enables the LLM relevance filter.
	UseRelevance bool `json:"use_relevance" yaml:"use_relevance" mapstructure:"use_relevance"`

	// Topic is the natural-language description of the papers to keep.
	Topic string `json:"topic" yaml:"topic" mapstructure:"topic"`

	// FailFast aborts the relevance filter on the first classification error
	// instead of excluding the paper and continuing.
	FailFast bool `json:"fail_fast" yaml:"fail_fast" mapstructure:"fail_fast"`
}

// LLMConfig is passed through to the chat-completion service used for
// relevance matching and translation.
type LLMConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// BaseURL is the service address (an OpenAI-compatible API root).
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`

	// Model is the model identifier.
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the bearer credential.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// Temperature is the sampling temperature.
	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`

	// MaxTokens caps the completion length (0 leaves it to the service).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`

	// TargetLanguage is the language abstracts are translated into.
	TargetLanguage string `json:"target_language" yaml:"target_language" mapstructure:"target_language"`
}

// TranslateConfig controls the enrichment stage.
type TranslateConfig struct {
	// Enabled turns on abstract translation.
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// Workers is the number of concurrent translation calls (1 = sequential).
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`
}

// StoreConfig locates the record store.
type StoreConfig struct {
	// Path is the JSON record store file.
	Path string `json:"path" yaml:"path" mapstructure:"path"`

	// DeferPersist writes the store only after every sink call succeeded.
	DeferPersist bool `json:"defer_persist" yaml:"defer_persist" mapstructure:"defer_persist"`
}

// TableConfig holds credentials and the destination reference for the
// remote table service.
type TableConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Enabled turns on delivery to the table service.
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// AppID and AppSecret identify the application to the auth endpoint.
	AppID     string `json:"app_id" yaml:"app_id" mapstructure:"app_id"`
	AppSecret string `json:"app_secret,omitempty" yaml:"app_secret,omitempty" mapstructure:"app_secret"`

	// BaseURL is the table (or wiki node) link carrying the ?table= parameter.
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`

	// UserIDType is forwarded on record creation (default "open_id").
	UserIDType string `json:"user_id_type" yaml:"user_id_type" mapstructure:"user_id_type"`

	// APIBase is the root of the open API.
	APIBase string `json:"api_base" yaml:"api_base" mapstructure:"api_base"`
}

// HistoryConfig locates the SQLite delivery history.
type HistoryConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" yaml:"path" mapstructure:"path"`
}

// LoggingConfig contains logger configuration options.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `json:"format" yaml:"format" mapstructure:"format"`

	// Output is the output destination (stdout, stderr).
	Output string `json:"output" yaml:"output" mapstructure:"output"`
}

// Config groups every stage configuration for one pipeline invocation.
type Config struct {
	Catalog   CatalogConfig   `json:"catalog" yaml:"catalog" mapstructure:"catalog"`
	Filter    FilterConfig    `json:"filter" yaml:"filter" mapstructure:"filter"`
	LLM       LLMConfig       `json:"llm" yaml:"llm" mapstructure:"llm"`
	Translate TranslateConfig `json:"translate" yaml:"translate" mapstructure:"translate"`
	Store     StoreConfig     `json:"store" yaml:"store" mapstructure:"store"`
	Table     TableConfig     `json:"table" yaml:"table" mapstructure:"table"`
	History   HistoryConfig   `json:"history" yaml:"history" mapstructure:"history"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging" mapstructure:"logging"`
}

// DefaultConfig returns a Config with the defaults applied by the CLI.
func DefaultConfig() Config {
	return Config{
		Catalog: CatalogConfig{
			HTTPConfig: HTTPConfig{
				Timeout:    60 * time.Second,
				UserAgent:  "arxiv-digest/0.1",
				MaxRetries: 3,
			},
			MaxResults:        100,
			RequestsPerSecond: 1.0 / 3.0,
		},
		Filter: FilterConfig{UseKeywords: true},
		LLM: LLMConfig{
			HTTPConfig: HTTPConfig{
				Timeout:    60 * time.Second,
				UserAgent:  "arxiv-digest/0.1",
				MaxRetries: 3,
			},
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			TargetLanguage: "Chinese",
		},
		Translate: TranslateConfig{Workers: 1},
		Store:     StoreConfig{Path: "papers.json"},
		Table: TableConfig{
			HTTPConfig: HTTPConfig{
				Timeout:    30 * time.Second,
				UserAgent:  "arxiv-digest/0.1",
				MaxRetries: 3,
			},
			UserIDType: "open_id",
			APIBase:    "https://open.feishu.cn/open-apis",
		},
		History: HistoryConfig{Path: "history.db"},
		Logging: LoggingConfig{Level: "info", Format: "console", Output: "stderr"},
	}
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Validate reports the first configuration problem that would make a run
// impossible to complete.
func (c Config) Validate() error {
	if len(c.Catalog.Categories) == 0 {
		return fmt.Errorf("%w: catalog.categories is empty", ErrInvalidConfig)
	}
	if c.Filter.UseRelevance && c.Filter.Topic == "" {
		return fmt.Errorf("%w: filter.topic is required when filter.use_relevance is set", ErrInvalidConfig)
	}
	if (c.Filter.UseRelevance || c.Translate.Enabled) && c.LLM.BaseURL == "" {
		return fmt.Errorf("%w: llm.base_url is required", ErrInvalidConfig)
	}
	if c.Table.Enabled {
		switch {
		case c.Table.AppID == "":
			return fmt.Errorf("%w: table.app_id is required", ErrInvalidConfig)
		case c.Table.AppSecret == "":
			return fmt.Errorf("%w: table.app_secret is required", ErrInvalidConfig)
		case c.Table.BaseURL == "":
			return fmt.Errorf("%w: table.base_url is required", ErrInvalidConfig)
		}
	}
	if c.Store.Path == "" {
		return fmt.Errorf("%w: store.path is required", ErrInvalidConfig)
	}
	return nil
}
