// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the arxiv-digest CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/arxiv-digest/internal/observability"
	"github.com/pdiddy/arxiv-digest/internal/secrets"
	"github.com/pdiddy/arxiv-digest/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// Populated by the root command before any subcommand runs.
var (
	cfg    types.Config
	logger zerolog.Logger
)

// rootCmd is the base command for the arxiv-digest CLI.
var rootCmd = &cobra.Command{
	Use:   "arxiv-digest",
	Short: "Daily digest of new arXiv papers delivered to a shared table",
	Long: `arxiv-digest fetches the newest papers in the configured arXiv
categories, keeps the ones that match your keywords or topic, skips papers
already recorded in the local store, optionally translates their abstracts,
and appends one row per paper to a Feishu/Lark Bitable table.

Run it once a day from cron or any other scheduler.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		logger = observability.NewLogger(c.Logging)

		secretsDir, _ := cmd.Flags().GetString("secrets-dir")
		envFile, _ := cmd.Flags().GetString("env-file")
		s, err := secrets.LoadAll(secretsDir, envFile, logger)
		if err != nil {
			return err
		}
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debug().Strs("keys", keys).Msg("loaded secrets")
		}
		secrets.Apply(&c, s)

		cfg = c
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./arxiv-digest.yaml or ~/.config/arxiv-digest/config.yaml)")
	rootCmd.PersistentFlags().String("secrets-dir", ".secrets/", "directory of credential files")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file with ARXIV_DIGEST_* credentials")
	rootCmd.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().String("store", "", "record store file (overrides store.path)")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("store"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("arxiv-digest")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "arxiv-digest"))
		}
	}

	setDefaults(types.DefaultConfig())
	bindEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// setDefaults registers every config key so environment variables can
// override keys the config file does not mention.
func setDefaults(d types.Config) {
	defaults := map[string]any{
		"catalog.categories":          d.Catalog.Categories,
		"catalog.max_results":         d.Catalog.MaxResults,
		"catalog.requests_per_second": d.Catalog.RequestsPerSecond,
		"catalog.timeout":             d.Catalog.Timeout,
		"catalog.user_agent":          d.Catalog.UserAgent,
		"catalog.max_retries":         d.Catalog.MaxRetries,

		"filter.use_keywords":  d.Filter.UseKeywords,
		"filter.keywords":      d.Filter.Keywords,
		"filter.use_relevance": d.Filter.UseRelevance,
		"filter.topic":         d.Filter.Topic,
		"filter.fail_fast":     d.Filter.FailFast,

		"llm.base_url":        d.LLM.BaseURL,
		"llm.model":           d.LLM.Model,
		"llm.api_key":         d.LLM.APIKey,
		"llm.temperature":     d.LLM.Temperature,
		"llm.max_tokens":      d.LLM.MaxTokens,
		"llm.target_language": d.LLM.TargetLanguage,
		"llm.timeout":         d.LLM.Timeout,
		"llm.user_agent":      d.LLM.UserAgent,
		"llm.max_retries":     d.LLM.MaxRetries,

		"translate.enabled": d.Translate.Enabled,
		"translate.workers": d.Translate.Workers,

		"store.path":          d.Store.Path,
		"store.defer_persist": d.Store.DeferPersist,

		"table.enabled":      d.Table.Enabled,
		"table.app_id":       d.Table.AppID,
		"table.app_secret":   d.Table.AppSecret,
		"table.base_url":     d.Table.BaseURL,
		"table.user_id_type": d.Table.UserIDType,
		"table.api_base":     d.Table.APIBase,
		"table.timeout":      d.Table.Timeout,
		"table.user_agent":   d.Table.UserAgent,
		"table.max_retries":  d.Table.MaxRetries,

		"history.enabled": d.History.Enabled,
		"history.path":    d.History.Path,

		"logging.level":  d.Logging.Level,
		"logging.format": d.Logging.Format,
		"logging.output": d.Logging.Output,
	}
	for k, v := range defaults {
		viper.SetDefault(k, v)
	}
}

// bindEnv maps ARXIV_DIGEST_SECTION_KEY variables onto section.key.
func bindEnv() {
	viper.SetEnvPrefix("ARXIV_DIGEST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// loadConfig decodes the merged viper settings over the defaults.
func loadConfig() (types.Config, error) {
	c := types.DefaultConfig()
	if err := viper.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decoding config: %w", err)
	}
	return c, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
