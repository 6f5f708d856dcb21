// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials kept outside the config file.
//
// Two sources are read. A directory of plain-text files, where the filename
// is the key name and the trimmed contents are the value, and a dotenv file
// whose ARXIV_DIGEST_* variables map onto the same key names
// (ARXIV_DIGEST_LLM_API_KEY becomes llm-api-key). Directory files win over
// the dotenv file.
//
// Supported keys: llm-api-key, table-app-id, table-app-secret.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/pdiddy/arxiv-digest/pkg/types"
)

// Key names.
const (
	LLMAPIKey      = "llm-api-key"
	TableAppID     = "table-app-id"
	TableAppSecret = "table-app-secret"
)

const envPrefix = "ARXIV_DIGEST_"

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files are logged and skipped.
func Load(dir string, logger zerolog.Logger) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn().Err(err).Str("secret", name).Msg("could not read secret")
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// LoadDotEnv reads ARXIV_DIGEST_* variables from a dotenv file and returns
// them under their key names. Other variables are ignored. A missing file
// yields an empty map.
func LoadDotEnv(path string) (map[string]string, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}

	secrets := make(map[string]string)
	for name, value := range vars {
		if !strings.HasPrefix(name, envPrefix) {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, envPrefix))
		secrets[strings.ReplaceAll(key, "_", "-")] = value
	}
	return secrets, nil
}

// LoadAll merges the dotenv file and the secrets directory.
func LoadAll(dir, envFile string, logger zerolog.Logger) (map[string]string, error) {
	merged, err := LoadDotEnv(envFile)
	if err != nil {
		return nil, err
	}
	fromDir, err := Load(dir, logger)
	if err != nil {
		return nil, err
	}
	for k, v := range fromDir {
		merged[k] = v
	}
	return merged, nil
}

// Apply fills credentials the configuration left empty.
func Apply(cfg *types.Config, s map[string]string) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = s[LLMAPIKey]
	}
	if cfg.Table.AppID == "" {
		cfg.Table.AppID = s[TableAppID]
	}
	if cfg.Table.AppSecret == "" {
		cfg.Table.AppSecret = s[TableAppSecret]
	}
}
