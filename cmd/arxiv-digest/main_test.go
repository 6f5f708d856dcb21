// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/arxiv-digest/pkg/types"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	setDefaults(types.DefaultConfig())
	bindEnv()
}

func TestLoadConfig_Defaults(t *testing.T) {
	resetViper(t)

	c, err := loadConfig()
	require.NoError(t, err)

	d := types.DefaultConfig()
	assert.Empty(t, c.Catalog.Categories)
	assert.Equal(t, d.Catalog.HTTPConfig, c.Catalog.HTTPConfig)
	assert.Equal(t, d.Filter.UseKeywords, c.Filter.UseKeywords)
	assert.Equal(t, d.LLM.Model, c.LLM.Model)
	assert.Equal(t, d.Store, c.Store)
	assert.Equal(t, d.Table.APIBase, c.Table.APIBase)
	assert.Equal(t, d.Logging, c.Logging)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	resetViper(t)

	path := filepath.Join(t.TempDir(), "arxiv-digest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
catalog:
  categories: [cs.AI, cs.CL]
  timeout: 10s
filter:
  keywords: [agent, planning]
store:
  defer_persist: true
table:
  enabled: true
  base_url: https://example.feishu.cn/base/app?table=tbl
`), 0o644))
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	t.Setenv("ARXIV_DIGEST_STORE_PATH", "/data/papers.json")
	t.Setenv("ARXIV_DIGEST_TABLE_APP_ID", "cli_env")

	c, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"cs.AI", "cs.CL"}, c.Catalog.Categories)
	assert.Equal(t, 10*time.Second, c.Catalog.Timeout)
	assert.Equal(t, 100, c.Catalog.MaxResults)
	assert.Equal(t, []string{"agent", "planning"}, c.Filter.Keywords)
	assert.True(t, c.Filter.UseKeywords)
	assert.True(t, c.Store.DeferPersist)
	assert.Equal(t, "/data/papers.json", c.Store.Path)
	assert.True(t, c.Table.Enabled)
	assert.Equal(t, "cli_env", c.Table.AppID)
	assert.Equal(t, "open_id", c.Table.UserIDType)
}

func TestFormatStoreCheck(t *testing.T) {
	var buf bytes.Buffer
	formatStoreCheck(&buf, map[string]struct{}{"2401.00001": {}}, []string{"2401.00001", "2401.00002"})

	assert.Equal(t, "2401.00001        recorded\n2401.00002        new\n", buf.String())
}

func TestFormatStoreList(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, formatStoreList(&buf, nil, false))
		assert.Equal(t, "Record store is empty.\n", buf.String())
	})

	t.Run("json keeps null summary", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, formatStoreList(&buf, []types.Paper{{ID: "a", Title: "A & B"}}, true))
		assert.Contains(t, buf.String(), `"zh_summary": null`)
		assert.Contains(t, buf.String(), `"A & B"`)
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		zh := "摘要"
		require.NoError(t, formatStoreList(&buf, []types.Paper{{ID: "a", Title: "First", ZhSummary: &zh}}, false))
		assert.Contains(t, buf.String(), "First")
		assert.Contains(t, buf.String(), "1 papers")
	})
}
