// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/arxiv-digest/internal/store"
	"github.com/pdiddy/arxiv-digest/pkg/types"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect the local record store",
	Long: `Store reads the JSON record store that remembers every paper already
delivered. Use subcommands to list entries or check identifiers.`,
}

// --- list subcommand ---

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded papers, most recent first",
	RunE:  runStoreList,
}

func runStoreList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	papers, err := store.New(cfg.Store.Path).Papers()
	if err != nil {
		return err
	}
	if limit > 0 && len(papers) > limit {
		papers = papers[:limit]
	}
	return formatStoreList(os.Stdout, papers, jsonOutput)
}

func formatStoreList(w io.Writer, papers []types.Paper, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if papers == nil {
			papers = []types.Paper{}
		}
		return enc.Encode(papers)
	}

	if len(papers) == 0 {
		fmt.Fprintln(w, "Record store is empty.")
		return nil
	}

	fmt.Fprintf(w, "%-16s  %-10s  %-60s  %s\n", "ID", "Published", "Title", "Zh")
	fmt.Fprintln(w, strings.Repeat("-", 96))
	for _, p := range papers {
		title := strings.Join(strings.Fields(p.Title), " ")
		if len(title) > 60 {
			title = title[:57] + "..."
		}
		published := ""
		if !p.Published.IsZero() {
			published = p.Published.Format("2006-01-02")
		}
		zh := "no"
		if p.ZhSummary != nil {
			zh = "yes"
		}
		fmt.Fprintf(w, "%-16s  %-10s  %-60s  %s\n", p.ID, published, title, zh)
	}
	fmt.Fprintf(w, "\n%d papers\n", len(papers))
	return nil
}

// --- check subcommand ---

var storeCheckCmd = &cobra.Command{
	Use:   "check <id>...",
	Short: "Report whether paper identifiers are already recorded",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStoreCheck,
}

func runStoreCheck(cmd *cobra.Command, args []string) error {
	ids, err := store.New(cfg.Store.Path).IDs()
	if err != nil {
		return err
	}
	formatStoreCheck(os.Stdout, ids, args)
	return nil
}

func formatStoreCheck(w io.Writer, recorded map[string]struct{}, ids []string) {
	for _, id := range ids {
		state := "new"
		if _, ok := recorded[id]; ok {
			state = "recorded"
		}
		fmt.Fprintf(w, "%-16s  %s\n", id, state)
	}
}

func init() {
	storeListCmd.Flags().Int("limit", 0, "maximum entries to list (0 = all)")
	storeListCmd.Flags().Bool("json", false, "output entries as JSON")

	storeCmd.AddCommand(storeListCmd)
	storeCmd.AddCommand(storeCheckCmd)

	rootCmd.AddCommand(storeCmd)
}
