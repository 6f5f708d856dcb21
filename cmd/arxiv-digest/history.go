// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/arxiv-digest/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past runs and their deliveries",
	Long: `History reads the SQLite delivery log written by runs with
history.enabled set. Without flags it lists recent runs; --run shows the
rows delivered by one run and --paper shows every delivery of one paper.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum runs or deliveries to show")
	historyCmd.Flags().String("run", "", "show deliveries of this run ID")
	historyCmd.Flags().String("paper", "", "show deliveries of this paper ID")
	historyCmd.Flags().Bool("json", false, "output results as JSON")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	runID, _ := cmd.Flags().GetString("run")
	paperID, _ := cmd.Flags().GetString("paper")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if _, err := os.Stat(cfg.History.Path); err != nil {
		return fmt.Errorf("no history at %s (enable history.enabled and run once): %w", cfg.History.Path, err)
	}

	h, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx := context.Background()
	if runID != "" || paperID != "" {
		deliveries, err := h.Deliveries(ctx, history.DeliveryFilter{RunID: runID, PaperID: paperID, Limit: limit})
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(os.Stdout, deliveries)
		}
		formatDeliveries(os.Stdout, deliveries)
		return nil
	}

	runs, err := h.Runs(ctx, limit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(os.Stdout, runs)
	}
	formatRuns(os.Stdout, runs)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatRuns(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	fmt.Fprintf(w, "%-36s  %-20s  %-10s  %7s  %8s  %9s  %s\n",
		"Run", "Started", "State", "Fetched", "Accepted", "Delivered", "Failed stage")
	for _, r := range runs {
		fmt.Fprintf(w, "%-36s  %-20s  %-10s  %7d  %8d  %9d  %s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.State,
			r.Fetched, r.Accepted, r.Delivered, r.FailedStage)
	}
}

func formatDeliveries(w io.Writer, deliveries []history.Delivery) {
	if len(deliveries) == 0 {
		fmt.Fprintln(w, "No deliveries found.")
		return
	}
	for _, d := range deliveries {
		outcome := d.RecordID
		if d.Error != "" {
			outcome = "error: " + d.Error
		}
		fmt.Fprintf(w, "%-20s  %-16s  %-24s  %s\n",
			d.DeliveredAt.Local().Format(time.DateTime), d.PaperID, outcome, d.Title)
	}
}
