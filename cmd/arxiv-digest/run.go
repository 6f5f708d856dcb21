// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/arxiv-digest/internal/arxiv"
	"github.com/pdiddy/arxiv-digest/internal/history"
	"github.com/pdiddy/arxiv-digest/internal/llm"
	"github.com/pdiddy/arxiv-digest/internal/pipeline"
	"github.com/pdiddy/arxiv-digest/internal/store"
	"github.com/pdiddy/arxiv-digest/internal/table"
	"github.com/pdiddy/arxiv-digest/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch, filter, record and deliver new papers",
	Long: `Run performs one pass of the digest: fetch every configured category,
drop duplicates across categories, apply the keyword and topic filters,
skip papers already in the record store, translate abstracts when enabled,
write the new papers to the store and append one table row per paper.

The run stops at the first fatal error and names the stage that failed.
With --dry-run nothing is written and no rows are created.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringSlice("category", nil, "catalog categories to fetch (overrides catalog.categories)")
	runCmd.Flags().StringSlice("keyword", nil, "keywords for the keyword filter (overrides filter.keywords)")
	runCmd.Flags().String("topic", "", "topic for the relevance filter (overrides filter.topic)")
	runCmd.Flags().Bool("dry-run", false, "stop before persisting or delivering and print the accepted papers")
	runCmd.Flags().String("report", "", "write a YAML run report to this file")

	_ = viper.BindPFlag("catalog.categories", runCmd.Flags().Lookup("category"))
	_ = viper.BindPFlag("filter.keywords", runCmd.Flags().Lookup("keyword"))
	_ = viper.BindPFlag("filter.topic", runCmd.Flags().Lookup("topic"))

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	reportPath, _ := cmd.Flags().GetString("report")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := pipeline.OptionsFromConfig(cfg)
	opts.DryRun = dryRun

	deps, cleanup, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	driver, err := pipeline.New(opts, deps)
	if err != nil {
		return err
	}

	rep, runErr := driver.Run(ctx)
	printAccepted(os.Stdout, rep, dryRun)

	if reportPath != "" {
		if err := pipeline.WriteReport(reportPath, rep); err != nil {
			logger.Error().Err(err).Str("path", reportPath).Msg("writing run report failed")
		}
	}
	return runErr
}

// buildDeps wires the concrete clients for cfg. The returned cleanup closes
// the history database when one was opened.
func buildDeps(cfg types.Config) (pipeline.Deps, func(), error) {
	deps := pipeline.Deps{
		Fetcher: arxiv.NewClient(cfg.Catalog, logger),
		Store:   store.New(cfg.Store.Path),
		Logger:  logger,
	}
	cleanup := func() {}

	if cfg.Filter.UseRelevance || cfg.Translate.Enabled {
		model := llm.NewClient(cfg.LLM, logger)
		deps.Matcher = model
		deps.Translator = model
	}

	if cfg.Table.Enabled {
		client := table.NewClient(cfg.Table, logger)
		deps.OpenSink = func(ctx context.Context) (pipeline.Sink, error) {
			sink, err := client.Open(ctx)
			if err != nil {
				return nil, err
			}
			return sink, nil
		}
	}

	if cfg.History.Enabled {
		h, err := history.Open(cfg.History.Path)
		if err != nil {
			return deps, cleanup, err
		}
		deps.History = h
		cleanup = func() {
			if err := h.Close(); err != nil {
				logger.Warn().Err(err).Msg("closing history database")
			}
		}
	}
	return deps, cleanup, nil
}

func printAccepted(w io.Writer, rep *pipeline.Report, dryRun bool) {
	if len(rep.Accepted) == 0 {
		if rep.State == pipeline.StateCompleted {
			fmt.Fprintln(w, "No new papers.")
		}
		return
	}

	for _, p := range rep.Accepted {
		title := strings.Join(strings.Fields(p.Title), " ")
		if len(title) > 80 {
			title = title[:77] + "..."
		}
		marker := ""
		if p.ZhSummary != nil {
			marker = " [zh]"
		}
		fmt.Fprintf(w, "%-16s  %s%s\n", p.ID, title, marker)
	}

	switch {
	case dryRun:
		fmt.Fprintf(w, "\n%d new paper(s) (dry run, nothing written)\n", len(rep.Accepted))
	case rep.State == pipeline.StateAborted:
		fmt.Fprintf(w, "\n%d new paper(s), %d delivered before %s failed\n",
			len(rep.Accepted), rep.Counts.Delivered, rep.FailedStage)
	default:
		fmt.Fprintf(w, "\n%d new paper(s), %d delivered\n", len(rep.Accepted), rep.Counts.Delivered)
	}
}
