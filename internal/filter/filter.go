// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package filter reduces a run's candidate papers. Every filter returns an
// order-preserving subsequence of its input and never mutates a paper.
package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pdiddy/arxiv-digest/pkg/types"
)

// Dedup keeps the first occurrence of every paper ID. A paper filed under
// several requested categories is fetched once per category; Dedup
// collapses those copies.
func Dedup(papers []types.Paper) []types.Paper {
	seen := make(map[string]struct{}, len(papers))
	deduped := make([]types.Paper, 0, len(papers))
	for _, p := range papers {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		deduped = append(deduped, p)
	}
	return deduped
}

// ByKeyword keeps papers whose abstract contains at least one keyword as a
// whole whitespace-delimited token, compared case-insensitively. Punctuation
// is not stripped: "quantum," does not match "quantum". An empty keyword
// list keeps nothing.
func ByKeyword(papers []types.Paper, keywords []string) []types.Paper {
	want := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		want[strings.ToLower(k)] = struct{}{}
	}

	kept := make([]types.Paper, 0, len(papers))
	for _, p := range papers {
		if hasToken(p.Summary, want) {
			kept = append(kept, p)
		}
	}
	return kept
}

func hasToken(text string, want map[string]struct{}) bool {
	if len(want) == 0 {
		return false
	}
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		if _, ok := want[tok]; ok {
			return true
		}
	}
	return false
}

// Matcher decides whether a paper fits a natural-language topic description.
type Matcher interface {
	Match(ctx context.Context, paper types.Paper, topic string) (bool, error)
}

// RelevanceOptions controls ByRelevance.
type RelevanceOptions struct {
	// FailFast returns the first classification error instead of excluding
	// the paper and continuing.
	FailFast bool

	Logger zerolog.Logger
}

// RelevanceResult reports the kept papers and those whose classification failed.
type RelevanceResult struct {
	Kept   []types.Paper
	Failed []string
}

// ByRelevance keeps papers for which m reports a match. A classification
// error excludes that paper and the batch continues, unless
// opts.FailFast is set. Context cancellation always stops the batch.
func ByRelevance(ctx context.Context, papers []types.Paper, topic string, m Matcher, opts RelevanceOptions) (RelevanceResult, error) {
	res := RelevanceResult{Kept: make([]types.Paper, 0, len(papers))}

	for _, p := range papers {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		ok, err := m.Match(ctx, p, topic)
		if err != nil {
			if opts.FailFast || ctx.Err() != nil {
				return res, fmt.Errorf("classifying %s: %w", p.ID, err)
			}
			opts.Logger.Warn().Err(err).Str("paper_id", p.ID).Msg("relevance check failed, excluding paper")
			res.Failed = append(res.Failed, p.ID)
			continue
		}
		if ok {
			res.Kept = append(res.Kept, p)
		}
	}
	return res, nil
}
