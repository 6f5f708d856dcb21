// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package enrich attaches translated abstracts to accepted papers.
package enrich

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/arxiv-digest/pkg/types"
)

// Translator turns abstract text into the target language. An empty reply
// counts as no translation.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Options controls Translate.
type Options struct {
	// Workers is the number of concurrent translation calls. Values below
	// 2 translate one paper at a time.
	Workers int

	Logger zerolog.Logger
}

// Summary counts translation outcomes.
type Summary struct {
	Translated int
	Failed     []string
}

// Translate sets ZhSummary on every paper in place. A failed or empty
// translation leaves ZhSummary explicitly nil and never aborts the batch.
// With several workers the papers are still updated at their own index, so
// the slice order is the input order.
func Translate(ctx context.Context, papers []types.Paper, tr Translator, opts Options) Summary {
	ok := make([]bool, len(papers))

	translateOne := func(i int) {
		p := &papers[i]
		p.ZhSummary = nil

		text, err := tr.Translate(ctx, p.Summary)
		if err != nil {
			opts.Logger.Warn().Err(err).Str("paper_id", p.ID).Msg("translation failed")
			return
		}
		if strings.TrimSpace(text) == "" {
			opts.Logger.Warn().Str("paper_id", p.ID).Msg("translation returned empty text")
			return
		}
		p.ZhSummary = &text
		ok[i] = true
	}

	if opts.Workers < 2 {
		for i := range papers {
			translateOne(i)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(opts.Workers)
		for i := range papers {
			g.Go(func() error {
				translateOne(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	var s Summary
	for i, translated := range ok {
		if translated {
			s.Translated++
			continue
		}
		s.Failed = append(s.Failed, papers[i].ID)
	}
	return s
}
