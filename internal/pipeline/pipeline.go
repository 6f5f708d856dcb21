// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs one fetch-filter-dedup-enrich-deliver pass.
//
// The stages always run in this order: fetch every category, collapse
// duplicates across categories, apply the keyword and relevance filters,
// drop papers already in the record store, translate abstracts, persist
// the accepted papers and deliver them to the table sink one row at a time.
// The run is linear with no retryable internal states; it either completes
// or aborts at the first fatal stage error. Persisting before delivery is
// the default, and a delivery failure does not roll the store back.
// Options.DeferPersist moves persistence after a fully successful delivery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pdiddy/arxiv-digest/internal/enrich"
	"github.com/pdiddy/arxiv-digest/internal/filter"
	"github.com/pdiddy/arxiv-digest/internal/history"
	"github.com/pdiddy/arxiv-digest/internal/observability"
	"github.com/pdiddy/arxiv-digest/internal/store"
	"github.com/pdiddy/arxiv-digest/pkg/types"
)

// Fetcher produces candidate papers for one catalog category.
type Fetcher interface {
	Fetch(ctx context.Context, category string) ([]types.Paper, error)
}

// Sink appends one row per accepted paper and returns the created row ID.
type Sink interface {
	AppendRow(ctx context.Context, fields map[string]any) (string, error)
}

// SinkOpener resolves the sink destination. It is called once per run,
// before the first row is appended.
type SinkOpener func(ctx context.Context) (Sink, error)

// Deps are the collaborators injected into a Driver.
type Deps struct {
	Fetcher    Fetcher
	Matcher    filter.Matcher
	Translator enrich.Translator
	Store      *store.Store

	// OpenSink is required when delivery is enabled.
	OpenSink SinkOpener

	// History is optional.
	History *history.Store

	Logger zerolog.Logger

	// Now and NewRunID default to time.Now and uuid.NewString.
	Now      func() time.Time
	NewRunID func() string
}

// Options is the run configuration derived from types.Config.
type Options struct {
	Categories []string

	UseKeywords bool
	Keywords    []string

	UseRelevance bool
	Topic        string
	FailFast     bool

	Translate        bool
	TranslateWorkers int

	Deliver      bool
	DeferPersist bool

	// DryRun stops after enrichment: nothing is persisted or delivered.
	DryRun bool
}

// OptionsFromConfig maps a validated configuration onto run options.
func OptionsFromConfig(cfg types.Config) Options {
	return Options{
		Categories:       cfg.Catalog.Categories,
		UseKeywords:      cfg.Filter.UseKeywords,
		Keywords:         cfg.Filter.Keywords,
		UseRelevance:     cfg.Filter.UseRelevance,
		Topic:            cfg.Filter.Topic,
		FailFast:         cfg.Filter.FailFast,
		Translate:        cfg.Translate.Enabled,
		TranslateWorkers: cfg.Translate.Workers,
		Deliver:          cfg.Table.Enabled,
		DeferPersist:     cfg.Store.DeferPersist,
	}
}

// Driver executes pipeline runs.
type Driver struct {
	opts Options
	deps Deps
}

// New checks that every collaborator the options require is present.
func New(opts Options, deps Deps) (*Driver, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: record store is required")
	case opts.UseRelevance && deps.Matcher == nil:
		return nil, errors.New("pipeline: relevance filter enabled without a matcher")
	case opts.Translate && deps.Translator == nil:
		return nil, errors.New("pipeline: translation enabled without a translator")
	case opts.Deliver && deps.OpenSink == nil:
		return nil, errors.New("pipeline: delivery enabled without a sink")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}
	return &Driver{opts: opts, deps: deps}, nil
}

// Run states.
const (
	StateCompleted = "completed"
	StateAborted   = "aborted"
)

// Counts records how many papers survived each stage.
type Counts struct {
	Fetched      int `json:"fetched" yaml:"fetched"`
	Unique       int `json:"unique" yaml:"unique"`
	AfterKeyword int `json:"after_keyword" yaml:"after_keyword"`
	AfterTopic   int `json:"after_relevance" yaml:"after_relevance"`
	New          int `json:"new" yaml:"new"`
	Translated   int `json:"translated" yaml:"translated"`
	Delivered    int `json:"delivered" yaml:"delivered"`
}

// Report describes a finished run, completed or aborted.
type Report struct {
	RunID        string            `json:"run_id" yaml:"run_id"`
	StartedAt    time.Time         `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time         `json:"finished_at" yaml:"finished_at"`
	State        string            `json:"state" yaml:"state"`
	FailedStage  Stage             `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`
	Error        string            `json:"error,omitempty" yaml:"error,omitempty"`
	Counts       Counts            `json:"counts" yaml:"counts"`
	Persisted    bool              `json:"persisted" yaml:"persisted"`
	Unclassified []string          `json:"unclassified,omitempty" yaml:"unclassified,omitempty"`
	Untranslated []string          `json:"untranslated,omitempty" yaml:"untranslated,omitempty"`
	RecordIDs    map[string]string `json:"record_ids,omitempty" yaml:"record_ids,omitempty"`
	Accepted     []types.Paper     `json:"accepted" yaml:"accepted"`
}

// Run executes one pass. The returned Report is always populated; the
// error, when non-nil, is a *StageError naming the failing stage.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	rep := &Report{
		RunID:     d.deps.NewRunID(),
		StartedAt: d.deps.Now(),
	}
	log := observability.WithRun(d.deps.Logger, rep.RunID)

	if h := d.deps.History; h != nil {
		if err := h.StartRun(ctx, rep.RunID, rep.StartedAt); err != nil {
			log.Warn().Err(err).Msg("history unavailable")
		}
	}

	err := d.run(ctx, rep, log)

	rep.FinishedAt = d.deps.Now()
	rep.State = StateCompleted
	if err != nil {
		rep.State = StateAborted
		rep.Error = err.Error()
		var se *StageError
		if errors.As(err, &se) {
			rep.FailedStage = se.Stage
		}
		log.Error().Err(err).Str("stage", string(rep.FailedStage)).Msg("run aborted")
	} else {
		log.Info().
			Int("accepted", len(rep.Accepted)).
			Int("delivered", rep.Counts.Delivered).
			Msg("run completed")
	}

	if h := d.deps.History; h != nil {
		// The run context may already be cancelled; the audit row should still land.
		finishCtx := context.WithoutCancel(ctx)
		if herr := h.FinishRun(finishCtx, history.Run{
			ID:          rep.RunID,
			FinishedAt:  rep.FinishedAt,
			State:       rep.State,
			FailedStage: string(rep.FailedStage),
			Error:       rep.Error,
			Fetched:     rep.Counts.Fetched,
			Accepted:    len(rep.Accepted),
			Delivered:   rep.Counts.Delivered,
		}); herr != nil {
			log.Warn().Err(herr).Msg("recording run history failed")
		}
	}
	return rep, err
}

func (d *Driver) run(ctx context.Context, rep *Report, log zerolog.Logger) error {
	candidates, err := d.fetch(ctx, log)
	rep.Counts.Fetched = len(candidates)
	if err != nil {
		return stageErr(StageFetch, err)
	}

	papers := filter.Dedup(candidates)
	rep.Counts.Unique = len(papers)
	log.Info().Str("stage", string(StageDedup)).Int("in", len(candidates)).Int("out", len(papers)).Msg("cross-category dedup")

	rep.Counts.AfterKeyword = len(papers)
	if d.opts.UseKeywords {
		papers = filter.ByKeyword(papers, d.opts.Keywords)
		rep.Counts.AfterKeyword = len(papers)
		log.Info().Str("stage", string(StageKeyword)).Int("out", len(papers)).Strs("keywords", d.opts.Keywords).Msg("keyword filter")
	}

	rep.Counts.AfterTopic = len(papers)
	if d.opts.UseRelevance {
		res, err := filter.ByRelevance(ctx, papers, d.opts.Topic, d.deps.Matcher, filter.RelevanceOptions{
			FailFast: d.opts.FailFast,
			Logger:   observability.WithStage(log, string(StageRelevance)),
		})
		rep.Unclassified = res.Failed
		if err != nil {
			return stageErr(StageRelevance, err)
		}
		papers = res.Kept
		rep.Counts.AfterTopic = len(papers)
		log.Info().Str("stage", string(StageRelevance)).Int("out", len(papers)).Int("unclassified", len(res.Failed)).Msg("relevance filter")
	}

	papers, err = d.deps.Store.Exclude(papers)
	if err != nil {
		return stageErr(StageSeen, err)
	}
	rep.Counts.New = len(papers)
	log.Info().Str("stage", string(StageSeen)).Int("out", len(papers)).Str("store", d.deps.Store.Path()).Msg("cross-run dedup")

	if d.opts.Translate && len(papers) > 0 {
		s := enrich.Translate(ctx, papers, d.deps.Translator, enrich.Options{
			Workers: d.opts.TranslateWorkers,
			Logger:  observability.WithStage(log, string(StageTranslate)),
		})
		rep.Counts.Translated = s.Translated
		rep.Untranslated = s.Failed
		log.Info().Str("stage", string(StageTranslate)).Int("translated", s.Translated).Int("failed", len(s.Failed)).Msg("abstracts translated")
	}
	rep.Accepted = papers

	if d.opts.DryRun || len(papers) == 0 {
		return nil
	}

	if !d.opts.DeferPersist {
		if err := d.persist(rep, log); err != nil {
			return err
		}
	}

	if d.opts.Deliver {
		if err := d.deliver(ctx, rep, log); err != nil {
			return err
		}
	}

	if d.opts.DeferPersist {
		return d.persist(rep, log)
	}
	return nil
}

func (d *Driver) fetch(ctx context.Context, log zerolog.Logger) ([]types.Paper, error) {
	if len(d.opts.Categories) == 0 {
		return nil, errors.New("no categories configured")
	}

	var all []types.Paper
	for _, cat := range d.opts.Categories {
		papers, err := d.deps.Fetcher.Fetch(ctx, cat)
		if err != nil {
			return all, fmt.Errorf("category %s: %w", cat, err)
		}
		log.Info().Str("stage", string(StageFetch)).Str("category", cat).Int("papers", len(papers)).Msg("category fetched")
		all = append(all, papers...)
	}
	return all, nil
}

func (d *Driver) persist(rep *Report, log zerolog.Logger) error {
	if err := d.deps.Store.Prepend(rep.Accepted); err != nil {
		return stageErr(StagePersist, err)
	}
	rep.Persisted = true
	log.Info().Str("stage", string(StagePersist)).Int("papers", len(rep.Accepted)).Str("store", d.deps.Store.Path()).Msg("record store updated")
	return nil
}

func (d *Driver) deliver(ctx context.Context, rep *Report, log zerolog.Logger) error {
	log = observability.WithStage(log, string(StageDeliver))

	sink, err := d.deps.OpenSink(ctx)
	if err != nil {
		return stageErr(StageDeliver, fmt.Errorf("resolving destination: %w", err))
	}

	rep.RecordIDs = make(map[string]string, len(rep.Accepted))
	for _, p := range rep.Accepted {
		now := d.deps.Now()
		recordID, err := sink.AppendRow(ctx, RowFields(p, now))
		d.recordDelivery(ctx, rep.RunID, p, recordID, now, err, log)
		if err != nil {
			return stageErr(StageDeliver, fmt.Errorf("paper %s: %w", p.ID, err))
		}

		rep.Counts.Delivered++
		rep.RecordIDs[p.ID] = recordID
		if recordID == "" {
			log.Warn().Str("paper_id", p.ID).Msg("row created without a record id")
			continue
		}
		log.Info().Str("paper_id", p.ID).Str("record_id", recordID).Msg("row created")
	}
	return nil
}

func (d *Driver) recordDelivery(ctx context.Context, runID string, p types.Paper, recordID string, at time.Time, deliverErr error, log zerolog.Logger) {
	h := d.deps.History
	if h == nil {
		return
	}
	rec := history.Delivery{
		RunID:       runID,
		PaperID:     p.ID,
		Title:       p.Title,
		RecordID:    recordID,
		DeliveredAt: at,
	}
	if deliverErr != nil {
		rec.Error = deliverErr.Error()
	}
	if err := h.RecordDelivery(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn().Err(err).Str("paper_id", p.ID).Msg("recording delivery failed")
	}
}

// RowFields builds the table row for p: title, PDF link, creation time in
// milliseconds since the epoch, and the translated abstract or null.
func RowFields(p types.Paper, now time.Time) map[string]any {
	var summary any
	if p.ZhSummary != nil {
		summary = *p.ZhSummary
	}
	return map[string]any{
		"Title": p.Title,
		"Link": map[string]string{
			"text": p.PDF,
			"link": p.PDF,
		},
		"Date":    now.UnixMilli(),
		"Summary": summary,
	}
}
