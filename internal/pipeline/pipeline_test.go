// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/arxiv-digest/internal/history"
	"github.com/pdiddy/arxiv-digest/internal/store"
	"github.com/pdiddy/arxiv-digest/pkg/types"
)

var fixedNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	byCategory map[string][]types.Paper
	err        map[string]error
	calls      []string
}

func (f *fakeFetcher) Fetch(_ context.Context, category string) ([]types.Paper, error) {
	f.calls = append(f.calls, category)
	if err := f.err[category]; err != nil {
		return nil, err
	}
	return f.byCategory[category], nil
}

type matcherFunc func(p types.Paper) (bool, error)

func (m matcherFunc) Match(_ context.Context, p types.Paper, _ string) (bool, error) { return m(p) }

type translatorFunc func(text string) (string, error)

func (t translatorFunc) Translate(_ context.Context, text string) (string, error) { return t(text) }

type fakeSink struct {
	rows   []map[string]any
	failAt int // 1-based row that fails; 0 never fails
}

func (s *fakeSink) AppendRow(_ context.Context, fields map[string]any) (string, error) {
	if s.failAt > 0 && len(s.rows)+1 == s.failAt {
		return "", errors.New("sink rejected row")
	}
	s.rows = append(s.rows, fields)
	return "rec-" + fields["Title"].(string), nil
}

func paper(id, summary string) types.Paper {
	return types.Paper{
		ID:      id,
		Title:   "T" + id,
		Summary: summary,
		PDF:     "https://arxiv.org/pdf/" + id,
	}
}

type harness struct {
	fetcher *fakeFetcher
	sink    *fakeSink
	opened  int
	store   *store.Store
	opts    Options
	deps    Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		fetcher: &fakeFetcher{byCategory: map[string][]types.Paper{
			"c1": {paper("1", "classical result"), paper("2", "a quantum leap")},
			"c2": {paper("2", "a quantum leap"), paper("3", "graph theory")},
		}},
		sink:  &fakeSink{},
		store: store.New(filepath.Join(t.TempDir(), "papers.json")),
		opts: Options{
			Categories:  []string{"c1", "c2"},
			UseKeywords: true,
			Keywords:    []string{"quantum"},
			Deliver:     true,
		},
	}
	h.deps = Deps{
		Fetcher: h.fetcher,
		Store:   h.store,
		OpenSink: func(context.Context) (Sink, error) {
			h.opened++
			return h.sink, nil
		},
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return fixedNow },
		NewRunID: func() string { return "run-1" },
	}
	return h
}

func (h *harness) run(t *testing.T) (*Report, error) {
	t.Helper()
	d, err := New(h.opts, h.deps)
	require.NoError(t, err)
	return d.Run(context.Background())
}

func storedIDs(t *testing.T, s *store.Store) []string {
	t.Helper()
	papers, err := s.Papers()
	require.NoError(t, err)
	return types.IDs(papers)
}

func TestRun_KeywordScenario(t *testing.T) {
	h := newHarness(t)

	rep, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, rep.State)
	assert.Equal(t, "run-1", rep.RunID)
	assert.Equal(t, []string{"c1", "c2"}, h.fetcher.calls)
	assert.Equal(t, []string{"2"}, types.IDs(rep.Accepted))
	assert.Equal(t, Counts{Fetched: 4, Unique: 3, AfterKeyword: 1, AfterTopic: 1, New: 1, Delivered: 1}, rep.Counts)
	assert.True(t, rep.Persisted)
	assert.Equal(t, map[string]string{"2": "rec-T2"}, rep.RecordIDs)

	assert.Equal(t, []string{"2"}, storedIDs(t, h.store))
	require.Len(t, h.sink.rows, 1)
	assert.Equal(t, "T2", h.sink.rows[0]["Title"])
	assert.Nil(t, h.sink.rows[0]["Summary"])
	assert.Equal(t, 1, h.opened)
}

func TestRun_SecondRunFindsNothingNew(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t)
	require.NoError(t, err)
	h.sink.rows = nil

	rep, err := h.run(t)
	require.NoError(t, err)

	assert.Empty(t, rep.Accepted)
	assert.Equal(t, 0, rep.Counts.New)
	assert.Empty(t, h.sink.rows)
	assert.Equal(t, 1, h.opened, "no destination lookup without rows to append")
	assert.Equal(t, []string{"2"}, storedIDs(t, h.store))
}

func TestRun_NewestRunFirstInStore(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t)
	require.NoError(t, err)

	h.fetcher.byCategory["c2"] = append(h.fetcher.byCategory["c2"], paper("4", "Quantum gravity"))
	rep, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, []string{"4"}, types.IDs(rep.Accepted))
	assert.Equal(t, []string{"4", "2"}, storedIDs(t, h.store))
}

func TestRun_FiltersDisabledKeepsAllUnique(t *testing.T) {
	h := newHarness(t)
	h.opts.UseKeywords = false

	rep, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3"}, types.IDs(rep.Accepted))
	assert.Len(t, h.sink.rows, 3)
}

func TestRun_FetchErrorAborts(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = map[string]error{"c2": errors.New("connection reset")}

	rep, err := h.run(t)
	require.Error(t, err)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageFetch, se.Stage)
	assert.Equal(t, StateAborted, rep.State)
	assert.Equal(t, StageFetch, rep.FailedStage)
	assert.Empty(t, h.sink.rows)
	_, statErr := os.Stat(h.store.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_MalformedStoreAborts(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(h.store.Path(), []byte("{broken"), 0o644))

	rep, err := h.run(t)
	require.ErrorIs(t, err, store.ErrMalformed)
	assert.Equal(t, StageSeen, rep.FailedStage)
	assert.Empty(t, h.sink.rows)

	data, readErr := os.ReadFile(h.store.Path())
	require.NoError(t, readErr)
	assert.Equal(t, "{broken", string(data))
}

func TestRun_SinkFailureKeepsPersistedStore(t *testing.T) {
	h := newHarness(t)
	h.opts.UseKeywords = false
	h.sink.failAt = 2

	rep, err := h.run(t)
	require.Error(t, err)

	assert.Equal(t, StageDeliver, rep.FailedStage)
	assert.Equal(t, 1, rep.Counts.Delivered)
	assert.True(t, rep.Persisted)
	assert.Equal(t, []string{"1", "2", "3"}, storedIDs(t, h.store))
}

func TestRun_DeferPersist(t *testing.T) {
	t.Run("sink failure leaves store untouched", func(t *testing.T) {
		h := newHarness(t)
		h.opts.DeferPersist = true
		h.sink.failAt = 1

		rep, err := h.run(t)
		require.Error(t, err)
		assert.False(t, rep.Persisted)
		_, statErr := os.Stat(h.store.Path())
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("success persists after delivery", func(t *testing.T) {
		h := newHarness(t)
		h.opts.DeferPersist = true

		rep, err := h.run(t)
		require.NoError(t, err)
		assert.True(t, rep.Persisted)
		assert.Equal(t, []string{"2"}, storedIDs(t, h.store))
	})
}

func TestRun_DestinationFailureCreatesNoRows(t *testing.T) {
	h := newHarness(t)
	h.deps.OpenSink = func(context.Context) (Sink, error) {
		return nil, errors.New("no table parameter")
	}

	rep, err := h.run(t)
	require.Error(t, err)
	assert.Equal(t, StageDeliver, rep.FailedStage)
	assert.Equal(t, 0, rep.Counts.Delivered)
	assert.Contains(t, err.Error(), "resolving destination")
}

func TestRun_DryRun(t *testing.T) {
	h := newHarness(t)
	h.opts.DryRun = true

	rep, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, []string{"2"}, types.IDs(rep.Accepted))
	assert.False(t, rep.Persisted)
	assert.Equal(t, 0, h.opened)
	_, statErr := os.Stat(h.store.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_RelevanceAndTranslation(t *testing.T) {
	h := newHarness(t)
	h.opts.UseKeywords = false
	h.opts.UseRelevance = true
	h.opts.Topic = "quantum and graphs"
	h.opts.Translate = true
	h.deps.Matcher = matcherFunc(func(p types.Paper) (bool, error) {
		if p.ID == "1" {
			return false, errors.New("unparseable answer")
		}
		return true, nil
	})
	h.deps.Translator = translatorFunc(func(text string) (string, error) {
		if text == "graph theory" {
			return "", errors.New("timeout")
		}
		return "译:" + text, nil
	})

	rep, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, []string{"2", "3"}, types.IDs(rep.Accepted))
	assert.Equal(t, []string{"1"}, rep.Unclassified)
	assert.Equal(t, []string{"3"}, rep.Untranslated)
	assert.Equal(t, 1, rep.Counts.Translated)

	require.Len(t, h.sink.rows, 2)
	assert.Equal(t, "译:a quantum leap", h.sink.rows[0]["Summary"])
	assert.Nil(t, h.sink.rows[1]["Summary"])

	stored, err := h.store.Papers()
	require.NoError(t, err)
	require.NotNil(t, stored[0].ZhSummary)
	assert.Equal(t, "译:a quantum leap", *stored[0].ZhSummary)
	assert.Nil(t, stored[1].ZhSummary)
}

func TestRun_RelevanceFailFast(t *testing.T) {
	h := newHarness(t)
	h.opts.UseKeywords = false
	h.opts.UseRelevance = true
	h.opts.FailFast = true
	h.deps.Matcher = matcherFunc(func(types.Paper) (bool, error) {
		return false, errors.New("service down")
	})

	rep, err := h.run(t)
	require.Error(t, err)
	assert.Equal(t, StageRelevance, rep.FailedStage)
	assert.Empty(t, h.sink.rows)
}

func TestRun_RecordsHistory(t *testing.T) {
	h := newHarness(t)
	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })
	h.deps.History = hist

	_, err = h.run(t)
	require.NoError(t, err)

	ctx := context.Background()
	runs, err := hist.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, StateCompleted, runs[0].State)
	assert.Equal(t, 4, runs[0].Fetched)
	assert.Equal(t, 1, runs[0].Delivered)

	deliveries, err := hist.Deliveries(ctx, history.DeliveryFilter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "2", deliveries[0].PaperID)
	assert.Equal(t, "rec-T2", deliveries[0].RecordID)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	s := store.New(filepath.Join(t.TempDir(), "papers.json"))
	f := &fakeFetcher{}

	tests := []struct {
		name string
		opts Options
		deps Deps
	}{
		{name: "no fetcher", deps: Deps{Store: s}},
		{name: "no store", deps: Deps{Fetcher: f}},
		{name: "relevance without matcher", opts: Options{UseRelevance: true}, deps: Deps{Fetcher: f, Store: s}},
		{name: "translate without translator", opts: Options{Translate: true}, deps: Deps{Fetcher: f, Store: s}},
		{name: "deliver without sink", opts: Options{Deliver: true}, deps: Deps{Fetcher: f, Store: s}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts, tt.deps)
			assert.Error(t, err)
		})
	}
}

func TestRowFields(t *testing.T) {
	zh := "摘要"
	p := paper("2401.00001", "abstract")
	p.ZhSummary = &zh

	got := RowFields(p, fixedNow)

	assert.Equal(t, "T2401.00001", got["Title"])
	assert.Equal(t, map[string]string{"text": p.PDF, "link": p.PDF}, got["Link"])
	assert.Equal(t, fixedNow.UnixMilli(), got["Date"])
	assert.Equal(t, "摘要", got["Summary"])
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := types.DefaultConfig()
	cfg.Catalog.Categories = []string{"cs.AI"}
	cfg.Filter.Keywords = []string{"agent"}
	cfg.Table.Enabled = true
	cfg.Store.DeferPersist = true

	opts := OptionsFromConfig(cfg)

	assert.Equal(t, []string{"cs.AI"}, opts.Categories)
	assert.True(t, opts.UseKeywords)
	assert.Equal(t, []string{"agent"}, opts.Keywords)
	assert.True(t, opts.Deliver)
	assert.True(t, opts.DeferPersist)
	assert.Equal(t, 1, opts.TranslateWorkers)
}

func TestReportRoundTrip(t *testing.T) {
	h := newHarness(t)
	rep, err := h.run(t)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, WriteReport(path, rep))

	got, err := ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, got.RunID)
	assert.Equal(t, rep.Counts, got.Counts)
	assert.Equal(t, types.IDs(rep.Accepted), types.IDs(got.Accepted))
	assert.True(t, rep.StartedAt.Equal(got.StartedAt))
}
