// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the arxiv-digest pipeline.
package types

import "time"

// Paper is a catalog entry as it flows through the pipeline and as it is
// persisted in the record store.
type Paper struct {
	// ID is the versionless catalog identifier (e.g. "2301.07041"). It is
	// the primary key for every dedup step.
	ID string `json:"id" yaml:"id"`

	// Title is the paper title.
	Title string `json:"title" yaml:"title"`

	// Summary is the abstract text.
	Summary string `json:"summary" yaml:"summary"`

	// PDF is the link to the paper's PDF.
	PDF string `json:"pdf" yaml:"pdf"`

	// URL is the abstract page link.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Authors lists the paper authors in catalog order.
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`

	// Categories lists the catalog categories the paper is filed under.
	Categories []string `json:"categories,omitempty" yaml:"categories,omitempty"`

	// Published is the first submission date.
	Published time.Time `json:"published" yaml:"published"`

	// ZhSummary is the translated abstract. Nil until a translation
	// succeeds; the enrichment stage sets it explicitly to nil on failure
	// so the field is always present in serialized output.
	ZhSummary *string `json:"zh_summary" yaml:"zh_summary"`
}

// IDs returns the identifiers of papers in order.
func IDs(papers []Paper) []string {
	ids := make([]string, len(papers))
	for i, p := range papers {
		ids[i] = p.ID
	}
	return ids
}
