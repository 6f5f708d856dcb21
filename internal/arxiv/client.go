// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package arxiv fetches the newest submissions of catalog categories from
// the arXiv Atom API.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/arxiv-digest/internal/httputil"
	"github.com/pdiddy/arxiv-digest/pkg/types"
)

// apiBase is the arXiv query endpoint. Declared as a var so tests can
// substitute an httptest server.
var apiBase = "https://export.arxiv.org/api/query"

const defaultMaxResults = 100

// Client queries the arXiv API for recent papers in a category.
type Client struct {
	HTTP       *httputil.Client
	UserAgent  string
	MaxResults int
}

// NewClient builds a Client from the catalog configuration. The request
// rate limit is shared by every Fetch call on the returned client.
func NewClient(cfg types.CatalogConfig, logger zerolog.Logger) *Client {
	return &Client{
		HTTP:       httputil.NewClient(cfg.Timeout, cfg.MaxRetries, cfg.RequestsPerSecond, logger),
		UserAgent:  cfg.UserAgent,
		MaxResults: cfg.MaxResults,
	}
}

// Fetch returns the most recently submitted papers filed under category,
// newest first.
func (c *Client) Fetch(ctx context.Context, category string) ([]types.Paper, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, fmt.Errorf("empty arXiv category")
	}

	maxResults := c.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	params := url.Values{}
	params.Set("search_query", "cat:"+category)
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(maxResults))
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("arXiv API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arXiv API returned HTTP %d", resp.StatusCode)
	}

	var f feed
	if err := xml.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing arXiv response: %w", err)
	}

	papers := make([]types.Paper, 0, len(f.Entries))
	for _, e := range f.Entries {
		if p, ok := e.paper(); ok {
			papers = append(papers, p)
		}
	}
	return papers, nil
}

// arXiv Atom feed XML structures.
type feed struct {
	Entries []entry `xml:"entry"`
}

type entry struct {
	ID         string     `xml:"id"`
	Title      string     `xml:"title"`
	Summary    string     `xml:"summary"`
	Published  string     `xml:"published"`
	Authors    []author   `xml:"author"`
	Links      []link     `xml:"link"`
	Categories []category `xml:"category"`
}

type author struct {
	Name string `xml:"name"`
}

type link struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

type category struct {
	Term string `xml:"term,attr"`
}

func (e entry) paper() (types.Paper, bool) {
	id := extractID(e.ID)
	if id == "" {
		return types.Paper{}, false
	}

	p := types.Paper{
		ID:      id,
		Title:   collapseSpace(e.Title),
		Summary: strings.TrimSpace(e.Summary),
		PDF:     "https://arxiv.org/pdf/" + id,
		URL:     strings.TrimSpace(e.ID),
	}

	for _, l := range e.Links {
		switch {
		case l.Title == "pdf" || l.Type == "application/pdf":
			p.PDF = l.Href
		case l.Rel == "alternate" && l.Href != "":
			p.URL = l.Href
		}
	}
	for _, a := range e.Authors {
		p.Authors = append(p.Authors, strings.TrimSpace(a.Name))
	}
	for _, c := range e.Categories {
		if c.Term != "" {
			p.Categories = append(p.Categories, c.Term)
		}
	}
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
		p.Published = t.UTC()
	}
	return p, true
}

// extractID pulls the versionless arXiv ID from the entry's <id> URL
// (e.g. "http://arxiv.org/abs/2301.07041v2" -> "2301.07041",
// "http://arxiv.org/abs/hep-th/9901001v1" -> "hep-th/9901001").
func extractID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := strings.TrimSpace(idURL[idx+len(prefix):])

	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			id = id[:vIdx]
		}
	}
	return id
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
