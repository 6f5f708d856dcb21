// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists accepted papers in a JSON record store and answers
// cross-run dedup queries against it.
//
// The store file holds a single JSON array, most recent entries first. A
// missing or zero-length file reads as an empty array. Any other content
// must parse as an array of objects carrying an "id"; anything else is
// reported as ErrMalformed because dedup cannot be trusted past that point.
// Existing entries are carried through every rewrite byte-for-byte
// (modulo indentation), so fields written by older versions survive.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdiddy/arxiv-digest/pkg/types"
)

// ErrMalformed reports a store file whose content cannot be trusted.
var ErrMalformed = errors.New("malformed record store")

const indent = "    "

// Store is a JSON record store rooted at a single file. A single writer
// per file is assumed; concurrent invocations against the same path are
// not coordinated.
type Store struct {
	path string
}

// New returns a Store for path. The file is created lazily on first write.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the store file path.
func (s *Store) Path() string { return s.path }

// entryID is the minimal shape every stored entry must have.
type entryID struct {
	ID *string `json:"id"`
}

// readEntries returns the raw stored entries in file order.
func (s *Store) readEntries() ([]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading record store %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, s.path, err)
	}
	if entries == nil {
		return nil, fmt.Errorf("%w: %s: top-level value is null", ErrMalformed, s.path)
	}
	return entries, nil
}

// IDs returns the set of identifiers already recorded.
func (s *Store) IDs() (map[string]struct{}, error) {
	entries, err := s.readEntries()
	if err != nil {
		return nil, err
	}

	ids := make(map[string]struct{}, len(entries))
	for i, raw := range entries {
		var e entryID
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("%w: %s: entry %d: %v", ErrMalformed, s.path, i, err)
		}
		if e.ID == nil {
			return nil, fmt.Errorf("%w: %s: entry %d has no id", ErrMalformed, s.path, i)
		}
		ids[*e.ID] = struct{}{}
	}
	return ids, nil
}

// Exclude returns the candidates whose ID is not yet recorded, in input
// order. It reads the store but never writes it.
func (s *Store) Exclude(candidates []types.Paper) ([]types.Paper, error) {
	seen, err := s.IDs()
	if err != nil {
		return nil, err
	}
	if len(seen) == 0 {
		return candidates, nil
	}

	kept := make([]types.Paper, 0, len(candidates))
	for _, p := range candidates {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		kept = append(kept, p)
	}
	return kept, nil
}

// Papers decodes every stored entry, most recent first. Fields unknown to
// types.Paper are dropped from the result but stay untouched on disk. A
// published date in a format this version does not write is read
// leniently and left zero when unrecognized.
func (s *Store) Papers() ([]types.Paper, error) {
	entries, err := s.readEntries()
	if err != nil {
		return nil, err
	}

	papers := make([]types.Paper, 0, len(entries))
	for i, raw := range entries {
		p, err := decodePaper(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: entry %d: %v", ErrMalformed, s.path, i, err)
		}
		papers = append(papers, p)
	}
	return papers, nil
}

// publishedLayouts are tried in order for entries written by older versions.
var publishedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func decodePaper(raw json.RawMessage) (types.Paper, error) {
	var p types.Paper
	if err := json.Unmarshal(raw, &p); err == nil {
		return p, nil
	}

	// The shallower Published field takes the "published" key, so the
	// embedded time.Time is never decoded.
	var lenient struct {
		types.Paper
		Published json.RawMessage `json:"published"`
	}
	if err := json.Unmarshal(raw, &lenient); err != nil {
		return types.Paper{}, err
	}
	p = lenient.Paper
	p.Published = time.Time{}

	var published string
	if json.Unmarshal(lenient.Published, &published) == nil {
		for _, layout := range publishedLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(published)); err == nil {
				p.Published = t.UTC()
				break
			}
		}
	}
	return p, nil
}

// Prepend writes papers ahead of every existing entry. Both the new and the
// existing entries keep their internal order. The full file is rewritten
// through a temporary file and a rename so readers never observe a partial
// array.
func (s *Store) Prepend(papers []types.Paper) error {
	existing, err := s.readEntries()
	if err != nil {
		return err
	}

	merged := make([]json.RawMessage, 0, len(papers)+len(existing))
	for _, p := range papers {
		raw, err := marshal(p)
		if err != nil {
			return fmt.Errorf("encoding paper %s: %w", p.ID, err)
		}
		merged = append(merged, raw)
	}
	merged = append(merged, existing...)

	data, err := marshalIndent(merged)
	if err != nil {
		return fmt.Errorf("encoding record store: %w", err)
	}
	return writeAtomic(s.path, data)
}

// marshal encodes v without HTML escaping so non-ASCII and markup in
// abstracts stay readable in the file.
func marshal(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func marshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating store directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".records-*.json")
	if err != nil {
		return fmt.Errorf("creating temp store file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp store file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("setting store file mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing record store %s: %w", path, err)
	}
	return nil
}
