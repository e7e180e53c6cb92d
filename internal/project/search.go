package project

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// searchDoc is the indexed view of one file.
type searchDoc struct {
	Path string `json:"path"`
	Base string `json:"base"`
}

// SearchIndex is an in-memory bleve index over file paths, used for fuzzy
// reference resolution: a reference matches a file when one of its words is
// within one edit of a word of the file's path or base name.
type SearchIndex struct {
	mu    sync.Mutex
	index bleve.Index
}

// NewSearchIndex creates an empty index.
func NewSearchIndex() (*SearchIndex, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}
	return &SearchIndex{index: index}, nil
}

// Replace rebuilds the index from the file list.
func (s *SearchIndex) Replace(files []FileEntry) error {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return fmt.Errorf("failed to rebuild search index: %w", err)
	}

	batch := index.NewBatch()
	for _, f := range files {
		doc := searchDoc{
			Path: strings.ReplaceAll(f.RelPath, string(filepath.Separator), " "),
			Base: filepath.Base(f.RelPath),
		}
		if err := batch.Index(f.RelPath, doc); err != nil {
			return fmt.Errorf("failed to index %s: %w", f.RelPath, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return fmt.Errorf("failed to commit search batch: %w", err)
	}

	s.mu.Lock()
	old := s.index
	s.index = index
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Best returns the highest-scoring file for a free-form reference.
func (s *SearchIndex) Best(reference string) (string, bool) {
	s.mu.Lock()
	index := s.index
	s.mu.Unlock()
	if index == nil || strings.TrimSpace(reference) == "" {
		return "", false
	}

	match := bleve.NewMatchQuery(reference)
	match.SetFuzziness(1)
	req := bleve.NewSearchRequest(match)
	req.Size = 1

	res, err := index.Search(req)
	if err != nil || len(res.Hits) == 0 {
		return "", false
	}
	return res.Hits[0].ID, true
}

// Close releases the index.
func (s *SearchIndex) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index != nil {
		s.index.Close()
		s.index = nil
	}
}
