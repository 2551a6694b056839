// Package fts maintains the full-text index over code symbols.
//
// One process-wide handle serves both the materializer (writes) and the
// lexical oracle (reads); bleve holds an exclusive lock on the index
// directory, so the handle is shared rather than reopened.
package fts

import (
	"fmt"
	"os"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// SymbolDoc is the indexed form of one code symbol.
type SymbolDoc struct {
	DocID    string `json:"doc_id"`   // ./path::fn:name
	Name     string `json:"name"`     // unqualified symbol name
	File     string `json:"file"`     // source file path
	Context  string `json:"context"`  // surrounding doc/body excerpt
	Language string `json:"language"`
}

// Hit is one full-text match with its BM25 rank score.
type Hit struct {
	DocID   string
	Score   float64
	Name    string
	File    string
	Context string
}

// Index wraps a bleve index over SymbolDocs.
type Index struct {
	mu   sync.RWMutex
	path string
	idx  bleve.Index
}

// Open opens the index at path, creating it when absent.
func Open(path string) (*Index, error) {
	var idx bleve.Index
	var err error
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		idx, err = bleve.New(path, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create fts index: %w", err)
		}
	} else {
		idx, err = bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open fts index: %w", err)
		}
	}
	return &Index{path: path, idx: idx}, nil
}

func buildMapping() mapping.IndexMapping {
	symMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	keywordField := bleve.NewKeywordFieldMapping()

	symMapping.AddFieldMappingsAt("name", textField)
	symMapping.AddFieldMappingsAt("context", textField)
	symMapping.AddFieldMappingsAt("file", keywordField)
	symMapping.AddFieldMappingsAt("language", keywordField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = symMapping
	indexMapping.DefaultAnalyzer = standard.Name
	indexMapping.ScoringModel = "bm25"
	return indexMapping
}

// Add indexes or reindexes one symbol document.
func (x *Index) Add(doc SymbolDoc) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.idx.Index(doc.DocID, doc); err != nil {
		return fmt.Errorf("index %s: %w", doc.DocID, err)
	}
	return nil
}

// Reset drops every document, leaving an empty index behind.
func (x *Index) Reset() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.idx.Close(); err != nil {
		return fmt.Errorf("close fts index: %w", err)
	}
	if err := os.RemoveAll(x.path); err != nil {
		return fmt.Errorf("remove fts index: %w", err)
	}
	idx, err := bleve.New(x.path, buildMapping())
	if err != nil {
		return fmt.Errorf("recreate fts index: %w", err)
	}
	x.idx = idx
	return nil
}

// Search runs a BM25-ranked match query over symbol names and context.
func (x *Index) Search(query string, limit int) ([]Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}

	match := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(match)
	req.Size = limit
	req.Fields = []string{"name", "file", "context"}

	res, err := x.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{DocID: h.ID, Score: h.Score}
		hit.Name, _ = h.Fields["name"].(string)
		hit.File, _ = h.Fields["file"].(string)
		hit.Context, _ = h.Fields["context"].(string)
		hits = append(hits, hit)
	}
	return hits, nil
}

// DocCount returns the number of indexed symbols.
func (x *Index) DocCount() (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.idx.DocCount()
}

// Close releases the index lock.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.idx.Close()
}
