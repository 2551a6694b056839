package oracle

import (
	"context"
	"fmt"

	"github.com/NicabarNimble/patina/internal/fts"
)

// Lexical answers exact-ish name and phrase queries from the BM25
// full-text index over symbol names and their surrounding context.
type Lexical struct {
	index *fts.Index
}

// NewLexical constructs the lexical oracle over a shared FTS index.
func NewLexical(index *fts.Index) (*Lexical, error) {
	if index == nil {
		return nil, fmt.Errorf("fts index not available")
	}
	return &Lexical{index: index}, nil
}

func (o *Lexical) Name() string { return "lexical" }

func (o *Lexical) Grain() Grain { return GrainSymbol }

func (o *Lexical) Query(ctx context.Context, text string, limit int) ([]Result, error) {
	hits, err := o.index.Search(text, limit)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		content := h.Name
		if h.Context != "" {
			content = h.Name + " — " + h.Context
		}
		results = append(results, Result{DocID: h.DocID, Score: h.Score, Content: content})
	}
	return results, nil
}

func (o *Lexical) Status() string {
	n, err := o.index.DocCount()
	if err != nil {
		return fmt.Sprintf("index error: %v", err)
	}
	return fmt.Sprintf("ready (%d symbols)", n)
}
