// Package embed maps text to dense vectors via a locally hosted model.
//
// Loading the model is expensive; the owning oracle holds its Embedder
// for the process lifetime and reuses it across queries. Re-creating an
// embedder per query is the single worst performance mistake available
// in this system.
package embed

import "context"

// Embedder turns text into fixed-dimension vectors. Query and passage
// sides may require different model prefixes; implementations
// encapsulate that.
type Embedder interface {
	// EmbedQuery embeds query-side text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedPassage embeds document-side text.
	EmbedPassage(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds document-side texts, batching internally.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the constant vector size for this model.
	Dimension() int

	// ModelID identifies the model; embeddings are deterministic per
	// (text, model id) pair.
	ModelID() string
}
