package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// Mock is a deterministic in-process embedder for tests and offline
// development. Vectors are derived from token hashes, so texts sharing
// words land near each other — enough structure for ranking tests.
type Mock struct {
	Dim int
}

// NewMock creates a mock embedder of the given dimension.
func NewMock(dim int) *Mock {
	if dim <= 0 {
		dim = 64
	}
	return &Mock{Dim: dim}
}

// EmbedQuery embeds query text. Query and passage sides are symmetric
// for the mock.
func (m *Mock) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return m.vector(text), nil
}

// EmbedPassage embeds document text.
func (m *Mock) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	return m.vector(text), nil
}

// EmbedBatch embeds each text independently.
func (m *Mock) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vector(t)
	}
	return out, nil
}

// Dimension returns the configured dimension.
func (m *Mock) Dimension() int { return m.Dim }

// ModelID identifies the mock.
func (m *Mock) ModelID() string { return "mock" }

// vector sums a hashed one-hot per token and L2-normalizes, making
// cosine similarity proportional to token overlap.
func (m *Mock) vector(text string) []float32 {
	vec := make([]float32, m.Dim)
	token := make([]byte, 0, 32)
	flush := func() {
		if len(token) == 0 {
			return
		}
		h := fnv.New32a()
		h.Write(token)
		vec[int(h.Sum32())%m.Dim] += 1
		token = token[:0]
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			token = append(token, c)
		} else {
			flush()
		}
	}
	flush()

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
