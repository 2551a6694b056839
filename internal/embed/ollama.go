package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/NicabarNimble/patina/internal/patinaerr"
)

// maxBatch bounds one inference request; larger inputs are chunked.
const maxBatch = 64

// OllamaEmbedder generates embeddings through a local Ollama daemon.
// The daemon owns the model weights (pulled into the shared user-home
// cache); this process holds only an HTTP client and a result cache.
type OllamaEmbedder struct {
	baseURL     string
	model       string
	dimension   int
	queryPrefix string
	docPrefix   string
	client      *http.Client
	cache       *lru.Cache[uint64, []float32]
}

// OllamaConfig configures the daemon-backed embedder.
type OllamaConfig struct {
	BaseURL     string // default http://localhost:11434
	Model       string // e.g. nomic-embed-text
	Dimension   int    // model-specific, e.g. 768
	QueryPrefix string // e.g. "search_query: "
	DocPrefix   string // e.g. "search_document: "
	CacheSize   int    // embedding result LRU entries, 0 disables
}

// NewOllama creates an embedder against a local daemon. No network
// traffic happens here; reachability is checked on first use.
func NewOllama(cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	dim := cfg.Dimension
	if dim == 0 {
		dim = 768
	}
	e := &OllamaEmbedder{
		baseURL:     baseURL,
		model:       cfg.Model,
		dimension:   dim,
		queryPrefix: cfg.QueryPrefix,
		docPrefix:   cfg.DocPrefix,
		client:      &http.Client{Timeout: 60 * time.Second},
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[uint64, []float32](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedQuery embeds query-side text with the query prefix applied.
func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{e.queryPrefix + text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedPassage embeds document-side text with the passage prefix.
func (e *OllamaEmbedder) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{e.docPrefix + text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds document-side texts, chunking to the internal batch
// limit.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := start + maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		prefixed := make([]string, 0, end-start)
		for _, t := range texts[start:end] {
			prefixed = append(prefixed, e.docPrefix+t)
		}
		vecs, err := e.embed(ctx, prefixed)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// embed resolves cached entries, ships the misses to the daemon in one
// request, and caches the results.
func (e *OllamaEmbedder) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	var missIdx []int
	var missText []string
	for i, text := range inputs {
		if e.cache != nil {
			if vec, ok := e.cache.Get(e.cacheKey(text)); ok {
				out[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
		missText = append(missText, text)
	}
	if len(missText) == 0 {
		return out, nil
	}

	body, err := json.Marshal(embedRequest{Model: e.model, Input: missText})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", patinaerr.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", patinaerr.ErrEmbeddingFailed, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: model %s not pulled", patinaerr.ErrModelUnavailable, e.model)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", patinaerr.ErrEmbeddingFailed, resp.StatusCode, respBody)
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", patinaerr.ErrEmbeddingFailed, err)
	}
	if len(parsed.Embeddings) != len(missText) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			patinaerr.ErrEmbeddingFailed, len(parsed.Embeddings), len(missText))
	}

	for i, vec := range parsed.Embeddings {
		if len(vec) != e.dimension {
			return nil, fmt.Errorf("%w: model returned dimension %d, expected %d",
				patinaerr.ErrEmbeddingFailed, len(vec), e.dimension)
		}
		out[missIdx[i]] = vec
		if e.cache != nil {
			e.cache.Add(e.cacheKey(missText[i]), vec)
		}
	}
	return out, nil
}

func (e *OllamaEmbedder) cacheKey(text string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(e.model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return h.Sum64()
}

// Dimension returns the embedding dimension.
func (e *OllamaEmbedder) Dimension() int { return e.dimension }

// ModelID returns the model identifier.
func (e *OllamaEmbedder) ModelID() string { return e.model }
