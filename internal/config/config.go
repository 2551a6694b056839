// Package config provides project configuration loading and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the per-project configuration stored in
// .patina/config.toml.
type Config struct {
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Projection ProjectionConfig `toml:"projection"`
	Query      QueryConfig      `toml:"query"`
	Scrape     ScrapeConfig     `toml:"scrape"`
	Log        LogConfig        `toml:"log"`
}

// EmbeddingConfig selects the embedding model. Inference runs against a
// locally hosted daemon; model blobs live under the user-home cache.
type EmbeddingConfig struct {
	Model       string `toml:"model"`        // e.g. nomic-embed-text
	BaseURL     string `toml:"base_url"`     // daemon endpoint
	Dimension   int    `toml:"dimension"`    // base embedding dimension
	QueryPrefix string `toml:"query_prefix"` // model-specific, e.g. "search_query: "
	DocPrefix   string `toml:"doc_prefix"`   // model-specific, e.g. "search_document: "
	CacheSize   int    `toml:"cache_size"`   // embedding LRU entries
}

// ProjectionConfig controls the trained per-dimension transforms.
type ProjectionConfig struct {
	OutputDim  int      `toml:"output_dim"` // projected vector size
	HiddenDim  int      `toml:"hidden_dim"` // hidden layer size
	Dimensions []string `toml:"dimensions"` // which retrieval dimensions to train
	Seed       int64    `toml:"seed"`       // RNG seed for reproducible training
}

// QueryConfig controls fusion and presentation.
type QueryConfig struct {
	RRFConstant     int      `toml:"rrf_constant"`      // k in 1/(k+rank)
	Limit           int      `toml:"limit"`             // default result count
	MaxPerFile      int      `toml:"max_per_file"`      // diversity cap
	FullSnippetMin  float64  `toml:"full_snippet_min"`  // fused score for full snippets
	ShortSnippetMin float64  `toml:"short_snippet_min"` // fused score for summaries
	FullSnippetLen  int      `toml:"full_snippet_len"`
	ShortSnippetLen int      `toml:"short_snippet_len"`
	DisabledOracles []string `toml:"disabled_oracles"`
	IntentSkip      bool     `toml:"intent_skip"` // skip semantic oracles for lexical-intent queries
}

// ScrapeConfig controls source ingestion.
type ScrapeConfig struct {
	IgnoreGlobs []string `toml:"ignore_globs"`
	MaxFileKB   int      `toml:"max_file_kb"` // skip source files larger than this
	Workers     int      `toml:"workers"`     // parser pool size, 0 = NumCPU
}

// LogConfig controls engine logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Model:       "nomic-embed-text",
			BaseURL:     "http://localhost:11434",
			Dimension:   768,
			QueryPrefix: "search_query: ",
			DocPrefix:   "search_document: ",
			CacheSize:   4096,
		},
		Projection: ProjectionConfig{
			OutputDim:  256,
			HiddenDim:  512,
			Dimensions: []string{"semantic", "temporal", "dependency", "belief"},
			Seed:       42,
		},
		Query: QueryConfig{
			RRFConstant:     60,
			Limit:           10,
			MaxPerFile:      2,
			FullSnippetMin:  0.025,
			ShortSnippetMin: 0.012,
			FullSnippetLen:  300,
			ShortSnippetLen: 100,
		},
		Scrape: ScrapeConfig{
			IgnoreGlobs: []string{".git", ".patina", "node_modules", "target", "vendor"},
			MaxFileKB:   512,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads config.toml from the given path, layering it over defaults.
// A missing file returns defaults without error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyFloors()
	return cfg, nil
}

// Save writes the config as TOML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// applyFloors clamps zero values back to usable defaults so a sparse
// config file cannot disable core machinery.
func (c *Config) applyFloors() {
	d := Default()
	if c.Embedding.Dimension <= 0 {
		c.Embedding.Dimension = d.Embedding.Dimension
	}
	if c.Projection.OutputDim <= 0 {
		c.Projection.OutputDim = d.Projection.OutputDim
	}
	if c.Projection.HiddenDim <= 0 {
		c.Projection.HiddenDim = d.Projection.HiddenDim
	}
	if c.Query.RRFConstant <= 0 {
		c.Query.RRFConstant = d.Query.RRFConstant
	}
	if c.Query.Limit <= 0 {
		c.Query.Limit = d.Query.Limit
	}
	if c.Query.MaxPerFile <= 0 {
		c.Query.MaxPerFile = d.Query.MaxPerFile
	}
}
