// Package oracle houses the independent retrieval modules. Each oracle
// owns its resources (embedder, index, DB handle) for the process
// lifetime and answers queries with ranked results in its own
// dimension-native score units.
package oracle

import "context"

// Grain is the resolution level of a doc ID. Oracles of different
// grains must not be fused without a promotion rule.
type Grain string

const (
	GrainFile    Grain = "file"    // ./path/to/file.ext
	GrainSymbol  Grain = "symbol"  // ./path/to/file.ext::fn:name
	GrainBelief  Grain = "belief"  // belief:<id>
	GrainSession Grain = "session" // session:<id>
	GrainPersona Grain = "persona" // persona:<name>:<id>
)

// Result is one ranked answer. Raw scores are not comparable across
// oracles; fusion works on ranks.
type Result struct {
	DocID   string
	Score   float64 // dimension-native units
	Content string  // optional snippet
}

// Oracle is the uniform retrieval surface. Implementations are structs
// with their own state; a new oracle is added by implementing this set
// and registering with the orchestrator.
type Oracle interface {
	Name() string
	Grain() Grain
	Query(ctx context.Context, text string, limit int) ([]Result, error)
	Status() string
}

// SymbolDocFile extracts the file part of a symbol-grain doc ID,
// returning the input unchanged when it has no symbol suffix. This is
// the promotion rule used when mixed-grain pools are fused at file
// grain.
func SymbolDocFile(docID string) string {
	for i := 0; i+1 < len(docID); i++ {
		if docID[i] == ':' && docID[i+1] == ':' {
			return docID[:i]
		}
	}
	return docID
}
