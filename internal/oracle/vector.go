package oracle

import (
	"context"
	"fmt"

	"github.com/NicabarNimble/patina/internal/embed"
	"github.com/NicabarNimble/patina/internal/projection"
	"github.com/NicabarNimble/patina/internal/vectorindex"
)

// vectorOracle is the shared shape of every projection-backed oracle:
// embed the query, project it into the dimension's space, search the
// dimension's index.
type vectorOracle struct {
	name     string
	grain    Grain
	embedder embed.Embedder
	proj     *projection.Projection
	index    *vectorindex.Index
}

// newVectorOracle loads the trained projection and its companion index,
// failing when either is missing or their dimensions disagree.
func newVectorOracle(name string, grain Grain, embedder embed.Embedder, weightsPath, indexPath string) (*vectorOracle, error) {
	proj, err := projection.Load(weightsPath)
	if err != nil {
		return nil, err
	}
	if proj.InputDim() != embedder.Dimension() {
		return nil, fmt.Errorf("projection %s trained for base dimension %d, embedder has %d",
			name, proj.InputDim(), embedder.Dimension())
	}
	idx, err := vectorindex.Open(indexPath, proj.OutputDim())
	if err != nil {
		return nil, err
	}
	return &vectorOracle{
		name:     name,
		grain:    grain,
		embedder: embedder,
		proj:     proj,
		index:    idx,
	}, nil
}

func (o *vectorOracle) Name() string { return o.name }

func (o *vectorOracle) Grain() Grain { return o.grain }

func (o *vectorOracle) Query(ctx context.Context, text string, limit int) ([]Result, error) {
	base, err := o.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	vec, err := o.proj.Project(base)
	if err != nil {
		return nil, err
	}
	hits, err := o.index.Search(vec, limit)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{DocID: h.DocID, Score: h.Similarity, Content: h.Content})
	}
	return results, nil
}

func (o *vectorOracle) Status() string {
	n, err := o.index.Count()
	if err != nil {
		return fmt.Sprintf("index error: %v", err)
	}
	return fmt.Sprintf("ready (%d docs, dim %d)", n, o.index.Dimension())
}

// Close releases the index handle.
func (o *vectorOracle) Close() error { return o.index.Close() }

// Semantic answers "what code is about X" from the semantic projection
// space over symbol documents.
type Semantic struct {
	*vectorOracle
}

// NewSemantic constructs the semantic oracle.
func NewSemantic(embedder embed.Embedder, weightsPath, indexPath string) (*Semantic, error) {
	vo, err := newVectorOracle("semantic", GrainSymbol, embedder, weightsPath, indexPath)
	if err != nil {
		return nil, err
	}
	return &Semantic{vectorOracle: vo}, nil
}
