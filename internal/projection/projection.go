// Package projection implements the learned per-dimension transform
// from base embeddings to specialized retrieval spaces.
//
// A projection is a two-layer dense network: tanh(W1·x+b1) then
// W2·h+b2, L2-normalized so downstream cosine similarity is a dot
// product. Weights are trained offline by the oxidize pipeline.
package projection

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

// Weights is the serialized form of one trained projection.
type Weights struct {
	ModelID   string // base embedding model the projection was trained on
	Dimension string // retrieval dimension name: semantic, temporal, ...
	InputDim  int
	HiddenDim int
	OutputDim int
	W1        []float64 // HiddenDim x InputDim, row-major
	B1        []float64 // HiddenDim
	W2        []float64 // OutputDim x HiddenDim, row-major
	B2        []float64 // OutputDim
}

// Projection applies trained weights to base vectors.
type Projection struct {
	meta Weights
	w1   *mat.Dense
	b1   *mat.VecDense
	w2   *mat.Dense
	b2   *mat.VecDense
}

// fromWeights validates and wires the tensors.
func fromWeights(w Weights) (*Projection, error) {
	if len(w.W1) != w.HiddenDim*w.InputDim || len(w.B1) != w.HiddenDim ||
		len(w.W2) != w.OutputDim*w.HiddenDim || len(w.B2) != w.OutputDim {
		return nil, fmt.Errorf("projection %s: tensor sizes do not match declared dims", w.Dimension)
	}
	return &Projection{
		meta: w,
		w1:   mat.NewDense(w.HiddenDim, w.InputDim, w.W1),
		b1:   mat.NewVecDense(w.HiddenDim, w.B1),
		w2:   mat.NewDense(w.OutputDim, w.HiddenDim, w.W2),
		b2:   mat.NewVecDense(w.OutputDim, w.B2),
	}, nil
}

// Load reads trained weights from disk.
func Load(path string) (*Projection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open projection: %w", err)
	}
	defer f.Close()

	var w Weights
	if err := gob.NewDecoder(f).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode projection %s: %w", path, err)
	}
	return fromWeights(w)
}

// Save writes the weights, creating parent directories.
func (p *Projection) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create projection dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create projection: %w", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(p.meta); err != nil {
		return fmt.Errorf("encode projection: %w", err)
	}
	return nil
}

// Project maps a base vector into the specialized space. The input
// length must equal the trained input dimension.
func (p *Projection) Project(base []float32) ([]float32, error) {
	if len(base) != p.meta.InputDim {
		return nil, fmt.Errorf("projection %s: input dimension %d, expected %d",
			p.meta.Dimension, len(base), p.meta.InputDim)
	}
	x := mat.NewVecDense(p.meta.InputDim, toFloat64(base))

	var hidden mat.VecDense
	hidden.MulVec(p.w1, x)
	hidden.AddVec(&hidden, p.b1)
	for i := 0; i < hidden.Len(); i++ {
		hidden.SetVec(i, math.Tanh(hidden.AtVec(i)))
	}

	var out mat.VecDense
	out.MulVec(p.w2, &hidden)
	out.AddVec(&out, p.b2)

	// Normalize so the index's cosine similarity is a plain dot product.
	norm := mat.Norm(&out, 2)
	if norm > 0 {
		out.ScaleVec(1/norm, &out)
	}

	projected := make([]float32, p.meta.OutputDim)
	for i := range projected {
		projected[i] = float32(out.AtVec(i))
	}
	return projected, nil
}

// InputDim returns the expected base vector size.
func (p *Projection) InputDim() int { return p.meta.InputDim }

// OutputDim returns the projected vector size.
func (p *Projection) OutputDim() int { return p.meta.OutputDim }

// ModelID returns the base model the projection was trained against.
func (p *Projection) ModelID() string { return p.meta.ModelID }

// DimensionName returns the retrieval dimension this projection serves.
func (p *Projection) DimensionName() string { return p.meta.Dimension }

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
