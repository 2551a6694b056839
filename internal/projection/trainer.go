package projection

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// TrainConfig controls one projection training run. Identical config,
// pairs, and seed produce byte-identical weights.
type TrainConfig struct {
	ModelID      string
	Dimension    string
	InputDim     int
	HiddenDim    int
	OutputDim    int
	Epochs       int
	LearningRate float64
	Margin       float64
	Seed         int64
}

func (c *TrainConfig) defaults() {
	if c.HiddenDim <= 0 {
		c.HiddenDim = 512
	}
	if c.OutputDim <= 0 {
		c.OutputDim = 256
	}
	if c.Epochs <= 0 {
		c.Epochs = 5
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.01
	}
	if c.Margin <= 0 {
		c.Margin = 0.2
	}
}

// Pair is one labeled positive pair of base embeddings.
type Pair struct {
	Anchor   []float32
	Positive []float32
}

// Train fits a projection with a triplet loss: the anchor should sit
// closer to its positive than to a random negative by at least the
// margin. Negatives are sampled from other pairs' positives.
func Train(cfg TrainConfig, pairs []Pair) (*Projection, error) {
	cfg.defaults()
	if cfg.InputDim <= 0 {
		return nil, fmt.Errorf("train %s: input dimension required", cfg.Dimension)
	}
	if len(pairs) < 2 {
		return nil, fmt.Errorf("train %s: need at least 2 pairs, have %d", cfg.Dimension, len(pairs))
	}
	for i, p := range pairs {
		if len(p.Anchor) != cfg.InputDim || len(p.Positive) != cfg.InputDim {
			return nil, fmt.Errorf("train %s: pair %d has wrong dimension", cfg.Dimension, i)
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	// Xavier-style init keeps tanh activations in range.
	w1 := randomMatrix(rng, cfg.HiddenDim, cfg.InputDim)
	b1 := make([]float64, cfg.HiddenDim)
	w2 := randomMatrix(rng, cfg.OutputDim, cfg.HiddenDim)
	b2 := make([]float64, cfg.OutputDim)

	proj := &Projection{
		meta: Weights{
			ModelID: cfg.ModelID, Dimension: cfg.Dimension,
			InputDim: cfg.InputDim, HiddenDim: cfg.HiddenDim, OutputDim: cfg.OutputDim,
			W1: w1, B1: b1, W2: w2, B2: b2,
		},
	}
	var err error
	if proj, err = fromWeights(proj.meta); err != nil {
		return nil, err
	}

	order := make([]int, len(pairs))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, idx := range order {
			p := pairs[idx]
			negIdx := rng.Intn(len(pairs) - 1)
			if negIdx >= idx {
				negIdx++
			}
			neg := pairs[negIdx].Positive

			proj.step(p.Anchor, p.Positive, neg, cfg.LearningRate, cfg.Margin)
		}
	}
	return proj, nil
}

// step applies one triplet SGD update. Gradients are computed
// analytically on both layers, through the tanh derivative on the
// hidden layer; the shallow depth keeps this cheap for a 2-layer
// projector.
func (p *Projection) step(anchor, positive, negative []float32, lr, margin float64) {
	a, ha := p.forward(anchor)
	pos, hp := p.forward(positive)
	neg, hn := p.forward(negative)

	loss := margin - dot(a, pos) + dot(a, neg)
	if loss <= 0 {
		return
	}

	// dL/d a = neg - pos ; dL/d pos = -a ; dL/d neg = a
	p.backward(anchor, ha, sub(neg, pos), lr)
	p.backward(positive, hp, scale(a, -1), lr)
	p.backward(negative, hn, a, lr)
}

// forward returns the normalized output and the hidden activation.
func (p *Projection) forward(in []float32) (*mat.VecDense, *mat.VecDense) {
	x := mat.NewVecDense(p.meta.InputDim, toFloat64(in))

	hidden := mat.NewVecDense(p.meta.HiddenDim, nil)
	hidden.MulVec(p.w1, x)
	hidden.AddVec(hidden, p.b1)
	for i := 0; i < hidden.Len(); i++ {
		hidden.SetVec(i, math.Tanh(hidden.AtVec(i)))
	}

	out := mat.NewVecDense(p.meta.OutputDim, nil)
	out.MulVec(p.w2, hidden)
	out.AddVec(out, p.b2)
	norm := mat.Norm(out, 2)
	if norm > 0 {
		out.ScaleVec(1/norm, out)
	}
	return out, hidden
}

// backward pushes the output-space gradient grad through both layers
// for one input. The normalization jacobian is approximated by the
// identity, standard practice for shallow metric learners.
func (p *Projection) backward(in []float32, hidden *mat.VecDense, grad *mat.VecDense, lr float64) {
	// Output layer: dW2 = grad ⊗ hidden, db2 = grad.
	for i := 0; i < p.meta.OutputDim; i++ {
		g := grad.AtVec(i)
		if g == 0 {
			continue
		}
		for j := 0; j < p.meta.HiddenDim; j++ {
			p.w2.Set(i, j, p.w2.At(i, j)-lr*g*hidden.AtVec(j))
		}
		p.b2.SetVec(i, p.b2.AtVec(i)-lr*g)
	}

	// Hidden layer: dh = W2ᵀ grad ⊙ (1 - h²).
	dh := mat.NewVecDense(p.meta.HiddenDim, nil)
	dh.MulVec(p.w2.T(), grad)
	x := toFloat64(in)
	for j := 0; j < p.meta.HiddenDim; j++ {
		h := hidden.AtVec(j)
		g := dh.AtVec(j) * (1 - h*h)
		if g == 0 {
			continue
		}
		for k := 0; k < p.meta.InputDim; k++ {
			p.w1.Set(j, k, p.w1.At(j, k)-lr*g*x[k])
		}
		p.b1.SetVec(j, p.b1.AtVec(j)-lr*g)
	}
}

func randomMatrix(rng *rand.Rand, rows, cols int) []float64 {
	scale := math.Sqrt(2.0 / float64(rows+cols))
	out := make([]float64, rows*cols)
	for i := range out {
		out[i] = rng.NormFloat64() * scale
	}
	return out
}

func dot(a, b *mat.VecDense) float64 {
	return mat.Dot(a, b)
}

func sub(a, b *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(a.Len(), nil)
	out.SubVec(a, b)
	return out
}

func scale(a *mat.VecDense, s float64) *mat.VecDense {
	out := mat.NewVecDense(a.Len(), nil)
	out.ScaleVec(s, a)
	return out
}
