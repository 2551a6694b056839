package oracle

import (
	"github.com/NicabarNimble/patina/internal/embed"
)

// Persona retrieves cross-project notes from the user-home persona
// store. Structurally it is a vector oracle like semantic, but its
// index lives under ~/.patina/personas/<name>/ and is shared by every
// project the user works on.
type Persona struct {
	*vectorOracle
}

// NewPersona constructs the persona oracle over a persona's projection
// artifacts. The oracle is optional: a user without a persona store
// simply has no artifacts to load, and construction fails.
func NewPersona(embedder embed.Embedder, weightsPath, indexPath string) (*Persona, error) {
	vo, err := newVectorOracle("persona", GrainPersona, embedder, weightsPath, indexPath)
	if err != nil {
		return nil, err
	}
	return &Persona{vectorOracle: vo}, nil
}
