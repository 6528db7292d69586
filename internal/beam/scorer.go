package beam

import "github.com/samcharles93/beamstep/internal/tensor"

// Context is the encoder output: one L × H matrix per row of the batch.
// It is shared read-only by every step and every hypothesis.
type Context []tensor.Mat

// RecurrentState is the scorer's hidden state, one B × H matrix per layer.
type RecurrentState []tensor.Mat

// Clone deep-copies every layer.
func (s RecurrentState) Clone() RecurrentState {
	if s == nil {
		return nil
	}
	out := make(RecurrentState, len(s))
	for i := range s {
		out[i] = s[i].Clone()
	}
	return out
}

// StepInput is what the scorer consumes for one step. Features holds one
// vector of B ids per auxiliary feature and is empty for models without
// auxiliary outputs.
type StepInput struct {
	Tokens   []int
	Features [][]int
}

// Forward is the result of advancing the scorer by one token.
type Forward struct {
	Output tensor.Mat
	State  RecurrentState
	// Attention is the B × L attention distribution of this step, nil when
	// the model has none.
	Attention *tensor.Mat
}

// Scorer wraps the sequence model. Implementations must not mutate the
// state, context or previous output they are handed.
type Scorer interface {
	// VocabSize is V, the column count of the primary scores.
	VocabSize() int
	// FeatureCount is the number of auxiliary feature heads.
	FeatureCount() int
	// MaskPadding records which context positions are padding for the
	// following ForwardOne call.
	MaskPadding(sourceSizes []int, maxSourceLength int)
	// ForwardOne advances every row by one step.
	ForwardOne(in StepInput, state RecurrentState, ctx Context, prev *tensor.Mat) (Forward, error)
	// Generate maps decoder output to log-scores: the B × V primary
	// distribution first, then one matrix per auxiliary feature.
	Generate(out tensor.Mat) ([]tensor.Mat, error)
}
