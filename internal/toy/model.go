// Package toy provides a small deterministic attention encoder-decoder used
// to exercise the decoder without trained weights. Weights come from a seed,
// so the same configuration always produces the same translations.
package toy

import (
	"errors"
	"fmt"
	"math"

	"github.com/samcharles93/beamstep/internal/beam"
	"github.com/samcharles93/beamstep/internal/tensor"
)

var ErrInvalidConfig = errors.New("invalid toy model config")

// Config sizes the model.
type Config struct {
	SrcVocab int
	TgtVocab int
	// FeatureSizes holds the vocabulary size of each auxiliary feature.
	FeatureSizes []int
	Hidden       int
	Layers       int
	Seed         int64
	PadID        int
}

func (c Config) validate() error {
	switch {
	case c.SrcVocab <= 0 || c.TgtVocab <= 0:
		return fmt.Errorf("%w: vocabularies must be non-empty", ErrInvalidConfig)
	case c.Hidden <= 0:
		return fmt.Errorf("%w: hidden size must be positive", ErrInvalidConfig)
	case c.Layers <= 0:
		return fmt.Errorf("%w: layer count must be positive", ErrInvalidConfig)
	case c.PadID < 0 || c.PadID >= c.SrcVocab:
		return fmt.Errorf("%w: pad id %d outside source vocabulary", ErrInvalidConfig, c.PadID)
	}
	for i, n := range c.FeatureSizes {
		if n <= 0 {
			return fmt.Errorf("%w: feature %d has an empty vocabulary", ErrInvalidConfig, i)
		}
	}
	return nil
}

type layer struct {
	Wx tensor.Mat // [Hidden x Hidden]
	Wh tensor.Mat // [Hidden x Hidden]
}

// Model holds the weights. It is read-only after NewModel and may be shared
// by concurrent decodes; per-decode state lives in the Scorer.
type Model struct {
	cfg Config

	SrcEmb  tensor.Mat   // [SrcVocab x Hidden]
	TgtEmb  tensor.Mat   // [TgtVocab x Hidden]
	FeatEmb []tensor.Mat // one [FeatureSize x Hidden] per feature
	Layers  []layer
	Woh     tensor.Mat   // [Hidden x Hidden] top state to output
	Woc     tensor.Mat   // [Hidden x Hidden] attention context to output
	Gen     tensor.Mat   // [TgtVocab x Hidden]
	GenBias []float32    // [TgtVocab]
	FeatGen []tensor.Mat // one [FeatureSize x Hidden] per feature
}

// NewModel initialises every weight from cfg.Seed.
func NewModel(cfg Config) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	h := cfg.Hidden
	scale := float32(2 / math.Sqrt(float64(h)))
	seed := cfg.Seed
	rand := func(r, c int) tensor.Mat {
		m := tensor.NewMat(r, c)
		seed += 7919
		tensor.FillRand(&m, seed, scale)
		return m
	}

	m := &Model{
		cfg:     cfg,
		SrcEmb:  rand(cfg.SrcVocab, h),
		TgtEmb:  rand(cfg.TgtVocab, h),
		Woh:     rand(h, h),
		Woc:     rand(h, h),
		Gen:     rand(cfg.TgtVocab, h),
		GenBias: make([]float32, cfg.TgtVocab),
	}
	for range cfg.Layers {
		m.Layers = append(m.Layers, layer{Wx: rand(h, h), Wh: rand(h, h)})
	}
	for _, n := range cfg.FeatureSizes {
		m.FeatEmb = append(m.FeatEmb, rand(n, h))
		m.FeatGen = append(m.FeatGen, rand(n, h))
	}
	// Zero the padding embedding so padded context rows carry no signal.
	clear(m.SrcEmb.Row(cfg.PadID))
	return m, nil
}

// Config returns the configuration the model was built with.
func (m *Model) Config() Config { return m.cfg }

// Encode embeds a batch of sources. Sources are left-padded to the longest
// one, so the first MaxSourceLength-size positions of a row are padding.
// The initial decoder state of every layer is the mean of the valid
// context positions.
func (m *Model) Encode(sources [][]int) (beam.Batch, beam.Context, beam.RecurrentState) {
	sizes := make([]int, len(sources))
	for i, src := range sources {
		sizes[i] = len(src)
	}
	batch := beam.NewBatch(sizes)
	h := m.cfg.Hidden

	ctx := make(beam.Context, len(sources))
	init := tensor.NewMat(len(sources), h)
	for i, src := range sources {
		c := tensor.NewMat(batch.MaxSourceLength, h)
		offset := batch.MaxSourceLength - len(src)
		mean := init.Row(i)
		for p, tok := range src {
			row := c.Row(offset + p)
			copy(row, m.SrcEmb.Row(m.wrap(tok, m.cfg.SrcVocab)))
			tensor.Tanh(row)
			tensor.Add(mean, row)
		}
		if len(src) > 0 {
			inv := 1 / float32(len(src))
			for j := range mean {
				mean[j] *= inv
			}
		}
		ctx[i] = c
	}

	state := make(beam.RecurrentState, len(m.Layers))
	for l := range state {
		state[l] = init.Clone()
	}
	return batch, ctx, state
}

// NewScorer returns a Scorer for one decode.
func (m *Model) NewScorer() beam.Scorer {
	return &Scorer{m: m}
}

func (m *Model) wrap(tok, n int) int {
	tok %= n
	if tok < 0 {
		tok += n
	}
	return tok
}

// Scorer adapts a Model to beam.Scorer. It owns the padding mask of its
// decode and must not be shared between decodes.
type Scorer struct {
	m      *Model
	sizes  []int
	maxLen int
}

var _ beam.Scorer = (*Scorer)(nil)

func (s *Scorer) VocabSize() int    { return s.m.cfg.TgtVocab }
func (s *Scorer) FeatureCount() int { return len(s.m.cfg.FeatureSizes) }

// MaskPadding records the source sizes used by the next ForwardOne.
func (s *Scorer) MaskPadding(sourceSizes []int, maxSourceLength int) {
	s.sizes = sourceSizes
	s.maxLen = maxSourceLength
}

// ForwardOne runs every decoder layer for one token per row, then attends
// over the row's context. The previous output is fed back into the input.
func (s *Scorer) ForwardOne(in beam.StepInput, state beam.RecurrentState, ctx beam.Context, prev *tensor.Mat) (beam.Forward, error) {
	m := s.m
	rows := len(in.Tokens)
	h := m.cfg.Hidden
	if len(state) != len(m.Layers) {
		return beam.Forward{}, fmt.Errorf("toy: state has %d layers, model has %d", len(state), len(m.Layers))
	}
	if len(in.Features) != len(m.FeatEmb) {
		return beam.Forward{}, fmt.Errorf("toy: %d feature inputs for %d feature embeddings", len(in.Features), len(m.FeatEmb))
	}
	if len(ctx) != rows || len(s.sizes) != rows {
		return beam.Forward{}, fmt.Errorf("toy: %d rows with %d contexts and %d source sizes", rows, len(ctx), len(s.sizes))
	}

	x := tensor.NewMat(rows, h)
	for i, tok := range in.Tokens {
		row := x.Row(i)
		copy(row, m.TgtEmb.Row(m.wrap(tok, m.cfg.TgtVocab)))
		for f, ids := range in.Features {
			tensor.Add(row, m.FeatEmb[f].Row(m.wrap(ids[i], m.FeatEmb[f].R)))
		}
		if prev != nil && prev.R == rows {
			tensor.Add(row, prev.Row(i))
		}
	}

	next := make(beam.RecurrentState, len(m.Layers))
	tmp := make([]float32, h)
	for l, ly := range m.Layers {
		out := tensor.NewMat(rows, h)
		for i := range rows {
			dst := out.Row(i)
			tensor.MatVec(dst, &ly.Wx, x.Row(i))
			tensor.MatVec(tmp, &ly.Wh, state[l].Row(i))
			tensor.Add(dst, tmp)
			tensor.Tanh(dst)
		}
		next[l] = out
		x = out
	}

	att := tensor.NewMat(rows, s.maxLen)
	output := tensor.NewMat(rows, h)
	mixed := make([]float32, h)
	for i := range rows {
		top := x.Row(i)
		weights := att.Row(i)
		c := ctx[i]
		pad := s.maxLen - s.sizes[i]
		for p := range weights {
			if p < pad || p >= c.R {
				weights[p] = float32(math.Inf(-1))
				continue
			}
			weights[p] = tensor.Dot(c.Row(p), top)
		}
		tensor.Softmax(weights)

		clear(mixed)
		for p := pad; p < min(c.R, len(weights)); p++ {
			tensor.AddScaled(mixed, weights[p], c.Row(p))
		}
		dst := output.Row(i)
		tensor.MatVec(dst, &m.Woh, top)
		tensor.MatVec(tmp, &m.Woc, mixed)
		tensor.Add(dst, tmp)
		tensor.Tanh(dst)
	}

	return beam.Forward{Output: output, State: next, Attention: &att}, nil
}

// Generate projects decoder output to log-probabilities over the target
// vocabulary and over every auxiliary feature vocabulary.
func (s *Scorer) Generate(out tensor.Mat) ([]tensor.Mat, error) {
	m := s.m
	if out.C != m.cfg.Hidden {
		return nil, fmt.Errorf("toy: decoder output width %d, want %d", out.C, m.cfg.Hidden)
	}
	res := make([]tensor.Mat, 0, 1+len(m.FeatGen))
	res = append(res, project(&m.Gen, m.GenBias, &out))
	for f := range m.FeatGen {
		res = append(res, project(&m.FeatGen[f], nil, &out))
	}
	return res, nil
}

func project(w *tensor.Mat, bias []float32, out *tensor.Mat) tensor.Mat {
	scores := tensor.NewMat(out.R, w.R)
	for i := range out.R {
		row := scores.Row(i)
		tensor.MatVec(row, w, out.Row(i))
		if bias != nil {
			tensor.Add(row, bias)
		}
	}
	tensor.LogSoftmaxRows(&scores)
	return scores
}
