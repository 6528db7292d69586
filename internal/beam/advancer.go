// Package beam implements the per-step policy of beam-search decoding: how
// a batch of hypotheses is advanced by one token, scored, declared complete
// and filtered. Ranking and backpointer bookkeeping belong to the container
// that calls it.
package beam

import (
	"fmt"
	"slices"

	"github.com/samcharles93/beamstep/internal/logger"
	"github.com/samcharles93/beamstep/internal/logits"
	"github.com/samcharles93/beamstep/internal/tensor"
)

// FeatureDictionary enumerates the auxiliary feature vocabularies of a model.
type FeatureDictionary interface {
	NumFeatures() int
}

// AdvancerConfig is the construction-time input of an Advancer.
type AdvancerConfig struct {
	Scorer  Scorer
	Batch   Batch
	State   RecurrentState
	Context Context
	Options Options
	Markers Markers
	// Features is optional; nil means the model has no auxiliary features.
	Features FeatureDictionary
	Logger   logger.Logger
}

// Advancer drives one decode. It holds no per-hypothesis state: everything
// that changes between steps lives in the StepState carried by the beam.
type Advancer struct {
	scorer      Scorer
	batch       Batch
	initial     RecurrentState
	context     Context
	opts        Options
	markers     Markers
	numFeatures int
	log         logger.Logger
}

// NewAdvancer validates cfg and returns an Advancer for its batch.
func NewAdvancer(cfg AdvancerConfig) (*Advancer, error) {
	if cfg.Scorer == nil {
		return nil, fmt.Errorf("%w: scorer is required", ErrInvalidConfig)
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Markers.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Batch.Validate(); err != nil {
		return nil, err
	}

	numFeatures := 0
	if cfg.Features != nil {
		numFeatures = cfg.Features.NumFeatures()
	}
	if got := cfg.Scorer.FeatureCount(); got != numFeatures {
		return nil, fmt.Errorf("%w: scorer has %d feature heads, dictionary lists %d", ErrFeatureMismatch, got, numFeatures)
	}
	if cfg.Scorer.VocabSize() <= 0 {
		return nil, fmt.Errorf("%w: scorer vocabulary is empty", ErrInvalidConfig)
	}

	rows := cfg.Batch.Size()
	if len(cfg.Context) != rows {
		return nil, fmt.Errorf("%w: context has %d rows, batch has %d", ErrInvalidConfig, len(cfg.Context), rows)
	}
	for i, m := range cfg.Context {
		if m.R != cfg.Batch.MaxSourceLength {
			return nil, fmt.Errorf("%w: context row %d has length %d, want %d", ErrInvalidConfig, i, m.R, cfg.Batch.MaxSourceLength)
		}
	}
	for i, m := range cfg.State {
		if m.R != rows {
			return nil, fmt.Errorf("%w: recurrent layer %d has %d rows, batch has %d", ErrInvalidConfig, i, m.R, rows)
		}
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &Advancer{
		scorer:      cfg.Scorer,
		batch:       cfg.Batch,
		initial:     cfg.State,
		context:     cfg.Context,
		opts:        cfg.Options,
		markers:     cfg.Markers,
		numFeatures: numFeatures,
		log:         log.With("component", "advancer"),
	}, nil
}

// Markers returns the reserved ids of this decode.
func (a *Advancer) Markers() Markers {
	return a.markers
}

// Options returns the decode limits.
func (a *Advancer) Options() Options {
	return a.opts
}

// NumFeatures returns the configured auxiliary feature count.
func (a *Advancer) NumFeatures() int {
	return a.numFeatures
}

// InitBeam returns the starting history and state: every row starts from
// BOS and every feature slot holds EOS until the first prediction.
func (a *Advancer) InitBeam() Seed {
	rows := a.batch.Size()
	features := make([][]int, a.numFeatures)
	for f := range features {
		features[f] = fill(rows, a.markers.EOS)
	}
	return Seed{
		Tokens: [][]int{fill(rows, a.markers.BOS)},
		State: &StepState{
			Recurrent:   a.initial.Clone(),
			Context:     a.context,
			Features:    features,
			SourceSizes: a.batch.SourceSizes,
			Step:        1,
		},
	}
}

// Update feeds the last token of every row, plus the feature ids predicted
// by the previous expand, to the scorer and stores the resulting state in
// the beam. The new state has no feature predictions until Expand runs.
func (a *Advancer) Update(b Beam) error {
	st := b.State()
	if st == nil {
		return fmt.Errorf("%w: beam has no state", ErrMalformedState)
	}
	tokens := b.Tokens()
	if len(tokens) == 0 {
		return fmt.Errorf("%w: token history is empty", ErrMalformedState)
	}
	last := tokens[len(tokens)-1]
	rows := len(last)
	if rows != st.Rows() {
		return fmt.Errorf("%w: %d tokens for %d rows", ErrMalformedState, rows, st.Rows())
	}
	if st.Features == nil && a.numFeatures > 0 {
		return fmt.Errorf("%w: no feature predictions, expand must run before the next update", ErrMalformedState)
	}
	if st.Features != nil && len(st.Features) != a.numFeatures {
		return fmt.Errorf("%w: state carries %d features, want %d", ErrFeatureMismatch, len(st.Features), a.numFeatures)
	}
	for f, ids := range st.Features {
		if len(ids) != rows {
			return fmt.Errorf("%w: feature %d has %d ids for %d rows", ErrMalformedState, f, len(ids), rows)
		}
	}

	next := &StepState{
		Context:     st.Context,
		SourceSizes: st.SourceSizes,
		Step:        st.Step + 1,
	}

	if rows == 0 {
		empty := tensor.NewMat(0, 0)
		next.Recurrent = st.Recurrent
		next.Output = &empty
		b.SetState(next)
		return nil
	}

	in := StepInput{
		Tokens:   slices.Clone(last),
		Features: make([][]int, len(st.Features)),
	}
	for f, ids := range st.Features {
		in.Features[f] = slices.Clone(ids)
	}

	a.scorer.MaskPadding(st.SourceSizes, a.batch.MaxSourceLength)
	fwd, err := a.scorer.ForwardOne(in, st.Recurrent, st.Context, st.Output)
	if err != nil {
		return fmt.Errorf("forward step %d: %w", st.Step, err)
	}
	if fwd.Output.R != rows {
		return fmt.Errorf("%w: decoder output has %d rows, want %d", ErrShapeMismatch, fwd.Output.R, rows)
	}

	out := fwd.Output
	next.Recurrent = fwd.State
	next.Output = &out
	next.Attention = fwd.Attention
	b.SetState(next)

	a.log.Debug("update", "step", next.Step, "rows", rows, "features", len(in.Features))
	return nil
}

// Expand scores the next token for every row. It returns the B × V primary
// log-scores and stores the arg-max of every auxiliary distribution in the
// beam's state for the next update.
func (a *Advancer) Expand(b Beam) (tensor.Mat, error) {
	st := b.State()
	if st == nil || st.Output == nil {
		return tensor.Mat{}, fmt.Errorf("%w: expand called before update", ErrMalformedState)
	}
	rows := st.Output.R
	vocab := a.scorer.VocabSize()

	next := *st
	next.Features = make([][]int, a.numFeatures)

	if rows == 0 {
		for f := range next.Features {
			next.Features[f] = []int{}
		}
		b.SetState(&next)
		return tensor.NewMat(0, vocab), nil
	}

	outs, err := a.scorer.Generate(*st.Output)
	if err != nil {
		return tensor.Mat{}, fmt.Errorf("generate step %d: %w", st.Step, err)
	}
	if len(outs) != 1+a.numFeatures {
		return tensor.Mat{}, fmt.Errorf("%w: generator returned %d distributions, want %d", ErrShapeMismatch, len(outs), 1+a.numFeatures)
	}
	scores := outs[0]
	if scores.R != rows || scores.C != vocab {
		return tensor.Mat{}, fmt.Errorf("%w: scores are %dx%d, want %dx%d", ErrShapeMismatch, scores.R, scores.C, rows, vocab)
	}
	for f := range next.Features {
		dist := outs[f+1]
		if dist.R != rows || dist.C == 0 {
			return tensor.Mat{}, fmt.Errorf("%w: feature %d distribution is %dx%d, want %d non-empty rows", ErrShapeMismatch, f, dist.R, dist.C, rows)
		}
		next.Features[f] = logits.ArgmaxRows(&dist)
	}
	b.SetState(&next)

	a.log.Debug("expand", "step", st.Step, "rows", rows, "vocab", vocab)
	return scores, nil
}

// IsComplete flags rows whose last token is EOS. Once the history holds
// MaxSentLength generated tokens every row is flagged: the length cap
// applies to the whole batch at once.
func (a *Advancer) IsComplete(b Beam) []bool {
	tokens := b.Tokens()
	if len(tokens) == 0 {
		return nil
	}
	last := tokens[len(tokens)-1]
	complete := make([]bool, len(last))
	if len(tokens) < 2 {
		return complete
	}
	for i, tok := range last {
		complete[i] = tok == a.markers.EOS
	}
	if len(tokens)-1 >= a.opts.MaxSentLength {
		for i := range complete {
			complete[i] = true
		}
	}
	return complete
}

// Filter flags rows that must be pruned: more than MaxNumUnks unknown
// tokens in the history, or an EOS as the very first generated token.
func (a *Advancer) Filter(b Beam) []bool {
	tokens := b.Tokens()
	if len(tokens) == 0 {
		return nil
	}
	unks := CountTokens(tokens, a.markers.UNK)
	pruned := make([]bool, len(unks))
	for i, n := range unks {
		pruned[i] = n > a.opts.MaxNumUnks
	}
	if len(tokens) == 2 {
		for i, tok := range tokens[1] {
			if tok == a.markers.EOS {
				pruned[i] = true
			}
		}
	}
	return pruned
}

// CountTokens counts, per row, how often id occurs across the history.
func CountTokens(tokens [][]int, id int) []int {
	if len(tokens) == 0 {
		return nil
	}
	counts := make([]int, len(tokens[0]))
	for _, step := range tokens {
		for i, tok := range step {
			if tok == id {
				counts[i]++
			}
		}
	}
	return counts
}

func fill(n, v int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}
