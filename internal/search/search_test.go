package search

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/beamstep/internal/beam"
	"github.com/samcharles93/beamstep/internal/tensor"
)

// Default markers: PAD 0, UNK 1, BOS 2, EOS 3.
const (
	tokA  = 4
	tokB  = 5
	vocab = 6
)

// bigramScorer scores the next token from the previous one only. Attention
// always lands on the last source position.
type bigramScorer struct {
	table    [vocab][vocab]float32
	features int
	maxLen   int
}

func newBigram(probs map[int]map[int]float64) *bigramScorer {
	s := &bigramScorer{}
	for prev := range vocab {
		for next := range vocab {
			p := 1e-6
			if row, ok := probs[prev]; ok {
				if v, ok := row[next]; ok {
					p = v
				}
			}
			s.table[prev][next] = float32(math.Log(p))
		}
	}
	return s
}

func (s *bigramScorer) VocabSize() int    { return vocab }
func (s *bigramScorer) FeatureCount() int { return s.features }

func (s *bigramScorer) MaskPadding(sizes []int, maxSourceLength int) {
	s.maxLen = maxSourceLength
}

func (s *bigramScorer) ForwardOne(in beam.StepInput, state beam.RecurrentState, ctx beam.Context, prev *tensor.Mat) (beam.Forward, error) {
	out := tensor.NewMat(len(in.Tokens), 1)
	att := tensor.NewMat(len(in.Tokens), s.maxLen)
	for i, tok := range in.Tokens {
		out.Set(i, 0, float32(tok))
		att.Set(i, s.maxLen-1, 1)
	}
	return beam.Forward{Output: out, State: state, Attention: &att}, nil
}

func (s *bigramScorer) Generate(out tensor.Mat) ([]tensor.Mat, error) {
	scores := tensor.NewMat(out.R, vocab)
	feats := make([]tensor.Mat, s.features)
	for f := range feats {
		feats[f] = tensor.NewMat(out.R, vocab)
	}
	for i := range out.R {
		prev := int(out.At(i, 0))
		copy(scores.Row(i), s.table[prev][:])
		for f := range feats {
			feats[f].Set(i, prev, 1)
		}
	}
	return append([]tensor.Mat{scores}, feats...), nil
}

type featureDict int

func (d featureDict) NumFeatures() int { return int(d) }

func input(sc *bigramScorer, sizes ...int) Input {
	batch := beam.NewBatch(sizes)
	ctx := make(beam.Context, len(sizes))
	for i := range ctx {
		ctx[i] = tensor.NewMat(batch.MaxSourceLength, 2)
	}
	return Input{
		Scorer:   sc,
		Batch:    batch,
		Context:  ctx,
		State:    beam.RecurrentState{tensor.NewMat(len(sizes), 2)},
		Features: featureDict(sc.features),
	}
}

// gardenPath makes the greedy first choice lead to a worse sentence.
func gardenPath() *bigramScorer {
	return newBigram(map[int]map[int]float64{
		2:    {tokA: 0.6, tokB: 0.4},
		tokA: {3: 0.4, tokA: 0.3, tokB: 0.3},
		tokB: {3: 0.9, tokA: 0.05, tokB: 0.05},
	})
}

func newSearcher(t *testing.T, beamSize, nBest int, opts beam.Options) *Searcher {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BeamSize = beamSize
	cfg.NBest = nBest
	cfg.Options = opts
	s, err := New(cfg, nil)
	require.NoError(t, err)
	return s
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.NBest = 6
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.BeamSize = 0
	_, err := New(cfg, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.BeamSize = MaxBeamSize
	require.NoError(t, cfg.Validate())
	cfg.BeamSize = MaxBeamSize + 1
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestBeamBeatsGreedy(t *testing.T) {
	opts := beam.Options{MaxSentLength: 10}

	greedy, err := newSearcher(t, 1, 1, opts).Run(context.Background(), input(gardenPath(), 2))
	require.NoError(t, err)
	require.Len(t, greedy, 1)
	require.Len(t, greedy[0].NBest, 1)
	assert.Equal(t, []int{tokA}, greedy[0].NBest[0].Tokens)
	assert.InDelta(t, math.Log(0.24), greedy[0].NBest[0].Score, 1e-5)

	wide, err := newSearcher(t, 2, 1, opts).Run(context.Background(), input(gardenPath(), 2))
	require.NoError(t, err)
	require.Len(t, wide[0].NBest, 1)
	assert.Equal(t, []int{tokB}, wide[0].NBest[0].Tokens)
	assert.InDelta(t, math.Log(0.36), wide[0].NBest[0].Score, 1e-5)
}

func TestNBestIsSortedBestFirst(t *testing.T) {
	res, err := newSearcher(t, 2, 2, beam.Options{MaxSentLength: 10}).Run(context.Background(), input(gardenPath(), 2))
	require.NoError(t, err)
	require.Len(t, res[0].NBest, 2)
	assert.Equal(t, []int{tokB}, res[0].NBest[0].Tokens)
	assert.Equal(t, []int{tokA}, res[0].NBest[1].Tokens)
	assert.Greater(t, res[0].NBest[0].Score, res[0].NBest[1].Score)
}

func TestEmptyHypothesisIsFiltered(t *testing.T) {
	sc := newBigram(map[int]map[int]float64{
		2:    {3: 0.9, tokA: 0.1},
		tokA: {3: 0.9},
	})
	res, err := newSearcher(t, 2, 1, beam.Options{MaxSentLength: 10}).Run(context.Background(), input(sc, 1))
	require.NoError(t, err)
	require.Len(t, res[0].NBest, 1)
	assert.Equal(t, []int{tokA}, res[0].NBest[0].Tokens)
}

func TestUnknownBudget(t *testing.T) {
	sc := newBigram(map[int]map[int]float64{
		2:    {1: 0.9, tokA: 0.1},
		1:    {3: 0.9},
		tokA: {3: 0.9},
	})
	opts := beam.Options{MaxSentLength: 10}
	res, err := newSearcher(t, 2, 1, opts).Run(context.Background(), input(sc, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{tokA}, res[0].NBest[0].Tokens)

	opts.MaxNumUnks = 1
	res, err = newSearcher(t, 2, 1, opts).Run(context.Background(), input(sc, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res[0].NBest[0].Tokens)
}

func TestLengthCapFinishesWithoutEOS(t *testing.T) {
	sc := newBigram(map[int]map[int]float64{
		2:    {tokA: 0.9},
		tokA: {tokA: 0.9},
	})
	res, err := newSearcher(t, 2, 1, beam.Options{MaxSentLength: 3}).Run(context.Background(), input(sc, 1, 2))
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		require.Len(t, r.NBest, 1)
		assert.Equal(t, []int{tokA, tokA, tokA}, r.NBest[0].Tokens)
	}
}

func TestAttentionIsRelativeToSource(t *testing.T) {
	res, err := newSearcher(t, 2, 1, beam.Options{MaxSentLength: 10}).Run(context.Background(), input(gardenPath(), 3, 1))
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, []int{2}, res[0].NBest[0].Attention)
	assert.Equal(t, []int{0}, res[1].NBest[0].Attention)
}

func TestFeaturesFollowTokens(t *testing.T) {
	sc := gardenPath()
	sc.features = 1
	res, err := newSearcher(t, 2, 1, beam.Options{MaxSentLength: 10}).Run(context.Background(), input(sc, 2))
	require.NoError(t, err)
	hyp := res[0].NBest[0]
	require.Len(t, hyp.Features, 1)
	// The feature head echoes the previous token, so the first prediction is BOS.
	assert.Equal(t, []int{2}, hyp.Features[0])
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newSearcher(t, 2, 1, beam.DefaultOptions()).Run(ctx, input(gardenPath(), 2))
	require.ErrorIs(t, err, context.Canceled)
}

func TestEmptyBatch(t *testing.T) {
	res, err := newSearcher(t, 2, 1, beam.DefaultOptions()).Run(context.Background(), input(gardenPath()))
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestReplaceUnknowns(t *testing.T) {
	words := map[int]string{4: "das", 5: "haus"}
	lookup := func(id int) string {
		if w, ok := words[id]; ok {
			return w
		}
		return "<unk>"
	}
	h := Hypothesis{Tokens: []int{4, 1, 5, 1}, Attention: []int{0, 2, 1, -1}}
	got := ReplaceUnknowns(h, []string{"the", "big", "Hamburg"}, 1, lookup)
	assert.Equal(t, []string{"das", "Hamburg", "haus", "<unk>"}, got)
}
