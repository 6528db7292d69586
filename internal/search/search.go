// Package search runs beam search over a beam.Advancer: it keeps K
// hypotheses per source sequence, ranks their expansions and collects the
// n-best finished translations.
package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/emirpasic/gods/v2/trees/binaryheap"

	"github.com/samcharles93/beamstep/internal/beam"
	"github.com/samcharles93/beamstep/internal/logger"
	"github.com/samcharles93/beamstep/internal/logits"
	"github.com/samcharles93/beamstep/internal/tensor"
)

var ErrInvalidConfig = errors.New("invalid search config")

// Config controls the width of the search.
type Config struct {
	BeamSize int          `yaml:"beam_size" json:"beam_size"`
	NBest    int          `yaml:"n_best" json:"n_best"`
	Options  beam.Options `yaml:",inline" json:"options"`
	Markers  beam.Markers `yaml:"markers" json:"markers"`
}

// DefaultConfig returns a beam of 5 keeping the single best hypothesis.
func DefaultConfig() Config {
	return Config{
		BeamSize: 5,
		NBest:    1,
		Options:  beam.DefaultOptions(),
		Markers:  beam.DefaultMarkers(),
	}
}

// MaxBeamSize bounds the number of rows a single sequence can occupy.
const MaxBeamSize = 256

func (c Config) Validate() error {
	if c.BeamSize <= 0 {
		return fmt.Errorf("%w: beam_size must be positive, got %d", ErrInvalidConfig, c.BeamSize)
	}
	if c.BeamSize > MaxBeamSize {
		return fmt.Errorf("%w: beam_size must be at most %d, got %d", ErrInvalidConfig, MaxBeamSize, c.BeamSize)
	}
	if c.NBest <= 0 || c.NBest > c.BeamSize {
		return fmt.Errorf("%w: n_best must be in [1, beam_size], got %d", ErrInvalidConfig, c.NBest)
	}
	return nil
}

// Input is one encoded batch of N source sequences.
type Input struct {
	Scorer   beam.Scorer
	Batch    beam.Batch
	Context  beam.Context
	State    beam.RecurrentState
	Features beam.FeatureDictionary
}

// Hypothesis is one finished translation.
type Hypothesis struct {
	// Tokens excludes BOS and the final EOS.
	Tokens []int
	// Features holds, per auxiliary feature, the id predicted with every token.
	Features [][]int
	// Attention holds the most attended source position of every token, or
	// -1 when the scorer produced no attention.
	Attention []int
	Score     float64
}

// Result is the n-best list of one source sequence, best first. It is empty
// when every hypothesis was filtered out.
type Result struct {
	NBest []Hypothesis
}

// Searcher is safe for concurrent use; every Run builds its own advancer.
type Searcher struct {
	cfg Config
	log logger.Logger
}

func New(cfg Config, log logger.Logger) (*Searcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Searcher{cfg: cfg, log: log.With("component", "search")}, nil
}

func (s *Searcher) Config() Config { return s.cfg }

type candidate struct {
	row   int
	token int
	score float64
}

// better orders candidates by descending score, then by row and token so
// ties resolve the same way on every run.
func better(a, b candidate) int {
	if c := cmp.Compare(b.score, a.score); c != 0 {
		return c
	}
	if c := cmp.Compare(a.row, b.row); c != 0 {
		return c
	}
	return cmp.Compare(a.token, b.token)
}

// Run decodes every sequence of in and returns one Result per sequence.
func (s *Searcher) Run(ctx context.Context, in Input) ([]Result, error) {
	n := in.Batch.Size()
	if n == 0 {
		return []Result{}, nil
	}
	k := s.cfg.BeamSize
	rows := beam.RepeatRows(n, k)

	adv, err := beam.NewAdvancer(beam.AdvancerConfig{
		Scorer:   in.Scorer,
		Batch:    replicateBatch(in.Batch, rows),
		State:    replicateState(in.State, rows),
		Context:  replicateContext(in.Context, rows),
		Options:  s.cfg.Options,
		Markers:  s.cfg.Markers,
		Features: in.Features,
		Logger:   s.log,
	})
	if err != nil {
		return nil, err
	}

	h := newHistory(adv.InitBeam(), adv.NumFeatures())
	total := n * k
	scores := make([]float64, total)
	alive := make([]bool, total)
	for i := range n {
		alive[i*k] = true
	}
	finished := make([][]Hypothesis, n)
	done := make([]bool, n)

	var shortlist logits.Shortlist
	heap := binaryheap.NewWith[candidate](better)
	parents := make([]int, total)
	tokens := make([]int, total)
	nextScores := make([]float64, total)
	nextAlive := make([]bool, total)

	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := adv.Update(h); err != nil {
			return nil, err
		}
		out, err := adv.Expand(h)
		if err != nil {
			return nil, err
		}

		for seq := range n {
			heap.Clear()
			for j := range k {
				row := seq*k + j
				if !alive[row] || done[seq] {
					continue
				}
				idx, vals := shortlist.TopK(out.Row(row), k)
				for c := range idx {
					heap.Push(candidate{row: row, token: idx[c], score: scores[row] + float64(vals[c])})
				}
			}
			for j := range k {
				row := seq*k + j
				best, ok := heap.Pop()
				if !ok {
					parents[row] = seq * k
					tokens[row] = s.cfg.Markers.PAD
					nextScores[row] = math.Inf(-1)
					nextAlive[row] = false
					continue
				}
				parents[row] = best.row
				tokens[row] = best.token
				nextScores[row] = best.score
				nextAlive[row] = true
			}
		}

		h.advance(parents, tokens)
		copy(scores, nextScores)
		copy(alive, nextAlive)

		complete := adv.IsComplete(h)
		pruned := adv.Filter(h)
		for row := range total {
			if !alive[row] {
				continue
			}
			switch {
			case pruned[row]:
				alive[row] = false
			case complete[row]:
				alive[row] = false
				seq := row / k
				finished[seq] = append(finished[seq], h.hypothesis(row, seq, scores[row], s.cfg.Markers.EOS, in.Batch))
			}
		}

		live := 0
		for seq := range n {
			if !done[seq] && s.sequenceDone(finished[seq], scores[seq*k:(seq+1)*k], alive[seq*k:(seq+1)*k]) {
				done[seq] = true
				for j := range k {
					alive[seq*k+j] = false
				}
			}
			if !done[seq] {
				live++
			}
		}

		s.log.Debug("search step", "step", step, "live_sequences", live)
		if live == 0 {
			break
		}
	}

	results := make([]Result, n)
	for seq := range n {
		hyps := finished[seq]
		slices.SortStableFunc(hyps, func(a, b Hypothesis) int { return cmp.Compare(b.Score, a.Score) })
		if len(hyps) > s.cfg.NBest {
			hyps = hyps[:s.cfg.NBest]
		}
		results[seq] = Result{NBest: hyps}
	}
	return results, nil
}

// sequenceDone reports whether no live hypothesis can still enter the
// n-best list. Scores are sums of log-probabilities and never increase.
func (s *Searcher) sequenceDone(finished []Hypothesis, scores []float64, alive []bool) bool {
	bestLive := math.Inf(-1)
	for j, ok := range alive {
		if ok {
			bestLive = max(bestLive, scores[j])
		}
	}
	if math.IsInf(bestLive, -1) {
		return true
	}
	if len(finished) < s.cfg.NBest {
		return false
	}
	kept := slices.Clone(finished)
	slices.SortFunc(kept, func(a, b Hypothesis) int { return cmp.Compare(b.Score, a.Score) })
	return kept[s.cfg.NBest-1].Score >= bestLive
}

// history is the beam container: every step stores one entry per row and
// rows are reordered through backpointers after ranking.
type history struct {
	tokens    [][]int
	features  [][][]int // step x feature x row
	attention [][]int   // step x row
	state     *beam.StepState
	nf        int
}

func newHistory(seed beam.Seed, nf int) *history {
	return &history{tokens: seed.Tokens, state: seed.State, nf: nf}
}

func (h *history) Tokens() [][]int             { return h.tokens }
func (h *history) State() *beam.StepState      { return h.state }
func (h *history) SetState(st *beam.StepState) { h.state = st }

// advance reorders every row onto its parent and appends the chosen tokens
// together with the feature predictions and attention that produced them.
func (h *history) advance(parents, next []int) {
	for t := range h.tokens {
		h.tokens[t] = gather(h.tokens[t], parents)
	}
	for t := range h.features {
		for f := range h.features[t] {
			h.features[t][f] = gather(h.features[t][f], parents)
		}
	}
	for t := range h.attention {
		h.attention[t] = gather(h.attention[t], parents)
	}
	h.state = h.state.Select(parents)

	h.tokens = append(h.tokens, slices.Clone(next))
	feats := make([][]int, h.nf)
	for f := range feats {
		feats[f] = slices.Clone(h.state.Features[f])
	}
	h.features = append(h.features, feats)
	h.attention = append(h.attention, attentionArgmax(h.state.Attention, len(parents)))
}

func (h *history) hypothesis(row, seq int, score float64, eos int, batch beam.Batch) Hypothesis {
	steps := len(h.tokens) - 1
	if steps > 0 && h.tokens[steps][row] == eos {
		steps--
	}
	hyp := Hypothesis{
		Tokens:    make([]int, steps),
		Features:  make([][]int, h.nf),
		Attention: make([]int, steps),
		Score:     score,
	}
	pad := batch.MaxSourceLength - batch.SourceSizes[seq]
	for t := range steps {
		hyp.Tokens[t] = h.tokens[t+1][row]
		pos := h.attention[t][row]
		if pos >= 0 {
			pos = max(pos-pad, 0)
		}
		hyp.Attention[t] = pos
	}
	for f := range h.nf {
		hyp.Features[f] = make([]int, steps)
		for t := range steps {
			hyp.Features[f][t] = h.features[t][f][row]
		}
	}
	return hyp
}

func attentionArgmax(att *tensor.Mat, rows int) []int {
	out := make([]int, rows)
	if att == nil || att.C == 0 {
		for i := range out {
			out[i] = -1
		}
		return out
	}
	return logits.ArgmaxRows(att)
}

func gather(ids, rows []int) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = ids[r]
	}
	return out
}

func replicateBatch(b beam.Batch, rows []int) beam.Batch {
	return beam.Batch{SourceSizes: gather(b.SourceSizes, rows), MaxSourceLength: b.MaxSourceLength}
}

func replicateContext(c beam.Context, rows []int) beam.Context {
	if c == nil {
		return nil
	}
	out := make(beam.Context, len(rows))
	for i, r := range rows {
		out[i] = c[r]
	}
	return out
}

func replicateState(s beam.RecurrentState, rows []int) beam.RecurrentState {
	out := make(beam.RecurrentState, len(s))
	for l := range s {
		out[l] = s[l].SelectRows(rows)
	}
	return out
}
