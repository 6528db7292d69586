package beam

import (
	"slices"

	"github.com/samcharles93/beamstep/internal/tensor"
)

// StepState is everything the advancer needs to compute the next step for
// every row of a beam. A state is never updated in place: Update and Expand
// hand the beam a new value.
type StepState struct {
	Recurrent RecurrentState
	// Output is the last decoder output, nil before the first update.
	Output  *tensor.Mat
	Context Context
	// Attention is the attention of the last update, nil before it.
	Attention *tensor.Mat
	// Features holds the predicted auxiliary ids the next update feeds to
	// the scorer, one vector of B ids per feature. It is nil between an
	// update and the expand that follows it.
	Features    [][]int
	SourceSizes []int
	// Step starts at 1 and grows by one per update.
	Step int
}

// Rows returns the batch dimension of the state.
func (s *StepState) Rows() int {
	return len(s.SourceSizes)
}

// Select returns a copy of the state where row i is the old row rows[i].
// Beam containers use it to follow backpointers after ranking.
func (s *StepState) Select(rows []int) *StepState {
	out := &StepState{Step: s.Step}
	if s.Recurrent != nil {
		out.Recurrent = make(RecurrentState, len(s.Recurrent))
		for i := range s.Recurrent {
			out.Recurrent[i] = s.Recurrent[i].SelectRows(rows)
		}
	}
	if s.Output != nil {
		m := s.Output.SelectRows(rows)
		out.Output = &m
	}
	if s.Attention != nil {
		m := s.Attention.SelectRows(rows)
		out.Attention = &m
	}
	if s.Context != nil {
		out.Context = make(Context, len(rows))
		for i, r := range rows {
			out.Context[i] = s.Context[r]
		}
	}
	if s.Features != nil {
		out.Features = make([][]int, len(s.Features))
		for f, ids := range s.Features {
			out.Features[f] = gather(ids, rows)
		}
	}
	if s.SourceSizes != nil {
		out.SourceSizes = gather(s.SourceSizes, rows)
	}
	return out
}

// RepeatRows returns the row index list that repeats each of n rows k times,
// e.g. n=2, k=3 gives 0 0 0 1 1 1.
func RepeatRows(n, k int) []int {
	rows := make([]int, 0, n*k)
	for i := range n {
		for range k {
			rows = append(rows, i)
		}
	}
	return rows
}

func gather(ids, rows []int) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = ids[r]
	}
	return out
}

// Beam is the view of a beam container the advancer works through.
type Beam interface {
	// Tokens returns the token history: entry 0 is the BOS vector and every
	// entry holds one id per row.
	Tokens() [][]int
	State() *StepState
	SetState(*StepState)
}

// Seed is the starting point of a decode.
type Seed struct {
	Tokens [][]int
	State  *StepState
}

// Trace is a Beam that only ever appends. It suits greedy decoding where
// rows never swap parents.
type Trace struct {
	tokens [][]int
	state  *StepState
}

func NewTrace(seed Seed) *Trace {
	tokens := make([][]int, len(seed.Tokens))
	for i := range seed.Tokens {
		tokens[i] = slices.Clone(seed.Tokens[i])
	}
	return &Trace{tokens: tokens, state: seed.State}
}

func (t *Trace) Tokens() [][]int       { return t.tokens }
func (t *Trace) State() *StepState     { return t.state }
func (t *Trace) SetState(s *StepState) { t.state = s }

// Append records the next token of every row.
func (t *Trace) Append(tokens []int) {
	t.tokens = append(t.tokens, slices.Clone(tokens))
}
