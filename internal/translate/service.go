// Package translate turns source sentences into translations: it tokenises,
// batches, runs beam search and renders the n-best lists back to words.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/beamstep/internal/beam"
	"github.com/samcharles93/beamstep/internal/logger"
	"github.com/samcharles93/beamstep/internal/search"
	"github.com/samcharles93/beamstep/internal/vocab"
)

// FeatureSeparator joins a target word with its auxiliary feature values.
const FeatureSeparator = "￨"

var ErrNoModel = errors.New("translate: no model configured")

// Model encodes sources and hands out per-decode scorers.
type Model interface {
	Encode(sources [][]int) (beam.Batch, beam.Context, beam.RecurrentState)
	NewScorer() beam.Scorer
}

type Request struct {
	ID     string `json:"id,omitempty"`
	Source string `json:"source"`
}

type Translation struct {
	Text     string     `json:"text"`
	Tokens   []string   `json:"tokens"`
	Features [][]string `json:"features,omitempty"`
	Score    float64    `json:"score"`
}

type Response struct {
	ID     string        `json:"id,omitempty"`
	Source string        `json:"source"`
	NBest  []Translation `json:"n_best"`
}

type Stats struct {
	Sentences       int
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
}

// Service is safe for concurrent use once configured.
type Service struct {
	Model    Model
	Source   *vocab.Vocab
	Target   *vocab.Vocab
	Features *vocab.FeatureDictionary
	Search   *search.Searcher
	// BatchSize is the number of sentences decoded together.
	BatchSize int
	// Workers bounds the number of batches decoded at once.
	Workers    int
	ReplaceUnk bool
	Logger     logger.Logger
}

// Option adjusts a single Translate call.
type Option func(*callOptions)

type callOptions struct {
	beamSize int
	nBest    int
	progress func(int)
}

// WithBeamSize overrides the beam size for one call.
func WithBeamSize(k int) Option {
	return func(o *callOptions) { o.beamSize = k }
}

// WithNBest overrides the number of hypotheses returned per sentence.
func WithNBest(n int) Option {
	return func(o *callOptions) { o.nBest = n }
}

// WithProgress registers a callback invoked with the size of every finished
// batch. The callback may run on several goroutines.
func WithProgress(fn func(int)) Option {
	return func(o *callOptions) { o.progress = fn }
}

// Translate decodes reqs and returns one response per request, in order.
func (s *Service) Translate(ctx context.Context, reqs []Request, opts ...Option) ([]Response, Stats, error) {
	var stats Stats
	if s.Model == nil || s.Search == nil || s.Source == nil || s.Target == nil {
		return nil, stats, ErrNoModel
	}
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	searcher, err := s.searcher(co)
	if err != nil {
		return nil, stats, err
	}
	log := s.Logger
	if log == nil {
		log = logger.FromContext(ctx)
	}
	start := time.Now()

	sources := make([][]string, len(reqs))
	responses := make([]Response, len(reqs))
	var pending []int
	for i, r := range reqs {
		sources[i] = strings.Fields(r.Source)
		responses[i] = Response{ID: r.ID, Source: r.Source, NBest: []Translation{}}
		if len(sources[i]) > 0 {
			pending = append(pending, i)
		}
	}

	batchSize := max(s.BatchSize, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Workers, 1))
	for lo := 0; lo < len(pending); lo += batchSize {
		idx := pending[lo:min(lo+batchSize, len(pending))]
		g.Go(func() error {
			if err := s.decodeBatch(gctx, searcher, idx, sources, responses); err != nil {
				return err
			}
			if co.progress != nil {
				co.progress(len(idx))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	stats.Sentences = len(reqs)
	for _, r := range responses {
		if len(r.NBest) > 0 {
			stats.TokensGenerated += len(r.NBest[0].Tokens)
		}
	}
	stats.Duration = time.Since(start)
	if stats.Duration.Seconds() > 0 {
		stats.TPS = float64(stats.TokensGenerated) / stats.Duration.Seconds()
	}
	log.Debug("translated", "sentences", stats.Sentences, "tokens", stats.TokensGenerated, "duration", stats.Duration)
	return responses, stats, nil
}

// searcher returns the configured searcher, or a new one when the call
// overrides its width.
func (s *Service) searcher(co callOptions) (*search.Searcher, error) {
	if co.beamSize == 0 && co.nBest == 0 {
		return s.Search, nil
	}
	cfg := s.Search.Config()
	if co.beamSize != 0 {
		cfg.BeamSize = co.beamSize
	}
	if co.nBest != 0 {
		cfg.NBest = co.nBest
	}
	return search.New(cfg, s.Logger)
}

func (s *Service) decodeBatch(ctx context.Context, searcher *search.Searcher, idx []int, sources [][]string, responses []Response) error {
	ids := make([][]int, len(idx))
	for j, i := range idx {
		ids[j] = make([]int, len(sources[i]))
		for p, w := range sources[i] {
			ids[j][p] = s.Source.ID(w)
		}
	}

	batch, encoded, state := s.Model.Encode(ids)
	results, err := searcher.Run(ctx, search.Input{
		Scorer:   s.Model.NewScorer(),
		Batch:    batch,
		Context:  encoded,
		State:    state,
		Features: s.Features,
	})
	if err != nil {
		return fmt.Errorf("decode batch starting at sentence %d: %w", idx[0], err)
	}

	unk := searcher.Config().Markers.UNK
	for j, i := range idx {
		nbest := make([]Translation, 0, len(results[j].NBest))
		for _, h := range results[j].NBest {
			nbest = append(nbest, s.render(h, sources[i], unk))
		}
		responses[i].NBest = nbest
	}
	return nil
}

func (s *Service) render(h search.Hypothesis, source []string, unk int) Translation {
	var words []string
	if s.ReplaceUnk {
		words = search.ReplaceUnknowns(h, source, unk, s.Target.Word)
	} else {
		words = s.Target.Decode(h.Tokens)
	}

	t := Translation{Tokens: words, Score: h.Score}
	nf := s.Features.NumFeatures()
	if nf == 0 {
		t.Text = strings.Join(words, " ")
		return t
	}

	t.Features = make([][]string, nf)
	for f := range nf {
		t.Features[f] = s.Features.Features[f].Vocab.Decode(h.Features[f])
	}
	parts := make([]string, len(words))
	for p, w := range words {
		var sb strings.Builder
		sb.WriteString(w)
		for f := range nf {
			sb.WriteString(FeatureSeparator)
			sb.WriteString(t.Features[f][p])
		}
		parts[p] = sb.String()
	}
	t.Text = strings.Join(parts, " ")
	return t
}
