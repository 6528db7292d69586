package translate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/beamstep/internal/beam"
	"github.com/samcharles93/beamstep/internal/search"
	"github.com/samcharles93/beamstep/internal/vocab"
)

func testSettings() Settings {
	st := DefaultSettings()
	st.SyntheticVocab = 16
	st.Hidden = 8
	st.Layers = 1
	st.Search = search.Config{
		BeamSize: 3,
		NBest:    2,
		// Unknown words never prune, so every sentence keeps a hypothesis.
		Options: beam.Options{MaxSentLength: 6, MaxNumUnks: 6},
	}
	return st
}

func newService(t *testing.T, st Settings) *Service {
	t.Helper()
	svc, err := New(st, nil)
	require.NoError(t, err)
	return svc
}

func requests() []Request {
	return []Request{
		{ID: "a", Source: "w4 w5 w6"},
		{ID: "b", Source: "w7"},
		{ID: "empty", Source: "   "},
		{ID: "c", Source: "w8 w9 w10 w11 w12"},
		{ID: "d", Source: "w13 w4"},
	}
}

func TestTranslatePreservesOrder(t *testing.T) {
	svc := newService(t, testSettings())
	resp, stats, err := svc.Translate(context.Background(), requests())
	require.NoError(t, err)
	require.Len(t, resp, 5)

	for i, r := range requests() {
		assert.Equal(t, r.ID, resp[i].ID)
		assert.Equal(t, r.Source, resp[i].Source)
	}
	assert.Empty(t, resp[2].NBest)

	tokens := 0
	for i, r := range resp {
		if i == 2 {
			continue
		}
		require.NotEmpty(t, r.NBest, r.ID)
		assert.LessOrEqual(t, len(r.NBest), 2)
		for j := 1; j < len(r.NBest); j++ {
			assert.GreaterOrEqual(t, r.NBest[j-1].Score, r.NBest[j].Score)
		}
		for _, tr := range r.NBest {
			assert.LessOrEqual(t, len(tr.Tokens), 6)
			assert.Equal(t, strings.Join(tr.Tokens, " "), tr.Text)
		}
		tokens += len(r.NBest[0].Tokens)
	}
	assert.Equal(t, 5, stats.Sentences)
	assert.Equal(t, tokens, stats.TokensGenerated)
}

func TestBatchingDoesNotChangeResults(t *testing.T) {
	serial := testSettings()
	serial.BatchSize = 1
	serial.Workers = 1
	parallel := testSettings()
	parallel.BatchSize = 2
	parallel.Workers = 3

	want, _, err := newService(t, serial).Translate(context.Background(), requests())
	require.NoError(t, err)
	got, _, err := newService(t, parallel).Translate(context.Background(), requests())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestProgressCountsDecodedSentences(t *testing.T) {
	st := testSettings()
	st.BatchSize = 2
	var seen atomic.Int64
	_, _, err := newService(t, st).Translate(context.Background(), requests(), WithProgress(func(n int) {
		seen.Add(int64(n))
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(4), seen.Load())
}

func TestCallOptionsOverrideSearch(t *testing.T) {
	svc := newService(t, testSettings())
	resp, _, err := svc.Translate(context.Background(), requests(), WithBeamSize(4), WithNBest(3))
	require.NoError(t, err)
	for _, r := range resp {
		assert.LessOrEqual(t, len(r.NBest), 3)
	}
	assert.Equal(t, 3, svc.Search.Config().BeamSize, "service config is left alone")

	_, _, err = svc.Translate(context.Background(), requests(), WithNBest(9))
	require.ErrorIs(t, err, search.ErrInvalidConfig)
}

func TestReplaceUnknownsUsesSourceWords(t *testing.T) {
	st := testSettings()
	st.ReplaceUnk = true
	resp, _, err := newService(t, st).Translate(context.Background(), requests())
	require.NoError(t, err)
	for _, r := range resp {
		for _, tr := range r.NBest {
			assert.NotContains(t, tr.Tokens, vocab.UnkWord)
		}
	}
}

func TestFeaturesAreRendered(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "features.json")
	body := `{"features":[{"name":"case","tokens":["<blank>","<unk>","<s>","</s>","L","U"]}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	st := testSettings()
	st.FeatureDict = path
	resp, _, err := newService(t, st).Translate(context.Background(), requests()[:2])
	require.NoError(t, err)
	for _, r := range resp {
		require.NotEmpty(t, r.NBest)
		for _, tr := range r.NBest {
			require.Len(t, tr.Features, 1)
			assert.Len(t, tr.Features[0], len(tr.Tokens))
			assert.Equal(t, len(tr.Tokens), strings.Count(tr.Text, FeatureSeparator))
		}
	}
}

func TestTranslateHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := newService(t, testSettings()).Translate(ctx, requests())
	require.ErrorIs(t, err, context.Canceled)
}

func TestUnconfiguredService(t *testing.T) {
	_, _, err := (&Service{}).Translate(context.Background(), requests())
	require.ErrorIs(t, err, ErrNoModel)
}

func TestNewReportsMissingDictionary(t *testing.T) {
	st := testSettings()
	st.SrcDict = filepath.Join(t.TempDir(), "missing.dict")
	_, err := New(st, nil)
	require.ErrorIs(t, err, os.ErrNotExist)
}
