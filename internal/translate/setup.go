package translate

import (
	"errors"

	"github.com/samcharles93/beamstep/internal/logger"
	"github.com/samcharles93/beamstep/internal/search"
	"github.com/samcharles93/beamstep/internal/toy"
	"github.com/samcharles93/beamstep/internal/vocab"
)

// Settings describe how to assemble a Service around the toy model.
// Empty dictionary paths fall back to synthetic dictionaries of
// SyntheticVocab entries.
type Settings struct {
	SrcDict        string
	TgtDict        string
	FeatureDict    string
	SyntheticVocab int
	Hidden         int
	Layers         int
	Seed           int64
	Search         search.Config
	BatchSize      int
	Workers        int
	ReplaceUnk     bool
}

// DefaultSettings returns settings for a small synthetic setup.
func DefaultSettings() Settings {
	return Settings{
		SyntheticVocab: 64,
		Hidden:         32,
		Layers:         2,
		Seed:           1,
		Search:         search.DefaultConfig(),
		BatchSize:      16,
		Workers:        4,
	}
}

// New loads the dictionaries, builds the model and returns a Service.
func New(st Settings, log logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.Nop()
	}
	src, err := loadVocab(st.SrcDict, st.SyntheticVocab)
	if err != nil {
		return nil, err
	}
	tgt, err := loadVocab(st.TgtDict, st.SyntheticVocab)
	if err != nil {
		return nil, err
	}
	var feats *vocab.FeatureDictionary
	if st.FeatureDict != "" {
		if feats, err = vocab.LoadFeatures(st.FeatureDict); err != nil {
			return nil, err
		}
	}

	model, err := toy.NewModel(toy.Config{
		SrcVocab:     src.Size(),
		TgtVocab:     tgt.Size(),
		FeatureSizes: feats.Sizes(),
		Hidden:       st.Hidden,
		Layers:       st.Layers,
		Seed:         st.Seed,
		PadID:        src.Markers().PAD,
	})
	if err != nil {
		return nil, err
	}

	cfg := st.Search
	cfg.Markers = tgt.Markers()
	searcher, err := search.New(cfg, log)
	if err != nil {
		return nil, err
	}

	log.Info("translation service ready",
		"src_vocab", src.Size(),
		"tgt_vocab", tgt.Size(),
		"features", feats.NumFeatures(),
		"beam_size", cfg.BeamSize,
		"n_best", cfg.NBest,
	)
	return &Service{
		Model:      model,
		Source:     src,
		Target:     tgt,
		Features:   feats,
		Search:     searcher,
		BatchSize:  st.BatchSize,
		Workers:    st.Workers,
		ReplaceUnk: st.ReplaceUnk,
		Logger:     log,
	}, nil
}

func loadVocab(path string, synthetic int) (*vocab.Vocab, error) {
	if path == "" {
		if synthetic <= 0 {
			return nil, errors.New("no dictionary path and no synthetic vocabulary size")
		}
		return vocab.Synthetic(synthetic), nil
	}
	return vocab.Load(path)
}
