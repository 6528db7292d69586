package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/beamstep/internal/translate"
)

var (
	srcDict        string
	tgtDict        string
	featureDict    string
	syntheticVocab int64
	hiddenSize     int64
	layers         int64
	seed           int64
	beamSize       int64
	nBest          int64
	maxSentLength  int64
	maxNumUnks     int64
	batchSize      int64
	workers        int64
	replaceUnk     bool
	logLevel       string
	logFormat      string
	debug          bool
)

func modelFlags() []cli.Flag {
	def := translate.DefaultSettings()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "src-dict",
			Usage:       "path to the source dictionary (.txt or .json)",
			Destination: &srcDict,
		},
		&cli.StringFlag{
			Name:        "tgt-dict",
			Usage:       "path to the target dictionary (.txt or .json)",
			Destination: &tgtDict,
		},
		&cli.StringFlag{
			Name:        "feature-dict",
			Aliases:     []string{"features"},
			Usage:       "path to the target feature dictionaries (.json)",
			Destination: &featureDict,
		},
		&cli.Int64Flag{
			Name:        "synthetic-vocab",
			Usage:       "size of the generated dictionary used when no dictionary path is given",
			Value:       int64(def.SyntheticVocab),
			Destination: &syntheticVocab,
		},
		&cli.Int64Flag{
			Name:        "hidden-size",
			Usage:       "hidden size of the toy model",
			Value:       int64(def.Hidden),
			Destination: &hiddenSize,
		},
		&cli.Int64Flag{
			Name:        "layers",
			Usage:       "number of recurrent layers in the toy model",
			Value:       int64(def.Layers),
			Destination: &layers,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "weight initialisation seed",
			Value:       def.Seed,
			Destination: &seed,
		},
	}
}

func searchFlags() []cli.Flag {
	def := translate.DefaultSettings()
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "beam-size",
			Aliases:     []string{"k"},
			Usage:       "number of hypotheses kept per sentence",
			Value:       int64(def.Search.BeamSize),
			Destination: &beamSize,
		},
		&cli.Int64Flag{
			Name:        "n-best",
			Usage:       "number of translations returned per sentence",
			Value:       int64(def.Search.NBest),
			Destination: &nBest,
		},
		&cli.Int64Flag{
			Name:        "max-sent-length",
			Usage:       "maximum number of generated tokens",
			Value:       int64(def.Search.Options.MaxSentLength),
			Destination: &maxSentLength,
		},
		&cli.Int64Flag{
			Name:        "max-num-unks",
			Usage:       "maximum number of unknown tokens in a hypothesis",
			Value:       int64(def.Search.Options.MaxNumUnks),
			Destination: &maxNumUnks,
		},
		&cli.Int64Flag{
			Name:        "batch-size",
			Usage:       "sentences decoded together",
			Value:       int64(def.BatchSize),
			Destination: &batchSize,
		},
		&cli.Int64Flag{
			Name:        "workers",
			Usage:       "batches decoded concurrently",
			Value:       int64(def.Workers),
			Destination: &workers,
		},
		&cli.BoolFlag{
			Name:        "replace-unk",
			Usage:       "replace unknown tokens with the most attended source word",
			Destination: &replaceUnk,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// settings assembles translate.Settings from the flag variables.
func settings() translate.Settings {
	st := translate.DefaultSettings()
	st.SrcDict = srcDict
	st.TgtDict = tgtDict
	st.FeatureDict = featureDict
	st.SyntheticVocab = int(syntheticVocab)
	st.Hidden = int(hiddenSize)
	st.Layers = int(layers)
	st.Seed = seed
	st.Search.BeamSize = int(beamSize)
	st.Search.NBest = int(nBest)
	st.Search.Options.MaxSentLength = int(maxSentLength)
	st.Search.Options.MaxNumUnks = int(maxNumUnks)
	st.BatchSize = int(batchSize)
	st.Workers = int(workers)
	st.ReplaceUnk = replaceUnk
	return st
}
