package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const envConfigPath = "BEAMSTEP_CONFIG"

// Config represents the beamstep configuration file (~/.config/beamstep/config.yaml).
// All fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	// Model
	SrcDict        *string `yaml:"src_dict"`
	TgtDict        *string `yaml:"tgt_dict"`
	FeatureDict    *string `yaml:"feature_dictionary"`
	SyntheticVocab *int64  `yaml:"synthetic_vocab"`
	HiddenSize     *int64  `yaml:"hidden_size"`
	Layers         *int64  `yaml:"layers"`
	Seed           *int64  `yaml:"seed"`

	// Search
	BeamSize      *int64 `yaml:"beam_size"`
	NBest         *int64 `yaml:"n_best"`
	MaxSentLength *int64 `yaml:"max_sent_length"`
	MaxNumUnks    *int64 `yaml:"max_num_unks"`
	BatchSize     *int64 `yaml:"batch_size"`
	Workers       *int64 `yaml:"workers"`
	ReplaceUnk    *bool  `yaml:"replace_unk"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "beamstep", "config.yaml")
}

func setString(c *cli.Command, flag string, dst *string, v *string) {
	if v != nil && !c.IsSet(flag) {
		*dst = *v
	}
}

func setInt(c *cli.Command, flag string, dst *int64, v *int64) {
	if v != nil && !c.IsSet(flag) {
		*dst = *v
	}
}

// applyDecodeConfig applies config file defaults to the model and search
// flag variables when the corresponding CLI flag was not explicitly set.
func applyDecodeConfig(c *cli.Command, cfg Config) {
	setString(c, "src-dict", &srcDict, cfg.SrcDict)
	setString(c, "tgt-dict", &tgtDict, cfg.TgtDict)
	setString(c, "feature-dict", &featureDict, cfg.FeatureDict)
	setInt(c, "synthetic-vocab", &syntheticVocab, cfg.SyntheticVocab)
	setInt(c, "hidden-size", &hiddenSize, cfg.HiddenSize)
	setInt(c, "layers", &layers, cfg.Layers)
	setInt(c, "seed", &seed, cfg.Seed)
	setInt(c, "beam-size", &beamSize, cfg.BeamSize)
	setInt(c, "n-best", &nBest, cfg.NBest)
	setInt(c, "max-sent-length", &maxSentLength, cfg.MaxSentLength)
	setInt(c, "max-num-unks", &maxNumUnks, cfg.MaxNumUnks)
	setInt(c, "batch-size", &batchSize, cfg.BatchSize)
	setInt(c, "workers", &workers, cfg.Workers)
	if cfg.ReplaceUnk != nil && !c.IsSet("replace-unk") {
		replaceUnk = *cfg.ReplaceUnk
	}
}

func applyLogConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyDecodeConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
