package vocab

import (
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
)

// Feature is one auxiliary vocabulary, e.g. part-of-speech tags.
type Feature struct {
	Name  string
	Vocab *Vocab
}

// FeatureDictionary lists the auxiliary vocabularies of a model in the order
// the model predicts them.
type FeatureDictionary struct {
	Features []Feature
}

type featureFile struct {
	Features []struct {
		Name   string   `json:"name"`
		Tokens []string `json:"tokens"`
	} `json:"features"`
}

// NumFeatures returns the number of auxiliary vocabularies. A nil dictionary
// has none.
func (d *FeatureDictionary) NumFeatures() int {
	if d == nil {
		return 0
	}
	return len(d.Features)
}

// Sizes returns the vocabulary size of every feature.
func (d *FeatureDictionary) Sizes() []int {
	sizes := make([]int, d.NumFeatures())
	for i := range sizes {
		sizes[i] = d.Features[i].Vocab.Size()
	}
	return sizes
}

// LoadFeatures reads a feature dictionary JSON file.
func LoadFeatures(path string) (*FeatureDictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := ReadFeatures(f)
	if err != nil {
		return nil, fmt.Errorf("load feature dictionary %s: %w", path, err)
	}
	return d, nil
}

// ReadFeatures parses {"features": [{"name": ..., "tokens": [...]}]}. Every
// token list must start with the reserved words.
func ReadFeatures(r io.Reader) (*FeatureDictionary, error) {
	var file featureFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("parse feature dictionary: %w", err)
	}
	d := &FeatureDictionary{Features: make([]Feature, 0, len(file.Features))}
	seen := map[string]bool{}
	for i, f := range file.Features {
		if f.Name == "" {
			return nil, fmt.Errorf("feature %d has no name", i)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("%w: feature %q", ErrDuplicate, f.Name)
		}
		seen[f.Name] = true
		v, err := New(f.Tokens)
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", f.Name, err)
		}
		d.Features = append(d.Features, Feature{Name: f.Name, Vocab: v})
	}
	return d, nil
}
