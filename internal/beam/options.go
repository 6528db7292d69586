package beam

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned by NewAdvancer when the configuration
	// cannot drive a decode.
	ErrInvalidConfig = errors.New("invalid decode configuration")
	// ErrFeatureMismatch reports disagreement between the scorer's auxiliary
	// feature heads, the feature dictionary and the feature ids in a state.
	ErrFeatureMismatch = errors.New("auxiliary feature count mismatch")
	// ErrMalformedState reports a beam whose state breaks the calling
	// protocol, e.g. expand before update.
	ErrMalformedState = errors.New("malformed step state")
	// ErrShapeMismatch reports scorer outputs whose shape disagrees with the
	// batch size or vocabulary size.
	ErrShapeMismatch = errors.New("scorer output shape mismatch")
)

// Markers holds the reserved token ids for one decode run.
type Markers struct {
	PAD int `yaml:"pad" json:"pad"`
	UNK int `yaml:"unk" json:"unk"`
	BOS int `yaml:"bos" json:"bos"`
	EOS int `yaml:"eos" json:"eos"`
}

// DefaultMarkers returns the ids used by dictionaries that start with
// <blank>, <unk>, <s>, </s>.
func DefaultMarkers() Markers {
	return Markers{PAD: 0, UNK: 1, BOS: 2, EOS: 3}
}

// Validate rejects negative or colliding ids.
func (m Markers) Validate() error {
	ids := map[string]int{"pad": m.PAD, "unk": m.UNK, "bos": m.BOS, "eos": m.EOS}
	seen := make(map[int]string, len(ids))
	for _, name := range []string{"pad", "unk", "bos", "eos"} {
		id := ids[name]
		if id < 0 {
			return fmt.Errorf("%w: %s marker id %d is negative", ErrInvalidConfig, name, id)
		}
		if other, ok := seen[id]; ok {
			return fmt.Errorf("%w: %s and %s markers share id %d", ErrInvalidConfig, other, name, id)
		}
		seen[id] = name
	}
	return nil
}

// Options are the decode limits recognised by the advancer.
type Options struct {
	// MaxSentLength caps the generated length. Once the history holds this
	// many generated tokens every row of the batch is complete.
	MaxSentLength int `yaml:"max_sent_length" json:"max_sent_length"`
	// MaxNumUnks is the number of unknown tokens a hypothesis may emit
	// before it is filtered out.
	MaxNumUnks int `yaml:"max_num_unks" json:"max_num_unks"`
}

// DefaultOptions returns the stock limits: 250 tokens and no unknown words.
func DefaultOptions() Options {
	return Options{
		MaxSentLength: 250,
		MaxNumUnks:    0,
	}
}

func (o Options) Validate() error {
	if o.MaxSentLength <= 0 {
		return fmt.Errorf("%w: max_sent_length must be positive, got %d", ErrInvalidConfig, o.MaxSentLength)
	}
	if o.MaxNumUnks < 0 {
		return fmt.Errorf("%w: max_num_unks must not be negative, got %d", ErrInvalidConfig, o.MaxNumUnks)
	}
	return nil
}

// Batch describes the source side of B sequences decoded together.
type Batch struct {
	// SourceSizes holds the valid source length of every row.
	SourceSizes []int
	// MaxSourceLength is the padded source length shared by the batch.
	MaxSourceLength int
}

// NewBatch builds a Batch whose padded length is the longest source.
func NewBatch(sourceSizes []int) Batch {
	longest := 0
	for _, n := range sourceSizes {
		longest = max(longest, n)
	}
	return Batch{SourceSizes: sourceSizes, MaxSourceLength: longest}
}

// Size returns B.
func (b Batch) Size() int {
	return len(b.SourceSizes)
}

func (b Batch) Validate() error {
	for i, n := range b.SourceSizes {
		if n < 1 || n > b.MaxSourceLength {
			return fmt.Errorf("%w: source size %d of row %d outside [1, %d]", ErrInvalidConfig, n, i, b.MaxSourceLength)
		}
	}
	return nil
}
