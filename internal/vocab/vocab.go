// Package vocab maps words to ids for the source, target and auxiliary
// feature dictionaries of a translation model.
package vocab

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/beamstep/internal/beam"
)

// Reserved words. Every dictionary holds them at ids 0 through 3.
const (
	PadWord = "<blank>"
	UnkWord = "<unk>"
	BOSWord = "<s>"
	EOSWord = "</s>"
)

var reserved = []string{PadWord, UnkWord, BOSWord, EOSWord}

var (
	ErrMissingReserved = errors.New("dictionary does not reserve special words")
	ErrDuplicate       = errors.New("duplicate dictionary entry")
)

// Vocab is an immutable bidirectional word/id table.
type Vocab struct {
	words []string
	ids   map[string]int
}

// New builds a Vocab whose ids are the positions in words.
func New(words []string) (*Vocab, error) {
	v := &Vocab{
		words: make([]string, len(words)),
		ids:   make(map[string]int, len(words)),
	}
	for i, w := range words {
		if _, ok := v.ids[w]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicate, w)
		}
		v.words[i] = w
		v.ids[w] = i
	}
	for i, w := range reserved {
		if i >= len(v.words) || v.words[i] != w {
			return nil, fmt.Errorf("%w: want %q at id %d", ErrMissingReserved, w, i)
		}
	}
	return v, nil
}

// Synthetic builds a placeholder dictionary of n entries: the reserved words
// followed by w4, w5, ... It is meant for runs against untrained models.
func Synthetic(n int) *Vocab {
	n = max(n, len(reserved))
	words := make([]string, n)
	copy(words, reserved)
	for i := len(reserved); i < n; i++ {
		words[i] = "w" + strconv.Itoa(i)
	}
	v, err := New(words)
	if err != nil {
		panic(err)
	}
	return v
}

// Size returns the number of entries.
func (v *Vocab) Size() int { return len(v.words) }

// ID returns the id of word, or the unknown id when it is absent.
func (v *Vocab) ID(word string) int {
	if id, ok := v.ids[word]; ok {
		return id
	}
	return v.ids[UnkWord]
}

// Word returns the word for id, or the unknown word when id is out of range.
func (v *Vocab) Word(id int) string {
	if id < 0 || id >= len(v.words) {
		return UnkWord
	}
	return v.words[id]
}

// Markers returns the reserved ids of the dictionary.
func (v *Vocab) Markers() beam.Markers {
	return beam.Markers{
		PAD: v.ids[PadWord],
		UNK: v.ids[UnkWord],
		BOS: v.ids[BOSWord],
		EOS: v.ids[EOSWord],
	}
}

// Encode maps whitespace-separated words to ids.
func (v *Vocab) Encode(line string) []int {
	fields := strings.Fields(line)
	ids := make([]int, len(fields))
	for i, f := range fields {
		ids[i] = v.ID(f)
	}
	return ids
}

// Decode maps ids back to words.
func (v *Vocab) Decode(ids []int) []string {
	words := make([]string, len(ids))
	for i, id := range ids {
		words[i] = v.Word(id)
	}
	return words
}

// Load reads a dictionary file. Files ending in .json hold either a JSON
// array of words or an object mapping words to ids; anything else is read as
// text with one "word id" pair per line.
func Load(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var v *Vocab
	if strings.EqualFold(filepath.Ext(path), ".json") {
		v, err = ReadJSON(f)
	} else {
		v, err = ReadText(f)
	}
	if err != nil {
		return nil, fmt.Errorf("load dictionary %s: %w", path, err)
	}
	return v, nil
}

// ReadText parses "word id" lines. Blank lines are skipped; a line with a
// single field gets the next free id.
func ReadText(r io.Reader) (*Vocab, error) {
	byID := map[int]string{}
	next := 0
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		switch len(fields) {
		case 0:
			continue
		case 1:
			if other, ok := byID[next]; ok {
				return nil, fmt.Errorf("line %d: %w: %q and %q share id %d", line, ErrDuplicate, other, fields[0], next)
			}
			byID[next] = fields[0]
		case 2:
			id, err := strconv.Atoi(fields[1])
			if err != nil || id < 0 {
				return nil, fmt.Errorf("line %d: bad id %q", line, fields[1])
			}
			if other, ok := byID[id]; ok {
				return nil, fmt.Errorf("line %d: %w: %q and %q share id %d", line, ErrDuplicate, other, fields[0], id)
			}
			next = id
			byID[next] = fields[0]
		default:
			return nil, fmt.Errorf("line %d: want \"word id\", got %d fields", line, len(fields))
		}
		next++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return fromIDs(byID)
}

// ReadJSON parses a JSON word array or word-to-id object.
func ReadJSON(r io.Reader) (*Vocab, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse dictionary json: %w", err)
	}
	switch p := payload.(type) {
	case []any:
		words := make([]string, len(p))
		for i, w := range p {
			s, ok := w.(string)
			if !ok {
				return nil, fmt.Errorf("entry %d is not a string", i)
			}
			words[i] = s
		}
		return New(words)
	case map[string]any:
		byID := make(map[int]string, len(p))
		for w, raw := range p {
			f, ok := raw.(float64)
			if !ok || f < 0 || f != float64(int(f)) {
				return nil, fmt.Errorf("word %q has invalid id %v", w, raw)
			}
			id := int(f)
			if other, ok := byID[id]; ok {
				return nil, fmt.Errorf("%w: %q and %q share id %d", ErrDuplicate, other, w, id)
			}
			byID[id] = w
		}
		return fromIDs(byID)
	default:
		return nil, errors.New("dictionary json must be an array or an object")
	}
}

func fromIDs(byID map[int]string) (*Vocab, error) {
	words := make([]string, len(byID))
	for id, w := range byID {
		if id >= len(words) {
			return nil, fmt.Errorf("ids are not contiguous: %d with %d entries", id, len(words))
		}
		words[id] = w
	}
	return New(words)
}
