package tensor

import (
	"errors"
	"math/rand"
)

var (
	errNegativeDim      = errors.New("negative dimension for matrix")
	errDataSizeMismatch = errors.New("data length mismatch")
)

// Mat represents a dense row‑major matrix of float32 values.
//
// R and C represent the number of rows and columns respectively.  Stride is the
// number of elements between the starts of two consecutive rows (for row‑major
// matrices this is equal to C).  Data holds the flattened matrix values.
//
// Batched decode values use rows for the batch dimension: a score matrix is
// B × V, a decoder output is B × H and an attention matrix is B × L.
//
// Mat does not perform any memory safety beyond the checks performed by Go's
// slice types; out‑of‑range indices will panic.
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

// NewMat allocates a new matrix with the given number of rows and columns.
// The underlying slice is zero initialised.  The stride is set to the
// number of columns.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic(errNegativeDim)
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   make([]float32, r*c),
	}
}

// NewMatFromData creates a matrix from existing data without copying.
// It checks that the data length matches r*c.
func NewMatFromData(r, c int, data []float32) (Mat, error) {
	if r < 0 || c < 0 {
		return Mat{}, errNegativeDim
	}
	if r*c != len(data) {
		return Mat{}, errDataSizeMismatch
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   data,
	}, nil
}

// FromRows copies a slice of equally sized rows into a new matrix.
func FromRows(rows [][]float32) (Mat, error) {
	if len(rows) == 0 {
		return NewMat(0, 0), nil
	}
	c := len(rows[0])
	m := NewMat(len(rows), c)
	for i, row := range rows {
		if len(row) != c {
			return Mat{}, errDataSizeMismatch
		}
		copy(m.Row(i), row)
	}
	return m, nil
}

// Row returns a view of the i‑th row of the matrix as a slice.  The slice
// has length equal to the number of columns.  Modifications to the returned
// slice update the underlying matrix values.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C : start+m.C]
}

// At returns the element at row i, column j.
func (m *Mat) At(i, j int) float32 {
	return m.Row(i)[j]
}

// Set stores v at row i, column j.
func (m *Mat) Set(i, j int, v float32) {
	m.Row(i)[j] = v
}

// Clone returns a deep copy with a compact stride.
func (m *Mat) Clone() Mat {
	out := NewMat(m.R, m.C)
	for i := 0; i < m.R; i++ {
		copy(out.Row(i), m.Row(i))
	}
	return out
}

// SelectRows gathers the given rows into a new matrix: out.Row(i) is a copy
// of m.Row(rows[i]). Rows may repeat.
func (m *Mat) SelectRows(rows []int) Mat {
	out := NewMat(len(rows), m.C)
	for i, r := range rows {
		copy(out.Row(i), m.Row(r))
	}
	return out
}

// Repeat returns a matrix where each row of m appears k times consecutively.
func (m *Mat) Repeat(k int) Mat {
	rows := make([]int, 0, m.R*k)
	for i := 0; i < m.R; i++ {
		for range k {
			rows = append(rows, i)
		}
	}
	return m.SelectRows(rows)
}

// FillRand fills the matrix with reproducible pseudo‑random values in
// (-scale/2, scale/2).  The seed controls the random sequence; multiple calls
// with the same seed produce identical matrices.
func FillRand(m *Mat, seed int64, scale float32) {
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < m.R; i++ {
		row := m.Row(i)
		for j := range row {
			row[j] = (rng.Float32() - 0.5) * scale
		}
	}
}
