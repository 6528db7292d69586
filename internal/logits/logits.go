package logits

import "github.com/samcharles93/beamstep/internal/tensor"

// Argmax returns the index of the maximum value in the slice. Ties resolve to
// the lowest index. If the slice is empty it panics.
func Argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}

// ArgmaxRows returns the arg-max column of every row of m.
func ArgmaxRows(m *tensor.Mat) []int {
	out := make([]int, m.R)
	for i := range out {
		out[i] = Argmax(m.Row(i))
	}
	return out
}

// Shortlist selects the k best entries of a score vector. It keeps its
// buffers between calls, so the slices returned by TopK are only valid until
// the next call.
type Shortlist struct {
	topIdx []int
	topVal []float32
}

// TopK returns the indices and values of the k largest elements in x,
// ordered from largest to smallest. Equal values keep their original order.
// This is an O(V*K) algorithm suitable for beam-sized K.
func (s *Shortlist) TopK(x []float32, k int) ([]int, []float32) {
	k = min(k, len(x))
	if k <= 0 {
		return nil, nil
	}
	if cap(s.topIdx) < k+1 {
		s.topIdx = make([]int, 0, k+1)
		s.topVal = make([]float32, 0, k+1)
	}
	topIdx := s.topIdx[:0]
	topVal := s.topVal[:0]

	for i, v := range x {
		pos := len(topVal)
		for pos > 0 && topVal[pos-1] < v {
			pos--
		}
		if pos >= k {
			continue
		}

		topIdx = append(topIdx, 0)
		topVal = append(topVal, 0)

		copy(topIdx[pos+1:], topIdx[pos:])
		copy(topVal[pos+1:], topVal[pos:])
		topIdx[pos] = i
		topVal[pos] = v

		if len(topVal) > k {
			topIdx = topIdx[:k]
			topVal = topVal[:k]
		}
	}
	s.topIdx = topIdx
	s.topVal = topVal
	return topIdx, topVal
}
