package tensor

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// AddScaled computes dst += a*src element-wise.
func AddScaled(dst []float32, a float32, src []float32) {
	for i := range dst {
		dst[i] += a * src[i]
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// MatVec computes dst[i] = dot(w.Row(i), x) for every row of w.
// dst must have length w.R and x must have length w.C.
func MatVec(dst []float32, w *Mat, x []float32) {
	if len(dst) < w.R || len(x) < w.C {
		panic("MatVec dimension mismatch")
	}
	for i := 0; i < w.R; i++ {
		dst[i] = Dot(w.Row(i), x)
	}
}

// Tanh applies tanh in place.
func Tanh(x []float32) {
	for i, v := range x {
		x[i] = float32(math.Tanh(float64(v)))
	}
}

// Softmax applies the softmax function to x.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// LogSoftmax replaces x with log(softmax(x)). scratch is reused when it is
// large enough and returned for the next call.
func LogSoftmax(x []float32, scratch []float64) []float64 {
	if len(x) == 0 {
		return scratch
	}
	if cap(scratch) < len(x) {
		scratch = make([]float64, len(x))
	}
	buf := scratch[:len(x)]
	for i, v := range x {
		buf[i] = float64(v)
	}
	lse := floats.LogSumExp(buf)
	for i := range x {
		x[i] = float32(buf[i] - lse)
	}
	return scratch
}

// LogSoftmaxRows applies LogSoftmax to every row of m in place.
func LogSoftmaxRows(m *Mat) {
	var scratch []float64
	for i := 0; i < m.R; i++ {
		scratch = LogSoftmax(m.Row(i), scratch)
	}
}
