// Package stats keeps a running mean and standard deviation over a bounded
// window of samples.
package stats

import (
	"math/big"

	"github.com/ddirect/container/fifo"
	"golang.org/x/exp/constraints"
)

// Window accumulates samples up to a maximum count. Once full, a new sample is
// only accepted when it lies within maxSpread standard deviations of the mean,
// in which case the oldest sample is evicted.
type Window[T constraints.Signed] struct {
	sum      big.Int
	sumSq    big.Int
	scratch  [3]big.Int
	samples  fifo.Fifo[T]
	capacity int
	spread   float64
	mean     T
	stdDev   T
	rejected int
}

// New creates a window holding up to capacity samples
func New[T constraints.Signed](capacity int, maxSpread float64) *Window[T] {
	return &Window[T]{
		capacity: capacity,
		spread:   maxSpread,
	}
}

// Add offers a sample and reports whether it was accepted
func (w *Window[T]) Add(x T) bool {
	if w.Len() >= w.capacity {
		band := T(float64(w.stdDev) * w.spread)
		if x < w.mean-band || x > w.mean+band {
			w.rejected++
			return false
		}
		w.evict()
	}

	v := w.scratch[0].SetInt64(int64(x))
	w.sum.Add(&w.sum, v)
	w.sumSq.Add(&w.sumSq, v.Mul(v, v))
	w.samples.Enqueue(x)

	w.mean = w.computeMean()
	w.stdDev = w.computeStdDev()
	return true
}

func (w *Window[T]) evict() {
	x, ok := w.samples.Dequeue()
	if !ok {
		return
	}
	v := w.scratch[0].SetInt64(int64(x))
	w.sum.Sub(&w.sum, v)
	w.sumSq.Sub(&w.sumSq, v.Mul(v, v))
}

func (w *Window[T]) computeMean() T {
	n := w.Len()
	if n == 0 {
		return 0
	}
	q := w.scratch[1].Quo(&w.sum, w.scratch[0].SetInt64(int64(n)))
	return T(q.Int64())
}

// sample standard deviation: sqrt((n*sumSq - sum*sum) / (n*(n-1)))
func (w *Window[T]) computeStdDev() T {
	n := int64(w.Len())
	if n < 2 {
		return 0
	}
	a, b, c := &w.scratch[0], &w.scratch[1], &w.scratch[2]

	a.SetInt64(n)
	b.Mul(a, &w.sumSq)
	c.Mul(&w.sum, &w.sum)
	b.Sub(b, c)
	c.Mul(a, c.SetInt64(n-1))
	b.Quo(b, c)
	if b.Sign() < 0 {
		return 0
	}
	return T(b.Sqrt(b).Int64())
}

// Len returns the number of samples in the window
func (w *Window[T]) Len() int {
	return w.samples.Len()
}

func (w *Window[T]) Mean() T {
	return w.mean
}

func (w *Window[T]) StdDev() T {
	return w.stdDev
}

// Rejected returns how many samples were refused as outliers
func (w *Window[T]) Rejected() int {
	return w.rejected
}
