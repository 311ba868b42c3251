package inference

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Raw scores summing outside [sumLow, sumHigh] are treated as logits.
const (
	sumLow  = 0.99
	sumHigh = 1.01
)

// Probabilities converts raw model scores to a distribution. Scores that
// already sum to ~1 are returned as is; anything else is softmaxed. The
// second result reports whether softmax was applied.
func Probabilities(raw []float32) ([]float64, bool, error) {
	if len(raw) == 0 {
		return nil, false, errors.New("model returned an empty score vector")
	}
	probs := make([]float64, len(raw))
	sum := 0.0
	for i, v := range raw {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false, fmt.Errorf("model returned non-finite score %v at index %d", v, i)
		}
		probs[i] = f
		sum += f
	}
	if sum < sumLow || sum > sumHigh {
		return Softmax(probs), true, nil
	}
	return probs, false, nil
}

// Softmax is the max-shifted, numerically stable softmax.
func Softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	sum := 0.0
	out := make([]float64, len(logits))
	for i, v := range logits {
		exp := math.Exp(v - maxLogit)
		out[i] = exp
		sum += exp
	}
	inv := 1.0 / sum
	for i := range out {
		out[i] *= inv
	}
	return out
}

// Argmax returns the first index holding the maximum value.
func Argmax(probs []float64) int {
	best := 0
	for i, v := range probs {
		if v > probs[best] {
			best = i
		}
	}
	return best
}

// TopK returns up to k indices ordered by descending probability; equal
// probabilities keep ascending index order.
func TopK(probs []float64, k int) []int {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return probs[idx[a]] > probs[idx[b]]
	})
	if k < len(idx) {
		idx = idx[:k]
	}
	return idx
}
