package vector

import (
	"fmt"
	"math"
)

// L2Distance returns the Euclidean distance between a and b.
func L2Distance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// If either vector has zero norm the similarity is 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, cos)), nil
}

// Similarity scores a against b under metric so that higher is always more similar.
//
// For cosine the score is the raw cosine similarity (1 - cosine distance), bounded in [-1, 1].
// For L2 the score is 1 - ||a-b||. It is NOT bounded: identical vectors score 1 and distant
// vectors go negative. It is a monotonic rescaling for ordering only, not a normalized score.
func Similarity(metric Metric, a, b []float32) (float64, error) {
	switch metric {
	case MetricL2:
		d, err := L2Distance(a, b)
		if err != nil {
			return 0, err
		}
		return 1 - d, nil
	case MetricCosine:
		return CosineSimilarity(a, b)
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMetric, metric)
	}
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func finite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
