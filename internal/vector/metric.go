package vector

import (
	"errors"
	"fmt"
	"strings"
)

// Metric selects the distance function used for ranking.
type Metric string

const (
	// MetricL2 ranks by Euclidean distance.
	MetricL2 Metric = "L2"
	// MetricCosine ranks by cosine similarity.
	MetricCosine Metric = "cosine"
)

var (
	// ErrInvalidMetric is returned for a metric other than L2 or cosine.
	ErrInvalidMetric = errors.New("invalid metric")
	// ErrInvalidK is returned when fewer than one result is requested.
	ErrInvalidK = errors.New("k must be at least 1")
	// ErrDimensionMismatch is returned when two vectors of different length are compared.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrEmptyVector is returned when a query vector has no components.
	ErrEmptyVector = errors.New("empty vector")
	// ErrNonFiniteVector is returned when a query vector contains NaN or Inf.
	ErrNonFiniteVector = errors.New("vector contains NaN or Inf")
)

// ParseMetric maps a metric name to a Metric. Names are matched case-insensitively.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "l2":
		return MetricL2, nil
	case "cosine":
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("%w: %q (supported: L2, cosine)", ErrInvalidMetric, s)
	}
}

// Valid reports whether m is a supported metric.
func (m Metric) Valid() bool {
	return m == MetricL2 || m == MetricCosine
}

func (m Metric) String() string {
	return string(m)
}
