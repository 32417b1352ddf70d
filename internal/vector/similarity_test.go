package vector

import (
	"errors"
	"math"
	"testing"
)

func TestParseMetric(t *testing.T) {
	tests := []struct {
		in      string
		want    Metric
		wantErr bool
	}{
		{"L2", MetricL2, false},
		{"l2", MetricL2, false},
		{"cosine", MetricCosine, false},
		{" COSINE ", MetricCosine, false},
		{"dot", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMetric(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMetric(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr && !errors.Is(err, ErrInvalidMetric) {
			t.Errorf("ParseMetric(%q) error should wrap ErrInvalidMetric", tt.in)
		}
		if got != tt.want {
			t.Errorf("ParseMetric(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestL2Distance(t *testing.T) {
	d, err := L2Distance([]float32{0, 0}, []float32{3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if d != 5 {
		t.Errorf("L2Distance = %v, want 5", d)
	}
	if _, err := L2Distance([]float32{1}, []float32{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"same direction", []float32{1, 2}, []float32{2, 4}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-3, 0}, -1},
		{"zero norm", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSimilarity_L2Unbounded(t *testing.T) {
	got, err := Similarity(MetricL2, []float32{0, 0}, []float32{10, 0})
	if err != nil {
		t.Fatal(err)
	}
	if got != -9 {
		t.Errorf("Similarity = %v, want -9", got)
	}
	if _, err := Similarity("hamming", []float32{1}, []float32{1}); !errors.Is(err, ErrInvalidMetric) {
		t.Errorf("expected ErrInvalidMetric, got %v", err)
	}
}

func TestL2Norm(t *testing.T) {
	if n := L2Norm([]float32{3, 4}); n != 5 {
		t.Errorf("L2Norm = %v, want 5", n)
	}
}
