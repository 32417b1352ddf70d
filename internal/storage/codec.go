package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// encodeVector packs a vector as little-endian float32 values. A nil or empty vector encodes to nil.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	const size = 4
	out := make([]byte, len(v)*size)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*size:], math.Float32bits(x))
	}
	return out
}

func decodeVector(b []byte) ([]float32, error) {
	const size = 4
	if len(b)%size != 0 {
		return nil, fmt.Errorf("corrupt vector: %d bytes", len(b))
	}
	if len(b) == 0 {
		return nil, nil
	}
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size:]))
	}
	return out, nil
}

func encodeColors(colors []string) (string, error) {
	if len(colors) == 0 {
		return "", nil
	}
	b, err := json.Marshal(colors)
	if err != nil {
		return "", fmt.Errorf("failed to marshal colors: %w", err)
	}
	return string(b), nil
}

func decodeColors(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var colors []string
	if err := json.Unmarshal([]byte(s), &colors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal colors: %w", err)
	}
	return colors, nil
}
