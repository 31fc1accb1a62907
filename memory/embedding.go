package memory

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// EmbeddingService maps text to fixed-dimension vectors. Implementations may
// be network-bound; the EmbeddingPipeline is responsible for resilience.
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, same length and order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions is the fixed dimensionality of vectors this service produces.
	Dimensions() int
}

// EncodeEmbedding encodes a []float32 into a []byte for storage.
func EncodeEmbedding(vec []float32) []byte {
	if vec == nil {
		return nil
	}
	b := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// DecodeEmbedding decodes a []byte into a []float32.
func DecodeEmbedding(b []byte) ([]float32, error) {
	if b == nil {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, errors.New("invalid embedding blob length")
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

// CosineSimilarity between two equal-length vectors. Returns 0 for empty,
// mismatched-length, or zero-norm inputs, and for any vector carrying a NaN
// or infinite component.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		fa, fb := float64(a[i]), float64(b[i])
		if math.IsNaN(fa) || math.IsInf(fa, 0) || math.IsNaN(fb) || math.IsInf(fb, 0) {
			return 0
		}
		dot += fa * fb
		na += fa * fa
		nb += fb * fb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// NormalizeVector scales vec to unit length. A zero vector is returned as-is.
func NormalizeVector(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	mag := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / mag)
	}
	return out
}

// ValidateVector checks a vector against the expected dimensionality and
// rejects NaN or infinite components.
func ValidateVector(vec []float32, wantDims int) error {
	if len(vec) == 0 {
		return NewEmbeddingServiceError("empty embedding vector", nil)
	}
	if wantDims > 0 && len(vec) != wantDims {
		return NewEmbeddingServiceError(
			fmt.Sprintf("embedding dimensionality %d does not match declared %d", len(vec), wantDims), nil)
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return NewEmbeddingServiceError(fmt.Sprintf("non-finite component at index %d", i), nil)
		}
	}
	return nil
}

// QualityScore is a heuristic scalar in [0,1] summarizing a vector's
// magnitude and variance. Low-magnitude or near-constant vectors score low.
// The formula averages the capped magnitude with the capped scaled variance;
// it is a parity-preserving heuristic, not a calibrated measure.
func QualityScore(vec []float32) float64 {
	if len(vec) == 0 {
		return 0
	}
	var sum, sumSq float64
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		sum += f
		sumSq += f * f
	}
	n := float64(len(vec))
	magnitude := math.Sqrt(sumSq)
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	magScore := math.Min(1, magnitude)
	varScore := math.Min(1, variance*10)
	score := (magScore + varScore) / 2
	if score > 1 {
		return 1
	}
	return score
}
