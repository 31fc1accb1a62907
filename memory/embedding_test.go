package memory

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 2, 3}

	if got := CosineSimilarity(a, a); math.Abs(got-1) > 1e-6 {
		t.Errorf("self similarity = %v, want 1", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 1e-6 {
		t.Errorf("orthogonal similarity = %v, want 0", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{-1, 0}); math.Abs(got+1) > 1e-6 {
		t.Errorf("opposite similarity = %v, want -1", got)
	}
	if got := CosineSimilarity(a, []float32{0, 0, 0}); got != 0 {
		t.Errorf("zero-norm similarity = %v, want 0", got)
	}
	if got := CosineSimilarity(a, []float32{1, 2}); got != 0 {
		t.Errorf("length-mismatch similarity = %v, want 0", got)
	}
	if got := CosineSimilarity(a, []float32{1, float32(math.NaN()), 3}); got != 0 {
		t.Errorf("NaN similarity = %v, want 0", got)
	}
	if got := CosineSimilarity(a, []float32{1, float32(math.Inf(1)), 3}); got != 0 {
		t.Errorf("Inf similarity = %v, want 0", got)
	}
}

func TestNormalizeVector(t *testing.T) {
	out := NormalizeVector([]float32{3, 4})
	var mag float64
	for _, v := range out {
		mag += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(mag)-1) > 1e-6 {
		t.Errorf("normalized magnitude = %v, want 1", math.Sqrt(mag))
	}

	zero := []float32{0, 0}
	if got := NormalizeVector(zero); got[0] != 0 || got[1] != 0 {
		t.Errorf("zero vector changed: %v", got)
	}
}

func TestValidateVector(t *testing.T) {
	if err := ValidateVector([]float32{1, 2, 3}, 3); err != nil {
		t.Errorf("valid vector rejected: %v", err)
	}
	if err := ValidateVector(nil, 3); !IsEmbeddingServiceError(err) {
		t.Errorf("empty vector: got %v, want embedding service error", err)
	}
	if err := ValidateVector([]float32{1, 2}, 3); !IsEmbeddingServiceError(err) {
		t.Errorf("dimension mismatch: got %v, want embedding service error", err)
	}
	if err := ValidateVector([]float32{1, float32(math.NaN())}, 2); !IsEmbeddingServiceError(err) {
		t.Errorf("NaN component: got %v, want embedding service error", err)
	}
}

func TestQualityScore(t *testing.T) {
	if got := QualityScore(nil); got != 0 {
		t.Errorf("empty vector score = %v, want 0", got)
	}
	if got := QualityScore([]float32{0, 0, 0}); got != 0 {
		t.Errorf("zero vector score = %v, want 0", got)
	}
	if got := QualityScore([]float32{1, float32(math.NaN())}); got != 0 {
		t.Errorf("NaN vector score = %v, want 0", got)
	}

	// A constant vector has zero variance: only the magnitude half counts.
	constant := QualityScore([]float32{0.5, 0.5, 0.5, 0.5})
	varied := QualityScore([]float32{0.9, -0.3, 0.1, -0.7})
	if varied <= constant {
		t.Errorf("varied vector %v should outscore constant vector %v", varied, constant)
	}

	big := make([]float32, 64)
	for i := range big {
		big[i] = float32(i%7) - 3
	}
	if got := QualityScore(big); got < 0 || got > 1 {
		t.Errorf("score %v outside [0,1]", got)
	}
}

func TestEncodeDecodeEmbedding(t *testing.T) {
	vec := []float32{0.1, -2.5, 3.75, 0}
	decoded, err := DecodeEmbedding(EncodeEmbedding(vec))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != len(vec) {
		t.Fatalf("decoded length = %d, want %d", len(decoded), len(vec))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Errorf("decoded[%d] = %v, want %v", i, decoded[i], vec[i])
		}
	}

	if _, err := DecodeEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestHeuristicTokenCounter(t *testing.T) {
	c := NewHeuristicTokenCounter()

	if got := c.Estimate(""); got != 0 {
		t.Errorf("empty estimate = %d, want 0", got)
	}
	if got := c.Estimate("hi"); got < 1 {
		t.Errorf("short estimate = %d, want >= 1", got)
	}

	short := c.Estimate("one two three")
	long := c.Estimate("one two three four five six seven eight nine ten")
	if long <= short {
		t.Errorf("longer text should estimate higher: %d <= %d", long, short)
	}

	// An unbroken run is dominated by the character estimate.
	url := "https://example.com/a/very/long/path?with=query&and=more"
	if got := c.Estimate(url); got < len(url)/5 {
		t.Errorf("url estimate = %d, suspiciously low", got)
	}
}
