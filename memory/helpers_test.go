package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// semanticEmbedder creates embeddings based on word content to simulate
// semantic similarity: texts with overlapping words get similar vectors.
// Deterministic and offline, so suitable for CI.
type semanticEmbedder struct {
	dimensions int
}

func newSemanticEmbedder(dimensions int) *semanticEmbedder {
	return &semanticEmbedder{dimensions: dimensions}
}

func (e *semanticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	words := strings.Fields(strings.ToLower(text))
	embedding := make([]float32, e.dimensions)
	if len(words) == 0 {
		return embedding, nil
	}

	for _, word := range words {
		h := fnv.New32a()
		if _, err := h.Write([]byte(word)); err != nil {
			return nil, err
		}
		hash := h.Sum32()
		// Each word influences 3 dimensions for better similarity detection.
		for i := 0; i < 3; i++ {
			dim := int((hash + uint32(i)*2654435761) % uint32(e.dimensions)) //nolint:gosec // test code
			embedding[dim] += float32(math.Sin(float64(hash+uint32(i))*0.1) + 1.0)
		}
	}

	var magnitude float32
	for _, val := range embedding {
		magnitude += val * val
	}
	magnitude = float32(math.Sqrt(float64(magnitude)))
	if magnitude > 0 {
		for i := range embedding {
			embedding[i] /= magnitude
		}
	}
	return embedding, nil
}

func (e *semanticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *semanticEmbedder) Dimensions() int { return e.dimensions }

// flakyEmbedder fails its first failUntil calls, then delegates to inner.
// With permanent set, failures carry the embedding-service error type, which
// the pipeline treats as terminal.
type flakyEmbedder struct {
	inner     EmbeddingService
	failUntil int
	permanent bool

	mu    sync.Mutex
	calls int
}

func (e *flakyEmbedder) fail() error {
	if e.permanent {
		return NewEmbeddingServiceError("model rejected input", nil)
	}
	return errors.New("transient transport fault")
}

func (e *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	failing := e.calls <= e.failUntil
	e.mu.Unlock()
	if failing {
		return nil, e.fail()
	}
	return e.inner.Embed(ctx, text)
}

func (e *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	failing := e.calls <= e.failUntil
	e.mu.Unlock()
	if failing {
		return nil, e.fail()
	}
	return e.inner.EmbedBatch(ctx, texts)
}

func (e *flakyEmbedder) Dimensions() int { return e.inner.Dimensions() }

func (e *flakyEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// constantEmbedder returns the same vector for every input. Useful for
// exercising the quality gate with a known-degenerate embedding.
type constantEmbedder struct {
	vector []float32
}

func (e *constantEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vector, nil
}

func (e *constantEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vector
	}
	return out, nil
}

func (e *constantEmbedder) Dimensions() int { return len(e.vector) }

// recordingSummarizer captures the selection it was handed and returns a
// canned summary.
type recordingSummarizer struct {
	calls     int
	lastInput []Message
	summary   string
	err       error
}

func (s *recordingSummarizer) Summarize(ctx context.Context, messages []Message, counter TokenCounter) (SummaryInfo, error) {
	s.calls++
	s.lastInput = append([]Message(nil), messages...)
	if s.err != nil {
		return SummaryInfo{}, s.err
	}
	return SummaryInfo{
		ChunkID:      "summary-1",
		Summary:      s.summary,
		TokensBefore: 100,
		TokensAfter:  10,
	}, nil
}

func testLogger() zerolog.Logger { return zerolog.Nop() }

// fastPipelineConfig keeps pipeline tests quick: immediate retries, no rate
// limit, no cache unless a test opts in.
func fastPipelineConfig() PipelineConfig {
	cfg := DefaultPipelineConfig()
	cfg.Mode = ModeSequential
	cfg.RetryStrategy = RetryImmediate
	cfg.RetryBaseDelay = 0
	cfg.RetryJitter = false
	cfg.RequestsPerSecond = 0
	cfg.CacheCapacity = 0
	return cfg
}

func msgAt(role Role, content string, ts time.Time) Message {
	m := NewMessage(role, content)
	m.Timestamp = ts
	return m
}

func contentsOf(messages []Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Content
	}
	return out
}
