package openai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/promptmem/promptmem/memory"
)

// Embedding model dimensionalities per the OpenAI API reference.
var modelDimensions = map[openai.EmbeddingModel]int{
	openai.SmallEmbedding3: 1536,
	openai.LargeEmbedding3: 3072,
	openai.AdaEmbeddingV2:  1536,
}

type embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// NewEmbedder embeds with the OpenAI embeddings API. An unrecognized model
// requires an explicit dimensions value.
func NewEmbedder(apiKey string, model openai.EmbeddingModel, dimensions int) (memory.EmbeddingService, error) {
	if apiKey == "" {
		return nil, memory.NewConfigError("openai api key is required")
	}
	if dimensions <= 0 {
		known, ok := modelDimensions[model]
		if !ok {
			return nil, memory.NewConfigError(fmt.Sprintf("unknown embedding model %q, dimensions must be given", model))
		}
		dimensions = known
	}
	return &embedder{
		client:     openai.NewClient(apiKey),
		model:      model,
		dimensions: dimensions,
	}, nil
}

func (e *embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed %d texts: %w", len(texts), err)
	}
	if len(resp.Data) != len(texts) {
		return nil, memory.NewEmbeddingServiceError(
			fmt.Sprintf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts)), nil)
	}
	// The API may reorder results; Index restores input order.
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, memory.NewEmbeddingServiceError(
				fmt.Sprintf("openai returned out-of-range embedding index %d", d.Index), nil)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (e *embedder) Dimensions() int {
	return e.dimensions
}
