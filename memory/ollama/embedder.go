package ollama

import (
	"context"
	"fmt"

	"github.com/ollama/ollama/api"

	"github.com/promptmem/promptmem/memory"
)

type Model string

const (
	ModelMXBAI Model = "mxbai-embed-large"
)

// mxbai-embed-large produces 1024-dimensional vectors.
const mxbaiDimensions = 1024

type embedder struct {
	client     *api.Client
	model      Model
	dimensions int
}

// NewEmbedder connects to the Ollama server named by the environment
// (OLLAMA_HOST) and embeds with the given model. dimensions declares the
// model's output dimensionality; zero falls back to the mxbai default.
func NewEmbedder(model Model, dimensions int) (memory.EmbeddingService, error) {
	cli, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, err
	}
	if dimensions <= 0 {
		dimensions = mxbaiDimensions
	}
	return &embedder{client: cli, model: model, dimensions: dimensions}, nil
}

func (e *embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: string(e.model),
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, memory.NewEmbeddingServiceError("ollama returned no embeddings", nil)
	}
	return resp.Embeddings[0], nil
}

func (e *embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: string(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed %d texts: %w", len(texts), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, memory.NewEmbeddingServiceError(
			fmt.Sprintf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts)), nil)
	}
	return resp.Embeddings, nil
}

func (e *embedder) Dimensions() int {
	return e.dimensions
}
