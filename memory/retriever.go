package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// SemanticRetriever recalls past messages by embedding-space similarity to a
// query. Retrieval is an enhancement: every failure path degrades to an
// empty result rather than propagating.
type SemanticRetriever struct {
	pipeline *EmbeddingPipeline
	store    VectorStore
	config   Config
	logger   zerolog.Logger
}

// NewSemanticRetriever wires the retriever. The configuration is validated
// eagerly.
func NewSemanticRetriever(pipeline *EmbeddingPipeline, store VectorStore, cfg Config, logger zerolog.Logger) (*SemanticRetriever, error) {
	if pipeline == nil {
		return nil, NewConfigError("embedding pipeline is required")
	}
	if store == nil {
		return nil, NewConfigError("vector store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SemanticRetriever{
		pipeline: pipeline,
		store:    store,
		config:   cfg,
		logger:   logger.With().Str("component", "semanticRetriever").Logger(),
	}, nil
}

// Retrieve returns up to SemanticTopK messages similar to query, excluding
// anything among the most recent messages: recall should surface older
// context, not restate what is already visible.
func (r *SemanticRetriever) Retrieve(ctx context.Context, query string, recent []Message) ([]Message, error) {
	if strings.TrimSpace(query) == "" || r.config.SemanticTopK == 0 {
		return nil, nil
	}

	embedRes := r.pipeline.ProcessMessages(ctx, []string{query})
	if len(embedRes.Embeddings) == 0 {
		r.logger.Warn().
			Int("failures", len(embedRes.Failures)).
			Msg("Query embedding failed, skipping semantic retrieval")
		return nil, nil
	}
	queryVec := embedRes.Embeddings[0].Vector

	excluded := r.recentIDs(recent)

	// Over-fetch to keep headroom for the recency exclusion.
	fetch := r.config.SemanticTopK + len(excluded)
	hits, err := r.store.Search(ctx, queryVec, fetch, r.config.MinSimilarity, nil)
	if err != nil {
		r.logger.Error().Err(err).Msg("Vector search failed, skipping semantic retrieval")
		return nil, nil
	}

	type scored struct {
		msg   Message
		score float64
	}
	var candidates []scored
	seen := make(map[string]bool)
	var newest, oldest int64
	for _, hit := range hits {
		parentID := parentMessageID(hit.Entry)
		if excluded[parentID] || seen[parentID] {
			continue
		}
		seen[parentID] = true
		ts := hit.Entry.Timestamp.UnixNano()
		if newest == 0 || ts > newest {
			newest = ts
		}
		if oldest == 0 || ts < oldest {
			oldest = ts
		}
		candidates = append(candidates, scored{
			msg:   entryToMessage(hit.Entry, parentID, hit.Similarity),
			score: hit.Similarity,
		})
	}

	// Blend recency into the ranking when configured. Similarity alone
	// decides at weight zero.
	if w := r.config.RecencyWeight; w > 0 && newest > oldest {
		span := float64(newest - oldest)
		for i := range candidates {
			age := float64(candidates[i].msg.Timestamp.UnixNano()-oldest) / span
			candidates[i].score = (1-w)*candidates[i].score + w*age
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].score > candidates[j].score
		})
	}

	if len(candidates) > r.config.SemanticTopK {
		candidates = candidates[:r.config.SemanticTopK]
	}
	out := make([]Message, len(candidates))
	for i, c := range candidates {
		out[i] = c.msg
	}
	r.logger.Debug().
		Int("hits", len(hits)).
		Int("returned", len(out)).
		Msg("Semantic retrieval completed")
	return out, nil
}

// recentIDs collects the ids of the most recent messages to bar from recall.
func (r *SemanticRetriever) recentIDs(recent []Message) map[string]bool {
	n := r.config.RecencyExcludeCount
	if n > len(recent) {
		n = len(recent)
	}
	ids := make(map[string]bool, n)
	for _, msg := range recent[len(recent)-n:] {
		ids[msg.ID] = true
	}
	return ids
}

// parentMessageID maps a chunk entry back to its source message id.
func parentMessageID(entry VectorEntry) string {
	if entry.Metadata != nil {
		if v, ok := entry.Metadata["parent_message_id"].(string); ok && v != "" {
			return v
		}
	}
	return entry.ID
}

func entryToMessage(entry VectorEntry, parentID string, similarity float64) Message {
	role := RoleAssistant
	if entry.Metadata != nil {
		if v, ok := entry.Metadata["role"].(string); ok && v != "" {
			role = Role(v)
		}
	}
	return Message{
		ID:        parentID,
		Role:      role,
		Content:   entry.Content,
		Timestamp: entry.Timestamp,
		Metadata:  map[string]interface{}{"similarity": similarity},
	}
}
