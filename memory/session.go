package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Persistence stores raw messages durably. It is a collaborator interface;
// backends live outside this package. LoadMessages returns oldest first.
type Persistence interface {
	SaveMessages(ctx context.Context, sessionID string, messages []Message) error
	LoadMessages(ctx context.Context, sessionID string) ([]Message, error)
	DeleteMessages(ctx context.Context, sessionID string, ids []string) error
	Clear(ctx context.Context, sessionID string) error
}

// SessionStoreConfig tunes ingestion.
type SessionStoreConfig struct {
	Chunker ChunkerConfig `yaml:"chunker"`
	// MaxStoreAttempts bounds embed-and-store attempts per message batch.
	MaxStoreAttempts int `yaml:"max_store_attempts"`
	// StoreRetryDelay is the initial backoff between attempts.
	StoreRetryDelay time.Duration `yaml:"store_retry_delay"`
}

// DefaultSessionStoreConfig returns the baseline ingestion configuration.
func DefaultSessionStoreConfig() SessionStoreConfig {
	return SessionStoreConfig{
		Chunker:          DefaultChunkerConfig(),
		MaxStoreAttempts: 3,
		StoreRetryDelay:  500 * time.Millisecond,
	}
}

// Validate checks the ingestion configuration.
func (c SessionStoreConfig) Validate() error {
	if err := c.Chunker.Validate(); err != nil {
		return err
	}
	if c.MaxStoreAttempts <= 0 {
		return NewConfigError(fmt.Sprintf("max_store_attempts must be positive, got %d", c.MaxStoreAttempts))
	}
	if c.StoreRetryDelay < 0 {
		return NewConfigError("store_retry_delay must be non-negative")
	}
	return nil
}

// SessionStore persists messages and their embeddings. Unlike retrieval,
// ingestion reports failure: losing semantic memory for a message is
// consequential enough that exhausted retries raise to the caller.
type SessionStore struct {
	persistence Persistence // optional; nil skips durable storage
	chunker     *MessageChunker
	pipeline    *EmbeddingPipeline
	vectors     VectorStore
	config      SessionStoreConfig
	logger      zerolog.Logger
}

// NewSessionStore wires ingestion. persistence may be nil for callers that
// only want in-memory semantic recall.
func NewSessionStore(persistence Persistence, chunker *MessageChunker, pipeline *EmbeddingPipeline, vectors VectorStore, cfg SessionStoreConfig, logger zerolog.Logger) (*SessionStore, error) {
	if chunker == nil {
		return nil, NewConfigError("message chunker is required")
	}
	if pipeline == nil {
		return nil, NewConfigError("embedding pipeline is required")
	}
	if vectors == nil {
		return nil, NewConfigError("vector store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SessionStore{
		persistence: persistence,
		chunker:     chunker,
		pipeline:    pipeline,
		vectors:     vectors,
		config:      cfg,
		logger:      logger.With().Str("component", "sessionStore").Logger(),
	}, nil
}

// StoreMessage persists one message and its embedding.
func (s *SessionStore) StoreMessage(ctx context.Context, sessionID string, msg Message) error {
	return s.StoreMessages(ctx, sessionID, []Message{msg})
}

// StoreMessages persists messages, chunks oversized content, embeds, and
// upserts the vectors. Embedding or vector storage failures retry with
// backoff and raise after the attempt budget is spent.
func (s *SessionStore) StoreMessages(ctx context.Context, sessionID string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	if s.persistence != nil {
		if err := s.persistence.SaveMessages(ctx, sessionID, messages); err != nil {
			return NewPersistenceError(fmt.Sprintf("save %d messages", len(messages)), err)
		}
	}

	chunks, err := s.chunker.ChunkBatch(messages, s.config.Chunker)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	byMessage := make(map[string]Message, len(messages))
	for _, m := range messages {
		byMessage[m.ID] = m
	}

	op := func() error {
		res := s.pipeline.ProcessChunks(ctx, chunks)
		if !res.IsSuccess() {
			first := res.Failures[0]
			return fmt.Errorf("embed %d of %d chunks failed: %w", len(res.Failures), len(chunks), first.Err)
		}
		entries := s.buildEntries(sessionID, chunks, res.Embeddings, byMessage)
		if err := s.vectors.StoreBatch(ctx, entries); err != nil {
			return fmt.Errorf("store %d vectors: %w", len(entries), err)
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.config.StoreRetryDelay
	eb.Multiplier = 2.0
	eb.RandomizationFactor = 0.2
	eb.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.config.MaxStoreAttempts-1)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		s.logger.Error().Err(err).
			Str("sessionID", sessionID).
			Int("messages", len(messages)).
			Int("attempts", s.config.MaxStoreAttempts).
			Msg("Failed to store message embeddings")
		return NewVectorStoreError(fmt.Sprintf("store embeddings for session %s", sessionID), err)
	}

	s.logger.Debug().
		Str("sessionID", sessionID).
		Int("messages", len(messages)).
		Int("chunks", len(chunks)).
		Msg("Stored messages")
	return nil
}

// buildEntries maps embedded chunks to vector entries. A single-chunk
// message keeps the message id so an upsert overwrites prior content;
// multi-chunk messages store one entry per chunk keyed by the chunk id.
func (s *SessionStore) buildEntries(sessionID string, chunks []MessageChunk, embeddings []EmbeddingInfo, byMessage map[string]Message) []VectorEntry {
	vectors := make(map[string][]float32, len(embeddings))
	for _, info := range embeddings {
		vectors[info.ID] = info.Vector
	}

	entries := make([]VectorEntry, 0, len(chunks))
	for _, chunk := range chunks {
		vec, ok := vectors[chunk.ID]
		if !ok {
			continue
		}
		msg := byMessage[chunk.ParentMessageID]
		id := chunk.ID
		if chunk.TotalChunks == 1 {
			id = chunk.ParentMessageID
		}
		entries = append(entries, VectorEntry{
			ID:        id,
			Embedding: vec,
			Content:   chunk.Content,
			Timestamp: msg.Timestamp,
			Metadata: map[string]interface{}{
				"parent_message_id": chunk.ParentMessageID,
				"session_id":        sessionID,
				"role":              string(msg.Role),
				"chunk_index":       chunk.ChunkIndex,
				"total_chunks":      chunk.TotalChunks,
			},
		})
	}
	return entries
}

// LoadMessages returns the session history, oldest first. Requires a
// persistence backend.
func (s *SessionStore) LoadMessages(ctx context.Context, sessionID string) ([]Message, error) {
	if s.persistence == nil {
		return nil, NewConfigError("no persistence backend configured")
	}
	msgs, err := s.persistence.LoadMessages(ctx, sessionID)
	if err != nil {
		return nil, NewPersistenceError(fmt.Sprintf("load session %s", sessionID), err)
	}
	return msgs, nil
}

// DeleteMessages removes messages from persistence and their vectors,
// including per-chunk entries.
func (s *SessionStore) DeleteMessages(ctx context.Context, sessionID string, ids []string) error {
	if s.persistence != nil {
		if err := s.persistence.DeleteMessages(ctx, sessionID, ids); err != nil {
			return NewPersistenceError(fmt.Sprintf("delete %d messages", len(ids)), err)
		}
	}
	vectorIDs, err := s.vectorIDsFor(ctx, func(entry VectorEntry) bool {
		parent := parentMessageID(entry)
		for _, id := range ids {
			if parent == id {
				return true
			}
		}
		return false
	})
	if err != nil {
		return err
	}
	if err := s.vectors.DeleteBatch(ctx, vectorIDs); err != nil {
		return NewVectorStoreError(fmt.Sprintf("delete %d vectors", len(vectorIDs)), err)
	}
	return nil
}

// Clear removes a whole session from persistence and the vector store.
func (s *SessionStore) Clear(ctx context.Context, sessionID string) error {
	if s.persistence != nil {
		if err := s.persistence.Clear(ctx, sessionID); err != nil {
			return NewPersistenceError(fmt.Sprintf("clear session %s", sessionID), err)
		}
	}
	vectorIDs, err := s.vectorIDsFor(ctx, func(entry VectorEntry) bool {
		if entry.Metadata == nil {
			return false
		}
		v, _ := entry.Metadata["session_id"].(string)
		return v == sessionID
	})
	if err != nil {
		return err
	}
	if err := s.vectors.DeleteBatch(ctx, vectorIDs); err != nil {
		return NewVectorStoreError(fmt.Sprintf("clear vectors for session %s", sessionID), err)
	}
	return nil
}

func (s *SessionStore) vectorIDsFor(ctx context.Context, match func(VectorEntry) bool) ([]string, error) {
	entries, err := s.vectors.GetAll(ctx)
	if err != nil {
		return nil, NewVectorStoreError("list vector entries", err)
	}
	var ids []string
	for _, entry := range entries {
		if match(entry) {
			ids = append(ids, entry.ID)
		}
	}
	return ids, nil
}
