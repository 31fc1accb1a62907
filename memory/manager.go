package memory

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// MemoryManager composes chunking, embedding, vector search, and
// summarization into a single GetContext operation that fits an unbounded
// history into a hard token budget.
type MemoryManager struct {
	config    Config
	counter   TokenCounter
	strategy  ContextStrategy
	retriever *SemanticRetriever
	sessions  *SessionStore
	logger    zerolog.Logger
}

// NewMemoryManager wires the orchestrator. retriever may be nil when
// semantic memory is disabled; sessions may be nil for read-only use.
func NewMemoryManager(cfg Config, counter TokenCounter, strategy ContextStrategy, retriever *SemanticRetriever, sessions *SessionStore, logger zerolog.Logger) (*MemoryManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strategy == nil {
		return nil, NewConfigError("context strategy is required")
	}
	if cfg.EnableSemanticMemory && retriever == nil {
		return nil, NewConfigError("semantic memory is enabled but no retriever is configured")
	}
	if counter == nil {
		counter = NewHeuristicTokenCounter()
	}
	return &MemoryManager{
		config:    cfg,
		counter:   counter,
		strategy:  strategy,
		retriever: retriever,
		sessions:  sessions,
		logger:    logger.With().Str("component", "memoryManager").Logger(),
	}, nil
}

// NewDefaultManager assembles a manager around service with the shipped
// defaults: heuristic token counter, in-memory vector store, truncation
// summarizer, recency strategy, and no durable persistence.
func NewDefaultManager(cfg Config, service EmbeddingService, logger zerolog.Logger) (*MemoryManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	counter := NewHeuristicTokenCounter()
	pipeline, err := NewEmbeddingPipeline(service, DefaultPipelineConfig(), logger)
	if err != nil {
		return nil, err
	}
	vectors := NewInMemoryVectorStore(logger)

	var summarizer Summarizer
	if cfg.EnableSummarization {
		summarizer = NewTruncationSummarizer(0, logger)
	}
	strategy, err := NewRecencyStrategy(summarizer, DefaultStrategyConfig(), logger)
	if err != nil {
		return nil, err
	}

	var retriever *SemanticRetriever
	if cfg.EnableSemanticMemory {
		retriever, err = NewSemanticRetriever(pipeline, vectors, cfg, logger)
		if err != nil {
			return nil, err
		}
	}
	chunker := NewMessageChunker(counter, logger)
	sessions, err := NewSessionStore(nil, chunker, pipeline, vectors, DefaultSessionStoreConfig(), logger)
	if err != nil {
		return nil, err
	}
	return NewMemoryManager(cfg, counter, strategy, retriever, sessions, logger)
}

// GetContext assembles a prompt-ready message list for the given history and
// query. The retrieval path never raises: any orchestration failure degrades
// to the most recent messages, because a chat turn must proceed even when
// memory augmentation fails.
func (m *MemoryManager) GetContext(ctx context.Context, messages []Message, query string) (result ContextResult, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Msg("Context assembly failed, falling back to recent messages")
			result = m.fallback(messages, start, "panic")
			err = nil
		}
	}()

	// Pre-check: empty input and within-budget input skip all machinery.
	if len(messages) == 0 {
		return ContextResult{
			Messages: []Message{},
			Metadata: m.buildMetadata(start, 0, 0, 0, 0, "", "empty"),
		}, nil
	}
	total := m.totalTokens(messages)
	if total <= m.config.MaxTokens {
		return ContextResult{
			Messages:        append([]Message(nil), messages...),
			EstimatedTokens: total,
			Metadata:        m.buildMetadata(start, len(messages), len(messages), 0, 0, "", "within_budget"),
		}, nil
	}

	strategyRes, stratErr := m.strategy.Apply(ctx, messages, m.config.MaxTokens, m.counter)
	if stratErr != nil {
		// Summarization failures are surfaced but not fatal: the partition
		// still stands. Anything that broke the partition falls back.
		if len(strategyRes.Included)+len(strategyRes.Excluded) != len(messages) {
			m.logger.Error().Err(stratErr).Msg("Strategy failed, falling back to recent messages")
			return m.fallback(messages, start, "strategy_error"), nil
		}
		m.logger.Warn().Err(stratErr).Msg("Summarization failed, continuing without a new summary")
	}

	var semantic []Message
	if m.config.EnableSemanticMemory && m.retriever != nil {
		// Retrieve never raises; it degrades to empty results internally.
		semantic, _ = m.retriever.Retrieve(ctx, query, messages)
	}

	assembled := m.assemble(messages, strategyRes, semantic)
	finalTokens := m.totalTokens(assembled)

	result = ContextResult{
		Messages:         assembled,
		EstimatedTokens:  finalTokens,
		SemanticMessages: semantic,
		Metadata: m.buildMetadata(start, len(messages), len(assembled),
			len(strategyRes.Summaries), len(semantic), strategyRes.Name, "processed"),
	}
	if len(strategyRes.Summaries) > 0 {
		result.Summary = strategyRes.Summaries[0].Summary
	}
	if stratErr != nil {
		result.Metadata["summarization_error"] = stratErr.Error()
	}
	m.logger.Info().
		Int("originalMessages", len(messages)).
		Int("finalMessages", len(assembled)).
		Int("originalTokens", total).
		Int("finalTokens", finalTokens).
		Int("semanticMessages", len(semantic)).
		Msg("Context assembled")
	return result, nil
}

// assemble concatenates, in order: the original system message, new summary
// messages, semantically retrieved messages reframed as facts, then the
// strategy's included messages in chronological order.
func (m *MemoryManager) assemble(messages []Message, strategyRes StrategyResult, semantic []Message) []Message {
	var out []Message

	var systemMsg *Message
	for i := range messages {
		if messages[i].Role == RoleSystem {
			systemMsg = &messages[i]
			break
		}
	}
	if systemMsg != nil {
		out = append(out, *systemMsg)
	}

	for _, info := range strategyRes.Summaries {
		out = append(out, Message{
			ID:        info.ChunkID,
			Role:      RoleSummary,
			Content:   info.Summary,
			Timestamp: time.Now(),
		})
	}

	for _, msg := range semantic {
		out = append(out, Message{
			ID:        msg.ID,
			Role:      RoleSummary,
			Content:   "Fact: " + msg.Content,
			Timestamp: msg.Timestamp,
			Metadata:  msg.Metadata,
		})
	}

	for _, msg := range strategyRes.Included {
		if systemMsg != nil && msg.ID == systemMsg.ID {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// fallback returns the most recent messages that fit the budget, and at
// minimum the newest one.
func (m *MemoryManager) fallback(messages []Message, start time.Time, reason string) ContextResult {
	var kept []Message
	total := 0
	for i := len(messages) - 1; i >= 0; i-- {
		cost := m.counter.Estimate(messages[i].Content)
		if len(kept) > 0 && total+cost > m.config.MaxTokens {
			break
		}
		total += cost
		kept = append([]Message{messages[i]}, kept...)
	}
	meta := m.buildMetadata(start, len(messages), len(kept), 0, 0, "", "fallback")
	meta["fallback_reason"] = reason
	return ContextResult{
		Messages:        kept,
		EstimatedTokens: total,
		Metadata:        meta,
	}
}

func (m *MemoryManager) totalTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += m.counter.Estimate(msg.Content)
	}
	return total
}

func (m *MemoryManager) buildMetadata(start time.Time, original, final, summaries, semantic int, strategyName, preCheck string) map[string]interface{} {
	meta := map[string]interface{}{
		"processing_time_ms": time.Since(start).Milliseconds(),
		"original_messages":  original,
		"final_messages":     final,
		"summaries":          summaries,
		"semantic_messages":  semantic,
		"pre_check":          preCheck,
	}
	if strategyName != "" {
		meta["strategy"] = strategyName
	}
	return meta
}

// StoreMessage persists one message through the session store.
func (m *MemoryManager) StoreMessage(ctx context.Context, sessionID string, msg Message) error {
	if m.sessions == nil {
		return NewConfigError("no session store configured")
	}
	return m.sessions.StoreMessage(ctx, sessionID, msg)
}

// StoreMessages persists messages through the session store.
func (m *MemoryManager) StoreMessages(ctx context.Context, sessionID string, messages []Message) error {
	if m.sessions == nil {
		return NewConfigError("no session store configured")
	}
	return m.sessions.StoreMessages(ctx, sessionID, messages)
}

// LoadMessages returns the stored session history, oldest first.
func (m *MemoryManager) LoadMessages(ctx context.Context, sessionID string) ([]Message, error) {
	if m.sessions == nil {
		return nil, NewConfigError("no session store configured")
	}
	return m.sessions.LoadMessages(ctx, sessionID)
}

// ClearSession removes a session's messages and vectors.
func (m *MemoryManager) ClearSession(ctx context.Context, sessionID string) error {
	if m.sessions == nil {
		return NewConfigError("no session store configured")
	}
	return m.sessions.Clear(ctx, sessionID)
}
