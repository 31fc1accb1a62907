package memory

import (
	"time"

	"github.com/google/uuid"
)

// Role describes who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSummary   Role = "summary"
)

// Message is a single conversation turn. Messages are immutable once created
// and referenced, never copied-and-mutated, by downstream stages. Insertion
// order is chronological order.
type Message struct {
	ID        string                 `json:"id"`
	Role      Role                   `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewMessage creates a message with a generated id and the current timestamp.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// MessageChunk is a bounded segment of one message's content. Chunks are
// transient: they feed the embedding step and are not persisted directly.
type MessageChunk struct {
	ID              string                 `json:"id"`
	Content         string                 `json:"content"`
	ParentMessageID string                 `json:"parent_message_id"`
	ChunkIndex      int                    `json:"chunk_index"`
	TotalChunks     int                    `json:"total_chunks"`
	StartPosition   int                    `json:"start_position"`
	EndPosition     int                    `json:"end_position"`
	EstimatedTokens int                    `json:"estimated_tokens"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// VectorEntry is a stored embedding with its source content and metadata.
// Entries are owned exclusively by the VectorStore once stored; re-storing
// the same id overwrites the previous entry.
type VectorEntry struct {
	ID        string                 `json:"id"`
	Embedding []float32              `json:"embedding"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// SummaryInfo is the product of compressing a set of excluded messages.
type SummaryInfo struct {
	ChunkID      string `json:"chunk_id"`
	Summary      string `json:"summary"`
	TokensBefore int    `json:"tokens_before"`
	TokensAfter  int    `json:"tokens_after"`
}

// Empty reports whether the summary carries no content.
func (s SummaryInfo) Empty() bool { return s.Summary == "" }

// StrategyResult partitions the input messages: Included and Excluded are
// disjoint and their union equals the input set.
type StrategyResult struct {
	Included  []Message     `json:"included"`
	Excluded  []Message     `json:"excluded"`
	Summaries []SummaryInfo `json:"summaries,omitempty"`
	Name      string        `json:"name"`
}

// ContextResult is the terminal artifact returned for prompt assembly. It is
// read-only and not further mutated by the engine.
type ContextResult struct {
	Messages         []Message              `json:"messages"`
	EstimatedTokens  int                    `json:"estimated_tokens"`
	Summary          string                 `json:"summary,omitempty"`
	SemanticMessages []Message              `json:"semantic_messages,omitempty"`
	Metadata         map[string]interface{} `json:"metadata"`
}
