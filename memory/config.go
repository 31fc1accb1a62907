package memory

import (
	"fmt"
	"time"
)

// Config controls the MemoryManager. It is an immutable value object,
// validated eagerly: invalid values fail construction rather than degrading
// behavior silently.
type Config struct {
	// MaxTokens is the hard token budget for the assembled prompt.
	MaxTokens int `yaml:"max_tokens"`
	// SemanticTopK caps how many messages semantic retrieval may surface.
	SemanticTopK int `yaml:"semantic_top_k"`
	// MinSimilarity in [0,1] filters semantic results.
	MinSimilarity float64 `yaml:"min_similarity"`
	// EnableSemanticMemory toggles the semantic retrieval stage.
	EnableSemanticMemory bool `yaml:"enable_semantic_memory"`
	// EnableSummarization toggles summary generation for excluded messages.
	EnableSummarization bool `yaml:"enable_summarization"`
	// RecencyWeight in [0,1] blends recency into semantic result ranking.
	RecencyWeight float64 `yaml:"recency_weight"`
	// RecencyExcludeCount is how many of the most recent messages are barred
	// from semantic recall so retrieval surfaces older context instead of
	// restating what is already visible.
	RecencyExcludeCount int `yaml:"recency_exclude_count"`
}

// DefaultConfig returns the baseline manager configuration.
func DefaultConfig() Config {
	return Config{
		MaxTokens:            4096,
		SemanticTopK:         5,
		MinSimilarity:        0.3,
		EnableSemanticMemory: true,
		EnableSummarization:  true,
		RecencyWeight:        0.2,
		RecencyExcludeCount:  10,
	}
}

// Validate checks the configuration ranges.
func (c Config) Validate() error {
	if c.MaxTokens <= 0 {
		return NewConfigError(fmt.Sprintf("max_tokens must be positive, got %d", c.MaxTokens))
	}
	if c.SemanticTopK < 0 {
		return NewConfigError(fmt.Sprintf("semantic_top_k must be >= 0, got %d", c.SemanticTopK))
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return NewConfigError(fmt.Sprintf("min_similarity must be in [0,1], got %v", c.MinSimilarity))
	}
	if c.RecencyWeight < 0 || c.RecencyWeight > 1 {
		return NewConfigError(fmt.Sprintf("recency_weight must be in [0,1], got %v", c.RecencyWeight))
	}
	if c.RecencyExcludeCount < 0 {
		return NewConfigError(fmt.Sprintf("recency_exclude_count must be >= 0, got %d", c.RecencyExcludeCount))
	}
	return nil
}

// ChunkStrategy selects how long message content is segmented.
type ChunkStrategy string

const (
	ChunkStrategyFixedToken        ChunkStrategy = "fixed_token"
	ChunkStrategyFixedChar         ChunkStrategy = "fixed_char"
	ChunkStrategyWordBoundary      ChunkStrategy = "word_boundary"
	ChunkStrategySentenceBoundary  ChunkStrategy = "sentence_boundary"
	ChunkStrategyParagraphBoundary ChunkStrategy = "paragraph_boundary"
	ChunkStrategyDelimiter         ChunkStrategy = "delimiter"
	ChunkStrategySlidingWindow     ChunkStrategy = "sliding_window"
)

// ChunkerConfig controls the MessageChunker.
type ChunkerConfig struct {
	Strategy ChunkStrategy `yaml:"strategy"`
	// MaxChunkTokens bounds the estimated token count of a chunk.
	MaxChunkTokens int `yaml:"max_chunk_tokens"`
	// MaxChunkChars bounds the character length of a chunk.
	MaxChunkChars int `yaml:"max_chunk_chars"`
	// OverlapRatio in [0,1) sets the sliding-window overlap.
	OverlapRatio float64 `yaml:"overlap_ratio"`
	// Delimiters are the custom separators for the delimiter strategy.
	Delimiters []string `yaml:"delimiters,omitempty"`
	// SnapToWordBoundary aligns fixed-token cut points to word boundaries.
	SnapToWordBoundary bool `yaml:"snap_to_word_boundary"`
	// MaxChunksPerMessage stops pathological inputs; exceeding it truncates
	// chunking with a warning rather than failing the caller.
	MaxChunksPerMessage int `yaml:"max_chunks_per_message"`
}

// DefaultChunkerConfig returns the baseline chunker configuration.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		Strategy:            ChunkStrategyFixedToken,
		MaxChunkTokens:      256,
		MaxChunkChars:       1024,
		OverlapRatio:        0.1,
		SnapToWordBoundary:  true,
		MaxChunksPerMessage: 100,
	}
}

// Validate checks the chunker configuration ranges.
func (c ChunkerConfig) Validate() error {
	switch c.Strategy {
	case ChunkStrategyFixedToken, ChunkStrategyFixedChar, ChunkStrategyWordBoundary,
		ChunkStrategySentenceBoundary, ChunkStrategyParagraphBoundary,
		ChunkStrategyDelimiter, ChunkStrategySlidingWindow:
	default:
		return NewConfigError(fmt.Sprintf("unknown chunk strategy %q", c.Strategy))
	}
	if c.MaxChunkTokens <= 0 {
		return NewConfigError(fmt.Sprintf("max_chunk_tokens must be positive, got %d", c.MaxChunkTokens))
	}
	if c.MaxChunkChars <= 0 {
		return NewConfigError(fmt.Sprintf("max_chunk_chars must be positive, got %d", c.MaxChunkChars))
	}
	if c.OverlapRatio < 0 || c.OverlapRatio >= 1 {
		return NewConfigError(fmt.Sprintf("overlap_ratio must be in [0,1), got %v", c.OverlapRatio))
	}
	if c.Strategy == ChunkStrategyDelimiter && len(c.Delimiters) == 0 {
		return NewConfigError("delimiter strategy requires at least one delimiter")
	}
	if c.MaxChunksPerMessage <= 0 {
		return NewConfigError(fmt.Sprintf("max_chunks_per_message must be positive, got %d", c.MaxChunksPerMessage))
	}
	return nil
}

// ProcessingMode selects how the EmbeddingPipeline schedules work.
type ProcessingMode string

const (
	ModeSequential ProcessingMode = "sequential"
	ModeParallel   ProcessingMode = "parallel"
	ModeAdaptive   ProcessingMode = "adaptive"
)

// RetryStrategy selects the delay curve between retry attempts.
type RetryStrategy string

const (
	RetryImmediate   RetryStrategy = "immediate"
	RetryLinear      RetryStrategy = "linear"
	RetryExponential RetryStrategy = "exponential"
)

// PipelineConfig controls the EmbeddingPipeline's batching and resilience.
type PipelineConfig struct {
	Mode ProcessingMode `yaml:"mode"`

	// Batch sizing. Adaptive mode starts at MinBatchSize and tunes within
	// [MinBatchSize, MaxBatchSize]; parallel mode uses MaxBatchSize fixed.
	MinBatchSize int `yaml:"min_batch_size"`
	MaxBatchSize int `yaml:"max_batch_size"`

	// Retry policy.
	MaxRetries     int           `yaml:"max_retries"`
	RetryStrategy  RetryStrategy `yaml:"retry_strategy"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
	RetryJitter    bool          `yaml:"retry_jitter"`

	// Circuit breaker.
	MaxFailures         int           `yaml:"max_failures"`
	BreakerTimeout      time.Duration `yaml:"breaker_timeout"`
	MaxHalfOpenAttempts int           `yaml:"max_half_open_attempts"`

	// RequestsPerSecond caps calls to the embedding service over a sliding
	// one-second window. Zero disables rate limiting.
	RequestsPerSecond int `yaml:"requests_per_second"`

	// Cache. CacheCapacity of zero disables caching.
	CacheCapacity int64         `yaml:"cache_capacity"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`

	// Post-processing.
	ValidateVectors  bool    `yaml:"validate_vectors"`
	NormalizeVectors bool    `yaml:"normalize_vectors"`
	QualityThreshold float64 `yaml:"quality_threshold"`
}

// DefaultPipelineConfig returns the baseline pipeline configuration.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Mode:                ModeAdaptive,
		MinBatchSize:        4,
		MaxBatchSize:        64,
		MaxRetries:          3,
		RetryStrategy:       RetryExponential,
		RetryBaseDelay:      200 * time.Millisecond,
		RetryMaxDelay:       10 * time.Second,
		RetryJitter:         true,
		MaxFailures:         5,
		BreakerTimeout:      30 * time.Second,
		MaxHalfOpenAttempts: 2,
		RequestsPerSecond:   50,
		CacheCapacity:       10_000,
		CacheTTL:            time.Hour,
		ValidateVectors:     true,
		NormalizeVectors:    false,
		QualityThreshold:    0,
	}
}

// Validate checks the pipeline configuration ranges.
func (c PipelineConfig) Validate() error {
	switch c.Mode {
	case ModeSequential, ModeParallel, ModeAdaptive:
	default:
		return NewConfigError(fmt.Sprintf("unknown processing mode %q", c.Mode))
	}
	if c.MinBatchSize <= 0 {
		return NewConfigError(fmt.Sprintf("min_batch_size must be positive, got %d", c.MinBatchSize))
	}
	if c.MaxBatchSize < c.MinBatchSize {
		return NewConfigError(fmt.Sprintf("max_batch_size %d must be >= min_batch_size %d", c.MaxBatchSize, c.MinBatchSize))
	}
	if c.MaxRetries < 0 {
		return NewConfigError(fmt.Sprintf("max_retries must be >= 0, got %d", c.MaxRetries))
	}
	switch c.RetryStrategy {
	case RetryImmediate, RetryLinear, RetryExponential:
	default:
		return NewConfigError(fmt.Sprintf("unknown retry strategy %q", c.RetryStrategy))
	}
	if c.RetryBaseDelay < 0 || c.RetryMaxDelay < 0 {
		return NewConfigError("retry delays must be non-negative")
	}
	if c.MaxFailures <= 0 {
		return NewConfigError(fmt.Sprintf("max_failures must be positive, got %d", c.MaxFailures))
	}
	if c.BreakerTimeout <= 0 {
		return NewConfigError("breaker_timeout must be positive")
	}
	if c.MaxHalfOpenAttempts <= 0 {
		return NewConfigError(fmt.Sprintf("max_half_open_attempts must be positive, got %d", c.MaxHalfOpenAttempts))
	}
	if c.RequestsPerSecond < 0 {
		return NewConfigError(fmt.Sprintf("requests_per_second must be >= 0, got %d", c.RequestsPerSecond))
	}
	if c.CacheCapacity < 0 {
		return NewConfigError(fmt.Sprintf("cache_capacity must be >= 0, got %d", c.CacheCapacity))
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return NewConfigError(fmt.Sprintf("quality_threshold must be in [0,1], got %v", c.QualityThreshold))
	}
	return nil
}
