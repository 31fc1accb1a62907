package memory

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	sentenceBoundaryRe  = regexp.MustCompile(`[.!?]+\s+`)
	paragraphBoundaryRe = regexp.MustCompile(`\n\s*\n`)
)

// ChunkerStats accumulates across calls and is resettable.
type ChunkerStats struct {
	MessagesProcessed   int64
	ChunksCreated       int64
	SingleChunkMessages int64
	TruncatedMessages   int64
	// SizeDistribution counts chunks by character-length bucket.
	SizeDistribution map[string]int64
}

// MessageChunker splits long message content into bounded segments using a
// selectable strategy. Safe for concurrent use.
type MessageChunker struct {
	counter TokenCounter
	logger  zerolog.Logger

	mu                  sync.Mutex
	messagesProcessed   int64
	chunksCreated       int64
	singleChunkMessages int64
	truncatedMessages   int64
	sizeBuckets         map[string]int64
}

// NewMessageChunker creates a chunker using counter for token estimates.
func NewMessageChunker(counter TokenCounter, logger zerolog.Logger) *MessageChunker {
	if counter == nil {
		counter = NewHeuristicTokenCounter()
	}
	return &MessageChunker{
		counter:     counter,
		logger:      logger.With().Str("component", "messageChunker").Logger(),
		sizeBuckets: make(map[string]int64),
	}
}

// span is a half-open [start,end) slice of the original content.
type span struct {
	start int
	end   int
}

// Chunk splits one message. Content within both the token and character
// limits passes through as a single chunk.
func (c *MessageChunker) Chunk(msg Message, cfg ChunkerConfig) ([]MessageChunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	content := msg.Content
	tokens := c.counter.Estimate(content)
	if tokens <= cfg.MaxChunkTokens && len(content) <= cfg.MaxChunkChars {
		chunk := c.buildChunk(msg, span{0, len(content)}, 0)
		chunk.TotalChunks = 1
		c.recordStats(1, true, false, []MessageChunk{chunk})
		return []MessageChunk{chunk}, nil
	}

	var spans []span
	switch cfg.Strategy {
	case ChunkStrategyFixedToken:
		spans = c.fixedTokenSpans(content, cfg)
	case ChunkStrategyFixedChar:
		spans = fixedCharSpans(content, cfg.MaxChunkChars)
	case ChunkStrategyWordBoundary:
		spans = wordBoundarySpans(content, cfg.MaxChunkChars)
	case ChunkStrategySentenceBoundary:
		spans = boundarySpans(content, sentenceBoundaryRe, cfg.MaxChunkChars)
	case ChunkStrategyParagraphBoundary:
		spans = boundarySpans(content, paragraphBoundaryRe, cfg.MaxChunkChars)
	case ChunkStrategyDelimiter:
		spans = delimiterSpans(content, cfg.Delimiters, cfg.MaxChunkChars)
	case ChunkStrategySlidingWindow:
		spans = slidingWindowSpans(content, cfg)
	}

	truncated := false
	if len(spans) > cfg.MaxChunksPerMessage {
		c.logger.Warn().
			Str("messageID", msg.ID).
			Int("produced", len(spans)).
			Int("ceiling", cfg.MaxChunksPerMessage).
			Msg("Chunk count ceiling exceeded, truncating")
		spans = spans[:cfg.MaxChunksPerMessage]
		truncated = true
	}

	// First pass: build chunks, dropping whitespace-only spans. Second pass:
	// stamp the final count onto every chunk once the split is complete.
	chunks := make([]MessageChunk, 0, len(spans))
	for _, sp := range spans {
		if strings.TrimSpace(content[sp.start:sp.end]) == "" {
			continue
		}
		chunks = append(chunks, c.buildChunk(msg, sp, len(chunks)))
	}
	for i := range chunks {
		chunks[i].TotalChunks = len(chunks)
	}

	c.recordStats(1, false, truncated, chunks)
	return chunks, nil
}

// ChunkBatch splits every message and returns the flattened chunks.
func (c *MessageChunker) ChunkBatch(msgs []Message, cfg ChunkerConfig) ([]MessageChunk, error) {
	var out []MessageChunk
	for _, msg := range msgs {
		chunks, err := c.Chunk(msg, cfg)
		if err != nil {
			return nil, fmt.Errorf("chunk message %s: %w", msg.ID, err)
		}
		out = append(out, chunks...)
	}
	return out, nil
}

// Stats returns a snapshot of the accumulated statistics.
func (c *MessageChunker) Stats() ChunkerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	dist := make(map[string]int64, len(c.sizeBuckets))
	for k, v := range c.sizeBuckets {
		dist[k] = v
	}
	return ChunkerStats{
		MessagesProcessed:   c.messagesProcessed,
		ChunksCreated:       c.chunksCreated,
		SingleChunkMessages: c.singleChunkMessages,
		TruncatedMessages:   c.truncatedMessages,
		SizeDistribution:    dist,
	}
}

// ResetStats zeroes the accumulated statistics.
func (c *MessageChunker) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messagesProcessed = 0
	c.chunksCreated = 0
	c.singleChunkMessages = 0
	c.truncatedMessages = 0
	c.sizeBuckets = make(map[string]int64)
}

func (c *MessageChunker) buildChunk(msg Message, sp span, index int) MessageChunk {
	content := strings.TrimSpace(msg.Content[sp.start:sp.end])
	meta := map[string]interface{}{"role": string(msg.Role)}
	for k, v := range msg.Metadata {
		meta[k] = v
	}
	return MessageChunk{
		ID:              fmt.Sprintf("%s#%d", msg.ID, index),
		Content:         content,
		ParentMessageID: msg.ID,
		ChunkIndex:      index,
		StartPosition:   sp.start,
		EndPosition:     sp.end,
		EstimatedTokens: c.counter.Estimate(content),
		Metadata:        meta,
	}
}

func (c *MessageChunker) recordStats(messages int64, single, truncated bool, chunks []MessageChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messagesProcessed += messages
	c.chunksCreated += int64(len(chunks))
	if single {
		c.singleChunkMessages++
	}
	if truncated {
		c.truncatedMessages++
	}
	for _, chunk := range chunks {
		c.sizeBuckets[sizeBucket(len(chunk.Content))]++
	}
}

func sizeBucket(n int) string {
	switch {
	case n <= 256:
		return "<=256"
	case n <= 512:
		return "<=512"
	case n <= 1024:
		return "<=1024"
	default:
		return ">1024"
	}
}

// fixedTokenSpans binary-searches the longest prefix whose estimated token
// count fits the limit, then advances. Cut points optionally snap to the
// nearest word boundary: backward first, forward if backward reaches the
// segment start.
func (c *MessageChunker) fixedTokenSpans(content string, cfg ChunkerConfig) []span {
	var spans []span
	pos := 0
	for pos < len(content) {
		lo, hi := pos+1, len(content)
		end := hi
		for lo <= hi {
			mid := (lo + hi) / 2
			if c.counter.Estimate(content[pos:mid]) <= cfg.MaxChunkTokens {
				end = mid
				lo = mid + 1
			} else {
				hi = mid - 1
			}
		}
		if end <= pos {
			end = pos + 1
		}
		if end < len(content) && cfg.SnapToWordBoundary {
			end = snapToWordBoundary(content, pos, end)
		}
		spans = append(spans, span{pos, end})
		pos = end
	}
	return spans
}

// snapToWordBoundary moves end to the nearest whitespace: backward scan
// first, forward if the backward scan hits the segment start.
func snapToWordBoundary(content string, start, end int) int {
	for i := end; i > start; i-- {
		if content[i-1] == ' ' || content[i-1] == '\n' || content[i-1] == '\t' {
			return i
		}
	}
	for i := end; i < len(content); i++ {
		if content[i] == ' ' || content[i] == '\n' || content[i] == '\t' {
			return i + 1
		}
	}
	return len(content)
}

func fixedCharSpans(content string, maxChars int) []span {
	var spans []span
	for pos := 0; pos < len(content); pos += maxChars {
		end := pos + maxChars
		if end > len(content) {
			end = len(content)
		}
		spans = append(spans, span{pos, end})
	}
	return spans
}

// wordBoundarySpans cuts at the last whitespace before the character limit,
// falling back to a hard cut for unbroken runs.
func wordBoundarySpans(content string, maxChars int) []span {
	var spans []span
	pos := 0
	for pos < len(content) {
		end := pos + maxChars
		if end >= len(content) {
			spans = append(spans, span{pos, len(content)})
			break
		}
		cut := end
		for cut > pos && content[cut-1] != ' ' && content[cut-1] != '\n' && content[cut-1] != '\t' {
			cut--
		}
		if cut == pos {
			cut = end
		}
		spans = append(spans, span{pos, cut})
		pos = cut
	}
	return spans
}

// boundarySpans splits content at regexp boundary matches (sentence or
// paragraph separators), then packs consecutive segments under the character
// limit. An oversized single segment falls back to word-boundary splitting.
func boundarySpans(content string, re *regexp.Regexp, maxChars int) []span {
	matches := re.FindAllStringIndex(content, -1)
	var segments []span
	pos := 0
	for _, m := range matches {
		segments = append(segments, span{pos, m[1]})
		pos = m[1]
	}
	if pos < len(content) {
		segments = append(segments, span{pos, len(content)})
	}
	return packSegments(content, segments, maxChars)
}

// delimiterSpans splits content on the earliest occurrence of any delimiter,
// keeping the delimiter with the preceding segment, then packs under the
// character limit.
func delimiterSpans(content string, delimiters []string, maxChars int) []span {
	var segments []span
	pos := 0
	for pos < len(content) {
		next := -1
		nextLen := 0
		for _, d := range delimiters {
			if d == "" {
				continue
			}
			if idx := strings.Index(content[pos:], d); idx >= 0 {
				if next == -1 || pos+idx < next {
					next = pos + idx
					nextLen = len(d)
				}
			}
		}
		if next == -1 {
			segments = append(segments, span{pos, len(content)})
			break
		}
		segments = append(segments, span{pos, next + nextLen})
		pos = next + nextLen
	}
	return packSegments(content, segments, maxChars)
}

// packSegments greedily merges consecutive segments while they fit maxChars.
// A single segment over the limit is word-boundary split in place.
func packSegments(content string, segments []span, maxChars int) []span {
	var spans []span
	var cur *span
	flush := func() {
		if cur != nil {
			spans = append(spans, *cur)
			cur = nil
		}
	}
	for _, seg := range segments {
		if seg.end-seg.start > maxChars {
			flush()
			for _, sub := range wordBoundarySpans(content[seg.start:seg.end], maxChars) {
				spans = append(spans, span{seg.start + sub.start, seg.start + sub.end})
			}
			continue
		}
		if cur == nil {
			s := seg
			cur = &s
			continue
		}
		if seg.end-cur.start <= maxChars {
			cur.end = seg.end
		} else {
			flush()
			s := seg
			cur = &s
		}
	}
	flush()
	return spans
}

// slidingWindowSpans emits overlapping windows: step is the window size
// scaled by (1 - overlap), and each window end is aligned back to a word
// boundary.
func slidingWindowSpans(content string, cfg ChunkerConfig) []span {
	step := int(float64(cfg.MaxChunkChars) * (1 - cfg.OverlapRatio))
	if step < 1 {
		step = 1
	}
	var spans []span
	for pos := 0; pos < len(content); pos += step {
		end := pos + cfg.MaxChunkChars
		if end >= len(content) {
			spans = append(spans, span{pos, len(content)})
			break
		}
		aligned := snapToWordBoundary(content, pos, end)
		if aligned > end {
			aligned = end
		}
		spans = append(spans, span{pos, aligned})
	}
	return spans
}
