package memory

import (
	"strings"
	"testing"
)

func chunkCfg(strategy ChunkStrategy, maxTokens, maxChars int) ChunkerConfig {
	cfg := DefaultChunkerConfig()
	cfg.Strategy = strategy
	cfg.MaxChunkTokens = maxTokens
	cfg.MaxChunkChars = maxChars
	return cfg
}

// assertChunkInvariants checks the properties every strategy must hold:
// contiguous zero-based indices, a consistent total, the parent id on every
// chunk, and no empty chunks.
func assertChunkInvariants(t *testing.T, msg Message, chunks []MessageChunk) {
	t.Helper()
	for i, ch := range chunks {
		if ch.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, ch.ChunkIndex)
		}
		if ch.TotalChunks != len(chunks) {
			t.Errorf("chunk %d total = %d, want %d", i, ch.TotalChunks, len(chunks))
		}
		if ch.ParentMessageID != msg.ID {
			t.Errorf("chunk %d parent = %q, want %q", i, ch.ParentMessageID, msg.ID)
		}
		if strings.TrimSpace(ch.Content) == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func TestChunkerSingleChunkFastPath(t *testing.T) {
	c := NewMessageChunker(NewHeuristicTokenCounter(), testLogger())
	msg := NewMessage(RoleUser, "a short message")

	chunks, err := c.Chunk(msg, DefaultChunkerConfig())
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Content != msg.Content {
		t.Errorf("content = %q, want %q", chunks[0].Content, msg.Content)
	}
	if chunks[0].TotalChunks != 1 || chunks[0].ChunkIndex != 0 {
		t.Errorf("index/total = %d/%d, want 0/1", chunks[0].ChunkIndex, chunks[0].TotalChunks)
	}

	stats := c.Stats()
	if stats.SingleChunkMessages != 1 {
		t.Errorf("SingleChunkMessages = %d, want 1", stats.SingleChunkMessages)
	}
}

func TestChunkerFixedToken(t *testing.T) {
	c := NewMessageChunker(NewHeuristicTokenCounter(), testLogger())
	msg := NewMessage(RoleUser, strings.Repeat("alpha beta gamma delta ", 50))

	chunks, err := c.Chunk(msg, chunkCfg(ChunkStrategyFixedToken, 20, 10_000))
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	assertChunkInvariants(t, msg, chunks)

	counter := NewHeuristicTokenCounter()
	for i, ch := range chunks {
		if got := counter.Estimate(ch.Content); got > 20+5 {
			t.Errorf("chunk %d estimate = %d, well over the 20 token limit", i, got)
		}
	}
}

func TestChunkerFixedChar(t *testing.T) {
	c := NewMessageChunker(NewHeuristicTokenCounter(), testLogger())
	msg := NewMessage(RoleUser, strings.Repeat("x", 350))

	chunks, err := c.Chunk(msg, chunkCfg(ChunkStrategyFixedChar, 10_000, 100))
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4", len(chunks))
	}
	assertChunkInvariants(t, msg, chunks)
	for i, ch := range chunks {
		if len(ch.Content) > 100 {
			t.Errorf("chunk %d length = %d, over the 100 char limit", i, len(ch.Content))
		}
	}
}

func TestChunkerWordBoundary(t *testing.T) {
	c := NewMessageChunker(NewHeuristicTokenCounter(), testLogger())
	msg := NewMessage(RoleUser, strings.Repeat("boundary testing words here ", 20))

	chunks, err := c.Chunk(msg, chunkCfg(ChunkStrategyWordBoundary, 10_000, 64))
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	assertChunkInvariants(t, msg, chunks)
	for i, ch := range chunks[:len(chunks)-1] {
		if len(ch.Content) > 64 {
			t.Errorf("chunk %d length = %d, over limit", i, len(ch.Content))
		}
		// A word-boundary cut never splits a word, so every chunk content is a
		// sequence of whole input words.
		for _, w := range strings.Fields(ch.Content) {
			if w != "boundary" && w != "testing" && w != "words" && w != "here" {
				t.Errorf("chunk %d contains split word %q", i, w)
			}
		}
	}
}

func TestChunkerSentenceBoundaryPacksSentences(t *testing.T) {
	c := NewMessageChunker(NewHeuristicTokenCounter(), testLogger())
	content := "First sentence here. Second one follows! Third asks a question? Fourth wraps up. " +
		strings.Repeat("Fifth sentence is much longer and keeps going with more words. ", 4)
	msg := NewMessage(RoleUser, content)

	chunks, err := c.Chunk(msg, chunkCfg(ChunkStrategySentenceBoundary, 10_000, 90))
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	assertChunkInvariants(t, msg, chunks)
	for i, ch := range chunks {
		if len(ch.Content) > 90 {
			t.Errorf("chunk %d length = %d, over limit", i, len(ch.Content))
		}
	}
}

func TestChunkerParagraphBoundary(t *testing.T) {
	c := NewMessageChunker(NewHeuristicTokenCounter(), testLogger())
	content := "First paragraph with several words in it.\n\n" +
		"Second paragraph, also reasonably sized.\n\n" +
		"Third paragraph closes the message out."
	msg := NewMessage(RoleUser, content)

	chunks, err := c.Chunk(msg, chunkCfg(ChunkStrategyParagraphBoundary, 10_000, 60))
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	assertChunkInvariants(t, msg, chunks)
	for i, ch := range chunks {
		if len(ch.Content) > 60 {
			t.Errorf("chunk %d length = %d, over limit", i, len(ch.Content))
		}
		if strings.Contains(ch.Content, "\n\n") {
			t.Errorf("chunk %d spans a paragraph break: %q", i, ch.Content)
		}
	}
}

func TestChunkerDelimiter(t *testing.T) {
	c := NewMessageChunker(NewHeuristicTokenCounter(), testLogger())
	msg := NewMessage(RoleUser, "part one---part two---"+strings.Repeat("p", 120)+"---part four")

	cfg := chunkCfg(ChunkStrategyDelimiter, 10_000, 50)
	cfg.Delimiters = []string{"---"}
	chunks, err := c.Chunk(msg, cfg)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	assertChunkInvariants(t, msg, chunks)
	for i, ch := range chunks {
		if len(ch.Content) > 50 {
			t.Errorf("chunk %d length = %d, over limit", i, len(ch.Content))
		}
	}

	cfg.Delimiters = nil
	if _, err := c.Chunk(msg, cfg); !IsConfigError(err) {
		t.Errorf("delimiter strategy without delimiters: got %v, want config error", err)
	}
}

func TestChunkerSlidingWindowOverlaps(t *testing.T) {
	c := NewMessageChunker(NewHeuristicTokenCounter(), testLogger())
	msg := NewMessage(RoleUser, strings.Repeat("window overlap test data ", 40))

	cfg := chunkCfg(ChunkStrategySlidingWindow, 10_000, 100)
	cfg.OverlapRatio = 0.5
	overlapping, err := c.Chunk(msg, cfg)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}

	cfg.OverlapRatio = 0
	disjoint, err := c.Chunk(msg, cfg)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}

	if len(overlapping) <= len(disjoint) {
		t.Errorf("overlap 0.5 produced %d chunks, disjoint produced %d; overlap should produce more",
			len(overlapping), len(disjoint))
	}
	assertChunkInvariants(t, msg, overlapping)
}

func TestChunkerCeilingTruncates(t *testing.T) {
	c := NewMessageChunker(NewHeuristicTokenCounter(), testLogger())
	msg := NewMessage(RoleUser, strings.Repeat("overflow ", 200))

	cfg := chunkCfg(ChunkStrategyFixedChar, 10_000, 20)
	cfg.MaxChunksPerMessage = 3
	chunks, err := c.Chunk(msg, cfg)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want ceiling of 3", len(chunks))
	}
	assertChunkInvariants(t, msg, chunks)

	if got := c.Stats().TruncatedMessages; got != 1 {
		t.Errorf("TruncatedMessages = %d, want 1", got)
	}
}

func TestChunkerStatsAccumulateAndReset(t *testing.T) {
	c := NewMessageChunker(NewHeuristicTokenCounter(), testLogger())
	msgs := []Message{
		NewMessage(RoleUser, "short"),
		NewMessage(RoleAssistant, strings.Repeat("longer content ", 100)),
	}

	if _, err := c.ChunkBatch(msgs, DefaultChunkerConfig()); err != nil {
		t.Fatalf("chunk batch: %v", err)
	}

	stats := c.Stats()
	if stats.MessagesProcessed != 2 {
		t.Errorf("MessagesProcessed = %d, want 2", stats.MessagesProcessed)
	}
	if stats.ChunksCreated < 3 {
		t.Errorf("ChunksCreated = %d, want at least 3", stats.ChunksCreated)
	}
	if len(stats.SizeDistribution) == 0 {
		t.Error("SizeDistribution is empty")
	}

	c.ResetStats()
	stats = c.Stats()
	if stats.MessagesProcessed != 0 || stats.ChunksCreated != 0 {
		t.Errorf("stats not reset: %+v", stats)
	}
}
