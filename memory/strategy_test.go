package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// fixedCounter charges a flat cost per message regardless of content, which
// makes budget arithmetic in tests exact.
type fixedCounter struct{ perMessage int }

func (c fixedCounter) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return c.perMessage
}

func conversation(n int) []Message {
	base := time.Now().Add(-time.Hour)
	msgs := make([]Message, n)
	for i := range msgs {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msgs[i] = msgAt(role, fmt.Sprintf("message number %d", i), base.Add(time.Duration(i)*time.Minute))
	}
	return msgs
}

func TestRecencyStrategyPartition(t *testing.T) {
	ctx := context.Background()
	s, err := NewRecencyStrategy(nil, DefaultStrategyConfig(), testLogger())
	if err != nil {
		t.Fatalf("new strategy: %v", err)
	}
	msgs := conversation(10)

	// Budget of 30 at 10 tokens per message keeps the newest 3.
	res, err := s.Apply(ctx, msgs, 30, fixedCounter{perMessage: 10})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(res.Included) != 3 || len(res.Excluded) != 7 {
		t.Fatalf("partition = %d included / %d excluded, want 3/7", len(res.Included), len(res.Excluded))
	}
	// Included is the newest suffix in chronological order; the union is the
	// original input.
	for i, msg := range res.Excluded {
		if msg.ID != msgs[i].ID {
			t.Errorf("excluded[%d] = %s, want %s", i, msg.ID, msgs[i].ID)
		}
	}
	for i, msg := range res.Included {
		if msg.ID != msgs[7+i].ID {
			t.Errorf("included[%d] = %s, want %s", i, msg.ID, msgs[7+i].ID)
		}
	}
}

func TestRecencyStrategyAllFit(t *testing.T) {
	ctx := context.Background()
	summarizer := &recordingSummarizer{summary: "unused"}
	s, err := NewRecencyStrategy(summarizer, DefaultStrategyConfig(), testLogger())
	if err != nil {
		t.Fatalf("new strategy: %v", err)
	}

	res, err := s.Apply(ctx, conversation(4), 1000, fixedCounter{perMessage: 10})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(res.Excluded) != 0 || len(res.Included) != 4 {
		t.Errorf("partition = %d/%d, want 4 included, 0 excluded", len(res.Included), len(res.Excluded))
	}
	if summarizer.calls != 0 {
		t.Errorf("summarizer called %d times with nothing excluded", summarizer.calls)
	}
	if len(res.Summaries) != 0 {
		t.Errorf("got %d summaries, want 0", len(res.Summaries))
	}
}

func TestRecencyStrategyOldestFirstSelection(t *testing.T) {
	ctx := context.Background()
	summarizer := &recordingSummarizer{summary: "the early conversation covered setup"}
	cfg := StrategyConfig{Policy: SelectOldestFirst, KeepRatio: 0.25, BlockSize: 10}
	s, err := NewRecencyStrategy(summarizer, cfg, testLogger())
	if err != nil {
		t.Fatalf("new strategy: %v", err)
	}
	msgs := conversation(10)

	// 8 excluded; keep ratio 0.25 leaves the newest 2 excluded out of the
	// summary, so the oldest 6 are summarized.
	res, err := s.Apply(ctx, msgs, 20, fixedCounter{perMessage: 10})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if summarizer.calls != 1 {
		t.Fatalf("summarizer called %d times, want 1", summarizer.calls)
	}
	if len(summarizer.lastInput) != 6 {
		t.Fatalf("summarized %d messages, want 6", len(summarizer.lastInput))
	}
	if summarizer.lastInput[0].ID != msgs[0].ID {
		t.Errorf("summary selection does not start at the oldest message")
	}
	if len(res.Summaries) != 1 || res.Summaries[0].Summary != summarizer.summary {
		t.Errorf("summaries = %+v", res.Summaries)
	}
}

func TestRecencyStrategyChunkedSelection(t *testing.T) {
	ctx := context.Background()
	summarizer := &recordingSummarizer{summary: "block summary"}
	cfg := StrategyConfig{Policy: SelectChunked, KeepRatio: 0.25, BlockSize: 3}
	s, err := NewRecencyStrategy(summarizer, cfg, testLogger())
	if err != nil {
		t.Fatalf("new strategy: %v", err)
	}

	if _, err := s.Apply(ctx, conversation(10), 20, fixedCounter{perMessage: 10}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(summarizer.lastInput) != 3 {
		t.Errorf("chunked selection = %d messages, want block of 3", len(summarizer.lastInput))
	}
}

func TestRecencyStrategyLayeredFoldsPriorSummary(t *testing.T) {
	ctx := context.Background()
	summarizer := &recordingSummarizer{summary: "rolling summary"}
	cfg := StrategyConfig{Policy: SelectLayered, KeepRatio: 0.25, BlockSize: 2}
	s, err := NewRecencyStrategy(summarizer, cfg, testLogger())
	if err != nil {
		t.Fatalf("new strategy: %v", err)
	}

	msgs := conversation(8)
	prior := msgAt(RoleSummary, "earlier: discussed the schema", msgs[0].Timestamp.Add(-time.Minute))
	msgs = append([]Message{prior}, msgs...)

	if _, err := s.Apply(ctx, msgs, 20, fixedCounter{perMessage: 10}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(summarizer.lastInput) != 3 {
		t.Fatalf("layered selection = %d messages, want prior summary + block of 2", len(summarizer.lastInput))
	}
	if summarizer.lastInput[0].Role != RoleSummary {
		t.Errorf("layered selection does not lead with the prior summary")
	}
}

func TestRecencyStrategySummarizerFailureKeepsPartition(t *testing.T) {
	ctx := context.Background()
	summarizer := &recordingSummarizer{err: errors.New("model unavailable")}
	s, err := NewRecencyStrategy(summarizer, DefaultStrategyConfig(), testLogger())
	if err != nil {
		t.Fatalf("new strategy: %v", err)
	}
	msgs := conversation(10)

	res, err := s.Apply(ctx, msgs, 30, fixedCounter{perMessage: 10})
	if !IsSummarizationError(err) {
		t.Fatalf("got %v, want summarization error", err)
	}
	if len(res.Included)+len(res.Excluded) != len(msgs) {
		t.Errorf("partition lost messages: %d+%d != %d", len(res.Included), len(res.Excluded), len(msgs))
	}
	if len(res.Summaries) != 0 {
		t.Errorf("got %d summaries despite failure", len(res.Summaries))
	}
}

func TestStrategyConfigValidate(t *testing.T) {
	bad := []StrategyConfig{
		{Policy: "sideways", KeepRatio: 0.5, BlockSize: 1},
		{Policy: SelectOldestFirst, KeepRatio: -0.1, BlockSize: 1},
		{Policy: SelectOldestFirst, KeepRatio: 1.5, BlockSize: 1},
		{Policy: SelectChunked, KeepRatio: 0.5, BlockSize: 0},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); !IsConfigError(err) {
			t.Errorf("case %d: got %v, want config error", i, err)
		}
	}
	if err := DefaultStrategyConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}
