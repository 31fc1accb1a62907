package memory

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Summarizer reduces a list of messages to one SummaryInfo. Implementations
// must handle an empty input without failing. Model-backed summarizers are
// pluggable; the engine ships a deterministic baseline.
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message, counter TokenCounter) (SummaryInfo, error)
}

// TruncationSummarizer is the deterministic baseline: it joins the message
// contents into a transcript and truncates it to a target length at a word
// boundary. No model call, so it never rate-limits and always returns the
// same output for the same input.
type TruncationSummarizer struct {
	// MaxChars bounds the summary length. Zero or negative falls back to 512.
	MaxChars int

	logger zerolog.Logger
}

// NewTruncationSummarizer returns the baseline summarizer.
func NewTruncationSummarizer(maxChars int, logger zerolog.Logger) *TruncationSummarizer {
	if maxChars <= 0 {
		maxChars = 512
	}
	return &TruncationSummarizer{
		MaxChars: maxChars,
		logger:   logger.With().Str("component", "truncationSummarizer").Logger(),
	}
}

// Summarize joins and truncates. An empty input yields an empty SummaryInfo.
func (s *TruncationSummarizer) Summarize(ctx context.Context, messages []Message, counter TokenCounter) (SummaryInfo, error) {
	if len(messages) == 0 {
		return SummaryInfo{ChunkID: uuid.NewString()}, nil
	}

	transcript := BuildTranscript(messages)
	tokensBefore := counter.Estimate(transcript)

	summary := transcript
	if len(summary) > s.MaxChars {
		cut := s.MaxChars
		for cut > 0 && summary[cut-1] != ' ' && summary[cut-1] != '\n' {
			cut--
		}
		if cut == 0 {
			cut = s.MaxChars
		}
		summary = strings.TrimSpace(summary[:cut]) + "…"
	}

	info := SummaryInfo{
		ChunkID:      uuid.NewString(),
		Summary:      summary,
		TokensBefore: tokensBefore,
		TokensAfter:  counter.Estimate(summary),
	}
	s.logger.Debug().
		Int("messages", len(messages)).
		Int("tokensBefore", info.TokensBefore).
		Int("tokensAfter", info.TokensAfter).
		Msg("Summarized messages by truncation")
	return info, nil
}

// BuildTranscript renders messages as a role-prefixed transcript, the input
// format shared by all summarizers.
func BuildTranscript(messages []Message) string {
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			b.WriteString("User: ")
		case RoleAssistant:
			b.WriteString("Assistant: ")
		case RoleSystem:
			b.WriteString("System: ")
		case RoleSummary:
			b.WriteString("Earlier summary: ")
		}
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
