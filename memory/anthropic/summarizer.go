package anthropic

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/promptmem/promptmem/memory"
)

const systemPrompt = `You summarize the older portion of a conversation so the dialogue can continue within a bounded context window.

Your goals:
- Preserve decisions, conclusions, stated preferences, and important facts.
- Drop filler, greetings, and transient details.
- Write in third person, not as the user or assistant.
- Be concise but specific.
- Do NOT mention that you are summarizing; just state the distilled content.`

// Summarizer implements memory.Summarizer using Claude via the Messages API.
type Summarizer struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    zerolog.Logger
}

// NewSummarizer creates a model-backed summarizer.
func NewSummarizer(apiKey string, model anthropic.Model, maxTokens int64, logger zerolog.Logger) (*Summarizer, error) {
	if apiKey == "" {
		return nil, memory.NewConfigError("anthropic api key is required")
	}
	if model == "" {
		return nil, memory.NewConfigError("anthropic model is required")
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Summarizer{
		client:    &client,
		model:     model,
		maxTokens: maxTokens,
		logger:    logger.With().Str("component", "anthropicSummarizer").Logger(),
	}, nil
}

// Summarize compresses messages into one summary. An empty input returns an
// empty SummaryInfo without calling the API.
func (s *Summarizer) Summarize(ctx context.Context, messages []memory.Message, counter memory.TokenCounter) (memory.SummaryInfo, error) {
	if len(messages) == 0 {
		return memory.SummaryInfo{ChunkID: uuid.NewString()}, nil
	}

	transcript := memory.BuildTranscript(messages)
	tokensBefore := counter.Estimate(transcript)

	userPrompt := fmt.Sprintf(`Summarize the following conversation excerpt. Produce a compact summary of the facts, decisions, and open threads the ongoing conversation will need.

Conversation:
%s`, transcript)

	params := anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}

	message, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return memory.SummaryInfo{}, memory.NewSummarizationError(
			fmt.Sprintf("summarize %d messages", len(messages)), err)
	}

	var b strings.Builder
	for _, blockUnion := range message.Content {
		if block, ok := blockUnion.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(block.Text)
		}
	}
	summary := strings.TrimSpace(b.String())
	if summary == "" {
		return memory.SummaryInfo{}, memory.NewSummarizationError("empty summary in model response", nil)
	}

	info := memory.SummaryInfo{
		ChunkID:      uuid.NewString(),
		Summary:      summary,
		TokensBefore: tokensBefore,
		TokensAfter:  counter.Estimate(summary),
	}
	s.logger.Debug().
		Int("messages", len(messages)).
		Int("tokensBefore", info.TokensBefore).
		Int("tokensAfter", info.TokensAfter).
		Int64("inputTokens", message.Usage.InputTokens).
		Int64("outputTokens", message.Usage.OutputTokens).
		Msg("Summarized messages")
	return info, nil
}
