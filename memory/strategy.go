package memory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// SelectionPolicy chooses which excluded messages are folded into a summary.
type SelectionPolicy string

const (
	// SelectOldestFirst summarizes the oldest fraction of the excluded set,
	// leaving a configured ratio of the most recent excluded messages out.
	SelectOldestFirst SelectionPolicy = "oldest_first"
	// SelectChunked summarizes a fixed-size leading block.
	SelectChunked SelectionPolicy = "chunked"
	// SelectLayered folds any pre-existing summary message together with one
	// block of the oldest excluded messages into a single rolling summary.
	SelectLayered SelectionPolicy = "layered"
)

// ContextStrategy decides, within a token budget, which messages stay
// verbatim and which are excluded (and so become summary candidates).
type ContextStrategy interface {
	Apply(ctx context.Context, messages []Message, tokenBudget int, counter TokenCounter) (StrategyResult, error)
	Name() string
}

// StrategyConfig tunes the recency strategy's summarization selection.
type StrategyConfig struct {
	Policy SelectionPolicy `yaml:"policy"`
	// KeepRatio in [0,1] is the fraction of the most recent excluded
	// messages left out of the summary under the oldest-first policy.
	KeepRatio float64 `yaml:"keep_ratio"`
	// BlockSize is the leading block length for chunked and layered.
	BlockSize int `yaml:"block_size"`
}

// DefaultStrategyConfig returns the baseline selection tuning.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{Policy: SelectOldestFirst, KeepRatio: 0.25, BlockSize: 10}
}

// Validate checks the selection configuration.
func (c StrategyConfig) Validate() error {
	switch c.Policy {
	case SelectOldestFirst, SelectChunked, SelectLayered:
	default:
		return NewConfigError(fmt.Sprintf("unknown selection policy %q", c.Policy))
	}
	if c.KeepRatio < 0 || c.KeepRatio > 1 {
		return NewConfigError(fmt.Sprintf("keep_ratio must be in [0,1], got %v", c.KeepRatio))
	}
	if c.BlockSize <= 0 {
		return NewConfigError(fmt.Sprintf("block_size must be positive, got %d", c.BlockSize))
	}
	return nil
}

// RecencyStrategy is the default ContextStrategy: newest messages are kept
// verbatim while they fit the budget, everything older is excluded and, when
// a summarizer is configured, compressed per the selection policy.
type RecencyStrategy struct {
	summarizer Summarizer
	config     StrategyConfig
	logger     zerolog.Logger
}

// NewRecencyStrategy creates the default strategy. A nil summarizer disables
// summary generation; the partition behavior is unchanged.
func NewRecencyStrategy(summarizer Summarizer, cfg StrategyConfig, logger zerolog.Logger) (*RecencyStrategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RecencyStrategy{
		summarizer: summarizer,
		config:     cfg,
		logger:     logger.With().Str("component", "recencyStrategy").Logger(),
	}, nil
}

// Name identifies the strategy in result metadata.
func (s *RecencyStrategy) Name() string {
	return "recency/" + string(s.config.Policy)
}

// Apply partitions messages: Included and Excluded are disjoint and their
// union is the input. At most one summary is produced per call. A summarizer
// failure is surfaced alongside the partition so the caller can degrade
// instead of dropping the turn.
func (s *RecencyStrategy) Apply(ctx context.Context, messages []Message, tokenBudget int, counter TokenCounter) (StrategyResult, error) {
	result := StrategyResult{Name: s.Name()}
	if len(messages) == 0 {
		return result, nil
	}

	// Walk newest to oldest, admitting messages while the budget holds, then
	// restore chronological order.
	total := 0
	cut := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost := counter.Estimate(messages[i].Content)
		if total+cost > tokenBudget {
			break
		}
		total += cost
		cut = i
	}
	result.Included = append([]Message(nil), messages[cut:]...)
	result.Excluded = append([]Message(nil), messages[:cut]...)

	s.logger.Debug().
		Int("messages", len(messages)).
		Int("included", len(result.Included)).
		Int("excluded", len(result.Excluded)).
		Int("budget", tokenBudget).
		Msg("Partitioned messages")

	if s.summarizer == nil || len(result.Excluded) == 0 {
		return result, nil
	}

	selection := s.selectForSummary(result.Excluded)
	if len(selection) == 0 {
		return result, nil
	}

	info, err := s.summarizer.Summarize(ctx, selection, counter)
	if err != nil {
		return result, NewSummarizationError(
			fmt.Sprintf("summarize %d excluded messages", len(selection)), err)
	}
	if !info.Empty() {
		result.Summaries = append(result.Summaries, info)
	}
	return result, nil
}

// selectForSummary picks the excluded messages to compress, per policy.
func (s *RecencyStrategy) selectForSummary(excluded []Message) []Message {
	switch s.config.Policy {
	case SelectOldestFirst:
		keep := int(float64(len(excluded)) * s.config.KeepRatio)
		return excluded[:len(excluded)-keep]
	case SelectChunked:
		n := s.config.BlockSize
		if n > len(excluded) {
			n = len(excluded)
		}
		return excluded[:n]
	case SelectLayered:
		prior := lo.Filter(excluded, func(m Message, _ int) bool { return m.Role == RoleSummary })
		fresh := lo.Filter(excluded, func(m Message, _ int) bool { return m.Role != RoleSummary })
		n := s.config.BlockSize
		if n > len(fresh) {
			n = len(fresh)
		}
		return append(prior, fresh[:n]...)
	}
	return nil
}
