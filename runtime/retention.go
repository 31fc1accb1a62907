// Package runtime hosts background maintenance for the memory engine.
package runtime

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/promptmem/promptmem/memory"
)

// Pruner deletes messages older than a cutoff and reports their ids.
// persistence backends implement it when they support retention.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// RetentionConfig tunes the sweeper.
type RetentionConfig struct {
	// Schedule is a cron expression; defaults to hourly.
	Schedule string `yaml:"schedule"`
	// MaxAge is how long messages are retained.
	MaxAge time.Duration `yaml:"max_age"`
	// SweepTimeout bounds one sweep run.
	SweepTimeout time.Duration `yaml:"sweep_timeout"`
}

// DefaultRetentionConfig keeps thirty days of history, swept hourly.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Schedule:     "@hourly",
		MaxAge:       30 * 24 * time.Hour,
		SweepTimeout: 5 * time.Minute,
	}
}

// RetentionSweeper periodically prunes expired messages from persistence and
// removes their vectors so search cannot resurface deleted content.
type RetentionSweeper struct {
	pruner  Pruner
	vectors memory.VectorStore // optional; nil skips vector cleanup
	config  RetentionConfig
	cron    *cron.Cron
	logger  zerolog.Logger
}

// NewRetentionSweeper creates the sweeper. vectors may be nil when no vector
// store is in use.
func NewRetentionSweeper(pruner Pruner, vectors memory.VectorStore, cfg RetentionConfig, logger zerolog.Logger) (*RetentionSweeper, error) {
	if pruner == nil {
		return nil, memory.NewConfigError("pruner is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@hourly"
	}
	if cfg.MaxAge <= 0 {
		return nil, memory.NewConfigError("max_age must be positive")
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 5 * time.Minute
	}
	return &RetentionSweeper{
		pruner:  pruner,
		vectors: vectors,
		config:  cfg,
		logger:  logger.With().Str("component", "retentionSweeper").Logger(),
	}, nil
}

// Start schedules sweeps and runs one immediately.
func (s *RetentionSweeper) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.config.Schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return memory.NewConfigError("invalid retention schedule " + s.config.Schedule)
	}
	s.logger.Info().
		Str("schedule", s.config.Schedule).
		Dur("maxAge", s.config.MaxAge).
		Msg("Starting retention sweeper")
	s.Sweep(context.Background())
	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *RetentionSweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Retention sweeper stopped")
}

// Sweep prunes everything older than MaxAge. Failures are logged, not raised:
// the next scheduled run retries.
func (s *RetentionSweeper) Sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.config.SweepTimeout)
	defer cancel()

	cutoff := time.Now().Add(-s.config.MaxAge)
	ids, err := s.pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to prune expired messages")
		return
	}
	if len(ids) == 0 {
		return
	}

	if s.vectors != nil {
		if err := s.dropVectors(ctx, ids); err != nil {
			s.logger.Error().Err(err).Int("messages", len(ids)).Msg("Failed to drop vectors for pruned messages")
			return
		}
	}
	s.logger.Info().Int("messages", len(ids)).Time("cutoff", cutoff).Msg("Retention sweep completed")
}

// dropVectors removes every vector entry derived from the pruned messages,
// including per-chunk entries.
func (s *RetentionSweeper) dropVectors(ctx context.Context, messageIDs []string) error {
	pruned := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		pruned[id] = true
	}
	entries, err := s.vectors.GetAll(ctx)
	if err != nil {
		return err
	}
	var victims []string
	for _, entry := range entries {
		parent := entry.ID
		if v, ok := entry.Metadata["parent_message_id"].(string); ok && v != "" {
			parent = v
		} else if i := strings.IndexByte(entry.ID, '#'); i > 0 {
			parent = entry.ID[:i]
		}
		if pruned[parent] {
			victims = append(victims, entry.ID)
		}
	}
	if len(victims) == 0 {
		return nil
	}
	return s.vectors.DeleteBatch(ctx, victims)
}
