package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// EmbeddingInfo is one successfully embedded item.
type EmbeddingInfo struct {
	ID        string
	Content   string
	Vector    []float32
	Quality   float64
	FromCache bool
	Retries   int
}

// EmbeddingFailure is one item that could not be embedded, with the terminal
// error and how many retries were spent on it.
type EmbeddingFailure struct {
	ID      string
	Content string
	Err     error
	Retries int
}

// PipelineStats is a snapshot of the pipeline's cumulative counters.
type PipelineStats struct {
	TotalItems      int64
	SuccessfulItems int64
	FailedItems     int64
	TotalRetries    int64
	CacheHits       int64
	CacheMisses     int64
	CacheHitRate    float64
	PeakBatchSize   int
	AvgItemDuration time.Duration
}

// EmbeddingResult is the outcome of one ProcessChunks/ProcessMessages call.
type EmbeddingResult struct {
	Embeddings []EmbeddingInfo
	Failures   []EmbeddingFailure
	Stats      PipelineStats
	Metadata   map[string]interface{}
}

// IsSuccess reports whether every item embedded.
func (r EmbeddingResult) IsSuccess() bool { return len(r.Failures) == 0 }

// SuccessRate is the fraction of items that embedded successfully.
func (r EmbeddingResult) SuccessRate() float64 {
	total := len(r.Embeddings) + len(r.Failures)
	if total == 0 {
		return 1
	}
	return float64(len(r.Embeddings)) / float64(total)
}

// workItem is the pipeline's internal unit of work.
type workItem struct {
	id      string
	content string
}

// EmbeddingPipeline wraps an EmbeddingService with caching, rate limiting,
// circuit breaking, retries, batching, and quality gating. All shared state
// (breaker, limiter, cache, counters) is instance-scoped and safe for
// concurrent use across requests.
type EmbeddingPipeline struct {
	service EmbeddingService
	config  PipelineConfig
	breaker *CircuitBreaker
	limiter *slidingWindowLimiter
	cache   *embeddingCache
	logger  zerolog.Logger

	mu            sync.Mutex
	totalItems    int64
	successful    int64
	failed        int64
	totalRetries  int64
	peakBatchSize int
	totalDuration time.Duration
}

// NewEmbeddingPipeline creates a pipeline around service. The configuration
// is validated eagerly.
func NewEmbeddingPipeline(service EmbeddingService, cfg PipelineConfig, logger zerolog.Logger) (*EmbeddingPipeline, error) {
	if service == nil {
		return nil, NewConfigError("embedding service is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cache, err := newEmbeddingCache(cfg.CacheCapacity, cfg.CacheTTL)
	if err != nil {
		return nil, err
	}
	log := logger.With().Str("component", "embeddingPipeline").Logger()
	return &EmbeddingPipeline{
		service: service,
		config:  cfg,
		breaker: NewCircuitBreaker(cfg.MaxFailures, cfg.BreakerTimeout, cfg.MaxHalfOpenAttempts, log),
		limiter: newSlidingWindowLimiter(cfg.RequestsPerSecond, time.Second),
		cache:   cache,
		logger:  log,
	}, nil
}

// Breaker exposes the pipeline's circuit breaker state for observability.
func (p *EmbeddingPipeline) Breaker() BreakerState { return p.breaker.State() }

// ProcessMessages embeds raw texts. Item ids are positional.
func (p *EmbeddingPipeline) ProcessMessages(ctx context.Context, texts []string) EmbeddingResult {
	items := make([]workItem, len(texts))
	for i, t := range texts {
		items[i] = workItem{id: fmt.Sprintf("text-%d", i), content: t}
	}
	return p.process(ctx, items)
}

// ProcessChunks embeds message chunks, keyed by chunk id.
func (p *EmbeddingPipeline) ProcessChunks(ctx context.Context, chunks []MessageChunk) EmbeddingResult {
	items := make([]workItem, len(chunks))
	for i, c := range chunks {
		items[i] = workItem{id: c.ID, content: c.Content}
	}
	return p.process(ctx, items)
}

func (p *EmbeddingPipeline) process(ctx context.Context, items []workItem) EmbeddingResult {
	start := time.Now()
	var infos []EmbeddingInfo
	var failures []EmbeddingFailure

	switch p.config.Mode {
	case ModeSequential:
		for _, item := range items {
			i, f := p.processBatch(ctx, []workItem{item})
			infos = append(infos, i...)
			failures = append(failures, f...)
		}
	case ModeParallel:
		batches := splitBatches(items, p.config.MaxBatchSize)
		type batchOut struct {
			infos    []EmbeddingInfo
			failures []EmbeddingFailure
		}
		outs := make([]batchOut, len(batches))
		var wg sync.WaitGroup
		for bi, batch := range batches {
			wg.Add(1)
			go func(bi int, batch []workItem) {
				defer wg.Done()
				i, f := p.processBatch(ctx, batch)
				outs[bi] = batchOut{infos: i, failures: f}
			}(bi, batch)
		}
		wg.Wait()
		for _, out := range outs {
			infos = append(infos, out.infos...)
			failures = append(failures, out.failures...)
		}
	case ModeAdaptive:
		size := p.config.MinBatchSize
		for pos := 0; pos < len(items); {
			end := pos + size
			if end > len(items) {
				end = len(items)
			}
			batchStart := time.Now()
			i, f := p.processBatch(ctx, items[pos:end])
			infos = append(infos, i...)
			failures = append(failures, f...)
			size = nextBatchSize(size, time.Since(batchStart), p.config)
			pos = end
		}
	}

	elapsed := time.Since(start)
	retries := int64(0)
	for _, i := range infos {
		retries += int64(i.Retries)
	}
	for _, f := range failures {
		retries += int64(f.Retries)
	}

	p.mu.Lock()
	p.totalItems += int64(len(items))
	p.successful += int64(len(infos))
	p.failed += int64(len(failures))
	p.totalRetries += retries
	p.totalDuration += elapsed
	p.mu.Unlock()

	result := EmbeddingResult{
		Embeddings: infos,
		Failures:   failures,
		Stats:      p.Stats(),
		Metadata: map[string]interface{}{
			"mode":        string(p.config.Mode),
			"duration_ms": elapsed.Milliseconds(),
			"items":       len(items),
		},
	}
	if len(failures) > 0 {
		p.logger.Warn().
			Int("items", len(items)).
			Int("failures", len(failures)).
			Dur("elapsed", elapsed).
			Msg("Embedding run completed with failures")
	} else {
		p.logger.Debug().
			Int("items", len(items)).
			Dur("elapsed", elapsed).
			Msg("Embedding run completed")
	}
	return result
}

// processBatch runs cache lookup, rate limiting, breaker check, the service
// call with retries, post-processing, and the cache write for one batch. A
// failed batch call degrades to per-item failures, never a silent drop.
func (p *EmbeddingPipeline) processBatch(ctx context.Context, batch []workItem) ([]EmbeddingInfo, []EmbeddingFailure) {
	p.mu.Lock()
	if len(batch) > p.peakBatchSize {
		p.peakBatchSize = len(batch)
	}
	p.mu.Unlock()

	var infos []EmbeddingInfo
	var failures []EmbeddingFailure

	var pending []workItem
	for _, item := range batch {
		if cached, ok := p.cache.Get(item.content); ok {
			infos = append(infos, EmbeddingInfo{
				ID:        item.id,
				Content:   item.content,
				Vector:    cached.Vector,
				Quality:   cached.Quality,
				FromCache: true,
			})
			continue
		}
		pending = append(pending, item)
	}
	if len(pending) == 0 {
		return infos, failures
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return infos, failAll(pending, err, 0)
	}
	if err := p.breaker.Allow(); err != nil {
		p.logger.Warn().Int("items", len(pending)).Msg("Embedding call rejected by circuit breaker")
		return infos, failAll(pending, err, 0)
	}

	vectors, retries, err := p.callWithRetry(ctx, pending)
	if err != nil {
		p.breaker.RecordFailure()
		p.logger.Error().Err(err).
			Int("items", len(pending)).
			Int("retries", retries).
			Msg("Embedding call failed after retries")
		return infos, failAll(pending, err, retries)
	}
	p.breaker.RecordSuccess()

	for i, item := range pending {
		vec, quality, perr := p.postProcess(vectors[i])
		if perr != nil {
			p.logger.Warn().Err(perr).Str("itemID", item.id).Msg("Embedding rejected in post-processing")
			failures = append(failures, EmbeddingFailure{ID: item.id, Content: item.content, Err: perr, Retries: retries})
			continue
		}
		p.cache.Set(item.content, vec, quality)
		infos = append(infos, EmbeddingInfo{
			ID:      item.id,
			Content: item.content,
			Vector:  vec,
			Quality: quality,
			Retries: retries,
		})
	}
	return infos, failures
}

// callWithRetry invokes the service for the pending items, retrying per the
// configured strategy. Embedding-service errors are terminal and are not
// retried like generic faults. Returns the vectors, the retry count spent,
// and the terminal error if retries were exhausted.
func (p *EmbeddingPipeline) callWithRetry(ctx context.Context, pending []workItem) ([][]float32, int, error) {
	texts := make([]string, len(pending))
	for i, item := range pending {
		texts[i] = item.content
	}

	var vectors [][]float32
	attempts := 0

	op := func() error {
		attempts++
		var err error
		if len(texts) == 1 {
			var vec []float32
			vec, err = p.service.Embed(ctx, texts[0])
			if err == nil {
				vectors = [][]float32{vec}
			}
		} else {
			vectors, err = p.service.EmbedBatch(ctx, texts)
		}
		if err != nil {
			if IsEmbeddingServiceError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(vectors) != len(texts) {
			return backoff.Permanent(NewEmbeddingServiceError(
				fmt.Sprintf("service returned %d vectors for %d inputs", len(vectors), len(texts)), nil))
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newStrategyBackOff(p.config), uint64(p.config.MaxRetries)),
		ctx,
	)
	err := backoff.Retry(op, policy)
	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}
	if err != nil {
		return nil, retries, err
	}
	return vectors, retries, nil
}

// postProcess validates, optionally normalizes, and quality-gates one vector.
func (p *EmbeddingPipeline) postProcess(vec []float32) ([]float32, float64, error) {
	if p.config.ValidateVectors {
		if err := ValidateVector(vec, p.service.Dimensions()); err != nil {
			return nil, 0, err
		}
	}
	if p.config.NormalizeVectors {
		vec = NormalizeVector(vec)
	}
	quality := QualityScore(vec)
	if quality < p.config.QualityThreshold {
		return nil, 0, NewQualityError(
			fmt.Sprintf("quality score %.3f below threshold %.3f", quality, p.config.QualityThreshold))
	}
	return vec, quality, nil
}

// Stats returns a snapshot of the cumulative counters.
func (p *EmbeddingPipeline) Stats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	hits, misses := p.cache.Hits(), p.cache.Misses()
	stats := PipelineStats{
		TotalItems:      p.totalItems,
		SuccessfulItems: p.successful,
		FailedItems:     p.failed,
		TotalRetries:    p.totalRetries,
		CacheHits:       hits,
		CacheMisses:     misses,
		PeakBatchSize:   p.peakBatchSize,
	}
	if hits+misses > 0 {
		stats.CacheHitRate = float64(hits) / float64(hits+misses)
	}
	if p.totalItems > 0 {
		stats.AvgItemDuration = p.totalDuration / time.Duration(p.totalItems)
	}
	return stats
}

// ResetStats zeroes the cumulative counters, including cache hit counters.
func (p *EmbeddingPipeline) ResetStats() {
	p.mu.Lock()
	p.totalItems = 0
	p.successful = 0
	p.failed = 0
	p.totalRetries = 0
	p.peakBatchSize = 0
	p.totalDuration = 0
	p.mu.Unlock()
	p.cache.ResetCounters()
}

// Close releases pipeline resources.
func (p *EmbeddingPipeline) Close() {
	p.cache.Close()
}

// waitCache flushes pending cache writes. Test hook.
func (p *EmbeddingPipeline) waitCache() { p.cache.Wait() }

func failAll(items []workItem, err error, retries int) []EmbeddingFailure {
	failures := make([]EmbeddingFailure, len(items))
	for i, item := range items {
		failures[i] = EmbeddingFailure{ID: item.id, Content: item.content, Err: err, Retries: retries}
	}
	return failures
}

func splitBatches(items []workItem, size int) [][]workItem {
	if size <= 0 {
		size = 1
	}
	var batches [][]workItem
	for pos := 0; pos < len(items); pos += size {
		end := pos + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[pos:end])
	}
	return batches
}

// nextBatchSize tunes the adaptive batch size: double after a fast batch
// (<1s), halve after a slow one (>5s), clamped to the configured bounds.
// Pure function so the control loop is testable without I/O.
func nextBatchSize(current int, lastDuration time.Duration, cfg PipelineConfig) int {
	next := current
	switch {
	case lastDuration < time.Second:
		next = current * 2
	case lastDuration > 5*time.Second:
		next = current / 2
	}
	if next < cfg.MinBatchSize {
		next = cfg.MinBatchSize
	}
	if next > cfg.MaxBatchSize {
		next = cfg.MaxBatchSize
	}
	return next
}

// strategyBackOff adapts the configured retry strategy to the backoff
// library: immediate, linear (base x attempt), or exponential
// (base x 2^(attempt-1)), capped at the max delay and optionally jittered by
// up to 30%.
type strategyBackOff struct {
	strategy RetryStrategy
	base     time.Duration
	max      time.Duration
	jitter   bool
	attempt  int
}

func newStrategyBackOff(cfg PipelineConfig) *strategyBackOff {
	return &strategyBackOff{
		strategy: cfg.RetryStrategy,
		base:     cfg.RetryBaseDelay,
		max:      cfg.RetryMaxDelay,
		jitter:   cfg.RetryJitter,
	}
}

// NextBackOff implements backoff.BackOff.
func (b *strategyBackOff) NextBackOff() time.Duration {
	b.attempt++
	var d time.Duration
	switch b.strategy {
	case RetryImmediate:
		d = 0
	case RetryLinear:
		d = b.base * time.Duration(b.attempt)
	case RetryExponential:
		d = b.base
		for i := 1; i < b.attempt; i++ {
			d *= 2
			if b.max > 0 && d >= b.max {
				break
			}
		}
	}
	if b.max > 0 && d > b.max {
		d = b.max
	}
	if b.jitter && d > 0 {
		d += time.Duration(rand.Int63n(int64(d)*3/10 + 1)) //nolint:gosec // jitter does not need crypto randomness
	}
	return d
}

// Reset implements backoff.BackOff.
func (b *strategyBackOff) Reset() { b.attempt = 0 }
