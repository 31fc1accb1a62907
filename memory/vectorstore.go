package memory

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SearchResult is one vector store hit with its similarity score.
type SearchResult struct {
	Entry      VectorEntry
	Similarity float64
}

// VectorStore persists vectors with metadata and content and answers top-K
// cosine-similarity queries. Store and StoreBatch upsert by id.
type VectorStore interface {
	Store(ctx context.Context, entry VectorEntry) error
	StoreBatch(ctx context.Context, entries []VectorEntry) error
	// Search returns at most topK entries with similarity >= minSimilarity,
	// ranked descending. The optional filter requires exact key/value
	// matches on entry metadata.
	Search(ctx context.Context, query []float32, topK int, minSimilarity float64, filter map[string]interface{}) ([]SearchResult, error)
	Get(ctx context.Context, id string) (VectorEntry, bool, error)
	Delete(ctx context.Context, id string) error
	DeleteBatch(ctx context.Context, ids []string) error
	GetAll(ctx context.Context) ([]VectorEntry, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// InMemoryVectorStore is the reference VectorStore: exact brute-force cosine
// similarity over all stored vectors. The backing map is guarded for
// concurrent use; Search works on a copied snapshot so a concurrent Store
// cannot corrupt an in-flight scan.
type InMemoryVectorStore struct {
	mu      sync.RWMutex
	entries map[string]VectorEntry
	order   []string // insertion order, keeps scans and ties stable
	logger  zerolog.Logger
}

// NewInMemoryVectorStore creates an empty store.
func NewInMemoryVectorStore(logger zerolog.Logger) *InMemoryVectorStore {
	return &InMemoryVectorStore{
		entries: make(map[string]VectorEntry),
		logger:  logger.With().Str("component", "vectorStore").Logger(),
	}
}

// Store upserts one entry by id.
func (s *InMemoryVectorStore) Store(ctx context.Context, entry VectorEntry) error {
	if entry.ID == "" {
		return NewVectorStoreError("entry id is required", nil)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.ID]; !exists {
		s.order = append(s.order, entry.ID)
	}
	s.entries[entry.ID] = entry
	return nil
}

// StoreBatch upserts entries by id.
func (s *InMemoryVectorStore) StoreBatch(ctx context.Context, entries []VectorEntry) error {
	for _, entry := range entries {
		if err := s.Store(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// Search scans every stored entry: metadata filter first, then a
// dimensionality check (mismatches are logged and skipped, never fatal
// mid-scan), then cosine similarity with the minSimilarity floor. Results
// are ranked descending; ties keep insertion order. Unexpected internal
// failures degrade to an empty result since semantic recall is an
// enhancement, not a correctness requirement.
func (s *InMemoryVectorStore) Search(ctx context.Context, query []float32, topK int, minSimilarity float64, filter map[string]interface{}) (results []SearchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Vector search failed, returning empty results")
			results, err = nil, nil
		}
	}()

	if topK <= 0 || len(query) == 0 {
		return nil, nil
	}

	snapshot := s.snapshot()
	skippedDims := 0
	for _, entry := range snapshot {
		if !matchesFilter(entry.Metadata, filter) {
			continue
		}
		if len(entry.Embedding) != len(query) {
			skippedDims++
			continue
		}
		sim := CosineSimilarity(query, entry.Embedding)
		if sim < minSimilarity {
			continue
		}
		results = append(results, SearchResult{Entry: entry, Similarity: sim})
	}
	if skippedDims > 0 {
		s.logger.Warn().
			Int("skipped", skippedDims).
			Int("queryDims", len(query)).
			Msg("Skipped entries with mismatched embedding dimensionality")
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Get returns the entry stored under id.
func (s *InMemoryVectorStore) Get(ctx context.Context, id string) (VectorEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	return entry, ok, nil
}

// Delete removes the entry stored under id. Deleting a missing id is a no-op.
func (s *InMemoryVectorStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return nil
	}
	delete(s.entries, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// DeleteBatch removes all entries under the given ids.
func (s *InMemoryVectorStore) DeleteBatch(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// GetAll returns every stored entry in insertion order.
func (s *InMemoryVectorStore) GetAll(ctx context.Context) ([]VectorEntry, error) {
	return s.snapshot(), nil
}

// Clear removes all entries.
func (s *InMemoryVectorStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]VectorEntry)
	s.order = nil
	return nil
}

// Count returns the number of stored entries.
func (s *InMemoryVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *InMemoryVectorStore) snapshot() []VectorEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]VectorEntry, 0, len(s.order))
	for _, id := range s.order {
		if entry, ok := s.entries[id]; ok {
			out = append(out, entry)
		}
	}
	return out
}

// matchesFilter requires every filter key to be present and equal in the
// entry metadata.
func matchesFilter(metadata, filter map[string]interface{}) bool {
	if len(filter) == 0 {
		return true
	}
	if len(metadata) == 0 {
		return false
	}
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
