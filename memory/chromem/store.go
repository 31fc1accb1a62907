// Package chromem adapts chromem-go, a pure-Go embedded vector database, to
// the engine's VectorStore interface. It trades the reference store's full
// surface for chromem's persistence-ready document model: point lookups and
// full scans are not supported, so session-level vector cleanup requires the
// in-memory store.
package chromem

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"

	"github.com/promptmem/promptmem/memory"
)

const collectionName = "messages"

// Store wraps a chromem-go collection.
type Store struct {
	mu         sync.Mutex
	db         *chromem.DB
	collection *chromem.Collection
	logger     zerolog.Logger
}

// New creates an in-memory chromem-backed store.
func New(logger zerolog.Logger) (*Store, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, memory.NewVectorStoreError("create collection", err)
	}
	return &Store{
		db:         db,
		collection: col,
		logger:     logger.With().Str("component", "chromemStore").Logger(),
	}, nil
}

// Store upserts one entry by id.
func (s *Store) Store(ctx context.Context, entry memory.VectorEntry) error {
	return s.StoreBatch(ctx, []memory.VectorEntry{entry})
}

// StoreBatch upserts entries by id.
func (s *Store) StoreBatch(ctx context.Context, entries []memory.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(entries))
	for _, entry := range entries {
		if entry.ID == "" {
			return memory.NewVectorStoreError("entry id is required", nil)
		}
		ts := entry.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		meta := encodeMetadata(entry.Metadata)
		if meta == nil {
			meta = make(map[string]string, 1)
		}
		meta["timestamp"] = ts.Format(time.RFC3339Nano)
		docs = append(docs, chromem.Document{
			ID:        entry.ID,
			Content:   entry.Content,
			Embedding: entry.Embedding,
			Metadata:  meta,
		})
	}
	s.mu.Lock()
	col := s.collection
	s.mu.Unlock()
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return memory.NewVectorStoreError(fmt.Sprintf("add %d documents", len(docs)), err)
	}
	return nil
}

// Search returns at most topK entries with similarity >= minSimilarity. The
// optional filter matches chromem document metadata exactly; non-string
// values are compared against their encoded form.
func (s *Store) Search(ctx context.Context, query []float32, topK int, minSimilarity float64, filter map[string]interface{}) ([]memory.SearchResult, error) {
	s.mu.Lock()
	col := s.collection
	s.mu.Unlock()

	// chromem rejects nResults larger than the collection.
	n := topK
	if count := col.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, query, n, encodeMetadata(filter), nil)
	if err != nil {
		return nil, memory.NewVectorStoreError("query embedding", err)
	}

	out := make([]memory.SearchResult, 0, len(results))
	for _, res := range results {
		sim := float64(res.Similarity)
		if sim < minSimilarity {
			continue
		}
		out = append(out, memory.SearchResult{
			Entry:      toEntry(res),
			Similarity: sim,
		})
	}
	return out, nil
}

// Get is not supported: chromem has no point lookup by id.
func (s *Store) Get(ctx context.Context, id string) (memory.VectorEntry, bool, error) {
	return memory.VectorEntry{}, false, memory.NewVectorStoreError("point lookup is not supported by the chromem backend", nil)
}

// Delete removes one entry by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.DeleteBatch(ctx, []string{id})
}

// DeleteBatch removes entries by id.
func (s *Store) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	col := s.collection
	s.mu.Unlock()
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return memory.NewVectorStoreError(fmt.Sprintf("delete %d documents", len(ids)), err)
	}
	return nil
}

// GetAll is not supported: chromem exposes no full scan.
func (s *Store) GetAll(ctx context.Context) ([]memory.VectorEntry, error) {
	return nil, memory.NewVectorStoreError("full scan is not supported by the chromem backend", nil)
}

// Clear drops and recreates the collection.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DeleteCollection(collectionName); err != nil {
		return memory.NewVectorStoreError("delete collection", err)
	}
	col, err := s.db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return memory.NewVectorStoreError("recreate collection", err)
	}
	s.collection = col
	return nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	col := s.collection
	s.mu.Unlock()
	return col.Count(), nil
}

// encodeMetadata flattens entry metadata into chromem's string-valued form.
func encodeMetadata(meta map[string]interface{}) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		switch val := v.(type) {
		case string:
			out[k] = val
		case int:
			out[k] = strconv.Itoa(val)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

func toEntry(res chromem.Result) memory.VectorEntry {
	entry := memory.VectorEntry{
		ID:        res.ID,
		Embedding: res.Embedding,
		Content:   res.Content,
	}
	if len(res.Metadata) > 0 {
		entry.Metadata = make(map[string]interface{}, len(res.Metadata))
		for k, v := range res.Metadata {
			if k == "timestamp" {
				if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
					entry.Timestamp = ts
					continue
				}
			}
			entry.Metadata[k] = v
		}
	}
	return entry
}
