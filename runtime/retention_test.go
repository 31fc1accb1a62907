package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/promptmem/promptmem/memory"
)

// fakePruner returns a canned id list and records the cutoff it was given.
type fakePruner struct {
	ids    []string
	err    error
	calls  int
	cutoff time.Time
}

func (p *fakePruner) PruneBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	p.calls++
	p.cutoff = cutoff
	return p.ids, p.err
}

func seedVectors(t *testing.T, store memory.VectorStore, entries ...memory.VectorEntry) {
	t.Helper()
	if err := store.StoreBatch(context.Background(), entries); err != nil {
		t.Fatalf("seed vectors: %v", err)
	}
}

func vec(id, parent string) memory.VectorEntry {
	e := memory.VectorEntry{
		ID:        id,
		Embedding: []float32{1, 0},
		Content:   "content for " + id,
		Timestamp: time.Now(),
	}
	if parent != "" {
		e.Metadata = map[string]interface{}{"parent_message_id": parent}
	}
	return e
}

func TestNewRetentionSweeperValidation(t *testing.T) {
	cfg := DefaultRetentionConfig()
	if _, err := NewRetentionSweeper(nil, nil, cfg, zerolog.Nop()); !memory.IsConfigError(err) {
		t.Errorf("nil pruner: got %v, want config error", err)
	}

	cfg.MaxAge = 0
	if _, err := NewRetentionSweeper(&fakePruner{}, nil, cfg, zerolog.Nop()); !memory.IsConfigError(err) {
		t.Errorf("zero max age: got %v, want config error", err)
	}
}

func TestSweepDropsVectorsForPrunedMessages(t *testing.T) {
	ctx := context.Background()
	vectors := memory.NewInMemoryVectorStore(zerolog.Nop())
	seedVectors(t, vectors,
		vec("m1", "m1"),
		vec("m2#0", "m2"),
		vec("m2#1", "m2"),
		vec("m3", "m3"),
	)

	pruner := &fakePruner{ids: []string{"m1", "m2"}}
	cfg := DefaultRetentionConfig()
	cfg.MaxAge = 24 * time.Hour
	s, err := NewRetentionSweeper(pruner, vectors, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	s.Sweep(ctx)

	if pruner.calls != 1 {
		t.Fatalf("pruner called %d times, want 1", pruner.calls)
	}
	wantCutoff := time.Now().Add(-cfg.MaxAge)
	if pruner.cutoff.Before(wantCutoff.Add(-time.Minute)) || pruner.cutoff.After(wantCutoff.Add(time.Minute)) {
		t.Errorf("cutoff = %v, want about %v", pruner.cutoff, wantCutoff)
	}

	all, err := vectors.GetAll(ctx)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 1 || all[0].ID != "m3" {
		t.Errorf("surviving entries = %+v, want only m3", all)
	}
}

func TestSweepMatchesChunkIDsWithoutMetadata(t *testing.T) {
	ctx := context.Background()
	vectors := memory.NewInMemoryVectorStore(zerolog.Nop())
	// No parent_message_id metadata; the sweeper falls back to the chunk id
	// prefix.
	seedVectors(t, vectors, vec("m1#0", ""), vec("m1#1", ""), vec("m2", ""))

	pruner := &fakePruner{ids: []string{"m1"}}
	s, err := NewRetentionSweeper(pruner, vectors, DefaultRetentionConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	s.Sweep(ctx)

	all, err := vectors.GetAll(ctx)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 1 || all[0].ID != "m2" {
		t.Errorf("surviving entries = %+v, want only m2", all)
	}
}

func TestSweepToleratesPruneFailure(t *testing.T) {
	ctx := context.Background()
	vectors := memory.NewInMemoryVectorStore(zerolog.Nop())
	seedVectors(t, vectors, vec("m1", "m1"))

	pruner := &fakePruner{err: errors.New("database locked")}
	s, err := NewRetentionSweeper(pruner, vectors, DefaultRetentionConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	s.Sweep(ctx) // must not panic or touch vectors

	count, err := vectors.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("vector count = %d, want 1 untouched", count)
	}
}

func TestSweepWithoutVectorStore(t *testing.T) {
	pruner := &fakePruner{ids: []string{"m1"}}
	s, err := NewRetentionSweeper(pruner, nil, DefaultRetentionConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	s.Sweep(context.Background())
	if pruner.calls != 1 {
		t.Errorf("pruner called %d times, want 1", pruner.calls)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	cfg := DefaultRetentionConfig()
	cfg.Schedule = "not a cron expression"
	s, err := NewRetentionSweeper(&fakePruner{}, nil, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	if err := s.Start(); !memory.IsConfigError(err) {
		t.Errorf("bad schedule: got %v, want config error", err)
	}
}

func TestStartAndStopRunImmediateSweep(t *testing.T) {
	pruner := &fakePruner{}
	s, err := NewRetentionSweeper(pruner, nil, DefaultRetentionConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
	if pruner.calls != 1 {
		t.Errorf("pruner called %d times, want 1 immediate sweep", pruner.calls)
	}
}
