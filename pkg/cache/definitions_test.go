package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/autoparts/compat-engine/pkg/enginerr"
	"github.com/autoparts/compat-engine/pkg/store"
)

type fakeSource struct {
	mu    sync.Mutex
	rows  []store.AttributeDefinition
	err   error
	gate  chan struct{}
	calls atomic.Int32
}

func (f *fakeSource) AttributeDefinitions(ctx context.Context) ([]store.AttributeDefinition, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]store.AttributeDefinition, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func (f *fakeSource) set(rows []store.AttributeDefinition, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
	f.err = err
}

func defRows(names ...string) []store.AttributeDefinition {
	rows := make([]store.AttributeDefinition, len(names))
	for i, n := range names {
		rows[i] = store.AttributeDefinition{ID: int64(i + 1), Name: n}
	}
	return rows
}

// fakeClock is advanced manually by tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(src DefinitionSource, cfg *CacheConfig) (*DefinitionCache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewDefinitionCache(src, cfg, nil)
	c.now = clock.Now
	return c, clock
}

func TestDefinitionCache(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"LoadsOnFirstRead", testLoadsOnFirstRead},
		{"ServesSnapshotWithinTTL", testServesSnapshotWithinTTL},
		{"RefreshesAfterTTL", testRefreshesAfterTTL},
		{"FailedRefreshIsNotMaskedByStaleData", testFailedRefreshNotMasked},
		{"ConcurrentReadersShareOneLoad", testConcurrentReadersShareLoad},
		{"TruncatesToMaxSize", testTruncatesToMaxSize},
		{"CallerCancellationReturnsPromptly", testCallerCancellation},
		{"RefreshDoesNotMutatePublishedSnapshot", testCopyOnWrite},
		{"InvalidateForcesReload", testInvalidate},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testLoadsOnFirstRead(t *testing.T) {
	src := &fakeSource{rows: defRows("Einbauseite", "Durchmesser")}
	c, _ := newTestCache(src, nil)

	if c.Warm() {
		t.Fatal("expected cold cache before first read")
	}
	defs, err := c.Definitions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(defs) != 2 || defs[1].Name != "Einbauseite" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
	if !c.Warm() || c.Size() != 2 {
		t.Fatalf("expected warm cache of size 2, got warm=%v size=%d", c.Warm(), c.Size())
	}
}

func testServesSnapshotWithinTTL(t *testing.T) {
	src := &fakeSource{rows: defRows("a")}
	c, clock := newTestCache(src, nil)

	for i := 0; i < 5; i++ {
		if _, err := c.Definitions(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		clock.Advance(time.Minute)
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("expected 1 load within TTL, got %d", got)
	}
}

func testRefreshesAfterTTL(t *testing.T) {
	src := &fakeSource{rows: defRows("a")}
	c, clock := newTestCache(src, &CacheConfig{DefinitionsTTL: time.Minute, MaxSize: 10, LoadTimeout: time.Second})

	if _, err := c.Definitions(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	src.set(defRows("a", "b"), nil)
	clock.Advance(time.Minute)

	defs, err := c.Definitions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected refreshed snapshot with 2 entries, got %d", len(defs))
	}
	if got := src.calls.Load(); got != 2 {
		t.Fatalf("expected 2 loads, got %d", got)
	}
}

func testFailedRefreshNotMasked(t *testing.T) {
	src := &fakeSource{rows: defRows("a")}
	c, clock := newTestCache(src, nil)

	if _, err := c.Definitions(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	down := enginerr.BackendUnavailable("store.attribute_definitions", errors.New("connection refused"))
	src.set(nil, down)
	clock.Advance(10 * time.Minute)

	defs, err := c.Definitions(context.Background())
	if err == nil {
		t.Fatalf("expected error, got %d stale definitions", len(defs))
	}
	if !enginerr.Is(err, enginerr.KindBackendUnavailable) {
		t.Fatalf("expected BackendUnavailable, got %v", err)
	}
}

func testConcurrentReadersShareLoad(t *testing.T) {
	src := &fakeSource{rows: defRows("a", "b", "c"), gate: make(chan struct{})}
	c, _ := newTestCache(src, nil)

	const readers = 20
	var wg sync.WaitGroup
	errs := make(chan error, readers)
	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func() {
			defer wg.Done()
			defs, err := c.Definitions(context.Background())
			if err == nil && len(defs) != 3 {
				err = errors.New("short snapshot")
			}
			errs <- err
		}()
	}

	// Let every reader reach the flight before releasing the load.
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("reader failed: %v", err)
		}
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("expected a single shared load, got %d", got)
	}
}

func testTruncatesToMaxSize(t *testing.T) {
	src := &fakeSource{rows: defRows("a", "b", "c", "d")}
	c, _ := newTestCache(src, &CacheConfig{DefinitionsTTL: time.Minute, MaxSize: 2, LoadTimeout: time.Second})

	defs, err := c.Definitions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(defs))
	}
	if _, ok := defs[1]; !ok {
		t.Fatal("expected lowest ids to be kept")
	}
	if _, ok := defs[4]; ok {
		t.Fatal("expected highest id to be dropped")
	}
}

func testCallerCancellation(t *testing.T) {
	src := &fakeSource{rows: defRows("a"), gate: make(chan struct{})}
	c, _ := newTestCache(src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Definitions(ctx)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Definitions did not return after cancellation")
	}

	// The detached load still completes and publishes for later readers.
	close(src.gate)
	deadline := time.Now().Add(time.Second)
	for !c.Warm() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !c.Warm() {
		t.Fatal("expected the shared load to publish a snapshot")
	}
}

func testCopyOnWrite(t *testing.T) {
	src := &fakeSource{rows: defRows("a")}
	c, clock := newTestCache(src, nil)

	old, err := c.Definitions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	src.set(defRows("x", "y"), nil)
	clock.Advance(time.Hour)
	if _, err := c.Definitions(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(old) != 1 || old[1].Name != "a" {
		t.Fatalf("published snapshot was mutated: %+v", old)
	}
}

func testInvalidate(t *testing.T) {
	src := &fakeSource{rows: defRows("a")}
	c, _ := newTestCache(src, nil)

	if _, err := c.Definitions(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Invalidate()
	if c.Warm() {
		t.Fatal("expected cold cache after Invalidate")
	}
	if _, err := c.Definitions(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := src.calls.Load(); got != 2 {
		t.Fatalf("expected reload after Invalidate, got %d loads", got)
	}
}

func TestCacheConfigValidate(t *testing.T) {
	if err := DefaultCacheConfig().Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	bad := []*CacheConfig{
		{DefinitionsTTL: 0, MaxSize: 1, LoadTimeout: time.Second},
		{DefinitionsTTL: time.Second, MaxSize: 0, LoadTimeout: time.Second},
		{DefinitionsTTL: time.Second, MaxSize: 1, LoadTimeout: 0},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
