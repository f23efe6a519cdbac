package grid

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// gatedSource blocks every fetch until release is closed and records the
// requested counts.
type gatedSource struct {
	mu      sync.Mutex
	counts  []int
	release chan struct{}
	items   int // items returned per fetch, -1 for as many as requested
	err     error
}

func newGatedSource(items int) *gatedSource {
	return &gatedSource{release: make(chan struct{}), items: items}
}

func (s *gatedSource) FetchItems(ctx context.Context, count int) ([]Item, error) {
	s.mu.Lock()
	s.counts = append(s.counts, count)
	s.mu.Unlock()

	<-s.release
	if s.err != nil {
		return nil, s.err
	}
	n := count
	if s.items >= 0 && s.items < n {
		n = s.items
	}
	return makeItems(n), nil
}

func (s *gatedSource) calls() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.counts...)
}

func waitPending(t *testing.T, p *Pending) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-p.Done():
	case <-ctx.Done():
		t.Fatalf("fill did not finish")
	}
}

func testTracker() *Tracker {
	return NewTracker(Config{CellWidth: 100, CellHeight: 100, BufferCells: 0, MaxBatch: 50})
}

func TestLoaderOverlappingMovesNeverShareCells(t *testing.T) {
	src := newGatedSource(-1)
	l := NewLoader(LoaderConfig{Tracker: testTracker(), Source: src})
	defer l.Close()

	first := l.Fill(Viewport{Zoom: 1, Width: 300, Height: 300})
	time.Sleep(10 * time.Millisecond)
	second := l.Fill(Viewport{OffsetX: -100, Zoom: 1, Width: 300, Height: 300})

	if first == nil || second == nil {
		t.Fatalf("expected two fills, got %v and %v", first, second)
	}
	if len(first.Request.Cells) != 9 {
		t.Fatalf("expected first fill to reserve 9 cells, got %d", len(first.Request.Cells))
	}
	// The second viewport spans cols 1..3; only col 3 is new.
	if len(second.Request.Cells) != 3 {
		t.Fatalf("expected second fill to reserve 3 new cells, got %v", second.Request.Cells)
	}
	owner := make(map[Cell]uint64)
	for _, p := range []*Pending{first, second} {
		for _, c := range p.Request.Cells {
			if prev, ok := owner[c]; ok {
				t.Fatalf("cell %v fetched by requests %d and %d", c, prev, p.Request.ID)
			}
			owner[c] = p.Request.ID
		}
	}

	close(src.release)
	waitPending(t, first)
	waitPending(t, second)

	if got := len(src.calls()); got != 2 {
		t.Fatalf("expected 2 fetches, got %d", got)
	}
	if st := l.Tracker().Stats(); st.Filled != 12 || st.Pending != 0 {
		t.Fatalf("expected 12 filled cells, got %+v", st)
	}
}

func TestLoaderFillNothingToDo(t *testing.T) {
	src := newGatedSource(-1)
	close(src.release)
	l := NewLoader(LoaderConfig{Tracker: testTracker(), Source: src})
	defer l.Close()

	vp := Viewport{Zoom: 1, Width: 200, Height: 100}
	p := l.Fill(vp)
	if p == nil {
		t.Fatalf("expected a fill")
	}
	waitPending(t, p)

	if again := l.Fill(vp); again != nil {
		t.Fatalf("expected no fill for a populated viewport, got %+v", again.Request)
	}
}

func TestLoaderShortBatchReleasesSurplus(t *testing.T) {
	src := newGatedSource(5)
	close(src.release)
	var placedCount atomic.Int32
	l := NewLoader(LoaderConfig{
		Tracker:  testTracker(),
		Source:   src,
		OnPlaced: func(p []Placement) { placedCount.Add(int32(len(p))) },
	})
	defer l.Close()

	vp := Viewport{Zoom: 1, Width: 300, Height: 300}
	p := l.Fill(vp)
	waitPending(t, p)

	if err := p.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Placements()) != 5 || placedCount.Load() != 5 {
		t.Fatalf("expected 5 placements, got %d (callback %d)", len(p.Placements()), placedCount.Load())
	}

	// The four released cells are picked up by the next pass.
	next := l.Fill(vp)
	if next == nil || len(next.Request.Cells) != 4 {
		t.Fatalf("expected a refill of 4 cells, got %+v", next)
	}
	waitPending(t, next)
	if st := l.Tracker().Stats(); st.Filled != 9 {
		t.Fatalf("expected 9 filled cells, got %+v", st)
	}
}

func TestLoaderFetchFailureReleasesCells(t *testing.T) {
	src := newGatedSource(-1)
	src.err = errors.New("catalog unavailable")
	close(src.release)
	l := NewLoader(LoaderConfig{Tracker: testTracker(), Source: src})
	defer l.Close()

	vp := Viewport{Zoom: 1, Width: 200, Height: 200}
	p := l.Fill(vp)
	waitPending(t, p)

	if p.Err() == nil {
		t.Fatalf("expected fetch error")
	}
	if st := l.Tracker().Stats(); st.Filled != 0 || st.Pending != 0 {
		t.Fatalf("expected no registered cells after failure, got %+v", st)
	}

	src.err = nil
	retry := l.Fill(vp)
	if retry == nil || len(retry.Request.Cells) != 4 {
		t.Fatalf("expected the next viewport event to retry all 4 cells, got %+v", retry)
	}
	waitPending(t, retry)
}

func TestLoaderResetDiscardsInFlightBatch(t *testing.T) {
	src := &gatedSource{release: make(chan struct{}), items: -1}
	// The source ignores cancellation so the batch really resolves late.
	l := NewLoader(LoaderConfig{Tracker: testTracker(), Source: src})
	defer l.Close()

	p := l.Fill(Viewport{Zoom: 1, Width: 300, Height: 300})
	if p == nil {
		t.Fatalf("expected a fill")
	}

	next := newGatedSource(-1)
	l.ResetForModeChange(next)
	close(src.release)
	waitPending(t, p)

	if !errors.Is(p.Err(), ErrStale) {
		t.Fatalf("expected ErrStale, got %v", p.Err())
	}
	if got := l.Tracker().Placements(); len(got) != 0 {
		t.Fatalf("expected empty registry after reset, got %v", got)
	}

	// New mode repopulates from the new source.
	close(next.release)
	refill := l.Fill(Viewport{Zoom: 1, Width: 100, Height: 100})
	if refill == nil {
		t.Fatalf("expected fill after reset")
	}
	waitPending(t, refill)
	if got := next.calls(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected new source to serve one item, got %v", got)
	}
}

func TestLoaderDebouncedViewportChanges(t *testing.T) {
	var calls atomic.Int32
	src := SourceFunc(func(ctx context.Context, count int) ([]Item, error) {
		calls.Add(1)
		return makeItems(count), nil
	})
	l := NewLoader(LoaderConfig{Tracker: testTracker(), Source: src, Debounce: 20 * time.Millisecond})
	defer l.Close()

	for i := 0; i < 5; i++ {
		l.OnViewportChange(Viewport{OffsetX: float64(-i * 100), Zoom: 1, Width: 100, Height: 100})
	}
	time.Sleep(100 * time.Millisecond)
	l.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single debounced fetch, got %d", got)
	}
	// Only the last viewport (col 4) was filled.
	if !l.Tracker().Has(Cell{Col: 4, Row: 0}) || l.Tracker().Has(Cell{Col: 0, Row: 0}) {
		t.Fatalf("expected only the final viewport filled, got %v", l.Tracker().Placements())
	}
}

func TestLoaderResetCancelsScheduledFill(t *testing.T) {
	var calls atomic.Int32
	src := SourceFunc(func(ctx context.Context, count int) ([]Item, error) {
		calls.Add(1)
		return makeItems(count), nil
	})
	l := NewLoader(LoaderConfig{Tracker: testTracker(), Source: src, Debounce: 30 * time.Millisecond})
	defer l.Close()

	l.OnViewportChange(Viewport{Zoom: 1, Width: 100, Height: 100})
	l.ResetForModeChange(nil)
	time.Sleep(80 * time.Millisecond)
	l.Wait()

	if got := calls.Load(); got != 0 {
		t.Fatalf("expected scheduled fill to be cancelled, got %d fetches", got)
	}
}

func TestLoaderClosedIgnoresFills(t *testing.T) {
	l := NewLoader(LoaderConfig{Tracker: testTracker(), Source: newGatedSource(-1)})
	l.Close()
	if p := l.Fill(Viewport{Zoom: 1, Width: 100, Height: 100}); p != nil {
		t.Fatalf("expected closed loader to ignore fills")
	}
}

func TestDebouncerCancelHandle(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var fired atomic.Int32

	cancel := d.Trigger(func() { fired.Add(1) })
	if !d.Pending() {
		t.Fatalf("expected pending trigger")
	}
	cancel()
	cancel()
	if d.Pending() {
		t.Fatalf("expected cancel to clear pending trigger")
	}

	stale := d.Trigger(func() { fired.Add(10) })
	d.Trigger(func() { fired.Add(100) })
	// Cancelling a superseded handle leaves the newest call armed.
	stale()
	time.Sleep(60 * time.Millisecond)

	if got := fired.Load(); got != 100 {
		t.Fatalf("expected only the last trigger to fire, got %d", got)
	}
}

func TestLoaderExtremeViewportStaysBounded(t *testing.T) {
	src := newGatedSource(-1)
	l := NewLoader(LoaderConfig{Tracker: testTracker(), Source: src})
	defer l.Close()

	p := l.Fill(Viewport{Zoom: 1e-9, Width: 1e6, Height: 1e6})
	if p == nil {
		t.Fatalf("expected a fill")
	}
	if n := len(p.Request.Cells); n != 50 {
		t.Fatalf("expected one batch of 50 cells, got %d", n)
	}
	close(src.release)
	waitPending(t, p)
}
