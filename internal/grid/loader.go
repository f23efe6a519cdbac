package grid

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ErrStale is reported for a batch that resolved after a mode change.
var ErrStale = errors.New("grid: batch resolved after mode change")

// Source supplies content for empty cells. It may return fewer items than
// requested and may fail.
type Source interface {
	FetchItems(ctx context.Context, count int) ([]Item, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, count int) ([]Item, error)

// FetchItems calls f.
func (f SourceFunc) FetchItems(ctx context.Context, count int) ([]Item, error) {
	return f(ctx, count)
}

// Pending tracks one dispatched fill.
type Pending struct {
	Request *FillRequest

	done   chan struct{}
	placed []Placement
	err    error
}

// Done is closed once the batch has been applied, discarded or failed.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the fetch error, ErrStale, or nil. Valid after Done.
func (p *Pending) Err() error { return p.err }

// Placements returns what the batch placed. Valid after Done.
func (p *Pending) Placements() []Placement { return p.placed }

// Wait blocks until the fill finishes or ctx is done.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoaderConfig contains loader configuration.
type LoaderConfig struct {
	Tracker  *Tracker
	Source   Source
	Debounce time.Duration
	// OnPlaced, if set, receives every applied batch.
	OnPlaced func([]Placement)
}

// Loader fills a tracker's visible cells from a content source in response
// to viewport changes.
type Loader struct {
	tracker  *Tracker
	debounce *Debouncer
	onPlaced func([]Placement)

	mu         sync.Mutex
	source     Source
	modeCtx    context.Context
	modeCancel context.CancelFunc
	closed     bool

	wg sync.WaitGroup
}

// NewLoader creates a loader. A nil tracker gets a default one.
func NewLoader(cfg LoaderConfig) *Loader {
	tr := cfg.Tracker
	if tr == nil {
		tr = NewTracker(DefaultConfig())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		tracker:    tr,
		debounce:   NewDebouncer(cfg.Debounce),
		onPlaced:   cfg.OnPlaced,
		source:     cfg.Source,
		modeCtx:    ctx,
		modeCancel: cancel,
	}
}

// Tracker returns the underlying tracker.
func (l *Loader) Tracker() *Tracker {
	return l.tracker
}

// OnViewportChange schedules a debounced fill for vp.
func (l *Loader) OnViewportChange(vp Viewport) CancelFunc {
	return l.debounce.Trigger(func() {
		l.Fill(vp)
	})
}

// Fill reserves the unfilled visible cells for vp and fetches content for
// them in the background. It returns nil when there is nothing to fill.
func (l *Loader) Fill(vp Viewport) *Pending {
	l.mu.Lock()
	if l.closed || l.source == nil {
		l.mu.Unlock()
		return nil
	}
	source := l.source
	ctx := l.modeCtx

	cells := l.tracker.NextBatch(l.tracker.VisibleRange(vp))
	if len(cells) == 0 {
		l.mu.Unlock()
		return nil
	}
	req, ok := l.tracker.RequestFill(cells)
	if !ok {
		l.mu.Unlock()
		return nil
	}
	l.wg.Add(1)
	l.mu.Unlock()

	p := &Pending{Request: req, done: make(chan struct{})}
	go l.fetch(ctx, source, p)
	return p
}

func (l *Loader) fetch(ctx context.Context, source Source, p *Pending) {
	defer l.wg.Done()
	defer close(p.done)

	req := p.Request
	items, err := source.FetchItems(ctx, len(req.Cells))
	if err != nil {
		log.Debug("grid fill failed", "request", req.ID, "cells", len(req.Cells), "err", err)
		l.tracker.Fail(req)
		p.err = err
		return
	}

	placed, ok := l.tracker.Resolve(req, items)
	if !ok {
		p.err = ErrStale
		return
	}
	p.placed = placed
	if l.onPlaced != nil && len(placed) > 0 {
		l.onPlaced(placed)
	}
}

// ResetForModeChange cancels any scheduled fill, aborts in-flight fetches,
// clears the registry and switches to source. A nil source keeps the current
// one.
func (l *Loader) ResetForModeChange(source Source) {
	l.debounce.Cancel()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.modeCancel()
	l.tracker.Reset()
	if source != nil {
		l.source = source
	}
	l.modeCtx, l.modeCancel = context.WithCancel(context.Background())
}

// Wait blocks until all dispatched fetches have finished.
func (l *Loader) Wait() {
	l.wg.Wait()
}

// Close stops scheduling, cancels in-flight fetches and waits for them.
func (l *Loader) Close() {
	l.debounce.Cancel()

	l.mu.Lock()
	l.closed = true
	l.modeCancel()
	l.mu.Unlock()

	l.wg.Wait()
}
