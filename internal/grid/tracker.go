package grid

import (
	"sort"
	"sync"
)

// Config contains tracker configuration.
type Config struct {
	CellWidth   float64 `json:"cell_width"`
	CellHeight  float64 `json:"cell_height"`
	BufferCells int     `json:"buffer_cells"`
	MaxBatch    int     `json:"max_batch"` // upper bound on cells requested per fill
}

// DefaultConfig returns the canvas defaults used by the web client.
func DefaultConfig() Config {
	return Config{
		CellWidth:   220,
		CellHeight:  280,
		BufferCells: 1,
		MaxBatch:    24,
	}
}

// FillRequest is an outstanding fetch for a set of cells.
type FillRequest struct {
	ID         uint64
	Generation uint64
	Cells      []Cell
}

type slot struct {
	request uint64 // request that reserved the cell
	item    *Item  // nil while pending
}

// Tracker owns the cell registry for one canvas.
//
// A cell is registered from the moment a fill request reserves it until it is
// released (failed fetch, short batch) or the tracker is reset. Every method
// is safe for concurrent use.
type Tracker struct {
	cfg Config

	mu         sync.Mutex
	slots      map[Cell]*slot
	generation uint64
	nextID     uint64
	inflight   map[uint64]*FillRequest
}

// NewTracker creates an empty tracker.
func NewTracker(cfg Config) *Tracker {
	defaults := DefaultConfig()
	if cfg.CellWidth <= 0 {
		cfg.CellWidth = defaults.CellWidth
	}
	if cfg.CellHeight <= 0 {
		cfg.CellHeight = defaults.CellHeight
	}
	if cfg.BufferCells < 0 {
		cfg.BufferCells = 0
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaults.MaxBatch
	}
	return &Tracker{
		cfg:      cfg,
		slots:    make(map[Cell]*slot),
		inflight: make(map[uint64]*FillRequest),
	}
}

// Config returns the tracker configuration.
func (t *Tracker) Config() Config {
	return t.cfg
}

// VisibleRange returns the buffered cell range for vp.
func (t *Tracker) VisibleRange(vp Viewport) Range {
	return VisibleRange(vp, t.cfg.CellWidth, t.cfg.CellHeight, t.cfg.BufferCells)
}

// Has reports whether c is filled or pending.
func (t *Tracker) Has(c Cell) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.slots[c]
	return ok
}

// Unfilled lists the cells of r that are neither filled nor pending.
func (t *Tracker) Unfilled(r Range) []Cell {
	t.mu.Lock()
	defer t.mu.Unlock()
	return UnfilledCells(r, lockedRegistry(t.slots))
}

// NextBatch lists at most MaxBatch unfilled cells of r, row-major.
func (t *Tracker) NextBatch(r Range) []Cell {
	t.mu.Lock()
	defer t.mu.Unlock()
	return FirstUnfilled(r, lockedRegistry(t.slots), t.cfg.MaxBatch)
}

type lockedRegistry map[Cell]*slot

func (m lockedRegistry) Has(c Cell) bool {
	_, ok := m[c]
	return ok
}

// Generation returns the current mode token.
func (t *Tracker) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// RequestFill reserves up to MaxBatch of cells that are still unregistered and
// returns the request covering them. Reservation happens before the caller
// dispatches any fetch, so a second request never targets the same cells.
func (t *Tracker) RequestFill(cells []Cell) (*FillRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	req := &FillRequest{ID: t.nextID, Generation: t.generation}
	for _, c := range cells {
		if len(req.Cells) >= t.cfg.MaxBatch {
			break
		}
		if _, taken := t.slots[c]; taken {
			continue
		}
		t.slots[c] = &slot{request: req.ID}
		req.Cells = append(req.Cells, c)
	}
	if len(req.Cells) == 0 {
		return nil, false
	}
	t.inflight[req.ID] = req
	return req, true
}

// Resolve binds items to the request's cells in order. Cells left without an
// item are released so a later pass can fill them. A request issued before
// the last Reset is discarded and Resolve returns false.
func (t *Tracker) Resolve(req *FillRequest, items []Item) ([]Placement, bool) {
	if req == nil {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if req.Generation != t.generation {
		return nil, false
	}
	if _, ok := t.inflight[req.ID]; !ok {
		return nil, false
	}
	delete(t.inflight, req.ID)

	placed := make([]Placement, 0, len(items))
	for i, c := range req.Cells {
		s, ok := t.slots[c]
		if !ok || s.request != req.ID {
			continue
		}
		if i >= len(items) {
			delete(t.slots, c)
			continue
		}
		item := items[i]
		s.item = &item
		placed = append(placed, Placement{Cell: c, Item: s.item})
	}
	return placed, true
}

// Fail releases every cell still reserved by req.
func (t *Tracker) Fail(req *FillRequest) {
	if req == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if req.Generation != t.generation {
		return
	}
	delete(t.inflight, req.ID)
	for _, c := range req.Cells {
		if s, ok := t.slots[c]; ok && s.request == req.ID && s.item == nil {
			delete(t.slots, c)
		}
	}
}

// Reset clears the registry and invalidates in-flight requests.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.slots = make(map[Cell]*slot)
	t.inflight = make(map[uint64]*FillRequest)
	t.generation++
}

// Placements returns every registered cell in row-major order.
func (t *Tracker) Placements() []Placement {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Placement, 0, len(t.slots))
	for c, s := range t.slots {
		out = append(out, Placement{Cell: c, Item: s.item, Pending: s.item == nil})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cell.Less(out[j].Cell) })
	return out
}

// Stats summarises the registry.
type Stats struct {
	Generation uint64 `json:"generation"`
	Filled     int    `json:"filled"`
	Pending    int    `json:"pending"`
	InFlight   int    `json:"in_flight"`
}

// Stats returns registry counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := Stats{Generation: t.generation, InFlight: len(t.inflight)}
	for _, s := range t.slots {
		if s.item == nil {
			st.Pending++
		} else {
			st.Filled++
		}
	}
	return st
}
