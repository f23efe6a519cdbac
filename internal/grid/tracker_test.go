package grid

import (
	"fmt"
	"reflect"
	"testing"
)

func makeItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{ID: fmt.Sprintf("p%d", i), Name: fmt.Sprintf("Product %d", i)}
	}
	return items
}

func TestTrackerScenarioShortBatch(t *testing.T) {
	tr := NewTracker(Config{CellWidth: 100, CellHeight: 100, BufferCells: 0, MaxBatch: 50})
	vp := Viewport{Zoom: 1, Width: 300, Height: 300}

	r := tr.VisibleRange(vp)
	if r != (Range{ColStart: 0, ColEnd: 2, RowStart: 0, RowEnd: 2}) {
		t.Fatalf("unexpected range %+v", r)
	}
	cells := tr.Unfilled(r)
	if len(cells) != 9 {
		t.Fatalf("expected 9 unfilled cells, got %d", len(cells))
	}

	req, ok := tr.RequestFill(cells)
	if !ok || len(req.Cells) != 9 {
		t.Fatalf("expected request for 9 cells, got %+v", req)
	}
	if st := tr.Stats(); st.Pending != 9 || st.InFlight != 1 {
		t.Fatalf("expected 9 pending cells in one request, got %+v", st)
	}

	placed, ok := tr.Resolve(req, makeItems(5))
	if !ok {
		t.Fatalf("expected batch to apply")
	}
	wantCells := []Cell{{0, 0}, {1, 0}, {2, 0}, {0, 1}, {1, 1}}
	gotCells := make([]Cell, len(placed))
	for i, p := range placed {
		gotCells[i] = p.Cell
		if p.Item == nil || p.Item.ID != fmt.Sprintf("p%d", i) {
			t.Fatalf("placement %d has wrong item: %+v", i, p.Item)
		}
	}
	if !reflect.DeepEqual(gotCells, wantCells) {
		t.Fatalf("expected cells %v, got %v", wantCells, gotCells)
	}

	left := tr.Unfilled(r)
	wantLeft := []Cell{{2, 1}, {0, 2}, {1, 2}, {2, 2}}
	if !reflect.DeepEqual(left, wantLeft) {
		t.Fatalf("expected surplus cells %v released, got %v", wantLeft, left)
	}
	if st := tr.Stats(); st.Filled != 5 || st.Pending != 0 || st.InFlight != 0 {
		t.Fatalf("unexpected stats after resolve: %+v", st)
	}
}

func TestTrackerRequestFillRespectsMaxBatch(t *testing.T) {
	tr := NewTracker(Config{CellWidth: 100, CellHeight: 100, MaxBatch: 4})
	cells := tr.Unfilled(Range{ColStart: 0, ColEnd: 2, RowStart: 0, RowEnd: 2})

	req, ok := tr.RequestFill(cells)
	if !ok {
		t.Fatalf("expected a request")
	}
	want := []Cell{{0, 0}, {1, 0}, {2, 0}, {0, 1}}
	if !reflect.DeepEqual(req.Cells, want) {
		t.Fatalf("expected %v, got %v", want, req.Cells)
	}

	second, ok := tr.RequestFill(cells)
	if !ok {
		t.Fatalf("expected a second request for the remaining cells")
	}
	for _, c := range second.Cells {
		for _, taken := range req.Cells {
			if c == taken {
				t.Fatalf("cell %v requested twice", c)
			}
		}
	}
}

func TestTrackerRequestFillNothingLeft(t *testing.T) {
	tr := NewTracker(Config{MaxBatch: 10})
	cells := []Cell{{0, 0}, {1, 0}}
	if _, ok := tr.RequestFill(cells); !ok {
		t.Fatalf("expected first request")
	}
	if req, ok := tr.RequestFill(cells); ok {
		t.Fatalf("expected no request for reserved cells, got %+v", req)
	}
	if _, ok := tr.RequestFill(nil); ok {
		t.Fatalf("expected no request for empty cell list")
	}
}

func TestTrackerOneItemPerCell(t *testing.T) {
	tr := NewTracker(Config{CellWidth: 10, CellHeight: 10, MaxBatch: 100})
	r := Range{ColStart: 0, ColEnd: 4, RowStart: 0, RowEnd: 4}

	for pass := 0; pass < 4; pass++ {
		req, ok := tr.RequestFill(tr.Unfilled(r))
		if !ok {
			break
		}
		tr.Resolve(req, makeItems(7))
	}

	seen := make(map[Cell]bool)
	ids := make(map[string]Cell)
	for _, p := range tr.Placements() {
		if seen[p.Cell] {
			t.Fatalf("cell %v listed twice", p.Cell)
		}
		seen[p.Cell] = true
		if p.Pending || p.Item == nil {
			t.Fatalf("cell %v has no item", p.Cell)
		}
		if !tr.Has(p.Cell) {
			t.Fatalf("placed cell %v not registered", p.Cell)
		}
		key := fmt.Sprintf("%s@%v", p.Item.ID, p.Cell)
		if _, dup := ids[key]; dup {
			t.Fatalf("duplicate placement %s", key)
		}
		ids[key] = p.Cell
	}
	if len(seen) != 25 {
		t.Fatalf("expected all 25 cells filled after 4 passes, got %d", len(seen))
	}
}

func TestTrackerFailReleasesCells(t *testing.T) {
	tr := NewTracker(Config{MaxBatch: 10})
	r := Range{ColStart: 0, ColEnd: 1, RowStart: 0, RowEnd: 0}

	req, _ := tr.RequestFill(tr.Unfilled(r))
	if got := tr.Unfilled(r); len(got) != 0 {
		t.Fatalf("expected in-flight cells to count as filled, got %v", got)
	}

	tr.Fail(req)
	if got := tr.Unfilled(r); len(got) != 2 {
		t.Fatalf("expected cells released after failure, got %v", got)
	}
	if st := tr.Stats(); st.InFlight != 0 || st.Pending != 0 {
		t.Fatalf("unexpected stats after failure: %+v", st)
	}

	// A late resolution of the failed request must not place anything.
	if placed, ok := tr.Resolve(req, makeItems(2)); ok || len(placed) != 0 {
		t.Fatalf("expected failed request to stay dead, got %v %v", placed, ok)
	}
}

func TestTrackerResetDiscardsInFlight(t *testing.T) {
	tr := NewTracker(Config{MaxBatch: 10})
	r := Range{ColStart: 0, ColEnd: 2, RowStart: 0, RowEnd: 0}

	filled, _ := tr.RequestFill(tr.Unfilled(r)[:1])
	tr.Resolve(filled, makeItems(1))
	inflight, _ := tr.RequestFill(tr.Unfilled(r))

	gen := tr.Generation()
	tr.Reset()
	if tr.Generation() != gen+1 {
		t.Fatalf("expected generation to advance")
	}

	if _, ok := tr.Resolve(inflight, makeItems(2)); ok {
		t.Fatalf("expected stale batch to be discarded")
	}
	tr.Fail(inflight)

	if got := tr.Placements(); len(got) != 0 {
		t.Fatalf("expected empty registry after reset, got %v", got)
	}
	if got := tr.Unfilled(r); len(got) != 3 {
		t.Fatalf("expected all cells unfilled after reset, got %v", got)
	}
}

func TestTrackerPlacementsIncludePending(t *testing.T) {
	tr := NewTracker(Config{MaxBatch: 10})
	req, _ := tr.RequestFill([]Cell{{1, 1}, {0, 1}, {3, 0}})

	got := tr.Placements()
	want := []Cell{{3, 0}, {0, 1}, {1, 1}}
	if len(got) != len(want) {
		t.Fatalf("expected %d placements, got %d", len(want), len(got))
	}
	for i, p := range got {
		if p.Cell != want[i] || !p.Pending || p.Item != nil {
			t.Fatalf("placement %d: expected pending %v, got %+v", i, want[i], p)
		}
	}

	tr.Resolve(req, makeItems(3))
	for _, p := range tr.Placements() {
		if p.Pending {
			t.Fatalf("expected no pending placements after resolve, got %+v", p)
		}
	}
}

func TestNewTrackerDefaults(t *testing.T) {
	tr := NewTracker(Config{BufferCells: -2})
	cfg := tr.Config()
	def := DefaultConfig()
	if cfg.CellWidth != def.CellWidth || cfg.CellHeight != def.CellHeight || cfg.MaxBatch != def.MaxBatch {
		t.Fatalf("expected defaults applied, got %+v", cfg)
	}
	if cfg.BufferCells != 0 {
		t.Fatalf("expected negative buffer clamped to 0, got %d", cfg.BufferCells)
	}
}

func TestTrackerNextBatchBounded(t *testing.T) {
	tr := NewTracker(Config{CellWidth: 100, CellHeight: 100, MaxBatch: 5})
	huge := Range{ColStart: 0, ColEnd: 1 << 30, RowStart: 0, RowEnd: 1 << 30}

	cells := tr.NextBatch(huge)
	if len(cells) != 5 {
		t.Fatalf("expected 5 cells, got %d", len(cells))
	}
	req, ok := tr.RequestFill(cells)
	if !ok || len(req.Cells) != 5 {
		t.Fatalf("expected a request for 5 cells, got %+v", req)
	}
	next := tr.NextBatch(huge)
	if len(next) != 5 || next[0] != (Cell{Col: 5, Row: 0}) {
		t.Fatalf("expected the next 5 unreserved cells, got %v", next)
	}
}
