package catalog

import (
	"sort"
	"sync"
)

// productHash mixes a seed and a row index (splitmix64 finaliser).
func productHash(seed int64, idx int) uint64 {
	z := uint64(seed) + uint64(idx)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// shuffledOrder orders indices by their seeded hash, giving a stable
// pseudo-random permutation.
func shuffledOrder(indices []int, seed int64) []int {
	type keyed struct {
		idx  int
		hash uint64
	}
	ks := make([]keyed, len(indices))
	for i, idx := range indices {
		ks[i] = keyed{idx: idx, hash: productHash(seed, idx)}
	}
	sort.Slice(ks, func(a, b int) bool {
		if ks[a].hash != ks[b].hash {
			return ks[a].hash < ks[b].hash
		}
		return ks[a].idx < ks[b].idx
	})
	out := make([]int, len(ks))
	for i, k := range ks {
		out[i] = k.idx
	}
	return out
}

// Sample returns up to k products matching f, chosen deterministically by seed.
func (r *Reader) Sample(f Filter, k int, seed int64) []Product {
	if k <= 0 {
		return nil
	}
	order := shuffledOrder(r.Indices(f), seed)
	if k > len(order) {
		k = len(order)
	}
	out := make([]Product, k)
	for i := 0; i < k; i++ {
		out[i] = r.products[order[i]]
	}
	return out
}

// Cursor walks a filtered view of the catalog in shuffled order without
// repeating a product. Once exhausted it returns fewer items than asked for.
type Cursor struct {
	r *Reader

	mu    sync.Mutex
	order []int
	pos   int
}

// NewCursor creates a cursor over the products matching f.
func (r *Reader) NewCursor(f Filter, seed int64) *Cursor {
	return &Cursor{
		r:     r,
		order: shuffledOrder(r.Indices(f), seed),
	}
}

// Next returns up to n products and advances the cursor.
func (c *Cursor) Next(n int) []Product {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n <= 0 || c.pos >= len(c.order) {
		return nil
	}
	end := c.pos + n
	if end > len(c.order) {
		end = len(c.order)
	}
	out := make([]Product, 0, end-c.pos)
	for _, idx := range c.order[c.pos:end] {
		out = append(out, c.r.products[idx])
	}
	c.pos = end
	return out
}
