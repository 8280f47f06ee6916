package dedupe

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/twmb/murmur3"
)

// Filter is a small bloom filter used to suppress duplicate fan-out for
// the same event. It can report false positives, never false negatives,
// so it must only ever gate best-effort work.
type Filter struct {
	mu     sync.Mutex
	bits   *bitset.BitSet
	size   uint
	hashes uint
}

// New creates a filter with the given bit size and hash count.
func New(size, hashes uint) *Filter {
	if size == 0 {
		size = 1 << 16
	}
	if hashes == 0 {
		hashes = 3
	}
	return &Filter{
		bits:   bitset.New(size),
		size:   size,
		hashes: hashes,
	}
}

// TestAndSet marks the key as seen and reports whether it was probably
// seen before.
func (f *Filter) TestAndSet(key string) bool {
	h1, h2 := murmur3.StringSum128(key)

	f.mu.Lock()
	defer f.mu.Unlock()

	seen := true
	for i := uint(0); i < f.hashes; i++ {
		pos := uint(h1+uint64(i)*h2) % f.size
		if !f.bits.Test(pos) {
			seen = false
		}
		f.bits.Set(pos)
	}
	return seen
}

// Reset clears the filter.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bits.ClearAll()
}
