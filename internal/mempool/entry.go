package mempool

import (
	"math/bits"
	"time"

	"github.com/goatnetwork/bond-aevum/internal/types"
)

// Entry is one admitted transaction.
type Entry struct {
	Tx      *types.Transaction
	Hash    types.Hash
	Arrival time.Time
	Fee     uint64
	Size    int
	// Spends are the outputs the transaction consumes plus the claim marker of a
	// mint or burn. Two entries never share one.
	Spends      []types.UtxoId
	LastTouched time.Time

	seq   uint64
	index int
}

// FeeRate is the fee per byte rounded down, for display. Ordering uses
// CompareFeeRate, which is exact.
func (e *Entry) FeeRate() uint64 {
	if e.Size == 0 {
		return 0
	}
	return e.Fee / uint64(e.Size)
}

// CompareFeeRate compares feeA/sizeA with feeB/sizeB without rounding.
func CompareFeeRate(feeA uint64, sizeA int, feeB uint64, sizeB int) int {
	hiA, loA := bits.Mul64(feeA, uint64(sizeB))
	hiB, loB := bits.Mul64(feeB, uint64(sizeA))
	switch {
	case hiA != hiB:
		if hiA < hiB {
			return -1
		}
		return 1
	case loA != loB:
		if loA < loB {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func compareEntryFeeRate(a, b *Entry) int {
	return CompareFeeRate(a.Fee, a.Size, b.Fee, b.Size)
}

// ranksBefore is the block template order: fee rate descending, then earliest
// arrival.
func ranksBefore(a, b *Entry) bool {
	if c := compareEntryFeeRate(a, b); c != 0 {
		return c > 0
	}
	if !a.Arrival.Equal(b.Arrival) {
		return a.Arrival.Before(b.Arrival)
	}
	return a.seq < b.seq
}

// evictsBefore orders entries by eviction under the fee policy: lowest fee rate
// first, then the longest resident.
func evictsBefore(a, b *Entry) bool {
	if c := compareEntryFeeRate(a, b); c != 0 {
		return c < 0
	}
	if !a.Arrival.Equal(b.Arrival) {
		return a.Arrival.Before(b.Arrival)
	}
	return a.seq < b.seq
}

// touchedBefore orders entries by eviction under the LRU policy.
func touchedBefore(a, b *Entry) bool {
	if !a.LastTouched.Equal(b.LastTouched) {
		return a.LastTouched.Before(b.LastTouched)
	}
	return a.seq < b.seq
}

// evictionHeap keeps the next eviction victim at the root. It implements
// container/heap.Interface.
type evictionHeap struct {
	entries []*Entry
	less    func(a, b *Entry) bool
}

func (h *evictionHeap) Len() int { return len(h.entries) }

func (h *evictionHeap) Less(i, j int) bool { return h.less(h.entries[i], h.entries[j]) }

func (h *evictionHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].index = i
	h.entries[j].index = j
}

func (h *evictionHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(h.entries)
	h.entries = append(h.entries, e)
}

func (h *evictionHeap) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	h.entries = old[:n-1]
	return e
}

func (h *evictionHeap) peek() *Entry {
	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[0]
}
