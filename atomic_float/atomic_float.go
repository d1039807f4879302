package atomic_float

import (
	"math"
	"sync/atomic"
)

// AtomicFloat64 is a float64 for lock-free reads and writes. The bits live in an
// atomic.Uint64, which avoids the unsafe pointer casts an older version of this
// needed and is safe to embed by value in other structs (but not to copy after use).
//
// The exploration rate and per-game scores are the two users: both are written by
// one loop and read by others (stats endpoint, logging), so a mutex would be overkill.
type AtomicFloat64 struct {
	bits atomic.Uint64
}

// NewAtomicFloat64 encapsulates a float64 for atomic operations.
func NewAtomicFloat64(val float64) *AtomicFloat64 {
	af := &AtomicFloat64{}
	af.bits.Store(math.Float64bits(val))
	return af
}

// AtomicRead loads the current value.
func (af *AtomicFloat64) AtomicRead() float64 {
	return math.Float64frombits(af.bits.Load())
}

// AtomicStore unconditionally replaces the value.
func (af *AtomicFloat64) AtomicStore(val float64) {
	af.bits.Store(math.Float64bits(val))
}

// AtomicAdd attempts a single compare-and-swap of value+addend. If another writer
// changed the value in between, nothing is written and succeeded is false; the
// caller decides whether to retry, recalculate, or drop the update.
func (af *AtomicFloat64) AtomicAdd(addend float64) (newVal float64, succeeded bool) {
	old := af.bits.Load()
	newVal = math.Float64frombits(old) + addend
	succeeded = af.bits.CompareAndSwap(old, math.Float64bits(newVal))
	return
}

// Apply replaces the value with fn(value), retrying until no concurrent writer
// interferes, and returns the stored result. fn must be pure since it may run
// more than once.
func (af *AtomicFloat64) Apply(fn func(float64) float64) float64 {
	for {
		old := af.bits.Load()
		newVal := fn(math.Float64frombits(old))
		if af.bits.CompareAndSwap(old, math.Float64bits(newVal)) {
			return newVal
		}
	}
}
