package voltammogram

import (
	"errors"
	"iter"
	"sync"
)

// DefaultCapacity is the number of samples a buffer holds unless configured otherwise.
const DefaultCapacity = 5000

// ErrFull is returned by Append once the buffer holds Cap() samples.
var ErrFull = errors.New("voltammogram: buffer full")

// Sample is one recorded point of a voltammogram.
type Sample struct {
	Voltage   int16   // Step potential (mV)
	Current   float32 // Differential current (µA, nA with the open-circuit gain)
	Timestamp uint32  // Monotonic clock reading (ms) when the point was stored
}

// Record is the read-side view of a Sample as handed to consumers.
type Record struct {
	Index         int
	Current       float32
	Volts         float32 // Step potential in volts
	ElapsedMillis uint32  // Time since the first sample of the voltammogram
}

// Buffer is a fixed capacity, insertion ordered store of samples.
//
// Slots are preallocated; Append never grows the backing array and refuses
// writes once the buffer is full. Reset clears every slot back to the zero
// Sample so stale points are never observable.
type Buffer struct {
	mu      sync.RWMutex
	samples []Sample
	n       int
}

// New creates a buffer that holds up to capacity samples.
// A non-positive capacity selects DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{samples: make([]Sample, capacity)}
}

// Reset clears all slots and counters.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.samples)
	b.n = 0
}

// Append stores s at the current index and advances it.
func (b *Buffer) Append(s Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.n >= len(b.samples) {
		return ErrFull
	}
	b.samples[b.n] = s
	b.n++
	return nil
}

// Len returns the number of valid samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.n
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.samples)
}

// At returns the i-th recorded sample.
func (b *Buffer) At(i int) (Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if i < 0 || i >= b.n {
		return Sample{}, false
	}
	return b.samples[i], true
}

// Samples returns a copy of the recorded samples, ordered first to last.
func (b *Buffer) Samples() []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Sample, b.n)
	copy(result, b.samples[:b.n])
	return result
}

// All yields the recorded samples in insertion order.
// The sequence works on a snapshot taken when iteration starts, so it can be
// ranged over any number of times.
func (b *Buffer) All() iter.Seq2[int, Sample] {
	return func(yield func(int, Sample) bool) {
		for i, s := range b.Samples() {
			if !yield(i, s) {
				return
			}
		}
	}
}

// Records yields the consumer view of the voltammogram. Elapsed time is
// computed against the first sample at read time.
func (b *Buffer) Records() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		samples := b.Samples()
		if len(samples) == 0 {
			return
		}
		t0 := samples[0].Timestamp
		for i, s := range samples {
			if !yield(ToRecord(i, s, t0)) {
				return
			}
		}
	}
}

// ToRecord converts the i-th sample into a Record relative to t0.
// The subtraction is modulo 2^32 so a clock wrap inside a sweep is harmless.
func ToRecord(i int, s Sample, t0 uint32) Record {
	return Record{
		Index:         i,
		Current:       s.Current,
		Volts:         float32(s.Voltage) / 1000,
		ElapsedMillis: s.Timestamp - t0,
	}
}

// Collect gathers Records into a slice.
func Collect(seq iter.Seq[Record]) []Record {
	var out []Record
	for r := range seq {
		out = append(out, r)
	}
	return out
}
