// Package bloom provides a probabilistic membership filter over object
// identifiers. Each partition file carries one serialized filter so
// readers can skip files that definitely do not hold a requested object.
package bloom

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/golang/snappy"
	"github.com/spaolacci/murmur3"
	"github.com/starcut/starcut/internal/errors"
)

// Filter tests object identifier membership with a configurable false
// positive rate. It never reports a false negative: if an identifier was
// added, MightContain always returns true.
type Filter struct {
	mu        sync.RWMutex
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// DefaultFPR is the target false positive rate when none is given.
const DefaultFPR = 0.01

// New creates a filter with the given raw sizing.
func New(numBits, numHashes int) *Filter {
	if numBits <= 0 {
		numBits = 1024
	}
	if numHashes <= 0 {
		numHashes = 7
	}

	numWords := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// NewWithEstimates creates a filter sized for the expected number of
// identifiers and target false positive rate.
func NewWithEstimates(expectedItems int, targetFPR float64) *Filter {
	return New(OptimalParameters(expectedItems, targetFPR))
}

// OptimalParameters computes the standard bloom sizing:
//
//	m = -n * ln(p) / (ln(2)^2)
//	k = (m/n) * ln(2)
func OptimalParameters(expectedItems int, targetFPR float64) (numBits, numHashes int) {
	if expectedItems <= 0 {
		expectedItems = 1000
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = DefaultFPR
	}

	n := float64(expectedItems)
	m := -n * math.Log(targetFPR) / (math.Ln2 * math.Ln2)
	k := (m / n) * math.Ln2

	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil(k))
	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add records an object identifier in the filter.
func (f *Filter) Add(objectID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h1, h2 := hashID(objectID)
	for i := uint64(0); i < f.numHashes; i++ {
		// Double hashing: h(i) = h1 + i*h2
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// MightContain reports whether the identifier may have been added.
// False means definitely absent.
func (f *Filter) MightContain(objectID int64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	h1, h2 := hashID(objectID)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

func hashID(objectID int64) (uint64, uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(objectID))
	h := murmur3.New128()
	h.Write(buf[:])
	return h.Sum128()
}

// Count returns the number of identifiers added.
func (f *Filter) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// FalsePositiveRate estimates the current false positive rate from the
// fill ratio: (1 - e^(-k*n/m))^k.
func (f *Filter) FalsePositiveRate() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.count == 0 {
		return 0
	}
	k := float64(f.numHashes)
	n := float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}

// Marshal serializes the filter: numBits, numHashes and count as
// little-endian uint64, then the snappy-compressed bit words. Sparse
// filters compress well, which keeps the per-file metadata small.
func (f *Filter) Marshal() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()

	raw := make([]byte, 8*len(f.bits))
	for i, w := range f.bits {
		binary.LittleEndian.PutUint64(raw[8*i:], w)
	}
	compressed := snappy.Encode(nil, raw)

	out := make([]byte, 24+len(compressed))
	binary.LittleEndian.PutUint64(out[0:], f.numBits)
	binary.LittleEndian.PutUint64(out[8:], f.numHashes)
	binary.LittleEndian.PutUint64(out[16:], f.count)
	copy(out[24:], compressed)
	return out
}

// Unmarshal reconstructs a filter serialized by Marshal.
func Unmarshal(data []byte) (*Filter, error) {
	if len(data) < 24 {
		return nil, errors.NewInternalError("bloom filter payload too short", nil)
	}
	numBits := binary.LittleEndian.Uint64(data[0:])
	numHashes := binary.LittleEndian.Uint64(data[8:])
	count := binary.LittleEndian.Uint64(data[16:])
	if numBits == 0 || numHashes == 0 {
		return nil, errors.NewInternalError("bloom filter has invalid parameters", nil)
	}

	raw, err := snappy.Decode(nil, data[24:])
	if err != nil {
		return nil, errors.NewInternalError("bloom filter payload corrupt", err)
	}
	numWords := (numBits + 63) / 64
	if uint64(len(raw)) < numWords*8 {
		return nil, errors.NewInternalError("bloom filter payload truncated", nil)
	}

	f := &Filter{
		bits:      make([]uint64, numWords),
		numBits:   numBits,
		numHashes: numHashes,
		count:     count,
	}
	for i := range f.bits {
		f.bits[i] = binary.LittleEndian.Uint64(raw[8*i:])
	}
	return f, nil
}
