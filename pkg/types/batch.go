package types

import "fmt"

// Batch is the unit of work handed to the archive writer: a set of records
// with their cutout image stacks and scalar metadata, all aligned by index.
type Batch struct {
	// Side is the cutout side length in pixels; every image in the batch
	// is a Side*Side row-major float32 array.
	Side int

	// Flux holds one flux cutout per record
	Flux [][]float32

	// Ivar holds one inverse-variance cutout per record
	Ivar [][]float32

	// ObjectID holds the source identifier for each record
	ObjectID []int64

	// RA and Dec are the cutout center positions in degrees
	RA  []float64
	Dec []float64

	// Healpix is the partition key assigned to each record
	Healpix []int64

	// Scalars carries the retained catalog metadata columns
	Scalars []Column
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	return len(b.ObjectID)
}

// Validate checks that all arrays in the batch share the same length and
// that every image has exactly Side*Side pixels.
func (b *Batch) Validate() error {
	n := b.Len()
	if len(b.Flux) != n || len(b.Ivar) != n {
		return fmt.Errorf("types: batch image stacks have %d/%d entries, want %d", len(b.Flux), len(b.Ivar), n)
	}
	if len(b.RA) != n || len(b.Dec) != n || len(b.Healpix) != n {
		return fmt.Errorf("types: batch position arrays misaligned with %d records", n)
	}
	want := b.Side * b.Side
	for i := 0; i < n; i++ {
		if len(b.Flux[i]) != want || len(b.Ivar[i]) != want {
			return fmt.Errorf("types: cutout %d has %d/%d pixels, want %d", i, len(b.Flux[i]), len(b.Ivar[i]), want)
		}
	}
	for i := range b.Scalars {
		if b.Scalars[i].Len() != n {
			return fmt.Errorf("types: scalar column %q has %d values, want %d", b.Scalars[i].Name, b.Scalars[i].Len(), n)
		}
	}
	return nil
}

// Take returns a new batch holding the records at the given indices,
// in the given order.
func (b *Batch) Take(indices []int) *Batch {
	out := &Batch{
		Side:     b.Side,
		Flux:     make([][]float32, len(indices)),
		Ivar:     make([][]float32, len(indices)),
		ObjectID: make([]int64, len(indices)),
		RA:       make([]float64, len(indices)),
		Dec:      make([]float64, len(indices)),
		Healpix:  make([]int64, len(indices)),
		Scalars:  make([]Column, len(b.Scalars)),
	}
	for j, i := range indices {
		out.Flux[j] = b.Flux[i]
		out.Ivar[j] = b.Ivar[i]
		out.ObjectID[j] = b.ObjectID[i]
		out.RA[j] = b.RA[i]
		out.Dec[j] = b.Dec[i]
		out.Healpix[j] = b.Healpix[i]
	}
	for k := range b.Scalars {
		out.Scalars[k] = b.Scalars[k].Take(indices)
	}
	return out
}

// GroupByHealpix splits the batch into per-partition sub-batches keyed by
// the healpix partition key.
func (b *Batch) GroupByHealpix() map[int64]*Batch {
	groups := make(map[int64][]int)
	for i, key := range b.Healpix {
		groups[key] = append(groups[key], i)
	}
	out := make(map[int64]*Batch, len(groups))
	for key, indices := range groups {
		out[key] = b.Take(indices)
	}
	return out
}
