// Package randoms generates control catalogs of random sky positions
// within tile footprints, matched in size to the real sample.
package randoms

import (
	"log/slog"
	"math/rand"

	"github.com/starcut/starcut/internal/tile"
	"github.com/starcut/starcut/pkg/types"
)

// IDNamespace is the base offset for synthesized identifiers. Catalog
// identifiers live well below this bit, so random-sample identifiers are
// disjoint from every real object.
const IDNamespace = int64(1) << 60

// DefaultMaxRetries bounds resampling of positions that land in masked
// image regions. After the bound is exhausted the last candidate is
// accepted with a warning rather than looping forever.
const DefaultMaxRetries = 100

// Sampler draws uniformly distributed random positions within tile
// footprints. It is seeded for reproducible control catalogs.
type Sampler struct {
	rng        *rand.Rand
	maxRetries int
	nextSeq    int64
}

// NewSampler creates a sampler with the given seed.
func NewSampler(seed int64) *Sampler {
	return &Sampler{
		rng:        rand.New(rand.NewSource(seed)),
		maxRetries: DefaultMaxRetries,
	}
}

// SetMaxRetries overrides the masked-region retry bound.
func (s *Sampler) SetMaxRetries(n int) {
	if n > 0 {
		s.maxRetries = n
	}
}

// Sample generates count random records inside the tile's footprint.
// Positions are drawn uniformly over the tile's pixel grid and mapped
// back to sky coordinates through the inverse transform. Candidates in
// masked regions (weight <= 0 or NaN flux) are resampled up to the retry
// bound, then accepted with a warning.
func (s *Sampler) Sample(t *tile.Tile, count int) []types.Record {
	records := make([]types.Record, 0, count)
	for i := 0; i < count; i++ {
		x, y := s.drawPixel(t)
		retries := 0
		for t.Masked(int(x), int(y)) && retries < s.maxRetries {
			x, y = s.drawPixel(t)
			retries++
		}
		if retries >= s.maxRetries && t.Masked(int(x), int(y)) {
			slog.Warn("random sample retry bound exhausted, accepting masked position",
				"tile", t.Name, "retries", retries)
		}

		ra, dec := t.WCS.PixToSky(x, y)
		records = append(records, types.Record{
			ObjectID: s.nextID(),
			RA:       ra,
			Dec:      dec,
		})
	}
	return records
}

// drawPixel draws a uniform position over the tile's pixel bounding box.
func (s *Sampler) drawPixel(t *tile.Tile) (float64, float64) {
	return s.rng.Float64() * float64(t.Width), s.rng.Float64() * float64(t.Height)
}

// nextID returns the next synthesized identifier in the reserved
// namespace. Identifiers are unique across every tile sampled by this
// sampler.
func (s *Sampler) nextID() int64 {
	id := IDNamespace + s.nextSeq
	s.nextSeq++
	return id
}
