// Package assign maps catalog records to the source tiles whose
// footprints cover their sky positions. Assignment is returned as a
// mapping keyed by object identifier; the catalog itself is never
// mutated, so per-tile subsets can be processed concurrently without
// aliasing the full catalog.
package assign

import (
	"github.com/starcut/starcut/internal/tile"
	"github.com/starcut/starcut/pkg/types"
)

// Assignment holds the record-to-tile mapping for one catalog.
type Assignment struct {
	byObject map[int64]string
	byTile   map[string][]int64
	total    int
}

// Assign matches each record against the supplied tile footprints.
// When footprints overlap, the first matching tile in the supplied order
// wins, so the result is deterministic for a stable input order.
// Records covered by no footprint receive no assignment.
func Assign(records []types.Record, footprints []tile.Footprint) *Assignment {
	a := &Assignment{
		byObject: make(map[int64]string),
		byTile:   make(map[string][]int64),
		total:    len(records),
	}
	for _, rec := range records {
		for _, fp := range footprints {
			if fp.Contains(rec.RA, rec.Dec) {
				a.byObject[rec.ObjectID] = fp.Tile
				a.byTile[fp.Tile] = append(a.byTile[fp.Tile], rec.ObjectID)
				break
			}
		}
	}
	return a
}

// Tile returns the tile assigned to the given object, if any.
func (a *Assignment) Tile(objectID int64) (string, bool) {
	name, ok := a.byObject[objectID]
	return name, ok
}

// ObjectsForTile returns the identifiers assigned to a tile, in catalog
// order.
func (a *Assignment) ObjectsForTile(name string) []int64 {
	return a.byTile[name]
}

// Matched returns the number of records with an assigned tile.
func (a *Assignment) Matched() int {
	return len(a.byObject)
}

// HitRate returns the fraction of records with an assigned tile.
func (a *Assignment) HitRate() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(len(a.byObject)) / float64(a.total)
}
