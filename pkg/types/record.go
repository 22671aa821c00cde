// Package types provides core data types for starcut dataset builds.
package types

import "fmt"

// Record represents a single catalog source.
type Record struct {
	// ObjectID uniquely identifies the source within its catalog
	ObjectID int64 `json:"object_id"`

	// RA is the right ascension of the source in degrees [0, 360)
	RA float64 `json:"ra"`

	// Dec is the declination of the source in degrees [-90, 90]
	Dec float64 `json:"dec"`
}

// Validate checks that the record's sky position is within valid ranges.
func (r Record) Validate() error {
	if r.RA < 0 || r.RA >= 360 {
		return fmt.Errorf("types: RA %v out of range [0, 360) for object %d", r.RA, r.ObjectID)
	}
	if r.Dec < -90 || r.Dec > 90 {
		return fmt.Errorf("types: Dec %v out of range [-90, 90] for object %d", r.Dec, r.ObjectID)
	}
	return nil
}
