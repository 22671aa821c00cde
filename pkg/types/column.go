package types

import "fmt"

// ColumnKind identifies the value type carried by a scalar column.
type ColumnKind int

const (
	// KindFloat stores float64 values (missing values are NaN)
	KindFloat ColumnKind = iota

	// KindInt stores int64 values
	KindInt

	// KindString stores string values (missing values are the literal "NaN")
	KindString
)

// String returns the kind name.
func (k ColumnKind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("ColumnKind(%d)", int(k))
	}
}

// Column is a named scalar column aligned with a record slice.
// Exactly one of the value slices is populated, selected by Kind.
type Column struct {
	Name    string     `json:"name"`
	Kind    ColumnKind `json:"kind"`
	Floats  []float64  `json:"floats,omitempty"`
	Ints    []int64    `json:"ints,omitempty"`
	Strings []string   `json:"strings,omitempty"`
}

// Len returns the number of values in the column.
func (c *Column) Len() int {
	switch c.Kind {
	case KindFloat:
		return len(c.Floats)
	case KindInt:
		return len(c.Ints)
	default:
		return len(c.Strings)
	}
}

// Value returns the value at index i as an interface suitable for SQL binding.
func (c *Column) Value(i int) interface{} {
	switch c.Kind {
	case KindFloat:
		return c.Floats[i]
	case KindInt:
		return c.Ints[i]
	default:
		return c.Strings[i]
	}
}

// Take returns a new column holding the values at the given indices,
// in the given order.
func (c *Column) Take(indices []int) Column {
	out := Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case KindFloat:
		out.Floats = make([]float64, len(indices))
		for j, i := range indices {
			out.Floats[j] = c.Floats[i]
		}
	case KindInt:
		out.Ints = make([]int64, len(indices))
		for j, i := range indices {
			out.Ints[j] = c.Ints[i]
		}
	default:
		out.Strings = make([]string, len(indices))
		for j, i := range indices {
			out.Strings[j] = c.Strings[i]
		}
	}
	return out
}
