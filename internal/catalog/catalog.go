// Package catalog loads source catalogs from tabular CSV files and
// harmonizes them for cutout generation: scalar metadata columns are
// typed, morphology tables can be merged in by identifier, and flagged
// artifacts filtered out.
package catalog

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/starcut/starcut/internal/errors"
	"github.com/starcut/starcut/pkg/types"
)

// Options names the well-known columns of a catalog file.
type Options struct {
	// IDColumn is the unique identifier column (integer valued)
	IDColumn string

	// RAColumn and DecColumn are the position columns in degrees
	RAColumn  string
	DecColumn string
}

// DefaultOptions returns the conventional column names.
func DefaultOptions() Options {
	return Options{
		IDColumn:  "object_id",
		RAColumn:  "RA",
		DecColumn: "DEC",
	}
}

// Catalog is an in-memory source catalog: one record per row plus the
// retained scalar metadata columns, aligned by index.
type Catalog struct {
	Records []types.Record
	Scalars []types.Column

	index map[int64]int // object ID -> row
}

// Load reads a catalog from a CSV file. Every column other than the
// identifier and position columns is retained as a typed scalar column:
// integer if all values parse as integers, float if all values parse as
// floats (missing values become NaN), string otherwise (missing values
// become the literal "NaN").
func Load(path string, opts Options) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeCatalogParse,
			fmt.Sprintf("cannot open catalog %s", path), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = false
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeCatalogParse,
			fmt.Sprintf("cannot parse catalog %s", path), err)
	}
	if len(rows) < 1 {
		return nil, errors.NewCatalogError(errors.CodeCatalogParse,
			fmt.Sprintf("catalog %s has no header row", path), nil)
	}

	header := rows[0]
	data := rows[1:]

	idCol := indexOf(header, opts.IDColumn)
	raCol := indexOf(header, opts.RAColumn)
	decCol := indexOf(header, opts.DecColumn)
	if idCol < 0 || raCol < 0 || decCol < 0 {
		return nil, errors.NewCatalogError(errors.CodeMissingColumn,
			fmt.Sprintf("catalog %s missing one of columns %q, %q, %q",
				path, opts.IDColumn, opts.RAColumn, opts.DecColumn), nil)
	}

	c := &Catalog{index: make(map[int64]int, len(data))}
	for i, row := range data {
		id, err := strconv.ParseInt(strings.TrimSpace(row[idCol]), 10, 64)
		if err != nil {
			return nil, errors.NewCatalogError(errors.CodeCatalogParse,
				fmt.Sprintf("catalog %s row %d: bad identifier %q", path, i+1, row[idCol]), err)
		}
		ra, err1 := strconv.ParseFloat(strings.TrimSpace(row[raCol]), 64)
		dec, err2 := strconv.ParseFloat(strings.TrimSpace(row[decCol]), 64)
		if err1 != nil || err2 != nil {
			return nil, errors.NewCatalogError(errors.CodeCatalogParse,
				fmt.Sprintf("catalog %s row %d: bad position", path, i+1), nil)
		}
		rec := types.Record{ObjectID: id, RA: ra, Dec: dec}
		if err := rec.Validate(); err != nil {
			return nil, errors.NewCatalogError(errors.CodeInvalidPosition,
				fmt.Sprintf("catalog %s row %d", path, i+1), err)
		}
		if _, dup := c.index[id]; dup {
			return nil, errors.NewCatalogError(errors.CodeDuplicateObject,
				fmt.Sprintf("catalog %s: identifier %d appears more than once", path, id), nil)
		}
		c.index[id] = len(c.Records)
		c.Records = append(c.Records, rec)
	}

	for col, name := range header {
		if col == idCol || col == raCol || col == decCol {
			continue
		}
		values := make([]string, len(data))
		for i, row := range data {
			values[i] = strings.TrimSpace(row[col])
		}
		c.Scalars = append(c.Scalars, typeColumn(name, values))
	}

	return c, nil
}

// indexOf returns the position of name in header, or -1.
func indexOf(header []string, name string) int {
	for i, h := range header {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	return -1
}

// typeColumn infers the narrowest column kind that fits every value.
func typeColumn(name string, values []string) types.Column {
	isInt, isFloat := true, true
	for _, v := range values {
		if v == "" {
			isInt = false
			continue
		}
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			isInt = false
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			isFloat = false
		}
	}

	switch {
	case isInt:
		col := types.Column{Name: name, Kind: types.KindInt, Ints: make([]int64, len(values))}
		for i, v := range values {
			col.Ints[i], _ = strconv.ParseInt(v, 10, 64)
		}
		return col
	case isFloat:
		col := types.Column{Name: name, Kind: types.KindFloat, Floats: make([]float64, len(values))}
		for i, v := range values {
			if v == "" {
				col.Floats[i] = math.NaN()
				continue
			}
			col.Floats[i], _ = strconv.ParseFloat(v, 64)
		}
		return col
	default:
		col := types.Column{Name: name, Kind: types.KindString, Strings: make([]string, len(values))}
		for i, v := range values {
			if v == "" {
				col.Strings[i] = "NaN"
				continue
			}
			col.Strings[i] = v
		}
		return col
	}
}

// Len returns the number of records.
func (c *Catalog) Len() int {
	return len(c.Records)
}

// Row returns the row index for an object identifier.
func (c *Catalog) Row(objectID int64) (int, bool) {
	i, ok := c.index[objectID]
	return i, ok
}

// Scalar returns the named scalar column, if present.
func (c *Catalog) Scalar(name string) (*types.Column, bool) {
	for i := range c.Scalars {
		if c.Scalars[i].Name == name {
			return &c.Scalars[i], true
		}
	}
	return nil, false
}

// Take returns a new catalog holding the rows at the given indices.
func (c *Catalog) Take(indices []int) *Catalog {
	out := &Catalog{
		Records: make([]types.Record, len(indices)),
		Scalars: make([]types.Column, len(c.Scalars)),
		index:   make(map[int64]int, len(indices)),
	}
	for j, i := range indices {
		out.Records[j] = c.Records[i]
		out.index[c.Records[i].ObjectID] = j
	}
	for k := range c.Scalars {
		out.Scalars[k] = c.Scalars[k].Take(indices)
	}
	return out
}

// Select returns the sub-catalog for the given object identifiers,
// preserving the order in which they are supplied. Unknown identifiers
// are skipped.
func (c *Catalog) Select(objectIDs []int64) *Catalog {
	indices := make([]int, 0, len(objectIDs))
	for _, id := range objectIDs {
		if i, ok := c.index[id]; ok {
			indices = append(indices, i)
		}
	}
	return c.Take(indices)
}

// MergeScalars left-joins another catalog's scalar columns by object
// identifier. Rows with no counterpart receive NaN (or "NaN" for string
// columns). Columns whose names collide with existing ones are skipped
// with a warning.
func (c *Catalog) MergeScalars(other *Catalog) {
	for _, col := range other.Scalars {
		if _, exists := c.Scalar(col.Name); exists {
			slog.Warn("merge skipping duplicate column", "column", col.Name)
			continue
		}
		merged := types.Column{Name: col.Name, Kind: col.Kind}
		switch col.Kind {
		case types.KindInt:
			// Integer columns cannot represent missing values; promote
			// to float so unmatched rows can carry NaN.
			merged.Kind = types.KindFloat
			merged.Floats = make([]float64, c.Len())
			for i, rec := range c.Records {
				if j, ok := other.index[rec.ObjectID]; ok {
					merged.Floats[i] = float64(col.Ints[j])
				} else {
					merged.Floats[i] = math.NaN()
				}
			}
		case types.KindFloat:
			merged.Floats = make([]float64, c.Len())
			for i, rec := range c.Records {
				if j, ok := other.index[rec.ObjectID]; ok {
					merged.Floats[i] = col.Floats[j]
				} else {
					merged.Floats[i] = math.NaN()
				}
			}
		default:
			merged.Strings = make([]string, c.Len())
			for i, rec := range c.Records {
				if j, ok := other.index[rec.ObjectID]; ok {
					merged.Strings[i] = col.Strings[j]
				} else {
					merged.Strings[i] = "NaN"
				}
			}
		}
		c.Scalars = append(c.Scalars, merged)
	}
}

// FilterFlagged returns a new catalog without the rows whose named
// column holds a truthy value (nonzero number, or the strings "true",
// "True", "1"). Catalogs without the column are returned unchanged.
func (c *Catalog) FilterFlagged(column string) *Catalog {
	col, ok := c.Scalar(column)
	if !ok {
		return c
	}
	keep := make([]int, 0, c.Len())
	for i := 0; i < c.Len(); i++ {
		if !truthy(col, i) {
			keep = append(keep, i)
		}
	}
	return c.Take(keep)
}

func truthy(col *types.Column, i int) bool {
	switch col.Kind {
	case types.KindInt:
		return col.Ints[i] != 0
	case types.KindFloat:
		return col.Floats[i] != 0 && !math.IsNaN(col.Floats[i])
	default:
		switch strings.ToLower(col.Strings[i]) {
		case "true", "1":
			return true
		default:
			return false
		}
	}
}
