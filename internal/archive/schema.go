package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/starcut/starcut/internal/errors"
	"github.com/starcut/starcut/pkg/types"
)

// SchemaPolicy controls what an append does when a batch carries scalar
// columns the partition's fixed schema does not know.
type SchemaPolicy int

const (
	// PolicyWarnDrop silently discards unknown batch columns after
	// logging a warning. This is the default.
	PolicyWarnDrop SchemaPolicy = iota

	// PolicyFailClosed rejects the whole append on any unknown column.
	PolicyFailClosed
)

func (p SchemaPolicy) String() string {
	switch p {
	case PolicyWarnDrop:
		return "warn-drop"
	case PolicyFailClosed:
		return "fail-closed"
	default:
		return fmt.Sprintf("SchemaPolicy(%d)", int(p))
	}
}

// ParseSchemaPolicy maps a configuration string to a policy.
func ParseSchemaPolicy(s string) (SchemaPolicy, error) {
	switch s {
	case "", "warn-drop":
		return PolicyWarnDrop, nil
	case "fail-closed":
		return PolicyFailClosed, nil
	default:
		return 0, errors.NewArchiveError(errors.CodeSchemaMismatch,
			fmt.Sprintf("unknown schema policy %q", s), nil)
	}
}

// ColumnDef describes one column of a partition's fixed schema.
type ColumnDef struct {
	Name        string
	SQLType     string
	Description string
}

// Schema is the ordered column set of a partition file, fixed when the
// file is first created.
type Schema struct {
	Columns []ColumnDef
}

// Column looks up a column definition by name.
func (s Schema) Column(name string) (ColumnDef, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// Core columns present in every partition, in storage order.
var coreColumns = []ColumnDef{
	{Name: "object_id", SQLType: "INTEGER", Description: "unique source identifier"},
	{Name: "RA", SQLType: "REAL", Description: "cutout center right ascension [deg]"},
	{Name: "DEC", SQLType: "REAL", Description: "cutout center declination [deg]"},
	{Name: "healpix", SQLType: "INTEGER", Description: "nested healpix partition key"},
	{Name: "image_flux", SQLType: "BLOB", Description: "snappy-compressed float32 flux cutout"},
	{Name: "image_ivar", SQLType: "BLOB", Description: "snappy-compressed float32 inverse-variance cutout"},
}

func sqlTypeFor(kind types.ColumnKind) string {
	switch kind {
	case types.KindInt:
		return "INTEGER"
	case types.KindFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

// schemaForBatch derives the fixed schema a new partition gets from the
// first batch written to it: the core columns followed by the batch's
// scalar columns in order.
func schemaForBatch(b *types.Batch) Schema {
	s := Schema{Columns: append([]ColumnDef(nil), coreColumns...)}
	for i := range b.Scalars {
		col := &b.Scalars[i]
		s.Columns = append(s.Columns, ColumnDef{
			Name:        col.Name,
			SQLType:     sqlTypeFor(col.Kind),
			Description: "catalog scalar column",
		})
	}
	return s
}

// reconcile compares a batch against a partition's fixed schema and
// returns the indices of the batch scalar columns to write, in schema
// order, plus the names of any dropped columns.
//
// Unknown batch columns are dropped or rejected per the policy. Schema
// scalar columns absent from the batch, or present with a different
// type, always reject the append.
func reconcile(s Schema, b *types.Batch, policy SchemaPolicy) (scalarOrder []int, dropped []string, err error) {
	byName := make(map[string]int, len(b.Scalars))
	for i := range b.Scalars {
		byName[b.Scalars[i].Name] = i
	}

	for _, def := range s.Columns[len(coreColumns):] {
		i, ok := byName[def.Name]
		if !ok {
			return nil, nil, errors.NewArchiveError(errors.CodeSchemaMismatch,
				fmt.Sprintf("batch missing schema column %q", def.Name), nil)
		}
		if got := sqlTypeFor(b.Scalars[i].Kind); got != def.SQLType {
			return nil, nil, errors.NewArchiveError(errors.CodeSchemaMismatch,
				fmt.Sprintf("column %q is %s in batch but %s in partition", def.Name, got, def.SQLType), nil)
		}
		scalarOrder = append(scalarOrder, i)
		delete(byName, def.Name)
	}

	for name := range byName {
		if policy == PolicyFailClosed {
			return nil, nil, errors.NewArchiveError(errors.CodeSchemaMismatch,
				fmt.Sprintf("batch column %q not in partition schema", name), nil)
		}
		dropped = append(dropped, name)
	}
	for _, name := range dropped {
		slog.Warn("dropping batch column not in partition schema", "column", name)
	}
	return scalarOrder, dropped, nil
}

// createPartition initializes a fresh partition database: the cutouts
// table, the column dictionary and the metadata table.
func createPartition(ctx context.Context, db *sql.DB, s Schema, side int) error {
	colsSQL := ""
	for i, c := range s.Columns {
		if i > 0 {
			colsSQL += ", "
		}
		colsSQL += fmt.Sprintf("%q %s", c.Name, c.SQLType)
	}
	stmts := []string{
		fmt.Sprintf("CREATE TABLE cutouts (%s)", colsSQL),
		"CREATE INDEX idx_cutouts_object ON cutouts(object_id)",
		`CREATE TABLE _starcut_columns (
			position INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			sql_type TEXT NOT NULL,
			description TEXT NOT NULL
		)`,
		`CREATE TABLE _starcut_meta (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL
		) WITHOUT ROWID`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.NewArchiveError(errors.CodeCorruptGroup,
				"cannot initialize partition tables", err)
		}
	}

	insert, err := db.PrepareContext(ctx,
		"INSERT INTO _starcut_columns (position, name, sql_type, description) VALUES (?, ?, ?, ?)")
	if err != nil {
		return errors.NewArchiveError(errors.CodeCorruptGroup,
			"cannot record partition schema", err)
	}
	defer insert.Close()
	for i, c := range s.Columns {
		if _, err := insert.ExecContext(ctx, i, c.Name, c.SQLType, c.Description); err != nil {
			return errors.NewArchiveError(errors.CodeCorruptGroup,
				"cannot record partition schema", err)
		}
	}

	if _, err := db.ExecContext(ctx,
		"INSERT INTO _starcut_meta (key, value) VALUES (?, ?)",
		metaKeySide, fmt.Sprintf("%d", side)); err != nil {
		return errors.NewArchiveError(errors.CodeCorruptGroup,
			"cannot record cutout size", err)
	}
	return nil
}

// Metadata keys in _starcut_meta.
const (
	metaKeySide  = "cutout_side"
	metaKeyBloom = "bloom_filter"
)

// loadSchema reads the fixed schema back from a partition's column
// dictionary.
func loadSchema(ctx context.Context, db *sql.DB) (Schema, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT name, sql_type, description FROM _starcut_columns ORDER BY position")
	if err != nil {
		return Schema{}, errors.NewArchiveError(errors.CodeCorruptGroup,
			"cannot read partition schema", err)
	}
	defer rows.Close()

	var s Schema
	for rows.Next() {
		var c ColumnDef
		if err := rows.Scan(&c.Name, &c.SQLType, &c.Description); err != nil {
			return Schema{}, errors.NewArchiveError(errors.CodeCorruptGroup,
				"cannot decode partition schema", err)
		}
		s.Columns = append(s.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return Schema{}, errors.NewArchiveError(errors.CodeCorruptGroup,
			"cannot read partition schema", err)
	}
	if len(s.Columns) < len(coreColumns) {
		return Schema{}, errors.NewArchiveError(errors.CodeCorruptGroup,
			fmt.Sprintf("partition schema has only %d columns", len(s.Columns)), nil)
	}
	return s, nil
}

// loadSide reads the cutout side length stored in a partition.
func loadSide(ctx context.Context, db *sql.DB) (int, error) {
	var raw string
	err := db.QueryRowContext(ctx,
		"SELECT value FROM _starcut_meta WHERE key = ?", metaKeySide).Scan(&raw)
	if err != nil {
		return 0, errors.NewArchiveError(errors.CodeCorruptGroup,
			"partition missing cutout size metadata", err)
	}
	var side int
	if _, err := fmt.Sscanf(raw, "%d", &side); err != nil || side <= 0 {
		return 0, errors.NewArchiveError(errors.CodeCorruptGroup,
			fmt.Sprintf("partition has invalid cutout size %q", raw), err)
	}
	return side, nil
}
