package rows

import (
	"github.com/flintdb/flint/types"
	"github.com/pkg/errors"
)

// Row holds one value per schema column. A nil entry is SQL null.
type Row []any

// Schema describes the columns of a row stream or a table.
type Schema struct {
	columnNames []string
	columnTypes []types.ColumnType
	nameLookup  map[string]int
}

func NewSchema(columnNames []string, columnTypes []types.ColumnType) *Schema {
	if len(columnNames) != len(columnTypes) {
		panic("column names and types must have same length")
	}
	lookup := make(map[string]int, len(columnNames))
	for i, name := range columnNames {
		lookup[name] = i
	}
	return &Schema{
		columnNames: columnNames,
		columnTypes: columnTypes,
		nameLookup:  lookup,
	}
}

func (s *Schema) ColumnNames() []string {
	return s.columnNames
}

func (s *Schema) ColumnTypes() []types.ColumnType {
	return s.columnTypes
}

func (s *Schema) ColumnCount() int {
	return len(s.columnNames)
}

// ColumnIndex returns the index of the named column, or -1.
func (s *Schema) ColumnIndex(name string) int {
	idx, ok := s.nameLookup[name]
	if !ok {
		return -1
	}
	return idx
}

func (s *Schema) Equal(other *Schema) bool {
	if len(s.columnNames) != len(other.columnNames) {
		return false
	}
	for i, name := range s.columnNames {
		if other.columnNames[i] != name {
			return false
		}
		if !types.ColumnTypesEqual(s.columnTypes[i], other.columnTypes[i]) {
			return false
		}
	}
	return true
}

// Batch is an ordered set of rows sharing a schema.
type Batch struct {
	Schema *Schema
	Rows   []Row
}

func NewBatch(schema *Schema, rows ...Row) *Batch {
	return &Batch{Schema: schema, Rows: rows}
}

func (b *Batch) RowCount() int {
	return len(b.Rows)
}

func (b *Batch) AppendRow(row Row) error {
	if len(row) != b.Schema.ColumnCount() {
		return errors.Errorf("row has %d columns, schema has %d", len(row), b.Schema.ColumnCount())
	}
	b.Rows = append(b.Rows, row)
	return nil
}
