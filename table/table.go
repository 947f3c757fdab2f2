// Copyright 2025 The Flint Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package table

import (
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/flintdb/flint/common"
	"github.com/flintdb/flint/encoding"
	"github.com/flintdb/flint/expr"
	"github.com/flintdb/flint/rows"
	"github.com/flintdb/flint/types"
	"github.com/pkg/errors"
)

// Table is an in-memory table ordered by its key columns. Rows for a keyless
// table are ordered by a synthetic row id assigned at insert. All operations
// are safe for concurrent use.
//
// Keys are stored in their order preserving encoded form, so iteration order
// of the treemap is key order.
type Table struct {
	lock     sync.RWMutex
	name     string
	schema   *rows.Schema
	keyCols  []int
	keyTypes []types.ColumnType
	data     *treemap.Map
	rowIDSeq int64
}

var rowIDKeyType = []types.ColumnType{types.ColumnTypeInt}

func NewTable(name string, schema *rows.Schema, keyColNames []string) (*Table, error) {
	keyCols := make([]int, len(keyColNames))
	keyTypes := make([]types.ColumnType, len(keyColNames))
	for i, keyCol := range keyColNames {
		index := schema.ColumnIndex(keyCol)
		if index == -1 {
			return nil, errors.Errorf("key column %s is not a column of table %s", keyCol, name)
		}
		keyCols[i] = index
		keyTypes[i] = schema.ColumnTypes()[index]
	}
	return &Table{
		name:     name,
		schema:   schema,
		keyCols:  keyCols,
		keyTypes: keyTypes,
		data:     treemap.NewWithStringComparator(),
	}, nil
}

func (t *Table) Name() string {
	return t.name
}

func (t *Table) Schema() *rows.Schema {
	return t.schema
}

func (t *Table) KeyColumns() []int {
	return t.keyCols
}

// encodedKey computes the storage key of a row. Must be called with the lock
// held when the table is keyless, as it consumes the row id sequence.
func (t *Table) encodedKey(row rows.Row) (string, error) {
	if len(t.keyCols) == 0 {
		t.rowIDSeq++
		key, err := encoding.EncodeKeyCols([]any{t.rowIDSeq}, rowIDKeyType, nil)
		if err != nil {
			return "", err
		}
		return common.ByteSliceToStringZeroCopy(key), nil
	}
	keyVals := make([]any, len(t.keyCols))
	for i, keyCol := range t.keyCols {
		keyVals[i] = row[keyCol]
	}
	key, err := encoding.EncodeKeyCols(keyVals, t.keyTypes, nil)
	if err != nil {
		return "", err
	}
	return common.ByteSliceToStringZeroCopy(key), nil
}

func (t *Table) encodeKeyVals(keyVals []any) (string, error) {
	key, err := encoding.EncodeKeyCols(keyVals, t.keyTypes, nil)
	if err != nil {
		return "", err
	}
	return common.ByteSliceToStringZeroCopy(key), nil
}

func (t *Table) checkRow(row rows.Row) error {
	if len(row) != t.schema.ColumnCount() {
		return common.NewFlintErrorf(common.SchemaMismatch,
			"table %s has %d columns but row has %d", t.name, t.schema.ColumnCount(), len(row))
	}
	return nil
}

// Insert adds a row, failing if a row with the same key already exists.
func (t *Table) Insert(row rows.Row) error {
	if err := t.checkRow(row); err != nil {
		return err
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	key, err := t.encodedKey(row)
	if err != nil {
		return err
	}
	if _, exists := t.data.Get(key); exists {
		return common.NewFlintErrorf(common.UniqueConstraintViolation,
			"duplicate key in table %s", t.name)
	}
	t.data.Put(key, row)
	return nil
}

// Upsert adds a row, replacing any existing row with the same key.
func (t *Table) Upsert(row rows.Row) error {
	if err := t.checkRow(row); err != nil {
		return err
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	key, err := t.encodedKey(row)
	if err != nil {
		return err
	}
	t.data.Put(key, row)
	return nil
}

// GetByKey looks up the row with the given key values.
func (t *Table) GetByKey(keyVals []any) (rows.Row, bool, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	key, err := t.encodeKeyVals(keyVals)
	if err != nil {
		return nil, false, err
	}
	val, exists := t.data.Get(key)
	if !exists {
		return nil, false, nil
	}
	return val.(rows.Row), true, nil
}

// DeleteByKey removes the row with the given key values, reporting whether a
// row was removed.
func (t *Table) DeleteByKey(keyVals []any) (bool, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	key, err := t.encodeKeyVals(keyVals)
	if err != nil {
		return false, err
	}
	if _, exists := t.data.Get(key); !exists {
		return false, nil
	}
	t.data.Remove(key)
	return true, nil
}

// Scan returns the rows matching filter in key order. A nil filter matches
// every row. The returned rows are the stored rows, callers must not mutate
// them.
func (t *Table) Scan(filter expr.Expression) ([]rows.Row, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	var out []rows.Row
	iter := t.data.Iterator()
	for iter.Next() {
		row := iter.Value().(rows.Row)
		matched, err := evalFilter(filter, row)
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, row)
		}
	}
	return out, nil
}

// UpdateWhere atomically applies update to every row matching filter. The
// update function receives a copy it can mutate and returns the replacement
// row. Returns the number of rows updated. Updates that change key columns
// are rejected.
func (t *Table) UpdateWhere(filter expr.Expression, update func(rows.Row) (rows.Row, error)) (int, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	type replacement struct {
		key string
		row rows.Row
	}
	var replacements []replacement
	iter := t.data.Iterator()
	for iter.Next() {
		row := iter.Value().(rows.Row)
		matched, err := evalFilter(filter, row)
		if err != nil {
			return 0, err
		}
		if !matched {
			continue
		}
		updated, err := update(append(rows.Row{}, row...))
		if err != nil {
			return 0, err
		}
		if err := t.checkRow(updated); err != nil {
			return 0, err
		}
		for _, keyCol := range t.keyCols {
			same := updated[keyCol] == nil && row[keyCol] == nil
			if updated[keyCol] != nil && row[keyCol] != nil {
				cmp, err := expr.CompareVals(updated[keyCol], row[keyCol], t.schema.ColumnTypes()[keyCol])
				if err != nil {
					return 0, err
				}
				same = cmp == 0
			}
			if !same {
				return 0, errors.Errorf("update cannot change key column %s of table %s",
					t.schema.ColumnNames()[keyCol], t.name)
			}
		}
		replacements = append(replacements, replacement{key: iter.Key().(string), row: updated})
	}
	for _, r := range replacements {
		t.data.Put(r.key, r.row)
	}
	return len(replacements), nil
}

// DeleteWhere atomically removes every row matching filter, returning the
// number of rows removed.
func (t *Table) DeleteWhere(filter expr.Expression) (int, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	var keys []string
	iter := t.data.Iterator()
	for iter.Next() {
		matched, err := evalFilter(filter, iter.Value().(rows.Row))
		if err != nil {
			return 0, err
		}
		if matched {
			keys = append(keys, iter.Key().(string))
		}
	}
	for _, key := range keys {
		t.data.Remove(key)
	}
	return len(keys), nil
}

func (t *Table) RowCount() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.data.Size()
}

func evalFilter(filter expr.Expression, row rows.Row) (bool, error) {
	if filter == nil {
		return true, nil
	}
	val, err := filter.Eval(row)
	if err != nil {
		return false, err
	}
	// a null predicate result excludes the row
	matched, ok := val.(bool)
	return ok && matched, nil
}
