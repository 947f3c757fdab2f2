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

// Package metastore holds the cluster wide catalog metadata: databases,
// tables and row policies. The metadata lives in an external store accessed
// through a Session, with Client adding reconnect and retry on top.
package metastore

import (
	"encoding/json"

	"github.com/flintdb/flint/expr"
	"github.com/flintdb/flint/rows"
	"github.com/flintdb/flint/types"
	"github.com/pkg/errors"
)

type TableKind string

const (
	// TableKindRow stores complete rows keyed by the primary key and is the
	// default for mutable tables.
	TableKindRow = TableKind("row")
	// TableKindColumn marks tables whose reads are dominated by scans of few
	// columns. Storage layout is a per node concern, the kind travels in the
	// descriptor so every node agrees.
	TableKindColumn = TableKind("column")
)

type DatabaseDesc struct {
	DatabaseName string `json:"database_name"`
}

type ColumnDesc struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TableDesc describes a table. The column types are the string forms
// understood by types.StringToColumnType, e.g. "int" or "decimal(10,2)".
type TableDesc struct {
	DatabaseName string            `json:"database_name"`
	TableName    string            `json:"table_name"`
	Kind         TableKind         `json:"kind"`
	Columns      []ColumnDesc      `json:"columns"`
	KeyColumns   []string          `json:"key_columns,omitempty"`
	Options      map[string]string `json:"options,omitempty"`
}

func (d *TableDesc) Validate() error {
	if d.DatabaseName == "" || d.TableName == "" {
		return errors.New("table descriptor requires a database name and a table name")
	}
	if d.Kind != TableKindRow && d.Kind != TableKindColumn {
		return errors.Errorf("invalid table kind '%s'", d.Kind)
	}
	if len(d.Columns) == 0 {
		return errors.Errorf("table %s.%s has no columns", d.DatabaseName, d.TableName)
	}
	if _, err := d.Schema(); err != nil {
		return err
	}
	for _, keyCol := range d.KeyColumns {
		found := false
		for _, col := range d.Columns {
			if col.Name == keyCol {
				found = true
				break
			}
		}
		if !found {
			return errors.Errorf("key column %s is not a column of table %s.%s",
				keyCol, d.DatabaseName, d.TableName)
		}
	}
	return nil
}

func (d *TableDesc) Schema() (*rows.Schema, error) {
	names := make([]string, len(d.Columns))
	colTypes := make([]types.ColumnType, len(d.Columns))
	for i, col := range d.Columns {
		colType, err := types.StringToColumnType(col.Type)
		if err != nil {
			return nil, errors.WithMessagef(err, "table %s.%s column %s",
				d.DatabaseName, d.TableName, col.Name)
		}
		names[i] = col.Name
		colTypes[i] = colType
	}
	return rows.NewSchema(names, colTypes), nil
}

// PolicyDesc is a row filter attached to a table. Readers resolving the table
// through the catalog see only the rows matching the filter.
type PolicyDesc struct {
	DatabaseName string         `json:"database_name"`
	TableName    string         `json:"table_name"`
	PolicyName   string         `json:"policy_name"`
	Filter       *expr.ExprDesc `json:"filter"`
}

func (d *PolicyDesc) Validate() error {
	if d.DatabaseName == "" || d.TableName == "" || d.PolicyName == "" {
		return errors.New("policy descriptor requires database, table and policy names")
	}
	if d.Filter == nil {
		return errors.Errorf("policy %s on %s.%s has no filter", d.PolicyName, d.DatabaseName, d.TableName)
	}
	return nil
}

func serializeDesc(desc any) ([]byte, error) {
	data, err := json.Marshal(desc)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to serialize descriptor")
	}
	return data, nil
}

func deserializeDesc(data []byte, desc any) error {
	if err := json.Unmarshal(data, desc); err != nil {
		return errors.WithMessage(err, "corrupt descriptor in metadata store")
	}
	return nil
}
