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

// Package sink applies micro batches of change events to a table exactly
// once per batch id. Progress is tracked in a state table written before the
// batch itself, so a replayed batch is detected and applied idempotently
// instead of duplicated.
package sink

import (
	"github.com/flintdb/flint/catalog"
	"github.com/flintdb/flint/common"
	"github.com/flintdb/flint/encoding"
	"github.com/flintdb/flint/expr"
	log "github.com/flintdb/flint/logger"
	"github.com/flintdb/flint/rows"
	"github.com/flintdb/flint/table"
	"github.com/flintdb/flint/types"
)

// Event tags, these travel on the wire and must not change.
const (
	EventInsert = 0
	EventUpdate = 1
	EventDelete = 2
)

type Event struct {
	Tag int
	Row rows.Row
}

const (
	stateDatabaseName = "flint"
	stateTableName    = "sink_state"
)

var stateSchema = rows.NewSchema(
	[]string{"stream_query_id", "batch_id"},
	[]types.ColumnType{types.ColumnTypeString, types.ColumnTypeInt},
)

// Sink writes change event batches to one target relation.
type Sink struct {
	relation   *catalog.Relation
	state      *table.Table
	factory    *expr.ExpressionFactory
	conflation bool
}

func NewSink(relation *catalog.Relation, store *table.Store) (*Sink, error) {
	state, exists := store.GetTable(stateDatabaseName, stateTableName)
	if !exists {
		var err error
		state, err = store.CreateTable(stateDatabaseName, stateTableName, stateSchema,
			[]string{"stream_query_id"})
		if common.IsFlintErrorWithCode(err, common.TableAlreadyExists) {
			// another sink on this node created it first
			state, _ = store.GetTable(stateDatabaseName, stateTableName)
		} else if err != nil {
			return nil, err
		}
	}
	return &Sink{
		relation:   relation,
		state:      state,
		factory:    expr.NewExpressionFactory(),
		conflation: true,
	}, nil
}

// SetConflation controls whether a keyed batch is reduced to the last event
// per key before it is applied. Enabled by default; with it disabled every
// event is applied individually, so a batch that inserts the same key twice
// fails on the key constraint.
func (s *Sink) SetConflation(enabled bool) {
	s.conflation = enabled
}

// AddBatch applies one micro batch. The batch id must increase with every
// batch of the same stream query. The state row is advanced before the events are
// applied: if this sink crashes in between, the redelivered batch is flagged
// as a possible duplicate and applied with idempotent writes.
//
// Event batches address rows by key, so the target must have key columns;
// keyless targets take plain rows through AddRows.
func (s *Sink) AddBatch(streamQueryID string, batchID int64, events []Event) error {
	if len(s.relation.Table.KeyColumns()) == 0 {
		return common.NewFlintErrorf(common.ExecuteError,
			"table %s has no key columns, change events cannot be applied to it",
			s.relation.Table.Name())
	}
	possibleDuplicate, err := s.advanceState(streamQueryID, batchID)
	if err != nil {
		return err
	}
	if possibleDuplicate {
		log.Infof("batch %d for stream query %s is a possible duplicate, applying idempotently",
			batchID, streamQueryID)
	}
	if s.conflation {
		events = conflate(events, s.relation.Table.KeyColumns(), s.relation.Schema)
	}
	for _, event := range events {
		if err := s.applyEvent(event, possibleDuplicate); err != nil {
			return err
		}
	}
	return nil
}

// AddRows applies one micro batch of plain rows with no event tags. Rows go
// through the same state tracking as AddBatch: keyed targets upsert every row
// so a replay converges, keyless targets append.
func (s *Sink) AddRows(streamQueryID string, batchID int64, batch []rows.Row) error {
	possibleDuplicate, err := s.advanceState(streamQueryID, batchID)
	if err != nil {
		return err
	}
	if possibleDuplicate {
		log.Infof("batch %d for stream query %s is a possible duplicate, applying idempotently",
			batchID, streamQueryID)
	}
	tab := s.relation.Table
	keyed := len(tab.KeyColumns()) > 0
	for _, row := range batch {
		if !keyed {
			if err := tab.Insert(row); err != nil {
				return err
			}
			continue
		}
		if err := tab.Upsert(row); err != nil {
			return err
		}
	}
	return nil
}

// advanceState moves the stored batch id forward and reports whether this
// batch may have been processed before.
//
// The update succeeds only when the stored id is behind this batch. When it
// does not, either there is no state row yet (first batch, insert it) or the
// stored id is already at or past this batch (a redelivery).
func (s *Sink) advanceState(streamQueryID string, batchID int64) (bool, error) {
	filter, err := s.stateFilter(streamQueryID, batchID)
	if err != nil {
		return false, err
	}
	updated, err := s.state.UpdateWhere(filter, func(row rows.Row) (rows.Row, error) {
		row[1] = batchID
		return row, nil
	})
	if err != nil {
		return false, err
	}
	if updated > 0 {
		return false, nil
	}
	err = s.state.Insert(rows.Row{streamQueryID, batchID})
	if err == nil {
		return false, nil
	}
	if common.IsFlintErrorWithCode(err, common.UniqueConstraintViolation) {
		return true, nil
	}
	return false, err
}

// stateFilter builds: stream_query_id == id and batch_id < batchID
func (s *Sink) stateFilter(streamQueryID string, batchID int64) (expr.Expression, error) {
	return s.factory.CreateExpression(&expr.ExprDesc{
		Kind: "binary",
		Op:   "and",
		Left: &expr.ExprDesc{
			Kind:  "binary",
			Op:    "==",
			Left:  &expr.ExprDesc{Kind: "column", Column: "stream_query_id"},
			Right: &expr.ExprDesc{Kind: "literal", Type: "string", Value: streamQueryID},
		},
		Right: &expr.ExprDesc{
			Kind:  "binary",
			Op:    "<",
			Left:  &expr.ExprDesc{Kind: "column", Column: "batch_id"},
			Right: &expr.ExprDesc{Kind: "literal", Type: "int", Value: batchID},
		},
	}, stateSchema)
}

// applyEvent routes one event by its tag.
//
//	insert -> insert, upsert when possibly duplicated
//	update -> upsert
//	delete -> delete by key, absence is fine
func (s *Sink) applyEvent(event Event, possibleDuplicate bool) error {
	tab := s.relation.Table
	switch event.Tag {
	case EventInsert:
		if possibleDuplicate {
			return tab.Upsert(event.Row)
		}
		return tab.Insert(event.Row)
	case EventUpdate:
		return tab.Upsert(event.Row)
	case EventDelete:
		_, err := tab.DeleteByKey(keyVals(event.Row, tab.KeyColumns()))
		return err
	default:
		return common.NewFlintErrorf(common.ExecuteError, "unknown event tag %d", event.Tag)
	}
}

func keyVals(row rows.Row, keyCols []int) []any {
	vals := make([]any, len(keyCols))
	for i, keyCol := range keyCols {
		vals[i] = row[keyCol]
	}
	return vals
}

// conflate keeps only the last event per key, in first occurrence order.
// Applying a batch that inserts, updates and finally deletes the same key
// reduces to just the delete.
func conflate(events []Event, keyCols []int, schema *rows.Schema) []Event {
	if len(events) < 2 {
		return events
	}
	type slot struct {
		index int
		event Event
	}
	byKey := map[string]*slot{}
	order := make([]string, 0, len(events))
	keyTypes := make([]types.ColumnType, len(keyCols))
	for i, keyCol := range keyCols {
		keyTypes[i] = schema.ColumnTypes()[keyCol]
	}
	for _, event := range events {
		key, err := encodeConflationKey(event.Row, keyCols, keyTypes)
		if err != nil {
			// unencodable key, let applyEvent surface the problem
			return events
		}
		if existing, ok := byKey[key]; ok {
			existing.event = event
		} else {
			byKey[key] = &slot{index: len(order), event: event}
			order = append(order, key)
		}
	}
	if len(order) == len(events) {
		return events
	}
	out := make([]Event, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key].event)
	}
	return out
}

func encodeConflationKey(row rows.Row, keyCols []int, keyTypes []types.ColumnType) (string, error) {
	encoded, err := encoding.EncodeKeyCols(keyVals(row, keyCols), keyTypes, nil)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
