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

package opers

import (
	"bytes"
	"sort"

	"github.com/flintdb/flint/common"
	"github.com/flintdb/flint/encoding"
	"github.com/flintdb/flint/expr"
	"github.com/flintdb/flint/iteration"
	log "github.com/flintdb/flint/logger"
	"github.com/flintdb/flint/rows"
	"github.com/flintdb/flint/types"
	"github.com/pkg/errors"
)

// AggregateMode determines what the operator consumes and what it emits.
//
// Partial and Complete consume raw input rows. PartialMerge and Final consume
// intermediate state rows produced by an upstream Partial (or PartialMerge)
// instance. Partial and PartialMerge emit state rows, Final and Complete emit
// finished aggregate rows.
type AggregateMode int

const (
	AggregateModePartial = AggregateMode(iota + 1)
	AggregateModePartialMerge
	AggregateModeFinal
	AggregateModeComplete
)

func (m AggregateMode) String() string {
	switch m {
	case AggregateModePartial:
		return "partial"
	case AggregateModePartialMerge:
		return "partial_merge"
	case AggregateModeFinal:
		return "final"
	case AggregateModeComplete:
		return "complete"
	default:
		return "unknown"
	}
}

func (m AggregateMode) consumesStateRows() bool {
	return m == AggregateModePartialMerge || m == AggregateModeFinal
}

func (m AggregateMode) emitsStateRows() bool {
	return m == AggregateModePartial || m == AggregateModePartialMerge
}

// AggregatorParams configures a HashAggregator.
type AggregatorParams struct {
	InputSchema *rows.Schema
	// GroupExprs are evaluated against raw input rows to produce the group
	// key. In state-consuming modes they must be column references to the
	// leading columns of the state schema.
	GroupExprs   []expr.Expression
	GroupAliases []string
	AggDescs     []*AggDesc
	Mode         AggregateMode
	// MaxMemBytes caps the retained size of the in-memory group table.
	// Exceeding it triggers a spill of the table to a sorted run file in
	// SpillDir. Zero means no cap.
	MaxMemBytes int64
	SpillDir    string
	// ShouldStop is polled between output rows so a long drain can be
	// cancelled. May be nil.
	ShouldStop func() bool
}

// HashAggregator is a spill-aware hash aggregation operator. Rows are fed in
// with Consume and results drained with Finish. It is not safe for concurrent
// use.
type HashAggregator struct {
	params          AggregatorParams
	groupTypes      []types.ColumnType
	stateSchema     *rows.Schema
	stateValueTypes []types.ColumnType
	outSchema       *rows.Schema
	groupTable      *groupTable
	// single accumulator set for the no-grouping path
	globalState *aggState
	consumedAny bool
	spillPaths  []string
	finished    bool
}

func NewHashAggregator(params AggregatorParams) (*HashAggregator, error) {
	if params.InputSchema == nil {
		return nil, errors.New("aggregator requires an input schema")
	}
	if len(params.GroupExprs) != len(params.GroupAliases) {
		return nil, errors.Errorf("%d group expressions but %d group aliases",
			len(params.GroupExprs), len(params.GroupAliases))
	}
	if len(params.GroupExprs) == 0 && len(params.AggDescs) == 0 {
		return nil, errors.New("aggregator requires at least one group expression or aggregate")
	}
	for _, desc := range params.AggDescs {
		if err := desc.validate(); err != nil {
			return nil, err
		}
	}
	groupTypes := make([]types.ColumnType, len(params.GroupExprs))
	for i, e := range params.GroupExprs {
		groupTypes[i] = e.ResultType()
	}
	stateSchema := buildStateSchema(params.GroupAliases, groupTypes, params.AggDescs)
	if params.Mode.consumesStateRows() && !params.InputSchema.Equal(stateSchema) {
		return nil, errors.Errorf("input schema of a %s aggregator must match the state schema %v",
			params.Mode, stateSchema.ColumnNames())
	}
	var outSchema *rows.Schema
	if params.Mode.emitsStateRows() {
		outSchema = stateSchema
	} else {
		outNames := append([]string{}, params.GroupAliases...)
		outTypes := append([]types.ColumnType{}, groupTypes...)
		for _, desc := range params.AggDescs {
			outNames = append(outNames, desc.Alias)
			outTypes = append(outTypes, desc.ReturnType())
		}
		outSchema = rows.NewSchema(outNames, outTypes)
	}
	agg := &HashAggregator{
		params:          params,
		groupTypes:      groupTypes,
		stateSchema:     stateSchema,
		stateValueTypes: stateSchema.ColumnTypes()[len(groupTypes):],
		outSchema:       outSchema,
	}
	if len(params.GroupExprs) > 0 {
		agg.groupTable = newGroupTable()
	} else {
		agg.globalState = newAggState(params.AggDescs)
	}
	return agg, nil
}

func buildStateSchema(groupAliases []string, groupTypes []types.ColumnType, descs []*AggDesc) *rows.Schema {
	names := append([]string{}, groupAliases...)
	colTypes := append([]types.ColumnType{}, groupTypes...)
	for _, desc := range descs {
		names = append(names, desc.StateNames()...)
		colTypes = append(colTypes, desc.StateTypes()...)
	}
	return rows.NewSchema(names, colTypes)
}

// OutputSchema is the schema of the rows produced by Finish.
func (a *HashAggregator) OutputSchema() *rows.Schema {
	return a.outSchema
}

// StateSchema is the schema of the intermediate state rows exchanged between
// partial and final instances of the same aggregation.
func (a *HashAggregator) StateSchema() *rows.Schema {
	return a.stateSchema
}

// Consume feeds one input row into the aggregation.
func (a *HashAggregator) Consume(row rows.Row) error {
	if a.finished {
		return errors.New("aggregator already finished")
	}
	a.consumedAny = true
	if a.groupTable == nil {
		return a.consumeGlobal(row)
	}
	if a.params.Mode.consumesStateRows() {
		if err := a.consumeStateRow(row); err != nil {
			return err
		}
	} else if err := a.consumeRawRow(row); err != nil {
		return err
	}
	return a.maybeSpill()
}

func (a *HashAggregator) consumeGlobal(row rows.Row) error {
	if a.params.Mode.consumesStateRows() {
		other, _ := unflattenState(a.params.AggDescs, row, 0)
		return mergeState(a.params.AggDescs, a.globalState, other)
	}
	return updateState(a.params.AggDescs, a.globalState, row)
}

func (a *HashAggregator) consumeRawRow(row rows.Row) error {
	groupVals := make([]any, len(a.params.GroupExprs))
	for i, e := range a.params.GroupExprs {
		val, err := e.Eval(row)
		if err != nil {
			return err
		}
		groupVals[i] = val
	}
	key, err := encoding.EncodeKeyCols(groupVals, a.groupTypes, nil)
	if err != nil {
		return err
	}
	state := a.groupTable.getOrCreate(key, func() *aggState {
		return newAggState(a.params.AggDescs)
	})
	return updateState(a.params.AggDescs, state, row)
}

func (a *HashAggregator) consumeStateRow(row rows.Row) error {
	numGroupCols := len(a.groupTypes)
	key, err := encoding.EncodeKeyCols(row[:numGroupCols], a.groupTypes, nil)
	if err != nil {
		return err
	}
	other, _ := unflattenState(a.params.AggDescs, row, numGroupCols)
	created := false
	state := a.groupTable.getOrCreate(key, func() *aggState {
		created = true
		return other
	})
	if created {
		return nil
	}
	return mergeState(a.params.AggDescs, state, other)
}

func updateState(descs []*AggDesc, state *aggState, row rows.Row) error {
	for i, desc := range descs {
		var val any
		if desc.ArgExpr != nil {
			var err error
			val, err = desc.ArgExpr.Eval(row)
			if err != nil {
				return err
			}
		}
		acc, err := updateAcc(desc, state.accs[i], val)
		if err != nil {
			return err
		}
		state.accs[i] = acc
	}
	return nil
}

// mergeState folds other into state. The other state belongs to the later of
// the two inputs, which matters for last().
func mergeState(descs []*AggDesc, state, other *aggState) error {
	for i, desc := range descs {
		acc, err := mergeAcc(desc, state.accs[i], other.accs[i])
		if err != nil {
			return err
		}
		state.accs[i] = acc
	}
	return nil
}

func (a *HashAggregator) maybeSpill() error {
	if a.params.MaxMemBytes == 0 || a.groupTable.retainedSize <= a.params.MaxMemBytes {
		return nil
	}
	if a.params.SpillDir == "" {
		return common.NewFlintError(common.ExecuteError,
			"aggregation memory limit exceeded and no spill directory configured")
	}
	entries, err := a.sortedTableEntries()
	if err != nil {
		return err
	}
	writer, err := newSpillRunWriter(a.params.SpillDir)
	if err != nil {
		return err
	}
	for _, kv := range entries {
		if err := writer.add(kv); err != nil {
			return err
		}
	}
	if err := writer.seal(); err != nil {
		return err
	}
	log.Debugf("aggregator spilled %d groups to %s", len(entries), writer.path)
	a.spillPaths = append(a.spillPaths, writer.path)
	a.groupTable.reset()
	return nil
}

// sortedTableEntries encodes the in-memory group table as key ordered kv
// pairs, with the state columns encoded as the value.
func (a *HashAggregator) sortedTableEntries() ([]common.KV, error) {
	entries := make([]common.KV, 0, a.groupTable.numEntries)
	err := a.groupTable.forEach(func(key []byte, state *aggState) error {
		value, err := encodeState(state, a.params.AggDescs, a.stateValueTypes, nil)
		if err != nil {
			return err
		}
		entries = append(entries, common.KV{Key: key, Value: value})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Key, entries[j].Key) < 0
	})
	return entries, nil
}

// Finish completes the aggregation and returns an iterator over the results.
// The aggregator cannot be used after Finish. Closing the returned iterator
// releases any spill files.
func (a *HashAggregator) Finish() (RowIterator, error) {
	if a.finished {
		return nil, errors.New("aggregator already finished")
	}
	a.finished = true
	if a.groupTable == nil {
		return a.finishGlobal()
	}
	entries, err := a.sortedTableEntries()
	if err != nil {
		return nil, err
	}
	var iter iteration.Iterator
	if len(a.spillPaths) == 0 {
		iter = iteration.NewStaticIterator(entries)
	} else {
		// Runs are merged oldest first with the in-memory table last, so
		// the resolver always folds later state into earlier state.
		iters := make([]iteration.Iterator, 0, len(a.spillPaths)+1)
		for _, path := range a.spillPaths {
			runIter, err := newSpillRunIterator(path)
			if err != nil {
				for _, it := range iters {
					it.Close()
				}
				return nil, err
			}
			iters = append(iters, runIter)
		}
		iters = append(iters, iteration.NewStaticIterator(entries))
		iter = iteration.NewMergingIterator(iters, a.mergeStateValues)
	}
	return &groupedResultIterator{agg: a, iter: iter}, nil
}

// mergeStateValues is the resolver for the spill merge. It receives every
// encoded state for one group key, oldest first, and folds them into one.
func (a *HashAggregator) mergeStateValues(_ []byte, values [][]byte) ([]byte, error) {
	merged, err := decodeState(values[0], a.params.AggDescs, a.stateValueTypes)
	if err != nil {
		return nil, err
	}
	for _, value := range values[1:] {
		other, err := decodeState(value, a.params.AggDescs, a.stateValueTypes)
		if err != nil {
			return nil, err
		}
		if err := mergeState(a.params.AggDescs, merged, other); err != nil {
			return nil, err
		}
	}
	return encodeState(merged, a.params.AggDescs, a.stateValueTypes, nil)
}

func (a *HashAggregator) finishGlobal() (RowIterator, error) {
	var row rows.Row
	if !a.consumedAny && a.params.Mode == AggregateModeComplete {
		// A global aggregation over no rows still yields one row.
		row = make(rows.Row, len(a.params.AggDescs))
		for i, desc := range a.params.AggDescs {
			row[i] = emptyValue(desc)
		}
	} else if a.params.Mode.emitsStateRows() {
		row = a.globalState.flatten(a.params.AggDescs, make([]any, 0, len(a.stateValueTypes)))
	} else {
		var err error
		row, err = evaluateStateRow(a.params.AggDescs, nil, a.globalState)
		if err != nil {
			return nil, err
		}
	}
	return &singleRowIterator{row: row}, nil
}

func evaluateStateRow(descs []*AggDesc, groupVals []any, state *aggState) (rows.Row, error) {
	row := make(rows.Row, 0, len(groupVals)+len(descs))
	row = append(row, groupVals...)
	for i, desc := range descs {
		val, err := evaluateAcc(desc, state.accs[i])
		if err != nil {
			return nil, err
		}
		row = append(row, val)
	}
	return row, nil
}

// RowIterator streams aggregation results.
type RowIterator interface {
	Next() (bool, rows.Row, error)
	Close()
}

type singleRowIterator struct {
	row  rows.Row
	done bool
}

func (s *singleRowIterator) Next() (bool, rows.Row, error) {
	if s.done {
		return false, nil, nil
	}
	s.done = true
	return true, s.row, nil
}

func (s *singleRowIterator) Close() {
}

type groupedResultIterator struct {
	agg  *HashAggregator
	iter iteration.Iterator
}

func (g *groupedResultIterator) Next() (bool, rows.Row, error) {
	if g.agg.params.ShouldStop != nil && g.agg.params.ShouldStop() {
		return false, nil, errors.New("aggregation cancelled")
	}
	valid, kv, err := g.iter.Next()
	if err != nil {
		return false, nil, err
	}
	if !valid {
		return false, nil, nil
	}
	groupVals, _, err := encoding.DecodeKeyToSlice(kv.Key, 0, g.agg.groupTypes)
	if err != nil {
		return false, nil, err
	}
	if g.agg.params.Mode.emitsStateRows() {
		stateVals, _, err := encoding.DecodeRowToSlice(kv.Value, 0, g.agg.stateValueTypes)
		if err != nil {
			return false, nil, err
		}
		return true, append(rows.Row(groupVals), stateVals...), nil
	}
	state, err := decodeState(kv.Value, g.agg.params.AggDescs, g.agg.stateValueTypes)
	if err != nil {
		return false, nil, err
	}
	row, err := evaluateStateRow(g.agg.params.AggDescs, groupVals, state)
	if err != nil {
		return false, nil, err
	}
	return true, row, nil
}

func (g *groupedResultIterator) Close() {
	g.iter.Close()
}
