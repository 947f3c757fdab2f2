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

package encoding

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"testing"

	"github.com/flintdb/flint/types"
	"github.com/stretchr/testify/require"
)

func TestKeyEncodeIntOrdering(t *testing.T) {
	vals := []int64{math.MinInt64, -1000, -1, 0, 1, 42, 1000, math.MaxInt64}
	verifyKeyOrdering(t, types.ColumnTypeInt, toAnySlice(vals))
}

func TestKeyEncodeFloatOrdering(t *testing.T) {
	vals := []float64{math.Inf(-1), -12345.75, -1.0, -0.001, 0, 0.001, 1.0, 12345.75, math.Inf(1)}
	verifyKeyOrdering(t, types.ColumnTypeFloat, toAnySlice(vals))
}

func TestKeyEncodeStringOrdering(t *testing.T) {
	// includes strings longer than one 8 byte group and prefixes of each other
	vals := []any{"", "a", "aa", "aardvark", "aardvarks", "apples and pears", "b", "zebra"}
	verifyKeyOrdering(t, types.ColumnTypeString, vals)
}

func TestKeyEncodeTimestampOrdering(t *testing.T) {
	vals := []any{types.NewTimestamp(0), types.NewTimestamp(1000), types.NewTimestamp(1700000000000)}
	verifyKeyOrdering(t, types.ColumnTypeTimestamp, vals)
}

func TestKeyEncodeNullSortsLowest(t *testing.T) {
	colTypes := []types.ColumnType{types.ColumnTypeInt}
	nullKey, err := EncodeKeyCols([]any{nil}, colTypes, nil)
	require.NoError(t, err)
	minKey, err := EncodeKeyCols([]any{int64(math.MinInt64)}, colTypes, nil)
	require.NoError(t, err)
	require.Negative(t, bytes.Compare(nullKey, minKey))
}

func TestKeyEncodeRoundTrip(t *testing.T) {
	colTypes := []types.ColumnType{
		types.ColumnTypeInt,
		types.ColumnTypeFloat,
		types.ColumnTypeBool,
		types.ColumnTypeString,
		types.ColumnTypeBytes,
		types.ColumnTypeTimestamp,
		&types.DecimalType{Precision: 12, Scale: 3},
	}
	dec, err := types.NewDecimalFromString("12345.678", 12, 3)
	require.NoError(t, err)
	vals := []any{int64(-7), 3.25, true, "quick brown fox", []byte{0xff, 0x00, 0x01}, types.NewTimestamp(12345), dec}
	buffer, err := EncodeKeyCols(vals, colTypes, nil)
	require.NoError(t, err)
	decoded, offset, err := DecodeKeyToSlice(buffer, 0, colTypes)
	require.NoError(t, err)
	require.Equal(t, len(buffer), offset)
	require.Equal(t, vals, decoded)
}

func TestKeyEncodeRoundTripNulls(t *testing.T) {
	colTypes := []types.ColumnType{types.ColumnTypeString, types.ColumnTypeInt}
	buffer, err := EncodeKeyCols([]any{nil, int64(10)}, colTypes, nil)
	require.NoError(t, err)
	decoded, _, err := DecodeKeyToSlice(buffer, 0, colTypes)
	require.NoError(t, err)
	require.Nil(t, decoded[0])
	require.Equal(t, int64(10), decoded[1])
}

func TestKeyEncodeCompositeOrdering(t *testing.T) {
	colTypes := []types.ColumnType{types.ColumnTypeString, types.ColumnTypeInt}
	rowsInOrder := [][]any{
		{"a", int64(1)},
		{"a", int64(2)},
		{"aa", int64(0)},
		{"b", int64(-5)},
	}
	var prev []byte
	for _, vals := range rowsInOrder {
		key, err := EncodeKeyCols(vals, colTypes, nil)
		require.NoError(t, err)
		if prev != nil {
			require.Negative(t, bytes.Compare(prev, key))
		}
		prev = key
	}
}

func TestRowEncodeRoundTrip(t *testing.T) {
	colTypes := []types.ColumnType{
		types.ColumnTypeInt,
		types.ColumnTypeFloat,
		types.ColumnTypeString,
		types.ColumnTypeBytes,
	}
	vals := []any{int64(100), -0.5, "hello", []byte("world")}
	buffer, err := EncodeRowCols(vals, colTypes, nil)
	require.NoError(t, err)
	decoded, offset, err := DecodeRowToSlice(buffer, 0, colTypes)
	require.NoError(t, err)
	require.Equal(t, len(buffer), offset)
	require.Equal(t, vals, decoded)

	// all nulls
	buffer, err = EncodeRowCols([]any{nil, nil, nil, nil}, colTypes, nil)
	require.NoError(t, err)
	decoded, _, err = DecodeRowToSlice(buffer, 0, colTypes)
	require.NoError(t, err)
	for _, v := range decoded {
		require.Nil(t, v)
	}
}

func verifyKeyOrdering(t *testing.T, colType types.ColumnType, valsInOrder []any) {
	t.Helper()
	colTypes := []types.ColumnType{colType}
	encoded := make([][]byte, len(valsInOrder))
	for i, val := range valsInOrder {
		key, err := EncodeKeyCols([]any{val}, colTypes, nil)
		require.NoError(t, err)
		encoded[i] = key
	}
	shuffled := make([][]byte, len(encoded))
	copy(shuffled, encoded)
	for i := range shuffled {
		j := (i * 7) % len(shuffled)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	sort.Slice(shuffled, func(i, j int) bool {
		return bytes.Compare(shuffled[i], shuffled[j]) < 0
	})
	require.Equal(t, encoded, shuffled, fmt.Sprintf("byte-wise ordering differs from value ordering for %s", colType))
}

func toAnySlice[T any](vals []T) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}
