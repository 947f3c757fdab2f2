package encoding

import (
	"github.com/flintdb/flint/types"
	"github.com/pkg/errors"
)

// Row (value) encoding is little endian and not order preserving - it is used
// for table row payloads and aggregation accumulator state, where only
// round-tripping matters.

func EncodeRowCols(vals []any, columnTypes []types.ColumnType, buffer []byte) ([]byte, error) {
	for i, colType := range columnTypes {
		val := vals[i]
		if val == nil {
			buffer = append(buffer, 0)
			continue
		}
		buffer = append(buffer, 1)
		switch colType.ID() {
		case types.ColumnTypeIDInt:
			buffer = AppendUint64ToBufferLE(buffer, uint64(val.(int64)))
		case types.ColumnTypeIDFloat:
			buffer = AppendFloat64ToBufferLE(buffer, val.(float64))
		case types.ColumnTypeIDBool:
			buffer = AppendBoolToBuffer(buffer, val.(bool))
		case types.ColumnTypeIDDecimal:
			buffer = AppendDecimalToBuffer(buffer, val.(types.Decimal))
		case types.ColumnTypeIDString:
			buffer = AppendStringToBufferLE(buffer, val.(string))
		case types.ColumnTypeIDBytes:
			buffer = AppendBytesToBufferLE(buffer, val.([]byte))
		case types.ColumnTypeIDTimestamp:
			buffer = AppendUint64ToBufferLE(buffer, uint64(val.(types.Timestamp).Val))
		default:
			return nil, errors.Errorf("unexpected column type %d", colType.ID())
		}
	}
	return buffer, nil
}

func DecodeRowToSlice(buffer []byte, offset int, columnTypes []types.ColumnType) ([]any, int, error) {
	row := make([]any, len(columnTypes))
	for i, colType := range columnTypes {
		if buffer[offset] == 0 {
			offset++
			continue
		}
		offset++
		var val any
		switch colType.ID() {
		case types.ColumnTypeIDInt:
			var u uint64
			u, offset = ReadUint64FromBufferLE(buffer, offset)
			val = int64(u)
		case types.ColumnTypeIDFloat:
			val, offset = ReadFloat64FromBufferLE(buffer, offset)
		case types.ColumnTypeIDBool:
			val, offset = ReadBoolFromBuffer(buffer, offset)
		case types.ColumnTypeIDDecimal:
			decType := colType.(*types.DecimalType)
			var dec types.Decimal
			dec, offset = ReadDecimalFromBuffer(buffer, offset)
			dec.Precision = decType.Precision
			dec.Scale = decType.Scale
			val = dec
		case types.ColumnTypeIDString:
			val, offset = ReadStringFromBufferLE(buffer, offset)
		case types.ColumnTypeIDBytes:
			val, offset = ReadBytesFromBufferLE(buffer, offset)
		case types.ColumnTypeIDTimestamp:
			var u uint64
			u, offset = ReadUint64FromBufferLE(buffer, offset)
			val = types.NewTimestamp(int64(u))
		default:
			return nil, 0, errors.Errorf("unexpected column type %d", colType.ID())
		}
		row[i] = val
	}
	return row, offset, nil
}
