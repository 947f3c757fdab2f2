package opers

import (
	"github.com/flintdb/flint/encoding"
	"github.com/flintdb/flint/types"
)

// aggState holds one accumulator per aggregate expression of the operator.
type aggState struct {
	accs []any
}

func newAggState(descs []*AggDesc) *aggState {
	accs := make([]any, len(descs))
	for i, desc := range descs {
		accs[i] = initialAcc(desc)
	}
	return &aggState{accs: accs}
}

// retainedSize is a coarse estimate used for the spill trigger - exact
// accounting is not required, only that total in-memory group state is
// bounded.
func (s *aggState) retainedSize() int64 {
	size := int64(16 * len(s.accs))
	for _, acc := range s.accs {
		switch v := acc.(type) {
		case string:
			size += int64(len(v))
		case []byte:
			size += int64(len(v))
		}
	}
	return size
}

// flatten appends the accumulator state columns in state-schema order.
func (s *aggState) flatten(descs []*AggDesc, out []any) []any {
	for i, desc := range descs {
		acc := s.accs[i]
		switch desc.Kind {
		case AggKindAvg:
			a := acc.(*avgAcc)
			if a.count == 0 {
				out = append(out, nil, int64(0))
			} else {
				out = append(out, a.tot, a.count)
			}
		case AggKindCount:
			if acc == nil {
				acc = int64(0)
			}
			out = append(out, acc)
		default:
			out = append(out, acc)
		}
	}
	return out
}

// unflatten reads accumulator state columns from vals starting at offset.
func unflattenState(descs []*AggDesc, vals []any, offset int) (*aggState, int) {
	accs := make([]any, len(descs))
	for i, desc := range descs {
		switch desc.Kind {
		case AggKindAvg:
			a := &avgAcc{}
			if vals[offset] != nil {
				a.tot = vals[offset].(float64)
			}
			if vals[offset+1] != nil {
				a.count = vals[offset+1].(int64)
			}
			accs[i] = a
			offset += 2
		case AggKindCount:
			if vals[offset] == nil {
				accs[i] = int64(0)
			} else {
				accs[i] = vals[offset]
			}
			offset++
		default:
			accs[i] = vals[offset]
			offset++
		}
	}
	return &aggState{accs: accs}, offset
}

func encodeState(state *aggState, descs []*AggDesc, stateTypes []types.ColumnType, buffer []byte) ([]byte, error) {
	flattened := state.flatten(descs, make([]any, 0, len(stateTypes)))
	return encoding.EncodeRowCols(flattened, stateTypes, buffer)
}

func decodeState(buffer []byte, descs []*AggDesc, stateTypes []types.ColumnType) (*aggState, error) {
	vals, _, err := encoding.DecodeRowToSlice(buffer, 0, stateTypes)
	if err != nil {
		return nil, err
	}
	state, _ := unflattenState(descs, vals, 0)
	return state, nil
}
