package opers

import (
	"github.com/flintdb/flint/expr"
	"github.com/flintdb/flint/types"
	"github.com/pkg/errors"
)

// AggKind is a closed set - adding a kind means extending every switch below.
type AggKind int

const (
	AggKindSum AggKind = iota + 1
	AggKindCount
	AggKindAvg
	AggKindMin
	AggKindMax
	AggKindLast
)

func (k AggKind) String() string {
	switch k {
	case AggKindSum:
		return "sum"
	case AggKindCount:
		return "count"
	case AggKindAvg:
		return "avg"
	case AggKindMin:
		return "min"
	case AggKindMax:
		return "max"
	case AggKindLast:
		return "last"
	default:
		panic("unknown agg kind")
	}
}

func AggKindFromName(name string) (AggKind, error) {
	switch name {
	case "sum":
		return AggKindSum, nil
	case "count":
		return AggKindCount, nil
	case "avg":
		return AggKindAvg, nil
	case "min":
		return AggKindMin, nil
	case "max":
		return AggKindMax, nil
	case "last":
		return AggKindLast, nil
	default:
		return 0, errors.Errorf("unknown aggregate function '%s'. must be one of 'sum', 'count', 'avg', 'min', 'max' or 'last'", name)
	}
}

// AggDesc describes one aggregate expression of an operator instance.
// ArgExpr is evaluated per input row on the update path (Partial/Complete);
// on the merge path (PartialMerge/Final) input rows carry accumulator state
// and ArgExpr is unused. A nil ArgExpr on a count means count of rows.
type AggDesc struct {
	Kind    AggKind
	ArgExpr expr.Expression
	ArgType types.ColumnType
	Alias   string
	// ArgNonNullable declares the argument statically non-null, which lets
	// sum and avg initialize their accumulator to a typed zero instead of
	// null so downstream merges never see a spurious null.
	ArgNonNullable bool
}

func (d *AggDesc) validate() error {
	if d.Kind != AggKindCount && d.ArgType == nil {
		return errors.Errorf("aggregate '%s' requires an argument type", d.Kind)
	}
	if d.Kind == AggKindSum || d.Kind == AggKindAvg {
		switch d.ArgType.ID() {
		case types.ColumnTypeIDInt, types.ColumnTypeIDFloat, types.ColumnTypeIDDecimal, types.ColumnTypeIDTimestamp:
		default:
			return errors.Errorf("cannot apply '%s' to type %s", d.Kind, d.ArgType.String())
		}
	}
	return nil
}

// ReturnType is the type of the evaluated (Final/Complete) aggregate value.
func (d *AggDesc) ReturnType() types.ColumnType {
	switch d.Kind {
	case AggKindCount:
		return types.ColumnTypeInt
	case AggKindAvg:
		switch d.ArgType.ID() {
		case types.ColumnTypeIDTimestamp:
			return types.ColumnTypeTimestamp
		case types.ColumnTypeIDDecimal:
			return &types.DecimalType{Precision: types.DefaultDecimalPrecision, Scale: types.DefaultDecimalScale}
		default:
			return types.ColumnTypeFloat
		}
	default:
		return d.ArgType
	}
}

// StateTypes are the accumulator columns this aggregate contributes to the
// partial (merge-input) row schema.
func (d *AggDesc) StateTypes() []types.ColumnType {
	switch d.Kind {
	case AggKindCount:
		return []types.ColumnType{types.ColumnTypeInt}
	case AggKindAvg:
		// running total and count
		return []types.ColumnType{types.ColumnTypeFloat, types.ColumnTypeInt}
	default:
		return []types.ColumnType{d.ArgType}
	}
}

func (d *AggDesc) StateNames() []string {
	switch d.Kind {
	case AggKindAvg:
		return []string{d.Alias + "_tot", d.Alias + "_count"}
	default:
		return []string{d.Alias}
	}
}

// avgAcc is the in-flight accumulator for avg. Totals are accumulated as
// float64 whatever the argument type, as in standard partial-avg buffers.
type avgAcc struct {
	tot   float64
	count int64
}

// initialAcc returns the accumulator for a freshly observed group.
func initialAcc(d *AggDesc) any {
	switch d.Kind {
	case AggKindCount:
		return int64(0)
	case AggKindAvg:
		return &avgAcc{}
	case AggKindSum:
		if d.ArgNonNullable {
			return zeroValueForType(d.ArgType)
		}
		return nil
	default:
		return nil
	}
}

func zeroValueForType(t types.ColumnType) any {
	switch t.ID() {
	case types.ColumnTypeIDInt:
		return int64(0)
	case types.ColumnTypeIDFloat:
		return float64(0)
	case types.ColumnTypeIDDecimal:
		decType := t.(*types.DecimalType)
		return types.NewDecimalFromInt64(0, decType.Precision, decType.Scale)
	case types.ColumnTypeIDTimestamp:
		return types.NewTimestamp(0)
	default:
		panic("no zero value for type")
	}
}

// emptyValue is the documented result of the aggregate over zero input rows,
// only reachable on the global (no grouping) path.
func emptyValue(d *AggDesc) any {
	switch d.Kind {
	case AggKindCount:
		return int64(0)
	case AggKindSum:
		if d.ArgNonNullable {
			return zeroValueForType(d.ArgType)
		}
		return nil
	default:
		return nil
	}
}

// updateAcc folds one raw argument value into the accumulator. Null argument
// values do not contribute, except to a count of rows (nil ArgExpr).
func updateAcc(d *AggDesc, acc any, val any) (any, error) {
	if d.Kind == AggKindCount {
		var count int64
		if acc != nil {
			count = acc.(int64)
		}
		if val == nil && d.ArgExpr != nil {
			return count, nil
		}
		return count + 1, nil
	}
	if val == nil {
		return acc, nil
	}
	switch d.Kind {
	case AggKindSum:
		return sumVals(acc, val, d.ArgType)
	case AggKindAvg:
		a := acc.(*avgAcc)
		f, err := valAsFloat(val, d.ArgType)
		if err != nil {
			return nil, err
		}
		a.tot += f
		a.count++
		return a, nil
	case AggKindMin:
		if acc == nil {
			return val, nil
		}
		cmp, err := expr.CompareVals(val, acc, d.ArgType)
		if err != nil {
			return nil, err
		}
		if cmp < 0 {
			return val, nil
		}
		return acc, nil
	case AggKindMax:
		if acc == nil {
			return val, nil
		}
		cmp, err := expr.CompareVals(val, acc, d.ArgType)
		if err != nil {
			return nil, err
		}
		if cmp > 0 {
			return val, nil
		}
		return acc, nil
	case AggKindLast:
		return val, nil
	default:
		panic("unknown agg kind")
	}
}

func sumVals(acc any, val any, argType types.ColumnType) (any, error) {
	if acc == nil {
		return val, nil
	}
	switch argType.ID() {
	case types.ColumnTypeIDInt:
		return acc.(int64) + val.(int64), nil
	case types.ColumnTypeIDFloat:
		return acc.(float64) + val.(float64), nil
	case types.ColumnTypeIDTimestamp:
		return types.NewTimestamp(acc.(types.Timestamp).Val + val.(types.Timestamp).Val), nil
	case types.ColumnTypeIDDecimal:
		accDec := acc.(types.Decimal)
		valDec := val.(types.Decimal)
		return accDec.Add(&valDec)
	default:
		return nil, errors.Errorf("cannot sum type %s", argType.String())
	}
}

func valAsFloat(val any, argType types.ColumnType) (float64, error) {
	switch argType.ID() {
	case types.ColumnTypeIDInt:
		return float64(val.(int64)), nil
	case types.ColumnTypeIDFloat:
		return val.(float64), nil
	case types.ColumnTypeIDTimestamp:
		return float64(val.(types.Timestamp).Val), nil
	case types.ColumnTypeIDDecimal:
		dec := val.(types.Decimal)
		return dec.ToFloat64(), nil
	default:
		return 0, errors.Errorf("cannot average type %s", argType.String())
	}
}

// mergeAcc combines two accumulators for the same group. "other" belongs to
// the later produced run, which matters only for last.
func mergeAcc(d *AggDesc, acc any, other any) (any, error) {
	switch d.Kind {
	case AggKindCount:
		var a, b int64
		if acc != nil {
			a = acc.(int64)
		}
		if other != nil {
			b = other.(int64)
		}
		return a + b, nil
	case AggKindSum:
		if other == nil {
			return acc, nil
		}
		return sumVals(acc, other, d.ArgType)
	case AggKindAvg:
		a := acc.(*avgAcc)
		b := other.(*avgAcc)
		a.tot += b.tot
		a.count += b.count
		return a, nil
	case AggKindMin, AggKindMax:
		if other == nil {
			return acc, nil
		}
		return updateAcc(d, acc, other)
	case AggKindLast:
		if other != nil {
			return other, nil
		}
		return acc, nil
	default:
		panic("unknown agg kind")
	}
}

// evaluateAcc produces the final value of the aggregate from its accumulator.
func evaluateAcc(d *AggDesc, acc any) (any, error) {
	switch d.Kind {
	case AggKindCount:
		if acc == nil {
			return int64(0), nil
		}
		return acc, nil
	case AggKindAvg:
		a := acc.(*avgAcc)
		if a.count == 0 {
			return nil, nil
		}
		avg := a.tot / float64(a.count)
		switch d.ArgType.ID() {
		case types.ColumnTypeIDTimestamp:
			return types.NewTimestamp(int64(avg)), nil
		case types.ColumnTypeIDDecimal:
			return types.NewDecimalFromFloat64(avg, types.DefaultDecimalPrecision, types.DefaultDecimalScale)
		default:
			return avg, nil
		}
	default:
		return acc, nil
	}
}
