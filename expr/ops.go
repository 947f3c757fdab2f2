package expr

import (
	"bytes"
	"strings"

	"github.com/flintdb/flint/rows"
	"github.com/flintdb/flint/types"
	"github.com/pkg/errors"
)

func createBinaryExpr(desc *ExprDesc, schema *rows.Schema) (Expression, error) {
	if desc.Left == nil || desc.Right == nil {
		return nil, errors.Errorf("binary expression '%s' requires left and right operands", desc.Op)
	}
	left, err := createExpression(desc.Left, schema)
	if err != nil {
		return nil, err
	}
	right, err := createExpression(desc.Right, schema)
	if err != nil {
		return nil, err
	}
	switch desc.Op {
	case "==", "!=", "<", "<=", ">", ">=":
		if !types.ColumnTypesEqual(left.ResultType(), right.ResultType()) {
			return nil, errors.Errorf("cannot compare expressions of type %s and %s",
				left.ResultType().String(), right.ResultType().String())
		}
		return &ComparisonExpr{op: desc.Op, left: left, right: right}, nil
	case "and", "or":
		if left.ResultType().ID() != types.ColumnTypeIDBool || right.ResultType().ID() != types.ColumnTypeIDBool {
			return nil, errors.Errorf("'%s' requires bool operands", desc.Op)
		}
		return &LogicalExpr{op: desc.Op, left: left, right: right}, nil
	default:
		return nil, errors.Errorf("unknown binary operator '%s'", desc.Op)
	}
}

type ComparisonExpr struct {
	op    string
	left  Expression
	right Expression
}

func (c *ComparisonExpr) ResultType() types.ColumnType {
	return types.ColumnTypeBool
}

func (c *ComparisonExpr) Eval(row rows.Row) (any, error) {
	lv, err := c.left.Eval(row)
	if err != nil {
		return nil, err
	}
	rv, err := c.right.Eval(row)
	if err != nil {
		return nil, err
	}
	if lv == nil || rv == nil {
		// SQL three-valued logic - comparison with null is null
		return nil, nil
	}
	cmp, err := CompareVals(lv, rv, c.left.ResultType())
	if err != nil {
		return nil, err
	}
	switch c.op {
	case "==":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}
	panic("unknown comparison op")
}

// CompareVals compares two non-null values of the same column type,
// returning -1, 0 or 1.
func CompareVals(lv any, rv any, colType types.ColumnType) (int, error) {
	switch colType.ID() {
	case types.ColumnTypeIDInt:
		return compareOrdered(lv.(int64), rv.(int64)), nil
	case types.ColumnTypeIDFloat:
		return compareOrdered(lv.(float64), rv.(float64)), nil
	case types.ColumnTypeIDBool:
		lb, rb := lv.(bool), rv.(bool)
		if lb == rb {
			return 0, nil
		}
		if !lb {
			return -1, nil
		}
		return 1, nil
	case types.ColumnTypeIDDecimal:
		ld, rd := lv.(types.Decimal), rv.(types.Decimal)
		if ld.Equals(&rd) {
			return 0, nil
		}
		if ld.LessThan(&rd) {
			return -1, nil
		}
		return 1, nil
	case types.ColumnTypeIDString:
		return strings.Compare(lv.(string), rv.(string)), nil
	case types.ColumnTypeIDBytes:
		return bytes.Compare(lv.([]byte), rv.([]byte)), nil
	case types.ColumnTypeIDTimestamp:
		return compareOrdered(lv.(types.Timestamp).Val, rv.(types.Timestamp).Val), nil
	default:
		return 0, errors.Errorf("cannot compare type %s", colType.String())
	}
}

func compareOrdered[T int64 | float64](l T, r T) int {
	if l < r {
		return -1
	}
	if l > r {
		return 1
	}
	return 0
}

type LogicalExpr struct {
	op    string
	left  Expression
	right Expression
}

// And conjoins two boolean expressions.
func And(left Expression, right Expression) Expression {
	return &LogicalExpr{op: "and", left: left, right: right}
}

func (l *LogicalExpr) ResultType() types.ColumnType {
	return types.ColumnTypeBool
}

func (l *LogicalExpr) Eval(row rows.Row) (any, error) {
	lv, err := l.left.Eval(row)
	if err != nil {
		return nil, err
	}
	rv, err := l.right.Eval(row)
	if err != nil {
		return nil, err
	}
	if l.op == "and" {
		// null-aware: false and null -> false, true and null -> null
		if lv == false || rv == false {
			return false, nil
		}
		if lv == nil || rv == nil {
			return nil, nil
		}
		return true, nil
	}
	if lv == true || rv == true {
		return true, nil
	}
	if lv == nil || rv == nil {
		return nil, nil
	}
	return false, nil
}
