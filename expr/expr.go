package expr

import (
	"encoding/json"
	"fmt"

	"github.com/flintdb/flint/rows"
	"github.com/flintdb/flint/types"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// Expression evaluates against a single row. A nil result is SQL null.
type Expression interface {
	Eval(row rows.Row) (any, error)
	ResultType() types.ColumnType
}

// ExprDesc is the serializable description of an expression. Policies store
// these in the metadata store; there is no SQL parser at this layer.
type ExprDesc struct {
	Kind    string    `json:"kind"` // "column", "literal", "binary"
	Column  string    `json:"column,omitempty"`
	Type    string    `json:"type,omitempty"`
	Value   any       `json:"value,omitempty"`
	Op      string    `json:"op,omitempty"`
	Left    *ExprDesc `json:"left,omitempty"`
	Right   *ExprDesc `json:"right,omitempty"`
}

func (d *ExprDesc) String() string {
	b, err := json.Marshal(d)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func ParseExprDesc(data []byte) (*ExprDesc, error) {
	desc := &ExprDesc{}
	if err := json.Unmarshal(data, desc); err != nil {
		return nil, errors.WithMessage(err, "invalid expression descriptor")
	}
	return desc, nil
}

const exprCacheMaxSize = 1000

type ExpressionFactory struct {
	cache *lru.Cache
}

func NewExpressionFactory() *ExpressionFactory {
	cache, err := lru.New(exprCacheMaxSize)
	if err != nil {
		panic(err) // only fails on non-positive size
	}
	return &ExpressionFactory{cache: cache}
}

// CreateExpression builds and type-checks an expression against the schema.
// Built expressions are cached per (descriptor, schema columns) as building
// occurs on every relation resolve for policies.
func (f *ExpressionFactory) CreateExpression(desc *ExprDesc, schema *rows.Schema) (Expression, error) {
	cacheKey := fmt.Sprintf("%s/%v", desc.String(), schema.ColumnNames())
	if e, ok := f.cache.Get(cacheKey); ok {
		return e.(Expression), nil
	}
	e, err := createExpression(desc, schema)
	if err != nil {
		return nil, err
	}
	f.cache.Add(cacheKey, e)
	return e, nil
}

func createExpression(desc *ExprDesc, schema *rows.Schema) (Expression, error) {
	switch desc.Kind {
	case "column":
		index := schema.ColumnIndex(desc.Column)
		if index == -1 {
			return nil, errors.Errorf("unknown column '%s'", desc.Column)
		}
		return &ColumnExpr{
			colIndex: index,
			colType:  schema.ColumnTypes()[index],
		}, nil
	case "literal":
		return createLiteralExpr(desc)
	case "binary":
		return createBinaryExpr(desc, schema)
	default:
		return nil, errors.Errorf("unknown expression kind '%s'", desc.Kind)
	}
}

func createLiteralExpr(desc *ExprDesc) (Expression, error) {
	colType, err := types.StringToColumnType(desc.Type)
	if err != nil {
		return nil, err
	}
	val := desc.Value
	if val != nil {
		// JSON numbers decode as float64
		switch colType.ID() {
		case types.ColumnTypeIDInt:
			f, ok := val.(float64)
			if ok {
				val = int64(f)
			} else if _, ok := val.(int64); !ok {
				return nil, errors.Errorf("literal '%v' is not an int", desc.Value)
			}
		case types.ColumnTypeIDTimestamp:
			f, ok := val.(float64)
			if ok {
				val = types.NewTimestamp(int64(f))
			} else if _, ok := val.(types.Timestamp); !ok {
				return nil, errors.Errorf("literal '%v' is not a timestamp", desc.Value)
			}
		case types.ColumnTypeIDDecimal:
			s, ok := val.(string)
			if !ok {
				return nil, errors.Errorf("decimal literal must be a string, got '%v'", desc.Value)
			}
			decType := colType.(*types.DecimalType)
			dec, err := types.NewDecimalFromString(s, decType.Precision, decType.Scale)
			if err != nil {
				return nil, err
			}
			val = dec
		}
	}
	return &LiteralExpr{val: val, colType: colType}, nil
}

type ColumnExpr struct {
	colIndex int
	colType  types.ColumnType
}

func NewColumnExpr(colIndex int, colType types.ColumnType) *ColumnExpr {
	return &ColumnExpr{colIndex: colIndex, colType: colType}
}

func (c *ColumnExpr) Eval(row rows.Row) (any, error) {
	return row[c.colIndex], nil
}

func (c *ColumnExpr) ResultType() types.ColumnType {
	return c.colType
}

type LiteralExpr struct {
	val     any
	colType types.ColumnType
}

func NewLiteralExpr(val any, colType types.ColumnType) *LiteralExpr {
	return &LiteralExpr{val: val, colType: colType}
}

func (l *LiteralExpr) Eval(rows.Row) (any, error) {
	return l.val, nil
}

func (l *LiteralExpr) ResultType() types.ColumnType {
	return l.colType
}
