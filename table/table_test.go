package table

import (
	"testing"

	"github.com/flintdb/flint/common"
	"github.com/flintdb/flint/expr"
	"github.com/flintdb/flint/rows"
	"github.com/flintdb/flint/types"
	"github.com/stretchr/testify/require"
)

var accountSchema = rows.NewSchema(
	[]string{"id", "owner", "balance"},
	[]types.ColumnType{types.ColumnTypeInt, types.ColumnTypeString, types.ColumnTypeFloat},
)

func newAccountTable(t *testing.T) *Table {
	t.Helper()
	tab, err := NewTable("test.accounts", accountSchema, []string{"id"})
	require.NoError(t, err)
	return tab
}

func TestInsertAndGet(t *testing.T) {
	tab := newAccountTable(t)
	require.NoError(t, tab.Insert(rows.Row{int64(1), "alice", 100.0}))
	require.NoError(t, tab.Insert(rows.Row{int64(2), "bob", 50.0}))

	row, ok, err := tab.GetByKey([]any{int64(1)})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rows.Row{int64(1), "alice", 100.0}, row)

	_, ok, err = tab.GetByKey([]any{int64(3)})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInsertDuplicateKey(t *testing.T) {
	tab := newAccountTable(t)
	require.NoError(t, tab.Insert(rows.Row{int64(1), "alice", 100.0}))
	err := tab.Insert(rows.Row{int64(1), "mallory", 0.0})
	require.True(t, common.IsFlintErrorWithCode(err, common.UniqueConstraintViolation))
}

func TestUpsertReplaces(t *testing.T) {
	tab := newAccountTable(t)
	require.NoError(t, tab.Upsert(rows.Row{int64(1), "alice", 100.0}))
	require.NoError(t, tab.Upsert(rows.Row{int64(1), "alice", 150.0}))
	row, ok, err := tab.GetByKey([]any{int64(1)})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 150.0, row[2])
	require.Equal(t, 1, tab.RowCount())
}

func TestDeleteByKey(t *testing.T) {
	tab := newAccountTable(t)
	require.NoError(t, tab.Insert(rows.Row{int64(1), "alice", 100.0}))
	deleted, err := tab.DeleteByKey([]any{int64(1)})
	require.NoError(t, err)
	require.True(t, deleted)
	deleted, err = tab.DeleteByKey([]any{int64(1)})
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestScanKeyOrderAndFilter(t *testing.T) {
	tab := newAccountTable(t)
	require.NoError(t, tab.Insert(rows.Row{int64(3), "carol", 10.0}))
	require.NoError(t, tab.Insert(rows.Row{int64(1), "alice", 100.0}))
	require.NoError(t, tab.Insert(rows.Row{int64(2), "bob", 50.0}))

	all, err := tab.Scan(nil)
	require.NoError(t, err)
	require.Equal(t, []rows.Row{
		{int64(1), "alice", 100.0},
		{int64(2), "bob", 50.0},
		{int64(3), "carol", 10.0},
	}, all)

	factory := expr.NewExpressionFactory()
	filter, err := factory.CreateExpression(&expr.ExprDesc{
		Kind: "binary",
		Op:   ">=",
		Left: &expr.ExprDesc{Kind: "column", Column: "balance"},
		Right: &expr.ExprDesc{
			Kind: "literal", Type: "float", Value: 50.0,
		},
	}, accountSchema)
	require.NoError(t, err)
	rich, err := tab.Scan(filter)
	require.NoError(t, err)
	require.Equal(t, 2, len(rich))
}

func TestUpdateWhere(t *testing.T) {
	tab := newAccountTable(t)
	require.NoError(t, tab.Insert(rows.Row{int64(1), "alice", 100.0}))
	require.NoError(t, tab.Insert(rows.Row{int64(2), "bob", 50.0}))

	factory := expr.NewExpressionFactory()
	filter, err := factory.CreateExpression(&expr.ExprDesc{
		Kind:  "binary",
		Op:    "==",
		Left:  &expr.ExprDesc{Kind: "column", Column: "owner"},
		Right: &expr.ExprDesc{Kind: "literal", Type: "string", Value: "alice"},
	}, accountSchema)
	require.NoError(t, err)

	updated, err := tab.UpdateWhere(filter, func(row rows.Row) (rows.Row, error) {
		row[2] = row[2].(float64) + 25.0
		return row, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, updated)
	row, _, err := tab.GetByKey([]any{int64(1)})
	require.NoError(t, err)
	require.Equal(t, 125.0, row[2])
}

func TestUpdateWhereCannotChangeKey(t *testing.T) {
	tab := newAccountTable(t)
	require.NoError(t, tab.Insert(rows.Row{int64(1), "alice", 100.0}))
	_, err := tab.UpdateWhere(nil, func(row rows.Row) (rows.Row, error) {
		row[0] = int64(99)
		return row, nil
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot change key column")
}

func TestDeleteWhere(t *testing.T) {
	tab := newAccountTable(t)
	for i := 1; i <= 5; i++ {
		require.NoError(t, tab.Insert(rows.Row{int64(i), "x", float64(i * 10)}))
	}
	factory := expr.NewExpressionFactory()
	filter, err := factory.CreateExpression(&expr.ExprDesc{
		Kind:  "binary",
		Op:    "<",
		Left:  &expr.ExprDesc{Kind: "column", Column: "balance"},
		Right: &expr.ExprDesc{Kind: "literal", Type: "float", Value: 30.0},
	}, accountSchema)
	require.NoError(t, err)
	deleted, err := tab.DeleteWhere(filter)
	require.NoError(t, err)
	require.Equal(t, 2, deleted)
	require.Equal(t, 3, tab.RowCount())
}

func TestKeylessTableSyntheticRowID(t *testing.T) {
	tab, err := NewTable("test.events", accountSchema, nil)
	require.NoError(t, err)
	// identical rows are retained, each under its own row id
	require.NoError(t, tab.Insert(rows.Row{int64(1), "alice", 1.0}))
	require.NoError(t, tab.Insert(rows.Row{int64(1), "alice", 1.0}))
	require.Equal(t, 2, tab.RowCount())
}

func TestSchemaMismatch(t *testing.T) {
	tab := newAccountTable(t)
	err := tab.Insert(rows.Row{int64(1), "alice"})
	require.True(t, common.IsFlintErrorWithCode(err, common.SchemaMismatch))
}

func TestStoreCreateGetDrop(t *testing.T) {
	store := NewStore()
	_, err := store.CreateTable("db1", "accounts", accountSchema, []string{"id"})
	require.NoError(t, err)
	_, err = store.CreateTable("db1", "accounts", accountSchema, []string{"id"})
	require.True(t, common.IsFlintErrorWithCode(err, common.TableAlreadyExists))

	tab, ok := store.GetTable("db1", "accounts")
	require.True(t, ok)
	require.Equal(t, "db1.accounts", tab.Name())

	require.NoError(t, store.DropTable("db1", "accounts"))
	err = store.DropTable("db1", "accounts")
	require.True(t, common.IsFlintErrorWithCode(err, common.TableNotFound))
}
