package metastore

import (
	"testing"

	"github.com/flintdb/flint/common"
	"github.com/flintdb/flint/expr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func accountsTableDesc() *TableDesc {
	return &TableDesc{
		DatabaseName: "db1",
		TableName:    "accounts",
		Kind:         TableKindRow,
		Columns: []ColumnDesc{
			{Name: "id", Type: "int"},
			{Name: "owner", Type: "string"},
			{Name: "balance", Type: "decimal(10,2)"},
		},
		KeyColumns: []string{"id"},
	}
}

func newInMemClient() (*Client, *InMemSession) {
	session := NewInMemSession()
	return NewClient(func() (Session, error) {
		return session, nil
	}), session
}

func TestDatabaseLifecycle(t *testing.T) {
	client, _ := newInMemClient()
	require.NoError(t, client.CreateDatabase(&DatabaseDesc{DatabaseName: "db1"}))

	err := client.CreateDatabase(&DatabaseDesc{DatabaseName: "db1"})
	require.True(t, common.IsFlintErrorWithCode(err, common.SchemaAlreadyExists))

	desc, exists, err := client.GetDatabase("db1")
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, "db1", desc.DatabaseName)

	require.NoError(t, client.DropDatabase("db1"))
	err = client.DropDatabase("db1")
	require.True(t, common.IsFlintErrorWithCode(err, common.SchemaNotFound))
}

func TestTableLifecycle(t *testing.T) {
	client, _ := newInMemClient()
	require.NoError(t, client.CreateDatabase(&DatabaseDesc{DatabaseName: "db1"}))
	require.NoError(t, client.CreateTable(accountsTableDesc()))

	err := client.CreateTable(accountsTableDesc())
	require.True(t, common.IsFlintErrorWithCode(err, common.TableAlreadyExists))

	desc, exists, err := client.GetTable("db1", "accounts")
	require.NoError(t, err)
	require.True(t, exists)
	schema, err := desc.Schema()
	require.NoError(t, err)
	require.Equal(t, []string{"id", "owner", "balance"}, schema.ColumnNames())

	tables, err := client.ListTables("db1")
	require.NoError(t, err)
	require.Equal(t, 1, len(tables))

	require.NoError(t, client.DropTable("db1", "accounts"))
	err = client.DropTable("db1", "accounts")
	require.True(t, common.IsFlintErrorWithCode(err, common.TableNotFound))
}

func TestAlterTable(t *testing.T) {
	client, _ := newInMemClient()
	require.NoError(t, client.CreateDatabase(&DatabaseDesc{DatabaseName: "db1"}))
	require.NoError(t, client.CreateTable(accountsTableDesc()))

	altered := accountsTableDesc()
	altered.Columns = append(altered.Columns, ColumnDesc{Name: "region", Type: "string"})
	altered.Options = map[string]string{"compression": "lz4"}
	require.NoError(t, client.AlterTable(altered))

	desc, exists, err := client.GetTable("db1", "accounts")
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, 4, len(desc.Columns))

	value, ok, err := client.GetTableOption("db1", "accounts", "compression")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "lz4", value)

	_, ok, err = client.GetTableOption("db1", "accounts", "no_such_option")
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = client.GetTableOption("db1", "nope", "compression")
	require.True(t, common.IsFlintErrorWithCode(err, common.TableNotFound))

	missing := accountsTableDesc()
	missing.TableName = "nope"
	err = client.AlterTable(missing)
	require.True(t, common.IsFlintErrorWithCode(err, common.TableNotFound))
}

func TestCreateTableInMissingDatabase(t *testing.T) {
	client, _ := newInMemClient()
	err := client.CreateTable(accountsTableDesc())
	require.True(t, common.IsFlintErrorWithCode(err, common.SchemaNotFound))
}

func TestTableDescValidation(t *testing.T) {
	client, _ := newInMemClient()
	desc := accountsTableDesc()
	desc.Columns[2].Type = "varchar"
	require.Error(t, client.CreateTable(desc))

	desc = accountsTableDesc()
	desc.Kind = "columnar"
	require.Error(t, client.CreateTable(desc))

	desc = accountsTableDesc()
	desc.KeyColumns = []string{"nope"}
	require.Error(t, client.CreateTable(desc))
}

func TestPolicyLifecycle(t *testing.T) {
	client, _ := newInMemClient()
	require.NoError(t, client.CreateDatabase(&DatabaseDesc{DatabaseName: "db1"}))
	require.NoError(t, client.CreateTable(accountsTableDesc()))

	policy := &PolicyDesc{
		DatabaseName: "db1",
		TableName:    "accounts",
		PolicyName:   "positive_balance",
		Filter: &expr.ExprDesc{
			Kind:  "binary",
			Op:    ">",
			Left:  &expr.ExprDesc{Kind: "column", Column: "balance"},
			Right: &expr.ExprDesc{Kind: "literal", Type: "decimal(10,2)", Value: "0.00"},
		},
	}
	require.NoError(t, client.PutPolicy(policy))

	got, exists, err := client.GetPolicy("db1", "accounts", "positive_balance")
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, "positive_balance", got.PolicyName)

	policies, err := client.ListPolicies("db1", "accounts")
	require.NoError(t, err)
	require.Equal(t, 1, len(policies))

	require.NoError(t, client.DropPolicy("db1", "accounts", "positive_balance"))
	err = client.DropPolicy("db1", "accounts", "positive_balance")
	require.True(t, common.IsFlintErrorWithCode(err, common.PolicyNotFound))
}

// brokenSession fails every call until failures are exhausted, then delegates.
type brokenSession struct {
	*InMemSession
	failures *int
	failWith error
	closed   bool
}

func (b *brokenSession) GetDatabase(dbName string) (*DatabaseDesc, bool, error) {
	if *b.failures > 0 {
		*b.failures--
		return nil, false, b.failWith
	}
	return b.InMemSession.GetDatabase(dbName)
}

func (b *brokenSession) Close() error {
	b.closed = true
	return nil
}

func newFlakyClient(failures int, failWith error) (*Client, *int, *[]*brokenSession) {
	backing := NewInMemSession()
	_ = backing.CreateDatabase(&DatabaseDesc{DatabaseName: "db1"})
	var sessions []*brokenSession
	client := NewClient(func() (Session, error) {
		s := &brokenSession{InMemSession: backing, failures: &failures, failWith: failWith}
		sessions = append(sessions, s)
		return s, nil
	})
	return client, &failures, &sessions
}

func TestReconnectRetriesOnceOnSessionError(t *testing.T) {
	client, _, sessions := newFlakyClient(1, errors.New("etcdserver: connection refused"))
	_, exists, err := client.GetDatabase("db1")
	require.NoError(t, err)
	require.True(t, exists)
	// the broken session must have been closed and replaced
	require.Equal(t, 2, len(*sessions))
	require.True(t, (*sessions)[0].closed)
	require.False(t, (*sessions)[1].closed)
}

func TestReconnectGivesUpAfterOneRetry(t *testing.T) {
	client, failures, sessions := newFlakyClient(5, status.Error(codes.Unavailable, "etcd down"))
	_, _, err := client.GetDatabase("db1")
	require.True(t, common.IsFlintErrorWithCode(err, common.CatalogUnavailable))
	require.Equal(t, 2, len(*sessions))
	require.Equal(t, 3, *failures)
}

func TestNonSessionErrorsAreNotRetried(t *testing.T) {
	client, failures, sessions := newFlakyClient(1, errors.New("etcdserver: mvcc: required revision is a future revision"))
	_, _, err := client.GetDatabase("db1")
	require.True(t, common.IsFlintErrorWithCode(err, common.CatalogError))
	require.Equal(t, 1, len(*sessions))
	require.Equal(t, 0, *failures)
}

func TestCatalogOutcomeErrorsPassThrough(t *testing.T) {
	client, _ := newInMemClient()
	_, exists, err := client.GetDatabase("nope")
	require.NoError(t, err)
	require.False(t, exists)
	err = client.DropTable("db1", "nope")
	require.True(t, common.IsFlintErrorWithCode(err, common.TableNotFound))
}

func TestIsSessionErrorClassification(t *testing.T) {
	require.True(t, isSessionError(errors.New("grpc: the client connection is closing, connection closed")))
	require.True(t, isSessionError(errors.New("dial tcp 127.0.0.1:2379: connect: connection refused")))
	require.True(t, isSessionError(errors.New("etcdserver: lease expired")))
	require.True(t, isSessionError(status.Error(codes.Unavailable, "transport is closing")))
	require.True(t, isSessionError(status.Error(codes.DeadlineExceeded, "deadline exceeded")))
	require.False(t, isSessionError(errors.New("etcdserver: mvcc: required revision is a future revision")))
	require.False(t, isSessionError(common.NewTableNotFoundError("db1", "accounts")))
}
