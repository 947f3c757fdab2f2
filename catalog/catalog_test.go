package catalog

import (
	"sync"
	"testing"

	"github.com/flintdb/flint/cluster"
	"github.com/flintdb/flint/common"
	"github.com/flintdb/flint/expr"
	"github.com/flintdb/flint/metastore"
	"github.com/flintdb/flint/rows"
	"github.com/flintdb/flint/table"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	meta   *metastore.Client
	bus    *cluster.LocalBus
	cache1 *Cache
	cache2 *Cache
}

// newFixture builds two caches sharing a metadata store and a bus, as two
// nodes of the same cluster would.
func newFixture(t *testing.T, caseSensitive bool) *fixture {
	t.Helper()
	session := metastore.NewInMemSession()
	meta := metastore.NewClient(func() (metastore.Session, error) {
		return session, nil
	})
	bus := cluster.NewLocalBus()
	cache1 := NewCache(meta, NewStoreProvider(table.NewStore()), bus, caseSensitive)
	cache2 := NewCache(meta, NewStoreProvider(table.NewStore()), bus, caseSensitive)

	require.NoError(t, meta.CreateDatabase(&metastore.DatabaseDesc{DatabaseName: "db1"}))
	for _, name := range []string{"accounts", "orders"} {
		require.NoError(t, meta.CreateTable(&metastore.TableDesc{
			DatabaseName: "db1",
			TableName:    name,
			Kind:         metastore.TableKindRow,
			Columns: []metastore.ColumnDesc{
				{Name: "id", Type: "int"},
				{Name: "region", Type: "string"},
				{Name: "amount", Type: "float"},
			},
			KeyColumns: []string{"id"},
		}))
	}
	return &fixture{meta: meta, bus: bus, cache1: cache1, cache2: cache2}
}

func TestResolveCachesRelation(t *testing.T) {
	f := newFixture(t, false)
	rel1, err := f.cache1.Resolve("db1", "accounts")
	require.NoError(t, err)
	rel2, err := f.cache1.Resolve("db1", "accounts")
	require.NoError(t, err)
	require.Same(t, rel1, rel2)
	require.Equal(t, 1, f.cache1.CachedCount())
	require.Equal(t, []string{"id", "region", "amount"}, rel1.Schema.ColumnNames())
}

func TestResolveUnknownTable(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.cache1.Resolve("db1", "nope")
	require.True(t, common.IsFlintErrorWithCode(err, common.TableNotFound))
}

func TestCaseInsensitiveNames(t *testing.T) {
	f := newFixture(t, false)
	rel1, err := f.cache1.Resolve("DB1", "Accounts")
	require.NoError(t, err)
	rel2, err := f.cache1.Resolve("db1", "accounts")
	require.NoError(t, err)
	require.Same(t, rel1, rel2)
}

func TestCaseSensitiveNames(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.cache1.Resolve("DB1", "accounts")
	require.True(t, common.IsFlintErrorWithCode(err, common.TableNotFound))
	_, err = f.cache1.Resolve("db1", "accounts")
	require.NoError(t, err)
}

func TestPolicyFiltersScan(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.meta.PutPolicy(&metastore.PolicyDesc{
		DatabaseName: "db1",
		TableName:    "accounts",
		PolicyName:   "eu_only",
		Filter: &expr.ExprDesc{
			Kind:  "binary",
			Op:    "==",
			Left:  &expr.ExprDesc{Kind: "column", Column: "region"},
			Right: &expr.ExprDesc{Kind: "literal", Type: "string", Value: "eu"},
		},
	}))
	rel, err := f.cache1.Resolve("db1", "accounts")
	require.NoError(t, err)
	require.NotNil(t, rel.Filter)
	require.NoError(t, rel.Table.Insert(rows.Row{int64(1), "eu", 10.0}))
	require.NoError(t, rel.Table.Insert(rows.Row{int64(2), "us", 20.0}))
	visible, err := rel.Scan()
	require.NoError(t, err)
	require.Equal(t, 1, len(visible))
	require.Equal(t, "eu", visible[0][1])
}

func TestInvalidPolicyRejected(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.meta.PutPolicy(&metastore.PolicyDesc{
		DatabaseName: "db1",
		TableName:    "accounts",
		PolicyName:   "bad",
		Filter:       &expr.ExprDesc{Kind: "column", Column: "amount"},
	}))
	_, err := f.cache1.Resolve("db1", "accounts")
	require.True(t, common.IsFlintErrorWithCode(err, common.InvalidPolicy))

	require.NoError(t, f.meta.PutPolicy(&metastore.PolicyDesc{
		DatabaseName: "db1",
		TableName:    "accounts",
		PolicyName:   "bad",
		Filter:       &expr.ExprDesc{Kind: "column", Column: "no_such_column"},
	}))
	_, err = f.cache1.Resolve("db1", "accounts")
	require.True(t, common.IsFlintErrorWithCode(err, common.InvalidPolicy))
}

func TestSelfInvalidationDropsOnlyThatEntry(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.cache1.Resolve("db1", "accounts")
	require.NoError(t, err)
	_, err = f.cache1.Resolve("db1", "orders")
	require.NoError(t, err)
	require.Equal(t, 2, f.cache1.CachedCount())

	require.NoError(t, f.cache1.Invalidate("db1", "accounts"))
	require.Equal(t, 1, f.cache1.CachedCount())
	require.Equal(t, int64(1), f.cache1.DestroyVersion())
}

func TestRemoteInvalidationClearsWholeCache(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.cache1.Resolve("db1", "accounts")
	require.NoError(t, err)
	_, err = f.cache2.Resolve("db1", "accounts")
	require.NoError(t, err)
	_, err = f.cache2.Resolve("db1", "orders")
	require.NoError(t, err)

	// node 1 destroys accounts; node 2 cannot tell what changed and drops
	// everything
	require.NoError(t, f.cache1.Invalidate("db1", "accounts"))
	require.Equal(t, 0, f.cache2.CachedCount())
	require.Equal(t, f.cache1.DestroyVersion(), f.cache2.DestroyVersion())
}

func TestDropTableEndToEnd(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.cache1.Resolve("db1", "accounts")
	require.NoError(t, err)

	require.NoError(t, f.meta.DropTable("db1", "accounts"))
	require.NoError(t, f.cache1.Invalidate("db1", "accounts"))

	_, err = f.cache1.Resolve("db1", "accounts")
	require.True(t, common.IsFlintErrorWithCode(err, common.TableNotFound))
	_, err = f.cache2.Resolve("db1", "accounts")
	require.True(t, common.IsFlintErrorWithCode(err, common.TableNotFound))
}

func TestInvalidateAll(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.cache1.Resolve("db1", "accounts")
	require.NoError(t, err)
	_, err = f.cache1.Resolve("db1", "orders")
	require.NoError(t, err)
	require.NoError(t, f.cache1.InvalidateAll())
	require.Equal(t, 0, f.cache1.CachedCount())
	require.Equal(t, int64(1), f.cache1.DestroyVersion())
}

// gatedSession pauses its first ListPolicies call so a test can interleave
// other work with an in-flight relation load.
type gatedSession struct {
	*metastore.InMemSession
	loading chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedSession) ListPolicies(dbName string, tableName string) ([]*metastore.PolicyDesc, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.loading)
		<-g.release
	}
	return g.InMemSession.ListPolicies(dbName, tableName)
}

func TestInvalidationDuringLoadNotLost(t *testing.T) {
	session := &gatedSession{
		InMemSession: metastore.NewInMemSession(),
		loading:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	meta := metastore.NewClient(func() (metastore.Session, error) {
		return session, nil
	})
	bus := cluster.NewLocalBus()
	cache1 := NewCache(meta, NewStoreProvider(table.NewStore()), bus, false)
	cache2 := NewCache(meta, NewStoreProvider(table.NewStore()), bus, false)

	require.NoError(t, meta.CreateDatabase(&metastore.DatabaseDesc{DatabaseName: "db1"}))
	desc := &metastore.TableDesc{
		DatabaseName: "db1",
		TableName:    "accounts",
		Kind:         metastore.TableKindRow,
		Columns: []metastore.ColumnDesc{
			{Name: "id", Type: "int"},
		},
		KeyColumns: []string{"id"},
	}
	require.NoError(t, meta.CreateTable(desc))

	var rel *Relation
	var resolveErr error
	resolveDone := make(chan struct{})
	go func() {
		defer close(resolveDone)
		rel, resolveErr = cache1.Resolve("db1", "accounts")
	}()

	// while the load sits in ListPolicies, another node alters the table and
	// invalidates; the loaded relation carries the old descriptor and must
	// not end up cached
	<-session.loading
	altered := &metastore.TableDesc{
		DatabaseName: "db1",
		TableName:    "accounts",
		Kind:         metastore.TableKindRow,
		Columns: []metastore.ColumnDesc{
			{Name: "id", Type: "int"},
			{Name: "region", Type: "string"},
		},
		KeyColumns: []string{"id"},
	}
	require.NoError(t, meta.AlterTable(altered))
	require.NoError(t, cache2.Invalidate("db1", "accounts"))
	require.Equal(t, int64(1), cache1.DestroyVersion())
	close(session.release)
	<-resolveDone
	require.NoError(t, resolveErr)

	require.Equal(t, []string{"id", "region"}, rel.Schema.ColumnNames())
	refreshed, err := cache1.Resolve("db1", "accounts")
	require.NoError(t, err)
	require.Equal(t, []string{"id", "region"}, refreshed.Schema.ColumnNames())
}

func TestRefreshAfterRemoteAlter(t *testing.T) {
	f := newFixture(t, false)
	rel, err := f.cache2.Resolve("db1", "accounts")
	require.NoError(t, err)
	require.Nil(t, rel.Filter)

	// node 1 attaches a policy and invalidates; node 2 must pick it up on
	// the next resolve
	require.NoError(t, f.meta.PutPolicy(&metastore.PolicyDesc{
		DatabaseName: "db1",
		TableName:    "accounts",
		PolicyName:   "eu_only",
		Filter: &expr.ExprDesc{
			Kind:  "binary",
			Op:    "==",
			Left:  &expr.ExprDesc{Kind: "column", Column: "region"},
			Right: &expr.ExprDesc{Kind: "literal", Type: "string", Value: "eu"},
		},
	}))
	require.NoError(t, f.cache1.Invalidate("db1", "accounts"))

	refreshed, err := f.cache2.Resolve("db1", "accounts")
	require.NoError(t, err)
	require.NotNil(t, refreshed.Filter)
}
