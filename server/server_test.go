package server

import (
	"testing"

	"github.com/flintdb/flint/common"
	"github.com/flintdb/flint/conf"
	"github.com/flintdb/flint/metastore"
	"github.com/flintdb/flint/types"
	"github.com/stretchr/testify/require"
)

func TestStartAndStop(t *testing.T) {
	s, err := NewServer(conf.Config{})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer func() {
		require.NoError(t, s.Stop())
	}()

	err = s.Meta().CreateDatabase(&metastore.DatabaseDesc{DatabaseName: "db1"})
	require.NoError(t, err)
	err = s.Meta().CreateTable(&metastore.TableDesc{
		DatabaseName: "db1",
		TableName:    "accounts",
		Kind:         metastore.TableKindRow,
		Columns: []metastore.ColumnDesc{
			{Name: "id", Type: types.ColumnTypeInt.String()},
			{Name: "balance", Type: types.ColumnTypeFloat.String()},
		},
		KeyColumns: []string{"id"},
	})
	require.NoError(t, err)

	rel, err := s.Catalog().Resolve("db1", "accounts")
	require.NoError(t, err)
	require.Equal(t, "accounts", rel.Desc.TableName)
}

func TestStartIsIdempotent(t *testing.T) {
	s, err := NewServer(conf.Config{})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := conf.Config{
		KafkaTopic: common.StrPtr("events"),
	}
	_, err := NewServer(cfg)
	require.Error(t, err)
	require.True(t, common.IsFlintErrorWithCode(err, common.InvalidConfiguration))
}
