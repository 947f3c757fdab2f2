package opers

import (
	"testing"

	"github.com/flintdb/flint/types"
	"github.com/stretchr/testify/require"
)

func TestAggKindFromName(t *testing.T) {
	for name, kind := range map[string]AggKind{
		"sum": AggKindSum, "count": AggKindCount, "avg": AggKindAvg,
		"min": AggKindMin, "max": AggKindMax, "last": AggKindLast,
	} {
		k, err := AggKindFromName(name)
		require.NoError(t, err)
		require.Equal(t, kind, k)
	}
	_, err := AggKindFromName("median")
	require.Error(t, err)
}

func TestSumRejectsNonNumericArg(t *testing.T) {
	d := &AggDesc{Kind: AggKindSum, ArgType: types.ColumnTypeString, Alias: "s"}
	require.Error(t, d.validate())
	d = &AggDesc{Kind: AggKindAvg, ArgType: types.ColumnTypeBool, Alias: "a"}
	require.Error(t, d.validate())
	d = &AggDesc{Kind: AggKindMin, ArgType: types.ColumnTypeString, Alias: "m"}
	require.NoError(t, d.validate())
}

func TestSumDecimal(t *testing.T) {
	d := &AggDesc{Kind: AggKindSum, ArgType: &types.DecimalType{Precision: 10, Scale: 2}, Alias: "s"}
	d1, err := types.NewDecimalFromString("12.34", 10, 2)
	require.NoError(t, err)
	d2, err := types.NewDecimalFromString("0.66", 10, 2)
	require.NoError(t, err)
	acc, err := updateAcc(d, nil, d1)
	require.NoError(t, err)
	acc, err = updateAcc(d, acc, d2)
	require.NoError(t, err)
	res, err := evaluateAcc(d, acc)
	require.NoError(t, err)
	sum := res.(types.Decimal)
	require.Equal(t, "13.00", sum.String())
}

func TestSumTimestamp(t *testing.T) {
	d := &AggDesc{Kind: AggKindSum, ArgType: types.ColumnTypeTimestamp, Alias: "s"}
	acc, err := updateAcc(d, nil, types.NewTimestamp(100))
	require.NoError(t, err)
	acc, err = updateAcc(d, acc, types.NewTimestamp(250))
	require.NoError(t, err)
	res, err := evaluateAcc(d, acc)
	require.NoError(t, err)
	require.Equal(t, types.NewTimestamp(350), res)
}

func TestAvgTimestamp(t *testing.T) {
	d := &AggDesc{Kind: AggKindAvg, ArgType: types.ColumnTypeTimestamp, Alias: "a"}
	acc, err := updateAcc(d, initialAcc(d), types.NewTimestamp(100))
	require.NoError(t, err)
	acc, err = updateAcc(d, acc, types.NewTimestamp(200))
	require.NoError(t, err)
	res, err := evaluateAcc(d, acc)
	require.NoError(t, err)
	require.Equal(t, types.NewTimestamp(150), res)
}

func TestMergeLastPrefersOther(t *testing.T) {
	d := &AggDesc{Kind: AggKindLast, ArgType: types.ColumnTypeInt, Alias: "l"}
	acc, err := mergeAcc(d, int64(1), int64(2))
	require.NoError(t, err)
	require.Equal(t, int64(2), acc)
	// a null on the later side must not erase an earlier value
	acc, err = mergeAcc(d, int64(1), nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), acc)
}

func TestMergeMinMax(t *testing.T) {
	min := &AggDesc{Kind: AggKindMin, ArgType: types.ColumnTypeFloat, Alias: "mn"}
	acc, err := mergeAcc(min, 3.0, 1.5)
	require.NoError(t, err)
	require.Equal(t, 1.5, acc)
	max := &AggDesc{Kind: AggKindMax, ArgType: types.ColumnTypeFloat, Alias: "mx"}
	acc, err = mergeAcc(max, 3.0, 1.5)
	require.NoError(t, err)
	require.Equal(t, 3.0, acc)
}

func TestStateRoundTrip(t *testing.T) {
	descs := []*AggDesc{
		{Kind: AggKindAvg, ArgType: types.ColumnTypeFloat, Alias: "a"},
		{Kind: AggKindCount, Alias: "c"},
		{Kind: AggKindLast, ArgType: types.ColumnTypeString, Alias: "l"},
	}
	state := newAggState(descs)
	var err error
	for _, v := range []float64{1.0, 2.0, 6.0} {
		state.accs[0], err = updateAcc(descs[0], state.accs[0], v)
		require.NoError(t, err)
	}
	state.accs[1] = int64(3)
	state.accs[2] = "latest"
	stateTypes := []types.ColumnType{types.ColumnTypeFloat, types.ColumnTypeInt, types.ColumnTypeInt, types.ColumnTypeString}
	buff, err := encodeState(state, descs, stateTypes, nil)
	require.NoError(t, err)
	decoded, err := decodeState(buff, descs, stateTypes)
	require.NoError(t, err)
	avg := decoded.accs[0].(*avgAcc)
	require.Equal(t, 9.0, avg.tot)
	require.Equal(t, int64(3), avg.count)
	require.Equal(t, int64(3), decoded.accs[1])
	require.Equal(t, "latest", decoded.accs[2])
}
