// Copyright 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package aggexec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/groupagg/pkg/common/bitmap"
	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/common/mpool"
	"github.com/matrixorigin/groupagg/pkg/container/batch"
	"github.com/matrixorigin/groupagg/pkg/container/rowcontainer"
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
)

var (
	int64Typ   = types.T_int64.ToType()
	float64Typ = types.T_float64.ToType()
	varcharTyp = types.T_varchar.ToType()
)

// bindRows places the accumulators of fns followed by extra in a new
// keyless container.
func bindRows(fns []AggFuncExec, extra ...rowcontainer.Accumulator) *rowcontainer.RowContainer {
	accs := make([]rowcontainer.Accumulator, 0, len(fns)+len(extra))
	for _, fn := range fns {
		accs = append(accs, NewAccumulator(fn))
	}
	accs = append(accs, extra...)
	c := rowcontainer.NewRowContainer(nil, accs, mpool.MustNewZero())
	l := c.Layout()
	for i, fn := range fns {
		fn.SetOffsets(offsetsOf(l, i))
		fn.SetAllocator(c.StringAllocator())
	}
	return c
}

func offsetsOf(l rowcontainer.Layout, i int) AccumulatorOffsets {
	return AccumulatorOffsets{
		Offset:        l.Offsets[i],
		NullBit:       l.NullBits[i],
		InitBit:       l.InitBits[i],
		RowSizeOffset: l.RowSizeOffset,
	}
}

// newGroups creates n groups and maps input row i to group i % n.
func newGroups(t *testing.T, c *rowcontainer.RowContainer, n, numRows int, fns ...AggFuncExec) []Row {
	var rows []Row
	for i := 0; i < n; i++ {
		row, err := c.NewRow()
		require.NoError(t, err)
		rows = append(rows, row)
	}
	groups := make([]Row, numRows)
	for i := range groups {
		groups[i] = rows[i%n]
	}
	indices := make([]int32, n)
	for i := range indices {
		indices[i] = int32(i)
	}
	for _, fn := range fns {
		fn.InitializeNewGroups(groups, indices)
	}
	return rows
}

func mustMake(t *testing.T, name string, argTypes ...types.Type) AggFuncExec {
	fn, err := MakeAgg(name, argTypes)
	require.NoError(t, err)
	return fn
}

func int64Vec(vals []int64, isNulls []bool) *vector.Vector {
	vec := vector.NewVec(int64Typ)
	vector.AppendFixedList(vec, vals, isNulls)
	return vec
}

func allRows(n int) *bitmap.Bitmap {
	return bitmap.NewWithRange(0, uint64(n))
}

func TestNumericAggregates(t *testing.T) {
	fns := []AggFuncExec{
		mustMake(t, "count"),
		mustMake(t, "count", int64Typ),
		mustMake(t, "sum", int64Typ),
		mustMake(t, "min", int64Typ),
		mustMake(t, "max", int64Typ),
		mustMake(t, "avg", int64Typ),
	}
	c := bindRows(fns)
	// rows 0, 2, 4 go to group 0, rows 1, 3, 5 to group 1
	arg := int64Vec([]int64{1, 0, 3, 0, 8, 0}, []bool{false, true, false, true, false, true})
	groups := make([]Row, 6)
	rows := newGroups(t, c, 2, 6, fns...)
	for i := range groups {
		groups[i] = rows[i%2]
	}
	for _, fn := range fns {
		var args []*vector.Vector
		if fn.Name() != "count(*)" {
			args = []*vector.Vector{arg}
		}
		require.NoError(t, fn.AddRawInput(groups, allRows(6), args, false))
	}

	extract := func(fn AggFuncExec) *vector.Vector {
		_, ret := fn.TypesInfo()
		vec := vector.NewVec(ret)
		require.NoError(t, fn.ExtractValues(rows, vec))
		return vec
	}
	require.Equal(t, []int64{3, 3}, vector.MustFixedCol[int64](extract(fns[0])))
	require.Equal(t, []int64{3, 0}, vector.MustFixedCol[int64](extract(fns[1])))

	sum := extract(fns[2])
	require.Equal(t, int64(12), vector.GetFixedAt[int64](sum, 0))
	require.True(t, sum.IsNull(1))
	require.Equal(t, int64(1), vector.GetFixedAt[int64](extract(fns[3]), 0))
	require.Equal(t, int64(8), vector.GetFixedAt[int64](extract(fns[4]), 0))
	avg := extract(fns[5])
	require.Equal(t, float64(4), vector.GetFixedAt[float64](avg, 0))
	require.True(t, avg.IsNull(1))
	c.Clear()
}

func TestPartialToFinal(t *testing.T) {
	names := []string{"count", "sum", "min", "max", "avg", "approx_count_distinct"}
	arg := int64Vec([]int64{5, 1, 5, 9, 2, 7}, nil)

	partial := make([]AggFuncExec, len(names))
	final := make([]AggFuncExec, len(names))
	direct := make([]AggFuncExec, len(names))
	for i, name := range names {
		partial[i] = mustMake(t, name, int64Typ)
		final[i] = mustMake(t, name, int64Typ)
		direct[i] = mustMake(t, name, int64Typ)
	}
	pc, fc, dc := bindRows(partial), bindRows(final), bindRows(direct)

	// two partial groups of three rows each fold into one final group
	pRows := newGroups(t, pc, 2, 6, partial...)
	fRows := newGroups(t, fc, 1, 2, final...)
	dRows := newGroups(t, dc, 1, 6, direct...)
	pGroups := []Row{pRows[0], pRows[0], pRows[0], pRows[1], pRows[1], pRows[1]}
	dGroups := []Row{dRows[0], dRows[0], dRows[0], dRows[0], dRows[0], dRows[0]}
	for i := range names {
		args := []*vector.Vector{arg}
		require.NoError(t, partial[i].AddRawInput(pGroups, allRows(6), args, false))
		require.NoError(t, direct[i].AddRawInput(dGroups, allRows(6), args, false))

		inter := vector.NewVec(partial[i].IntermediateType())
		require.NoError(t, partial[i].ExtractAccumulators(pRows, inter))
		require.NoError(t, final[i].AddIntermediateResults([]Row{fRows[0], fRows[0]}, allRows(2), []*vector.Vector{inter}, false))

		_, ret := final[i].TypesInfo()
		got, want := vector.NewVec(ret), vector.NewVec(ret)
		require.NoError(t, final[i].ExtractValues(fRows, got))
		require.NoError(t, direct[i].ExtractValues(dRows, want))
		require.Equal(t, want.String(), got.String(), names[i])
	}
	for _, c := range []*rowcontainer.RowContainer{pc, fc, dc} {
		c.Clear()
	}
}

func TestToIntermediate(t *testing.T) {
	arg := int64Vec([]int64{4, 0, 6}, []bool{false, true, false})
	// row 2 is masked out
	rows := bitmap.New()
	rows.AddMany([]uint64{0, 1})
	for _, name := range []string{"count", "sum", "min", "max", "avg"} {
		fn := mustMake(t, name, int64Typ)
		require.True(t, fn.SupportsToIntermediate())
		inter := vector.NewVec(fn.IntermediateType())
		require.NoError(t, fn.ToIntermediate(3, rows, []*vector.Vector{arg}, inter))
		require.Equal(t, 3, inter.Length())

		final := mustMake(t, name, int64Typ)
		c := bindRows([]AggFuncExec{final})
		groups := newGroups(t, c, 1, 3, final)
		require.NoError(t, final.AddIntermediateResults([]Row{groups[0], groups[0], groups[0]}, allRows(3), []*vector.Vector{inter}, false))
		_, ret := final.TypesInfo()
		out := vector.NewVec(ret)
		require.NoError(t, final.ExtractValues(groups, out))
		switch name {
		case "count":
			require.Equal(t, int64(1), vector.GetFixedAt[int64](out, 0))
		case "avg":
			require.Equal(t, float64(4), vector.GetFixedAt[float64](out, 0))
		default:
			require.Equal(t, int64(4), vector.GetFixedAt[int64](out, 0), name)
		}
		c.Clear()
	}
	require.False(t, mustMake(t, "approx_count_distinct", int64Typ).SupportsToIntermediate())
}

func TestApproxCountDistinct(t *testing.T) {
	fn := mustMake(t, "approx_count_distinct", int64Typ)
	require.True(t, fn.AccumulatorUsesExternalMemory())
	c := bindRows([]AggFuncExec{fn})
	rows := newGroups(t, c, 1, 1, fn)
	vals := make([]int64, 0, 300)
	for i := 0; i < 300; i++ {
		vals = append(vals, int64(i%100))
	}
	require.NoError(t, fn.AddSingleGroupRawInput(rows[0], allRows(300), []*vector.Vector{int64Vec(vals, nil)}, false))
	out := vector.NewVec(int64Typ)
	require.NoError(t, fn.ExtractValues(rows, out))
	require.InDelta(t, 100, vector.GetFixedAt[int64](out, 0), 2)

	fn.Destroy(rows)
	require.False(t, rows[0].IsSet(c.Layout().InitBits[0]))
	c.Clear()
}

func TestGroupConcat(t *testing.T) {
	fn := mustMake(t, "group_concat", varcharTyp, varcharTyp)
	c := bindRows([]AggFuncExec{fn})
	mp := c.Pool()
	rows := newGroups(t, c, 2, 4, fn)
	arg := vector.NewVec(varcharTyp)
	vector.AppendStringList(arg, []string{"a", "b", "c", "d"}, []bool{false, false, false, true})
	sep := vector.NewConstBytes(varcharTyp, []byte("-"), 4)
	require.NoError(t, fn.AddRawInput([]Row{rows[0], rows[1], rows[0], rows[1]}, allRows(4), []*vector.Vector{arg, sep}, false))

	out := vector.NewVec(varcharTyp)
	require.NoError(t, fn.ExtractValues(rows, out))
	require.Equal(t, "a-c", out.GetStringAt(0))
	require.Equal(t, "b", out.GetStringAt(1))
	require.Equal(t, uint32(3), c.RowSize(rows[0]))

	c.EraseRows(rows[:1])
	require.Equal(t, int64(1), c.StringAllocator().RetainedSize()-c.StringAllocator().FreeBytes())
	c.Clear()
	require.Equal(t, int64(0), mp.CurrNB())
}

func TestDistinctAggregation(t *testing.T) {
	fn := mustMake(t, "count", int64Typ)
	distinct := NewDistinctAggregation(fn, []types.Type{int64Typ})
	c := bindRows([]AggFuncExec{fn}, distinct.Accumulator())
	distinct.SetOffsets(offsetsOf(c.Layout(), 1))

	rows := newGroups(t, c, 1, 5)
	groups := []Row{rows[0], rows[0], rows[0], rows[0], rows[0]}
	distinct.InitializeNewGroups(groups, []int32{0})
	require.NoError(t, distinct.AddInput(groups, allRows(3), []*vector.Vector{int64Vec([]int64{1, 2, 2}, nil)}))

	// spill the set and merge it into a fresh group together with more input
	spilled := vector.NewVec(types.T_varbinary.ToType())
	require.NoError(t, distinct.ExtractForSpill(rows, spilled))
	other := newGroups(t, c, 1, 1)
	distinct.InitializeNewGroups(other, []int32{0})
	require.NoError(t, distinct.AddSingleGroupSpillInput(other[0], spilled, 0))
	require.NoError(t, distinct.AddSingleGroupInput(other[0], allRows(2), []*vector.Vector{int64Vec([]int64{3, 1}, nil)}))

	out := vector.NewVec(int64Typ)
	require.NoError(t, distinct.ExtractValues(other, out))
	require.Equal(t, int64(3), vector.GetFixedAt[int64](out, 0))
	c.Clear()
}

func TestSortedAggregations(t *testing.T) {
	fn := mustMake(t, "group_concat", varcharTyp)
	inputTypes := []types.Type{varcharTyp, int64Typ, types.T_bool.ToType()}
	sorted, err := NewSortedAggregations([]SortedAggregation{{
		Function:      fn,
		Inputs:        []int32{0},
		Mask:          2,
		SortingKeys:   []int32{1},
		SortingOrders: []SortOrder{{Desc: true}},
	}}, inputTypes)
	require.NoError(t, err)

	c := bindRows([]AggFuncExec{fn}, sorted.Accumulator())
	sorted.SetOffsets(offsetsOf(c.Layout(), 1))
	rows := newGroups(t, c, 1, 4)
	groups := []Row{rows[0], rows[0], rows[0], rows[0]}
	sorted.InitializeNewGroups(groups, []int32{0})

	bat := batch.NewWithSchema(inputTypes)
	vector.AppendStringList(bat.Vecs[0], []string{"x", "y", "z", "w"}, nil)
	vector.AppendFixedList(bat.Vecs[1], []int64{1, 3, 2, 4}, nil)
	vector.AppendFixedList(bat.Vecs[2], []bool{true, true, true, false}, nil)
	bat.SetRowCount(4)
	require.NoError(t, sorted.AddInput(groups, bat, []int32{0, 1}))
	require.Greater(t, sorted.InputRowBytes(), int64(0))

	// the other rows arrive through a spill
	extra := batch.NewWithSchema(inputTypes)
	require.NoError(t, extra.Union(bat, []int64{2, 3}))
	other := rowcontainer.NewDetachedRow(c.FixedRowSize())
	sorted.InitializeNewGroups([]Row{other}, []int32{0})
	require.NoError(t, sorted.AddSingleGroupInput(other, extra, allRows(2)))
	spilled := vector.NewVec(types.T_varbinary.ToType())
	require.NoError(t, sorted.ExtractForSpill([]Row{other}, spilled))
	require.NoError(t, sorted.AddSingleGroupSpillInput(rows[0], spilled, 0))
	sorted.Destroy([]Row{other})

	out := vector.NewVec(varcharTyp)
	require.NoError(t, sorted.ExtractValues(rows, []*vector.Vector{out}))
	require.Equal(t, "y,z,x", out.GetStringAt(0))
	c.Clear()
	sorted.Clear()
}

func TestMakeAgg(t *testing.T) {
	_, err := MakeAgg("median", []types.Type{int64Typ})
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrNotSupported))
	_, err = MakeAgg("sum", nil)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidInput))
	_, err = MakeAgg("sum", []types.Type{varcharTyp})
	require.Error(t, err)
	fn, err := MakeAgg("SUM", []types.Type{types.T_int32.ToType()})
	require.NoError(t, err)
	_, ret := fn.TypesInfo()
	require.Equal(t, types.T_int64, ret.Oid)
	avg := mustMake(t, "avg", float64Typ)
	require.Equal(t, 16, avg.AccumulatorFixedWidthSize())
	require.Equal(t, types.T_varbinary, avg.IntermediateType().Oid)
}
