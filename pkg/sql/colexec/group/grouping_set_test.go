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

package group

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/common/mpool"
	"github.com/matrixorigin/groupagg/pkg/container/batch"
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
	"github.com/matrixorigin/groupagg/pkg/sql/colexec/aggexec"
)

var (
	int64Typ   = types.T_int64.ToType()
	boolTyp    = types.T_bool.ToType()
	varcharTyp = types.T_varchar.ToType()
)

func int64Vec(vals ...int64) *vector.Vector {
	v := vector.NewVec(int64Typ)
	vector.AppendFixedList(v, vals, nil)
	return v
}

func nullableInt64Vec(vals []int64, isNulls []bool) *vector.Vector {
	v := vector.NewVec(int64Typ)
	vector.AppendFixedList(v, vals, isNulls)
	return v
}

func boolVec(vals []bool, isNulls []bool) *vector.Vector {
	v := vector.NewVec(boolTyp)
	vector.AppendFixedList(v, vals, isNulls)
	return v
}

func stringVec(vals ...string) *vector.Vector {
	v := vector.NewVec(varcharTyp)
	vector.AppendStringList(v, vals, nil)
	return v
}

func newBatch(vecs ...*vector.Vector) *batch.Batch {
	bat := batch.NewWithSize(len(vecs))
	copy(bat.Vecs, vecs)
	bat.SetRowCount(vecs[0].Length())
	return bat
}

func makeAgg(t *testing.T, name string, argTypes ...types.Type) aggexec.AggFuncExec {
	fn, err := aggexec.MakeAgg(name, argTypes)
	require.NoError(t, err)
	return fn
}

// countStar is count(*) written to output column output.
func countStar(t *testing.T, output int32) AggregateInfo {
	return AggregateInfo{
		Function: makeAgg(t, "count"),
		Mask:     NoMask,
		Output:   output,
	}
}

func sumOf(t *testing.T, input, output int32) AggregateInfo {
	return AggregateInfo{
		Function: makeAgg(t, "sum", int64Typ),
		Inputs:   []int32{input},
		Mask:     NoMask,
		Output:   output,
	}
}

func newTestGroupingSet(t *testing.T, opts Options) *GroupingSet {
	if opts.Pool == nil {
		opts.Pool = mpool.MustNewZero()
	}
	opts.IsRawInput = true
	g, err := NewGroupingSet(context.Background(), opts)
	require.NoError(t, err)
	return g
}

// drain reads the output of g until it is exhausted.
func drain(t *testing.T, g *GroupingSet, maxRows int) []*batch.Batch {
	var (
		iter OutputIterator
		out  []*batch.Batch
	)
	for {
		bat, err := g.GetOutput(maxRows, 1<<30, &iter)
		require.NoError(t, err)
		if bat == nil {
			return out
		}
		out = append(out, bat)
	}
}

// int64Pairs maps column key to column value over bats. A key must appear
// once.
func int64Pairs(t *testing.T, bats []*batch.Batch, key, value int) map[int64]int64 {
	res := make(map[int64]int64)
	for _, bat := range bats {
		for i := 0; i < bat.RowCount(); i++ {
			k := vector.GetFixedAt[int64](bat.Vecs[key], i)
			_, ok := res[k]
			require.False(t, ok, "key %d output twice", k)
			res[k] = vector.GetFixedAt[int64](bat.Vecs[value], i)
		}
	}
	return res
}

func numRows(bats []*batch.Batch) int {
	n := 0
	for _, bat := range bats {
		n += bat.RowCount()
	}
	return n
}

func TestGroupingSetCount(t *testing.T) {
	pool := mpool.MustNewZero()
	g := newTestGroupingSet(t, Options{
		InputTypes:  []types.Type{int64Typ, varcharTyp},
		KeyChannels: []int32{0},
		Aggregates:  []AggregateInfo{countStar(t, 1)},
		Pool:        pool,
	})
	require.NoError(t, g.AddInput(newBatch(int64Vec(1, 2, 1), stringVec("a", "b", "c")), true))
	require.Equal(t, []int32{0, 1}, g.HashLookup().NewGroups)
	require.NoError(t, g.AddInput(newBatch(int64Vec(2), stringVec("d")), true))
	require.Empty(t, g.HashLookup().NewGroups)
	require.Equal(t, 2, g.NumDistinct())
	require.False(t, g.HasOutput())
	require.NoError(t, g.NoMoreInput())
	require.True(t, g.HasOutput())

	out := drain(t, g, 1024)
	require.Equal(t, map[int64]int64{1: 2, 2: 2}, int64Pairs(t, out, 0, 1))
	require.False(t, g.HasSpilled())

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
	require.Equal(t, int64(0), pool.CurrNB())
}

func TestGroupingSetSmallOutputBatches(t *testing.T) {
	g := newTestGroupingSet(t, Options{
		InputTypes:  []types.Type{int64Typ, int64Typ},
		KeyChannels: []int32{0},
		Aggregates:  []AggregateInfo{sumOf(t, 1, 1)},
	})
	defer func() {
		require.NoError(t, g.Close())
	}()
	keys := make([]int64, 100)
	for i := range keys {
		keys[i] = int64(i % 25)
	}
	require.NoError(t, g.AddInput(newBatch(int64Vec(keys...), int64Vec(keys...)), true))
	require.NoError(t, g.NoMoreInput())

	out := drain(t, g, 7)
	require.Len(t, out, 4)
	for _, bat := range out {
		require.LessOrEqual(t, bat.RowCount(), 7)
	}
	sums := int64Pairs(t, out, 0, 1)
	require.Len(t, sums, 25)
	for k, v := range sums {
		require.Equal(t, 4*k, v)
	}
}

func TestGroupingSetKeyOutputProjections(t *testing.T) {
	g := newTestGroupingSet(t, Options{
		InputTypes:           []types.Type{int64Typ, varcharTyp},
		KeyChannels:          []int32{0, 1},
		KeyOutputProjections: []int32{1, 0},
		Aggregates:           []AggregateInfo{countStar(t, 2)},
	})
	defer func() {
		require.NoError(t, g.Close())
	}()
	require.NoError(t, g.AddInput(newBatch(int64Vec(1, 1, 2), stringVec("a", "a", "b")), true))
	require.NoError(t, g.NoMoreInput())

	out := drain(t, g, 1024)
	require.Len(t, out, 1)
	bat := out[0]
	require.Equal(t, varcharTyp.Oid, bat.Vecs[0].GetType().Oid)
	require.Equal(t, int64Typ.Oid, bat.Vecs[1].GetType().Oid)
	res := make(map[string]int64)
	for i := 0; i < bat.RowCount(); i++ {
		res[bat.Vecs[0].GetStringAt(i)] = vector.GetFixedAt[int64](bat.Vecs[2], i)
	}
	require.Equal(t, map[string]int64{"a": 2, "b": 1}, res)
}

func TestGroupingSetIgnoreNullKeys(t *testing.T) {
	input := func() *batch.Batch {
		return newBatch(nullableInt64Vec([]int64{1, 0, 1, 0}, []bool{false, true, false, true}))
	}

	g := newTestGroupingSet(t, Options{
		InputTypes:     []types.Type{int64Typ},
		KeyChannels:    []int32{0},
		Aggregates:     []AggregateInfo{countStar(t, 1)},
		IgnoreNullKeys: true,
	})
	require.NoError(t, g.AddInput(input(), true))
	require.NoError(t, g.NoMoreInput())
	out := drain(t, g, 1024)
	require.Equal(t, map[int64]int64{1: 2}, int64Pairs(t, out, 0, 1))
	require.NoError(t, g.Close())

	g = newTestGroupingSet(t, Options{
		InputTypes:  []types.Type{int64Typ},
		KeyChannels: []int32{0},
		Aggregates:  []AggregateInfo{countStar(t, 1)},
	})
	require.NoError(t, g.AddInput(input(), true))
	require.NoError(t, g.NoMoreInput())
	out = drain(t, g, 1024)
	require.Equal(t, 2, numRows(out))
	nullGroups := 0
	for i := 0; i < out[0].RowCount(); i++ {
		if out[0].Vecs[0].IsNull(i) {
			nullGroups++
			require.Equal(t, int64(2), vector.GetFixedAt[int64](out[0].Vecs[1], i))
		}
	}
	require.Equal(t, 1, nullGroups)
	require.NoError(t, g.Close())
}

func TestGroupingSetMask(t *testing.T) {
	sum := sumOf(t, 1, 1)
	sum.Mask = 2
	g := newTestGroupingSet(t, Options{
		InputTypes:  []types.Type{int64Typ, int64Typ, boolTyp},
		KeyChannels: []int32{0},
		Aggregates:  []AggregateInfo{sum, countStar(t, 2)},
	})
	defer func() {
		require.NoError(t, g.Close())
	}()
	mask := boolVec([]bool{true, false, false, true, true}, []bool{false, false, true, false, false})
	require.NoError(t, g.AddInput(newBatch(int64Vec(1, 1, 1, 1, 2), int64Vec(1, 2, 3, 4, 5), mask), true))
	require.NoError(t, g.NoMoreInput())

	out := drain(t, g, 1024)
	require.Equal(t, map[int64]int64{1: 5, 2: 5}, int64Pairs(t, out, 0, 1))
	require.Equal(t, map[int64]int64{1: 4, 2: 1}, int64Pairs(t, out, 0, 2))
}

func TestGroupingSetConstantArgument(t *testing.T) {
	concat := AggregateInfo{
		Function:       makeAgg(t, "group_concat", varcharTyp, varcharTyp),
		Inputs:         []int32{1, ConstantChannel},
		ConstantInputs: []*vector.Vector{nil, vector.NewConstBytes(varcharTyp, []byte("|"), 1)},
		Mask:           NoMask,
		Output:         1,
	}
	g := newTestGroupingSet(t, Options{
		InputTypes:  []types.Type{int64Typ, varcharTyp},
		KeyChannels: []int32{0},
		Aggregates:  []AggregateInfo{concat},
	})
	defer func() {
		require.NoError(t, g.Close())
	}()
	require.NoError(t, g.AddInput(newBatch(int64Vec(1, 1), stringVec("x", "y")), true))
	require.NoError(t, g.NoMoreInput())

	out := drain(t, g, 1024)
	require.Equal(t, 1, numRows(out))
	require.Equal(t, "x|y", out[0].Vecs[1].GetStringAt(0))
}

func TestGroupingSetSortedAggregate(t *testing.T) {
	concat := AggregateInfo{
		Function:      makeAgg(t, "group_concat", varcharTyp),
		Inputs:        []int32{1},
		Mask:          NoMask,
		SortingKeys:   []int32{2},
		SortingOrders: []aggexec.SortOrder{{Desc: true}},
		Output:        2,
	}
	g := newTestGroupingSet(t, Options{
		InputTypes:  []types.Type{int64Typ, varcharTyp, int64Typ},
		KeyChannels: []int32{0},
		Aggregates:  []AggregateInfo{countStar(t, 1), concat},
	})
	defer func() {
		require.NoError(t, g.Close())
	}()
	require.NoError(t, g.AddInput(newBatch(int64Vec(1, 1), stringVec("a", "b"), int64Vec(1, 3)), true))
	require.NoError(t, g.AddInput(newBatch(int64Vec(1, 2), stringVec("c", "d"), int64Vec(2, 1)), true))
	require.NoError(t, g.NoMoreInput())

	out := drain(t, g, 1024)
	res := make(map[int64]string)
	for _, bat := range out {
		for i := 0; i < bat.RowCount(); i++ {
			res[vector.GetFixedAt[int64](bat.Vecs[0], i)] = bat.Vecs[2].GetStringAt(i)
		}
	}
	require.Equal(t, map[int64]string{1: "b,c,a", 2: "d"}, res)
	require.Equal(t, map[int64]int64{1: 3, 2: 1}, int64Pairs(t, out, 0, 1))
}

func TestGroupingSetDistinctAggregate(t *testing.T) {
	countDistinct := AggregateInfo{
		Function: makeAgg(t, "count", int64Typ),
		Inputs:   []int32{1},
		Mask:     NoMask,
		Distinct: true,
		Output:   1,
	}
	g := newTestGroupingSet(t, Options{
		InputTypes:  []types.Type{int64Typ, int64Typ},
		KeyChannels: []int32{0},
		Aggregates:  []AggregateInfo{countDistinct, countStar(t, 2)},
	})
	defer func() {
		require.NoError(t, g.Close())
	}()
	require.NoError(t, g.AddInput(newBatch(int64Vec(1, 1, 1, 2), int64Vec(7, 8, 7, 7)), true))
	require.NoError(t, g.AddInput(newBatch(int64Vec(1, 2), int64Vec(9, 7)), true))
	require.NoError(t, g.NoMoreInput())

	out := drain(t, g, 1024)
	require.Equal(t, map[int64]int64{1: 3, 2: 1}, int64Pairs(t, out, 0, 1))
	require.Equal(t, map[int64]int64{1: 4, 2: 2}, int64Pairs(t, out, 0, 2))
}

func TestGroupingSetPreGroupedKeys(t *testing.T) {
	g := newTestGroupingSet(t, Options{
		InputTypes:     []types.Type{int64Typ, int64Typ},
		KeyChannels:    []int32{0},
		PreGroupedKeys: []int32{0},
		Aggregates:     []AggregateInfo{sumOf(t, 1, 1)},
	})
	defer func() {
		require.NoError(t, g.Close())
	}()

	// the groups before the last boundary are complete
	require.NoError(t, g.AddInput(newBatch(int64Vec(1, 1, 2, 2), int64Vec(1, 2, 3, 4)), true))
	require.True(t, g.HasOutput())
	require.Equal(t, map[int64]int64{1: 3}, int64Pairs(t, drain(t, g, 1024), 0, 1))

	// a batch of a single group is added at once and stays open
	require.NoError(t, g.AddInput(newBatch(int64Vec(2, 2), int64Vec(5, 6)), true))
	require.False(t, g.HasOutput())

	require.NoError(t, g.AddInput(newBatch(int64Vec(2, 3, 3), int64Vec(10, 20, 30)), true))
	require.True(t, g.HasOutput())
	require.Equal(t, map[int64]int64{2: 28}, int64Pairs(t, drain(t, g, 1024), 0, 1))

	require.NoError(t, g.NoMoreInput())
	require.Equal(t, map[int64]int64{3: 50}, int64Pairs(t, drain(t, g, 1024), 0, 1))
}

func TestGlobalAggregation(t *testing.T) {
	pool := mpool.MustNewZero()
	g := newTestGroupingSet(t, Options{
		InputTypes: []types.Type{int64Typ},
		Aggregates: []AggregateInfo{sumOf(t, 0, 0), countStar(t, 1)},
		Pool:       pool,
	})
	require.True(t, g.IsGlobal())
	require.NoError(t, g.AddInput(newBatch(int64Vec(1, 2, 3)), true))
	require.NoError(t, g.AddInput(newBatch(int64Vec(4)), true))
	require.NoError(t, g.NoMoreInput())

	out := drain(t, g, 1024)
	require.Len(t, out, 1)
	require.Equal(t, 1, out[0].RowCount())
	require.Equal(t, int64(10), vector.GetFixedAt[int64](out[0].Vecs[0], 0))
	require.Equal(t, int64(4), vector.GetFixedAt[int64](out[0].Vecs[1], 0))
	require.NoError(t, g.Close())
	require.Equal(t, int64(0), pool.CurrNB())
}

func TestGlobalAggregationEmptyInput(t *testing.T) {
	g := newTestGroupingSet(t, Options{
		InputTypes: []types.Type{int64Typ},
		Aggregates: []AggregateInfo{sumOf(t, 0, 0), countStar(t, 1)},
	})
	defer func() {
		require.NoError(t, g.Close())
	}()
	require.NoError(t, g.NoMoreInput())

	out := drain(t, g, 1024)
	require.Len(t, out, 1)
	require.Equal(t, 1, out[0].RowCount())
	require.True(t, out[0].Vecs[0].IsNull(0))
	require.Equal(t, int64(0), vector.GetFixedAt[int64](out[0].Vecs[1], 0))
}

func TestDefaultGlobalGroupingSets(t *testing.T) {
	g := newTestGroupingSet(t, Options{
		InputTypes:         []types.Type{int64Typ, int64Typ},
		KeyChannels:        []int32{0, 1},
		Aggregates:         []AggregateInfo{countStar(t, 2)},
		GlobalGroupingSets: []int64{0, 3},
		GroupIDChannel:     1,
	})
	defer func() {
		require.NoError(t, g.Close())
	}()
	require.NoError(t, g.NoMoreInput())

	out := drain(t, g, 1024)
	require.Len(t, out, 1)
	bat := out[0]
	require.Equal(t, 2, bat.RowCount())
	for i := 0; i < 2; i++ {
		require.True(t, bat.Vecs[0].IsNull(i))
		require.Equal(t, int64(0), vector.GetFixedAt[int64](bat.Vecs[2], i))
	}
	require.Equal(t, int64(0), vector.GetFixedAt[int64](bat.Vecs[1], 0))
	require.Equal(t, int64(3), vector.GetFixedAt[int64](bat.Vecs[1], 1))
}

func TestDefaultGlobalGroupingSetsWithInput(t *testing.T) {
	g := newTestGroupingSet(t, Options{
		InputTypes:         []types.Type{int64Typ, int64Typ},
		KeyChannels:        []int32{0, 1},
		Aggregates:         []AggregateInfo{countStar(t, 2)},
		GlobalGroupingSets: []int64{0},
		GroupIDChannel:     1,
	})
	defer func() {
		require.NoError(t, g.Close())
	}()
	require.NoError(t, g.AddInput(newBatch(int64Vec(5), int64Vec(1)), true))
	require.NoError(t, g.NoMoreInput())
	require.Equal(t, map[int64]int64{5: 1}, int64Pairs(t, drain(t, g, 1024), 0, 2))
}

func TestPartialAndFinalAggregation(t *testing.T) {
	partial := newTestGroupingSet(t, Options{
		InputTypes:  []types.Type{int64Typ, int64Typ},
		KeyChannels: []int32{0},
		Aggregates:  []AggregateInfo{sumOf(t, 1, 1), countStar(t, 2)},
		IsPartial:   true,
	})
	defer func() {
		require.NoError(t, partial.Close())
	}()
	final, err := NewGroupingSet(context.Background(), Options{
		InputTypes:  []types.Type{int64Typ, int64Typ, int64Typ},
		KeyChannels: []int32{0},
		Aggregates: []AggregateInfo{
			sumOf(t, 1, 1),
			{Function: makeAgg(t, "count", int64Typ), Inputs: []int32{2}, Mask: NoMask, Output: 2},
		},
		Pool: mpool.MustNewZero(),
	})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, final.Close())
	}()

	for _, bat := range []*batch.Batch{
		newBatch(int64Vec(1, 2, 1), int64Vec(10, 20, 30)),
		newBatch(int64Vec(2, 3), int64Vec(1, 2)),
	} {
		require.NoError(t, partial.AddInput(bat, true))
		for _, out := range drain(t, partial, 1024) {
			require.NoError(t, final.AddInput(out, true))
		}
		partial.ResetTable(false)
	}
	require.NoError(t, partial.NoMoreInput())
	require.NoError(t, final.NoMoreInput())

	out := drain(t, final, 1024)
	require.Equal(t, map[int64]int64{1: 40, 2: 21, 3: 2}, int64Pairs(t, out, 0, 1))
	require.Equal(t, map[int64]int64{1: 2, 2: 2, 3: 1}, int64Pairs(t, out, 0, 2))
}

func TestAbandonPartialAggregation(t *testing.T) {
	g := newTestGroupingSet(t, Options{
		InputTypes:  []types.Type{int64Typ, int64Typ},
		KeyChannels: []int32{0},
		Aggregates: []AggregateInfo{
			sumOf(t, 1, 1),
			{Function: makeAgg(t, "approx_count_distinct", int64Typ), Inputs: []int32{1}, Mask: NoMask, Output: 2},
		},
		IsPartial: true,
	})
	defer func() {
		require.NoError(t, g.Close())
	}()
	_, err := g.ToIntermediate(newBatch(int64Vec(1), int64Vec(1)))
	require.Error(t, err)

	require.NoError(t, g.AddInput(newBatch(int64Vec(1, 1), int64Vec(1, 2)), true))
	require.Error(t, g.AbandonPartialAggregation())
	require.Len(t, drain(t, g, 1024), 1)
	g.ResetTable(false)
	require.NoError(t, g.AbandonPartialAggregation())
	require.True(t, g.IsAbandoned())
	require.Nil(t, g.Table())

	out, err := g.ToIntermediate(newBatch(int64Vec(4, 4, 5), int64Vec(7, 8, 9)))
	require.NoError(t, err)
	require.Equal(t, 3, out.RowCount())
	require.Equal(t, []int64{4, 4, 5}, vector.MustFixedCol[int64](out.Vecs[0]))
	require.Equal(t, []int64{7, 8, 9}, vector.MustFixedCol[int64](out.Vecs[1]))
	require.Equal(t, 3, out.Vecs[2].Length())

	err = g.AddInput(newBatch(int64Vec(1), int64Vec(1)), true)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidState))
}

func TestGroupingSetInvalidOptions(t *testing.T) {
	ctx := context.Background()
	cases := []Options{
		{InputTypes: []types.Type{int64Typ}},
		{InputTypes: []types.Type{int64Typ}, KeyChannels: []int32{1}},
		{InputTypes: []types.Type{int64Typ}, KeyChannels: []int32{0}, KeyOutputProjections: []int32{0, 0}},
		{InputTypes: []types.Type{int64Typ}, KeyChannels: []int32{0}, Aggregates: []AggregateInfo{countStar(t, 3)}},
		{InputTypes: []types.Type{int64Typ}, KeyChannels: []int32{0}, Aggregates: []AggregateInfo{countStar(t, 1), countStar(t, 1)}},
		{InputTypes: []types.Type{int64Typ}, KeyChannels: []int32{0}, PreGroupedKeys: []int32{0}},
	}
	for i, opts := range cases {
		_, err := NewGroupingSet(ctx, opts)
		require.Error(t, err, "case %d", i)
	}

	masked := countStar(t, 1)
	masked.Mask = 0
	_, err := NewGroupingSet(ctx, Options{
		InputTypes:  []types.Type{int64Typ},
		KeyChannels: []int32{0},
		Aggregates:  []AggregateInfo{masked},
	})
	require.Error(t, err)

	sortedDistinct := AggregateInfo{
		Function:      makeAgg(t, "count", int64Typ),
		Inputs:        []int32{0},
		Mask:          NoMask,
		Distinct:      true,
		SortingKeys:   []int32{0},
		SortingOrders: []aggexec.SortOrder{{}},
		Output:        1,
	}
	_, err = NewGroupingSet(ctx, Options{
		InputTypes:  []types.Type{int64Typ},
		KeyChannels: []int32{0},
		Aggregates:  []AggregateInfo{sortedDistinct},
		IsRawInput:  true,
	})
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrNotSupported))
}

func TestMarkDistinct(t *testing.T) {
	_, err := NewGroupingSetForMarkDistinct(context.Background(), []types.Type{int64Typ}, nil, mpool.MustNewZero())
	require.Error(t, err)

	g, err := NewGroupingSetForMarkDistinct(context.Background(), []types.Type{int64Typ, varcharTyp}, []int32{1}, mpool.MustNewZero())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, g.Close())
	}()
	require.True(t, g.IsDistinct())

	require.NoError(t, g.AddInput(newBatch(int64Vec(1, 2, 3), stringVec("a", "b", "a")), true))
	require.Equal(t, []int32{0, 1}, g.HashLookup().NewGroups)
	require.NoError(t, g.AddInput(newBatch(int64Vec(4, 5), stringVec("c", "b")), true))
	require.Equal(t, []int32{0}, g.HashLookup().NewGroups)
	require.Equal(t, 3, g.NumDistinct())
}
