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

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/groupagg/pkg/common/mpool"
	"github.com/matrixorigin/groupagg/pkg/config"
	"github.com/matrixorigin/groupagg/pkg/container/batch"
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
	"github.com/matrixorigin/groupagg/pkg/fileservice"
	"github.com/matrixorigin/groupagg/pkg/sql/colexec/aggexec"
	v2 "github.com/matrixorigin/groupagg/pkg/util/metric/v2"
)

func newTestSpillConfig() *config.SpillConfig {
	cfg := config.NewSpillConfig("spill")
	cfg.StartPartitionBit = 0
	cfg.NumPartitionBits = 2
	cfg.MaxSpillRunRows = 16
	cfg.SpillWorkers = 2
	return cfg
}

func withSpill(opts Options) Options {
	opts.Spill = newTestSpillConfig()
	opts.FileService = fileservice.NewMemoryFS("spill")
	return opts
}

// keyValueBatches splits n rows with key i%numKeys and value i into batches
// of size rows.
func keyValueBatches(n, numKeys, size int) []*batch.Batch {
	var bats []*batch.Batch
	for from := 0; from < n; from += size {
		to := min(from+size, n)
		keys := make([]int64, 0, to-from)
		values := make([]int64, 0, to-from)
		for i := from; i < to; i++ {
			keys = append(keys, int64(i%numKeys))
			values = append(values, int64(i))
		}
		bats = append(bats, newBatch(int64Vec(keys...), int64Vec(values...)))
	}
	return bats
}

func sumCountOptions(t *testing.T) Options {
	return Options{
		InputTypes:  []types.Type{int64Typ, int64Typ},
		KeyChannels: []int32{0},
		Aggregates:  []AggregateInfo{sumOf(t, 1, 1), countStar(t, 2)},
	}
}

func TestSpillAfterEveryBatch(t *testing.T) {
	run := func(spill bool) (map[int64]int64, map[int64]int64) {
		pool := mpool.MustNewZero()
		opts := withSpill(sumCountOptions(t))
		opts.Pool = pool
		g := newTestGroupingSet(t, opts)
		for _, bat := range keyValueBatches(500, 37, 64) {
			require.NoError(t, g.AddInput(bat, true))
			if spill {
				require.NoError(t, g.Spill())
				require.Zero(t, g.NumDistinct())
			}
		}
		require.NoError(t, g.NoMoreInput())
		require.Equal(t, spill, g.HasSpilled())

		out := drain(t, g, 10)
		if spill {
			stats := g.SpilledStats()
			require.Equal(t, int64(8), stats.SpillRuns)
			require.Greater(t, stats.SpilledRows, int64(37))
			require.NotEmpty(t, stats.String())
		}
		sums, counts := int64Pairs(t, out, 0, 1), int64Pairs(t, out, 0, 2)
		require.NoError(t, g.Close())
		require.Equal(t, int64(0), pool.CurrNB())
		return sums, counts
	}

	sums, counts := run(false)
	spilledSums, spilledCounts := run(true)
	require.Len(t, sums, 37)
	require.Equal(t, sums, spilledSums)
	require.Equal(t, counts, spilledCounts)

	var total int64
	for _, c := range spilledCounts {
		total += c
	}
	require.Equal(t, int64(500), total)
}

func TestSpillAggregatesWithExternalState(t *testing.T) {
	opts := withSpill(Options{
		InputTypes:  []types.Type{int64Typ, int64Typ, varcharTyp},
		KeyChannels: []int32{0},
		Aggregates: []AggregateInfo{
			{
				Function: makeAgg(t, "count", int64Typ),
				Inputs:   []int32{1},
				Mask:     NoMask,
				Distinct: true,
				Output:   1,
			},
			{
				Function:      makeAgg(t, "group_concat", varcharTyp),
				Inputs:        []int32{2},
				Mask:          NoMask,
				SortingKeys:   []int32{1},
				SortingOrders: []aggexec.SortOrder{{}},
				Output:        2,
			},
			{
				Function: makeAgg(t, "max", int64Typ),
				Inputs:   []int32{1},
				Mask:     NoMask,
				Output:   3,
			},
		},
	})
	g := newTestGroupingSet(t, opts)
	defer func() {
		require.NoError(t, g.Close())
	}()

	require.NoError(t, g.AddInput(newBatch(int64Vec(1, 1, 2), int64Vec(3, 1, 5), stringVec("c", "a", "x")), true))
	require.NoError(t, g.Spill())
	require.NoError(t, g.AddInput(newBatch(int64Vec(1, 1), int64Vec(2, 3), stringVec("b", "d")), true))
	require.NoError(t, g.NoMoreInput())
	require.True(t, g.HasSpilled())

	out := drain(t, g, 1024)
	require.Equal(t, map[int64]int64{1: 3, 2: 1}, int64Pairs(t, out, 0, 1))
	require.Equal(t, map[int64]int64{1: 3, 2: 5}, int64Pairs(t, out, 0, 3))
	concat := make(map[int64]string)
	for _, bat := range out {
		for i := 0; i < bat.RowCount(); i++ {
			concat[vector.GetFixedAt[int64](bat.Vecs[0], i)] = bat.Vecs[2].GetStringAt(i)
		}
	}
	require.Equal(t, "a", concat[1][:1])
	require.Len(t, concat[1], len("a,b,c,d"))
	require.Equal(t, "x", concat[2])
}

func TestDistinctSpillOutputsEachKeyOnce(t *testing.T) {
	g := newTestGroupingSet(t, withSpill(Options{
		InputTypes:  []types.Type{int64Typ},
		KeyChannels: []int32{0},
	}))
	defer func() {
		require.NoError(t, g.Close())
	}()
	require.True(t, g.IsDistinct())

	var streamed []int64
	addInput := func(keys ...int64) {
		bat := newBatch(int64Vec(keys...))
		require.NoError(t, g.AddInput(bat, true))
		if g.HasSpilled() {
			return
		}
		for _, row := range g.HashLookup().NewGroups {
			streamed = append(streamed, vector.GetFixedAt[int64](bat.Vecs[0], int(row)))
		}
	}

	addInput(1, 2, 2)
	require.Equal(t, []int64{1, 2}, streamed)
	require.NoError(t, g.Spill())
	addInput(3, 1)
	require.NoError(t, g.NoMoreInput())

	out := drain(t, g, 1024)
	var merged []int64
	for _, bat := range out {
		merged = append(merged, vector.MustFixedCol[int64](bat.Vecs[0])...)
	}
	require.Equal(t, []int64{3}, merged)
}

func TestDistinctGetOutputWithoutSpill(t *testing.T) {
	g := newTestGroupingSet(t, Options{
		InputTypes:  []types.Type{int64Typ},
		KeyChannels: []int32{0},
	})
	defer func() {
		require.NoError(t, g.Close())
	}()
	require.NoError(t, g.AddInput(newBatch(int64Vec(1, 1)), true))
	require.Equal(t, []int32{0}, g.HashLookup().NewGroups)
	require.NoError(t, g.AddInput(newBatch(int64Vec(1, 2)), true))
	require.Equal(t, []int32{1}, g.HashLookup().NewGroups)
	require.NoError(t, g.NoMoreInput())

	var iter OutputIterator
	_, err := g.GetOutput(1024, 1<<20, &iter)
	require.Error(t, err)
}

func TestSpillOutput(t *testing.T) {
	g := newTestGroupingSet(t, withSpill(sumCountOptions(t)))
	defer func() {
		require.NoError(t, g.Close())
	}()
	for _, bat := range keyValueBatches(300, 100, 50) {
		require.NoError(t, g.AddInput(bat, true))
	}
	require.NoError(t, g.NoMoreInput())
	require.False(t, g.HasSpilled())

	var iter OutputIterator
	first, err := g.GetOutput(30, 1<<30, &iter)
	require.NoError(t, err)
	require.Equal(t, 30, first.RowCount())

	require.NoError(t, g.SpillOutput(&iter))
	require.True(t, g.HasSpilled())
	require.Error(t, g.SpillOutput(&iter))
	require.Zero(t, g.NumDistinct())

	out := append([]*batch.Batch{first}, drain(t, g, 1024)...)
	sums, counts := int64Pairs(t, out, 0, 1), int64Pairs(t, out, 0, 2)
	require.Len(t, sums, 100)
	for k := int64(0); k < 100; k++ {
		require.Equal(t, 3*k+300, sums[k])
		require.Equal(t, int64(3), counts[k])
	}
}

func TestReservationFailureSpills(t *testing.T) {
	opts := withSpill(sumCountOptions(t))
	opts.Spill.MinSpillableReservationPct = 1000000
	opts.Spill.SpillableReservationGrowthPct = 1000000
	opts.Pool = mpool.MustNew("capped", 64<<20)
	g := newTestGroupingSet(t, opts)
	defer func() {
		require.NoError(t, g.Close())
	}()

	failed := testutil.ToFloat64(v2.MemReservationFailedCounter)
	for _, bat := range keyValueBatches(300, 50, 100) {
		require.NoError(t, g.AddInput(bat, true))
	}
	require.Greater(t, testutil.ToFloat64(v2.MemReservationFailedCounter), failed)
	require.True(t, g.HasSpilled())
	require.NoError(t, g.NoMoreInput())

	out := drain(t, g, 1024)
	counts := int64Pairs(t, out, 0, 2)
	require.Len(t, counts, 50)
	for _, c := range counts {
		require.Equal(t, int64(6), c)
	}
}

func TestSpillDisabled(t *testing.T) {
	g := newTestGroupingSet(t, sumCountOptions(t))
	defer func() {
		require.NoError(t, g.Close())
	}()
	require.NoError(t, g.AddInput(newBatch(int64Vec(1), int64Vec(1)), true))
	require.Error(t, g.Spill())

	opts := withSpill(sumCountOptions(t))
	opts.Spill.NumPartitionBits = 7
	_, err := NewGroupingSet(context.Background(), opts)
	require.Error(t, err)
}
