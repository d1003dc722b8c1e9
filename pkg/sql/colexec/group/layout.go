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
	"github.com/matrixorigin/groupagg/pkg/container/rowcontainer"
	"github.com/matrixorigin/groupagg/pkg/sql/colexec/aggexec"
)

// accumulators lists the row slots of the grouping set: one per aggregate
// function, then the buffers of the sorted aggregates, then one set per
// distinct aggregate. With excludeToIntermediate the functions that convert
// input rows on their own are left out.
func (g *GroupingSet) accumulators(excludeToIntermediate bool) []rowcontainer.Accumulator {
	accs := make([]rowcontainer.Accumulator, 0, len(g.aggregates)+1)
	for i := range g.aggregates {
		fn := g.aggregates[i].Function
		if excludeToIntermediate && fn.SupportsToIntermediate() {
			continue
		}
		accs = append(accs, aggexec.NewAccumulator(fn))
	}
	if g.sortedAggregations != nil {
		accs = append(accs, g.sortedAggregations.Accumulator())
	}
	for _, d := range g.distinctAggregations {
		if d != nil {
			accs = append(accs, d.Accumulator())
		}
	}
	return accs
}

func offsetsAt(l rowcontainer.Layout, column int) aggexec.AccumulatorOffsets {
	return aggexec.AccumulatorOffsets{
		Offset:        l.Offsets[column],
		NullBit:       l.NullBits[column],
		InitBit:       l.InitBits[column],
		RowSizeOffset: l.RowSizeOffset,
	}
}

// initializeAggregates binds every accumulator to its slot in rows, in the
// order of accumulators(excludeToIntermediate).
func (g *GroupingSet) initializeAggregates(rows *rowcontainer.RowContainer, excludeToIntermediate bool) {
	l := rows.Layout()
	column := 0
	for i := range g.aggregates {
		fn := g.aggregates[i].Function
		fn.SetAllocator(rows.StringAllocator())
		if excludeToIntermediate && fn.SupportsToIntermediate() {
			continue
		}
		fn.SetOffsets(offsetsAt(l, column))
		column++
	}
	if g.sortedAggregations != nil {
		g.sortedAggregations.SetOffsets(offsetsAt(l, column))
		column++
	}
	for _, d := range g.distinctAggregations {
		if d != nil {
			d.SetOffsets(offsetsAt(l, column))
			column++
		}
	}
}

// spillColumns are the columns of a spill run holding, for each aggregate,
// its intermediate result or its distinct set, and the column of the sorted
// buffers. The first numKeys columns of a run are the keys.
func (g *GroupingSet) spillColumns() (aggColumns []int, sortedColumn int) {
	numKeys := len(g.keyTypes)
	aggColumns = make([]int, len(g.aggregates))
	next := numKeys + len(g.aggregates)
	if g.sortedAggregations != nil {
		sortedColumn = next
		next++
	}
	for i := range g.aggregates {
		aggColumns[i] = numKeys + i
		if g.distinctAggregations[i] != nil {
			aggColumns[i] = next
			next++
		}
	}
	return aggColumns, sortedColumn
}
