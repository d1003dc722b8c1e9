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
	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/container/batch"
	"github.com/matrixorigin/groupagg/pkg/container/rowcontainer"
)

// AbandonPartialAggregation stops grouping. Every following input row is
// turned into an intermediate row of its own by ToIntermediate. The hash
// table must have been output and reset before.
func (g *GroupingSet) AbandonPartialAggregation() error {
	if !g.isPartial || !g.isRawInput {
		return moerr.NewInvalidStateNoCtx("abandon a grouping set that is not a partial aggregation of raw input")
	}
	if g.abandonedPartialAggregation {
		return nil
	}
	if g.table != nil && g.table.Rows().NumRows() != 0 {
		return moerr.NewInvalidStateNoCtx("abandon partial aggregation with %d groups left", g.table.Rows().NumRows())
	}

	g.allSupportToIntermediate = true
	for i := range g.aggregates {
		if !g.aggregates[i].Function.SupportsToIntermediate() {
			g.allSupportToIntermediate = false
		}
	}
	g.intermediateRows = rowcontainer.NewRowContainer(g.keyTypes, g.accumulators(true), g.pool)
	g.initializeAggregates(g.intermediateRows, true)

	if g.table != nil {
		g.table.Clear(true)
		g.table = nil
	}
	g.abandonedPartialAggregation = true
	return nil
}

// ToIntermediate converts the raw rows of bat into intermediate rows, one
// group per input row. Rows with a null key are dropped when null keys are
// ignored.
func (g *GroupingSet) ToIntermediate(bat *batch.Batch) (*batch.Batch, error) {
	if !g.abandonedPartialAggregation {
		return nil, moerr.NewInvalidStateNoCtx("to intermediate before abandoning partial aggregation")
	}
	for _, vec := range bat.Vecs {
		if err := vec.Load(nil); err != nil {
			return nil, err
		}
	}
	if g.ignoreNullKeys {
		var err error
		if bat, err = g.dropNullKeys(bat); err != nil {
			return nil, err
		}
	}
	n := bat.RowCount()
	out := batch.NewWithSchema(g.outputTypes)
	if n == 0 {
		return out, nil
	}

	g.activeRows.Reset()
	g.activeRows.AddRange(0, uint64(n))
	if err := g.masks.addInput(bat, g.activeRows); err != nil {
		return nil, err
	}
	for i, key := range g.keyOutputProjections {
		if err := out.Vecs[i].Union(bat.Vecs[g.keyChannels[key]], allSels(n)); err != nil {
			return nil, err
		}
	}

	var groups []Row
	if !g.allSupportToIntermediate {
		groups = make([]Row, n)
		indices := make([]int32, n)
		for i := range groups {
			row, err := g.intermediateRows.NewRow()
			if err != nil {
				return nil, err
			}
			groups[i] = row
			indices[i] = int32(i)
		}
		defer g.intermediateRows.EraseRows(groups)

		for i := range g.aggregates {
			if fn := g.aggregates[i].Function; !fn.SupportsToIntermediate() {
				fn.InitializeNewGroups(groups, indices)
			}
		}
	}

	for i := range g.aggregates {
		agg := &g.aggregates[i]
		result := out.Vecs[agg.Output]
		rows := g.selectivity(i)
		args := g.args(i, bat)
		if agg.Function.SupportsToIntermediate() {
			if err := agg.Function.ToIntermediate(n, rows, args, result); err != nil {
				return nil, err
			}
			continue
		}
		if !rows.IsEmpty() {
			if err := agg.Function.AddRawInput(groups, rows, args, false); err != nil {
				return nil, err
			}
		}
		if err := agg.Function.ExtractAccumulators(groups, result); err != nil {
			return nil, err
		}
	}
	out.SetRowCount(n)
	return out, nil
}

func (g *GroupingSet) dropNullKeys(bat *batch.Batch) (*batch.Batch, error) {
	n := bat.RowCount()
	sels := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		hasNull := false
		for _, ch := range g.keyChannels {
			if bat.Vecs[ch].IsNull(i) {
				hasNull = true
				break
			}
		}
		if !hasNull {
			sels = append(sels, int64(i))
		}
	}
	if len(sels) == n {
		return bat, nil
	}
	filtered := batch.NewWithSchema(bat.Types())
	if err := filtered.Union(bat, sels); err != nil {
		return nil, err
	}
	return filtered, nil
}

func allSels(n int) []int64 {
	sels := make([]int64, n)
	for i := range sels {
		sels[i] = int64(i)
	}
	return sels
}

// IsAbandoned reports whether the partial aggregation was abandoned.
func (g *GroupingSet) IsAbandoned() bool {
	return g.abandonedPartialAggregation
}
