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
	"go.uber.org/zap"

	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/container/batch"
	"github.com/matrixorigin/groupagg/pkg/container/rowcontainer"
	"github.com/matrixorigin/groupagg/pkg/logutil"
	"github.com/matrixorigin/groupagg/pkg/spill"
	v2 "github.com/matrixorigin/groupagg/pkg/util/metric/v2"
)

// getOutputWithSpill merges the spilled runs one partition at a time. The
// rows of a partition come out sorted by key, so the rows of one group are
// adjacent and are folded into a single merge row.
func (g *GroupingSet) getOutputWithSpill(maxOutputRows int, maxOutputBytes int64) (*batch.Batch, error) {
	if !g.mergeStarted {
		if !g.isDistinct() {
			g.mergeRows = rowcontainer.NewRowContainer(g.keyTypes, g.accumulators(false), g.pool)
			g.initializeAggregates(g.mergeRows, false)
		}
		if g.table != nil {
			if n := g.table.Rows().NumRows(); n != 0 {
				return nil, moerr.NewInvalidStateNoCtx("%d groups left in the table of a spilled grouping set", n)
			}
			g.table.Clear(true)
		}

		g.spillPartitionSet = spill.NewPartitionSet()
		var err error
		if g.inputSpiller != nil {
			err = g.inputSpiller.FinishSpill(g.spillPartitionSet)
		} else {
			err = g.outputSpiller.FinishSpill(g.spillPartitionSet)
		}
		if err != nil {
			return nil, err
		}
		g.spillPartitionSet.RemoveEmpty()
		g.mergeStarted = true
		logutil.Debug("group: merge spilled partitions",
			zap.Int("partitions", g.spillPartitionSet.Len()),
			zap.String("stats", g.SpilledStats().String()))

		if ok, err := g.prepareNextSpillPartitionOutput(); !ok || err != nil {
			return nil, err
		}
	}
	if g.merge == nil {
		return nil, nil
	}
	if g.isDistinct() {
		return g.mergeNextWithoutAggregates(maxOutputRows)
	}
	return g.mergeNextWithAggregates(maxOutputRows, maxOutputBytes)
}

// prepareNextSpillPartitionOutput drops the merged partition and opens the
// next one. Partitions are merged in increasing id order.
func (g *GroupingSet) prepareNextSpillPartitionOutput() (bool, error) {
	if g.merge != nil {
		if err := g.merge.Close(); err != nil {
			return false, err
		}
		g.merge = nil
	}
	if g.mergePartition != nil {
		if err := g.mergePartition.Delete(g.ctx); err != nil {
			return false, err
		}
		g.mergePartition = nil
	}
	p := g.spillPartitionSet.PopMin()
	if p == nil {
		return false, nil
	}
	if g.hasOutputPartition && !g.outputPartition.Less(p.ID()) {
		return false, moerr.NewInvalidStateNoCtx("spill partition %s merged after %s", p.ID(), g.outputPartition)
	}
	g.outputPartition, g.hasOutputPartition = p.ID(), true
	reader, err := p.CreateOrderedReader(g.ctx)
	if err != nil {
		return false, err
	}
	g.merge = reader
	g.mergePartition = p
	return true, nil
}

func (g *GroupingSet) mergeRowBytes() int64 {
	n := g.mergeRows.AllocatedBytes()
	if g.sortedAggregations != nil {
		n += g.sortedAggregations.InputRowBytes()
	}
	return n
}

func (g *GroupingSet) mergeNextWithAggregates(maxOutputRows int, maxOutputBytes int64) (*batch.Batch, error) {
	var (
		nextKeyIsEqual bool
		row            Row
	)
	for {
		stream, equal, err := g.merge.NextWithEquals()
		if err != nil {
			return nil, err
		}
		if stream == nil {
			bat, err := g.extractSpillResult()
			if err != nil || bat.RowCount() > 0 {
				return bat, err
			}
			if nextKeyIsEqual {
				return nil, moerr.NewInvalidStateNoCtx("spill partition ended inside a group")
			}
			ok, err := g.prepareNextSpillPartitionOutput()
			if !ok || err != nil {
				return nil, err
			}
			continue
		}

		if !nextKeyIsEqual {
			if row, err = g.mergeRows.NewRow(); err != nil {
				return nil, err
			}
			if err = g.initializeRow(stream, row); err != nil {
				return nil, err
			}
		}
		if err = g.updateRow(stream, row); err != nil {
			return nil, err
		}
		nextKeyIsEqual = equal
		stream.Pop()
		if !nextKeyIsEqual &&
			(g.mergeRows.NumRows() >= maxOutputRows || g.mergeRowBytes() >= maxOutputBytes) {
			return g.extractSpillResult()
		}
	}
}

// initializeRow stores the keys of the current row of stream into row and
// initializes its accumulators.
func (g *GroupingSet) initializeRow(stream *spill.MergeStream, row Row) error {
	bat, idx := stream.Current(), stream.CurrentIndex()
	for k := range g.keyTypes {
		if err := g.mergeRows.StoreKey(bat.Vecs[k], idx, row, k); err != nil {
			return err
		}
	}
	groups := []Row{row}
	first := []int32{0}
	for i := range g.aggregates {
		switch {
		case g.aggregates[i].sorted():
		case g.distinctAggregations[i] != nil:
			g.distinctAggregations[i].InitializeNewGroups(groups, first)
		default:
			g.aggregates[i].Function.InitializeNewGroups(groups, first)
		}
	}
	if g.sortedAggregations != nil {
		g.sortedAggregations.InitializeNewGroups(groups, first)
	}
	return nil
}

// updateRow folds the spilled accumulators of the current row of stream
// into row.
func (g *GroupingSet) updateRow(stream *spill.MergeStream, row Row) error {
	bat, idx := stream.Current(), stream.CurrentIndex()
	aggColumns, sortedColumn := g.spillColumns()
	g.mergeSelection.Reset()
	g.mergeSelection.Add(uint64(idx))
	for i := range g.aggregates {
		if g.aggregates[i].sorted() {
			continue
		}
		vec := bat.Vecs[aggColumns[i]]
		if d := g.distinctAggregations[i]; d != nil {
			if err := d.AddSingleGroupSpillInput(row, vec, idx); err != nil {
				return err
			}
			continue
		}
		fn := g.aggregates[i].Function
		if err := fn.AddSingleGroupIntermediateResults(row, g.mergeSelection, bat.Vecs[aggColumns[i]:aggColumns[i]+1], false); err != nil {
			return err
		}
	}
	if g.sortedAggregations != nil {
		return g.sortedAggregations.AddSingleGroupSpillInput(row, bat.Vecs[sortedColumn], idx)
	}
	return nil
}

// extractSpillResult outputs every merge row and clears them.
func (g *GroupingSet) extractSpillResult() (*batch.Batch, error) {
	bat, err := g.extractGroups(g.mergeRows, g.mergeRows.AllRows())
	if err != nil {
		return nil, err
	}
	g.clearMergeRows()
	v2.AggMergeOutputRowsCounter.Add(float64(bat.RowCount()))
	return bat, nil
}

func (g *GroupingSet) clearMergeRows() {
	g.mergeRows.Clear()
	if g.sortedAggregations != nil {
		g.sortedAggregations.Clear()
	}
}

// mergeNextWithoutAggregates outputs the distinct keys not returned yet. The
// keys found before the first spill were returned while adding input, they
// come from the runs with an id below the count recorded at that spill.
func (g *GroupingSet) mergeNextWithoutAggregates(maxOutputRows int) (*batch.Batch, error) {
	if g.numDistinctSpillFilesPerPartition == nil {
		return nil, moerr.NewInvalidStateNoCtx("distinct merge without a first spill")
	}
	bat := batch.NewWithSchema(g.outputTypes)
	numOutputRows := 0
	newDistinct := true
	for numOutputRows < maxOutputRows {
		stream, equal, err := g.merge.NextWithEquals()
		if err != nil {
			return nil, err
		}
		if stream == nil {
			if numOutputRows > 0 {
				break
			}
			ok, err := g.prepareNextSpillPartitionOutput()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			continue
		}

		if stream.ID() < g.numDistinctSpillFilesPerPartition[g.outputPartition] {
			newDistinct = false
		}
		if equal {
			stream.Pop()
			continue
		}
		if newDistinct {
			current, idx := stream.Current(), stream.CurrentIndex()
			for i, key := range g.keyOutputProjections {
				if err := bat.Vecs[i].UnionOne(current.Vecs[key], int64(idx)); err != nil {
					return nil, err
				}
			}
			numOutputRows++
		}
		stream.Pop()
		newDistinct = true
	}
	if numOutputRows == 0 {
		return nil, nil
	}
	bat.SetRowCount(numOutputRows)
	v2.AggMergeOutputRowsCounter.Add(float64(numOutputRows))
	return bat, nil
}
