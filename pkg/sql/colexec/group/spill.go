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
	"errors"

	"go.uber.org/zap"

	"github.com/matrixorigin/groupagg/pkg/common/bitmap"
	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/common/mpool"
	"github.com/matrixorigin/groupagg/pkg/container/batch"
	"github.com/matrixorigin/groupagg/pkg/container/rowcontainer"
	"github.com/matrixorigin/groupagg/pkg/logutil"
	"github.com/matrixorigin/groupagg/pkg/spill"
	v2 "github.com/matrixorigin/groupagg/pkg/util/metric/v2"
)

// testingTriggerSpill forces an arbitration round on the pool named by its
// argument before each input batch. Tests replace it.
var testingTriggerSpill = func(poolName string) bool {
	return false
}

type spillState struct {
	inputSpiller  *spill.Spiller
	outputSpiller *spill.Spiller

	// the number of runs of each partition written by the first spill of a
	// distinct grouping set, whose keys were returned already
	numDistinctSpillFilesPerPartition map[spill.PartitionID]int

	spillPartitionSet *spill.PartitionSet
	mergeStarted      bool

	// the partition being merged
	outputPartition    spill.PartitionID
	hasOutputPartition bool
	mergePartition     *spill.Partition
	merge              *spill.MergeReader

	mergeRows      *rowcontainer.RowContainer
	mergeSelection *bitmap.Bitmap
}

func (s *spillState) init() {
	s.mergeSelection = bitmap.New()
}

// HasSpilled reports whether any group went to disk.
func (g *GroupingSet) HasSpilled() bool {
	return g.inputSpiller != nil || g.outputSpiller != nil
}

// SpilledStats sums the statistics of the spillers.
func (g *GroupingSet) SpilledStats() spill.Stats {
	var stats spill.Stats
	if g.inputSpiller != nil {
		stats.Add(g.inputSpiller.Stats())
	}
	if g.outputSpiller != nil {
		stats.Add(g.outputSpiller.Stats())
	}
	return stats
}

func (g *GroupingSet) spillEnabled() bool {
	return g.spillCfg != nil && !g.isPartial && len(g.preGroupedKeys) == 0
}

// ensureInputFits grows the reservation of the pool ahead of adding bat,
// when the unused reservation may not cover the new groups. A reservation
// that cannot be grown is not an error: the grouping set spills instead.
func (g *GroupingSet) ensureInputFits(bat *batch.Batch) error {
	if !g.spillEnabled() || g.table.NumDistinct() == 0 {
		return nil
	}
	rows := g.table.Rows()
	n := bat.RowCount()
	freeRows, outOfLineFree := rows.FreeSpace()
	outOfLineBytes := rows.StringAllocator().RetainedSize() - outOfLineFree
	flatBytes := bat.EstimateFlatSize()

	if testingTriggerSpill(g.pool.Name()) {
		defer mpool.EnterReclaimableSection(g.nonReclaimableSection)()
		mpool.TestingRunArbitration(g.pool)
		return nil
	}

	cfg := g.spillCfg
	currentUsage := g.pool.UsedBytes()
	minReservation := currentUsage * cfg.MinSpillableReservationPct / 100
	available := g.pool.AvailableReservation()
	tableIncrement := g.table.HashTableSizeIncrease(n)
	var varBytes int64
	if outOfLineBytes > 0 {
		varBytes = flatBytes * cfg.FlatSizeMultiplier
	}
	increment := rows.SizeIncrement(n, varBytes) + tableIncrement

	if available >= minReservation {
		if tableIncrement == 0 && freeRows > n &&
			(outOfLineBytes == 0 || outOfLineFree >= flatBytes*cfg.FlatSizeMultiplier) {
			return nil
		}
		if available > cfg.IncrementHeadroomMultiplier*increment {
			return nil
		}
	}

	target := max(increment*2, currentUsage*cfg.SpillableReservationGrowthPct/100)
	reserved := func() bool {
		defer mpool.EnterReclaimableSection(g.nonReclaimableSection)()
		return g.pool.MaybeReserve(target)
	}()
	if reserved {
		return nil
	}
	v2.MemReservationFailedCounter.Inc()
	logutil.Warn("group: failed to reserve memory for input",
		zap.String("pool", g.pool.Name()),
		zap.Int64("target", target),
		zap.Int64("used", currentUsage),
		zap.Int64("reserved", g.pool.ReservedBytes()),
		zap.Int("groups", g.table.NumDistinct()))
	// the reclaimer may have spilled the table already
	if g.table.NumDistinct() > 0 {
		return g.Spill()
	}
	return nil
}

// ensureOutputFits reserves memory for one output batch before the output
// of a table that did not spill starts.
func (g *GroupingSet) ensureOutputFits() {
	if !g.spillEnabled() || g.HasSpilled() || g.table == nil || g.table.NumDistinct() == 0 {
		return
	}
	if testingTriggerSpill(g.pool.Name()) {
		defer mpool.EnterReclaimableSection(g.nonReclaimableSection)()
		mpool.TestingRunArbitration(g.pool)
		return
	}

	size := int64(float64(g.queryCfg.PreferredOutputBatchBytes) * g.spillCfg.OutputReservationRatio)
	reserved := func() bool {
		defer mpool.EnterReclaimableSection(g.nonReclaimableSection)()
		return g.pool.MaybeReserve(size)
	}()
	if reserved {
		// the reclaimer spilled the table to make room
		if g.HasSpilled() {
			g.pool.Release()
		}
		return
	}
	v2.MemReservationFailedCounter.Inc()
	logutil.Warn("group: failed to reserve memory for output",
		zap.String("pool", g.pool.Name()),
		zap.Int64("size", size),
		zap.Int64("used", g.pool.UsedBytes()))
}

// Spill writes every group of the hash table to the input spiller and
// empties the table. It is called while input is still being added, or at
// its end once the grouping set spilled.
func (g *GroupingSet) Spill() error {
	if g.table == nil || g.table.NumDistinct() == 0 {
		return nil
	}
	if g.outputSpiller != nil {
		return moerr.NewInvalidStateNoCtx("spill input after the output spilled")
	}
	if g.spillCfg == nil || g.fs == nil {
		return moerr.NewInvalidStateNoCtx("spill a grouping set without spill config")
	}
	rows := g.table.Rows()
	if g.inputSpiller == nil {
		bits := spill.NewHashBitRange(g.spillCfg.StartPartitionBit, g.spillCfg.NumPartitionBits)
		spiller, err := spill.NewSpiller(spill.AggregateInput, rows, bits, g.fs, g.spillCfg)
		if err != nil {
			return err
		}
		g.inputSpiller = spiller
	}
	numGroups := g.table.NumDistinct()
	if err := rows.StringAllocator().FreezeAndExecute(func() error {
		return g.inputSpiller.Spill(g.ctx)
	}); err != nil {
		return err
	}

	if g.isDistinct() && g.numDistinctSpillFilesPerPartition == nil {
		bits := g.inputSpiller.HashBits()
		counts := make(map[spill.PartitionID]int, bits.NumPartitions())
		total := 0
		for n := 0; n < bits.NumPartitions(); n++ {
			id := spill.PartitionID{BitOffset: bits.Begin, Number: uint32(n)}
			counts[id] = g.inputSpiller.State().NumFinishedFiles(id)
			total += counts[id]
		}
		if total == 0 {
			return moerr.NewInvalidStateNoCtx("first spill of %d distinct keys wrote no run", numGroups)
		}
		g.numDistinctSpillFilesPerPartition = counts
	}

	// the table goes first, its destroy reads the sorted buffers
	g.table.Clear(true)
	if g.sortedAggregations != nil {
		g.sortedAggregations.Clear()
	}
	logutil.Debug("group: spilled input",
		zap.Int("groups", numGroups),
		zap.Int64("used", g.pool.UsedBytes()))
	return nil
}

// SpillOutput writes the groups not output yet, from iter on, to the output
// spiller and empties the table. The rest of the output is read back from
// the spilled run.
func (g *GroupingSet) SpillOutput(iter *OutputIterator) error {
	if g.HasSpilled() {
		return moerr.NewInvalidStateNoCtx("spill output of a grouping set that spilled already")
	}
	if g.table == nil {
		return nil
	}
	if g.spillCfg == nil || g.fs == nil {
		return moerr.NewInvalidStateNoCtx("spill a grouping set without spill config")
	}
	rows := g.table.Rows()
	spiller, err := spill.NewSpiller(spill.AggregateOutput, rows, spill.HashBitRange{}, g.fs, g.spillCfg)
	if err != nil {
		return err
	}
	g.outputSpiller = spiller
	if err := rows.StringAllocator().FreezeAndExecute(func() error {
		return g.outputSpiller.SpillFrom(g.ctx, &iter.rows)
	}); err != nil {
		return err
	}
	g.table.Clear(true)
	if g.sortedAggregations != nil {
		g.sortedAggregations.Clear()
	}
	return nil
}

func (g *GroupingSet) closeSpill() error {
	var err error
	if g.merge != nil {
		err = errors.Join(err, g.merge.Close())
		g.merge = nil
	}
	if g.mergePartition != nil {
		err = errors.Join(err, g.mergePartition.Delete(g.ctx))
		g.mergePartition = nil
	}
	if g.spillPartitionSet != nil {
		err = errors.Join(err, g.spillPartitionSet.Clear(g.ctx))
	}
	for _, s := range []*spill.Spiller{g.inputSpiller, g.outputSpiller} {
		if s != nil {
			err = errors.Join(err, s.Close(g.ctx))
		}
	}
	return err
}
