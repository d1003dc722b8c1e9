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
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/matrixorigin/groupagg/pkg/common/mpool"
	"github.com/matrixorigin/groupagg/pkg/config"
	"github.com/matrixorigin/groupagg/pkg/container/batch"
	"github.com/matrixorigin/groupagg/pkg/logutil"
	v2 "github.com/matrixorigin/groupagg/pkg/util/metric/v2"
)

var _ mpool.Reclaimer = new(HashAggregation)

// HashAggregation drives one grouping set over its input and owns the memory
// pool of the grouping set. The pool asks it to spill when a reservation
// cannot be granted.
//
// A driver calls AddInput while NeedsInput is true, drains GetOutput until
// it returns nil, and calls NoMoreInput at the end of the input.
type HashAggregation struct {
	groupingSet *GroupingSet
	pool        *mpool.MPool
	queryCfg    *config.QueryConfig

	isPartialOutput bool
	isDistinct      bool
	isGlobal        bool

	// set while the grouping set must not be spilled by the pool
	nonReclaimableSection atomic.Bool

	noMoreInput  bool
	partialFull  bool
	newDistincts bool
	finished     bool

	abandonedPartialAggregation bool

	// the last input batch, kept to return its new distinct keys or to
	// convert it to intermediate rows
	input *batch.Batch

	// reset each time a partial aggregation flushes
	numInputRows  int64
	numOutputRows int64

	resultIterator OutputIterator

	// the pool logs and drops the errors of Reclaim, they are returned by
	// the next call instead
	reclaimErr error
}

// NewHashAggregation creates the grouping set of opts and registers the
// operator as the reclaimer of opts.Pool.
func NewHashAggregation(ctx context.Context, opts Options) (*HashAggregation, error) {
	h := &HashAggregation{
		queryCfg:        opts.Query,
		isPartialOutput: opts.IsPartial,
		isDistinct:      len(opts.Aggregates) == 0,
		isGlobal:        len(opts.KeyChannels) == 0,
	}
	if h.queryCfg == nil {
		h.queryCfg = config.NewQueryConfig()
		opts.Query = h.queryCfg
	}
	if opts.Pool == nil {
		opts.Pool = mpool.MustNewZero()
	}
	h.pool = opts.Pool
	opts.NonReclaimableSection = &h.nonReclaimableSection

	g, err := NewGroupingSet(ctx, opts)
	if err != nil {
		return nil, err
	}
	h.groupingSet = g
	h.pool.SetReclaimer(h)
	return h, nil
}

func (h *HashAggregation) GroupingSet() *GroupingSet {
	return h.groupingSet
}

// NeedsInput reports whether AddInput may be called.
func (h *HashAggregation) NeedsInput() bool {
	return !h.noMoreInput && !h.partialFull && h.input == nil
}

func (h *HashAggregation) AddInput(bat *batch.Batch) error {
	if err := h.takeReclaimErr(); err != nil {
		return err
	}
	if h.abandonedPartialAggregation {
		h.input = bat
		h.numInputRows += int64(bat.RowCount())
		return nil
	}

	err := func() error {
		defer mpool.EnterNonReclaimableSection(&h.nonReclaimableSection)()
		return h.groupingSet.AddInput(bat, true)
	}()
	if err = errors.Join(err, h.takeReclaimErr()); err != nil {
		return err
	}
	h.numInputRows += int64(bat.RowCount())

	if h.isDistinct {
		lookup := h.groupingSet.HashLookup()
		h.newDistincts = !h.groupingSet.HasSpilled() && lookup != nil && len(lookup.NewGroups) > 0
		if h.newDistincts {
			h.input = bat
		}
		return nil
	}

	if h.isPartialOutput && !h.isGlobal {
		if h.abandonPartialAggregationEarly(int64(h.groupingSet.NumDistinct())) ||
			h.groupingSet.IsPartialFull(h.queryCfg.MaxPartialAggregationBytes) {
			h.partialFull = true
		}
	}
	return nil
}

// NoMoreInput ends the input of the grouping set.
func (h *HashAggregation) NoMoreInput() error {
	if h.noMoreInput {
		return nil
	}
	if !h.abandonedPartialAggregation {
		err := func() error {
			defer mpool.EnterNonReclaimableSection(&h.nonReclaimableSection)()
			return h.groupingSet.NoMoreInput()
		}()
		if err != nil {
			return err
		}
	}
	h.noMoreInput = true
	return h.takeReclaimErr()
}

// GetOutput returns the next output batch, nil when no output is ready.
func (h *HashAggregation) GetOutput() (*batch.Batch, error) {
	if h.finished {
		return nil, nil
	}
	if err := h.takeReclaimErr(); err != nil {
		return nil, err
	}
	defer mpool.EnterNonReclaimableSection(&h.nonReclaimableSection)()

	if h.abandonedPartialAggregation {
		if h.input == nil {
			h.finished = h.noMoreInput
			return nil, nil
		}
		bat, err := h.groupingSet.ToIntermediate(h.input)
		h.input = nil
		if err != nil {
			return nil, err
		}
		h.numOutputRows += int64(bat.RowCount())
		return bat, nil
	}

	if h.isDistinct {
		if h.newDistincts {
			bat, err := h.distinctOutput()
			h.newDistincts = false
			h.input = nil
			if err != nil {
				return nil, err
			}
			h.numOutputRows += int64(bat.RowCount())
			return bat, nil
		}
		if !h.noMoreInput {
			return nil, nil
		}
		if !h.groupingSet.HasSpilled() {
			h.finished = true
			return nil, nil
		}
	}

	if !h.partialFull && !h.noMoreInput && !h.groupingSet.HasOutput() {
		return nil, nil
	}
	maxRows, maxBytes := h.outputBatchSize()
	bat, err := h.groupingSet.GetOutput(maxRows, maxBytes, &h.resultIterator)
	if err != nil {
		return nil, err
	}
	if bat == nil || bat.RowCount() == 0 {
		h.resultIterator.Reset()
		if h.noMoreInput {
			h.finished = true
			return nil, nil
		}
		return nil, h.resetPartialOutput()
	}
	h.numOutputRows += int64(bat.RowCount())
	return bat, nil
}

// distinctOutput returns the keys of the last input that created a group.
func (h *HashAggregation) distinctOutput() (*batch.Batch, error) {
	g := h.groupingSet
	newGroups := g.HashLookup().NewGroups
	sels := make([]int64, len(newGroups))
	for i, row := range newGroups {
		sels[i] = int64(row)
	}
	bat := batch.NewWithSchema(g.OutputTypes())
	for i, key := range g.keyOutputProjections {
		if err := bat.Vecs[i].Union(h.input.Vecs[g.keyChannels[key]], sels); err != nil {
			return nil, err
		}
	}
	bat.SetRowCount(len(sels))
	return bat, nil
}

func (h *HashAggregation) outputBatchSize() (int, int64) {
	maxRows := h.queryCfg.PreferredOutputBatchRows
	maxBytes := h.queryCfg.PreferredOutputBatchBytes
	if size, ok := h.groupingSet.EstimateOutputRowSize(); ok && size > 0 {
		maxRows = int(max(1, min(int64(maxRows), maxBytes/size)))
	}
	return maxRows, maxBytes
}

// resetPartialOutput empties the table once its groups were output before
// the end of the input, and decides whether to keep aggregating.
func (h *HashAggregation) resetPartialOutput() error {
	h.groupingSet.ResetTable(false)
	if !h.partialFull {
		return nil
	}
	h.partialFull = false
	if h.abandonPartialAggregationEarly(h.numOutputRows) {
		if err := h.groupingSet.AbandonPartialAggregation(); err != nil {
			return err
		}
		h.abandonedPartialAggregation = true
		h.pool.Release()
		v2.AggAbandonPartialCounter.Inc()
		logutil.Info("group: abandon partial aggregation",
			zap.Int64("input", h.numInputRows),
			zap.Int64("output", h.numOutputRows))
	}
	h.numInputRows = 0
	h.numOutputRows = 0
	return nil
}

// abandonPartialAggregationEarly reports whether numOutput groups out of
// the input rows so far reduce too little to be worth a hash table.
func (h *HashAggregation) abandonPartialAggregationEarly(numOutput int64) bool {
	if !h.isPartialOutput || h.isGlobal || !h.groupingSet.isRawInput {
		return false
	}
	return h.numInputRows > h.queryCfg.AbandonPartialAggregationMinRows &&
		100*numOutput/h.numInputRows >= h.queryCfg.AbandonPartialAggregationMinPct
}

func (h *HashAggregation) IsFinished() bool {
	return h.finished
}

func (h *HashAggregation) CanReclaim() bool {
	return h.groupingSet.spillEnabled() && !h.nonReclaimableSection.Load()
}

// Reclaim spills the grouping set. Before the end of the input the whole
// table spills; after it only the groups not output yet.
func (h *HashAggregation) Reclaim(pool *mpool.MPool, targetBytes int64) (int64, error) {
	if h.isPartialOutput || h.isGlobal || h.finished || h.groupingSet.closed {
		return 0, nil
	}
	before := pool.UsedBytes()
	var err error
	switch {
	case !h.noMoreInput:
		err = h.groupingSet.Spill()
	case h.isDistinct:
		// every key was output already, the table only deduplicates
		h.groupingSet.ResetTable(true)
	case !h.groupingSet.HasSpilled():
		err = h.groupingSet.SpillOutput(&h.resultIterator)
	}
	if err != nil {
		h.reclaimErr = err
		return 0, err
	}
	freed := max(0, before-pool.UsedBytes())
	logutil.Info("group: reclaimed memory",
		zap.String("pool", pool.Name()),
		zap.Int64("target", targetBytes),
		zap.Int64("freed", freed),
		zap.Bool("noMoreInput", h.noMoreInput))
	return freed, nil
}

func (h *HashAggregation) takeReclaimErr() error {
	err := h.reclaimErr
	h.reclaimErr = nil
	return err
}

// Close releases the grouping set and unregisters the operator from the
// pool.
func (h *HashAggregation) Close() error {
	h.pool.SetReclaimer(nil)
	h.input = nil
	return h.groupingSet.Close()
}
