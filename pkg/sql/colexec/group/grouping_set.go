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

	"github.com/matrixorigin/groupagg/pkg/common/bitmap"
	"github.com/matrixorigin/groupagg/pkg/common/hashmap"
	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/common/mpool"
	"github.com/matrixorigin/groupagg/pkg/config"
	"github.com/matrixorigin/groupagg/pkg/container/batch"
	"github.com/matrixorigin/groupagg/pkg/container/rowcontainer"
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
	"github.com/matrixorigin/groupagg/pkg/fileservice"
	"github.com/matrixorigin/groupagg/pkg/logutil"
	"github.com/matrixorigin/groupagg/pkg/sql/colexec/aggexec"
)

type Row = rowcontainer.Row

// GroupingSet computes the aggregates of one set of grouping keys over a
// stream of batches. It keeps its groups in a hash table, spills the table
// to sorted runs when memory runs short and merges the runs back when the
// output is produced.
//
// A grouping set without keys is a global aggregation and keeps a single
// group. A grouping set without aggregates computes the distinct keys.
type GroupingSet struct {
	ctx context.Context

	inputTypes           []types.Type
	keyChannels          []int32
	keyTypes             []types.Type
	preGroupedKeys       []int32
	keyOutputProjections []int32
	outputTypes          []types.Type

	isGlobal       bool
	isPartial      bool
	isRawInput     bool
	ignoreNullKeys bool

	globalGroupingSets []int64
	groupIDChannel     int32

	aggregates  []AggregateInfo
	mayPushdown []bool
	masks       *aggregationMasks
	// at most one per grouping set, fed by every aggregate with sorting keys
	sortedAggregations *aggexec.SortedAggregations
	// indexed by aggregate, nil for an aggregate that is not distinct
	distinctAggregations []*aggexec.DistinctAggregation

	spillCfg *config.SpillConfig
	queryCfg *config.QueryConfig
	fs       fileservice.FileService
	localFS  *fileservice.LocalFS
	pool     *mpool.MPool

	nonReclaimableSection *atomic.Bool

	table      *hashmap.GroupTable
	lookup     *hashmap.HashLookup
	activeRows *bitmap.Bitmap

	noMoreInput  bool
	numInputRows int64

	// the rows of remainingInput from firstRemainingRow on belong to a
	// group that may continue in the next batch
	remainingInput       *batch.Batch
	firstRemainingRow    int
	remainingMayPushdown bool

	globalRows                   *rowcontainer.RowContainer
	globalRow                    Row
	globalAggregationInitialized bool

	spillState

	intermediateRows            *rowcontainer.RowContainer
	abandonedPartialAggregation bool
	allSupportToIntermediate    bool

	closed bool
}

// NewGroupingSet validates opts and returns an empty grouping set. ctx
// bounds the spill file operations of the grouping set.
func NewGroupingSet(ctx context.Context, opts Options) (*GroupingSet, error) {
	g := &GroupingSet{
		ctx:                   ctx,
		inputTypes:            opts.InputTypes,
		keyChannels:           opts.KeyChannels,
		preGroupedKeys:        opts.PreGroupedKeys,
		isGlobal:              len(opts.KeyChannels) == 0,
		isPartial:             opts.IsPartial,
		isRawInput:            opts.IsRawInput,
		ignoreNullKeys:        opts.IgnoreNullKeys,
		globalGroupingSets:    opts.GlobalGroupingSets,
		groupIDChannel:        opts.GroupIDChannel,
		aggregates:            opts.Aggregates,
		queryCfg:              opts.Query,
		fs:                    opts.FileService,
		pool:                  opts.Pool,
		nonReclaimableSection: opts.NonReclaimableSection,
		activeRows:            bitmap.New(),
	}
	if g.queryCfg == nil {
		g.queryCfg = config.NewQueryConfig()
	}
	if g.pool == nil {
		g.pool = mpool.MustNewZero()
	}
	if g.nonReclaimableSection == nil {
		g.nonReclaimableSection = new(atomic.Bool)
	}
	g.spillState.init()

	if err := g.initKeys(opts.KeyOutputProjections); err != nil {
		return nil, err
	}
	if err := g.initAggregates(); err != nil {
		return nil, err
	}
	if err := g.initSpill(opts.Spill); err != nil {
		return nil, err
	}
	return g, nil
}

// NewGroupingSetForMarkDistinct returns a grouping set without aggregates
// that finds the new distinct keys of each batch. It never spills.
func NewGroupingSetForMarkDistinct(ctx context.Context, inputTypes []types.Type, keyChannels []int32, pool *mpool.MPool) (*GroupingSet, error) {
	if len(keyChannels) == 0 {
		return nil, moerr.NewInvalidInputNoCtx("mark distinct without keys")
	}
	return NewGroupingSet(ctx, Options{
		InputTypes:  inputTypes,
		KeyChannels: keyChannels,
		IsRawInput:  true,
		Pool:        pool,
	})
}

func (g *GroupingSet) initKeys(projections []int32) error {
	numKeys := len(g.keyChannels)
	g.keyTypes = make([]types.Type, numKeys)
	for i, ch := range g.keyChannels {
		if err := g.checkChannel(ch); err != nil {
			return err
		}
		g.keyTypes[i] = g.inputTypes[ch]
	}
	for _, ch := range g.preGroupedKeys {
		if err := g.checkChannel(ch); err != nil {
			return err
		}
	}

	if len(projections) == 0 {
		projections = make([]int32, numKeys)
		for i := range projections {
			projections[i] = int32(i)
		}
	}
	if len(projections) != numKeys {
		return moerr.NewInvalidInputNoCtx("%d key output projections for %d keys", len(projections), numKeys)
	}
	for _, p := range projections {
		if p < 0 || int(p) >= numKeys {
			return moerr.NewInvalidInputNoCtx("key output projection %d out of %d keys", p, numKeys)
		}
	}
	g.keyOutputProjections = projections

	if len(g.globalGroupingSets) > 0 {
		if g.groupIDChannel < 0 || int(g.groupIDChannel) >= numKeys {
			return moerr.NewInvalidInputNoCtx("group id channel %d out of %d keys", g.groupIDChannel, numKeys)
		}
		if typ := g.keyTypes[projections[g.groupIDChannel]]; typ.Oid != types.T_int64 {
			return moerr.NewInvalidInputNoCtx("group id column is %s, not int64", typ)
		}
	}
	return nil
}

func (g *GroupingSet) checkChannel(ch int32) error {
	if ch < 0 || int(ch) >= len(g.inputTypes) {
		return moerr.NewInvalidInputNoCtx("channel %d out of %d input columns", ch, len(g.inputTypes))
	}
	return nil
}

func (g *GroupingSet) initAggregates() error {
	numKeys := len(g.keyChannels)
	numAggs := len(g.aggregates)

	if numAggs == 0 {
		if numKeys == 0 {
			return moerr.NewInvalidInputNoCtx("grouping set without keys and aggregates")
		}
		if len(g.preGroupedKeys) > 0 {
			return moerr.NewNotSupportedNoCtx("distinct grouping set on pre-grouped keys")
		}
	}

	g.outputTypes = make([]types.Type, numKeys+numAggs)
	for i, p := range g.keyOutputProjections {
		g.outputTypes[i] = g.keyTypes[p]
	}
	outputs := make(map[int32]struct{}, numAggs)
	maskChannels := make([]int32, numAggs)
	channelUses := make(map[int32]int)
	var sorted []aggexec.SortedAggregation
	g.distinctAggregations = make([]*aggexec.DistinctAggregation, numAggs)

	for i := range g.aggregates {
		agg := &g.aggregates[i]
		if agg.Function == nil {
			return moerr.NewInvalidInputNoCtx("aggregate %d without a function", i)
		}
		if g.isPartial && (agg.sorted() || agg.Distinct) {
			return moerr.NewInvalidInputNoCtx("partial aggregation does not support sorted or distinct aggregate %s", agg.Function.Name())
		}
		if agg.sorted() && agg.Distinct {
			return moerr.NewNotSupportedNoCtx("sorted distinct aggregate %s", agg.Function.Name())
		}
		if int(agg.Output) < numKeys || int(agg.Output) >= numKeys+numAggs {
			return moerr.NewInvalidInputNoCtx("aggregate output column %d out of [%d, %d)", agg.Output, numKeys, numKeys+numAggs)
		}
		if _, ok := outputs[agg.Output]; ok {
			return moerr.NewInvalidInputNoCtx("aggregate output column %d used twice", agg.Output)
		}
		outputs[agg.Output] = struct{}{}

		argTypes := make([]types.Type, len(agg.Inputs))
		for j, ch := range agg.Inputs {
			if ch == ConstantChannel {
				if j >= len(agg.ConstantInputs) || agg.ConstantInputs[j] == nil {
					return moerr.NewInvalidInputNoCtx("aggregate %s misses constant argument %d", agg.Function.Name(), j)
				}
				argTypes[j] = *agg.ConstantInputs[j].GetType()
			} else {
				if err := g.checkChannel(ch); err != nil {
					return err
				}
				argTypes[j] = g.inputTypes[ch]
			}
			channelUses[ch]++
		}
		if agg.Mask != NoMask {
			if err := g.checkChannel(agg.Mask); err != nil {
				return err
			}
			if g.inputTypes[agg.Mask].Oid != types.T_bool {
				return moerr.NewInvalidInputNoCtx("mask channel %d is %s, not bool", agg.Mask, g.inputTypes[agg.Mask])
			}
		}
		maskChannels[i] = agg.Mask

		_, retType := agg.Function.TypesInfo()
		if g.isPartial {
			g.outputTypes[agg.Output] = agg.intermediateType()
		} else {
			g.outputTypes[agg.Output] = retType
		}

		switch {
		case agg.sorted():
			sorted = append(sorted, aggexec.SortedAggregation{
				Function:      agg.Function,
				Inputs:        agg.Inputs,
				Constants:     agg.ConstantInputs,
				Mask:          agg.Mask,
				SortingKeys:   agg.SortingKeys,
				SortingOrders: agg.SortingOrders,
			})
		case agg.Distinct:
			g.distinctAggregations[i] = aggexec.NewDistinctAggregation(agg.Function, argTypes)
		}
	}

	g.mayPushdown = make([]bool, numAggs)
	for i := range g.aggregates {
		g.mayPushdown[i] = true
		for _, ch := range g.aggregates[i].Inputs {
			if channelUses[ch] != 1 {
				g.mayPushdown[i] = false
			}
		}
	}
	g.masks = newAggregationMasks(maskChannels)

	if len(sorted) > 0 {
		s, err := aggexec.NewSortedAggregations(sorted, g.inputTypes)
		if err != nil {
			return err
		}
		g.sortedAggregations = s
	}
	return nil
}

func (g *GroupingSet) initSpill(cfg *config.SpillConfig) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	g.spillCfg = cfg
	if g.fs == nil {
		fs, err := fileservice.NewLocalFS("spill", cfg.Dir)
		if err != nil {
			return err
		}
		g.fs, g.localFS = fs, fs
	}
	return nil
}

func (g *GroupingSet) isDistinct() bool {
	return len(g.aggregates) == 0
}

// IsGlobal reports whether the grouping set has no keys.
func (g *GroupingSet) IsGlobal() bool {
	return g.isGlobal
}

// IsDistinct reports whether the grouping set has no aggregates.
func (g *GroupingSet) IsDistinct() bool {
	return g.isDistinct()
}

func (g *GroupingSet) OutputTypes() []types.Type {
	return g.outputTypes
}

// AddInput adds the rows of bat. mayPushdown allows lazy arguments to be
// loaded only for the rows an aggregate reads.
func (g *GroupingSet) AddInput(bat *batch.Batch, mayPushdown bool) error {
	if g.noMoreInput {
		return moerr.NewInvalidStateNoCtx("add input after no more input")
	}
	if g.abandonedPartialAggregation {
		return moerr.NewInvalidStateNoCtx("add input to an abandoned partial aggregation")
	}
	n := bat.RowCount()
	if n == 0 {
		return nil
	}
	if g.isGlobal {
		return g.addGlobalAggregationInput(bat, mayPushdown)
	}

	g.numInputRows += int64(n)
	numRows := n
	if len(g.preGroupedKeys) > 0 {
		if g.remainingInput != nil {
			if err := g.addRemainingInput(); err != nil {
				return err
			}
		}
		for _, ch := range g.preGroupedKeys {
			if err := bat.Vecs[ch].Load(nil); err != nil {
				return err
			}
		}
		// the rows after the last group boundary wait for the next batch
		for i := n - 2; i >= 0; i-- {
			if !g.samePreGroupedKeys(bat, i, i+1) {
				numRows = i + 1
				g.remainingInput = bat
				g.firstRemainingRow = i + 1
				g.remainingMayPushdown = mayPushdown
				break
			}
		}
	}

	g.activeRows.Reset()
	g.activeRows.AddRange(0, uint64(numRows))
	return g.addInputForActiveRows(bat, mayPushdown)
}

func (g *GroupingSet) samePreGroupedKeys(bat *batch.Batch, i, j int) bool {
	for _, ch := range g.preGroupedKeys {
		vec := bat.Vecs[ch]
		if !vec.EqualAt(i, vec, j) {
			return false
		}
	}
	return true
}

func (g *GroupingSet) addRemainingInput() error {
	bat := g.remainingInput
	g.remainingInput = nil
	g.activeRows.Reset()
	g.activeRows.AddRange(uint64(g.firstRemainingRow), uint64(bat.RowCount()))
	return g.addInputForActiveRows(bat, g.remainingMayPushdown)
}

// NoMoreInput ends the input. The input left by pre-grouped keys is added
// and a spilled grouping set spills what it still holds.
func (g *GroupingSet) NoMoreInput() error {
	if g.noMoreInput {
		return nil
	}
	g.noMoreInput = true
	if g.remainingInput != nil {
		if err := g.addRemainingInput(); err != nil {
			return err
		}
	}
	if g.inputSpiller != nil {
		if err := g.Spill(); err != nil {
			return err
		}
	}
	g.ensureOutputFits()
	return nil
}

// HasOutput reports whether GetOutput may return rows.
func (g *GroupingSet) HasOutput() bool {
	return g.noMoreInput || g.remainingInput != nil
}

func (g *GroupingSet) createHashTable() {
	rows := rowcontainer.NewRowContainer(g.keyTypes, g.accumulators(false), g.pool)
	g.initializeAggregates(rows, false)
	g.table = hashmap.NewGroupTable(rows, g.keyChannels, g.queryCfg.HashAdaptivityEnabled)
	if !g.queryCfg.HashAdaptivityEnabled {
		g.table.ForceGenericHashMode()
	}
	if g.lookup == nil {
		g.lookup = hashmap.NewHashLookup()
	}
}

// selectivity returns the rows aggregate i reads.
func (g *GroupingSet) selectivity(i int) *bitmap.Bitmap {
	if rows := g.masks.activeRows(i); rows != nil {
		return rows
	}
	return g.activeRows
}

// args returns the argument vectors of aggregate i over bat. Constants are
// spread to the length of bat.
func (g *GroupingSet) args(i int, bat *batch.Batch) []*vector.Vector {
	agg := &g.aggregates[i]
	args := make([]*vector.Vector, len(agg.Inputs))
	for j, ch := range agg.Inputs {
		if ch == ConstantChannel {
			args[j] = vector.NewConstFrom(agg.ConstantInputs[j], 0, bat.RowCount())
			continue
		}
		args[j] = bat.Vecs[ch]
	}
	return args
}

func allLazy(args []*vector.Vector) bool {
	for _, arg := range args {
		if !arg.IsLazyNotLoaded() {
			return false
		}
	}
	return true
}

func (g *GroupingSet) addInputForActiveRows(bat *batch.Batch, mayPushdown bool) error {
	if g.table == nil {
		g.createHashTable()
	}
	if err := g.ensureInputFits(bat); err != nil {
		return err
	}

	if err := g.table.PrepareForGroupProbe(g.lookup, bat, g.activeRows, g.ignoreNullKeys); err != nil {
		return err
	}
	if len(g.lookup.Rows) == 0 {
		return nil
	}
	if g.ignoreNullKeys {
		g.activeRows.Reset()
		for _, r := range g.lookup.Rows {
			g.activeRows.Add(uint64(r))
		}
	}
	if err := g.table.GroupProbe(g.lookup); err != nil {
		return err
	}
	if err := g.masks.addInput(bat, g.activeRows); err != nil {
		return err
	}

	groups := g.lookup.Hits
	newGroups := g.lookup.NewGroups
	for i := range g.aggregates {
		agg := &g.aggregates[i]
		if agg.sorted() {
			continue
		}
		rows := g.selectivity(i)
		if d := g.distinctAggregations[i]; d != nil {
			if len(newGroups) > 0 {
				d.InitializeNewGroups(groups, newGroups)
			}
			if rows.IsEmpty() {
				continue
			}
			if err := d.AddInput(groups, rows, g.args(i, bat)); err != nil {
				return err
			}
			continue
		}

		fn := agg.Function
		if len(newGroups) > 0 {
			fn.InitializeNewGroups(groups, newGroups)
		}
		if rows.IsEmpty() {
			continue
		}
		args := g.args(i, bat)
		canPushdown := rows == g.activeRows && mayPushdown && g.mayPushdown[i] && allLazy(args)
		var err error
		if g.isRawInput {
			err = fn.AddRawInput(groups, rows, args, canPushdown)
		} else {
			err = fn.AddIntermediateResults(groups, rows, args, canPushdown)
		}
		if err != nil {
			return err
		}
	}

	if g.sortedAggregations != nil {
		if len(newGroups) > 0 {
			g.sortedAggregations.InitializeNewGroups(groups, newGroups)
		}
		if err := g.sortedAggregations.AddInput(groups, bat, g.lookup.Rows); err != nil {
			return err
		}
	}
	return nil
}

// initializeGlobalAggregation creates the single group of a global
// aggregation. It uses a keyless row container so the layout is planned the
// same way as for the hash table.
func (g *GroupingSet) initializeGlobalAggregation() error {
	if g.globalAggregationInitialized {
		return nil
	}
	g.globalRows = rowcontainer.NewRowContainer(nil, g.accumulators(false), g.pool)
	g.initializeAggregates(g.globalRows, false)
	row, err := g.globalRows.NewRow()
	if err != nil {
		return err
	}
	g.globalRow = row

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
	g.globalAggregationInitialized = true
	return nil
}

func (g *GroupingSet) addGlobalAggregationInput(bat *batch.Batch, mayPushdown bool) error {
	if err := g.initializeGlobalAggregation(); err != nil {
		return err
	}
	g.activeRows.Reset()
	g.activeRows.AddRange(0, uint64(bat.RowCount()))
	if err := g.masks.addInput(bat, g.activeRows); err != nil {
		return err
	}

	group := g.globalRow
	for i := range g.aggregates {
		agg := &g.aggregates[i]
		if agg.sorted() {
			continue
		}
		rows := g.selectivity(i)
		if rows.IsEmpty() {
			continue
		}
		args := g.args(i, bat)
		if d := g.distinctAggregations[i]; d != nil {
			if err := d.AddSingleGroupInput(group, rows, args); err != nil {
				return err
			}
			continue
		}
		canPushdown := rows == g.activeRows && mayPushdown && g.mayPushdown[i] && allLazy(args)
		var err error
		if g.isRawInput {
			err = agg.Function.AddSingleGroupRawInput(group, rows, args, canPushdown)
		} else {
			err = agg.Function.AddSingleGroupIntermediateResults(group, rows, args, canPushdown)
		}
		if err != nil {
			return err
		}
	}
	if g.sortedAggregations != nil {
		return g.sortedAggregations.AddSingleGroupInput(group, bat, g.activeRows)
	}
	return nil
}

// GetOutput returns the next batch of at most maxOutputRows groups, nil once
// the output is exhausted. iter holds the position between calls.
func (g *GroupingSet) GetOutput(maxOutputRows int, maxOutputBytes int64, iter *OutputIterator) (*batch.Batch, error) {
	if g.isGlobal {
		return g.getGlobalAggregationOutput(iter)
	}
	if g.hasDefaultGlobalGroupingSetOutput() {
		return g.getDefaultGlobalGroupingSetOutput(iter)
	}
	if g.HasSpilled() {
		return g.getOutputWithSpill(maxOutputRows, maxOutputBytes)
	}
	if g.isDistinct() {
		return nil, moerr.NewInvalidStateNoCtx("distinct grouping set outputs its keys while adding input")
	}

	if g.table == nil {
		return nil, nil
	}
	groups := g.table.Rows().ListRows(&iter.rows, maxOutputRows, maxOutputBytes, nil)
	if len(groups) == 0 {
		g.table.Clear(true)
		if g.sortedAggregations != nil {
			g.sortedAggregations.Clear()
		}
		return nil, nil
	}
	return g.extractGroups(g.table.Rows(), groups)
}

// extractGroups builds the output batch of groups of rows.
func (g *GroupingSet) extractGroups(rows *rowcontainer.RowContainer, groups []Row) (*batch.Batch, error) {
	bat := batch.NewWithSchema(g.outputTypes)
	if len(groups) == 0 {
		return bat, nil
	}
	for i, key := range g.keyOutputProjections {
		rows.ExtractColumn(groups, int(key), bat.Vecs[i])
	}
	if err := g.extractAggregates(groups, bat); err != nil {
		return nil, err
	}
	bat.SetRowCount(len(groups))
	return bat, nil
}

func (g *GroupingSet) extractAggregates(groups []Row, bat *batch.Batch) error {
	var sortedResults []*vector.Vector
	for i := range g.aggregates {
		agg := &g.aggregates[i]
		result := bat.Vecs[agg.Output]
		var err error
		switch {
		case agg.sorted():
			sortedResults = append(sortedResults, result)
		case g.distinctAggregations[i] != nil:
			err = g.distinctAggregations[i].ExtractValues(groups, result)
		case g.isPartial:
			err = agg.Function.ExtractAccumulators(groups, result)
		default:
			err = agg.Function.ExtractValues(groups, result)
		}
		if err != nil {
			return err
		}
	}
	if g.sortedAggregations != nil {
		return g.sortedAggregations.ExtractValues(groups, sortedResults)
	}
	return nil
}

func (g *GroupingSet) getGlobalAggregationOutput(iter *OutputIterator) (*batch.Batch, error) {
	if iter.done {
		return nil, nil
	}
	if err := g.initializeGlobalAggregation(); err != nil {
		return nil, err
	}
	bat := batch.NewWithSchema(g.outputTypes)
	if err := g.extractAggregates([]Row{g.globalRow}, bat); err != nil {
		return nil, err
	}
	bat.SetRowCount(1)
	iter.done = true
	return bat, nil
}

func (g *GroupingSet) hasDefaultGlobalGroupingSetOutput() bool {
	return g.noMoreInput && g.numInputRows == 0 && len(g.globalGroupingSets) > 0 && g.isRawInput
}

// getDefaultGlobalGroupingSetOutput returns one row per global grouping set
// for an empty input. The keys are null except the grouping set id and the
// aggregates hold the result over no rows.
func (g *GroupingSet) getDefaultGlobalGroupingSetOutput(iter *OutputIterator) (*batch.Batch, error) {
	if iter.done {
		return nil, nil
	}
	if err := g.initializeGlobalAggregation(); err != nil {
		return nil, err
	}
	n := len(g.globalGroupingSets)
	bat := batch.NewWithSchema(g.outputTypes)
	for i := range g.keyOutputProjections {
		if int32(i) == g.groupIDChannel {
			vector.AppendFixedList(bat.Vecs[i], g.globalGroupingSets, nil)
			continue
		}
		for j := 0; j < n; j++ {
			bat.Vecs[i].AppendNull()
		}
	}
	groups := make([]Row, n)
	for i := range groups {
		groups[i] = g.globalRow
	}
	if err := g.extractAggregates(groups, bat); err != nil {
		return nil, err
	}
	bat.SetRowCount(n)
	iter.done = true
	return bat, nil
}

// HashLookup is the result of the last probe, its NewGroups are the input
// rows that created a group.
func (g *GroupingSet) HashLookup() *hashmap.HashLookup {
	return g.lookup
}

// NumDistinct is the number of groups in the hash table.
func (g *GroupingSet) NumDistinct() int {
	if g.table == nil {
		return 0
	}
	return g.table.NumDistinct()
}

func (g *GroupingSet) Table() *hashmap.GroupTable {
	return g.table
}

// ResetTable drops every group of the hash table.
func (g *GroupingSet) ResetTable(freeTable bool) {
	if g.table != nil {
		g.table.Clear(freeTable)
	}
	if g.sortedAggregations != nil {
		g.sortedAggregations.Clear()
	}
}

// IsPartialFull reports whether a partial aggregation uses more than
// maxBytes. A sparse array mode table gets a chance to switch to a hashed
// mode first.
func (g *GroupingSet) IsPartialFull(maxBytes int64) bool {
	if !g.isPartial || g.table == nil || g.AllocatedBytes() <= maxBytes {
		return false
	}
	if g.table.HashMode() != hashmap.HashModeArray {
		return true
	}
	stats := g.table.Stats()
	if int64(stats.ArrayCapacity)*4 > maxBytes/16 && stats.NumDistinct < stats.ArrayCapacity/32 {
		mode := g.table.DecideHashMode()
		logutil.Debug("group: partial aggregation left array mode",
			zap.String("mode", mode.String()),
			zap.Int("distinct", stats.NumDistinct),
			zap.Int("capacity", stats.ArrayCapacity))
	}
	return g.AllocatedBytes() > maxBytes
}

// AllocatedBytes is the memory held by the groups.
func (g *GroupingSet) AllocatedBytes() int64 {
	var n int64
	if g.sortedAggregations != nil {
		n += g.sortedAggregations.InputRowBytes()
	}
	if g.table != nil {
		n += g.table.AllocatedBytes()
	}
	if g.globalRows != nil {
		n += g.globalRows.AllocatedBytes()
	}
	return n
}

// EstimateOutputRowSize is the average size of a group, false when there is
// no group to estimate from.
func (g *GroupingSet) EstimateOutputRowSize() (int64, bool) {
	if g.table == nil {
		return 0, false
	}
	return g.table.Rows().EstimateRowSize()
}

// Close releases the groups and the spill files of the grouping set.
func (g *GroupingSet) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	var err error
	if g.table != nil {
		g.table.Clear(true)
	}
	if g.globalAggregationInitialized {
		g.globalRows.Clear()
		g.globalAggregationInitialized = false
	}
	if g.intermediateRows != nil {
		g.intermediateRows.Clear()
	}
	if g.mergeRows != nil {
		g.mergeRows.Clear()
	}
	if g.sortedAggregations != nil {
		g.sortedAggregations.Clear()
	}
	err = errors.Join(err, g.closeSpill())
	if g.localFS != nil {
		err = errors.Join(err, g.localFS.Close())
		g.localFS = nil
	}
	return err
}
