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
	"github.com/matrixorigin/groupagg/pkg/common/bitmap"
	"github.com/matrixorigin/groupagg/pkg/container/batch"
	"github.com/matrixorigin/groupagg/pkg/container/rowcontainer"
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
)

type distinctSet struct {
	seen   map[string]struct{}
	values *batch.Batch
}

// DistinctAggregation feeds the distinct argument tuples of each group to
// its function when the group is extracted. The tuples are kept outside of
// the row, the slot holds the set index + 1. The function keeps its own slot.
type DistinctAggregation struct {
	fn         AggFuncExec
	inputTypes []types.Type

	AccumulatorOffsets
	sets   []*distinctSet
	free   []uint64
	keyBuf []byte
}

func NewDistinctAggregation(fn AggFuncExec, inputTypes []types.Type) *DistinctAggregation {
	return &DistinctAggregation{fn: fn, inputTypes: inputTypes}
}

func (d *DistinctAggregation) Function() AggFuncExec {
	return d.fn
}

// Accumulator describes the set slot. A set spills as one marshaled batch.
func (d *DistinctAggregation) Accumulator() rowcontainer.Accumulator {
	return rowcontainer.Accumulator{
		FixedSize:          8,
		Alignment:          8,
		UsesExternalMemory: true,
		SpillType:          types.T_varbinary.ToType(),
		ExtractForSpill:    d.ExtractForSpill,
		Destroy:            d.Destroy,
	}
}

func (d *DistinctAggregation) SetOffsets(offsets AccumulatorOffsets) {
	d.AccumulatorOffsets = offsets
}

// InitializeNewGroups creates an empty set per group and initializes the
// function state.
func (d *DistinctAggregation) InitializeNewGroups(groups []Row, indices []int32) {
	for _, i := range indices {
		row := groups[i]
		set := &distinctSet{
			seen:   make(map[string]struct{}),
			values: batch.NewWithSchema(d.inputTypes),
		}
		var idx uint64
		if n := len(d.free); n > 0 {
			idx = d.free[n-1]
			d.free = d.free[:n-1]
			d.sets[idx] = set
		} else {
			idx = uint64(len(d.sets))
			d.sets = append(d.sets, set)
		}
		row.PutUint64(d.Offset, idx+1)
		row.SetBit(d.InitBit)
	}
	d.fn.InitializeNewGroups(groups, indices)
}

func (d *DistinctAggregation) set(group Row) *distinctSet {
	return d.sets[group.Uint64(d.Offset)-1]
}

func (d *DistinctAggregation) add(group Row, args []*vector.Vector, i int) error {
	d.keyBuf = d.keyBuf[:0]
	for _, arg := range args {
		d.keyBuf = arg.AppendKey(d.keyBuf, i)
	}
	set := d.set(group)
	if _, ok := set.seen[string(d.keyBuf)]; ok {
		return nil
	}
	set.seen[string(d.keyBuf)] = struct{}{}
	for c, arg := range args {
		if err := set.values.Vecs[c].UnionOne(arg, int64(i)); err != nil {
			return err
		}
	}
	set.values.AddRowCount(1)
	return nil
}

// AddInput adds the selected rows of args to the sets of groups.
func (d *DistinctAggregation) AddInput(groups []Row, rows *bitmap.Bitmap, args []*vector.Vector) error {
	if err := loadArgs(nil, args, false); err != nil {
		return err
	}
	itr := rows.Iterator()
	for itr.HasNext() {
		i := int(itr.Next())
		if err := d.add(groups[i], args, i); err != nil {
			return err
		}
	}
	return nil
}

func (d *DistinctAggregation) AddSingleGroupInput(group Row, rows *bitmap.Bitmap, args []*vector.Vector) error {
	if err := loadArgs(nil, args, false); err != nil {
		return err
	}
	itr := rows.Iterator()
	for itr.HasNext() {
		if err := d.add(group, args, int(itr.Next())); err != nil {
			return err
		}
	}
	return nil
}

// ExtractValues runs the function over the set of each group and extracts
// its result.
func (d *DistinctAggregation) ExtractValues(groups []Row, result *vector.Vector) error {
	for _, group := range groups {
		values := d.set(group).values
		if values.RowCount() == 0 {
			continue
		}
		all := bitmap.NewWithRange(0, uint64(values.RowCount()))
		if err := d.fn.AddSingleGroupRawInput(group, all, values.Vecs, false); err != nil {
			return err
		}
		d.set(group).values = batch.NewWithSchema(d.inputTypes)
		clear(d.set(group).seen)
	}
	return d.fn.ExtractValues(groups, result)
}

// ExtractForSpill appends the marshaled set of each group.
func (d *DistinctAggregation) ExtractForSpill(groups []Row, result *vector.Vector) error {
	for _, group := range groups {
		data, err := d.set(group).values.MarshalBinary()
		if err != nil {
			return err
		}
		vector.AppendBytes(result, data, false)
	}
	return nil
}

// AddSingleGroupSpillInput merges the set spilled at row index of vec.
func (d *DistinctAggregation) AddSingleGroupSpillInput(group Row, vec *vector.Vector, index int) error {
	if vec.IsNull(index) {
		return nil
	}
	var values batch.Batch
	if err := values.UnmarshalBinary(vec.GetBytesAt(index)); err != nil {
		return err
	}
	for i := 0; i < values.RowCount(); i++ {
		if err := d.add(group, values.Vecs, i); err != nil {
			return err
		}
	}
	return nil
}

func (d *DistinctAggregation) Destroy(groups []Row) {
	for _, group := range groups {
		if !group.IsSet(d.InitBit) {
			continue
		}
		idx := group.Uint64(d.Offset) - 1
		d.sets[idx] = nil
		d.free = append(d.free, idx)
		group.ClearBit(d.InitBit)
	}
}
