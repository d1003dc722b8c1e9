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
	hll "github.com/axiomhq/hyperloglog"

	"github.com/matrixorigin/groupagg/pkg/common/bitmap"
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
)

// approxCountDistinctExec keeps one hyperloglog sketch per group outside of
// the row. The slot holds the sketch index + 1.
type approxCountDistinctExec struct {
	aggBase

	sketches []*hll.Sketch
	free     []uint64
	keyBuf   []byte
}

func newApproxCountDistinct(argType types.Type) *approxCountDistinctExec {
	a := &approxCountDistinctExec{}
	a.name = "approx_count_distinct"
	a.argTypes = []types.Type{argType}
	a.retType = types.T_int64.ToType()
	a.interType = types.T_varbinary.ToType()
	return a
}

func (a *approxCountDistinctExec) AccumulatorUsesExternalMemory() bool {
	return true
}

func (a *approxCountDistinctExec) InitializeNewGroups(groups []Row, indices []int32) {
	a.initGroups(groups, indices, func(row Row) {
		a.clearNull(row)
		var idx uint64
		if n := len(a.free); n > 0 {
			idx = a.free[n-1]
			a.free = a.free[:n-1]
			a.sketches[idx] = hll.New()
		} else {
			idx = uint64(len(a.sketches))
			a.sketches = append(a.sketches, hll.New())
		}
		row.PutUint64(a.Offset, idx+1)
	})
}

func (a *approxCountDistinctExec) sketch(group Row) *hll.Sketch {
	return a.sketches[group.Uint64(a.Offset)-1]
}

func (a *approxCountDistinctExec) addRaw(group Row, args []*vector.Vector, i int) error {
	if args[0].IsNull(i) {
		return nil
	}
	a.keyBuf = args[0].AppendKey(a.keyBuf[:0], i)
	a.sketch(group).Insert(a.keyBuf)
	return nil
}

func (a *approxCountDistinctExec) addIntermediate(group Row, args []*vector.Vector, i int) error {
	if args[0].IsNull(i) {
		return nil
	}
	other := hll.New()
	if err := other.UnmarshalBinary(args[0].GetBytesAt(i)); err != nil {
		return err
	}
	return a.sketch(group).Merge(other)
}

func (a *approxCountDistinctExec) AddRawInput(groups []Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addGroups(a.addRaw, groups, rows, args, mayPushdown)
}

func (a *approxCountDistinctExec) AddIntermediateResults(groups []Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addGroups(a.addIntermediate, groups, rows, args, mayPushdown)
}

func (a *approxCountDistinctExec) AddSingleGroupRawInput(group Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addSingleGroup(a.addRaw, group, rows, args, mayPushdown)
}

func (a *approxCountDistinctExec) AddSingleGroupIntermediateResults(group Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addSingleGroup(a.addIntermediate, group, rows, args, mayPushdown)
}

func (a *approxCountDistinctExec) ExtractValues(groups []Row, result *vector.Vector) error {
	for _, group := range groups {
		vector.AppendFixed(result, int64(a.sketch(group).Estimate()), false)
	}
	return nil
}

func (a *approxCountDistinctExec) ExtractAccumulators(groups []Row, result *vector.Vector) error {
	for _, group := range groups {
		data, err := a.sketch(group).MarshalBinary()
		if err != nil {
			return err
		}
		vector.AppendBytes(result, data, false)
	}
	return nil
}

func (a *approxCountDistinctExec) Destroy(groups []Row) {
	for _, group := range groups {
		if !group.IsSet(a.InitBit) {
			continue
		}
		idx := group.Uint64(a.Offset) - 1
		a.sketches[idx] = nil
		a.free = append(a.free, idx)
		group.ClearBit(a.InitBit)
	}
}
