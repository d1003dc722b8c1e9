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
	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/container/rowcontainer"
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
)

type Row = rowcontainer.Row

// AccumulatorOffsets locates the state of one aggregate inside a row.
type AccumulatorOffsets struct {
	Offset        int
	NullBit       int
	InitBit       int
	RowSizeOffset int
}

// AggFuncExec computes one aggregate function over groups whose state lives
// in the rows of a row container.
//
// groups is indexed by input row number and rows selects the input rows to
// add. Raw input is the argument columns, intermediate input is a column of
// IntermediateType produced by ExtractAccumulators or ToIntermediate.
type AggFuncExec interface {
	Name() string
	// TypesInfo return the argument types and return type of the function.
	TypesInfo() ([]types.Type, types.Type)
	IntermediateType() types.Type

	SetOffsets(offsets AccumulatorOffsets)
	SetAllocator(allocator *rowcontainer.StringAllocator)
	AccumulatorFixedWidthSize() int
	AccumulatorAlignmentSize() int
	// AccumulatorUsesExternalMemory is true when Destroy must run before a
	// row is dropped.
	AccumulatorUsesExternalMemory() bool

	// InitializeNewGroups resets the state of groups[i] for every i of indices.
	InitializeNewGroups(groups []Row, indices []int32)

	AddRawInput(groups []Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error
	AddIntermediateResults(groups []Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error
	AddSingleGroupRawInput(group Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error
	AddSingleGroupIntermediateResults(group Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error

	// ExtractValues and ExtractAccumulators append one value per group.
	ExtractValues(groups []Row, result *vector.Vector) error
	ExtractAccumulators(groups []Row, result *vector.Vector) error

	SupportsToIntermediate() bool
	// ToIntermediate turns each of the numRows input rows into the
	// intermediate result of a group holding only that row. Rows outside
	// rows become empty groups.
	ToIntermediate(numRows int, rows *bitmap.Bitmap, args []*vector.Vector, result *vector.Vector) error

	Destroy(groups []Row)
}

// NewAccumulator describes the state of fn to a row container. The state of
// a plain aggregate spills as its intermediate result.
func NewAccumulator(fn AggFuncExec) rowcontainer.Accumulator {
	return rowcontainer.Accumulator{
		FixedSize:          fn.AccumulatorFixedWidthSize(),
		Alignment:          fn.AccumulatorAlignmentSize(),
		UsesExternalMemory: fn.AccumulatorUsesExternalMemory(),
		SpillType:          fn.IntermediateType(),
		ExtractForSpill:    fn.ExtractAccumulators,
		Destroy:            fn.Destroy,
	}
}

type aggBase struct {
	name      string
	argTypes  []types.Type
	retType   types.Type
	interType types.Type

	AccumulatorOffsets
	allocator *rowcontainer.StringAllocator
}

func (a *aggBase) Name() string {
	return a.name
}

func (a *aggBase) TypesInfo() ([]types.Type, types.Type) {
	return a.argTypes, a.retType
}

func (a *aggBase) IntermediateType() types.Type {
	return a.interType
}

func (a *aggBase) SetOffsets(offsets AccumulatorOffsets) {
	a.AccumulatorOffsets = offsets
}

func (a *aggBase) SetAllocator(allocator *rowcontainer.StringAllocator) {
	a.allocator = allocator
}

func (a *aggBase) AccumulatorFixedWidthSize() int {
	return 8
}

func (a *aggBase) AccumulatorAlignmentSize() int {
	return 8
}

func (a *aggBase) AccumulatorUsesExternalMemory() bool {
	return false
}

func (a *aggBase) SupportsToIntermediate() bool {
	return false
}

func (a *aggBase) ToIntermediate(int, *bitmap.Bitmap, []*vector.Vector, *vector.Vector) error {
	return moerr.NewNotSupportedNoCtx("%s to intermediate", a.name)
}

func (a *aggBase) Destroy([]Row) {}

func (a *aggBase) isNull(row Row) bool {
	return row.IsSet(a.NullBit)
}

func (a *aggBase) setNull(row Row) {
	row.SetBit(a.NullBit)
}

func (a *aggBase) clearNull(row Row) {
	row.ClearBit(a.NullBit)
}

// initGroups marks groups as initialized and null, then runs init on each.
func (a *aggBase) initGroups(groups []Row, indices []int32, init func(Row)) {
	for _, i := range indices {
		row := groups[i]
		row.SetBit(a.InitBit)
		row.SetBit(a.NullBit)
		if init != nil {
			init(row)
		}
	}
}

type updateFunc func(group Row, args []*vector.Vector, i int) error

func loadArgs(rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	for _, arg := range args {
		if arg == nil || !arg.IsLazyNotLoaded() {
			continue
		}
		var sel *bitmap.Bitmap
		if mayPushdown {
			sel = rows
		}
		if err := arg.Load(sel); err != nil {
			return err
		}
	}
	return nil
}

func addGroups(update updateFunc, groups []Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	if err := loadArgs(rows, args, mayPushdown); err != nil {
		return err
	}
	itr := rows.Iterator()
	for itr.HasNext() {
		i := int(itr.Next())
		if err := update(groups[i], args, i); err != nil {
			return err
		}
	}
	return nil
}

func addSingleGroup(update updateFunc, group Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	if err := loadArgs(rows, args, mayPushdown); err != nil {
		return err
	}
	itr := rows.Iterator()
	for itr.HasNext() {
		if err := update(group, args, int(itr.Next())); err != nil {
			return err
		}
	}
	return nil
}

func extractFixed[T types.FixedSizeT](a *aggBase, groups []Row, result *vector.Vector) {
	for _, group := range groups {
		if a.isNull(group) {
			result.AppendNull()
			continue
		}
		vector.AppendFixed(result, rowcontainer.GetFixed[T](group, a.Offset), false)
	}
}
