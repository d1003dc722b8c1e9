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

// groupConcatExec keeps the concatenation in the string allocator. The slot
// is [string ref u64][length u32][padding u32].
type groupConcatExec struct {
	aggBase
	sep []byte
}

func newGroupConcat(argTypes []types.Type, sep string) *groupConcatExec {
	g := &groupConcatExec{sep: []byte(sep)}
	g.name = "group_concat"
	g.argTypes = argTypes
	g.retType = types.T_varchar.ToType()
	g.interType = g.retType
	return g
}

func (g *groupConcatExec) AccumulatorFixedWidthSize() int {
	return 16
}

func (g *groupConcatExec) InitializeNewGroups(groups []Row, indices []int32) {
	g.initGroups(groups, indices, func(row Row) {
		row.PutUint64(g.Offset, 0)
		row.PutUint32(g.Offset+8, 0)
	})
}

func (g *groupConcatExec) separator(args []*vector.Vector, i int) []byte {
	if len(args) > 1 && !args[1].IsNull(i) {
		return args[1].GetBytesAt(i)
	}
	return g.sep
}

func (g *groupConcatExec) append(group Row, sep, data []byte) error {
	if g.allocator == nil {
		return moerr.NewInternalErrorNoCtx("group_concat without a string allocator")
	}
	wasNull := g.isNull(group)
	ref := rowcontainer.StringRef(group.Uint64(g.Offset))
	var err error
	if wasNull {
		ref, err = g.allocator.Allocate(data)
	} else {
		ref, err = g.allocator.Append(ref, sep, data)
	}
	if err != nil {
		return err
	}
	added := uint32(len(data))
	if !wasNull {
		added += uint32(len(sep))
	}
	g.clearNull(group)
	group.PutUint64(g.Offset, uint64(ref))
	group.PutUint32(g.Offset+8, group.Uint32(g.Offset+8)+added)
	group.PutUint32(g.RowSizeOffset, group.Uint32(g.RowSizeOffset)+added)
	return nil
}

func (g *groupConcatExec) update(group Row, args []*vector.Vector, i int) error {
	if args[0].IsNull(i) {
		return nil
	}
	return g.append(group, g.separator(args, i), args[0].GetBytesAt(i))
}

// partial concatenations join with the default separator
func (g *groupConcatExec) addIntermediate(group Row, args []*vector.Vector, i int) error {
	if args[0].IsNull(i) {
		return nil
	}
	return g.append(group, g.sep, args[0].GetBytesAt(i))
}

func (g *groupConcatExec) AddRawInput(groups []Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addGroups(g.update, groups, rows, args, mayPushdown)
}

func (g *groupConcatExec) AddIntermediateResults(groups []Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addGroups(g.addIntermediate, groups, rows, args, mayPushdown)
}

func (g *groupConcatExec) AddSingleGroupRawInput(group Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addSingleGroup(g.update, group, rows, args, mayPushdown)
}

func (g *groupConcatExec) AddSingleGroupIntermediateResults(group Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addSingleGroup(g.addIntermediate, group, rows, args, mayPushdown)
}

func (g *groupConcatExec) ExtractValues(groups []Row, result *vector.Vector) error {
	for _, group := range groups {
		if g.isNull(group) {
			result.AppendNull()
			continue
		}
		vector.AppendBytes(result, g.allocator.Get(rowcontainer.StringRef(group.Uint64(g.Offset))), false)
	}
	return nil
}

func (g *groupConcatExec) ExtractAccumulators(groups []Row, result *vector.Vector) error {
	return g.ExtractValues(groups, result)
}

func (g *groupConcatExec) SupportsToIntermediate() bool {
	return true
}

func (g *groupConcatExec) ToIntermediate(numRows int, rows *bitmap.Bitmap, args []*vector.Vector, result *vector.Vector) error {
	if err := loadArgs(nil, args[:1], false); err != nil {
		return err
	}
	for i := 0; i < numRows; i++ {
		if !rows.Contains(uint64(i)) || args[0].IsNull(i) {
			result.AppendNull()
			continue
		}
		vector.AppendBytes(result, args[0].GetBytesAt(i), false)
	}
	return nil
}

// Destroy releases the buffers of groups. Buffers of a cleared container go
// away with its allocator without a Destroy.
func (g *groupConcatExec) Destroy(groups []Row) {
	for _, group := range groups {
		if !group.IsSet(g.InitBit) {
			continue
		}
		if !g.isNull(group) {
			g.allocator.Free(rowcontainer.StringRef(group.Uint64(g.Offset)))
			group.PutUint32(g.RowSizeOffset, group.Uint32(g.RowSizeOffset)-group.Uint32(g.Offset+8))
			g.setNull(group)
		}
		group.PutUint64(g.Offset, 0)
		group.PutUint32(g.Offset+8, 0)
		group.ClearBit(g.InitBit)
	}
}
