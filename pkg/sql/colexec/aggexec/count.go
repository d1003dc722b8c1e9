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
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
)

// countExec is count(*) without arguments and count(x) otherwise. The count
// is never null.
type countExec struct {
	aggBase
	star bool
}

func newCount(argTypes []types.Type) *countExec {
	c := &countExec{star: len(argTypes) == 0}
	c.name = "count"
	if c.star {
		c.name = "count(*)"
	}
	c.argTypes = argTypes
	c.retType = types.T_int64.ToType()
	c.interType = c.retType
	return c
}

func (c *countExec) InitializeNewGroups(groups []Row, indices []int32) {
	c.initGroups(groups, indices, func(row Row) {
		c.clearNull(row)
		row.PutInt64(c.Offset, 0)
	})
}

func (c *countExec) addRaw(group Row, args []*vector.Vector, i int) error {
	if c.star || !args[0].IsNull(i) {
		group.PutInt64(c.Offset, group.Int64(c.Offset)+1)
	}
	return nil
}

func (c *countExec) addIntermediate(group Row, args []*vector.Vector, i int) error {
	if !args[0].IsNull(i) {
		group.PutInt64(c.Offset, group.Int64(c.Offset)+vector.GetFixedAt[int64](args[0], i))
	}
	return nil
}

func (c *countExec) AddRawInput(groups []Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addGroups(c.addRaw, groups, rows, args, mayPushdown)
}

func (c *countExec) AddIntermediateResults(groups []Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addGroups(c.addIntermediate, groups, rows, args, mayPushdown)
}

func (c *countExec) AddSingleGroupRawInput(group Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addSingleGroup(c.addRaw, group, rows, args, mayPushdown)
}

func (c *countExec) AddSingleGroupIntermediateResults(group Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addSingleGroup(c.addIntermediate, group, rows, args, mayPushdown)
}

func (c *countExec) ExtractValues(groups []Row, result *vector.Vector) error {
	extractFixed[int64](&c.aggBase, groups, result)
	return nil
}

func (c *countExec) ExtractAccumulators(groups []Row, result *vector.Vector) error {
	return c.ExtractValues(groups, result)
}

func (c *countExec) SupportsToIntermediate() bool {
	return true
}

func (c *countExec) ToIntermediate(numRows int, rows *bitmap.Bitmap, args []*vector.Vector, result *vector.Vector) error {
	if err := loadArgs(nil, args, false); err != nil {
		return err
	}
	for i := 0; i < numRows; i++ {
		var n int64
		if rows.Contains(uint64(i)) && (c.star || !args[0].IsNull(i)) {
			n = 1
		}
		vector.AppendFixed(result, n, false)
	}
	return nil
}
