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
	"github.com/matrixorigin/groupagg/pkg/container/rowcontainer"
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
)

type minMaxExec[T numeric] struct {
	aggBase
	isMax bool
}

func newMinMax[T numeric](argType types.Type, isMax bool) *minMaxExec[T] {
	m := &minMaxExec[T]{isMax: isMax}
	m.name = "min"
	if isMax {
		m.name = "max"
	}
	m.argTypes = []types.Type{argType}
	m.retType = argType
	m.interType = argType
	return m
}

func (m *minMaxExec[T]) InitializeNewGroups(groups []Row, indices []int32) {
	m.initGroups(groups, indices, nil)
}

func (m *minMaxExec[T]) update(group Row, args []*vector.Vector, i int) error {
	if args[0].IsNull(i) {
		return nil
	}
	v := vector.GetFixedAt[T](args[0], i)
	if !m.isNull(group) {
		cur := rowcontainer.GetFixed[T](group, m.Offset)
		if (m.isMax && v <= cur) || (!m.isMax && v >= cur) {
			return nil
		}
	}
	m.clearNull(group)
	rowcontainer.PutFixed(group, m.Offset, v)
	return nil
}

// the intermediate result of min and max is a value of the argument type
func (m *minMaxExec[T]) AddRawInput(groups []Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addGroups(m.update, groups, rows, args, mayPushdown)
}

func (m *minMaxExec[T]) AddIntermediateResults(groups []Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addGroups(m.update, groups, rows, args, mayPushdown)
}

func (m *minMaxExec[T]) AddSingleGroupRawInput(group Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addSingleGroup(m.update, group, rows, args, mayPushdown)
}

func (m *minMaxExec[T]) AddSingleGroupIntermediateResults(group Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addSingleGroup(m.update, group, rows, args, mayPushdown)
}

func (m *minMaxExec[T]) ExtractValues(groups []Row, result *vector.Vector) error {
	extractFixed[T](&m.aggBase, groups, result)
	return nil
}

func (m *minMaxExec[T]) ExtractAccumulators(groups []Row, result *vector.Vector) error {
	return m.ExtractValues(groups, result)
}

func (m *minMaxExec[T]) SupportsToIntermediate() bool {
	return true
}

func (m *minMaxExec[T]) ToIntermediate(numRows int, rows *bitmap.Bitmap, args []*vector.Vector, result *vector.Vector) error {
	if err := loadArgs(nil, args, false); err != nil {
		return err
	}
	for i := 0; i < numRows; i++ {
		if !rows.Contains(uint64(i)) || args[0].IsNull(i) {
			result.AppendNull()
			continue
		}
		vector.AppendFixed(result, vector.GetFixedAt[T](args[0], i), false)
	}
	return nil
}
