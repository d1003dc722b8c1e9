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
	"encoding/binary"
	"math"

	"golang.org/x/exp/constraints"

	"github.com/matrixorigin/groupagg/pkg/common/bitmap"
	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/container/rowcontainer"
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
)

type numeric interface {
	constraints.Integer | constraints.Float
	types.FixedSizeT
}

type sumResult interface {
	int64 | float64
}

// sumExec adds T values into an A accumulator, null until the first non
// null value.
type sumExec[T numeric, A sumResult] struct {
	aggBase
}

func newSum[T numeric, A sumResult](argType types.Type, retType types.Type) *sumExec[T, A] {
	s := &sumExec[T, A]{}
	s.name = "sum"
	s.argTypes = []types.Type{argType}
	s.retType = retType
	s.interType = retType
	return s
}

func (s *sumExec[T, A]) InitializeNewGroups(groups []Row, indices []int32) {
	s.initGroups(groups, indices, func(row Row) {
		rowcontainer.PutFixed(row, s.Offset, A(0))
	})
}

func (s *sumExec[T, A]) add(group Row, v A) {
	s.clearNull(group)
	rowcontainer.PutFixed(group, s.Offset, rowcontainer.GetFixed[A](group, s.Offset)+v)
}

func (s *sumExec[T, A]) addRaw(group Row, args []*vector.Vector, i int) error {
	if !args[0].IsNull(i) {
		s.add(group, A(vector.GetFixedAt[T](args[0], i)))
	}
	return nil
}

func (s *sumExec[T, A]) addIntermediate(group Row, args []*vector.Vector, i int) error {
	if !args[0].IsNull(i) {
		s.add(group, vector.GetFixedAt[A](args[0], i))
	}
	return nil
}

func (s *sumExec[T, A]) AddRawInput(groups []Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addGroups(s.addRaw, groups, rows, args, mayPushdown)
}

func (s *sumExec[T, A]) AddIntermediateResults(groups []Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addGroups(s.addIntermediate, groups, rows, args, mayPushdown)
}

func (s *sumExec[T, A]) AddSingleGroupRawInput(group Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addSingleGroup(s.addRaw, group, rows, args, mayPushdown)
}

func (s *sumExec[T, A]) AddSingleGroupIntermediateResults(group Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addSingleGroup(s.addIntermediate, group, rows, args, mayPushdown)
}

func (s *sumExec[T, A]) ExtractValues(groups []Row, result *vector.Vector) error {
	extractFixed[A](&s.aggBase, groups, result)
	return nil
}

func (s *sumExec[T, A]) ExtractAccumulators(groups []Row, result *vector.Vector) error {
	return s.ExtractValues(groups, result)
}

func (s *sumExec[T, A]) SupportsToIntermediate() bool {
	return true
}

func (s *sumExec[T, A]) ToIntermediate(numRows int, rows *bitmap.Bitmap, args []*vector.Vector, result *vector.Vector) error {
	if err := loadArgs(nil, args, false); err != nil {
		return err
	}
	for i := 0; i < numRows; i++ {
		if !rows.Contains(uint64(i)) || args[0].IsNull(i) {
			result.AppendNull()
			continue
		}
		vector.AppendFixed(result, A(vector.GetFixedAt[T](args[0], i)), false)
	}
	return nil
}

const avgStateBytes = 16

// avgExec keeps [sum f64][count i64]. The intermediate result is the same
// 16 bytes as a varbinary.
type avgExec[T numeric] struct {
	aggBase
}

func newAvg[T numeric](argType types.Type) *avgExec[T] {
	a := &avgExec[T]{}
	a.name = "avg"
	a.argTypes = []types.Type{argType}
	a.retType = types.T_float64.ToType()
	a.interType = types.T_varbinary.ToType()
	return a
}

func (a *avgExec[T]) AccumulatorFixedWidthSize() int {
	return avgStateBytes
}

func (a *avgExec[T]) InitializeNewGroups(groups []Row, indices []int32) {
	a.initGroups(groups, indices, func(row Row) {
		row.PutFloat64(a.Offset, 0)
		row.PutInt64(a.Offset+8, 0)
	})
}

func (a *avgExec[T]) add(group Row, sum float64, count int64) {
	if count == 0 {
		return
	}
	a.clearNull(group)
	group.PutFloat64(a.Offset, group.Float64(a.Offset)+sum)
	group.PutInt64(a.Offset+8, group.Int64(a.Offset+8)+count)
}

func (a *avgExec[T]) addRaw(group Row, args []*vector.Vector, i int) error {
	if !args[0].IsNull(i) {
		a.add(group, float64(vector.GetFixedAt[T](args[0], i)), 1)
	}
	return nil
}

func (a *avgExec[T]) addIntermediate(group Row, args []*vector.Vector, i int) error {
	if args[0].IsNull(i) {
		return nil
	}
	bs := args[0].GetBytesAt(i)
	if len(bs) != avgStateBytes {
		return moerr.NewInternalErrorNoCtx("avg intermediate of %d bytes", len(bs))
	}
	a.add(group, math.Float64frombits(binary.LittleEndian.Uint64(bs)), int64(binary.LittleEndian.Uint64(bs[8:])))
	return nil
}

func (a *avgExec[T]) AddRawInput(groups []Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addGroups(a.addRaw, groups, rows, args, mayPushdown)
}

func (a *avgExec[T]) AddIntermediateResults(groups []Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addGroups(a.addIntermediate, groups, rows, args, mayPushdown)
}

func (a *avgExec[T]) AddSingleGroupRawInput(group Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addSingleGroup(a.addRaw, group, rows, args, mayPushdown)
}

func (a *avgExec[T]) AddSingleGroupIntermediateResults(group Row, rows *bitmap.Bitmap, args []*vector.Vector, mayPushdown bool) error {
	return addSingleGroup(a.addIntermediate, group, rows, args, mayPushdown)
}

func (a *avgExec[T]) ExtractValues(groups []Row, result *vector.Vector) error {
	for _, group := range groups {
		if a.isNull(group) {
			result.AppendNull()
			continue
		}
		vector.AppendFixed(result, group.Float64(a.Offset)/float64(group.Int64(a.Offset+8)), false)
	}
	return nil
}

func (a *avgExec[T]) ExtractAccumulators(groups []Row, result *vector.Vector) error {
	for _, group := range groups {
		if a.isNull(group) {
			result.AppendNull()
			continue
		}
		vector.AppendBytes(result, group.Bytes()[a.Offset:a.Offset+avgStateBytes], false)
	}
	return nil
}

func (a *avgExec[T]) SupportsToIntermediate() bool {
	return true
}

func (a *avgExec[T]) ToIntermediate(numRows int, rows *bitmap.Bitmap, args []*vector.Vector, result *vector.Vector) error {
	if err := loadArgs(nil, args, false); err != nil {
		return err
	}
	var buf [avgStateBytes]byte
	for i := 0; i < numRows; i++ {
		if !rows.Contains(uint64(i)) || args[0].IsNull(i) {
			result.AppendNull()
			continue
		}
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(float64(vector.GetFixedAt[T](args[0], i))))
		binary.LittleEndian.PutUint64(buf[8:], 1)
		vector.AppendBytes(result, buf[:], false)
	}
	return nil
}
