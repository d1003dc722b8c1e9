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
	"golang.org/x/exp/slices"

	"github.com/matrixorigin/groupagg/pkg/common/bitmap"
	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/container/batch"
	"github.com/matrixorigin/groupagg/pkg/container/rowcontainer"
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
)

// NoChannel marks an absent mask or an input given as a constant.
const NoChannel = int32(-1)

type SortOrder struct {
	Desc      bool
	NullsLast bool
}

// SortedAggregation is one aggregate ordering its input before reduction.
type SortedAggregation struct {
	Function AggFuncExec
	// Inputs are input channels, NoChannel for the matching Constants entry.
	Inputs    []int32
	Constants []*vector.Vector
	Mask      int32

	SortingKeys   []int32
	SortingOrders []SortOrder
}

// SortedAggregations buffers the input rows of each group for all sorted
// aggregates of a grouping set and reduces them in order on extraction. The
// buffers live outside of the row, the slot holds the buffer index + 1.
type SortedAggregations struct {
	aggs []SortedAggregation

	// channels buffered, column i of a buffer holds channels[i]
	channels []int32
	types    []types.Type
	columnOf map[int32]int

	AccumulatorOffsets
	buffers       []*batch.Batch
	free          []uint64
	inputRowBytes int64
}

// NewSortedAggregations buffers the channels the aggregates read from
// batches of inputTypes.
func NewSortedAggregations(aggs []SortedAggregation, inputTypes []types.Type) (*SortedAggregations, error) {
	s := &SortedAggregations{aggs: aggs, columnOf: make(map[int32]int)}
	addChannel := func(ch int32) error {
		if ch == NoChannel {
			return nil
		}
		if int(ch) >= len(inputTypes) || ch < 0 {
			return moerr.NewInvalidInputNoCtx("sorted aggregation channel %d out of %d", ch, len(inputTypes))
		}
		if _, ok := s.columnOf[ch]; !ok {
			s.columnOf[ch] = len(s.channels)
			s.channels = append(s.channels, ch)
			s.types = append(s.types, inputTypes[ch])
		}
		return nil
	}
	for _, agg := range aggs {
		if len(agg.SortingKeys) != len(agg.SortingOrders) {
			return nil, moerr.NewInvalidInputNoCtx("%d sorting keys with %d orders", len(agg.SortingKeys), len(agg.SortingOrders))
		}
		for _, chs := range [][]int32{agg.Inputs, agg.SortingKeys, {agg.Mask}} {
			for _, ch := range chs {
				if err := addChannel(ch); err != nil {
					return nil, err
				}
			}
		}
	}
	return s, nil
}

func (s *SortedAggregations) Accumulator() rowcontainer.Accumulator {
	return rowcontainer.Accumulator{
		FixedSize:          8,
		Alignment:          8,
		UsesExternalMemory: true,
		SpillType:          types.T_varbinary.ToType(),
		ExtractForSpill:    s.ExtractForSpill,
		Destroy:            s.Destroy,
	}
}

func (s *SortedAggregations) SetOffsets(offsets AccumulatorOffsets) {
	s.AccumulatorOffsets = offsets
}

// InputRowBytes is the size of the buffered rows.
func (s *SortedAggregations) InputRowBytes() int64 {
	return s.inputRowBytes
}

// InitializeNewGroups creates an empty buffer per group. The functions are
// initialized on extraction.
func (s *SortedAggregations) InitializeNewGroups(groups []Row, indices []int32) {
	for _, i := range indices {
		row := groups[i]
		buf := batch.NewWithSchema(s.types)
		var idx uint64
		if n := len(s.free); n > 0 {
			idx = s.free[n-1]
			s.free = s.free[:n-1]
			s.buffers[idx] = buf
		} else {
			idx = uint64(len(s.buffers))
			s.buffers = append(s.buffers, buf)
		}
		row.PutUint64(s.Offset, idx+1)
		row.SetBit(s.InitBit)
	}
}

func (s *SortedAggregations) buffer(group Row) *batch.Batch {
	return s.buffers[group.Uint64(s.Offset)-1]
}

func (s *SortedAggregations) addRow(buf *batch.Batch, vecs []*vector.Vector, i int) error {
	for c, vec := range vecs {
		if err := buf.Vecs[c].UnionOne(vec, int64(i)); err != nil {
			return err
		}
	}
	buf.AddRowCount(1)
	return nil
}

func (s *SortedAggregations) inputVectors(bat *batch.Batch) ([]*vector.Vector, error) {
	vecs := make([]*vector.Vector, len(s.channels))
	for c, ch := range s.channels {
		vec := bat.Vecs[ch]
		if err := vec.Load(nil); err != nil {
			return nil, err
		}
		vecs[c] = vec
	}
	return vecs, nil
}

// AddInput buffers the selected rows of bat into their groups.
func (s *SortedAggregations) AddInput(groups []Row, bat *batch.Batch, rows []int32) error {
	vecs, err := s.inputVectors(bat)
	if err != nil {
		return err
	}
	for _, i := range rows {
		if err := s.addRow(s.buffer(groups[i]), vecs, int(i)); err != nil {
			return err
		}
	}
	s.inputRowBytes += rowWidth(vecs) * int64(len(rows))
	return nil
}

func (s *SortedAggregations) AddSingleGroupInput(group Row, bat *batch.Batch, rows *bitmap.Bitmap) error {
	vecs, err := s.inputVectors(bat)
	if err != nil {
		return err
	}
	sels := rows.ToI32Array()
	buf := s.buffer(group)
	for _, i := range sels {
		if err := s.addRow(buf, vecs, int(i)); err != nil {
			return err
		}
	}
	s.inputRowBytes += rowWidth(vecs) * int64(len(sels))
	return nil
}

func rowWidth(vecs []*vector.Vector) int64 {
	var width int64
	for _, vec := range vecs {
		if vec.GetType().IsVarlen() {
			width += types.VarlenaSize
		} else {
			width += int64(vec.GetType().Size)
		}
	}
	return width
}

func (s *SortedAggregations) argsOf(agg *SortedAggregation, buf *batch.Batch) []*vector.Vector {
	args := make([]*vector.Vector, len(agg.Inputs))
	for i, ch := range agg.Inputs {
		if ch == NoChannel {
			args[i] = agg.Constants[i]
			continue
		}
		args[i] = buf.Vecs[s.columnOf[ch]]
	}
	return args
}

// sortedRows returns the buffered rows of buf in the order of agg.
func (s *SortedAggregations) sortedRows(agg *SortedAggregation, buf *batch.Batch) []int64 {
	sels := make([]int64, buf.RowCount())
	for i := range sels {
		sels[i] = int64(i)
	}
	slices.SortStableFunc(sels, func(a, b int64) bool {
		for k, ch := range agg.SortingKeys {
			vec := buf.Vecs[s.columnOf[ch]]
			order := agg.SortingOrders[k]
			an, bn := vec.IsNull(int(a)), vec.IsNull(int(b))
			if an != bn {
				return an != order.NullsLast
			}
			if an {
				continue
			}
			r := vec.Compare(int(a), vec, int(b))
			if r == 0 {
				continue
			}
			if order.Desc {
				return r > 0
			}
			return r < 0
		}
		return false
	})
	return sels
}

// ExtractValues reduces the buffered rows of each group in order and appends
// the result of aggregate i to results[i].
func (s *SortedAggregations) ExtractValues(groups []Row, results []*vector.Vector) error {
	zero := []int32{0}
	for a := range s.aggs {
		agg := &s.aggs[a]
		for _, group := range groups {
			single := []Row{group}
			agg.Function.InitializeNewGroups(single, zero)
			buf := s.buffer(group)
			if buf.RowCount() == 0 {
				continue
			}
			sorted := batch.NewWithSchema(s.types)
			if err := sorted.Union(buf, s.sortedRows(agg, buf)); err != nil {
				return err
			}
			active := bitmap.NewWithRange(0, uint64(sorted.RowCount()))
			if agg.Mask != NoChannel {
				mask := sorted.Vecs[s.columnOf[agg.Mask]]
				for i := 0; i < sorted.RowCount(); i++ {
					if mask.IsNull(i) || !vector.GetFixedAt[bool](mask, i) {
						active.Remove(uint64(i))
					}
				}
			}
			if active.IsEmpty() {
				continue
			}
			args := s.argsOf(agg, sorted)
			for i, arg := range args {
				if arg.IsConst() {
					args[i] = vector.NewConstFrom(arg, 0, sorted.RowCount())
				}
			}
			if err := agg.Function.AddSingleGroupRawInput(group, active, args, false); err != nil {
				return err
			}
		}
		if err := agg.Function.ExtractValues(groups, results[a]); err != nil {
			return err
		}
	}
	return nil
}

// ExtractForSpill appends the marshaled buffer of each group.
func (s *SortedAggregations) ExtractForSpill(groups []Row, result *vector.Vector) error {
	for _, group := range groups {
		data, err := s.buffer(group).MarshalBinary()
		if err != nil {
			return err
		}
		vector.AppendBytes(result, data, false)
	}
	return nil
}

// AddSingleGroupSpillInput appends the buffer spilled at row index of vec.
func (s *SortedAggregations) AddSingleGroupSpillInput(group Row, vec *vector.Vector, index int) error {
	if vec.IsNull(index) {
		return nil
	}
	var spilled batch.Batch
	if err := spilled.UnmarshalBinary(vec.GetBytesAt(index)); err != nil {
		return err
	}
	buf := s.buffer(group)
	for i := 0; i < spilled.RowCount(); i++ {
		if err := s.addRow(buf, spilled.Vecs, i); err != nil {
			return err
		}
	}
	s.inputRowBytes += rowWidth(spilled.Vecs) * int64(spilled.RowCount())
	return nil
}

func (s *SortedAggregations) Destroy(groups []Row) {
	for _, group := range groups {
		if !group.IsSet(s.InitBit) {
			continue
		}
		idx := group.Uint64(s.Offset) - 1
		s.buffers[idx] = nil
		s.free = append(s.free, idx)
		group.ClearBit(s.InitBit)
	}
}

// Clear drops every buffer.
func (s *SortedAggregations) Clear() {
	s.buffers = nil
	s.free = nil
	s.inputRowBytes = 0
}
