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

package rowcontainer

import (
	"encoding/binary"
	"math"

	"github.com/matrixorigin/groupagg/pkg/container/types"
)

// Row is a handle to one fixed size row of a container. A row is only read
// and written through the slots its Layout declares.
type Row struct {
	id   uint32
	data []byte
}

// NewDetachedRow returns a zeroed row that belongs to no container, used for
// the single row of a global aggregation.
func NewDetachedRow(size int) Row {
	return Row{data: make([]byte, size)}
}

func (r Row) ID() uint32 {
	return r.id
}

func (r Row) IsNil() bool {
	return r.data == nil
}

func (r Row) Bytes() []byte {
	return r.data
}

func (r Row) IsSet(bit int) bool {
	return r.data[bit>>3]&(1<<(bit&7)) != 0
}

func (r Row) SetBit(bit int) {
	r.data[bit>>3] |= 1 << (bit & 7)
}

func (r Row) ClearBit(bit int) {
	r.data[bit>>3] &^= 1 << (bit & 7)
}

func (r Row) Uint32(off int) uint32 {
	return binary.LittleEndian.Uint32(r.data[off:])
}

func (r Row) PutUint32(off int, v uint32) {
	binary.LittleEndian.PutUint32(r.data[off:], v)
}

func (r Row) Uint64(off int) uint64 {
	return binary.LittleEndian.Uint64(r.data[off:])
}

func (r Row) PutUint64(off int, v uint64) {
	binary.LittleEndian.PutUint64(r.data[off:], v)
}

func (r Row) Int64(off int) int64 {
	return int64(r.Uint64(off))
}

func (r Row) PutInt64(off int, v int64) {
	r.PutUint64(off, uint64(v))
}

func (r Row) Float64(off int) float64 {
	return math.Float64frombits(r.Uint64(off))
}

func (r Row) PutFloat64(off int, v float64) {
	r.PutUint64(off, math.Float64bits(v))
}

// GetFixed reads a fixed size value at off.
func GetFixed[T types.FixedSizeT](r Row, off int) T {
	var v T
	switch p := any(&v).(type) {
	case *bool:
		*p = r.data[off] != 0
	case *int32:
		*p = int32(r.Uint32(off))
	case *int64:
		*p = r.Int64(off)
	case *float64:
		*p = r.Float64(off)
	}
	return v
}

// PutFixed writes a fixed size value at off.
func PutFixed[T types.FixedSizeT](r Row, off int, v T) {
	switch x := any(v).(type) {
	case bool:
		if x {
			r.data[off] = 1
		} else {
			r.data[off] = 0
		}
	case int32:
		r.PutUint32(off, uint32(x))
	case int64:
		r.PutInt64(off, x)
	case float64:
		r.PutFloat64(off, x)
	}
}
