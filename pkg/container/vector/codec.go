// Copyright 2021 Matrix Origin
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

package vector

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/container/types"
)

// AppendKey appends the normalized encoding of row i to buf: a null marker
// followed, for non-null rows, by the value. Equal values have equal
// encodings.
func (v *Vector) AppendKey(buf []byte, i int) []byte {
	if v.IsNull(i) {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	switch v.typ.Oid {
	case types.T_bool:
		if GetFixedAt[bool](v, i) {
			return append(buf, 1)
		}
		return append(buf, 0)
	case types.T_int32:
		return binary.LittleEndian.AppendUint32(buf, uint32(GetFixedAt[int32](v, i)))
	case types.T_int64:
		return binary.LittleEndian.AppendUint64(buf, uint64(GetFixedAt[int64](v, i)))
	case types.T_float64:
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(GetFixedAt[float64](v, i)))
	default:
		bs := v.GetBytesAt(i)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(bs)))
		return append(buf, bs...)
	}
}

// MarshalBinary encodes a loaded vector as
// [oid u8][class u8][length u32][nulls size u32][nulls][values].
func (v *Vector) MarshalBinary() ([]byte, error) {
	v.mustLoaded()
	var buf bytes.Buffer
	buf.WriteByte(uint8(v.typ.Oid))
	buf.WriteByte(uint8(v.class))
	writeUint32(&buf, uint32(v.length))

	nsp, err := v.nsp.MarshalBinary()
	if err != nil {
		return nil, err
	}
	writeUint32(&buf, uint32(len(nsp)))
	buf.Write(nsp)

	switch col := v.col.(type) {
	case []bool:
		for _, b := range col {
			if b {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
	case []int32:
		for _, x := range col {
			writeUint32(&buf, uint32(x))
		}
	case []int64:
		for _, x := range col {
			writeUint64(&buf, uint64(x))
		}
	case []float64:
		for _, x := range col {
			writeUint64(&buf, math.Float64bits(x))
		}
	case [][]byte:
		for _, bs := range col {
			writeUint32(&buf, uint32(len(bs)))
			buf.Write(bs)
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes data written by MarshalBinary. The vector keeps
// no reference to data.
func (v *Vector) UnmarshalBinary(data []byte) error {
	r := decoder{data: data}
	oid := types.T(r.uint8())
	class := int(r.uint8())
	length := int(r.uint32())
	nspSize := int(r.uint32())
	nsp := r.bytes(nspSize)
	if r.err != nil {
		return r.err
	}
	*v = Vector{typ: oid.ToType(), class: class, length: length}
	if err := v.nsp.UnmarshalBinary(nsp); err != nil {
		return err
	}

	n := length
	if class == CONSTANT {
		n = 1
	}
	switch oid {
	case types.T_bool:
		col := make([]bool, n)
		for i := range col {
			col[i] = r.uint8() == 1
		}
		v.col = col
	case types.T_int32:
		col := make([]int32, n)
		for i := range col {
			col[i] = int32(r.uint32())
		}
		v.col = col
	case types.T_int64:
		col := make([]int64, n)
		for i := range col {
			col[i] = int64(r.uint64())
		}
		v.col = col
	case types.T_float64:
		col := make([]float64, n)
		for i := range col {
			col[i] = math.Float64frombits(r.uint64())
		}
		v.col = col
	case types.T_varchar, types.T_varbinary:
		col := make([][]byte, n)
		for i := range col {
			size := int(r.uint32())
			col[i] = append([]byte(nil), r.bytes(size)...)
		}
		v.col = col
	default:
		return moerr.NewInternalErrorNoCtx("unmarshal vector of type %d", oid)
	}
	return r.err
}

func writeUint32(buf *bytes.Buffer, x uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], x)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, x uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], x)
	buf.Write(b[:])
}

type decoder struct {
	data []byte
	err  error
}

func (r *decoder) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data) < n {
		r.err = moerr.NewUnexpectedEOFNoCtx("vector data")
		return nil
	}
	b := r.data[:n]
	r.data = r.data[n:]
	return b
}

func (r *decoder) uint8() uint8 {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *decoder) uint32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *decoder) uint64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}
