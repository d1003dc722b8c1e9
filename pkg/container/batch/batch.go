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

package batch

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
)

// Batch represents a part of a relationship
//
//	(Vecs)     - columns
//	(rowCount) - the number of rows, constant vectors are wrapped to it
type Batch struct {
	// Vecs col data
	Vecs []*vector.Vector

	rowCount int
}

func NewWithSize(n int) *Batch {
	return &Batch{
		Vecs: make([]*vector.Vector, n),
	}
}

// NewWithSchema returns an empty batch with one flat vector per type.
func NewWithSchema(typs []types.Type) *Batch {
	bat := NewWithSize(len(typs))
	for i, typ := range typs {
		bat.Vecs[i] = vector.NewVec(typ)
	}
	return bat
}

func (bat *Batch) RowCount() int {
	return bat.rowCount
}

func (bat *Batch) SetRowCount(rowCount int) {
	bat.rowCount = rowCount
}

func (bat *Batch) AddRowCount(rowCount int) {
	bat.rowCount += rowCount
}

func (bat *Batch) VectorCount() int {
	return len(bat.Vecs)
}

func (bat *Batch) SetVector(pos int32, vec *vector.Vector) {
	bat.Vecs[pos] = vec
}

func (bat *Batch) GetVector(pos int32) *vector.Vector {
	return bat.Vecs[pos]
}

func (bat *Batch) IsEmpty() bool {
	return bat.rowCount == 0
}

// Types returns the column types.
func (bat *Batch) Types() []types.Type {
	typs := make([]types.Type, len(bat.Vecs))
	for i, vec := range bat.Vecs {
		typs[i] = *vec.GetType()
	}
	return typs
}

// EstimateFlatSize is the byte size of the batch as if every column were flat.
func (bat *Batch) EstimateFlatSize() int64 {
	var size int64
	for _, vec := range bat.Vecs {
		if vec != nil {
			size += vec.EstimateFlatSize()
		}
	}
	return size
}

// CleanOnlyData drops the rows of every vector but keeps the schema.
func (bat *Batch) CleanOnlyData() {
	for _, vec := range bat.Vecs {
		if vec != nil {
			vec.CleanOnlyData()
		}
	}
	bat.rowCount = 0
}

// Union appends the rows sels of b to bat. Both batches share one schema.
func (bat *Batch) Union(b *Batch, sels []int64) error {
	if len(bat.Vecs) != len(b.Vecs) {
		return moerr.NewInternalErrorNoCtx("union a batch of %d columns into %d", len(b.Vecs), len(bat.Vecs))
	}
	for i, vec := range bat.Vecs {
		if err := vec.Union(b.Vecs[i], sels); err != nil {
			return err
		}
	}
	bat.rowCount += len(sels)
	return nil
}

func (bat *Batch) String() string {
	var buf bytes.Buffer

	for i, vec := range bat.Vecs {
		buf.WriteString(fmt.Sprintf("%d : %s\n", i, vec.String()))
	}
	return buf.String()
}

// MarshalBinary encodes [row count u32][vector count u32] then every vector
// as [size u32][vector].
func (bat *Batch) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(bat.rowCount))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(bat.Vecs)))
	buf.Write(hdr[:])
	for _, vec := range bat.Vecs {
		data, err := vec.MarshalBinary()
		if err != nil {
			return nil, err
		}
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], uint32(len(data)))
		buf.Write(size[:])
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

func (bat *Batch) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return moerr.NewUnexpectedEOFNoCtx("batch header")
	}
	bat.rowCount = int(binary.LittleEndian.Uint32(data[0:]))
	n := int(binary.LittleEndian.Uint32(data[4:]))
	data = data[8:]
	bat.Vecs = make([]*vector.Vector, n)
	for i := 0; i < n; i++ {
		if len(data) < 4 {
			return moerr.NewUnexpectedEOFNoCtx("batch vector size")
		}
		size := int(binary.LittleEndian.Uint32(data))
		data = data[4:]
		if len(data) < size {
			return moerr.NewUnexpectedEOFNoCtx("batch vector")
		}
		bat.Vecs[i] = new(vector.Vector)
		if err := bat.Vecs[i].UnmarshalBinary(data[:size]); err != nil {
			return err
		}
		data = data[size:]
	}
	return nil
}
