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

package bitmap

import (
	"github.com/RoaringBitmap/roaring"
)

// Bitmap is a set of row numbers. It is used as the row selection of a batch
// (the rows an aggregate must visit), as the null set of a vector and as the
// erased-row set of a row container.
type Bitmap struct {
	rb *roaring.Bitmap
}

// Iterator walks the set rows in ascending order.
type Iterator interface {
	HasNext() bool
	Next() uint64
	PeekNext() uint64
}

type bitmapIterator struct {
	it roaring.IntPeekable
}

func (itr *bitmapIterator) HasNext() bool {
	return itr.it.HasNext()
}

func (itr *bitmapIterator) Next() uint64 {
	return uint64(itr.it.Next())
}

func (itr *bitmapIterator) PeekNext() uint64 {
	return uint64(itr.it.PeekNext())
}

func New() *Bitmap {
	return &Bitmap{rb: roaring.New()}
}

// NewWithRange returns a bitmap holding [start, end).
func NewWithRange(start, end uint64) *Bitmap {
	n := New()
	n.AddRange(start, end)
	return n
}

func (n *Bitmap) lazyInit() {
	if n.rb == nil {
		n.rb = roaring.New()
	}
}

func (n *Bitmap) InitWith(other *Bitmap) {
	if other == nil || other.rb == nil {
		n.rb = roaring.New()
		return
	}
	n.rb = other.rb.Clone()
}

func (n *Bitmap) Clone() *Bitmap {
	if n == nil {
		return nil
	}
	m := &Bitmap{}
	m.InitWith(n)
	return m
}

func (n *Bitmap) Iterator() Iterator {
	n.lazyInit()
	return &bitmapIterator{it: n.rb.Iterator()}
}

func (n *Bitmap) Reset() {
	if n.rb != nil {
		n.rb.Clear()
	}
}

func (n *Bitmap) IsEmpty() bool {
	return n == nil || n.rb == nil || n.rb.IsEmpty()
}

func (n *Bitmap) Add(row uint64) {
	n.lazyInit()
	n.rb.Add(uint32(row))
}

func (n *Bitmap) AddMany(rows []uint64) {
	n.lazyInit()
	for _, row := range rows {
		n.rb.Add(uint32(row))
	}
}

func (n *Bitmap) Remove(row uint64) {
	if n.rb != nil {
		n.rb.Remove(uint32(row))
	}
}

func (n *Bitmap) Contains(row uint64) bool {
	return n != nil && n.rb != nil && n.rb.Contains(uint32(row))
}

// AddRange adds [start, end).
func (n *Bitmap) AddRange(start, end uint64) {
	if start >= end {
		return
	}
	n.lazyInit()
	n.rb.AddRange(start, end)
}

// RemoveRange removes [start, end).
func (n *Bitmap) RemoveRange(start, end uint64) {
	if start >= end || n.rb == nil {
		return
	}
	n.rb.RemoveRange(start, end)
}

func (n *Bitmap) IsSame(m *Bitmap) bool {
	if n.IsEmpty() || m.IsEmpty() {
		return n.IsEmpty() && m.IsEmpty()
	}
	return n.rb.Equals(m.rb)
}

func (n *Bitmap) Or(m *Bitmap) {
	if m.IsEmpty() {
		return
	}
	n.lazyInit()
	n.rb.Or(m.rb)
}

func (n *Bitmap) And(m *Bitmap) {
	if m.IsEmpty() {
		n.Reset()
		return
	}
	n.lazyInit()
	n.rb.And(m.rb)
}

// Count returns the number of set rows.
func (n *Bitmap) Count() int {
	if n == nil || n.rb == nil {
		return 0
	}
	return int(n.rb.GetCardinality())
}

func (n *Bitmap) ToArray() []uint64 {
	if n.IsEmpty() {
		return nil
	}
	rows := n.rb.ToArray()
	ret := make([]uint64, len(rows))
	for i, row := range rows {
		ret[i] = uint64(row)
	}
	return ret
}

// ToI32Array returns the set rows as int32 row numbers.
func (n *Bitmap) ToI32Array() []int32 {
	if n.IsEmpty() {
		return nil
	}
	rows := n.rb.ToArray()
	ret := make([]int32, len(rows))
	for i, row := range rows {
		ret[i] = int32(row)
	}
	return ret
}

func (n *Bitmap) String() string {
	if n.rb == nil {
		return "{}"
	}
	return n.rb.String()
}

func (n *Bitmap) MarshalBinary() ([]byte, error) {
	n.lazyInit()
	return n.rb.ToBytes()
}

func (n *Bitmap) UnmarshalBinary(data []byte) error {
	n.rb = roaring.New()
	if len(data) == 0 {
		return nil
	}
	return n.rb.UnmarshalBinary(data)
}
