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
	"bytes"
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/matrixorigin/groupagg/pkg/common/bitmap"
	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/common/mpool"
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
)

const defaultPageBytes = 64 << 10

// Accumulator describes the fixed size state one aggregate keeps in a row.
type Accumulator struct {
	FixedSize int
	Alignment int
	// UsesExternalMemory is set when the state owns memory that must be
	// released by Destroy before the row goes away.
	UsesExternalMemory bool
	// SpillType is the type of the column ExtractForSpill fills.
	SpillType       types.Type
	ExtractForSpill func(rows []Row, result *vector.Vector) error
	Destroy         func(rows []Row)
}

// RowContainer stores one fixed size row per group in pages charged to a
// memory pool. Variable length bytes live in its StringAllocator.
type RowContainer struct {
	keyTypes     []types.Type
	accumulators []Accumulator
	layout       Layout

	pool    *mpool.MPool
	strings *StringAllocator

	pages    [][]byte
	pageRows int
	// number of row ids handed out, live or erased
	numSlots uint32
	erased   *bitmap.Bitmap
	numRows  int
}

// RowIterator remembers the position of a ListRows scan.
type RowIterator struct {
	next uint32
}

func (it *RowIterator) Reset() {
	it.next = 0
}

func NewRowContainer(keyTypes []types.Type, accumulators []Accumulator, pool *mpool.MPool) *RowContainer {
	layout := PlanLayout(keyTypes, accumulators)
	pageRows := defaultPageBytes / layout.FixedRowSize
	if pageRows < 1 {
		pageRows = 1
	}
	return &RowContainer{
		keyTypes:     keyTypes,
		accumulators: accumulators,
		layout:       layout,
		pool:         pool,
		strings:      NewStringAllocator(pool),
		pageRows:     pageRows,
		erased:       bitmap.New(),
	}
}

func (c *RowContainer) KeyTypes() []types.Type {
	return c.keyTypes
}

func (c *RowContainer) Accumulators() []Accumulator {
	return c.accumulators
}

func (c *RowContainer) Layout() Layout {
	return c.layout
}

func (c *RowContainer) StringAllocator() *StringAllocator {
	return c.strings
}

func (c *RowContainer) Pool() *mpool.MPool {
	return c.pool
}

func (c *RowContainer) NumRows() int {
	return c.numRows
}

func (c *RowContainer) FixedRowSize() int {
	return c.layout.FixedRowSize
}

// NewRow returns a zeroed row, reusing an erased one when possible.
func (c *RowContainer) NewRow() (Row, error) {
	var id uint32
	if !c.erased.IsEmpty() {
		id = uint32(c.erased.Iterator().Next())
		c.erased.Remove(uint64(id))
	} else {
		if int(c.numSlots) == len(c.pages)*c.pageRows {
			page, err := c.pool.Alloc(c.pageRows * c.layout.FixedRowSize)
			if err != nil {
				return Row{}, err
			}
			c.pages = append(c.pages, page)
		}
		id = c.numSlots
		c.numSlots++
	}
	c.numRows++
	row := c.Row(id)
	clear(row.data)
	return row, nil
}

// Row returns the handle of row id.
func (c *RowContainer) Row(id uint32) Row {
	page := int(id) / c.pageRows
	off := (int(id) % c.pageRows) * c.layout.FixedRowSize
	end := off + c.layout.FixedRowSize
	return Row{id: id, data: c.pages[page][off:end:end]}
}

// RowSize is the number of out of line bytes charged to row.
func (c *RowContainer) RowSize(row Row) uint32 {
	return row.Uint32(c.layout.RowSizeOffset)
}

func (c *RowContainer) AddRowSize(row Row, delta int) {
	off := c.layout.RowSizeOffset
	row.PutUint32(off, uint32(int64(row.Uint32(off))+int64(delta)))
}

// StoreKey copies row i of vec into key slot key of row.
func (c *RowContainer) StoreKey(vec *vector.Vector, i int, row Row, key int) error {
	if vec.IsNull(i) {
		row.SetBit(key)
		return nil
	}
	off := c.layout.KeyOffsets[key]
	switch c.keyTypes[key].Oid {
	case types.T_bool:
		PutFixed(row, off, vector.GetFixedAt[bool](vec, i))
	case types.T_int32:
		PutFixed(row, off, vector.GetFixedAt[int32](vec, i))
	case types.T_int64:
		PutFixed(row, off, vector.GetFixedAt[int64](vec, i))
	case types.T_float64:
		PutFixed(row, off, vector.GetFixedAt[float64](vec, i))
	default:
		bs := vec.GetBytesAt(i)
		ref, err := c.strings.Allocate(bs)
		if err != nil {
			return err
		}
		row.PutUint64(off, uint64(ref))
		row.PutUint32(off+8, uint32(len(bs)))
		c.AddRowSize(row, len(bs))
	}
	return nil
}

func (c *RowContainer) IsNullKey(row Row, key int) bool {
	return row.IsSet(key)
}

func (c *RowContainer) keyBytes(row Row, key int) []byte {
	off := c.layout.KeyOffsets[key]
	return c.strings.Get(StringRef(row.Uint64(off)))
}

// ExtractColumn appends key column key of rows to result.
func (c *RowContainer) ExtractColumn(rows []Row, key int, result *vector.Vector) {
	off := c.layout.KeyOffsets[key]
	for _, row := range rows {
		if row.IsSet(key) {
			result.AppendNull()
			continue
		}
		switch c.keyTypes[key].Oid {
		case types.T_bool:
			vector.AppendFixed(result, GetFixed[bool](row, off), false)
		case types.T_int32:
			vector.AppendFixed(result, GetFixed[int32](row, off), false)
		case types.T_int64:
			vector.AppendFixed(result, GetFixed[int64](row, off), false)
		case types.T_float64:
			vector.AppendFixed(result, GetFixed[float64](row, off), false)
		default:
			vector.AppendBytes(result, c.keyBytes(row, key), false)
		}
	}
}

// AppendKey appends the normalized key of row to buf. The encoding equals the
// concatenation of vector.AppendKey over the key columns.
func (c *RowContainer) AppendKey(buf []byte, row Row) []byte {
	for key, typ := range c.keyTypes {
		if row.IsSet(key) {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		off := c.layout.KeyOffsets[key]
		switch typ.Oid {
		case types.T_bool:
			buf = append(buf, row.data[off])
		case types.T_int32:
			buf = binary.LittleEndian.AppendUint32(buf, row.Uint32(off))
		case types.T_int64, types.T_float64:
			buf = binary.LittleEndian.AppendUint64(buf, row.Uint64(off))
		default:
			bs := c.keyBytes(row, key)
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(bs)))
			buf = append(buf, bs...)
		}
	}
	return buf
}

// HashKeys hashes the normalized key of row.
func (c *RowContainer) HashKeys(row Row) uint64 {
	var scratch [64]byte
	return xxhash.Sum64(c.AppendKey(scratch[:0], row))
}

// CompareKeys orders two rows by their keys, nulls first.
func (c *RowContainer) CompareKeys(a, b Row) int {
	for key, typ := range c.keyTypes {
		an, bn := a.IsSet(key), b.IsSet(key)
		if an || bn {
			if an && bn {
				continue
			}
			if an {
				return -1
			}
			return 1
		}
		off := c.layout.KeyOffsets[key]
		var r int
		switch typ.Oid {
		case types.T_bool:
			r = int(a.data[off]) - int(b.data[off])
		case types.T_int32:
			r = compare(GetFixed[int32](a, off), GetFixed[int32](b, off))
		case types.T_int64:
			r = compare(GetFixed[int64](a, off), GetFixed[int64](b, off))
		case types.T_float64:
			r = compare(GetFixed[float64](a, off), GetFixed[float64](b, off))
		default:
			r = bytes.Compare(c.keyBytes(a, key), c.keyBytes(b, key))
		}
		if r != 0 {
			return r
		}
	}
	return 0
}

func compare[T types.Number](a, b T) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// ListRows appends up to maxRows live rows to rows, continuing from iter. It
// stops early once the listed rows reach maxBytes, but always lists at least
// one row when any is left.
func (c *RowContainer) ListRows(iter *RowIterator, maxRows int, maxBytes int64, rows []Row) []Row {
	var size int64
	n := 0
	for iter.next < c.numSlots && n < maxRows {
		id := iter.next
		iter.next++
		if c.erased.Contains(uint64(id)) {
			continue
		}
		row := c.Row(id)
		rows = append(rows, row)
		n++
		size += int64(c.layout.FixedRowSize) + int64(c.RowSize(row))
		if size >= maxBytes {
			break
		}
	}
	return rows
}

// AllRows lists every live row.
func (c *RowContainer) AllRows() []Row {
	var iter RowIterator
	return c.ListRows(&iter, math.MaxInt, math.MaxInt64, make([]Row, 0, c.numRows))
}

// EraseRows destroys the accumulators of rows and returns them to the free
// list.
func (c *RowContainer) EraseRows(rows []Row) {
	if len(rows) == 0 {
		return
	}
	for _, acc := range c.accumulators {
		if acc.Destroy != nil {
			acc.Destroy(rows)
		}
	}
	for _, row := range rows {
		c.freeKeys(row)
		c.erased.Add(uint64(row.id))
	}
	c.numRows -= len(rows)
}

func (c *RowContainer) freeKeys(row Row) {
	for key, typ := range c.keyTypes {
		if typ.IsVarlen() && !row.IsSet(key) {
			off := c.layout.KeyOffsets[key]
			c.strings.Free(StringRef(row.Uint64(off)))
			row.PutUint64(off, 0)
		}
	}
}

// Clear drops every row. Accumulators using external memory are destroyed
// first, the remaining out of line bytes go away with the allocator.
func (c *RowContainer) Clear() {
	if c.numRows > 0 {
		rows := c.AllRows()
		for _, acc := range c.accumulators {
			if acc.UsesExternalMemory && acc.Destroy != nil {
				acc.Destroy(rows)
			}
		}
	}
	c.strings.Clear()
	for _, page := range c.pages {
		c.pool.Free(page)
	}
	c.pages = nil
	c.numSlots = 0
	c.numRows = 0
	c.erased.Reset()
}

// FreeSpace returns the rows that can be created and the out of line bytes
// that can be allocated without charging the pool.
func (c *RowContainer) FreeSpace() (int, int64) {
	freeRows := c.erased.Count() + len(c.pages)*c.pageRows - int(c.numSlots)
	return freeRows, c.strings.FreeBytes()
}

// SizeIncrement estimates the bytes to charge for numRows new rows carrying
// varBytes out of line bytes.
func (c *RowContainer) SizeIncrement(numRows int, varBytes int64) int64 {
	freeRows, freeBytes := c.FreeSpace()
	var increment int64
	if needRows := numRows - freeRows; needRows > 0 {
		pages := (needRows + c.pageRows - 1) / c.pageRows
		increment += int64(pages) * int64(c.pageRows*c.layout.FixedRowSize)
	}
	if needBytes := varBytes - freeBytes; needBytes > 0 {
		increment += needBytes
	}
	return increment
}

// EstimateRowSize is the average row size including out of line bytes. It
// reports false for an empty container.
func (c *RowContainer) EstimateRowSize() (int64, bool) {
	if c.numRows == 0 {
		return 0, false
	}
	return int64(c.layout.FixedRowSize) + c.strings.RetainedSize()/int64(c.numRows), true
}

// AllocatedBytes is the memory charged to the pool by the container.
func (c *RowContainer) AllocatedBytes() int64 {
	return int64(len(c.pages)*c.pageRows*c.layout.FixedRowSize) + c.strings.RetainedSize()
}

// CheckRow fails when row does not belong to the container.
func (c *RowContainer) CheckRow(row Row) error {
	if row.id >= c.numSlots || c.erased.Contains(uint64(row.id)) {
		return moerr.NewInternalErrorNoCtx("row %d is not live in the container", row.id)
	}
	return nil
}
