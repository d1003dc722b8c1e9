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

package hashmap

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/matrixorigin/groupagg/pkg/common/bitmap"
	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/container/batch"
	"github.com/matrixorigin/groupagg/pkg/container/rowcontainer"
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
)

// GroupTable maps group keys to the rows of a row container. The key
// columns of the container are the key channels of the probed batches.
type GroupTable struct {
	rows        *rowcontainer.RowContainer
	keyChannels []int32
	adaptive    bool
	mode        HashMode

	// array mode, slot 0 is the null key, other slots hold row id + 1
	array    []uint32
	arrayMin int64

	normalized map[uint64]uint32
	generic    map[string]uint32
	keyBytes   int64

	numDistinct int
	stats       Stats
}

// NewGroupTable returns an empty table over rows. Without adaptivity the
// table stays in hash mode.
func NewGroupTable(rows *rowcontainer.RowContainer, keyChannels []int32, hashAdaptivity bool) *GroupTable {
	t := &GroupTable{
		rows:        rows,
		keyChannels: keyChannels,
		adaptive:    hashAdaptivity,
	}
	t.mode = t.initialMode()
	t.resetIndex(true)
	return t
}

func (t *GroupTable) initialMode() HashMode {
	if !t.adaptive {
		return HashModeHash
	}
	if t.arrayEligible() {
		return HashModeArray
	}
	return t.fallbackMode()
}

func (t *GroupTable) arrayEligible() bool {
	keys := t.rows.KeyTypes()
	if len(keys) != 1 {
		return false
	}
	switch keys[0].Oid {
	case types.T_bool, types.T_int32, types.T_int64:
		return true
	}
	return false
}

func (t *GroupTable) fallbackMode() HashMode {
	if !t.adaptive {
		return HashModeHash
	}
	width := 0
	for _, typ := range t.rows.KeyTypes() {
		if typ.IsVarlen() {
			return HashModeHash
		}
		width += 1 + int(typ.Size)
	}
	if width <= normalizedKeyBytes {
		return HashModeNormalizedKey
	}
	return HashModeHash
}

func (t *GroupTable) Rows() *rowcontainer.RowContainer {
	return t.rows
}

func (t *GroupTable) HashMode() HashMode {
	return t.mode
}

func (t *GroupTable) NumDistinct() int {
	return t.numDistinct
}

func (t *GroupTable) Stats() Stats {
	s := t.stats
	s.Mode = t.mode
	s.NumDistinct = t.numDistinct
	s.ArrayCapacity = len(t.array)
	return s
}

// PrepareForGroupProbe encodes and hashes the keys of the active rows of bat.
// With ignoreNullKeys rows with a null key are left out of lookup.Rows.
func (t *GroupTable) PrepareForGroupProbe(lookup *HashLookup, bat *batch.Batch, activeRows *bitmap.Bitmap, ignoreNullKeys bool) error {
	n := bat.RowCount()
	lookup.reset(n)
	for _, ch := range t.keyChannels {
		vec := bat.Vecs[ch]
		if vec.IsLazyNotLoaded() {
			if err := vec.Load(nil); err != nil {
				return err
			}
		}
		lookup.keyVecs = append(lookup.keyVecs, vec)
	}

	itr := activeRows.Iterator()
	for itr.HasNext() {
		i := int(itr.Next())
		if i >= n {
			return moerr.NewInternalErrorNoCtx("active row %d beyond batch of %d rows", i, n)
		}
		if ignoreNullKeys && anyNull(lookup.keyVecs, i) {
			continue
		}
		buf := lookup.keys[i][:0]
		for _, vec := range lookup.keyVecs {
			buf = vec.AppendKey(buf, i)
		}
		lookup.keys[i] = buf
		lookup.Hashes[i] = xxhash.Sum64(buf)
		lookup.Rows = append(lookup.Rows, int32(i))
	}

	if t.mode == HashModeArray {
		t.fitArray(lookup)
	}
	return nil
}

func anyNull(vecs []*vector.Vector, i int) bool {
	for _, vec := range vecs {
		if vec.IsNull(i) {
			return true
		}
	}
	return false
}

// GroupProbe finds or creates the group of every row of lookup.Rows.
func (t *GroupTable) GroupProbe(lookup *HashLookup) error {
	for _, i := range lookup.Rows {
		if id, ok := t.find(lookup, int(i)); ok {
			lookup.Hits[i] = t.rows.Row(id)
			continue
		}
		row, err := t.rows.NewRow()
		if err != nil {
			return err
		}
		for k, vec := range lookup.keyVecs {
			if err = t.rows.StoreKey(vec, int(i), row, k); err != nil {
				return err
			}
		}
		t.insert(lookup.keys[i], t.arraySlot(lookup.keyVecs, int(i)), row.ID())
		t.numDistinct++
		lookup.Hits[i] = row
		lookup.NewGroups = append(lookup.NewGroups, i)
	}
	return nil
}

func (t *GroupTable) find(lookup *HashLookup, i int) (uint32, bool) {
	switch t.mode {
	case HashModeArray:
		v := t.array[t.arraySlot(lookup.keyVecs, i)]
		return v - 1, v != 0
	case HashModeNormalizedKey:
		id, ok := t.normalized[normalize(lookup.keys[i])]
		return id, ok
	default:
		id, ok := t.generic[string(lookup.keys[i])]
		return id, ok
	}
}

func (t *GroupTable) insert(key []byte, slot int, id uint32) {
	switch t.mode {
	case HashModeArray:
		t.array[slot] = id + 1
	case HashModeNormalizedKey:
		t.normalized[normalize(key)] = id
	default:
		t.generic[string(key)] = id
		t.keyBytes += int64(len(key))
	}
}

// normalize packs an encoded key of at most normalizedKeyBytes bytes. The
// encoding is prefix free so zero padding keeps keys distinct.
func normalize(key []byte) uint64 {
	var buf [normalizedKeyBytes]byte
	copy(buf[:], key)
	return binary.LittleEndian.Uint64(buf[:])
}

func arrayValue(vec *vector.Vector, i int) int64 {
	switch vec.GetType().Oid {
	case types.T_bool:
		if vector.GetFixedAt[bool](vec, i) {
			return 1
		}
		return 0
	case types.T_int32:
		return int64(vector.GetFixedAt[int32](vec, i))
	default:
		return vector.GetFixedAt[int64](vec, i)
	}
}

func (t *GroupTable) arraySlot(keyVecs []*vector.Vector, i int) int {
	if t.mode != HashModeArray {
		return 0
	}
	vec := keyVecs[0]
	if vec.IsNull(i) {
		return 0
	}
	return int(arrayValue(vec, i)-t.arrayMin) + 1
}

// fitArray grows the array over the key range of lookup, leaving array mode
// when the range is too wide.
func (t *GroupTable) fitArray(lookup *HashLookup) {
	vec := lookup.keyVecs[0]
	lo, hi := int64(math.MaxInt64), int64(math.MinInt64)
	for _, i := range lookup.Rows {
		if vec.IsNull(int(i)) {
			continue
		}
		v := arrayValue(vec, int(i))
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if lo > hi {
		return
	}
	if len(t.array) > 1 {
		curHi := t.arrayMin + int64(len(t.array)) - 2
		if lo >= t.arrayMin && hi <= curHi {
			return
		}
		lo = min(lo, t.arrayMin)
		hi = max(hi, curHi)
	}
	// hi - lo may overflow for extreme int64 keys
	if hi-lo < 0 || hi-lo >= arrayMaxSize-1 {
		t.setMode(t.fallbackMode())
		return
	}
	array := make([]uint32, hi-lo+2)
	array[0] = t.array[0]
	if len(t.array) > 1 {
		copy(array[t.arrayMin-lo+1:], t.array[1:])
	}
	t.array = array
	t.arrayMin = lo
	t.stats.NumRehashes++
}

// DecideHashMode reconsiders the mode of an adaptive table: a large array
// holding few groups is replaced by a hashed index.
func (t *GroupTable) DecideHashMode() HashMode {
	if t.adaptive && t.mode == HashModeArray &&
		len(t.array) > arraySparseCapacity && t.numDistinct*32 < len(t.array) {
		t.setMode(t.fallbackMode())
	}
	return t.mode
}

// ForceGenericHashMode switches the table to hash mode.
func (t *GroupTable) ForceGenericHashMode() {
	t.setMode(HashModeHash)
}

// setMode rebuilds the index from the row container in mode. Array mode is
// only entered at creation.
func (t *GroupTable) setMode(mode HashMode) {
	if mode == t.mode || mode == HashModeArray {
		return
	}
	t.mode = mode
	t.stats.NumModeChanges++
	t.resetIndex(true)
	var key []byte
	for _, row := range t.rows.AllRows() {
		key = t.rows.AppendKey(key[:0], row)
		t.insert(key, 0, row.ID())
	}
}

func (t *GroupTable) resetIndex(free bool) {
	t.keyBytes = 0
	if free {
		t.array, t.arrayMin = nil, 0
		t.normalized, t.generic = nil, nil
		switch t.mode {
		case HashModeArray:
			t.array = make([]uint32, 1)
		case HashModeNormalizedKey:
			t.normalized = make(map[uint64]uint32)
		default:
			t.generic = make(map[string]uint32)
		}
		return
	}
	clear(t.array)
	clear(t.normalized)
	clear(t.generic)
}

// Clear drops every group. With freeTable the index memory is released and
// an adaptive table starts over from its initial mode.
func (t *GroupTable) Clear(freeTable bool) {
	t.rows.Clear()
	t.numDistinct = 0
	if freeTable {
		t.mode = t.initialMode()
	}
	t.resetIndex(freeTable)
}

func (t *GroupTable) indexBytes() int64 {
	switch t.mode {
	case HashModeArray:
		return int64(len(t.array)) * 4
	case HashModeNormalizedKey:
		return int64(t.numDistinct) * normalizedEntryBytes
	default:
		return int64(t.numDistinct)*genericEntryBytes + t.keyBytes
	}
}

// AllocatedBytes is the memory of the index and of the row container.
func (t *GroupTable) AllocatedBytes() int64 {
	return t.indexBytes() + t.rows.AllocatedBytes()
}

// HashTableSizeIncrease estimates the index growth for numNewDistinct more
// groups.
func (t *GroupTable) HashTableSizeIncrease(numNewDistinct int) int64 {
	switch t.mode {
	case HashModeArray:
		return 0
	case HashModeNormalizedKey:
		return int64(numNewDistinct) * normalizedEntryBytes * 2
	default:
		avgKey := int64(16)
		if t.numDistinct > 0 {
			avgKey = t.keyBytes / int64(t.numDistinct)
		}
		return int64(numNewDistinct) * (genericEntryBytes + avgKey) * 2
	}
}
