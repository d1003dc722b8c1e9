// Copyright 2021 - 2022 Matrix Origin
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

package mpool

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	v2 "github.com/matrixorigin/groupagg/pkg/util/metric/v2"
)

const (
	NoFixed = 1 << iota
)

const (
	kb = 1 << 10
	mb = 1 << 20
)

// MPoolStats are the counters of one pool.
type MPoolStats struct {
	NumAlloc       atomic.Int64
	NumFree        atomic.Int64
	NumReserve     atomic.Int64
	NumArbitration atomic.Int64
	HighWaterMark  atomic.Int64
}

func (s *MPoolStats) Report(tab string) string {
	if s.HighWaterMark.Load() == 0 {
		return fmt.Sprintf("%s empty", tab)
	}
	return fmt.Sprintf("%s allocs %d, frees %d, reserves %d, arbitrations %d, hwm %d",
		tab, s.NumAlloc.Load(), s.NumFree.Load(), s.NumReserve.Load(),
		s.NumArbitration.Load(), s.HighWaterMark.Load())
}

// MPool is a memory pool shared by the operators of one query. It accounts
// used bytes against a reservation, the reservation against a capacity, and
// asks the registered reclaimer to give memory back when the capacity is hit.
type MPool struct {
	name string
	cap  int64

	mu       sync.Mutex
	used     int64
	reserved int64

	reclaimer Reclaimer
	stats     MPoolStats
}

// NewMPool creates a pool. cap 0 means no limit.
func NewMPool(name string, cap int64, flag int) (*MPool, error) {
	if cap < 0 {
		return nil, moerr.NewInvalidInputNoCtx("mpool %s capacity %d", name, cap)
	}
	return &MPool{name: name, cap: cap}, nil
}

// MustNewZero returns an unlimited pool, used by tests.
func MustNewZero() *MPool {
	mp, err := NewMPool("zero", 0, NoFixed)
	if err != nil {
		panic(err)
	}
	return mp
}

func MustNew(name string, cap int64) *MPool {
	mp, err := NewMPool(name, cap, NoFixed)
	if err != nil {
		panic(err)
	}
	return mp
}

func (mp *MPool) Name() string {
	return mp.name
}

func (mp *MPool) Cap() int64 {
	return mp.cap
}

func (mp *MPool) Stats() *MPoolStats {
	return &mp.stats
}

// CurrNB is the number of bytes currently allocated.
func (mp *MPool) CurrNB() int64 {
	return mp.UsedBytes()
}

func (mp *MPool) UsedBytes() int64 {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.used
}

func (mp *MPool) ReservedBytes() int64 {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.reserved
}

// AvailableReservation is the reserved memory not used yet.
func (mp *MPool) AvailableReservation() int64 {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.reserved - mp.used
}

// Alloc returns a zeroed buffer of sz bytes accounted in the pool. It grows
// the reservation when needed and fails with OOM when the capacity cannot
// cover it even after arbitration.
func (mp *MPool) Alloc(sz int) ([]byte, error) {
	if sz < 0 {
		return nil, moerr.NewInternalErrorNoCtx("mpool %s alloc %d bytes", mp.name, sz)
	}
	if !mp.account(int64(sz)) {
		mp.arbitrate(int64(sz))
		if !mp.account(int64(sz)) {
			return nil, moerr.NewOOMNoCtx()
		}
	}
	mp.stats.NumAlloc.Add(1)
	return make([]byte, sz), nil
}

// Free returns bs to the pool. The reservation is kept.
func (mp *MPool) Free(bs []byte) {
	mp.FreeBytes(int64(cap(bs)))
}

// FreeBytes gives back memory accounted by Alloc or GrowBytes.
func (mp *MPool) FreeBytes(sz int64) {
	if sz == 0 {
		return
	}
	mp.mu.Lock()
	mp.used -= sz
	if mp.used < 0 {
		mp.mu.Unlock()
		panic(moerr.NewInternalErrorNoCtx("mpool %s freed more than allocated", mp.name))
	}
	mp.mu.Unlock()
	mp.stats.NumFree.Add(1)
	v2.MemAggAllocatedGauge.Sub(float64(sz))
}

// GrowBytes accounts sz bytes held by a structure the pool does not
// allocate itself, such as a Go map.
func (mp *MPool) GrowBytes(sz int64) error {
	if sz <= 0 {
		mp.FreeBytes(-sz)
		return nil
	}
	if !mp.account(sz) {
		mp.arbitrate(sz)
		if !mp.account(sz) {
			return moerr.NewOOMNoCtx()
		}
	}
	return nil
}

func (mp *MPool) account(sz int64) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	used := mp.used + sz
	if used > mp.reserved {
		reserved := mp.reserved + quantizedSize(used-mp.reserved)
		if mp.cap > 0 && reserved > mp.cap {
			if used > mp.cap {
				return false
			}
			reserved = mp.cap
		}
		v2.MemAggReservedGauge.Add(float64(reserved - mp.reserved))
		mp.reserved = reserved
	}
	mp.used = used
	if used > mp.stats.HighWaterMark.Load() {
		mp.stats.HighWaterMark.Store(used)
	}
	v2.MemAggAllocatedGauge.Add(float64(sz))
	return true
}

// quantizedSize rounds a reservation increment up so that the pool does not
// grow its reservation on every small allocation.
func quantizedSize(size int64) int64 {
	if size < 16*mb {
		return roundUp(size, mb)
	}
	if size < 64*mb {
		return roundUp(size, 4*mb)
	}
	return roundUp(size, 8*mb)
}

func roundUp(size, factor int64) int64 {
	return (size + factor - 1) / factor * factor
}

// MaybeReserve grows the reservation by size. It never fails loudly: false
// means the capacity could not cover the reservation even after asking the
// reclaimer for memory.
func (mp *MPool) MaybeReserve(size int64) bool {
	mp.stats.NumReserve.Add(1)
	if mp.tryReserve(size) {
		return true
	}
	mp.arbitrate(size)
	return mp.tryReserve(size)
}

func (mp *MPool) tryReserve(size int64) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	increment := quantizedSize(size)
	if mp.cap > 0 && mp.reserved+increment > mp.cap {
		if mp.reserved+size > mp.cap {
			return false
		}
		increment = mp.cap - mp.reserved
	}
	mp.reserved += increment
	v2.MemAggReservedGauge.Add(float64(increment))
	return true
}

// Release drops the unused part of the reservation.
func (mp *MPool) Release() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	v2.MemAggReservedGauge.Sub(float64(mp.reserved - mp.used))
	mp.reserved = mp.used
}

func (mp *MPool) String() string {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return fmt.Sprintf("mpool %s: used %d, reserved %d, cap %d", mp.name, mp.used, mp.reserved, mp.cap)
}
