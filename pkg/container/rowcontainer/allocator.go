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
	"sync/atomic"

	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/common/mpool"
)

// StringRef addresses one buffer of a StringAllocator. The zero ref is nil.
type StringRef uint64

const maxFreeBuffers = 64

// StringAllocator owns the out of line bytes of a row container: variable
// length keys and accumulator buffers. Buffers are charged to the pool.
//
// It is not safe for concurrent mutation. FreezeAndExecute runs a function
// during which the allocator may only be read, from any number of goroutines.
type StringAllocator struct {
	pool *mpool.MPool

	bufs [][]byte
	// ids of released slots in bufs
	slots []uint32
	// released buffers kept for reuse, their capacity is still charged
	free      [][]byte
	freeBytes int64

	allocated int64
	frozen    atomic.Bool
}

func NewStringAllocator(pool *mpool.MPool) *StringAllocator {
	return &StringAllocator{pool: pool}
}

// Allocate copies data into a new buffer.
func (a *StringAllocator) Allocate(data []byte) (StringRef, error) {
	buf, err := a.allocate(len(data))
	if err != nil {
		return 0, err
	}
	copy(buf, data)
	return a.place(buf), nil
}

// Append returns a ref to the bytes of ref followed by sep and data. ref is
// released.
func (a *StringAllocator) Append(ref StringRef, sep, data []byte) (StringRef, error) {
	old := a.Get(ref)
	buf, err := a.allocate(len(old) + len(sep) + len(data))
	if err != nil {
		return ref, err
	}
	n := copy(buf, old)
	n += copy(buf[n:], sep)
	copy(buf[n:], data)
	a.Free(ref)
	return a.place(buf), nil
}

func (a *StringAllocator) allocate(n int) ([]byte, error) {
	a.checkNotFrozen()
	if k := len(a.free); k > 0 && cap(a.free[k-1]) >= n {
		buf := a.free[k-1][:n]
		a.free = a.free[:k-1]
		a.freeBytes -= int64(cap(buf))
		return buf, nil
	}
	if err := a.pool.GrowBytes(int64(n)); err != nil {
		return nil, err
	}
	a.allocated += int64(n)
	return make([]byte, n), nil
}

func (a *StringAllocator) place(buf []byte) StringRef {
	if k := len(a.slots); k > 0 {
		id := a.slots[k-1]
		a.slots = a.slots[:k-1]
		a.bufs[id] = buf
		return StringRef(id + 1)
	}
	a.bufs = append(a.bufs, buf)
	return StringRef(len(a.bufs))
}

// Get returns the bytes of ref. The result aliases the allocator.
func (a *StringAllocator) Get(ref StringRef) []byte {
	if ref == 0 {
		return nil
	}
	return a.bufs[ref-1]
}

// Free releases ref.
func (a *StringAllocator) Free(ref StringRef) {
	if ref == 0 {
		return
	}
	a.checkNotFrozen()
	id := uint32(ref - 1)
	buf := a.bufs[id]
	a.bufs[id] = nil
	a.slots = append(a.slots, id)
	if len(a.free) < maxFreeBuffers {
		a.free = append(a.free, buf[:0])
		a.freeBytes += int64(cap(buf))
		return
	}
	a.allocated -= int64(cap(buf))
	a.pool.FreeBytes(int64(cap(buf)))
}

// FreeBytes is the capacity of released buffers kept for reuse.
func (a *StringAllocator) FreeBytes() int64 {
	return a.freeBytes
}

// RetainedSize is the number of bytes charged to the pool.
func (a *StringAllocator) RetainedSize() int64 {
	return a.allocated
}

// Clear releases every buffer.
func (a *StringAllocator) Clear() {
	a.checkNotFrozen()
	a.pool.FreeBytes(a.allocated)
	a.allocated = 0
	a.bufs = nil
	a.slots = nil
	a.free = nil
	a.freeBytes = 0
}

// IsFrozen reports whether a FreezeAndExecute call is running.
func (a *StringAllocator) IsFrozen() bool {
	return a.frozen.Load()
}

// FreezeAndExecute runs fn with the allocator frozen. Allocation or release
// while frozen panics. The allocator is unfrozen on every exit path of fn.
func (a *StringAllocator) FreezeAndExecute(fn func() error) error {
	if !a.frozen.CompareAndSwap(false, true) {
		return moerr.NewInvalidStateNoCtx("string allocator is already frozen")
	}
	defer a.frozen.Store(false)
	return fn()
}

func (a *StringAllocator) checkNotFrozen() {
	if a.frozen.Load() {
		panic(moerr.NewInvalidStateNoCtx("string allocator mutated while frozen"))
	}
}
