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
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/matrixorigin/groupagg/pkg/logutil"
	v2 "github.com/matrixorigin/groupagg/pkg/util/metric/v2"
)

// Reclaimer is the operator owning a pool. The pool asks it to give memory
// back when a reservation or an allocation hits the capacity.
type Reclaimer interface {
	// CanReclaim reports whether the owner is inside a reclaimable section.
	CanReclaim() bool
	// Reclaim frees memory of pool, usually by spilling. targetBytes is a
	// hint and 0 means as much as possible.
	Reclaim(pool *MPool, targetBytes int64) (int64, error)
}

func (mp *MPool) SetReclaimer(r Reclaimer) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.reclaimer = r
}

func (mp *MPool) getReclaimer() Reclaimer {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.reclaimer
}

// arbitrate asks the reclaimer for targetBytes and shrinks the reservation to
// the usage left afterwards. It must be called without holding mp.mu since
// reclaiming frees memory of this pool.
func (mp *MPool) arbitrate(targetBytes int64) int64 {
	r := mp.getReclaimer()
	if r == nil || !r.CanReclaim() {
		return 0
	}
	mp.stats.NumArbitration.Add(1)
	v2.MemArbitrationCounter.Inc()
	freed, err := r.Reclaim(mp, targetBytes)
	if err != nil {
		logutil.Warn("mpool: reclaim failed",
			zap.String("pool", mp.name),
			zap.Int64("target", targetBytes),
			zap.Error(err))
		return 0
	}
	mp.Release()
	return freed
}

// TestingRunArbitration forces one arbitration round on the pool.
func TestingRunArbitration(mp *MPool) int64 {
	return mp.arbitrate(0)
}

// EnterReclaimableSection marks the owner reclaimable until the returned
// function is called, which restores the previous state.
func EnterReclaimableSection(nonReclaimableSection *atomic.Bool) func() {
	old := nonReclaimableSection.Swap(false)
	return func() {
		nonReclaimableSection.Store(old)
	}
}

// EnterNonReclaimableSection is the opposite of EnterReclaimableSection.
func EnterNonReclaimableSection(nonReclaimableSection *atomic.Bool) func() {
	old := nonReclaimableSection.Swap(true)
	return func() {
		nonReclaimableSection.Store(old)
	}
}
