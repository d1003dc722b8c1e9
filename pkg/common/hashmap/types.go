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
	"fmt"

	"github.com/matrixorigin/groupagg/pkg/container/rowcontainer"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
)

const (
	// arrayMaxSize bounds the value range of an array mode table.
	arrayMaxSize = 1 << 20
	// arraySparseCapacity is the array size above which a sparse array
	// mode table is reconsidered.
	arraySparseCapacity = 1 << 12
	// normalizedKeyBytes is the widest normalized key.
	normalizedKeyBytes = 8

	normalizedEntryBytes = 16
	genericEntryBytes    = 32
)

// HashMode is the way a GroupTable indexes its keys.
type HashMode int

const (
	// HashModeArray indexes a single integer key directly by value.
	HashModeArray HashMode = iota
	// HashModeNormalizedKey packs fixed size keys into one uint64.
	HashModeNormalizedKey
	// HashModeHash indexes the encoded key bytes.
	HashModeHash
)

func (m HashMode) String() string {
	switch m {
	case HashModeArray:
		return "array"
	case HashModeNormalizedKey:
		return "normalized key"
	case HashModeHash:
		return "hash"
	}
	return fmt.Sprintf("unknown hash mode %d", int(m))
}

// HashLookup is the result of probing one batch. Hits and Hashes are
// indexed by input row number, only the entries of Rows are meaningful.
type HashLookup struct {
	// Rows are the input rows to probe in ascending order.
	Rows []int32
	// Hits holds the group row of each probed input row.
	Hits []rowcontainer.Row
	// NewGroups are the probed input rows that created their group.
	NewGroups []int32
	Hashes    []uint64

	keys    [][]byte
	keyVecs []*vector.Vector
}

func NewHashLookup() *HashLookup {
	return &HashLookup{}
}

func (l *HashLookup) reset(n int) {
	if cap(l.Hits) < n {
		l.Hits = make([]rowcontainer.Row, n)
		l.Hashes = make([]uint64, n)
	} else {
		l.Hits = l.Hits[:n]
		l.Hashes = l.Hashes[:n]
		clear(l.Hits)
	}
	for len(l.keys) < n {
		l.keys = append(l.keys, nil)
	}
	l.Rows = l.Rows[:0]
	l.NewGroups = l.NewGroups[:0]
	l.keyVecs = l.keyVecs[:0]
}

// Stats describes the state of a GroupTable.
type Stats struct {
	Mode           HashMode
	NumDistinct    int
	NumRehashes    int
	NumModeChanges int
	ArrayCapacity  int
}

func (s Stats) String() string {
	return fmt.Sprintf("mode %s, distinct %d, rehashes %d, mode changes %d, array capacity %d",
		s.Mode, s.NumDistinct, s.NumRehashes, s.NumModeChanges, s.ArrayCapacity)
}
