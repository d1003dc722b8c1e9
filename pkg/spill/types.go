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

package spill

import (
	"fmt"
	"time"

	"github.com/matrixorigin/groupagg/pkg/container/types"
)

// Type is what a spiller writes.
type Type int

const (
	// AggregateInput spills the unfinished groups of a table still
	// receiving input.
	AggregateInput Type = iota
	// AggregateOutput spills a finished table whose output has started.
	AggregateOutput
)

func (t Type) String() string {
	switch t {
	case AggregateInput:
		return "AGGREGATE_INPUT"
	case AggregateOutput:
		return "AGGREGATE_OUTPUT"
	}
	return fmt.Sprintf("UNKNOWN_SPILL_TYPE(%d)", int(t))
}

// HashBitRange is the bit range [Begin, End) of a key hash picking a spill
// partition. An empty range has a single partition.
type HashBitRange struct {
	Begin uint8
	End   uint8
}

func NewHashBitRange(begin, numBits uint8) HashBitRange {
	return HashBitRange{Begin: begin, End: begin + numBits}
}

func (r HashBitRange) NumBits() int {
	return int(r.End) - int(r.Begin)
}

func (r HashBitRange) NumPartitions() int {
	return 1 << r.NumBits()
}

// Partition maps a hash to a partition number.
func (r HashBitRange) Partition(hash uint64) uint32 {
	if r.NumBits() == 0 {
		return 0
	}
	return uint32((hash >> r.Begin) & (uint64(r.NumPartitions()) - 1))
}

func (r HashBitRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Begin, r.End)
}

// PartitionID identifies a partition by the lowest hash bit of its range and
// its number inside the range. IDs order by bit offset then number.
type PartitionID struct {
	BitOffset uint8
	Number    uint32
}

func (id PartitionID) Less(other PartitionID) bool {
	if id.BitOffset != other.BitOffset {
		return id.BitOffset < other.BitOffset
	}
	return id.Number < other.Number
}

func (id PartitionID) String() string {
	return fmt.Sprintf("[%d,%d]", id.BitOffset, id.Number)
}

// File is one sorted run of a partition.
type File struct {
	// ID is the ordinal of the run inside its partition, in spill order.
	ID        int
	Partition PartitionID
	Path      string
	Types     []types.Type
	// NumSortKeys leading columns order the rows of the run.
	NumSortKeys int
	NumRows     int64
	// Size is the uncompressed byte size of the run.
	Size       int64
	Compressed bool
}

// Stats are the cumulated counters of a spiller.
type Stats struct {
	SpillRuns         int64
	SpilledFiles      int64
	SpilledRows       int64
	SpilledBytes      int64
	SpilledPartitions int64
	SpillSortTime     time.Duration
	SpillWriteTime    time.Duration
}

// Add folds other into s.
func (s *Stats) Add(other Stats) {
	s.SpillRuns += other.SpillRuns
	s.SpilledFiles += other.SpilledFiles
	s.SpilledRows += other.SpilledRows
	s.SpilledBytes += other.SpilledBytes
	s.SpilledPartitions += other.SpilledPartitions
	s.SpillSortTime += other.SpillSortTime
	s.SpillWriteTime += other.SpillWriteTime
}

func (s Stats) String() string {
	return fmt.Sprintf("runs %d, files %d, rows %d, bytes %d, partitions %d, sort %v, write %v",
		s.SpillRuns, s.SpilledFiles, s.SpilledRows, s.SpilledBytes,
		s.SpilledPartitions, s.SpillSortTime, s.SpillWriteTime)
}
