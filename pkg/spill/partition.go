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
	"context"
	"errors"

	"github.com/google/btree"

	"github.com/matrixorigin/groupagg/pkg/fileservice"
)

// Partition is the set of finished runs of one partition.
type Partition struct {
	id    PartitionID
	files []*File

	fs          fileservice.FileService
	readBufSize int
}

func NewPartition(id PartitionID, files []*File, fs fileservice.FileService, readBufSize int) *Partition {
	return &Partition{
		id:          id,
		files:       files,
		fs:          fs,
		readBufSize: readBufSize,
	}
}

func (p *Partition) ID() PartitionID {
	return p.id
}

func (p *Partition) Files() []*File {
	return p.files
}

func (p *Partition) NumFiles() int {
	return len(p.files)
}

// Size is the uncompressed byte size of the partition.
func (p *Partition) Size() int64 {
	var size int64
	for _, f := range p.files {
		size += f.Size
	}
	return size
}

// NumRows is the number of rows over every run.
func (p *Partition) NumRows() int64 {
	var n int64
	for _, f := range p.files {
		n += f.NumRows
	}
	return n
}

func (p *Partition) Less(than btree.Item) bool {
	return p.id.Less(than.(*Partition).id)
}

// CreateOrderedReader opens one merge stream per run. The id of a stream is
// the ordinal of its run inside the partition.
func (p *Partition) CreateOrderedReader(ctx context.Context) (*MergeReader, error) {
	streams := make([]*MergeStream, 0, len(p.files))
	for _, file := range p.files {
		stream, err := newMergeStream(ctx, p.fs, file, p.readBufSize)
		if err != nil {
			for _, s := range streams {
				_ = s.close()
			}
			return nil, err
		}
		if stream == nil {
			continue
		}
		streams = append(streams, stream)
	}
	return newMergeReader(streams), nil
}

// Delete removes the run files of the partition.
func (p *Partition) Delete(ctx context.Context) error {
	paths := make([]string, 0, len(p.files))
	for _, f := range p.files {
		paths = append(paths, f.Path)
	}
	p.files = nil
	if len(paths) == 0 {
		return nil
	}
	return p.fs.Delete(ctx, paths...)
}

// PartitionSet holds partitions ordered by id.
type PartitionSet struct {
	tree *btree.BTree
}

func NewPartitionSet() *PartitionSet {
	return &PartitionSet{tree: btree.New(8)}
}

func (s *PartitionSet) Len() int {
	return s.tree.Len()
}

func (s *PartitionSet) Empty() bool {
	return s.tree.Len() == 0
}

// Insert adds p, appending its runs to a partition with the same id.
func (s *PartitionSet) Insert(p *Partition) {
	if old := s.tree.Get(p); old != nil {
		existing := old.(*Partition)
		existing.files = append(existing.files, p.files...)
		return
	}
	s.tree.ReplaceOrInsert(p)
}

func (s *PartitionSet) Get(id PartitionID) *Partition {
	item := s.tree.Get(&Partition{id: id})
	if item == nil {
		return nil
	}
	return item.(*Partition)
}

// Min returns the partition with the lowest id.
func (s *PartitionSet) Min() *Partition {
	item := s.tree.Min()
	if item == nil {
		return nil
	}
	return item.(*Partition)
}

// PopMin removes and returns the partition with the lowest id.
func (s *PartitionSet) PopMin() *Partition {
	item := s.tree.DeleteMin()
	if item == nil {
		return nil
	}
	return item.(*Partition)
}

// RemoveEmpty drops partitions without rows.
func (s *PartitionSet) RemoveEmpty() {
	var empty []btree.Item
	s.tree.Ascend(func(item btree.Item) bool {
		if item.(*Partition).NumRows() == 0 {
			empty = append(empty, item)
		}
		return true
	})
	for _, item := range empty {
		s.tree.Delete(item)
	}
}

// Ascend calls fn on the partitions in id order until fn returns false.
func (s *PartitionSet) Ascend(fn func(p *Partition) bool) {
	s.tree.Ascend(func(item btree.Item) bool {
		return fn(item.(*Partition))
	})
}

// Clear deletes the run files of every partition left in the set.
func (s *PartitionSet) Clear(ctx context.Context) error {
	var err error
	s.Ascend(func(p *Partition) bool {
		err = errors.Join(err, p.Delete(ctx))
		return true
	})
	s.tree.Clear(false)
	return err
}
