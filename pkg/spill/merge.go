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
	"container/heap"
	"context"
	"errors"

	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/container/batch"
	"github.com/matrixorigin/groupagg/pkg/fileservice"
)

// MergeStream is a cursor over the rows of one sorted run.
type MergeStream struct {
	file   *File
	reader *runReader

	cur  *batch.Batch
	idx  int
	next *batch.Batch
	eof  bool
	err  error
}

// newMergeStream returns nil for an empty run.
func newMergeStream(ctx context.Context, fs fileservice.FileService, file *File, bufSize int) (*MergeStream, error) {
	reader, err := openRun(ctx, fs, file, bufSize)
	if err != nil {
		return nil, err
	}
	s := &MergeStream{file: file, reader: reader}
	if s.cur, err = s.load(); err != nil {
		_ = s.close()
		return nil, err
	}
	if s.cur == nil {
		_ = s.close()
		return nil, nil
	}
	return s, nil
}

func (s *MergeStream) load() (*batch.Batch, error) {
	for !s.eof {
		bat, err := s.reader.next()
		if err != nil {
			return nil, err
		}
		if bat == nil {
			s.eof = true
			break
		}
		if bat.RowCount() > 0 {
			return bat, nil
		}
	}
	return nil, nil
}

// ID is the ordinal of the run inside its partition.
func (s *MergeStream) ID() int {
	return s.file.ID
}

// Current returns the batch holding the current row.
func (s *MergeStream) Current() *batch.Batch {
	return s.cur
}

// CurrentIndex is the index of the current row inside Current().
func (s *MergeStream) CurrentIndex() int {
	return s.idx
}

func (s *MergeStream) exhausted() bool {
	return s.cur == nil
}

// peek returns the row following the current one inside the stream.
func (s *MergeStream) peek() (*batch.Batch, int, bool) {
	if s.idx+1 < s.cur.RowCount() {
		return s.cur, s.idx + 1, true
	}
	if s.next == nil && s.err == nil {
		s.next, s.err = s.load()
	}
	if s.next == nil {
		return nil, 0, false
	}
	return s.next, 0, true
}

// Pop moves to the next row. A read error surfaces on the next
// NextWithEquals of the reader.
func (s *MergeStream) Pop() {
	s.idx++
	if s.idx < s.cur.RowCount() {
		return
	}
	s.idx = 0
	if s.next != nil {
		s.cur, s.next = s.next, nil
		return
	}
	if s.err == nil {
		s.cur, s.err = s.load()
	} else {
		s.cur = nil
	}
	if s.cur == nil {
		if err := s.close(); err != nil && s.err == nil {
			s.err = err
		}
	}
}

func (s *MergeStream) close() error {
	if s.reader == nil {
		return nil
	}
	err := s.reader.close()
	s.reader = nil
	return err
}

// compareRows orders row i of a against row j of b by the sort keys.
func compareRows(numKeys int, a *batch.Batch, i int, b *batch.Batch, j int) int {
	for k := 0; k < numKeys; k++ {
		if r := a.Vecs[k].Compare(i, b.Vecs[k], j); r != 0 {
			return r
		}
	}
	return 0
}

type streamHeap []*MergeStream

func (h streamHeap) Len() int {
	return len(h)
}

func (h streamHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if r := compareRows(a.file.NumSortKeys, a.cur, a.idx, b.cur, b.idx); r != 0 {
		return r < 0
	}
	return a.ID() < b.ID()
}

func (h streamHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *streamHeap) Push(x any) {
	*h = append(*h, x.(*MergeStream))
}

func (h *streamHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// MergeReader merges sorted runs. Rows with equal keys come out in stream id
// order.
type MergeReader struct {
	streams streamHeap
	// top is the stream returned by the last NextWithEquals; the caller pops
	// it before asking again
	top *MergeStream
}

func newMergeReader(streams []*MergeStream) *MergeReader {
	r := &MergeReader{streams: streams}
	heap.Init(&r.streams)
	return r
}

// NextWithEquals returns the stream holding the smallest row and whether the
// row after it in merge order has an equal key. It returns nil when every
// stream is drained. The caller must Pop the returned stream before the next
// call.
func (r *MergeReader) NextWithEquals() (*MergeStream, bool, error) {
	if r.top != nil {
		if r.top.err != nil {
			return nil, false, r.top.err
		}
		if len(r.streams) == 0 || r.streams[0] != r.top {
			return nil, false, moerr.NewInvalidStateNoCtx("merge stream reordered before pop")
		}
		if r.top.exhausted() {
			heap.Pop(&r.streams)
		} else {
			heap.Fix(&r.streams, 0)
		}
		r.top = nil
	}
	if len(r.streams) == 0 {
		return nil, false, nil
	}
	top := r.streams[0]
	r.top = top

	numKeys := top.file.NumSortKeys
	equal := false
	if bat, idx, ok := top.peek(); ok {
		equal = compareRows(numKeys, top.cur, top.idx, bat, idx) == 0
	} else if top.err != nil {
		return nil, false, top.err
	}
	for _, child := range []int{1, 2} {
		if equal || child >= len(r.streams) {
			break
		}
		other := r.streams[child]
		equal = compareRows(numKeys, top.cur, top.idx, other.cur, other.idx) == 0
	}
	return top, equal, nil
}

// Close releases the streams not drained yet.
func (r *MergeReader) Close() error {
	var err error
	for _, s := range r.streams {
		err = errors.Join(err, s.close())
	}
	r.streams = nil
	r.top = nil
	return err
}
