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
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/common/mpool"
	"github.com/matrixorigin/groupagg/pkg/config"
	"github.com/matrixorigin/groupagg/pkg/container/rowcontainer"
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
	"github.com/matrixorigin/groupagg/pkg/fileservice"
)

var int64Typ = types.T_int64.ToType()

// newTestRows returns a container keyed by one int64 column with one int64
// accumulator holding ten times the key.
func newTestRows() *rowcontainer.RowContainer {
	var c *rowcontainer.RowContainer
	acc := rowcontainer.Accumulator{
		FixedSize: 8,
		Alignment: 8,
		SpillType: int64Typ,
		ExtractForSpill: func(rows []rowcontainer.Row, result *vector.Vector) error {
			off := c.Layout().Offsets[0]
			for _, row := range rows {
				vector.AppendFixed(result, row.Int64(off), false)
			}
			return nil
		},
	}
	c = rowcontainer.NewRowContainer([]types.Type{int64Typ}, []rowcontainer.Accumulator{acc}, mpool.MustNewZero())
	return c
}

func addKeys(t *testing.T, c *rowcontainer.RowContainer, from, to int64) {
	keys := vector.NewVec(int64Typ)
	for k := from; k < to; k++ {
		vector.AppendFixed(keys, k, false)
	}
	off := c.Layout().Offsets[0]
	for i := 0; i < keys.Length(); i++ {
		row, err := c.NewRow()
		require.NoError(t, err)
		require.NoError(t, c.StoreKey(keys, i, row, 0))
		row.PutInt64(off, vector.GetFixedAt[int64](keys, i)*10)
	}
}

func newTestConfig() *config.SpillConfig {
	cfg := config.NewSpillConfig("spill")
	cfg.StartPartitionBit = 0
	cfg.NumPartitionBits = 2
	cfg.MaxSpillRunRows = 16
	cfg.SpillWorkers = 2
	return cfg
}

type mergedRow struct {
	key, value int64
	streamID   int
	nextEqual  bool
}

func drain(t *testing.T, p *Partition) []mergedRow {
	reader, err := p.CreateOrderedReader(context.Background())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, reader.Close())
	}()
	var out []mergedRow
	for {
		stream, equal, err := reader.NextWithEquals()
		require.NoError(t, err)
		if stream == nil {
			return out
		}
		bat, i := stream.Current(), stream.CurrentIndex()
		out = append(out, mergedRow{
			key:       vector.GetFixedAt[int64](bat.Vecs[0], i),
			value:     vector.GetFixedAt[int64](bat.Vecs[1], i),
			streamID:  stream.ID(),
			nextEqual: equal,
		})
		stream.Pop()
	}
}

func TestSpillAndMerge(t *testing.T) {
	for _, compression := range []string{"lz4", "none"} {
		t.Run(compression, func(t *testing.T) {
			ctx := context.Background()
			fs := fileservice.NewMemoryFS("spill")
			cfg := newTestConfig()
			cfg.Compression = compression

			c := newTestRows()
			s, err := NewSpiller(AggregateInput, c, NewHashBitRange(cfg.StartPartitionBit, cfg.NumPartitionBits), fs, cfg)
			require.NoError(t, err)

			addKeys(t, c, 0, 60)
			require.NoError(t, s.Spill(ctx))
			firstPass := make(map[PartitionID]int)
			for n := uint32(0); n < 4; n++ {
				id := PartitionID{Number: n}
				firstPass[id] = s.State().NumFinishedFiles(id)
			}
			c.Clear()
			addKeys(t, c, 40, 100)
			require.NoError(t, s.Spill(ctx))
			c.Clear()

			stats := s.Stats()
			require.Equal(t, int64(2), stats.SpillRuns)
			require.Equal(t, int64(120), stats.SpilledRows)

			set := NewPartitionSet()
			require.NoError(t, s.FinishSpill(set))
			require.Error(t, s.Spill(ctx))
			set.RemoveEmpty()

			var prev *PartitionID
			total := 0
			seen := make(map[int64]int)
			for !set.Empty() {
				p := set.PopMin()
				if prev != nil {
					require.True(t, prev.Less(p.ID()))
				}
				id := p.ID()
				prev = &id

				rows := drain(t, p)
				for i, row := range rows {
					require.Equal(t, row.key*10, row.value)
					if i > 0 {
						require.LessOrEqual(t, rows[i-1].key, row.key)
					}
					wantEqual := i+1 < len(rows) && rows[i+1].key == row.key
					require.Equal(t, wantEqual, row.nextEqual)
					// keys of the first pass come from its runs
					if row.key < 40 {
						require.Less(t, row.streamID, firstPass[id])
					}
					if row.key >= 60 {
						require.GreaterOrEqual(t, row.streamID, firstPass[id])
					}
					seen[row.key]++
				}
				total += len(rows)
				require.NoError(t, p.Delete(ctx))
			}
			require.Equal(t, 120, total)
			for k := int64(0); k < 100; k++ {
				if k >= 40 && k < 60 {
					require.Equal(t, 2, seen[k])
				} else {
					require.Equal(t, 1, seen[k])
				}
			}
			require.NoError(t, s.Close(ctx))

			entries, err := fs.List(ctx, "")
			require.NoError(t, err)
			require.Empty(t, entries)
		})
	}
}

func TestOutputSpill(t *testing.T) {
	ctx := context.Background()
	fs := fileservice.NewMemoryFS("spill")
	cfg := newTestConfig()
	c := newTestRows()
	addKeys(t, c, 0, 100)

	s, err := NewSpiller(AggregateOutput, c, NewHashBitRange(cfg.StartPartitionBit, cfg.NumPartitionBits), fs, cfg)
	require.NoError(t, err)
	require.Equal(t, 1, s.HashBits().NumPartitions())
	require.Error(t, s.Spill(ctx))

	// the first ten rows were already returned
	var iter rowcontainer.RowIterator
	require.Len(t, c.ListRows(&iter, 10, 1<<30, nil), 10)
	require.NoError(t, s.SpillFrom(ctx, &iter))

	set := NewPartitionSet()
	require.NoError(t, s.FinishSpill(set))
	require.Equal(t, 1, set.Len())
	rows := drain(t, set.Min())
	require.Len(t, rows, 90)
	require.Equal(t, int64(10), rows[0].key)
	require.NoError(t, set.Clear(ctx))
	require.NoError(t, s.Close(ctx))
	c.Clear()
}

func TestCloseDeletesRuns(t *testing.T) {
	ctx := context.Background()
	fs := fileservice.NewMemoryFS("spill")
	cfg := newTestConfig()
	c := newTestRows()
	addKeys(t, c, 0, 10)
	s, err := NewSpiller(AggregateInput, c, NewHashBitRange(0, 1), fs, cfg)
	require.NoError(t, err)
	require.NoError(t, s.Spill(ctx))
	entries, err := fs.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, s.Close(ctx))
	entries, err = fs.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, entries)
	c.Clear()
}

func TestPartitionSet(t *testing.T) {
	set := NewPartitionSet()
	set.Insert(NewPartition(PartitionID{BitOffset: 3, Number: 2}, []*File{{NumRows: 1}}, nil, 0))
	set.Insert(NewPartition(PartitionID{BitOffset: 3, Number: 0}, []*File{{NumRows: 1}}, nil, 0))
	set.Insert(NewPartition(PartitionID{BitOffset: 3, Number: 1}, nil, nil, 0))
	set.Insert(NewPartition(PartitionID{BitOffset: 3, Number: 2}, []*File{{NumRows: 2}}, nil, 0))
	require.Equal(t, 3, set.Len())
	require.Equal(t, 2, set.Get(PartitionID{BitOffset: 3, Number: 2}).NumFiles())
	require.Equal(t, int64(3), set.Get(PartitionID{BitOffset: 3, Number: 2}).NumRows())

	set.RemoveEmpty()
	require.Equal(t, 2, set.Len())
	require.Equal(t, uint32(0), set.PopMin().ID().Number)
	require.Equal(t, uint32(2), set.PopMin().ID().Number)
	require.Nil(t, set.PopMin())
	require.True(t, set.Empty())
}

func TestHashBitRange(t *testing.T) {
	r := NewHashBitRange(4, 2)
	require.Equal(t, 2, r.NumBits())
	require.Equal(t, 4, r.NumPartitions())
	require.Equal(t, uint32(3), r.Partition(0x30))
	require.Equal(t, uint32(1), r.Partition(0x1f))
	require.Equal(t, uint32(0), HashBitRange{Begin: 5, End: 5}.Partition(0xffff))
	require.True(t, PartitionID{BitOffset: 1, Number: 9}.Less(PartitionID{BitOffset: 2}))
}

// panicFS panics when a run is created.
type panicFS struct {
	*fileservice.MemoryFS
}

func (fs panicFS) NewWriter(ctx context.Context, filePath string) (io.WriteCloser, error) {
	panic("create " + filePath)
}

func TestSpillWorkerPanic(t *testing.T) {
	ctx := context.Background()
	fs := panicFS{MemoryFS: fileservice.NewMemoryFS("spill")}
	cfg := newTestConfig()
	c := newTestRows()
	addKeys(t, c, 0, 20)

	s, err := NewSpiller(AggregateInput, c, NewHashBitRange(cfg.StartPartitionBit, cfg.NumPartitionBits), fs, cfg)
	require.NoError(t, err)
	err = s.Spill(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "panic")
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInternal))
	require.NoError(t, s.Close(ctx))
	c.Clear()
}

// closeErrorFS fails to close every reader it opens.
type closeErrorFS struct {
	*fileservice.MemoryFS
}

type closeErrorReader struct {
	io.ReadCloser
}

func (r closeErrorReader) Close() error {
	_ = r.ReadCloser.Close()
	return moerr.NewInternalErrorNoCtx("close run")
}

func (fs closeErrorFS) NewReader(ctx context.Context, filePath string) (io.ReadCloser, error) {
	rc, err := fs.MemoryFS.NewReader(ctx, filePath)
	if err != nil {
		return nil, err
	}
	return closeErrorReader{ReadCloser: rc}, nil
}

func TestMergeReturnsCloseError(t *testing.T) {
	ctx := context.Background()
	fs := closeErrorFS{MemoryFS: fileservice.NewMemoryFS("spill")}
	cfg := newTestConfig()
	c := newTestRows()
	addKeys(t, c, 0, 10)

	s, err := NewSpiller(AggregateOutput, c, NewHashBitRange(0, 0), fs, cfg)
	require.NoError(t, err)
	var iter rowcontainer.RowIterator
	require.NoError(t, s.SpillFrom(ctx, &iter))
	set := NewPartitionSet()
	require.NoError(t, s.FinishSpill(set))

	reader, err := set.Min().CreateOrderedReader(ctx)
	require.NoError(t, err)
	rows := 0
	for {
		stream, _, err := reader.NextWithEquals()
		if err != nil {
			require.True(t, moerr.IsMoErrCode(err, moerr.ErrInternal))
			break
		}
		require.NotNil(t, stream, "the close error of the drained run was lost")
		rows++
		stream.Pop()
	}
	require.Equal(t, 10, rows)
	require.NoError(t, reader.Close())
	require.NoError(t, set.Clear(ctx))
	require.NoError(t, s.Close(ctx))
	c.Clear()
}
