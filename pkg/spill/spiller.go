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
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/config"
	"github.com/matrixorigin/groupagg/pkg/container/batch"
	"github.com/matrixorigin/groupagg/pkg/container/rowcontainer"
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/fileservice"
	"github.com/matrixorigin/groupagg/pkg/logutil"
	v2 "github.com/matrixorigin/groupagg/pkg/util/metric/v2"
)

// rows per batch inside a run
const spillBatchRows = 1024

// State tracks the finished runs of every partition of a spiller.
type State struct {
	mu    sync.Mutex
	files map[PartitionID][]*File
}

func newState() *State {
	return &State{files: make(map[PartitionID][]*File)}
}

// NumFinishedFiles is the number of runs written so far for partition id.
func (s *State) NumFinishedFiles(id PartitionID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files[id])
}

func (s *State) addFile(f *File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ID = len(s.files[f.Partition])
	s.files[f.Partition] = append(s.files[f.Partition], f)
}

func (s *State) partitionIDs() []PartitionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]PartitionID, 0, len(s.files))
	for id := range s.files {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b PartitionID) bool {
		return a.Less(b)
	})
	return ids
}

// Spiller writes the rows of a row container as sorted runs, one set of runs
// per hash partition. Each row is written as its keys followed by the spill
// column of every accumulator.
type Spiller struct {
	typ  Type
	rows *rowcontainer.RowContainer
	bits HashBitRange

	fs      fileservice.FileService
	cfg     *config.SpillConfig
	prefix  string
	workers *ants.Pool

	spillTypes []types.Type
	state      *State

	statsMu  sync.Mutex
	stats    Stats
	finished bool
}

// NewSpiller creates a spiller over rows. An output spiller writes a single
// partition.
func NewSpiller(
	typ Type,
	rows *rowcontainer.RowContainer,
	bits HashBitRange,
	fs fileservice.FileService,
	cfg *config.SpillConfig,
) (*Spiller, error) {
	if fs == nil {
		return nil, moerr.NewInvalidInputNoCtx("spiller without a file service")
	}
	if typ == AggregateOutput {
		bits = HashBitRange{Begin: bits.Begin, End: bits.Begin}
	}
	workers, err := ants.NewPool(cfg.SpillWorkers)
	if err != nil {
		return nil, err
	}
	spillTypes := append([]types.Type{}, rows.KeyTypes()...)
	for _, acc := range rows.Accumulators() {
		spillTypes = append(spillTypes, acc.SpillType)
	}
	return &Spiller{
		typ:        typ,
		rows:       rows,
		bits:       bits,
		fs:         fs,
		cfg:        cfg,
		prefix:     fmt.Sprintf("agg_spill_%s", uuid.New().String()),
		workers:    workers,
		spillTypes: spillTypes,
		state:      newState(),
	}, nil
}

func (s *Spiller) Type() Type {
	return s.typ
}

func (s *Spiller) State() *State {
	return s.state
}

func (s *Spiller) HashBits() HashBitRange {
	return s.bits
}

// SpillTypes is the schema of the runs.
func (s *Spiller) SpillTypes() []types.Type {
	return s.spillTypes
}

func (s *Spiller) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Spiller) Finalized() bool {
	return s.finished
}

// Spill writes every row of the container. The container is left untouched,
// the caller clears it.
func (s *Spiller) Spill(ctx context.Context) error {
	if s.typ != AggregateInput {
		return moerr.NewInvalidStateNoCtx("spill all rows with a %s spiller", s.typ)
	}
	return s.spillRows(ctx, s.rows.AllRows())
}

// SpillFrom writes the rows of the container from iter on.
func (s *Spiller) SpillFrom(ctx context.Context, iter *rowcontainer.RowIterator) error {
	if s.typ != AggregateOutput {
		return moerr.NewInvalidStateNoCtx("spill from an iterator with a %s spiller", s.typ)
	}
	rows := s.rows.ListRows(iter, math.MaxInt, math.MaxInt64, nil)
	return s.spillRows(ctx, rows)
}

func (s *Spiller) spillRows(ctx context.Context, rows []rowcontainer.Row) error {
	if s.finished {
		return moerr.NewInvalidStateNoCtx("spill after the spiller finished")
	}
	if len(rows) == 0 {
		return nil
	}
	start := time.Now()

	buckets := make(map[uint32][]rowcontainer.Row)
	for _, row := range rows {
		p := s.bits.Partition(s.rows.HashKeys(row))
		buckets[p] = append(buckets[p], row)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for number, bucket := range buckets {
		id := PartitionID{BitOffset: s.bits.Begin, Number: number}
		bucket := bucket
		wg.Add(1)
		err := s.workers.Submit(func() {
			defer wg.Done()
			// a panic of the partition writer, such as an allocation while
			// the string allocator is frozen, fails the pass
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					errs = append(errs, moerr.ConvertPanicError(ctx, r))
					mu.Unlock()
				}
			}()
			if err := s.spillPartition(ctx, id, bucket); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.statsMu.Lock()
	s.stats.SpillRuns++
	s.stats.SpilledPartitions += int64(len(buckets))
	s.statsMu.Unlock()
	if s.typ == AggregateInput {
		v2.AggInputSpillRunCounter.Inc()
	} else {
		v2.AggOutputSpillRunCounter.Inc()
	}
	v2.AggSpillWriteDurationHistogram.Observe(time.Since(start).Seconds())
	logutil.Debug("spill: pass finished",
		zap.String("type", s.typ.String()),
		zap.Int("rows", len(rows)),
		zap.Int("partitions", len(buckets)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// spillPartition sorts the rows of one partition and writes them as runs of
// at most MaxSpillRunRows rows.
func (s *Spiller) spillPartition(ctx context.Context, id PartitionID, rows []rowcontainer.Row) error {
	sortStart := time.Now()
	slices.SortFunc(rows, func(a, b rowcontainer.Row) bool {
		return s.rows.CompareKeys(a, b) < 0
	})
	sortTime := time.Since(sortStart)

	runRows := len(rows)
	if s.cfg.MaxSpillRunRows > 0 && uint64(runRows) > s.cfg.MaxSpillRunRows {
		runRows = int(s.cfg.MaxSpillRunRows)
	}
	for len(rows) > 0 {
		n := min(runRows, len(rows))
		if err := s.writeRun(ctx, id, rows[:n]); err != nil {
			return err
		}
		rows = rows[n:]
	}
	s.statsMu.Lock()
	s.stats.SpillSortTime += sortTime
	s.statsMu.Unlock()
	return nil
}

func (s *Spiller) writeRun(ctx context.Context, id PartitionID, rows []rowcontainer.Row) error {
	start := time.Now()
	path := fmt.Sprintf("%s/%d_%d/%s", s.prefix, id.BitOffset, id.Number, uuid.New().String())
	compress := s.cfg.Compression == "lz4"
	w, err := newRunWriter(ctx, s.fs, path, s.cfg.WriteBufferSize, compress)
	if err != nil {
		return err
	}
	for len(rows) > 0 {
		n := min(spillBatchRows, len(rows))
		bat, err := s.extract(rows[:n])
		if err == nil {
			err = w.writeBatch(bat)
		}
		if err != nil {
			w.abort(ctx)
			return err
		}
		rows = rows[n:]
	}
	if err := w.close(); err != nil {
		_ = s.fs.Delete(ctx, path)
		return err
	}

	s.state.addFile(&File{
		Partition:   id,
		Path:        path,
		Types:       s.spillTypes,
		NumSortKeys: len(s.rows.KeyTypes()),
		NumRows:     w.numRows,
		Size:        w.size,
		Compressed:  compress,
	})
	s.statsMu.Lock()
	s.stats.SpilledFiles++
	s.stats.SpilledRows += w.numRows
	s.stats.SpilledBytes += w.size
	s.stats.SpillWriteTime += time.Since(start)
	s.statsMu.Unlock()
	v2.AggSpillFilesCounter.Inc()
	v2.AggSpillRowsCounter.Add(float64(w.numRows))
	v2.AggSpillBytesCounter.Add(float64(w.size))
	return nil
}

// extract builds the spill batch of rows: the key columns then one column
// per accumulator.
func (s *Spiller) extract(rows []rowcontainer.Row) (*batch.Batch, error) {
	bat := batch.NewWithSchema(s.spillTypes)
	numKeys := len(s.rows.KeyTypes())
	for key := 0; key < numKeys; key++ {
		s.rows.ExtractColumn(rows, key, bat.Vecs[key])
	}
	for i, acc := range s.rows.Accumulators() {
		vec := bat.Vecs[numKeys+i]
		if acc.ExtractForSpill == nil {
			for range rows {
				vec.AppendNull()
			}
			continue
		}
		if err := acc.ExtractForSpill(rows, vec); err != nil {
			return nil, err
		}
	}
	bat.SetRowCount(len(rows))
	return bat, nil
}

// FinishSpill moves the finished runs into set, one partition per spilled
// partition. No spill is accepted afterwards.
func (s *Spiller) FinishSpill(set *PartitionSet) error {
	if s.finished {
		return moerr.NewInvalidStateNoCtx("spiller finished twice")
	}
	s.finished = true
	for _, id := range s.state.partitionIDs() {
		s.state.mu.Lock()
		files := s.state.files[id]
		s.state.mu.Unlock()
		set.Insert(NewPartition(id, files, s.fs, s.cfg.ReadBufferSize))
	}
	return nil
}

// Close stops the workers and, unless the runs were handed over by
// FinishSpill, deletes them.
func (s *Spiller) Close(ctx context.Context) error {
	s.workers.Release()
	if s.finished {
		return nil
	}
	s.finished = true
	var paths []string
	for _, files := range s.state.files {
		for _, f := range files {
			paths = append(paths, f.Path)
		}
	}
	if len(paths) == 0 {
		return nil
	}
	return s.fs.Delete(ctx, paths...)
}
