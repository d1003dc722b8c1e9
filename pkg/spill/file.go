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
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"

	"github.com/pierrec/lz4"

	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/container/batch"
	"github.com/matrixorigin/groupagg/pkg/fileservice"
)

// A run file is a sequence of [size u32][batch] frames, optionally wrapped
// in one lz4 stream.

const maxFrameSize = 1 << 30

type runWriter struct {
	fs   fileservice.FileService
	path string

	file io.WriteCloser
	buf  *bufio.Writer
	zw   *lz4.Writer
	out  io.Writer

	numRows int64
	size    int64
}

func newRunWriter(ctx context.Context, fs fileservice.FileService, path string, bufSize int, compress bool) (*runWriter, error) {
	file, err := fs.NewWriter(ctx, path)
	if err != nil {
		return nil, err
	}
	w := &runWriter{
		fs:   fs,
		path: path,
		file: file,
		buf:  bufio.NewWriterSize(file, bufSize),
	}
	w.out = w.buf
	if compress {
		w.zw = lz4.NewWriter(w.buf)
		w.out = w.zw
	}
	return w, nil
}

func (w *runWriter) writeBatch(bat *batch.Batch) error {
	data, err := bat.MarshalBinary()
	if err != nil {
		return err
	}
	if len(data) > maxFrameSize {
		return moerr.NewInternalErrorNoCtx("spill frame of %d bytes", len(data))
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.out.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.out.Write(data); err != nil {
		return err
	}
	w.numRows += int64(bat.RowCount())
	w.size += int64(len(data)) + 4
	return nil
}

func (w *runWriter) close() (err error) {
	if w.zw != nil {
		err = w.zw.Close()
	}
	err = errors.Join(err, w.buf.Flush())
	return errors.Join(err, w.file.Close())
}

// abort closes the writer and removes whatever reached the file service.
func (w *runWriter) abort(ctx context.Context) {
	_ = w.file.Close()
	_ = w.fs.Delete(ctx, w.path)
}

type runReader struct {
	file io.ReadCloser
	in   io.Reader
	hdr  [4]byte
}

func openRun(ctx context.Context, fs fileservice.FileService, file *File, bufSize int) (*runReader, error) {
	rc, err := fs.NewReader(ctx, file.Path)
	if err != nil {
		return nil, err
	}
	r := &runReader{file: rc}
	r.in = bufio.NewReaderSize(rc, bufSize)
	if file.Compressed {
		r.in = lz4.NewReader(r.in)
	}
	return r, nil
}

// next returns the next batch of the run, nil at its end.
func (r *runReader) next() (*batch.Batch, error) {
	if _, err := io.ReadFull(r.in, r.hdr[:]); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, moerr.NewUnexpectedEOFNoCtx("spill frame header")
	}
	size := binary.LittleEndian.Uint32(r.hdr[:])
	if size > maxFrameSize {
		return nil, moerr.NewInternalErrorNoCtx("spill frame of %d bytes", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r.in, data); err != nil {
		return nil, moerr.NewUnexpectedEOFNoCtx("spill frame")
	}
	bat := new(batch.Batch)
	if err := bat.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return bat, nil
}

func (r *runReader) close() error {
	return r.file.Close()
}
