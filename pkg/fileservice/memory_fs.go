// Copyright 2022 Matrix Origin
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

package fileservice

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/matrixorigin/groupagg/pkg/common/moerr"
)

// MemoryFS is an in-memory FileService implementation
type MemoryFS struct {
	name string

	sync.RWMutex
	files map[string][]byte
}

var _ FileService = new(MemoryFS)

func NewMemoryFS(name string) *MemoryFS {
	return &MemoryFS{
		name:  name,
		files: make(map[string][]byte),
	}
}

func (m *MemoryFS) Name() string {
	return m.name
}

type memoryWriter struct {
	fs       *MemoryFS
	filePath string
	buf      bytes.Buffer
	closed   bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memoryWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.fs.Lock()
	defer w.fs.Unlock()
	if _, ok := w.fs.files[w.filePath]; ok {
		return moerr.NewFileAlreadyExistsNoCtx(w.filePath)
	}
	w.fs.files[w.filePath] = w.buf.Bytes()
	return nil
}

func (m *MemoryFS) NewWriter(ctx context.Context, filePath string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath = path.Clean(filePath)
	m.RLock()
	defer m.RUnlock()
	if _, ok := m.files[filePath]; ok {
		return nil, moerr.NewFileAlreadyExistsNoCtx(filePath)
	}
	return &memoryWriter{fs: m, filePath: filePath}, nil
}

func (m *MemoryFS) NewReader(ctx context.Context, filePath string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.RLock()
	defer m.RUnlock()
	data, ok := m.files[path.Clean(filePath)]
	if !ok {
		return nil, moerr.NewFileNotFoundNoCtx(filePath)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryFS) List(ctx context.Context, dirPath string) (ret []DirEntry, err error) {
	m.RLock()
	defer m.RUnlock()

	prefix := strings.Trim(path.Clean(dirPath), "/.")
	if prefix != "" {
		prefix += "/"
	}
	dirs := make(map[string]struct{})
	for filePath, data := range m.files {
		if !strings.HasPrefix(filePath, prefix) {
			continue
		}
		name, _, isDir := strings.Cut(filePath[len(prefix):], "/")
		if isDir {
			if _, ok := dirs[name]; ok {
				continue
			}
			dirs[name] = struct{}{}
		}
		entry := DirEntry{Name: name, IsDir: isDir}
		if !isDir {
			entry.Size = len(data)
		}
		ret = append(ret, entry)
	}

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Name < ret[j].Name
	})
	return
}

func (m *MemoryFS) Delete(ctx context.Context, filePaths ...string) error {
	m.Lock()
	defer m.Unlock()
	for _, filePath := range filePaths {
		delete(m.files, path.Clean(filePath))
	}
	return nil
}
