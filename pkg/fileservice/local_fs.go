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
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/matrixorigin/groupagg/pkg/common/moerr"
)

const sentinelFileName = "thisisalocalfileservicedir"

// LocalFS is a FileService implementation backed by local file system
type LocalFS struct {
	name     string
	rootPath string

	sync.RWMutex
	dirFiles map[string]*os.File
}

var _ FileService = new(LocalFS)

func NewLocalFS(name string, rootPath string) (*LocalFS, error) {
	// ensure dir
	f, err := os.Open(rootPath)
	if os.IsNotExist(err) {
		// not exists, create
		err := os.MkdirAll(rootPath, 0755)
		if err != nil {
			return nil, err
		}
		err = os.WriteFile(filepath.Join(rootPath, sentinelFileName), nil, 0644)
		if err != nil {
			return nil, err
		}

	} else if err != nil {
		// stat error
		return nil, err

	} else {
		// existed, check if a real file service dir
		defer f.Close()
		entries, err := f.ReadDir(1)
		if len(entries) == 0 {
			if errors.Is(err, io.EOF) {
				// empty dir, ok
			} else if err != nil {
				// ReadDir error
				return nil, err
			}
		} else {
			// not empty, check sentinel file
			_, err := os.Stat(filepath.Join(rootPath, sentinelFileName))
			if os.IsNotExist(err) {
				return nil, moerr.NewBadConfigNoCtx("%s is not a file service dir", rootPath)
			} else if err != nil {
				return nil, err
			}
		}
	}

	// create tmp dir
	if err := os.MkdirAll(filepath.Join(rootPath, ".tmp"), 0755); err != nil {
		return nil, err
	}

	return &LocalFS{
		name:     name,
		rootPath: rootPath,
		dirFiles: make(map[string]*os.File),
	}, nil
}

func (l *LocalFS) Name() string {
	return l.name
}

// localWriter writes a temp file and moves it in place on Close.
type localWriter struct {
	fs         *LocalFS
	f          *os.File
	nativePath string
	closed     bool
}

func (w *localWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *localWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.f.Name())
		return err
	}

	// ensure parent dir
	parentDir, _ := filepath.Split(w.nativePath)
	if err := w.fs.ensureDir(parentDir); err != nil {
		_ = os.Remove(w.f.Name())
		return err
	}

	// move
	if err := os.Rename(w.f.Name(), w.nativePath); err != nil {
		_ = os.Remove(w.f.Name())
		return err
	}
	return w.fs.syncDir(parentDir)
}

func (l *LocalFS) NewWriter(ctx context.Context, filePath string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nativePath := l.toNativeFilePath(filePath)

	// check existence
	_, err := os.Stat(nativePath)
	if err == nil {
		// existed
		return nil, moerr.NewFileAlreadyExistsNoCtx(filePath)
	}

	f, err := os.CreateTemp(
		filepath.Join(l.rootPath, ".tmp"),
		"*.tmp",
	)
	if err != nil {
		return nil, err
	}
	return &localWriter{
		fs:         l,
		f:          f,
		nativePath: nativePath,
	}, nil
}

func (l *LocalFS) NewReader(ctx context.Context, filePath string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.toNativeFilePath(filePath))
	if os.IsNotExist(err) {
		return nil, moerr.NewFileNotFoundNoCtx(filePath)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (l *LocalFS) List(ctx context.Context, dirPath string) (ret []DirEntry, err error) {
	nativePath := l.toNativeFilePath(dirPath)
	f, err := os.Open(nativePath)
	if os.IsNotExist(err) {
		err = nil
		return
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || name == sentinelFileName {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		ret = append(ret, DirEntry{
			Name:  name,
			IsDir: entry.IsDir(),
			Size:  int(info.Size()),
		})
	}

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Name < ret[j].Name
	})

	return
}

func (l *LocalFS) Delete(ctx context.Context, filePaths ...string) error {
	parents := make(map[string]struct{})
	for _, filePath := range filePaths {
		nativePath := l.toNativeFilePath(filePath)
		err := os.Remove(nativePath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		parentDir, _ := filepath.Split(nativePath)
		parents[parentDir] = struct{}{}
	}
	for parentDir := range parents {
		if err := l.syncDir(parentDir); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the cached dir handles.
func (l *LocalFS) Close() error {
	l.Lock()
	defer l.Unlock()
	var err error
	for path, f := range l.dirFiles {
		err = errors.Join(err, f.Close())
		delete(l.dirFiles, path)
	}
	return err
}

func (l *LocalFS) ensureDir(nativePath string) error {
	nativePath = filepath.Clean(nativePath)
	if nativePath == "" {
		return nil
	}

	// check existence by l.dirFiles
	l.RLock()
	_, ok := l.dirFiles[nativePath]
	if ok {
		// dir existed
		l.RUnlock()
		return nil
	}
	l.RUnlock()

	// check existence by fstat
	_, err := os.Stat(nativePath)
	if err == nil {
		// existed
		return nil
	}

	// ensure parent
	parent, _ := filepath.Split(nativePath)
	if parent != nativePath {
		if err := l.ensureDir(parent); err != nil {
			return err
		}
	}

	// create
	if err := os.Mkdir(nativePath, 0755); err != nil {
		return err
	}

	// sync parent dir
	return l.syncDir(parent)
}

var osPathSeparatorStr = string([]rune{os.PathSeparator})

func (l *LocalFS) toOSPath(filePath string) string {
	if os.PathSeparator == '/' {
		return filePath
	}
	return strings.ReplaceAll(filePath, "/", osPathSeparatorStr)
}

func (l *LocalFS) syncDir(nativePath string) error {
	nativePath = filepath.Clean(nativePath)
	l.Lock()
	f, ok := l.dirFiles[nativePath]
	if !ok {
		var err error
		f, err = os.Open(nativePath)
		if err != nil {
			l.Unlock()
			return err
		}
		l.dirFiles[nativePath] = f
	}
	l.Unlock()
	return f.Sync()
}

func (l *LocalFS) toNativeFilePath(filePath string) string {
	return filepath.Join(l.rootPath, l.toOSPath(filePath))
}
