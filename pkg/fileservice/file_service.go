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
	"io"

	"github.com/matrixorigin/groupagg/pkg/common/moerr"
)

// FileService is a flat file store addressed by slash separated paths.
// Files are written once through NewWriter and become visible when the
// writer is closed.
type FileService interface {
	// Name is file service's name
	Name() string

	// NewWriter creates filePath. It fails if the file exists.
	NewWriter(ctx context.Context, filePath string) (io.WriteCloser, error)

	// NewReader opens filePath for a sequential read
	NewReader(ctx context.Context, filePath string) (io.ReadCloser, error)

	// List lists sub-entries in a dir
	List(ctx context.Context, dirPath string) ([]DirEntry, error)

	// Delete deletes multiple files. Missing files are ignored.
	Delete(ctx context.Context, filePaths ...string) error
}

type DirEntry struct {
	// file name, not full path
	Name  string
	IsDir bool
	Size  int
}

// IsFileNotFound reports whether err is a missing file error.
func IsFileNotFound(err error) bool {
	return moerr.IsMoErrCode(err, moerr.ErrFileNotFound)
}

// IsFileExisted reports whether err is an already existing file error.
func IsFileExisted(err error) bool {
	return moerr.IsMoErrCode(err, moerr.ErrFileExists)
}
