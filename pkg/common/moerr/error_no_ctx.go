// Copyright 2021 - 2022 Matrix Origin
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

package moerr

import "fmt"

func NewInternalErrorNoCtx(msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(nil, ErrInternal, xmsg)
}

func NewInternalErrorNoCtxf(format string, args ...any) *Error {
	return NewInternalErrorNoCtx(format, args...)
}

func NewNotSupportedNoCtx(msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(nil, ErrNotSupported, xmsg)
}

func NewOOMNoCtx() *Error {
	return newError(nil, ErrOOM)
}

func NewBadConfigNoCtx(msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(nil, ErrBadConfig, xmsg)
}

func NewInvalidInputNoCtx(msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(nil, ErrInvalidInput, xmsg)
}

func NewInvalidStateNoCtx(msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(nil, ErrInvalidState, xmsg)
}

func NewUnexpectedEOFNoCtx(f string) *Error {
	return newError(nil, ErrUnexpectedEOF, f)
}

func NewFileNotFoundNoCtx(f string) *Error {
	return newError(nil, ErrFileNotFound, f)
}

func NewFileAlreadyExistsNoCtx(f string) *Error {
	return newError(nil, ErrFileExists, f)
}
