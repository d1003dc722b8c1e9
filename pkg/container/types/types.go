// Copyright 2021 Matrix Origin
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

package types

import (
	"fmt"
)

type T uint8

const (
	T_any T = 0

	T_bool T = 10

	T_int32 T = 22
	T_int64 T = 23

	T_float64 T = 31

	T_varchar   T = 61
	T_varbinary T = 62
)

// VarlenaSize is the fixed part of a variable length value stored in a row:
// an 8 byte allocator handle plus a 4 byte length, padded to 16 bytes.
const VarlenaSize = 16

type Type struct {
	Oid T

	// XXX Dirty.  Size is computed from Oid, but it is used for the fixed
	// slot width of the type in rows.
	Size int32
}

// FixedSizeT are the Go types of the fixed length columns.
type FixedSizeT interface {
	bool | int32 | int64 | float64
}

// Number are the Go types accepted by numeric aggregates.
type Number interface {
	int32 | int64 | float64
}

func New(oid T) Type {
	return Type{Oid: oid, Size: int32(TypeSize(oid))}
}

func (t T) ToType() Type {
	return New(t)
}

func TypeSize(oid T) int {
	return oid.TypeLen()
}

func (t T) TypeLen() int {
	switch t {
	case T_bool:
		return 1
	case T_int32:
		return 4
	case T_int64, T_float64:
		return 8
	case T_varchar, T_varbinary:
		return VarlenaSize
	case T_any:
		return 0
	}
	panic(fmt.Sprintf("unknown type %d", t))
}

// FixedLength returns -1 for variable length types.
func (t T) FixedLength() int {
	switch t {
	case T_varchar, T_varbinary:
		return -1
	}
	return t.TypeLen()
}

func (t T) IsFixedLen() bool {
	return t.FixedLength() >= 0
}

func (t T) String() string {
	switch t {
	case T_any:
		return "ANY"
	case T_bool:
		return "BOOL"
	case T_int32:
		return "INT"
	case T_int64:
		return "BIGINT"
	case T_float64:
		return "DOUBLE"
	case T_varchar:
		return "VARCHAR"
	case T_varbinary:
		return "VARBINARY"
	}
	return fmt.Sprintf("unexpected type: %d", t)
}

// OidString returns T_xxx
func (t T) OidString() string {
	switch t {
	case T_any:
		return "T_any"
	case T_bool:
		return "T_bool"
	case T_int32:
		return "T_int32"
	case T_int64:
		return "T_int64"
	case T_float64:
		return "T_float64"
	case T_varchar:
		return "T_varchar"
	case T_varbinary:
		return "T_varbinary"
	}
	return "unknown_type"
}

func (t Type) String() string {
	return t.Oid.String()
}

func (t Type) Eq(b Type) bool {
	return t.Oid == b.Oid && t.Size == b.Size
}

func (t Type) IsFixedLen() bool {
	return t.Oid.IsFixedLen()
}

func (t Type) IsVarlen() bool {
	return !t.Oid.IsFixedLen()
}

func (t Type) TypeSize() int {
	return int(t.Size)
}

// Alignment is the alignment of the type's fixed slot inside a row.
func (t Type) Alignment() int {
	switch t.Oid {
	case T_bool:
		return 1
	case T_int32:
		return 4
	}
	return 8
}
