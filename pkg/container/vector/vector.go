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

package vector

import (
	"bytes"
	"fmt"

	"github.com/matrixorigin/groupagg/pkg/common/bitmap"
	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/container/nulls"
	"github.com/matrixorigin/groupagg/pkg/container/types"
)

const (
	FLAT     = iota // flat vector represent a uncompressed vector
	CONSTANT        // const vector
)

// LazyLoader materializes a lazy vector. rows is the selection the reader
// needs, nil means all rows. The returned vector has the full length, values
// outside rows are unspecified.
type LazyLoader func(rows *bitmap.Bitmap) (*Vector, error)

// Vector represent a column
type Vector struct {
	// vector's class
	class int
	// type represent the type of column
	typ types.Type
	nsp nulls.Nulls // nulls list

	// []bool, []int32, []int64, []float64 or [][]byte for varlen types
	col any

	length int

	// not nil until a lazy vector is loaded
	loader LazyLoader
}

func NewVec(typ types.Type) *Vector {
	v := &Vector{typ: typ, class: FLAT}
	v.col = newCol(typ.Oid, 0)
	return v
}

func newCol(oid types.T, n int) any {
	switch oid {
	case types.T_bool:
		return make([]bool, n)
	case types.T_int32:
		return make([]int32, n)
	case types.T_int64:
		return make([]int64, n)
	case types.T_float64:
		return make([]float64, n)
	case types.T_varchar, types.T_varbinary:
		return make([][]byte, n)
	}
	panic(moerr.NewNotSupportedNoCtx("vector of type %s", oid))
}

func NewConstNull(typ types.Type, length int) *Vector {
	v := &Vector{typ: typ, class: CONSTANT, length: length}
	v.col = newCol(typ.Oid, 1)
	nulls.Add(&v.nsp, 0)
	return v
}

func NewConstFixed[T types.FixedSizeT](typ types.Type, val T, length int) *Vector {
	return &Vector{typ: typ, class: CONSTANT, length: length, col: []T{val}}
}

func NewConstBytes(typ types.Type, val []byte, length int) *Vector {
	return &Vector{typ: typ, class: CONSTANT, length: length, col: [][]byte{val}}
}

// NewConstFrom wraps row of w as a constant vector of the given length.
func NewConstFrom(w *Vector, row int, length int) *Vector {
	w.mustLoaded()
	if w.IsNull(row) {
		return NewConstNull(w.typ, length)
	}
	if w.IsConst() {
		row = 0
	}
	v := &Vector{typ: w.typ, class: CONSTANT, length: length}
	switch col := w.col.(type) {
	case []bool:
		v.col = []bool{col[row]}
	case []int32:
		v.col = []int32{col[row]}
	case []int64:
		v.col = []int64{col[row]}
	case []float64:
		v.col = []float64{col[row]}
	case [][]byte:
		v.col = [][]byte{append([]byte(nil), col[row]...)}
	}
	return v
}

// NewLazy returns an unloaded vector of length rows.
func NewLazy(typ types.Type, length int, loader LazyLoader) *Vector {
	return &Vector{typ: typ, class: FLAT, length: length, loader: loader}
}

func (v *Vector) IsLazyNotLoaded() bool {
	return v.loader != nil
}

// Load materializes a lazy vector for rows, nil meaning every row. It is a
// no-op for loaded vectors.
func (v *Vector) Load(rows *bitmap.Bitmap) error {
	if v.loader == nil {
		return nil
	}
	loaded, err := v.loader(rows)
	if err != nil {
		return err
	}
	if loaded.length != v.length || loaded.IsLazyNotLoaded() {
		return moerr.NewInternalErrorNoCtx("lazy vector loaded %d rows, want %d", loaded.length, v.length)
	}
	v.class = loaded.class
	v.col = loaded.col
	v.nsp = loaded.nsp
	v.loader = nil
	return nil
}

func (v *Vector) mustLoaded() {
	if v.loader != nil {
		panic(moerr.NewInternalErrorNoCtx("access to an unloaded lazy vector"))
	}
}

func (v *Vector) Length() int {
	return v.length
}

func (v *Vector) SetLength(n int) {
	v.length = n
}

func (v *Vector) GetType() *types.Type {
	return &v.typ
}

func (v *Vector) GetNulls() *nulls.Nulls {
	return &v.nsp
}

func (v *Vector) IsConst() bool {
	return v.class == CONSTANT
}

func (v *Vector) IsConstNull() bool {
	return v.IsConst() && nulls.Contains(&v.nsp, 0)
}

func (v *Vector) IsNull(i int) bool {
	v.mustLoaded()
	if v.IsConst() {
		return nulls.Contains(&v.nsp, 0)
	}
	return nulls.Contains(&v.nsp, uint64(i))
}

func (v *Vector) SetNull(i int) {
	nulls.Add(&v.nsp, uint64(i))
}

func (v *Vector) HasNull() bool {
	return nulls.Any(&v.nsp)
}

// MustFixedCol returns the backing slice of a fixed length vector. For a
// constant vector the slice has one element.
func MustFixedCol[T types.FixedSizeT](v *Vector) []T {
	v.mustLoaded()
	return v.col.([]T)
}

// GetFixedAt returns row i, honoring constant vectors.
func GetFixedAt[T types.FixedSizeT](v *Vector, i int) T {
	v.mustLoaded()
	if v.IsConst() {
		i = 0
	}
	return v.col.([]T)[i]
}

func (v *Vector) GetBytesAt(i int) []byte {
	v.mustLoaded()
	if v.IsConst() {
		i = 0
	}
	return v.col.([][]byte)[i]
}

func (v *Vector) GetStringAt(i int) string {
	return string(v.GetBytesAt(i))
}

// SetFixedAt overwrites row i of a flat vector.
func SetFixedAt[T types.FixedSizeT](v *Vector, i int, val T) {
	v.col.([]T)[i] = val
	nulls.Del(&v.nsp, uint64(i))
}

func AppendFixed[T types.FixedSizeT](v *Vector, val T, isNull bool) {
	v.mustFlat()
	v.col = append(v.col.([]T), val)
	if isNull {
		nulls.Add(&v.nsp, uint64(v.length))
	}
	v.length++
}

func AppendBytes(v *Vector, val []byte, isNull bool) {
	v.mustFlat()
	if isNull {
		val = nil
		nulls.Add(&v.nsp, uint64(v.length))
	} else {
		val = append([]byte(nil), val...)
	}
	v.col = append(v.col.([][]byte), val)
	v.length++
}

func AppendFixedList[T types.FixedSizeT](v *Vector, vals []T, isNulls []bool) {
	for i, val := range vals {
		AppendFixed(v, val, len(isNulls) > 0 && isNulls[i])
	}
}

func AppendStringList(v *Vector, vals []string, isNulls []bool) {
	for i, val := range vals {
		AppendBytes(v, []byte(val), len(isNulls) > 0 && isNulls[i])
	}
}

// AppendNull appends a null of the vector's type.
func (v *Vector) AppendNull() {
	v.mustFlat()
	switch col := v.col.(type) {
	case []bool:
		v.col = append(col, false)
	case []int32:
		v.col = append(col, 0)
	case []int64:
		v.col = append(col, 0)
	case []float64:
		v.col = append(col, 0)
	case [][]byte:
		v.col = append(col, nil)
	}
	nulls.Add(&v.nsp, uint64(v.length))
	v.length++
}

func (v *Vector) mustFlat() {
	v.mustLoaded()
	if v.IsConst() {
		panic(moerr.NewInternalErrorNoCtx("append to a const vector"))
	}
}

// UnionOne appends row sel of w to v.
func (v *Vector) UnionOne(w *Vector, sel int64) error {
	if !v.typ.Eq(w.typ) {
		return moerr.NewInternalErrorNoCtx("union %s into %s", w.typ, v.typ)
	}
	i := int(sel)
	if w.IsNull(i) {
		v.AppendNull()
		return nil
	}
	switch v.typ.Oid {
	case types.T_bool:
		AppendFixed(v, GetFixedAt[bool](w, i), false)
	case types.T_int32:
		AppendFixed(v, GetFixedAt[int32](w, i), false)
	case types.T_int64:
		AppendFixed(v, GetFixedAt[int64](w, i), false)
	case types.T_float64:
		AppendFixed(v, GetFixedAt[float64](w, i), false)
	default:
		AppendBytes(v, w.GetBytesAt(i), false)
	}
	return nil
}

// Union appends the rows sels of w to v.
func (v *Vector) Union(w *Vector, sels []int64) error {
	for _, sel := range sels {
		if err := v.UnionOne(w, sel); err != nil {
			return err
		}
	}
	return nil
}

// CleanOnlyData drops the rows but keeps the type.
func (v *Vector) CleanOnlyData() {
	v.class = FLAT
	v.loader = nil
	v.length = 0
	v.col = newCol(v.typ.Oid, 0)
	nulls.Reset(&v.nsp)
}

// Dup returns a deep copy of a loaded vector.
func (v *Vector) Dup() *Vector {
	v.mustLoaded()
	w := &Vector{typ: v.typ, class: v.class, length: v.length}
	if c := v.nsp.Clone(); c != nil {
		w.nsp = *c
	}
	switch col := v.col.(type) {
	case []bool:
		w.col = append([]bool(nil), col...)
	case []int32:
		w.col = append([]int32(nil), col...)
	case []int64:
		w.col = append([]int64(nil), col...)
	case []float64:
		w.col = append([]float64(nil), col...)
	case [][]byte:
		bs := make([][]byte, len(col))
		for i := range col {
			bs[i] = append([]byte(nil), col[i]...)
		}
		w.col = bs
	}
	return w
}

// EqualAt reports whether row i of v equals row j of w. Two nulls are equal.
func (v *Vector) EqualAt(i int, w *Vector, j int) bool {
	return v.Compare(i, w, j) == 0
}

// Compare orders row i of v against row j of w, nulls first.
func (v *Vector) Compare(i int, w *Vector, j int) int {
	vn, wn := v.IsNull(i), w.IsNull(j)
	if vn || wn {
		switch {
		case vn && wn:
			return 0
		case vn:
			return -1
		default:
			return 1
		}
	}
	switch v.typ.Oid {
	case types.T_bool:
		a, b := GetFixedAt[bool](v, i), GetFixedAt[bool](w, j)
		if a == b {
			return 0
		}
		if !a {
			return -1
		}
		return 1
	case types.T_int32:
		return compareOrdered(GetFixedAt[int32](v, i), GetFixedAt[int32](w, j))
	case types.T_int64:
		return compareOrdered(GetFixedAt[int64](v, i), GetFixedAt[int64](w, j))
	case types.T_float64:
		return compareOrdered(GetFixedAt[float64](v, i), GetFixedAt[float64](w, j))
	default:
		return bytes.Compare(v.GetBytesAt(i), w.GetBytesAt(j))
	}
}

func compareOrdered[T types.Number](a, b T) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// EstimateFlatSize is the byte size of the vector as if it were flat.
func (v *Vector) EstimateFlatSize() int64 {
	if v.IsLazyNotLoaded() {
		return int64(v.length) * int64(v.typ.TypeSize())
	}
	if v.typ.IsFixedLen() {
		return int64(v.length) * int64(v.typ.TypeSize())
	}
	var size int64
	col := v.col.([][]byte)
	if v.IsConst() {
		if len(col) > 0 {
			size = int64(len(col[0])) * int64(v.length)
		}
		return size + int64(v.length)*4
	}
	for _, b := range col {
		size += int64(len(b)) + 4
	}
	return size
}

func (v *Vector) String() string {
	if v.IsLazyNotLoaded() {
		return fmt.Sprintf("lazy(%s, %d)", v.typ, v.length)
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i := 0; i < v.length; i++ {
		if i > 0 {
			buf.WriteByte(' ')
		}
		if v.IsNull(i) {
			buf.WriteString("null")
			continue
		}
		switch v.typ.Oid {
		case types.T_bool:
			fmt.Fprint(&buf, GetFixedAt[bool](v, i))
		case types.T_int32:
			fmt.Fprint(&buf, GetFixedAt[int32](v, i))
		case types.T_int64:
			fmt.Fprint(&buf, GetFixedAt[int64](v, i))
		case types.T_float64:
			fmt.Fprint(&buf, GetFixedAt[float64](v, i))
		default:
			buf.Write(v.GetBytesAt(i))
		}
	}
	buf.WriteByte(']')
	return buf.String()
}
