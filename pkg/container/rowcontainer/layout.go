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

package rowcontainer

import (
	"fmt"

	"github.com/matrixorigin/groupagg/pkg/container/types"
)

const (
	// rowSizeFieldBytes is the width of the per row counter of out of line bytes.
	rowSizeFieldBytes = 4
	// varlenSlotBytes is the width of a variable length key slot:
	// [string ref u64][length u32][padding u32].
	varlenSlotBytes = 16
)

// Layout is the byte layout of one row:
//
//	[key null bits][accumulator null and initialized bits]
//	[row size u32][key slots][accumulator slots]
//
// Every slot starts at a multiple of its alignment. Alignment is the least
// common multiple of all slot alignments and FixedRowSize is a multiple of it.
type Layout struct {
	NumKeys       int
	KeyOffsets    []int
	Offsets       []int
	NullBits      []int
	InitBits      []int
	FlagBytes     int
	RowSizeOffset int
	FixedRowSize  int
	Alignment     int
}

// PlanLayout computes the layout for the key types and accumulators. It is
// a pure function of its arguments.
func PlanLayout(keyTypes []types.Type, accumulators []Accumulator) Layout {
	l := Layout{
		NumKeys:    len(keyTypes),
		KeyOffsets: make([]int, len(keyTypes)),
		Offsets:    make([]int, len(accumulators)),
		NullBits:   make([]int, len(accumulators)),
		InitBits:   make([]int, len(accumulators)),
		Alignment:  1,
	}

	numBits := len(keyTypes)
	for i := range accumulators {
		l.NullBits[i] = numBits
		l.InitBits[i] = numBits + 1
		numBits += 2
	}
	l.FlagBytes = (numBits + 7) / 8

	l.RowSizeOffset = alignUp(l.FlagBytes, rowSizeFieldBytes)
	l.Alignment = lcm(l.Alignment, rowSizeFieldBytes)
	offset := l.RowSizeOffset + rowSizeFieldBytes

	for i, typ := range keyTypes {
		size, align := keySlot(typ)
		offset = alignUp(offset, align)
		l.KeyOffsets[i] = offset
		l.Alignment = lcm(l.Alignment, align)
		offset += size
	}

	for i, acc := range accumulators {
		align := acc.Alignment
		if align <= 0 {
			align = 1
		}
		offset = alignUp(offset, align)
		l.Offsets[i] = offset
		l.Alignment = lcm(l.Alignment, align)
		offset += acc.FixedSize
	}

	l.FixedRowSize = alignUp(offset, l.Alignment)
	return l
}

func (l Layout) String() string {
	return fmt.Sprintf("layout(keys %v, accumulators %v, row size %d, alignment %d)",
		l.KeyOffsets, l.Offsets, l.FixedRowSize, l.Alignment)
}

func keySlot(typ types.Type) (size, align int) {
	if typ.IsVarlen() {
		return varlenSlotBytes, 8
	}
	return int(typ.Size), typ.Alignment()
}

func alignUp(offset, align int) int {
	if align <= 1 {
		return offset
	}
	return (offset + align - 1) / align * align
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}
