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

package group

import (
	"github.com/matrixorigin/groupagg/pkg/common/bitmap"
	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/container/batch"
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
)

// aggregationMasks computes, once per distinct mask channel, the active rows
// of a batch where the mask is true.
type aggregationMasks struct {
	maskChannels []int32
	maskedRows   map[int32]*bitmap.Bitmap
}

func newAggregationMasks(maskChannels []int32) *aggregationMasks {
	m := &aggregationMasks{
		maskChannels: maskChannels,
		maskedRows:   make(map[int32]*bitmap.Bitmap),
	}
	for _, ch := range maskChannels {
		if ch != NoMask {
			m.maskedRows[ch] = bitmap.New()
		}
	}
	return m
}

// addInput recomputes the masked rows among rows of bat.
func (m *aggregationMasks) addInput(bat *batch.Batch, rows *bitmap.Bitmap) error {
	for ch, masked := range m.maskedRows {
		vec := bat.Vecs[ch]
		if vec.GetType().Oid != types.T_bool {
			return moerr.NewInvalidInputNoCtx("mask channel %d is %s, not bool", ch, vec.GetType())
		}
		if err := vec.Load(nil); err != nil {
			return err
		}
		masked.Reset()
		itr := rows.Iterator()
		for itr.HasNext() {
			i := itr.Next()
			if !vec.IsNull(int(i)) && vector.GetFixedAt[bool](vec, int(i)) {
				masked.Add(i)
			}
		}
	}
	return nil
}

// activeRows returns the masked rows of aggregate i, nil when it has no mask.
func (m *aggregationMasks) activeRows(i int) *bitmap.Bitmap {
	ch := m.maskChannels[i]
	if ch == NoMask {
		return nil
	}
	return m.maskedRows[ch]
}
