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

package batch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
)

func newTestBatch() *Batch {
	bat := NewWithSchema([]types.Type{types.T_int64.ToType(), types.T_varchar.ToType()})
	vector.AppendFixedList(bat.Vecs[0], []int64{1, 2, 3}, nil)
	vector.AppendStringList(bat.Vecs[1], []string{"a", "bb", "ccc"}, []bool{false, true, false})
	bat.SetRowCount(3)
	return bat
}

func TestBatchMarshal(t *testing.T) {
	bat := newTestBatch()
	data, err := bat.MarshalBinary()
	require.NoError(t, err)

	back := new(Batch)
	require.NoError(t, back.UnmarshalBinary(data))
	require.Equal(t, 3, back.RowCount())
	require.Equal(t, bat.String(), back.String())

	require.Error(t, back.UnmarshalBinary(data[:10]))
}

func TestBatchUnion(t *testing.T) {
	bat := newTestBatch()
	out := NewWithSchema(bat.Types())
	require.NoError(t, out.Union(bat, []int64{2, 0}))
	require.Equal(t, 2, out.RowCount())
	require.Equal(t, "[3 1]", out.Vecs[0].String())

	out.CleanOnlyData()
	require.True(t, out.IsEmpty())
	require.Equal(t, 0, out.Vecs[1].Length())
}

func TestEstimateFlatSize(t *testing.T) {
	bat := newTestBatch()
	// 3 int64 + ("a", null, "ccc") with a 4 byte length each
	require.Equal(t, int64(24+1+0+3+12), bat.EstimateFlatSize())
}
